// Package logger builds the process *slog.Logger.
//
// Every logger New returns shares one level, so a config reload can change
// verbosity with SetLevel. Attributes whose key names a credential are
// masked, and RedactArgs renders command arguments without AUTH passwords.
package logger
