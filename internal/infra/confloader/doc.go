// Package confloader fills a config struct from layered sources.
//
// The struct passed to Load holds the defaults. A YAML file, SABLEDB_*
// environment variables and explicit overrides (command-line flags) are
// layered on top with koanf, in that order. Watcher reports edits to the
// file so a server can re-run Load and apply what is safe to change live.
package confloader
