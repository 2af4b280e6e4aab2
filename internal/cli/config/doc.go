// Package config holds the sabledb-cli configuration (~/.sabledb/cli.yaml):
// the default server, output format and named connections.
package config
