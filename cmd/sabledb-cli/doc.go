// Package main provides the entry point for sabledb-cli.
//
// The CLI talks RESP2 to a SableDB server and JSON to its admin endpoint:
//
//   - single commands, printed the way redis-cli prints them
//   - command files run line by line (--file, - for stdin)
//   - an interactive shell with history and a "connect" meta command
//   - admin health and snapshot reports
//   - saved connections in ~/.sabledb/cli.yaml
//
// Usage:
//
//	sabledb-cli --addr 127.0.0.1:6379 SET greeting hello
//	sabledb-cli -c prod
//	sabledb-cli -f seed.txt
//	sabledb-cli --admin 127.0.0.1:9090 -o json admin snapshot
package main
