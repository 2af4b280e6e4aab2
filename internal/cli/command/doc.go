// Package command provides the sabledb-cli command definitions.
//
// The commands are built on urfave/cli/v2:
//
//   - root.go: App, global flags, single-command, batch and interactive modes
//   - session.go: the executor shared by all modes, including the
//     "connect" meta command
//   - admin.go: health and snapshot reports from the admin endpoint
//   - config.go: local CLI configuration
//
// Any arguments that do not name a subcommand are sent to the server as one
// command, so "sabledb-cli GET key" behaves like redis-cli. Subcommand names
// are lowercase; uppercase server commands such as CONFIG never collide
// with them.
package command
