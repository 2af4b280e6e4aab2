// Package connection provides the clients sabledb-cli talks to a server
// with:
//
//   - resp.go: RESP2 client for commands, with AUTH on connect
//   - http.go: admin endpoint client (/healthz, /debug/snapshot)
//   - manager.go: the current connection of an interactive session
package connection
