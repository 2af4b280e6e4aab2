// Package localserver serves RESP over a Unix domain socket.
//
// Local clients such as sabledb-cli on the same host can reach the server
// without a TCP port. Access is controlled by the socket file mode; AUTH
// still applies when a password is configured.
//
// The socket path is created on Listen and removed on Shutdown. A stale
// socket left by a crashed process is replaced, but a socket that still
// accepts connections is reported as in use.
package localserver
