// Package tlsroots manages TLS material for the RESP listener and its
// clients:
//
//   - watcher.go: the serving certificate, reloaded via fsnotify when its
//     files change, with an expiry warning
//   - roots.go: CA pools and the server and client tls.Config builders,
//     including client certificate verification
package tlsroots
