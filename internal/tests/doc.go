// Package tests holds end-to-end tests that run the RESP server, the
// admin endpoint and the CLI client packages together over loopback.
package tests
