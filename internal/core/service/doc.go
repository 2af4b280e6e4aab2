// Package service provides the connection-independent services used by the
// command layer.
//
// AuthService verifies AUTH passwords (plaintext or argon2id hash) and
// enforces the per-IP command rate limit.
package service
