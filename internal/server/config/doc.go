// Package config provides server configuration for SableDB.
//
// This package defines the server configuration structure and validation:
//
//   - spec.go: ServerConfig struct definition
//   - default.go: Default configuration values
//   - verify.go: Validation (addresses, timeouts, engine settings)
//   - sanitize.go: Log sanitization (hide passwords)
//
// Configuration is loaded via internal/infra/confloader from a YAML file
// and SABLEDB_* environment variables.
package config
