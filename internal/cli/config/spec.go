package config

// Output formats.
const (
	OutputTable = "table"
	OutputJSON  = "json"
	OutputYAML  = "yaml"
)

// CLIConfig is the configuration for sabledb-cli.
type CLIConfig struct {
	// Default connection settings
	Addr          string `koanf:"addr" json:"addr" yaml:"addr"`
	Admin         string `koanf:"admin" json:"admin,omitempty" yaml:"admin,omitempty"`
	DefaultOutput string `koanf:"default_output" json:"default_output" yaml:"default_output"` // table, json, yaml

	// Saved connections
	Connections map[string]ConnectionConfig `koanf:"connections" json:"connections,omitempty" yaml:"connections,omitempty"`

	// Current active connection
	CurrentConnection string `koanf:"current_connection" json:"current_connection,omitempty" yaml:"current_connection,omitempty"`
}

// ConnectionConfig stores saved connection details.
type ConnectionConfig struct {
	Addr     string `koanf:"addr" json:"addr" yaml:"addr"`
	Password string `koanf:"password" json:"password,omitempty" yaml:"password,omitempty"`
	TLS      bool   `koanf:"tls" json:"tls,omitempty" yaml:"tls,omitempty"`
	Insecure bool   `koanf:"insecure" json:"insecure,omitempty" yaml:"insecure,omitempty"`
	// CACert is a PEM file or directory trusted in addition to the system
	// roots.
	CACert string `koanf:"cacert" json:"cacert,omitempty" yaml:"cacert,omitempty"`
	// Admin is the admin endpoint address for health and snapshot.
	Admin string `koanf:"admin" json:"admin,omitempty" yaml:"admin,omitempty"`
}

// Default returns the default CLI configuration.
func Default() *CLIConfig {
	return &CLIConfig{
		Addr:          "127.0.0.1:6379",
		DefaultOutput: OutputTable,
		Connections:   make(map[string]ConnectionConfig),
	}
}

// Resolve returns the named connection, or the current one when name is
// empty, or the top-level defaults when neither exists.
func (c *CLIConfig) Resolve(name string) (ConnectionConfig, bool) {
	if name == "" {
		name = c.CurrentConnection
	}
	if conn, ok := c.Connections[name]; ok && name != "" {
		if conn.Admin == "" {
			conn.Admin = c.Admin
		}
		return conn, true
	}
	return ConnectionConfig{Addr: c.Addr, Admin: c.Admin}, false
}
