package connection

import (
	"context"
	"fmt"
)

// Manager tracks the connection of an interactive session.
type Manager struct {
	current *Connection
	client  *RESPClient
}

// Connection describes a server to talk to.
type Connection struct {
	Name     string
	Addr     string
	Password string
	TLS      bool
	Insecure bool
	CACert   string
}

// NewManager creates a new connection manager.
func NewManager() *Manager {
	return &Manager{}
}

// Connect dials conn and checks it with PING. On success it replaces the
// current connection; on failure the current one is kept.
func (m *Manager) Connect(ctx context.Context, conn *Connection) error {
	client := NewRESPClient(Options{
		Addr:               conn.Addr,
		Password:           conn.Password,
		TLS:                conn.TLS,
		InsecureSkipVerify: conn.Insecure,
		CACert:             conn.CACert,
	})
	if err := client.Connect(ctx); err != nil {
		return err
	}
	v, err := client.Do(ctx, "PING")
	if err != nil {
		_ = client.Close()
		return err
	}
	if v.IsError() {
		_ = client.Close()
		return fmt.Errorf("%w: %s", ErrServer, v.Str)
	}

	m.Disconnect()
	m.current = conn
	m.client = client
	return nil
}

// Disconnect closes the current connection.
func (m *Manager) Disconnect() {
	if m.client != nil {
		_ = m.client.Close()
	}
	m.current = nil
	m.client = nil
}

// Current returns the current connection.
func (m *Manager) Current() *Connection {
	return m.current
}

// Client returns the client of the current connection, or nil.
func (m *Manager) Client() *RESPClient {
	return m.client
}

// IsConnected returns true if connected to a server.
func (m *Manager) IsConnected() bool {
	return m.current != nil
}
