package command

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/sabledb-go/internal/cli/connection"
	"github.com/yndnr/sabledb-go/internal/cli/output"
)

const adminTimeout = 10 * time.Second

// AdminCommand returns the admin subcommand group.
func AdminCommand() *cli.Command {
	return &cli.Command{
		Name:  "admin",
		Usage: "Query the admin HTTP endpoint",
		Subcommands: []*cli.Command{
			{
				Name:   "health",
				Usage:  "Show worker pool health",
				Action: adminHealth,
			},
			{
				Name:   "snapshot",
				Usage:  "Show build info and server counters",
				Action: adminSnapshot,
			},
		},
	}
}

type workerView struct {
	ID      int  `json:"id" yaml:"id"`
	Clients int  `json:"clients" yaml:"clients"`
	Healthy bool `json:"healthy" yaml:"healthy"`
}

type healthView struct {
	Status  string       `json:"status" yaml:"status"`
	Time    string       `json:"time" yaml:"time"`
	Workers []workerView `json:"workers" yaml:"workers"`
}

type buildView struct {
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	BuildTime string `json:"build_time" yaml:"build_time"`
	GoVersion string `json:"go_version" yaml:"go_version"`
	RunID     string `json:"run_id" yaml:"run_id"`
}

type statsView struct {
	CommandsProcessed   uint64 `json:"commands_processed" yaml:"commands_processed"`
	CommandErrors       uint64 `json:"command_errors" yaml:"command_errors"`
	ProtocolErrors      uint64 `json:"protocol_errors" yaml:"protocol_errors"`
	BytesRead           uint64 `json:"bytes_read" yaml:"bytes_read"`
	BytesWritten        uint64 `json:"bytes_written" yaml:"bytes_written"`
	ConnectionsAccepted uint64 `json:"connections_accepted" yaml:"connections_accepted"`
	ConnectionsClosed   uint64 `json:"connections_closed" yaml:"connections_closed"`
	Wakeups             uint64 `json:"wakeups" yaml:"wakeups"`
	BlockTimeouts       uint64 `json:"block_timeouts" yaml:"block_timeouts"`
	ActiveConnections   int64  `json:"active_connections" yaml:"active_connections"`
	BlockedClients      int64  `json:"blocked_clients" yaml:"blocked_clients"`
}

type snapshotView struct {
	Build          buildView    `json:"build" yaml:"build"`
	Stats          statsView    `json:"stats" yaml:"stats"`
	Workers        []workerView `json:"workers" yaml:"workers"`
	WaitingClients int          `json:"waiting_clients" yaml:"waiting_clients"`
	KeyCount       *int         `json:"key_count,omitempty" yaml:"key_count,omitempty"`
}

// adminClient builds an HTTP client for the resolved admin address.
func adminClient(c *cli.Context) (*connection.HTTPClient, error) {
	target, err := ResolveTarget(c)
	if err != nil {
		return nil, err
	}
	if target.Admin == "" {
		return nil, fmt.Errorf("admin address not set (use --admin)")
	}
	return connection.NewHTTPClient(target.Admin, target.Conn.Password), nil
}

func adminGet(c *cli.Context, path string, target any) error {
	client, err := adminClient(c)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Context, adminTimeout)
	defer cancel()

	resp, err := client.Get(ctx, path)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	return connection.ParseResponse(resp, target)
}

func adminHealth(c *cli.Context) error {
	var report healthView
	reqErr := adminGet(c, "/healthz", &report)
	if reqErr != nil && report.Status == "" {
		return reqErr
	}

	format, err := outputFormat(c)
	if err != nil {
		return err
	}
	if format == output.FormatTable {
		fmt.Fprintf(c.App.Writer, "Status: %s\n\n", report.Status)
		if err := output.NewFormatter(format).Format(c.App.Writer, report.Workers); err != nil {
			return err
		}
	} else if err := output.NewFormatter(format).Format(c.App.Writer, report); err != nil {
		return err
	}

	// An unhealthy report is printed, then reflected in the exit code.
	if reqErr != nil {
		return cli.Exit("", 1)
	}
	return nil
}

func adminSnapshot(c *cli.Context) error {
	var snap snapshotView
	if err := adminGet(c, "/debug/snapshot", &snap); err != nil {
		return err
	}

	format, err := outputFormat(c)
	if err != nil {
		return err
	}
	if format != output.FormatTable {
		return output.NewFormatter(format).Format(c.App.Writer, snap)
	}

	w := c.App.Writer
	if err := snapshotTable(snap).Render(w); err != nil {
		return err
	}
	fmt.Fprintln(w)
	return output.NewFormatter(format).Format(w, snap.Workers)
}

func snapshotTable(snap snapshotView) *output.Table {
	t := output.NewTable("FIELD", "VALUE")
	u := func(n uint64) string { return strconv.FormatUint(n, 10) }
	i := func(n int64) string { return strconv.FormatInt(n, 10) }

	t.AddRow("version", snap.Build.Version)
	t.AddRow("commit", snap.Build.Commit)
	t.AddRow("run_id", snap.Build.RunID)
	t.AddRow("commands_processed", u(snap.Stats.CommandsProcessed))
	t.AddRow("command_errors", u(snap.Stats.CommandErrors))
	t.AddRow("protocol_errors", u(snap.Stats.ProtocolErrors))
	t.AddRow("bytes_read", u(snap.Stats.BytesRead))
	t.AddRow("bytes_written", u(snap.Stats.BytesWritten))
	t.AddRow("connections_accepted", u(snap.Stats.ConnectionsAccepted))
	t.AddRow("connections_closed", u(snap.Stats.ConnectionsClosed))
	t.AddRow("active_connections", i(snap.Stats.ActiveConnections))
	t.AddRow("blocked_clients", i(snap.Stats.BlockedClients))
	t.AddRow("wakeups", u(snap.Stats.Wakeups))
	t.AddRow("block_timeouts", u(snap.Stats.BlockTimeouts))
	t.AddRow("waiting_clients", strconv.Itoa(snap.WaitingClients))
	if snap.KeyCount != nil {
		t.AddRow("key_count", strconv.Itoa(*snap.KeyCount))
	}
	return t
}
