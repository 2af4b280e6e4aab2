package command

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/sabledb-go/internal/cli/config"
	"github.com/yndnr/sabledb-go/internal/cli/connection"
	"github.com/yndnr/sabledb-go/internal/cli/output"
	"github.com/yndnr/sabledb-go/internal/cli/repl"
	"github.com/yndnr/sabledb-go/internal/infra/buildinfo"
)

const (
	metaConnManager = "connMgr"
	metaConfig      = "cliConfig"
)

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:      "sabledb-cli",
		Usage:     "SableDB command-line client",
		UsageText: "sabledb-cli [global options] [COMMAND [ARG...]]",
		Version:   buildinfo.String(),
		Flags:     globalFlags(),
		Commands: []*cli.Command{
			AdminCommand(),
			ConfigCommand(),
		},
		Before: func(c *cli.Context) error {
			flags := ParseGlobalFlags(c)
			cfg, err := config.Load(flags.ConfigPath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("load config: %v", err), 1)
			}
			c.App.Metadata[metaConfig] = cfg
			c.App.Metadata[metaConnManager] = connection.NewManager()
			return nil
		},
		After: func(c *cli.Context) error {
			if mgr := GetConnectionManager(c); mgr != nil {
				mgr.Disconnect()
			}
			return nil
		},
		Action: rootAction,
	}
}

// globalFlags returns the global CLI flags.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "addr",
			Usage:   "Server address (host:port)",
			EnvVars: []string{"SABLEDB_ADDR"},
		},
		&cli.StringFlag{
			Name:    "password",
			Aliases: []string{"a"},
			Usage:   "Password sent with AUTH on connect",
			EnvVars: []string{"SABLEDB_PASSWORD"},
		},
		&cli.BoolFlag{
			Name:    "tls",
			Usage:   "Connect over TLS",
			EnvVars: []string{"SABLEDB_TLS"},
		},
		&cli.BoolFlag{
			Name:  "insecure",
			Usage: "Skip TLS certificate verification",
		},
		&cli.StringFlag{
			Name:    "cacert",
			Usage:   "PEM file or directory of CA certificates to trust",
			EnvVars: []string{"SABLEDB_CACERT"},
		},
		&cli.StringFlag{
			Name:    "admin",
			Usage:   "Admin endpoint address for health and snapshot",
			EnvVars: []string{"SABLEDB_ADMIN"},
		},
		&cli.StringFlag{
			Name:    "connection",
			Aliases: []string{"c"},
			Usage:   "Saved connection to use",
			EnvVars: []string{"SABLEDB_CONNECTION"},
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format for admin commands: table, json, yaml",
		},
		&cli.BoolFlag{
			Name:  "raw",
			Usage: "Print replies without type annotations",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "Per-command timeout (0 disables)",
			Value: 0,
		},
		&cli.StringFlag{
			Name:    "config",
			Usage:   "CLI configuration file",
			EnvVars: []string{"SABLEDB_CLI_CONFIG"},
			Value:   config.DefaultConfigPath(),
		},
		&cli.StringFlag{
			Name:    "file",
			Aliases: []string{"f"},
			Usage:   "Run commands from a file, one per line (- reads stdin)",
		},
		&cli.StringFlag{
			Name:  "history",
			Usage: "Interactive history file",
			Value: repl.DefaultHistoryFile(),
		},
	}
}

// GlobalFlags defines flags available to all commands.
type GlobalFlags struct {
	Addr       string
	Password   string
	TLS        bool
	Insecure   bool
	CACert     string
	Admin      string
	Connection string

	Output  string
	Raw     bool
	Timeout time.Duration

	File        string
	ConfigPath  string
	HistoryPath string
}

// ParseGlobalFlags extracts global flags from context.
func ParseGlobalFlags(c *cli.Context) *GlobalFlags {
	return &GlobalFlags{
		Addr:        c.String("addr"),
		Password:    c.String("password"),
		TLS:         c.Bool("tls"),
		Insecure:    c.Bool("insecure"),
		CACert:      c.String("cacert"),
		Admin:       c.String("admin"),
		Connection:  c.String("connection"),
		Output:      c.String("output"),
		Raw:         c.Bool("raw"),
		Timeout:     c.Duration("timeout"),
		File:        c.String("file"),
		ConfigPath:  c.String("config"),
		HistoryPath: c.String("history"),
	}
}

// GetConnectionManager retrieves the connection manager from context.
func GetConnectionManager(c *cli.Context) *connection.Manager {
	if mgr, ok := c.App.Metadata[metaConnManager].(*connection.Manager); ok {
		return mgr
	}
	return nil
}

// GetConfig retrieves the loaded CLI configuration, or the defaults.
func GetConfig(c *cli.Context) *config.CLIConfig {
	if cfg, ok := c.App.Metadata[metaConfig].(*config.CLIConfig); ok {
		return cfg
	}
	return config.Default()
}

// Target is a resolved server to talk to.
type Target struct {
	Conn  connection.Connection
	Admin string
}

// ResolveTarget merges the saved connection with explicitly set flags.
// Flags win over the saved connection, which wins over config defaults.
func ResolveTarget(c *cli.Context) (Target, error) {
	flags := ParseGlobalFlags(c)
	cfg := GetConfig(c)

	saved, found := cfg.Resolve(flags.Connection)
	if flags.Connection != "" && !found {
		return Target{}, fmt.Errorf("unknown connection %q", flags.Connection)
	}

	name := ""
	if found {
		name = flags.Connection
		if name == "" {
			name = cfg.CurrentConnection
		}
	}
	t := Target{
		Conn: connection.Connection{
			Name:     name,
			Addr:     saved.Addr,
			Password: saved.Password,
			TLS:      saved.TLS,
			Insecure: saved.Insecure,
			CACert:   saved.CACert,
		},
		Admin: saved.Admin,
	}
	if c.IsSet("addr") {
		t.Conn.Addr = flags.Addr
	}
	if c.IsSet("password") {
		t.Conn.Password = flags.Password
	}
	if c.IsSet("tls") {
		t.Conn.TLS = flags.TLS
	}
	if c.IsSet("insecure") {
		t.Conn.Insecure = flags.Insecure
	}
	if c.IsSet("cacert") {
		t.Conn.CACert = flags.CACert
	}
	if c.IsSet("admin") {
		t.Admin = flags.Admin
	}
	if t.Conn.Addr == "" {
		return Target{}, fmt.Errorf("no server address (use --addr)")
	}
	return t, nil
}

// outputFormat returns the --output flag or the configured default.
func outputFormat(c *cli.Context) (output.Format, error) {
	f := c.String("output")
	if f == "" {
		f = GetConfig(c).DefaultOutput
	}
	return output.ParseFormat(f)
}

// rootAction sends the arguments as a single command, runs a command file,
// or starts the interactive shell when there is neither.
func rootAction(c *cli.Context) error {
	target, err := ResolveTarget(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	flags := ParseGlobalFlags(c)
	sess := NewSession(GetConnectionManager(c), GetConfig(c), target.Conn, c.App.Writer,
		WithRaw(flags.Raw), WithTimeout(flags.Timeout))

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if flags.File != "" {
		if c.Args().Present() {
			return cli.Exit("--file cannot be combined with a command", 1)
		}
		return runBatch(ctx, c, sess, flags.File)
	}
	if c.Args().Present() {
		isErr, err := sess.Run(ctx, c.Args().Slice())
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}
		if isErr {
			return cli.Exit("", 1)
		}
		return nil
	}

	return runInteractive(ctx, c, sess, flags.HistoryPath)
}

// runBatch runs every non-blank line of path that does not start with '#'.
// Error replies and unparseable lines are reported and the run continues;
// a connection error stops it.
func runBatch(ctx context.Context, c *cli.Context, sess *Session, path string) error {
	in := c.App.Reader
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}
		defer f.Close()
		in = f
	}

	failed := 0
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for lineNo := 1; sc.Scan(); lineNo++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		args, err := repl.SplitArgs(line)
		if err != nil {
			fmt.Fprintf(c.App.ErrWriter, "%s:%d: %v\n", path, lineNo, err)
			failed++
			continue
		}
		isErr, err := sess.Run(ctx, args)
		if err != nil {
			return cli.Exit(fmt.Sprintf("%s:%d: %v", path, lineNo, err), 1)
		}
		if isErr {
			failed++
		}
	}
	if err := sc.Err(); err != nil {
		return cli.Exit(fmt.Sprintf("read %s: %v", path, err), 1)
	}
	if failed > 0 {
		return cli.Exit("", 1)
	}
	return nil
}

func runInteractive(ctx context.Context, c *cli.Context, sess *Session, historyPath string) error {
	// Connect eagerly so the prompt shows the address; a failure is not fatal
	// because "connect" can still be used.
	if err := sess.Connect(ctx); err != nil {
		fmt.Fprintf(c.App.ErrWriter, "Could not connect: %v\n", err)
	}

	history := repl.NewHistory(historyPath)
	_ = history.Load()
	defer func() { _ = history.Save() }()

	r := repl.New(sess,
		repl.WithIO(c.App.Reader, c.App.Writer),
		repl.WithPrompt(sess.Prompt),
		repl.WithHistory(history),
	)
	if err := r.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// PrintError prints an error message to stderr.
func PrintError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
}
