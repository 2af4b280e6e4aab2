package command

import (
	"fmt"
	"sort"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/sabledb-go/internal/cli/config"
	"github.com/yndnr/sabledb-go/internal/cli/output"
)

// ConfigCommand returns the config subcommand group.
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Manage the local CLI configuration",
		Subcommands: []*cli.Command{
			{
				Name:   "path",
				Usage:  "Print the configuration file path",
				Action: configPath,
			},
			{
				Name:   "show",
				Usage:  "Show the configuration with passwords masked",
				Action: configShow,
			},
			{
				Name:      "set-connection",
				Usage:     "Save the connection given by the global flags under NAME",
				ArgsUsage: "NAME",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "use",
						Usage: "Also make it the current connection",
					},
				},
				Action: configSetConnection,
			},
			{
				Name:      "use",
				Usage:     "Make a saved connection the current one",
				ArgsUsage: "NAME",
				Action:    configUse,
			},
			{
				Name:      "delete-connection",
				Usage:     "Remove a saved connection",
				ArgsUsage: "NAME",
				Action:    configDeleteConnection,
			},
		},
	}
}

func configPath(c *cli.Context) error {
	fmt.Fprintln(c.App.Writer, ParseGlobalFlags(c).ConfigPath)
	return nil
}

type connectionView struct {
	Name     string `json:"name" yaml:"name"`
	Current  bool   `json:"current" yaml:"current"`
	Addr     string `json:"addr" yaml:"addr"`
	Admin    string `json:"admin" yaml:"admin"`
	TLS      bool   `json:"tls" yaml:"tls"`
	Password string `json:"password" yaml:"password"`
}

func configShow(c *cli.Context) error {
	cfg := GetConfig(c)
	format, err := outputFormat(c)
	if err != nil {
		return err
	}

	if format != output.FormatTable {
		masked := *cfg
		masked.Connections = make(map[string]config.ConnectionConfig, len(cfg.Connections))
		for name, conn := range cfg.Connections {
			conn.Password = maskPassword(conn.Password)
			masked.Connections[name] = conn
		}
		return output.NewFormatter(format).Format(c.App.Writer, masked)
	}

	w := c.App.Writer
	fmt.Fprintf(w, "Config file: %s\n", ParseGlobalFlags(c).ConfigPath)
	fmt.Fprintf(w, "Default addr: %s\n", cfg.Addr)
	if cfg.Admin != "" {
		fmt.Fprintf(w, "Default admin: %s\n", cfg.Admin)
	}
	fmt.Fprintf(w, "Output: %s\n", cfg.DefaultOutput)
	if len(cfg.Connections) == 0 {
		fmt.Fprintln(w, "\n(no saved connections)")
		return nil
	}
	fmt.Fprintln(w)
	return output.NewFormatter(format).Format(w, connectionViews(cfg))
}

func connectionViews(cfg *config.CLIConfig) []connectionView {
	names := make([]string, 0, len(cfg.Connections))
	for name := range cfg.Connections {
		names = append(names, name)
	}
	sort.Strings(names)

	views := make([]connectionView, 0, len(names))
	for _, name := range names {
		conn := cfg.Connections[name]
		views = append(views, connectionView{
			Name:     name,
			Current:  name == cfg.CurrentConnection,
			Addr:     conn.Addr,
			Admin:    conn.Admin,
			TLS:      conn.TLS,
			Password: maskPassword(conn.Password),
		})
	}
	return views
}

func maskPassword(pw string) string {
	if pw == "" {
		return ""
	}
	return "********"
}

func configSetConnection(c *cli.Context) error {
	name := c.Args().First()
	if name == "" {
		return fmt.Errorf("connection name required")
	}
	target, err := ResolveTarget(c)
	if err != nil {
		return err
	}

	cfg := GetConfig(c)
	if cfg.Connections == nil {
		cfg.Connections = make(map[string]config.ConnectionConfig)
	}
	cfg.Connections[name] = config.ConnectionConfig{
		Addr:     target.Conn.Addr,
		Password: target.Conn.Password,
		TLS:      target.Conn.TLS,
		Insecure: target.Conn.Insecure,
		CACert:   target.Conn.CACert,
		Admin:    target.Admin,
	}
	if c.Bool("use") {
		cfg.CurrentConnection = name
	}
	if err := config.Save(cfg, ParseGlobalFlags(c).ConfigPath); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Saved connection %q (%s)\n", name, target.Conn.Addr)
	return nil
}

func configUse(c *cli.Context) error {
	name := c.Args().First()
	cfg := GetConfig(c)
	if _, ok := cfg.Connections[name]; !ok {
		return fmt.Errorf("unknown connection %q", name)
	}
	cfg.CurrentConnection = name
	if err := config.Save(cfg, ParseGlobalFlags(c).ConfigPath); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Using connection %q\n", name)
	return nil
}

func configDeleteConnection(c *cli.Context) error {
	name := c.Args().First()
	cfg := GetConfig(c)
	if _, ok := cfg.Connections[name]; !ok {
		return fmt.Errorf("unknown connection %q", name)
	}
	delete(cfg.Connections, name)
	if cfg.CurrentConnection == name {
		cfg.CurrentConnection = ""
	}
	if err := config.Save(cfg, ParseGlobalFlags(c).ConfigPath); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Deleted connection %q\n", name)
	return nil
}
