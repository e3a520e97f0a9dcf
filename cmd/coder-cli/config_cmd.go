package main

import (
	"fmt"
	"strings"
	"time"

	"coder-cli/internal/agent"
	"coder-cli/internal/config"
	"coder-cli/internal/permission"
	"coder-cli/internal/session"

	"github.com/mattn/go-runewidth"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

func newConfigCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration and project permissions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			workdir, err := root.resolveWorkdir()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "# %s\n", cfg.Source)
			data, err := toml.Marshal(redact(cfg))
			if err != nil {
				return err
			}
			fmt.Fprint(out, string(data))

			grants, err := permission.LoadGrants(workdir)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "\n# %s\n", config.ProjectPath(workdir))
			data, err = toml.Marshal(config.Project{AllowedTools: grants.Rules()})
			if err != nil {
				return err
			}
			fmt.Fprint(out, string(data))
			return nil
		},
	})
	return cmd
}

// redact 隐藏 token，只保留末尾四位。
func redact(cfg config.Config) config.Config {
	if t := cfg.Token; t != "" {
		if len(t) > 8 {
			cfg.Token = strings.Repeat("*", 8) + t[len(t)-4:]
		} else {
			cfg.Token = strings.Repeat("*", len(t))
		}
	}
	return cfg
}

func newSessionsCmd(root *rootOptions) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List saved sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			workdir, err := root.resolveWorkdir()
			if err != nil {
				return err
			}
			store, err := session.NewDefault()
			if err != nil {
				return err
			}
			records, err := store.List(all, workdir)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(out, "No sessions found")
				return nil
			}
			width := terminalWidth()
			for _, rec := range records {
				line := fmt.Sprintf("%s  %s  %s", rec.ID, rec.Updated.Format(time.DateTime), sessionTitle(rec))
				fmt.Fprintln(out, runewidth.Truncate(line, width, "…"))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Include sessions from other working directories")
	return cmd
}

// sessionTitle 取第一条非工具结果的用户消息作为标题。
func sessionTitle(rec session.Record) string {
	for _, m := range rec.Messages {
		if m.IsToolResult() {
			continue
		}
		if text := strings.TrimSpace(m.Text()); text != "" && m.Kind == agent.KindUser {
			return firstLine(text)
		}
	}
	return "(empty)"
}
