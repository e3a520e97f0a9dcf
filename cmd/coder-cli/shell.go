package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"coder-cli/internal/shell"

	"github.com/spf13/cobra"
)

// newShellCmd 提供一个调试用 REPL：每一行都经由同一个持久 shell 会话执行。
func newShellCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Run commands through one persistent shell session (debugging aid)",
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
			timeout, err := cfg.ShellTimeoutDuration()
			if err != nil {
				return err
			}
			s, err := shell.New(shell.Options{Dir: workdir, Shell: cfg.Shell, Timeout: timeout})
			if err != nil {
				return err
			}
			defer s.Close()
			return shellLoop(cmd.Context(), s, newLineReader(cmd.InOrStdin()), cmd.OutOrStdout())
		},
	}
}

func shellLoop(ctx context.Context, s *shell.Session, in *lineReader, out io.Writer) error {
	fmt.Fprintf(out, "%s session %s. Type exit to quit.\n", s.Shell().Path, s.ID())
	for {
		fmt.Fprintf(out, "%s $ ", s.Pwd())
		line, ok := in.next(ctx)
		if !ok {
			fmt.Fprintln(out)
			return nil
		}
		if strings.TrimSpace(line) == "" {
			continue
		}

		runCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
		res, err := s.Exec(runCtx, line, 0)
		stop()
		if errors.Is(err, shell.ErrClosed) {
			fmt.Fprintln(out, "[shell exited]")
			return nil
		}
		if err != nil {
			return err
		}
		writeResult(out, res)
	}
}

func writeResult(out io.Writer, res shell.Result) {
	if res.Stdout != "" {
		fmt.Fprint(out, ensureNewline(res.Stdout))
	}
	if res.Stderr != "" {
		fmt.Fprint(out, ensureNewline(res.Stderr))
	}
	switch {
	case res.Interrupted:
		fmt.Fprintf(out, "[interrupted, exit %d]\n", res.Code)
	case res.Code != 0:
		fmt.Fprintf(out, "[exit %d]\n", res.Code)
	}
}

func ensureNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
