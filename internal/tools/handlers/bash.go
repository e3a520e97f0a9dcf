package handlers

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	codercontext "coder-cli/internal/context"
	"coder-cli/internal/permission"
	"coder-cli/internal/prompts"
	"coder-cli/internal/shell"
	"coder-cli/internal/tools"
)

const maxBashOutput = 30_000

var bannedCommands = map[string]struct{}{
	"alias": {}, "curl": {}, "curlie": {}, "wget": {}, "axel": {}, "aria2c": {},
	"nc": {}, "netcat": {}, "ncat": {}, "socat": {}, "telnet": {}, "lynx": {},
	"w3m": {}, "links": {}, "httpie": {}, "xh": {}, "http-prompt": {},
	"chrome": {}, "firefox": {}, "safari": {},
}

type BashInput struct {
	Command string `json:"command" validate:"required" jsonschema_description:"The command to execute"`
	Timeout int    `json:"timeout,omitempty" validate:"gte=0" jsonschema_description:"Optional timeout in milliseconds"`
}

func NewBash(deps Deps) tools.Tool {
	return &tools.Definition[BashInput]{
		ToolName: "Bash",
		Prompt:   prompts.Get(prompts.PromptToolBash),
		Permission: func(in BashInput) bool {
			return !permission.ReadOnlyCommand(in.Command)
		},
		Describe: func(in BashInput) string { return "Bash(" + in.Command + ")" },
		Command:  func(in BashInput) (string, bool) { return in.Command, true },
		Validate: func(_ context.Context, in BashInput, tctx *tools.Context) error {
			return deps.validateBash(in, tctx)
		},
		Run: func(ctx context.Context, in BashInput, tctx *tools.Context, _ func(string)) (tools.Output, error) {
			return deps.runBash(ctx, in, tctx)
		},
	}
}

func (d Deps) validateBash(in BashInput, tctx *tools.Context) error {
	subs, err := permission.SplitCommands(in.Command)
	if err != nil {
		// 语法错误交给 shell 的预检报告。
		return nil
	}
	for _, sc := range subs {
		if len(sc.Words) == 0 {
			continue
		}
		name := filepath.Base(sc.Words[0])
		if _, banned := bannedCommands[strings.ToLower(name)]; banned {
			return tools.NewInputError("Command '%s' is not allowed for security reasons", name)
		}
		if name == "cd" && len(sc.Words) > 1 {
			target := d.Roots.Resolve(d.shellPwd(tctx), sc.Words[1])
			if !d.Roots.Contains(target) {
				return tools.NewInputError("ERROR: cd to '%s' was blocked. For security, you may only change directories to children of the workspace (%s) for this session.",
					target, strings.Join(d.Roots.Dirs(), ", "))
			}
		}
	}
	return nil
}

// shellPwd 返回会话当前目录；会话尚未启动时返回工作目录。
func (d Deps) shellPwd(tctx *tools.Context) string {
	if d.Shells == nil {
		return d.cwd(tctx)
	}
	s, err := d.Shells.Get(d.cwd(tctx))
	if err != nil || s.Pwd() == "" {
		return d.cwd(tctx)
	}
	return s.Pwd()
}

func (d Deps) runBash(ctx context.Context, in BashInput, tctx *tools.Context) (tools.Output, error) {
	if d.Shells == nil {
		return tools.Output{}, fmt.Errorf("no shell available")
	}
	home := d.cwd(tctx)
	sess, err := d.Shells.Get(home)
	if err != nil {
		return tools.Output{}, err
	}
	timeout := d.ShellTimeout
	if in.Timeout > 0 {
		requested := time.Duration(in.Timeout) * time.Millisecond
		if timeout <= 0 || requested < timeout {
			timeout = requested
		}
	}

	ctx, cancel := withAbort(ctx, tctx)
	defer cancel()
	res, err := sess.Exec(ctx, in.Command, timeout)
	if err != nil {
		return tools.Output{}, err
	}

	if pwd := sess.Pwd(); pwd != "" && !d.Roots.Contains(pwd) {
		reset := home
		if err := sess.SetCwd(context.WithoutCancel(ctx), reset); err != nil {
			log.WithField("session", sess.ID()).Warnf("reset cwd: %v", err)
		} else {
			res.Stderr = strings.TrimRight(res.Stderr, "\n") + "\nShell cwd was reset to " + reset
		}
	}
	return tools.Output{Data: res, Text: renderBash(res)}, nil
}

func renderBash(res shell.Result) string {
	var parts []string
	if out := strings.TrimRight(res.Stdout, "\n"); out != "" {
		parts = append(parts, codercontext.TruncateMiddle(out, maxBashOutput))
	}
	errText := strings.TrimSpace(res.Stderr)
	if res.Code != 0 && !res.Interrupted {
		errText = strings.TrimSpace(errText + fmt.Sprintf("\nExit code %d", res.Code))
	}
	if errText != "" {
		parts = append(parts, codercontext.TruncateMiddle(errText, maxBashOutput))
	}
	return strings.Join(parts, "\n")
}
