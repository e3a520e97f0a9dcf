package handlers

import (
	"context"
	"fmt"
	"os"
	"time"

	"coder-cli/internal/logger"
	"coder-cli/internal/reminder"
	"coder-cli/internal/sandbox"
	"coder-cli/internal/shell"
	"coder-cli/internal/tools"
)

var log = logger.Named("handlers")

// Deps 是内置工具共享的运行时依赖。Watcher 可以为 nil。
type Deps struct {
	Roots   sandbox.Roots
	Shells  *shell.Manager
	Watcher *reminder.FileWatcher
	// ShellTimeout caps a Bash command; 0 uses shell.DefaultTimeout.
	ShellTimeout time.Duration
	// NoRG forces the regexp walk even when ripgrep is installed.
	NoRG bool
}

// Default returns the built-in tools in the order they are offered to the model.
func Default(deps Deps) []tools.Tool {
	return []tools.Tool{
		NewBash(deps),
		NewGlob(deps),
		NewGrep(deps),
		NewView(deps),
		NewLS(deps),
		NewWrite(deps),
	}
}

// cwd is the directory relative paths resolve against.
func (d Deps) cwd(tctx *tools.Context) string {
	if tctx != nil && tctx.Options.Cwd != "" {
		return tctx.Options.Cwd
	}
	if p := d.Roots.Primary(); p != "" {
		return p
	}
	wd, _ := os.Getwd()
	return wd
}

// resolve 把工具给出的路径解析为绝对路径，并拒绝工作区之外的路径。
func (d Deps) resolve(tctx *tools.Context, path string) (string, error) {
	if path == "" {
		return d.cwd(tctx), nil
	}
	abs, err := d.Roots.Check(d.cwd(tctx), path)
	if err != nil {
		return "", tools.NewInputError("%s", err.Error())
	}
	return abs, nil
}

func (d Deps) track(path string) {
	if d.Watcher == nil {
		return
	}
	if err := d.Watcher.Track(path); err != nil {
		log.WithField("path", path).Debugf("track file: %v", err)
	}
}

// withAbort 让 ctx 在查询令牌触发时同样被取消。
func withAbort(ctx context.Context, tctx *tools.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(ctx)
	if tctx == nil || tctx.Abort == nil {
		return ctx, func() { cancel(nil) }
	}
	stop := context.AfterFunc(tctx.Abort.Context(), func() { cancel(tctx.Abort.Cause()) })
	return ctx, func() {
		stop()
		cancel(nil)
	}
}

func describePath(tool, path string) string {
	return fmt.Sprintf("%s(%s)", tool, path)
}
