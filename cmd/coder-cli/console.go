package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"coder-cli/internal/events"
	"coder-cli/internal/permission"
)

// lineReader 在后台逐行读取输入，REPL 与确认提示共用同一个来源。
type lineReader struct {
	lines chan string
}

func newLineReader(r io.Reader) *lineReader {
	l := &lineReader{lines: make(chan string)}
	go func() {
		defer close(l.lines)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			l.lines <- scanner.Text()
		}
	}()
	return l
}

// next blocks for one line; false means EOF or ctx is done.
func (l *lineReader) next(ctx context.Context) (string, bool) {
	select {
	case line, ok := <-l.lines:
		return line, ok
	case <-ctx.Done():
		return "", false
	}
}

// confirmer answers permission requests published on the bus from the
// terminal, one at a time.
type confirmer struct {
	in  *lineReader
	out io.Writer
	mu  sync.Mutex
}

// serve 消费总线事件直到总线关闭。确认请求在独立 goroutine 中处理，不阻塞事件循环。
func (c *confirmer) serve(ctx context.Context, sub <-chan any, wg *sync.WaitGroup) {
	for evt := range sub {
		switch e := evt.(type) {
		case *permission.Request:
			wg.Add(1)
			go func() {
				defer wg.Done()
				c.confirm(ctx, e)
			}()
		case events.ToolEvent:
			log.WithField("tool", e.Name).Debugf("%s %s status=%s elapsed=%s", e.Type, e.ToolUseID, e.Status, e.Elapsed)
		case events.ShellEvent:
			log.WithField("session", e.SessionID).Debugf("shell %s in %s %s", e.State, e.Dir, e.Detail)
		}
	}
}

func (c *confirmer) confirm(ctx context.Context, req *permission.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-req.Done():
		return
	default:
	}
	fmt.Fprintf(c.out, "\nAllow %s: %s\n", req.ToolName, req.Description)
	fmt.Fprint(c.out, confirmChoices(req))
	for {
		select {
		case <-req.Done():
			fmt.Fprintln(c.out, "(cancelled)")
			return
		case <-ctx.Done():
			req.Abort()
			return
		case line, ok := <-c.in.lines:
			if !ok {
				req.Abort()
				return
			}
			if applyAnswer(req, line) {
				return
			}
			fmt.Fprint(c.out, "Please answer with one of the listed keys: ")
		}
	}
}

func confirmChoices(req *permission.Request) string {
	var b strings.Builder
	b.WriteString("  [y] yes, once\n")
	if req.Rule != "" {
		b.WriteString("  [a] yes, for this session\n")
		fmt.Fprintf(&b, "  [p] yes, always allow %s in this project\n", req.Rule)
	}
	b.WriteString("  [n] no, tell the model what to do instead\n")
	b.WriteString("  [x] no, and stop the current request\n> ")
	return b.String()
}

// applyAnswer 把一次键入映射到请求回调；无法识别的输入返回 false。
func applyAnswer(req *permission.Request, answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		req.Allow(permission.ScopeOnce)
	case "a":
		if req.Rule == "" {
			return false
		}
		req.Allow(permission.ScopeSession)
	case "p":
		if req.Rule == "" {
			return false
		}
		req.Allow(permission.ScopePermanent)
	case "n", "no":
		req.Reject()
	case "x":
		req.Abort()
	default:
		return false
	}
	return true
}

// terminalWidth reads $COLUMNS and falls back to 100.
func terminalWidth() int {
	if n, err := strconv.Atoi(strings.TrimSpace(os.Getenv("COLUMNS"))); err == nil && n > 20 {
		return n
	}
	return 100
}
