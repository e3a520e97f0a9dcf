package tools

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrAborted 是用户中止时的取消原因。
var ErrAborted = errors.New("aborted by user")

// Abort 是一次顶层查询共享的取消令牌。
type Abort struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
}

func NewAbort(parent context.Context) *Abort {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancelCause(parent)
	return &Abort{ctx: ctx, cancel: cancel}
}

// Context returns the context that is done once the token fires.
func (a *Abort) Context() context.Context { return a.ctx }

func (a *Abort) Done() <-chan struct{} { return a.ctx.Done() }

// Signal fires the token. Repeated calls keep the first cause.
func (a *Abort) Signal(cause error) {
	if cause == nil {
		cause = ErrAborted
	}
	a.cancel(cause)
}

func (a *Abort) Signaled() bool { return a.ctx.Err() != nil }

func (a *Abort) Cause() error { return context.Cause(a.ctx) }

// Options 是本轮查询的只读选项。
type Options struct {
	Model             string
	Cwd               string
	SafeMode          bool
	Verbose           bool
	MaxThinkingTokens int
}

// ReadTimestamps 记录每个文件最近一次被读取的时间；
// 不同 key 并发写安全，同一 key 最后写入者生效。
type ReadTimestamps struct {
	mu sync.Mutex
	m  map[string]time.Time
}

func NewReadTimestamps() *ReadTimestamps {
	return &ReadTimestamps{m: map[string]time.Time{}}
}

func (r *ReadTimestamps) Record(path string, at time.Time) {
	r.mu.Lock()
	r.m[path] = at
	r.mu.Unlock()
}

func (r *ReadTimestamps) Get(path string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	at, ok := r.m[path]
	return at, ok
}

func (r *ReadTimestamps) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.m)
}

// Context 是每轮传递给工具的执行上下文（按引用传递）。
type Context struct {
	Abort     *Abort
	Registry  *Registry
	SessionID string
	AgentID   string
	Options   Options
	Reads     *ReadTimestamps
}

// NewContext builds a context whose token derives from parent.
func NewContext(parent context.Context, registry *Registry, sessionID string, opts Options) *Context {
	return &Context{
		Abort:     NewAbort(parent),
		Registry:  registry,
		SessionID: sessionID,
		AgentID:   sessionID,
		Options:   opts,
		Reads:     NewReadTimestamps(),
	}
}

// ForQuery returns a copy sharing the bookkeeping but owning a fresh token,
// used when a session starts its next top-level query.
func (c *Context) ForQuery(parent context.Context) *Context {
	cp := *c
	cp.Abort = NewAbort(parent)
	return &cp
}
