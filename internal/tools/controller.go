package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"coder-cli/internal/agent"
	codercontext "coder-cli/internal/context"
	"coder-cli/internal/events"

	"golang.org/x/sync/errgroup"
)

// DefaultMaxConcurrency 是并发批次的默认上限。
const DefaultMaxConcurrency = 10

// PermissionResult 是权限判定的结果；拒绝时 Message 作为错误结果回传给模型。
type PermissionResult struct {
	Allowed bool
	Message string
}

// CanUseToolFunc decides whether one invocation may run. It may block on an
// interactive confirmation and must return once ctx is done.
type CanUseToolFunc func(ctx context.Context, tool Tool, input json.RawMessage, tctx *Context, assistant agent.Message) PermissionResult

// AllowAll grants every invocation.
func AllowAll(context.Context, Tool, json.RawMessage, *Context, agent.Message) PermissionResult {
	return PermissionResult{Allowed: true}
}

// Batch 是一条助手消息中请求的全部工具调用。
type Batch struct {
	Uses      []agent.ToolUse
	Assistant agent.Message
	Context   *Context
	CanUse    CanUseToolFunc
}

type ControllerOptions struct {
	MaxConcurrency int
	Bus            *events.Bus
}

// Controller 对一批工具调用做并发/串行分类并驱动执行。
type Controller struct {
	registry       *Registry
	maxConcurrency int
	bus            *events.Bus
}

func NewController(registry *Registry, opts ControllerOptions) *Controller {
	limit := opts.MaxConcurrency
	if limit <= 0 {
		limit = DefaultMaxConcurrency
	}
	return &Controller{registry: registry, maxConcurrency: limit, bus: opts.Bus}
}

// CanRunConcurrently reports whether every requested tool is known, read-only
// and concurrency-safe. One unsafe or unknown tool makes the whole batch serial.
func (c *Controller) CanRunConcurrently(uses []agent.ToolUse) bool {
	for _, use := range uses {
		tool, ok := c.registry.Lookup(use.Name)
		if !ok || !tool.IsReadOnly() || !tool.IsConcurrencySafe() {
			return false
		}
	}
	return true
}

// Run dispatches the batch in the mode CanRunConcurrently selects.
func (c *Controller) Run(ctx context.Context, b Batch) <-chan agent.Message {
	if c.CanRunConcurrently(b.Uses) {
		return c.RunConcurrently(ctx, b)
	}
	return c.RunSequentially(ctx, b)
}

// RunConcurrently 以有上限的并发执行整批调用；单个调用失败不会取消其他调用。
// 结果按完成顺序产出，调用方负责按请求顺序重排。
func (c *Controller) RunConcurrently(ctx context.Context, b Batch) <-chan agent.Message {
	out := make(chan agent.Message, len(b.Uses))
	siblings := useIDs(b.Uses)
	go func() {
		defer close(out)
		var g errgroup.Group
		g.SetLimit(c.maxConcurrency)
		for _, use := range b.Uses {
			g.Go(func() error {
				c.runOne(ctx, b, use, siblings, func(m agent.Message) { out <- m })
				return nil
			})
		}
		_ = g.Wait()
	}()
	return out
}

// RunSequentially 按请求顺序逐个执行。
func (c *Controller) RunSequentially(ctx context.Context, b Batch) <-chan agent.Message {
	out := make(chan agent.Message, len(b.Uses))
	siblings := useIDs(b.Uses)
	go func() {
		defer close(out)
		for _, use := range b.Uses {
			c.runOne(ctx, b, use, siblings, func(m agent.Message) { out <- m })
		}
	}()
	return out
}

func (c *Controller) runOne(ctx context.Context, b Batch, use agent.ToolUse, siblings []string, emit func(agent.Message)) {
	start := time.Now()
	tool, ok := c.registry.Lookup(use.Name)
	logToolRequest(use, ok)

	finish := func(status, text string, isError bool, data any) {
		if isError {
			text = codercontext.TruncateMiddle(text, codercontext.MaxErrorChars)
		}
		if text == "" {
			text = agent.NoContentMessage
		}
		logToolResult(use, status, isError, text, time.Since(start))
		c.publish(events.ToolEvent{Type: events.ToolCompleted, ToolUseID: use.ID, Name: use.Name, Status: status, IsError: isError, Elapsed: time.Since(start)})
		emit(agent.NewToolResultMessage(use.ID, text, isError, data))
	}

	if !ok {
		msg := fmt.Sprintf("Error: No such tool available: %s", use.Name)
		if s := c.registry.Suggest(use.Name); s != "" {
			msg += fmt.Sprintf(". Did you mean %s?", s)
		}
		finish("unknown", msg, true, nil)
		return
	}
	tctx := b.Context
	if tctx.Abort.Signaled() {
		finish("cancelled", agent.CancelMessage, true, nil)
		return
	}
	if err := tool.CheckSchema(use.Input); err != nil {
		finish("invalid", "InputValidationError: "+err.Error(), true, nil)
		return
	}
	if err := tool.ValidateInput(ctx, use.Input, tctx); err != nil {
		finish("invalid", err.Error(), true, nil)
		return
	}
	canUse := b.CanUse
	if canUse == nil {
		canUse = AllowAll
	}
	if perm := canUse(ctx, tool, use.Input, tctx, b.Assistant); !perm.Allowed {
		msg := perm.Message
		if msg == "" {
			msg = agent.RejectMessage
		}
		finish("denied", msg, true, nil)
		return
	}

	c.publish(events.ToolEvent{Type: events.ToolStarted, ToolUseID: use.ID, Name: use.Name})
	names := []string{tool.Name()}
	stream := tool.Call(ctx, use.Input, tctx)
	for {
		select {
		case ev, open := <-stream:
			if !open {
				finish("error", fmt.Sprintf("Error: %s finished without a result", use.Name), true, nil)
				return
			}
			switch ev.Type {
			case EventProgress:
				emit(agent.NewProgressMessage(use.ID, siblings, agent.NewAssistantMessage(agent.TextBlock(ev.Content)), names))
			case EventResult:
				finish("completed", ev.ResultForAssistant, false, ev.Data)
				go drain(stream)
				return
			case EventError:
				if tctx.Abort.Signaled() || errors.Is(ev.Err, context.Canceled) {
					finish("cancelled", agent.CancelMessage, true, nil)
				} else {
					finish("error", formatToolError(ev.Err), true, nil)
				}
				go drain(stream)
				return
			}
		case <-tctx.Abort.Done():
			// 工具未响应取消时不再等待，剩余事件在后台丢弃。
			finish("cancelled", agent.CancelMessage, true, nil)
			go drain(stream)
			return
		}
	}
}

func (c *Controller) publish(evt events.ToolEvent) {
	if c.bus != nil {
		c.bus.Publish(evt)
	}
}

func formatToolError(err error) string {
	if err == nil {
		return "Error: unknown failure"
	}
	var inputErr *InputError
	if errors.As(err, &inputErr) {
		return "InputValidationError: " + inputErr.Message
	}
	return "Error: " + err.Error()
}

func useIDs(uses []agent.ToolUse) []string {
	ids := make([]string, 0, len(uses))
	for _, u := range uses {
		ids = append(ids, u.ID)
	}
	return ids
}

func drain(stream <-chan Event) {
	for range stream {
	}
}
