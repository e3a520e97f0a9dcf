package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"coder-cli/internal/agent"
	codercontext "coder-cli/internal/context"
	"coder-cli/internal/events"
	"coder-cli/internal/reminder"
	"coder-cli/internal/tools"
)

// Options 定义编排器的可注入依赖。
type Options struct {
	Caller agent.ModelCaller
	// Registry is used when the query context carries none.
	Registry  *tools.Registry
	Reminders *reminder.Service
	Bus       *events.Bus

	// ContextWindow overrides the window inferred from the model name.
	ContextWindow int64
	// Compactor 为 nil 时使用基于 Caller 的默认实现；DisableCompaction 关闭自动压缩。
	Compactor         *codercontext.Compactor
	DisableCompaction bool

	MaxToolConcurrency int
	MaxTokens          int
	// MaxTurns 限制一次查询的模型调用次数，0 表示不限制。
	MaxTurns       int
	RequestTimeout time.Duration
}

// Orchestrator 驱动查询循环：压缩、调用模型、执行工具、带着结果进入下一轮。
type Orchestrator struct {
	opts Options

	mu    sync.Mutex
	usage agent.Usage
	calls int
}

func NewOrchestrator(opts Options) *Orchestrator {
	if opts.Caller == nil {
		opts.Caller = agent.EchoCaller{}
	}
	return &Orchestrator{opts: opts}
}

// Usage returns the token totals reported by every model call so far.
func (o *Orchestrator) Usage() agent.Usage {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.usage
}

// Calls reports how many model calls the orchestrator has made.
func (o *Orchestrator) Calls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}

// Query 启动一次查询并返回消息流：助手消息、工具进度和按请求顺序排列的工具结果。
// 循环结束时关闭 channel。调用方不会被修改的 transcript 作为起点；
// 取消通过 tctx.Abort 传递，ctx 结束时停止产出。
func (o *Orchestrator) Query(ctx context.Context, transcript []agent.Message, systemPrompt []string, extra map[string]string, canUse tools.CanUseToolFunc, tctx *tools.Context) <-chan agent.Message {
	out := make(chan agent.Message)
	go func() {
		defer close(out)
		q := &query{
			o:      o,
			out:    out,
			ctx:    ctx,
			tctx:   tctx,
			canUse: canUse,
			system: BuildSystemPrompt(systemPrompt, extra),
		}
		q.run(append([]agent.Message(nil), transcript...))
	}()
	return out
}

// query 是一次 Query 调用的状态。
type query struct {
	o      *Orchestrator
	out    chan<- agent.Message
	ctx    context.Context
	tctx   *tools.Context
	canUse tools.CanUseToolFunc
	system []string
}

func (q *query) emit(msg agent.Message) bool {
	select {
	case q.out <- msg:
		return true
	case <-q.ctx.Done():
		return false
	}
}

func (q *query) registry() *tools.Registry {
	if q.tctx.Registry != nil {
		return q.tctx.Registry
	}
	return q.o.opts.Registry
}

// run 是显式的迭代循环，每次迭代对应一轮模型调用。
func (q *query) run(working []agent.Message) {
	opts := q.o.opts
	runCtx, stop := linkAbort(q.ctx, q.tctx.Abort)
	defer stop()

	for turn := 1; ; turn++ {
		if opts.MaxTurns > 0 && turn > opts.MaxTurns {
			log.WithField("session", q.tctx.SessionID).Warnf("max turns %d reached", opts.MaxTurns)
			q.emit(agent.NewAssistantErrorMessage(fmt.Sprintf("Stopped after %d turns without a final answer.", opts.MaxTurns)))
			return
		}
		working = q.compactIfNeeded(runCtx, working)

		prompt := working
		if opts.Reminders != nil {
			if pending := opts.Reminders.Drain(); len(pending) > 0 {
				prompt = injectReminder(working, reminder.Format(pending))
			}
		}

		start := time.Now()
		assistant, err := q.callModel(runCtx, prompt)
		if q.tctx.Abort.Signaled() {
			q.emit(agent.NewAssistantMessage(agent.TextBlock(agent.InterruptMessage)))
			return
		}
		if err != nil {
			err = stageError{Stage: "model_call", Turn: turn, Err: err}
			log.WithField("session", q.tctx.SessionID).Errorf("%v", err)
			q.emit(agent.NewAssistantErrorMessage(apiErrorText(err)))
			return
		}
		assistant.DurationMs = time.Since(start).Milliseconds()
		q.o.record(assistant.Usage)
		if !q.emit(assistant) {
			return
		}

		uses := assistant.ToolUses()
		if len(uses) == 0 {
			return
		}
		results, ok := q.runTools(runCtx, uses, assistant)
		if !ok {
			return
		}
		working = append(working, assistant)
		working = append(working, results...)

		if q.tctx.Abort.Signaled() {
			q.emit(agent.NewAssistantMessage(agent.TextBlock(agent.InterruptMessageForToolUse)))
			return
		}
	}
}

func (q *query) callModel(ctx context.Context, transcript []agent.Message) (agent.Message, error) {
	opts := q.o.opts
	if opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.RequestTimeout)
		defer cancel()
	}
	var descriptors []agent.ToolDescriptor
	if reg := q.registry(); reg != nil {
		descriptors = reg.Descriptors()
	}
	req := agent.ModelRequest{
		Model:             q.tctx.Options.Model,
		Messages:          agent.NormalizeForModel(transcript),
		SystemPrompt:      q.system,
		Tools:             descriptors,
		MaxThinkingTokens: q.tctx.Options.MaxThinkingTokens,
		MaxTokens:         opts.MaxTokens,
		SafeMode:          q.tctx.Options.SafeMode,
	}
	msg, err := opts.Caller.CallModel(ctx, req)
	if err != nil {
		return agent.Message{}, err
	}
	if msg.Kind != agent.KindAssistant {
		return agent.Message{}, fmt.Errorf("model returned a %s message", msg.Kind)
	}
	return msg, nil
}

// runTools 执行一批工具调用：进度消息即时产出，结果按请求顺序重排后产出并返回。
// ok 为 false 表示调用方已停止接收。
func (q *query) runTools(ctx context.Context, uses []agent.ToolUse, assistant agent.Message) ([]agent.Message, bool) {
	reg := q.registry()
	controller := tools.NewController(reg, tools.ControllerOptions{
		MaxConcurrency: q.o.opts.MaxToolConcurrency,
		Bus:            q.o.opts.Bus,
	})
	unique := uniqueUses(uses)
	batch := tools.Batch{Uses: unique, Assistant: assistant, Context: q.tctx, CanUse: q.canUse}
	concurrent := controller.CanRunConcurrently(unique)
	log.WithField("session", q.tctx.SessionID).Debugf("running %d tools concurrent=%t", len(unique), concurrent)

	var stream <-chan agent.Message
	if concurrent {
		stream = controller.RunConcurrently(ctx, batch)
	} else {
		stream = controller.RunSequentially(ctx, batch)
	}

	byID := make(map[string]agent.Message, len(uses))
	listening := true
	for msg := range stream {
		if msg.Kind == agent.KindProgress {
			if listening {
				listening = q.emit(msg)
			}
			continue
		}
		for _, res := range msg.ToolResults() {
			byID[res.ToolUseID] = msg
		}
	}
	if !listening {
		return nil, false
	}

	ordered := make([]agent.Message, 0, len(uses))
	seen := make(map[string]bool, len(uses))
	for _, use := range uses {
		msg, ok := byID[use.ID]
		switch {
		case seen[use.ID]:
			msg = agent.NewToolResultMessage(use.ID, fmt.Sprintf("Error: duplicate tool_use id %s; only its first call was run", use.ID), true, nil)
		case !ok:
			msg = agent.NewToolResultMessage(use.ID, agent.CancelMessage, true, nil)
		}
		seen[use.ID] = true
		ordered = append(ordered, msg)
		if !q.emit(msg) {
			return nil, false
		}
	}
	return ordered, true
}

// uniqueUses 只保留每个 id 的第一次调用。
func uniqueUses(uses []agent.ToolUse) []agent.ToolUse {
	seen := make(map[string]bool, len(uses))
	out := make([]agent.ToolUse, 0, len(uses))
	for _, use := range uses {
		if seen[use.ID] {
			continue
		}
		seen[use.ID] = true
		out = append(out, use)
	}
	return out
}

func (q *query) compactIfNeeded(ctx context.Context, working []agent.Message) []agent.Message {
	opts := q.o.opts
	if opts.DisableCompaction {
		return working
	}
	window := codercontext.WindowOrDefault(q.tctx.Options.Model, opts.ContextWindow)
	limit := codercontext.AutoCompactLimit(window)
	var descriptors []agent.ToolDescriptor
	if reg := q.registry(); reg != nil {
		descriptors = reg.Descriptors()
	}
	estimate := codercontext.EstimateTranscript(working) + codercontext.EstimateTools(descriptors)
	if limit <= 0 || estimate <= limit {
		return working
	}
	compactor := opts.Compactor
	if compactor == nil {
		compactor = &codercontext.Compactor{Caller: opts.Caller, Model: q.tctx.Options.Model, Window: window}
	}
	log.WithField("session", q.tctx.SessionID).Infof("auto-compacting: ~%d tokens over limit %d", estimate, limit)
	res, err := compactor.Compact(ctx, working)
	if err != nil {
		if !errors.Is(err, codercontext.ErrNothingToCompact) {
			log.WithField("session", q.tctx.SessionID).Warnf("%v", stageError{Stage: "compaction", Err: err})
		}
		return working
	}
	return res.Messages
}

func (o *Orchestrator) record(u *agent.Usage) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	if u == nil {
		return
	}
	o.usage.InputTokens += u.InputTokens
	o.usage.OutputTokens += u.OutputTokens
	o.usage.CacheCreationInputTokens += u.CacheCreationInputTokens
	o.usage.CacheReadInputTokens += u.CacheReadInputTokens
}

func apiErrorText(err error) string {
	var se stageError
	if errors.As(err, &se) {
		err = se.Err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "API Error: request timed out"
	}
	return "API Error: " + err.Error()
}

// linkAbort 返回一个在 ctx 结束或令牌触发时都会取消的 context。
func linkAbort(ctx context.Context, abort *tools.Abort) (context.Context, context.CancelFunc) {
	linked, cancel := context.WithCancelCause(ctx)
	if abort == nil {
		return linked, func() { cancel(nil) }
	}
	stop := context.AfterFunc(abort.Context(), func() { cancel(abort.Cause()) })
	return linked, func() {
		stop()
		cancel(nil)
	}
}
