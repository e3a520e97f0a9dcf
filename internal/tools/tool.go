package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// Tool 是模型可调用能力的统一契约。实例跨调用无状态（私有缓存除外）。
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]any
	IsReadOnly() bool
	IsConcurrencySafe() bool
	// CheckSchema rejects malformed input before any other step runs.
	CheckSchema(input json.RawMessage) error
	NeedsPermissions(input json.RawMessage) bool
	// ValidateInput performs tool-specific semantic checks.
	ValidateInput(ctx context.Context, input json.RawMessage, tctx *Context) error
	// Call 返回的 channel 先产生零个或多个 progress 事件，再产生恰好一个终止事件，然后关闭。
	Call(ctx context.Context, input json.RawMessage, tctx *Context) <-chan Event
}

// PermissionDescriber is implemented by tools that can describe an invocation
// for a confirmation prompt.
type PermissionDescriber interface {
	PermissionDescription(input json.RawMessage) string
}

// CommandPrefixer is implemented by shell-class tools whose grants are keyed
// by command prefix rather than by tool name.
type CommandPrefixer interface {
	CommandOf(input json.RawMessage) (string, bool)
}

type EventType int

const (
	EventProgress EventType = iota + 1
	EventResult
	EventError
)

// Event 是工具执行流中的一个元素。
type Event struct {
	Type EventType

	// progress
	Content string

	// result
	Data               any
	ResultForAssistant string

	// error
	Err error
}

func Progress(content string) Event {
	return Event{Type: EventProgress, Content: content}
}

func Result(data any, forAssistant string) Event {
	return Event{Type: EventResult, Data: data, ResultForAssistant: forAssistant}
}

func Failure(err error) Event {
	return Event{Type: EventError, Err: err}
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	return e.Type == EventResult || e.Type == EventError
}

// InputError 表示输入校验失败，总是转换为错误结果而不是向上抛出。
type InputError struct {
	Message string
}

func (e *InputError) Error() string { return e.Message }

func NewInputError(format string, args ...any) error {
	if len(args) == 0 {
		return &InputError{Message: format}
	}
	return &InputError{Message: fmt.Sprintf(format, args...)}
}
