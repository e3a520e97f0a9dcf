package events

import "time"

// ToolEventType 标识工具生命周期事件。
type ToolEventType string

const (
	ToolStarted   ToolEventType = "tool.started"
	ToolCompleted ToolEventType = "tool.completed"
)

// ToolEvent 在工具开始执行与产生终止结果时发布。
type ToolEvent struct {
	Type      ToolEventType
	ToolUseID string
	Name      string
	Status    string // completed|error|cancelled|denied|invalid|unknown
	IsError   bool
	Elapsed   time.Duration
}

// ShellEvent is published when a shell session changes state.
type ShellEvent struct {
	SessionID string
	Dir       string
	State     string
	Detail    string
}
