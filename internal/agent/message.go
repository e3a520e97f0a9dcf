package agent

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind 区分对话记录中的三类消息。
type Kind string

const (
	KindUser      Kind = "user"
	KindAssistant Kind = "assistant"
	// KindProgress 仅用于流式展示，永远不会发送给模型。
	KindProgress Kind = "progress"
)

type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
	BlockThinking   BlockType = "thinking"
)

// Canonical texts used by the loop and the tool controller.
const (
	InterruptMessage           = "[Request interrupted by user]"
	InterruptMessageForToolUse = "[Request interrupted by user for tool use]"
	CancelMessage              = "The user doesn't want to take this action right now. STOP what you are doing and wait for the user to tell you how to proceed."
	RejectMessage              = "The user doesn't want to proceed with this tool use. The tool use was rejected (eg. if it was a file edit, the new_string was NOT written to the file). STOP what you are doing and wait for the user to tell you how to proceed."
	NoContentMessage           = "(no content)"
)

// ContentBlock 是消息内容的最小单元，按 Type 区分字段含义。
type ContentBlock struct {
	Type BlockType `json:"type"`

	// text / thinking
	Text      string `json:"text,omitempty"`
	Signature string `json:"signature,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

func ToolUseBlock(id, name string, input json.RawMessage) ContentBlock {
	return ContentBlock{Type: BlockToolUse, ID: id, Name: name, Input: input}
}

func ToolResultBlock(toolUseID, content string, isError bool) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolUseID: toolUseID, Content: content, IsError: isError}
}

// Usage 记录一次模型调用的 token 消耗。
type Usage struct {
	InputTokens              int64 `json:"input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens,omitempty"`
}

// Total returns the number of tokens the request occupied in the context window.
func (u Usage) Total() int64 {
	return u.InputTokens + u.OutputTokens + u.CacheCreationInputTokens + u.CacheReadInputTokens
}

// Message 是对话记录中的一条消息。
type Message struct {
	Kind    Kind           `json:"kind"`
	ID      string         `json:"id"`
	Content []ContentBlock `json:"content"`

	// assistant
	IsAPIError bool    `json:"is_api_error,omitempty"`
	Usage      *Usage  `json:"usage,omitempty"`
	CostUSD    float64 `json:"cost_usd,omitempty"`
	DurationMs int64   `json:"duration_ms,omitempty"`
	StopReason string  `json:"stop_reason,omitempty"`

	// user: structured result of the tool call, for rendering only.
	ToolUseResult any `json:"-"`

	// progress
	ToolUseID         string   `json:"tool_use_id,omitempty"`
	SiblingToolUseIDs []string `json:"sibling_tool_use_ids,omitempty"`
	Progress          *Message `json:"progress,omitempty"`
	Tools             []string `json:"-"`

	CreatedAt time.Time `json:"created_at"`
}

func newID() string {
	return uuid.NewString()
}

// NewUserMessage 构造纯文本用户消息。
func NewUserMessage(text string) Message {
	if text == "" {
		text = NoContentMessage
	}
	return Message{Kind: KindUser, ID: newID(), Content: []ContentBlock{TextBlock(text)}, CreatedAt: time.Now()}
}

// NewToolResultMessage wraps a single tool_result block in a user message.
func NewToolResultMessage(toolUseID, content string, isError bool, data any) Message {
	return Message{
		Kind:          KindUser,
		ID:            newID(),
		Content:       []ContentBlock{ToolResultBlock(toolUseID, content, isError)},
		ToolUseResult: data,
		CreatedAt:     time.Now(),
	}
}

func NewAssistantMessage(blocks ...ContentBlock) Message {
	if len(blocks) == 0 {
		blocks = []ContentBlock{TextBlock(NoContentMessage)}
	}
	return Message{Kind: KindAssistant, ID: newID(), Content: blocks, CreatedAt: time.Now()}
}

// NewAssistantErrorMessage 将模型调用失败转为对话中的一条助手消息。
func NewAssistantErrorMessage(text string) Message {
	msg := NewAssistantMessage(TextBlock(text))
	msg.IsAPIError = true
	return msg
}

// NewProgressMessage 包装工具执行中的增量输出。
func NewProgressMessage(toolUseID string, siblings []string, content Message, tools []string) Message {
	inner := content
	return Message{
		Kind:              KindProgress,
		ID:                newID(),
		ToolUseID:         toolUseID,
		SiblingToolUseIDs: append([]string(nil), siblings...),
		Progress:          &inner,
		Tools:             tools,
		CreatedAt:         time.Now(),
	}
}

// ToolUses 返回助手消息中的工具调用，保持出现顺序。
func (m Message) ToolUses() []ToolUse {
	if m.Kind != KindAssistant {
		return nil
	}
	var out []ToolUse
	for _, b := range m.Content {
		if b.Type == BlockToolUse {
			out = append(out, ToolUse{ID: b.ID, Name: b.Name, Input: b.Input})
		}
	}
	return out
}

// ToolResults returns the tool_result blocks of a user message.
func (m Message) ToolResults() []ContentBlock {
	if m.Kind != KindUser {
		return nil
	}
	var out []ContentBlock
	for _, b := range m.Content {
		if b.Type == BlockToolResult {
			out = append(out, b)
		}
	}
	return out
}

// IsToolResult reports whether the message carries only tool results.
func (m Message) IsToolResult() bool {
	if m.Kind != KindUser || len(m.Content) == 0 {
		return false
	}
	for _, b := range m.Content {
		if b.Type != BlockToolResult {
			return false
		}
	}
	return true
}

// Text 拼接所有文本块。
func (m Message) Text() string {
	var sb strings.Builder
	for _, b := range m.Content {
		switch b.Type {
		case BlockText:
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(b.Text)
		case BlockToolResult:
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(b.Content)
		}
	}
	return sb.String()
}

// Clone 深拷贝内容块，避免修改调用方持有的对话记录。
func (m Message) Clone() Message {
	out := m
	out.Content = append([]ContentBlock(nil), m.Content...)
	if m.Usage != nil {
		u := *m.Usage
		out.Usage = &u
	}
	return out
}

// ToolUse 是助手请求的一次工具调用。
type ToolUse struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// NormalizeForModel 丢弃 progress 消息，并将连续的 tool_result 用户消息合并为一条，
// 保证 user/assistant 交替。
func NormalizeForModel(messages []Message) []Message {
	out := make([]Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Kind == KindProgress {
			continue
		}
		if msg.Kind == KindUser && len(out) > 0 {
			last := &out[len(out)-1]
			if last.Kind == KindUser && last.IsToolResult() && msg.IsToolResult() {
				merged := last.Clone()
				merged.Content = append(merged.Content, msg.Content...)
				*last = merged
				continue
			}
		}
		out = append(out, msg)
	}
	return out
}
