package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"coder-cli/internal/logger"
)

// ToolDescriptor 是暴露给模型的工具定义。
type ToolDescriptor struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// ModelRequest 代表一次模型调用的完整请求。
type ModelRequest struct {
	Model             string
	Messages          []Message
	SystemPrompt      []string
	Tools             []ToolDescriptor
	MaxThinkingTokens int
	MaxTokens         int
	SafeMode          bool
}

// ModelCaller performs exactly one model call and returns the assistant message.
// Vendor specifics (streaming, retries, caching) stay behind this boundary.
type ModelCaller interface {
	CallModel(ctx context.Context, req ModelRequest) (Message, error)
}

// CallerFunc adapts a function to ModelCaller.
type CallerFunc func(ctx context.Context, req ModelRequest) (Message, error)

func (f CallerFunc) CallModel(ctx context.Context, req ModelRequest) (Message, error) {
	return f(ctx, req)
}

// EchoCaller is a fallback when no API key is available.
type EchoCaller struct {
	Prefix string
}

func (c EchoCaller) CallModel(ctx context.Context, req ModelRequest) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	for i := len(req.Messages) - 1; i >= 0; i-- {
		msg := req.Messages[i]
		if msg.Kind == KindUser && !msg.IsToolResult() {
			return NewAssistantMessage(TextBlock(c.Prefix + msg.Text())), nil
		}
	}
	return Message{}, errors.New("no messages to echo")
}

// SystemText joins prompt fragments the way every adapter sends them.
func SystemText(fragments []string) string {
	parts := make([]string, 0, len(fragments))
	for _, f := range fragments {
		if s := strings.TrimSpace(f); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n\n")
}

// ToLLMMessages 将内部消息转换为日志友好的结构。
func ToLLMMessages(msgs []Message) []logger.LLMMessage {
	out := make([]logger.LLMMessage, 0, len(msgs))
	for _, msg := range msgs {
		content := msg.Text()
		for _, use := range msg.ToolUses() {
			content += fmt.Sprintf(" [tool_use %s %s %s]", use.ID, use.Name, string(use.Input))
		}
		out = append(out, logger.LLMMessage{Role: string(msg.Kind), Content: content})
	}
	return out
}

// UsageString formats usage for logs.
func UsageString(u *Usage) string {
	if u == nil {
		return "-"
	}
	return fmt.Sprintf("in=%d out=%d cache_read=%d cache_write=%d", u.InputTokens, u.OutputTokens, u.CacheReadInputTokens, u.CacheCreationInputTokens)
}
