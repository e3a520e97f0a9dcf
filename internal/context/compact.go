package context

import (
	stdcontext "context"
	"errors"
	"fmt"
	"strings"

	"coder-cli/internal/agent"
	"coder-cli/internal/logger"
	"coder-cli/internal/prompts"
)

var log = logger.Named("compact")

const (
	defaultKeepRecentTokens = 20_000
	digestMessageChars      = 500
	digestMaxMessages       = 20
)

// ErrNothingToCompact 表示对话过短，没有可以折叠的历史。
var ErrNothingToCompact = errors.New("nothing to compact")

// Compactor 在对话接近上下文窗口时折叠较早的历史。
type Compactor struct {
	Caller           agent.ModelCaller
	Model            string
	Window           int64
	KeepRecentTokens int64
}

// Result 描述一次压缩的产出。
type Result struct {
	Messages   []agent.Message
	Summary    string
	Summarized bool // false when the model call failed and a local digest was used
	Folded     int
}

// Compact 对齐 inline compaction 的思路：
// 1) 保留最近若干 token 的尾部，尾部总是从一条用户文本消息开始
// 2) 用 compact prompt 让模型为其余历史生成交接摘要
// 3) 模型调用失败时退化为本地截断摘要，保证对话可以继续
func (c *Compactor) Compact(ctx stdcontext.Context, transcript []agent.Message) (Result, error) {
	msgs := make([]agent.Message, 0, len(transcript))
	for _, m := range transcript {
		if m.Kind != agent.KindProgress {
			msgs = append(msgs, m)
		}
	}
	cut := c.cutIndex(msgs)
	if cut <= 0 {
		return Result{}, ErrNothingToCompact
	}
	head, tail := msgs[:cut], msgs[cut:]

	summary, err := c.summarize(ctx, head)
	summarized := err == nil && strings.TrimSpace(summary) != ""
	if !summarized {
		if err != nil && ctx.Err() != nil {
			return Result{}, err
		}
		log.WithField("messages", len(head)).Warnf("summary call failed, truncating history: %v", err)
		summary = localDigest(head)
	}

	prefix := prompts.Get(prompts.PromptCompactSummaryPrefix)
	out := make([]agent.Message, 0, len(tail)+2)
	out = append(out,
		agent.NewUserMessage(strings.TrimSpace(prefix)+"\n"+strings.TrimSpace(summary)),
		agent.NewAssistantMessage(agent.TextBlock(prompts.Get(prompts.PromptCompactAck))),
	)
	out = append(out, tail...)
	log.WithField("folded", len(head)).WithField("kept", len(tail)).Infof("compacted transcript summarized=%t", summarized)
	return Result{Messages: out, Summary: summary, Summarized: summarized, Folded: len(head)}, nil
}

// cutIndex returns the start of the retained tail. The tail never starts with a
// tool_result, so no result is separated from its tool_use.
func (c *Compactor) cutIndex(msgs []agent.Message) int {
	budget := c.KeepRecentTokens
	if budget <= 0 {
		budget = defaultKeepRecentTokens
	}
	cut := -1
	var size int64
	for i := len(msgs) - 1; i > 0; i-- {
		size += EstimateMessages(msgs[i : i+1])
		if msgs[i].Kind != agent.KindUser || msgs[i].IsToolResult() {
			continue
		}
		if size > budget && cut != -1 {
			break
		}
		cut = i
		if size > budget {
			break
		}
	}
	return cut
}

func (c *Compactor) summarize(ctx stdcontext.Context, head []agent.Message) (string, error) {
	if c.Caller == nil {
		return "", errors.New("no model caller configured")
	}
	instruction := prompts.Get(prompts.PromptCompact)
	for {
		req := agent.ModelRequest{
			Model:    c.Model,
			Messages: withTrailingInstruction(head, instruction),
		}
		if c.Window <= 0 || EstimateMessages(req.Messages) <= c.Window || len(head) <= 1 {
			msg, err := c.Caller.CallModel(ctx, req)
			if err != nil {
				return "", err
			}
			if msg.IsAPIError {
				return "", fmt.Errorf("summary call failed: %s", msg.Text())
			}
			return strings.TrimSpace(msg.Text()), nil
		}
		// 摘要请求本身超出窗口时，从最旧处裁剪。
		head = head[1:]
	}
}

func withTrailingInstruction(head []agent.Message, instruction string) []agent.Message {
	out := append([]agent.Message(nil), head...)
	if n := len(out); n > 0 && out[n-1].Kind == agent.KindUser {
		last := out[n-1].Clone()
		last.Content = append(last.Content, agent.TextBlock(instruction))
		out[n-1] = last
		return out
	}
	return append(out, agent.NewUserMessage(instruction))
}

// localDigest 在没有模型可用时，从用户文本消息生成一个简短摘要。
func localDigest(head []agent.Message) string {
	var requests []string
	for _, m := range head {
		if m.Kind != agent.KindUser || m.IsToolResult() {
			continue
		}
		if text := strings.TrimSpace(m.Text()); text != "" {
			requests = append(requests, TruncateMiddle(text, digestMessageChars))
		}
	}
	if len(requests) > digestMaxMessages {
		requests = requests[len(requests)-digestMaxMessages:]
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "(%d earlier messages were dropped without a summary.)", len(head))
	if len(requests) > 0 {
		sb.WriteString("\nEarlier requests from the user:")
		for _, r := range requests {
			sb.WriteString("\n- ")
			sb.WriteString(r)
		}
	}
	return sb.String()
}
