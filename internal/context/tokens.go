package context

import (
	"encoding/json"

	"coder-cli/internal/agent"
)

const approxBytesPerToken = 4

// ApproxTokenCount 粗略估计：ceil(len_bytes/4)。
func ApproxTokenCount(text string) int64 {
	if text == "" {
		return 0
	}
	return int64((len(text) + approxBytesPerToken - 1) / approxBytesPerToken)
}

// EstimateMessages 对每个内容块按 bytes/4 估算，progress 消息不计入。
func EstimateMessages(msgs []agent.Message) int64 {
	var total int64
	for _, msg := range msgs {
		if msg.Kind == agent.KindProgress {
			continue
		}
		for _, b := range msg.Content {
			switch b.Type {
			case agent.BlockText, agent.BlockThinking:
				total += ApproxTokenCount(b.Text)
			case agent.BlockToolUse:
				total += ApproxTokenCount(b.Name) + ApproxTokenCount(string(b.Input))
			case agent.BlockToolResult:
				total += ApproxTokenCount(b.Content)
			}
		}
	}
	return total
}

// EstimateTranscript prefers the usage the provider reported on the latest
// assistant message and estimates only what was appended after it.
func EstimateTranscript(msgs []agent.Message) int64 {
	for i := len(msgs) - 1; i >= 0; i-- {
		msg := msgs[i]
		if msg.Kind != agent.KindAssistant || msg.Usage == nil || msg.IsAPIError {
			continue
		}
		if total := msg.Usage.Total(); total > 0 {
			return total + EstimateMessages(msgs[i+1:])
		}
	}
	return EstimateMessages(msgs)
}

// EstimateTools approximates the size of the tool descriptors sent each turn.
func EstimateTools(tools []agent.ToolDescriptor) int64 {
	if len(tools) == 0 {
		return 0
	}
	raw, err := json.Marshal(tools)
	if err != nil {
		return 0
	}
	return ApproxTokenCount(string(raw))
}
