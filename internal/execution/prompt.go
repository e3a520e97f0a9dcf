package execution

import (
	"fmt"
	"sort"
	"strings"

	"coder-cli/internal/agent"
)

// BuildSystemPrompt 返回调用方片段加上 extra 中按 key 排序的 <context> 条目。
func BuildSystemPrompt(fragments []string, extra map[string]string) []string {
	out := make([]string, 0, len(fragments)+len(extra))
	for _, f := range fragments {
		if strings.TrimSpace(f) != "" {
			out = append(out, f)
		}
	}
	keys := make([]string, 0, len(extra))
	for k, v := range extra {
		if strings.TrimSpace(v) != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, fmt.Sprintf("<context name=%q>%s</context>", k, extra[k]))
	}
	return out
}

// injectReminder 把 text 放进最近一条用户消息的首个文本块前面。
// 返回新切片，调用方的 transcript 与其中的消息都不会被修改。
// 只含 tool_result 的消息在末尾追加一个文本块，tool_result 仍保持在最前。
func injectReminder(transcript []agent.Message, text string) []agent.Message {
	if strings.TrimSpace(text) == "" {
		return transcript
	}
	out := append([]agent.Message(nil), transcript...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i].Kind != agent.KindUser {
			continue
		}
		msg := out[i].Clone()
		if len(msg.Content) > 0 && msg.Content[0].Type == agent.BlockText {
			msg.Content[0].Text = text + "\n\n" + msg.Content[0].Text
		} else {
			msg.Content = append(msg.Content, agent.TextBlock(text))
		}
		out[i] = msg
		return out
	}
	return out
}
