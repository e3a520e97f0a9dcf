package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"coder-cli/internal/agent"
	"coder-cli/internal/logger"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultMaxTokens = 8192

type Options struct {
	Token   string
	BaseURL string
	Model   string
}

type Client struct {
	api   *anthropic.Client
	model string
}

var _ agent.ModelCaller = (*Client)(nil)

func New(opts Options) (*Client, error) {
	token := strings.TrimSpace(opts.Token)
	if token == "" {
		return nil, errors.New("missing token")
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(token),
	}
	if base := normalizeBaseURL(opts.BaseURL); base != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(base))
	}
	client := anthropic.NewClient(reqOpts...)
	return &Client{
		api:   &client,
		model: strings.TrimSpace(opts.Model),
	}, nil
}

func normalizeBaseURL(raw string) string {
	base := strings.TrimSpace(raw)
	if base == "" {
		return ""
	}
	base = strings.TrimRight(base, "/")
	if strings.HasSuffix(base, "/v1") {
		base = strings.TrimSuffix(base, "/v1")
		base = strings.TrimRight(base, "/")
	}
	return base
}

func (c *Client) resolveModel(m string) anthropic.Model {
	if strings.TrimSpace(m) != "" {
		return anthropic.Model(strings.TrimSpace(m))
	}
	return anthropic.Model(c.model)
}

// CallModel 发送一次非流式请求，并把响应转换为助手消息。
func (c *Client) CallModel(ctx context.Context, req agent.ModelRequest) (agent.Message, error) {
	model := c.resolveModel(req.Model)
	params := buildMessageParams(req, model)
	llm := logger.GlobalLLMLogger()
	llm.Request(string(model), agent.ToLLMMessages(req.Messages), len(req.Tools))

	start := time.Now()
	resp, err := c.api.Messages.New(ctx, params)
	if err != nil {
		llm.Error(string(model), err)
		return agent.Message{}, err
	}
	msg := toAssistantMessage(resp)
	msg.DurationMs = time.Since(start).Milliseconds()
	llm.Response(string(model), msg.Text(), agent.UsageString(msg.Usage))
	return msg, nil
}

func buildMessageParams(req agent.ModelRequest, model anthropic.Model) anthropic.MessageNewParams {
	var messages []anthropic.MessageParam
	for _, msg := range agent.NormalizeForModel(req.Messages) {
		blocks := toBlockParams(msg)
		if len(blocks) == 0 {
			continue
		}
		switch msg.Kind {
		case agent.KindAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(blocks...))
		default:
			messages = append(messages, anthropic.NewUserMessage(blocks...))
		}
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     model,
		MaxTokens: maxTokens,
		Messages:  messages,
	}
	if system := agent.SystemText(req.SystemPrompt); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if len(req.Tools) > 0 {
		params.Tools = toToolParams(req.Tools)
	}
	if req.MaxThinkingTokens > 0 {
		budget := int64(req.MaxThinkingTokens)
		if budget >= maxTokens {
			params.MaxTokens = budget + defaultMaxTokens
		}
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(budget)
	}
	return params
}

func toBlockParams(msg agent.Message) []anthropic.ContentBlockParamUnion {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.Content))
	for _, b := range msg.Content {
		switch b.Type {
		case agent.BlockText:
			if strings.TrimSpace(b.Text) == "" {
				continue
			}
			blocks = append(blocks, anthropic.NewTextBlock(b.Text))
		case agent.BlockThinking:
			if b.Signature == "" {
				continue
			}
			blocks = append(blocks, anthropic.NewThinkingBlock(b.Signature, b.Text))
		case agent.BlockToolUse:
			input := b.Input
			if len(input) == 0 {
				input = json.RawMessage(`{}`)
			}
			blocks = append(blocks, anthropic.NewToolUseBlock(b.ID, input, b.Name))
		case agent.BlockToolResult:
			blocks = append(blocks, anthropic.NewToolResultBlock(b.ToolUseID, b.Content, b.IsError))
		}
	}
	return blocks
}

func toToolParams(tools []agent.ToolDescriptor) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			continue
		}
		schema := anthropic.ToolInputSchemaParam{Properties: t.InputSchema["properties"]}
		if req, ok := t.InputSchema["required"]; ok {
			schema.Required = toStrings(req)
		}
		tool := anthropic.ToolParam{Name: name, InputSchema: schema}
		if desc := strings.TrimSpace(t.Description); desc != "" {
			tool.Description = anthropic.String(desc)
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &tool})
	}
	return out
}

func toStrings(v any) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []any:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func toAssistantMessage(resp *anthropic.Message) agent.Message {
	var blocks []agent.ContentBlock
	for _, block := range resp.Content {
		switch v := block.AsAny().(type) {
		case anthropic.TextBlock:
			blocks = append(blocks, agent.TextBlock(v.Text))
		case anthropic.ThinkingBlock:
			blocks = append(blocks, agent.ContentBlock{Type: agent.BlockThinking, Text: v.Thinking, Signature: v.Signature})
		case anthropic.ToolUseBlock:
			input := v.Input
			if len(strings.TrimSpace(string(input))) == 0 {
				input = json.RawMessage(`{}`)
			}
			blocks = append(blocks, agent.ToolUseBlock(v.ID, v.Name, input))
		}
	}
	msg := agent.NewAssistantMessage(blocks...)
	msg.StopReason = string(resp.StopReason)
	msg.Usage = &agent.Usage{
		InputTokens:              resp.Usage.InputTokens,
		OutputTokens:             resp.Usage.OutputTokens,
		CacheCreationInputTokens: resp.Usage.CacheCreationInputTokens,
		CacheReadInputTokens:     resp.Usage.CacheReadInputTokens,
	}
	return msg
}
