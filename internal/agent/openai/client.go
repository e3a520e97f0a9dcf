package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"coder-cli/internal/agent"
	"coder-cli/internal/logger"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

type Options struct {
	APIKey  string
	BaseURL string
	Model   string
}

type Client struct {
	api   *openai.Client
	model string
}

// 确保 Client 实现了 agent.ModelCaller 接口
var _ agent.ModelCaller = (*Client)(nil)

func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("missing OPENAI_API_KEY")
	}
	cfg := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
	}
	if base := normalizeBaseURL(opts.BaseURL); base != "" {
		cfg = append(cfg, option.WithBaseURL(base))
	}
	client := openai.NewClient(cfg...)
	return &Client{api: &client, model: opts.Model}, nil
}

func (c *Client) resolveModel(model string) string {
	if strings.TrimSpace(model) != "" {
		return model
	}
	return c.model
}

// CallModel 通过 chat completions 发起一次调用，工具调用映射为 tool_use 块。
func (c *Client) CallModel(ctx context.Context, req agent.ModelRequest) (agent.Message, error) {
	model := c.resolveModel(req.Model)
	params := buildChatParams(req, model)
	llm := logger.GlobalLLMLogger()
	llm.Request(model, agent.ToLLMMessages(req.Messages), len(req.Tools))

	start := time.Now()
	resp, err := c.api.Chat.Completions.New(ctx, params)
	if err != nil {
		err = wrapHTTPError(err)
		llm.Error(model, err)
		return agent.Message{}, err
	}
	if len(resp.Choices) == 0 {
		err := errors.New("no completion choices returned")
		llm.Error(model, err)
		return agent.Message{}, err
	}
	msg := toAssistantMessage(resp)
	msg.DurationMs = time.Since(start).Milliseconds()
	llm.Response(model, msg.Text(), agent.UsageString(msg.Usage))
	return msg, nil
}

func buildChatParams(req agent.ModelRequest, model string) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: toChatMessages(req.SystemPrompt, req.Messages),
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if len(req.Tools) > 0 {
		params.Tools = toChatTools(req.Tools)
		params.ParallelToolCalls = openai.Bool(true)
	}
	return params
}

func toChatMessages(system []string, msgs []agent.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs)+1)
	if text := agent.SystemText(system); text != "" {
		out = append(out, openai.SystemMessage(text))
	}
	for _, msg := range agent.NormalizeForModel(msgs) {
		switch msg.Kind {
		case agent.KindAssistant:
			out = append(out, toAssistantParam(msg))
		default:
			// tool_result 在 chat API 中是独立的 tool 消息。
			var text []string
			for _, b := range msg.Content {
				switch b.Type {
				case agent.BlockToolResult:
					out = append(out, openai.ToolMessage(b.Content, b.ToolUseID))
				case agent.BlockText:
					text = append(text, b.Text)
				}
			}
			if len(text) > 0 {
				out = append(out, openai.UserMessage(strings.Join(text, "\n")))
			}
		}
	}
	return out
}

func toAssistantParam(msg agent.Message) openai.ChatCompletionMessageParamUnion {
	param := openai.ChatCompletionAssistantMessageParam{}
	var text []string
	for _, b := range msg.Content {
		switch b.Type {
		case agent.BlockText:
			text = append(text, b.Text)
		case agent.BlockToolUse:
			args := strings.TrimSpace(string(b.Input))
			if args == "" {
				args = "{}"
			}
			param.ToolCalls = append(param.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
				OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
					ID: b.ID,
					Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
						Name:      b.Name,
						Arguments: args,
					},
				},
			})
		}
	}
	if joined := strings.Join(text, "\n"); joined != "" {
		param.Content.OfString = openai.String(joined)
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: &param}
}

func toChatTools(specs []agent.ToolDescriptor) []openai.ChatCompletionToolUnionParam {
	tools := make([]openai.ChatCompletionToolUnionParam, 0, len(specs))
	for _, spec := range specs {
		name := strings.TrimSpace(spec.Name)
		if name == "" {
			continue
		}
		fn := shared.FunctionDefinitionParam{
			Name:       name,
			Parameters: shared.FunctionParameters(spec.InputSchema),
		}
		if desc := strings.TrimSpace(spec.Description); desc != "" {
			fn.Description = openai.String(desc)
		}
		tools = append(tools, openai.ChatCompletionToolUnionParam{
			OfFunction: &openai.ChatCompletionFunctionToolParam{Function: fn},
		})
	}
	return tools
}

func toAssistantMessage(resp *openai.ChatCompletion) agent.Message {
	choice := resp.Choices[0]
	var blocks []agent.ContentBlock
	if text := choice.Message.Content; strings.TrimSpace(text) != "" {
		blocks = append(blocks, agent.TextBlock(text))
	}
	for i, call := range choice.Message.ToolCalls {
		id := call.ID
		if id == "" {
			id = fmt.Sprintf("call-%d", i+1)
		}
		args := strings.TrimSpace(call.Function.Arguments)
		if args == "" || !json.Valid([]byte(args)) {
			args = "{}"
		}
		blocks = append(blocks, agent.ToolUseBlock(id, call.Function.Name, json.RawMessage(args)))
	}
	msg := agent.NewAssistantMessage(blocks...)
	msg.StopReason = string(choice.FinishReason)
	msg.Usage = &agent.Usage{
		InputTokens:          resp.Usage.PromptTokens - resp.Usage.PromptTokensDetails.CachedTokens,
		OutputTokens:         resp.Usage.CompletionTokens,
		CacheReadInputTokens: resp.Usage.PromptTokensDetails.CachedTokens,
	}
	return msg
}

func wrapHTTPError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && apiErr != nil {
		if raw := strings.TrimSpace(apiErr.RawJSON()); raw != "" {
			return fmt.Errorf("http_%d: %s", apiErr.StatusCode, raw)
		}
		return fmt.Errorf("http_%d: %v", apiErr.StatusCode, err)
	}
	return err
}

// normalizeBaseURL 去掉 endpoint 后缀并保证以 /v1 结尾。
func normalizeBaseURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed == nil {
		return strings.TrimRight(raw, "/")
	}
	path := strings.TrimRight(parsed.Path, "/")
	path = strings.TrimSuffix(path, "/chat/completions")
	path = strings.TrimRight(path, "/")
	if !strings.HasSuffix(path, "/v1") {
		path += "/v1"
	}
	parsed.Path = path
	return parsed.String()
}
