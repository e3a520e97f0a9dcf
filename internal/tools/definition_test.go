package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

type echoInput struct {
	Text  string `json:"text" validate:"required" jsonschema:"description=Text to echo back"`
	Times int    `json:"times,omitempty" validate:"omitempty,min=1,max=5"`
}

func newEchoTool(run func(ctx context.Context, in echoInput, progress func(string)) (Output, error)) *Definition[echoInput] {
	return &Definition[echoInput]{
		ToolName:        "Echo",
		Prompt:          "Echo text",
		ReadOnly:        true,
		ConcurrencySafe: true,
		Run: func(ctx context.Context, in echoInput, _ *Context, progress func(string)) (Output, error) {
			return run(ctx, in, progress)
		},
	}
}

func TestDefinition_InputSchema(t *testing.T) {
	tool := newEchoTool(nil)
	schema := tool.InputSchema()
	if schema["type"] != "object" {
		t.Fatalf("schema type = %v", schema["type"])
	}
	props, ok := schema["properties"].(map[string]any)
	if !ok || props["text"] == nil || props["times"] == nil {
		t.Fatalf("properties = %#v", schema["properties"])
	}
	required, _ := schema["required"].([]any)
	if len(required) != 1 || required[0] != "text" {
		t.Fatalf("required = %#v, want [text]", schema["required"])
	}
	if _, ok := schema["$schema"]; ok {
		t.Fatalf("$schema should be stripped")
	}
}

func TestDefinition_CheckSchema(t *testing.T) {
	tool := newEchoTool(nil)
	cases := []struct {
		name    string
		input   string
		wantErr string
	}{
		{name: "ok", input: `{"text":"hi"}`},
		{name: "missing", input: `{}`, wantErr: "The required parameter `text` is missing"},
		{name: "empty input", input: ``, wantErr: "The required parameter `text` is missing"},
		{name: "wrong type", input: `{"text":3}`, wantErr: "The parameter `text` type is expected as `string`"},
		{name: "unknown field", input: `{"text":"a","extra":1}`, wantErr: "unknown field"},
		{name: "out of range", input: `{"text":"a","times":9}`, wantErr: "must be at most 5"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tool.CheckSchema(json.RawMessage(tc.input))
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var inputErr *InputError
			if !errors.As(err, &inputErr) || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err = %v, want InputError containing %q", err, tc.wantErr)
			}
		})
	}
}

func TestDefinition_CallEmitsProgressThenResult(t *testing.T) {
	tool := newEchoTool(func(_ context.Context, in echoInput, progress func(string)) (Output, error) {
		progress("working")
		return Output{Data: in.Text, Text: strings.Repeat(in.Text, in.Times)}, nil
	})

	var got []Event
	for ev := range tool.Call(context.Background(), json.RawMessage(`{"text":"ab","times":2}`), nil) {
		got = append(got, ev)
	}
	if len(got) != 2 || got[0].Type != EventProgress || got[1].Type != EventResult {
		t.Fatalf("events = %+v", got)
	}
	if got[1].ResultForAssistant != "abab" {
		t.Fatalf("result = %q", got[1].ResultForAssistant)
	}
}

func TestDefinition_CallRecoversPanic(t *testing.T) {
	tool := newEchoTool(func(context.Context, echoInput, func(string)) (Output, error) {
		panic("boom")
	})
	var last Event
	for ev := range tool.Call(context.Background(), json.RawMessage(`{"text":"x"}`), nil) {
		last = ev
	}
	if last.Type != EventError || !strings.Contains(last.Err.Error(), "boom") {
		t.Fatalf("last event = %+v", last)
	}
}

func TestDefinition_NeedsPermissions(t *testing.T) {
	tool := newEchoTool(nil)
	if tool.NeedsPermissions(json.RawMessage(`{"text":"x"}`)) {
		t.Fatalf("read-only tool should not need permission by default")
	}
	tool.Permission = func(in echoInput) bool { return in.Text == "rm" }
	if !tool.NeedsPermissions(json.RawMessage(`{"text":"rm"}`)) {
		t.Fatalf("custom permission predicate ignored")
	}
}

func TestRegistry_SuggestAndDescriptors(t *testing.T) {
	reg := NewRegistry(newEchoTool(nil), &fakeTool{name: "Grep"})
	if got := reg.Suggest("echo"); got != "Echo" {
		t.Fatalf("Suggest(echo) = %q", got)
	}
	if got := reg.Suggest("zzz"); got != "" {
		t.Fatalf("Suggest(zzz) = %q, want empty", got)
	}
	descs := reg.Descriptors()
	if len(descs) != 2 || descs[0].Name != "Echo" || descs[1].Name != "Grep" {
		t.Fatalf("descriptors = %+v", descs)
	}
}
