package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"coder-cli/internal/agent"

	"github.com/mattn/go-runewidth"
)

// renderer 把编排器产出的消息打印成纯文本。
type renderer struct {
	out   io.Writer
	width int
}

func newRenderer(out io.Writer, width int) *renderer {
	if width <= 0 {
		width = terminalWidth()
	}
	return &renderer{out: out, width: width}
}

func (r *renderer) Render(msg agent.Message) {
	switch msg.Kind {
	case agent.KindAssistant:
		r.assistant(msg)
	case agent.KindUser:
		for _, b := range msg.ToolResults() {
			r.toolResult(b)
		}
	case agent.KindProgress:
		if msg.Progress == nil {
			return
		}
		if text := lastLine(msg.Progress.Text()); text != "" {
			fmt.Fprintln(r.out, r.fit("  … "+text))
		}
	}
}

func (r *renderer) assistant(msg agent.Message) {
	for _, b := range msg.Content {
		switch b.Type {
		case agent.BlockText:
			text := strings.TrimRight(b.Text, "\n")
			if text == "" {
				continue
			}
			if msg.IsAPIError {
				fmt.Fprintln(r.out, "! "+text)
				continue
			}
			fmt.Fprintln(r.out, text)
		case agent.BlockToolUse:
			fmt.Fprintln(r.out, r.fit(fmt.Sprintf("● %s(%s)", b.Name, compactInput(b.Input))))
		}
	}
}

func (r *renderer) toolResult(b agent.ContentBlock) {
	text := strings.TrimSpace(b.Content)
	first := firstLine(text)
	if b.IsError {
		first = "Error: " + first
	}
	line := "  ⎿ " + first
	if extra := strings.Count(text, "\n"); extra > 0 {
		suffix := fmt.Sprintf(" (+%d lines)", extra)
		line = runewidth.Truncate(line, r.width-runewidth.StringWidth(suffix), "…") + suffix
	}
	fmt.Fprintln(r.out, r.fit(line))
}

// fit 按显示宽度截断，CJK 字符占两列。
func (r *renderer) fit(s string) string {
	return runewidth.Truncate(s, r.width, "…")
}

func compactInput(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func lastLine(s string) string {
	s = strings.TrimRight(s, "\n")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
