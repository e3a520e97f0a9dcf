package handlers

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"coder-cli/internal/prompts"
	"coder-cli/internal/tools"
)

const (
	defaultReadLines = 2000
	maxLineChars     = 2000
	maxReadBytes     = 256 * 1024
	binaryCheckBytes = 512
)

type ViewInput struct {
	FilePath string `json:"file_path" validate:"required" jsonschema_description:"The absolute path to the file to read"`
	Offset   int    `json:"offset,omitempty" validate:"gte=0" jsonschema_description:"The number of lines to skip before reading"`
	Limit    int    `json:"limit,omitempty" validate:"gte=0" jsonschema_description:"The number of lines to read"`
}

type ViewResult struct {
	FilePath   string
	Content    string
	StartLine  int
	NumLines   int
	TotalLines int
}

func NewView(deps Deps) tools.Tool {
	return &tools.Definition[ViewInput]{
		ToolName:        "View",
		Prompt:          prompts.Get(prompts.PromptToolView),
		ReadOnly:        true,
		ConcurrencySafe: true,
		Describe:        func(in ViewInput) string { return describePath("View", in.FilePath) },
		Validate: func(_ context.Context, in ViewInput, tctx *tools.Context) error {
			path, err := deps.resolve(tctx, in.FilePath)
			if err != nil {
				return err
			}
			info, err := os.Stat(path)
			if err != nil {
				return tools.NewInputError("File does not exist: %s", path)
			}
			if info.IsDir() {
				return tools.NewInputError("%s is a directory; use LS to list it", path)
			}
			if info.Size() > maxReadBytes && in.Offset == 0 && in.Limit == 0 {
				return tools.NewInputError("File content (%dKB) exceeds maximum allowed size (%dKB). Please use offset and limit to read specific portions.",
					info.Size()/1024, maxReadBytes/1024)
			}
			return nil
		},
		Run: func(_ context.Context, in ViewInput, tctx *tools.Context, _ func(string)) (tools.Output, error) {
			path, err := deps.resolve(tctx, in.FilePath)
			if err != nil {
				return tools.Output{}, err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return tools.Output{}, fmt.Errorf("read %s: %w", path, err)
			}
			if isBinary(data) {
				return tools.Output{}, fmt.Errorf("%s is a binary file", path)
			}
			if tctx != nil && tctx.Reads != nil {
				tctx.Reads.Record(path, time.Now())
			}
			deps.track(path)

			res := sliceLines(string(data), in.Offset, in.Limit)
			res.FilePath = path
			return tools.Output{Data: res, Text: renderView(res)}, nil
		},
	}
}

func isBinary(data []byte) bool {
	n := min(len(data), binaryCheckBytes)
	for _, b := range data[:n] {
		if b == 0 {
			return true
		}
	}
	return false
}

// sliceLines 跳过 offset 行后取 limit 行，超长行截断到 maxLineChars。
func sliceLines(content string, offset, limit int) ViewResult {
	if limit <= 0 {
		limit = defaultReadLines
	}
	lines := strings.Split(strings.TrimSuffix(content, "\n"), "\n")
	if content == "" {
		lines = nil
	}
	total := len(lines)
	start := min(offset, total)
	end := min(start+limit, total)
	picked := make([]string, 0, end-start)
	for _, line := range lines[start:end] {
		if utf8.RuneCountInString(line) > maxLineChars {
			line = string([]rune(line)[:maxLineChars]) + "... [line truncated]"
		}
		picked = append(picked, line)
	}
	return ViewResult{
		Content:    strings.Join(picked, "\n"),
		StartLine:  start + 1,
		NumLines:   len(picked),
		TotalLines: total,
	}
}

func renderView(res ViewResult) string {
	if res.TotalLines == 0 {
		return "<system-reminder>Warning: the file exists but the contents are empty.</system-reminder>"
	}
	if res.NumLines == 0 {
		return fmt.Sprintf("<system-reminder>Warning: the file has only %d lines; offset is past the end.</system-reminder>", res.TotalLines)
	}
	var b strings.Builder
	for i, line := range strings.Split(res.Content, "\n") {
		fmt.Fprintf(&b, "%6d\t%s\n", res.StartLine+i, line)
	}
	if last := res.StartLine + res.NumLines - 1; last < res.TotalLines {
		fmt.Fprintf(&b, "\n(Showing lines %d-%d of %d. Use offset and limit to read more.)", res.StartLine, last, res.TotalLines)
	}
	return strings.TrimRight(b.String(), "\n")
}
