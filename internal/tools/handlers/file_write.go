package handlers

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"coder-cli/internal/prompts"
	"coder-cli/internal/tools"
)

// suppressWindow 覆盖自身写入触发的 fsnotify 事件。
const suppressWindow = 2 * time.Second

type WriteInput struct {
	FilePath string `json:"file_path" validate:"required" jsonschema_description:"The absolute path to the file to write"`
	Content  string `json:"content" jsonschema_description:"The content to write to the file"`
}

type WriteResult struct {
	Type     string
	FilePath string
	Lines    int
}

func NewWrite(deps Deps) tools.Tool {
	return &tools.Definition[WriteInput]{
		ToolName: "Write",
		Prompt:   prompts.Get(prompts.PromptToolWrite),
		Describe: func(in WriteInput) string { return describePath("Write", in.FilePath) },
		Validate: func(_ context.Context, in WriteInput, tctx *tools.Context) error {
			path, err := deps.resolve(tctx, in.FilePath)
			if err != nil {
				return err
			}
			return checkFreshRead(path, tctx)
		},
		Run: func(_ context.Context, in WriteInput, tctx *tools.Context, _ func(string)) (tools.Output, error) {
			path, err := deps.resolve(tctx, in.FilePath)
			if err != nil {
				return tools.Output{}, err
			}
			res, err := deps.writeFile(path, in.Content)
			if err != nil {
				return tools.Output{}, err
			}
			if tctx != nil && tctx.Reads != nil {
				tctx.Reads.Record(path, time.Now())
			}
			if res.Type == "create" {
				return tools.Output{Data: res, Text: "File created successfully at: " + path}, nil
			}
			return tools.Output{Data: res, Text: fmt.Sprintf("The file %s has been updated (%d lines).", path, res.Lines)}, nil
		},
	}
}

// checkFreshRead 要求已存在的文件先被 View 过，且读取之后没有在磁盘上被改动。
func checkFreshRead(path string, tctx *tools.Context) error {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.IsDir() {
		return tools.NewInputError("%s is a directory", path)
	}
	var readAt time.Time
	ok := false
	if tctx != nil && tctx.Reads != nil {
		readAt, ok = tctx.Reads.Get(path)
	}
	if !ok {
		return tools.NewInputError("File has not been read yet. Read it first before writing to it.")
	}
	if info.ModTime().After(readAt) {
		return tools.NewInputError("File has been modified since read, either by the user or by a linter. Read it again before attempting to write it.")
	}
	return nil
}

func (d Deps) writeFile(path, content string) (WriteResult, error) {
	res := WriteResult{Type: "create", FilePath: path, Lines: strings.Count(content, "\n")}
	if content != "" && !strings.HasSuffix(content, "\n") {
		res.Lines++
	}
	mode := fs.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		res.Type = "update"
		mode = info.Mode().Perm()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return res, fmt.Errorf("create directory: %w", err)
	}
	if d.Watcher != nil {
		d.Watcher.Suppress(path, suppressWindow)
	}
	if err := os.WriteFile(path, []byte(content), mode); err != nil {
		return res, fmt.Errorf("write %s: %w", path, err)
	}
	return res, nil
}
