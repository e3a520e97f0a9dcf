package handlers

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"

	"coder-cli/internal/prompts"
	"coder-cli/internal/search"
	"coder-cli/internal/tools"
)

const listLimit = 1000

type LSInput struct {
	Path string `json:"path" validate:"required" jsonschema_description:"The absolute path to the directory to list"`
}

type LSResult struct {
	Root      string
	Entries   []string
	Truncated bool
}

func NewLS(deps Deps) tools.Tool {
	return &tools.Definition[LSInput]{
		ToolName:        "LS",
		Prompt:          prompts.Get(prompts.PromptToolLS),
		ReadOnly:        true,
		ConcurrencySafe: true,
		Describe:        func(in LSInput) string { return describePath("LS", in.Path) },
		Validate: func(_ context.Context, in LSInput, tctx *tools.Context) error {
			dir, err := deps.resolve(tctx, in.Path)
			if err != nil {
				return err
			}
			info, err := os.Stat(dir)
			if err != nil || !info.IsDir() {
				return tools.NewInputError("Directory does not exist: %s", dir)
			}
			return nil
		},
		Run: func(ctx context.Context, in LSInput, tctx *tools.Context, _ func(string)) (tools.Output, error) {
			dir, err := deps.resolve(tctx, in.Path)
			if err != nil {
				return tools.Output{}, err
			}
			entries, truncated, err := search.List(ctx, dir, listLimit)
			if err != nil {
				return tools.Output{}, err
			}
			res := LSResult{Root: dir, Truncated: truncated}
			for _, e := range entries {
				res.Entries = append(res.Entries, e.Path)
			}
			return tools.Output{Data: res, Text: renderTree(res)}, nil
		},
	}
}

// renderTree 把深度优先的相对路径渲染成缩进的树。
func renderTree(res LSResult) string {
	var b strings.Builder
	if res.Truncated {
		fmt.Fprintf(&b, "There are more than %d files in the directory. Use more specific paths to explore nested directories. The first %d files and directories are included below:\n\n", listLimit, listLimit)
	}
	root := strings.TrimSuffix(res.Root, "/") + "/"
	fmt.Fprintf(&b, "- %s\n", root)
	for _, p := range res.Entries {
		isDir := strings.HasSuffix(p, "/")
		trimmed := strings.TrimSuffix(p, "/")
		depth := strings.Count(trimmed, "/") + 1
		name := path.Base(trimmed)
		if isDir {
			name += "/"
		}
		fmt.Fprintf(&b, "%s- %s\n", strings.Repeat("  ", depth), name)
	}
	return strings.TrimRight(b.String(), "\n")
}
