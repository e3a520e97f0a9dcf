package handlers

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"coder-cli/internal/prompts"
	"coder-cli/internal/search"
	"coder-cli/internal/tools"

	"github.com/bmatcuk/doublestar/v4"
)

const (
	searchLimit   = 100
	truncatedNote = "(Results are truncated. Consider using a more specific path or pattern.)"
)

// SearchResult 是 Glob 与 Grep 共用的结果。
type SearchResult struct {
	Filenames  []string
	NumFiles   int
	Truncated  bool
	DurationMs int64
}

type GlobInput struct {
	Pattern string `json:"pattern" validate:"required" jsonschema_description:"The glob pattern to match files against"`
	Path    string `json:"path,omitempty" jsonschema_description:"The directory to search in. Defaults to the current working directory."`
}

type GrepInput struct {
	Pattern string `json:"pattern" validate:"required" jsonschema_description:"The regular expression pattern to search for in file contents"`
	Path    string `json:"path,omitempty" jsonschema_description:"The directory to search in. Defaults to the current working directory."`
	Include string `json:"include,omitempty" jsonschema_description:"File pattern to include in the search (e.g. \"*.js\", \"*.{ts,tsx}\")"`
}

func NewGlob(deps Deps) tools.Tool {
	return &tools.Definition[GlobInput]{
		ToolName:        "Glob",
		Prompt:          prompts.Get(prompts.PromptToolGlob),
		ReadOnly:        true,
		ConcurrencySafe: true,
		Describe:        func(in GlobInput) string { return "Glob(" + in.Pattern + ")" },
		Validate: func(_ context.Context, in GlobInput, tctx *tools.Context) error {
			_, _, err := deps.globRoot(in, tctx)
			return err
		},
		Run: func(ctx context.Context, in GlobInput, tctx *tools.Context, _ func(string)) (tools.Output, error) {
			start := time.Now()
			root, pattern, err := deps.globRoot(in, tctx)
			if err != nil {
				return tools.Output{}, err
			}
			matches, truncated, err := search.Glob(ctx, root, pattern, searchLimit)
			if err != nil {
				return tools.Output{}, err
			}
			res := newSearchResult(matches, truncated, start)
			return tools.Output{Data: res, Text: renderSearch(res)}, nil
		},
	}
}

// globRoot 把绝对模式拆成固定前缀目录和相对模式。
func (d Deps) globRoot(in GlobInput, tctx *tools.Context) (string, string, error) {
	pattern := filepath.ToSlash(in.Pattern)
	base := in.Path
	if filepath.IsAbs(in.Pattern) {
		prefix, rest := doublestar.SplitPattern(pattern)
		base, pattern = filepath.FromSlash(prefix), rest
	}
	if !doublestar.ValidatePattern(pattern) {
		return "", "", tools.NewInputError("Invalid glob pattern: %s", in.Pattern)
	}
	root, err := d.resolve(tctx, base)
	if err != nil {
		return "", "", err
	}
	return root, pattern, nil
}

func NewGrep(deps Deps) tools.Tool {
	return &tools.Definition[GrepInput]{
		ToolName:        "Grep",
		Prompt:          prompts.Get(prompts.PromptToolGrep),
		ReadOnly:        true,
		ConcurrencySafe: true,
		Describe:        func(in GrepInput) string { return "Grep(" + in.Pattern + ")" },
		Validate: func(_ context.Context, in GrepInput, tctx *tools.Context) error {
			_, err := deps.resolve(tctx, in.Path)
			return err
		},
		Run: func(ctx context.Context, in GrepInput, tctx *tools.Context, _ func(string)) (tools.Output, error) {
			start := time.Now()
			root, err := deps.resolve(tctx, in.Path)
			if err != nil {
				return tools.Output{}, err
			}
			matches, truncated, err := search.Grep(ctx, root, search.GrepOptions{
				Pattern: in.Pattern,
				Include: in.Include,
				Limit:   searchLimit,
				NoRG:    deps.NoRG,
			})
			if err != nil {
				return tools.Output{}, err
			}
			res := newSearchResult(matches, truncated, start)
			return tools.Output{Data: res, Text: renderSearch(res)}, nil
		},
	}
}

func newSearchResult(matches []search.Match, truncated bool, start time.Time) SearchResult {
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m.Path)
	}
	return SearchResult{
		Filenames:  names,
		NumFiles:   len(names),
		Truncated:  truncated,
		DurationMs: time.Since(start).Milliseconds(),
	}
}

func renderSearch(res SearchResult) string {
	if res.NumFiles == 0 {
		return "No files found"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d file", res.NumFiles)
	if res.NumFiles != 1 {
		b.WriteString("s")
	}
	b.WriteString("\n")
	b.WriteString(strings.Join(res.Filenames, "\n"))
	if res.Truncated {
		b.WriteString("\n" + truncatedNote)
	}
	return b.String()
}
