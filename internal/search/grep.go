package search

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"coder-cli/internal/logger"

	"github.com/bmatcuk/doublestar/v4"
)

var log = logger.Named("search")

const maxScanLine = 1 << 20

// GrepOptions 控制内容搜索。
type GrepOptions struct {
	Pattern string
	Include string // doublestar pattern matched against the base name or relative path
	Limit   int
	NoRG    bool
}

// Grep 返回内容匹配 Pattern（不区分大小写）的文件，按修改时间从新到旧排序。
// 优先使用 ripgrep，找不到时退回到 Go regexp 遍历。
func Grep(ctx context.Context, root string, opts GrepOptions) (matches []Match, truncated bool, err error) {
	re, err := regexp.Compile("(?i)" + opts.Pattern)
	if err != nil {
		return nil, false, fmt.Errorf("invalid regular expression: %w", err)
	}
	if opts.Include != "" && !doublestar.ValidatePattern(opts.Include) {
		return nil, false, fmt.Errorf("invalid include pattern %q", opts.Include)
	}

	var paths []string
	rg, lookErr := exec.LookPath("rg")
	if !opts.NoRG && lookErr == nil {
		paths, err = ripgrep(ctx, rg, root, opts)
		if err != nil && ctx.Err() == nil {
			log.Debugf("ripgrep failed, using regexp walk: %v", err)
			paths, err = walkGrep(ctx, root, re, opts.Include)
		}
	} else {
		paths, err = walkGrep(ctx, root, re, opts.Include)
	}
	if err != nil {
		return nil, false, err
	}

	for _, p := range paths {
		info, statErr := os.Stat(p)
		if statErr != nil {
			continue
		}
		matches = append(matches, Match{Path: p, ModTime: info.ModTime()})
	}
	SortNewestFirst(matches)
	if opts.Limit > 0 && len(matches) > opts.Limit {
		matches, truncated = matches[:opts.Limit], true
	}
	return matches, truncated, nil
}

func ripgrep(ctx context.Context, rg, root string, opts GrepOptions) ([]string, error) {
	args := []string{"-li", "--no-messages"}
	if opts.Include != "" {
		args = append(args, "--glob", opts.Include)
	}
	args = append(args, "--", opts.Pattern, root)
	out, err := exec.CommandContext(ctx, rg, args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		// 退出码 1 表示没有匹配。
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return nil, nil
		}
		return nil, err
	}
	var paths []string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !filepath.IsAbs(line) {
			line = filepath.Join(root, line)
		}
		paths = append(paths, line)
	}
	return paths, nil
}

func walkGrep(ctx context.Context, root string, re *regexp.Regexp, include string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if path != root && (IgnoredDir(d.Name()) || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if include != "" && !includeMatches(root, path, include) {
			return nil
		}
		if fileMatches(path, re) {
			paths = append(paths, path)
		}
		return nil
	})
	return paths, err
}

func includeMatches(root, path, include string) bool {
	if ok, _ := doublestar.Match(include, filepath.Base(path)); ok {
		return true
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	ok, _ := doublestar.Match(include, filepath.ToSlash(rel))
	return ok
}

func fileMatches(path string, re *regexp.Regexp) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxScanLine)
	for scanner.Scan() {
		if re.Match(scanner.Bytes()) {
			return true
		}
	}
	return false
}
