package search

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
)

// Glob 在 root 下按 doublestar 模式匹配文件，按修改时间从新到旧排序，最多返回 limit 个。
func Glob(ctx context.Context, root, pattern string, limit int) (matches []Match, truncated bool, err error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, false, fmt.Errorf("invalid glob pattern %q", pattern)
	}
	fsys := os.DirFS(root)
	err = doublestar.GlobWalk(fsys, pattern, func(rel string, d fs.DirEntry) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if ignoredPath(rel) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		matches = append(matches, Match{Path: filepath.Join(root, filepath.FromSlash(rel)), ModTime: info.ModTime()})
		return nil
	}, doublestar.WithFilesOnly(), doublestar.WithNoFollow())
	if err != nil {
		return nil, false, err
	}
	SortNewestFirst(matches)
	if limit > 0 && len(matches) > limit {
		matches, truncated = matches[:limit], true
	}
	return matches, truncated, nil
}
