package search

import (
	"context"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

var ignoredDirs = map[string]struct{}{
	".git":         {},
	"node_modules": {},
	".idea":        {},
	"target":       {},
	"vendor":       {},
	"__pycache__":  {},
}

// IgnoredDir reports whether a directory is skipped by every walker here.
func IgnoredDir(name string) bool {
	_, ok := ignoredDirs[name]
	return ok
}

// ignoredPath reports whether any directory component of a slash-separated
// relative path is ignored.
func ignoredPath(rel string) bool {
	parts := strings.Split(filepath.ToSlash(rel), "/")
	for _, p := range parts[:len(parts)-1] {
		if IgnoredDir(p) {
			return true
		}
	}
	return false
}

// Match 是一个命中的文件及其修改时间。
type Match struct {
	Path    string
	ModTime time.Time
}

// SortNewestFirst orders matches by modification time, newest first, then by path.
func SortNewestFirst(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		if !matches[i].ModTime.Equal(matches[j].ModTime) {
			return matches[i].ModTime.After(matches[j].ModTime)
		}
		return matches[i].Path < matches[j].Path
	})
}

// FindFiles returns up to limit relative file paths under root, skipping common ignores.
func FindFiles(ctx context.Context, root string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 200
	}
	paths := make([]string, 0, limit)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if path != root && IgnoredDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		paths = append(paths, rel)
		if len(paths) >= limit {
			return fs.SkipAll
		}
		return nil
	})
	return paths, err
}

// Entry 是目录树中的一项；目录以 "/" 结尾。
type Entry struct {
	Path  string
	IsDir bool
}

// List 按深度优先列出 root 下的条目，跳过隐藏项与忽略目录。
// truncated 表示达到 limit 后停止。
func List(ctx context.Context, root string, limit int) (entries []Entry, truncated bool, err error) {
	if limit <= 0 {
		limit = 1000
	}
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if path == root {
			return nil
		}
		name := d.Name()
		if strings.HasPrefix(name, ".") || (d.IsDir() && IgnoredDir(name)) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if len(entries) >= limit {
			truncated = true
			return fs.SkipAll
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			rel += "/"
		}
		entries = append(entries, Entry{Path: rel, IsDir: d.IsDir()})
		return nil
	})
	return entries, truncated, err
}
