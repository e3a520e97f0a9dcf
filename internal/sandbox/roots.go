package sandbox

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrOutsideRoots 表示路径落在所有工作区根目录之外。
var ErrOutsideRoots = errors.New("path is outside the allowed workspace")

// Roots 是工具可以直接访问的工作区根目录集合；空集合表示不限制。
type Roots struct {
	dirs []string
}

func New(dirs ...string) Roots {
	return Roots{dirs: cleanRoots(dirs)}
}

func (r Roots) Dirs() []string {
	return append([]string(nil), r.dirs...)
}

// Primary returns the first root, the directory a reset falls back to.
func (r Roots) Primary() string {
	if len(r.dirs) == 0 {
		return ""
	}
	return r.dirs[0]
}

func (r Roots) Contains(path string) bool {
	return withinRoots(path, r.dirs)
}

// Resolve 把 path 相对 base 解析为干净的绝对路径，不检查是否在根目录内。
func (r Roots) Resolve(base, path string) string {
	path = expandHome(strings.TrimSpace(path))
	if !filepath.IsAbs(path) {
		if base == "" {
			base = r.Primary()
		}
		path = filepath.Join(base, path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return abs
}

// Check resolves path and reports ErrOutsideRoots when it escapes every root.
func (r Roots) Check(base, path string) (string, error) {
	abs := r.Resolve(base, path)
	if !r.Contains(abs) {
		return abs, fmt.Errorf("%w: %s", ErrOutsideRoots, abs)
	}
	return abs, nil
}

func cleanRoots(roots []string) []string {
	seen := make(map[string]struct{})
	cleaned := make([]string, 0, len(roots))
	for _, r := range roots {
		if strings.TrimSpace(r) == "" {
			continue
		}
		abs, err := filepath.Abs(r)
		if err != nil {
			continue
		}
		abs = filepath.Clean(abs)
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}
		cleaned = append(cleaned, abs)
	}
	return cleaned
}

func withinRoots(path string, roots []string) bool {
	if len(roots) == 0 {
		return true
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	for _, root := range roots {
		rel, err := filepath.Rel(root, abs)
		if err != nil {
			continue
		}
		if rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))) {
			return true
		}
	}
	return false
}
