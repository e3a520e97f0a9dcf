package instructions

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const (
	// ProjectDocFilename 是仓库级说明文件名称。
	ProjectDocFilename = "CODER.md"
	// ProjectOverrideFilename 存在时取代同目录下的 CODER.md。
	ProjectOverrideFilename = "CODER.override.md"
)

// Discover reads ~/.coder/CODER.md followed by the directory chain from the
// filesystem root down to workdir.
func Discover(workdir string) string {
	home, _ := os.UserHomeDir()
	return DiscoverFrom(home, workdir)
}

// DiscoverFrom 与 Discover 相同，但全局说明从 home 下读取。
func DiscoverFrom(home, workdir string) string {
	var parts []string
	add := func(path string) bool {
		data, err := os.ReadFile(path)
		if err != nil {
			return false
		}
		if text := strings.TrimSpace(string(data)); text != "" {
			parts = append(parts, text)
		}
		return true
	}

	if home != "" {
		add(filepath.Join(home, ".coder", ProjectDocFilename))
	}

	dir := workdir
	if dir == "" {
		dir, _ = os.Getwd()
	}
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}

	var chain []string
	prev := ""
	for dir != prev && dir != string(filepath.Separator) {
		chain = append(chain, dir)
		prev = dir
		dir = filepath.Dir(dir)
	}
	// 自顶向下，越靠近 workdir 的越晚出现。
	for i := len(chain) - 1; i >= 0; i-- {
		curr := chain[i]
		if add(filepath.Join(curr, ProjectOverrideFilename)) {
			continue
		}
		add(filepath.Join(curr, ProjectDocFilename))
	}

	return strings.Join(parts, "\n\n")
}

// Context builds the extra context map handed to the orchestrator.
func Context(workdir string) map[string]string {
	home, _ := os.UserHomeDir()
	return contextFrom(home, workdir)
}

func contextFrom(home, workdir string) map[string]string {
	if workdir == "" {
		workdir, _ = os.Getwd()
	}
	out := map[string]string{
		"cwd":      workdir,
		"platform": runtime.GOOS + "/" + runtime.GOARCH,
	}
	if doc := DiscoverFrom(home, workdir); doc != "" {
		out["instructions"] = doc
	}
	return out
}
