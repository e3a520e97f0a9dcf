package prompts

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var builtinYAML []byte

// Name 表示内置提示词的唯一标识。
type Name string

const (
	PromptCore                 Name = "core"
	PromptCompact              Name = "compact"
	PromptCompactSummaryPrefix Name = "compact_summary_prefix"
	PromptCompactAck           Name = "compact_ack"
	PromptReminderHeader       Name = "reminder_header"
	PromptToolBash             Name = "tool_bash"
	PromptToolGlob             Name = "tool_glob"
	PromptToolGrep             Name = "tool_grep"
	PromptToolView             Name = "tool_view"
	PromptToolLS               Name = "tool_ls"
	PromptToolWrite            Name = "tool_write"
)

var (
	mu      sync.RWMutex
	catalog = mustParse(builtinYAML)
)

func mustParse(data []byte) map[Name]string {
	out, err := parse(data)
	if err != nil {
		panic(fmt.Sprintf("load builtin prompts: %v", err))
	}
	return out
}

func parse(data []byte) (map[Name]string, error) {
	raw := map[string]string{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	out := make(map[Name]string, len(raw))
	for k, v := range raw {
		out[Name(k)] = strings.TrimSpace(v)
	}
	return out, nil
}

// Builtin 返回指定名称的提示词文本。
func Builtin(name Name) (string, bool) {
	mu.RLock()
	defer mu.RUnlock()
	text, ok := catalog[name]
	return text, ok
}

// Get is Builtin without the presence flag.
func Get(name Name) string {
	text, _ := Builtin(name)
	return text
}

// Builtins 返回提示词的拷贝，便于统一管理与调试。
func Builtins() map[Name]string {
	mu.RLock()
	defer mu.RUnlock()
	out := make(map[Name]string, len(catalog))
	for k, v := range catalog {
		out[k] = v
	}
	return out
}

// LoadOverrides 读取磁盘上的 YAML 覆盖文件（如 ~/.coder/prompts.yaml），
// 仅替换文件中出现的条目；文件不存在时返回 nil。
func LoadOverrides(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	overrides, err := parse(data)
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	mu.Lock()
	defer mu.Unlock()
	for k, v := range overrides {
		if v != "" {
			catalog[k] = v
		}
	}
	return nil
}

// Reset restores the embedded catalogue.
func Reset() {
	mu.Lock()
	catalog = mustParse(builtinYAML)
	mu.Unlock()
}
