package context

import (
	"os"
	"strconv"
	"strings"
)

const defaultContextWindow int64 = 200_000

// ContextWindowForModel 尝试推导模型的上下文窗口（tokens）。
// 优先读取环境变量 `CODER_MODEL_CONTEXT_WINDOW`（若存在）。
func ContextWindowForModel(model string) (int64, bool) {
	if v := strings.TrimSpace(os.Getenv("CODER_MODEL_CONTEXT_WINDOW")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			return n, true
		}
	}

	slug := strings.ToLower(strings.TrimSpace(model))
	if slug == "" {
		return 0, false
	}

	switch slug {
	case "gpt-4o", "gpt-4o-mini":
		return 128_000, true
	case "gpt-4.1", "gpt-4.1-mini":
		return 1_047_576, true
	case "gpt-3.5-turbo":
		return 16_385, true
	}

	switch {
	case strings.HasPrefix(slug, "claude-"):
		return defaultContextWindow, true
	case strings.HasPrefix(slug, "o3"), strings.HasPrefix(slug, "o4"):
		return 200_000, true
	case strings.HasPrefix(slug, "gpt-5"):
		return 272_000, true
	}
	return 0, false
}

// WindowOrDefault falls back to the Claude window when the model is unknown.
func WindowOrDefault(model string, override int64) int64 {
	if override > 0 {
		return override
	}
	if n, ok := ContextWindowForModel(model); ok {
		return n
	}
	return defaultContextWindow
}

// AutoCompactLimit is the token count past which a turn compacts first.
func AutoCompactLimit(contextWindow int64) int64 {
	if contextWindow <= 0 {
		return 0
	}
	return (contextWindow * 9) / 10
}
