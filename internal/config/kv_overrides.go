package config

import (
	"strconv"
	"strings"
)

// ApplyKVOverrides applies free-form -c key=value overrides.
func ApplyKVOverrides(cfg Config, overrides []string) Config {
	if len(overrides) == 0 {
		return cfg
	}
	for _, raw := range overrides {
		parts := strings.SplitN(raw, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		switch key {
		case "provider":
			cfg.Provider = val
		case "url":
			cfg.URL = val
		case "token":
			cfg.Token = val
		case "model":
			cfg.Model = val
		case "small_model":
			cfg.SmallModel = val
		case "shell":
			cfg.Shell = val
		case "shell_timeout":
			cfg.ShellTimeout = val
		case "permission_mode":
			cfg.PermissionMode = val
		case "log_level":
			cfg.LogLevel = val
		case "language":
			cfg.Language = val
		case "max_tool_concurrency":
			if n, err := strconv.Atoi(val); err == nil {
				cfg.MaxToolConcurrency = n
			}
		case "max_thinking_tokens":
			if n, err := strconv.Atoi(val); err == nil {
				cfg.MaxThinkingTokens = n
			}
		case "context_window":
			if n, err := strconv.ParseInt(val, 10, 64); err == nil {
				cfg.ContextWindow = n
			}
		}
	}
	return cfg
}
