package tools

import (
	"encoding/json"
	"io"
	"strings"
	"sync"
	"time"

	"coder-cli/internal/agent"
	"coder-cli/internal/logger"
)

var (
	toolsLog           = logger.Named("tools")
	toolsLogConfigured bool
	toolsLogMu         sync.Mutex
	toolsLogCloser     io.Closer
	toolsLogPath       string
)

// SetupToolsLog 配置工具调用专用日志，返回文件 closer 及实际路径。
// 若 logPath 为空，则使用 logger.DefaultToolsLogPath。多次调用只会在首次生效。
func SetupToolsLog(logPath string) (io.Closer, string, error) {
	toolsLogMu.Lock()
	defer toolsLogMu.Unlock()

	if toolsLogConfigured {
		return toolsLogCloser, toolsLogPath, nil
	}
	if logPath == "" {
		logPath = logger.DefaultToolsLogPath
	}

	entry, closer, resolved, err := logger.SetupComponentFile("tools", logPath)
	toolsLogConfigured = true
	toolsLogPath = resolved
	if err != nil {
		return nil, resolved, err
	}
	toolsLog = entry
	toolsLogCloser = closer
	return closer, resolved, nil
}

// CloseToolsLog 关闭工具日志文件句柄（如已初始化）。
func CloseToolsLog() {
	toolsLogMu.Lock()
	defer toolsLogMu.Unlock()
	if toolsLogCloser != nil {
		_ = toolsLogCloser.Close()
		toolsLogCloser = nil
	}
}

func currentToolsLog() *logger.LogEntry {
	toolsLogMu.Lock()
	defer toolsLogMu.Unlock()
	return toolsLog
}

func logToolRequest(use agent.ToolUse, recognized bool) {
	status := "received"
	if !recognized {
		status = "unknown"
	}
	currentToolsLog().Infof("tool_call id=%s name=%s status=%s payload=%s",
		use.ID, use.Name, status, sanitizeForLog(use.Input))
}

func logToolResult(use agent.ToolUse, status string, isError bool, text string, elapsed time.Duration) {
	currentToolsLog().Infof("tool_result id=%s name=%s status=%s error=%t elapsed=%s output=%s",
		use.ID, use.Name, status, isError, elapsed.Round(time.Millisecond), previewForLog(text, 500))
}

func sanitizeForLog(raw json.RawMessage) string {
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return "(empty)"
	}
	text = strings.ReplaceAll(text, "\n", `\n`)
	text = strings.ReplaceAll(text, "\r", `\r`)
	return text
}

func previewForLog(text string, limit int) string {
	text = sanitizeForLog(json.RawMessage(text))
	if r := []rune(text); len(r) > limit {
		return string(r[:limit]) + "…"
	}
	return text
}
