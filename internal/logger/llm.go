package logger

import (
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// LLMMessage 表示一次请求中的对话消息。
type LLMMessage struct {
	Role    string
	Content string
}

// LLMLogger 负责输出与 LLM 交互的请求、响应与错误信息。
type LLMLogger interface {
	Request(model string, messages []LLMMessage, tools int)
	Response(model string, content string, usage string)
	Error(model string, err error)
}

var (
	llmMu  sync.RWMutex
	llmLog LLMLogger = NewLLMLogger(nil)
)

// GlobalLLMLogger 返回全局唯一的 LLM 日志实例。
func GlobalLLMLogger() LLMLogger {
	llmMu.RLock()
	defer llmMu.RUnlock()
	return llmLog
}

// SetGlobalLLMLogger 覆盖全局 LLM 日志实例，传入 nil 将重置为默认实现。
func SetGlobalLLMLogger(l LLMLogger) {
	if l == nil {
		l = NewLLMLogger(nil)
	}
	llmMu.Lock()
	llmLog = l
	llmMu.Unlock()
}

// StdLLMLogger 使用 logrus 输出日志。
type StdLLMLogger struct {
	entry *logrus.Entry
}

// NewLLMLogger 构造默认的 LLM 日志记录器；entry 为空时写入全局 logger。
func NewLLMLogger(entry *LogEntry) *StdLLMLogger {
	if entry == nil {
		entry = Named("llm")
	}
	return &StdLLMLogger{entry: entry}
}

func (l *StdLLMLogger) Request(model string, messages []LLMMessage, tools int) {
	l.printf(logrus.InfoLevel, "-> request model=%s messages=%d tools=%d", model, len(messages), tools)
	for i, msg := range messages {
		l.printf(logrus.DebugLevel, "-> message[%d] role=%s content=%s", i, msg.Role, sanitize(msg.Content))
	}
}

func (l *StdLLMLogger) Response(model string, content string, usage string) {
	l.printf(logrus.InfoLevel, "<- response model=%s usage=%s text=%s", model, usage, sanitize(content))
}

func (l *StdLLMLogger) Error(model string, err error) {
	l.printf(logrus.ErrorLevel, "!! error model=%s err=%v", model, err)
}

// NoopLLMLogger 忽略所有日志输出。
type NoopLLMLogger struct{}

func (NoopLLMLogger) Request(string, []LLMMessage, int) {}
func (NoopLLMLogger) Response(string, string, string)   {}
func (NoopLLMLogger) Error(string, error)               {}

func (l *StdLLMLogger) printf(level logrus.Level, format string, args ...any) {
	if l == nil || l.entry == nil {
		return
	}
	if !l.entry.Logger.IsLevelEnabled(level) {
		return
	}
	entry := l.entry
	if caller := findCaller(); caller != "" {
		entry = entry.WithField("caller", caller)
	}
	entry.Log(level, fmt.Sprintf(format, args...))
}

func sanitize(text string) string {
	text = strings.ReplaceAll(text, "\n", `\n`)
	text = strings.ReplaceAll(text, "\r", `\r`)
	return text
}

func findCaller() string {
	pcs := make([]uintptr, 16)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if frame.File != "" && !strings.HasSuffix(frame.File, "logger/llm.go") {
			return fmt.Sprintf("%s:%d", shortenFilePath(frame.File), frame.Line)
		}
		if !more {
			break
		}
	}
	return ""
}
