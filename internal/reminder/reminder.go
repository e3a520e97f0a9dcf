package reminder

import (
	"strings"
	"sync"

	"coder-cli/internal/prompts"
)

type Kind string

const (
	KindFileChanged Kind = "file_changed"
	KindNote        Kind = "note"
)

// Reminder 是在下一轮模型调用前注入给模型的一条提示。
// Key 非空时，同一 Key 在被消费前只保留最新一条。
type Reminder struct {
	Kind Kind
	Key  string
	Text string
}

// Service 是待注入提示的队列，可被多个 goroutine 并发写入。
type Service struct {
	mu      sync.Mutex
	pending []Reminder
}

func NewService() *Service {
	return &Service{}
}

func (s *Service) Add(r Reminder) {
	if strings.TrimSpace(r.Text) == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.Key != "" {
		for i, p := range s.pending {
			if p.Key == r.Key {
				s.pending[i] = r
				return
			}
		}
	}
	s.pending = append(s.pending, r)
}

// Drain returns and clears the pending reminders in insertion order.
func (s *Service) Drain() []Reminder {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.pending
	s.pending = nil
	return out
}

func (s *Service) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Format 把提示包进 <system-reminder> 标签；没有提示时返回空串。
func Format(reminders []Reminder) string {
	if len(reminders) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(prompts.Get(prompts.PromptReminderHeader)))
	for _, r := range reminders {
		sb.WriteString("\n<system-reminder>\n")
		sb.WriteString(strings.TrimSpace(r.Text))
		sb.WriteString("\n</system-reminder>")
	}
	return sb.String()
}
