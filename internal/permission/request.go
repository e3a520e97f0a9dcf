package permission

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Scope string

const (
	ScopeOnce      Scope = "once"
	ScopeSession   Scope = "session"
	ScopePermanent Scope = "permanent"
)

type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeAllowed
	OutcomeRejected
	OutcomeAborted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAllowed:
		return "allowed"
	case OutcomeRejected:
		return "rejected"
	case OutcomeAborted:
		return "aborted"
	}
	return "pending"
}

type Decision struct {
	Outcome Outcome
	Scope   Scope
}

// Request 是一次待确认的工具调用。Allow、Reject、Abort 三个回调中只有第一个生效。
type Request struct {
	ID          string
	ToolName    string
	Description string
	Input       json.RawMessage
	Command     string
	// Rule 是选择 session/permanent 时会被记录的授权规则。
	Rule      string
	CreatedAt time.Time

	once     sync.Once
	done     chan struct{}
	decision Decision
}

func NewRequest(toolName, description string, input json.RawMessage) *Request {
	return &Request{
		ID:          uuid.NewString(),
		ToolName:    toolName,
		Description: description,
		Input:       input,
		CreatedAt:   time.Now(),
		done:        make(chan struct{}),
	}
}

// Allow resolves the request as granted; it returns false when the request
// was already resolved.
func (r *Request) Allow(scope Scope) bool {
	if scope == "" {
		scope = ScopeOnce
	}
	return r.resolve(Decision{Outcome: OutcomeAllowed, Scope: scope})
}

func (r *Request) Reject() bool {
	return r.resolve(Decision{Outcome: OutcomeRejected})
}

// Abort 拒绝本次调用并要求取消整个查询。
func (r *Request) Abort() bool {
	return r.resolve(Decision{Outcome: OutcomeAborted})
}

func (r *Request) Done() <-chan struct{} { return r.done }

// Decision returns the resolution, or OutcomePending before Done is closed.
func (r *Request) Decision() Decision {
	select {
	case <-r.done:
		return r.decision
	default:
		return Decision{}
	}
}

func (r *Request) resolve(d Decision) bool {
	resolved := false
	r.once.Do(func() {
		r.decision = d
		close(r.done)
		resolved = true
	})
	return resolved
}
