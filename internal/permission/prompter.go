package permission

import (
	"context"

	"coder-cli/internal/events"
)

// Prompter 把确认请求交给界面层。它不应阻塞；结果通过 Request 的回调返回。
type Prompter interface {
	Prompt(ctx context.Context, req *Request)
}

type FuncPrompter func(ctx context.Context, req *Request)

func (f FuncPrompter) Prompt(ctx context.Context, req *Request) { f(ctx, req) }

// BusPrompter publishes each *Request on the bus; a subscriber resolves it.
type BusPrompter struct {
	Bus *events.Bus
}

func (p BusPrompter) Prompt(_ context.Context, req *Request) {
	if p.Bus == nil {
		req.Reject()
		return
	}
	p.Bus.Publish(req)
}
