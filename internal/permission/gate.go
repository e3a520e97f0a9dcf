package permission

import (
	"context"
	"encoding/json"
	"fmt"

	"coder-cli/internal/agent"
	"coder-cli/internal/config"
	"coder-cli/internal/logger"
	"coder-cli/internal/tools"
)

var log = logger.Named("permission")

type Mode string

const (
	ModeDefault Mode = "default"
	ModeBypass  Mode = "bypass"
)

// Gate 决定一次工具调用能否执行；需要确认时挂起，直到用户作答或查询被取消。
type Gate struct {
	mode     Mode
	grants   *Grants
	prompter Prompter
}

func NewGate(mode Mode, grants *Grants, prompter Prompter) *Gate {
	if grants == nil {
		grants = NewGrants("", config.Project{})
	}
	return &Gate{mode: mode, grants: grants, prompter: prompter}
}

func (g *Gate) Grants() *Grants { return g.grants }

var _ tools.CanUseToolFunc = (*Gate)(nil).Decide

// Decide implements tools.CanUseToolFunc.
func (g *Gate) Decide(ctx context.Context, tool tools.Tool, input json.RawMessage, tctx *tools.Context, _ agent.Message) tools.PermissionResult {
	if tctx.Abort.Signaled() {
		tctx.Abort.Signal(tctx.Abort.Cause())
		return tools.PermissionResult{Message: agent.CancelMessage}
	}
	if g.mode == ModeBypass || !tool.NeedsPermissions(input) {
		return tools.PermissionResult{Allowed: true}
	}
	if g.grants.Allows(tool, input) {
		log.WithField("tool", tool.Name()).Debug("allowed by standing grant")
		return tools.PermissionResult{Allowed: true}
	}
	if g.prompter == nil {
		return tools.PermissionResult{Message: agent.RejectMessage}
	}

	req := NewRequest(tool.Name(), describeTool(tool, input), input)
	req.Rule = SuggestRule(tool, input)
	if cp, ok := tool.(tools.CommandPrefixer); ok {
		req.Command, _ = cp.CommandOf(input)
	}
	g.prompter.Prompt(ctx, req)

	select {
	case <-req.Done():
	case <-tctx.Abort.Done():
		req.Abort()
	case <-ctx.Done():
		req.Abort()
	}

	d := req.Decision()
	log.WithField("tool", tool.Name()).WithField("request", req.ID).Infof("permission %s scope=%s", d.Outcome, d.Scope)
	switch d.Outcome {
	case OutcomeAllowed:
		if err := g.grants.Record(req.Rule, d.Scope); err != nil {
			log.Warnf("record grant: %v", err)
		}
		return tools.PermissionResult{Allowed: true}
	case OutcomeAborted:
		tctx.Abort.Signal(tools.ErrAborted)
		return tools.PermissionResult{Message: agent.RejectMessage}
	default:
		return tools.PermissionResult{Message: agent.RejectMessage}
	}
}

func describeTool(tool tools.Tool, input json.RawMessage) string {
	if d, ok := tool.(tools.PermissionDescriber); ok {
		return d.PermissionDescription(input)
	}
	return fmt.Sprintf("%s(%s)", tool.Name(), string(input))
}
