package permission

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"coder-cli/internal/config"
	"coder-cli/internal/tools"
)

// Grants 保存长期授权：session 范围只在内存中，permanent 范围写回项目配置。
type Grants struct {
	mu      sync.Mutex
	session map[string]struct{}
	project config.Project
	workdir string
}

// NewGrants seeds permanent rules from project; workdir "" keeps them in memory.
func NewGrants(workdir string, project config.Project) *Grants {
	return &Grants{session: map[string]struct{}{}, project: project, workdir: workdir}
}

// LoadGrants reads the project config of workdir.
func LoadGrants(workdir string) (*Grants, error) {
	p, err := config.LoadProject(workdir)
	if err != nil {
		return nil, err
	}
	return NewGrants(workdir, p), nil
}

func (g *Grants) Record(rule string, scope Scope) error {
	rule = strings.TrimSpace(rule)
	if rule == "" || scope == ScopeOnce {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if scope == ScopeSession {
		g.session[rule] = struct{}{}
		return nil
	}
	if !g.project.Allow(rule) || g.workdir == "" {
		return nil
	}
	if err := config.SaveProject(g.workdir, g.project); err != nil {
		return fmt.Errorf("persist grant %s: %w", rule, err)
	}
	return nil
}

func (g *Grants) Rules() []string {
	set := g.snapshot()
	out := make([]string, 0, len(set))
	for r := range set {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

func (g *Grants) snapshot() map[string]struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	set := make(map[string]struct{}, len(g.session)+len(g.project.AllowedTools))
	for r := range g.session {
		set[r] = struct{}{}
	}
	for _, r := range g.project.AllowedTools {
		set[r] = struct{}{}
	}
	return set
}

// Allows 判断已有授权是否覆盖这次调用。命令类工具的复合命令要求每个子命令
// 要么是安全命令，要么被精确规则或前缀规则覆盖。
func (g *Grants) Allows(tool tools.Tool, input json.RawMessage) bool {
	rules := g.snapshot()
	name := tool.Name()
	if _, ok := rules[name]; ok {
		return true
	}
	cp, ok := tool.(tools.CommandPrefixer)
	if !ok {
		return false
	}
	command, ok := cp.CommandOf(input)
	if !ok {
		return false
	}
	if _, ok := rules[ExactRule(name, command)]; ok {
		return true
	}
	subs, err := SplitCommands(command)
	if err != nil || len(subs) == 0 {
		return false
	}
	for _, sc := range subs {
		if IsSafe(sc) {
			continue
		}
		if !subAllowed(name, sc, rules) {
			return false
		}
	}
	return true
}

func subAllowed(name string, sc SubCommand, rules map[string]struct{}) bool {
	if _, ok := rules[ExactRule(name, sc.Text)]; ok {
		return true
	}
	if !sc.Simple {
		return false
	}
	joined := strings.Join(sc.Words, " ")
	for rule := range rules {
		prefix, ok := parsePrefixRule(name, rule)
		if !ok || prefix == "" {
			continue
		}
		if joined == prefix || strings.HasPrefix(joined, prefix+" ") {
			return true
		}
	}
	return false
}

// SuggestRule returns the rule recorded when an invocation is granted beyond
// a single use.
func SuggestRule(tool tools.Tool, input json.RawMessage) string {
	cp, ok := tool.(tools.CommandPrefixer)
	if !ok {
		return tool.Name()
	}
	command, ok := cp.CommandOf(input)
	if !ok {
		return tool.Name()
	}
	if prefix, ok := Prefix(command); ok {
		return PrefixRule(tool.Name(), prefix)
	}
	return ExactRule(tool.Name(), command)
}
