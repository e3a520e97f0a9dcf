package tools

import (
	"sort"
	"strings"
	"sync"

	"coder-cli/internal/agent"

	"github.com/sahilm/fuzzy"
)

// Registry 持有一个会话可用的工具列表，按注册顺序暴露给模型。
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// Register adds or replaces a tool by name.
func (r *Registry) Register(t Tool) {
	if t == nil || strings.TrimSpace(t.Name()) == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; !exists {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
}

func (r *Registry) Lookup(name string) (Tool, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

func (r *Registry) All() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Descriptors 返回发送给模型的工具定义。
func (r *Registry) Descriptors() []agent.ToolDescriptor {
	all := r.All()
	out := make([]agent.ToolDescriptor, 0, len(all))
	for _, t := range all {
		out = append(out, agent.ToolDescriptor{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
		})
	}
	return out
}

// Suggest 为未知工具名给出最接近的已注册名称，没有候选时返回空串。
func (r *Registry) Suggest(name string) string {
	if r == nil || strings.TrimSpace(name) == "" {
		return ""
	}
	names := r.Names()
	for _, n := range names {
		if strings.EqualFold(n, name) {
			return n
		}
	}
	matches := fuzzy.Find(name, names)
	if len(matches) == 0 {
		return ""
	}
	sort.Stable(matches)
	return matches[0].Str
}
