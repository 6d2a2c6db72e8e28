package authz

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/spf13/cast"
)

// Request carries what a rule may look at: the target ids and whatever state
// the caller loaded for the decision.
type Request struct {
	Resource  Resource
	Action    Action
	ClassID   int64
	TeamID    int64
	ProjectID int64
	Attrs     map[string]any
}

func (r Request) Key() string {
	return RuleKey(r.Resource, r.Action)
}

// Attr returns an attribute, nil when absent.
func (r Request) Attr(key string) any {
	if r.Attrs == nil {
		return nil
	}

	return r.Attrs[key]
}

func (r Request) AttrBool(key string) bool {
	return cast.ToBool(r.Attr(key))
}

func (r Request) AttrInt64(key string) int64 {
	return cast.ToInt64(r.Attr(key))
}

func (r Request) AttrString(key string) string {
	return cast.ToString(r.Attr(key))
}

func RuleKey(resource Resource, action Action) string {
	return string(resource) + ":" + string(action)
}

// Predicate decides a rule. Returning an error denies.
type Predicate func(ctx context.Context, actor Actor, req Request) (bool, error)

type rule struct {
	predicate  Predicate
	enabled    bool
	expression string
}

// RuleInfo describes a registered rule.
type RuleInfo struct {
	Key        string `json:"key"`
	Enabled    bool   `json:"enabled"`
	Expression string `json:"expression,omitempty"`
}

// Registry holds the ABAC rules of a process.
type Registry struct {
	mu    sync.RWMutex
	rules map[string]*rule
}

func NewRegistry() *Registry {
	return &Registry{rules: map[string]*rule{}}
}

// Register adds or replaces an enabled rule.
func (r *Registry) Register(key string, p Predicate) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rules[key] = &rule{predicate: p, enabled: true}
}

// RegisterExpr compiles a boolean expression into a rule. The expression sees
// actor.id, actor.role, resource, action, classId, teamId, projectId and attrs.
func (r *Registry) RegisterExpr(key, expression string) error {
	program, err := expr.Compile(expression, expr.Env(exprEnv(Actor{}, Request{})), expr.AsBool())
	if err != nil {
		return fmt.Errorf("compile rule %s: %w", key, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.rules[key] = &rule{
		predicate:  exprPredicate(program),
		enabled:    true,
		expression: expression,
	}

	return nil
}

func exprEnv(actor Actor, req Request) map[string]any {
	attrs := req.Attrs
	if attrs == nil {
		attrs = map[string]any{}
	}

	return map[string]any{
		"actor": map[string]any{
			"id":   actor.ID,
			"role": string(actor.Role),
		},
		"resource":  string(req.Resource),
		"action":    string(req.Action),
		"classId":   req.ClassID,
		"teamId":    req.TeamID,
		"projectId": req.ProjectID,
		"attrs":     attrs,
	}
}

func exprPredicate(program *vm.Program) Predicate {
	return func(_ context.Context, actor Actor, req Request) (bool, error) {
		out, err := expr.Run(program, exprEnv(actor, req))
		if err != nil {
			return false, err
		}

		ok, isBool := out.(bool)
		if !isBool {
			return false, fmt.Errorf("rule returned %T, want bool", out)
		}

		return ok, nil
	}
}

// Enable reports whether the rule exists.
func (r *Registry) Enable(key string) bool {
	return r.setEnabled(key, true)
}

// Disable reports whether the rule exists.
func (r *Registry) Disable(key string) bool {
	return r.setEnabled(key, false)
}

func (r *Registry) setEnabled(key string, enabled bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rl, ok := r.rules[key]
	if ok {
		rl.enabled = enabled
	}

	return ok
}

func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rules = map[string]*rule{}
}

// Rules lists the registered rules sorted by key.
func (r *Registry) Rules() []RuleInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]RuleInfo, 0, len(r.rules))
	for k, rl := range r.rules {
		out = append(out, RuleInfo{Key: k, Enabled: rl.enabled, Expression: rl.expression})
	}

	slices.SortFunc(out, func(a, b RuleInfo) int {
		return strings.Compare(a.Key, b.Key)
	})

	return out
}

// Evaluate runs the rule for req. A missing or disabled rule allows.
func (r *Registry) Evaluate(ctx context.Context, actor Actor, req Request) (bool, error) {
	r.mu.RLock()
	rl, ok := r.rules[req.Key()]

	var (
		predicate Predicate
		enabled   bool
	)

	if ok {
		predicate, enabled = rl.predicate, rl.enabled
	}
	r.mu.RUnlock()

	if !ok || !enabled {
		return true, nil
	}

	return predicate(ctx, actor, req)
}
