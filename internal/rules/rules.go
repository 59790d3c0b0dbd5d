package rules

import (
	"fmt"

	"github.com/kanapal/kanapal/internal/config"
	"github.com/kanapal/kanapal/internal/wm"
)

// Action is a resolved outcome of rule evaluation: a layer switch (when
// HasLayer is set), plus any side effects attached to the matched rule.
type Action struct {
	// Rule is the 1-based position of the matched rule; 0 for the implicit
	// base layer fallback.
	Rule     int
	Layer    string
	HasLayer bool
	Cmd      string
	FakeKey  *config.FakeKey
	SetMouse *config.MousePos
}

// HasSideEffects reports whether the action carries one-shot effects that
// must run on every occurrence, independent of layer state.
func (a *Action) HasSideEffects() bool {
	return a.Cmd != "" || a.FakeKey != nil || a.SetMouse != nil
}

// Label names the action's origin for logs and counters.
func (a *Action) Label() string {
	if a.Rule == 0 {
		return "base-layer"
	}
	return fmt.Sprintf("rule#%d", a.Rule)
}

// Signature is an opaque description of the action used for duplicate
// diagnostics.
func (a *Action) Signature() string {
	layer := "<none>"
	if a.HasLayer {
		layer = a.Layer
	}
	return fmt.Sprintf("%s layer=%s cmd=%t fake_key=%t set_mouse=%t",
		a.Label(), layer, a.Cmd != "", a.FakeKey != nil, a.SetMouse != nil)
}

type compiledRule struct {
	matcher Matcher
	action  Action
}

// Ruleset is the ordered, compiled rule list. Resolution is a pure function
// of (window, ruleset).
type Ruleset struct {
	baseLayer string
	rules     []compiledRule
}

// Compile builds a Ruleset from a validated configuration.
func Compile(cfg *config.Config) (*Ruleset, error) {
	rs := &Ruleset{baseLayer: cfg.BaseLayer}
	for i, r := range cfg.Rules {
		matcher, err := NewMatcher(r.Class, r.Title)
		if err != nil {
			return nil, fmt.Errorf("rule #%d: %w", i+1, err)
		}
		action := Action{
			Rule:     i + 1,
			Layer:    r.Layer.Value,
			HasLayer: r.Layer.Set,
			Cmd:      r.Cmd.Value,
			FakeKey:  r.FakeKey,
			SetMouse: r.SetMouse,
		}
		rs.rules = append(rs.rules, compiledRule{matcher: matcher, action: action})
	}
	return rs, nil
}

// Resolve returns the first matching rule's action, in list order. An early
// catch-all shadows everything below it; that is documented behavior, not a
// bug. When no rule matches, the configured base layer acts as an implicit
// terminal catch-all with no side effects. Returns nil when there is nothing
// to do at all.
func (rs *Ruleset) Resolve(win wm.Window) *Action {
	for i := range rs.rules {
		if rs.rules[i].matcher.Matches(win) {
			action := rs.rules[i].action
			return &action
		}
	}
	if rs.baseLayer == "" {
		return nil
	}
	return &Action{Layer: rs.baseLayer, HasLayer: true}
}

// Len returns the number of explicit rules.
func (rs *Ruleset) Len() int {
	return len(rs.rules)
}

// BaseLayer returns the implicit fallback layer, if any.
func (rs *Ruleset) BaseLayer() string {
	return rs.baseLayer
}
