package rules

import (
	"fmt"
	"regexp"

	"github.com/kanapal/kanapal/internal/config"
	"github.com/kanapal/kanapal/internal/wm"
)

// Matcher holds the compiled class and title constraints of one rule.
// A nil constraint matches anything.
type Matcher struct {
	class *regexp.Regexp
	title *regexp.Regexp
}

// NewMatcher compiles the rule's pattern fields. The wildcard "*" and
// absent/false/null fields compile to no constraint at all.
func NewMatcher(class, title config.OptionalString) (Matcher, error) {
	classRe, err := compilePattern("class", class)
	if err != nil {
		return Matcher{}, err
	}
	titleRe, err := compilePattern("title", title)
	if err != nil {
		return Matcher{}, err
	}
	return Matcher{class: classRe, title: titleRe}, nil
}

func compilePattern(field string, opt config.OptionalString) (*regexp.Regexp, error) {
	if opt.Wildcard() {
		return nil, nil
	}
	re, err := regexp.Compile(opt.Value)
	if err != nil {
		return nil, fmt.Errorf("%s pattern %q: %w", field, opt.Value, err)
	}
	return re, nil
}

// Matches reports whether every present constraint is satisfied. Matching is
// unanchored ("contains" semantics) and case-sensitive; ^ and $ anchor as
// usual.
func (m Matcher) Matches(win wm.Window) bool {
	if m.class != nil && !m.class.MatchString(win.Class) {
		return false
	}
	if m.title != nil && !m.title.MatchString(win.Title) {
		return false
	}
	return true
}

// CatchAll reports whether the matcher has no constraints.
func (m Matcher) CatchAll() bool {
	return m.class == nil && m.title == nil
}
