// Package intent decides whether a request is in scope for the pipeline.
package intent

import (
	"strings"
)

// Default gate configuration.
var (
	DefaultKeywords       = []string{"book", "schedule", "appointment", "follow-up"}
	DefaultAllowedActions = []string{"Appointment booking", "Follow-up scheduling", "Insurance eligibility checks"}
)

// DefaultRefusalReason is returned for out-of-scope input.
const DefaultRefusalReason = "Input is not a clinical or operational request."

// Matcher reports whether text expresses an in-scope intent. A classifier
// can replace the keyword matcher by implementing this interface.
type Matcher interface {
	Match(text string) bool
}

// KeywordMatcher matches when the text contains any keyword, ignoring case.
type KeywordMatcher struct {
	keywords []string
}

// NewKeywordMatcher lower-cases and trims keywords; blanks are dropped.
func NewKeywordMatcher(keywords []string) *KeywordMatcher {
	m := &KeywordMatcher{}
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			m.keywords = append(m.keywords, k)
		}
	}
	return m
}

// Match implements Matcher.
func (m *KeywordMatcher) Match(text string) bool {
	lower := strings.ToLower(text)
	for _, k := range m.keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// Decision is the outcome of Classify.
type Decision struct {
	Allowed        bool     `json:"allowed"`
	Reason         string   `json:"reason,omitempty"`
	AllowedActions []string `json:"allowed_actions,omitempty"`
}

// Config configures a Gate. Zero fields take the defaults above.
type Config struct {
	Keywords       []string
	AllowedActions []string
	RefusalReason  string
	// Matcher overrides the keyword matcher when set.
	Matcher Matcher
}

// Gate classifies requests. It has no side effects: refusals are audited
// by the caller.
type Gate struct {
	matcher Matcher
	actions []string
	reason  string
}

// New creates a Gate.
func New(cfg Config) *Gate {
	g := &Gate{
		matcher: cfg.Matcher,
		actions: cfg.AllowedActions,
		reason:  cfg.RefusalReason,
	}
	if g.matcher == nil {
		kw := cfg.Keywords
		if len(kw) == 0 {
			kw = DefaultKeywords
		}
		g.matcher = NewKeywordMatcher(kw)
	}
	if len(g.actions) == 0 {
		g.actions = DefaultAllowedActions
	}
	if g.reason == "" {
		g.reason = DefaultRefusalReason
	}
	return g
}

// Classify returns ALLOWED, or REFUSED with the reason and the categories
// the system does handle.
func (g *Gate) Classify(text string) Decision {
	if g.matcher.Match(text) {
		return Decision{Allowed: true}
	}
	return Decision{
		Reason:         g.reason,
		AllowedActions: append([]string(nil), g.actions...),
	}
}
