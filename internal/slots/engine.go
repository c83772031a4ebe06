// Package slots decides whether a request carries every parameter the
// workflow needs, and asks for what is missing.
package slots

import (
	"fmt"
	"time"
)

// Slot kinds accepted in configuration.
const (
	KindRoster  = "roster"
	KindKeyword = "keyword"
	KindDate    = "date"
)

// Slot is one required piece of information.
type Slot struct {
	Name     string
	Question string
	Detector Detector
}

// Spec is the configuration form of a Slot.
type Spec struct {
	Name     string            `yaml:"name" json:"name"`
	Kind     string            `yaml:"kind" json:"kind"`
	Question string            `yaml:"question" json:"question"`
	Values   map[string]string `yaml:"values,omitempty" json:"values,omitempty"`
}

// DefaultSpecs reproduce the booking questions in their fixed order.
func DefaultSpecs() []Spec {
	return []Spec{
		{Name: "patient", Kind: KindRoster, Question: "What is the patient's full name?"},
		{Name: "department", Kind: KindKeyword, Question: "Which department or specialty is the appointment for?",
			Values: map[string]string{"cardiology": "Cardiology", "neurology": "Neurology", "orthopedic": "Orthopedic"}},
		{Name: "time", Kind: KindDate, Question: "When would you like to schedule the appointment?"},
	}
}

// Build turns specs into slots. The roster feeds roster slots; now is the
// clock for date slots.
func Build(specs []Spec, roster []string, now func() time.Time) ([]Slot, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("slots: at least one slot is required")
	}
	// Keyword triggers may sit next to a lone patient name.
	var triggers []string
	for _, s := range specs {
		for kw := range s.Values {
			triggers = append(triggers, kw)
		}
	}

	seen := make(map[string]bool, len(specs))
	out := make([]Slot, 0, len(specs))
	for _, s := range specs {
		if s.Name == "" || seen[s.Name] {
			return nil, fmt.Errorf("slots: empty or duplicate slot name %q", s.Name)
		}
		if s.Question == "" {
			return nil, fmt.Errorf("slots: slot %q has no question", s.Name)
		}
		seen[s.Name] = true

		var det Detector
		switch s.Kind {
		case KindRoster:
			det = NewRoster(roster, triggers...)
		case KindKeyword:
			if len(s.Values) == 0 {
				return nil, fmt.Errorf("slots: keyword slot %q has no values", s.Name)
			}
			det = NewKeywords(s.Values)
		case KindDate:
			det = NewDates(now)
		default:
			return nil, fmt.Errorf("slots: slot %q has unknown kind %q", s.Name, s.Kind)
		}
		out = append(out, Slot{Name: s.Name, Question: s.Question, Detector: det})
	}
	return out, nil
}

// Result is READY (Resolved holds every slot) or NEEDS_MORE_INFO
// (Questions lists the missing slots in declaration order).
type Result struct {
	Ready     bool
	Resolved  map[string]string
	Questions []string
	Missing   []string
}

// Engine evaluates text against an ordered list of slots.
type Engine struct {
	slots []Slot
}

// NewEngine creates an engine over slots.
func NewEngine(slots []Slot) *Engine {
	return &Engine{slots: append([]Slot(nil), slots...)}
}

// Names returns the slot names in declaration order.
func (e *Engine) Names() []string {
	names := make([]string, len(e.slots))
	for i, s := range e.slots {
		names[i] = s.Name
	}
	return names
}

// Evaluate resolves every slot it can from text.
func (e *Engine) Evaluate(text string) Result {
	res := Result{Resolved: make(map[string]string, len(e.slots))}
	for _, s := range e.slots {
		if v, ok := s.Detector.Detect(text); ok {
			res.Resolved[s.Name] = v
			continue
		}
		res.Questions = append(res.Questions, s.Question)
		res.Missing = append(res.Missing, s.Name)
	}
	res.Ready = len(res.Questions) == 0
	return res
}
