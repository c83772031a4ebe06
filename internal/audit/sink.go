package audit

import (
	"errors"
	"sync"

	"github.com/ppiankov/carewatch/internal/model"
)

// Sink is the append-only contract the dispatcher writes to.
// A successful Record guarantees the event is appended before Record returns.
// There is no read API: auditing is write-only from the pipeline's side.
type Sink interface {
	Record(ev model.AuditEvent) error
	Close() error
}

// Multi fans an event out to several sinks in order. Every sink is attempted;
// the returned error joins all failures.
type Multi []Sink

// Record appends ev to every sink.
func (m Multi) Record(ev model.AuditEvent) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Memory keeps events in process. Used by scenario checks and tests.
type Memory struct {
	mu     sync.Mutex
	events []model.AuditEvent
	// FailWith, when set, makes every Record fail with this error.
	FailWith error
}

// NewMemory returns an empty in-memory sink.
func NewMemory() *Memory {
	return &Memory{}
}

// Record appends ev unless FailWith is set.
func (m *Memory) Record(ev model.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	m.events = append(m.events, ev)
	return nil
}

// Events returns a copy of everything recorded so far.
func (m *Memory) Events() []model.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.AuditEvent, len(m.events))
	copy(out, m.events)
	return out
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

// Discard drops every event. Used when no audit destination is configured.
type Discard struct{}

func (Discard) Record(model.AuditEvent) error { return nil }
func (Discard) Close() error                  { return nil }
