package tracer

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestIDShapes(t *testing.T) {
	trace := NewTraceID()
	if !strings.HasPrefix(trace, "t-") || len(trace) != 14 {
		t.Fatalf("unexpected trace id %q", trace)
	}
	span := NewSpanID()
	if !strings.HasPrefix(span, "s-") || len(span) != 10 {
		t.Fatalf("unexpected span id %q", span)
	}
}

func TestIDsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewSpanID()
		if seen[id] {
			t.Fatalf("duplicate span id %s after %d draws", id, i)
		}
		seen[id] = true
	}
}

func TestUTCNowISOParses(t *testing.T) {
	if _, err := time.Parse(TimestampFormat, UTCNowISO()); err != nil {
		t.Fatalf("timestamp does not round-trip: %v", err)
	}
}

func TestTraceIDContext(t *testing.T) {
	ctx := context.Background()
	if got := TraceIDFrom(ctx); got != "" {
		t.Fatalf("expected empty trace id, got %q", got)
	}
	ctx = WithTraceID(ctx, "t-abc")
	if got := TraceIDFrom(ctx); got != "t-abc" {
		t.Fatalf("expected t-abc, got %q", got)
	}
}
