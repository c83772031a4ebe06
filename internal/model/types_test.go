package model

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestParseModeFailsSafe(t *testing.T) {
	cases := map[string]Mode{
		"live":    Live,
		"LIVE":    Live,
		"dry_run": DryRun,
		"":        DryRun,
		"yolo":    DryRun,
	}
	for in, want := range cases {
		if got := ParseMode(in); got != want {
			t.Errorf("ParseMode(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestKindOfClassifiesTypedErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"refusal", &RefusalError{Reason: "off topic"}, KindRefusal},
		{"validation", &ValidationError{Tool: "book_appointment", Param: "slot_id", Reason: "required"}, KindValidation},
		{"not found", &NotFoundError{Name: "nope"}, KindNotFound},
		{"wrapped validation", fmt.Errorf("step: %w", &ValidationError{Tool: "x", Reason: "bad"}), KindValidation},
		{"backend timeout", NewBackendError("search_patient", context.DeadlineExceeded), KindBackendTimeout},
		{"backend cancelled", NewBackendError("search_patient", context.Canceled), KindBackendCancelled},
		{"backend plain", NewBackendError("search_patient", errors.New("503")), KindBackend},
		{"audit", &AuditWriteWarning{Event: ToolSelected, Err: errors.New("disk full")}, KindAuditWrite},
		{"bare deadline", context.DeadlineExceeded, KindBackendTimeout},
		{"unknown", errors.New("boom"), KindBackend},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestBackendErrorUnwraps(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewBackendError("find_available_slots", cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected BackendError to unwrap to its cause")
	}
}

func TestDetailOfNil(t *testing.T) {
	if DetailOf(nil) != nil {
		t.Fatal("expected nil detail for nil error")
	}
}

func TestTerminalStatuses(t *testing.T) {
	for _, s := range []Status{Pending, NeedsMoreInfo, Ready, ""} {
		if s.Terminal() {
			t.Errorf("%q should continue the request", s)
		}
	}
	for _, s := range []Status{Refused, Completed, Failed} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
}

func TestPlanViewShape(t *testing.T) {
	r := &DispatchResult{Mode: DryRun, Tool: "search_patient", Arguments: map[string]any{"name": "Ravi Kumar"}}
	view := r.PlanView()
	if view["mode"] != "DRY_RUN" || view["tool"] != "search_patient" {
		t.Fatalf("unexpected plan view: %v", view)
	}
	if len(view) != 3 {
		t.Fatalf("expected exactly mode, tool, arguments; got %v", view)
	}
}
