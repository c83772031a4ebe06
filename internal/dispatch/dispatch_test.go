package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ppiankov/carewatch/internal/audit"
	"github.com/ppiankov/carewatch/internal/model"
	"github.com/ppiankov/carewatch/internal/registry"
	"github.com/ppiankov/carewatch/internal/tracer"
)

type fixture struct {
	d     *Dispatcher
	mem   *audit.Memory
	calls *atomic.Int32
}

func newRegistry(t *testing.T, backend registry.Backend) *registry.Registry {
	t.Helper()
	reg, err := registry.New(registry.Operation{
		Name: "search_patient",
		Params: []registry.Param{
			{Name: "name", Type: registry.TypeString, Rule: "min=2"},
		},
		Backend: backend,
	})
	if err != nil {
		t.Fatal(err)
	}
	return reg
}

func newFixture(t *testing.T, backend registry.Backend, timeout time.Duration) fixture {
	t.Helper()
	var calls atomic.Int32
	counted := func(ctx context.Context, args map[string]any) (any, error) {
		calls.Add(1)
		return backend(ctx, args)
	}
	mem := audit.NewMemory()
	d, err := New(Config{
		Registry: newRegistry(t, counted),
		Recorder: audit.NewRecorder(audit.RecorderConfig{Sink: mem}),
		Timeout:  timeout,
	})
	if err != nil {
		t.Fatal(err)
	}
	return fixture{d: d, mem: mem, calls: &calls}
}

func okBackend(ctx context.Context, args map[string]any) (any, error) {
	return map[string]any{"patient_id": "PAT123", "name": args["name"]}, nil
}

func kinds(events []model.AuditEvent) []model.EventKind {
	out := make([]model.EventKind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

func assertPaired(t *testing.T, events []model.AuditEvent, want ...model.EventKind) {
	t.Helper()
	got := kinds(events)
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, got)
		}
	}
	if events[0].SpanID == "" || events[0].SpanID != events[1].SpanID {
		t.Fatalf("expected shared span id, got %q and %q", events[0].SpanID, events[1].SpanID)
	}
	if events[1].Timestamp.Before(events[0].Timestamp) {
		t.Fatal("completion stamped before selection")
	}
}

func TestLiveDispatchSuccess(t *testing.T) {
	f := newFixture(t, okBackend, time.Second)
	ctx := tracer.WithTraceID(context.Background(), "t-live")

	res, err := f.d.Dispatch(ctx, "search_patient", map[string]any{"name": "Ravi Kumar"}, model.Live)
	if err != nil {
		t.Fatal(err)
	}
	if res.Failed() || res.Mode != model.Live {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Output.(map[string]any)["patient_id"] != "PAT123" {
		t.Errorf("unexpected output %v", res.Output)
	}

	events := f.mem.Events()
	assertPaired(t, events, model.ToolSelected, model.ToolExecuted)
	if events[0].TraceID != "t-live" || events[1].Result == nil {
		t.Errorf("unexpected events %+v", events)
	}
}

func TestLiveDispatchBackendFailureWritesExactlyTwoEvents(t *testing.T) {
	failing := func(ctx context.Context, args map[string]any) (any, error) {
		return nil, errors.New("eligibility service down")
	}
	f := newFixture(t, failing, time.Second)

	res, err := f.d.Dispatch(context.Background(), "search_patient", map[string]any{"name": "Ravi Kumar"}, model.Live)
	if err != nil {
		t.Fatalf("backend failure must not surface as an error: %v", err)
	}
	if res.Error == nil || res.Error.Kind != model.KindBackend || !strings.Contains(res.Error.Detail, "eligibility service down") {
		t.Fatalf("unexpected error detail %+v", res.Error)
	}

	events := f.mem.Events()
	assertPaired(t, events, model.ToolSelected, model.ToolFailed)
	if events[1].Error == nil {
		t.Error("expected TOOL_FAILED to carry error detail")
	}
}

func TestLiveDispatchTimeout(t *testing.T) {
	stuck := func(ctx context.Context, args map[string]any) (any, error) {
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		return nil, ctx.Err()
	}
	f := newFixture(t, stuck, 20*time.Millisecond)

	res, err := f.d.Dispatch(context.Background(), "search_patient", map[string]any{"name": "Ravi Kumar"}, model.Live)
	if err != nil {
		t.Fatal(err)
	}
	if res.Error == nil || res.Error.Kind != model.KindBackendTimeout {
		t.Fatalf("expected backend_timeout, got %+v", res.Error)
	}
	assertPaired(t, f.mem.Events(), model.ToolSelected, model.ToolFailed)
}

func TestLiveDispatchCancelled(t *testing.T) {
	stuck := func(ctx context.Context, args map[string]any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	f := newFixture(t, stuck, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	res, err := f.d.Dispatch(ctx, "search_patient", map[string]any{"name": "Ravi Kumar"}, model.Live)
	if err != nil {
		t.Fatal(err)
	}
	if res.Error == nil || res.Error.Kind != model.KindBackendCancelled {
		t.Fatalf("expected backend_cancelled, got %+v", res.Error)
	}
}

func TestLiveDispatchRecoversPanic(t *testing.T) {
	panicky := func(ctx context.Context, args map[string]any) (any, error) {
		panic("nil map write")
	}
	f := newFixture(t, panicky, time.Second)

	res, err := f.d.Dispatch(context.Background(), "search_patient", map[string]any{"name": "Ravi Kumar"}, model.Live)
	if err != nil {
		t.Fatal(err)
	}
	if res.Error == nil || !strings.Contains(res.Error.Detail, "backend panic") {
		t.Fatalf("expected recovered panic, got %+v", res.Error)
	}
	assertPaired(t, f.mem.Events(), model.ToolSelected, model.ToolFailed)
}

func TestDryRunNeverCallsBackendAndIsRepeatable(t *testing.T) {
	f := newFixture(t, okBackend, time.Second)
	args := map[string]any{"name": "Ravi Kumar"}

	first, err := f.d.Dispatch(context.Background(), "search_patient", args, model.DryRun)
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.d.Dispatch(context.Background(), "search_patient", args, model.DryRun)
	if err != nil {
		t.Fatal(err)
	}

	if f.calls.Load() != 0 {
		t.Fatalf("dry run called the backend %d times", f.calls.Load())
	}
	for _, res := range []*model.DispatchResult{first, second} {
		plan := res.Output.(map[string]any)
		if res.Mode != model.DryRun || plan["mode"] != "DRY_RUN" || plan["tool"] != "search_patient" {
			t.Fatalf("unexpected dry-run result %+v", res)
		}
	}

	events := f.mem.Events()
	if len(events) != 4 {
		t.Fatalf("expected 4 events for two dry runs, got %d", len(events))
	}
	assertPaired(t, events[:2], model.ToolSelected, model.DryRunExecuted)
	assertPaired(t, events[2:], model.ToolSelected, model.DryRunExecuted)
	if events[0].SpanID == events[2].SpanID {
		t.Error("expected distinct span per dispatch")
	}
}

func TestUnknownModeFallsBackToDryRun(t *testing.T) {
	f := newFixture(t, okBackend, time.Second)
	res, err := f.d.Dispatch(context.Background(), "search_patient", map[string]any{"name": "Ravi Kumar"}, model.Mode("SIMULATE"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Mode != model.DryRun || f.calls.Load() != 0 {
		t.Fatalf("expected dry run, got %+v", res)
	}
}

func TestValidationFailureWritesNoEvents(t *testing.T) {
	f := newFixture(t, okBackend, time.Second)

	tests := []struct {
		name string
		tool string
		args map[string]any
		want model.ErrorKind
	}{
		{"missing param", "search_patient", map[string]any{}, model.KindValidation},
		{"undeclared param", "search_patient", map[string]any{"name": "Ravi", "ssn": "x"}, model.KindValidation},
		{"unknown tool", "delete_patient", map[string]any{}, model.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.d.Dispatch(context.Background(), tt.tool, tt.args, model.Live)
			if err == nil || res != nil {
				t.Fatalf("expected error, got %+v", res)
			}
			if kind := model.KindOf(err); kind != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, kind)
			}
		})
	}
	if n := len(f.mem.Events()); n != 0 {
		t.Fatalf("expected no audit events, got %d", n)
	}
}

func TestAuditFailureIsWarningNotError(t *testing.T) {
	f := newFixture(t, okBackend, time.Second)
	f.mem.FailWith = errors.New("read-only file system")

	res, err := f.d.Dispatch(context.Background(), "search_patient", map[string]any{"name": "Ravi Kumar"}, model.Live)
	if err != nil {
		t.Fatal(err)
	}
	if res.Failed() || res.Output == nil {
		t.Fatalf("expected dispatch to succeed despite audit failure: %+v", res)
	}
	if len(res.Warnings) != 2 {
		t.Fatalf("expected 2 warnings, got %v", res.Warnings)
	}
}

func TestDispatchDoesNotAliasCallerArguments(t *testing.T) {
	f := newFixture(t, okBackend, time.Second)
	args := map[string]any{"name": "Ravi Kumar"}

	res, _ := f.d.Dispatch(context.Background(), "search_patient", args, model.DryRun)
	args["name"] = "Someone Else"
	if res.Arguments["name"] != "Ravi Kumar" {
		t.Fatal("result arguments changed with caller map")
	}
}

// lockedBuffer is a bytes.Buffer safe for a logger writing from another goroutine.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestLateBackendCompletionIsLogged(t *testing.T) {
	tests := []struct {
		name      string
		result    error
		succeeded string
	}{
		{"late success", nil, "succeeded=true"},
		{"late failure", errors.New("connection reset"), "succeeded=false"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			release := make(chan struct{})
			slow := func(ctx context.Context, args map[string]any) (any, error) {
				<-release
				return map[string]any{"patient_id": "PAT123"}, tt.result
			}
			var logs lockedBuffer
			mem := audit.NewMemory()
			d, err := New(Config{
				Registry: newRegistry(t, slow),
				Recorder: audit.NewRecorder(audit.RecorderConfig{Sink: mem}),
				Timeout:  10 * time.Millisecond,
				Logger:   slog.New(slog.NewTextHandler(&logs, nil)),
			})
			if err != nil {
				t.Fatal(err)
			}

			res, err := d.Dispatch(context.Background(), "search_patient", map[string]any{"name": "Ravi Kumar"}, model.Live)
			if err != nil {
				t.Fatal(err)
			}
			if res.Error == nil || res.Error.Kind != model.KindBackendTimeout {
				t.Fatalf("expected backend_timeout, got %+v", res.Error)
			}
			if strings.Contains(logs.String(), "late backend completion") {
				t.Fatal("late completion logged before the backend returned")
			}
			close(release)

			deadline := time.Now().Add(2 * time.Second)
			for !strings.Contains(logs.String(), "late backend completion") {
				if time.Now().After(deadline) {
					t.Fatalf("late completion never logged; logs:\n%s", logs.String())
				}
				time.Sleep(5 * time.Millisecond)
			}

			events := mem.Events()
			assertPaired(t, events, model.ToolSelected, model.ToolFailed)
			out := logs.String()
			for _, want := range []string{"level=WARN", "tool=search_patient", "span_id=" + events[0].SpanID, tt.succeeded} {
				if !strings.Contains(out, want) {
					t.Errorf("late completion log missing %q:\n%s", want, out)
				}
			}
		})
	}
}

func TestConcurrentDispatchKeepsSpansOrdered(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	auditLog, err := audit.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	d, err := New(Config{
		Registry: newRegistry(t, okBackend),
		Recorder: audit.NewRecorder(audit.RecorderConfig{Sink: auditLog}),
		Timeout:  time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}

	const n = 40
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			mode := model.Live
			if i%2 == 1 {
				mode = model.DryRun
			}
			ctx := tracer.WithTraceID(context.Background(), fmt.Sprintf("t-%d", i))
			res, err := d.Dispatch(ctx, "search_patient", map[string]any{"name": "Ravi Kumar"}, mode)
			if err != nil || res.Failed() || len(res.Warnings) != 0 {
				t.Errorf("dispatch %d: %v %+v", i, err, res)
			}
		}(i)
	}
	wg.Wait()
	if err := auditLog.Close(); err != nil {
		t.Fatal(err)
	}

	result := audit.Verify(path)
	if !result.Valid {
		t.Fatalf("expected valid log, got error at line %d: %s", result.ErrorLine, result.Error)
	}
	if result.Lines != 2*n || result.Spans != n || result.Open != 0 {
		t.Fatalf("unexpected verify result: %+v", result)
	}
}
