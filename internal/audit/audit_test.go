package audit

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ppiankov/carewatch/internal/model"
)

func newTestLog(t *testing.T) (*Log, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test-audit.jsonl")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("failed to open audit log: %v", err)
	}
	return l, path
}

func testEvent(kind model.EventKind, span string) model.AuditEvent {
	return model.AuditEvent{
		Timestamp: time.Now().UTC(),
		Kind:      kind,
		TraceID:   "t-test123",
		SpanID:    span,
		Tool:      "search_patient",
		Mode:      model.Live,
		Arguments: map[string]any{"name": "Ravi Kumar"},
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestSequentialWritesProduceValidChain(t *testing.T) {
	l, path := newTestLog(t)

	for i := 0; i < 5; i++ {
		if err := l.Record(testEvent(model.RequestRefused, "")); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	l.Close()

	result := Verify(path)
	if !result.Valid {
		t.Fatalf("expected valid chain, got error at line %d: %s", result.ErrorLine, result.Error)
	}
	if result.Lines != 5 {
		t.Fatalf("expected 5 lines, got %d", result.Lines)
	}
}

func TestRecordWritesDocumentedFields(t *testing.T) {
	l, path := newTestLog(t)
	ev := testEvent(model.ToolExecuted, "s-1")
	ev.Result = map[string]any{"patient_id": "PAT123"}
	if err := l.Record(ev); err != nil {
		t.Fatal(err)
	}
	l.Close()

	var raw map[string]any
	if err := json.Unmarshal([]byte(readLines(t, path)[0]), &raw); err != nil {
		t.Fatal(err)
	}
	for _, field := range []string{"timestamp", "event", "tool", "arguments", "result", "prev_hash"} {
		if _, ok := raw[field]; !ok {
			t.Errorf("expected field %q in audit line, got %v", field, raw)
		}
	}
	if raw["event"] != "TOOL_EXECUTED" {
		t.Errorf("expected event TOOL_EXECUTED, got %v", raw["event"])
	}
	ts, _ := raw["timestamp"].(string)
	if !strings.HasSuffix(ts, "Z") {
		t.Errorf("expected UTC ISO-8601 timestamp, got %q", ts)
	}
}

func TestVerifyDetectsTamperedEntry(t *testing.T) {
	l, path := newTestLog(t)
	for i := 0; i < 3; i++ {
		l.Record(testEvent(model.RequestRefused, ""))
	}
	l.Close()

	lines := readLines(t, path)
	lines[1] = strings.Replace(lines[1], "Ravi Kumar", "Someone Else", 1)
	os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644)

	result := Verify(path)
	if result.Valid {
		t.Fatal("expected tampered chain to be invalid")
	}
	if result.ErrorLine != 3 {
		t.Fatalf("expected error at line 3, got line %d", result.ErrorLine)
	}
}

func TestVerifyDetectsDeletedEntry(t *testing.T) {
	l, path := newTestLog(t)
	for i := 0; i < 3; i++ {
		l.Record(testEvent(model.RequestRefused, ""))
	}
	l.Close()

	lines := readLines(t, path)
	os.WriteFile(path, []byte(lines[0]+"\n"+lines[2]+"\n"), 0644)

	result := Verify(path)
	if result.Valid {
		t.Fatal("expected chain with deleted entry to be invalid")
	}
	if result.ErrorLine != 2 {
		t.Fatalf("expected error at line 2, got line %d", result.ErrorLine)
	}
}

func TestVerifyDetectsCompletionWithoutSelection(t *testing.T) {
	l, path := newTestLog(t)
	l.Record(testEvent(model.ToolSelected, "s-a"))
	l.Record(testEvent(model.ToolExecuted, "s-a"))
	l.Record(testEvent(model.ToolExecuted, "s-b"))
	l.Close()

	result := Verify(path)
	if result.Valid {
		t.Fatal("expected orphan completion to be rejected")
	}
	if result.ErrorLine != 3 {
		t.Fatalf("expected error at line 3, got %d (%s)", result.ErrorLine, result.Error)
	}
}

func TestVerifyCountsSpans(t *testing.T) {
	l, path := newTestLog(t)
	l.Record(testEvent(model.ToolSelected, "s-a"))
	l.Record(testEvent(model.ToolSelected, "s-b"))
	l.Record(testEvent(model.DryRunExecuted, "s-b"))
	l.Record(testEvent(model.ToolFailed, "s-a"))
	l.Record(testEvent(model.ToolSelected, "s-c"))
	l.Close()

	result := Verify(path)
	if !result.Valid {
		t.Fatalf("expected valid log, got %s", result.Error)
	}
	if result.Spans != 3 || result.Open != 1 {
		t.Fatalf("expected 3 spans with 1 open, got %d spans %d open", result.Spans, result.Open)
	}
}

func TestEmptyLogPassesVerification(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.jsonl")
	os.WriteFile(path, []byte{}, 0644)

	result := Verify(path)
	if !result.Valid || result.Lines != 0 {
		t.Fatalf("expected empty log to be valid with 0 lines, got %+v", result)
	}
}

func TestConcurrentWritesSerializeCorrectly(t *testing.T) {
	l, path := newTestLog(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			span := "s-" + string(rune('a'+i%26)) + string(rune('a'+i/26))
			l.Record(testEvent(model.ToolSelected, span))
			l.Record(testEvent(model.ToolExecuted, span))
		}(i)
	}
	wg.Wait()
	l.Close()

	result := Verify(path)
	if !result.Valid {
		t.Fatalf("expected valid chain after concurrent writes, got error at line %d: %s", result.ErrorLine, result.Error)
	}
	if result.Lines != 100 || result.Spans != 50 || result.Open != 0 {
		t.Fatalf("unexpected verify result: %+v", result)
	}
}

func TestGenesisHashIsCorrect(t *testing.T) {
	l, path := newTestLog(t)
	l.Record(testEvent(model.RequestRefused, ""))
	l.Close()

	var entry Entry
	json.Unmarshal([]byte(readLines(t, path)[0]), &entry)
	if entry.PrevHash != GenesisHash {
		t.Fatalf("expected genesis hash %s, got %s", GenesisHash, entry.PrevHash)
	}
}

func TestHashLineIsDeterministic(t *testing.T) {
	line := []byte(`{"timestamp":"2025-01-15T10:30:00.000Z","event":"TOOL_SELECTED","prev_hash":"sha256:def"}`)
	h1 := HashLine(line)
	if h1 != HashLine(line) {
		t.Fatal("expected same hash for same input")
	}
	if !strings.HasPrefix(h1, "sha256:") || len(h1) != 7+64 {
		t.Fatalf("unexpected hash format %q", h1)
	}
}

func TestOpenExistingLogContinuesChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.jsonl")

	l1, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		l1.Record(testEvent(model.RequestRefused, ""))
	}
	l1.Close()

	l2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		l2.Record(testEvent(model.RequestRefused, ""))
	}
	l2.Close()

	result := Verify(path)
	if !result.Valid || result.Lines != 5 {
		t.Fatalf("expected 5 valid lines after reopen, got %+v", result)
	}
}

func TestOpenRefusesPartialLastLine(t *testing.T) {
	tests := []struct {
		name    string
		seed    int    // complete records written first
		tail    string // raw bytes appended afterwards
		wantErr bool
	}{
		{name: "empty"},
		{name: "complete lines", seed: 2},
		{name: "torn write", tail: `{"timestamp":"2025-01-15T10:30:00Z","event":"TOOL_SEL`, wantErr: true},
		{name: "complete then torn", seed: 1, tail: `{"event":"REQUEST_REF`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "partial.jsonl")
			seed, err := Open(path)
			if err != nil {
				t.Fatal(err)
			}
			for i := 0; i < tt.seed; i++ {
				seed.Record(testEvent(model.RequestRefused, ""))
			}
			seed.Close()
			if tt.tail != "" {
				f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
				if err != nil {
					t.Fatal(err)
				}
				f.WriteString(tt.tail)
				f.Close()
			}

			l, err := Open(path)
			if tt.wantErr {
				if err == nil || !strings.Contains(err.Error(), "partial line") {
					t.Fatalf("expected partial line error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if err := l.Record(testEvent(model.RequestRefused, "")); err != nil {
				t.Fatal(err)
			}
			l.Close()
			if result := Verify(path); !result.Valid || result.Lines != tt.seed+1 {
				t.Fatalf("expected valid chain of %d lines, got %+v", tt.seed+1, result)
			}
		})
	}
}

// flakySync fails the next Sync after the write has reached the file.
type flakySync struct {
	*os.File
	fail bool
}

func (f *flakySync) Sync() error {
	if f.fail {
		f.fail = false
		return errors.New("input/output error")
	}
	return f.File.Sync()
}

func TestSyncFailureStillAdvancesChain(t *testing.T) {
	l, path := newTestLog(t)
	file := &flakySync{File: l.file.(*os.File), fail: true}
	l.file = file

	if err := l.Record(testEvent(model.ToolSelected, "s-1")); err == nil || !strings.Contains(err.Error(), "sync") {
		t.Fatalf("expected sync error, got %v", err)
	}
	if err := l.Record(testEvent(model.ToolExecuted, "s-1")); err != nil {
		t.Fatal(err)
	}
	l.Close()

	result := Verify(path)
	if !result.Valid || result.Lines != 2 || result.Open != 0 {
		t.Fatalf("expected intact chain after sync failure, got %+v", result)
	}
}

func TestMultiAttemptsEverySink(t *testing.T) {
	broken := NewMemory()
	broken.FailWith = os.ErrPermission
	healthy := NewMemory()

	err := Multi{broken, healthy}.Record(testEvent(model.ToolSelected, "s-1"))
	if err == nil {
		t.Fatal("expected joined error from broken sink")
	}
	if len(healthy.Events()) != 1 {
		t.Fatal("expected healthy sink to still receive the event")
	}
}
