package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ppiankov/carewatch/internal/model"
	"github.com/ppiankov/carewatch/internal/tracer"
)

// ReplayFilter holds filtering criteria for replay. Zero values match everything.
type ReplayFilter struct {
	TraceID string
	Tool    string
	From    time.Time
	To      time.Time
}

// ReplaySummary holds event counts and time bounds for a replayed trace.
type ReplaySummary struct {
	Total          int    `json:"total"`
	SelectedCount  int    `json:"selected_count"`
	ExecutedCount  int    `json:"executed_count"`
	FailedCount    int    `json:"failed_count"`
	DryRunCount    int    `json:"dry_run_count"`
	RefusedCount   int    `json:"refused_count"`
	FirstTimestamp string `json:"first_timestamp"`
	LastTimestamp  string `json:"last_timestamp"`
}

// ReplayResult holds filtered entries and their summary.
type ReplayResult struct {
	TraceID string        `json:"trace_id"`
	Entries []Entry       `json:"entries"`
	Summary ReplaySummary `json:"summary"`
}

// Replay reads the audit log and returns entries matching the filter in file order.
func Replay(path string, filter ReplayFilter) (*ReplayResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	result := &ReplayResult{TraceID: filter.TraceID}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue // skip malformed lines
		}
		if filter.matches(entry) {
			result.Entries = append(result.Entries, entry)
			updateSummary(&result.Summary, entry)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	return result, nil
}

func (f ReplayFilter) matches(e Entry) bool {
	if f.TraceID != "" && e.TraceID != f.TraceID {
		return false
	}
	if f.Tool != "" && e.Tool != f.Tool {
		return false
	}
	if f.From.IsZero() && f.To.IsZero() {
		return true
	}
	ts, err := time.Parse(tracer.TimestampFormat, e.Timestamp)
	if err != nil {
		return false
	}
	if !f.From.IsZero() && ts.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && ts.After(f.To) {
		return false
	}
	return true
}

func updateSummary(s *ReplaySummary, e Entry) {
	s.Total++

	switch model.EventKind(e.Event) {
	case model.ToolSelected:
		s.SelectedCount++
	case model.ToolExecuted:
		s.ExecutedCount++
	case model.ToolFailed:
		s.FailedCount++
	case model.DryRunExecuted:
		s.DryRunCount++
	case model.RequestRefused:
		s.RefusedCount++
	}

	if s.FirstTimestamp == "" {
		s.FirstTimestamp = e.Timestamp
	}
	s.LastTimestamp = e.Timestamp
}
