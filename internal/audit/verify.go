package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ppiankov/carewatch/internal/model"
)

// VerifyResult holds the outcome of an audit log verification.
type VerifyResult struct {
	Valid     bool   `json:"valid"`
	Lines     int    `json:"lines"`
	Spans     int    `json:"spans"`
	Open      int    `json:"open_spans"`
	Error     string `json:"error,omitempty"`
	ErrorLine int    `json:"error_line,omitempty"`
}

// Verify walks a JSONL audit log and checks two things:
//   - the hash chain: each prev_hash equals the hash of the line before it
//   - span pairing: every completion event follows a TOOL_SELECTED for the
//     same span and tool, and closes it at most once
//
// Spans left open (SELECTED without completion) are counted but not an
// error: a crash between the two writes is survivable.
func Verify(path string) VerifyResult {
	f, err := os.Open(path)
	if err != nil {
		return VerifyResult{Error: fmt.Sprintf("open: %v", err)}
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	lineNum := 0
	expected := GenesisHash
	open := make(map[string]string) // span_id → tool
	spans := 0

	for scanner.Scan() {
		lineNum++
		line := append([]byte(nil), scanner.Bytes()...)

		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			return VerifyResult{Error: fmt.Sprintf("parse error: %v", err), ErrorLine: lineNum}
		}

		if entry.PrevHash != expected {
			msg := fmt.Sprintf("hash mismatch: expected %s, got %s", expected, entry.PrevHash)
			if lineNum == 1 {
				msg = fmt.Sprintf("first entry prev_hash is %q, expected genesis hash", entry.PrevHash)
			}
			return VerifyResult{Error: msg, ErrorLine: lineNum}
		}
		expected = HashLine(line)

		if entry.SpanID == "" {
			continue
		}
		switch {
		case entry.Event == string(model.ToolSelected):
			if _, dup := open[entry.SpanID]; dup {
				return VerifyResult{Error: fmt.Sprintf("span %s selected twice", entry.SpanID), ErrorLine: lineNum}
			}
			open[entry.SpanID] = entry.Tool
			spans++
		case entry.IsCompletion():
			tool, ok := open[entry.SpanID]
			if !ok {
				return VerifyResult{
					Error:     fmt.Sprintf("%s for span %s without a preceding TOOL_SELECTED", entry.Event, entry.SpanID),
					ErrorLine: lineNum,
				}
			}
			if entry.Tool != "" && entry.Tool != tool {
				return VerifyResult{
					Error:     fmt.Sprintf("span %s selected %s but completed %s", entry.SpanID, tool, entry.Tool),
					ErrorLine: lineNum,
				}
			}
			delete(open, entry.SpanID)
		}
	}

	if err := scanner.Err(); err != nil {
		return VerifyResult{Error: fmt.Sprintf("scan: %v", err)}
	}

	return VerifyResult{Valid: true, Lines: lineNum, Spans: spans, Open: len(open)}
}
