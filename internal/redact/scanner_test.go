package redact

import "testing"

func TestScanPatterns(t *testing.T) {
	s := NewScanner([]string{"Ravi Kumar", "  Anita   Rao "})
	tests := []struct {
		name  string
		text  string
		typ   PatternType
		value string
	}{
		{"roster name", "book for Ravi Kumar tomorrow", PatternName, "Ravi Kumar"},
		{"name case-insensitive", "book for RAVI KUMAR", PatternName, "RAVI KUMAR"},
		{"name whitespace normalized", "see anita rao", PatternName, "anita rao"},
		{"email", "contact ravi.k@example.org please", PatternEmail, "ravi.k@example.org"},
		{"phone dashed", "call 555-123-4567", PatternPhone, "555-123-4567"},
		{"phone parens", "call (555) 123-4567", PatternPhone, "(555) 123-4567"},
		{"iso date", "dob 1980-01-01", PatternDate, "1980-01-01"},
		{"us date", "dob 1/2/1980", PatternDate, "1/2/1980"},
		{"ssn", "ssn 123-45-6789", PatternSSN, "123-45-6789"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matches := s.Scan(tt.text)
			if len(matches) != 1 {
				t.Fatalf("expected 1 match, got %+v", matches)
			}
			m := matches[0]
			if m.Type != tt.typ || m.Value != tt.value {
				t.Fatalf("expected %s %q, got %s %q", tt.typ, tt.value, m.Type, m.Value)
			}
			if tt.text[m.Start:m.End] != m.Value {
				t.Fatalf("offsets %d:%d do not cover %q", m.Start, m.End, m.Value)
			}
		})
	}
}

func TestScanIgnoresPartialNames(t *testing.T) {
	s := NewScanner([]string{"Ravi Kumar"})
	if m := s.Scan("Ravik Kumaran and Ravi alone"); len(m) != 0 {
		t.Fatalf("expected no name matches, got %+v", m)
	}
}

func TestScanNoOverlap(t *testing.T) {
	s := NewScanner([]string{"Ravi Kumar", "Ravi Kumar Singh"})
	matches := s.Scan("Ravi Kumar Singh, 2025-01-15 and 123-45-6789")
	if len(matches) != 3 {
		t.Fatalf("expected 3 matches, got %+v", matches)
	}
	if matches[0].Value != "Ravi Kumar Singh" {
		t.Errorf("expected longest name to win, got %q", matches[0].Value)
	}
	for i := 1; i < len(matches); i++ {
		if matches[i].Start < matches[i-1].End {
			t.Fatalf("overlapping matches %+v", matches)
		}
	}
}

func TestMask(t *testing.T) {
	s := NewScanner([]string{"Ravi Kumar"})
	got := s.Mask("Ravi Kumar (ravi@clinic.example.com, 555.123.4567) on 2025-01-16")
	want := "<<NAME>> (<<EMAIL>>, <<PHONE>>) on <<DATE>>"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestMaskWithoutMatchesReturnsInput(t *testing.T) {
	s := NewScanner(nil)
	in := "book an appointment tomorrow"
	if got := s.Mask(in); got != in {
		t.Fatalf("expected input unchanged, got %q", got)
	}
}
