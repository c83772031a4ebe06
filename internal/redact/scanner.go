package redact

import (
	"regexp"
	"sort"
	"strings"
)

// PatternType identifies the category of PHI found in free text.
type PatternType string

const (
	PatternName  PatternType = "NAME"
	PatternEmail PatternType = "EMAIL"
	PatternPhone PatternType = "PHONE"
	PatternDate  PatternType = "DATE"
	PatternSSN   PatternType = "SSN"
)

// Match is a single occurrence of PHI in text.
type Match struct {
	Type  PatternType
	Value string
	Start int
	End   int
}

var (
	emailRe = regexp.MustCompile(`\b[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}\b`)

	// US-style numbers: 555-123-4567, (555) 123-4567, 555.123.4567.
	phoneRe = regexp.MustCompile(`(?:\(\d{3}\)\s?|\b\d{3}[-.\s])\d{3}[-.\s]\d{4}\b`)

	// ISO and US calendar dates. Relative words like "tomorrow" are not PHI.
	dateRe = regexp.MustCompile(`\b(?:\d{4}-\d{2}-\d{2}|\d{1,2}/\d{1,2}/\d{2,4})\b`)

	ssnRe = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
)

// Scanner finds PHI in free text: known patient names plus fixed patterns.
type Scanner struct {
	names *regexp.Regexp
}

// NewScanner builds a scanner that also matches the given full names,
// case-insensitively on word boundaries.
func NewScanner(names []string) *Scanner {
	var alts []string
	for _, n := range names {
		if n = strings.Join(strings.Fields(n), " "); n != "" {
			alts = append(alts, regexp.QuoteMeta(n))
		}
	}
	if len(alts) == 0 {
		return &Scanner{}
	}
	// Longest first so "Ravi Kumar Singh" wins over "Ravi Kumar".
	sort.Slice(alts, func(i, j int) bool { return len(alts[i]) > len(alts[j]) })
	return &Scanner{names: regexp.MustCompile(`(?i)\b(?:` + strings.Join(alts, "|") + `)\b`)}
}

// Scan returns non-overlapping matches sorted by position. Where matches
// overlap the earliest wins, then the longest.
func (s *Scanner) Scan(text string) []Match {
	var all []Match
	collect := func(typ PatternType, re *regexp.Regexp) {
		if re == nil {
			return
		}
		for _, loc := range re.FindAllStringIndex(text, -1) {
			all = append(all, Match{Type: typ, Value: text[loc[0]:loc[1]], Start: loc[0], End: loc[1]})
		}
	}
	collect(PatternName, s.names)
	collect(PatternEmail, emailRe)
	collect(PatternSSN, ssnRe)
	collect(PatternPhone, phoneRe)
	collect(PatternDate, dateRe)

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Start != all[j].Start {
			return all[i].Start < all[j].Start
		}
		return all[i].End > all[j].End
	})

	var out []Match
	end := -1
	for _, m := range all {
		if m.Start < end {
			continue
		}
		out = append(out, m)
		end = m.End
	}
	return out
}

// Mask replaces every match with a <<TYPE>> placeholder.
func (s *Scanner) Mask(text string) string {
	matches := s.Scan(text)
	if len(matches) == 0 {
		return text
	}
	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(text[last:m.Start])
		b.WriteString("<<" + string(m.Type) + ">>")
		last = m.End
	}
	b.WriteString(text[last:])
	return b.String()
}
