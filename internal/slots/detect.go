package slots

import (
	"regexp"
	"sort"
	"strings"
	"time"
)

// DateLayout is the format of resolved dates.
const DateLayout = "2006-01-02"

// Detector finds a slot value in free text.
type Detector interface {
	// Detect returns the canonical value and true when the slot is present.
	Detect(text string) (string, bool)
}

var wordRE = regexp.MustCompile(`[a-z0-9][a-z0-9'-]*`)

func words(text string) []string {
	return wordRE.FindAllString(strings.ToLower(text), -1)
}

// Roster resolves a patient from a list of known full names.
//
// A full name matches on word boundaries; when names overlap the longest
// match wins. A single name token (first or last name) matches only when it
// belongs to exactly one roster entry and neither neighbouring word in the
// same clause could be part of a different name. Anything ambiguous stays
// unresolved so the patient question is asked.
type Roster struct {
	entries []rosterEntry
	// owners maps a name token to the roster entries containing it.
	owners map[string][]int
	known  map[string]bool
}

type rosterEntry struct {
	name   string
	full   *regexp.Regexp
	tokens map[string]bool
}

// contextWords may sit next to a lone first or last name without being
// read as part of another name.
var contextWords = []string{
	"a", "an", "the", "for", "with", "in", "on", "at", "to", "from", "and", "or",
	"of", "by", "is", "my", "our", "his", "her", "their", "please", "patient",
	"mr", "mrs", "ms", "miss",
	"book", "booking", "schedule", "appointment", "follow-up", "followup", "visit",
	"need", "needs", "want", "wants", "i", "we", "he", "she", "they",
	"today", "tomorrow", "next", "week", "date",
	"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday",
}

// NewRoster creates a roster detector. known adds words that may appear
// next to a lone name token, typically the triggers of other slots.
func NewRoster(names []string, known ...string) *Roster {
	r := &Roster{owners: make(map[string][]int), known: make(map[string]bool)}
	for _, w := range contextWords {
		r.known[w] = true
	}
	for _, w := range known {
		for _, tok := range words(w) {
			r.known[tok] = true
		}
	}
	for _, n := range names {
		toks := words(n)
		if len(toks) == 0 {
			continue
		}
		quoted := make([]string, len(toks))
		for i, tok := range toks {
			quoted[i] = regexp.QuoteMeta(tok)
		}
		e := rosterEntry{
			name:   n,
			full:   regexp.MustCompile(`(?i)\b` + strings.Join(quoted, `\s+`) + `\b`),
			tokens: make(map[string]bool, len(toks)),
		}
		idx := len(r.entries)
		for _, tok := range toks {
			if len(tok) > 1 && !e.tokens[tok] {
				r.owners[tok] = append(r.owners[tok], idx)
			}
			e.tokens[tok] = true
		}
		r.entries = append(r.entries, e)
	}
	return r
}

// Detect implements Detector.
func (r *Roster) Detect(text string) (string, bool) {
	if n, ok := r.fullMatch(text); ok {
		return n, true
	}
	return r.tokenMatch(text)
}

// fullMatch returns the single entry whose full name occurs in text. A
// match lying inside a longer one ("Ravi Kumar" in "Ravi Kumar Singh") is
// dropped; two unrelated full names are ambiguous.
func (r *Roster) fullMatch(text string) (string, bool) {
	type span struct{ entry, start, end int }
	var found []span
	for i, e := range r.entries {
		if loc := e.full.FindStringIndex(text); loc != nil {
			found = append(found, span{i, loc[0], loc[1]})
		}
	}
	var outer []span
	for _, a := range found {
		inside := false
		for _, b := range found {
			if a != b && b.start <= a.start && a.end <= b.end && b.end-b.start > a.end-a.start {
				inside = true
				break
			}
		}
		if !inside {
			outer = append(outer, a)
		}
	}
	if len(outer) != 1 {
		return "", false
	}
	return r.entries[outer[0].entry].name, true
}

func (r *Roster) tokenMatch(text string) (string, bool) {
	lower := strings.ToLower(text)
	locs := wordRE.FindAllStringIndex(lower, -1)
	// neighbour returns the word at j when no punctuation separates it from i.
	neighbour := func(i, j int) (string, bool) {
		if j < 0 || j >= len(locs) {
			return "", false
		}
		lo, hi := locs[i], locs[j]
		if j < i {
			lo, hi = hi, lo
		}
		if strings.TrimSpace(lower[lo[1]:hi[0]]) != "" {
			return "", false
		}
		return lower[locs[j][0]:locs[j][1]], true
	}

	candidate := -1
	for i, loc := range locs {
		owners := r.owners[lower[loc[0]:loc[1]]]
		if len(owners) == 0 {
			continue
		}
		if len(owners) > 1 {
			return "", false
		}
		entry := owners[0]
		for _, j := range []int{i - 1, i + 1} {
			w, ok := neighbour(i, j)
			if ok && !r.entries[entry].tokens[w] && !r.known[w] {
				return "", false
			}
		}
		if candidate >= 0 && candidate != entry {
			return "", false
		}
		candidate = entry
	}
	if candidate < 0 {
		return "", false
	}
	return r.entries[candidate].name, true
}

// Keywords maps trigger words to canonical values. When several keywords
// occur, the one appearing earliest in the text wins.
type Keywords struct {
	values map[string]string
	keys   []string
}

// NewKeywords creates a keyword detector from keyword → canonical value.
func NewKeywords(values map[string]string) *Keywords {
	k := &Keywords{values: make(map[string]string, len(values))}
	for kw, v := range values {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		k.values[kw] = v
		k.keys = append(k.keys, kw)
	}
	// longest first so "cardiology" beats "cardio" at the same position
	sort.Slice(k.keys, func(i, j int) bool {
		if len(k.keys[i]) != len(k.keys[j]) {
			return len(k.keys[i]) > len(k.keys[j])
		}
		return k.keys[i] < k.keys[j]
	})
	return k
}

// Detect implements Detector.
func (k *Keywords) Detect(text string) (string, bool) {
	lower := strings.ToLower(text)
	best, bestPos := "", -1
	for _, kw := range k.keys {
		pos := strings.Index(lower, kw)
		if pos >= 0 && (bestPos < 0 || pos < bestPos) {
			best, bestPos = kw, pos
		}
	}
	if bestPos < 0 {
		return "", false
	}
	return k.values[best], true
}

var (
	isoDateRE  = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)
	nextWeekRE = regexp.MustCompile(`\bnext\s+week\b`)
	weekdayRE  = regexp.MustCompile(`\b(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)
	relDayRE   = regexp.MustCompile(`\b(today|tomorrow)\b`)
	bareDateRE = regexp.MustCompile(`\bdate\b`)
)

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday,
	"friday": time.Friday, "saturday": time.Saturday,
}

// Dates resolves time expressions to a concrete YYYY-MM-DD date relative to
// its clock. Precedence: explicit date, "next week", weekday name,
// "today"/"tomorrow", then the bare word "date" (today).
type Dates struct {
	now func() time.Time
}

// NewDates creates a date detector. A nil clock uses time.Now.
func NewDates(now func() time.Time) *Dates {
	if now == nil {
		now = time.Now
	}
	return &Dates{now: now}
}

// Detect implements Detector.
func (d *Dates) Detect(text string) (string, bool) {
	lower := strings.ToLower(text)
	today := d.now()

	if m := isoDateRE.FindStringSubmatch(lower); m != nil {
		if _, err := time.Parse(DateLayout, m[1]); err == nil {
			return m[1], true
		}
	}
	if nextWeekRE.MatchString(lower) {
		return today.AddDate(0, 0, 7).Format(DateLayout), true
	}
	if m := weekdayRE.FindStringSubmatch(lower); m != nil {
		ahead := (int(weekdays[m[1]]) - int(today.Weekday()) + 7) % 7
		if ahead == 0 {
			ahead = 7
		}
		return today.AddDate(0, 0, ahead).Format(DateLayout), true
	}
	if m := relDayRE.FindStringSubmatch(lower); m != nil {
		if m[1] == "tomorrow" {
			return today.AddDate(0, 0, 1).Format(DateLayout), true
		}
		return today.Format(DateLayout), true
	}
	if bareDateRE.MatchString(lower) {
		return today.Format(DateLayout), true
	}
	return "", false
}
