package scoreboard

import "strings"

// Status represents the normalized lifecycle of a tracked match. It is
// implemented as a value object using a string type to ensure type safety
// and domain invariants. The vocabulary is closed: upstream providers report
// dozens of raw status names, but diff and polling logic only ever observe
// these three values.
type Status string

const (
	// StatusPre indicates the match has not started (scheduled, tbd, etc.).
	// This is also the fallback for unrecognized raw statuses: an unknown
	// status must never be mistaken for "ended" (which would suppress further
	// polling) nor for "started" (which would trigger a spurious start
	// announcement).
	StatusPre Status = "pre"
	// StatusIn indicates the match is in progress (live, 1h, 2h, ht, etc.).
	StatusIn Status = "in"
	// StatusPost indicates the match has finished (ft, aet, pen, etc.).
	// This is a terminal state for one run of the match.
	StatusPost Status = "post"
)

// Raw status keywords per normalized state. Matching is word-boundary based,
// never substring containment, so a status literally named "postponed" does
// not classify as StatusPost.
var (
	postKeywords = []string{"finished", "ft", "aet", "pen", "post", "full time"}
	inKeywords   = []string{
		"live", "in play", "in progress", "1h", "2h", "ht", "et", "bt", "pt", "in",
		"halftime", "half time", "1st half", "2nd half", "first half", "second half",
	}
	preKeywords = []string{"scheduled", "not started", "tbd", "pre"}
)

// NormalizeStatus collapses a provider's raw status vocabulary into the
// three-value lifecycle. Terminal keywords are checked first, then
// in-progress, then scheduled; anything unrecognized defaults to StatusPre.
// The function is pure: identical inputs always yield identical output.
func NormalizeStatus(rawName, rawState string) Status {
	name := tokenize(rawName)
	state := tokenize(rawState)

	for _, kw := range postKeywords {
		if containsPhrase(name, kw) || containsPhrase(state, kw) {
			return StatusPost
		}
	}
	for _, kw := range inKeywords {
		if containsPhrase(name, kw) || containsPhrase(state, kw) {
			return StatusIn
		}
	}
	for _, kw := range preKeywords {
		if containsPhrase(name, kw) || containsPhrase(state, kw) {
			return StatusPre
		}
	}

	return StatusPre
}

// tokenize lowercases the raw string and splits it on non-alphanumeric
// boundaries, returning the tokens re-joined with single spaces. The result
// is suitable for whole-word phrase matching.
func tokenize(raw string) string {
	fields := strings.FieldsFunc(strings.ToLower(raw), func(r rune) bool {
		isLower := r >= 'a' && r <= 'z'
		isDigit := r >= '0' && r <= '9'
		return !isLower && !isDigit
	})
	return strings.Join(fields, " ")
}

// containsPhrase reports whether the tokenized text contains the keyword as a
// whole word or whole multi-word phrase.
func containsPhrase(tokenized, phrase string) bool {
	if tokenized == "" {
		return false
	}
	return strings.Contains(" "+tokenized+" ", " "+phrase+" ")
}
