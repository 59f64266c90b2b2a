package scoreboard

import "strings"

// HappeningCategory classifies a discrete in-match occurrence. The
// enumeration is closed; raw provider event types are collapsed through
// CategorizeHappening and anything unrecognized is discarded rather than
// guessed at.
type HappeningCategory string

const (
	CategoryGoal         HappeningCategory = "goal"
	CategoryYellowCard   HappeningCategory = "yellow_card"
	CategoryRedCard      HappeningCategory = "red_card"
	CategorySubstitution HappeningCategory = "substitution"
	CategoryVARReview    HappeningCategory = "var_review"
	CategoryKickoff      HappeningCategory = "kickoff"
	CategoryFullTime     HappeningCategory = "full_time"
	CategoryHalfTime     HappeningCategory = "half_time"
)

// IsValid reports whether the category is a member of the closed enum.
func (c HappeningCategory) IsValid() bool {
	switch c {
	case CategoryGoal, CategoryYellowCard, CategoryRedCard, CategorySubstitution,
		CategoryVARReview, CategoryKickoff, CategoryFullTime, CategoryHalfTime:
		return true
	}
	return false
}

var happeningKeywords = []struct {
	category HappeningCategory
	keywords []string
}{
	{CategoryGoal, []string{"goal", "penalty", "own goal"}},
	{CategoryYellowCard, []string{"yellow card", "yellowcard"}},
	{CategoryRedCard, []string{"red card", "redcard", "second yellow"}},
	{CategorySubstitution, []string{"substitution", "sub"}},
	{CategoryVARReview, []string{"var", "video assistant referee"}},
	{CategoryKickoff, []string{"kickoff", "kick off", "match start"}},
	{CategoryFullTime, []string{"full time", "fulltime", "match end"}},
	{CategoryHalfTime, []string{"half time", "halftime"}},
}

// CategorizeHappening maps a raw provider event type onto the closed
// category enum using the same word-boundary matching as status
// normalization. The second return value is false when the type is
// unrecognized.
func CategorizeHappening(rawType string) (HappeningCategory, bool) {
	tokenized := tokenize(rawType)
	for _, entry := range happeningKeywords {
		for _, kw := range entry.keywords {
			if containsPhrase(tokenized, kw) {
				return entry.category, true
			}
		}
	}
	return "", false
}

// RawHappening is one child event record as returned by a match-events
// fetch, before categorization.
type RawHappening struct {
	// ID is the provider's event id when it supplies one; empty otherwise.
	ID string

	// Type is the provider's free-form event type string.
	Type string

	// Minute is the match-clock position of the event, e.g. "45'+2".
	Minute string

	// ParticipantID identifies the player, or the team when the provider
	// reports no player.
	ParticipantID string

	// PlayerName and TeamName feed the rendered text only.
	PlayerName string
	TeamName   string
}

// EventID derives the posted-event identity for this happening within the
// given match. The identity must be deterministic: delivery failures are
// retried on later cycles by re-deriving the same identity from the same raw
// data, so no clock or counter may participate. When the provider supplies
// an event id that id wins; otherwise a composite of type, minute and
// participant stands in.
//
// Both forms start with matchID + "-", which is what lets the state store
// sweep all of a match's identities by prefix once its run ends.
func (h RawHappening) EventID(matchID string) string {
	if h.ID != "" {
		return matchID + "-" + h.ID
	}
	return matchID + "-" + slug(h.Type) + "-" + slug(h.Minute) + "-" + slug(h.ParticipantID)
}

// MatchStartEventID is the posted-event identity for a match's start
// announcement. The catch-up path marks this same identity without
// delivering, so a restarted process never re-announces a start it already
// posted.
func MatchStartEventID(matchID string) string {
	return matchID + "-match-start"
}

// MatchEndEventID is the posted-event identity for a match's final-score
// announcement.
func MatchEndEventID(matchID string) string {
	return matchID + "-match-end"
}

// HighlightsEventID is the posted-event identity for a match's post-game
// highlights announcement.
func HighlightsEventID(matchID string) string {
	return matchID + "-highlights"
}

func slug(raw string) string {
	return strings.ReplaceAll(tokenize(raw), " ", "_")
}
