package monitor

import (
	"fmt"
	"strings"

	"github.com/matchpulse/matchpulse/internal/domain/scoreboard"
)

// happeningLabels maps each category to its announcement prefix.
var happeningLabels = map[scoreboard.HappeningCategory]string{
	scoreboard.CategoryGoal:         "⚽ GOAL!",
	scoreboard.CategoryYellowCard:   "🟨 Yellow card",
	scoreboard.CategoryRedCard:      "🟥 Red card",
	scoreboard.CategorySubstitution: "🔄 Substitution",
	scoreboard.CategoryVARReview:    "📺 VAR review",
	scoreboard.CategoryKickoff:      "🏟️ Kickoff",
	scoreboard.CategoryFullTime:     "⏱️ Full time",
	scoreboard.CategoryHalfTime:     "⏸️ Half time",
}

func renderMatchStart(info PartitionInfo, snap scoreboard.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🏟️ The match is underway in %s!", info.Name)
	appendHashtags(&b, info)
	return b.String()
}

func renderMatchEnd(info PartitionInfo, snap scoreboard.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "⏱️ Full time in %s: %d x %d.", info.Name, snap.Score.Home, snap.Score.Away)
	appendHashtags(&b, info)
	return b.String()
}

// maxHighlightLinks bounds how many clip links one announcement carries.
const maxHighlightLinks = 3

func renderHighlights(info PartitionInfo, snap scoreboard.Snapshot, highlights []scoreboard.Highlight) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🎬 Highlights · %s %d x %d.", info.Name, snap.Score.Home, snap.Score.Away)
	for i, h := range highlights {
		if i >= maxHighlightLinks {
			break
		}
		fmt.Fprintf(&b, "\n🔗 %s: %s", h.Title, h.URL)
	}
	appendHashtags(&b, info)
	return b.String()
}

func renderScoreChanged(info PartitionInfo, snap scoreboard.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "⚽ %s: %d x %d (%s).", info.Name, snap.Score.Home, snap.Score.Away, snap.DisplayClock)
	appendHashtags(&b, info)
	return b.String()
}

func renderHappening(info PartitionInfo, snap scoreboard.Snapshot, category scoreboard.HappeningCategory, h scoreboard.RawHappening) string {
	var b strings.Builder
	b.WriteString(happeningLabels[category])
	if h.Minute != "" {
		fmt.Fprintf(&b, " %s", h.Minute)
	}
	if h.PlayerName != "" {
		fmt.Fprintf(&b, " %s", h.PlayerName)
		if h.TeamName != "" {
			fmt.Fprintf(&b, " (%s)", h.TeamName)
		}
	} else if h.TeamName != "" {
		fmt.Fprintf(&b, " %s", h.TeamName)
	}
	fmt.Fprintf(&b, " · %s %d x %d.", info.Name, snap.Score.Home, snap.Score.Away)
	appendHashtags(&b, info)
	return b.String()
}

func appendHashtags(b *strings.Builder, info PartitionInfo) {
	for _, tag := range info.Hashtags {
		b.WriteString(" ")
		b.WriteString(tag)
	}
}
