// Package render turns a finished replay plus fresh standings into the
// notification text, including per-mode rank/star trend glyphs.
package render

import (
	"fmt"
	"math"
	"strings"
	"time"

	"genwatch/internal/generals"
)

const (
	glyphUp   = "📈"
	glyphFlat = "➖"
	glyphDown = "📉"
)

// Participant is one followed player appearing in the replay, paired with the
// standings stored before this match and the freshly fetched ones.
type Participant struct {
	Name      string
	Supporter bool

	PrevRank  int
	PrevStars float64
	Rank      int
	Stars     float64
}

// Update is the standing overwrite the caller must apply to the store after a
// notification is produced. Unranked (custom) matches yield no updates.
type Update struct {
	Name  string
	Mode  generals.Mode
	Rank  int
	Stars float64
}

type Renderer struct {
	loc       *time.Location
	permalink func(replayID string) string
}

// New creates a renderer. loc controls match-time display; permalink builds
// the public replay link from a replay id.
func New(loc *time.Location, permalink func(string) string) *Renderer {
	if loc == nil {
		loc = time.Local
	}
	if permalink == nil {
		permalink = func(id string) string { return generals.DefaultBaseURL + "/replays/" + id }
	}
	return &Renderer{loc: loc, permalink: permalink}
}

// StarsTrend returns the glyph for a star (rating) change: higher is better.
func StarsTrend(prev, now float64) string {
	switch {
	case now > prev:
		return glyphUp
	case now < prev:
		return glyphDown
	default:
		return glyphFlat
	}
}

// RankTrend returns the glyph for a rank change. A numerically lower rank is
// a better standing, so the "up" glyph means the value shrank.
func RankTrend(prev, now int) string {
	switch {
	case now < prev:
		return glyphUp
	case now > prev:
		return glyphDown
	default:
		return glyphFlat
	}
}

// RoundStars normalizes a star value the way the upstream site displays it.
func RoundStars(v float64) float64 {
	return math.Round(v*10) / 10
}

// Compose renders the notification block and returns the standing updates to
// apply. Stored values are NOT mutated here; applying the updates exactly
// once is the caller's responsibility.
func (r *Renderer) Compose(replay generals.Replay, participants []Participant) (string, []Update) {
	mode := generals.ModeFromReplayType(replay.Type)

	var b strings.Builder
	b.WriteString(headline(participants))
	b.WriteString("\n")
	fmt.Fprintf(&b, "Mode: %s\n", mode)

	var updates []Update
	if mode.Ranked() {
		for _, p := range participants {
			stars := RoundStars(p.Stars)
			starsGlyph := StarsTrend(p.PrevStars, stars)
			rankGlyph := RankTrend(p.PrevRank, p.Rank)
			fmt.Fprintf(&b, "%s: ★ %.1f [%s]  🏆 #%d [%s]\n", displayName(p), stars, starsGlyph, p.Rank, rankGlyph)
			updates = append(updates, Update{Name: p.Name, Mode: mode, Rank: p.Rank, Stars: stars})
		}
	}

	start := time.UnixMilli(replay.Started).In(r.loc)
	dur := replay.Duration()
	end := start.Add(dur)

	fmt.Fprintf(&b, "Started: %s\n", start.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Ended: %s\n", end.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Duration: %s\n", dur)
	fmt.Fprintf(&b, "Replay: %s", r.permalink(replay.ID))

	return b.String(), updates
}

func headline(participants []Participant) string {
	names := make([]string, 0, len(participants))
	for _, p := range participants {
		names = append(names, displayName(p))
	}
	switch len(names) {
	case 0:
		return "A followed player finished a match!"
	case 1:
		return names[0] + " finished a match!"
	default:
		return strings.Join(names, ", ") + " finished a match!"
	}
}

func displayName(p Participant) string {
	if p.Supporter {
		return p.Name + " ⭐"
	}
	return p.Name
}
