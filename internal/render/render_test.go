package render

import (
	"strings"
	"testing"
	"time"

	"genwatch/internal/generals"
)

func TestStarsTrend(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		prev, now float64
		want      string
	}{
		{name: "gain", prev: 40.0, now: 42.0, want: "📈"},
		{name: "loss", prev: 42.0, now: 40.0, want: "📉"},
		{name: "flat", prev: 40.0, now: 40.0, want: "➖"},
		{name: "from zero", prev: 0, now: 12.5, want: "📈"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := StarsTrend(tt.prev, tt.now); got != tt.want {
				t.Fatalf("StarsTrend(%v, %v) = %s, want %s", tt.prev, tt.now, got, tt.want)
			}
		})
	}
}

func TestRankTrend(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		prev, now int
		want      string
	}{
		// Lower rank number is a better standing.
		{name: "improved", prev: 5, now: 3, want: "📈"},
		{name: "worsened", prev: 3, now: 5, want: "📉"},
		{name: "flat", prev: 7, now: 7, want: "➖"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := RankTrend(tt.prev, tt.now); got != tt.want {
				t.Fatalf("RankTrend(%d, %d) = %s, want %s", tt.prev, tt.now, got, tt.want)
			}
		})
	}
}

func TestRoundStars(t *testing.T) {
	t.Parallel()
	if got := RoundStars(41.96); got != 42.0 {
		t.Fatalf("RoundStars(41.96) = %v, want 42.0", got)
	}
	if got := RoundStars(41.94); got != 41.9 {
		t.Fatalf("RoundStars(41.94) = %v, want 41.9", got)
	}
}

func TestComposeRankedMatch(t *testing.T) {
	t.Parallel()
	r := New(time.UTC, func(id string) string { return "https://generals.io/replays/" + id })

	replay := generals.Replay{
		ID:      "R1",
		Type:    "1v1",
		Started: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).UnixMilli(),
		Turns:   120, // half-second turns: one minute of play
	}
	// alice improved from rank 5 / 40.0 stars to rank 3 / 42.0 stars.
	text, updates := r.Compose(replay, []Participant{
		{Name: "alice", PrevRank: 5, PrevStars: 40.0, Rank: 3, Stars: 42.0},
	})

	for _, want := range []string{
		"alice finished a match!",
		"Mode: 1v1",
		"alice: ★ 42.0 [📈]  🏆 #3 [📈]",
		"Started: 2026-03-01 12:00:00",
		"Ended: 2026-03-01 12:01:00",
		"Replay: https://generals.io/replays/R1",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("output missing %q:\n%s", want, text)
		}
	}

	if len(updates) != 1 {
		t.Fatalf("updates = %d, want 1", len(updates))
	}
	u := updates[0]
	if u.Name != "alice" || u.Mode != generals.Mode1v1 || u.Rank != 3 || u.Stars != 42.0 {
		t.Fatalf("unexpected update: %+v", u)
	}
}

func TestComposeCustomMatchHasNoStandings(t *testing.T) {
	t.Parallel()
	r := New(time.UTC, nil)

	replay := generals.Replay{ID: "R2", Type: "custom", Started: 1_700_000_000_000, Turns: 10}
	text, updates := r.Compose(replay, []Participant{
		{Name: "bob", PrevRank: 4, PrevStars: 10, Rank: 9, Stars: 99},
	})

	if len(updates) != 0 {
		t.Fatalf("custom match produced %d updates, want 0", len(updates))
	}
	if strings.Contains(text, "★") || strings.Contains(text, "🏆") {
		t.Fatalf("custom match rendered standings:\n%s", text)
	}
	if !strings.Contains(text, "bob finished a match!") {
		t.Fatalf("missing headline:\n%s", text)
	}
}

func TestComposeMultipleParticipants(t *testing.T) {
	t.Parallel()
	r := New(time.UTC, nil)

	replay := generals.Replay{ID: "R3", Type: "2v2", Started: 1_700_000_000_000, Turns: 40}
	text, updates := r.Compose(replay, []Participant{
		{Name: "a", Rank: 10, Stars: 20},
		{Name: "b", Supporter: true, Rank: 11, Stars: 21},
	})

	if !strings.Contains(text, "a, b ⭐ finished a match!") {
		t.Fatalf("bad headline:\n%s", text)
	}
	if len(updates) != 2 {
		t.Fatalf("updates = %d, want 2", len(updates))
	}
	// Supporter marker decorates display only, never the stored name.
	if updates[1].Name != "b" {
		t.Fatalf("update name = %q, want %q", updates[1].Name, "b")
	}
}
