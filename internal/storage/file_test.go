package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"genwatch/internal/generals"
	"genwatch/internal/state"
	"genwatch/pkg/logx"
)

func openTestStore(t *testing.T) (Store, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "data.yml")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st, path
}

func sampleSnapshot() *state.Snapshot {
	return &state.Snapshot{
		Channels: []state.Channel{{ID: -100, Enabled: true}},
		Players: []state.Player{{
			Name:     "alice",
			Enabled:  true,
			LastSeen: 12345,
			Rank:     map[generals.Mode]int{generals.Mode1v1: 3},
			Stars:    map[generals.Mode]float64{generals.Mode1v1: 42.0},
		}},
		Operators: []int64{7},
	}
}

func TestStateRoundTrip(t *testing.T) {
	t.Parallel()
	st, _ := openTestStore(t)
	ctx := context.Background()

	if snap, err := st.LoadState(ctx); err != nil || snap != nil {
		t.Fatalf("fresh store LoadState = (%v, %v), want (nil, nil)", snap, err)
	}

	if err := st.SaveState(ctx, sampleSnapshot()); err != nil {
		t.Fatalf("SaveState: %v", err)
	}
	got, err := st.LoadState(ctx)
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if got == nil || len(got.Players) != 1 || got.Players[0].Name != "alice" {
		t.Fatalf("players lost: %+v", got)
	}
	p := got.Players[0]
	if p.LastSeen != 12345 || p.Rank[generals.Mode1v1] != 3 || p.Stars[generals.Mode1v1] != 42.0 {
		t.Fatalf("player fields lost: %+v", p)
	}
	if len(got.Channels) != 1 || got.Channels[0].ID != -100 || !got.Channels[0].Enabled {
		t.Fatalf("channels lost: %+v", got.Channels)
	}
	if len(got.Operators) != 1 || got.Operators[0] != 7 {
		t.Fatalf("operators lost: %+v", got.Operators)
	}
}

func TestCorruptPrimaryFallsBackToBackup(t *testing.T) {
	t.Parallel()
	st, path := openTestStore(t)
	ctx := context.Background()

	if err := st.SaveState(ctx, sampleSnapshot()); err != nil {
		t.Fatalf("SaveState: %v", err)
	}
	// Simulate a crash mid-write to the primary.
	if err := os.WriteFile(path, []byte("{{{ not yaml"), 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := st.LoadState(ctx)
	if err != nil {
		t.Fatalf("LoadState with corrupt primary: %v", err)
	}
	if got == nil || len(got.Players) != 1 || got.Players[0].Name != "alice" {
		t.Fatalf("backup not used: %+v", got)
	}
}

func TestMissingPrimaryUsesBackup(t *testing.T) {
	t.Parallel()
	st, path := openTestStore(t)
	ctx := context.Background()

	if err := st.SaveState(ctx, sampleSnapshot()); err != nil {
		t.Fatalf("SaveState: %v", err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	got, err := st.LoadState(ctx)
	if err != nil {
		t.Fatalf("LoadState with missing primary: %v", err)
	}
	if got == nil || len(got.Players) != 1 {
		t.Fatalf("backup not used: %+v", got)
	}
}

func TestDedupRoundTrip(t *testing.T) {
	t.Parallel()
	st, _ := openTestStore(t)
	ctx := context.Background()

	if got, err := st.LoadDedup(ctx); err != nil || len(got) != 0 {
		t.Fatalf("fresh LoadDedup = (%v, %v)", got, err)
	}

	until := time.Now().Add(time.Hour).Truncate(time.Millisecond)
	if err := st.SaveDedup(ctx, map[string]time.Time{"M123": until}); err != nil {
		t.Fatalf("SaveDedup: %v", err)
	}
	got, err := st.LoadDedup(ctx)
	if err != nil {
		t.Fatalf("LoadDedup: %v", err)
	}
	if !got["M123"].Equal(until) {
		t.Fatalf("dedup entry = %v, want %v", got["M123"], until)
	}
}

func TestAppendAudit(t *testing.T) {
	t.Parallel()
	st, path := openTestStore(t)
	ctx := context.Background()

	entries := []AuditEntry{
		{ActorID: 1, ChatID: 5, Command: "follow", Target: "alice", OK: true},
		{ActorID: 2, ChatID: 5, Command: "enable", OK: false, Error: "nope"},
	}
	for _, e := range entries {
		if err := st.AppendAudit(ctx, e); err != nil {
			t.Fatalf("AppendAudit: %v", err)
		}
	}

	dir := filepath.Dir(path)
	f, err := os.Open(filepath.Join(dir, "data.audit.jsonl"))
	if err != nil {
		t.Fatalf("open audit file: %v", err)
	}
	defer f.Close()

	var got []AuditEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e AuditEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("bad audit line %q: %v", sc.Text(), err)
		}
		got = append(got, e)
	}
	if len(got) != 2 {
		t.Fatalf("audit lines = %d, want 2", len(got))
	}
	if got[0].Command != "follow" || got[0].Target != "alice" || !got[0].OK {
		t.Fatalf("first entry mangled: %+v", got[0])
	}
	if got[1].Error != "nope" || got[1].OK {
		t.Fatalf("second entry mangled: %+v", got[1])
	}
	if got[0].At.IsZero() {
		t.Fatal("At not defaulted on append")
	}
}
