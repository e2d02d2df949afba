package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"genwatch/internal/generals"
	"genwatch/internal/state"
	"genwatch/pkg/logx"
)

func openSQLiteTest(t *testing.T) Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "genwatch.db")
	st, err := Open(Config{Driver: "sqlite", Path: path, BusyTimeout: time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("Open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSQLiteStateRoundTrip(t *testing.T) {
	t.Parallel()
	st := openSQLiteTest(t)
	ctx := context.Background()

	if snap, err := st.LoadState(ctx); err != nil || snap != nil {
		t.Fatalf("fresh LoadState = (%v, %v), want (nil, nil)", snap, err)
	}

	if err := st.SaveState(ctx, sampleSnapshot()); err != nil {
		t.Fatalf("SaveState: %v", err)
	}
	got, err := st.LoadState(ctx)
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if got == nil || len(got.Players) != 1 {
		t.Fatalf("players = %+v", got)
	}
	p := got.Players[0]
	if p.Name != "alice" || !p.Enabled || p.LastSeen != 12345 {
		t.Fatalf("player mangled: %+v", p)
	}
	if p.Rank[generals.Mode1v1] != 3 || p.Stars[generals.Mode1v1] != 42.0 {
		t.Fatalf("standings mangled: %+v", p)
	}
	if len(got.Channels) != 1 || got.Channels[0].ID != -100 {
		t.Fatalf("channels = %+v", got.Channels)
	}
	if len(got.Operators) != 1 || got.Operators[0] != 7 {
		t.Fatalf("operators = %+v", got.Operators)
	}
}

func TestSQLiteSaveReplacesState(t *testing.T) {
	t.Parallel()
	st := openSQLiteTest(t)
	ctx := context.Background()

	if err := st.SaveState(ctx, sampleSnapshot()); err != nil {
		t.Fatal(err)
	}
	// A later snapshot without alice must fully replace the previous one.
	next := &state.Snapshot{Players: []state.Player{{Name: "bob", Enabled: true}}}
	if err := st.SaveState(ctx, next); err != nil {
		t.Fatal(err)
	}

	got, err := st.LoadState(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Players) != 1 || got.Players[0].Name != "bob" {
		t.Fatalf("stale rows survived: %+v", got.Players)
	}
	if len(got.Channels) != 0 || len(got.Operators) != 0 {
		t.Fatalf("stale channels/operators survived: %+v", got)
	}
}

func TestSQLiteDedupRoundTrip(t *testing.T) {
	t.Parallel()
	st := openSQLiteTest(t)
	ctx := context.Background()

	until := time.Now().Add(time.Hour).Truncate(time.Millisecond)
	if err := st.SaveDedup(ctx, map[string]time.Time{"M123": until, "M124": until}); err != nil {
		t.Fatalf("SaveDedup: %v", err)
	}
	got, err := st.LoadDedup(ctx)
	if err != nil {
		t.Fatalf("LoadDedup: %v", err)
	}
	if len(got) != 2 || !got["M123"].Equal(until) {
		t.Fatalf("dedup = %v", got)
	}

	// Save replaces wholesale, mirroring the in-memory cache after pruning.
	if err := st.SaveDedup(ctx, map[string]time.Time{"M125": until}); err != nil {
		t.Fatal(err)
	}
	got, err = st.LoadDedup(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("pruned entries survived: %v", got)
	}
}

func TestSQLiteAppendAudit(t *testing.T) {
	t.Parallel()
	st := openSQLiteTest(t)
	ctx := context.Background()

	err := st.AppendAudit(ctx, AuditEntry{
		ActorID: 1, ChatID: 5, Command: "follow", Target: "alice", OK: true,
	})
	if err != nil {
		t.Fatalf("AppendAudit: %v", err)
	}
	err = st.AppendAudit(ctx, AuditEntry{ActorID: 2, ChatID: 5, Command: "disable", OK: false, Error: "denied"})
	if err != nil {
		t.Fatalf("AppendAudit: %v", err)
	}
}
