package state

import (
	"testing"

	"genwatch/internal/generals"
)

func TestFollowLifecycle(t *testing.T) {
	t.Parallel()
	s := New()

	if s.IsFollowed("alice") {
		t.Fatal("unknown player reported followed")
	}
	if created := s.Follow("alice"); !created {
		t.Fatal("first follow did not report created")
	}
	if !s.IsFollowed("alice") {
		t.Fatal("player not followed after Follow")
	}

	// Unfollow disables but keeps the record and its history.
	s.SetStanding("alice", generals.Mode1v1, 5, 40.0)
	if !s.Unfollow("alice") {
		t.Fatal("unfollow of a followed player returned false")
	}
	if s.IsFollowed("alice") {
		t.Fatal("player still followed after Unfollow")
	}
	p, ok := s.Player("alice")
	if !ok {
		t.Fatal("player record deleted by Unfollow")
	}
	if p.Rank[generals.Mode1v1] != 5 {
		t.Fatal("standing lost across unfollow")
	}

	// Re-follow reactivates the same record instead of creating a new one.
	if created := s.Follow("alice"); created {
		t.Fatal("re-follow reported created")
	}
	if !s.IsFollowed("alice") {
		t.Fatal("player not followed after re-follow")
	}

	if s.Unfollow("ghost") {
		t.Fatal("unfollow of unknown player returned true")
	}
}

func TestAdvanceLastSeenMonotonic(t *testing.T) {
	t.Parallel()
	s := New()
	s.Follow("bob")

	if !s.AdvanceLastSeen("bob", 100) {
		t.Fatal("first advance rejected")
	}
	if s.AdvanceLastSeen("bob", 100) {
		t.Fatal("equal timestamp advanced")
	}
	if s.AdvanceLastSeen("bob", 50) {
		t.Fatal("older timestamp advanced")
	}
	if !s.AdvanceLastSeen("bob", 200) {
		t.Fatal("newer timestamp rejected")
	}
	p, _ := s.Player("bob")
	if p.LastSeen != 200 {
		t.Fatalf("LastSeen = %d, want 200", p.LastSeen)
	}

	if s.AdvanceLastSeen("ghost", 1) {
		t.Fatal("advance for unknown player returned true")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	t.Parallel()
	s := New()
	s.Follow("alice")
	s.Follow("bob")
	s.Unfollow("bob")
	s.AdvanceLastSeen("alice", 12345)
	s.SetStanding("alice", generals.Mode1v1, 3, 42.0)
	s.SetChannelEnabled(-100, true)
	s.SetChannelEnabled(7, false)
	s.AddOperators([]int64{1, 2})

	restored := FromSnapshot(s.Snapshot())

	if !restored.IsFollowed("alice") || restored.IsFollowed("bob") {
		t.Fatal("enabled flags lost across round trip")
	}
	p, ok := restored.Player("alice")
	if !ok || p.LastSeen != 12345 || p.Rank[generals.Mode1v1] != 3 || p.Stars[generals.Mode1v1] != 42.0 {
		t.Fatalf("player state lost: %+v", p)
	}
	if !restored.ChannelEnabled(-100) || restored.ChannelEnabled(7) {
		t.Fatal("channel flags lost across round trip")
	}
	if !restored.IsOperator(1) || !restored.IsOperator(2) || restored.IsOperator(3) {
		t.Fatal("operators lost across round trip")
	}
	// Only the enabled player resumes polling after a restart.
	enabled := restored.EnabledPlayers()
	if len(enabled) != 1 || enabled[0].Name != "alice" {
		t.Fatalf("enabled players = %+v, want just alice", enabled)
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	t.Parallel()
	s := New()
	s.Follow("alice")
	s.SetStanding("alice", generals.ModeFFA, 10, 20.0)

	snap := s.Snapshot()
	snap.Players[0].Rank[generals.ModeFFA] = 999

	p, _ := s.Player("alice")
	if p.Rank[generals.ModeFFA] != 10 {
		t.Fatal("mutating a snapshot leaked into the store")
	}
}

func TestEnabledChannels(t *testing.T) {
	t.Parallel()
	s := New()
	s.SetChannelEnabled(1, true)
	s.SetChannelEnabled(2, true)
	s.SetChannelEnabled(2, false)
	s.SetChannelEnabled(3, true)

	chs := s.EnabledChannels()
	if len(chs) != 2 {
		t.Fatalf("enabled channels = %d, want 2", len(chs))
	}
	for _, c := range chs {
		if c.ID == 2 {
			t.Fatal("disabled channel listed as enabled")
		}
	}
}

func TestFromSnapshotNil(t *testing.T) {
	t.Parallel()
	s := FromSnapshot(nil)
	if s == nil {
		t.Fatal("FromSnapshot(nil) returned nil")
	}
	if len(s.EnabledPlayers()) != 0 {
		t.Fatal("empty store has players")
	}
}
