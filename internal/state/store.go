// Package state owns the mutable follow/channel/operator registry. All reads
// and mutations go through a single mutex so observers see either the pre- or
// post-mutation state, never a torn one. Callers never hold the lock across
// network calls; methods copy in and out.
package state

import (
	"sort"
	"sync"

	"genwatch/internal/generals"
)

type Store struct {
	mu        sync.RWMutex
	players   map[string]*Player
	channels  map[int64]*Channel
	operators map[int64]struct{}
}

// New returns an empty store: no followed players, no channels, no operators.
// The process starts cleanly from this when no persisted state exists.
func New() *Store {
	return &Store{
		players:   map[string]*Player{},
		channels:  map[int64]*Channel{},
		operators: map[int64]struct{}{},
	}
}

// FromSnapshot rebuilds a store from a persisted snapshot.
func FromSnapshot(snap *Snapshot) *Store {
	s := New()
	if snap == nil {
		return s
	}
	for _, p := range snap.Players {
		if p.Name == "" {
			continue
		}
		cp := p.clone()
		if cp.Rank == nil {
			cp.Rank = map[generals.Mode]int{}
		}
		if cp.Stars == nil {
			cp.Stars = map[generals.Mode]float64{}
		}
		s.players[cp.Name] = &cp
	}
	for _, c := range snap.Channels {
		cc := c
		s.channels[c.ID] = &cc
	}
	for _, id := range snap.Operators {
		s.operators[id] = struct{}{}
	}
	return s
}

// Snapshot returns a deep, self-consistent copy suitable for persistence.
// Slices are sorted so snapshots are stable across runs.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &Snapshot{
		Players:   make([]Player, 0, len(s.players)),
		Channels:  make([]Channel, 0, len(s.channels)),
		Operators: make([]int64, 0, len(s.operators)),
	}
	for _, p := range s.players {
		snap.Players = append(snap.Players, p.clone())
	}
	for _, c := range s.channels {
		snap.Channels = append(snap.Channels, *c)
	}
	for id := range s.operators {
		snap.Operators = append(snap.Operators, id)
	}
	sort.Slice(snap.Players, func(i, j int) bool { return snap.Players[i].Name < snap.Players[j].Name })
	sort.Slice(snap.Channels, func(i, j int) bool { return snap.Channels[i].ID < snap.Channels[j].ID })
	sort.Slice(snap.Operators, func(i, j int) bool { return snap.Operators[i] < snap.Operators[j] })
	return snap
}

// ---- Players ----

// Player returns a copy of the named player.
func (s *Store) Player(name string) (Player, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.players[name]
	if !ok {
		return Player{}, false
	}
	return p.clone(), true
}

// IsFollowed reports whether the player exists and is enabled.
func (s *Store) IsFollowed(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.players[name]
	return ok && p.Enabled
}

// Follow enables the named player, creating it with zeroed standings when it
// is not yet known. It reports whether the player was newly created.
func (s *Store) Follow(name string) (created bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.players[name]; ok {
		p.Enabled = true
		return false
	}
	s.players[name] = &Player{
		Name:    name,
		Enabled: true,
		Rank:    map[generals.Mode]int{},
		Stars:   map[generals.Mode]float64{},
	}
	return true
}

// Unfollow disables the player, keeping its history. It reports whether the
// player was known.
func (s *Store) Unfollow(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[name]
	if !ok {
		return false
	}
	p.Enabled = false
	return true
}

// EnabledPlayers returns copies of all enabled players, sorted by name.
func (s *Store) EnabledPlayers() []Player {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Player, 0, len(s.players))
	for _, p := range s.players {
		if p.Enabled {
			out = append(out, p.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// AdvanceLastSeen moves the player's last-seen watermark forward to started.
// It returns false, leaving the watermark untouched, when the player is
// unknown or started is not newer; this is what keeps the watermark
// monotonically non-decreasing.
func (s *Store) AdvanceLastSeen(name string, started int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[name]
	if !ok || started <= p.LastSeen {
		return false
	}
	p.LastSeen = started
	return true
}

// SetStanding overwrites the player's stored rank and stars for one mode.
func (s *Store) SetStanding(name string, mode generals.Mode, rank int, stars float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[name]
	if !ok {
		return
	}
	p.Rank[mode] = rank
	p.Stars[mode] = stars
}

// ---- Channels ----

// SetChannelEnabled toggles a channel, creating it implicitly when unknown.
func (s *Store) SetChannelEnabled(id int64, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.channels[id]
	if !ok {
		s.channels[id] = &Channel{ID: id, Enabled: enabled}
		return
	}
	c.Enabled = enabled
}

// ChannelEnabled reports whether the channel exists and receives broadcasts.
func (s *Store) ChannelEnabled(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.channels[id]
	return ok && c.Enabled
}

// EnabledChannels returns all broadcast destinations, sorted by id.
func (s *Store) EnabledChannels() []Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Channel, 0, len(s.channels))
	for _, c := range s.channels {
		if c.Enabled {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ---- Operators ----

func (s *Store) IsOperator(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.operators[id]
	return ok
}

// AddOperators merges ids into the operator set (config seed + persisted set).
func (s *Store) AddOperators(ids []int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.operators[id] = struct{}{}
	}
}
