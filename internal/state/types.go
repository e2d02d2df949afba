package state

import "genwatch/internal/generals"

// Player is one followed generals.io username. Unfollowing disables a player
// instead of deleting it, so rating history and the last-seen watermark
// survive a later re-follow.
type Player struct {
	Name    string `yaml:"name" json:"name"`
	Enabled bool   `yaml:"enabled" json:"enabled"`

	// LastSeen is the start timestamp (unix millis) of the most recent match
	// observed for this player. It only ever moves forward.
	LastSeen int64 `yaml:"last_seen" json:"last_seen"`

	Rank  map[generals.Mode]int     `yaml:"rank" json:"rank"`
	Stars map[generals.Mode]float64 `yaml:"stars" json:"stars"`
}

func (p Player) clone() Player {
	cp := p
	cp.Rank = make(map[generals.Mode]int, len(p.Rank))
	for k, v := range p.Rank {
		cp.Rank[k] = v
	}
	cp.Stars = make(map[generals.Mode]float64, len(p.Stars))
	for k, v := range p.Stars {
		cp.Stars[k] = v
	}
	return cp
}

// Channel is one broadcast destination chat.
type Channel struct {
	ID      int64 `yaml:"id" json:"id"`
	Enabled bool  `yaml:"enabled" json:"enabled"`
}

// Snapshot is the complete persisted shape: a self-consistent copy of all
// followed players, channels, and operators.
type Snapshot struct {
	Channels  []Channel `yaml:"channels" json:"channels"`
	Players   []Player  `yaml:"followed_players" json:"followed_players"`
	Operators []int64   `yaml:"operators" json:"operators"`
}
