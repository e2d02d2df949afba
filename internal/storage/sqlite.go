package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"genwatch/internal/generals"
	"genwatch/internal/state"
	"genwatch/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) LoadState(ctx context.Context) (*state.Snapshot, error) {
	snap := &state.Snapshot{}

	rows, err := s.db.QueryContext(ctx, `SELECT name, enabled, last_seen FROM players`)
	if err != nil {
		return nil, err
	}
	players := map[string]*state.Player{}
	for rows.Next() {
		var p state.Player
		var enabled int
		if err := rows.Scan(&p.Name, &enabled, &p.LastSeen); err != nil {
			rows.Close()
			return nil, err
		}
		p.Enabled = enabled != 0
		p.Rank = map[generals.Mode]int{}
		p.Stars = map[generals.Mode]float64{}
		players[p.Name] = &p
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT player, mode, rank, stars FROM standings`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var player, mode string
		var rank int
		var stars float64
		if err := rows.Scan(&player, &mode, &rank, &stars); err != nil {
			rows.Close()
			return nil, err
		}
		if p, ok := players[player]; ok {
			p.Rank[generals.Mode(mode)] = rank
			p.Stars[generals.Mode(mode)] = stars
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, p := range players {
		snap.Players = append(snap.Players, *p)
	}

	rows, err = s.db.QueryContext(ctx, `SELECT id, enabled FROM channels`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var c state.Channel
		var enabled int
		if err := rows.Scan(&c.ID, &enabled); err != nil {
			rows.Close()
			return nil, err
		}
		c.Enabled = enabled != 0
		snap.Channels = append(snap.Channels, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT id FROM operators`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		snap.Operators = append(snap.Operators, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(snap.Players) == 0 && len(snap.Channels) == 0 && len(snap.Operators) == 0 {
		return nil, nil
	}
	return snap, nil
}

// SaveState replaces the persisted snapshot wholesale inside one transaction,
// so readers after a crash always see a complete, self-consistent state.
func (s *sqliteStore) SaveState(ctx context.Context, snap *state.Snapshot) error {
	if snap == nil {
		return errors.New("nil snapshot")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{
		`DELETE FROM players`, `DELETE FROM standings`, `DELETE FROM channels`, `DELETE FROM operators`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	for _, p := range snap.Players {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO players(name, enabled, last_seen) VALUES(?,?,?)`,
			p.Name, boolInt(p.Enabled), p.LastSeen,
		); err != nil {
			return err
		}
		for mode, rank := range p.Rank {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO standings(player, mode, rank, stars) VALUES(?,?,?,?)`,
				p.Name, string(mode), rank, p.Stars[mode],
			); err != nil {
				return err
			}
		}
		// Stars recorded for a mode without a rank entry.
		for mode, stars := range p.Stars {
			if _, ok := p.Rank[mode]; ok {
				continue
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO standings(player, mode, rank, stars) VALUES(?,?,0,?)`,
				p.Name, string(mode), stars,
			); err != nil {
				return err
			}
		}
	}
	for _, c := range snap.Channels {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO channels(id, enabled) VALUES(?,?)`, c.ID, boolInt(c.Enabled),
		); err != nil {
			return err
		}
	}
	for _, id := range snap.Operators {
		if _, err := tx.ExecContext(ctx, `INSERT INTO operators(id) VALUES(?)`, id); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *sqliteStore) LoadDedup(ctx context.Context) (map[string]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, until FROM dedup`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]time.Time{}
	for rows.Next() {
		var key string
		var until int64
		if err := rows.Scan(&key, &until); err != nil {
			return nil, err
		}
		out[key] = time.UnixMilli(until)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SaveDedup(ctx context.Context, entries map[string]time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM dedup`); err != nil {
		return err
	}
	for key, until := range entries {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO dedup(key, until) VALUES(?,?)`, key, until.UnixMilli(),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor_id, actor_username, chat_id, command, target, ok, err)
		 VALUES(?,?,?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), e.ActorID, nullStr(e.ActorUsername), e.ChatID,
		e.Command, nullStr(e.Target), boolInt(e.OK), nullStr(e.Error),
	)
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
