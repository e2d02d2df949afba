package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"context"

	yaml "go.yaml.in/yaml/v3"

	"genwatch/internal/state"
	"genwatch/pkg/logx"
)

// fileStore keeps the state snapshot as YAML in a primary file plus a
// secondary backup copy, so a crash mid-write to either file still leaves a
// readable snapshot. Dedup entries live in a JSON sidecar and audit records
// in an append-only JSON Lines file.
//
// Files for path "data.yml":
//   - data.yml            (primary snapshot)
//   - data.yml.bak        (backup snapshot)
//   - data.dedup.json     (dedup sidecar)
//   - data.audit.jsonl    (append-only audit)
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	statePath  string
	backupPath string
	dedupPath  string

	auditFile *os.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)

	af, err := os.OpenFile(prefix+".audit.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileStore{
		log:        log,
		statePath:  path,
		backupPath: path + ".bak",
		dedupPath:  prefix + ".dedup.json",
		auditFile:  af,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile != nil {
		err := s.auditFile.Close()
		s.auditFile = nil
		return err
	}
	return nil
}

func (s *fileStore) LoadState(ctx context.Context) (*state.Snapshot, error) {
	_ = ctx
	snap, err := readSnapshot(s.statePath)
	if err == nil {
		return snap, nil
	}
	if os.IsNotExist(err) {
		// Primary never written; the backup may still exist from an
		// interrupted earlier run.
		snap, berr := readSnapshot(s.backupPath)
		if berr == nil {
			s.log.Warn("state loaded from backup", logx.String("path", s.backupPath))
			return snap, nil
		}
		if os.IsNotExist(berr) {
			return nil, nil
		}
		return nil, berr
	}

	// Primary exists but is unreadable or corrupt; fall back to the backup.
	s.log.Warn("primary state unreadable; trying backup", logx.String("path", s.statePath), logx.Err(err))
	snap, berr := readSnapshot(s.backupPath)
	if berr != nil {
		return nil, fmt.Errorf("primary: %w (backup: %v)", err, berr)
	}
	return snap, nil
}

func readSnapshot(path string) (*state.Snapshot, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var snap state.Snapshot
	if err := yaml.Unmarshal(b, &snap); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &snap, nil
}

// SaveState writes the snapshot to both locations. A failure on one location
// does not prevent the attempt on the other; the combined error is returned
// for logging but the better copy is already durable.
func (s *fileStore) SaveState(ctx context.Context, snap *state.Snapshot) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap == nil {
		return errors.New("nil snapshot")
	}
	b, err := yaml.Marshal(snap)
	if err != nil {
		return err
	}

	errPrimary := writeFileAtomic(s.statePath, b)
	errBackup := writeFileAtomic(s.backupPath, b)
	return errors.Join(errPrimary, errBackup)
}

// writeFileAtomic writes via a temp file and rename so readers never observe
// a partially written snapshot.
func writeFileAtomic(path string, b []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *fileStore) LoadDedup(ctx context.Context) (map[string]time.Time, error) {
	_ = ctx
	b, err := os.ReadFile(s.dedupPath)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]time.Time{}, nil
		}
		return nil, err
	}
	var raw map[string]int64
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("%s: %w", s.dedupPath, err)
	}
	out := make(map[string]time.Time, len(raw))
	for k, ms := range raw {
		out[k] = time.UnixMilli(ms)
	}
	return out, nil
}

func (s *fileStore) SaveDedup(ctx context.Context, entries map[string]time.Time) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	raw := make(map[string]int64, len(entries))
	for k, t := range entries {
		raw[k] = t.UnixMilli()
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return writeFileAtomic(s.dedupPath, b)
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return errors.New("audit file closed")
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}
