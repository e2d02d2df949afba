// Package persist flushes in-memory state to durable storage on a fixed
// schedule. Flush failures are logged and retried on the next cycle; they
// never propagate into the rest of the process.
package persist

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"genwatch/internal/dedup"
	"genwatch/internal/state"
	"genwatch/internal/storage"
	"genwatch/pkg/logx"
)

const DefaultInterval = time.Minute

const flushTimeout = 30 * time.Second

type Config struct {
	Interval time.Duration
}

type Loop struct {
	mu    sync.Mutex
	c     *cron.Cron
	entry cron.EntryID
	ival  time.Duration

	st    *state.Store
	cache *dedup.Cache
	store storage.Store
	log   logx.Logger
}

func New(cfg Config, st *state.Store, cache *dedup.Cache, store storage.Store, log logx.Logger) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Loop{ival: cfg.Interval, st: st, cache: cache, store: store, log: log}
}

// Start registers the flush job and starts the scheduler. Idempotent.
func (l *Loop) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.c != nil {
		return nil
	}
	c := cron.New()
	id, err := c.AddFunc(fmt.Sprintf("@every %s", l.ival), l.safeFlush)
	if err != nil {
		return fmt.Errorf("schedule persistence: %w", err)
	}
	l.c = c
	l.entry = id
	c.Start()
	l.log.Info("persistence loop started", logx.Duration("interval", l.ival))
	return nil
}

// Apply reschedules the flush job with a new interval.
func (l *Loop) Apply(cfg Config) error {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if cfg.Interval == l.ival {
		return nil
	}
	l.ival = cfg.Interval
	if l.c == nil {
		return nil
	}
	l.c.Remove(l.entry)
	id, err := l.c.AddFunc(fmt.Sprintf("@every %s", l.ival), l.safeFlush)
	if err != nil {
		return fmt.Errorf("reschedule persistence: %w", err)
	}
	l.entry = id
	return nil
}

// Stop halts the scheduler, waits for an in-flight flush, then runs a final
// flush so a clean shutdown never loses the last interval's mutations.
func (l *Loop) Stop(ctx context.Context) {
	l.mu.Lock()
	c := l.c
	l.c = nil
	l.mu.Unlock()
	if c == nil {
		return
	}

	stopped := c.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
	}

	if err := l.Flush(ctx); err != nil {
		l.log.Error("final flush failed", logx.Err(err))
	}
}

func (l *Loop) safeFlush() {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("panic in flush",
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := l.Flush(ctx); err != nil {
		l.log.Warn("flush failed; will retry next cycle", logx.Err(err))
	}
}

// Flush writes the state snapshot and the dedup contents. Both writes are
// attempted even when the first fails.
func (l *Loop) Flush(ctx context.Context) error {
	snap := l.st.Snapshot()
	stateErr := l.store.SaveState(ctx, snap)
	if stateErr != nil {
		stateErr = fmt.Errorf("save state: %w", stateErr)
	}

	l.cache.Prune()
	dedupErr := l.store.SaveDedup(ctx, l.cache.Entries())
	if dedupErr != nil {
		dedupErr = fmt.Errorf("save dedup: %w", dedupErr)
	}

	if stateErr != nil {
		return stateErr
	}
	return dedupErr
}
