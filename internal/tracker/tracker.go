// Package tracker owns the per-player polling lifecycle: one goroutine per
// enabled followed player, each repeatedly fetching the player's latest
// replay and pushing a notification when a new one shows up. Start is
// idempotent per player, so re-following an already watched player can never
// spawn a second poller.
package tracker

import (
	"context"
	"sync"
	"time"

	"genwatch/internal/dedup"
	"genwatch/internal/generals"
	"genwatch/internal/render"
	rtsup "genwatch/internal/runtime/supervisor"
	"genwatch/internal/state"
	"genwatch/pkg/logx"
)

// Provider is the upstream game-service surface the tracker needs.
// *generals.Client satisfies it.
type Provider interface {
	LatestReplays(ctx context.Context, username string, count int) ([]generals.Replay, error)
	StarsAndRanks(ctx context.Context, username string) (generals.Standings, error)
	ValidateUsername(ctx context.Context, username string) (bool, error)
	IsSupporter(ctx context.Context, username string) (bool, error)
}

// Broadcaster fans one finished notification out to all enabled channels.
type Broadcaster interface {
	Broadcast(ctx context.Context, text string) error
}

type Config struct {
	PollInterval time.Duration
	ErrorBackoff time.Duration
}

func (c *Config) defaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 15 * time.Second
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = 30 * time.Second
	}
}

const fetchTimeout = 15 * time.Second

type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

type Tracker struct {
	mu    sync.Mutex
	cfg   Config
	tasks map[string]*task
	sup   *rtsup.Supervisor

	st          *state.Store
	provider    Provider
	cache       *dedup.Cache
	renderer    *render.Renderer
	broadcaster Broadcaster
	log         logx.Logger
}

func New(cfg Config, st *state.Store, provider Provider, cache *dedup.Cache, renderer *render.Renderer, broadcaster Broadcaster, log logx.Logger) *Tracker {
	cfg.defaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Tracker{
		cfg:         cfg,
		tasks:       map[string]*task{},
		st:          st,
		provider:    provider,
		cache:       cache,
		renderer:    renderer,
		broadcaster: broadcaster,
		log:         log,
	}
}

// Apply updates the poll timing. Running loops pick it up on their next wait.
func (t *Tracker) Apply(cfg Config) {
	cfg.defaults()
	t.mu.Lock()
	t.cfg = cfg
	t.mu.Unlock()
}

// Start binds the tracker to a run context and launches a poll task for
// every currently enabled player.
func (t *Tracker) Start(ctx context.Context) {
	t.mu.Lock()
	if t.sup != nil {
		t.mu.Unlock()
		return
	}
	t.sup = rtsup.New(ctx,
		rtsup.WithLogger(t.log.With(logx.String("comp", "tracker"))),
		rtsup.WithCancelOnError(false),
	)
	t.mu.Unlock()

	for _, p := range t.st.EnabledPlayers() {
		t.StartPlayer(p.Name)
	}
}

// Stop cancels all poll tasks and waits for them, bounded by ctx.
func (t *Tracker) Stop(ctx context.Context) {
	t.mu.Lock()
	sup := t.sup
	t.sup = nil
	t.tasks = map[string]*task{}
	t.mu.Unlock()

	if sup != nil {
		sup.Cancel()
		_ = sup.Wait(ctx)
	}
}

// StartPlayer launches the poll loop for a player. It is a no-op while a
// live task for the same player is registered; this is what upholds the
// at-most-one-poller-per-player invariant.
func (t *Tracker) StartPlayer(name string) bool {
	if name == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sup == nil {
		return false
	}
	if tk, ok := t.tasks[name]; ok {
		select {
		case <-tk.done:
			// Stale registration from a loop that already exited.
		default:
			return false
		}
	}

	loopCtx, cancel := context.WithCancel(t.sup.Context())
	tk := &task{cancel: cancel, done: make(chan struct{})}
	t.tasks[name] = tk

	t.sup.Go0("poll."+name, func(context.Context) {
		defer close(tk.done)
		defer t.forget(name, tk)
		t.runLoop(loopCtx, name)
	})
	return true
}

// StopPlayer signals the player's loop to exit at its next iteration
// boundary. Idempotent; an in-flight fetch is allowed to finish.
func (t *Tracker) StopPlayer(name string) {
	t.mu.Lock()
	tk, ok := t.tasks[name]
	if ok {
		delete(t.tasks, name)
	}
	t.mu.Unlock()
	if ok {
		tk.cancel()
	}
}

// Running reports whether a live poll task is registered for the player.
func (t *Tracker) Running(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	tk, ok := t.tasks[name]
	if !ok {
		return false
	}
	select {
	case <-tk.done:
		return false
	default:
		return true
	}
}

// RunningCount reports the number of live poll tasks.
func (t *Tracker) RunningCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, tk := range t.tasks {
		select {
		case <-tk.done:
		default:
			n++
		}
	}
	return n
}

func (t *Tracker) forget(name string, tk *task) {
	t.mu.Lock()
	if cur, ok := t.tasks[name]; ok && cur == tk {
		delete(t.tasks, name)
	}
	t.mu.Unlock()
}

func (t *Tracker) timing() (interval, backoff time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cfg.PollInterval, t.cfg.ErrorBackoff
}

// runLoop is one player's poll task. Iterations are strictly sequential; the
// loop exits when the player is disabled or the context is cancelled. A
// failed iteration waits the error backoff instead of the poll interval and
// never terminates the loop.
func (t *Tracker) runLoop(ctx context.Context, name string) {
	log := t.log.With(logx.String("player", name))
	log.Info("poll loop started")
	defer log.Info("poll loop stopped")

	for {
		if ctx.Err() != nil {
			return
		}
		if !t.st.IsFollowed(name) {
			log.Debug("player disabled; exiting loop")
			return
		}

		err := t.pollOnce(ctx, name, log)

		interval, backoff := t.timing()
		wait := interval
		if err != nil && ctx.Err() == nil {
			log.Warn("poll iteration failed", logx.Err(err))
			wait = backoff
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// pollOnce fetches the player's latest replay and runs the notification
// pipeline when it is new. The last-seen watermark advances BEFORE the
// dedup/broadcast steps: a crash mid-pipeline skips the match rather than
// repeating it on restart (at-most-once delivery, matching the original
// behavior this bot preserves).
func (t *Tracker) pollOnce(ctx context.Context, name string, log logx.Logger) error {
	fctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	replays, err := t.provider.LatestReplays(fctx, name, 1)
	cancel()
	if err != nil {
		return err
	}
	if len(replays) == 0 {
		return nil
	}
	r := replays[0]

	p, ok := t.st.Player(name)
	if !ok {
		return nil
	}
	if r.Started == p.LastSeen {
		return nil
	}
	if !t.st.AdvanceLastSeen(name, r.Started) {
		// Watermark already at or past this match (e.g. a restart served a
		// stale listing). Never move backwards.
		return nil
	}

	if !t.cache.MarkSeen(r.ID) {
		log.Debug("replay already notified", logx.String("replay", r.ID))
		return nil
	}

	log.Info("new match detected", logx.String("replay", r.ID), logx.String("type", r.Type))

	participants := t.collectParticipants(ctx, name, r)
	text, updates := t.renderer.Compose(r, participants)
	for _, u := range updates {
		t.st.SetStanding(u.Name, u.Mode, u.Rank, u.Stars)
	}

	if err := t.broadcaster.Broadcast(ctx, text); err != nil {
		log.Warn("broadcast incomplete", logx.String("replay", r.ID), logx.Err(err))
	}
	return nil
}

// collectParticipants filters the replay's ranking down to followed players
// and pairs each with their stored and freshly fetched standings. The polled
// player is always included. A standings fetch failure degrades that player
// to a flat trend instead of dropping the notification.
func (t *Tracker) collectParticipants(ctx context.Context, polled string, r generals.Replay) []render.Participant {
	mode := generals.ModeFromReplayType(r.Type)

	names := make([]string, 0, len(r.Ranking))
	seen := map[string]bool{}
	for _, e := range r.Ranking {
		if e.Name == "" || seen[e.Name] {
			continue
		}
		if e.Name == polled || t.st.IsFollowed(e.Name) {
			names = append(names, e.Name)
			seen[e.Name] = true
		}
	}
	if !seen[polled] {
		names = append([]string{polled}, names...)
	}

	out := make([]render.Participant, 0, len(names))
	for _, n := range names {
		p, ok := t.st.Player(n)
		if !ok {
			p = state.Player{Name: n}
		}
		part := render.Participant{
			Name:      n,
			PrevRank:  p.Rank[mode],
			PrevStars: p.Stars[mode],
			Rank:      p.Rank[mode],
			Stars:     p.Stars[mode],
		}

		if mode.Ranked() {
			fctx, cancel := context.WithTimeout(ctx, fetchTimeout)
			standings, err := t.provider.StarsAndRanks(fctx, n)
			cancel()
			if err != nil {
				t.log.Warn("standings fetch failed", logx.String("player", n), logx.Err(err))
			} else {
				key := mode.RankKey()
				part.Rank = standings.Ranks[key]
				part.Stars = standings.Stars[key]
			}
		}

		fctx, cancel := context.WithTimeout(ctx, fetchTimeout)
		if sup, err := t.provider.IsSupporter(fctx, n); err == nil {
			part.Supporter = sup
		}
		cancel()

		out = append(out, part)
	}
	return out
}
