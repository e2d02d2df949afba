// Package notifier fans finished-match notifications out to every enabled
// channel through an async pipeline: queue, worker pool, token-bucket rate
// limit, and bounded retry. A failing channel delays only its own job, never
// delivery to the other channels.
package notifier

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"genwatch/internal/eventbus"
	rtsup "genwatch/internal/runtime/supervisor"
	"genwatch/internal/state"
	kit "genwatch/internal/transport"
	"genwatch/pkg/logx"
)

var (
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

const (
	// EventSent and EventFailed are published on the bus per channel delivery.
	EventSent   = "notify.sent"
	EventFailed = "notify.failed"
)

// DeliveryEvent is the bus payload for notifier lifecycle events.
type DeliveryEvent struct {
	ChatID int64     `json:"chat_id"`
	At     time.Time `json:"at"`
	Error  string    `json:"error,omitempty"`
}

type Config struct {
	Workers       int
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
}

func (c *Config) defaults() {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 3
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
}

// ChannelLister yields the current broadcast destinations. Satisfied by
// *state.Store.
type ChannelLister interface {
	EnabledChannels() []state.Channel
}

type job struct {
	target kit.ChatTarget
	text   string
}

type Service struct {
	mu sync.Mutex

	log      logx.Logger
	adapter  kit.Adapter
	channels ChannelLister
	bus      eventbus.Bus

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	queue     chan job
	sup       *rtsup.Supervisor
}

func New(cfg Config, adapter kit.Adapter, channels ChannelLister, log logx.Logger, bus eventbus.Bus) *Service {
	cfg.defaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:      log,
		adapter:  adapter,
		channels: channels,
		bus:      bus,
		cfg:      cfg,
		// Burst = rate per sec, so short spikes don't block too hard.
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
}

// Apply updates the tunable pipeline settings. Worker/queue sizing applies on
// the next Start; the rate limiter applies immediately.
func (s *Service) Apply(cfg Config) {
	cfg.defaults()
	s.mu.Lock()
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	s.mu.Unlock()
}

// Start is idempotent.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.queue != nil {
		s.mu.Unlock()
		return
	}
	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	workers := s.cfg.Workers

	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "notifier"))),
		// Notifier failures should not take down the whole app.
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	q := s.queue
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		sup.Go0("notify.worker", func(c context.Context) {
			for {
				select {
				case <-c.Done():
					return
				case j, ok := <-q:
					if !ok {
						return
					}
					s.deliver(c, j)
				}
			}
		})
	}
	s.log.Info("notifier started", logx.Int("workers", workers), logx.Int("queue_cap", cap(q)))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.accepting = false
	q := s.queue
	s.queue = nil
	s.mu.Unlock()

	if q != nil {
		close(q)
	}
	if sup != nil {
		sup.Cancel()
		_ = sup.Wait(ctx)
	}
}

// Broadcast enqueues one delivery per currently enabled channel. It never
// blocks on slow channels; when the queue is full the overflow channels are
// reported in the returned error.
func (s *Service) Broadcast(ctx context.Context, text string) error {
	_ = ctx
	targets := s.channels.EnabledChannels()
	if len(targets) == 0 {
		s.log.Debug("broadcast skipped: no enabled channels")
		return nil
	}

	s.mu.Lock()
	accepting := s.accepting
	q := s.queue
	s.mu.Unlock()
	if !accepting || q == nil {
		return ErrStopped
	}

	var dropped int
	for _, ch := range targets {
		j := job{target: kit.ChatTarget{ChatID: ch.ID}, text: text}
		if !s.tryEnqueue(q, j) {
			dropped++
			s.log.Warn("broadcast dropped (queue full)", logx.Int64("chat", ch.ID))
		}
	}
	if dropped > 0 {
		return ErrQueueFull
	}
	return nil
}

// tryEnqueue is panic-safe against the queue being closed during Stop.
func (s *Service) tryEnqueue(q chan job, j job) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case q <- j:
		return true
	default:
		return false
	}
}

func (s *Service) deliver(ctx context.Context, j job) {
	s.mu.Lock()
	limiter := s.limiter
	cfg := s.cfg
	s.mu.Unlock()

	if err := limiter.Wait(ctx); err != nil {
		return
	}

	var err error
	delay := cfg.RetryBase
	for attempt := 0; ; attempt++ {
		sctx, cancel := context.WithTimeout(ctx, 15*time.Second)
		err = s.adapter.SendText(sctx, j.target, j.text, &kit.SendOptions{DisablePreview: false})
		cancel()
		if err == nil || attempt >= cfg.RetryMax || ctx.Err() != nil {
			break
		}
		s.log.Debug("send failed; retrying", logx.Int64("chat", j.target.ChatID), logx.Int("attempt", attempt+1), logx.Err(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > cfg.RetryMaxDelay {
			delay = cfg.RetryMaxDelay
		}
	}

	ev := DeliveryEvent{ChatID: j.target.ChatID, At: time.Now()}
	if err != nil {
		ev.Error = err.Error()
		s.log.Warn("broadcast failed", logx.Int64("chat", j.target.ChatID), logx.Err(err))
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: EventFailed, Data: ev})
		}
		return
	}
	s.log.Debug("broadcast delivered", logx.Int64("chat", j.target.ChatID))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: EventSent, Data: ev})
	}
}
