// Package app assembles the bot: config, logging, storage, the follow state,
// the poll tracker, the command router, the notifier, and the persistence
// loop. It owns startup order, config hot reload, and bounded shutdown.
package app

import (
	"context"
	"fmt"
	"time"

	"genwatch/internal/config"
	"genwatch/internal/dedup"
	"genwatch/internal/eventbus"
	"genwatch/internal/generals"
	"genwatch/internal/notifier"
	"genwatch/internal/persist"
	"genwatch/internal/render"
	"genwatch/internal/router"
	rtsup "genwatch/internal/runtime/supervisor"
	"genwatch/internal/state"
	"genwatch/internal/storage"
	"genwatch/internal/tracker"
	"genwatch/internal/transport"
	"genwatch/internal/transport/telegram"
	"genwatch/pkg/logx"
)

const bootTimeout = 30 * time.Second

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	scfg  storage.Config

	st    *state.Store
	cache *dedup.Cache

	client  *generals.Client
	adapter transport.Adapter
	notif   *notifier.Service
	trk     *tracker.Tracker
	rtr     *router.Router
	ploop   *persist.Loop

	updates chan transport.Update
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	scfg, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(scfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	bootCtx, cancel := context.WithTimeout(context.Background(), bootTimeout)
	defer cancel()

	snap, err := store.LoadState(bootCtx)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	st := state.FromSnapshot(snap)
	st.AddOperators(cfg.Telegram.OperatorUserIDs)
	if snap != nil {
		log.Info("state restored",
			logx.Int("players", len(snap.Players)),
			logx.Int("channels", len(snap.Channels)))
	}

	window, maxEntries, err := mapDedupConfig(cfg)
	if err != nil {
		return nil, err
	}
	cache := dedup.New(window, maxEntries)
	if entries, err := store.LoadDedup(bootCtx); err != nil {
		log.Warn("dedup restore failed; starting empty", logx.Err(err))
	} else {
		cache.Restore(entries)
	}

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	gcfg, err := mapGeneralsConfig(cfg)
	if err != nil {
		return nil, err
	}
	client := generals.NewClient(gcfg, log.With(logx.String("comp", "generals")))

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	notif := notifier.New(ncfg, ad, st, log.With(logx.String("comp", "notifier")), bus)

	loc, err := loadTimezone(cfg)
	if err != nil {
		return nil, err
	}
	renderer := render.New(loc, client.PermalinkURL)

	tcfg, err := mapTrackerConfig(cfg)
	if err != nil {
		return nil, err
	}
	trk := tracker.New(tcfg, st, client, cache, renderer, notif, log.With(logx.String("comp", "tracker")))

	rtr := router.New(st, trk, client, ad, bus, log.With(logx.String("comp", "router")))

	pcfg, err := mapPersistConfig(cfg)
	if err != nil {
		return nil, err
	}
	ploop := persist.New(pcfg, st, cache, store, log.With(logx.String("comp", "persist")))

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		scfg:    scfg,
		st:      st,
		cache:   cache,
		client:  client,
		adapter: ad,
		notif:   notif,
		trk:     trk,
		rtr:     rtr,
		ploop:   ploop,
		updates: make(chan transport.Update, 256),
	}, nil
}

// Done is closed when the app supervisor context is cancelled, either by a
// fatal component error or by Stop.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		// Reject bad hot-reloads before anything is applied.
		if _, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 0); err != nil {
			return err
		}
		if _, err := mapGeneralsConfig(cfg); err != nil {
			return err
		}
		if _, err := mapTrackerConfig(cfg); err != nil {
			return err
		}
		if _, err := mapNotifierConfig(cfg); err != nil {
			return err
		}
		if _, _, err := mapDedupConfig(cfg); err != nil {
			return err
		}
		if _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		if _, err := mapPersistConfig(cfg); err != nil {
			return err
		}
		if _, err := loadTimezone(cfg); err != nil {
			return err
		}
		return nil
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	a.notif.Start(a.sup.Context())
	a.trk.Start(a.sup.Context())
	if err := a.ploop.Start(); err != nil {
		return err
	}

	a.sup.Go0("router.dispatch", func(c context.Context) {
		a.rtr.Run(c, a.updates)
	})

	a.startAuditSink()
	a.startConfigReload()

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started", logx.Int("polling", a.trk.RunningCount()))
	return nil
}

// startAuditSink persists command audit events published by the router.
func (a *App) startAuditSink() {
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("audit.sink", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				if e.Type != router.EventCommand {
					continue
				}
				entry, ok := e.Data.(storage.AuditEntry)
				if !ok {
					continue
				}
				wctx, cancel := context.WithTimeout(c, 5*time.Second)
				if err := a.store.AppendAudit(wctx, entry); err != nil {
					a.log.Warn("audit append failed", logx.Err(err))
				}
				cancel()
			}
		}
	})
}

// startConfigReload applies validated config changes to the live services.
// Storage driver changes need a restart and are only warned about.
func (a *App) startConfigReload() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts, keep only the latest.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyConfig(newCfg)
			}
		}
	})
}

func (a *App) applyConfig(cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	// Operators merge; once granted for the process lifetime, never revoked
	// by reload.
	a.st.AddOperators(cfg.Telegram.OperatorUserIDs)

	if tcfg, err := mapTrackerConfig(cfg); err != nil {
		a.log.Warn("invalid tracker config; keeping previous", logx.Err(err))
	} else {
		a.trk.Apply(tcfg)
	}

	if ncfg, err := mapNotifierConfig(cfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg)
	}

	if pcfg, err := mapPersistConfig(cfg); err != nil {
		a.log.Warn("invalid persist config; keeping previous", logx.Err(err))
	} else if err := a.ploop.Apply(pcfg); err != nil {
		a.log.Warn("persist reschedule failed", logx.Err(err))
	}

	if scfg, err := mapStorageConfig(cfg); err == nil && scfg != a.scfg {
		a.log.Warn("storage config changed; restart required for changes to take effect")
		a.scfg = scfg
	}

	a.log.Info("config reloaded")
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Bound each shutdown step so one stalled component can't hang the stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()
		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name))
		}
	}

	// Order matters: stop producing notifications, drain the notifier, flush
	// state, then tear the transport and storage down.
	step("tracker", 5*time.Second, func(c context.Context) error { a.trk.Stop(c); return nil })
	step("notifier", 5*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("persist", 10*time.Second, func(c context.Context) error { a.ploop.Stop(c); return nil })
	step("adapter", 3*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })

	a.sup.Cancel()
	step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	step("storage", 2*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
