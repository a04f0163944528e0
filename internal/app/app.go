// Package app wires the reader bot together and owns its lifecycle.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"readerbot/internal/ai"
	"readerbot/internal/bot"
	"readerbot/internal/config"
	"readerbot/internal/countdown"
	"readerbot/internal/delivery"
	"readerbot/internal/eventbus"
	"readerbot/internal/ingest"
	"readerbot/internal/reading"
	rtsup "readerbot/internal/runtime/supervisor"
	"readerbot/internal/schedule"
	"readerbot/internal/storage"
	kit "readerbot/internal/transport"
	telegram "readerbot/internal/transport/telegram/adapter"
	"readerbot/internal/webapp"
	logx "readerbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	cfg  *config.Config
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	stats *eventbus.Stats
	store storage.Store

	adapter  kit.Adapter
	reader   *reading.Controller
	pipeline *delivery.Pipeline
	ingest   *ingest.Service
	web      *webapp.Server

	// Built in Start; they run on the app supervisor.
	schedules *schedule.Manager
	router    *bot.Router

	updates chan kit.Update
}

// New loads the config and builds every component that does not need the
// run context.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	return build(cfgm, cfg)
}

func build(cfgm *config.Manager, cfg *config.Config) (*App, error) {
	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	pollTimeout, err := config.Duration("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, PollTimeout: pollTimeout}, bootLog)
	if err != nil {
		return nil, err
	}

	// The Telegram sink needs its target before it is enabled, otherwise
	// Apply warns about a missing chat.
	logCfg := mapLogging(cfg)
	boot := logCfg
	boot.Telegram.Enabled = false
	logSvc, log := logx.New(boot, ad)
	logSvc.SetTelegramTarget(cfg.GroupLogChat(), cfg.Logging.Telegram.ThreadID)
	logSvc.Apply(logCfg)
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	sc, err := mapStorage(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	log.Info("storage ready", logx.String("driver", sc.Driver), logx.String("path", sc.Path))

	bus := eventbus.New()
	reader := reading.New(store, log.With(logx.String("comp", "reading")))

	waits, tick, err := mapWaits(cfg)
	if err != nil {
		return nil, err
	}
	deps := delivery.Deps{
		Reader:       reader,
		Store:        store,
		Sender:       ad,
		Countdown:    countdown.New(ad, log.With(logx.String("comp", "countdown"))).WithTick(tick),
		Bus:          bus,
		Log:          log.With(logx.String("comp", "delivery")),
		DefaultVoice: defaultVoice(cfg),
	}
	aiCfg, aiOn, err := mapAI(cfg)
	if err != nil {
		return nil, err
	}
	if aiOn {
		client := ai.New(aiCfg, log.With(logx.String("comp", "ai")))
		deps.Formatter, deps.Synthesizer = client, client
	} else {
		log.Warn("ai.api_key not set; formatting and narration disabled")
	}

	icfg, err := mapIngest(cfg)
	if err != nil {
		return nil, err
	}
	wcfg, err := mapWebApp(cfg)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfgm:     cfgm,
		cfg:      cfg,
		log:      log.With(logx.String("comp", "app")),
		logs:     logSvc,
		bus:      bus,
		stats:    &eventbus.Stats{},
		store:    store,
		adapter:  ad,
		reader:   reader,
		pipeline: delivery.New(deps, waits),
		ingest:   ingest.New(store, reader, bus, icfg, log.With(logx.String("comp", "ingest"))),
		updates:  make(chan kit.Update, 256),
	}
	a.web = webapp.New(wcfg, reader, a.health, log.With(logx.String("comp", "webapp")))
	return a, nil
}

// Done is closed when the app supervisor is cancelled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) health() any {
	out := map[string]any{"events": a.stats.Snapshot(), "events_dropped": a.bus.Dropped()}
	if a.schedules != nil {
		out["schedules"] = a.schedules.Len()
	}
	sups := map[string]rtsup.Counters{"app": a.sup.Counters()}
	if sp, ok := a.adapter.(interface{ Supervisor() *rtsup.Supervisor }); ok {
		sups["telegram"] = sp.Supervisor().Counters()
	}
	out["supervisors"] = sups
	return out
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	loc, err := a.cfg.Location()
	if err != nil {
		return err
	}
	a.schedules = schedule.New(a.pipeline, a.sup, a.log.With(logx.String("comp", "schedule")),
		schedule.WithLocation(loc), schedule.WithBus(a.bus))

	handlerTimeout, err := config.Duration("telegram.handler_timeout", a.cfg.Telegram.HandlerTimeout, 2*time.Minute)
	if err != nil {
		return err
	}
	a.router = bot.NewRouter(a.adapter, a.log.With(logx.String("comp", "bot")), handlerTimeout, a.cfg.Telegram.ChatQueue)
	bot.New(bot.Deps{
		Adapter:   a.adapter,
		Store:     a.store,
		Reader:    a.reader,
		Pipeline:  a.pipeline,
		Schedules: a.schedules,
		Ingest:    a.ingest,
		Log:       a.log.With(logx.String("comp", "bot")),
		WebAppURL: strings.TrimSpace(a.cfg.Telegram.WebAppURL),
	}).Register(a.router)

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	if mu, ok := a.adapter.(kit.CommandMenuUpdater); ok {
		if err := mu.UpdateMenuCommands(ctx, a.router.Commands()); err != nil {
			a.log.Warn("command menu not updated", logx.Err(err))
		}
	}

	a.sup.Go0("eventbus.stats", func(c context.Context) { a.stats.Run(c, a.bus) })
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	})

	a.sup.Go("bot.dispatch", func(c context.Context) error {
		return a.router.Run(c, a.updates)
	})

	if a.web.Enabled() {
		a.web.Start(a.sup.Context())
	}

	a.startReload()
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started",
		logx.Bool("webapp", a.web.Enabled()),
		logx.String("timezone", loc.String()),
	)
	return nil
}

// startReload applies hot-reloadable sections (logging and countdown
// durations). Everything else is reported as needing a restart.
func (a *App) startReload() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(last, next)
				last = next
			}
		}
	})
}

func (a *App) applyConfig(prev, next *config.Config) {
	sections, attrs := config.Summarize(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.SetTelegramTarget(next.GroupLogChat(), next.Logging.Telegram.ThreadID)
	a.logs.Apply(mapLogging(next))

	if waits, _, err := mapWaits(next); err != nil {
		a.log.Warn("invalid countdown config; keeping previous", logx.Err(err))
	} else {
		a.pipeline.SetWaits(waits)
	}

	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.String("sections", strings.Join(restart, ",")))
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	// step bounds one shutdown stage so a stuck component cannot stall the
	// rest. It never extends the caller's deadline.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		sctx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(sctx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-sctx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("schedules", 2*time.Second, func(context.Context) error {
		if a.schedules != nil {
			a.schedules.StopAll()
		}
		return nil
	})
	step("webapp", 2*time.Second, func(c context.Context) error { a.web.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}
