// Package app wires the bot: storage, the Telegram transport, the publish
// loop (scheduled) and the receive loop (supervised), plus config reload.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"newsbot/internal/articles"
	"newsbot/internal/commands"
	"newsbot/internal/config"
	"newsbot/internal/delivery"
	"newsbot/internal/eventbus"
	"newsbot/internal/inbound"
	"newsbot/internal/mirror"
	"newsbot/internal/publish"
	"newsbot/internal/runtime/supervisor"
	"newsbot/internal/scheduler"
	"newsbot/internal/source"
	"newsbot/internal/storage"
	"newsbot/internal/subscribers"
	"newsbot/internal/transport"
	"newsbot/internal/transport/telegram"
	logx "newsbot/pkg/logx"
)

// Bot is the transport plus the Telegram extras used at startup.
type Bot interface {
	transport.Bot
	Username(ctx context.Context) (string, error)
	SetCommands(ctx context.Context, cmds []telegram.Command) error
}

type App struct {
	cfgm *config.Manager
	cfg  *config.Config
	sup  *supervisor.Supervisor

	log    logx.Logger
	logs   *logx.Service
	bus    eventbus.Bus
	store  storage.Store
	bot    Bot
	notify notifier

	articles *articles.Store
	subs     *subscribers.Registry
	pub      *publish.Publisher
	sched    *scheduler.Service
	mirror   *mirror.Mirror

	interp *commands.Interpreter
	recv   *inbound.Receiver
}

// New loads cfgPath and builds the production app.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	tc, err := telegramConfig(cfg)
	if err != nil {
		return nil, err
	}
	bot, err := telegram.New(tc, logx.NewConsole("INFO"))
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(logConfig(cfg), bot)

	sc, err := storageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	log.Info("storage opened", logx.String("driver", sc.Driver))

	src, err := buildSource(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	sinks, err := mirrorSinks(ctx, cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	a, err := build(cfgm, cfg, Deps{Bot: bot, Store: store, Source: src, Sinks: sinks, Logs: logs, Log: log})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return a, nil
}

func buildSource(cfg *config.Config) (*source.Source, error) {
	sc, err := sourceConfig(cfg)
	if err != nil {
		return nil, err
	}
	return source.New(sc)
}

// Deps are the externally built parts of the app.
type Deps struct {
	Bot    Bot
	Store  storage.Store
	Source publish.Source
	Sinks  []mirror.Sink
	Logs   *logx.Service // optional
	Log    logx.Logger
}

func build(cfgm *config.Manager, cfg *config.Config, d Deps) (*App, error) {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	bus := eventbus.New()
	arts := articles.New(d.Store)
	subs := subscribers.New(d.Store)
	pub := publish.New(d.Source, arts, subs, delivery.New(d.Store), d.Bot, bus, d.Log, publishOptions(cfg))

	schedCfg, err := schedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	a := &App{
		cfgm:     cfgm,
		cfg:      cfg,
		log:      d.Log.With(logx.String("comp", "app")),
		logs:     d.Logs,
		bus:      bus,
		store:    d.Store,
		bot:      d.Bot,
		notify:   notifier{log: d.Log.With(logx.String("comp", "systemd"))},
		articles: arts,
		subs:     subs,
		pub:      pub,
		mirror:   mirror.New(d.Sinks, d.Log),
	}
	sched, err := scheduler.New("publish", schedCfg, a.publishJob, d.Log)
	if err != nil {
		return nil, err
	}
	a.sched = sched
	return a, nil
}

func (a *App) publishJob(ctx context.Context) error {
	_, err := a.pub.Cycle(ctx)
	return err
}

// Err returns the first fatal error recorded by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))
	run := a.sup.Context()

	if err := a.articles.Load(run); err != nil {
		// The publish cycle retries the load.
		a.log.Warn("loading last article failed", logx.Err(err))
	}

	opts := []commands.Option{commands.WithMessages(messages(a.cfg))}
	uctx, cancel := context.WithTimeout(run, 10*time.Second)
	if name, err := a.bot.Username(uctx); err != nil {
		a.log.Warn("bot username lookup failed; accepting all @-addressed commands", logx.Err(err))
	} else {
		opts = append(opts, commands.WithBotUsername(name))
		a.log.Info("bot identity", logx.String("username", name))
	}
	if err := a.bot.SetCommands(uctx, menu()); err != nil {
		a.log.Warn("setting command menu failed", logx.Err(err))
	}
	cancel()

	a.interp = commands.New(a.subs, a.articles, a.bot, a.log, opts...)
	ropts, err := receiverOptions(a.cfg)
	if err != nil {
		return err
	}
	a.recv = inbound.NewReceiver(a.bot, a.interp, inbound.NewCursor(a.store, inbound.DefaultCursorName), a.bus, a.log, ropts)

	if a.mirror.Len() > 0 {
		a.sup.Go("mirror", func(c context.Context) error { return a.mirror.Run(c, a.bus) })
	}
	a.sup.GoFunc("eventbus.log", a.logEvents)

	if err := a.sched.Start(run); err != nil {
		return err
	}
	a.sup.GoRestart("inbound.receive", a.recv.Run, supervisor.WithRestartBackoff(time.Second, time.Minute))

	if a.cfgm != nil {
		a.cfgm.SetLogger(a.log)
		a.cfgm.SetValidator(a.checkReload)
		a.log.Info("watching config", logx.String("path", a.cfgm.Path()))
		sub := a.cfgm.Subscribe(8)
		a.sup.GoFunc("config.reload", func(c context.Context) { a.reloadLoop(c, sub) })
		a.sup.Go("config.watch", a.cfgm.Watch)
	}
	a.sup.GoFunc("systemd.watchdog", a.notify.watchdog)

	a.notify.ready()
	a.notify.status("running, schedule " + a.sched.Schedule().String())
	a.log.Info("app started", logx.String("schedule", a.sched.Schedule().String()))
	return nil
}

func (a *App) logEvents(ctx context.Context) {
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
		}
	}
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfg
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts.
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					drained = true
				}
			}
			a.applyConfig(last, next)
			last = next
		}
	}
}

// checkReload rejects a reload whose live sections cannot be applied.
func (a *App) checkReload(_ context.Context, next *config.Config) error {
	if err := a.sched.Check(next.Publish.Schedule); err != nil {
		return fmt.Errorf("publish.schedule: %w", err)
	}
	if _, err := schedulerConfig(next); err != nil {
		return err
	}
	return nil
}

// applyConfig applies the hot-reloadable sections of next.
func (a *App) applyConfig(prev, next *config.Config) {
	ch := config.Diff(prev, next)
	if ch.Empty() {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if a.logs != nil {
		a.logs.Apply(logConfig(next))
	}
	a.pub.SetRate(float64(next.Publish.RatePerSec))
	msgs := messages(next)
	a.pub.SetSourceName(msgs.SourceName)
	if a.interp != nil {
		a.interp.SetMessages(msgs)
	}
	if next.Publish.Schedule != prev.Publish.Schedule {
		raw := next.Publish.Schedule
		if strings.TrimSpace(raw) == "" {
			raw = scheduler.DefaultSchedule
		}
		if err := a.sched.Reschedule(raw); err != nil {
			a.log.Warn("invalid publish schedule; keeping previous", logx.Err(err))
		}
	}
	if len(ch.Restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect", logx.String("sections", strings.Join(ch.Restart, ",")))
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Attrs...)
	a.log.Info("config reloaded", fields...)
}

// Stop cancels both loops and releases resources. Each step is bounded so
// one stuck component cannot stall shutdown.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.notify.stopping()
	a.sup.Cancel()

	var errs []error
	a.step(ctx, "scheduler", 3*time.Second, a.sched.Stop)
	a.step(ctx, "supervisor", 5*time.Second, a.sup.Wait)
	a.step(ctx, "mirror", time.Second, func(context.Context) error { return a.mirror.Close() })
	a.step(ctx, "storage", 2*time.Second, func(context.Context) error { return a.store.Close() })

	if err := a.sup.Err(); err != nil {
		errs = append(errs, err)
	}
	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errors.Join(errs...)
}

func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		limit = min(limit, time.Until(dl))
	}
	if limit <= 0 {
		a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, limit)
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
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
	}
}
