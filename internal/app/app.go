package app

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"airbot/internal/commands"
	"airbot/internal/config"
	"airbot/internal/dispatch"
	"airbot/internal/eventbus"
	"airbot/internal/feed"
	"airbot/internal/metrics"
	"airbot/internal/notifier"
	"airbot/internal/observability/httpserver"
	rtsup "airbot/internal/runtime/supervisor"
	"airbot/internal/schedule"
	"airbot/internal/settings"
	"airbot/internal/storage"
	"airbot/internal/subscription"
	"airbot/internal/task/engine"
	"airbot/internal/task/scheduler"
	kit "airbot/internal/transport"
	telegram "airbot/internal/transport/telegram/adapter"
	logx "airbot/pkg/logx"
)

const (
	taskRefresh = "schedule.refresh"
	taskTick    = "dispatch.tick"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	reg  *prometheus.Registry
	met  *metrics.Collector

	backend storage.Backend
	catalog *settings.Catalog
	users   *settings.Store
	subs    *subscription.Index

	adapter *telegram.Adapter
	feed    *feed.Client

	holder    *schedule.Holder
	refresher *schedule.Refresher
	disp      *dispatch.Dispatcher

	engine *engine.Service
	sched  *scheduler.Service
	notif  *notifier.Service
	router *commands.Router
	http   *httpserver.Service

	updates chan kit.Update
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	// The chat sink needs the adapter, which needs a logger; attach it after.
	logSvc, root := logx.New(mapLogging(cfg), nil)
	log := root.With(logx.String("comp", "app"))

	ad, err := telegram.New(mapTelegram(cfg), root.With(logx.String("comp", "telegram")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	logSvc.SetSender(ad)

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     eventbus.New(),
		reg:     prometheus.NewRegistry(),
		adapter: ad,
		holder:  &schedule.Holder{},
		updates: make(chan kit.Update, 256),
	}
	a.reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.met = metrics.NewCollector(a.reg)

	if err := a.openStores(cfg, root); err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	a.feed, err = feed.New(mapFeed(cfg, a.catalog), root)
	if err != nil {
		a.closeStores()
		_ = logSvc.Close()
		return nil, err
	}
	a.feed.SetMetrics(a.met)

	a.refresher = schedule.NewRefresher(a.feed, a.holder, mapGrace(cfg), root,
		schedule.WithBus(a.bus),
		schedule.WithMetrics(a.met),
	)

	a.engine = engine.New(mapEngine(cfg), root.With(logx.String("comp", "taskengine")), a.bus)
	a.sched = scheduler.New(mapScheduler(cfg), a.engine, root.With(logx.String("comp", "scheduler")))

	a.notif = notifier.New(mapNotifier(cfg), ad, root.With(logx.String("comp", "notifier")), a.bus)
	a.notif.SetMetrics(a.met)

	a.disp = dispatch.New(mapDispatch(cfg), dispatch.Deps{
		Holder:      a.holder,
		Subscribers: a.subs,
		Settings:    a.users,
		Catalog:     a.catalog,
		Feed:        a.feed,
		Notifier:    a.notif,
		Bus:         a.bus,
		Metrics:     a.met,
	}, root)

	a.router = commands.NewRouter(mapCommands(cfg), ad, root.With(logx.String("comp", "commands")))
	bot := &commands.Bot{
		Settings:      a.users,
		Catalog:       a.catalog,
		Subscriptions: a.subs,
		Query:         a.disp,
		Schedule:      a.holder,
		Calendar:      a.refresher.Calendar,
	}
	a.router.SetRegistry(bot.Commands())

	a.http = httpserver.New(mapHTTP(cfg), metrics.Handler(a.reg), a.health, root)

	if err := a.registerTasks(cfg); err != nil {
		a.closeStores()
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) openStores(cfg *config.Config, root logx.Logger) error {
	cat, err := mapCatalog(cfg)
	if err != nil {
		return fmt.Errorf("sources: %w", err)
	}
	backend, err := storage.Open(mapStorage(cfg), root.With(logx.String("comp", "storage")))
	if err != nil {
		return err
	}
	userSt, err := backend.Store(settings.Kind)
	if err != nil {
		_ = backend.Close()
		return err
	}
	subSt, err := backend.Store(subscription.Kind)
	if err != nil {
		_ = backend.Close()
		return err
	}
	a.backend, a.catalog = backend, cat
	a.users = settings.New(userSt, cat, root)
	a.subs = subscription.New(subSt, a.users, root)

	lctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.subs.Load(lctx); err != nil {
		_ = backend.Close()
		return err
	}
	a.met.SetSubscribedTitles(a.subs.Titles())
	a.log.Info("storage ready", logx.String("driver", backend.Driver()), logx.Int("sources", len(cat.All())))
	return nil
}

func (a *App) closeStores() {
	if a.backend != nil {
		_ = a.backend.Close()
	}
}

// registerTasks wires the two periodic jobs. Neither retries: the next
// trigger is the retry.
func (a *App) registerTasks(cfg *config.Config) error {
	noRetry := engine.TaskOptions{Overlap: engine.OverlapSkipIfRunning, RetryMax: -1}
	err := a.sched.Add(taskRefresh, cfg.Scheduler.Refresh,
		config.MustDuration(cfg.Scheduler.RefreshTimeout, 30*time.Second),
		a.refresher.Refresh,
		scheduler.WithRunNow(),
		scheduler.WithTaskOptions(noRetry),
	)
	if err != nil {
		return fmt.Errorf("scheduler.refresh: %w", err)
	}
	err = a.sched.Add(taskTick, cfg.Scheduler.Tick,
		config.MustDuration(cfg.Scheduler.TickTimeout, 50*time.Second),
		func(ctx context.Context) error {
			a.disp.Tick(ctx, time.Now())
			return nil
		},
		scheduler.WithTaskOptions(noRetry),
	)
	if err != nil {
		return fmt.Errorf("scheduler.tick: %w", err)
	}
	return nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapCatalog(cfg); err != nil {
			return fmt.Errorf("sources: %w", err)
		}
		if _, err := scheduler.ParseSchedule(cfg.Scheduler.Refresh); err != nil {
			return fmt.Errorf("scheduler.refresh: %w", err)
		}
		if _, err := scheduler.ParseSchedule(cfg.Scheduler.Tick); err != nil {
			return fmt.Errorf("scheduler.tick: %w", err)
		}
		return nil
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	if a.notif.Enabled() {
		a.notif.Start(a.sup.Context())
	}
	a.engine.Start(a.sup.Context())
	if a.sched.Enabled() {
		a.sched.Start(a.sup.Context())
	}
	a.http.Start(a.sup.Context())

	a.sup.Go("commands.router", func(c context.Context) error {
		return a.router.Run(c, a.updates)
	})
	a.sup.Go0("transport.ready", a.awaitTransport)
	a.sup.Go0("eventbus.observe", a.observeEvents)
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		watchdogLoop(c, a.log, a.healthy)
	})
	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	sdNotify(a.log, daemon.SdNotifyReady)
	a.log.Info("app started")
	return nil
}

// awaitTransport opens the dispatch gate once the Telegram session is up.
func (a *App) awaitTransport(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-a.adapter.Ready():
	}
	a.disp.SetReady(true)
	sdNotify(a.log, "STATUS=telegram session ready as @"+a.adapter.Username())

	mctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := a.adapter.UpdateMenuCommands(mctx, a.router.MenuCommands()); err != nil {
		a.log.Warn("command menu update failed", logx.Err(err))
	}
}

func (a *App) observeEvents(ctx context.Context) {
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
			switch e.Type {
			case eventbus.TaskFinished, eventbus.TaskFailed:
				if ev, ok := e.Data.(engine.TaskEvent); ok {
					a.met.ObserveTask(ev.Name, e.Type == eventbus.TaskFinished)
				}
			case eventbus.DispatchTick:
				a.met.SetSubscribedTitles(a.subs.Titles())
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
		}
	}
}

func (a *App) healthy() bool {
	ok, _ := a.health()
	return ok
}

// health is degraded until the session is up and a schedule has loaded once.
func (a *App) health() (bool, map[string]any) {
	ready := a.disp.Ready()
	c := a.holder.Load()
	detail := map[string]any{
		"transport_ready":   ready,
		"schedule_loaded":   c != nil,
		"subscribed_titles": a.subs.Titles(),
	}
	if c != nil {
		detail["schedule_entries"] = c.Len()
		detail["schedule_built_at"] = c.BuiltAt
	}
	snap := a.engine.Snapshot()
	detail["tasks_in_flight"] = snap.InFlight
	detail["tasks_queued"] = snap.QueueLen
	if n := len(snap.History); n > 0 {
		last := snap.History[n-1]
		detail["last_task"] = map[string]any{"name": last.Name, "started": last.Started, "error": last.Error}
	}
	return ready && c != nil, detail
}

// restartOnly are sections that take effect on the next start.
var restartOnly = map[string]bool{
	"telegram":    true,
	"storage":     true,
	"task_engine": true,
	"commands":    true,
	"sources":     true,
}

func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						cfg = newer
					}
				default:
					break drain
				}
			}
			changed := config.Changed(last, cfg)
			last = cfg
			if len(changed) == 0 {
				a.log.Info("config reloaded (no changes)")
				continue
			}
			a.apply(ctx, cfg, changed)
			a.log.Info("config reloaded", logx.String("changed", strings.Join(changed, ",")))
		}
	}
}

func (a *App) apply(ctx context.Context, cfg *config.Config, changed []string) {
	for _, s := range changed {
		if restartOnly[s] {
			a.log.Warn("config section changed; restart required", logx.String("section", s))
		}
	}

	a.logs.Apply(mapLogging(cfg))
	a.disp.Apply(mapDispatch(cfg))
	a.refresher.SetGrace(mapGrace(cfg))

	wasNotif := a.notif.Enabled()
	ncfg := mapNotifier(cfg)
	a.notif.Apply(ncfg)
	switch {
	case wasNotif && !ncfg.Enabled:
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.notif.Stop(stopCtx)
		cancel()
	case !wasNotif && ncfg.Enabled:
		a.notif.Start(ctx)
	}

	wasSched := a.sched.Enabled()
	scfg := mapScheduler(cfg)
	a.sched.Apply(scfg)
	switch {
	case wasSched && !scfg.Enabled:
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.sched.Stop(stopCtx)
		cancel()
	case !wasSched && scfg.Enabled:
		a.sched.Start(ctx)
	}
	if slices.Contains(changed, "scheduler") {
		if err := a.registerTasks(cfg); err != nil {
			a.log.Warn("schedule update failed; keeping previous", logx.Err(err))
		}
	}

	httpCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	a.http.Apply(httpCtx, mapHTTP(cfg))
	cancel()
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	sdNotify(a.log, daemon.SdNotifyStopping)
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()
	a.disp.SetReady(false)

	a.step(ctx, "scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "taskengine", 2*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	a.step(ctx, "notifier", 3*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	a.step(ctx, "http", 1*time.Second, func(c context.Context) error { a.http.Stop(c); return nil })
	a.step(ctx, "adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	a.step(ctx, "storage", 1*time.Second, func(context.Context) error { return a.backend.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}

// step runs one shutdown stage bounded by max and the caller's deadline.
// A stage that overruns is logged and left behind.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped: deadline reached", logx.String("name", name))
		return
	}
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
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
	}
}
