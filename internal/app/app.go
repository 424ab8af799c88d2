package app

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"golang.org/x/sync/errgroup"

	"cadence/internal/adapters"
	"cadence/internal/config"
	"cadence/internal/core"
	"cadence/internal/metrics"
	"cadence/internal/producers"
	"cadence/internal/retry"
	"cadence/internal/scheduler"
	"cadence/internal/storage"
	"cadence/pkg/logx"
)

// ConfigError marks a settings parse or validation failure so the CLI can
// exit with a distinct code.
type ConfigError struct{ Err error }

func (e *ConfigError) Error() string { return e.Err.Error() }
func (e *ConfigError) Unwrap() error { return e.Err }

// CheckSettings parses and validates the settings file without starting
// anything.
func CheckSettings(path string) error {
	s, err := config.NewManager(path).Parse()
	if err != nil {
		return err
	}
	return config.Validate(s)
}

// App owns the full send pipeline: producers feeding the coalescing queue,
// the gate chain, platform adapters and the reload machinery around them.
type App struct {
	cfgm     *config.Manager
	log      logx.Logger
	logClose func() error

	store storage.Store

	agg      *metrics.Aggregator
	mirror   *metrics.PromMirror
	promAddr string

	queue    *core.CoalesceQueue
	cooldown *core.CooldownGate
	dedupe   *core.DedupeDetector
	permit   *core.PermitGate
	retryer  *retry.Executor
	proc     *core.Processor
	senders  *adapters.Registry

	providers *producers.Registry
	jobs      []scheduler.JobSpec

	sched *scheduler.Scheduler
	disp  *scheduler.Dispatcher

	clock core.Clock
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Parse()
	if err != nil {
		return nil, &ConfigError{Err: err}
	}
	if err := config.Validate(cfg); err != nil {
		return nil, &ConfigError{Err: err}
	}
	cfgm.Commit(cfg)

	log, logClose, err := logx.New(mapLogging(cfg.Logging))
	if err != nil {
		return nil, err
	}
	appLog := log.With(logx.String("comp", "app"))

	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	cfgm.SetValidator(func(ctx context.Context, s *config.Settings) error {
		return config.Validate(s)
	})

	scfg, err := mapStorage(cfg)
	if err != nil {
		_ = logClose()
		return nil, err
	}
	store, err := storage.Open(scfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logClose()
		return nil, err
	}
	if store != nil {
		appLog.Info("storage enabled", logx.String("driver", scfg.Driver))
	}

	clock := core.SystemClock{}
	agg := metrics.NewAggregator(clock)
	var mirror *metrics.PromMirror
	promAddr := cfg.Metrics.Export.PrometheusAddr
	if promAddr != "" {
		mirror = metrics.NewPromMirror()
		agg.SetMirror(mirror)
	}

	cooldown := core.NewCooldownGate(mapCooldown(cfg))
	dedupe := core.NewDedupeDetector(mapDedupe(cfg))
	permit := core.NewPermitGate(mapPermit(cfg))

	if store != nil {
		warmDedupe(store, dedupe, clock, appLog)
		dedupe.SetPersister(&storage.Persister{
			Store: store,
			Log:   log.With(logx.String("comp", "storage")),
		})
	}

	senders, err := buildSenders(cfg, log)
	if err != nil {
		closeQuiet(store, logClose)
		return nil, err
	}

	retryer := retry.NewExecutor(mapRetry(cfg), agg, log.With(logx.String("comp", "retry")))

	var audit core.AuditSink
	if store != nil {
		audit = store
	}
	proc := &core.Processor{
		Cooldown: cooldown,
		Dedupe:   dedupe,
		Permit:   permit,
		Sender:   senders,
		Retryer:  retryer,
		Metrics:  agg,
		Audit:    audit,
		Clock:    clock,
		Log:      log.With(logx.String("comp", "orchestrator")),
	}

	queue := core.NewCoalesceQueue(mapCoalesce(cfg))

	providers := producers.Default()
	a := &App{
		cfgm:      cfgm,
		log:       appLog,
		logClose:  logClose,
		store:     store,
		agg:       agg,
		mirror:    mirror,
		promAddr:  promAddr,
		queue:     queue,
		cooldown:  cooldown,
		dedupe:    dedupe,
		permit:    permit,
		retryer:   retryer,
		proc:      proc,
		senders:   senders,
		providers: providers,
		clock:     clock,
	}

	jobs, err := buildJobs(cfg, providers, a.producerDeps(cfg))
	if err != nil {
		closeQuiet(store, logClose)
		return nil, err
	}
	a.jobs = jobs

	a.sched = scheduler.New(queue, clock, agg, log.With(logx.String("comp", "scheduler")))
	a.disp = &scheduler.Dispatcher{
		Queue:     queue,
		Processor: proc,
		Scheduler: a.sched,
		Clock:     clock,
		Log:       log.With(logx.String("comp", "dispatch")),
		Metrics:   agg,
		Window:    mapCoalesce(cfg).Window,
	}
	return a, nil
}

func (a *App) producerDeps(cfg *config.Settings) producers.Deps {
	return producers.Deps{
		Log:       a.log,
		Clock:     a.clock,
		Snapshots: a.agg,
		ReportJob: reportJobName(cfg),
	}
}

// warmDedupe seeds the detector from persisted fingerprints so a restart
// does not resend what just went out.
func warmDedupe(store storage.Store, d *core.DedupeDetector, clock core.Clock, log logx.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	recs, err := store.LoadDedup(ctx)
	if err != nil {
		log.Warn("dedup warm start failed", logx.Err(err))
		return
	}
	now := clock.Now()
	for _, r := range recs {
		d.Seed(r.Fingerprint, r.Until, now)
	}
	if len(recs) > 0 {
		log.Info("dedup warm start", logx.Int("fingerprints", len(recs)))
	}
}

func closeQuiet(store storage.Store, logClose func() error) {
	if store != nil {
		_ = store.Close()
	}
	if logClose != nil {
		_ = logClose()
	}
}

// Run starts the pipeline and blocks until ctx is canceled and the
// dispatcher has drained.
func (a *App) Run(ctx context.Context) error {
	cfg := a.cfgm.Get()
	loc, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	if err := a.sched.Start(gctx, loc, a.jobs, mapJitter(cfg)); err != nil {
		return err
	}

	g.Go(func() error { return a.disp.Run(gctx) })
	g.Go(func() error { return a.cfgm.Watch(gctx) })
	g.Go(func() error { a.reloadLoop(gctx); return nil })

	if a.mirror != nil {
		srv := &http.Server{Addr: a.promAddr, Handler: a.mirror.Handler()}
		g.Go(func() error {
			a.log.Info("metrics listener started", logx.String("addr", a.promAddr))
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		a.sched.Stop(sctx)
		return nil
	})

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	a.log.Info("app started", logx.Int("jobs", len(a.jobs)))

	err = g.Wait()
	a.close()
	if err != nil {
		a.log.Error("app stopped", logx.Err(err))
		return err
	}
	a.log.Info("app stopped")
	return nil
}

func (a *App) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close failed", logx.Err(err))
		}
	}
	if a.logClose != nil {
		_ = a.logClose()
	}
}

func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the newest snapshot.
			for {
				select {
				case newer, ok := <-sub:
					if !ok {
						return
					}
					if newer != nil {
						next = newer
					}
				default:
					goto APPLY
				}
			}
		APPLY:
			a.applyReload(ctx, last, next)
			last = next
		}
	}
}

// restartSections cannot be swapped live; a change there keeps the running
// component and asks for a restart.
var restartSections = []string{"platforms", "storage", "logging", "metrics"}

func (a *App) applyReload(ctx context.Context, old, next *config.Settings) {
	diff := config.DiffSettings(old, next)
	if diff.Empty() {
		a.log.Debug("settings reload received; no effective changes")
		return
	}
	a.log.Info("settings_reload",
		logx.String("event", "settings_reload"),
		logx.Int("added", len(diff.Added)),
		logx.Int("removed", len(diff.Removed)),
		logx.Int("changed", len(diff.Changed)),
		logx.Any("diff", diff),
	)

	a.cooldown.Reconfigure(mapCooldown(next))
	a.dedupe.Reconfigure(mapDedupe(next))
	a.permit.Reconfigure(mapPermit(next))
	a.queue.Reconfigure(mapCoalesce(next))
	a.retryer.Reconfigure(mapRetry(next))

	jobs, err := buildJobs(next, a.providers, a.producerDeps(next))
	if err != nil {
		a.log.Warn("jobs rejected on reload; keeping previous schedule", logx.Err(err))
	} else {
		loc, lerr := time.LoadLocation(next.Scheduler.Timezone)
		if lerr != nil {
			a.log.Warn("timezone rejected on reload; keeping previous schedule", logx.Err(lerr))
		} else if aerr := a.sched.Apply(ctx, loc, jobs, mapJitter(next)); aerr != nil {
			a.log.Warn("scheduler apply failed", logx.Err(aerr))
		} else {
			a.jobs = jobs
		}
	}

	for _, section := range restartSections {
		if diffTouches(diff, section) {
			a.log.Warn("section changed; restart required to take effect",
				logx.String("section", section))
		}
	}
}

func diffTouches(d config.Diff, section string) bool {
	prefix := section + "."
	match := func(path string) bool {
		return path == section || strings.HasPrefix(path, prefix)
	}
	for path := range d.Added {
		if match(path) {
			return true
		}
	}
	for path := range d.Removed {
		if match(path) {
			return true
		}
	}
	for path := range d.Changed {
		if match(path) {
			return true
		}
	}
	return false
}
