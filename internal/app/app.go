// Package app wires the engine together: config, logging, state, queue,
// rotation, audit, and the dispatch loop. The binary in cmd/postpilot is a
// thin shell over this package; tests and embedders construct App directly.
package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"postpilot/internal/config"
	"postpilot/internal/dispatch"
	"postpilot/internal/eventbus"
	"postpilot/internal/job"
	"postpilot/internal/media"
	"postpilot/internal/publish"
	"postpilot/internal/queue"
	"postpilot/internal/retry"
	"postpilot/internal/rotation"
	"postpilot/internal/schedule"
	"postpilot/internal/store"
	logx "postpilot/pkg/logx"
)

const defaultStatePath = "./postpilot_state.json"

// Options tune construction beyond what the config file carries.
type Options struct {
	ConfigPath string
	// Publisher overrides the config-selected driver; this is how real
	// platform adapters are injected.
	Publisher publish.Publisher
}

// App owns every component for one engine instance.
type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	bus   eventbus.Bus
	queue *queue.Queue
	src   media.Source
	alloc *rotation.Allocator
	audit store.Store
	disp  *dispatch.Dispatcher

	watchCancel context.CancelFunc
	wg          sync.WaitGroup
}

// New loads the config and builds the full component graph. Nothing runs
// until Start.
func New(opts Options) (*App, error) {
	mgr := config.NewManager(opts.ConfigPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig(cfg.Logging.File),
	})
	mgr.SetLogger(log.With(logx.String("component", "config")))

	a := &App{cfgMgr: mgr, logSvc: logSvc, log: log, bus: eventbus.New()}

	statePath := strings.TrimSpace(cfg.State.Path)
	if statePath == "" {
		statePath = defaultStatePath
	}
	stateFile, err := store.NewStateFile(statePath)
	if err != nil {
		a.closeOnInitError()
		return nil, err
	}
	a.queue, err = queue.Open(stateFile, log.With(logx.String("component", "queue")))
	if err != nil {
		a.closeOnInitError()
		return nil, fmt.Errorf("open queue state: %w", err)
	}

	a.src = media.NewFS(cfg.Media.AllowedExts)
	a.alloc = rotation.New(a.src)

	if cfg.Audit != nil {
		busy, _ := config.ParseDurationField("audit.busy_timeout", cfg.Audit.BusyTimeout)
		a.audit, err = store.Open(store.Config{
			Driver:      cfg.Audit.Driver,
			Path:        cfg.Audit.Path,
			BusyTimeout: busy,
		}, log.With(logx.String("component", "audit")))
		if err != nil {
			a.closeOnInitError()
			return nil, fmt.Errorf("open audit store: %w", err)
		}
	}

	pub := opts.Publisher
	if pub == nil {
		// Config only selects built-in drivers; "dryrun" is the sole one.
		pub = publish.NewDryRun(log.With(logx.String("component", "publisher")))
	}

	policy, err := retryPolicy(cfg.Retry)
	if err != nil {
		a.closeOnInitError()
		return nil, err
	}
	dcfg, err := dispatcherConfig(cfg.Dispatcher)
	if err != nil {
		a.closeOnInitError()
		return nil, err
	}
	a.disp = dispatch.New(dcfg, a.queue, a.alloc, policy, pub, a.bus, a.audit,
		log.With(logx.String("component", "dispatch")))
	return a, nil
}

func retryPolicy(rc config.RetryConfig) (*retry.Policy, error) {
	delay, err := config.ParseDurationField("retry.delay", rc.Delay)
	if err != nil {
		return nil, err
	}
	maxDelay, err := config.ParseDurationField("retry.max_delay", rc.MaxDelay)
	if err != nil {
		return nil, err
	}
	return retry.New(retry.Config{
		MaxAttempts: rc.MaxAttempts,
		Delay:       delay,
		MaxDelay:    maxDelay,
		Exponential: rc.Exponential,
		Linear:      rc.Linear,
	}), nil
}

func dispatcherConfig(dc config.DispatcherConfig) (dispatch.Config, error) {
	tick, err := config.ParseDurationField("dispatcher.tick", dc.Tick)
	if err != nil {
		return dispatch.Config{}, err
	}
	timeout, err := config.ParseDurationField("dispatcher.publish_timeout", dc.PublishTimeout)
	if err != nil {
		return dispatch.Config{}, err
	}
	every, err := config.ParseDurationField("dispatcher.rate_every", dc.RateEvery)
	if err != nil {
		return dispatch.Config{}, err
	}
	return dispatch.Config{Tick: tick, PublishTimeout: timeout, RateEvery: every}, nil
}

// Start launches the dispatch loop and the config watcher.
func (a *App) Start(ctx context.Context) {
	a.log.Info("postpilot starting", logx.String("config", a.cfgMgr.Path()))
	a.disp.Start(ctx)

	wctx, cancel := context.WithCancel(ctx)
	a.watchCancel = cancel

	updates := a.cfgMgr.Subscribe(1)
	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		_ = a.cfgMgr.Watch(wctx)
	}()
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-wctx.Done():
				return
			case cfg, ok := <-updates:
				if !ok {
					return
				}
				a.applyReload(cfg)
			}
		}
	}()
}

// applyReload handles hot-reloadable sections. Structural sections (state
// path, audit driver, retry curve) need a restart; only logging applies
// live.
func (a *App) applyReload(cfg *config.Config) {
	if cfg == nil {
		return
	}
	a.logSvc.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig(cfg.Logging.File),
	})
	a.log.Info("config reloaded", logx.String("level", cfg.Logging.Level))
}

// Stop shuts down in dependency order: loop first, then watcher, then
// stores and log sinks.
func (a *App) Stop(ctx context.Context) {
	a.disp.Stop(ctx)
	if a.watchCancel != nil {
		a.watchCancel()
	}
	a.wg.Wait()
	if a.audit != nil {
		if err := a.audit.Close(); err != nil {
			a.log.Warn("audit close failed", logx.Err(err))
		}
	}
	a.log.Info("postpilot stopped")
	_ = a.logSvc.Close()
}

// Schedule expands a definition and enqueues the resulting jobs in one
// atomic persist. Truncation is reported, not an error: the covered prefix
// is enqueued.
func (a *App) Schedule(ctx context.Context, def schedule.Definition) (schedule.Plan, error) {
	plan, err := schedule.Expand(ctx, def, a.src, time.Now())
	if err != nil {
		return schedule.Plan{}, err
	}
	if err := a.queue.Enqueue(plan.Jobs, plan.Rotations); err != nil {
		return schedule.Plan{}, err
	}
	a.log.Info("session scheduled",
		logx.Int("jobs", len(plan.Jobs)),
		logx.Bool("truncated", plan.Truncated))
	return plan, nil
}

// Control surface, thin passthroughs to the owning components.

func (a *App) Pause(reason string) error       { return a.disp.Pause(reason) }
func (a *App) Resume() error                   { return a.disp.Resume() }
func (a *App) CancelPending() (int, error)     { return a.queue.CancelPending() }
func (a *App) CancelJob(id string) error       { return a.queue.CancelJob(id) }
func (a *App) Clear() error                    { return a.queue.Clear() }
func (a *App) Stats() queue.Stats              { return a.queue.Stats() }
func (a *App) Snapshot() *job.State            { return a.queue.Snapshot() }
func (a *App) State() (dispatch.State, string) { return a.disp.State() }

// Events exposes the notification bus for external observers.
func (a *App) Events(buffer int) (<-chan eventbus.Event, func()) {
	return a.bus.Subscribe(buffer)
}

// RecentAttempts returns audit history, oldest first. Without an audit
// store it returns nothing.
func (a *App) RecentAttempts(ctx context.Context, limit int) ([]store.AttemptRecord, error) {
	if a.audit == nil {
		return nil, nil
	}
	return a.audit.RecentAttempts(ctx, limit)
}

// closeOnInitError releases what New opened before failing.
func (a *App) closeOnInitError() {
	if a.audit != nil {
		_ = a.audit.Close()
	}
	if a.logSvc != nil {
		_ = a.logSvc.Close()
	}
}
