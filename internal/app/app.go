// Package app wires the engine together: config, logging, storage, the
// Telegram adapter, the dispatcher and the periodic sweeps.
package app

import (
	"context"
	"strings"
	"sync"
	"time"

	"membot/internal/analytics"
	"membot/internal/broadcast"
	"membot/internal/config"
	"membot/internal/membership"
	"membot/internal/sched"
	"membot/internal/store"
	"membot/internal/transport/telegram"
	"membot/pkg/logx"
)

// Sweep job names. Registering under a fixed name lets a config reload
// replace the schedule in place.
const (
	jobBroadcastDue        = "broadcast.due"
	jobMembershipExpiry    = "membership.expiry"
	jobMembershipExpiryBak = "membership.expiry.backup"
)

type App struct {
	cfgPath string
	cfgm    *config.Manager

	log  logx.Logger
	logs *logx.Service

	st      store.Store
	adapter *telegram.Adapter

	dispatcher *broadcast.Dispatcher
	api        *broadcast.API
	sweeper    *membership.Sweeper
	reporter   *analytics.Reporter
	sched      *sched.Service

	runMu     sync.Mutex
	runCancel context.CancelFunc
	wg        sync.WaitGroup
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
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

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

	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(store.Config{
		Driver:       cfg.Storage.Driver,
		Path:         cfg.Storage.Path,
		BusyTimeout:  busyTimeout,
		PendingLimit: cfg.Storage.PendingLimit,
	}, log.With(logx.String("comp", "store")))
	if err != nil {
		return nil, err
	}

	schedSvc, err := sched.New(sched.Config{Timezone: cfg.Sweep.Timezone}, log)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		st:      st,
		adapter: ad,
		dispatcher: broadcast.NewDispatcher(broadcast.Config{
			Workers:    cfg.Dispatch.Workers,
			RatePerSec: cfg.Dispatch.RatePerSec,
		}, st, ad, log),
		api:      broadcast.NewAPI(st, log),
		sweeper:  membership.NewSweeper(st, ad, log),
		reporter: analytics.NewReporter(st),
		sched:    schedSvc,
	}
	if err := a.registerSweeps(cfg.Sweep); err != nil {
		_ = st.Close()
		return nil, err
	}
	return a, nil
}

// Broadcasts exposes the authoring API for the command surface.
func (a *App) Broadcasts() *broadcast.API { return a.api }

func (a *App) Reporter() *analytics.Reporter { return a.reporter }

func (a *App) Store() store.Store { return a.st }

// Adapter exposes the Telegram client so callers can hang handlers on it.
func (a *App) Adapter() *telegram.Adapter { return a.adapter }

func (a *App) registerSweeps(sw config.SweepConfig) error {
	if err := a.sched.Register(jobBroadcastDue, sw.DueSpec(), a.runDue); err != nil {
		return err
	}
	if err := a.sched.Register(jobMembershipExpiry, sw.ExpirySpec(), a.runExpiry); err != nil {
		return err
	}
	return a.sched.Register(jobMembershipExpiryBak, sw.ExpiryBackupSpec(), a.runExpiry)
}

// runDue dispatches every broadcast whose scheduled time has passed.
// Dispatches are sequential; FindDue orders them by scheduled time, so one
// slow broadcast delays later ones rather than interleaving with them.
func (a *App) runDue(ctx context.Context) {
	now := time.Now()
	due, err := a.st.FindDue(ctx, now)
	if err != nil {
		// Degrade to scanning the pending set; better a slower sweep
		// than a missed one.
		a.log.Warn("due query failed, scanning pending set", logx.Err(err))
		pending, perr := a.st.ListPending(ctx)
		if perr != nil {
			a.log.Error("pending scan failed", logx.Err(perr))
			return
		}
		for _, bc := range pending {
			if !bc.ScheduledTime.After(now) {
				due = append(due, bc)
			}
		}
	}
	for _, bc := range due {
		if ctx.Err() != nil {
			return
		}
		a.dispatcher.Execute(ctx, bc)
	}
}

func (a *App) runExpiry(ctx context.Context) {
	if _, err := a.sweeper.Sweep(ctx, time.Now()); err != nil {
		a.log.Error("expiration sweep failed", logx.Err(err))
	}
}

func (a *App) Start(ctx context.Context) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.runCancel != nil {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	a.runCancel = cancel

	if err := a.adapter.Start(runCtx); err != nil {
		cancel()
		a.runCancel = nil
		return err
	}
	a.sched.Start(runCtx)

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		_ = a.cfgm.Watch(runCtx)
	}()
	sub := a.cfgm.Subscribe(8)
	go func() {
		defer a.wg.Done()
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(runCtx, sub)
	}()

	a.log.Info("engine started")
	return nil
}

// reloadLoop applies hot-reloadable settings from config changes: the
// logging config and the sweep cadences. Everything else (token, storage,
// dispatch sizing) needs a restart, which is logged so the operator knows.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			a.logs.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})

			if last != nil {
				if cfg.Sweep != last.Sweep {
					if strings.TrimSpace(cfg.Sweep.Timezone) != strings.TrimSpace(last.Sweep.Timezone) {
						a.log.Warn("sweep.timezone changed; restart required for changes to take effect")
					}
					if err := a.registerSweeps(cfg.Sweep); err != nil {
						a.log.Warn("invalid sweep schedules, keeping previous", logx.Err(err))
					}
				}
				if cfg.Telegram != last.Telegram {
					a.log.Warn("telegram config changed; restart required for changes to take effect")
				}
				if cfg.Storage != last.Storage {
					a.log.Warn("storage config changed; restart required for changes to take effect")
				}
				if cfg.Dispatch != last.Dispatch {
					a.log.Warn("dispatch config changed; restart required for changes to take effect")
				}
			}
			last = cfg
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	a.runMu.Lock()
	cancel := a.runCancel
	a.runCancel = nil
	a.runMu.Unlock()
	if cancel == nil {
		return nil
	}

	// Order matters: stop the sweeps first so no new dispatch starts, then
	// the transport, then the store once nothing writes to it.
	a.sched.Stop(ctx)
	cancel()
	err := a.adapter.Stop(ctx)
	a.wg.Wait()

	if cerr := a.st.Close(); cerr != nil && err == nil {
		err = cerr
	}
	a.log.Info("engine stopped")
	_ = a.logs.Close()
	return err
}
