// Package app wires the sync engine together and drives its lifecycle.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/valyala/fasthttp"

	"github.com/juniormsyoka/med-assistant-front-sub000/internal/sweep"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/bus"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/config"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/config/banner"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/connectivity"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/engine"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/listener"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/logger"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/metrics"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/models"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/outbox"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/remote"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/shutdown"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/store"
)

// App groups the engine components and their background loops.
type App struct {
	eff       config.EffectiveConfigResult
	version   string
	commit    string
	buildDate string

	store    *store.Store
	bus      *bus.Bus
	conn     *connectivity.Monitor
	remote   remote.Store
	closeRS  func() error
	outbox   *outbox.Driver
	listener *listener.Listener
	engine   *engine.Engine
	sweeper  *sweep.Sweeper

	srvFast     *fasthttp.Server
	loopsCancel context.CancelFunc
	sweepCancel context.CancelFunc
	loops       sync.WaitGroup
	unsubOnline func()
}

// New opens the store and builds every component. Background loops and the
// HTTP server start in Run.
func New(eff config.EffectiveConfigResult, version, commit, buildDate string) (*App, error) {
	if eff.Config == nil {
		return nil, errors.New("app: nil config")
	}
	cfg := eff.Config
	dbPath := eff.DBPath
	if dbPath == "" {
		dbPath = cfg.Store.Path
	}

	if err := logger.AttachAuditFileSink(filepath.Join(dbPath, "audit")); err != nil {
		logger.Warn("audit_sink_unavailable", "error", err)
	}
	if !cfg.Store.SyncWritesEnabled() {
		logger.LogConfigSummary("config_durability_summary", []string{
			"sync_writes: false",
			"loss_window: writes since the last pebble flush",
			fmt.Sprintf("cache_size: %s", humanize.IBytes(uint64(cfg.Store.CacheSize.Int64()))),
		})
	}

	st, err := store.Open(store.Options{
		Path:       dbPath,
		SyncWrites: cfg.Store.SyncWritesEnabled(),
		CacheSize:  cfg.Store.CacheSize.Int64(),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open store at %s", dbPath)
	}

	rs, closeRS, err := newRemote(cfg.Remote)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	a := &App{
		eff:       eff,
		version:   version,
		commit:    commit,
		buildDate: buildDate,
		store:     st,
		bus:       bus.New(),
		conn:      connectivity.New(false),
		remote:    rs,
		closeRS:   closeRS,
	}
	a.unsubOnline = a.conn.OnChange(func(online bool) {
		metrics.SetOnline(online)
		logger.Info("connectivity_changed", "online", online)
	})

	a.outbox = outbox.New(st, rs, a.bus, a.conn, outbox.Options{
		PushTimeout:   cfg.Remote.PushTimeout.Duration(),
		RetryBase:     cfg.Sync.RetryBase.Duration(),
		RetryMax:      cfg.Sync.RetryMax.Duration(),
		RetryAttempts: cfg.Sync.RetryAttempts,
		PushRPS:       cfg.Sync.PushRPS,
		PushBurst:     cfg.Sync.PushBurst,
		BatchSize:     cfg.Sync.BatchSize,
	})
	a.listener = listener.New(st, rs, a.bus, listener.Options{
		ResubscribeBase: cfg.Sync.ResubscribeBase.Duration(),
		ResubscribeMax:  cfg.Sync.ResubscribeMax.Duration(),
	})
	a.engine, err = engine.New(engine.Deps{
		Store:        st,
		Bus:          a.bus,
		Connectivity: a.conn,
		Outbox:       a.outbox,
		Listener:     a.listener,
	}, engine.Options{HistoryLimit: cfg.Sync.HistoryLimit})
	if err != nil {
		a.closeAll()
		return nil, err
	}
	a.sweeper, err = sweep.New(cfg.Sync.SweepCron, a.outbox)
	if err != nil {
		a.closeAll()
		return nil, err
	}

	metrics.SetStatsSource(func() (models.StoreStats, error) {
		return st.Stats(context.Background())
	})
	return a, nil
}

// Engine returns the message engine.
func (a *App) Engine() *engine.Engine { return a.engine }

// Store returns the local store, for inspection commands.
func (a *App) Store() *store.Store { return a.store }

// ProbeOnce pings the remote store once and records the result as the
// connectivity state.
func (a *App) ProbeOnce(ctx context.Context) error {
	err := a.remote.Ping(ctx)
	a.conn.Set(err == nil)
	return err
}

// Run starts the connectivity probe, the outbox loop, the sweep schedule
// and, when enabled, the HTTP server. It blocks until ctx is cancelled or
// the server fails.
func (a *App) Run(ctx context.Context) error {
	a.printBanner()

	loopCtx, cancel := context.WithCancel(ctx)
	a.loopsCancel = cancel
	a.loops.Add(2)
	go func() {
		defer a.loops.Done()
		a.conn.Probe(loopCtx, a.remote, a.eff.Config.Sync.ProbeInterval.Duration())
	}()
	go func() {
		defer a.loops.Done()
		a.outbox.Run(loopCtx)
	}()
	a.sweepCancel = a.sweeper.Start(loopCtx)

	var errCh <-chan error
	if a.eff.Config.Server.IsEnabled() {
		errCh = a.startHTTP(ctx)
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return errors.Wrap(err, "http server")
	}
}

// Shutdown stops the server and loops, then closes the store.
func (a *App) Shutdown(ctx context.Context) error {
	return shutdown.Run(ctx,
		shutdown.Step{Name: "http", Fn: func(context.Context) error {
			if a.srvFast == nil {
				return nil
			}
			return a.srvFast.Shutdown()
		}},
		shutdown.Step{Name: "sweep", Fn: func(context.Context) error {
			if a.sweepCancel != nil {
				a.sweepCancel()
			}
			return nil
		}},
		shutdown.Step{Name: "loops", Fn: func(ctx context.Context) error {
			if a.loopsCancel != nil {
				a.loopsCancel()
			}
			done := make(chan struct{})
			go func() { a.loops.Wait(); close(done) }()
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}},
		shutdown.Step{Name: "listener", Fn: func(context.Context) error {
			a.listener.Close()
			return nil
		}},
		shutdown.Step{Name: "remote", Fn: func(context.Context) error {
			if a.closeRS == nil {
				return nil
			}
			return a.closeRS()
		}},
		shutdown.Step{Name: "store", Fn: func(context.Context) error {
			metrics.SetStatsSource(nil)
			if a.unsubOnline != nil {
				a.unsubOnline()
			}
			return a.store.Close()
		}},
	)
}

// closeAll releases what New opened when construction fails part way.
func (a *App) closeAll() {
	if a.listener != nil {
		a.listener.Close()
	}
	if a.closeRS != nil {
		_ = a.closeRS()
	}
	_ = a.store.Close()
}

func (a *App) printBanner() {
	ver := a.version
	if a.commit != "" && a.commit != "none" {
		ver += " (" + a.commit + ")"
	}
	if a.buildDate != "" && a.buildDate != "unknown" {
		ver += " @ " + a.buildDate
	}
	banner.PrintWithEff(os.Stdout, a.eff, ver)
}
