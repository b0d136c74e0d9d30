package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/sidetree/internal/config"
	"github.com/dshills/sidetree/internal/diagnostics"
	"github.com/dshills/sidetree/internal/event"
	"github.com/dshills/sidetree/internal/event/events"
	"github.com/dshills/sidetree/internal/git"
	"github.com/dshills/sidetree/internal/host"
	"github.com/dshills/sidetree/internal/logging"
	"github.com/dshills/sidetree/internal/lsp"
	"github.com/dshills/sidetree/internal/metrics"
	"github.com/dshills/sidetree/internal/search"
	"github.com/dshills/sidetree/internal/sidebar"
	"github.com/dshills/sidetree/internal/tree"
	"github.com/dshills/sidetree/internal/vfs"
	"github.com/dshills/sidetree/internal/watcher"
)

// runtime holds the process-wide services every sidebar shares.
type runtime struct {
	cfg     *config.Config
	logger  *logging.Logger
	metrics *metrics.Metrics
	bus     *event.Bus
	watcher *watcher.DirWatcher
	repos   *git.Manager
	diags   *diagnostics.Store
	search  *search.Searcher
	lsp     *lsp.Registry
	server  *http.Server
	mgr     *sidebar.Manager
}

func newRuntime(cfg *config.Config) (*runtime, error) {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, logger: logger, metrics: metrics.New(), lsp: lsp.NewRegistry()}
	log := logger.Logger

	rt.bus = event.NewBus(
		event.WithLogger(log.Named("bus")),
		event.WithMetrics(rt.metrics),
		event.WithDebounce(events.TopicDiagnosticsChanged, cfg.Diagnostics.Debounce.D(), diagnostics.MergeChanged),
	)

	if cfg.Watcher.Enabled {
		backend, err := watcher.NewFSNotify()
		if err != nil {
			log.Warn("directory watching disabled", zap.Error(err))
		} else {
			rt.watcher = watcher.New(backend, rt.bus,
				watcher.WithDebounce(cfg.Watcher.Debounce.D()),
				watcher.WithExcludes(cfg.Watcher.Exclude...),
				watcher.WithLogger(log),
				watcher.WithMetrics(rt.metrics),
			)
			rt.watcher.Subscribe(rt.bus)
		}
	}

	if cfg.Git.Enabled {
		gc := git.Config{
			Publisher:   rt.bus,
			Logger:      log,
			Metrics:     rt.metrics,
			ShowIgnored: cfg.Git.ShowIgnored,
			Untracked:   cfg.Git.Untracked,
			Timeout:     cfg.Git.Timeout.D(),
			Yadm:        cfg.Git.Yadm,
		}
		if w := rt.watcher; w != nil {
			gc.OnOpen = func(r *git.Repository) {
				if err := w.WatchGitDir(r.GitDir(), r.Toplevel()); err != nil {
					log.Debug("git dir not watched", logging.Path(r.GitDir()), zap.Error(err))
				}
			}
			gc.OnClose = func(r *git.Repository) { _ = w.ReleaseGitDir(r.GitDir()) }
		}
		rt.repos = git.NewManager(gc)
	}

	if cfg.Diagnostics.Enabled {
		rt.diags = diagnostics.New(rt.bus,
			diagnostics.WithPropagation(cfg.Diagnostics.Propagate),
			diagnostics.WithLogger(log))
	}

	rt.search = search.New(search.Config{
		Command:    cfg.Search.Command,
		Args:       cfg.Search.Args,
		Hidden:     cfg.Search.Hidden,
		MaxResults: cfg.Search.MaxResults,
		Timeout:    cfg.Search.Timeout.D(),
		Logger:     log,
	})

	if cfg.Metrics.Addr != "" {
		rt.serveMetrics(cfg.Metrics.Addr)
	}
	return rt, nil
}

// serveMetrics exposes the registry on addr until Close.
func (rt *runtime) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", rt.metrics.Handler())
	rt.server = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := rt.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.logger.Error("metrics server stopped", zap.String("addr", addr), zap.Error(err))
		}
	}()
	rt.logger.Info("serving metrics", zap.String("addr", addr))
}

// manager attaches the host's event source to the bus and starts the
// sidebar manager.
func (rt *runtime) manager(h host.Host, view host.View, src event.Source) (*sidebar.Manager, error) {
	rt.bus.AttachHost(src)
	cfg := sidebar.Config{
		Settings: rt.cfg,
		Host:     h,
		View:     view,
		Bus:      rt.bus,
		FS:       vfs.NewOSFS(),
		Repos:    rt.repos,
		LSP:      rt.lsp,
		Searcher: rt.search,
		Logger:   rt.logger.Logger,
		Metrics:  rt.metrics,
	}
	if rt.watcher != nil {
		cfg.Watches = rt.watcher
	}
	if rt.diags != nil {
		cfg.Diagnostics = rt.diags
	}
	mgr, err := sidebar.NewManager(cfg)
	if err != nil {
		return nil, err
	}
	mgr.Start()
	rt.mgr = mgr
	return mgr, nil
}

// Close stops everything in reverse order of creation.
func (rt *runtime) Close() {
	if rt.mgr != nil {
		rt.mgr.Close()
	}
	if rt.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = rt.server.Shutdown(ctx)
		cancel()
	}
	if rt.repos != nil {
		_ = rt.repos.Close()
	}
	if rt.watcher != nil {
		_ = rt.watcher.Close()
	}
	rt.bus.Close()
	_ = rt.logger.Close()
}

var _ tree.Watches = (*watcher.DirWatcher)(nil)
