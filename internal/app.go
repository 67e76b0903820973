package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/starford/keep/internal/adapter"
	"github.com/starford/keep/internal/download"
	"github.com/starford/keep/internal/extract"
	"github.com/starford/keep/internal/index"
	"github.com/starford/keep/internal/itemservice"
	"github.com/starford/keep/internal/offline"
	"github.com/starford/keep/internal/sse"
	"github.com/starford/keep/internal/storage"
	"github.com/starford/keep/internal/store"
	"github.com/starford/keep/internal/watcher"
)

// App holds the opened components. Daemon-only fields are nil unless the
// app was opened WithDaemon.
type App struct {
	cfg     *Config
	logger  *slog.Logger
	version string

	store *store.SQLite
	index *index.Index
	files *storage.FS
	svc   *itemservice.Service

	status  *offline.Store
	manager *adapter.Manager
	broker  *sse.Broker
	watcher *watcher.Watcher

	consumerDone chan struct{}
}

// Open builds the application from options. The caller must Close it.
func Open(ctx context.Context, opts ...Option) (*App, error) {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg := app.config

	logger := app.logger
	if logger == nil {
		logger = newLogger(app.logOutput, cfg.App.LogLevel)
	}

	if err := os.MkdirAll(cfg.Data.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	a := &App{cfg: cfg, logger: logger, version: app.version}
	opened := false
	defer func() {
		if !opened {
			_ = a.Close(ctx)
		}
	}()

	var err error
	if a.store, err = store.Open(cfg.Data.StorePath(), logger); err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	if a.index, err = index.Open(cfg.Data.IndexPath(), logger); err != nil {
		return nil, fmt.Errorf("init index: %w", err)
	}
	if a.files, err = storage.NewFS(cfg.Data.DownloadsDir()); err != nil {
		return nil, fmt.Errorf("init downloads: %w", err)
	}

	dl := download.New(a.files, a.store, cfg.Download.Downloader(), logger)
	svcCfg := itemservice.Config{
		DownloadOnAdd: cfg.Download.OnAdd,
		IndexOnAdd:    cfg.Index.OnAdd,
	}
	svcOpts := []itemservice.Option{
		itemservice.WithLogger(logger),
		itemservice.WithDownloads(a.files),
	}

	if app.daemon {
		root, err := storage.NewFS(cfg.Data.Dir)
		if err != nil {
			return nil, fmt.Errorf("init data dir: %w", err)
		}
		if a.status, err = offline.Open(root, OfflineFile, logger); err != nil {
			return nil, fmt.Errorf("init offline store: %w", err)
		}
		if a.watcher, err = watcher.New(logger); err != nil {
			return nil, fmt.Errorf("init watcher: %w", err)
		}
		a.manager = adapter.NewManager(newRegistry(cfg.Download, a.files, dl, logger), logger)
		a.broker = sse.NewBroker(cfg.App.HTTP.Heartbeat)

		svcCfg.Background = cfg.Download.Background
		svcOpts = append(svcOpts,
			itemservice.WithBackground(a.manager, a.status),
			itemservice.WithNotifier(a.broker.PublishItemEvent),
			itemservice.WithBlobObserver(a.watcher),
		)
	}

	a.svc = itemservice.New(a.store, a.index, dl, extract.New(logger), svcCfg, svcOpts...)
	opened = true
	return a, nil
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// newRegistry orders the download adapters: the video tool first when one is
// available, plain HTTP last.
func newRegistry(cfg DownloadConfig, files storage.Provider, dl *download.Downloader, logger *slog.Logger) *adapter.Registry {
	var adapters []adapter.Adapter

	bin := ""
	switch cfg.Tool {
	case ToolDisabled:
	case ToolAuto, "":
		bin, _ = adapter.LookupTool()
	default:
		bin = cfg.Tool
	}
	if bin != "" {
		logger.Info("video download tool enabled", slog.String("bin", bin))
		adapters = append(adapters, adapter.NewToolAdapter(bin, files, dl, logger))
	}

	adapters = append(adapters, adapter.NewHTTPAdapter(dl))
	reg := adapter.NewRegistry(adapters...)
	logger.Debug("download adapters registered", slog.Any("adapters", reg.Names()))
	return reg
}

// Service returns the item service.
func (a *App) Service() *itemservice.Service {
	return a.svc
}

// Logger returns the application logger.
func (a *App) Logger() *slog.Logger {
	return a.logger
}

// prepare brings a daemon up to date with the store before it serves:
// index drift is repaired, user files are watched and interrupted downloads
// are dispatched again.
func (a *App) prepare(ctx context.Context) error {
	report, err := a.svc.Reconcile(ctx)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	a.logger.Info("reconciled",
		slog.Int("indexed", report.Indexed),
		slog.Int("removed", report.Removed),
		slog.Int("pruned", report.Pruned))

	if a.watcher != nil {
		blobs, err := a.store.UnmanagedBlobs(ctx)
		if err != nil {
			return fmt.Errorf("list unmanaged blobs: %w", err)
		}
		for _, b := range blobs {
			a.watcher.Track(b)
		}
	}

	if _, err := a.svc.ResumePending(ctx); err != nil {
		return fmt.Errorf("resume downloads: %w", err)
	}
	return nil
}

// startConsumer applies background download results until the manager is
// shut down.
func (a *App) startConsumer(ctx context.Context) {
	if a.manager == nil || a.consumerDone != nil {
		return
	}
	a.consumerDone = make(chan struct{})
	go func() {
		defer close(a.consumerDone)
		_ = a.svc.ConsumeUpdates(ctx, a.manager.Updates())
	}()
}

// Close drains background downloads and releases every component. ctx bounds
// the drain; once it expires running downloads are cancelled.
func (a *App) Close(ctx context.Context) error {
	var errs []error

	if a.manager != nil {
		if a.consumerDone == nil {
			a.startConsumer(ctx)
		}
		if err := a.manager.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("adapter shutdown: %w", err))
		}
		select {
		case <-a.consumerDone:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("update consumer: %w", ctx.Err()))
		}
	}
	if a.watcher != nil {
		_ = a.watcher.Close()
	}
	if a.broker != nil {
		a.broker.Close()
	}
	if a.status != nil {
		if err := a.status.Close(); err != nil {
			errs = append(errs, fmt.Errorf("offline commit: %w", err))
		}
	}
	if a.index != nil {
		if err := a.index.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close index: %w", err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	return errors.Join(errs...)
}
