// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/keep/internal/api"
	"github.com/starford/keep/internal/itemservice"
	"github.com/starford/keep/internal/mcpserver"
)

// Run starts the daemon: HTTP API, background downloads, file watcher and
// offline snapshot. It returns after a signal or ctx cancellation once
// everything is drained and closed.
func Run(ctx context.Context, opts ...Option) error {
	a, err := Open(ctx, append(opts, WithDaemon())...)
	if err != nil {
		return err
	}
	cfg := a.cfg
	logger := a.logger
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("data_dir", cfg.Data.Dir),
		slog.Bool("background", cfg.Download.Background),
		slog.String("log_level", cfg.App.LogLevel.String()))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.startConsumer(runCtx)
	if err := a.prepare(runCtx); err != nil {
		_ = closeWithTimeout(a)
		return err
	}

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: a.router(),
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(runCtx)

	// Watch user-owned files and push refreshes to SSE clients.
	g.Go(func() error {
		return a.watcher.Run(gCtx, a.svc, func(itemID, _ string) {
			a.broker.PublishItemEvent(itemservice.EventUpdated, itemID)
		})
	})

	// Periodic offline snapshot.
	g.Go(func() error {
		return a.status.Run(gCtx, cfg.Offline.CommitInterval)
	})

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
			cancel()
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancelShutdown()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	runErr := g.Wait()

	logger.Info("Draining background downloads...", slog.Int64("in_flight", a.manager.InFlight()))
	closeErr := closeWithTimeout(a)

	if err := errors.Join(runErr, closeErr); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

func closeWithTimeout(a *App) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.App.ShutdownTimeout)
	defer cancel()
	return a.Close(ctx)
}

// router mounts health checks and the API.
func (a *App) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, err := a.svc.Stats(req.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/api", api.NewRouter(a.svc, a.cfg.Auth.AuthEnabled(), a.cfg.Auth.Token, a.broker))
	return r
}

// RunMCP serves the item tools over stdio. Logs go to stderr since stdout
// carries the protocol. Downloads run inline.
func RunMCP(ctx context.Context, opts ...Option) error {
	a, err := Open(ctx, append(opts, WithLogOutput(os.Stderr))...)
	if err != nil {
		return err
	}
	defer closeWithTimeout(a) //nolint:errcheck

	version := a.version
	if version == "" {
		version = "dev"
	}
	a.logger.Info("MCP server starting", slog.String("data_dir", a.cfg.Data.Dir))
	return mcpserver.New(a.svc, version).ServeStdio()
}
