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
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/tidsync/internal/api"
	"github.com/starford/tidsync/internal/autosave"
	"github.com/starford/tidsync/internal/configwatch"
	"github.com/starford/tidsync/internal/editor"
	"github.com/starford/tidsync/internal/index"
	"github.com/starford/tidsync/internal/mcpserver"
	"github.com/starford/tidsync/internal/mirror"
	"github.com/starford/tidsync/internal/push"
	"github.com/starford/tidsync/internal/sse"
	"github.com/starford/tidsync/internal/syncer"
	"github.com/starford/tidsync/internal/wikiapi"
	pkgconfig "github.com/starford/tidsync/pkg/config"
)

// core holds the components shared by the HTTP and MCP front ends.
type core struct {
	mirror *mirror.FS
	db     *index.DB
	coord  *syncer.Coordinator
}

func newStore(s configwatch.Settings) wikiapi.Store {
	return wikiapi.NewClient(s.Host, s.Recipe, &http.Client{Timeout: s.Timeout})
}

// buildCore opens the mirror and cache and recovers files left by a
// previous run.
func (a *application) buildCore(logger *slog.Logger, pub syncer.Publisher) (*core, error) {
	cfg := a.config

	dir := cfg.Mirror.Dir
	if dir == "" {
		dir = mirror.DefaultDir()
	}
	m, err := mirror.NewFS(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("init mirror: %w", err)
	}

	db, err := index.Open(cfg.Index.Path)
	if err != nil {
		return nil, fmt.Errorf("init index: %w", err)
	}

	coord := syncer.New(syncer.Config{
		Store:      newStore(cfg.Settings()),
		Mirror:     m,
		Cache:      db,
		Publisher:  pub,
		Logger:     logger,
		SyncCursor: cfg.Push.SyncCursor,
	})

	if _, err := coord.Recover(); err != nil {
		logger.Warn("recover mirror failed", slog.String("error", err.Error()))
	}
	return &core{mirror: m, db: db, coord: coord}, nil
}

func (a *application) init(opts []Option) error {
	for _, opt := range opts {
		opt(a)
	}
	if a.config == nil {
		return fmt.Errorf("config is required")
	}
	return nil
}

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}
	if err := app.init(opts); err != nil {
		return err
	}
	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("wiki_host", cfg.Wiki.Host),
		slog.String("recipe", cfg.Wiki.Recipe),
		slog.String("mirror_dir", cfg.Mirror.Dir),
		slog.String("sqlite_path", cfg.Index.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	c, err := app.buildCore(logger, broker)
	if err != nil {
		return err
	}
	defer c.db.Close()
	// Mirror files never outlive the process.
	defer c.coord.Close()

	buffers := editor.NewRegistry(c.mirror, c.coord.MarkDirty)
	c.coord.SetCursorSource(buffers)

	if cfg.Editor.Command != "" {
		c.coord.SetLauncher(&editor.Launcher{Command: cfg.Editor.Command, Logger: logger})
	}

	channel, err := push.New(push.Config{
		URL: push.SocketURL(cfg.Wiki.Host),
		Policy: push.Policy{
			BaseDelay:   cfg.Push.BaseDelay,
			MaxDelay:    cfg.Push.MaxDelay,
			MaxAttempts: cfg.Push.MaxAttempts,
		},
		LivenessInterval: cfg.Push.LivenessInterval,
		Opener:           c.coord,
		Logger:           logger,
		OnState: func(s push.State) {
			broker.PublishTiddlerEvent(sse.TypePush, map[string]any{"state": s})
			if s == push.Stopped {
				broker.PublishNotice(sse.LevelWarning, "Push channel", "Gave up reconnecting to the wiki. Use reconnect to try again.")
			}
		},
	})
	if err != nil {
		return fmt.Errorf("init push channel: %w", err)
	}
	c.coord.SetPusher(channel)

	saver := autosave.New(buffers, c.coord, c.mirror, cfg.Autosave.Enabled, cfg.Autosave.Interval(), logger)
	reloader := configwatch.NewReloader(cfg.Settings(), c.coord, channel, saver, newStore, logger)

	// Build API router.
	apiRouter := api.NewRouter(api.Deps{
		Sync:          c.coord,
		Buffers:       buffers,
		Push:          channel,
		Cache:         c.db,
		DefaultFilter: cfg.Wiki.DefaultFilter,
	}, cfg.App.Auth.AuthEnabled(), cfg.App.Auth.Token, broker)

	// Build chi router.
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
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Push channel.
	g.Go(func() error {
		return channel.Run(gCtx)
	})

	// Autosave timer.
	g.Go(func() error {
		return saver.Run(gCtx)
	})

	// Save mirror files written by editors.
	g.Go(func() error {
		err := editor.Watch(gCtx, c.mirror, c.mirror.Dir(), c.db, c.coord, logger, func(path string, err error) {
			if err != nil {
				logger.Debug("watch: save failed", slog.String("path", path), slog.String("error", err.Error()))
			}
		})
		if err != nil {
			return fmt.Errorf("mirror watcher: %w", err)
		}
		return nil
	})

	// Apply config file changes without a restart.
	if app.configPath != "" {
		g.Go(func() error {
			load := func() (configwatch.Settings, error) {
				next := NewDefaultConfig()
				if _, err := pkgconfig.LoadOptional(app.configPath, next); err != nil {
					return configwatch.Settings{}, err
				}
				return next.Settings(), nil
			}
			if err := configwatch.Watch(gCtx, app.configPath, load, reloader, logger); err != nil {
				logger.Warn("config watcher disabled", slog.String("error", err.Error()))
			}
			return nil
		})
	}

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
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group so background loops stop with the server.
var errShutdown = errors.New("shutdown")

// RunMCP serves the sync tools over stdio. Logs go to stderr since
// stdout carries the protocol.
func RunMCP(ctx context.Context, opts ...Option) error {
	app := &application{}
	if err := app.init(opts); err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: app.config.App.LogLevel,
	}))
	slog.SetDefault(logger)

	c, err := app.buildCore(logger, nil)
	if err != nil {
		return err
	}
	defer c.db.Close()
	defer c.coord.Close()

	srv := mcpserver.New(c.coord, c.db)
	logger.Info("MCP server starting", slog.String("wiki_host", app.config.Wiki.Host))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ServeStdio() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return nil
	}
}
