package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AadhithSridharan/Slicetool/internal/config"
	"github.com/AadhithSridharan/Slicetool/internal/store"
)

type App struct {
	config   *config.Config
	logger   *slog.Logger
	sessions *store.SessionStore

	// ownRoot is set when the artifact root was created by us and should be
	// removed on shutdown.
	ownRoot bool
}

func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger := newLogger(cfg)

	root := cfg.ArtifactRoot
	ownRoot := false
	if root == "" {
		root, err = os.MkdirTemp("", "slicetool_")
		if err != nil {
			return nil, fmt.Errorf("creating artifact root: %w", err)
		}
		ownRoot = true
	} else if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating artifact root: %w", err)
	}

	return &App{
		config:   cfg,
		logger:   logger,
		sessions: store.NewSessionStore(root, logger),
		ownRoot:  ownRoot,
	}, nil
}

// Close removes the artifact root when it was created for this process.
func (app *App) Close() {
	if !app.ownRoot {
		return
	}
	if err := os.RemoveAll(app.sessions.Root()); err != nil {
		app.logger.Warn("removing artifact root", "err", err)
	}
}

func (app *App) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", app.config.Port),
		Handler:      app.routes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute, // conversions block the request until done
		ErrorLog:     slog.NewLogLogger(app.logger.Handler(), slog.LevelError),
	}

	g.Go(func() error {
		app.logger.Info("starting server", "addr", srv.Addr, "env", app.config.Env, "root", app.sessions.Root())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		app.logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	app.logger.Info("stopped server")
	return nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	logLevel := slog.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))

	slog.SetDefault(logger)
	return logger
}
