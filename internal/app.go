package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/starford/notetaker/internal/events"
	"github.com/starford/notetaker/internal/index"
	"github.com/starford/notetaker/internal/noteservice"
	"github.com/starford/notetaker/internal/storage"
)

// graphThrottle is the minimum spacing of graph.updated events.
const graphThrottle = 2 * time.Second

// App bundles the long-lived components built from a Config.
type App struct {
	Config  *Config
	Logger  *slog.Logger
	Store   *storage.FS
	DB      *index.DB
	Broker  *events.Broker
	Service *noteservice.Service

	logCloser io.Closer
}

// Open builds every component and loads the notes directory.
func Open(ctx context.Context, cfg *Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger, logCloser := newLogger(cfg.App)
	a := &App{Config: cfg, Logger: logger, logCloser: logCloser}

	logger.Info("Configuration loaded",
		slog.String("notes_dir", cfg.Notes.Dir),
		slog.Duration("debounce", cfg.Notes.Debounce),
		slog.Bool("sqlite_enabled", cfg.SQLite.Enabled),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.Bool("watcher_enabled", cfg.Watcher.Enabled),
		slog.String("log_level", cfg.App.LogLevel.String()))

	store, err := storage.NewFS(cfg.Notes.Dir)
	if err != nil {
		_ = logCloser.Close()
		return nil, fmt.Errorf("init storage: %w", err)
	}
	a.Store = store

	opts := []noteservice.Option{
		noteservice.WithLogger(logger),
		noteservice.WithDebounce(cfg.Notes.Debounce),
	}
	if cfg.SQLite.Enabled {
		db, err := index.Open(cfg.SQLite.Path)
		if err != nil {
			_ = logCloser.Close()
			return nil, fmt.Errorf("init index: %w", err)
		}
		a.DB = db
		opts = append(opts, noteservice.WithIndex(db))
	}

	a.Broker = events.NewBroker(graphThrottle)
	opts = append(opts, noteservice.WithBroker(a.Broker))
	a.Service = noteservice.New(store, opts...)

	if _, err := a.Service.Load(ctx); err != nil {
		_ = a.Close(ctx)
		return nil, fmt.Errorf("load notes: %w", err)
	}

	return a, nil
}

// Close flushes pending saves and releases every resource. It is safe to
// call once.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Service != nil {
		if err := a.Service.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush notes: %w", err))
		}
	}
	if a.Broker != nil {
		a.Broker.Close()
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close index: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		a.Logger.Error("Shutdown error", slog.String("error", err.Error()))
	} else {
		a.Logger.Info("Notetaker stopped successfully")
	}
	if a.logCloser != nil {
		if err := a.logCloser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close log file: %w", err))
		}
	}
	return errors.Join(errs...)
}
