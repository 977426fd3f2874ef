// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/notetaker/internal/events"
	"github.com/starford/notetaker/internal/index"
	"github.com/starford/notetaker/internal/mcpserver"
)

// shutdownTimeout bounds the final flush of pending saves.
const shutdownTimeout = 10 * time.Second

// Run starts the application with the given options and blocks until a
// shutdown signal arrives, ctx is cancelled or the MCP client disconnects.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	a, err := Open(ctx, app.config)
	if err != nil {
		return err
	}
	logger := a.Logger
	prevDefault := slog.Default()
	slog.SetDefault(logger)
	defer slog.SetDefault(prevDefault)

	logger.Info("Notetaker starting...",
		slog.String("version", app.version),
		slog.Int("notes", a.Service.Len()),
		slog.Bool("mcp", app.mcp))

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gCtx := errgroup.WithContext(runCtx)

	// Mirror external edits of the notes directory into the service.
	if app.config.Watcher.Enabled {
		g.Go(func() error {
			err := index.Watch(gCtx, a.Store, a.Store.Root(), app.config.Watcher.Settle, logger, func(c index.Change) {
				outcome := a.Service.HandleExternal(c)
				logger.Debug("external change",
					slog.String("name", c.Name),
					slog.String("outcome", string(outcome)))
			})
			if err != nil {
				logger.Warn("watcher stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	// Log note lifecycle events.
	sub := a.Broker.Subscribe()
	g.Go(func() error {
		defer a.Broker.Unsubscribe(sub)
		for {
			select {
			case <-gCtx.Done():
				return nil
			case ev, ok := <-sub:
				if !ok {
					return nil
				}
				logEvent(logger, ev)
			}
		}
	})

	// Serve MCP tools; a closed client stream ends the run.
	if app.mcp {
		in, out := app.stdin, app.stdout
		if in == nil {
			in = os.Stdin
		}
		if out == nil {
			out = os.Stdout
		}
		srv := mcpserver.New(a.Service, app.version)
		g.Go(func() error {
			logger.Info("Starting MCP server on stdio")
			err := srv.Listen(gCtx, in, out, logger)
			stop()
			return err
		})
	}

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
			stop()
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}
		return nil
	})

	runErr := g.Wait()
	if runErr != nil {
		logger.Error("Application error", slog.String("error", runErr.Error()))
	}

	logger.Info("Flushing pending saves...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	closeErr := a.Close(shutdownCtx)

	if runErr != nil {
		return runErr
	}
	return closeErr
}

func logEvent(logger *slog.Logger, ev events.Event) {
	attrs := []any{
		slog.String("type", ev.Type),
		slog.String("note_id", ev.NoteID),
		slog.String("title", ev.Title),
	}
	for k, v := range ev.Data {
		attrs = append(attrs, slog.String(k, v))
	}
	if ev.Type == events.SaveFailed {
		logger.Warn("note event", attrs...)
		return
	}
	logger.Debug("note event", attrs...)
}
