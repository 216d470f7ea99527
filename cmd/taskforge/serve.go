package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/kazz187/taskforge/internal/config"
	"github.com/kazz187/taskforge/internal/httpapi"
	"github.com/kazz187/taskforge/internal/pushnotify"
)

const shutdownGrace = 10 * time.Second

// serve runs the daemon: orchestrator, HTTP API with the SSE event stream,
// and the confirmation push notifier, until SIGINT/SIGTERM.
func serve(env *config.Env) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := buildComponents(ctx, env)
	if err != nil {
		return err
	}
	if err := c.orch.Start(ctx); err != nil {
		return err
	}

	notifier := pushnotify.NewNotifier(c.bus, c.pushSender)
	srv := httpapi.NewServer(env, c.orch, c.store, c.confirms, c.recorder, c.bus, c.pushRepo)

	wg := conc.NewWaitGroup()
	wg.Go(func() {
		notifier.Run(ctx)
	})
	wg.Go(func() {
		if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			stop()
		}
	})

	<-ctx.Done()
	slog.Info("shutting down")

	// Open SSE streams ended with the base context; give the rest of the
	// connections a bounded window to finish.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	c.orch.Wait()
	wg.Wait()
	return nil
}
