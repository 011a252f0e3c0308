package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/avinash-eye/image-processor/internal/transport"
)

type app struct {
	di  *dependencyInjector
	srv *http.Server
}

func New(ctx context.Context) *app {
	di := newDI()
	di.Logger()
	mux := http.NewServeMux()
	return &app{
		di: di,
		srv: &http.Server{
			Addr: di.Config().Addr,
			Handler: transport.WithRecover(
				transport.LogMiddleware(
					di.Router(ctx).MountRoutes(mux),
				),
			),
		},
	}
}

func (a *app) Run(ctx context.Context) error {
	a.startCleanup(ctx)

	errCh := make(chan error)
	go func() {
		slog.Info("starting server", slog.String("addr", a.srv.Addr))
		if e := a.srv.ListenAndServe(); e != nil && !errors.Is(e, http.ErrServerClosed) {
			slog.Error("server error", slog.String("error", e.Error()))
			errCh <- e
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		a.di.Config().ShutdownTimeout,
	)
	defer cancel()

	if err := a.srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", slog.String("error", err.Error()))
		return err
	}

	a.di.shutdown(shutdownCtx)

	slog.Info("server gracefully stopped")
	return nil
}

// startCleanup sweeps abandoned transient files. The handlers delete
// their own uploads, so this only catches files orphaned by a crash
// between save and cleanup.
func (a *app) startCleanup(ctx context.Context) {
	cfg := a.di.Config()
	store := a.di.FileStore(ctx)
	ticker := time.NewTicker(cfg.CleanupInterval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := store.CleanupOlderThan(ctx, cfg.TempMaxAge); err != nil && !errors.Is(err, context.Canceled) {
					slog.Warn("cleanup old transient files", slog.String("error", err.Error()))
				}
			}
		}
	}()
}
