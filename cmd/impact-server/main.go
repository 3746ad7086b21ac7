package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, cleanup, err := BuildApp(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize app: %v\n", err)
		os.Exit(1)
	}

	cfg := app.Config

	slog.Info("starting impact server",
		"environment", cfg.Environment,
		"profile", cfg.Profile,
		"address", cfg.Server.Address,
		"storage_adapter", cfg.Storage.Adapter,
		"firestore_listener", app.Listener != nil)

	srv := app.Server
	errCh := make(chan error, 2)

	go func() {
		slog.Info("server listening", "address", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if app.Listener != nil {
		go func() {
			if err := app.Listener.Run(ctx); err != nil {
				errCh <- fmt.Errorf("firestore listener: %w", err)
			}
		}()
	}

	exitCode := 0
	select {
	case <-ctx.Done():
	case err := <-errCh:
		slog.Error("component failed, shutting down", "error", err)
		exitCode = 1
	}
	stop()

	slog.Info("shutting down server", "timeout", cfg.Server.ShutdownTimeout)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("error during server shutdown", "error", err)
		exitCode = 1
	}

	// drains queued marketplace triggers, then the event bus, then the store
	cleanup()
	slog.Info("server stopped")
	os.Exit(exitCode)
}
