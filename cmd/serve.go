package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/paperfold/fortuneteller/internal/handlers"
	"github.com/paperfold/fortuneteller/internal/live"
	"github.com/paperfold/fortuneteller/internal/metrics"
	"github.com/paperfold/fortuneteller/internal/storage"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the web interface",
		Long: `Starts the Fortune Teller Studio web interface.

The page has two tabs: one uploads a single image and shows the segments the
processing service extracts, the other collects six composite images and shows
the reconstructed fortune teller. Each browser gets its own workspace, which is
dropped after it has been idle for --session-ttl.`,
		Example: `  # Start server on default port 8888
  fortuneteller serve

  # Start server on custom port against a remote service
  fortuneteller serve --port 3000 --api-url http://segmenter:5000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			hub := live.NewHub()
			go hub.Run(ctx)

			store := storage.New(a.client(),
				storage.WithNotifier(hub.Notify),
				storage.WithObserver(metrics.Observe),
				storage.WithGauge(metrics.ActiveWorkspaces),
			)
			go store.Janitor(ctx, cfg.Server.SessionTTL, sweepInterval(cfg.Server.SessionTTL))

			handler, err := handlers.New(store,
				handlers.WithHub(hub),
				handlers.WithMaxUploadBytes(cfg.Server.MaxUploadBytes),
			)
			if err != nil {
				return err
			}

			addr := cfg.Addr()
			server := &http.Server{
				Addr:              addr,
				Handler:           handler.Routes(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			slog.Info("Fortune Teller Studio available", "addr", addr, "url", "http://localhost"+addr, "remote", cfg.Remote.BaseURL)
			return serve(ctx, server, store)
		},
	}

	cmd.Flags().IntP("port", "p", 8888, "Port to listen on")
	cmd.Flags().Duration("session-ttl", 30*time.Minute, "Drop workspaces idle for longer than this (0 keeps them forever)")
	cmd.Flags().Int64("max-upload-bytes", 16*1024*1024, "Largest accepted image upload")

	return cmd
}

// sweepInterval checks for idle workspaces a few times per TTL
func sweepInterval(ttl time.Duration) time.Duration {
	interval := ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	if interval > 5*time.Minute {
		interval = 5 * time.Minute
	}
	return interval
}

// serve runs server until ctx is cancelled or it fails to listen. Either way
// every workspace is closed and its remote sessions cleaned up before returning.
func serve(ctx context.Context, server *http.Server, store *storage.WorkspaceStore) error {
	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for context cancellation (Ctrl+C) or server error
	select {
	case <-ctx.Done():
		slog.Info("Shutting down server...")
		// Give server 5 seconds to shut down gracefully
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown failed", "err", err)
			closeStore(store)
			return err
		}
		closeStore(store)
		slog.Info("Server stopped")
		return nil
	case err := <-serverErr:
		slog.Error("Server failed", "err", err)
		closeStore(store)
		return err
	}
}

func closeStore(store *storage.WorkspaceStore) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Close(ctx); err != nil {
		slog.Warn("Some remote sessions were not cleaned up", "err", err)
	}
}
