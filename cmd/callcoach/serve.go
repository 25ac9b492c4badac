package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/clarity-bridge/callcoach/internal/api"
	"github.com/clarity-bridge/callcoach/internal/inbox"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (and the inbox watcher when INBOX_DIR is set)",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	cmd.Flags().StringVar(&overrides.HTTPAddr, "listen", "", "HTTP listen address (overrides HTTP_ADDR)")
	cmd.Flags().StringVar(&overrides.InboxDir, "inbox", "", "Directory to watch for recordings (overrides INBOX_DIR)")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	startTime := time.Now()

	cfg, log, err := setup(os.Stdout)
	if err != nil {
		return err
	}
	log.Info().Str("version", version).Msg("callcoach starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := buildPipeline(ctx, cfg, log)
	if err != nil {
		return err
	}

	// Inbox watcher (optional)
	if cfg.InboxDir != "" {
		w := inbox.New(inbox.Options{
			Dir:             cfg.InboxDir,
			DefaultAudience: cfg.DefaultAudience,
			Runner:          p,
			Log:             log,
		})
		if err := w.Start(ctx); err != nil {
			return err
		}
		defer w.Stop()
	}

	// HTTP Server
	httpLog := log.With().Str("component", "http").Logger()
	srv := api.NewServer(cfg, p, version, startTime, httpLog)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	// Graceful shutdown with 10s timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	log.Info().Msg("callcoach stopped")
	return nil
}
