package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/clarity-bridge/callcoach/internal/inbox"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Analyze recordings dropped into a directory",
		Long: `Watch a directory for .mp3, .wav and .m4a files. For each <name>.<ext> the
customer description is read from <name>.audience.txt (or --audience), and
<name>.transcript.txt and <name>.report.txt are written next to the recording.`,
		Args: cobra.NoArgs,
		RunE: runWatch,
	}
	cmd.Flags().StringVar(&overrides.InboxDir, "dir", "", "Directory to watch (overrides INBOX_DIR)")
	cmd.Flags().StringVar(&overrides.DefaultAudience, "audience", "", "Audience used when no sidecar exists (overrides DEFAULT_AUDIENCE)")
	return cmd
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup(os.Stdout)
	if err != nil {
		return err
	}
	if cfg.InboxDir == "" {
		return errors.New("--dir or INBOX_DIR is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := buildPipeline(ctx, cfg, log)
	if err != nil {
		return err
	}

	w := inbox.New(inbox.Options{
		Dir:             cfg.InboxDir,
		DefaultAudience: cfg.DefaultAudience,
		Runner:          p,
		Log:             log,
	})
	if err := w.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")
	w.Stop()
	return nil
}
