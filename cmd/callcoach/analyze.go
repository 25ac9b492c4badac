package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/clarity-bridge/callcoach/internal/pipeline"
	"github.com/clarity-bridge/callcoach/internal/report"
)

type analyzeFlags struct {
	audio         string
	audience      string
	out           string
	transcriptOut string
	docx          string
}

func newAnalyzeCmd() *cobra.Command {
	var f analyzeFlags
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze one recording and print the report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, f)
		},
	}
	cmd.Flags().StringVar(&f.audio, "audio", "", "Recording to analyze (.mp3, .wav, .m4a)")
	cmd.Flags().StringVar(&f.audience, "audience", "", "Free-text description of the customer")
	cmd.Flags().StringVar(&f.out, "out", "", "Write the report to this file instead of stdout")
	cmd.Flags().StringVar(&f.transcriptOut, "transcript-out", "", "Also write the speaker-labeled transcript to this file")
	cmd.Flags().StringVar(&f.docx, "docx", "", "Also write the report as a Word document")
	cmd.MarkFlagRequired("audio")
	cmd.MarkFlagRequired("audience")
	return cmd
}

func runAnalyze(cmd *cobra.Command, f analyzeFlags) error {
	cfg, log, err := setup(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	audio, err := os.ReadFile(f.audio)
	if err != nil {
		return fmt.Errorf("read audio: %w", err)
	}

	p, err := buildPipeline(ctx, cfg, log)
	if err != nil {
		return err
	}

	stderr := cmd.ErrOrStderr()
	res, err := p.Run(ctx, pipeline.Input{
		Audio:    audio,
		Filename: f.audio,
		Audience: f.audience,
		Progress: func(pct int, msg string) {
			fmt.Fprintf(stderr, "[%3d%%] %s\n", pct, msg)
		},
	})
	if err != nil {
		return err
	}

	if f.transcriptOut != "" {
		if err := os.WriteFile(f.transcriptOut, []byte(res.TranscriptText), 0o644); err != nil {
			return fmt.Errorf("write transcript: %w", err)
		}
	}

	if f.docx != "" {
		if err := writeDocxFile(f.docx, res.Report.Text); err != nil {
			return err
		}
	}

	var out io.Writer = cmd.OutOrStdout()
	if f.out != "" {
		file, err := os.Create(f.out)
		if err != nil {
			return fmt.Errorf("create report: %w", err)
		}
		defer file.Close()
		out = file
	}
	if err := report.WriteText(out, res.Report); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	if res.Report.Failed {
		log.Warn().Str("provider", res.Report.Provider).Msg("report generation failed; reason written as report text")
	}
	return nil
}

func writeDocxFile(path, markdown string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create docx: %w", err)
	}
	defer file.Close()
	if err := report.WriteDocx(file, "Sales call analysis", markdown); err != nil {
		return fmt.Errorf("write docx: %w", err)
	}
	return nil
}
