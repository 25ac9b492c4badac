package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clarity-bridge/callcoach/internal/config"
	"github.com/clarity-bridge/callcoach/internal/dialogue"
	"github.com/clarity-bridge/callcoach/internal/pipeline"
	"github.com/clarity-bridge/callcoach/internal/report"
	"github.com/clarity-bridge/callcoach/internal/transcribe"
)

var version = "dev"

// overrides is filled by persistent flags on the root command.
var overrides config.Overrides

func main() {
	root := &cobra.Command{
		Use:           "callcoach",
		Short:         "Sales-call coaching: diarized transcription and Clarity Bridge analysis",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&overrides.EnvFile, "env-file", "", "Path to .env file (default: .env)")
	pf.StringVar(&overrides.LogLevel, "log-level", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")
	pf.StringVar(&overrides.Language, "language", "", "Spoken language code (overrides TRANSCRIBE_LANGUAGE)")
	pf.StringVar(&overrides.SpeakerLabels, "speaker-labels", "", "Speaker label policy: numeric, letters, binary (overrides SPEAKER_LABELS)")

	root.AddCommand(newServeCmd(), newAnalyzeCmd(), newWatchCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// setup loads and validates configuration and builds a logger writing to logOut.
func setup(logOut io.Writer) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(overrides)
	if err != nil {
		return nil, zerolog.Logger{}, fmt.Errorf("load config: %w", err)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(logOut).With().Timestamp().Logger().Level(level)

	if err := cfg.Validate(); err != nil {
		return nil, log, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, log, nil
}

// buildPipeline wires the configured providers into a Pipeline.
func buildPipeline(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*pipeline.Pipeline, error) {
	var stt transcribe.Provider
	switch strings.ToLower(cfg.TranscribeProvider) {
	case "elevenlabs":
		stt = transcribe.NewElevenLabsClient(transcribe.ElevenLabsOptions{
			APIKey:      cfg.ElevenLabsAPIKey,
			Model:       cfg.ElevenLabsModel,
			Timeout:     cfg.TranscribeTimeout,
			MaxAttempts: cfg.TranscribeMaxAttempts,
		})
	default:
		stt = transcribe.NewDeepgramClient(transcribe.DeepgramOptions{
			APIKey:      cfg.DeepgramAPIKey,
			URL:         cfg.DeepgramURL,
			Model:       cfg.DeepgramModel,
			Timeout:     cfg.TranscribeTimeout,
			MaxAttempts: cfg.TranscribeMaxAttempts,
		})
	}

	var gen report.Generator
	switch strings.ToLower(cfg.GenerateProvider) {
	case "openai":
		gen = report.NewOpenAIGenerator(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel, cfg.GenerateTemperature)
	default:
		g, err := report.NewGeminiGenerator(ctx, report.GeminiOptions{
			APIKey:          cfg.GeminiAPIKey,
			Model:           cfg.GeminiModel,
			Temperature:     cfg.GenerateTemperature,
			DisableSafety:   cfg.GeminiDisableSafety,
			SafetyThreshold: cfg.GeminiSafetyThreshold,
		})
		if err != nil {
			return nil, err
		}
		gen = g
	}

	analyzer, err := report.NewAnalyzer(gen, report.AnalyzerOptions{
		Log: log.With().Str("component", "report").Logger(),
	})
	if err != nil {
		return nil, err
	}

	labeler, err := dialogue.LabelerFor(cfg.SpeakerLabels)
	if err != nil {
		return nil, err
	}
	if len(cfg.SpeakerNames) > 0 {
		labeler = dialogue.NamedLabels(cfg.SpeakerNames, labeler)
	}

	log.Info().
		Str("transcriber", stt.Name()).
		Str("transcribe_model", stt.Model()).
		Str("generator", gen.Name()).
		Str("generate_model", gen.Model()).
		Str("speaker_labels", cfg.SpeakerLabels).
		Bool("halt_on_format_failure", cfg.HaltOnFormatFailure).
		Msg("pipeline configured")

	return pipeline.New(pipeline.Options{
		Transcriber:         stt,
		Analyzer:            analyzer,
		Language:            cfg.TranscribeLanguage,
		Labeler:             labeler,
		LabelPolicy:         cfg.SpeakerLabels,
		HaltOnFormatFailure: cfg.HaltOnFormatFailure,
		TranscribeTimeout:   cfg.TranscribeTimeout,
		GenerateTimeout:     cfg.GenerateTimeout,
		Log:                 log,
	})
}
