// Package pipeline runs one sales-call analysis end to end: transcription,
// dialogue reconstruction and report generation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/clarity-bridge/callcoach/internal/dialogue"
	"github.com/clarity-bridge/callcoach/internal/metrics"
	"github.com/clarity-bridge/callcoach/internal/report"
	"github.com/clarity-bridge/callcoach/internal/transcribe"
)

// Stage names used in StageError and metrics labels.
const (
	StageTranscribe = "transcribe"
	StageFormat     = "format"
	StageGenerate   = "generate"
)

// ProgressFunc receives coarse progress updates (0, 25, 75, 100).
type ProgressFunc func(percent int, message string)

// Analyzer produces a report from a rendered transcript. *report.Analyzer
// satisfies it.
type Analyzer interface {
	Analyze(ctx context.Context, transcript, audience string) report.Report
	Provider() string
	Model() string
}

// Options configures a Pipeline.
type Options struct {
	Transcriber transcribe.Provider
	Analyzer    Analyzer

	Language string
	Labeler  dialogue.Labeler
	// LabelPolicy is the configured policy name, used to warn when a lossy
	// policy merges more than two speakers.
	LabelPolicy string

	// HaltOnFormatFailure stops the run when the transcript cannot be
	// reconstructed. When false the failure sentinel is analyzed instead.
	HaltOnFormatFailure bool

	TranscribeTimeout time.Duration
	GenerateTimeout   time.Duration

	Log zerolog.Logger
}

// Pipeline is safe for concurrent use; each Run owns its own buffers.
type Pipeline struct {
	opts Options
	log  zerolog.Logger
}

// Input is one analysis request.
type Input struct {
	Audio    []byte
	Filename string // optional; used for the audio content type
	Audience string
	Progress ProgressFunc // optional
}

// Result is the outcome of a Run. Report.Failed marks a generation failure;
// the transcript is still present in that case.
type Result struct {
	Report         report.Report
	Transcript     *dialogue.Transcript
	TranscriptText string
	Language       string
	Transcriber    string
	AudioDuration  float64
	Elapsed        time.Duration
}

// PreconditionError is returned before any remote call when the input is unusable.
type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string {
	return "precondition failed: " + e.Reason
}

// StageError reports a stage that halted the run.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// New creates a Pipeline. Transcriber and Analyzer are required.
func New(opts Options) (*Pipeline, error) {
	if opts.Transcriber == nil {
		return nil, errors.New("pipeline: transcriber is required")
	}
	if opts.Analyzer == nil {
		return nil, errors.New("pipeline: analyzer is required")
	}
	if opts.Labeler == nil {
		opts.Labeler = dialogue.NumericLabels
	}
	return &Pipeline{
		opts: opts,
		log:  opts.Log.With().Str("component", "pipeline").Logger(),
	}, nil
}

// Transcriber returns the configured transcription provider name.
func (p *Pipeline) Transcriber() string { return p.opts.Transcriber.Name() }

// Generator returns the configured generation provider name.
func (p *Pipeline) Generator() string { return p.opts.Analyzer.Provider() }

// Run executes the analysis. A transcription failure, or a formatting failure
// while HaltOnFormatFailure is set, returns a *StageError and no result.
// Generation failures never produce an error.
func (p *Pipeline) Run(ctx context.Context, in Input) (*Result, error) {
	start := time.Now()
	progress := in.Progress
	if progress == nil {
		progress = func(int, string) {}
	}

	if err := checkInput(in); err != nil {
		metrics.AnalysesTotal.WithLabelValues(metrics.OutcomePrecondition).Inc()
		return nil, err
	}

	metrics.AnalysesInFlight.Inc()
	defer metrics.AnalysesInFlight.Dec()

	log := p.log.With().
		Str("file", in.Filename).
		Int("bytes", len(in.Audio)).
		Logger()

	progress(0, "starting")

	// 1. Transcribe
	progress(25, "transcribing")
	resp, err := p.transcribe(ctx, in)
	if err != nil {
		var fe *transcribe.FormatError
		if !errors.As(err, &fe) {
			metrics.AnalysesTotal.WithLabelValues(metrics.OutcomeTranscribeFailed).Inc()
			metrics.ProviderFailuresTotal.WithLabelValues(p.opts.Transcriber.Name(), StageTranscribe).Inc()
			log.Error().Err(err).Msg("transcription failed")
			return nil, &StageError{Stage: StageTranscribe, Err: err}
		}
	}

	// 2. Reconstruct
	var transcript *dialogue.Transcript
	if err == nil {
		stageStart := time.Now()
		transcript, err = dialogue.Reconstruct(resp.Words, p.opts.Labeler)
		metrics.ObserveStage(StageFormat, stageStart)
	}
	if err != nil {
		if p.opts.HaltOnFormatFailure {
			metrics.AnalysesTotal.WithLabelValues(metrics.OutcomeFormatFailed).Inc()
			log.Error().Err(err).Msg("transcript formatting failed")
			return nil, &StageError{Stage: StageFormat, Err: err}
		}
		log.Warn().Err(err).Msg("transcript formatting failed, analyzing placeholder")
		transcript = dialogue.Failed(err)
	}

	if speakers := len(transcript.Speakers()); speakers > 2 && dialogue.IsLossy(p.opts.LabelPolicy) {
		log.Warn().
			Int("speakers", speakers).
			Str("policy", p.opts.LabelPolicy).
			Msg("more than two speakers detected; labels merge speakers")
	}

	res := &Result{
		Transcript:     transcript,
		TranscriptText: transcript.String(),
		Transcriber:    p.opts.Transcriber.Name(),
	}
	if resp != nil {
		res.Language = resp.Language
		res.AudioDuration = resp.Duration
	}

	// 3. Generate
	progress(75, "analyzing")
	res.Report = p.generate(ctx, res.TranscriptText, in.Audience)
	res.Elapsed = time.Since(start)

	if res.Report.Failed {
		metrics.AnalysesTotal.WithLabelValues(metrics.OutcomeGenerateFailed).Inc()
		metrics.ProviderFailuresTotal.WithLabelValues(res.Report.Provider, StageGenerate).Inc()
	} else {
		metrics.AnalysesTotal.WithLabelValues(metrics.OutcomeOK).Inc()
	}

	log.Info().
		Int("turns", len(transcript.Turns)).
		Int("words", transcript.WordCount()).
		Bool("report_failed", res.Report.Failed).
		Dur("elapsed", res.Elapsed).
		Msg("analysis complete")

	progress(100, "done")
	return res, nil
}

func (p *Pipeline) transcribe(ctx context.Context, in Input) (*transcribe.Response, error) {
	defer metrics.ObserveStage(StageTranscribe, time.Now())

	if p.opts.TranscribeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.TranscribeTimeout)
		defer cancel()
	}

	name := ""
	if in.Filename != "" {
		name = filepath.Base(in.Filename)
	}
	contentType, _ := transcribe.ContentTypeFor(name)
	return p.opts.Transcriber.Transcribe(ctx, in.Audio, transcribe.TranscribeOpts{
		Language:    p.opts.Language,
		ContentType: contentType,
		Filename:    name,
		Diarize:     true,
	})
}

func (p *Pipeline) generate(ctx context.Context, transcript, audience string) report.Report {
	defer metrics.ObserveStage(StageGenerate, time.Now())

	if p.opts.GenerateTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.GenerateTimeout)
		defer cancel()
	}
	return p.opts.Analyzer.Analyze(ctx, transcript, audience)
}

func checkInput(in Input) error {
	if len(in.Audio) == 0 {
		return &PreconditionError{Reason: "audio is empty"}
	}
	if strings.TrimSpace(in.Audience) == "" {
		return &PreconditionError{Reason: "audience description is required"}
	}
	if in.Filename != "" && !transcribe.IsAudioFile(in.Filename) {
		return &PreconditionError{Reason: fmt.Sprintf("unsupported audio file %q (accepted: mp3, wav, m4a)", filepath.Base(in.Filename))}
	}
	return nil
}
