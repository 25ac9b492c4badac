// Package inbox analyzes call recordings dropped into a directory.
//
// For an audio file <name>.<ext> the watcher reads the customer description
// from <name>.audience.txt (falling back to the default audience) and writes
// <name>.transcript.txt and <name>.report.txt next to it. A file whose report
// already exists is skipped, so restarts do not repeat work.
package inbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/clarity-bridge/callcoach/internal/metrics"
	"github.com/clarity-bridge/callcoach/internal/pipeline"
	"github.com/clarity-bridge/callcoach/internal/report"
	"github.com/clarity-bridge/callcoach/internal/transcribe"
)

const (
	defaultDebounce = 500 * time.Millisecond

	audienceSuffix   = ".audience.txt"
	reportSuffix     = ".report.txt"
	transcriptSuffix = ".transcript.txt"
)

// ErrNoAudience is returned when neither a sidecar nor a default audience is available.
var ErrNoAudience = errors.New("no audience description")

// Runner executes one analysis. *pipeline.Pipeline satisfies it.
type Runner interface {
	Run(ctx context.Context, in pipeline.Input) (*pipeline.Result, error)
}

// Options configures a Watcher.
type Options struct {
	Dir             string
	DefaultAudience string
	Runner          Runner
	Debounce        time.Duration // zero = 500ms
	Log             zerolog.Logger
}

// Stats reports watcher progress.
type Stats struct {
	Status    string `json:"status"`
	Dir       string `json:"dir"`
	Processed int64  `json:"processed"`
	Skipped   int64  `json:"skipped"`
	Failed    int64  `json:"failed"`
}

// Watcher monitors Dir for new audio files and analyzes them one at a time.
type Watcher struct {
	opts Options
	log  zerolog.Logger

	watcher *fsnotify.Watcher
	queue   chan string
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// Debounce: coalesce rapid Create+Write events on the same file.
	debounceMu     sync.Mutex
	debounceTimers map[string]*time.Timer

	processed atomic.Int64
	skipped   atomic.Int64
	failed    atomic.Int64
	status    atomic.Value // string: "starting", "watching", "stopped"
}

// New creates a Watcher. Call Start to begin watching.
func New(opts Options) *Watcher {
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}
	w := &Watcher{
		opts:           opts,
		log:            opts.Log.With().Str("component", "inbox").Logger(),
		queue:          make(chan string, 64),
		debounceTimers: make(map[string]*time.Timer),
	}
	w.status.Store("starting")
	return w
}

// Start watches the directory, queues audio files already present and
// returns. Processing stops when ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	if w.opts.Runner == nil {
		return errors.New("inbox: runner is required")
	}
	info, err := os.Stat(w.opts.Dir)
	if err != nil {
		return fmt.Errorf("inbox dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("inbox dir %s is not a directory", w.opts.Dir)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(w.opts.Dir); err != nil {
		fw.Close()
		return fmt.Errorf("watch %s: %w", w.opts.Dir, err)
	}
	w.watcher = fw
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(2)
	go w.watchLoop()
	go w.worker()

	existing := w.pending()
	w.log.Info().
		Str("dir", w.opts.Dir).
		Int("pending", len(existing)).
		Msg("inbox watcher started")
	go func() {
		for _, path := range existing {
			w.enqueue(path)
		}
	}()

	w.status.Store("watching")
	return nil
}

// Stop closes the fsnotify watcher and waits for the current file to finish.
func (w *Watcher) Stop() {
	w.status.Store("stopped")
	if w.cancel != nil {
		w.cancel()
	}
	if w.watcher != nil {
		w.watcher.Close()
	}

	w.debounceMu.Lock()
	for path, t := range w.debounceTimers {
		t.Stop()
		delete(w.debounceTimers, path)
	}
	w.debounceMu.Unlock()

	w.wg.Wait()
	w.log.Info().
		Int64("processed", w.processed.Load()).
		Int64("skipped", w.skipped.Load()).
		Int64("failed", w.failed.Load()).
		Msg("inbox watcher stopped")
}

// Stats returns current counters.
func (w *Watcher) Stats() Stats {
	s, _ := w.status.Load().(string)
	return Stats{
		Status:    s,
		Dir:       w.opts.Dir,
		Processed: w.processed.Load(),
		Skipped:   w.skipped.Load(),
		Failed:    w.failed.Load(),
	}
}

func (w *Watcher) watchLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !transcribe.IsAudioFile(event.Name) {
				continue
			}
			w.scheduleProcess(event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error().Err(err).Msg("fsnotify error")
		}
	}
}

// scheduleProcess debounces a path so the file is fully written before it is read.
func (w *Watcher) scheduleProcess(path string) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if t, ok := w.debounceTimers[path]; ok {
		t.Reset(w.opts.Debounce)
		return
	}

	w.debounceTimers[path] = time.AfterFunc(w.opts.Debounce, func() {
		w.debounceMu.Lock()
		delete(w.debounceTimers, path)
		w.debounceMu.Unlock()

		w.enqueue(path)
	})
}

func (w *Watcher) enqueue(path string) {
	select {
	case w.queue <- path:
	case <-w.ctx.Done():
	}
}

func (w *Watcher) worker() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case path := <-w.queue:
			w.handle(w.ctx, path)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, path string) {
	err := ProcessFile(ctx, w.opts.Runner, path, w.opts.DefaultAudience)
	switch {
	case errors.Is(err, errAlreadyDone):
		w.skipped.Add(1)
		metrics.InboxFilesTotal.WithLabelValues("skipped").Inc()
	case err != nil:
		w.failed.Add(1)
		metrics.InboxFilesTotal.WithLabelValues("failed").Inc()
		w.log.Warn().Err(err).Str("path", path).Msg("inbox file failed")
	default:
		w.processed.Add(1)
		metrics.InboxFilesTotal.WithLabelValues("processed").Inc()
		w.log.Info().Str("path", path).Str("report", ReportPath(path)).Msg("inbox file analyzed")
	}
}

// pending lists audio files in Dir that have no report yet, oldest first.
func (w *Watcher) pending() []string {
	entries, err := os.ReadDir(w.opts.Dir)
	if err != nil {
		w.log.Warn().Err(err).Msg("failed to list inbox")
		return nil
	}

	type fileEntry struct {
		path    string
		modTime time.Time
	}
	var files []fileEntry
	for _, e := range entries {
		if e.IsDir() || !transcribe.IsAudioFile(e.Name()) {
			continue
		}
		path := filepath.Join(w.opts.Dir, e.Name())
		if exists(ReportPath(path)) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fileEntry{path: path, modTime: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.Before(files[j].modTime)
	})

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.path
	}
	return paths
}

var errAlreadyDone = errors.New("report already exists")

// ProcessFile analyzes one audio file and writes its transcript and report
// next to it. The report is written last; its presence marks the file as done.
func ProcessFile(ctx context.Context, runner Runner, path, defaultAudience string) error {
	if exists(ReportPath(path)) {
		return errAlreadyDone
	}

	audience, err := Audience(path, defaultAudience)
	if err != nil {
		return err
	}

	audio, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read audio: %w", err)
	}

	res, err := runner.Run(ctx, pipeline.Input{
		Audio:    audio,
		Filename: path,
		Audience: audience,
	})
	if err != nil {
		return err
	}

	if err := os.WriteFile(TranscriptPath(path), []byte(res.TranscriptText), 0o644); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}

	var buf bytes.Buffer
	report.WriteText(&buf, res.Report)
	if err := writeFileAtomic(ReportPath(path), buf.Bytes()); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// Audience returns the sidecar description for an audio file, or def when
// the sidecar is missing or blank.
func Audience(audioPath, def string) (string, error) {
	data, err := os.ReadFile(stem(audioPath) + audienceSuffix)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("read audience: %w", err)
	}
	if a := strings.TrimSpace(string(data)); a != "" {
		return a, nil
	}
	if a := strings.TrimSpace(def); a != "" {
		return a, nil
	}
	return "", ErrNoAudience
}

// ReportPath returns the report output path for an audio file.
func ReportPath(audioPath string) string { return stem(audioPath) + reportSuffix }

// TranscriptPath returns the transcript output path for an audio file.
func TranscriptPath(audioPath string) string { return stem(audioPath) + transcriptSuffix }

func stem(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path))
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
