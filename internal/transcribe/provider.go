package transcribe

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// Provider is the interface for diarizing speech-to-text backends.
type Provider interface {
	Transcribe(ctx context.Context, audio []byte, opts TranscribeOpts) (*Response, error)
	Name() string  // "deepgram", "elevenlabs"
	Model() string // model identifier for logs
}

// TranscribeOpts are per-request options.
type TranscribeOpts struct {
	Language    string // ISO-639 code; empty = provider default
	ContentType string // MIME type of the audio; empty = "audio/*"
	Filename    string // used for multipart uploads
	Diarize     bool
}

// Response is the common transcription result from any provider.
type Response struct {
	Language  string
	Duration  float64 // audio duration in seconds
	RequestID string
	Words     []Word
}

// Word is a diarized word from any STT provider.
type Word struct {
	Text    string
	Speaker int
	Start   float64 // seconds
	End     float64 // seconds
}

// Failure is a non-success outcome of a transcription request: an HTTP error
// status or a transport error after all attempts. StatusCode is 0 for transport errors.
type Failure struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (f *Failure) Error() string {
	if f.StatusCode > 0 {
		return fmt.Sprintf("%s API error (status %d): %s", f.Provider, f.StatusCode, f.Message)
	}
	if f.Err != nil {
		return fmt.Sprintf("%s request: %v", f.Provider, f.Err)
	}
	return fmt.Sprintf("%s request: %s", f.Provider, f.Message)
}

func (f *Failure) Unwrap() error { return f.Err }

// FormatError reports a successful response whose payload does not have the
// expected shape (missing words path, word without speaker, etc).
type FormatError struct {
	Provider string
	Reason   string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("%s: malformed transcription payload: %s", e.Provider, e.Reason)
}

// audioTypes are the accepted upload containers.
var audioTypes = map[string]string{
	".mp3": "audio/mpeg",
	".wav": "audio/wav",
	".m4a": "audio/mp4",
}

// ContentTypeFor returns the MIME type for an accepted audio filename.
// Returns false for anything other than mp3, wav and m4a.
func ContentTypeFor(filename string) (string, bool) {
	ct, ok := audioTypes[strings.ToLower(filepath.Ext(filename))]
	return ct, ok
}

// IsAudioFile reports whether the filename has an accepted audio extension.
func IsAudioFile(filename string) bool {
	_, ok := ContentTypeFor(filename)
	return ok
}
