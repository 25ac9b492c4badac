package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/clarity-bridge/callcoach/internal/config"
	"github.com/clarity-bridge/callcoach/internal/dialogue"
	"github.com/clarity-bridge/callcoach/internal/pipeline"
	"github.com/clarity-bridge/callcoach/internal/report"
	"github.com/clarity-bridge/callcoach/internal/transcribe"
)

// mockRunner implements Runner for testing.
type mockRunner struct {
	lastInput pipeline.Input
	calls     int
	result    *pipeline.Result
	err       error
}

func (m *mockRunner) Run(ctx context.Context, in pipeline.Input) (*pipeline.Result, error) {
	m.calls++
	m.lastInput = in
	if m.err != nil {
		return nil, m.err
	}
	if m.result != nil {
		return m.result, nil
	}
	tr, _ := dialogue.Reconstruct([]transcribe.Word{
		{Text: "hello", Speaker: 0},
		{Text: "hi", Speaker: 1},
	}, nil)
	return &pipeline.Result{
		Report:         report.Report{Text: "## 1. The Translation Gap\n| a | b |", Provider: "gemini", Model: "gemini-2.0-flash-exp"},
		Transcript:     tr,
		TranscriptText: tr.String(),
		Language:       "he",
		Transcriber:    "deepgram",
		Elapsed:        1500 * time.Millisecond,
	}, nil
}

func newTestAnalysesHandler(mock *mockRunner) *AnalysesHandler {
	return NewAnalysesHandler(mock, 1<<20, zerolog.Nop())
}

func buildMultipartForm(t *testing.T, fields map[string]string, fileField string, fileData []byte, fileName string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for k, v := range fields {
		writer.WriteField(k, v)
	}
	if fileData != nil && fileField != "" {
		part, err := writer.CreateFormFile(fileField, fileName)
		if err != nil {
			t.Fatal(err)
		}
		part.Write(fileData)
	}
	writer.Close()
	return body, writer.FormDataContentType()
}

func postAnalysis(t *testing.T, h *AnalysesHandler, query string, fields map[string]string, audio []byte, name string) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := buildMultipartForm(t, fields, "audio", audio, name)
	req := httptest.NewRequest("POST", "/api/v1/analyses"+query, body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	h.Create(rec, req)
	return rec
}

func TestAnalyses_JSON(t *testing.T) {
	mock := &mockRunner{}
	rec := postAnalysis(t, newTestAnalysesHandler(mock), "",
		map[string]string{"audience": "young couple"}, []byte("fake-audio"), "call.m4a")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if mock.lastInput.Filename != "call.m4a" {
		t.Errorf("Filename = %q, want call.m4a", mock.lastInput.Filename)
	}
	if mock.lastInput.Audience != "young couple" {
		t.Errorf("Audience = %q, want young couple", mock.lastInput.Audience)
	}
	if string(mock.lastInput.Audio) != "fake-audio" {
		t.Errorf("Audio = %q, want fake-audio", mock.lastInput.Audio)
	}

	var resp AnalysisResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if resp.Transcript != "Speaker 0: hello\n\nSpeaker 1: hi\n" {
		t.Errorf("Transcript = %q", resp.Transcript)
	}
	if len(resp.Turns) != 2 || len(resp.Speakers) != 2 {
		t.Errorf("turns=%d speakers=%d, want 2/2", len(resp.Turns), len(resp.Speakers))
	}
	if resp.Provider != "gemini" || resp.Transcriber != "deepgram" {
		t.Errorf("provider=%q transcriber=%q", resp.Provider, resp.Transcriber)
	}
	if resp.DurationMs != 1500 {
		t.Errorf("DurationMs = %d, want 1500", resp.DurationMs)
	}
	if resp.ReportFailed {
		t.Error("ReportFailed = true, want false")
	}
}

func TestAnalyses_TextAttachment(t *testing.T) {
	rec := postAnalysis(t, newTestAnalysesHandler(&mockRunner{}), "?format=txt",
		map[string]string{"audience": "x"}, []byte("a"), "call.mp3")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if cd := rec.Header().Get("Content-Disposition"); cd != `attachment; filename="analysis_report.txt"` {
		t.Errorf("Content-Disposition = %q", cd)
	}
	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain") {
		t.Errorf("Content-Type = %q, want text/plain", rec.Header().Get("Content-Type"))
	}
	if rec.Body.String() != "## 1. The Translation Gap\n| a | b |\n" {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestAnalyses_DocxAttachment(t *testing.T) {
	rec := postAnalysis(t, newTestAnalysesHandler(&mockRunner{}), "?format=docx",
		map[string]string{"audience": "x"}, []byte("a"), "call.wav")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Content-Type") != docxContentType {
		t.Errorf("Content-Type = %q", rec.Header().Get("Content-Type"))
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")) {
		t.Error("docx body should be a zip archive")
	}
}

func TestAnalyses_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"precondition", &pipeline.PreconditionError{Reason: "audience description is required"}, http.StatusBadRequest},
		{"transcription", &pipeline.StageError{Stage: pipeline.StageTranscribe, Err: &transcribe.Failure{Provider: "deepgram", StatusCode: 500, Message: "boom"}}, http.StatusBadGateway},
		{"format", &pipeline.StageError{Stage: pipeline.StageFormat, Err: dialogue.ErrNoWords}, http.StatusUnprocessableEntity},
		{"other", errors.New("unexpected"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postAnalysis(t, newTestAnalysesHandler(&mockRunner{err: tt.err}), "",
				map[string]string{"audience": "x"}, []byte("a"), "call.mp3")
			if rec.Code != tt.wantStatus {
				t.Errorf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
			var body ErrorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("invalid JSON: %v", err)
			}
			if body.Error == "" {
				t.Error("expected error message")
			}
		})
	}
}

func TestAnalyses_BadRequests(t *testing.T) {
	t.Run("missing_audio", func(t *testing.T) {
		mock := &mockRunner{}
		rec := postAnalysis(t, newTestAnalysesHandler(mock), "", map[string]string{"audience": "x"}, nil, "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
		if mock.calls != 0 {
			t.Error("runner should not be called")
		}
	})

	t.Run("invalid_format", func(t *testing.T) {
		rec := postAnalysis(t, newTestAnalysesHandler(&mockRunner{}), "?format=pdf",
			map[string]string{"audience": "x"}, []byte("a"), "call.mp3")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("not_multipart", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/v1/analyses", strings.NewReader("{}"))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		newTestAnalysesHandler(&mockRunner{}).Create(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("too_large", func(t *testing.T) {
		h := NewAnalysesHandler(&mockRunner{}, 64, zerolog.Nop())
		rec := postAnalysis(t, h, "", map[string]string{"audience": "x"}, bytes.Repeat([]byte("a"), 1024), "call.mp3")
		if rec.Code != http.StatusRequestEntityTooLarge {
			t.Errorf("expected 413, got %d", rec.Code)
		}
	})
}

type stubTranscriber struct{}

func (stubTranscriber) Transcribe(ctx context.Context, audio []byte, opts transcribe.TranscribeOpts) (*transcribe.Response, error) {
	return &transcribe.Response{Words: []transcribe.Word{{Text: "hello", Speaker: 0}}}, nil
}
func (stubTranscriber) Name() string  { return "deepgram" }
func (stubTranscriber) Model() string { return "whisper-large" }

type stubAnalyzer struct{}

func (stubAnalyzer) Analyze(ctx context.Context, transcript, audience string) report.Report {
	return report.Report{Text: "report for " + audience, Provider: "gemini"}
}
func (stubAnalyzer) Provider() string { return "gemini" }
func (stubAnalyzer) Model() string    { return "gemini-2.0-flash-exp" }

func TestRouter(t *testing.T) {
	p, err := pipeline.New(pipeline.Options{
		Transcriber: stubTranscriber{},
		Analyzer:    stubAnalyzer{},
		Log:         zerolog.Nop(),
	})
	if err != nil {
		t.Fatal(err)
	}
	cfg := &config.Config{AuthToken: "secret", MaxUploadMB: 1}
	router := NewRouter(cfg, p, "test", time.Now(), zerolog.Nop())

	t.Run("health_without_auth", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/health", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var resp HealthResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if resp.Version != "test" {
			t.Errorf("Version = %q, want test", resp.Version)
		}
		if resp.Providers["transcription"] != "deepgram" || resp.Providers["generation"] != "gemini" {
			t.Errorf("Providers = %v", resp.Providers)
		}
	})

	t.Run("metrics_exposed", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "callcoach_http_requests_total") {
			t.Error("expected callcoach metrics in /metrics output")
		}
	})

	t.Run("analyses_requires_auth", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/analyses", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("analyses_with_token", func(t *testing.T) {
		body, ct := buildMultipartForm(t, map[string]string{"audience": "retirees"}, "audio", []byte("a"), "call.mp3")
		req := httptest.NewRequest("POST", "/api/v1/analyses", body)
		req.Header.Set("Content-Type", ct)
		req.Header.Set("Authorization", "Bearer secret")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		var resp AnalysisResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if resp.Report != "report for retirees" {
			t.Errorf("Report = %q", resp.Report)
		}
	})
}
