package report

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestOpenAIGenerator_Generate(t *testing.T) {
	var got struct {
		Model       string  `json:"model"`
		Temperature float32 `json:"temperature"`
		Messages    []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"c1","object":"chat.completion","model":"gpt-4o-mini",
			"choices":[{"index":0,"message":{"role":"assistant","content":"the report"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	gen := NewOpenAIGenerator("sk-test", srv.URL, "gpt-4o-mini", 0.2)
	text, err := gen.Generate(context.Background(), "analyze this")
	require.NoError(t, err)

	assert.Equal(t, "the report", text)
	assert.Equal(t, "gpt-4o-mini", got.Model)
	assert.InDelta(t, 0.2, got.Temperature, 0.0001)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0].Role)
	assert.Equal(t, "analyze this", got.Messages[0].Content)
}

func TestOpenAIGenerator_ContentFilter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":""},"finish_reason":"content_filter"}]}`))
	}))
	defer srv.Close()

	_, err := NewOpenAIGenerator("k", srv.URL, "m", 0.2).Generate(context.Background(), "p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "content filter")
}

func TestOpenAIGenerator_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"message":"model overloaded","type":"server_error"}}`))
	}))
	defer srv.Close()

	gen := NewOpenAIGenerator("k", srv.URL, "m", 0.2)
	a := newTestAnalyzer(t, gen)
	rep := a.Analyze(context.Background(), "Speaker 0: hi\n", "anyone")

	assert.True(t, rep.Failed)
	assert.Contains(t, rep.Text, "model overloaded")
}

func TestGeminiGenerator_Generate(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/models/gemini-test:generateContent"), r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"part one, "},{"text":"part two"}]},"finishReason":"STOP"}]}`))
	}))
	defer srv.Close()

	gen, err := NewGeminiGenerator(context.Background(), GeminiOptions{
		APIKey:        "test-key",
		BaseURL:       srv.URL + "/",
		Model:         "gemini-test",
		Temperature:   0.2,
		DisableSafety: true,
	})
	require.NoError(t, err)

	text, err := gen.Generate(context.Background(), "analyze")
	require.NoError(t, err)
	assert.Equal(t, "part one, part two", text)

	safety, ok := body["safetySettings"].([]any)
	require.True(t, ok, "safetySettings missing from request: %v", body)
	assert.Len(t, safety, len(harmCategories))
}

func TestCandidateText(t *testing.T) {
	t.Run("prompt_blocked", func(t *testing.T) {
		_, err := candidateText(&genai.GenerateContentResponse{
			PromptFeedback: &genai.GenerateContentResponsePromptFeedback{BlockReason: "SAFETY"},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "prompt blocked")
	})

	t.Run("safety_finish", func(t *testing.T) {
		_, err := candidateText(&genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{FinishReason: genai.FinishReasonSafety}},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "safety")
	})

	t.Run("no_candidates", func(t *testing.T) {
		_, err := candidateText(&genai.GenerateContentResponse{})
		assert.Error(t, err)
	})

	t.Run("text", func(t *testing.T) {
		text, err := candidateText(&genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{Content: genai.NewContentFromText("ok", genai.RoleModel)}},
		})
		require.NoError(t, err)
		assert.Equal(t, "ok", text)
	})
}

func TestSafetySettings(t *testing.T) {
	s, err := safetySettings(true, "BLOCK_ONLY_HIGH")
	require.NoError(t, err)
	require.Len(t, s, len(harmCategories))
	for _, setting := range s {
		assert.Equal(t, genai.HarmBlockThresholdBlockNone, setting.Threshold)
	}

	s, err = safetySettings(false, "block_only_high")
	require.NoError(t, err)
	assert.Equal(t, genai.HarmBlockThresholdBlockOnlyHigh, s[0].Threshold)

	s, err = safetySettings(false, "")
	require.NoError(t, err)
	assert.Nil(t, s)

	_, err = safetySettings(false, "BLOCK_EVERYTHING")
	assert.Error(t, err)
}

func TestWriteDocx(t *testing.T) {
	var buf bytes.Buffer
	err := WriteDocx(&buf, "Call analysis", "## 1. The Trust Triad\n| Trust | Status |\n|---|---|\n| **Product** | ✅ |\n- a bullet\n---\nplain **bold** text")
	require.NoError(t, err)
	require.Greater(t, buf.Len(), 4)
	assert.Equal(t, "PK", buf.String()[:2], "docx is a zip archive")
}

func TestTableRow(t *testing.T) {
	assert.Equal(t, "a | b | c", tableRow("| a | b |c|"))
}
