package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const deepgramListenURL = "https://api.deepgram.com/v1/listen"

// DeepgramClient calls Deepgram's pre-recorded /v1/listen API with speaker diarization.
// Implements the Provider interface.
type DeepgramClient struct {
	apiKey      string
	url         string
	model       string // e.g. "whisper-large", "nova-2"
	maxAttempts int
	backoff     time.Duration
	client      *http.Client
}

// DeepgramOptions configures a DeepgramClient.
type DeepgramOptions struct {
	APIKey      string
	URL         string // empty = deepgramListenURL
	Model       string
	Timeout     time.Duration
	MaxAttempts int
	Backoff     time.Duration
}

// deepgramResponse is the JSON response from /v1/listen. Pointer fields let the
// decoder tell a missing key apart from a zero value.
type deepgramResponse struct {
	Metadata struct {
		RequestID string  `json:"request_id"`
		Duration  float64 `json:"duration"`
	} `json:"metadata"`
	Results *struct {
		Channels []struct {
			DetectedLanguage string `json:"detected_language"`
			Alternatives     []struct {
				Transcript string          `json:"transcript"`
				Words      *[]deepgramWord `json:"words"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// deepgramWord is a word from Deepgram. "word" is the raw token; smart_format
// adds "punctuated_word", which is not used for reconstruction.
type deepgramWord struct {
	Word    *string `json:"word"`
	Speaker *int    `json:"speaker"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

// NewDeepgramClient creates a new Deepgram client.
func NewDeepgramClient(opts DeepgramOptions) *DeepgramClient {
	u := opts.URL
	if u == "" {
		u = deepgramListenURL
	}
	return &DeepgramClient{
		apiKey:      opts.APIKey,
		url:         u,
		model:       opts.Model,
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.Backoff,
		client:      &http.Client{Timeout: opts.Timeout},
	}
}

// Name returns the provider name.
func (dg *DeepgramClient) Name() string { return "deepgram" }

// Model returns the configured model identifier.
func (dg *DeepgramClient) Model() string { return dg.model }

// Transcribe posts the raw audio bytes to Deepgram and returns the diarized words.
func (dg *DeepgramClient) Transcribe(ctx context.Context, audio []byte, opts TranscribeOpts) (*Response, error) {
	endpoint, err := dg.endpoint(opts)
	if err != nil {
		return nil, &Failure{Provider: dg.Name(), Message: "build url", Err: err}
	}

	contentType := opts.ContentType
	if contentType == "" {
		contentType = "audio/*"
	}

	body, err := doWithRetry(ctx, dg.client, dg.Name(), dg.maxAttempts, dg.backoff, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(audio))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Token "+dg.apiKey)
		req.Header.Set("Content-Type", contentType)
		return req, nil
	})
	if err != nil {
		return nil, err
	}

	return decodeDeepgram(body)
}

// endpoint builds the listen URL: model, language, diarize and smart_format.
func (dg *DeepgramClient) endpoint(opts TranscribeOpts) (string, error) {
	u, err := url.Parse(dg.url)
	if err != nil {
		return "", err
	}
	q := u.Query()
	if dg.model != "" {
		q.Set("model", dg.model)
	}
	if opts.Language != "" {
		q.Set("language", opts.Language)
	}
	q.Set("diarize", fmt.Sprintf("%t", opts.Diarize))
	q.Set("smart_format", "true")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// decodeDeepgram maps a /v1/listen payload to a Response. The word list lives at
// results.channels[0].alternatives[0].words; every word needs "word" and "speaker".
func decodeDeepgram(body []byte) (*Response, error) {
	var result deepgramResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &FormatError{Provider: "deepgram", Reason: "decode response: " + err.Error()}
	}

	if result.Results == nil || len(result.Results.Channels) == 0 {
		return nil, &FormatError{Provider: "deepgram", Reason: "missing results.channels"}
	}
	ch := result.Results.Channels[0]
	if len(ch.Alternatives) == 0 {
		return nil, &FormatError{Provider: "deepgram", Reason: "missing results.channels[0].alternatives"}
	}
	raw := ch.Alternatives[0].Words
	if raw == nil {
		return nil, &FormatError{Provider: "deepgram", Reason: "missing results.channels[0].alternatives[0].words"}
	}

	words := make([]Word, len(*raw))
	for i, dw := range *raw {
		if dw.Word == nil {
			return nil, &FormatError{Provider: "deepgram", Reason: fmt.Sprintf("word %d has no \"word\" field", i)}
		}
		if dw.Speaker == nil {
			return nil, &FormatError{Provider: "deepgram", Reason: fmt.Sprintf("word %d has no \"speaker\" field", i)}
		}
		words[i] = Word{
			Text:    *dw.Word,
			Speaker: *dw.Speaker,
			Start:   dw.Start,
			End:     dw.End,
		}
	}

	return &Response{
		Language:  ch.DetectedLanguage,
		Duration:  result.Metadata.Duration,
		RequestID: result.Metadata.RequestID,
		Words:     words,
	}, nil
}
