package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const elevenLabsSTTEndpoint = "https://api.elevenlabs.io/v1/speech-to-text"

// ElevenLabsClient calls the ElevenLabs Speech-to-Text API with diarization.
// Implements the Provider interface.
type ElevenLabsClient struct {
	apiKey      string
	url         string
	model       string // "scribe_v1" or "scribe_v2"
	maxAttempts int
	backoff     time.Duration
	client      *http.Client
}

// ElevenLabsOptions configures an ElevenLabsClient.
type ElevenLabsOptions struct {
	APIKey      string
	URL         string // empty = elevenLabsSTTEndpoint
	Model       string
	Timeout     time.Duration
	MaxAttempts int
	Backoff     time.Duration
}

// elevenlabsResponse is the JSON response from the ElevenLabs STT API.
type elevenlabsResponse struct {
	LanguageCode string            `json:"language_code"`
	Text         string            `json:"text"`
	Words        *[]elevenlabsWord `json:"words"`
}

// elevenlabsWord is a word, spacing or audio_event entry from ElevenLabs.
// Times are in seconds.
type elevenlabsWord struct {
	Text      string  `json:"text"`
	Type      string  `json:"type"`
	Start     float64 `json:"start"`
	End       float64 `json:"end"`
	SpeakerID *string `json:"speaker_id"` // "speaker_0", "speaker_1", ...
}

// NewElevenLabsClient creates a new ElevenLabs STT client.
func NewElevenLabsClient(opts ElevenLabsOptions) *ElevenLabsClient {
	u := opts.URL
	if u == "" {
		u = elevenLabsSTTEndpoint
	}
	return &ElevenLabsClient{
		apiKey:      opts.APIKey,
		url:         u,
		model:       opts.Model,
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.Backoff,
		client:      &http.Client{Timeout: opts.Timeout},
	}
}

// Name returns the provider name.
func (el *ElevenLabsClient) Name() string { return "elevenlabs" }

// Model returns the configured model identifier.
func (el *ElevenLabsClient) Model() string { return el.model }

// Transcribe uploads the audio as multipart/form-data and returns the diarized words.
func (el *ElevenLabsClient) Transcribe(ctx context.Context, audio []byte, opts TranscribeOpts) (*Response, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	filename := opts.Filename
	if filename == "" {
		filename = "audio"
	}
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, &Failure{Provider: el.Name(), Message: "create form file", Err: err}
	}
	if _, err := part.Write(audio); err != nil {
		return nil, &Failure{Provider: el.Name(), Message: "copy audio data", Err: err}
	}

	w.WriteField("model_id", el.model)
	if opts.Language != "" {
		w.WriteField("language_code", opts.Language)
	}
	w.WriteField("timestamps_granularity", "word")
	w.WriteField("diarize", strconv.FormatBool(opts.Diarize))

	w.Close()
	payload := buf.Bytes()
	contentType := w.FormDataContentType()

	body, err := doWithRetry(ctx, el.client, el.Name(), el.maxAttempts, el.backoff, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, el.url, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("xi-api-key", el.apiKey)
		return req, nil
	})
	if err != nil {
		return nil, err
	}

	return decodeElevenLabs(body)
}

// decodeElevenLabs converts the response to the common Word type, filtering out
// spacing and audio_event entries.
func decodeElevenLabs(body []byte) (*Response, error) {
	var result elevenlabsResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &FormatError{Provider: "elevenlabs", Reason: "decode response: " + err.Error()}
	}
	if result.Words == nil {
		return nil, &FormatError{Provider: "elevenlabs", Reason: "missing words"}
	}

	var words []Word
	for i, ew := range *result.Words {
		if ew.Type != "word" {
			continue
		}
		if ew.SpeakerID == nil {
			return nil, &FormatError{Provider: "elevenlabs", Reason: fmt.Sprintf("word %d has no speaker_id", i)}
		}
		speaker, err := parseSpeakerID(*ew.SpeakerID)
		if err != nil {
			return nil, &FormatError{Provider: "elevenlabs", Reason: fmt.Sprintf("word %d: %v", i, err)}
		}
		words = append(words, Word{
			Text:    ew.Text,
			Speaker: speaker,
			Start:   ew.Start,
			End:     ew.End,
		})
	}

	return &Response{
		Language: result.LanguageCode,
		Words:    words,
	}, nil
}

// parseSpeakerID turns "speaker_3" into 3.
func parseSpeakerID(id string) (int, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(id, "speaker_"))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid speaker_id %q", id)
	}
	return n, nil
}
