package report

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// harmCategories are the categories a safety threshold is applied to.
var harmCategories = []genai.HarmCategory{
	genai.HarmCategoryHarassment,
	genai.HarmCategoryHateSpeech,
	genai.HarmCategorySexuallyExplicit,
	genai.HarmCategoryDangerousContent,
}

// GeminiGenerator calls the Gemini API through google.golang.org/genai.
// Implements the Generator interface.
type GeminiGenerator struct {
	client *genai.Client
	model  string
	config *genai.GenerateContentConfig
}

// GeminiOptions configures a GeminiGenerator.
type GeminiOptions struct {
	APIKey      string
	BaseURL     string // empty = Gemini API default
	Model       string // e.g. "gemini-2.0-flash-exp"
	Temperature float32

	// DisableSafety sets every harm category to BLOCK_NONE.
	DisableSafety bool
	// SafetyThreshold applies to every category when DisableSafety is false.
	// Empty leaves the API defaults in place.
	SafetyThreshold string
}

// NewGeminiGenerator creates a Gemini client.
func NewGeminiGenerator(ctx context.Context, opts GeminiOptions) (*GeminiGenerator, error) {
	safety, err := safetySettings(opts.DisableSafety, opts.SafetyThreshold)
	if err != nil {
		return nil, err
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      opts.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: opts.BaseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	return &GeminiGenerator{
		client: client,
		model:  opts.Model,
		config: &genai.GenerateContentConfig{
			Temperature:    genai.Ptr(opts.Temperature),
			SafetySettings: safety,
		},
	}, nil
}

// Name returns the provider name.
func (g *GeminiGenerator) Name() string { return "gemini" }

// Model returns the configured model identifier.
func (g *GeminiGenerator) Model() string { return g.model }

// Generate sends the prompt and returns the text of the first candidate.
// Prompt blocks and SAFETY finish reasons are reported as errors.
func (g *GeminiGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	result, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), g.config)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	return candidateText(result)
}

func candidateText(result *genai.GenerateContentResponse) (string, error) {
	if result == nil {
		return "", errors.New("empty response from gemini")
	}
	if fb := result.PromptFeedback; fb != nil && fb.BlockReason != "" {
		return "", fmt.Errorf("prompt blocked by gemini: %s", fb.BlockReason)
	}
	if len(result.Candidates) == 0 {
		return "", errors.New("empty response from gemini")
	}

	c := result.Candidates[0]
	if c.FinishReason == genai.FinishReasonSafety {
		return "", errors.New("response blocked by gemini safety filters")
	}
	if c.Content == nil {
		return "", fmt.Errorf("gemini returned no content (finish reason %s)", c.FinishReason)
	}

	var sb strings.Builder
	for _, part := range c.Content.Parts {
		if part != nil && part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	if sb.Len() == 0 {
		return "", errors.New("empty response from gemini")
	}
	return sb.String(), nil
}

// safetySettings builds per-category overrides.
func safetySettings(disable bool, threshold string) ([]*genai.SafetySetting, error) {
	var t genai.HarmBlockThreshold
	switch {
	case disable:
		t = genai.HarmBlockThresholdBlockNone
	case threshold == "":
		return nil, nil
	default:
		t = genai.HarmBlockThreshold(strings.ToUpper(threshold))
		switch t {
		case genai.HarmBlockThresholdBlockNone,
			genai.HarmBlockThresholdBlockOnlyHigh,
			genai.HarmBlockThresholdBlockMediumAndAbove,
			genai.HarmBlockThresholdBlockLowAndAbove,
			genai.HarmBlockThresholdOff:
		default:
			return nil, fmt.Errorf("unknown safety threshold %q", threshold)
		}
	}

	settings := make([]*genai.SafetySetting, len(harmCategories))
	for i, c := range harmCategories {
		settings[i] = &genai.SafetySetting{Category: c, Threshold: t}
	}
	return settings, nil
}
