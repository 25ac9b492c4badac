// Package report turns a rendered transcript into a coaching report using a
// generative text provider.
package report

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/template"

	"github.com/rs/zerolog"
)

// Generator is the interface for generative text backends.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Name() string  // "gemini", "openai"
	Model() string // model identifier for logs
}

// Report is the outcome of one analysis. When Failed is set, Text is a
// user-facing error message carrying the reason.
type Report struct {
	Text     string `json:"text"`
	Failed   bool   `json:"failed"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// Section is one heading of the report and the instructions for filling it.
type Section struct {
	Title        string
	Instructions string
}

// DefaultSections is the Clarity Bridge framework.
var DefaultSections = []Section{
	{
		Title: "🗣️ The Translation Gap",
		Instructions: `Did the seller take a complaint ("it's expensive for me") and translate it into a root problem?
| Symptom the customer raised | Translated into a root problem? | Quote from the call |
|---|---|---|
| ... | ... | ... |`,
	},
	{
		Title: "🔺 The Trust Triad",
		Instructions: `What is the status of trust in each of the three areas?
| Trust type | Status (✅ present / ⚠️ shaky / ❌ missing) | Explanation and quote |
|---|---|---|
| **In the product/method** | ... | ... |
| **In the seller/authority** | ... | ... |
| **In themselves (customer's capability)** | ... | ... |`,
	},
	{
		Title: "😱 The Fear Scenario",
		Instructions: `* **Deep fear identified:** (one sentence)
* **Was it addressed in the call?** (yes/no + explanation)`,
	},
	{
		Title:        "🏁 Executive Summary: The Critical Blocker",
		Instructions: `What is the one and only reason this deal will stall or fall through?`,
	},
}

const defaultTemplate = `Role: You are a senior business consultant and an expert in the "Clarity Bridge" sales model.
Goal: Perform a surgical analysis of the attached sales conversation.

Context: the customer in this conversation is described as: "{{.Audience}}"

--- Critical rules (do not break them!) ---
1. **Do not repeat the transcript!** Your output must contain only the analysis.
2. **Do not invent**: base everything on quotes from the text.
3. **Formatting**: use clean Markdown tables.
4. Write the report in the language of the conversation.
------------------------------------

Required report structure:
{{range $i, $s := .Sections}}
## {{inc $i}}. {{$s.Title}}
{{$s.Instructions}}
{{end}}
---
Conversation to analyze:
{{.Transcript}}
`

// AnalyzerOptions configures an Analyzer. Zero values select the defaults.
type AnalyzerOptions struct {
	Sections []Section
	Template string
	Log      zerolog.Logger
}

// Analyzer fills the prompt template and calls the generator once.
type Analyzer struct {
	gen      Generator
	tmpl     *template.Template
	sections []Section
	log      zerolog.Logger
}

type promptData struct {
	Audience   string
	Sections   []Section
	Transcript string
}

// NewAnalyzer parses the prompt template and returns an Analyzer.
func NewAnalyzer(gen Generator, opts AnalyzerOptions) (*Analyzer, error) {
	text := opts.Template
	if text == "" {
		text = defaultTemplate
	}
	tmpl, err := template.New("prompt").
		Funcs(template.FuncMap{"inc": func(i int) int { return i + 1 }}).
		Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse prompt template: %w", err)
	}

	sections := opts.Sections
	if len(sections) == 0 {
		sections = DefaultSections
	}

	return &Analyzer{
		gen:      gen,
		tmpl:     tmpl,
		sections: sections,
		log:      opts.Log,
	}, nil
}

// Provider returns the generator name.
func (a *Analyzer) Provider() string { return a.gen.Name() }

// Model returns the generator model.
func (a *Analyzer) Model() string { return a.gen.Model() }

// Prompt renders the analytic prompt for a transcript and audience description.
func (a *Analyzer) Prompt(transcript, audience string) (string, error) {
	var sb strings.Builder
	err := a.tmpl.Execute(&sb, promptData{
		Audience:   strings.TrimSpace(audience),
		Sections:   a.sections,
		Transcript: transcript,
	})
	if err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return sb.String(), nil
}

// Analyze generates the report. It never returns an error: any failure,
// including a safety block, comes back as a Report with Failed set and the
// reason embedded in Text. The generator is not retried.
func (a *Analyzer) Analyze(ctx context.Context, transcript, audience string) Report {
	rep := Report{Provider: a.gen.Name(), Model: a.gen.Model()}

	prompt, err := a.Prompt(transcript, audience)
	if err != nil {
		return a.failed(rep, err)
	}

	text, err := a.gen.Generate(ctx, prompt)
	if err != nil {
		return a.failed(rep, err)
	}

	rep.Text = strings.TrimSpace(text)
	return rep
}

func (a *Analyzer) failed(rep Report, err error) Report {
	a.log.Warn().Err(err).
		Str("provider", rep.Provider).
		Str("model", rep.Model).
		Msg("report generation failed")
	rep.Failed = true
	rep.Text = "analysis failed: " + err.Error()
	return rep
}

// WriteText writes the report as plain UTF-8 text with a trailing newline.
func WriteText(w io.Writer, rep Report) error {
	_, err := io.WriteString(w, rep.Text+"\n")
	return err
}
