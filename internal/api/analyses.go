package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/clarity-bridge/callcoach/internal/dialogue"
	"github.com/clarity-bridge/callcoach/internal/pipeline"
	"github.com/clarity-bridge/callcoach/internal/report"
)

const (
	docxContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	reportTitle     = "Sales call analysis"
)

// Runner executes one analysis. *pipeline.Pipeline satisfies it.
type Runner interface {
	Run(ctx context.Context, in pipeline.Input) (*pipeline.Result, error)
}

// AnalysisResponse is the JSON body of a completed analysis.
type AnalysisResponse struct {
	Report       string          `json:"report"`
	ReportFailed bool            `json:"report_failed"`
	Transcript   string          `json:"transcript"`
	Turns        []dialogue.Turn `json:"turns"`
	Speakers     []int           `json:"speakers"`
	Language     string          `json:"language,omitempty"`
	Transcriber  string          `json:"transcriber"`
	Provider     string          `json:"provider"`
	Model        string          `json:"model"`
	DurationMs   int64           `json:"duration_ms"`
}

// AnalysesHandler accepts call recordings and returns coaching reports.
type AnalysesHandler struct {
	runner   Runner
	maxBytes int64
	log      zerolog.Logger
}

func NewAnalysesHandler(runner Runner, maxBytes int64, log zerolog.Logger) *AnalysesHandler {
	return &AnalysesHandler{
		runner:   runner,
		maxBytes: maxBytes,
		log:      log.With().Str("handler", "analyses").Logger(),
	}
}

// Routes registers the analysis endpoint.
func (h *AnalysesHandler) Routes(r chi.Router) {
	r.Post("/analyses", h.Create)
}

// Create handles POST /api/v1/analyses.
// Multipart fields: "audio" (mp3, wav or m4a file) and "audience" (text).
// ?format=json (default), txt or docx selects the response body.
func (h *AnalysesHandler) Create(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	switch format {
	case "":
		format = "json"
	case "json", "txt", "docx":
	default:
		WriteErrorDetail(w, http.StatusBadRequest, "invalid format", "format must be json, txt or docx")
		return
	}

	if h.maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		WriteErrorDetail(w, http.StatusBadRequest, "invalid multipart form", err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("audio")
	if err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "missing audio file", `expected multipart file field "audio"`)
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "failed to read audio file")
		return
	}

	res, err := h.runner.Run(r.Context(), pipeline.Input{
		Audio:    audio,
		Filename: header.Filename,
		Audience: r.FormValue("audience"),
	})
	if err != nil {
		h.writeRunError(w, err)
		return
	}

	switch format {
	case "txt":
		var buf bytes.Buffer
		report.WriteText(&buf, res.Report)
		WriteAttachment(w, "text/plain; charset=utf-8", "analysis_report.txt", buf.Bytes())
	case "docx":
		var buf bytes.Buffer
		if err := report.WriteDocx(&buf, reportTitle, res.Report.Text); err != nil {
			h.log.Error().Err(err).Msg("docx export failed")
			WriteError(w, http.StatusInternalServerError, "failed to build document")
			return
		}
		WriteAttachment(w, docxContentType, "analysis_report.docx", buf.Bytes())
	default:
		WriteJSON(w, http.StatusOK, AnalysisResponse{
			Report:       res.Report.Text,
			ReportFailed: res.Report.Failed,
			Transcript:   res.TranscriptText,
			Turns:        res.Transcript.Turns,
			Speakers:     res.Transcript.Speakers(),
			Language:     res.Language,
			Transcriber:  res.Transcriber,
			Provider:     res.Report.Provider,
			Model:        res.Report.Model,
			DurationMs:   res.Elapsed.Milliseconds(),
		})
	}
}

func (h *AnalysesHandler) writeRunError(w http.ResponseWriter, err error) {
	var pre *pipeline.PreconditionError
	var stage *pipeline.StageError
	switch {
	case errors.As(err, &pre):
		WriteErrorDetail(w, http.StatusBadRequest, "invalid input", pre.Reason)
	case errors.As(err, &stage) && stage.Stage == pipeline.StageTranscribe:
		WriteErrorDetail(w, http.StatusBadGateway, "transcription failed", stage.Err.Error())
	case errors.As(err, &stage) && stage.Stage == pipeline.StageFormat:
		WriteErrorDetail(w, http.StatusUnprocessableEntity, "transcript formatting failed", stage.Err.Error())
	default:
		h.log.Error().Err(err).Msg("analysis failed")
		WriteError(w, http.StatusInternalServerError, err.Error())
	}
}
