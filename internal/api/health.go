package api

import (
	"net/http"
	"time"
)

type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Providers     map[string]string `json:"providers"`
}

// ProviderInfo names the configured backends for the health report.
type ProviderInfo interface {
	Transcriber() string
	Generator() string
}

type HealthHandler struct {
	providers ProviderInfo
	version   string
	startTime time.Time
}

func NewHealthHandler(providers ProviderInfo, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		providers: providers,
		version:   version,
		startTime: startTime,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	providers := map[string]string{
		"transcription": "not_configured",
		"generation":    "not_configured",
	}
	status := "degraded"
	if h.providers != nil {
		providers["transcription"] = h.providers.Transcriber()
		providers["generation"] = h.providers.Generator()
		status = "healthy"
	}

	WriteJSON(w, http.StatusOK, HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Providers:     providers,
	})
}
