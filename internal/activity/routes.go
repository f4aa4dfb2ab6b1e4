package activity

import (
	"bytes"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/strefethen/agrisound-hub-go/internal/api"
	"github.com/strefethen/agrisound-hub-go/internal/apperrors"
)

// RegisterRoutes wires playback history routes to the router.
func RegisterRoutes(router chi.Router, service *Service, loc *time.Location) {
	router.Method(http.MethodGet, "/v1/logs", api.Handler(listLogs(service)))
	router.Method(http.MethodGet, "/v1/logs/export", api.Handler(exportLogs(service, loc)))
}

func listLogs(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 1 {
				return apperrors.NewValidationError("limit must be a positive integer", map[string]any{"limit": raw})
			}
			limit = parsed
		}

		logs, err := service.List(r.Context(), limit)
		if err != nil {
			return apperrors.NewInternalError("Failed to list playback logs")
		}
		formatted := make([]map[string]any, 0, len(logs))
		for _, entry := range logs {
			formatted = append(formatted, Format(entry))
		}
		return api.WriteList(w, "/v1/logs", formatted, false)
	}
}

func exportLogs(service *Service, loc *time.Location) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		logs, err := service.All(r.Context())
		if err != nil {
			return apperrors.NewInternalError("Failed to load playback logs")
		}

		var buf bytes.Buffer
		if err := ExportXLSX(&buf, logs, loc); err != nil {
			return apperrors.NewInternalError("Failed to build export")
		}

		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", `attachment; filename="playback-history.xlsx"`)
		w.WriteHeader(http.StatusOK)
		_, err = w.Write(buf.Bytes())
		return err
	}
}

// Format renders one entry as an API resource.
func Format(entry PlaybackLog) map[string]any {
	return map[string]any{
		"object":       "playback_log",
		"id":           entry.ID,
		"timestamp":    entry.Timestamp,
		"sound_name":   entry.SoundName,
		"trigger_type": entry.TriggerType,
		"status":       entry.Status,
		"schedule_id":  entry.ScheduleID,
	}
}
