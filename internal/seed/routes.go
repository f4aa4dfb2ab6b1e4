package seed

import (
	"bytes"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/strefethen/agrisound-hub-go/internal/api"
	"github.com/strefethen/agrisound-hub-go/internal/apperrors"
	"github.com/strefethen/agrisound-hub-go/internal/schedules"
	"github.com/strefethen/agrisound-hub-go/internal/sounds"
)

const maxManifestBytes = 1 << 20

// RegisterRoutes wires manifest import/export routes to the router.
func RegisterRoutes(router chi.Router, soundSvc SoundSaver, scheduleSvc ScheduleSaver, logger zerolog.Logger) {
	router.Method(http.MethodGet, "/v1/seed", api.Handler(exportManifest(soundSvc, scheduleSvc)))
	router.Method(http.MethodPost, "/v1/seed", api.Handler(applyManifest(soundSvc, scheduleSvc, logger)))
}

func exportManifest(soundSvc SoundSaver, scheduleSvc ScheduleSaver) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		m, err := Export(r.Context(), soundSvc, scheduleSvc)
		if err != nil {
			return apperrors.NewInternalError("Failed to build manifest")
		}
		var buf bytes.Buffer
		if err := Encode(&buf, m); err != nil {
			return apperrors.NewInternalError("Failed to encode manifest")
		}
		w.Header().Set("Content-Type", "text/yaml; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(buf.Bytes())
		return nil
	}
}

func applyManifest(soundSvc SoundSaver, scheduleSvc ScheduleSaver, logger zerolog.Logger) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		m, err := Parse(http.MaxBytesReader(w, r.Body, maxManifestBytes))
		if err != nil {
			return apperrors.NewValidationError(err.Error(), nil)
		}
		report, err := Apply(r.Context(), m, soundSvc, scheduleSvc, logger)
		if err != nil {
			switch {
			case errors.Is(err, sounds.ErrInvalid), errors.Is(err, schedules.ErrInvalid):
				return apperrors.NewValidationError(err.Error(), map[string]any{
					"sounds_applied":    report.Sounds,
					"schedules_applied": report.Schedules,
				})
			default:
				return apperrors.NewInternalError("Failed to apply manifest")
			}
		}
		return api.WriteResource(w, http.StatusOK, map[string]any{
			"object":    "seed_result",
			"sounds":    report.Sounds,
			"schedules": report.Schedules,
			"warnings":  report.Warnings,
		})
	}
}
