package sounds

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/strefethen/agrisound-hub-go/internal/api"
	"github.com/strefethen/agrisound-hub-go/internal/apperrors"
)

// RegisterRoutes wires sound library routes to the router.
func RegisterRoutes(router chi.Router, service *Service) {
	router.Method(http.MethodGet, "/v1/sounds", api.Handler(listSounds(service)))
	router.Method(http.MethodPost, "/v1/sounds", api.Handler(createSound(service)))
	router.Method(http.MethodGet, "/v1/sounds/{sound_id}", api.Handler(getSound(service)))
	router.Method(http.MethodDelete, "/v1/sounds/{sound_id}", api.Handler(deleteSound(service)))
}

func listSounds(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		library, err := service.List(r.Context())
		if err != nil {
			return mapError(err, "")
		}
		formatted := make([]map[string]any, 0, len(library))
		for _, s := range library {
			formatted = append(formatted, format(s))
		}
		return api.WriteList(w, "/v1/sounds", formatted, false)
	}
}

func getSound(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		id := chi.URLParam(r, "sound_id")
		s, err := service.Get(r.Context(), id)
		if err != nil {
			return mapError(err, id)
		}
		return api.WriteResource(w, http.StatusOK, format(*s))
	}
}

func createSound(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		var input SoundFile
		if err := api.DecodeJSON(r, &input); err != nil {
			return err
		}
		saved, err := service.Save(r.Context(), input)
		if err != nil {
			return mapError(err, input.ID)
		}
		return api.WriteResource(w, http.StatusCreated, format(*saved))
	}
}

func deleteSound(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		id := chi.URLParam(r, "sound_id")
		if err := service.Delete(r.Context(), id); err != nil {
			return mapError(err, id)
		}
		return api.WriteResource(w, http.StatusOK, map[string]any{
			"object":  "sound",
			"id":      id,
			"deleted": true,
		})
	}
}

func format(s SoundFile) map[string]any {
	return map[string]any{
		"object":           "sound",
		"id":               s.ID,
		"name":             s.Name,
		"file_name":        s.FileName,
		"url":              s.URL,
		"tag":              s.Tag,
		"duration_seconds": s.DurationSeconds,
		"created_at":       s.CreatedAt,
		"updated_at":       s.UpdatedAt,
	}
}

func mapError(err error, id string) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return apperrors.NewNotFoundError(apperrors.ErrorCodeSoundNotFound, "Sound not found", "sound_id", id)
	case errors.Is(err, ErrInvalid):
		return apperrors.NewAppError(apperrors.ErrorCodeInvalidSound, err.Error(), http.StatusBadRequest, nil)
	default:
		return apperrors.NewInternalError("Failed to access sound library")
	}
}
