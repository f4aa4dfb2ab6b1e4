package schedules

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/strefethen/agrisound-hub-go/internal/api"
	"github.com/strefethen/agrisound-hub-go/internal/apperrors"
)

// RegisterRoutes wires schedule routes to the router.
func RegisterRoutes(router chi.Router, service *Service) {
	router.Method(http.MethodGet, "/v1/schedules", api.Handler(listSchedules(service)))
	router.Method(http.MethodPost, "/v1/schedules", api.Handler(createSchedule(service)))
	router.Method(http.MethodGet, "/v1/schedules/{schedule_id}", api.Handler(getSchedule(service)))
	router.Method(http.MethodPut, "/v1/schedules/{schedule_id}", api.Handler(updateSchedule(service)))
	router.Method(http.MethodDelete, "/v1/schedules/{schedule_id}", api.Handler(deleteSchedule(service)))
	router.Method(http.MethodPost, "/v1/schedules/{schedule_id}/toggle", api.Handler(toggleSchedule(service)))
}

func listSchedules(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		list, err := service.List(r.Context())
		if err != nil {
			return mapError(err, "")
		}
		formatted := make([]map[string]any, 0, len(list))
		for _, s := range list {
			formatted = append(formatted, format(s))
		}
		return api.WriteList(w, "/v1/schedules", formatted, false)
	}
}

func getSchedule(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		id := chi.URLParam(r, "schedule_id")
		s, err := service.Get(r.Context(), id)
		if err != nil {
			return mapError(err, id)
		}
		return api.WriteResource(w, http.StatusOK, format(*s))
	}
}

func createSchedule(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		input := Schedule{IsActive: true}
		if err := api.DecodeJSON(r, &input); err != nil {
			return err
		}
		input.ID = ""
		input.LastRunTimestamp = 0
		saved, err := service.Save(r.Context(), input)
		if err != nil {
			return mapError(err, "")
		}
		return api.WriteResource(w, http.StatusCreated, format(*saved))
	}
}

func updateSchedule(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		id := chi.URLParam(r, "schedule_id")
		existing, err := service.Get(r.Context(), id)
		if err != nil {
			return mapError(err, id)
		}

		// Start from the stored record so omitted fields keep their values.
		input := *existing
		if err := api.DecodeJSON(r, &input); err != nil {
			return err
		}
		input.ID = id
		input.LastRunTimestamp = existing.LastRunTimestamp
		input.CreatedAt = existing.CreatedAt

		saved, err := service.Save(r.Context(), input)
		if err != nil {
			return mapError(err, id)
		}
		return api.WriteResource(w, http.StatusOK, format(*saved))
	}
}

func deleteSchedule(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		id := chi.URLParam(r, "schedule_id")
		if err := service.Delete(r.Context(), id); err != nil {
			return mapError(err, id)
		}
		return api.WriteResource(w, http.StatusOK, map[string]any{
			"object":  "schedule",
			"id":      id,
			"deleted": true,
		})
	}
}

func toggleSchedule(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		id := chi.URLParam(r, "schedule_id")
		existing, err := service.Get(r.Context(), id)
		if err != nil {
			return mapError(err, id)
		}
		updated, err := service.SetActive(r.Context(), id, !existing.IsActive)
		if err != nil {
			return mapError(err, id)
		}
		return api.WriteResource(w, http.StatusOK, format(*updated))
	}
}

func format(s Schedule) map[string]any {
	return map[string]any{
		"object":             "schedule",
		"id":                 s.ID,
		"name":               s.Name,
		"type":               s.Type,
		"time":               s.Time,
		"interval_minutes":   s.IntervalMinutes,
		"days":               s.Days,
		"sound_ids":          s.SoundIDs,
		"playback_count":     s.PlaybackCount,
		"is_active":          s.IsActive,
		"last_run_timestamp": s.LastRunTimestamp,
		"created_at":         s.CreatedAt,
		"updated_at":         s.UpdatedAt,
	}
}

func mapError(err error, id string) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return apperrors.NewNotFoundError(apperrors.ErrorCodeScheduleNotFound, "Schedule not found", "schedule_id", id)
	case errors.Is(err, ErrInvalid):
		return apperrors.NewAppError(apperrors.ErrorCodeInvalidSchedule, err.Error(), http.StatusBadRequest, nil)
	default:
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return appErr
		}
		return apperrors.NewInternalError("Failed to access schedules")
	}
}
