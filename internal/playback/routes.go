package playback

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/strefethen/agrisound-hub-go/internal/activity"
	"github.com/strefethen/agrisound-hub-go/internal/api"
	"github.com/strefethen/agrisound-hub-go/internal/apperrors"
	"github.com/strefethen/agrisound-hub-go/internal/device"
)

// RegisterRoutes wires the manual trigger route.
func RegisterRoutes(router chi.Router, executor *Executor) {
	router.Method(http.MethodPost, "/v1/device/trigger", api.Handler(triggerManual(executor)))
}

func triggerManual(executor *Executor) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		err := executor.Start(r.Context(), activity.TriggerManual, "")
		switch {
		case err == nil:
		case errors.Is(err, device.ErrDeviceBusy):
			return apperrors.NewConflictError(apperrors.ErrorCodeDeviceBusy, "Device is already playing", nil)
		case errors.Is(err, device.ErrDeviceOffline):
			return apperrors.NewConflictError(apperrors.ErrorCodeDeviceOffline, "Device is offline", nil)
		case errors.Is(err, ErrLibraryEmpty):
			return apperrors.NewConflictError(apperrors.ErrorCodeLibraryEmpty, "Sound library is empty", nil)
		default:
			return apperrors.NewInternalError("Failed to start playback")
		}
		return api.WriteResource(w, http.StatusAccepted, map[string]any{
			"object":  "playback",
			"trigger": activity.TriggerManual,
			"status":  device.StatusWaking,
		})
	}
}
