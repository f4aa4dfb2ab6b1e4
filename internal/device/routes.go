package device

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/strefethen/agrisound-hub-go/internal/api"
	"github.com/strefethen/agrisound-hub-go/internal/apperrors"
)

// RegisterRoutes wires device state routes to the router.
// The manual trigger lives with the playback executor.
func RegisterRoutes(router chi.Router, service *Service, gate *AudioGate) {
	router.Method(http.MethodGet, "/v1/device", api.Handler(getDevice(service, gate)))
	router.Method(http.MethodPost, "/v1/device/unlock", api.Handler(unlockAudio(gate)))
}

func getDevice(service *Service, gate *AudioGate) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		state, err := service.Get(r.Context())
		if err != nil {
			return apperrors.NewInternalError("Failed to load device state")
		}
		return api.WriteResource(w, http.StatusOK, Format(state, gate.Unlocked()))
	}
}

func unlockAudio(gate *AudioGate) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		gate.Unlock()
		return api.WriteResource(w, http.StatusOK, map[string]any{
			"object":         "audio_gate",
			"audio_unlocked": true,
		})
	}
}

// Format renders the device state resource.
func Format(s State, audioUnlocked bool) map[string]any {
	return map[string]any{
		"object":            "device",
		"status":            s.Status,
		"battery_level":     s.BatteryLevel,
		"last_wake_time":    s.LastWakeTime,
		"last_sound_played": s.LastSoundPlayed,
		"last_sync_time":    s.LastSyncTime,
		"audio_unlocked":    audioUnlocked,
		"updated_at":        s.UpdatedAt,
	}
}
