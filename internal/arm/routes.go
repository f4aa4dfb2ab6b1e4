package arm

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/strefethen/agrisound-hub-go/internal/api"
	"github.com/strefethen/agrisound-hub-go/internal/apperrors"
	"github.com/strefethen/agrisound-hub-go/internal/remote"
)

type updateInput struct {
	MainSwitch  *bool `json:"main_switch"`
	DevicePower *bool `json:"device_power"`
}

// RegisterRoutes wires arm switch routes to the router.
func RegisterRoutes(router chi.Router, controller *Controller) {
	router.Method(http.MethodGet, "/v1/arm", api.Handler(getArm(controller)))
	router.Method(http.MethodPut, "/v1/arm", api.Handler(updateArm(controller)))
}

func getArm(controller *Controller) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		return api.WriteResource(w, http.StatusOK, Format(controller.Snapshot()))
	}
}

func updateArm(controller *Controller) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		var input updateInput
		if err := api.DecodeJSON(r, &input); err != nil {
			return err
		}
		if input.MainSwitch == nil && input.DevicePower == nil {
			return apperrors.NewValidationError("main_switch or device_power is required", nil)
		}

		if input.MainSwitch != nil {
			if _, err := controller.SetMainSwitch(r.Context(), *input.MainSwitch); err != nil {
				return apperrors.NewInternalError("Failed to update main switch")
			}
		}
		if input.DevicePower != nil {
			if _, err := controller.SetDevicePower(r.Context(), *input.DevicePower); err != nil {
				return apperrors.NewInternalError("Failed to update device power")
			}
		}
		return api.WriteResource(w, http.StatusOK, Format(controller.Snapshot()))
	}
}

// Format renders the arm resource.
func Format(flags remote.Flags) map[string]any {
	return map[string]any{
		"object":       "arm",
		"main_switch":  flags.MainSwitch,
		"device_power": flags.DevicePower,
		"armed":        flags.MainSwitch && flags.DevicePower,
	}
}
