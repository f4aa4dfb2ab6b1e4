package scheduler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/strefethen/agrisound-hub-go/internal/api"
	"github.com/strefethen/agrisound-hub-go/internal/apperrors"
)

// RegisterRoutes wires scheduler routes to the router.
func RegisterRoutes(router chi.Router, engine *Engine) {
	router.Method(http.MethodGet, "/v1/scheduler/upcoming", api.Handler(listUpcoming(engine)))
	router.Method(http.MethodPost, "/v1/scheduler/tick", api.Handler(runTick(engine)))
}

func listUpcoming(engine *Engine) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		firings, err := engine.Upcoming(r.Context())
		if err != nil {
			return apperrors.NewInternalError("Failed to load schedules")
		}
		data := make([]map[string]any, 0, len(firings))
		for _, f := range firings {
			data = append(data, map[string]any{
				"object":      "firing",
				"schedule_id": f.ScheduleID,
				"name":        f.Name,
				"at":          f.At.Format(time.RFC3339),
			})
		}
		return api.WriteList(w, "/v1/scheduler/upcoming", data, false)
	}
}

func runTick(engine *Engine) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		report := engine.Tick(r.Context())
		return api.WriteResource(w, http.StatusOK, map[string]any{
			"object":   "tick",
			"at":       report.At.Format(time.RFC3339),
			"hhmm":     report.HHMM,
			"weekday":  report.Weekday,
			"upcoming": report.Upcoming,
			"armed":    report.Armed,
			"disarmed": report.Disarmed,
			"fired":    report.Fired,
			"skipped":  report.Skipped,
			"errors":   report.Errors,
		})
	}
}
