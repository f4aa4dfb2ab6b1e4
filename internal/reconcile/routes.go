package reconcile

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/strefethen/agrisound-hub-go/internal/api"
	"github.com/strefethen/agrisound-hub-go/internal/apperrors"
)

// RegisterRoutes wires the manual reconcile route.
func RegisterRoutes(router chi.Router, reconciler *Reconciler) {
	router.Method(http.MethodPost, "/v1/sync/reconcile", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		report, err := reconciler.Run(r.Context())
		if err != nil {
			return apperrors.NewInternalError("Reconciliation failed")
		}
		if report.Skipped {
			return apperrors.NewUnavailableError(apperrors.ErrorCodeRemoteUnavailable, "Shared store unreachable", map[string]any{"reason": report.Reason})
		}
		return api.WriteResource(w, http.StatusOK, map[string]any{
			"object":    "reconciliation",
			"schedules": report.Schedules,
			"sounds":    report.Sounds,
		})
	}))
}
