package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type contextKey string

const requestIDKey contextKey = "requestID"

// RequestIDMiddleware ensures every request carries an x-request-id and a
// request-scoped logger reachable through zerolog.Ctx.
func RequestIDMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("x-request-id")
			if requestID == "" {
				requestID = uuid.NewString()
			}

			reqLogger := logger.With().Str("request_id", requestID).Logger()
			ctx := context.WithValue(r.Context(), requestIDKey, requestID)
			ctx = reqLogger.WithContext(ctx)

			w.Header().Set("x-request-id", requestID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetRequestID returns the request ID for the current request.
func GetRequestID(r *http.Request) string {
	if r == nil {
		return ""
	}
	requestID, _ := r.Context().Value(requestIDKey).(string)
	return requestID
}
