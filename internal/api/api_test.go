package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/strefethen/agrisound-hub-go/internal/apperrors"
)

func TestHandlerWritesAppError(t *testing.T) {
	h := Handler(func(w http.ResponseWriter, r *http.Request) error {
		return apperrors.NewConflictError(apperrors.ErrorCodeDeviceBusy, "device is busy", nil)
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/device/trigger", nil))

	require.Equal(t, http.StatusConflict, rec.Code)
	var body StripeErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, apperrors.ErrorTypeInvalidRequest, body.Error.Type)
	require.Equal(t, "DEVICE_BUSY", body.Error.Code)
}

func TestHandlerHidesPlainErrors(t *testing.T) {
	h := Handler(func(w http.ResponseWriter, r *http.Request) error {
		return errors.New("sqlite: disk I/O error")
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "disk I/O")
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r)
		require.NotNil(t, zerolog.Ctx(r.Context()))
	})
	mw := RequestIDMiddleware(zerolog.Nop())(next)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("x-request-id", "req-42")
	mw.ServeHTTP(rec, req)
	require.Equal(t, "req-42", seen)
	require.Equal(t, "req-42", rec.Header().Get("x-request-id"))

	rec = httptest.NewRecorder()
	mw.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotEmpty(t, seen)
	require.NotEqual(t, "req-42", seen)
}

func TestRecovererMiddleware(t *testing.T) {
	mw := RecovererMiddleware(zerolog.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
