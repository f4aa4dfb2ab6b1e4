package seed

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/strefethen/agrisound-hub-go/internal/db"
	"github.com/strefethen/agrisound-hub-go/internal/schedules"
	"github.com/strefethen/agrisound-hub-go/internal/sounds"
)

const sampleManifest = `
sounds:
  - id: hawk
    name: Hawk Screech
    url: https://cdn.example.com/hawk.mp3
    tag: predator
    duration_seconds: 4.5
  - id: crow
    name: Crow Distress
    url: https://cdn.example.com/crow.mp3
schedules:
  - id: dawn
    name: Dawn
    time: "05:30"
    days: [1, 2, 3, 4, 5]
    sound_ids: [hawk, crow]
    playback_count: 2
  - id: dusk
    name: Dusk
    time: "18:00"
    sound_ids: random
    is_active: false
`

func setupServices(t *testing.T) (*sounds.Service, *schedules.Service) {
	t.Helper()
	dbPair, err := db.Init(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { dbPair.Close() })
	return sounds.NewService(sounds.NewRepository(dbPair), nil, zerolog.Nop()),
		schedules.NewService(schedules.NewRepository(dbPair), nil, zerolog.Nop())
}

func TestParse(t *testing.T) {
	m, err := Parse(strings.NewReader(sampleManifest))
	require.NoError(t, err)

	require.Len(t, m.Sounds, 2)
	require.Equal(t, sounds.TagPredator, m.Sounds[0].Tag)
	require.Equal(t, 4.5, m.Sounds[0].DurationSeconds)

	require.Len(t, m.Schedules, 2)
	dawn := m.Schedules[0].Schedule()
	require.True(t, dawn.IsActive, "is_active defaults to true")
	require.Equal(t, []string{"hawk", "crow"}, dawn.SoundIDs.IDs())
	require.Equal(t, 2, dawn.PlaybackCount)

	dusk := m.Schedules[1].Schedule()
	require.False(t, dusk.IsActive)
	require.True(t, dusk.SoundIDs.IsRandom())
	require.Nil(t, dusk.Days)
}

func TestParse_Empty(t *testing.T) {
	m, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	require.Empty(t, m.Sounds)
	require.Empty(t, m.Schedules)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "unknown field", input: "speakers: []\n"},
		{name: "sound without id", input: "sounds:\n  - name: x\n    url: https://a/b.mp3\n"},
		{name: "duplicate sound", input: "sounds:\n  - id: a\n    name: a\n  - id: a\n    name: b\n"},
		{name: "duplicate schedule", input: "schedules:\n  - id: s\n    name: a\n  - id: s\n    name: b\n"},
		{name: "bad marker", input: "schedules:\n  - name: a\n    sound_ids: sometimes\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.input))
			require.ErrorIs(t, err, ErrInvalidManifest)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleManifest), 0o600))

	m, err := Load(path)
	require.NoError(t, err)
	require.Len(t, m.Sounds, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestApply_IsIdempotentByID(t *testing.T) {
	soundSvc, scheduleSvc := setupServices(t)
	ctx := context.Background()

	m, err := Parse(strings.NewReader(sampleManifest))
	require.NoError(t, err)

	report, err := Apply(ctx, m, soundSvc, scheduleSvc, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, 2, report.Sounds)
	require.Equal(t, 2, report.Schedules)
	require.Empty(t, report.Warnings)

	_, err = Apply(ctx, m, soundSvc, scheduleSvc, zerolog.Nop())
	require.NoError(t, err)

	library, err := soundSvc.List(ctx)
	require.NoError(t, err)
	require.Len(t, library, 2)
	require.Equal(t, sounds.TagOther, library[1].Tag)

	list, err := scheduleSvc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "dawn", list[0].ID)
	require.Equal(t, []int{1, 2, 3, 4, 5}, list[1].Days, "editor default days")
}

func TestApply_WarnsOnUnknownSound(t *testing.T) {
	soundSvc, scheduleSvc := setupServices(t)

	m, err := Parse(strings.NewReader("schedules:\n  - id: s\n    name: Noon\n    time: \"12:00\"\n    sound_ids: [ghost]\n"))
	require.NoError(t, err)

	report, err := Apply(context.Background(), m, soundSvc, scheduleSvc, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, 1, report.Schedules)
	require.Len(t, report.Warnings, 1)
	require.Contains(t, report.Warnings[0], "ghost")
}

func TestApply_StopsOnInvalidRecord(t *testing.T) {
	soundSvc, scheduleSvc := setupServices(t)

	m, err := Parse(strings.NewReader("sounds:\n  - id: a\n    name: A\n    url: https://a/a.mp3\nschedules:\n  - id: s\n    name: Bad\n    time: \"25:00\"\n"))
	require.NoError(t, err)

	report, err := Apply(context.Background(), m, soundSvc, scheduleSvc, zerolog.Nop())
	require.ErrorIs(t, err, schedules.ErrInvalid)
	require.Equal(t, 1, report.Sounds)
	require.Zero(t, report.Schedules)
}

func TestExportRoundTrip(t *testing.T) {
	soundSvc, scheduleSvc := setupServices(t)
	ctx := context.Background()

	m, err := Parse(strings.NewReader(sampleManifest))
	require.NoError(t, err)
	_, err = Apply(ctx, m, soundSvc, scheduleSvc, zerolog.Nop())
	require.NoError(t, err)

	exported, err := Export(ctx, soundSvc, scheduleSvc)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, exported))
	require.Contains(t, buf.String(), "sound_ids: random")

	reparsed, err := Parse(&buf)
	require.NoError(t, err)
	require.Len(t, reparsed.Sounds, 2)
	require.Equal(t, "dusk", reparsed.Schedules[1].ID)
	require.False(t, reparsed.Schedules[1].IsActive)
}

func TestRoutes(t *testing.T) {
	soundSvc, scheduleSvc := setupServices(t)
	router := chi.NewRouter()
	RegisterRoutes(router, soundSvc, scheduleSvc, zerolog.Nop())

	req := httptest.NewRequest(http.MethodPost, "/v1/seed", strings.NewReader(sampleManifest))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "seed_result", body["object"])
	require.Equal(t, float64(2), body["schedules"])

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/seed", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "text/yaml")
	require.Contains(t, rec.Body.String(), "Hawk Screech")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/seed", strings.NewReader("bogus: true\n")))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
