package system

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/strefethen/agrisound-hub-go/internal/clock"
	"github.com/strefethen/agrisound-hub-go/internal/db"
	"github.com/strefethen/agrisound-hub-go/internal/device"
	"github.com/strefethen/agrisound-hub-go/internal/remote"
	"github.com/strefethen/agrisound-hub-go/internal/schedules"
	"github.com/strefethen/agrisound-hub-go/internal/sounds"
)

var pht = time.FixedZone("PHT", 8*3600)

type stubDevice struct{ state device.State }

func (s stubDevice) Get(context.Context) (device.State, error) { return s.state, nil }

type stubFlags struct{ flags remote.Flags }

func (s stubFlags) Snapshot() remote.Flags { return s.flags }

type stubSchedules []schedules.Schedule

func (s stubSchedules) List(context.Context) ([]schedules.Schedule, error) { return s, nil }

type stubSounds []sounds.SoundFile

func (s stubSounds) List(context.Context) ([]sounds.SoundFile, error) { return s, nil }

type stubLogs struct {
	count   int
	healthy bool
}

func (s stubLogs) Count(context.Context) (int, error) { return s.count, nil }
func (s stubLogs) IsHealthy() bool                     { return s.healthy }

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

type stubScheduler struct{ next time.Time }

func (s stubScheduler) IsRunning() bool     { return !s.next.IsZero() }
func (s stubScheduler) NextTick() time.Time { return s.next }

func baseDeps(t *testing.T) Deps {
	t.Helper()
	dbPair, err := db.Init(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { dbPair.Close() })

	return Deps{
		DB:     dbPair,
		Device: stubDevice{state: device.DefaultState()},
		Flags:  stubFlags{flags: remote.Flags{MainSwitch: true, DevicePower: true}},
		Gate:   device.NewAudioGate(true),
		Schedules: stubSchedules{
			{ID: "dawn", Name: "Dawn", Time: "05:30", Days: []int{1}, IsActive: true},
			{ID: "noon", Name: "Noon", Time: "12:00", Days: []int{1, 2}, IsActive: true},
			{ID: "off", Name: "Off", Time: "09:00", Days: []int{1}, IsActive: false},
		},
		Sounds:  stubSounds{{ID: "hawk", Name: "Hawk"}},
		Logs:    stubLogs{count: 7, healthy: true},
		Viewers: func() int { return 2 },
		// Monday 10:00 in the target zone.
		Clock: clock.NewFixed(time.Date(2024, 6, 3, 10, 0, 0, 0, pht), pht),
	}
}

func attentionTypes(items []AttentionItem) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.Type)
	}
	return out
}

func TestGetSystemInfo(t *testing.T) {
	deps := baseDeps(t)
	next := time.Date(2024, 6, 3, 2, 0, 10, 0, time.UTC)
	deps.Scheduler = stubScheduler{next: next}
	deps.Remote = stubPinger{}
	svc := NewService(deps, zerolog.Nop())

	info, err := svc.GetSystemInfo(context.Background())
	require.NoError(t, err)

	require.Equal(t, Version, info.HubVersion)
	require.True(t, info.SQLiteConnected)
	require.True(t, info.RemoteEnabled)
	require.True(t, info.RemoteConnected)
	require.Equal(t, device.StatusSleeping, info.Device.Status)
	require.Equal(t, device.DefaultBatteryLevel, info.Device.BatteryLevel)
	require.True(t, info.SchedulerRunning)
	require.Equal(t, next, *info.NextTickAt)
	require.Equal(t, 3, info.SchedulesTotal)
	require.Equal(t, 2, info.SchedulesActive)
	require.Equal(t, 1, info.SoundsTotal)
	require.Equal(t, 7, info.LogsTotal)
	require.Equal(t, 2, info.LiveViewers)
}

func TestGetSystemInfo_LocalOnly(t *testing.T) {
	svc := NewService(baseDeps(t), zerolog.Nop())

	info, err := svc.GetSystemInfo(context.Background())
	require.NoError(t, err)
	require.False(t, info.RemoteEnabled)
	require.False(t, info.RemoteConnected)
	require.False(t, info.SchedulerRunning)
	require.Nil(t, info.NextTickAt)
}

func TestGetDashboardData_Upcoming(t *testing.T) {
	svc := NewService(baseDeps(t), zerolog.Nop())

	data, err := svc.GetDashboardData(context.Background())
	require.NoError(t, err)

	require.Len(t, data.Upcoming, 2)
	require.NotNil(t, data.NextFiring)
	require.Equal(t, "noon", data.NextFiring.ScheduleID)
	require.Equal(t, time.Date(2024, 6, 3, 12, 0, 0, 0, pht), data.NextFiring.At)
	require.Equal(t, "dawn", data.Upcoming[1].ScheduleID)
	require.Empty(t, data.AttentionItems)
}

func TestGetDashboardData_AttentionItems(t *testing.T) {
	deps := baseDeps(t)
	offline := device.DefaultState()
	offline.Status = device.StatusOffline
	offline.BatteryLevel = 12
	deps.Device = stubDevice{state: offline}
	deps.Remote = stubPinger{err: errors.New("dial tcp: refused")}
	deps.Sounds = stubSounds{}
	deps.Gate = device.NewAudioGate(false)
	deps.Logs = stubLogs{healthy: false}
	deps.Flags = stubFlags{}
	svc := NewService(deps, zerolog.Nop())

	data, err := svc.GetDashboardData(context.Background())
	require.NoError(t, err)

	require.Equal(t, []string{
		AttentionDeviceOffline,
		AttentionLowBattery,
		AttentionRemoteUnreachable,
		AttentionLibraryEmpty,
		AttentionAudioLocked,
		AttentionLogStoreUnhealthy,
		AttentionDisarmed,
	}, attentionTypes(data.AttentionItems))
}

func TestRoutes(t *testing.T) {
	router := chi.NewRouter()
	RegisterRoutes(router, NewService(baseDeps(t), zerolog.Nop()))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/system/info", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var info map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	require.Equal(t, "system_info", info["object"])
	require.Equal(t, "SLEEPING", info["device_status"])
	require.Nil(t, info["next_tick_at"])

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/dashboard", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var dash map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dash))
	require.Equal(t, "dashboard", dash["object"])
	require.Equal(t, true, dash["armed"])
	next := dash["next_firing"].(map[string]any)
	require.Equal(t, "noon", next["schedule_id"])
	require.Equal(t, "2024-06-03T12:00:00+08:00", next["at"])
}
