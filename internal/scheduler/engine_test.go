package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/strefethen/agrisound-hub-go/internal/activity"
	"github.com/strefethen/agrisound-hub-go/internal/clock"
	"github.com/strefethen/agrisound-hub-go/internal/device"
	"github.com/strefethen/agrisound-hub-go/internal/periodic"
	"github.com/strefethen/agrisound-hub-go/internal/playback"
	"github.com/strefethen/agrisound-hub-go/internal/remote"
	"github.com/strefethen/agrisound-hub-go/internal/schedules"
)

var pht = time.FixedZone("PHT", 8*3600)

// 2024-06-03 is a Monday.
func monday(hour, minute, second int) time.Time {
	return time.Date(2024, 6, 3, hour, minute, second, 0, pht)
}

// ==========================================================================
// Fakes
// ==========================================================================

type fakeFlags struct {
	mu    sync.Mutex
	flags remote.Flags
	err   error
	sets  int
}

func (f *fakeFlags) Snapshot() remote.Flags {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flags
}

func (f *fakeFlags) SetMainSwitch(_ context.Context, on bool) (remote.Flags, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets++
	if f.err != nil {
		return f.flags, f.err
	}
	f.flags.MainSwitch = on
	return f.flags, nil
}

func (f *fakeFlags) SetDevicePower(_ context.Context, on bool) (remote.Flags, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets++
	if f.err != nil {
		return f.flags, f.err
	}
	f.flags.DevicePower = on
	return f.flags, nil
}

type fakeSchedules struct {
	mu         sync.Mutex
	list       []schedules.Schedule
	markErr    map[string]error
	markedRuns []string
}

func (f *fakeSchedules) List(context.Context) ([]schedules.Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]schedules.Schedule, len(f.list))
	copy(out, f.list)
	return out, nil
}

func (f *fakeSchedules) MarkRun(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.markErr[id]; err != nil {
		return err
	}
	for i := range f.list {
		if f.list[i].ID == id {
			f.list[i].LastRunTimestamp = at.UnixMilli()
			f.markedRuns = append(f.markedRuns, id)
			return nil
		}
	}
	return schedules.ErrNotFound
}

func (f *fakeSchedules) lastRun(id string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.list {
		if s.ID == id {
			return s.LastRunTimestamp
		}
	}
	return 0
}

type fakeDevice struct {
	mu    sync.Mutex
	state device.State
}

func (f *fakeDevice) Get(context.Context) (device.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, nil
}

func (f *fakeDevice) set(state device.State) {
	f.mu.Lock()
	f.state = state
	f.mu.Unlock()
}

type fakeExecutor struct {
	mu       sync.Mutex
	calls    []string
	triggers []activity.TriggerType
	errs     map[string]error
	panics   map[string]bool
}

func (f *fakeExecutor) Execute(_ context.Context, trigger activity.TriggerType, scheduleID string) (playback.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panics[scheduleID] {
		panic("player exploded")
	}
	f.calls = append(f.calls, scheduleID)
	f.triggers = append(f.triggers, trigger)
	if err := f.errs[scheduleID]; err != nil {
		return playback.Result{}, err
	}
	return playback.Result{Cycles: 1, Played: []string{"Hawk"}}, nil
}

func (f *fakeExecutor) executed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type harness struct {
	engine    *Engine
	clock     *clock.Fixed
	flags     *fakeFlags
	schedules *fakeSchedules
	device    *fakeDevice
	executor  *fakeExecutor
	gate      *device.AudioGate
}

func newHarness(t *testing.T, at time.Time, list ...schedules.Schedule) *harness {
	t.Helper()
	h := &harness{
		clock:     clock.NewFixed(at, pht),
		flags:     &fakeFlags{flags: remote.Flags{MainSwitch: true, DevicePower: true}},
		schedules: &fakeSchedules{list: list, markErr: map[string]error{}},
		device:    &fakeDevice{state: device.DefaultState()},
		executor:  &fakeExecutor{errs: map[string]error{}, panics: map[string]bool{}},
		gate:      device.NewAudioGate(true),
	}
	// Played recently, so auto-disarm stays out of the way unless a test moves it.
	h.device.state.LastSyncTime = at.UnixMilli()

	opts := DefaultOptions()
	engine, err := NewEngine(Deps{
		Schedules: h.schedules,
		Device:    h.device,
		Flags:     h.flags,
		Executor:  h.executor,
		Gate:      h.gate,
		Clock:     h.clock,
	}, opts, zerolog.Nop())
	require.NoError(t, err)
	h.engine = engine
	return h
}

func morningSchedule(id string) schedules.Schedule {
	return schedules.Schedule{
		ID:            id,
		Name:          id,
		Type:          schedules.TypeFixed,
		Time:          "08:00",
		Days:          []int{1, 3, 5},
		SoundIDs:      schedules.Random(),
		PlaybackCount: 1,
		IsActive:      true,
	}
}

// ==========================================================================
// Options
// ==========================================================================

func TestOptions_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(o *Options)
		wantErr bool
	}{
		{name: "defaults", mutate: func(o *Options) {}},
		{name: "tick of a full minute", mutate: func(o *Options) { o.TickInterval = time.Minute }, wantErr: true},
		{name: "refire gap not above tick", mutate: func(o *Options) { o.TickInterval = 30 * time.Second; o.RefireGap = 30 * time.Second }, wantErr: true},
		{name: "refire gap shorter than a minute", mutate: func(o *Options) { o.RefireGap = 50 * time.Second }, wantErr: true},
		{name: "inverted window", mutate: func(o *Options) { o.LookAheadMin = 2; o.LookAheadMax = 1 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			tt.mutate(&opts)
			err := opts.Validate()
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidOptions)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestNewEngine_RejectsUnsafeTiming(t *testing.T) {
	_, err := NewEngine(Deps{}, Options{TickInterval: 90 * time.Second}, zerolog.Nop())
	require.ErrorIs(t, err, ErrInvalidOptions)

	engine, err := NewEngine(Deps{}, Options{}, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, DefaultTickInterval, engine.Options().TickInterval)
	require.Equal(t, DefaultRefireGap, engine.Options().RefireGap)
}

// ==========================================================================
// Firing
// ==========================================================================

func TestTick_FiresOnExactDayAndMinute(t *testing.T) {
	h := newHarness(t, monday(8, 0, 5), morningSchedule("s1"))

	report := h.engine.Tick(context.Background())

	require.Equal(t, []string{"s1"}, report.Fired)
	require.Equal(t, "08:00", report.HHMM)
	require.Equal(t, 1, report.Weekday)
	require.Equal(t, []string{"s1"}, h.executor.executed())
	require.Equal(t, []activity.TriggerType{activity.TriggerScheduled}, h.executor.triggers)
	require.Equal(t, monday(8, 0, 5).UnixMilli(), h.schedules.lastRun("s1"))
}

func TestTick_DoesNotFireOutsideMatch(t *testing.T) {
	tests := []struct {
		name string
		at   time.Time
	}{
		{name: "minute before", at: monday(7, 59, 30)},
		{name: "minute after", at: monday(8, 1, 0)},
		{name: "wrong weekday", at: time.Date(2024, 6, 4, 8, 0, 0, 0, pht)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.at, morningSchedule("s1"))
			report := h.engine.Tick(context.Background())
			require.Empty(t, report.Fired)
			require.Empty(t, h.executor.executed())
		})
	}
}

func TestTick_InactiveScheduleNeverFires(t *testing.T) {
	s := morningSchedule("s1")
	s.IsActive = false
	h := newHarness(t, monday(8, 0, 0), s)

	report := h.engine.Tick(context.Background())
	require.Empty(t, report.Fired)
	require.Empty(t, report.Upcoming)
}

func TestTick_MalformedScheduleNeverMatches(t *testing.T) {
	s := morningSchedule("s1")
	s.Time = "8:00"
	h := newHarness(t, monday(8, 0, 0), s)

	report := h.engine.Tick(context.Background())
	require.Empty(t, report.Fired)
	require.Empty(t, report.Errors)
}

func TestTick_RefireSuppressedInsideGap(t *testing.T) {
	h := newHarness(t, monday(8, 0, 0), morningSchedule("s1"))
	ctx := context.Background()

	require.Equal(t, []string{"s1"}, h.engine.Tick(ctx).Fired)

	// Every later tick within the same minute is suppressed.
	for i := 0; i < 5; i++ {
		h.clock.Advance(10 * time.Second)
		require.Empty(t, h.engine.Tick(ctx).Fired)
	}
	require.Len(t, h.executor.executed(), 1)
}

func TestTick_RefireGapBoundary(t *testing.T) {
	now := monday(8, 0, 30)

	inside := morningSchedule("inside")
	inside.LastRunTimestamp = now.Add(-60 * time.Second).UnixMilli()
	atGap := morningSchedule("at-gap")
	atGap.LastRunTimestamp = now.Add(-61 * time.Second).UnixMilli()

	h := newHarness(t, now, inside, atGap)
	report := h.engine.Tick(context.Background())

	require.Equal(t, []string{"at-gap"}, report.Fired)
}

func TestTick_MultipleSchedulesFireSameTickInStoreOrder(t *testing.T) {
	h := newHarness(t, monday(8, 0, 0), morningSchedule("b"), morningSchedule("a"), morningSchedule("c"))

	report := h.engine.Tick(context.Background())

	require.Equal(t, []string{"b", "a", "c"}, report.Fired)
	require.Equal(t, []string{"b", "a", "c"}, h.executor.executed())
}

func TestTick_ErrorOnOneScheduleDoesNotBlockOthers(t *testing.T) {
	h := newHarness(t, monday(8, 0, 0),
		morningSchedule("stamp-fails"),
		morningSchedule("exec-fails"),
		morningSchedule("panics"),
		morningSchedule("ok"))
	h.schedules.markErr["stamp-fails"] = errors.New("disk full")
	h.executor.errs["exec-fails"] = errors.New("boom")
	h.executor.panics["panics"] = true

	report := h.engine.Tick(context.Background())

	require.Equal(t, []string{"ok"}, report.Fired)
	require.Len(t, report.Errors, 3)
	require.Equal(t, "stamp-fails", report.Errors[0].ScheduleID)
	require.Equal(t, "exec-fails", report.Errors[1].ScheduleID)
	require.Equal(t, "panics", report.Errors[2].ScheduleID)
	require.Equal(t, []string{"exec-fails", "ok"}, h.executor.executed())
}

func TestTick_BusyDeviceDefersWithoutStamping(t *testing.T) {
	h := newHarness(t, monday(8, 0, 0), morningSchedule("s1"))
	ctx := context.Background()

	busy := device.DefaultState()
	busy.Status = device.StatusActive
	h.device.set(busy)

	report := h.engine.Tick(ctx)
	require.Empty(t, report.Fired)
	require.Equal(t, []Skip{{ScheduleID: "s1", Reason: SkipDeviceBusy}}, report.Skipped)
	require.Zero(t, h.schedules.lastRun("s1"))

	// The manual run finishes; the next tick in the same minute picks it up.
	idle := device.DefaultState()
	idle.LastSyncTime = monday(8, 0, 9).UnixMilli()
	h.device.set(idle)
	h.clock.Advance(10 * time.Second)

	report = h.engine.Tick(ctx)
	require.Equal(t, []string{"s1"}, report.Fired)
}

func TestTick_OfflineDeviceSkips(t *testing.T) {
	h := newHarness(t, monday(8, 0, 0), morningSchedule("s1"))
	offline := device.DefaultState()
	offline.Status = device.StatusOffline
	offline.LastSyncTime = monday(8, 0, 0).UnixMilli()
	h.device.set(offline)

	report := h.engine.Tick(context.Background())
	require.Empty(t, report.Fired)
	require.Equal(t, SkipDeviceOffline, report.Skipped[0].Reason)
}

func TestTick_BusyAfterStampIsReported(t *testing.T) {
	h := newHarness(t, monday(8, 0, 0), morningSchedule("s1"))
	h.executor.errs["s1"] = device.ErrDeviceBusy

	report := h.engine.Tick(context.Background())
	require.Empty(t, report.Fired)
	require.Empty(t, report.Errors)
	require.Equal(t, []Skip{{ScheduleID: "s1", Reason: SkipDeviceBusy}}, report.Skipped)
}

func TestTick_LockedAudioBlocksFiringButNotArming(t *testing.T) {
	h := newHarness(t, monday(8, 0, 0), morningSchedule("s1"))
	h.gate = device.NewAudioGate(false)
	h.engine.deps.Gate = h.gate
	h.flags.flags = remote.Flags{}

	report := h.engine.Tick(context.Background())

	require.True(t, report.Armed)
	require.Equal(t, remote.Flags{MainSwitch: true, DevicePower: true}, h.flags.Snapshot())
	require.Empty(t, report.Fired)

	h.gate.Unlock()
	h.clock.Advance(10 * time.Second)
	require.Equal(t, []string{"s1"}, h.engine.Tick(context.Background()).Fired)
}

func TestTick_DisarmedFlagsBlockFiring(t *testing.T) {
	// Arming fails, so the fresh snapshot still shows power off.
	h := newHarness(t, monday(8, 0, 0), morningSchedule("s1"))
	h.flags.flags = remote.Flags{MainSwitch: true, DevicePower: false}
	h.flags.err = errors.New("remote down")

	report := h.engine.Tick(context.Background())
	require.Empty(t, report.Fired)
	require.NotEmpty(t, report.Errors)
}

// ==========================================================================
// Anticipation
// ==========================================================================

func TestTick_AnticipationWindow(t *testing.T) {
	tests := []struct {
		name      string
		at        time.Time
		wantArmed bool
	}{
		{name: "one minute before", at: monday(7, 59, 0), wantArmed: true},
		{name: "at trigger minute", at: monday(8, 0, 0), wantArmed: true},
		{name: "three minutes before", at: monday(7, 57, 0), wantArmed: false},
		{name: "minute after", at: monday(8, 1, 0), wantArmed: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.at, morningSchedule("s1"))
			h.engine.opts.AutoDisarm = false
			h.flags.flags = remote.Flags{}

			report := h.engine.Tick(context.Background())

			require.Equal(t, tt.wantArmed, report.Armed)
			want := remote.Flags{MainSwitch: tt.wantArmed, DevicePower: tt.wantArmed}
			require.Equal(t, want, h.flags.Snapshot())
		})
	}
}

func TestTick_AnticipationIsIdempotent(t *testing.T) {
	h := newHarness(t, monday(7, 59, 0), morningSchedule("s1"))

	report := h.engine.Tick(context.Background())

	require.Equal(t, []string{"s1"}, report.Upcoming)
	require.False(t, report.Armed)
	require.Zero(t, h.flags.sets)
}

func TestTick_AnticipationThenFireInSameTick(t *testing.T) {
	h := newHarness(t, monday(8, 0, 0), morningSchedule("s1"))
	h.flags.flags = remote.Flags{}

	report := h.engine.Tick(context.Background())

	require.True(t, report.Armed)
	require.Equal(t, []string{"s1"}, report.Fired)
}

func TestTick_AnticipationWrapsPastMidnight(t *testing.T) {
	tuesdayOnly := schedules.Schedule{
		ID: "dawn", Name: "dawn", Type: schedules.TypeFixed, Time: "00:00",
		Days: []int{2}, SoundIDs: schedules.Random(), PlaybackCount: 1, IsActive: true,
	}
	mondayOnly := tuesdayOnly
	mondayOnly.ID = "monday"
	mondayOnly.Days = []int{1}

	h := newHarness(t, monday(23, 59, 10), tuesdayOnly, mondayOnly)
	h.engine.opts.AutoDisarm = false
	h.flags.flags = remote.Flags{}

	report := h.engine.Tick(context.Background())

	require.Equal(t, []string{"dawn"}, report.Upcoming)
	require.True(t, report.Armed)
}

// ==========================================================================
// Auto-disarm
// ==========================================================================

func TestTick_AutoDisarm(t *testing.T) {
	now := monday(10, 0, 0)

	tests := []struct {
		name         string
		status       device.Status
		lastSync     time.Time
		autoDisarm   bool
		wantDisarmed bool
	}{
		{name: "idle past threshold", status: device.StatusSleeping, lastSync: now.Add(-2 * time.Minute), autoDisarm: true, wantDisarmed: true},
		{name: "recent activity", status: device.StatusSleeping, lastSync: now.Add(-30 * time.Second), autoDisarm: true},
		{name: "exactly at threshold", status: device.StatusSleeping, lastSync: now.Add(-60 * time.Second), autoDisarm: true},
		{name: "device active", status: device.StatusActive, lastSync: now.Add(-2 * time.Minute), autoDisarm: true},
		{name: "device offline", status: device.StatusOffline, lastSync: now.Add(-2 * time.Minute), autoDisarm: true},
		{name: "disabled", status: device.StatusSleeping, lastSync: now.Add(-2 * time.Minute)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, now, morningSchedule("s1"))
			h.engine.opts.AutoDisarm = tt.autoDisarm
			state := device.DefaultState()
			state.Status = tt.status
			state.LastSyncTime = tt.lastSync.UnixMilli()
			h.device.set(state)

			report := h.engine.Tick(context.Background())

			require.Equal(t, tt.wantDisarmed, report.Disarmed)
			armed := !tt.wantDisarmed
			require.Equal(t, remote.Flags{MainSwitch: armed, DevicePower: armed}, h.flags.Snapshot())
		})
	}
}

func TestTick_NoDisarmWhenOnlyOneFlagOn(t *testing.T) {
	h := newHarness(t, monday(10, 0, 0))
	h.flags.flags = remote.Flags{MainSwitch: true}
	state := device.DefaultState()
	h.device.set(state)

	report := h.engine.Tick(context.Background())
	require.False(t, report.Disarmed)
	require.Zero(t, h.flags.sets)
}

// ==========================================================================
// Upcoming
// ==========================================================================

func TestNextFiring(t *testing.T) {
	now := clock.At(monday(9, 0, 0), pht)

	later := morningSchedule("later-today")
	later.Time = "17:30"
	later.Days = []int{1}

	passed := morningSchedule("next-wednesday")
	passed.Days = []int{1, 3}

	nextWeek := morningSchedule("next-monday")
	nextWeek.Days = []int{1}

	now09 := morningSchedule("this-minute")
	now09.Time = "09:00"
	now09.Days = []int{1}

	noDays := morningSchedule("no-days")
	noDays.Days = []int{}

	inactive := morningSchedule("inactive")
	inactive.IsActive = false

	got := NextFiring([]schedules.Schedule{nextWeek, later, passed, now09, noDays, inactive}, now)

	require.Len(t, got, 4)
	require.Equal(t, "this-minute", got[0].ScheduleID)
	require.Equal(t, monday(9, 0, 0), got[0].At)
	require.Equal(t, "later-today", got[1].ScheduleID)
	require.Equal(t, monday(17, 30, 0), got[1].At)
	require.Equal(t, "next-wednesday", got[2].ScheduleID)
	require.Equal(t, time.Date(2024, 6, 5, 8, 0, 0, 0, pht), got[2].At)
	require.Equal(t, "next-monday", got[3].ScheduleID)
	require.Equal(t, time.Date(2024, 6, 10, 8, 0, 0, 0, pht), got[3].At)
}

// ==========================================================================
// Runner and routes
// ==========================================================================

func TestEngine_StartRegistersTickAndStopRemovesIt(t *testing.T) {
	h := newHarness(t, monday(8, 0, 0), morningSchedule("s1"))
	runner := periodic.NewRunner(context.Background(), zerolog.Nop())

	h.engine.Start(runner)
	require.True(t, runner.RunNow(JobName))
	require.Equal(t, []string{"s1"}, h.executor.executed())

	h.engine.Stop()
	require.False(t, runner.RunNow(JobName))
	h.engine.Stop()
}

func TestRoutes(t *testing.T) {
	h := newHarness(t, monday(8, 0, 0), morningSchedule("s1"))
	router := chi.NewRouter()
	RegisterRoutes(router, h.engine)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/scheduler/upcoming", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Equal(t, "list", list["object"])
	data := list["data"].([]any)
	require.Len(t, data, 1)
	require.Equal(t, "2024-06-03T08:00:00+08:00", data[0].(map[string]any)["at"])

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/scheduler/tick", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var report map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Equal(t, "tick", report["object"])
	require.Equal(t, []any{"s1"}, report["fired"])
}
