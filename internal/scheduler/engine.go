// Package scheduler decides, once per tick, whether any schedule should fire
// now or soon, and drives the arm flags and the playback executor accordingly.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/strefethen/agrisound-hub-go/internal/activity"
	"github.com/strefethen/agrisound-hub-go/internal/clock"
	"github.com/strefethen/agrisound-hub-go/internal/device"
	"github.com/strefethen/agrisound-hub-go/internal/periodic"
	"github.com/strefethen/agrisound-hub-go/internal/playback"
	"github.com/strefethen/agrisound-hub-go/internal/remote"
	"github.com/strefethen/agrisound-hub-go/internal/schedules"
)

// ==========================================================================
// Constants
// ==========================================================================

const (
	// JobName is the periodic runner entry the engine registers.
	JobName = "scheduler.tick"

	DefaultTickInterval   = 10 * time.Second
	DefaultLookAheadMin   = 0
	DefaultLookAheadMax   = 1
	DefaultRefireGap      = 61 * time.Second
	DefaultQuietThreshold = 60 * time.Second
)

// Skip reasons reported per schedule.
const (
	SkipDeviceBusy    = "device_busy"
	SkipDeviceOffline = "device_offline"
	SkipLibraryEmpty  = "library_empty"
)

// ErrInvalidOptions is returned for timing that could miss or double-fire a minute.
var ErrInvalidOptions = errors.New("invalid scheduler options")

// ==========================================================================
// Collaborators
// ==========================================================================

// Flags is the arm controller as seen by the engine.
type Flags interface {
	Snapshot() remote.Flags
	SetMainSwitch(ctx context.Context, on bool) (remote.Flags, error)
	SetDevicePower(ctx context.Context, on bool) (remote.Flags, error)
}

// ScheduleStore lists schedules and stamps their last run.
type ScheduleStore interface {
	List(ctx context.Context) ([]schedules.Schedule, error)
	MarkRun(ctx context.Context, id string, at time.Time) error
}

// DeviceReader reads the unit's current state.
type DeviceReader interface {
	Get(ctx context.Context) (device.State, error)
}

// Executor runs one playback sequence to completion.
type Executor interface {
	Execute(ctx context.Context, trigger activity.TriggerType, scheduleID string) (playback.Result, error)
}

// Gate reports whether local audio output has been unlocked.
type Gate interface {
	Unlocked() bool
}

// Deps bundles the engine's collaborators.
type Deps struct {
	Schedules ScheduleStore
	Device    DeviceReader
	Flags     Flags
	Executor  Executor
	Gate      Gate
	Clock     clock.Provider
}

// ==========================================================================
// Options
// ==========================================================================

// Options tunes the engine. Zero durations use the defaults.
type Options struct {
	TickInterval time.Duration
	// Anticipation window in whole minutes before a trigger, inclusive.
	LookAheadMin   int
	LookAheadMax   int
	RefireGap      time.Duration
	QuietThreshold time.Duration
	AutoDisarm     bool
}

// DefaultOptions returns the stock timing with auto-disarm on.
func DefaultOptions() Options {
	return Options{
		TickInterval:   DefaultTickInterval,
		LookAheadMin:   DefaultLookAheadMin,
		LookAheadMax:   DefaultLookAheadMax,
		RefireGap:      DefaultRefireGap,
		QuietThreshold: DefaultQuietThreshold,
		AutoDisarm:     true,
	}
}

func (o Options) withDefaults() Options {
	if o.TickInterval <= 0 {
		o.TickInterval = DefaultTickInterval
	}
	if o.RefireGap <= 0 {
		o.RefireGap = DefaultRefireGap
	}
	if o.QuietThreshold <= 0 {
		o.QuietThreshold = DefaultQuietThreshold
	}
	return o
}

// Validate checks that every eligible minute gets a tick and no minute gets two firings.
func (o Options) Validate() error {
	if o.TickInterval >= time.Minute {
		return fmt.Errorf("%w: tick interval %s must be under one minute", ErrInvalidOptions, o.TickInterval)
	}
	if o.RefireGap <= o.TickInterval {
		return fmt.Errorf("%w: refire gap %s must exceed tick interval %s", ErrInvalidOptions, o.RefireGap, o.TickInterval)
	}
	if o.RefireGap < time.Minute {
		return fmt.Errorf("%w: refire gap %s must cover the whole matching minute", ErrInvalidOptions, o.RefireGap)
	}
	if o.LookAheadMin < 0 || o.LookAheadMax < o.LookAheadMin {
		return fmt.Errorf("%w: look-ahead window [%d,%d]", ErrInvalidOptions, o.LookAheadMin, o.LookAheadMax)
	}
	return nil
}

// ==========================================================================
// Report
// ==========================================================================

// Skip is a due schedule that was not fired.
type Skip struct {
	ScheduleID string `json:"schedule_id"`
	Reason     string `json:"reason"`
}

// ScheduleError is a failure isolated to one schedule.
type ScheduleError struct {
	ScheduleID string `json:"schedule_id,omitempty"`
	Error      string `json:"error"`
}

// TickReport summarises one evaluation.
type TickReport struct {
	At       time.Time       `json:"at"`
	HHMM     string          `json:"hhmm"`
	Weekday  int             `json:"weekday"`
	Upcoming []string        `json:"upcoming"`
	Armed    bool            `json:"armed"`
	Disarmed bool            `json:"disarmed"`
	Fired    []string        `json:"fired"`
	Skipped  []Skip          `json:"skipped"`
	Errors   []ScheduleError `json:"errors"`
}

func (r *TickReport) fail(scheduleID string, err error) {
	r.Errors = append(r.Errors, ScheduleError{ScheduleID: scheduleID, Error: err.Error()})
}

// ==========================================================================
// Engine
// ==========================================================================

// Engine evaluates schedules against the fixed-zone clock.
type Engine struct {
	deps   Deps
	opts   Options
	logger zerolog.Logger

	mu     sync.Mutex
	runner *periodic.Runner
}

// NewEngine creates an engine. It returns ErrInvalidOptions for unsafe timing.
func NewEngine(deps Deps, opts Options, logger zerolog.Logger) (*Engine, error) {
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		deps:   deps,
		opts:   opts,
		logger: logger.With().Str("component", "scheduler").Logger(),
	}, nil
}

// Options returns the effective timing.
func (e *Engine) Options() Options { return e.opts }

// Start registers the tick on runner. The runner itself is started by the caller.
func (e *Engine) Start(runner *periodic.Runner) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.runner = runner
	runner.Every(JobName, e.opts.TickInterval, func(ctx context.Context) {
		e.Tick(ctx)
	})
	e.logger.Info().
		Dur("tick_interval", e.opts.TickInterval).
		Dur("refire_gap", e.opts.RefireGap).
		Bool("auto_disarm", e.opts.AutoDisarm).
		Msg("scheduling engine started")
}

// Stop unregisters the tick. A tick already running finishes normally.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.runner == nil {
		return
	}
	e.runner.Remove(JobName)
	e.runner = nil
	e.logger.Info().Msg("scheduling engine stopped")
}

// IsRunning reports whether the tick is registered on a runner.
func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runner != nil
}

// NextTick returns when the next scheduled tick runs; zero when stopped.
func (e *Engine) NextTick() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.runner == nil {
		return time.Time{}
	}
	return e.runner.Next(JobName)
}

// Tick runs one evaluation: anticipation, then firing.
func (e *Engine) Tick(ctx context.Context) TickReport {
	now := e.deps.Clock.Now()
	report := TickReport{
		At:       now.Time,
		HHMM:     now.HHMM,
		Weekday:  now.Weekday,
		Upcoming: []string{},
		Fired:    []string{},
		Skipped:  []Skip{},
		Errors:   []ScheduleError{},
	}

	list, err := e.deps.Schedules.List(ctx)
	if err != nil {
		e.logger.Error().Err(err).Msg("failed to load schedules")
		report.fail("", err)
		return report
	}
	state, err := e.deps.Device.Get(ctx)
	if err != nil {
		e.logger.Error().Err(err).Msg("failed to load device state")
		report.fail("", err)
		return report
	}

	for _, sched := range list {
		if e.inWindow(sched, now) {
			report.Upcoming = append(report.Upcoming, sched.ID)
		}
	}

	flags := e.deps.Flags.Snapshot()
	if len(report.Upcoming) > 0 {
		report.Armed = e.arm(ctx, flags, &report)
	} else if e.shouldDisarm(flags, state, now) {
		report.Disarmed = e.disarm(ctx, &report)
	}

	flags = e.deps.Flags.Snapshot()
	if !e.deps.Gate.Unlocked() || !flags.MainSwitch || !flags.DevicePower {
		return report
	}

	for _, sched := range list {
		if !e.due(sched, now) {
			continue
		}
		e.evaluate(ctx, sched, now, &report)
	}
	return report
}

// inWindow reports whether sched triggers within the look-ahead window,
// crossing midnight into the next day when needed.
func (e *Engine) inWindow(sched schedules.Schedule, now clock.Reading) bool {
	if !sched.IsActive {
		return false
	}
	minute, ok := sched.MinuteOfDay()
	if !ok {
		return false
	}
	delta := minute - now.MinuteOfDay
	if delta >= e.opts.LookAheadMin && delta <= e.opts.LookAheadMax && sched.RunsOn(now.Weekday) {
		return true
	}
	delta += clock.MinutesPerDay
	tomorrow := (now.Weekday + 1) % 7
	return delta >= e.opts.LookAheadMin && delta <= e.opts.LookAheadMax && sched.RunsOn(tomorrow)
}

func (e *Engine) shouldDisarm(flags remote.Flags, state device.State, now clock.Reading) bool {
	if !e.opts.AutoDisarm || !flags.MainSwitch || !flags.DevicePower {
		return false
	}
	if state.Status != device.StatusSleeping {
		return false
	}
	return now.UnixMilli()-state.LastSyncTime > e.opts.QuietThreshold.Milliseconds()
}

func (e *Engine) arm(ctx context.Context, flags remote.Flags, report *TickReport) bool {
	changed := false
	if !flags.MainSwitch {
		if _, err := e.deps.Flags.SetMainSwitch(ctx, true); err != nil {
			e.logger.Error().Err(err).Msg("failed to arm main switch")
			report.fail("", err)
		} else {
			changed = true
		}
	}
	if !flags.DevicePower {
		if _, err := e.deps.Flags.SetDevicePower(ctx, true); err != nil {
			e.logger.Error().Err(err).Msg("failed to power on device")
			report.fail("", err)
		} else {
			changed = true
		}
	}
	if changed {
		e.logger.Info().Strs("upcoming", report.Upcoming).Msg("schedule upcoming, armed")
	}
	return changed
}

func (e *Engine) disarm(ctx context.Context, report *TickReport) bool {
	var errs []error
	if _, err := e.deps.Flags.SetMainSwitch(ctx, false); err != nil {
		errs = append(errs, err)
	}
	if _, err := e.deps.Flags.SetDevicePower(ctx, false); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		e.logger.Error().Err(err).Msg("auto-disarm failed")
		report.fail("", err)
		return false
	}
	e.logger.Info().Msg("idle past quiet threshold, disarmed")
	return true
}

// due reports an exact day and minute match outside the refire gap.
func (e *Engine) due(sched schedules.Schedule, now clock.Reading) bool {
	if !sched.IsActive || sched.Time != now.HHMM || !sched.RunsOn(now.Weekday) {
		return false
	}
	return now.UnixMilli()-sched.LastRunTimestamp >= e.opts.RefireGap.Milliseconds()
}

// evaluate fires one schedule. Failures, including panics, stay with this schedule.
func (e *Engine) evaluate(ctx context.Context, sched schedules.Schedule, now clock.Reading, report *TickReport) {
	logger := e.logger.With().Str("schedule_id", sched.ID).Str("name", sched.Name).Logger()
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("schedule evaluation panicked")
			report.fail(sched.ID, fmt.Errorf("panic: %v", r))
		}
	}()

	state, err := e.deps.Device.Get(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("failed to read device state")
		report.fail(sched.ID, err)
		return
	}
	// Leave last_run untouched so a later tick in the same minute can still fire.
	switch {
	case state.Status == device.StatusOffline:
		logger.Warn().Msg("device offline, schedule not fired")
		report.Skipped = append(report.Skipped, Skip{ScheduleID: sched.ID, Reason: SkipDeviceOffline})
		return
	case state.Busy():
		logger.Info().Str("status", string(state.Status)).Msg("device busy, schedule deferred")
		report.Skipped = append(report.Skipped, Skip{ScheduleID: sched.ID, Reason: SkipDeviceBusy})
		return
	}

	if err := e.deps.Schedules.MarkRun(ctx, sched.ID, now.Time); err != nil {
		logger.Error().Err(err).Msg("failed to stamp last run")
		report.fail(sched.ID, err)
		return
	}

	logger.Info().Str("time", sched.Time).Int("playback_count", sched.Cycles()).Msg("firing schedule")
	result, err := e.deps.Executor.Execute(ctx, activity.TriggerScheduled, sched.ID)
	switch {
	case errors.Is(err, device.ErrDeviceBusy):
		logger.Warn().Msg("device claimed by another trigger after stamping, firing dropped")
		report.Skipped = append(report.Skipped, Skip{ScheduleID: sched.ID, Reason: SkipDeviceBusy})
	case errors.Is(err, device.ErrDeviceOffline):
		logger.Warn().Msg("device went offline after stamping, firing dropped")
		report.Skipped = append(report.Skipped, Skip{ScheduleID: sched.ID, Reason: SkipDeviceOffline})
	case err != nil:
		logger.Error().Err(err).Msg("scheduled playback failed")
		report.fail(sched.ID, err)
	case result.Skipped:
		report.Skipped = append(report.Skipped, Skip{ScheduleID: sched.ID, Reason: SkipLibraryEmpty})
	default:
		report.Fired = append(report.Fired, sched.ID)
	}
}
