// Package playback runs one wake → play N cycles → sleep sequence on the unit.
package playback

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/strefethen/agrisound-hub-go/internal/activity"
	"github.com/strefethen/agrisound-hub-go/internal/device"
	"github.com/strefethen/agrisound-hub-go/internal/schedules"
	"github.com/strefethen/agrisound-hub-go/internal/sounds"
)

// Default timings.
const (
	DefaultWakeDelay  = 1500 * time.Millisecond
	DefaultCyclePause = 2000 * time.Millisecond
)

// ErrLibraryEmpty is returned by Start when there is nothing to play.
var ErrLibraryEmpty = errors.New("sound library is empty")

// Library lists every playable clip.
type Library interface {
	List(ctx context.Context) ([]sounds.SoundFile, error)
}

// ScheduleSource resolves the schedule that triggered a run.
type ScheduleSource interface {
	Get(ctx context.Context, id string) (*schedules.Schedule, error)
}

// Device is the state machine the executor drives.
type Device interface {
	Wake(ctx context.Context) (device.State, error)
	Activate(ctx context.Context) (device.State, error)
	RecordSound(ctx context.Context, name string, at time.Time) (device.State, error)
	Sleep(ctx context.Context, at time.Time) (device.State, error)
	// Abort forces a failed sequence from WAKING or ACTIVE back to SLEEPING.
	Abort(ctx context.Context, at time.Time) (device.State, error)
}

// History receives one entry per attempted cycle.
type History interface {
	Append(ctx context.Context, input activity.AppendInput) (*activity.PlaybackLog, error)
}

// Player emits one clip. It calls onStart once audio has begun and returns
// when the clip has finished. onStart must be called from Play's own goroutine.
// An error returned before onStart is a start failure.
type Player interface {
	Play(ctx context.Context, sound sounds.SoundFile, onStart func()) error
}

// Options tunes an Executor. Zero values use the defaults.
type Options struct {
	WakeDelay  time.Duration
	CyclePause time.Duration
	// IntN returns a uniform value in [0, n).
	IntN func(n int) int
	// Sleep waits for d or until ctx is done.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

// Result describes one Execute call.
type Result struct {
	Skipped  bool     `json:"skipped"`
	Cycles   int      `json:"cycles"`
	Played   []string `json:"played"`
	Failures int      `json:"failures"`
}

type plan struct {
	trigger    activity.TriggerType
	scheduleID string
	cycles     int
	pool       []sounds.SoundFile
}

// Executor runs playback sequences.
type Executor struct {
	library   Library
	schedules ScheduleSource
	device    Device
	history   History
	player    Player
	logger    zerolog.Logger

	wakeDelay  time.Duration
	cyclePause time.Duration
	intN       func(n int) int
	sleep      func(ctx context.Context, d time.Duration) error
	now        func() time.Time

	wg sync.WaitGroup
}

// NewExecutor creates an executor.
func NewExecutor(library Library, scheduleSource ScheduleSource, dev Device, history History, player Player, opts Options, logger zerolog.Logger) *Executor {
	e := &Executor{
		library:    library,
		schedules:  scheduleSource,
		device:     dev,
		history:    history,
		player:     player,
		logger:     logger.With().Str("component", "playback").Logger(),
		wakeDelay:  opts.WakeDelay,
		cyclePause: opts.CyclePause,
		intN:       opts.IntN,
		sleep:      opts.Sleep,
		now:        opts.Now,
	}
	if e.wakeDelay <= 0 {
		e.wakeDelay = DefaultWakeDelay
	}
	if e.cyclePause <= 0 {
		e.cyclePause = DefaultCyclePause
	}
	if e.intN == nil {
		e.intN = rand.IntN
	}
	if e.sleep == nil {
		e.sleep = SleepContext
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// Execute runs a full sequence and returns when the unit is back to SLEEPING.
// An empty library is a no-op. Audio failures never surface as errors; a busy
// or offline unit does (device.ErrDeviceBusy, device.ErrDeviceOffline).
func (e *Executor) Execute(ctx context.Context, trigger activity.TriggerType, scheduleID string) (Result, error) {
	p, err := e.prepare(ctx, trigger, scheduleID)
	if errors.Is(err, ErrLibraryEmpty) {
		return Result{Skipped: true}, nil
	}
	if err != nil {
		return Result{}, err
	}
	if _, err := e.device.Wake(ctx); err != nil {
		return Result{}, err
	}
	return e.run(ctx, p)
}

// Start accepts a trigger synchronously and runs the sequence in the background.
// It returns once the unit is WAKING, or with the reason the trigger was refused.
func (e *Executor) Start(ctx context.Context, trigger activity.TriggerType, scheduleID string) error {
	p, err := e.prepare(ctx, trigger, scheduleID)
	if err != nil {
		return err
	}
	if _, err := e.device.Wake(ctx); err != nil {
		return err
	}

	runCtx := context.WithoutCancel(ctx)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if _, err := e.run(runCtx, p); err != nil {
			e.logger.Error().Err(err).Str("trigger", string(trigger)).Msg("background playback failed")
		}
	}()
	return nil
}

// Wait blocks until every sequence started with Start has finished.
func (e *Executor) Wait() { e.wg.Wait() }

func (e *Executor) prepare(ctx context.Context, trigger activity.TriggerType, scheduleID string) (plan, error) {
	library, err := e.library.List(ctx)
	if err != nil {
		return plan{}, err
	}
	if len(library) == 0 {
		e.logger.Warn().Str("trigger", string(trigger)).Msg("no sounds in library, skipping playback")
		return plan{}, ErrLibraryEmpty
	}

	p := plan{trigger: trigger, scheduleID: scheduleID, cycles: 1, pool: library}
	if scheduleID == "" {
		return p, nil
	}

	sched, err := e.schedules.Get(ctx, scheduleID)
	if err != nil {
		e.logger.Warn().Err(err).Str("schedule_id", scheduleID).Msg("schedule not resolvable, playing one cycle from full library")
		return p, nil
	}
	p.cycles = sched.Cycles()
	if !sched.SoundIDs.IsRandom() {
		if filtered := sounds.FilterByIDs(library, sched.SoundIDs.IDs()); len(filtered) > 0 {
			p.pool = filtered
		} else {
			e.logger.Warn().Str("schedule_id", scheduleID).Msg("selected sounds not in library, using full library")
		}
	}
	return p, nil
}

// run continues a sequence from WAKING. Cancellation stops further cycles but
// still walks the state machine back to SLEEPING.
func (e *Executor) run(ctx context.Context, p plan) (result Result, err error) {
	result = Result{Cycles: p.cycles, Played: make([]string, 0, p.cycles)}
	logger := e.logger.With().Str("trigger", string(p.trigger)).Str("schedule_id", p.scheduleID).Logger()

	_ = e.sleep(ctx, e.wakeDelay)

	// Store writes during wind-down must outlive a cancelled caller.
	stateCtx := context.WithoutCancel(ctx)

	// A failed transition must not leave the unit WAKING or ACTIVE.
	defer func() {
		if err == nil {
			return
		}
		if _, abortErr := e.device.Abort(stateCtx, e.now()); abortErr != nil {
			logger.Error().Err(abortErr).Msg("failed to return device to sleep")
		}
	}()

	if _, err := e.device.Activate(stateCtx); err != nil {
		return result, err
	}

	for i := 0; i < p.cycles; i++ {
		if ctx.Err() != nil {
			logger.Info().Int("completed", i).Msg("playback cancelled")
			break
		}
		sound := p.pool[e.intN(len(p.pool))]
		result.Played = append(result.Played, sound.Name)

		if _, err := e.device.RecordSound(stateCtx, sound.Name, e.now()); err != nil {
			logger.Error().Err(err).Msg("failed to record sound")
		}

		started := false
		err := e.player.Play(ctx, sound, func() {
			started = true
			e.appendLog(stateCtx, p, sound.Name, activity.StatusSuccess)
		})
		if err != nil {
			logger.Warn().Err(err).Str("sound", sound.Name).Bool("started", started).Msg("playback failed")
			if !started {
				result.Failures++
				e.appendLog(stateCtx, p, sound.Name, activity.StatusFailed)
			}
		}

		if i < p.cycles-1 {
			_ = e.sleep(ctx, e.cyclePause)
		}
	}

	if _, err := e.device.Sleep(stateCtx, e.now()); err != nil {
		return result, err
	}
	logger.Info().Int("cycles", p.cycles).Strs("played", result.Played).Int("failures", result.Failures).Msg("playback sequence complete")
	return result, nil
}

func (e *Executor) appendLog(ctx context.Context, p plan, soundName string, status activity.Status) {
	_, err := e.history.Append(ctx, activity.AppendInput{
		At:          e.now(),
		SoundName:   soundName,
		TriggerType: p.trigger,
		Status:      status,
		ScheduleID:  p.scheduleID,
	})
	if err != nil {
		e.logger.Error().Err(err).Str("sound", soundName).Msg("failed to append playback log")
	}
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
