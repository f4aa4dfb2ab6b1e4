package device

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Mirror publishes the device state to other viewers.
type Mirror interface {
	PutDeviceState(ctx context.Context, s State) error
}

// Service owns every write to the device state.
//
// All check-then-transition sequences run under one mutex, so a manual trigger
// and a scheduled firing can never both observe SLEEPING and both proceed.
type Service struct {
	repo   *Repository
	mirror Mirror
	logger zerolog.Logger

	mu        sync.Mutex
	listeners []func(State)
}

// NewService creates a device service. mirror may be nil.
func NewService(repo *Repository, mirror Mirror, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		mirror: mirror,
		logger: logger.With().Str("component", "device").Logger(),
	}
}

// OnChange registers fn to receive every committed state.
// fn runs with the state lock held; it must not block or call back into the Service.
func (s *Service) OnChange(fn func(State)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Get returns the current state.
func (s *Service) Get(ctx context.Context) (State, error) {
	return s.repo.Get(ctx)
}

// Wake accepts a trigger: SLEEPING → WAKING.
func (s *Service) Wake(ctx context.Context) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.repo.Get(ctx)
	if err != nil {
		return State{}, err
	}
	switch {
	case current.Status == StatusOffline:
		return current, ErrDeviceOffline
	case current.Busy():
		return current, ErrDeviceBusy
	}
	return s.commit(ctx, current, Patch{Status: Ptr(StatusWaking)})
}

// Activate ends the warm-up: WAKING → ACTIVE.
func (s *Service) Activate(ctx context.Context) (State, error) {
	return s.transition(ctx, StatusActive, Patch{})
}

// RecordSound stamps the clip about to play.
func (s *Service) RecordSound(ctx context.Context, name string, at time.Time) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.repo.Get(ctx)
	if err != nil {
		return State{}, err
	}
	return s.commit(ctx, current, Patch{
		LastSoundPlayed: Ptr(name),
		LastWakeTime:    Ptr(at.UnixMilli()),
	})
}

// Sleep completes a sequence: ACTIVE → SLEEPING and stamps last_sync_time.
func (s *Service) Sleep(ctx context.Context, at time.Time) (State, error) {
	return s.transition(ctx, StatusSleeping, Patch{LastSyncTime: Ptr(at.UnixMilli())})
}

// MarkOffline flags a lost link. A busy unit finishes its sequence first.
func (s *Service) MarkOffline(ctx context.Context) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.repo.Get(ctx)
	if err != nil {
		return State{}, err
	}
	if current.Status == StatusOffline {
		return current, nil
	}
	if !CanTransition(current.Status, StatusOffline) {
		return current, transitionError(current.Status, StatusOffline)
	}
	return s.commit(ctx, current, Patch{Status: Ptr(StatusOffline)})
}

// MarkOnline clears the offline indicator: OFFLINE → SLEEPING.
func (s *Service) MarkOnline(ctx context.Context) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.repo.Get(ctx)
	if err != nil {
		return State{}, err
	}
	if current.Status != StatusOffline {
		return current, nil
	}
	return s.commit(ctx, current, Patch{Status: Ptr(StatusSleeping)})
}

// UpdateTelemetry records informational fields reported by the unit.
func (s *Service) UpdateTelemetry(ctx context.Context, batteryLevel int) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.repo.Get(ctx)
	if err != nil {
		return State{}, err
	}
	if current.BatteryLevel == batteryLevel {
		return current, nil
	}
	return s.commit(ctx, current, Patch{BatteryLevel: Ptr(batteryLevel)})
}

// Recover resets a sequence interrupted by a restart back to SLEEPING.
// Nothing can resume a half-finished sequence, and a stuck WAKING/ACTIVE row would reject every trigger.
func (s *Service) Recover(ctx context.Context, at time.Time) (State, error) {
	return s.forceSleep(ctx, at, "recovering interrupted playback sequence")
}

// Abort returns a sequence that failed mid-way from WAKING or ACTIVE to
// SLEEPING and stamps last_sync_time. Other states are left untouched.
func (s *Service) Abort(ctx context.Context, at time.Time) (State, error) {
	return s.forceSleep(ctx, at, "aborting failed playback sequence")
}

func (s *Service) forceSleep(ctx context.Context, at time.Time, msg string) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.repo.Get(ctx)
	if err != nil {
		return State{}, err
	}
	if !current.Busy() {
		return current, nil
	}
	s.logger.Warn().Str("status", string(current.Status)).Msg(msg)
	return s.commit(ctx, current, Patch{
		Status:       Ptr(StatusSleeping),
		LastSyncTime: Ptr(at.UnixMilli()),
	})
}

func (s *Service) transition(ctx context.Context, to Status, extra Patch) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.repo.Get(ctx)
	if err != nil {
		return State{}, err
	}
	if !CanTransition(current.Status, to) {
		return current, transitionError(current.Status, to)
	}
	extra.Status = Ptr(to)
	return s.commit(ctx, current, extra)
}

// commit persists patch locally, mirrors it, and notifies listeners. Caller holds mu.
func (s *Service) commit(ctx context.Context, current State, patch Patch) (State, error) {
	next := patch.Apply(current)
	next.UpdatedAt = time.Now().UTC().Truncate(time.Second)
	if err := s.repo.Replace(ctx, next); err != nil {
		return current, err
	}

	if patch.Status != nil && *patch.Status != current.Status {
		s.logger.Debug().
			Str("from", string(current.Status)).
			Str("to", string(next.Status)).
			Msg("device transition")
	}

	if s.mirror != nil {
		if err := s.mirror.PutDeviceState(ctx, next); err != nil {
			s.logger.Warn().Err(err).Msg("remote device state write failed, keeping local change")
		}
	}
	for _, fn := range s.listeners {
		fn(next)
	}
	return next, nil
}
