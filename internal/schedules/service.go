package schedules

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Mirror receives local writes so other viewers of the unit see them.
type Mirror interface {
	PutSchedule(ctx context.Context, s Schedule) error
	DeleteSchedule(ctx context.Context, id string) error
}

// Service combines the local cache with a best-effort remote mirror.
type Service struct {
	repo   *Repository
	mirror Mirror
	logger zerolog.Logger
}

// NewService creates a schedule service. mirror may be nil for local-only operation.
func NewService(repo *Repository, mirror Mirror, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		mirror: mirror,
		logger: logger.With().Str("component", "schedules").Logger(),
	}
}

// Repository exposes the local store (used by reconciliation, which must not echo writes back).
func (s *Service) Repository() *Repository { return s.repo }

// List returns every schedule in store order.
func (s *Service) List(ctx context.Context) ([]Schedule, error) {
	return s.repo.List(ctx)
}

// Get returns one schedule or ErrNotFound.
func (s *Service) Get(ctx context.Context, id string) (*Schedule, error) {
	return s.repo.Get(ctx, id)
}

// ApplyDefaults fills the editor defaults for a new schedule.
func ApplyDefaults(sched *Schedule) {
	if sched.ID == "" {
		sched.ID = uuid.NewString()
	}
	if sched.Type == "" {
		sched.Type = TypeFixed
	}
	if sched.Days == nil {
		sched.Days = []int{1, 2, 3, 4, 5}
	}
	if sched.SoundIDs.IsZero() {
		sched.SoundIDs = Random()
	}
	if sched.PlaybackCount == 0 {
		sched.PlaybackCount = 1
	}
}

// Save validates and persists a schedule locally, then mirrors it.
func (s *Service) Save(ctx context.Context, sched Schedule) (*Schedule, error) {
	ApplyDefaults(&sched)
	if err := Validate(sched); err != nil {
		return nil, err
	}
	if err := s.repo.Upsert(ctx, sched); err != nil {
		return nil, err
	}
	saved, err := s.repo.Get(ctx, sched.ID)
	if err != nil {
		return nil, err
	}
	s.mirrorPut(ctx, *saved)
	return saved, nil
}

// SetActive toggles a schedule on or off.
func (s *Service) SetActive(ctx context.Context, id string, active bool) (*Schedule, error) {
	sched, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	sched.IsActive = active
	if err := s.repo.Upsert(ctx, *sched); err != nil {
		return nil, err
	}
	s.mirrorPut(ctx, *sched)
	return sched, nil
}

// Delete removes a schedule locally and remotely.
func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	if s.mirror != nil {
		if err := s.mirror.DeleteSchedule(ctx, id); err != nil {
			s.logger.Warn().Err(err).Str("schedule_id", id).Msg("remote delete failed, keeping local change")
		}
	}
	return nil
}

// MarkRun stamps last_run_timestamp locally and remotely.
func (s *Service) MarkRun(ctx context.Context, id string, at time.Time) error {
	if err := s.repo.UpdateLastRun(ctx, id, at.UnixMilli()); err != nil {
		return err
	}
	if s.mirror == nil {
		return nil
	}
	sched, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	s.mirrorPut(ctx, *sched)
	return nil
}

func (s *Service) mirrorPut(ctx context.Context, sched Schedule) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.PutSchedule(ctx, sched); err != nil {
		s.logger.Warn().Err(err).Str("schedule_id", sched.ID).Msg("remote write failed, keeping local change")
	}
}
