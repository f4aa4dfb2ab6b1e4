package sounds

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Mirror receives local writes for the shared library.
type Mirror interface {
	PutSound(ctx context.Context, s SoundFile) error
	DeleteSound(ctx context.Context, id string) error
}

// Service combines the local library cache with a best-effort remote mirror.
type Service struct {
	repo   *Repository
	mirror Mirror
	logger zerolog.Logger
}

// NewService creates a sound service. mirror may be nil.
func NewService(repo *Repository, mirror Mirror, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		mirror: mirror,
		logger: logger.With().Str("component", "sounds").Logger(),
	}
}

// Repository exposes the local store for reconciliation.
func (s *Service) Repository() *Repository { return s.repo }

// List returns the whole library.
func (s *Service) List(ctx context.Context) ([]SoundFile, error) {
	return s.repo.List(ctx)
}

// Get returns one clip or ErrNotFound.
func (s *Service) Get(ctx context.Context, id string) (*SoundFile, error) {
	return s.repo.Get(ctx, id)
}

// Save validates and stores a clip, assigning an id when empty.
func (s *Service) Save(ctx context.Context, sound SoundFile) (*SoundFile, error) {
	if sound.ID == "" {
		sound.ID = uuid.NewString()
	}
	if sound.Tag == "" {
		sound.Tag = TagOther
	}
	if err := Validate(sound); err != nil {
		return nil, err
	}
	if err := s.repo.Upsert(ctx, sound); err != nil {
		return nil, err
	}
	saved, err := s.repo.Get(ctx, sound.ID)
	if err != nil {
		return nil, err
	}
	if s.mirror != nil {
		if err := s.mirror.PutSound(ctx, *saved); err != nil {
			s.logger.Warn().Err(err).Str("sound_id", saved.ID).Msg("remote write failed, keeping local change")
		}
	}
	return saved, nil
}

// Delete removes a clip locally and remotely.
func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	if s.mirror != nil {
		if err := s.mirror.DeleteSound(ctx, id); err != nil {
			s.logger.Warn().Err(err).Str("sound_id", id).Msg("remote delete failed, keeping local change")
		}
	}
	return nil
}
