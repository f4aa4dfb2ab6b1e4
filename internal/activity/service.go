package activity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Default configuration values
const (
	DefaultRetentionDays   = 90
	DefaultQueryLimit      = 50
	MaxQueryLimit          = 1000
	MaxConsecutiveFailures = 3
)

// Service manages the playback history.
type Service struct {
	repo          *Repository
	logger        zerolog.Logger
	retentionDays int
	now           func() time.Time

	listenersMu sync.RWMutex
	listeners   []func(PlaybackLog)

	healthMu            sync.RWMutex
	healthy             bool
	consecutiveFailures int
}

// NewService creates a new activity service. retentionDays <= 0 uses the default.
func NewService(repo *Repository, retentionDays int, logger zerolog.Logger) *Service {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &Service{
		repo:          repo,
		logger:        logger.With().Str("component", "activity").Logger(),
		retentionDays: retentionDays,
		now:           time.Now,
		healthy:       true,
	}
}

// OnAppend registers fn to receive every new entry.
func (s *Service) OnAppend(fn func(PlaybackLog)) {
	s.listenersMu.Lock()
	s.listeners = append(s.listeners, fn)
	s.listenersMu.Unlock()
}

// Append records a playback outcome.
func (s *Service) Append(ctx context.Context, input AppendInput) (*PlaybackLog, error) {
	if input.At.IsZero() {
		input.At = s.now()
	}
	entry, err := s.repo.Append(ctx, input)
	if err != nil {
		s.recordFailure()
		return nil, err
	}
	s.recordSuccess()

	s.logger.Debug().
		Str("sound", entry.SoundName).
		Str("trigger", string(entry.TriggerType)).
		Str("status", string(entry.Status)).
		Msg("playback logged")

	s.listenersMu.RLock()
	for _, fn := range s.listeners {
		fn(*entry)
	}
	s.listenersMu.RUnlock()
	return entry, nil
}

// List returns newest-first entries, clamping limit to MaxQueryLimit.
func (s *Service) List(ctx context.Context, limit int) ([]PlaybackLog, error) {
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		limit = MaxQueryLimit
	}
	logs, err := s.repo.List(ctx, limit)
	if err != nil {
		s.recordFailure()
		return nil, err
	}
	s.recordSuccess()
	return logs, nil
}

// All returns the whole history, newest first.
func (s *Service) All(ctx context.Context) ([]PlaybackLog, error) {
	return s.repo.List(ctx, 0)
}

// Count returns the number of stored entries.
func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}

// Prune deletes entries older than the retention window.
func (s *Service) Prune(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-time.Duration(s.retentionDays) * 24 * time.Hour)
	count, err := s.repo.Prune(ctx, cutoff)
	if err != nil {
		s.recordFailure()
		return 0, fmt.Errorf("failed to prune playback logs: %w", err)
	}
	s.recordSuccess()
	if count > 0 {
		s.logger.Info().Int64("count", count).Int("retention_days", s.retentionDays).Msg("pruned playback logs")
	}
	return count, nil
}

// IsHealthy returns current health status.
func (s *Service) IsHealthy() bool {
	s.healthMu.RLock()
	defer s.healthMu.RUnlock()
	return s.healthy
}

func (s *Service) recordSuccess() {
	s.healthMu.Lock()
	defer s.healthMu.Unlock()
	s.consecutiveFailures = 0
	s.healthy = true
}

func (s *Service) recordFailure() {
	s.healthMu.Lock()
	defer s.healthMu.Unlock()
	s.consecutiveFailures++
	if s.consecutiveFailures >= MaxConsecutiveFailures {
		s.healthy = false
	}
}
