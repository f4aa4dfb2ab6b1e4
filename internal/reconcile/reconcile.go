// Package reconcile pulls the shared store down into the local cache.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/strefethen/agrisound-hub-go/internal/remote"
	"github.com/strefethen/agrisound-hub-go/internal/schedules"
	"github.com/strefethen/agrisound-hub-go/internal/sounds"
)

// FlagRefresher re-reads the arm flags from the shared store.
type FlagRefresher interface {
	Refresh(ctx context.Context) error
}

// CollectionReport counts what one pass did to a collection.
type CollectionReport struct {
	Upserted int  `json:"upserted"`
	Deleted  int  `json:"deleted"`
	Pushed   int  `json:"pushed"`
	Seeded   bool `json:"seeded"`
}

// Report summarises one reconciliation pass.
type Report struct {
	Skipped   bool             `json:"skipped"`
	Reason    string           `json:"reason,omitempty"`
	Schedules CollectionReport `json:"schedules"`
	Sounds    CollectionReport `json:"sounds"`
}

// Reconciler replaces the local cache with the shared store's contents.
//
// The shared store is authoritative when reachable. When it cannot be reached
// the local cache is left untouched. When a collection was never written
// remotely, the local collection is pushed up instead of being wiped.
type Reconciler struct {
	store     remote.Store
	schedules *schedules.Repository
	sounds    *sounds.Repository
	flags     FlagRefresher
	logger    zerolog.Logger

	mu sync.Mutex
}

// NewReconciler creates a reconciler. flags may be nil.
func NewReconciler(store remote.Store, schedulesRepo *schedules.Repository, soundsRepo *sounds.Repository, flags FlagRefresher, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		store:     store,
		schedules: schedulesRepo,
		sounds:    soundsRepo,
		flags:     flags,
		logger:    logger.With().Str("component", "reconcile").Logger(),
	}
}

// Run performs one pass. Passes never overlap.
func (r *Reconciler) Run(ctx context.Context) (Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.Ping(ctx); err != nil {
		r.logger.Warn().Err(err).Msg("shared store unreachable, keeping local cache")
		return Report{Skipped: true, Reason: err.Error()}, nil
	}

	var report Report
	var errs []error

	schedReport, err := r.reconcileSchedules(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("schedules: %w", err))
	}
	report.Schedules = schedReport

	soundReport, err := r.reconcileSounds(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("sounds: %w", err))
	}
	report.Sounds = soundReport

	if r.flags != nil {
		if err := r.flags.Refresh(ctx); err != nil {
			r.logger.Warn().Err(err).Msg("flag refresh failed")
		}
	}

	if err := errors.Join(errs...); err != nil {
		return report, err
	}
	r.logger.Debug().
		Int("schedules_upserted", report.Schedules.Upserted).
		Int("schedules_deleted", report.Schedules.Deleted).
		Int("sounds_upserted", report.Sounds.Upserted).
		Int("sounds_deleted", report.Sounds.Deleted).
		Msg("reconciled")
	return report, nil
}

func (r *Reconciler) reconcileSchedules(ctx context.Context) (CollectionReport, error) {
	var report CollectionReport

	remoteItems, initialised, err := r.store.ListSchedules(ctx)
	if err != nil {
		return report, err
	}
	localItems, err := r.schedules.List(ctx)
	if err != nil {
		return report, err
	}

	if !initialised {
		for _, s := range localItems {
			if err := r.store.PutSchedule(ctx, s); err != nil {
				return report, err
			}
			report.Pushed++
		}
		if err := r.store.MarkInitialised(ctx, remote.CollectionSchedules); err != nil {
			return report, err
		}
		report.Seeded = true
		r.logger.Info().Int("count", report.Pushed).Msg("seeded shared schedules from local cache")
		return report, nil
	}

	local := make(map[string]schedules.Schedule, len(localItems))
	for _, s := range localItems {
		local[s.ID] = s
	}
	seen := make(map[string]struct{}, len(remoteItems))
	for _, s := range remoteItems {
		seen[s.ID] = struct{}{}
		// A stamp that failed to mirror must not be rolled back, or the
		// schedule could fire twice in the same minute.
		if existing, ok := local[s.ID]; ok && existing.LastRunTimestamp > s.LastRunTimestamp {
			s.LastRunTimestamp = existing.LastRunTimestamp
		}
		if err := r.schedules.Upsert(ctx, s); err != nil {
			return report, err
		}
		report.Upserted++
	}
	for _, s := range localItems {
		if _, ok := seen[s.ID]; ok {
			continue
		}
		if err := r.schedules.Delete(ctx, s.ID); err != nil {
			return report, err
		}
		report.Deleted++
	}
	return report, nil
}

func (r *Reconciler) reconcileSounds(ctx context.Context) (CollectionReport, error) {
	var report CollectionReport

	remoteItems, initialised, err := r.store.ListSounds(ctx)
	if err != nil {
		return report, err
	}
	localItems, err := r.sounds.List(ctx)
	if err != nil {
		return report, err
	}

	if !initialised {
		for _, s := range localItems {
			if err := r.store.PutSound(ctx, s); err != nil {
				return report, err
			}
			report.Pushed++
		}
		if err := r.store.MarkInitialised(ctx, remote.CollectionSounds); err != nil {
			return report, err
		}
		report.Seeded = true
		r.logger.Info().Int("count", report.Pushed).Msg("seeded shared sound library from local cache")
		return report, nil
	}

	seen := make(map[string]struct{}, len(remoteItems))
	for _, s := range remoteItems {
		seen[s.ID] = struct{}{}
		if err := r.sounds.Upsert(ctx, s); err != nil {
			return report, err
		}
		report.Upserted++
	}
	for _, s := range localItems {
		if _, ok := seen[s.ID]; ok {
			continue
		}
		if err := r.sounds.Delete(ctx, s.ID); err != nil {
			return report, err
		}
		report.Deleted++
	}
	return report, nil
}
