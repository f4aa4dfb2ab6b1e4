package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/strefethen/agrisound-hub-go/internal/db"
)

const stateID = "main"

// DBPair interface for dependency injection (matches db.DBPair).
type DBPair interface {
	Reader() *sql.DB
	Writer() *sql.DB
}

// Repository stores the singleton device state row.
type Repository struct {
	reader *sql.DB
	writer *sql.DB
}

// NewRepository creates a new device Repository.
func NewRepository(dbPair DBPair) *Repository {
	return &Repository{reader: dbPair.Reader(), writer: dbPair.Writer()}
}

// Get returns the stored state, initialising the default row when absent.
func (r *Repository) Get(ctx context.Context) (State, error) {
	var s State
	var status, updatedAt string
	err := r.reader.QueryRowContext(ctx, `
		SELECT status, battery_level, last_wake_ms, last_sound_played, last_sync_ms, updated_at
		FROM device_state WHERE id = ?
	`, stateID).Scan(&status, &s.BatteryLevel, &s.LastWakeTime, &s.LastSoundPlayed, &s.LastSyncTime, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		def := DefaultState()
		if err := r.write(ctx, def); err != nil {
			return State{}, err
		}
		return def, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("get device state: %w", err)
	}
	s.Status = Status(status)
	s.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return s, nil
}

// Upsert merges patch onto the stored state and returns the result.
func (r *Repository) Upsert(ctx context.Context, patch Patch) (State, error) {
	current, err := r.Get(ctx)
	if err != nil {
		return State{}, err
	}
	next := patch.Apply(current)
	if err := r.write(ctx, next); err != nil {
		return State{}, err
	}
	next.UpdatedAt = time.Now().UTC().Truncate(time.Second)
	return next, nil
}

// Replace overwrites the stored state wholesale.
func (r *Repository) Replace(ctx context.Context, s State) error {
	return r.write(ctx, s)
}

func (r *Repository) write(ctx context.Context, s State) error {
	_, err := r.writer.ExecContext(ctx, `
		INSERT INTO device_state (id, status, battery_level, last_wake_ms, last_sound_played, last_sync_ms, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			battery_level = excluded.battery_level,
			last_wake_ms = excluded.last_wake_ms,
			last_sound_played = excluded.last_sound_played,
			last_sync_ms = excluded.last_sync_ms,
			updated_at = excluded.updated_at
	`, stateID, string(s.Status), s.BatteryLevel, s.LastWakeTime, s.LastSoundPlayed, s.LastSyncTime, db.NowISO())
	if err != nil {
		return fmt.Errorf("write device state: %w", err)
	}
	return nil
}
