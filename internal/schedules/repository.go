package schedules

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/strefethen/agrisound-hub-go/internal/db"
)

// DBPair interface for dependency injection (matches db.DBPair).
type DBPair interface {
	Reader() *sql.DB
	Writer() *sql.DB
}

// Repository handles the local SQLite cache of schedules.
// Uses separate reader/writer connections for optimal SQLite concurrency.
type Repository struct {
	reader *sql.DB
	writer *sql.DB
}

// NewRepository creates a new schedules Repository.
func NewRepository(dbPair DBPair) *Repository {
	return &Repository{reader: dbPair.Reader(), writer: dbPair.Writer()}
}

const selectColumns = `
	SELECT schedule_id, name, schedule_type, time, interval_minutes, days, sound_ids,
	       playback_count, is_active, last_run_ms, created_at, updated_at
	FROM schedules`

// List returns every schedule in insertion order.
func (r *Repository) List(ctx context.Context) ([]Schedule, error) {
	rows, err := r.reader.QueryContext(ctx, selectColumns+` ORDER BY rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	result := []Schedule{}
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Get returns one schedule or ErrNotFound.
func (r *Repository) Get(ctx context.Context, id string) (*Schedule, error) {
	row := r.reader.QueryRowContext(ctx, selectColumns+` WHERE schedule_id = ?`, id)
	s, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

// Upsert inserts or replaces a schedule, keeping its original insertion slot.
// last_run_ms never moves backwards, so a stale copy cannot undo a firing.
func (r *Repository) Upsert(ctx context.Context, s Schedule) error {
	days := s.Days
	if days == nil {
		days = []int{}
	}
	daysJSON, err := json.Marshal(days)
	if err != nil {
		return err
	}
	soundsJSON, err := json.Marshal(s.SoundIDs)
	if err != nil {
		return err
	}

	now := db.NowISO()
	createdAt := now
	if !s.CreatedAt.IsZero() {
		createdAt = s.CreatedAt.UTC().Format(time.RFC3339)
	}

	_, err = r.writer.ExecContext(ctx, `
		INSERT INTO schedules (schedule_id, name, schedule_type, time, interval_minutes, days, sound_ids,
		                       playback_count, is_active, last_run_ms, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(schedule_id) DO UPDATE SET
			name = excluded.name,
			schedule_type = excluded.schedule_type,
			time = excluded.time,
			interval_minutes = excluded.interval_minutes,
			days = excluded.days,
			sound_ids = excluded.sound_ids,
			playback_count = excluded.playback_count,
			is_active = excluded.is_active,
			last_run_ms = MAX(schedules.last_run_ms, excluded.last_run_ms),
			updated_at = excluded.updated_at
	`, s.ID, s.Name, string(s.Type), s.Time, s.IntervalMinutes, string(daysJSON), string(soundsJSON),
		s.PlaybackCount, boolToInt(s.IsActive), s.LastRunTimestamp, createdAt, now)
	if err != nil {
		return fmt.Errorf("upsert schedule %s: %w", s.ID, err)
	}
	return nil
}

// Delete removes a schedule. Deleting an unknown id is not an error.
func (r *Repository) Delete(ctx context.Context, id string) error {
	if _, err := r.writer.ExecContext(ctx, `DELETE FROM schedules WHERE schedule_id = ?`, id); err != nil {
		return fmt.Errorf("delete schedule %s: %w", id, err)
	}
	return nil
}

// UpdateLastRun stamps the de-duplication timestamp.
func (r *Repository) UpdateLastRun(ctx context.Context, id string, atMs int64) error {
	res, err := r.writer.ExecContext(ctx,
		`UPDATE schedules SET last_run_ms = ?, updated_at = ? WHERE schedule_id = ?`,
		atMs, db.NowISO(), id)
	if err != nil {
		return fmt.Errorf("update last run %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row scanner) (*Schedule, error) {
	var s Schedule
	var scheduleType, daysJSON, soundsJSON, createdAt, updatedAt string
	var intervalMinutes sql.NullInt64
	var isActive int

	err := row.Scan(&s.ID, &s.Name, &scheduleType, &s.Time, &intervalMinutes, &daysJSON, &soundsJSON,
		&s.PlaybackCount, &isActive, &s.LastRunTimestamp, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	s.Type = Type(scheduleType)
	s.IsActive = isActive == 1
	if intervalMinutes.Valid {
		v := int(intervalMinutes.Int64)
		s.IntervalMinutes = &v
	}
	if err := json.Unmarshal([]byte(daysJSON), &s.Days); err != nil {
		return nil, fmt.Errorf("decode days for %s: %w", s.ID, err)
	}
	if err := json.Unmarshal([]byte(soundsJSON), &s.SoundIDs); err != nil {
		return nil, fmt.Errorf("decode sound_ids for %s: %w", s.ID, err)
	}
	s.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	s.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &s, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
