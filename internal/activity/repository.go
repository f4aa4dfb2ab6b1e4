package activity

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DBPair interface for dependency injection (matches db.DBPair).
type DBPair interface {
	Reader() *sql.DB
	Writer() *sql.DB
}

// Repository handles database operations for playback logs.
type Repository struct {
	reader *sql.DB
	writer *sql.DB
}

// NewRepository creates a new activity Repository.
func NewRepository(dbPair DBPair) *Repository {
	return &Repository{reader: dbPair.Reader(), writer: dbPair.Writer()}
}

// Append writes a new entry. Entries are never updated afterwards.
func (r *Repository) Append(ctx context.Context, input AppendInput) (*PlaybackLog, error) {
	entry := PlaybackLog{
		ID:          uuid.New().String(),
		Timestamp:   input.At.UnixMilli(),
		SoundName:   input.SoundName,
		TriggerType: input.TriggerType,
		Status:      input.Status,
	}
	if input.ScheduleID != "" {
		id := input.ScheduleID
		entry.ScheduleID = &id
	}

	_, err := r.writer.ExecContext(ctx, `
		INSERT INTO playback_logs (log_id, timestamp_ms, sound_name, trigger_type, status, schedule_id)
		VALUES (?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.Timestamp, entry.SoundName, string(entry.TriggerType), string(entry.Status), entry.ScheduleID)
	if err != nil {
		return nil, fmt.Errorf("append playback log: %w", err)
	}
	return &entry, nil
}

// List returns up to limit entries, newest first. limit <= 0 returns everything.
func (r *Repository) List(ctx context.Context, limit int) ([]PlaybackLog, error) {
	query := `
		SELECT log_id, timestamp_ms, sound_name, trigger_type, status, schedule_id
		FROM playback_logs
		ORDER BY timestamp_ms DESC, rowid DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list playback logs: %w", err)
	}
	defer rows.Close()

	logs := []PlaybackLog{}
	for rows.Next() {
		var entry PlaybackLog
		var trigger, status string
		var scheduleID sql.NullString
		if err := rows.Scan(&entry.ID, &entry.Timestamp, &entry.SoundName, &trigger, &status, &scheduleID); err != nil {
			return nil, err
		}
		entry.TriggerType = TriggerType(trigger)
		entry.Status = Status(status)
		if scheduleID.Valid {
			entry.ScheduleID = &scheduleID.String
		}
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

// Count returns the number of stored entries.
func (r *Repository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.reader.QueryRowContext(ctx, `SELECT COUNT(*) FROM playback_logs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count playback logs: %w", err)
	}
	return n, nil
}

// Prune deletes entries older than cutoff.
func (r *Repository) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.writer.ExecContext(ctx, `DELETE FROM playback_logs WHERE timestamp_ms < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune playback logs: %w", err)
	}
	return result.RowsAffected()
}
