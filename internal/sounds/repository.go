package sounds

import (
	"context"
	"database/sql"
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

// Repository is the local SQLite cache of the clip library.
type Repository struct {
	reader *sql.DB
	writer *sql.DB
}

// NewRepository creates a new sounds Repository.
func NewRepository(dbPair DBPair) *Repository {
	return &Repository{reader: dbPair.Reader(), writer: dbPair.Writer()}
}

const selectColumns = `
	SELECT sound_id, name, file_name, url, tag, duration_seconds, created_at, updated_at
	FROM sounds`

// List returns the whole library in insertion order.
func (r *Repository) List(ctx context.Context) ([]SoundFile, error) {
	rows, err := r.reader.QueryContext(ctx, selectColumns+` ORDER BY rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("list sounds: %w", err)
	}
	defer rows.Close()

	result := []SoundFile{}
	for rows.Next() {
		s, err := scanSound(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	return result, rows.Err()
}

// Get returns one clip or ErrNotFound.
func (r *Repository) Get(ctx context.Context, id string) (*SoundFile, error) {
	s, err := scanSound(r.reader.QueryRowContext(ctx, selectColumns+` WHERE sound_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

// Upsert inserts or replaces a clip.
func (r *Repository) Upsert(ctx context.Context, s SoundFile) error {
	now := db.NowISO()
	createdAt := now
	if !s.CreatedAt.IsZero() {
		createdAt = s.CreatedAt.UTC().Format(time.RFC3339)
	}
	_, err := r.writer.ExecContext(ctx, `
		INSERT INTO sounds (sound_id, name, file_name, url, tag, duration_seconds, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(sound_id) DO UPDATE SET
			name = excluded.name,
			file_name = excluded.file_name,
			url = excluded.url,
			tag = excluded.tag,
			duration_seconds = excluded.duration_seconds,
			updated_at = excluded.updated_at
	`, s.ID, s.Name, s.FileName, s.URL, string(s.Tag), s.DurationSeconds, createdAt, now)
	if err != nil {
		return fmt.Errorf("upsert sound %s: %w", s.ID, err)
	}
	return nil
}

// Delete removes a clip. Unknown ids are ignored.
func (r *Repository) Delete(ctx context.Context, id string) error {
	if _, err := r.writer.ExecContext(ctx, `DELETE FROM sounds WHERE sound_id = ?`, id); err != nil {
		return fmt.Errorf("delete sound %s: %w", id, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSound(row scanner) (*SoundFile, error) {
	var s SoundFile
	var tag, createdAt, updatedAt string
	if err := row.Scan(&s.ID, &s.Name, &s.FileName, &s.URL, &tag, &s.DurationSeconds, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	s.Tag = Tag(tag)
	s.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	s.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &s, nil
}
