package arm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/strefethen/agrisound-hub-go/internal/db"
	"github.com/strefethen/agrisound-hub-go/internal/remote"
)

// DBPair interface for dependency injection (matches db.DBPair).
type DBPair interface {
	Reader() *sql.DB
	Writer() *sql.DB
}

// Repository caches the last known flags locally so a restart without the
// shared store keeps the unit's arm state.
type Repository struct {
	reader *sql.DB
	writer *sql.DB
}

// NewRepository creates a new arm Repository.
func NewRepository(dbPair DBPair) *Repository {
	return &Repository{reader: dbPair.Reader(), writer: dbPair.Writer()}
}

// Load returns the cached flags; both off when never saved.
func (r *Repository) Load(ctx context.Context) (remote.Flags, error) {
	var mainSwitch, devicePower int
	err := r.reader.QueryRowContext(ctx,
		`SELECT main_switch, device_power FROM arm_flags WHERE id = 'main'`,
	).Scan(&mainSwitch, &devicePower)
	if errors.Is(err, sql.ErrNoRows) {
		return remote.Flags{}, nil
	}
	if err != nil {
		return remote.Flags{}, fmt.Errorf("load arm flags: %w", err)
	}
	return remote.Flags{MainSwitch: mainSwitch == 1, DevicePower: devicePower == 1}, nil
}

// Save stores flags.
func (r *Repository) Save(ctx context.Context, flags remote.Flags) error {
	_, err := r.writer.ExecContext(ctx, `
		INSERT INTO arm_flags (id, main_switch, device_power, updated_at)
		VALUES ('main', ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			main_switch = excluded.main_switch,
			device_power = excluded.device_power,
			updated_at = excluded.updated_at
	`, boolToInt(flags.MainSwitch), boolToInt(flags.DevicePower), db.NowISO())
	if err != nil {
		return fmt.Errorf("save arm flags: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
