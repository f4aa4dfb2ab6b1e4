package schedules

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/strefethen/agrisound-hub-go/internal/clock"
)

// RandomMarker is the sound selection that draws from the whole library.
const RandomMarker = "random"

var (
	// ErrNotFound is returned when a schedule id does not resolve.
	ErrNotFound = errors.New("schedule not found")
	// ErrInvalid wraps validation failures.
	ErrInvalid = errors.New("invalid schedule")
)

// Type is informational; only FIXED schedules are evaluated by the engine.
type Type string

const (
	TypeFixed         Type = "FIXED"
	TypeInterval      Type = "INTERVAL"
	TypeSunriseSunset Type = "SUNRISE_SUNSET"
)

// SoundSelection is either the "random" marker or an explicit list of sound ids.
type SoundSelection struct {
	random bool
	ids    []string
}

// Random returns the whole-library selection.
func Random() SoundSelection { return SoundSelection{random: true} }

// Only restricts the draw pool to ids.
func Only(ids ...string) SoundSelection {
	out := make([]string, len(ids))
	copy(out, ids)
	return SoundSelection{ids: out}
}

// IsZero reports an unset selection (neither the marker nor a list).
func (s SoundSelection) IsZero() bool { return !s.random && s.ids == nil }

// IsRandom reports whether the selection is the "random" marker.
func (s SoundSelection) IsRandom() bool { return s.random }

// IDs returns the explicit ids (nil for the random marker).
func (s SoundSelection) IDs() []string { return s.ids }

// MarshalJSON encodes the marker as "random" and lists as string arrays.
func (s SoundSelection) MarshalJSON() ([]byte, error) {
	if s.random {
		return json.Marshal(RandomMarker)
	}
	ids := s.ids
	if ids == nil {
		ids = []string{}
	}
	return json.Marshal(ids)
}

// UnmarshalJSON accepts "random", a string array, or null (treated as random).
func (s *SoundSelection) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = Random()
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var marker string
		if err := json.Unmarshal(data, &marker); err != nil {
			return err
		}
		if marker != RandomMarker {
			return fmt.Errorf("sound_ids: unknown marker %q", marker)
		}
		*s = Random()
		return nil
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return fmt.Errorf("sound_ids: %w", err)
	}
	*s = Only(ids...)
	return nil
}

// MarshalYAML mirrors the JSON shape for seed manifests.
func (s SoundSelection) MarshalYAML() (any, error) {
	if s.random {
		return RandomMarker, nil
	}
	return s.ids, nil
}

// UnmarshalYAML mirrors UnmarshalJSON for seed manifests.
func (s *SoundSelection) UnmarshalYAML(unmarshal func(any) error) error {
	var marker string
	if err := unmarshal(&marker); err == nil {
		if marker != RandomMarker {
			return fmt.Errorf("sound_ids: unknown marker %q", marker)
		}
		*s = Random()
		return nil
	}
	var ids []string
	if err := unmarshal(&ids); err != nil {
		return fmt.Errorf("sound_ids: %w", err)
	}
	*s = Only(ids...)
	return nil
}

// Schedule is a recurring trigger definition.
type Schedule struct {
	ID               string         `json:"id" yaml:"id"`
	Name             string         `json:"name" yaml:"name"`
	Type             Type           `json:"type" yaml:"type"`
	Time             string         `json:"time" yaml:"time"`
	IntervalMinutes  *int           `json:"interval_minutes,omitempty" yaml:"interval_minutes,omitempty"`
	Days             []int          `json:"days" yaml:"days"`
	SoundIDs         SoundSelection `json:"sound_ids" yaml:"sound_ids"`
	PlaybackCount    int            `json:"playback_count" yaml:"playback_count"`
	IsActive         bool           `json:"is_active" yaml:"is_active"`
	LastRunTimestamp int64          `json:"last_run_timestamp" yaml:"-"`
	CreatedAt        time.Time      `json:"created_at" yaml:"-"`
	UpdatedAt        time.Time      `json:"updated_at" yaml:"-"`
}

// Cycles returns the number of playback cycles, never less than one.
func (s Schedule) Cycles() int {
	if s.PlaybackCount < 1 {
		return 1
	}
	return s.PlaybackCount
}

// RunsOn reports whether weekday (0=Sunday) is one of the schedule's days.
func (s Schedule) RunsOn(weekday int) bool {
	for _, d := range s.Days {
		if d == weekday {
			return true
		}
	}
	return false
}

// MinuteOfDay parses Time. Malformed values never match.
func (s Schedule) MinuteOfDay() (int, bool) {
	m, err := clock.ParseHHMM(s.Time)
	if err != nil {
		return 0, false
	}
	return m, true
}

// Validate checks the fields required to save a schedule.
func Validate(s Schedule) error {
	if s.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if _, err := clock.ParseHHMM(s.Time); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	for _, d := range s.Days {
		if d < 0 || d > 6 {
			return fmt.Errorf("%w: day %d out of range 0..6", ErrInvalid, d)
		}
	}
	if s.PlaybackCount < 1 {
		return fmt.Errorf("%w: playback_count must be at least 1", ErrInvalid)
	}
	switch s.Type {
	case TypeFixed, TypeInterval, TypeSunriseSunset:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalid, s.Type)
	}
	return nil
}
