package sounds

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

var (
	ErrNotFound = errors.New("sound not found")
	ErrInvalid  = errors.New("invalid sound")
)

// Tag is an informational category for a clip.
type Tag string

const (
	TagPredator   Tag = "predator"
	TagDistress   Tag = "distress"
	TagMechanical Tag = "mechanical"
	TagOther      Tag = "other"
)

// SoundFile is one playable clip in the library.
type SoundFile struct {
	ID              string    `json:"id" yaml:"id"`
	Name            string    `json:"name" yaml:"name"`
	FileName        string    `json:"file_name" yaml:"file_name"`
	URL             string    `json:"url" yaml:"url"`
	Tag             Tag       `json:"tag" yaml:"tag"`
	DurationSeconds float64   `json:"duration_seconds" yaml:"duration_seconds"`
	CreatedAt       time.Time `json:"created_at" yaml:"-"`
	UpdatedAt       time.Time `json:"updated_at" yaml:"-"`
}

// Duration returns the clip length, zero when unknown.
func (s SoundFile) Duration() time.Duration {
	if s.DurationSeconds <= 0 {
		return 0
	}
	return time.Duration(s.DurationSeconds * float64(time.Second))
}

// Validate checks the fields required to register a clip.
func Validate(s SoundFile) error {
	if s.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if s.URL == "" {
		return fmt.Errorf("%w: url is required", ErrInvalid)
	}
	if _, err := url.ParseRequestURI(s.URL); err != nil {
		return fmt.Errorf("%w: url: %v", ErrInvalid, err)
	}
	switch s.Tag {
	case TagPredator, TagDistress, TagMechanical, TagOther:
	default:
		return fmt.Errorf("%w: unknown tag %q", ErrInvalid, s.Tag)
	}
	if s.DurationSeconds < 0 {
		return fmt.Errorf("%w: duration_seconds must not be negative", ErrInvalid)
	}
	return nil
}

// FilterByIDs returns the library entries whose id is in ids, in library order.
func FilterByIDs(library []SoundFile, ids []string) []SoundFile {
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	out := make([]SoundFile, 0, len(ids))
	for _, s := range library {
		if _, ok := wanted[s.ID]; ok {
			out = append(out, s)
		}
	}
	return out
}
