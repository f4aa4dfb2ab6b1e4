// Package seed loads and applies YAML manifests of sounds and schedules, so a
// unit can be provisioned before it first reaches the shared store.
package seed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/strefethen/agrisound-hub-go/internal/schedules"
	"github.com/strefethen/agrisound-hub-go/internal/sounds"
)

// ErrInvalidManifest wraps every parse and validation failure.
var ErrInvalidManifest = errors.New("invalid seed manifest")

// Manifest is the file format:
//
//	sounds:
//	  - id: hawk
//	    name: Hawk Screech
//	    url: https://cdn.example.com/hawk.mp3
//	    tag: predator
//	schedules:
//	  - name: Dawn
//	    time: "05:30"
//	    days: [1, 2, 3, 4, 5]
//	    sound_ids: [hawk]
//	    playback_count: 2
type Manifest struct {
	Sounds    []sounds.SoundFile `yaml:"sounds"`
	Schedules []ScheduleEntry    `yaml:"schedules"`
}

// ScheduleEntry is a schedule as written in a manifest. is_active defaults to true.
type ScheduleEntry schedules.Schedule

// UnmarshalYAML applies the manifest defaults before decoding.
func (e *ScheduleEntry) UnmarshalYAML(node *yaml.Node) error {
	type plain schedules.Schedule
	p := plain(schedules.Schedule{IsActive: true})
	if err := node.Decode(&p); err != nil {
		return err
	}
	*e = ScheduleEntry(p)
	return nil
}

// Schedule converts the entry back to the domain type.
func (e ScheduleEntry) Schedule() schedules.Schedule { return schedules.Schedule(e) }

// Parse decodes and validates a manifest.
func Parse(r io.Reader) (Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return Manifest{}, nil
		}
		return Manifest{}, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if err := m.Validate(); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// Load reads a manifest file.
func Load(path string) (Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("open seed manifest: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Validate checks ids are unique. Field-level rules are enforced by the services on apply.
func (m Manifest) Validate() error {
	seen := make(map[string]bool, len(m.Sounds))
	for i, s := range m.Sounds {
		if s.ID == "" {
			return fmt.Errorf("%w: sounds[%d] has no id", ErrInvalidManifest, i)
		}
		if seen[s.ID] {
			return fmt.Errorf("%w: duplicate sound id %q", ErrInvalidManifest, s.ID)
		}
		seen[s.ID] = true
	}
	scheduleIDs := make(map[string]bool, len(m.Schedules))
	for _, s := range m.Schedules {
		if s.ID == "" {
			continue
		}
		if scheduleIDs[s.ID] {
			return fmt.Errorf("%w: duplicate schedule id %q", ErrInvalidManifest, s.ID)
		}
		scheduleIDs[s.ID] = true
	}
	return nil
}

// Encode writes m as YAML.
func Encode(w io.Writer, m Manifest) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return err
	}
	return enc.Close()
}

// ==========================================================================
// Apply
// ==========================================================================

// SoundSaver persists sounds (sounds.Service).
type SoundSaver interface {
	List(ctx context.Context) ([]sounds.SoundFile, error)
	Save(ctx context.Context, sound sounds.SoundFile) (*sounds.SoundFile, error)
}

// ScheduleSaver persists schedules (schedules.Service).
type ScheduleSaver interface {
	List(ctx context.Context) ([]schedules.Schedule, error)
	Save(ctx context.Context, sched schedules.Schedule) (*schedules.Schedule, error)
}

// Report counts what Apply wrote.
type Report struct {
	Sounds    int      `json:"sounds"`
	Schedules int      `json:"schedules"`
	Warnings  []string `json:"warnings"`
}

// Apply saves every manifest record through the services, so each write is
// validated and mirrored like an editor change. Records are upserted by id.
func Apply(ctx context.Context, m Manifest, soundSvc SoundSaver, scheduleSvc ScheduleSaver, logger zerolog.Logger) (Report, error) {
	logger = logger.With().Str("component", "seed").Logger()
	report := Report{Warnings: []string{}}

	for _, s := range m.Sounds {
		if _, err := soundSvc.Save(ctx, s); err != nil {
			return report, fmt.Errorf("seed sound %s: %w", s.ID, err)
		}
		report.Sounds++
	}

	library, err := soundSvc.List(ctx)
	if err != nil {
		return report, fmt.Errorf("list sounds: %w", err)
	}
	known := make(map[string]bool, len(library))
	for _, s := range library {
		known[s.ID] = true
	}

	for _, entry := range m.Schedules {
		sched := entry.Schedule()
		if !sched.SoundIDs.IsRandom() {
			for _, id := range sched.SoundIDs.IDs() {
				if !known[id] {
					msg := fmt.Sprintf("schedule %q references unknown sound %q; it will draw from the full library", sched.Name, id)
					report.Warnings = append(report.Warnings, msg)
					logger.Warn().Str("schedule", sched.Name).Str("sound_id", id).Msg("schedule references unknown sound")
				}
			}
		}
		if _, err := scheduleSvc.Save(ctx, sched); err != nil {
			return report, fmt.Errorf("seed schedule %q: %w", sched.Name, err)
		}
		report.Schedules++
	}

	logger.Info().Int("sounds", report.Sounds).Int("schedules", report.Schedules).Msg("seed manifest applied")
	return report, nil
}

// Export builds a manifest from the current library and schedules.
func Export(ctx context.Context, soundSvc SoundSaver, scheduleSvc ScheduleSaver) (Manifest, error) {
	library, err := soundSvc.List(ctx)
	if err != nil {
		return Manifest{}, err
	}
	list, err := scheduleSvc.List(ctx)
	if err != nil {
		return Manifest{}, err
	}
	m := Manifest{Sounds: library, Schedules: make([]ScheduleEntry, 0, len(list))}
	for _, s := range list {
		m.Schedules = append(m.Schedules, ScheduleEntry(s))
	}
	return m, nil
}
