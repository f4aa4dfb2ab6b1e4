package device

import (
	"errors"
	"fmt"
	"time"
)

// Status is the unit's lifecycle state.
type Status string

const (
	StatusSleeping Status = "SLEEPING"
	StatusWaking   Status = "WAKING"
	StatusActive   Status = "ACTIVE"
	StatusOffline  Status = "OFFLINE"
)

// Default telemetry for a freshly initialised unit.
const (
	DefaultBatteryLevel    = 84
	DefaultLastSoundPlayed = "None"
)

var (
	// ErrDeviceBusy is returned when a trigger arrives while WAKING or ACTIVE.
	ErrDeviceBusy = errors.New("device is busy")
	// ErrDeviceOffline is returned when a trigger arrives while OFFLINE.
	ErrDeviceOffline = errors.New("device is offline")
	// ErrInvalidTransition is returned for any edge outside the state machine.
	ErrInvalidTransition = errors.New("invalid device transition")
)

// State is the singleton device record.
type State struct {
	Status          Status    `json:"status"`
	BatteryLevel    int       `json:"battery_level"`
	LastWakeTime    int64     `json:"last_wake_time"`
	LastSoundPlayed string    `json:"last_sound_played"`
	LastSyncTime    int64     `json:"last_sync_time"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// DefaultState is the record used when none has been stored yet.
func DefaultState() State {
	return State{
		Status:          StatusSleeping,
		BatteryLevel:    DefaultBatteryLevel,
		LastSoundPlayed: DefaultLastSoundPlayed,
	}
}

// Busy reports whether a playback sequence currently owns the unit.
func (s State) Busy() bool {
	return s.Status == StatusWaking || s.Status == StatusActive
}

// Patch is a partial update; nil fields keep their stored value.
type Patch struct {
	Status          *Status `json:"status,omitempty"`
	BatteryLevel    *int    `json:"battery_level,omitempty"`
	LastWakeTime    *int64  `json:"last_wake_time,omitempty"`
	LastSoundPlayed *string `json:"last_sound_played,omitempty"`
	LastSyncTime    *int64  `json:"last_sync_time,omitempty"`
}

// Apply merges p onto s.
func (p Patch) Apply(s State) State {
	if p.Status != nil {
		s.Status = *p.Status
	}
	if p.BatteryLevel != nil {
		s.BatteryLevel = *p.BatteryLevel
	}
	if p.LastWakeTime != nil {
		s.LastWakeTime = *p.LastWakeTime
	}
	if p.LastSoundPlayed != nil {
		s.LastSoundPlayed = *p.LastSoundPlayed
	}
	if p.LastSyncTime != nil {
		s.LastSyncTime = *p.LastSyncTime
	}
	return s
}

// Ptr returns a pointer to v, for building patches.
func Ptr[T any](v T) *T { return &v }

var transitions = map[Status][]Status{
	StatusSleeping: {StatusWaking, StatusOffline},
	StatusWaking:   {StatusActive},
	StatusActive:   {StatusSleeping},
	StatusOffline:  {StatusSleeping},
}

// CanTransition reports whether from → to is a legal edge.
// Playback drives SLEEPING → WAKING → ACTIVE → SLEEPING; connectivity toggles SLEEPING ↔ OFFLINE.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func transitionError(from, to Status) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
