// Package remote is the shared store other viewers of the unit read and write.
//
// Every local write is mirrored here best-effort; reconciliation pulls it back
// down. Flag changes are pushed to watchers so remote toggles take effect
// without waiting for the next tick.
package remote

import (
	"context"
	"errors"

	"github.com/strefethen/agrisound-hub-go/internal/device"
	"github.com/strefethen/agrisound-hub-go/internal/schedules"
	"github.com/strefethen/agrisound-hub-go/internal/sounds"
)

// ErrUnavailable marks a store that cannot be reached.
var ErrUnavailable = errors.New("remote store unavailable")

// Flag names the two arm switches.
type Flag string

const (
	FlagMainSwitch  Flag = "mainSwitch"
	FlagDevicePower Flag = "devicePower"
)

// Flags is a snapshot of both switches.
type Flags struct {
	MainSwitch  bool `json:"main_switch"`
	DevicePower bool `json:"device_power"`
}

// FlagEvent is one switch change observed on the store.
type FlagEvent struct {
	Flag   Flag   `json:"flag"`
	Value  bool   `json:"value"`
	Origin string `json:"origin,omitempty"`
}

// Collection names a mirrored record set.
type Collection string

const (
	CollectionSchedules Collection = "schedules"
	CollectionSounds    Collection = "sounds"
)

// Store is the shared remote state.
//
// List* report initialised=false when the collection has never been written,
// which is distinct from a collection that was emptied on purpose.
type Store interface {
	Ping(ctx context.Context) error

	GetFlags(ctx context.Context) (Flags, error)
	SetFlag(ctx context.Context, flag Flag, value bool) error
	// WatchFlags streams changes until ctx is done; the channel is then closed.
	WatchFlags(ctx context.Context) (<-chan FlagEvent, error)

	ListSchedules(ctx context.Context) (items []schedules.Schedule, initialised bool, err error)
	PutSchedule(ctx context.Context, s schedules.Schedule) error
	DeleteSchedule(ctx context.Context, id string) error

	ListSounds(ctx context.Context) (items []sounds.SoundFile, initialised bool, err error)
	PutSound(ctx context.Context, s sounds.SoundFile) error
	DeleteSound(ctx context.Context, id string) error

	MarkInitialised(ctx context.Context, c Collection) error

	PutDeviceState(ctx context.Context, s device.State) error
}
