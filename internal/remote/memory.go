package remote

import (
	"context"
	"sync"

	"github.com/strefethen/agrisound-hub-go/internal/device"
	"github.com/strefethen/agrisound-hub-go/internal/schedules"
	"github.com/strefethen/agrisound-hub-go/internal/sounds"
)

// MemoryStore is an in-process Store, used when no shared store is configured.
type MemoryStore struct {
	mu          sync.Mutex
	flags       Flags
	schedules   []schedules.Schedule
	sounds      []sounds.SoundFile
	initialised map[Collection]bool
	device      *device.State
	watchers    map[chan FlagEvent]struct{}
	failWith    error
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		initialised: make(map[Collection]bool),
		watchers:    make(map[chan FlagEvent]struct{}),
	}
}

// SetUnavailable makes every call fail with err until cleared with nil.
func (m *MemoryStore) SetUnavailable(err error) {
	m.mu.Lock()
	m.failWith = err
	m.mu.Unlock()
}

// DeviceState returns the last mirrored device state.
func (m *MemoryStore) DeviceState() (device.State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.device == nil {
		return device.State{}, false
	}
	return *m.device, true
}

// Ping implements Store.
func (m *MemoryStore) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failWith
}

// GetFlags implements Store.
func (m *MemoryStore) GetFlags(context.Context) (Flags, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return Flags{}, m.failWith
	}
	return m.flags, nil
}

// SetFlag implements Store and notifies watchers.
func (m *MemoryStore) SetFlag(_ context.Context, flag Flag, value bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	switch flag {
	case FlagMainSwitch:
		m.flags.MainSwitch = value
	case FlagDevicePower:
		m.flags.DevicePower = value
	}
	for ch := range m.watchers {
		select {
		case ch <- FlagEvent{Flag: flag, Value: value}:
		default:
		}
	}
	return nil
}

// WatchFlags implements Store.
func (m *MemoryStore) WatchFlags(ctx context.Context) (<-chan FlagEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	ch := make(chan FlagEvent, 16)
	m.watchers[ch] = struct{}{}
	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.watchers, ch)
		close(ch)
		m.mu.Unlock()
	}()
	return ch, nil
}

// ListSchedules implements Store.
func (m *MemoryStore) ListSchedules(context.Context) ([]schedules.Schedule, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, false, m.failWith
	}
	out := make([]schedules.Schedule, len(m.schedules))
	copy(out, m.schedules)
	return out, m.initialised[CollectionSchedules], nil
}

// PutSchedule implements Store.
func (m *MemoryStore) PutSchedule(_ context.Context, s schedules.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	m.initialised[CollectionSchedules] = true
	for i := range m.schedules {
		if m.schedules[i].ID == s.ID {
			m.schedules[i] = s
			return nil
		}
	}
	m.schedules = append(m.schedules, s)
	return nil
}

// DeleteSchedule implements Store.
func (m *MemoryStore) DeleteSchedule(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	for i := range m.schedules {
		if m.schedules[i].ID == id {
			m.schedules = append(m.schedules[:i], m.schedules[i+1:]...)
			return nil
		}
	}
	return nil
}

// ListSounds implements Store.
func (m *MemoryStore) ListSounds(context.Context) ([]sounds.SoundFile, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, false, m.failWith
	}
	out := make([]sounds.SoundFile, len(m.sounds))
	copy(out, m.sounds)
	return out, m.initialised[CollectionSounds], nil
}

// PutSound implements Store.
func (m *MemoryStore) PutSound(_ context.Context, s sounds.SoundFile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	m.initialised[CollectionSounds] = true
	for i := range m.sounds {
		if m.sounds[i].ID == s.ID {
			m.sounds[i] = s
			return nil
		}
	}
	m.sounds = append(m.sounds, s)
	return nil
}

// DeleteSound implements Store.
func (m *MemoryStore) DeleteSound(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	for i := range m.sounds {
		if m.sounds[i].ID == id {
			m.sounds = append(m.sounds[:i], m.sounds[i+1:]...)
			return nil
		}
	}
	return nil
}

// MarkInitialised implements Store.
func (m *MemoryStore) MarkInitialised(_ context.Context, c Collection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	m.initialised[c] = true
	return nil
}

// PutDeviceState implements Store.
func (m *MemoryStore) PutDeviceState(_ context.Context, s device.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	m.device = &s
	return nil
}
