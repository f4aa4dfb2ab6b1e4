package system

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/rs/zerolog"

	"github.com/strefethen/agrisound-hub-go/internal/clock"
	"github.com/strefethen/agrisound-hub-go/internal/device"
	"github.com/strefethen/agrisound-hub-go/internal/remote"
	"github.com/strefethen/agrisound-hub-go/internal/scheduler"
	"github.com/strefethen/agrisound-hub-go/internal/schedules"
	"github.com/strefethen/agrisound-hub-go/internal/sounds"
)

// Version is the hub version, set at build time or defaulted.
var Version = "1.0.0"

// LowBatteryLevel is the percentage below which the unit needs attention.
const LowBatteryLevel = 20

// MaxUpcoming caps the dashboard's upcoming list.
const MaxUpcoming = 5

// Attention item types.
const (
	AttentionDeviceOffline     = "device_offline"
	AttentionLowBattery        = "low_battery"
	AttentionRemoteUnreachable = "remote_unreachable"
	AttentionLibraryEmpty      = "library_empty"
	AttentionAudioLocked       = "audio_locked"
	AttentionLogStoreUnhealthy = "log_store_unhealthy"
	AttentionDisarmed          = "disarmed"
)

// DBPair interface for dependency injection (matches db.DBPair).
type DBPair interface {
	Reader() *sql.DB
	Writer() *sql.DB
}

// SchedulerStatusProvider provides scheduler running status.
type SchedulerStatusProvider interface {
	IsRunning() bool
	NextTick() time.Time
}

// Read-only views the service aggregates.
type (
	RemotePinger   interface{ Ping(ctx context.Context) error }
	DeviceReader   interface{ Get(ctx context.Context) (device.State, error) }
	FlagReader     interface{ Snapshot() remote.Flags }
	Gate           interface{ Unlocked() bool }
	ScheduleLister interface {
		List(ctx context.Context) ([]schedules.Schedule, error)
	}
	SoundLister interface {
		List(ctx context.Context) ([]sounds.SoundFile, error)
	}
	LogStats interface {
		Count(ctx context.Context) (int, error)
		IsHealthy() bool
	}
)

// Deps bundles the service's collaborators. A nil Remote means local-only.
type Deps struct {
	DB        DBPair
	Remote    RemotePinger
	Device    DeviceReader
	Flags     FlagReader
	Gate      Gate
	Schedules ScheduleLister
	Sounds    SoundLister
	Logs      LogStats
	Scheduler SchedulerStatusProvider
	Viewers   func() int
	Clock     clock.Provider
}

// Service provides system information and dashboard data.
// Uses reader connection only as this service only performs SELECT queries.
type Service struct {
	deps      Deps
	reader    *sql.DB
	logger    zerolog.Logger
	startTime time.Time
}

// NewService creates a new system service.
func NewService(deps Deps, logger zerolog.Logger) *Service {
	return &Service{
		deps:      deps,
		reader:    deps.DB.Reader(),
		logger:    logger.With().Str("component", "system").Logger(),
		startTime: time.Now(),
	}
}

// SystemInfo holds system information.
type SystemInfo struct {
	HubVersion       string       `json:"hub_version"`
	Uptime           int64        `json:"uptime_seconds"`
	MemoryUsageMB    float64      `json:"memory_mb"`
	SQLiteConnected  bool         `json:"sqlite_connected"`
	RemoteEnabled    bool         `json:"remote_enabled"`
	RemoteConnected  bool         `json:"remote_connected"`
	Device           device.State `json:"device"`
	Flags            remote.Flags `json:"flags"`
	AudioUnlocked    bool         `json:"audio_unlocked"`
	SchedulerRunning bool         `json:"scheduler_running"`
	NextTickAt       *time.Time   `json:"next_tick_at,omitempty"`
	SchedulesTotal   int          `json:"schedules_total"`
	SchedulesActive  int          `json:"schedules_active"`
	SoundsTotal      int          `json:"sounds_total"`
	LogsTotal        int          `json:"logs_total"`
	LogStoreHealthy  bool         `json:"log_store_healthy"`
	LiveViewers      int          `json:"live_viewers"`
}

// AttentionItem represents an item that needs user attention.
type AttentionItem struct {
	Type        string         `json:"type"`
	Severity    string         `json:"severity"`
	Message     string         `json:"message"`
	Details     map[string]any `json:"details,omitempty"`
	ResolveHint string         `json:"resolve_hint,omitempty"`
}

// DashboardData holds data for the dashboard view.
type DashboardData struct {
	Now            clock.Reading      `json:"now"`
	Device         device.State       `json:"device"`
	Flags          remote.Flags       `json:"flags"`
	NextFiring     *scheduler.Firing  `json:"next_firing,omitempty"`
	Upcoming       []scheduler.Firing `json:"upcoming"`
	AttentionItems []AttentionItem    `json:"attention_items"`
}

// GetSystemInfo returns current system information. Individual probe failures
// are reported as disconnected or zero rather than failing the request.
func (s *Service) GetSystemInfo(ctx context.Context) (*SystemInfo, error) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	info := &SystemInfo{
		HubVersion:      Version,
		Uptime:          int64(time.Since(s.startTime).Seconds()),
		MemoryUsageMB:   float64(memStats.Alloc) / 1024 / 1024,
		SQLiteConnected: s.reader.PingContext(ctx) == nil,
		RemoteEnabled:   s.deps.Remote != nil,
		Flags:           s.deps.Flags.Snapshot(),
		AudioUnlocked:   s.deps.Gate.Unlocked(),
		LogStoreHealthy: s.deps.Logs.IsHealthy(),
	}
	if s.deps.Remote != nil {
		info.RemoteConnected = s.deps.Remote.Ping(ctx) == nil
	}

	state, err := s.deps.Device.Get(ctx)
	if err != nil {
		return nil, err
	}
	info.Device = state

	if s.deps.Scheduler != nil {
		info.SchedulerRunning = s.deps.Scheduler.IsRunning()
		if next := s.deps.Scheduler.NextTick(); !next.IsZero() {
			info.NextTickAt = &next
		}
	}

	if list, err := s.deps.Schedules.List(ctx); err == nil {
		info.SchedulesTotal = len(list)
		for _, sched := range list {
			if sched.IsActive {
				info.SchedulesActive++
			}
		}
	} else {
		s.logger.Warn().Err(err).Msg("failed to count schedules")
	}
	if library, err := s.deps.Sounds.List(ctx); err == nil {
		info.SoundsTotal = len(library)
	} else {
		s.logger.Warn().Err(err).Msg("failed to count sounds")
	}
	if n, err := s.deps.Logs.Count(ctx); err == nil {
		info.LogsTotal = n
	} else {
		s.logger.Warn().Err(err).Msg("failed to count playback logs")
	}
	if s.deps.Viewers != nil {
		info.LiveViewers = s.deps.Viewers()
	}
	return info, nil
}

// GetDashboardData returns the next firings and anything needing attention.
func (s *Service) GetDashboardData(ctx context.Context) (*DashboardData, error) {
	state, err := s.deps.Device.Get(ctx)
	if err != nil {
		return nil, err
	}
	list, err := s.deps.Schedules.List(ctx)
	if err != nil {
		return nil, err
	}
	library, err := s.deps.Sounds.List(ctx)
	if err != nil {
		return nil, err
	}

	now := s.deps.Clock.Now()
	upcoming := scheduler.NextFiring(list, now)
	if len(upcoming) > MaxUpcoming {
		upcoming = upcoming[:MaxUpcoming]
	}

	data := &DashboardData{
		Now:      now,
		Device:   state,
		Flags:    s.deps.Flags.Snapshot(),
		Upcoming: upcoming,
	}
	if len(upcoming) > 0 {
		next := upcoming[0]
		data.NextFiring = &next
	}
	data.AttentionItems = s.checkAttentionItems(ctx, state, data.Flags, library, upcoming)
	return data, nil
}

func (s *Service) checkAttentionItems(ctx context.Context, state device.State, flags remote.Flags, library []sounds.SoundFile, upcoming []scheduler.Firing) []AttentionItem {
	items := []AttentionItem{}

	if state.Status == device.StatusOffline {
		items = append(items, AttentionItem{
			Type:        AttentionDeviceOffline,
			Severity:    "error",
			Message:     "Repeller unit is offline",
			ResolveHint: "Check the unit's power and network link",
		})
	}
	if state.BatteryLevel < LowBatteryLevel {
		items = append(items, AttentionItem{
			Type:        AttentionLowBattery,
			Severity:    "warning",
			Message:     "Repeller battery is low",
			Details:     map[string]any{"battery_level": state.BatteryLevel},
			ResolveHint: "Charge or replace the unit's battery",
		})
	}
	if s.deps.Remote != nil && s.deps.Remote.Ping(ctx) != nil {
		items = append(items, AttentionItem{
			Type:        AttentionRemoteUnreachable,
			Severity:    "warning",
			Message:     "Shared store unreachable, running on local cache",
			ResolveHint: "Changes made elsewhere will sync once the connection returns",
		})
	}
	if len(library) == 0 {
		items = append(items, AttentionItem{
			Type:        AttentionLibraryEmpty,
			Severity:    "warning",
			Message:     "Sound library is empty, schedules will not play",
			ResolveHint: "Add at least one sound",
		})
	}
	if !s.deps.Gate.Unlocked() {
		items = append(items, AttentionItem{
			Type:        AttentionAudioLocked,
			Severity:    "info",
			Message:     "Audio output is locked, scheduled playback is paused",
			ResolveHint: "Unlock audio from the device screen",
		})
	}
	if !s.deps.Logs.IsHealthy() {
		items = append(items, AttentionItem{
			Type:     AttentionLogStoreUnhealthy,
			Severity: "warning",
			Message:  "Playback history is failing to write",
		})
	}
	if len(upcoming) > 0 && (!flags.MainSwitch || !flags.DevicePower) {
		items = append(items, AttentionItem{
			Type:     AttentionDisarmed,
			Severity: "info",
			Message:  "System is disarmed; it will arm itself a minute before the next schedule",
			Details:  map[string]any{"next_schedule_id": upcoming[0].ScheduleID},
		})
	}
	return items
}
