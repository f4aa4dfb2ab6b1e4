// Package unit talks to the field hardware over MQTT.
//
// Topics live under agrisound/units/<unit id>/:
//
//	cmd/play        hub → unit   PlayCommand
//	event/playback  unit → hub   PlaybackEvent (started | ended | error)
//	arm             hub → unit   ArmState, retained
//	telemetry       unit → hub   Telemetry
//	status          unit → hub   "online" | "offline", retained (unit LWT)
package unit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/strefethen/agrisound-hub-go/internal/arm"
	"github.com/strefethen/agrisound-hub-go/internal/device"
	"github.com/strefethen/agrisound-hub-go/internal/remote"
	"github.com/strefethen/agrisound-hub-go/internal/sounds"
)

// Connectivity payloads on the status topic.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Playback event states.
const (
	EventStarted = "started"
	EventEnded   = "ended"
	EventError   = "error"
)

// Default timeouts.
const (
	DefaultStartTimeout = 5 * time.Second
	DefaultMaxPlayback  = 2 * time.Minute
)

var (
	// ErrStartTimeout means the unit never confirmed playback began.
	ErrStartTimeout = errors.New("unit did not start playback in time")
	// ErrPlaybackTimeout means the unit never reported the end of a clip.
	ErrPlaybackTimeout = errors.New("unit did not finish playback in time")
)

// PlayCommand asks the unit to emit one clip.
type PlayCommand struct {
	RequestID string `json:"request_id"`
	SoundID   string `json:"sound_id"`
	Name      string `json:"name"`
	URL       string `json:"url"`
}

// PlaybackEvent reports progress of a PlayCommand.
type PlaybackEvent struct {
	RequestID string `json:"request_id"`
	State     string `json:"state"`
	Error     string `json:"error,omitempty"`
}

// ArmState is the retained power/arm snapshot the unit follows.
type ArmState struct {
	MainSwitch  bool `json:"main_switch"`
	DevicePower bool `json:"device_power"`
}

// Telemetry is the periodic report from the unit.
type Telemetry struct {
	BatteryLevel *int `json:"battery_level"`
}

// DeviceReporter receives connectivity and telemetry from the unit.
type DeviceReporter interface {
	MarkOffline(ctx context.Context) (device.State, error)
	MarkOnline(ctx context.Context) (device.State, error)
	UpdateTelemetry(ctx context.Context, batteryLevel int) (device.State, error)
}

// BridgeOptions tunes a Bridge. Zero values use the defaults.
type BridgeOptions struct {
	StartTimeout time.Duration
	MaxPlayback  time.Duration
}

// Bridge is the hub side of the unit link. It implements playback.Player.
type Bridge struct {
	transport    Transport
	base         string
	device       DeviceReporter
	logger       zerolog.Logger
	startTimeout time.Duration
	maxPlayback  time.Duration

	mu      sync.Mutex
	pending map[string]chan PlaybackEvent
}

// NewBridge creates a bridge for unitID. Call Start before use.
func NewBridge(transport Transport, unitID string, dev DeviceReporter, opts BridgeOptions, logger zerolog.Logger) *Bridge {
	b := &Bridge{
		transport:    transport,
		base:         "agrisound/units/" + unitID,
		device:       dev,
		logger:       logger.With().Str("component", "unit").Str("unit_id", unitID).Logger(),
		startTimeout: opts.StartTimeout,
		maxPlayback:  opts.MaxPlayback,
		pending:      make(map[string]chan PlaybackEvent),
	}
	if b.startTimeout <= 0 {
		b.startTimeout = DefaultStartTimeout
	}
	if b.maxPlayback <= 0 {
		b.maxPlayback = DefaultMaxPlayback
	}
	return b
}

// Topic returns the full topic for a suffix under this unit.
func (b *Bridge) Topic(suffix string) string { return b.base + "/" + suffix }

// Start subscribes to the unit's outbound topics.
func (b *Bridge) Start() error {
	subs := []struct {
		suffix  string
		handler MessageHandler
	}{
		{"event/playback", b.handlePlaybackEvent},
		{"telemetry", b.handleTelemetry},
		{"status", b.handleStatus},
	}
	for _, s := range subs {
		if err := b.transport.Subscribe(b.Topic(s.suffix), 1, s.handler); err != nil {
			return err
		}
	}
	return nil
}

// Play implements playback.Player.
func (b *Bridge) Play(ctx context.Context, sound sounds.SoundFile, onStart func()) error {
	requestID := uuid.NewString()
	events := make(chan PlaybackEvent, 4)

	b.mu.Lock()
	b.pending[requestID] = events
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, requestID)
		b.mu.Unlock()
	}()

	payload, err := json.Marshal(PlayCommand{RequestID: requestID, SoundID: sound.ID, Name: sound.Name, URL: sound.URL})
	if err != nil {
		return err
	}
	if err := b.transport.Publish(b.Topic("cmd/play"), 1, false, payload); err != nil {
		return err
	}

	startTimer := time.NewTimer(b.startTimeout)
	defer startTimer.Stop()
	for started := false; !started; {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-startTimer.C:
			return ErrStartTimeout
		case ev := <-events:
			switch ev.State {
			case EventStarted:
				started = true
			case EventError:
				return fmt.Errorf("unit refused playback: %s", ev.Error)
			case EventEnded:
				// Clip shorter than the round trip; treat as started and finished.
				onStart()
				return nil
			}
		}
	}

	onStart()

	endTimer := time.NewTimer(b.maxPlayback)
	defer endTimer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-endTimer.C:
			return ErrPlaybackTimeout
		case ev := <-events:
			switch ev.State {
			case EventEnded:
				return nil
			case EventError:
				return fmt.Errorf("unit playback error: %s", ev.Error)
			}
		}
	}
}

// PublishArm pushes the retained arm snapshot.
func (b *Bridge) PublishArm(flags remote.Flags) error {
	payload, err := json.Marshal(ArmState{MainSwitch: flags.MainSwitch, DevicePower: flags.DevicePower})
	if err != nil {
		return err
	}
	return b.transport.Publish(b.Topic("arm"), 1, true, payload)
}

// FollowArm republishes every arm change until ctx is done.
func (b *Bridge) FollowArm(ctx context.Context, initial remote.Flags, changes <-chan arm.Change) {
	if err := b.PublishArm(initial); err != nil {
		b.logger.Warn().Err(err).Msg("failed to publish arm state")
	}
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			if err := b.PublishArm(change.Flags); err != nil {
				b.logger.Warn().Err(err).Msg("failed to publish arm state")
			}
		}
	}
}

func (b *Bridge) handlePlaybackEvent(_ string, payload []byte) {
	var ev PlaybackEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		b.logger.Warn().Err(err).Msg("ignoring malformed playback event")
		return
	}
	b.mu.Lock()
	ch, ok := b.pending[ev.RequestID]
	b.mu.Unlock()
	if !ok {
		b.logger.Debug().Str("request_id", ev.RequestID).Msg("playback event for unknown request")
		return
	}
	select {
	case ch <- ev:
	default:
	}
}

func (b *Bridge) handleTelemetry(_ string, payload []byte) {
	var t Telemetry
	if err := json.Unmarshal(payload, &t); err != nil {
		b.logger.Warn().Err(err).Msg("ignoring malformed telemetry")
		return
	}
	if t.BatteryLevel == nil {
		return
	}
	if _, err := b.device.UpdateTelemetry(context.Background(), *t.BatteryLevel); err != nil {
		b.logger.Error().Err(err).Msg("failed to record telemetry")
	}
}

func (b *Bridge) handleStatus(_ string, payload []byte) {
	ctx := context.Background()
	switch strings.TrimSpace(string(payload)) {
	case StatusOffline:
		if _, err := b.device.MarkOffline(ctx); err != nil {
			if errors.Is(err, device.ErrInvalidTransition) {
				b.logger.Warn().Msg("unit went offline during playback")
				return
			}
			b.logger.Error().Err(err).Msg("failed to mark unit offline")
		}
	case StatusOnline:
		if _, err := b.device.MarkOnline(ctx); err != nil {
			b.logger.Error().Err(err).Msg("failed to mark unit online")
		}
	default:
		b.logger.Warn().Str("payload", string(payload)).Msg("unknown unit status")
	}
}
