package playback

import (
	"context"
	"time"

	"github.com/strefethen/agrisound-hub-go/internal/sounds"
)

// DefaultSimulatedDuration is used for clips with no known length.
const DefaultSimulatedDuration = 4 * time.Second

// SimulatedPlayer stands in for the hardware: it reports start immediately and
// holds for the clip's duration.
type SimulatedPlayer struct {
	fallback time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewSimulatedPlayer creates a player holding fallback for clips of unknown length.
func NewSimulatedPlayer(fallback time.Duration) *SimulatedPlayer {
	if fallback <= 0 {
		fallback = DefaultSimulatedDuration
	}
	return &SimulatedPlayer{fallback: fallback, sleep: SleepContext}
}

// Play implements Player.
func (p *SimulatedPlayer) Play(ctx context.Context, sound sounds.SoundFile, onStart func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	onStart()
	d := sound.Duration()
	if d <= 0 {
		d = p.fallback
	}
	return p.sleep(ctx, d)
}
