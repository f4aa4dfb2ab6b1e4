package device

import "sync/atomic"

// AudioGate records the one-time user consent that allows the unit to emit audio.
// Scheduled firings are suppressed until it is unlocked.
type AudioGate struct {
	unlocked atomic.Bool
}

// NewAudioGate returns a gate, already unlocked when unlocked is true.
func NewAudioGate(unlocked bool) *AudioGate {
	g := &AudioGate{}
	g.unlocked.Store(unlocked)
	return g
}

// Unlock opens the gate. It never closes again for the life of the process.
func (g *AudioGate) Unlock() { g.unlocked.Store(true) }

// Unlocked reports whether audio has been consented.
func (g *AudioGate) Unlocked() bool { return g.unlocked.Load() }
