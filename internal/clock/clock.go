// Package clock resolves wall-clock time in the hub's fixed target timezone.
//
// Schedules are written as HH:mm in that zone and must evaluate identically no
// matter which zone the host process runs in.
package clock

import (
	"fmt"
	"sync"
	"time"
)

// MinutesPerDay is the length of one schedule day.
const MinutesPerDay = 24 * 60

// Reading is one resolved instant in the target zone.
type Reading struct {
	Time        time.Time // instant, expressed in the target zone
	HHMM        string    // "15:04"
	Weekday     int       // 0=Sunday..6=Saturday
	MinuteOfDay int       // 0..1439
}

// UnixMilli returns the instant as epoch milliseconds.
func (r Reading) UnixMilli() int64 { return r.Time.UnixMilli() }

// Provider supplies the current reading.
type Provider interface {
	Now() Reading
}

// At resolves t in loc.
func At(t time.Time, loc *time.Location) Reading {
	local := t.In(loc)
	return Reading{
		Time:        local,
		HHMM:        local.Format("15:04"),
		Weekday:     int(local.Weekday()),
		MinuteOfDay: local.Hour()*60 + local.Minute(),
	}
}

// FixedZone resolves "now" against a fixed UTC offset.
type FixedZone struct {
	loc *time.Location
	now func() time.Time
}

// NewFixedZone creates a provider for the zone name with the given offset from UTC.
func NewFixedZone(name string, offsetMinutes int) *FixedZone {
	return &FixedZone{
		loc: time.FixedZone(name, offsetMinutes*60),
		now: time.Now,
	}
}

// Now implements Provider.
func (c *FixedZone) Now() Reading { return At(c.now(), c.loc) }

// Location returns the target zone.
func (c *FixedZone) Location() *time.Location { return c.loc }

// ParseHHMM parses a strict two-digit 24-hour "HH:mm" value into minutes of day.
func ParseHHMM(s string) (int, error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, fmt.Errorf("invalid time format %q: want HH:mm", s)
	}
	hour, ok1 := twoDigits(s[0], s[1])
	minute, ok2 := twoDigits(s[3], s[4])
	if !ok1 || !ok2 {
		return 0, fmt.Errorf("invalid time format %q: want HH:mm", s)
	}
	if hour > 23 {
		return 0, fmt.Errorf("hour out of range: %d", hour)
	}
	if minute > 59 {
		return 0, fmt.Errorf("minute out of range: %d", minute)
	}
	return hour*60 + minute, nil
}

func twoDigits(a, b byte) (int, bool) {
	if a < '0' || a > '9' || b < '0' || b > '9' {
		return 0, false
	}
	return int(a-'0')*10 + int(b-'0'), true
}

// Fixed is a settable Provider for tests and one-shot evaluation.
type Fixed struct {
	mu  sync.Mutex
	t   time.Time
	loc *time.Location
}

// NewFixed returns a provider frozen at t, resolved in loc.
func NewFixed(t time.Time, loc *time.Location) *Fixed {
	return &Fixed{t: t, loc: loc}
}

// Now implements Provider.
func (f *Fixed) Now() Reading {
	f.mu.Lock()
	defer f.mu.Unlock()
	return At(f.t, f.loc)
}

// Set moves the frozen instant.
func (f *Fixed) Set(t time.Time) {
	f.mu.Lock()
	f.t = t
	f.mu.Unlock()
}

// Advance moves the frozen instant forward by d.
func (f *Fixed) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}
