package scheduler

import (
	"context"
	"sort"
	"time"

	"github.com/strefethen/agrisound-hub-go/internal/clock"
	"github.com/strefethen/agrisound-hub-go/internal/schedules"
)

// Firing is the next time a schedule will match.
type Firing struct {
	ScheduleID string    `json:"schedule_id"`
	Name       string    `json:"name"`
	At         time.Time `json:"at"`
}

// NextFiring returns the next matching minute for every active schedule,
// soonest first. The current minute counts. Schedules that can never match
// (no days, malformed time) are left out.
func NextFiring(list []schedules.Schedule, now clock.Reading) []Firing {
	midnight := time.Date(now.Time.Year(), now.Time.Month(), now.Time.Day(), 0, 0, 0, 0, now.Time.Location())

	out := make([]Firing, 0, len(list))
	for _, sched := range list {
		if !sched.IsActive {
			continue
		}
		minute, ok := sched.MinuteOfDay()
		if !ok {
			continue
		}
		for offset := 0; offset <= 7; offset++ {
			if offset == 0 && minute < now.MinuteOfDay {
				continue
			}
			if !sched.RunsOn((now.Weekday + offset) % 7) {
				continue
			}
			day := midnight.AddDate(0, 0, offset)
			out = append(out, Firing{
				ScheduleID: sched.ID,
				Name:       sched.Name,
				At:         day.Add(time.Duration(minute) * time.Minute),
			})
			break
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}

// Upcoming lists the next firings as of the engine's clock.
func (e *Engine) Upcoming(ctx context.Context) ([]Firing, error) {
	list, err := e.deps.Schedules.List(ctx)
	if err != nil {
		return nil, err
	}
	return NextFiring(list, e.deps.Clock.Now()), nil
}
