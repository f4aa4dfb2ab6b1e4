package activity

import "time"

// TriggerType records what started a playback.
type TriggerType string

const (
	TriggerManual    TriggerType = "manual"
	TriggerScheduled TriggerType = "scheduled"
)

// Status is the outcome of one playback cycle.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// PlaybackLog is one append-only history entry.
type PlaybackLog struct {
	ID          string      `json:"id"`
	Timestamp   int64       `json:"timestamp"`
	SoundName   string      `json:"sound_name"`
	TriggerType TriggerType `json:"trigger_type"`
	Status      Status      `json:"status"`
	ScheduleID  *string     `json:"schedule_id,omitempty"`
}

// Time returns the entry timestamp as a time.Time.
func (l PlaybackLog) Time() time.Time { return time.UnixMilli(l.Timestamp) }

// AppendInput contains the fields for a new entry.
type AppendInput struct {
	At          time.Time
	SoundName   string
	TriggerType TriggerType
	Status      Status
	ScheduleID  string
}
