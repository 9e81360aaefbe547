package model

import "time"

// SenderCount is the number of stored messages from one sender address.
type SenderCount struct {
	Sender string `json:"sender" db:"sender"`
	Count  int    `json:"count" db:"count"`
}

// DayCount is the number of stored messages received on one UTC day.
type DayCount struct {
	Day   string `json:"day" db:"day"`
	Count int    `json:"count" db:"count"`
}

// Stats aggregates the stored mailbox.
type Stats struct {
	Total           int           `json:"total_count"`
	Unread          int           `json:"unread_count"`
	WithAttachments int           `json:"attachment_count"`
	TopSenders      []SenderCount `json:"top_senders"`
	PerDay          []DayCount    `json:"emails_per_day"`
}

// SyncTrigger identifies what started an ingestion run.
type SyncTrigger string

const (
	TriggerScheduled SyncTrigger = "scheduled"
	TriggerWarmup    SyncTrigger = "warmup"
	TriggerManual    SyncTrigger = "manual"
)

// SyncRun records the outcome of one ingestion run.
type SyncRun struct {
	ID         string      `json:"id" db:"id"`
	Trigger    SyncTrigger `json:"trigger" db:"trigger"`
	StartedAt  time.Time   `json:"started_at" db:"started_at"`
	FinishedAt time.Time   `json:"finished_at" db:"finished_at"`
	Processed  int         `json:"processed" db:"processed"`
	Updated    int         `json:"updated" db:"updated"`
	Skipped    int         `json:"skipped" db:"skipped"`
	Pages      int         `json:"pages" db:"pages"`
	Error      string      `json:"error,omitempty" db:"error"`
}

// Succeeded reports whether the run completed without a run-level failure.
func (r SyncRun) Succeeded() bool {
	return r.Error == ""
}
