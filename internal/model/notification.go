package model

import "time"

const (
	NotifyInvited        = "event_invited"
	NotifyEventUpdated   = "event_updated"
	NotifyEventCancelled = "event_cancelled"
	NotifyNewPost        = "new_post"
	NotifyStepCompleted  = "step_completed"
	NotifyReportResolved = "report_resolved"
	NotifyReminder       = "event_reminder"
)

type Notification struct {
	ID        string         `json:"id"`
	UserID    string         `json:"userId"`
	Kind      string         `json:"kind"`
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	Data      map[string]any `json:"data"`
	ReadAt    *time.Time     `json:"readAt"`
	DedupeKey string         `json:"-"`
	CreatedAt time.Time      `json:"createdAt"`
}
