// Package notify creates user notifications through the job queue and
// pushes them to connected clients.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"process-calendar-api/internal/jobs"
	"process-calendar-api/internal/model"
	"process-calendar-api/internal/store"
)

const JobDeliver = "notification.deliver"

type Store interface {
	InsertNotification(ctx context.Context, n *model.Notification) (bool, error)
	Preferences(ctx context.Context, userID string) (model.Preferences, error)
	DueReminders(ctx context.Context, now time.Time) ([]store.Reminder, error)
}

type Notifier struct {
	queue *jobs.Queue
	store Store
	hub   *Hub
	log   *logrus.Entry
}

// Message is the realtime envelope sent over the socket.
type Message struct {
	Type         string              `json:"type"`
	Notification *model.Notification `json:"notification"`
}

// New registers the delivery handler on q. perSecond paces delivery.
func New(q *jobs.Queue, st Store, hub *Hub, log *logrus.Logger, perSecond float64) *Notifier {
	n := &Notifier{queue: q, store: st, hub: hub, log: log.WithField("component", "notify")}
	q.Handle(JobDeliver, n.deliver)
	if perSecond > 0 {
		q.Pace(JobDeliver, perSecond, int(perSecond)+1)
	}
	return n
}

// Notify enqueues a notification. The dedupe key is fixed here so retries
// of the same delivery insert at most one row.
func (n *Notifier) Notify(ctx context.Context, note model.Notification) error {
	if note.UserID == "" {
		return nil
	}
	if note.DedupeKey == "" {
		note.DedupeKey = uuid.NewString()
	}
	if note.ID == "" {
		note.ID = uuid.NewString()
	}
	if _, err := n.queue.Enqueue(ctx, JobDeliver, note.DedupeKey, note); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	return nil
}

// NotifyAll sends note to every user except skip (usually the actor).
// Failures are logged; the caller's request is not failed for them.
func (n *Notifier) NotifyAll(ctx context.Context, userIDs []string, skip string, note model.Notification) {
	base := note.DedupeKey
	for _, id := range userIDs {
		if id == skip {
			continue
		}
		each := note
		each.UserID = id
		each.ID = ""
		if base != "" {
			each.DedupeKey = base + ":" + id
		}
		if each.Data != nil {
			each.Data = cloneMap(note.Data)
		}
		if err := n.Notify(ctx, each); err != nil {
			n.log.WithError(err).WithField("user_id", id).Warn("enqueue notification")
		}
	}
}

func (n *Notifier) deliver(ctx context.Context, j jobs.Job) error {
	note, ok := j.Payload.(model.Notification)
	if !ok {
		return jobs.Permanent(fmt.Errorf("unexpected payload %T", j.Payload))
	}
	inserted, err := n.store.InsertNotification(ctx, &note)
	if err != nil {
		return err
	}
	if !inserted || n.hub == nil {
		return nil
	}

	prefs, err := n.store.Preferences(ctx, note.UserID)
	if err != nil {
		n.log.WithError(err).Warn("load preferences, skipping push")
		return nil
	}
	if prefs.PushNotifications {
		note.CreatedAt = time.Now().UTC()
		n.hub.Publish(note.UserID, Message{Type: "notification", Notification: &note})
	}
	return nil
}

// Reminders returns the scheduled task that notifies participants of
// upcoming events. Keys are per event and user, so repeated scans within
// the lead time create one reminder each.
func (n *Notifier) Reminders(now func() time.Time) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		due, err := n.store.DueReminders(ctx, now())
		if err != nil {
			return err
		}
		for _, r := range due {
			err := n.Notify(ctx, model.Notification{
				UserID: r.UserID,
				Kind:   model.NotifyReminder,
				Title:  "Upcoming: " + r.Title,
				Body:   fmt.Sprintf("Starts at %s", r.StartTime.UTC().Format(time.RFC3339)),
				Data: map[string]any{
					"eventId":   r.EventID,
					"startTime": r.StartTime.UTC().Format(time.RFC3339),
				},
				DedupeKey: fmt.Sprintf("reminder:%s:%s", r.EventID, r.UserID),
			})
			if err != nil {
				return err
			}
		}
		if len(due) > 0 {
			n.log.WithField("count", len(due)).Debug("reminders enqueued")
		}
		return nil
	}
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
