package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"process-calendar-api/internal/jsonutil"
	"process-calendar-api/internal/model"
)

const eventCols = `e.id, e.title, e.description, e.location, e.start_time, e.end_time, e.status,
	e.creator_id, e.process_id, e.topic_id, e.metadata, e.created_at, e.updated_at`

func scanEvent(row interface{ Scan(...any) error }) (*model.Event, error) {
	e := &model.Event{}
	var meta []byte
	err := row.Scan(&e.ID, &e.Title, &e.Description, &e.Location, &e.StartTime, &e.EndTime,
		&e.Status, &e.CreatorID, &e.ProcessID, &e.TopicID, &meta, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	e.Metadata = jsonutil.Object(meta)
	return e, nil
}

// CreateEvent inserts the event and its participants. The creator is
// always recorded as an accepted owner.
func (s *Store) CreateEvent(ctx context.Context, e *model.Event) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Status == "" {
		e.Status = model.EventScheduled
	}
	if e.Metadata == nil {
		e.Metadata = map[string]any{}
	}
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`INSERT INTO events (id, title, description, location, start_time, end_time, status,
			                     creator_id, process_id, topic_id, metadata)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
			 RETURNING created_at, updated_at`,
			e.ID, e.Title, e.Description, e.Location, e.StartTime, e.EndTime, e.Status,
			e.CreatorID, e.ProcessID, e.TopicID, jsonutil.Encode(e.Metadata),
		).Scan(&e.CreatedAt, &e.UpdatedAt)
		if err != nil {
			return err
		}

		parts := []model.Participant{{UserID: e.CreatorID, Role: model.ParticipantOwner, Status: model.RSVPAccepted}}
		for _, p := range e.Participants {
			if p.UserID == e.CreatorID {
				continue
			}
			if p.Role == "" {
				p.Role = model.ParticipantViewer
			}
			p.Status = model.RSVPInvited
			parts = append(parts, p)
		}
		for _, p := range parts {
			if _, err := upsertParticipant(ctx, tx, e.ID, p.UserID, p.Role, p.Status); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return mapErr(err)
	}
	e.Participants, err = s.participants(ctx, s.pool, e.ID)
	return err
}

func (s *Store) Event(ctx context.Context, id string) (*model.Event, error) {
	e, err := scanEvent(s.pool.QueryRow(ctx, `SELECT `+eventCols+` FROM events e WHERE e.id = $1`, id))
	if err != nil {
		return nil, err
	}
	e.Participants, err = s.participants(ctx, s.pool, id)
	if err != nil {
		return nil, err
	}
	return e, nil
}

type EventFilter struct {
	From, To  *time.Time
	Status    string
	TopicID   string
	ProcessID string
	Limit     int
}

// EventsForUser lists events the user created or participates in,
// optionally narrowed to those overlapping [From, To).
func (s *Store) EventsForUser(ctx context.Context, userID string, f EventFilter) ([]*model.Event, error) {
	if f.Limit <= 0 {
		f.Limit = 500
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+eventCols+` FROM events e
		 WHERE (e.creator_id = $1 OR EXISTS (
		         SELECT 1 FROM event_participants p WHERE p.event_id = e.id AND p.user_id = $1))
		   AND ($2::timestamptz IS NULL OR e.end_time > $2)
		   AND ($3::timestamptz IS NULL OR e.start_time < $3)
		   AND ($4 = '' OR e.status = $4)
		   AND ($5 = '' OR e.topic_id::text = $5)
		   AND ($6 = '' OR e.process_id::text = $6)
		 ORDER BY e.start_time
		 LIMIT $7`,
		userID, f.From, f.To, f.Status, f.TopicID, f.ProcessID, f.Limit)
	if err != nil {
		return nil, err
	}
	return s.collectEvents(ctx, rows)
}

// EventsForProcess returns the events a process is attached to.
func (s *Store) EventsForProcess(ctx context.Context, processID string) ([]*model.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+eventCols+` FROM events e WHERE e.process_id = $1 ORDER BY e.start_time`, processID)
	if err != nil {
		return nil, err
	}
	return s.collectEvents(ctx, rows)
}

func (s *Store) collectEvents(ctx context.Context, rows pgx.Rows) ([]*model.Event, error) {
	defer rows.Close()
	events := []*model.Event{}
	ids := []string{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
		ids = append(ids, e.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	if len(ids) == 0 {
		return events, nil
	}
	byEvent, err := s.participantsFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, e := range events {
		e.Participants = byEvent[e.ID]
		if e.Participants == nil {
			e.Participants = []model.Participant{}
		}
	}
	return events, nil
}

func (s *Store) UpdateEvent(ctx context.Context, e *model.Event) error {
	if e.Metadata == nil {
		e.Metadata = map[string]any{}
	}
	return mapErr(s.pool.QueryRow(ctx,
		`UPDATE events SET title=$1, description=$2, location=$3, start_time=$4, end_time=$5,
		        status=$6, process_id=$7, topic_id=$8, metadata=$9, updated_at=NOW()
		 WHERE id=$10 RETURNING updated_at`,
		e.Title, e.Description, e.Location, e.StartTime, e.EndTime, e.Status,
		e.ProcessID, e.TopicID, jsonutil.Encode(e.Metadata), e.ID,
	).Scan(&e.UpdatedAt))
}

// CancelEvent marks the event cancelled; rows are kept for history.
func (s *Store) CancelEvent(ctx context.Context, id string) error {
	return affected(s.pool.Exec(ctx,
		`UPDATE events SET status=$1, updated_at=NOW() WHERE id=$2`, model.EventCancelled, id))
}

func (s *Store) DeleteEvent(ctx context.Context, id string) error {
	return affected(s.pool.Exec(ctx, `DELETE FROM events WHERE id=$1`, id))
}

// AddParticipant invites a user or changes the role of an existing one.
func (s *Store) AddParticipant(ctx context.Context, eventID, userID, role string) (model.Participant, error) {
	p, err := upsertParticipant(ctx, s.pool, eventID, userID, role, model.RSVPInvited)
	return p, mapErr(err)
}

func upsertParticipant(ctx context.Context, q querier, eventID, userID, role, status string) (model.Participant, error) {
	p := model.Participant{EventID: eventID, UserID: userID}
	err := q.QueryRow(ctx,
		`INSERT INTO event_participants (event_id, user_id, role, status) VALUES ($1,$2,$3,$4)
		 ON CONFLICT (event_id, user_id) DO UPDATE SET role = EXCLUDED.role
		 RETURNING role, status, joined_at`,
		eventID, userID, role, status,
	).Scan(&p.Role, &p.Status, &p.JoinedAt)
	return p, err
}

func (s *Store) RemoveParticipant(ctx context.Context, eventID, userID string) error {
	return affected(s.pool.Exec(ctx,
		`DELETE FROM event_participants WHERE event_id=$1 AND user_id=$2`, eventID, userID))
}

func (s *Store) SetRSVP(ctx context.Context, eventID, userID, status string) error {
	return affected(s.pool.Exec(ctx,
		`UPDATE event_participants SET status=$1 WHERE event_id=$2 AND user_id=$3`,
		status, eventID, userID))
}

const participantQuery = `SELECT p.event_id, p.user_id, u.name, u.email, p.role, p.status, p.joined_at
	FROM event_participants p JOIN users u ON u.id = p.user_id`

func scanParticipants(rows pgx.Rows) ([]model.Participant, error) {
	defer rows.Close()
	out := []model.Participant{}
	for rows.Next() {
		var p model.Participant
		if err := rows.Scan(&p.EventID, &p.UserID, &p.Name, &p.Email, &p.Role, &p.Status, &p.JoinedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) participants(ctx context.Context, q querier, eventID string) ([]model.Participant, error) {
	rows, err := q.Query(ctx, participantQuery+` WHERE p.event_id = $1 ORDER BY p.joined_at`, eventID)
	if err != nil {
		return nil, err
	}
	return scanParticipants(rows)
}

func (s *Store) participantsFor(ctx context.Context, eventIDs []string) (map[string][]model.Participant, error) {
	rows, err := s.pool.Query(ctx,
		participantQuery+` WHERE p.event_id = ANY($1::uuid[]) ORDER BY p.joined_at`, eventIDs)
	if err != nil {
		return nil, err
	}
	list, err := scanParticipants(rows)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]model.Participant)
	for _, p := range list {
		out[p.EventID] = append(out[p.EventID], p)
	}
	return out, nil
}

// Reminder is one participant due a reminder for an upcoming event.
type Reminder struct {
	EventID   string
	Title     string
	StartTime time.Time
	UserID    string
	Minutes   int
}

// DueReminders finds participants whose reminder lead time has been
// reached for a scheduled event that has not started yet. Declined
// participants and users with reminders disabled are skipped.
func (s *Store) DueReminders(ctx context.Context, now time.Time) ([]Reminder, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT e.id, e.title, e.start_time, p.user_id, COALESCE(up.reminder_minutes, 15) AS mins
		 FROM events e
		 JOIN event_participants p ON p.event_id = e.id AND p.status <> 'declined'
		 LEFT JOIN user_preferences up ON up.user_id = p.user_id
		 WHERE e.status = 'scheduled'
		   AND e.start_time > $1::timestamptz
		   AND COALESCE(up.reminder_minutes, 15) > 0
		   AND e.start_time <= $1::timestamptz + make_interval(mins => COALESCE(up.reminder_minutes, 15))
		 ORDER BY e.start_time`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Reminder{}
	for rows.Next() {
		var r Reminder
		if err := rows.Scan(&r.EventID, &r.Title, &r.StartTime, &r.UserID, &r.Minutes); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
