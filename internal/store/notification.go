package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"process-calendar-api/internal/jsonutil"
	"process-calendar-api/internal/model"
)

const notificationCols = `id, user_id, kind, title, body, data, read_at, COALESCE(dedupe_key, ''), created_at`

func scanNotification(row interface{ Scan(...any) error }) (*model.Notification, error) {
	n := &model.Notification{}
	var data []byte
	err := row.Scan(&n.ID, &n.UserID, &n.Kind, &n.Title, &n.Body, &data, &n.ReadAt, &n.DedupeKey, &n.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	n.Data = jsonutil.Object(data)
	return n, nil
}

// InsertNotification stores n unless a notification with the same dedupe
// key already exists. It reports whether a row was written.
func (s *Store) InsertNotification(ctx context.Context, n *model.Notification) (bool, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Data == nil {
		n.Data = map[string]any{}
	}
	var key *string
	if n.DedupeKey != "" {
		key = &n.DedupeKey
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO notifications (id, user_id, kind, title, body, data, dedupe_key)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)
		 ON CONFLICT (dedupe_key) DO NOTHING`,
		n.ID, n.UserID, n.Kind, n.Title, n.Body, jsonutil.Encode(n.Data), key)
	if err != nil {
		return false, mapErr(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) Notifications(ctx context.Context, userID string, unreadOnly bool, page Page) ([]*model.Notification, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+notificationCols+` FROM notifications
		 WHERE user_id = $1
		   AND (NOT $2 OR read_at IS NULL)
		   AND ($3::timestamptz IS NULL OR created_at < $3
		        OR (created_at = $3 AND id < $4::uuid))
		 ORDER BY created_at DESC, id DESC
		 LIMIT $5`,
		userID, unreadOnly, page.Before, page.beforeID(), page.limit())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*model.Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) UnreadCount(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id=$1 AND read_at IS NULL`, userID).Scan(&n)
	return n, err
}

// MarkRead only touches notifications belonging to userID.
func (s *Store) MarkRead(ctx context.Context, id, userID string, at time.Time) error {
	return affected(s.pool.Exec(ctx,
		`UPDATE notifications SET read_at = COALESCE(read_at, $1) WHERE id=$2 AND user_id=$3`,
		at, id, userID))
}

func (s *Store) MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE notifications SET read_at=$1 WHERE user_id=$2 AND read_at IS NULL`, at, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) DeleteNotification(ctx context.Context, id, userID string) error {
	return affected(s.pool.Exec(ctx,
		`DELETE FROM notifications WHERE id=$1 AND user_id=$2`, id, userID))
}

// PurgeReadNotifications drops read notifications older than cutoff.
func (s *Store) PurgeReadNotifications(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM notifications WHERE read_at IS NOT NULL AND read_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
