package store

import (
	"context"

	"github.com/google/uuid"

	"process-calendar-api/internal/model"
)

const mediaCols = `id, post_id, owner_id, filename, content_type, size_bytes, checksum, storage_path, status, created_at`

func scanMedia(row interface{ Scan(...any) error }) (*model.Media, error) {
	m := &model.Media{}
	err := row.Scan(&m.ID, &m.PostID, &m.OwnerID, &m.Filename, &m.ContentType, &m.SizeBytes,
		&m.Checksum, &m.StoragePath, &m.Status, &m.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return m, nil
}

func (s *Store) CreateMedia(ctx context.Context, m *model.Media) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Status == "" {
		m.Status = model.MediaPending
	}
	if m.ContentType == "" {
		m.ContentType = "application/octet-stream"
	}
	return mapErr(s.pool.QueryRow(ctx,
		`INSERT INTO media (id, post_id, owner_id, filename, content_type, size_bytes, storage_path, status)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING created_at`,
		m.ID, m.PostID, m.OwnerID, m.Filename, m.ContentType, m.SizeBytes, m.StoragePath, m.Status,
	).Scan(&m.CreatedAt))
}

func (s *Store) Media(ctx context.Context, id string) (*model.Media, error) {
	return scanMedia(s.pool.QueryRow(ctx, `SELECT `+mediaCols+` FROM media WHERE id=$1`, id))
}

// FinishMedia records the outcome of post-processing.
func (s *Store) FinishMedia(ctx context.Context, id, status, contentType, checksum string, size int64) error {
	return affected(s.pool.Exec(ctx,
		`UPDATE media SET status=$1, content_type=$2, checksum=$3, size_bytes=$4 WHERE id=$5`,
		status, contentType, checksum, size, id))
}

func (s *Store) DeleteMedia(ctx context.Context, id string) error {
	return affected(s.pool.Exec(ctx, `DELETE FROM media WHERE id=$1`, id))
}

// PendingMedia lists uploads still waiting for processing, oldest first.
func (s *Store) PendingMedia(ctx context.Context, limit int) ([]*model.Media, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+mediaCols+` FROM media WHERE status=$1 ORDER BY created_at LIMIT $2`,
		model.MediaPending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*model.Media{}
	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
