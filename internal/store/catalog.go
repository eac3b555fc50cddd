package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"process-calendar-api/internal/model"
)

func (s *Store) Topics(ctx context.Context) ([]model.Topic, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, description, created_by, created_at FROM topics ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Topic{}
	for rows.Next() {
		var t model.Topic
		if err := rows.Scan(&t.ID, &t.Name, &t.Description, &t.CreatedBy, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) Topic(ctx context.Context, id string) (*model.Topic, error) {
	t := &model.Topic{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, description, created_by, created_at FROM topics WHERE id=$1`, id,
	).Scan(&t.ID, &t.Name, &t.Description, &t.CreatedBy, &t.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return t, nil
}

func (s *Store) CreateTopic(ctx context.Context, t *model.Topic) error {
	t.ID = uuid.NewString()
	return mapErr(s.pool.QueryRow(ctx,
		`INSERT INTO topics (id, name, description, created_by) VALUES ($1,$2,$3,$4) RETURNING created_at`,
		t.ID, t.Name, t.Description, t.CreatedBy,
	).Scan(&t.CreatedAt))
}

func (s *Store) DeleteTopic(ctx context.Context, id string) error {
	return affected(s.pool.Exec(ctx, `DELETE FROM topics WHERE id=$1`, id))
}

func (s *Store) Directories(ctx context.Context, ownerID string) ([]model.Directory, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, owner_id, name, parent_id, created_at FROM directories
		 WHERE owner_id=$1 ORDER BY name`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Directory{}
	for rows.Next() {
		var d model.Directory
		if err := rows.Scan(&d.ID, &d.OwnerID, &d.Name, &d.ParentID, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) Directory(ctx context.Context, id string) (*model.Directory, error) {
	d := &model.Directory{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, owner_id, name, parent_id, created_at FROM directories WHERE id=$1`, id,
	).Scan(&d.ID, &d.OwnerID, &d.Name, &d.ParentID, &d.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return d, nil
}

func (s *Store) CreateDirectory(ctx context.Context, d *model.Directory) error {
	d.ID = uuid.NewString()
	return mapErr(s.pool.QueryRow(ctx,
		`INSERT INTO directories (id, owner_id, name, parent_id) VALUES ($1,$2,$3,$4) RETURNING created_at`,
		d.ID, d.OwnerID, d.Name, d.ParentID,
	).Scan(&d.CreatedAt))
}

// UpdateDirectory renames or moves a directory. Moving a directory below
// one of its own descendants is rejected with ErrInvalid.
func (s *Store) UpdateDirectory(ctx context.Context, d *model.Directory) error {
	if d.ParentID != nil {
		var cycle bool
		err := s.pool.QueryRow(ctx,
			`WITH RECURSIVE sub AS (
			   SELECT id FROM directories WHERE id = $1
			   UNION ALL
			   SELECT c.id FROM directories c JOIN sub ON c.parent_id = sub.id
			 )
			 SELECT EXISTS (SELECT 1 FROM sub WHERE id = $2)`,
			d.ID, *d.ParentID,
		).Scan(&cycle)
		if err != nil {
			return mapErr(err)
		}
		if cycle {
			return ErrInvalid
		}
	}
	return affected(s.pool.Exec(ctx,
		`UPDATE directories SET name=$1, parent_id=$2 WHERE id=$3`, d.Name, d.ParentID, d.ID))
}

func (s *Store) DeleteDirectory(ctx context.Context, id string) error {
	return affected(s.pool.Exec(ctx, `DELETE FROM directories WHERE id=$1`, id))
}

const reportCols = `id, reporter_id, target_type, target_id, reason, status, resolved_by, resolved_at, created_at`

func scanReport(row interface{ Scan(...any) error }) (*model.Report, error) {
	r := &model.Report{}
	err := row.Scan(&r.ID, &r.ReporterID, &r.TargetType, &r.TargetID, &r.Reason, &r.Status,
		&r.ResolvedBy, &r.ResolvedAt, &r.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return r, nil
}

func (s *Store) CreateReport(ctx context.Context, r *model.Report) error {
	r.ID = uuid.NewString()
	r.Status = model.ReportOpen
	return mapErr(s.pool.QueryRow(ctx,
		`INSERT INTO reports (id, reporter_id, target_type, target_id, reason) VALUES ($1,$2,$3,$4,$5)
		 RETURNING created_at`,
		r.ID, r.ReporterID, r.TargetType, r.TargetID, r.Reason,
	).Scan(&r.CreatedAt))
}

func (s *Store) Report(ctx context.Context, id string) (*model.Report, error) {
	return scanReport(s.pool.QueryRow(ctx, `SELECT `+reportCols+` FROM reports WHERE id=$1`, id))
}

// Reports lists reports, filtered by status when status is not empty.
func (s *Store) Reports(ctx context.Context, status string, limit int) ([]*model.Report, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+reportCols+` FROM reports WHERE ($1 = '' OR status = $1)
		 ORDER BY created_at DESC LIMIT $2`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*model.Report{}
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ResolveReport closes an open report. A report already closed yields
// ErrConflict.
func (s *Store) ResolveReport(ctx context.Context, id, status, resolverID string, at time.Time) (*model.Report, error) {
	r, err := scanReport(s.pool.QueryRow(ctx,
		`UPDATE reports SET status=$1, resolved_by=$2, resolved_at=$3
		 WHERE id=$4 AND status='open' RETURNING `+reportCols,
		status, resolverID, at, id))
	if errors.Is(err, ErrNotFound) {
		if _, getErr := s.Report(ctx, id); getErr == nil {
			return nil, ErrConflict
		}
	}
	return r, err
}
