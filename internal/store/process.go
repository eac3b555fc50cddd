package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"process-calendar-api/internal/model"
)

const processCols = `id, title, description, owner_id, is_template, template_id, directory_id, created_at, updated_at`

func scanProcess(row interface{ Scan(...any) error }) (*model.Process, error) {
	p := &model.Process{}
	err := row.Scan(&p.ID, &p.Title, &p.Description, &p.OwnerID, &p.IsTemplate,
		&p.TemplateID, &p.DirectoryID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return p, nil
}

// CreateProcess inserts the process with its steps and substeps. Step and
// substep positions are assigned from slice order.
func (s *Store) CreateProcess(ctx context.Context, p *model.Process) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return mapErr(s.inTx(ctx, func(tx pgx.Tx) error {
		return insertProcess(ctx, tx, p)
	}))
}

func insertProcess(ctx context.Context, tx pgx.Tx, p *model.Process) error {
	err := tx.QueryRow(ctx,
		`INSERT INTO processes (id, title, description, owner_id, is_template, template_id, directory_id)
		 VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING created_at, updated_at`,
		p.ID, p.Title, p.Description, p.OwnerID, p.IsTemplate, p.TemplateID, p.DirectoryID,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return err
	}
	if p.Steps == nil {
		p.Steps = []model.Step{}
	}
	for i := range p.Steps {
		st := &p.Steps[i]
		st.ID = uuid.NewString()
		st.ProcessID = p.ID
		st.Position = i + 1
		if err := insertStep(ctx, tx, st); err != nil {
			return err
		}
	}
	return nil
}

func insertStep(ctx context.Context, q querier, st *model.Step) error {
	err := q.QueryRow(ctx,
		`INSERT INTO steps (id, process_id, title, description, position, completed, completed_at, completed_by, due_date)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING created_at`,
		st.ID, st.ProcessID, st.Title, st.Description, st.Position,
		st.Completed, st.CompletedAt, st.CompletedBy, st.DueDate,
	).Scan(&st.CreatedAt)
	if err != nil {
		return err
	}
	if st.SubSteps == nil {
		st.SubSteps = []model.SubStep{}
	}
	for j := range st.SubSteps {
		sub := &st.SubSteps[j]
		sub.ID = uuid.NewString()
		sub.StepID = st.ID
		sub.Position = j + 1
		if _, err := q.Exec(ctx,
			`INSERT INTO substeps (id, step_id, title, position, completed, completed_at)
			 VALUES ($1,$2,$3,$4,$5,$6)`,
			sub.ID, sub.StepID, sub.Title, sub.Position, sub.Completed, sub.CompletedAt,
		); err != nil {
			return err
		}
	}
	return nil
}

// Process loads a process with its ordered steps and substeps.
func (s *Store) Process(ctx context.Context, id string) (*model.Process, error) {
	p, err := scanProcess(s.pool.QueryRow(ctx, `SELECT `+processCols+` FROM processes WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if p.Steps, err = s.steps(ctx, id); err != nil {
		return nil, err
	}
	return p, nil
}

type ProcessFilter struct {
	Templates   *bool
	DirectoryID string
	Limit       int
}

// ProcessesForUser lists processes the user owns plus, when templates are
// requested, every template. Steps are loaded for each process.
func (s *Store) ProcessesForUser(ctx context.Context, userID string, f ProcessFilter) ([]*model.Process, error) {
	if f.Limit <= 0 {
		f.Limit = 200
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+processCols+` FROM processes
		 WHERE (owner_id = $1 OR (is_template AND $2::boolean IS TRUE))
		   AND ($2::boolean IS NULL OR is_template = $2)
		   AND ($3 = '' OR directory_id::text = $3)
		 ORDER BY updated_at DESC
		 LIMIT $4`,
		userID, f.Templates, f.DirectoryID, f.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*model.Process{}
	for rows.Next() {
		p, err := scanProcess(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for _, p := range out {
		if p.Steps, err = s.steps(ctx, p.ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) UpdateProcess(ctx context.Context, p *model.Process) error {
	return mapErr(s.pool.QueryRow(ctx,
		`UPDATE processes SET title=$1, description=$2, is_template=$3, directory_id=$4, updated_at=NOW()
		 WHERE id=$5 RETURNING updated_at`,
		p.Title, p.Description, p.IsTemplate, p.DirectoryID, p.ID,
	).Scan(&p.UpdatedAt))
}

func (s *Store) DeleteProcess(ctx context.Context, id string) error {
	return affected(s.pool.Exec(ctx, `DELETE FROM processes WHERE id=$1`, id))
}

// Instantiate copies a template into a new process owned by ownerID with
// completion state cleared. If eventID is set the copy is attached to it.
func (s *Store) Instantiate(ctx context.Context, templateID, ownerID, title string, eventID *string) (*model.Process, error) {
	tpl, err := s.Process(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if title == "" {
		title = tpl.Title
	}
	p := &model.Process{
		ID:          uuid.NewString(),
		Title:       title,
		Description: tpl.Description,
		OwnerID:     ownerID,
		TemplateID:  &tpl.ID,
		Steps:       make([]model.Step, len(tpl.Steps)),
	}
	for i, st := range tpl.Steps {
		subs := make([]model.SubStep, len(st.SubSteps))
		for j, sub := range st.SubSteps {
			subs[j] = model.SubStep{Title: sub.Title}
		}
		p.Steps[i] = model.Step{Title: st.Title, Description: st.Description, DueDate: st.DueDate, SubSteps: subs}
	}

	err = s.inTx(ctx, func(tx pgx.Tx) error {
		if err := insertProcess(ctx, tx, p); err != nil {
			return err
		}
		if eventID == nil {
			return nil
		}
		tag, err := tx.Exec(ctx,
			`UPDATE events SET process_id=$1, updated_at=NOW() WHERE id=$2`, p.ID, *eventID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, mapErr(err)
	}
	return p, nil
}

const stepCols = `id, process_id, title, description, position, completed, completed_at, completed_by, due_date, created_at`

func scanStep(row interface{ Scan(...any) error }) (*model.Step, error) {
	st := &model.Step{}
	err := row.Scan(&st.ID, &st.ProcessID, &st.Title, &st.Description, &st.Position,
		&st.Completed, &st.CompletedAt, &st.CompletedBy, &st.DueDate, &st.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return st, nil
}

func (s *Store) steps(ctx context.Context, processID string) ([]model.Step, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+stepCols+` FROM steps WHERE process_id = $1 ORDER BY position`, processID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	steps := []model.Step{}
	index := map[string]int{}
	for rows.Next() {
		st, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		st.SubSteps = []model.SubStep{}
		index[st.ID] = len(steps)
		steps = append(steps, *st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	subRows, err := s.pool.Query(ctx,
		`SELECT ss.id, ss.step_id, ss.title, ss.position, ss.completed, ss.completed_at
		 FROM substeps ss JOIN steps st ON st.id = ss.step_id
		 WHERE st.process_id = $1 ORDER BY ss.position`, processID)
	if err != nil {
		return nil, err
	}
	defer subRows.Close()
	for subRows.Next() {
		var sub model.SubStep
		if err := subRows.Scan(&sub.ID, &sub.StepID, &sub.Title, &sub.Position, &sub.Completed, &sub.CompletedAt); err != nil {
			return nil, err
		}
		if i, ok := index[sub.StepID]; ok {
			steps[i].SubSteps = append(steps[i].SubSteps, sub)
		}
	}
	return steps, subRows.Err()
}

func (s *Store) Step(ctx context.Context, id string) (*model.Step, error) {
	return scanStep(s.pool.QueryRow(ctx, `SELECT `+stepCols+` FROM steps WHERE id = $1`, id))
}

// AddStep appends a step at the end of the process.
func (s *Store) AddStep(ctx context.Context, st *model.Step) error {
	st.ID = uuid.NewString()
	return mapErr(s.inTx(ctx, func(tx pgx.Tx) error {
		if err := lockProcess(ctx, tx, st.ProcessID); err != nil {
			return err
		}
		if err := tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(position), 0) + 1 FROM steps WHERE process_id = $1`, st.ProcessID,
		).Scan(&st.Position); err != nil {
			return err
		}
		if err := insertStep(ctx, tx, st); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `UPDATE processes SET updated_at=NOW() WHERE id=$1`, st.ProcessID)
		return err
	}))
}

// UpdateStep saves title, description and due date, and records who
// completed the step when Completed flips on.
func (s *Store) UpdateStep(ctx context.Context, st *model.Step, actorID string, now time.Time) error {
	var completedAt *time.Time
	var completedBy *string
	if st.Completed {
		completedAt, completedBy = &now, &actorID
		if st.CompletedAt != nil {
			completedAt, completedBy = st.CompletedAt, st.CompletedBy
		}
	}
	err := s.pool.QueryRow(ctx,
		`UPDATE steps SET title=$1, description=$2, due_date=$3, completed=$4, completed_at=$5, completed_by=$6
		 WHERE id=$7 RETURNING completed_at, completed_by`,
		st.Title, st.Description, st.DueDate, st.Completed, completedAt, completedBy, st.ID,
	).Scan(&st.CompletedAt, &st.CompletedBy)
	if err != nil {
		return mapErr(err)
	}
	_, err = s.pool.Exec(ctx, `UPDATE processes SET updated_at=NOW() WHERE id=$1`, st.ProcessID)
	return err
}

// DeleteStep removes a step and closes the gap in positions.
func (s *Store) DeleteStep(ctx context.Context, id string) error {
	return mapErr(s.inTx(ctx, func(tx pgx.Tx) error {
		if err := lockStepProcess(ctx, tx, id); err != nil {
			return err
		}
		var processID string
		var pos int
		err := tx.QueryRow(ctx,
			`DELETE FROM steps WHERE id=$1 RETURNING process_id, position`, id,
		).Scan(&processID, &pos)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`UPDATE steps SET position = position - 1 WHERE process_id=$1 AND position > $2`,
			processID, pos)
		return err
	}))
}

// ReorderSteps sets positions from the order of ids, which must list
// every step of the process exactly once.
func (s *Store) ReorderSteps(ctx context.Context, processID string, ids []string) error {
	return mapErr(s.inTx(ctx, func(tx pgx.Tx) error {
		if err := lockProcess(ctx, tx, processID); err != nil {
			return err
		}
		var n int
		if err := tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM steps WHERE process_id=$1 AND id = ANY($2::uuid[])`, processID, ids,
		).Scan(&n); err != nil {
			return err
		}
		var total int
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM steps WHERE process_id=$1`, processID).Scan(&total); err != nil {
			return err
		}
		if n != len(ids) || n != total {
			return ErrInvalid
		}
		for i, id := range ids {
			if _, err := tx.Exec(ctx, `UPDATE steps SET position=$1 WHERE id=$2`, i+1, id); err != nil {
				return err
			}
		}
		return nil
	}))
}

func (s *Store) AddSubStep(ctx context.Context, sub *model.SubStep) error {
	sub.ID = uuid.NewString()
	return mapErr(s.inTx(ctx, func(tx pgx.Tx) error {
		if err := lockStepProcess(ctx, tx, sub.StepID); err != nil {
			return err
		}
		return tx.QueryRow(ctx,
			`INSERT INTO substeps (id, step_id, title, position)
			 VALUES ($1, $2, $3, (SELECT COALESCE(MAX(position), 0) + 1 FROM substeps WHERE step_id = $2))
			 RETURNING position`,
			sub.ID, sub.StepID, sub.Title,
		).Scan(&sub.Position)
	}))
}

func (s *Store) SubStep(ctx context.Context, id string) (*model.SubStep, error) {
	sub := &model.SubStep{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, step_id, title, position, completed, completed_at FROM substeps WHERE id=$1`, id,
	).Scan(&sub.ID, &sub.StepID, &sub.Title, &sub.Position, &sub.Completed, &sub.CompletedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return sub, nil
}

func (s *Store) UpdateSubStep(ctx context.Context, sub *model.SubStep, now time.Time) error {
	var completedAt *time.Time
	if sub.Completed {
		completedAt = &now
		if sub.CompletedAt != nil {
			completedAt = sub.CompletedAt
		}
	}
	return mapErr(s.pool.QueryRow(ctx,
		`UPDATE substeps SET title=$1, completed=$2, completed_at=$3 WHERE id=$4 RETURNING completed_at`,
		sub.Title, sub.Completed, completedAt, sub.ID,
	).Scan(&sub.CompletedAt))
}

func (s *Store) DeleteSubStep(ctx context.Context, id string) error {
	return mapErr(s.inTx(ctx, func(tx pgx.Tx) error {
		var processID string
		if err := tx.QueryRow(ctx,
			`SELECT p.id FROM processes p
			 JOIN steps st ON st.process_id = p.id
			 JOIN substeps ss ON ss.step_id = st.id
			 WHERE ss.id = $1 FOR UPDATE OF p`, id,
		).Scan(&processID); err != nil {
			return err
		}
		var stepID string
		var pos int
		if err := tx.QueryRow(ctx,
			`DELETE FROM substeps WHERE id=$1 RETURNING step_id, position`, id,
		).Scan(&stepID, &pos); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`UPDATE substeps SET position = position - 1 WHERE step_id=$1 AND position > $2`, stepID, pos)
		return err
	}))
}

// Every change to step or substep positions holds the parent process row
// lock, which keeps positions dense under concurrent edits.
func lockProcess(ctx context.Context, tx pgx.Tx, processID string) error {
	var id string
	return tx.QueryRow(ctx, `SELECT id FROM processes WHERE id=$1 FOR UPDATE`, processID).Scan(&id)
}

func lockStepProcess(ctx context.Context, tx pgx.Tx, stepID string) error {
	var id string
	return tx.QueryRow(ctx,
		`SELECT p.id FROM processes p JOIN steps st ON st.process_id = p.id
		 WHERE st.id = $1 FOR UPDATE OF p`, stepID,
	).Scan(&id)
}

// TemplateTitles lists the titles of templates owned by ownerID.
func (s *Store) TemplateTitles(ctx context.Context, ownerID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT title FROM processes WHERE owner_id=$1 AND is_template`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
