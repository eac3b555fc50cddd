package insights

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

var ErrNotFound = errors.New("insights: not found")

// Open wraps the pgx pool in a database/sql handle for sqlx.
func Open(pool *pgxpool.Pool) *sqlx.DB {
	return sqlx.NewDb(stdlib.OpenDBFromPool(pool), "pgx")
}

// Repo runs the reporting queries.
type Repo struct {
	db *sqlx.DB
}

func NewRepo(db *sqlx.DB) *Repo { return &Repo{db: db} }

const visibleEvent = `(e.creator_id = $1 OR EXISTS (
	SELECT 1 FROM event_participants p WHERE p.event_id = e.id AND p.user_id = $1))`

// Summary reports on events starting in [from, to) that the user created
// or takes part in, plus their step and post activity. now anchors the
// overdue and upcoming counts.
func (r *Repo) Summary(ctx context.Context, userID string, from, to, now time.Time) (*Summary, error) {
	s := &Summary{From: from, To: to, EventsByStatus: map[string]int{}}

	var byStatus []struct {
		Status string `db:"status"`
		N      int    `db:"n"`
	}
	err := r.db.SelectContext(ctx, &byStatus,
		`SELECT e.status, COUNT(*) AS n FROM events e
		 WHERE `+visibleEvent+` AND e.start_time >= $2 AND e.start_time < $3
		 GROUP BY e.status`, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("events by status: %w", err)
	}
	for _, row := range byStatus {
		s.EventsByStatus[row.Status] = row.N
		s.TotalEvents += row.N
	}
	s.CompletionRate = CompletionRate(s.EventsByStatus)

	var steps struct {
		Total     int `db:"total"`
		Completed int `db:"completed"`
		Overdue   int `db:"overdue"`
	}
	err = r.db.GetContext(ctx, &steps,
		`SELECT COUNT(*) AS total,
		        COUNT(*) FILTER (WHERE s.completed) AS completed,
		        COUNT(*) FILTER (WHERE NOT s.completed AND s.due_date < $2) AS overdue
		 FROM steps s JOIN processes pr ON pr.id = s.process_id
		 WHERE pr.owner_id = $1 AND NOT pr.is_template`, userID, now)
	if err != nil {
		return nil, fmt.Errorf("step counts: %w", err)
	}
	s.StepsTotal, s.StepsCompleted, s.OverdueSteps = steps.Total, steps.Completed, steps.Overdue

	err = r.db.GetContext(ctx, &s.UpcomingEvents,
		`SELECT COUNT(*) FROM events e
		 WHERE `+visibleEvent+` AND e.status = 'scheduled'
		   AND e.start_time >= $2 AND e.start_time < $2 + interval '7 days'`, userID, now)
	if err != nil {
		return nil, fmt.Errorf("upcoming events: %w", err)
	}

	err = r.db.GetContext(ctx, &s.Posts,
		`SELECT COUNT(*) FROM posts WHERE author_id = $1 AND created_at >= $2 AND created_at < $3`,
		userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("posts: %w", err)
	}
	return s, nil
}

const stepCountsQuery = `SELECT s.process_id, s.id, s.completed,
	COUNT(ss.id) AS subs, COUNT(ss.id) FILTER (WHERE ss.completed) AS subs_done
	FROM steps s LEFT JOIN substeps ss ON ss.step_id = s.id`

func (r *Repo) Progress(ctx context.Context, processID string) (*Progress, error) {
	var title string
	err := r.db.GetContext(ctx, &title, `SELECT title FROM processes WHERE id = $1`, processID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var counts []StepCounts
	err = r.db.SelectContext(ctx, &counts,
		stepCountsQuery+` WHERE s.process_id = $1 GROUP BY s.process_id, s.id, s.completed, s.position
		 ORDER BY s.position`, processID)
	if err != nil {
		return nil, err
	}
	p := ComputeProgress(processID, title, counts)
	return &p, nil
}

// ProgressForUser covers every non-template process the user owns.
func (r *Repo) ProgressForUser(ctx context.Context, userID string) ([]Progress, error) {
	var procs []struct {
		ID    string `db:"id"`
		Title string `db:"title"`
	}
	err := r.db.SelectContext(ctx, &procs,
		`SELECT id, title FROM processes WHERE owner_id = $1 AND NOT is_template
		 ORDER BY updated_at DESC LIMIT 100`, userID)
	if err != nil {
		return nil, err
	}

	var counts []StepCounts
	err = r.db.SelectContext(ctx, &counts,
		stepCountsQuery+` JOIN processes p ON p.id = s.process_id
		 WHERE p.owner_id = $1 AND NOT p.is_template
		 GROUP BY s.process_id, s.id, s.completed`, userID)
	if err != nil {
		return nil, err
	}
	byProcess := make(map[string][]StepCounts)
	for _, c := range counts {
		byProcess[c.ProcessID] = append(byProcess[c.ProcessID], c)
	}

	out := make([]Progress, 0, len(procs))
	for _, p := range procs {
		out = append(out, ComputeProgress(p.ID, p.Title, byProcess[p.ID]))
	}
	return out, nil
}

func (r *Repo) Burnup(ctx context.Context, processID string, from, to time.Time) ([]BurnupPoint, error) {
	var steps []StepTimes
	err := r.db.SelectContext(ctx, &steps,
		`SELECT created_at, completed_at FROM steps WHERE process_id = $1`, processID)
	if err != nil {
		return nil, err
	}
	return Burnup(steps, from, to), nil
}
