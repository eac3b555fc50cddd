package insights

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) (*Repo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRepo(sqlx.NewDb(db, "pgx")), mock
}

func TestRepoSummary(t *testing.T) {
	repo, mock := newMock(t)
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)
	now := from.AddDate(0, 0, 10)

	mock.ExpectQuery(`SELECT e.status, COUNT`).
		WithArgs("u1", from, to).
		WillReturnRows(sqlmock.NewRows([]string{"status", "n"}).
			AddRow("completed", 3).
			AddRow("scheduled", 1).
			AddRow("cancelled", 2))
	mock.ExpectQuery(`FROM steps s JOIN processes pr`).
		WithArgs("u1", now).
		WillReturnRows(sqlmock.NewRows([]string{"total", "completed", "overdue"}).AddRow(10, 4, 2))
	mock.ExpectQuery(`interval '7 days'`).
		WithArgs("u1", now).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))
	mock.ExpectQuery(`FROM posts`).
		WithArgs("u1", from, to).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	s, err := repo.Summary(context.Background(), "u1", from, to, now)
	require.NoError(t, err)
	assert.Equal(t, 6, s.TotalEvents)
	assert.Equal(t, 2, s.EventsByStatus["cancelled"])
	assert.Equal(t, 0.75, s.CompletionRate)
	assert.Equal(t, 10, s.StepsTotal)
	assert.Equal(t, 4, s.StepsCompleted)
	assert.Equal(t, 2, s.OverdueSteps)
	assert.Equal(t, 5, s.UpcomingEvents)
	assert.Equal(t, 7, s.Posts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepoProgress(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectQuery(`SELECT title FROM processes`).
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"title"}).AddRow("Onboarding"))
	mock.ExpectQuery(`FROM steps s LEFT JOIN substeps`).
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"process_id", "id", "completed", "subs", "subs_done"}).
			AddRow("p1", "s1", true, 0, 0).
			AddRow("p1", "s2", false, 2, 1))

	p, err := repo.Progress(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "Onboarding", p.Title)
	assert.Equal(t, 75.0, p.Percent)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepoProgressMissing(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectQuery(`SELECT title FROM processes`).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"title"}))

	_, err := repo.Progress(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepoProgressForUser(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectQuery(`SELECT id, title FROM processes`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title"}).AddRow("p1", "A").AddRow("p2", "B"))
	mock.ExpectQuery(`JOIN processes p`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"process_id", "id", "completed", "subs", "subs_done"}).
			AddRow("p1", "s1", true, 0, 0).
			AddRow("p1", "s2", false, 0, 0))

	got, err := repo.ProgressForUser(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 50.0, got[0].Percent)
	assert.Equal(t, 0, got[1].TotalSteps)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepoBurnup(t *testing.T) {
	repo, mock := newMock(t)
	day := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	done := day.Add(time.Hour)
	mock.ExpectQuery(`SELECT created_at, completed_at FROM steps`).
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "completed_at"}).
			AddRow(day, done).
			AddRow(day, nil))

	pts, err := repo.Burnup(context.Background(), "p1", day, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, []BurnupPoint{
		{Date: "2026-02-01", Scope: 2, Completed: 1},
		{Date: "2026-02-02", Scope: 2, Completed: 1},
	}, pts)
}
