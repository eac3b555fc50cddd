package store_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"process-calendar-api/internal/migrations"
	"process-calendar-api/internal/model"
	"process-calendar-api/internal/store"
)

func setup(t *testing.T) *store.Store {
	t.Helper()
	st, _ := setupPool(t)
	return st
}

func setupPool(t *testing.T) (*store.Store, *pgxpool.Pool) {
	t.Helper()
	_ = godotenv.Load("../../.env")
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set")
	}
	if _, err := migrations.Up(dbURL); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	t.Cleanup(pool.Close)
	return store.New(pool), pool
}

func newUser(t *testing.T, st *store.Store, name string) *model.User {
	t.Helper()
	id := uuid.NewString()
	u := &model.User{ID: id, Email: "store-" + id[:8] + "@test.com", PasswordHash: "x", Name: name}
	require.NoError(t, st.CreateUser(context.Background(), u))
	return u
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	st := setup(t)
	u := newUser(t, st, "A")

	dup := &model.User{ID: uuid.NewString(), Email: u.Email, PasswordHash: "x", Name: "B"}
	assert.ErrorIs(t, st.CreateUser(context.Background(), dup), store.ErrConflict)

	_, err := st.UserByID(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateEventAddsCreatorAsOwner(t *testing.T) {
	st := setup(t)
	ctx := context.Background()
	owner := newUser(t, st, "Owner")
	guest := newUser(t, st, "Guest")
	start := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

	e := &model.Event{
		Title: "Kickoff", StartTime: start, EndTime: start.Add(time.Hour), CreatorID: owner.ID,
		Participants: []model.Participant{{UserID: guest.ID}, {UserID: owner.ID, Role: model.ParticipantViewer}},
	}
	require.NoError(t, st.CreateEvent(ctx, e))
	require.Len(t, e.Participants, 2)

	got, err := st.Event(ctx, e.ID)
	require.NoError(t, err)
	p, ok := got.Participant(owner.ID)
	require.True(t, ok)
	assert.Equal(t, model.ParticipantOwner, p.Role)
	assert.Equal(t, model.RSVPAccepted, p.Status)
	p, ok = got.Participant(guest.ID)
	require.True(t, ok)
	assert.Equal(t, model.ParticipantViewer, p.Role)
	assert.Equal(t, model.RSVPInvited, p.Status)

	bad := &model.Event{Title: "x", StartTime: start, EndTime: start.Add(time.Hour), CreatorID: uuid.NewString()}
	assert.ErrorIs(t, st.CreateEvent(ctx, bad), store.ErrBadReference)
}

func TestEventsForUserRange(t *testing.T) {
	st := setup(t)
	ctx := context.Background()
	u := newUser(t, st, "Ranger")
	base := time.Date(2030, 6, 1, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		s := base.AddDate(0, 0, i)
		require.NoError(t, st.CreateEvent(ctx, &model.Event{Title: "day", StartTime: s, EndTime: s.Add(time.Hour), CreatorID: u.ID}))
	}

	from, to := base.AddDate(0, 0, 1), base.AddDate(0, 0, 2)
	list, err := st.EventsForUser(ctx, u.ID, store.EventFilter{From: &from, To: &to})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, base.AddDate(0, 0, 1), list[0].StartTime.UTC())
}

func TestProcessStepsAndReorder(t *testing.T) {
	st := setup(t)
	ctx := context.Background()
	u := newUser(t, st, "Planner")

	p := &model.Process{Title: "Launch", OwnerID: u.ID, Steps: []model.Step{
		{Title: "a", SubSteps: []model.SubStep{{Title: "a1"}}}, {Title: "b"}, {Title: "c"},
	}}
	require.NoError(t, st.CreateProcess(ctx, p))

	got, err := st.Process(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, got.Steps, 3)
	a, b, c := got.Steps[0].ID, got.Steps[1].ID, got.Steps[2].ID

	assert.ErrorIs(t, st.ReorderSteps(ctx, p.ID, []string{a, b}), store.ErrInvalid)
	assert.ErrorIs(t, st.ReorderSteps(ctx, p.ID, []string{a, a, b}), store.ErrInvalid)
	require.NoError(t, st.ReorderSteps(ctx, p.ID, []string{b, c, a}))

	got, err = st.Process(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "a"}, []string{got.Steps[0].Title, got.Steps[1].Title, got.Steps[2].Title})
	assert.Equal(t, 3, got.Steps[2].Position)
	require.Len(t, got.Steps[2].SubSteps, 1)

	step := &model.Step{ProcessID: p.ID, Title: "d"}
	require.NoError(t, st.AddStep(ctx, step))
	assert.Equal(t, 4, step.Position)
}

func TestConcurrentStepChangesKeepPositionsDense(t *testing.T) {
	st := setup(t)
	ctx := context.Background()
	u := newUser(t, st, "Racer")

	p := &model.Process{Title: "Busy", OwnerID: u.ID}
	for i := 0; i < 6; i++ {
		p.Steps = append(p.Steps, model.Step{Title: "s", SubSteps: []model.SubStep{{Title: "x"}, {Title: "y"}}})
	}
	require.NoError(t, st.CreateProcess(ctx, p))
	got, err := st.Process(ctx, p.ID)
	require.NoError(t, err)
	first := got.Steps[0]

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	run := func(fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- fn()
		}()
	}
	for i := 0; i < 4; i++ {
		run(func() error { return st.AddStep(ctx, &model.Step{ProcessID: p.ID, Title: "new"}) })
		run(func() error { return st.AddSubStep(ctx, &model.SubStep{StepID: first.ID, Title: "more"}) })
	}
	for _, s := range got.Steps[1:4] {
		id := s.ID
		run(func() error { return st.DeleteStep(ctx, id) })
	}
	run(func() error { return st.DeleteSubStep(ctx, first.SubSteps[0].ID) })
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err = st.Process(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, got.Steps, 6-3+4)
	for i, s := range got.Steps {
		assert.Equal(t, i+1, s.Position, "step %d", i)
	}
	require.Len(t, got.Steps[0].SubSteps, 2-1+4)
	for i, sub := range got.Steps[0].SubSteps {
		assert.Equal(t, i+1, sub.Position, "substep %d", i)
	}
}

func TestInstantiateCopiesTemplate(t *testing.T) {
	st := setup(t)
	ctx := context.Background()
	u := newUser(t, st, "Templater")

	tpl := &model.Process{Title: "Checklist", OwnerID: u.ID, IsTemplate: true, Steps: []model.Step{
		{Title: "one", SubSteps: []model.SubStep{{Title: "x"}, {Title: "y"}}},
	}}
	require.NoError(t, st.CreateProcess(ctx, tpl))

	cp, err := st.Instantiate(ctx, tpl.ID, u.ID, "", nil)
	require.NoError(t, err)
	assert.NotEqual(t, tpl.ID, cp.ID)
	assert.False(t, cp.IsTemplate)
	require.NotNil(t, cp.TemplateID)
	assert.Equal(t, tpl.ID, *cp.TemplateID)
	require.Len(t, cp.Steps, 1)
	assert.Len(t, cp.Steps[0].SubSteps, 2)
	assert.NotEqual(t, tpl.Steps[0].ID, cp.Steps[0].ID)

	titles, err := st.TemplateTitles(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Checklist"}, titles)
}

func TestRefreshTokenRotation(t *testing.T) {
	st := setup(t)
	ctx := context.Background()
	u := newUser(t, st, "Rotator")
	hash := uuid.NewString()

	id, err := st.CreateRefreshToken(ctx, u.ID, hash, time.Now().Add(time.Hour))
	require.NoError(t, err)

	newID, err := st.RotateRefreshToken(ctx, id, u.ID, uuid.NewString(), time.Now().Add(time.Hour))
	require.NoError(t, err)

	// a second rotation of the same token loses
	_, err = st.RotateRefreshToken(ctx, id, u.ID, uuid.NewString(), time.Now().Add(time.Hour))
	assert.ErrorIs(t, err, store.ErrConflict)

	old, err := st.RefreshTokenByHash(ctx, hash)
	require.NoError(t, err)
	assert.True(t, old.Revoked)
	require.NotNil(t, old.ReplacedBy)
	assert.Equal(t, newID, *old.ReplacedBy)
	assert.False(t, old.Usable(time.Now()))
}

func TestFeedPagesThroughTiedTimestamps(t *testing.T) {
	st, pool := setupPool(t)
	ctx := context.Background()
	u := newUser(t, st, "Poster")

	for i := 0; i < 5; i++ {
		require.NoError(t, st.CreatePost(ctx, &model.Post{AuthorID: u.ID, Content: "tied"}, nil))
	}
	at := time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)
	_, err := pool.Exec(ctx, `UPDATE posts SET created_at=$1 WHERE author_id=$2`, at, u.ID)
	require.NoError(t, err)

	seen := map[string]bool{}
	pg := store.Page{Limit: 2}
	for i := 0; i < 3; i++ {
		posts, err := st.Feed(ctx, u.ID, pg)
		require.NoError(t, err)
		for _, p := range posts {
			assert.False(t, seen[p.ID], "post %s returned twice", p.ID)
			seen[p.ID] = true
		}
		if len(posts) == 0 {
			break
		}
		last := posts[len(posts)-1]
		pg.Before, pg.BeforeID = &last.CreatedAt, last.ID
	}
	assert.Len(t, seen, 5)
}

func TestNotificationDedupe(t *testing.T) {
	st := setup(t)
	ctx := context.Background()
	u := newUser(t, st, "Notified")
	key := "test:" + uuid.NewString()

	n := &model.Notification{UserID: u.ID, Kind: model.NotifyInvited, Title: "hi", DedupeKey: key}
	wrote, err := st.InsertNotification(ctx, n)
	require.NoError(t, err)
	assert.True(t, wrote)

	wrote, err = st.InsertNotification(ctx, &model.Notification{UserID: u.ID, Kind: model.NotifyInvited, Title: "hi", DedupeKey: key})
	require.NoError(t, err)
	assert.False(t, wrote)

	count, err := st.UnreadCount(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	updated, err := st.MarkAllRead(ctx, u.ID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated)

	// someone else cannot mark it
	assert.ErrorIs(t, st.MarkRead(ctx, n.ID, uuid.NewString(), time.Now()), store.ErrNotFound)
}

func TestDirectoryCycle(t *testing.T) {
	st := setup(t)
	ctx := context.Background()
	u := newUser(t, st, "Filer")

	root := &model.Directory{OwnerID: u.ID, Name: "root"}
	require.NoError(t, st.CreateDirectory(ctx, root))
	child := &model.Directory{OwnerID: u.ID, Name: "child", ParentID: &root.ID}
	require.NoError(t, st.CreateDirectory(ctx, child))

	root.ParentID = &child.ID
	assert.ErrorIs(t, st.UpdateDirectory(ctx, root), store.ErrInvalid)

	root.ParentID = &root.ID
	assert.ErrorIs(t, st.UpdateDirectory(ctx, root), store.ErrInvalid)
}

func TestPreferencesDefaultsAndSave(t *testing.T) {
	st := setup(t)
	ctx := context.Background()
	u := newUser(t, st, "Prefs")

	p, err := st.Preferences(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DefaultPreferences(u.ID).ReminderMinutes, p.ReminderMinutes)

	p.Timezone = "Asia/Tokyo"
	p.ReminderMinutes = 60
	require.NoError(t, st.SavePreferences(ctx, &p))

	got, err := st.Preferences(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Asia/Tokyo", got.Timezone)
	assert.Equal(t, 60, got.ReminderMinutes)
}
