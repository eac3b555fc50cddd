package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"process-calendar-api/internal/jobs"
	"process-calendar-api/internal/model"
	"process-calendar-api/internal/store"
)

type fakeStore struct {
	mu        sync.Mutex
	rows      map[string]model.Notification
	calls     int
	noPush    map[string]bool
	reminders []store.Reminder
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: map[string]model.Notification{}, noPush: map[string]bool{}}
}

func (f *fakeStore) InsertNotification(_ context.Context, n *model.Notification) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if _, dup := f.rows[n.DedupeKey]; dup {
		return false, nil
	}
	f.rows[n.DedupeKey] = *n
	return true, nil
}

func (f *fakeStore) Preferences(_ context.Context, userID string) (model.Preferences, error) {
	p := model.DefaultPreferences(userID)
	p.PushNotifications = !f.noPush[userID]
	return p, nil
}

func (f *fakeStore) DueReminders(context.Context, time.Time) ([]store.Reminder, error) {
	return f.reminders, nil
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func setup(t *testing.T) (*Notifier, *fakeStore, *Hub) {
	t.Helper()
	log := quietLogger()
	q := jobs.NewQueue(log, jobs.Options{Workers: 2, MaxAttempts: 2, Backoff: time.Millisecond})
	st := newFakeStore()
	hub := NewHub(log, func(*http.Request) bool { return true })
	n := New(q, st, hub, log, 0)
	q.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = q.Stop(ctx)
		hub.Close()
	})
	return n, st, hub
}

func TestNotifyAllSkipsActor(t *testing.T) {
	n, st, _ := setup(t)
	n.NotifyAll(context.Background(), []string{"a", "b", "c"}, "b", model.Notification{
		Kind: model.NotifyEventUpdated, Title: "changed", DedupeKey: "evt:1:v2",
	})

	require.Eventually(t, func() bool { return st.count() == 2 }, time.Second, 5*time.Millisecond)
	st.mu.Lock()
	defer st.mu.Unlock()
	assert.Contains(t, st.rows, "evt:1:v2:a")
	assert.Contains(t, st.rows, "evt:1:v2:c")
	assert.NotContains(t, st.rows, "evt:1:v2:b")
}

func TestSameKeyStoredOnce(t *testing.T) {
	n, st, _ := setup(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, n.Notify(context.Background(), model.Notification{
			UserID: "u1", Kind: model.NotifyReminder, Title: "soon", DedupeKey: "reminder:e1:u1",
		}))
		time.Sleep(10 * time.Millisecond)
	}
	require.Eventually(t, func() bool { return st.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestRemindersUseStableKeys(t *testing.T) {
	n, st, _ := setup(t)
	st.reminders = []store.Reminder{
		{EventID: "e1", Title: "Standup", StartTime: time.Now().Add(10 * time.Minute), UserID: "u1", Minutes: 15},
		{EventID: "e1", Title: "Standup", StartTime: time.Now().Add(10 * time.Minute), UserID: "u2", Minutes: 15},
	}
	task := n.Reminders(time.Now)
	require.NoError(t, task(context.Background()))
	require.Eventually(t, func() bool { return st.count() == 2 }, time.Second, 5*time.Millisecond)

	// a second scan inside the lead time adds nothing
	require.NoError(t, task(context.Background()))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, st.count())

	st.mu.Lock()
	defer st.mu.Unlock()
	r := st.rows["reminder:e1:u1"]
	assert.Equal(t, model.NotifyReminder, r.Kind)
	assert.Equal(t, "e1", r.Data["eventId"])
}

func dial(t *testing.T, hub *Hub, userID string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.Serve(w, r, userID)
	}))
	t.Cleanup(srv.Close)

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	require.Eventually(t, func() bool { return hub.Connections(userID) > 0 }, time.Second, 5*time.Millisecond)
	return ws
}

func TestDeliveredNotificationIsPushed(t *testing.T) {
	n, _, hub := setup(t)
	ws := dial(t, hub, "u1")

	require.NoError(t, n.Notify(context.Background(), model.Notification{
		UserID: "u1", Kind: model.NotifyNewPost, Title: "new post",
		Data: map[string]any{"postId": "p1"},
	}))

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := ws.ReadMessage()
	require.NoError(t, err)

	var msg struct {
		Type         string             `json:"type"`
		Notification model.Notification `json:"notification"`
	}
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, "notification", msg.Type)
	assert.Equal(t, "new post", msg.Notification.Title)
	assert.Equal(t, "p1", msg.Notification.Data["postId"])
}

func TestPushRespectsPreferences(t *testing.T) {
	n, st, hub := setup(t)
	st.noPush["u2"] = true
	ws := dial(t, hub, "u2")

	require.NoError(t, n.Notify(context.Background(), model.Notification{UserID: "u2", Kind: model.NotifyNewPost, Title: "x"}))
	require.Eventually(t, func() bool { return st.count() == 1 }, time.Second, 5*time.Millisecond)

	_ = ws.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err := ws.ReadMessage()
	assert.Error(t, err)
}

func TestPublishWithoutConnections(t *testing.T) {
	hub := NewHub(quietLogger(), nil)
	assert.Equal(t, 0, hub.Publish("nobody", Message{Type: "notification"}))
}
