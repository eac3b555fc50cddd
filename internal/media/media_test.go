package media

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"process-calendar-api/internal/jobs"
	"process-calendar-api/internal/model"
	"process-calendar-api/internal/store"
)

type memStore struct {
	mu   sync.Mutex
	rows map[string]*model.Media
}

func (m *memStore) CreateMedia(_ context.Context, md *model.Media) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *md
	m.rows[md.ID] = &cp
	return nil
}

func (m *memStore) Media(_ context.Context, id string) (*model.Media, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	md, ok := m.rows[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *md
	return &cp, nil
}

func (m *memStore) FinishMedia(_ context.Context, id, status, ct, sum string, size int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	md := m.rows[id]
	md.Status, md.ContentType, md.Checksum, md.SizeBytes = status, ct, sum, size
	return nil
}

func (m *memStore) PendingMedia(context.Context, int) ([]*model.Media, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Media
	for _, md := range m.rows {
		if md.Status == model.MediaPending {
			cp := *md
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) status(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[id].Status
}

func newService(t *testing.T, maxBytes int64) (*Service, *memStore) {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	disk, err := NewDisk(t.TempDir(), maxBytes)
	require.NoError(t, err)
	st := &memStore{rows: map[string]*model.Media{}}
	q := jobs.NewQueue(log, jobs.Options{Workers: 1, Backoff: time.Millisecond})
	svc := NewService(disk, st, q, log)
	q.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = q.Stop(ctx)
	})
	return svc, st
}

func TestUploadProcessesFile(t *testing.T) {
	svc, st := newService(t, 1<<20)
	png := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 100)...)

	m, err := svc.Upload(context.Background(), "u1", "../../pic.png", nil, bytes.NewReader(png))
	require.NoError(t, err)
	assert.Equal(t, "pic.png", m.Filename)
	assert.Equal(t, model.MediaPending, m.Status)

	require.Eventually(t, func() bool { return st.status(m.ID) == model.MediaReady }, time.Second, 5*time.Millisecond)

	got, _ := st.Media(context.Background(), m.ID)
	sum := sha256.Sum256(png)
	assert.Equal(t, "image/png", got.ContentType)
	assert.Equal(t, hex.EncodeToString(sum[:]), got.Checksum)
	assert.Equal(t, int64(len(png)), got.SizeBytes)
}

func TestEmptyFileFails(t *testing.T) {
	svc, st := newService(t, 1<<20)
	m, err := svc.Upload(context.Background(), "u1", "empty.txt", nil, strings.NewReader(""))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return st.status(m.ID) == model.MediaFailed }, time.Second, 5*time.Millisecond)
}

func TestUploadTooLarge(t *testing.T) {
	svc, st := newService(t, 10)
	_, err := svc.Upload(context.Background(), "u1", "big.bin", nil, strings.NewReader(strings.Repeat("x", 11)))
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.Empty(t, st.rows)
}

func TestDiskRejectsEscapes(t *testing.T) {
	d, err := NewDisk(t.TempDir(), 100)
	require.NoError(t, err)
	for _, p := range []string{"../etc/passwd", "/etc/passwd", ".."} {
		_, err := d.Open(p)
		assert.Error(t, err, p)
	}
}

func TestRequeuePending(t *testing.T) {
	svc, st := newService(t, 1<<20)
	rel, n, err := svc.disk.Save("abcdef-1", strings.NewReader("hello world"))
	require.NoError(t, err)
	st.rows["abcdef-1"] = &model.Media{ID: "abcdef-1", StoragePath: rel, SizeBytes: n, Status: model.MediaPending}

	require.NoError(t, svc.Requeue(context.Background()))
	require.Eventually(t, func() bool { return st.status("abcdef-1") == model.MediaReady }, time.Second, 5*time.Millisecond)
	got, _ := st.Media(context.Background(), "abcdef-1")
	assert.Equal(t, "text/plain; charset=utf-8", got.ContentType)
}
