// Package media stores uploads on local disk and post-processes them in
// the background.
package media

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"process-calendar-api/internal/jobs"
	"process-calendar-api/internal/model"
)

const JobProcess = "media.process"

var ErrTooLarge = errors.New("media: file too large")

// Disk keeps files under a root directory, sharded by the first two
// characters of the id.
type Disk struct {
	root     string
	maxBytes int64
}

func NewDisk(root string, maxBytes int64) (*Disk, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("media dir: %w", err)
	}
	return &Disk{root: root, maxBytes: maxBytes}, nil
}

func (d *Disk) MaxBytes() int64 { return d.maxBytes }

// Save writes r to a new file and returns its relative path and size.
// Reads past maxBytes abort the write and remove the partial file.
func (d *Disk) Save(id string, r io.Reader) (string, int64, error) {
	rel := filepath.Join(id[:2], id)
	full := filepath.Join(d.root, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", 0, err
	}
	f, err := os.OpenFile(full, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", 0, err
	}

	n, err := io.Copy(f, io.LimitReader(r, d.maxBytes+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > d.maxBytes {
		err = ErrTooLarge
	}
	if err != nil {
		os.Remove(full)
		return "", 0, err
	}
	return rel, n, nil
}

// Open rejects paths that would escape the root.
func (d *Disk) Open(rel string) (*os.File, error) {
	full, err := d.resolve(rel)
	if err != nil {
		return nil, err
	}
	return os.Open(full)
}

func (d *Disk) Remove(rel string) error {
	full, err := d.resolve(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (d *Disk) resolve(rel string) (string, error) {
	clean := filepath.Clean(rel)
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("media: bad path %q", rel)
	}
	return filepath.Join(d.root, clean), nil
}

// Store is the part of the data layer the processor needs.
type Store interface {
	CreateMedia(ctx context.Context, m *model.Media) error
	Media(ctx context.Context, id string) (*model.Media, error)
	FinishMedia(ctx context.Context, id, status, contentType, checksum string, size int64) error
	PendingMedia(ctx context.Context, limit int) ([]*model.Media, error)
}

type Service struct {
	disk  *Disk
	store Store
	queue *jobs.Queue
	log   *logrus.Entry
}

func NewService(disk *Disk, st Store, q *jobs.Queue, log *logrus.Logger) *Service {
	s := &Service{disk: disk, store: st, queue: q, log: log.WithField("component", "media")}
	q.Handle(JobProcess, s.process)
	return s
}

func (s *Service) Disk() *Disk { return s.disk }

// Upload stores the bytes, records a pending row and queues processing.
func (s *Service) Upload(ctx context.Context, ownerID, filename string, postID *string, r io.Reader) (*model.Media, error) {
	id := uuid.NewString()
	rel, size, err := s.disk.Save(id, r)
	if err != nil {
		return nil, err
	}
	m := &model.Media{
		ID:          id,
		PostID:      postID,
		OwnerID:     ownerID,
		Filename:    filepath.Base(filename),
		SizeBytes:   size,
		StoragePath: rel,
		Status:      model.MediaPending,
	}
	if err := s.store.CreateMedia(ctx, m); err != nil {
		s.disk.Remove(rel)
		return nil, err
	}
	if _, err := s.queue.Enqueue(ctx, JobProcess, JobProcess+":"+id, id); err != nil {
		// the row stays pending and is picked up by Requeue
		s.log.WithError(err).WithField("media_id", id).Warn("queue media processing")
	}
	return m, nil
}

// Requeue queues processing for uploads left pending, for instance after a
// restart dropped the in-memory queue.
func (s *Service) Requeue(ctx context.Context) error {
	pending, err := s.store.PendingMedia(ctx, 100)
	if err != nil {
		return err
	}
	for _, m := range pending {
		if _, err := s.queue.Enqueue(ctx, JobProcess, JobProcess+":"+m.ID, m.ID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) process(ctx context.Context, j jobs.Job) error {
	id, ok := j.Payload.(string)
	if !ok {
		return jobs.Permanent(fmt.Errorf("unexpected payload %T", j.Payload))
	}
	m, err := s.store.Media(ctx, id)
	if err != nil {
		return err
	}
	if m.Status != model.MediaPending {
		return nil
	}

	ct, sum, size, err := s.inspect(m.StoragePath)
	if err != nil {
		s.log.WithError(err).WithField("media_id", id).Warn("media processing failed")
		return s.store.FinishMedia(ctx, id, model.MediaFailed, m.ContentType, "", m.SizeBytes)
	}
	return s.store.FinishMedia(ctx, id, model.MediaReady, ct, sum, size)
}

// inspect sniffs the content type from the first 512 bytes and hashes the
// whole file.
func (s *Service) inspect(rel string) (contentType, checksum string, size int64, err error) {
	f, err := s.disk.Open(rel)
	if err != nil {
		return "", "", 0, err
	}
	defer f.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", "", 0, err
	}
	if n == 0 {
		return "", "", 0, errors.New("media: empty file")
	}
	contentType = http.DetectContentType(head[:n])

	h := sha256.New()
	h.Write(head[:n])
	rest, err := io.Copy(h, f)
	if err != nil {
		return "", "", 0, err
	}
	return contentType, hex.EncodeToString(h.Sum(nil)), int64(n) + rest, nil
}
