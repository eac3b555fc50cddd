// Package jobs runs background work in a fixed pool of workers.
//
// Delivery is at-least-once: a failing job is retried with exponential
// backoff up to MaxAttempts. A job enqueued with a key already queued,
// running or waiting for a retry is dropped.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"process-calendar-api/internal/metrics"
)

var (
	ErrClosed     = errors.New("jobs: queue closed")
	ErrUnknownJob = errors.New("jobs: no handler for kind")
)

type Job struct {
	Kind    string
	Key     string
	Payload any
	Attempt int
}

type HandlerFunc func(ctx context.Context, j Job) error

type Options struct {
	Workers     int
	MaxAttempts int
	Buffer      int
	Backoff     time.Duration
}

type Queue struct {
	log  *logrus.Entry
	opts Options

	mu       sync.Mutex
	handlers map[string]HandlerFunc
	pacers   map[string]*rate.Limiter
	inflight map[string]struct{}
	closed   bool

	ch   chan Job
	done chan struct{}
	wg   sync.WaitGroup
}

func NewQueue(log *logrus.Logger, opts Options) *Queue {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.Buffer < 1 {
		opts.Buffer = 1024
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 500 * time.Millisecond
	}
	return &Queue{
		log:      log.WithField("component", "jobs"),
		opts:     opts,
		handlers: make(map[string]HandlerFunc),
		pacers:   make(map[string]*rate.Limiter),
		inflight: make(map[string]struct{}),
		ch:       make(chan Job, opts.Buffer),
		done:     make(chan struct{}),
	}
}

func (q *Queue) Handle(kind string, h HandlerFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[kind] = h
}

// Pace limits how fast jobs of kind are started across all workers.
func (q *Queue) Pace(kind string, perSecond float64, burst int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pacers[kind] = rate.NewLimiter(rate.Limit(perSecond), burst)
}

// Enqueue adds a job. It returns false when a job with the same key is
// already pending. It blocks while the buffer is full.
func (q *Queue) Enqueue(ctx context.Context, kind, key string, payload any) (bool, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false, ErrClosed
	}
	if _, ok := q.handlers[kind]; !ok {
		q.mu.Unlock()
		return false, fmt.Errorf("%w %q", ErrUnknownJob, kind)
	}
	if key != "" {
		if _, dup := q.inflight[key]; dup {
			q.mu.Unlock()
			return false, nil
		}
		q.inflight[key] = struct{}{}
	}
	q.mu.Unlock()

	select {
	case q.ch <- Job{Kind: kind, Key: key, Payload: payload, Attempt: 1}:
		return true, nil
	case <-ctx.Done():
		q.release(key)
		return false, ctx.Err()
	case <-q.done:
		q.release(key)
		return false, ErrClosed
	}
}

// Pending reports queued jobs not yet picked up.
func (q *Queue) Pending() int { return len(q.ch) }

func (q *Queue) release(key string) {
	if key == "" {
		return
	}
	q.mu.Lock()
	delete(q.inflight, key)
	q.mu.Unlock()
}

// Start launches the workers. They stop when ctx ends or Stop is called.
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.opts.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
}

// Stop rejects new jobs, lets workers finish what is buffered and waits for
// them or for ctx, whichever comes first. Scheduled retries are dropped.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
	q.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-q.ch:
			q.run(ctx, j)
		case <-q.done:
			for {
				select {
				case j := <-q.ch:
					q.run(ctx, j)
				default:
					return
				}
			}
		}
	}
}

func (q *Queue) run(ctx context.Context, j Job) {
	q.mu.Lock()
	h := q.handlers[j.Kind]
	pacer := q.pacers[j.Kind]
	q.mu.Unlock()

	if pacer != nil {
		if err := pacer.Wait(ctx); err != nil {
			q.release(j.Key)
			return
		}
	}

	start := time.Now()
	err := safeCall(ctx, h, j)
	metrics.RecordJob(j.Kind, time.Since(start), err)

	if err == nil {
		q.release(j.Key)
		return
	}

	log := q.log.WithFields(logrus.Fields{"kind": j.Kind, "key": j.Key, "attempt": j.Attempt})
	if j.Attempt >= q.opts.MaxAttempts || errors.Is(err, ErrPermanent) {
		log.WithError(err).Error("job failed, giving up")
		q.release(j.Key)
		return
	}
	delay := q.backoff(j.Attempt)
	log.WithError(err).WithField("retry_in", delay.String()).Warn("job failed, retrying")

	j.Attempt++
	time.AfterFunc(delay, func() {
		select {
		case q.ch <- j:
		case <-q.done:
			q.release(j.Key)
		}
	})
}

func (q *Queue) backoff(attempt int) time.Duration {
	if attempt > 16 {
		attempt = 16
	}
	d := q.opts.Backoff << (attempt - 1)
	if ceiling := 30 * time.Second; d > ceiling || d <= 0 {
		d = ceiling
	}
	return d
}

// ErrPermanent marks failures that retrying will not fix.
var ErrPermanent = errors.New("jobs: permanent failure")

func Permanent(err error) error {
	return fmt.Errorf("%w: %v", ErrPermanent, err)
}

func safeCall(ctx context.Context, h HandlerFunc, j Job) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("jobs: panic in %s: %v", j.Kind, v)
		}
	}()
	return h(ctx, j)
}
