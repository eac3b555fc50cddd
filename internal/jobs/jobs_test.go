package jobs

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestQueue(t *testing.T, opts Options) *Queue {
	t.Helper()
	if opts.Backoff == 0 {
		opts.Backoff = time.Millisecond
	}
	q := NewQueue(quietLogger(), opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = q.Stop(ctx)
	})
	return q
}

func TestRunsJobs(t *testing.T) {
	q := newTestQueue(t, Options{Workers: 3})
	var n atomic.Int32
	var wg sync.WaitGroup
	q.Handle("count", func(ctx context.Context, j Job) error {
		n.Add(j.Payload.(int32))
		wg.Done()
		return nil
	})
	q.Start(context.Background())

	for i := 0; i < 10; i++ {
		wg.Add(1)
		ok, err := q.Enqueue(context.Background(), "count", "", int32(1))
		require.NoError(t, err)
		require.True(t, ok)
	}
	wg.Wait()
	assert.Equal(t, int32(10), n.Load())
}

func TestRetriesUntilSuccess(t *testing.T) {
	q := newTestQueue(t, Options{Workers: 1, MaxAttempts: 3})
	var attempts atomic.Int32
	done := make(chan int, 1)
	q.Handle("flaky", func(ctx context.Context, j Job) error {
		attempts.Add(1)
		if j.Attempt < 3 {
			return errors.New("not yet")
		}
		done <- j.Attempt
		return nil
	})
	q.Start(context.Background())

	_, err := q.Enqueue(context.Background(), "flaky", "k", nil)
	require.NoError(t, err)

	select {
	case a := <-done:
		assert.Equal(t, 3, a)
	case <-time.After(2 * time.Second):
		t.Fatal("job never succeeded")
	}
	assert.Equal(t, int32(3), attempts.Load())
}

func TestPermanentFailureNotRetried(t *testing.T) {
	q := newTestQueue(t, Options{Workers: 1, MaxAttempts: 5})
	var attempts atomic.Int32
	q.Handle("bad", func(ctx context.Context, j Job) error {
		attempts.Add(1)
		return Permanent(errors.New("bad payload"))
	})
	q.Start(context.Background())
	_, _ = q.Enqueue(context.Background(), "bad", "k", nil)

	require.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		_, pending := q.inflight["k"]
		return !pending
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestDuplicateKeyDropped(t *testing.T) {
	q := newTestQueue(t, Options{Workers: 1})
	release := make(chan struct{})
	q.Handle("slow", func(ctx context.Context, j Job) error {
		<-release
		return nil
	})
	q.Start(context.Background())

	ok, err := q.Enqueue(context.Background(), "slow", "same", nil)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = q.Enqueue(context.Background(), "slow", "same", nil)
	require.NoError(t, err)
	assert.False(t, ok)

	close(release)
	// once finished the key can be used again
	require.Eventually(t, func() bool {
		ok, _ := q.Enqueue(context.Background(), "slow", "same", nil)
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestUnknownKind(t *testing.T) {
	q := newTestQueue(t, Options{})
	_, err := q.Enqueue(context.Background(), "nope", "", nil)
	assert.ErrorIs(t, err, ErrUnknownJob)
}

func TestStopRejectsAndDrains(t *testing.T) {
	q := NewQueue(quietLogger(), Options{Workers: 1, Buffer: 10})
	var n atomic.Int32
	q.Handle("x", func(ctx context.Context, j Job) error {
		n.Add(1)
		return nil
	})
	for i := 0; i < 5; i++ {
		_, err := q.Enqueue(context.Background(), "x", "", nil)
		require.NoError(t, err)
	}
	q.Start(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, q.Stop(ctx))
	assert.Equal(t, int32(5), n.Load())

	_, err := q.Enqueue(context.Background(), "x", "", nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPanicIsAFailure(t *testing.T) {
	q := newTestQueue(t, Options{Workers: 1, MaxAttempts: 2})
	var attempts atomic.Int32
	q.Handle("boom", func(ctx context.Context, j Job) error {
		attempts.Add(1)
		panic("oops")
	})
	q.Start(context.Background())
	_, _ = q.Enqueue(context.Background(), "boom", "", nil)

	require.Eventually(t, func() bool { return attempts.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	q := NewQueue(quietLogger(), Options{Backoff: time.Second})
	assert.Equal(t, time.Second, q.backoff(1))
	assert.Equal(t, 2*time.Second, q.backoff(2))
	assert.Equal(t, 4*time.Second, q.backoff(3))
	assert.Equal(t, 30*time.Second, q.backoff(10))
	assert.Equal(t, 30*time.Second, q.backoff(80))
}

func TestPacing(t *testing.T) {
	q := newTestQueue(t, Options{Workers: 4})
	q.Pace("paced", 20, 1)
	var wg sync.WaitGroup
	q.Handle("paced", func(ctx context.Context, j Job) error {
		wg.Done()
		return nil
	})
	q.Start(context.Background())

	start := time.Now()
	for i := 0; i < 5; i++ {
		wg.Add(1)
		_, _ = q.Enqueue(context.Background(), "paced", "", nil)
	}
	wg.Wait()
	// burst of one then 50ms apart
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestSchedulerRunsTask(t *testing.T) {
	s := NewScheduler(quietLogger())
	ran := make(chan struct{}, 1)
	require.NoError(t, s.Add("@every 1s", "tick", func(ctx context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	}))
	s.Start()
	defer s.Stop()

	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("scheduled task did not run")
	}
}

func TestSchedulerRejectsBadSpec(t *testing.T) {
	s := NewScheduler(quietLogger())
	assert.Error(t, s.Add("not a spec", "bad", func(context.Context) error { return nil }))
}
