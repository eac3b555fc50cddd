package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"process-calendar-api/internal/metrics"
)

// Scheduler runs periodic tasks on cron specs ("@every 1m", "0 3 * * *").
type Scheduler struct {
	c       *cron.Cron
	log     *logrus.Entry
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration
}

type cronLogger struct{ e *logrus.Entry }

func (l cronLogger) Info(msg string, kv ...any) {
	l.e.WithFields(fields(kv)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.e.WithFields(fields(kv)).WithError(err).Error(msg)
}

func fields(kv []any) logrus.Fields {
	f := logrus.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			f[k] = kv[i+1]
		}
	}
	return f
}

func NewScheduler(log *logrus.Logger) *Scheduler {
	e := log.WithField("component", "cron")
	cl := cronLogger{e}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		c: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		log:     e,
		ctx:     ctx,
		cancel:  cancel,
		timeout: 5 * time.Minute,
	}
}

// Add registers fn under name. Each run gets a context that is cancelled
// on Stop or after the run timeout.
func (s *Scheduler) Add(spec, name string, fn func(ctx context.Context) error) error {
	_, err := s.c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
		defer cancel()

		start := time.Now()
		err := fn(ctx)
		metrics.RecordJob("cron."+name, time.Since(start), err)
		if err != nil {
			s.log.WithField("task", name).WithError(err).Error("scheduled task failed")
		}
	})
	return err
}

func (s *Scheduler) Start() { s.c.Start() }

// Stop cancels running tasks and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.c.Stop().Done()
}
