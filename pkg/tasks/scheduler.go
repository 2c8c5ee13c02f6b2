package tasks

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Intervals holds the cadence of the three periodic jobs.
type Intervals struct {
	ArchivalScan     time.Duration
	ConsistencyCheck time.Duration
	DLQMonitor       time.Duration
}

// Scheduler runs the archival scan, consistency check and DLQ monitor on
// their configured cadences. Jobs are wrapped in a skip-if-still-running
// guard so a scan that outlives its interval suppresses the next tick
// instead of overlapping itself.
type Scheduler struct {
	c *cron.Cron
}

func NewScheduler(archiver *Archiver, checker *ConsistencyChecker, dlq *DLQMonitor, iv Intervals) (*Scheduler, error) {
	cronLog := &cronLogger{logger: log.Logger}
	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cronLog),
		cron.Recover(cronLog),
	))

	jobs := []struct {
		name     string
		interval time.Duration
		run      func(context.Context) error
	}{
		{"archival-scan", iv.ArchivalScan, archiver.RunOnce},
		{"consistency-check", iv.ConsistencyCheck, func(ctx context.Context) error {
			_, err := checker.RunOnce(ctx)
			return err
		}},
		{"dlq-monitor", iv.DLQMonitor, dlq.RunOnce},
	}

	for _, j := range jobs {
		j := j
		if j.interval <= 0 {
			return nil, errors.Errorf("scheduler: non-positive interval for %s", j.name)
		}
		_, err := c.AddFunc("@every "+j.interval.String(), func() {
			if err := j.run(context.Background()); err != nil {
				log.Error().Err(err).Str("job", j.name).Msg("scheduled job failed")
			}
		})
		if err != nil {
			return nil, errors.Wrapf(err, "scheduler: schedule %s", j.name)
		}
	}

	return &Scheduler{c: c}, nil
}

func (s *Scheduler) Start() {
	s.c.Start()
}

// Stop halts scheduling and waits for any in-flight job to finish.
func (s *Scheduler) Stop() {
	<-s.c.Stop().Done()
}

type cronLogger struct {
	logger zerolog.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
