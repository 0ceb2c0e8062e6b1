package jobs

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/robfig/cron/v3"

	"github.com/Ramsey-B/fern/pkg/scheduler"
)

// Job is a unit of periodic work hosted by CronHost
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// CronHost runs jobs on cron expressions. A job whose previous run has not
// finished is skipped rather than overlapped.
type CronHost struct {
	cron    *cron.Cron
	entries map[string]cron.EntryID
	logger  ectologger.Logger
	ctx     context.Context
}

func NewCronHost(logger ectologger.Logger) *CronHost {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &CronHost{
		cron:    cron.New(cron.WithParser(parser), cron.WithLocation(time.UTC)),
		entries: make(map[string]cron.EntryID),
		logger:  logger,
	}
}

// AddJob schedules job on spec, e.g. "*/5 * * * *" or "@every 1m"
func (c *CronHost) AddJob(job Job, spec string) error {
	log := c.logger.WithContext(context.Background()).WithFields(map[string]any{"job": job.Name(), "spec": spec})

	entryID, err := c.cron.AddFunc(spec, c.wrap(job, spec))
	if err != nil {
		log.WithError(err).Error("Failed to schedule job")
		return err
	}
	c.entries[job.Name()] = entryID
	log.Info("Job scheduled")
	return nil
}

func (c *CronHost) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	c.ctx = ctx
	c.cron.Start()
}

// Stop waits for running jobs to return
func (c *CronHost) Stop() {
	ctx := c.cron.Stop()
	<-ctx.Done()
}

func (c *CronHost) wrap(job Job, spec string) func() {
	var running atomic.Bool
	return func() {
		ctx := c.ctx
		if ctx == nil {
			ctx = context.Background()
		}
		log := c.logger.WithContext(ctx).WithFields(map[string]any{
			"job":  job.Name(),
			"spec": spec,
		})

		if !running.CompareAndSwap(false, true) {
			log.Info("Job skipped: still running")
			return
		}
		defer running.Store(false)

		start := time.Now()
		log.Debug("Job started")
		if err := job.Run(ctx); err != nil {
			log.WithError(err).WithField("duration", time.Since(start).String()).Error("Job failed")
			return
		}
		log.WithField("duration", time.Since(start).String()).Debug("Job finished")
	}
}

// HistoryCleanupJob prunes execution history past the retention window
type HistoryCleanupJob struct {
	scheduler *scheduler.Scheduler
	retention time.Duration
}

func NewHistoryCleanupJob(sched *scheduler.Scheduler, retention time.Duration) *HistoryCleanupJob {
	return &HistoryCleanupJob{scheduler: sched, retention: retention}
}

func (j *HistoryCleanupJob) Name() string {
	return "history-cleanup"
}

func (j *HistoryCleanupJob) Run(ctx context.Context) error {
	if j.retention <= 0 {
		return nil
	}
	_, err := j.scheduler.PruneHistory(ctx, j.retention)
	return err
}

var (
	_ Job = (*Driver)(nil)
	_ Job = (*HistoryCleanupJob)(nil)
)
