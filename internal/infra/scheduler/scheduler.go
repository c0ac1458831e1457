package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"chat-token-budget/internal/infra/metrics"
)

// Job is one unit of periodic housekeeping. Run returns how many items it
// affected so the loop can log non-trivial passes.
type Job interface {
	Name() string
	Run(ctx context.Context) (int64, error)
}

// JobFunc adapts a plain function to Job.
type JobFunc struct {
	JobName string
	Fn      func(ctx context.Context) (int64, error)
}

func (j JobFunc) Name() string                           { return j.JobName }
func (j JobFunc) Run(ctx context.Context) (int64, error) { return j.Fn(ctx) }

// Scheduler periodically runs its jobs in order, each with a bounded timeout.
type Scheduler struct {
	interval   time.Duration
	runTimeout time.Duration
	jobs       []Job
	logger     *zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler constructs a scheduler that runs jobs every interval.
// If interval <= 0 it defaults to 1 minute.
func NewScheduler(interval time.Duration, logger *zerolog.Logger, jobs ...Job) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Scheduler{
		interval:   interval,
		runTimeout: 30 * time.Second,
		jobs:       jobs,
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// Start begins the loop in a background goroutine. Calling Start twice has no effect.
func (s *Scheduler) Start(parentCtx context.Context) {
	if s.ctx != nil {
		return
	}
	ctx, cancel := context.WithCancel(parentCtx)
	s.ctx = ctx
	s.cancel = cancel

	go s.loop()
}

func (s *Scheduler) loop() {
	ticker := time.NewTicker(s.interval)
	defer func() {
		ticker.Stop()
		close(s.done)
	}()

	s.logger.Info().Dur("interval", s.interval).Int("jobs", len(s.jobs)).Msg("scheduler started")
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(s.ctx)
		}
	}
}

// RunOnce executes every job once. Errors are logged; one failing job does
// not stop the rest.
func (s *Scheduler) RunOnce(ctx context.Context) {
	for _, j := range s.jobs {
		runCtx, cancel := context.WithTimeout(ctx, s.runTimeout)
		n, err := j.Run(runCtx)
		cancel()
		metrics.IncJobRun(j.Name(), err == nil)
		if err != nil {
			s.logger.Error().Err(err).Str("job", j.Name()).Msg("scheduled job failed")
			continue
		}
		if n > 0 {
			s.logger.Info().Str("job", j.Name()).Int64("affected", n).Msg("scheduled job done")
		}
	}
}

// Stop cancels the loop and waits for it to finish. It is idempotent.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.ctx = nil
	s.cancel = nil
	s.done = make(chan struct{})
	s.logger.Info().Msg("scheduler stopped")
}
