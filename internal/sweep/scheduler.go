package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// Scheduler runs a Sweeper periodically. Runs never overlap: a tick that
// arrives while a sweep is still going is rescheduled, not queued.
type Scheduler struct {
	cron    gocron.Scheduler
	sweeper *Sweeper
	logger  *slog.Logger

	// OnReport, when set, receives every completed report.
	OnReport func(*Report)
}

// NewScheduler registers the sweep job. The first run starts immediately
// once Start is called.
func NewScheduler(s *Sweeper, every time.Duration) (*Scheduler, error) {
	if every <= 0 {
		return nil, fmt.Errorf("sweep interval must be positive, got %s", every)
	}
	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	sched := &Scheduler{cron: cron, sweeper: s, logger: s.logger}
	_, err = cron.NewJob(
		gocron.DurationJob(every),
		gocron.NewTask(sched.tick),
		gocron.WithName("dedup-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		_ = cron.Shutdown()
		return nil, fmt.Errorf("register sweep job: %w", err)
	}
	return sched, nil
}

func (s *Scheduler) tick(ctx context.Context) {
	report, err := s.sweeper.Run(ctx, false)
	if err != nil {
		s.logger.Error("scheduled sweep failed", "error", err)
		return
	}
	if s.OnReport != nil {
		s.OnReport(report)
	}
}

// Start begins running the job in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Run starts the scheduler and blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Start()
	<-ctx.Done()
	return s.Shutdown()
}

// Shutdown stops the scheduler and waits for a running sweep to finish.
func (s *Scheduler) Shutdown() error {
	return s.cron.Shutdown()
}
