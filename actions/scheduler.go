package actions

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler refreshes a Repository on a cron schedule.
type Scheduler struct {
	repo    *Repository
	cron    *cron.Cron
	timeout time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// NewScheduler registers a refresh for spec ("@every 15m" or a standard
// five-field expression). Each run is bounded by timeout.
func NewScheduler(repo *Repository, spec string, timeout time.Duration, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	s := &Scheduler{
		repo:    repo,
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		timeout: timeout,
		logger:  logger,
	}
	if _, err := s.cron.AddFunc(spec, s.refresh); err != nil {
		return nil, fmt.Errorf("parse refresh schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.repo.Refresh(ctx); err != nil {
		s.logger.Warn("scheduled action refresh failed", "error", err)
	}
}

// Start runs one refresh in the background and then follows the schedule.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.refresh()
	}()
	s.cron.Start()
}

// Stop halts the schedule and waits for a running refresh, or until ctx ends.
func (s *Scheduler) Stop(ctx context.Context) {
	cronDone := s.cron.Stop()
	initial := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(initial)
	}()
	for _, done := range []<-chan struct{}{cronDone.Done(), initial} {
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
	}
}
