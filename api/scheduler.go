/*
scheduler.go - Automated allowance accrual

PURPOSE:
  Runs the accrual engine on a fixed interval so allowance is paid without
  an external cron. Users attempted within the rate-limit window are
  skipped, so extra runs pay nothing.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on start
  - Each run is recorded by the engine's RunRecorder

CONFIGURATION:
  - CheckInterval: How often to run (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewAccrualScheduler(engine)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: TriggerAccrual endpoint (manual or cron trigger)
  - allowance/engine.go: Engine
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/teich/bank4/allowance"
)

// AccrualScheduler runs accrual batches periodically.
type AccrualScheduler struct {
	Engine        *allowance.Engine
	CheckInterval time.Duration
	Enabled       bool

	ticker  *time.Ticker
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	lastRun time.Time
}

// NewAccrualScheduler creates a new scheduler.
func NewAccrualScheduler(engine *allowance.Engine) *AccrualScheduler {
	return &AccrualScheduler{
		Engine:        engine,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
	}
}

// Start begins the scheduler.
func (s *AccrualScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run(s.ticker, s.stop)

	log.Printf("[Scheduler] Started with check interval: %v", s.CheckInterval)
}

// Stop stops the scheduler and waits for an in-flight run.
func (s *AccrualScheduler) Stop() {
	s.mu.Lock()
	ticker, stop := s.ticker, s.stop
	s.ticker, s.stop = nil, nil
	s.mu.Unlock()

	if ticker == nil {
		return
	}
	ticker.Stop()
	close(stop)
	s.wg.Wait()
	log.Println("[Scheduler] Stopped")
}

func (s *AccrualScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	s.RunNow()

	for {
		select {
		case <-ticker.C:
			s.RunNow()
		case <-stop:
			return
		}
	}
}

// RunNow runs one batch immediately (for testing/admin).
func (s *AccrualScheduler) RunNow() *allowance.RunResult {
	ctx := context.Background()
	started := time.Now()

	result, err := s.Engine.Run(ctx)

	s.mu.Lock()
	s.lastRun = started
	s.mu.Unlock()

	if err != nil {
		log.Printf("[Scheduler] Accrual run failed: %v", err)
		return nil
	}
	if result.ProcessedCount > 0 || len(result.Logs) > 0 {
		log.Printf("[Scheduler] Completed: %d paid, %d failed, %d skipped",
			result.ProcessedCount, len(result.Logs), len(result.Skipped))
	}
	return result
}

// GetNextRunTime returns when the next scheduled run will occur.
func (s *AccrualScheduler) GetNextRunTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastRun.IsZero() {
		return time.Now().Add(s.CheckInterval)
	}
	return s.lastRun.Add(s.CheckInterval)
}
