package jobs

import (
	"fmt"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/jasondsmith72/CWM-MCP/internal/services"
)

// ContextSweeper runs the periodic eviction pass over the context registry.
type ContextSweeper struct {
	scheduler gocron.Scheduler
	registry  *services.ContextRegistry
	interval  time.Duration
	threshold time.Duration
}

// NewContextSweeper creates the sweeper. interval is how often the pass runs,
// threshold is how long a context may sit idle before eviction.
func NewContextSweeper(registry *services.ContextRegistry, interval, threshold time.Duration) (*ContextSweeper, error) {
	scheduler, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	return &ContextSweeper{
		scheduler: scheduler,
		registry:  registry,
		interval:  interval,
		threshold: threshold,
	}, nil
}

// Start schedules the sweep and begins running it.
func (s *ContextSweeper) Start() error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func() {
			s.registry.Sweep(time.Now(), s.threshold)
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule context sweep: %w", err)
	}

	s.scheduler.Start()
	log.Printf("⏰ [SWEEP] Context sweep scheduled every %s (idle threshold %s)", s.interval, s.threshold)
	return nil
}

// Stop shuts the scheduler down and waits for a running sweep to finish.
func (s *ContextSweeper) Stop() error {
	return s.scheduler.Shutdown()
}
