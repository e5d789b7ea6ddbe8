/**
 * @description
 * Cron-driven eligibility sweep. The broker is the primary unlock path; the
 * sweep backstops lost deliveries by periodically re-evaluating every
 * beneficiary holding a gated installment.
 */
package app

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper runs the periodic eligibility sweep.
type Sweeper struct {
	cron     *cron.Cron
	service  *Service
	schedule string
}

// NewSweeper creates a sweeper that runs on the given cron schedule
// (standard cron spec or descriptors like "@every 10m").
func NewSweeper(service *Service, schedule string) *Sweeper {
	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger)))
	return &Sweeper{
		cron:     c,
		service:  service,
		schedule: schedule,
	}
}

// Start registers the sweep job and starts the scheduler.
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.runSweep); err != nil {
		return err
	}
	log.Printf("level=info component=sweeper msg=\"scheduled eligibility sweep\" schedule=%q", s.schedule)
	s.cron.Start()
	return nil
}

func (s *Sweeper) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := s.service.SweepEligibility(ctx); err != nil {
		log.Printf("level=warn component=sweeper msg=\"eligibility sweep finished with errors\" err=%v", err)
	}
}

// Stop gracefully stops the scheduler and returns a context that is done once
// running jobs have finished.
func (s *Sweeper) Stop() context.Context {
	return s.cron.Stop()
}
