package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

const defaultSweepInterval = 15 * time.Minute

// Scheduler runs the idempotent background sweeps on a fixed timer:
// closing fully repaid loans and moving excess fund contributions into
// savings. Single-threaded; every action it takes is guarded by a state
// check, so overlapping or repeated runs are harmless.
type Scheduler struct {
	Interval time.Duration
	Loans    *LoanService
	Deposits *DepositService
}

// Run blocks until ctx is cancelled, sweeping once per interval.
func (s *Scheduler) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	log.Info().Dur("interval", interval).Msg("scheduler running")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("scheduler stopped")
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if err := s.Loans.CloseRepaid(ctx); err != nil {
		log.Warn().Err(err).Msg("loan close sweep failed")
	}
	if err := s.Deposits.SweepExcess(ctx); err != nil {
		log.Warn().Err(err).Msg("excess contribution sweep failed")
	}
}
