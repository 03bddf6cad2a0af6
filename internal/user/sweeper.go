package user

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// LockSweeper periodically clears lockouts that have already ended so the
// stored counters match what the next login would observe.
type LockSweeper struct {
	cron   *cron.Cron
	svc    *Service
	logger *zap.SugaredLogger
}

// NewLockSweeper schedules the sweep with a six field cron spec (seconds first).
func NewLockSweeper(svc *Service, schedule string, logger *zap.SugaredLogger) (*LockSweeper, error) {
	s := &LockSweeper{
		cron:   cron.New(cron.WithLocation(time.UTC), cron.WithSeconds()),
		svc:    svc,
		logger: logger,
	}
	if _, err := s.cron.AddFunc(schedule, s.Run); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *LockSweeper) Start() {
	s.logger.Infow("lock sweeper started")
	s.cron.Start()
}

// Stop stops scheduling and waits for a running sweep to finish.
func (s *LockSweeper) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Infow("lock sweeper stopped")
}

// Run performs one sweep.
func (s *LockSweeper) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	n, err := s.svc.SweepExpiredLocks(ctx)
	if err != nil {
		s.logger.Errorw("lock sweep failed", "err", err)
		return
	}
	if n > 0 {
		s.logger.Infow("expired locks cleared", "count", n)
	}
}
