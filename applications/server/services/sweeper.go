package services

import (
	"context"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/donmikel/chunkup/applications/server"
)

const defaultSweepInterval = time.Minute

// Sweeper periodically removes expired upload sessions and their chunk parts.
type Sweeper struct {
	svc      server.UploadService
	interval time.Duration
	logger   log.Logger
	now      func() time.Time
}

func NewSweeper(svc server.UploadService, interval time.Duration, logger log.Logger) *Sweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}

	return &Sweeper{
		svc:      svc,
		interval: interval,
		logger:   log.With(logger, "component", "sweeper"),
		now:      time.Now,
	}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep(ctx)

	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	removed, err := s.svc.SweepExpired(ctx, s.now())
	if err != nil {
		sweepErrors.Inc()
		level.Error(s.logger).Log("msg", "sweep failed", "removed", removed, "err", err)
		return
	}

	if removed > 0 {
		level.Info(s.logger).Log("msg", "expired sessions removed", "count", removed)
	}
}
