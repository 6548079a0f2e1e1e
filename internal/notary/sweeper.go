package notary

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	derrors "chronoseal/pkg/domain-errors"
	"chronoseal/pkg/requestcontext"
)

// SweepOnce seals one batch of due evidence with bounded concurrency. Partial
// completion under cancellation is normal: whatever was sealed stays sealed,
// the rest is picked up by the next pass.
func (s *Service) SweepOnce(ctx context.Context, now time.Time) (int, error) {
	due, err := s.store.ListDue(ctx, now, s.sweepBatch)
	if err != nil {
		return 0, derrors.Wrap(err, derrors.CodeInternal, "list due evidence failed")
	}
	if len(due) == 0 {
		return 0, nil
	}
	if s.metrics != nil {
		s.metrics.IncrementSweeps()
	}

	var sealed atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(s.sweepParallel)
	for _, evidence := range due {
		id := evidence.ID
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			sealCtx := requestcontext.WithTime(ctx, now)
			if _, err := s.Seal(sealCtx, id); err != nil {
				// Transient failures reschedule themselves; a conflict means
				// another worker got there first. Neither stops the sweep.
				if s.logger != nil && !derrors.HasCode(err, derrors.CodeConflict) {
					s.logger.WarnContext(ctx, "sweep seal attempt failed",
						"evidence_id", id, "error", err)
				}
				return nil
			}
			sealed.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		return int(sealed.Load()), ctx.Err()
	}
	return int(sealed.Load()), nil
}

// Run sweeps due evidence on the given interval until ctx is done.
func (s *Service) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := s.SweepOnce(ctx, time.Now())
			if err != nil && !errors.Is(err, context.Canceled) {
				if s.logger != nil {
					s.logger.ErrorContext(ctx, "notarization sweep failed", "error", err)
				}
				continue
			}
			if n > 0 && s.logger != nil {
				s.logger.InfoContext(ctx, "notarization sweep completed", "sealed", n)
			}
		}
	}
}
