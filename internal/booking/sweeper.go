package booking

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/fleet-rental-holds/internal/domain"
	"github.com/robertarktes/fleet-rental-holds/internal/observability"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultSweepInterval    = 60 * time.Second
	DefaultSweepBatchSize   = 500
	DefaultSweepConcurrency = 8
)

type ExpiredFinder interface {
	FindExpiredReserved(ctx context.Context, now time.Time, limit int) ([]domain.Reservation, error)
}

type Expirer interface {
	Expire(ctx context.Context, id string) (domain.Reservation, error)
}

type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	t *time.Ticker
}

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

func newTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

type SweepResult struct {
	Scanned int
	Expired int
	Skipped int
	Failed  int
}

func (r *SweepResult) add(o SweepResult) {
	r.Scanned += o.Scanned
	r.Expired += o.Expired
	r.Skipped += o.Skipped
	r.Failed += o.Failed
}

// Sweeper polls for holds past their deadline and expires them through the
// manager's conditional cancel, so a hold paid in the meantime is skipped.
// Expiration therefore lags the deadline by up to one interval.
type Sweeper struct {
	finder      ExpiredFinder
	expirer     Expirer
	logger      observability.Logger
	interval    time.Duration
	batchSize   int
	concurrency int
	now         func() time.Time
	newTicker   func(time.Duration) Ticker
}

type SweeperOption func(*Sweeper)

func WithInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) { s.interval = d }
}

func WithBatchSize(n int) SweeperOption {
	return func(s *Sweeper) { s.batchSize = n }
}

func WithConcurrency(n int) SweeperOption {
	return func(s *Sweeper) { s.concurrency = n }
}

func WithSweepClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) { s.now = now }
}

func WithTicker(newTicker func(time.Duration) Ticker) SweeperOption {
	return func(s *Sweeper) { s.newTicker = newTicker }
}

func NewSweeper(finder ExpiredFinder, expirer Expirer, logger observability.Logger, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		finder:      finder,
		expirer:     expirer,
		logger:      logger,
		interval:    DefaultSweepInterval,
		batchSize:   DefaultSweepBatchSize,
		concurrency: DefaultSweepConcurrency,
		now:         time.Now,
		newTicker:   newTimeTicker,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := s.newTicker(s.interval)
	defer ticker.Stop()

	s.logger.WithField("interval", s.interval.String()).Info("expiration sweeper started")
	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("expiration sweeper stopped")
			return
		case <-ticker.C():
			s.Tick(ctx)
		}
	}
}

// Tick runs one sweep. Failures on single holds are logged and counted; they
// are picked up again by the next tick.
func (s *Sweeper) Tick(ctx context.Context) SweepResult {
	started := time.Now()
	now := s.now()

	var res SweepResult
	for ctx.Err() == nil {
		candidates, err := s.finder.FindExpiredReserved(ctx, now, s.batchSize)
		if err != nil {
			s.logger.WithError(err).Error("failed to get expired holds")
			break
		}
		page := s.expireBatch(ctx, candidates)
		res.add(page)
		if len(candidates) < s.batchSize || page.Expired+page.Skipped == 0 {
			break
		}
	}

	observability.SweepDuration.Observe(time.Since(started).Seconds())
	observability.SweepResults.WithLabelValues("expired").Add(float64(res.Expired))
	observability.SweepResults.WithLabelValues("skipped").Add(float64(res.Skipped))
	observability.SweepResults.WithLabelValues("failed").Add(float64(res.Failed))
	if res.Scanned > 0 {
		s.logger.WithField("scanned", res.Scanned).
			WithField("expired", res.Expired).
			WithField("skipped", res.Skipped).
			WithField("failed", res.Failed).
			Info("expiration sweep finished")
	}
	return res
}

func (s *Sweeper) expireBatch(ctx context.Context, candidates []domain.Reservation) SweepResult {
	var expired, skipped, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, r := range candidates {
		g.Go(func() error {
			_, err := s.expirer.Expire(gctx, r.ID)
			switch {
			case err == nil:
				expired.Add(1)
			case errors.IsAny(err, domain.ErrCannotCancelPaidBooking, domain.ErrAlreadyCancelled, domain.ErrNotFound):
				skipped.Add(1)
				s.logger.WithField("reservation_id", r.ID).WithError(err).Debug("hold left the reserved state before expiry")
			default:
				failed.Add(1)
				s.logger.WithField("reservation_id", r.ID).WithError(err).Error("failed to expire hold")
			}
			return nil
		})
	}
	_ = g.Wait()

	return SweepResult{
		Scanned: len(candidates),
		Expired: int(expired.Load()),
		Skipped: int(skipped.Load()),
		Failed:  int(failed.Load()),
	}
}
