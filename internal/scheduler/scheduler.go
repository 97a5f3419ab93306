package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/brightmont/academy/internal/clock"
	obscontext "github.com/brightmont/academy/internal/observability/context"
	obslogger "github.com/brightmont/academy/internal/observability/logger"
	obsmetrics "github.com/brightmont/academy/internal/observability/metrics"
	paymentdomain "github.com/brightmont/academy/internal/payment/domain"
	"github.com/brightmont/academy/internal/ratelimit"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const expireJobLockKey = "scheduler:lock:expire_payments"

var ErrInvalidConfig = errors.New("scheduler misconfigured")

type Params struct {
	fx.In

	Log        *zap.Logger
	PaymentSvc paymentdomain.Service
	GenID      *snowflake.Node
	Clock      clock.Clock
	Locker     *ratelimit.Locker `optional:"true"`
	Config     Config            `optional:"true"`
}

// Scheduler sweeps PENDING payments whose checkout window has lapsed and
// marks them EXPIRED so the student can initiate again.
type Scheduler struct {
	log        *zap.Logger
	cfg        Config
	genID      *snowflake.Node
	clock      clock.Clock
	paymentSvc paymentdomain.Service
	locker     *ratelimit.Locker
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.PaymentSvc == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        p.Config.withDefaults(),
		genID:      p.GenID,
		clock:      p.Clock,
		paymentSvc: p.PaymentSvc,
		locker:     p.Locker,
	}, nil
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	return s.runJob(parent, "expire_payments", s.cfg.JobTimeout, s.ExpirePaymentsJob)
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		if lag := time.Since(nextRun); lag > 0 {
			schedMetrics.ObserveRunLoopLag(lag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ExpirePaymentsJob drains stale PENDING payments batch by batch. Each
// transition is serialized by the database; the redis lock only keeps
// replicas from sweeping the same rows at once.
func (s *Scheduler) ExpirePaymentsJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, "expire_payments", s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	release, acquired, err := s.tryLock(ctx)
	if err != nil {
		s.logger(ctx).Warn("sweeper lock unavailable, proceeding unlocked", zap.Error(err))
	} else if !acquired {
		s.logger(ctx).Debug("another replica holds the sweeper lock")
		return nil
	}
	if release != nil {
		defer release()
	}

	var jobErr error
	for {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}

		expired, err := s.paymentSvc.ExpireStale(ctx, s.cfg.BatchSize)
		if err != nil {
			run.IncError()
			jobErr = errors.Join(jobErr, err)
			break
		}
		run.AddProcessed(expired)
		if expired > 0 {
			obsmetrics.Scheduler().AddBatchProcessed("expire_payments", "payments", expired)
		}
		if expired < s.cfg.BatchSize {
			break
		}
	}
	return jobErr
}

func (s *Scheduler) runJob(parent context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx = obscontext.WithActor(ctx, "system", "scheduler")
	ctx, run, owner := s.ensureJobRun(ctx, name, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
	}

	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		schedMetrics.IncJobTimeout(name)
		s.logger(ctx).Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	schedMetrics.IncJobError(name, err)
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) tryLock(ctx context.Context) (func(), bool, error) {
	if s.locker == nil {
		return nil, true, nil
	}
	token, ok, err := s.locker.TryLock(ctx, expireJobLockKey, s.cfg.LockTTL)
	if err != nil {
		return nil, true, err
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), expireJobLockKey, token); err != nil {
			s.log.Warn("sweeper lock release failed", zap.Error(err))
		}
	}
	return release, true, nil
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}
