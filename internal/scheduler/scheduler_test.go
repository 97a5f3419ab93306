package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/brightmont/academy/internal/clock"
	obsmetrics "github.com/brightmont/academy/internal/observability/metrics"
	paymentdomain "github.com/brightmont/academy/internal/payment/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakePaymentService struct {
	paymentdomain.Service

	batches []int
	calls   int
	err     error
}

func (f *fakePaymentService) ExpireStale(ctx context.Context, limit int) (int, error) {
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	if len(f.batches) == 0 {
		return 0, nil
	}
	n := f.batches[0]
	f.batches = f.batches[1:]
	return n, nil
}

func newTestScheduler(t *testing.T, svc *fakePaymentService, cfg Config) *Scheduler {
	t.Helper()
	obsmetrics.ResetSchedulerMetricsForTest()

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	sched, err := New(Params{
		Log:        zaptest.NewLogger(t),
		PaymentSvc: svc,
		GenID:      node,
		Clock:      clock.NewFakeClock(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)),
		Config:     cfg,
	})
	require.NoError(t, err)
	return sched
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Params{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRunOnceDrainsBatches(t *testing.T) {
	svc := &fakePaymentService{batches: []int{10, 10, 3}}
	sched := newTestScheduler(t, svc, Config{BatchSize: 10})

	require.NoError(t, sched.RunOnce(context.Background()))

	// Two full batches and one partial batch, then the drain stops.
	assert.Equal(t, 3, svc.calls)
}

func TestRunOnceStopsOnShortBatch(t *testing.T) {
	svc := &fakePaymentService{batches: []int{2}}
	sched := newTestScheduler(t, svc, Config{BatchSize: 10})

	require.NoError(t, sched.RunOnce(context.Background()))
	assert.Equal(t, 1, svc.calls)
}

func TestRunOncePropagatesErrors(t *testing.T) {
	boom := errors.New("db down")
	svc := &fakePaymentService{err: boom}
	sched := newTestScheduler(t, svc, Config{BatchSize: 10})

	err := sched.RunOnce(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestRunOnceSwallowsTimeout(t *testing.T) {
	svc := &fakePaymentService{err: context.DeadlineExceeded}
	sched := newTestScheduler(t, svc, Config{BatchSize: 10})

	// Deadline errors are soft: logged and counted, never bubbled up.
	assert.NoError(t, sched.RunOnce(context.Background()))
}
