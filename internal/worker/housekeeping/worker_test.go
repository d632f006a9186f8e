package housekeeping

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/salon-concierge/internal/session"
	"github.com/wolfman30/salon-concierge/pkg/logging"
)

type countingJob struct {
	calls atomic.Int32
	n     int
	err   error
}

func (c *countingJob) run(context.Context) (int, error) {
	c.calls.Add(1)
	return c.n, c.err
}

func TestWorkerRunsImmediatelyAndOnTicks(t *testing.T) {
	job := &countingJob{n: 1}
	w := NewWorker("test", job.run, nil).WithInterval(5 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return job.calls.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}

func TestWorkerLogsFailures(t *testing.T) {
	var buf bytes.Buffer
	job := &countingJob{err: errors.New("db down")}
	w := NewWorker("expiry", job.run, logging.NewWithWriter(&buf, "info"))

	w.pass(context.Background())
	assert.Contains(t, buf.String(), "housekeeping pass failed")
	assert.Contains(t, buf.String(), `"worker":"expiry"`)
	assert.Contains(t, buf.String(), "db down")
}

func TestWithIntervalIgnoresNonPositive(t *testing.T) {
	w := NewWorker("test", (&countingJob{}).run, nil)
	w.WithInterval(0).WithInterval(-time.Second)
	assert.Equal(t, 10*time.Minute, w.Interval())
}

func TestSessionSweepJob(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore()
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, store.Put(ctx, session.New("stale", old)))
	require.NoError(t, store.Put(ctx, session.New("fresh", time.Now())))

	sweeper := sweepFunc(func(ctx context.Context) (int, error) {
		return store.Sweep(ctx, time.Now().Add(-24*time.Hour))
	})
	n, err := NewWorker("sessions", SessionSweep(sweeper), nil).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, store.Len())
}

type sweepFunc func(ctx context.Context) (int, error)

func (f sweepFunc) Sweep(ctx context.Context) (int, error) { return f(ctx) }

type fakePruner struct{ n int }

func (p fakePruner) Prune() int { return p.n }

func TestLimiterPruneJob(t *testing.T) {
	n, err := LimiterPrune(fakePruner{n: 4})(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestGroupRunsAllWorkers(t *testing.T) {
	a, b := &countingJob{}, &countingJob{}
	g := NewGroup(
		NewWorker("a", a.run, nil).WithInterval(time.Hour),
		nil,
		NewWorker("b", b.run, nil).WithInterval(time.Hour),
	)
	assert.Equal(t, 2, g.Len())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		g.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool {
		return a.calls.Load() == 1 && b.calls.Load() == 1
	}, time.Second, time.Millisecond)
	cancel()
	<-done
}

type fakeExpirer struct{ expired int }

func (f *fakeExpirer) ExpireDue(context.Context) (int, error) { return f.expired, nil }

func TestBookingExpiryJob(t *testing.T) {
	n, err := NewWorker("bookings", BookingExpiry(&fakeExpirer{expired: 2}), nil).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
