package housekeeping

import (
	"context"
	"sync"
	"time"

	"github.com/wolfman30/salon-concierge/pkg/logging"
)

// JobFunc performs one housekeeping pass and reports how many records it
// touched.
type JobFunc func(ctx context.Context) (int, error)

// Worker runs a JobFunc on a fixed interval until its context ends.
type Worker struct {
	name     string
	job      JobFunc
	logger   *logging.Logger
	interval time.Duration
}

// NewWorker creates a worker named name. The default interval is ten
// minutes.
func NewWorker(name string, job JobFunc, logger *logging.Logger) *Worker {
	if logger == nil {
		logger = logging.Default()
	}
	return &Worker{
		name:     name,
		job:      job,
		logger:   logger.With("worker", name),
		interval: 10 * time.Minute,
	}
}

// WithInterval sets the pass interval; non-positive values are ignored.
func (w *Worker) WithInterval(d time.Duration) *Worker {
	if d > 0 {
		w.interval = d
	}
	return w
}

// Interval returns the configured pass interval.
func (w *Worker) Interval() time.Duration { return w.interval }

// Start runs the worker. Blocks until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("starting housekeeping worker", "interval", w.interval.String())

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Run once immediately on startup
	w.pass(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("housekeeping worker shutting down")
			return
		case <-ticker.C:
			w.pass(ctx)
		}
	}
}

// RunOnce performs a single pass.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	return w.job(ctx)
}

func (w *Worker) pass(ctx context.Context) {
	n, err := w.job(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error("housekeeping pass failed", "error", err)
		}
		return
	}
	if n > 0 {
		w.logger.Info("housekeeping pass complete", "removed", n)
		return
	}
	w.logger.Debug("housekeeping pass found nothing to do")
}

// Group starts several workers and waits for all of them to stop.
type Group struct {
	workers []*Worker
}

// NewGroup collects workers; nil entries are skipped.
func NewGroup(workers ...*Worker) *Group {
	g := &Group{}
	for _, w := range workers {
		if w != nil {
			g.workers = append(g.workers, w)
		}
	}
	return g
}

// Len reports how many workers the group runs.
func (g *Group) Len() int { return len(g.workers) }

// Run starts every worker and blocks until ctx is cancelled and all have
// returned.
func (g *Group) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range g.workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			w.Start(ctx)
		}(w)
	}
	wg.Wait()
}

// SessionSweep adapts anything with a Sweep method into a job.
func SessionSweep(s interface {
	Sweep(ctx context.Context) (int, error)
}) JobFunc {
	return s.Sweep
}

// BookingExpiry adapts the booking service's ExpireDue into a job.
func BookingExpiry(s interface {
	ExpireDue(ctx context.Context) (int, error)
}) JobFunc {
	return s.ExpireDue
}

// LimiterPrune adapts a rate limiter's Prune into a job.
func LimiterPrune(p interface{ Prune() int }) JobFunc {
	return func(context.Context) (int, error) {
		return p.Prune(), nil
	}
}
