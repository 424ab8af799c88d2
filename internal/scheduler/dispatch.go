package scheduler

import (
	"context"
	"time"

	"cadence/internal/core"
	"cadence/pkg/logx"
)

// Dispatcher drains ready batches from the queue into the processor. It
// handles batches one at a time so per-key ordering survives end to end.
type Dispatcher struct {
	Queue      *core.CoalesceQueue
	Processor  *core.Processor
	Scheduler  *Scheduler
	Clock      core.Clock
	Log        logx.Logger
	Metrics    core.Observer
	Window     time.Duration
	DrainGrace time.Duration
}

const defaultDrainGrace = 5 * time.Second

func (d *Dispatcher) tick() time.Duration {
	t := d.Window
	if t > time.Second {
		t = time.Second
	}
	if t < 50*time.Millisecond {
		t = 50 * time.Millisecond
	}
	return t
}

// Run loops until ctx is canceled, then drains whatever is still queued
// within the grace window. Drain dispatch skips jitter.
func (d *Dispatcher) Run(ctx context.Context) error {
	tick := d.tick()
	timer := time.NewTimer(tick)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			d.drain()
			return nil
		case <-timer.C:
		}
		d.dispatchReady(ctx)
		timer.Reset(tick)
	}
}

func (d *Dispatcher) dispatchReady(ctx context.Context) {
	now := d.Clock.Now()
	for _, batch := range d.Queue.PopReady(now) {
		if ctx.Err() != nil {
			d.requeue(batch)
			return
		}
		if d.Scheduler != nil {
			if delay := d.Scheduler.jitterDelay(); delay > 0 {
				t := time.NewTimer(delay)
				select {
				case <-ctx.Done():
					t.Stop()
					d.requeue(batch)
					return
				case <-t.C:
				}
			}
		}
		_ = d.Processor.Process(ctx, batch)
	}
}

// requeue puts an undispatched batch back so drain sees it.
func (d *Dispatcher) requeue(batch *core.Batch) {
	for _, req := range batch.Requests {
		d.Queue.Push(req, batch.OpenedAt)
	}
}

func (d *Dispatcher) drain() {
	grace := d.DrainGrace
	if grace <= 0 {
		grace = defaultDrainGrace
	}
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	batches := d.Queue.FlushAll()
	if len(batches) == 0 {
		return
	}
	d.Log.Info("dispatch_drain",
		logx.String("event", "dispatch_drain"),
		logx.Int("batches", len(batches)),
	)
	abandoned := 0
	for i, batch := range batches {
		if ctx.Err() != nil {
			for _, b := range batches[i:] {
				abandoned += len(b.Requests)
			}
			break
		}
		_ = d.Processor.Process(ctx, batch)
	}
	if abandoned > 0 {
		d.Log.Warn("shutdown_abandoned",
			logx.String("event", "shutdown_abandoned"),
			logx.Int("requests", abandoned),
		)
		if d.Metrics != nil {
			for i := 0; i < abandoned; i++ {
				d.Metrics.Increment("shutdown", map[string]string{"reason": "drain_timeout"})
			}
		}
	}
}
