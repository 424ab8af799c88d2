package core

import (
	"sort"
	"sync"
	"time"
)

// CoalesceConfig bounds an open batch: Window is the maximum time a batch
// stays open, Threshold the maximum number of requests before it closes
// immediately.
type CoalesceConfig struct {
	Window    time.Duration
	Threshold int
}

// CoalesceQueue groups requests by (platform, channel, job) into batches.
// An open batch accepts appends until the window elapses, the threshold is
// reached, or a request with a different priority arrives; the first two
// close it, the last cuts it and opens a fresh batch so a single batch
// never mixes priorities.
type CoalesceQueue struct {
	mu    sync.Mutex
	cfg   CoalesceConfig
	open  map[BatchKey]*Batch
	ready []*Batch
}

func NewCoalesceQueue(cfg CoalesceConfig) *CoalesceQueue {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 1
	}
	return &CoalesceQueue{cfg: cfg, open: make(map[BatchKey]*Batch)}
}

// Reconfigure swaps the window and threshold. Batches already open keep
// their original deadline.
func (q *CoalesceQueue) Reconfigure(cfg CoalesceConfig) {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 1
	}
	q.mu.Lock()
	q.cfg = cfg
	q.mu.Unlock()
}

// Push adds a request to its key's open batch, opening one if needed.
func (q *CoalesceQueue) Push(r SendRequest, now time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := r.Key()
	b := q.open[key]
	if b != nil && b.Priority != r.Priority {
		q.ready = append(q.ready, b)
		delete(q.open, key)
		b = nil
	}
	if b == nil {
		b = &Batch{
			Key:      key,
			OpenedAt: now,
			Priority: r.Priority,
			Deadline: now.Add(q.cfg.Window),
		}
		q.open[key] = b
	}
	b.Requests = append(b.Requests, r)
	if len(b.Requests) >= q.cfg.Threshold {
		q.ready = append(q.ready, b)
		delete(q.open, key)
	}
}

// PopReady closes every open batch whose window has elapsed and returns all
// ready batches ordered by priority (highest first), then by open time.
func (q *CoalesceQueue) PopReady(now time.Time) []*Batch {
	q.mu.Lock()
	defer q.mu.Unlock()

	for key, b := range q.open {
		if !now.Before(b.Deadline) {
			q.ready = append(q.ready, b)
			delete(q.open, key)
		}
	}
	return q.takeReadyLocked()
}

// FlushAll closes and returns every batch, open or ready. Used on shutdown
// to drain pending work.
func (q *CoalesceQueue) FlushAll() []*Batch {
	q.mu.Lock()
	defer q.mu.Unlock()

	for key, b := range q.open {
		q.ready = append(q.ready, b)
		delete(q.open, key)
	}
	return q.takeReadyLocked()
}

func (q *CoalesceQueue) takeReadyLocked() []*Batch {
	if len(q.ready) == 0 {
		return nil
	}
	out := q.ready
	q.ready = nil
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out
}

// NextDeadline reports the earliest open-batch deadline, or false when no
// batch is open. The dispatch loop uses it to size its sleep.
func (q *CoalesceQueue) NextDeadline() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var earliest time.Time
	found := false
	for _, b := range q.open {
		if !found || b.Deadline.Before(earliest) {
			earliest = b.Deadline
			found = true
		}
	}
	return earliest, found
}

// Pending reports whether any batch is open or ready.
func (q *CoalesceQueue) Pending() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.open) > 0 || len(q.ready) > 0
}
