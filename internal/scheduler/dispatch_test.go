package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"cadence/internal/core"
	"cadence/pkg/logx"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []string
}

func (r *recordingSender) Send(_ context.Context, _, _, payload string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, payload)
	return nil
}

func (r *recordingSender) payloads() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent...)
}

type directRetryer struct{}

func (directRetryer) Do(ctx context.Context, _ string, send core.SendFunc) core.RetryResult {
	if err := send(ctx); err != nil {
		return core.RetryResult{Attempts: 1, Err: err}
	}
	return core.RetryResult{Attempts: 1}
}

func newDispatchHarness(window time.Duration, clock core.Clock) (*Dispatcher, *recordingSender, *countingObserver) {
	sender := &recordingSender{}
	obs := &countingObserver{}
	proc := &core.Processor{
		Cooldown: core.NewCooldownGate(core.CooldownConfig{}),
		Dedupe:   core.NewDedupeDetector(core.DedupeConfig{}),
		Permit:   core.NewPermitGate(core.PermitConfig{}),
		Sender:   sender,
		Retryer:  directRetryer{},
		Metrics:  obs,
		Clock:    clock,
		Log:      logx.Nop(),
	}
	queue := core.NewCoalesceQueue(core.CoalesceConfig{Window: window, Threshold: 100})
	d := &Dispatcher{
		Queue:     queue,
		Processor: proc,
		Clock:     clock,
		Log:       logx.Nop(),
		Metrics:   obs,
		Window:    window,
	}
	return d, sender, obs
}

func dispatchReq(job, payload string) core.SendRequest {
	return core.SendRequest{
		Platform:      "discord",
		Channel:       "general",
		Job:           job,
		Payload:       payload,
		CorrelationID: payload,
	}
}

func TestDispatchReadySendsClosedBatches(t *testing.T) {
	clock := core.NewManualClock(time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC))
	d, sender, _ := newDispatchHarness(10*time.Second, clock)

	d.Queue.Push(dispatchReq("news", "hello"), clock.Now())
	d.dispatchReady(context.Background())
	if got := sender.payloads(); len(got) != 0 {
		t.Fatalf("open batch dispatched: %v", got)
	}

	clock.Advance(10 * time.Second)
	d.dispatchReady(context.Background())
	if got := sender.payloads(); len(got) != 1 || got[0] != "hello" {
		t.Fatalf("sent = %v", got)
	}
}

func TestDispatchCanceledContextRequeues(t *testing.T) {
	clock := core.NewManualClock(time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC))
	d, sender, _ := newDispatchHarness(time.Second, clock)

	d.Queue.Push(dispatchReq("news", "hello"), clock.Now())
	clock.Advance(time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.dispatchReady(ctx)
	if got := sender.payloads(); len(got) != 0 {
		t.Fatalf("canceled dispatch still sent: %v", got)
	}
	if !d.Queue.Pending() {
		t.Fatalf("batch lost on cancel")
	}
}

func TestRunDrainsOnShutdown(t *testing.T) {
	clock := core.NewManualClock(time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC))
	d, sender, _ := newDispatchHarness(time.Minute, clock)

	// Still inside the coalesce window when shutdown hits.
	d.Queue.Push(dispatchReq("news", "pending"), clock.Now())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := d.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := sender.payloads(); len(got) != 1 || got[0] != "pending" {
		t.Fatalf("drain did not flush: %v", got)
	}
}

func TestDrainGraceAbandonsRemainder(t *testing.T) {
	clock := core.NewManualClock(time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC))
	d, sender, obs := newDispatchHarness(time.Minute, clock)
	d.DrainGrace = time.Nanosecond

	d.Queue.Push(dispatchReq("news", "a"), clock.Now())
	d.Queue.Push(dispatchReq("weather", "b"), clock.Now())

	d.drain()

	if got := sender.payloads(); len(got) != 0 {
		t.Fatalf("expired grace still sent: %v", got)
	}
	if obs.count("shutdown") != 2 {
		t.Fatalf("shutdown metric = %d", obs.count("shutdown"))
	}
}

func TestTickClamps(t *testing.T) {
	cases := []struct {
		window time.Duration
		want   time.Duration
	}{
		{10 * time.Millisecond, 50 * time.Millisecond},
		{500 * time.Millisecond, 500 * time.Millisecond},
		{time.Minute, time.Second},
	}
	for _, tc := range cases {
		d := &Dispatcher{Window: tc.window}
		if got := d.tick(); got != tc.want {
			t.Fatalf("tick(%v) = %v, want %v", tc.window, got, tc.want)
		}
	}
}
