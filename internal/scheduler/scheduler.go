package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"cadence/internal/config"
	"cadence/internal/core"
	"cadence/pkg/logx"
)

// Factory builds one payload for a fired slot. Returning ("", nil) skips
// the slot without error.
type Factory func(ctx context.Context) (string, error)

// JobSpec is one registered job: its wall-clock slots, destination and
// payload factory.
type JobSpec struct {
	Name     string
	Slots    []string
	Channel  string
	Platform string
	Priority int
	Factory  Factory
}

// JitterConfig delays each batch dispatch by a uniform duration within
// [Min, Max], bounds inclusive.
type JitterConfig struct {
	Enabled bool
	Min     time.Duration
	Max     time.Duration
}

// Scheduler fires job factories on their cron slots and pushes the
// resulting requests into the coalescing queue. Factory invocations are
// never jittered; jitter applies at dispatch.
type Scheduler struct {
	mu     sync.Mutex
	c      *cron.Cron
	loc    *time.Location
	jobs   []JobSpec
	jitter JitterConfig

	queue   *core.CoalesceQueue
	clock   core.Clock
	log     logx.Logger
	metrics core.Observer
	rng     *rand.Rand
}

func New(queue *core.CoalesceQueue, clock core.Clock, metrics core.Observer, log logx.Logger) *Scheduler {
	if clock == nil {
		clock = core.SystemClock{}
	}
	if metrics == nil {
		metrics = core.NopObserver{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{
		queue:   queue,
		clock:   clock,
		log:     log,
		metrics: metrics,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Start registers the jobs and begins firing slots in loc.
func (s *Scheduler) Start(ctx context.Context, loc *time.Location, jobs []JobSpec, jitter JitterConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return fmt.Errorf("scheduler already started")
	}
	s.loc = loc
	s.jobs = jobs
	s.jitter = jitter
	return s.startLocked(ctx)
}

func (s *Scheduler) startLocked(ctx context.Context) error {
	c := cron.New(cron.WithLocation(s.loc))
	for i := range s.jobs {
		job := s.jobs[i]
		for _, slot := range job.Slots {
			hour, minute, err := config.ParseSlot(slot)
			if err != nil {
				return fmt.Errorf("job %s: %w", job.Name, err)
			}
			spec := fmt.Sprintf("%d %d * * *", minute, hour)
			if _, err := c.AddFunc(spec, func() { s.fire(ctx, job) }); err != nil {
				return fmt.Errorf("job %s: slot %s: %w", job.Name, slot, err)
			}
		}
	}
	c.Start()
	s.c = c
	s.log.Info("scheduler started",
		logx.String("tz", s.loc.String()),
		logx.Int("jobs", len(s.jobs)),
	)
	return nil
}

// Apply swaps the job set, timezone and jitter, restarting the cron runner
// so removed slots stop firing immediately.
func (s *Scheduler) Apply(ctx context.Context, loc *time.Location, jobs []JobSpec, jitter JitterConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.c
	s.c = nil
	s.loc = loc
	s.jobs = jobs
	s.jitter = jitter
	if old != nil {
		<-old.Stop().Done()
	}
	return s.startLocked(ctx)
}

// Stop halts slot firing. Running factories finish.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) fire(ctx context.Context, job JobSpec) {
	payload, err := s.runFactory(ctx, job)
	if err != nil {
		s.log.Error("factory_error",
			logx.String("event", "factory_error"),
			logx.String("job", job.Name),
			logx.Err(err),
		)
		s.metrics.Increment("factory_error", map[string]string{"job": job.Name})
		return
	}
	if payload == "" {
		s.log.Debug("factory_skip",
			logx.String("event", "factory_skip"),
			logx.String("job", job.Name),
		)
		return
	}
	now := s.clock.Now()
	req := core.SendRequest{
		Platform:      job.Platform,
		Channel:       job.Channel,
		Job:           job.Name,
		Payload:       payload,
		CorrelationID: uuid.NewString(),
		EnqueuedAt:    now,
		Priority:      job.Priority,
	}
	s.queue.Push(req, now)
	s.log.Debug("job_enqueued",
		logx.String("event", "job_enqueued"),
		logx.String("job", job.Name),
		logx.String("correlation_id", req.CorrelationID),
	)
}

func (s *Scheduler) runFactory(ctx context.Context, job JobSpec) (payload string, err error) {
	defer func() {
		if r := recover(); r != nil {
			payload = ""
			err = fmt.Errorf("factory panic: %v", r)
		}
	}()
	return job.Factory(ctx)
}

func (s *Scheduler) jitterDelay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.jitter
	if !j.Enabled || j.Max <= 0 || j.Max < j.Min {
		return 0
	}
	span := int64(j.Max-j.Min) + 1
	return j.Min + time.Duration(s.rng.Int63n(span))
}
