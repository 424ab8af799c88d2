package core

import (
	"context"
	"strconv"
	"time"

	"cadence/pkg/logx"
)

// Processor walks batches through the gate sequence and dispatches the
// surviving payloads. Gate skips never abort a batch; each payload is
// judged on its own.
type Processor struct {
	Cooldown *CooldownGate
	Dedupe   *DedupeDetector
	Permit   *PermitGate
	Sender   Sender
	Retryer  Retryer
	Metrics  Observer
	Audit    AuditSink
	Clock    Clock
	Log      logx.Logger
}

func (p *Processor) clock() Clock {
	if p.Clock != nil {
		return p.Clock
	}
	return SystemClock{}
}

func (p *Processor) metrics() Observer {
	if p.Metrics != nil {
		return p.Metrics
	}
	return NopObserver{}
}

// Process runs every request of the batch through cooldown, dedupe and
// permit checks in that order, then sends the survivors under the retry
// policy. Returns the first context error encountered, nil otherwise.
func (p *Processor) Process(ctx context.Context, batch *Batch) error {
	for _, req := range batch.Requests {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.processOne(ctx, req)
	}
	return nil
}

func (p *Processor) processOne(ctx context.Context, req SendRequest) {
	now := p.clock().Now()
	tags := map[string]string{
		"job":      req.Job,
		"platform": req.Platform,
		"channel":  req.Channel,
	}
	log := p.Log.With(
		logx.String("job", req.Job),
		logx.String("platform", req.Platform),
		logx.String("channel", req.Channel),
		logx.String("correlation_id", req.CorrelationID),
	)

	if ok, wait := p.Cooldown.Check(req.Job, now); !ok {
		log.Info("send_cooldown_skip",
			logx.String("event", "send_cooldown_skip"),
			logx.Duration("wait", wait),
		)
		p.metrics().Increment("cooldown_skip", tags)
		p.audit(ctx, req, "cooldown_skip", 0)
		return
	}

	if p.Dedupe.CheckAndInsert(req.Payload, now) {
		log.Info("send_duplicate_skip",
			logx.String("event", "send_duplicate_skip"),
			logx.String("status", "duplicate"),
			logx.Bool("retryable", false),
		)
		dupTags := map[string]string{"status": "duplicate", "retryable": "false"}
		for k, v := range tags {
			dupTags[k] = v
		}
		p.metrics().Increment("duplicate_skip", dupTags)
		p.audit(ctx, req, "duplicate", 0)
		return
	}

	if dec := p.Permit.Admit(req.Channel, now); !dec.Allowed {
		fields := []logx.Field{
			logx.String("event", "permit_denied"),
			logx.String("reason", dec.Reason),
			logx.Bool("retryable", dec.Retryable),
		}
		if dec.RetryAfter > 0 {
			fields = append(fields, logx.Duration("retry_after", dec.RetryAfter))
		}
		log.Warn("permit_denied", fields...)
		log.Warn(req.Job+"_permit_denied",
			logx.String("event", req.Job+"_permit_denied"),
			logx.String("job", req.Job+dec.Suffix),
			logx.String("reason", dec.Reason),
			logx.Bool("retryable", dec.Retryable),
		)
		denyTags := map[string]string{
			"job":       req.Job + dec.Suffix,
			"platform":  req.Platform,
			"channel":   req.Channel,
			"reason":    dec.Reason,
			"retryable": strconv.FormatBool(dec.Retryable),
		}
		p.metrics().Increment("permit_denied", denyTags)
		p.audit(ctx, req, "denied:"+dec.Reason, 0)
		return
	}

	start := p.clock().Now()
	res := p.Retryer.Do(ctx, req.CorrelationID, func(ctx context.Context) error {
		return p.Sender.Send(ctx, req.Platform, req.Channel, req.Payload)
	})
	elapsed := p.clock().Now().Sub(start)

	if res.Err != nil {
		log.Error("send_failure",
			logx.String("event", "send_failure"),
			logx.String("error_class", ErrorClass(res.Err)),
			logx.Bool("retryable", res.Retryable),
			logx.Int("attempts", res.Attempts),
			logx.Err(res.Err),
		)
		failTags := map[string]string{
			"job":         req.Job,
			"platform":    req.Platform,
			"channel":     req.Channel,
			"error_class": ErrorClass(res.Err),
		}
		p.metrics().Increment("send_failure", failTags)
		p.audit(ctx, req, "failed:"+ErrorClass(res.Err), elapsed)
		return
	}

	doneAt := p.clock().Now()
	p.Permit.ObserveSuccess(req.Channel, doneAt)
	p.Cooldown.RecordSuccess(req.Job, doneAt)
	log.Info("send_success",
		logx.String("event", "send_success"),
		logx.Int("attempts", res.Attempts),
		logx.Duration("duration", elapsed),
	)
	p.metrics().Increment("send_success", tags)
	p.metrics().Observe("send_duration_seconds", elapsed.Seconds(), tags)
	p.audit(ctx, req, "sent", elapsed)
}

func (p *Processor) audit(ctx context.Context, req SendRequest, status string, d time.Duration) {
	if p.Audit == nil {
		return
	}
	entry := AuditEntry{
		At:            p.clock().Now(),
		Job:           req.Job,
		Platform:      req.Platform,
		Channel:       req.Channel,
		CorrelationID: req.CorrelationID,
		Status:        status,
		DurationMS:    d.Milliseconds(),
	}
	if err := p.Audit.AppendAudit(ctx, entry); err != nil {
		p.Log.Warn("audit_append_failed", logx.Err(err))
	}
}
