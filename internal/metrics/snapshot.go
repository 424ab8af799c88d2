package metrics

import (
	"sort"
	"time"
)

// JobStats summarizes one job's outcomes over the snapshot window.
// Percentiles are in seconds; SuccessRate is sent/(sent+failed), with
// permit denials counted separately.
type JobStats struct {
	Sent        int
	Denied      int
	Failed      int
	SuccessRate float64
	P50         float64
	P95         float64
}

// WeeklySnapshot is a seven-day rollup of pipeline outcomes.
type WeeklySnapshot struct {
	From          time.Time
	To            time.Time
	Jobs          map[string]JobStats
	DenialReasons map[string]int
}

// WeeklySnapshot rolls up the last seven days of outcome events ending at
// now. The report job itself is excluded so its own sends never skew the
// rates it publishes.
func (a *Aggregator) WeeklySnapshot(now time.Time, reportJob string) WeeklySnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	from := now.Add(-eventRetention)
	snap := WeeklySnapshot{
		From:          from,
		To:            now,
		Jobs:          make(map[string]JobStats),
		DenialReasons: make(map[string]int),
	}

	for _, ev := range a.events {
		if ev.at.Before(from) || ev.at.After(now) {
			continue
		}
		if ev.name == namePermitDenied && ev.reason != "" {
			snap.DenialReasons[ev.reason]++
		}
		if ev.job == "" || ev.job == reportJob {
			continue
		}
		st := snap.Jobs[ev.job]
		switch ev.name {
		case nameSuccess:
			st.Sent++
		case nameFailure:
			st.Failed++
		case namePermitDenied:
			st.Denied++
		}
		snap.Jobs[ev.job] = st
	}

	byJob := make(map[string][]float64)
	for _, s := range a.samples {
		if s.at.Before(from) || s.at.After(now) || s.job == "" || s.job == reportJob {
			continue
		}
		byJob[s.job] = append(byJob[s.job], s.value)
	}

	for job, st := range snap.Jobs {
		total := st.Sent + st.Failed
		if total > 0 {
			st.SuccessRate = float64(st.Sent) / float64(total)
		}
		if vals := byJob[job]; len(vals) > 0 {
			sort.Float64s(vals)
			st.P50 = percentile(vals, 0.50)
			st.P95 = percentile(vals, 0.95)
		}
		snap.Jobs[job] = st
	}
	return snap
}

// percentile takes a sorted slice and interpolates linearly between ranks.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p * float64(len(sorted)-1)
	lo := int(rank)
	hi := lo + 1
	if hi >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
