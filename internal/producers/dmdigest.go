package producers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"cadence/internal/core"
)

type dmDigestConfig struct {
	Path       string `json:"path"`
	Window     string `json:"window,omitempty"`
	MaxSenders int    `json:"max_senders,omitempty"`
}

type dmLogEntry struct {
	At   time.Time `json:"at"`
	From string    `json:"from"`
	Text string    `json:"text"`
}

// DMDigest summarizes recent entries of a DM log file (one JSON object per
// line). No recent entries skips the slot. Message text never appears in
// the digest.
type DMDigest struct {
	path       string
	window     time.Duration
	maxSenders int
	clock      core.Clock
}

func NewDMDigest(deps Deps, raw json.RawMessage) (Producer, error) {
	var cfg dmDigestConfig
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("dmdigest config: %w", err)
		}
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("dmdigest config: path required")
	}
	window := 24 * time.Hour
	if cfg.Window != "" {
		d, err := time.ParseDuration(cfg.Window)
		if err != nil {
			return nil, fmt.Errorf("dmdigest config: window: %w", err)
		}
		window = d
	}
	if cfg.MaxSenders <= 0 {
		cfg.MaxSenders = 5
	}
	return &DMDigest{
		path:       cfg.Path,
		window:     window,
		maxSenders: cfg.MaxSenders,
		clock:      deps.clock(),
	}, nil
}

func (d *DMDigest) Build(ctx context.Context) (string, error) {
	f, err := os.Open(d.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	defer f.Close()

	cutoff := d.clock.Now().Add(-d.window)
	bySender := make(map[string]int)
	total := 0

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var e dmLogEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			continue
		}
		if e.At.Before(cutoff) {
			continue
		}
		bySender[e.From]++
		total++
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	if total == 0 {
		return "", nil
	}

	type senderCount struct {
		name  string
		count int
	}
	senders := make([]senderCount, 0, len(bySender))
	for name, count := range bySender {
		senders = append(senders, senderCount{name, count})
	}
	sort.Slice(senders, func(i, j int) bool {
		if senders[i].count != senders[j].count {
			return senders[i].count > senders[j].count
		}
		return senders[i].name < senders[j].name
	})
	if len(senders) > d.maxSenders {
		senders = senders[:d.maxSenders]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "DM digest: %d messages from %d senders\n", total, len(bySender))
	for _, s := range senders {
		fmt.Fprintf(&b, "- %s: %d\n", s.name, s.count)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
