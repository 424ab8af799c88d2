package core

import (
	"strings"
	"testing"
	"time"
)

func TestFingerprintNormalization(t *testing.T) {
	cases := []struct {
		name string
		a, b string
		same bool
	}{
		{"case folded", "Hello World", "hello world", true},
		{"whitespace collapsed", "hello   world", "hello world", true},
		{"trimmed", "  hello world \n", "hello world", true},
		{"tabs and newlines", "hello\tworld\n", "hello world", true},
		{"different text", "hello world", "hello there", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Fingerprint(tc.a) == Fingerprint(tc.b); got != tc.same {
				t.Fatalf("Fingerprint(%q) == Fingerprint(%q) = %v, want %v", tc.a, tc.b, got, tc.same)
			}
		})
	}
}

func TestFingerprintLongPayloadsTruncate(t *testing.T) {
	prefix := strings.Repeat("x", 600)
	if Fingerprint(prefix+"aaa") != Fingerprint(prefix+"bbb") {
		t.Fatalf("payloads differing past the cap should collide")
	}
}

func TestDedupeDisabled(t *testing.T) {
	d := NewDedupeDetector(DedupeConfig{Enabled: false, Capacity: 10, TTL: time.Hour})
	now := time.Now()
	if d.CheckAndInsert("hello", now) {
		t.Fatalf("disabled detector flagged a duplicate")
	}
	if d.CheckAndInsert("hello", now) {
		t.Fatalf("disabled detector flagged a duplicate")
	}
}

func TestDedupeWithinTTL(t *testing.T) {
	d := NewDedupeDetector(DedupeConfig{Enabled: true, Capacity: 10, TTL: time.Hour})
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

	if d.CheckAndInsert("hello world", now) {
		t.Fatalf("first sighting flagged as duplicate")
	}
	if !d.CheckAndInsert("Hello   World", now.Add(time.Minute)) {
		t.Fatalf("normalized duplicate not flagged")
	}
}

func TestDedupeExpiry(t *testing.T) {
	d := NewDedupeDetector(DedupeConfig{Enabled: true, Capacity: 10, TTL: time.Hour})
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

	d.CheckAndInsert("hello", now)
	if d.CheckAndInsert("hello", now.Add(time.Hour)) {
		t.Fatalf("expired fingerprint still counted as duplicate")
	}
}

func TestDedupeRefreshExtendsTTL(t *testing.T) {
	d := NewDedupeDetector(DedupeConfig{Enabled: true, Capacity: 10, TTL: time.Hour})
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

	d.CheckAndInsert("hello", now)
	// Duplicate hit at +30m refreshes the expiry to +90m.
	if !d.CheckAndInsert("hello", now.Add(30*time.Minute)) {
		t.Fatalf("duplicate not flagged")
	}
	if !d.CheckAndInsert("hello", now.Add(80*time.Minute)) {
		t.Fatalf("refreshed entry expired early")
	}
}

func TestDedupeCapacityEvictsOldest(t *testing.T) {
	d := NewDedupeDetector(DedupeConfig{Enabled: true, Capacity: 2, TTL: time.Hour})
	now := time.Now()

	d.CheckAndInsert("one", now)
	d.CheckAndInsert("two", now)
	d.CheckAndInsert("three", now) // evicts "one"

	if d.CheckAndInsert("one", now) {
		t.Fatalf("evicted fingerprint still present")
	}
	if d.Len() != 2 {
		t.Fatalf("capacity overflow: %d", d.Len())
	}
}

func TestDedupeSeedSkipsExpired(t *testing.T) {
	d := NewDedupeDetector(DedupeConfig{Enabled: true, Capacity: 10, TTL: time.Hour})
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

	d.Seed(Fingerprint("live"), now.Add(time.Hour), now)
	d.Seed(Fingerprint("stale"), now.Add(-time.Minute), now)

	if !d.CheckAndInsert("live", now) {
		t.Fatalf("seeded fingerprint not recognized")
	}
	if d.CheckAndInsert("stale", now) {
		t.Fatalf("expired seed accepted")
	}
}

type memPersister struct {
	puts []uint64
}

func (m *memPersister) PutFingerprint(fp uint64, _ time.Time) error {
	m.puts = append(m.puts, fp)
	return nil
}

func TestDedupeWriteThrough(t *testing.T) {
	d := NewDedupeDetector(DedupeConfig{Enabled: true, Capacity: 10, TTL: time.Hour})
	p := &memPersister{}
	d.SetPersister(p)
	now := time.Now()

	d.CheckAndInsert("hello", now)
	d.CheckAndInsert("hello", now) // duplicate, no new write
	d.Seed(Fingerprint("seeded"), now.Add(time.Hour), now)

	if len(p.puts) != 1 || p.puts[0] != Fingerprint("hello") {
		t.Fatalf("write-through recorded %v", p.puts)
	}
}

func TestDedupeReconfigureShrinks(t *testing.T) {
	d := NewDedupeDetector(DedupeConfig{Enabled: true, Capacity: 5, TTL: time.Hour})
	now := time.Now()
	for _, s := range []string{"a", "b", "c", "d"} {
		d.CheckAndInsert(s, now)
	}
	d.Reconfigure(DedupeConfig{Enabled: true, Capacity: 2, TTL: time.Hour})
	if d.Len() != 2 {
		t.Fatalf("shrink left %d entries", d.Len())
	}
	// The two hottest entries survive.
	if !d.CheckAndInsert("d", now) || !d.CheckAndInsert("c", now) {
		t.Fatalf("hot entries evicted on shrink")
	}
}
