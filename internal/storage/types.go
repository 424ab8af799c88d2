package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// DedupRecord is one persisted fingerprint with its expiry.
type DedupRecord struct {
	Fingerprint uint64
	Until       time.Time
}
