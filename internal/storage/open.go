package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"cadence/internal/core"
	"cadence/pkg/logx"
)

// Store is the minimal persistence API used by the pipeline.
type Store interface {
	AppendAudit(ctx context.Context, e core.AuditEntry) error
	PutDedup(ctx context.Context, fp uint64, until time.Time) error
	LoadDedup(ctx context.Context) ([]DedupRecord, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// Persister adapts a Store to the dedupe write-through hook. Writes use a
// short background timeout so a slow disk never stalls the gate.
type Persister struct {
	Store Store
	Log   logx.Logger
}

func (p *Persister) PutFingerprint(fp uint64, until time.Time) error {
	if p == nil || p.Store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := p.Store.PutDedup(ctx, fp, until); err != nil && !errors.Is(err, ErrDisabled) {
		p.Log.Warn("dedup persist failed", logx.Err(err))
		return err
	}
	return nil
}

var _ core.DedupePersister = (*Persister)(nil)
