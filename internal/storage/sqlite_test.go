package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"cadence/internal/core"
	"cadence/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("Open(%q) = %v, %v", driver, st, err)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatalf("unknown driver accepted")
	}
}

func TestOpenSQLiteRequiresPath(t *testing.T) {
	if _, err := Open(Config{Driver: "sqlite"}, logx.Nop()); err == nil {
		t.Fatalf("empty path accepted")
	}
}

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{
		Driver:      "sqlite",
		Path:        filepath.Join(t.TempDir(), "cadence.db"),
		BusyTimeout: time.Second,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestAuditRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	err := st.AppendAudit(ctx, core.AuditEntry{
		At:            time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC),
		Job:           "news",
		Platform:      "discord",
		Channel:       "general",
		CorrelationID: "c1",
		Status:        "sent",
		DurationMS:    42,
	})
	if err != nil {
		t.Fatalf("AppendAudit: %v", err)
	}

	var status string
	var took int64
	row := st.(*sqliteStore).db.QueryRowContext(ctx,
		`SELECT status, took_ms FROM audit WHERE correlation_id = ?`, "c1")
	if err := row.Scan(&status, &took); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if status != "sent" || took != 42 {
		t.Fatalf("stored %q/%d", status, took)
	}
}

func TestDedupPersistenceRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	future := time.Now().Add(time.Hour)

	if err := st.PutDedup(ctx, 0xdeadbeef, future); err != nil {
		t.Fatalf("PutDedup: %v", err)
	}
	// Upsert moves the expiry instead of duplicating the row.
	if err := st.PutDedup(ctx, 0xdeadbeef, future.Add(time.Hour)); err != nil {
		t.Fatalf("PutDedup upsert: %v", err)
	}
	// Expired entries never load.
	if err := st.PutDedup(ctx, 0xf00d, time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("PutDedup expired: %v", err)
	}

	recs, err := st.LoadDedup(ctx)
	if err != nil {
		t.Fatalf("LoadDedup: %v", err)
	}
	if len(recs) != 1 || recs[0].Fingerprint != 0xdeadbeef {
		t.Fatalf("records = %+v", recs)
	}
	if recs[0].Until.Before(future.Add(30 * time.Minute)) {
		t.Fatalf("upsert kept stale expiry: %v", recs[0].Until)
	}
}

func TestDedupHighBitFingerprintSurvives(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	fp := uint64(1) << 63

	if err := st.PutDedup(ctx, fp, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("PutDedup: %v", err)
	}
	recs, err := st.LoadDedup(ctx)
	if err != nil {
		t.Fatalf("LoadDedup: %v", err)
	}
	if len(recs) != 1 || recs[0].Fingerprint != fp {
		t.Fatalf("sign flip lost the fingerprint: %+v", recs)
	}
}

func TestPersisterNilStoreIsNoop(t *testing.T) {
	var p *Persister
	if err := p.PutFingerprint(1, time.Now()); err != nil {
		t.Fatalf("nil persister: %v", err)
	}
	p = &Persister{Log: logx.Nop()}
	if err := p.PutFingerprint(1, time.Now()); err != nil {
		t.Fatalf("storeless persister: %v", err)
	}
}

func TestPersisterWritesThrough(t *testing.T) {
	st := openTestStore(t)
	p := &Persister{Store: st, Log: logx.Nop()}
	if err := p.PutFingerprint(77, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("PutFingerprint: %v", err)
	}
	recs, err := st.LoadDedup(context.Background())
	if err != nil || len(recs) != 1 || recs[0].Fingerprint != 77 {
		t.Fatalf("records = %+v, %v", recs, err)
	}
}
