package audit

import (
	"path/filepath"
	"testing"

	"github.com/clinisys/diarocore/internal/archive"
	"github.com/clinisys/diarocore/internal/errs"
	"github.com/clinisys/diarocore/internal/logging"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	dir := t.TempDir()
	store, err := archive.Open(filepath.Join(dir, "test.archive"), "owner@example.org", "salt", 256, 64, logging.Discard())
	if err != nil {
		t.Fatalf("archive.Open failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return New(store, logging.Discard())
}

func TestAppendRejectsNonCanonicalOperation(t *testing.T) {
	t.Parallel()
	l := newTestLedger(t)

	_, err := l.Append("chunk_transcribed", "worker-1", "asr.transcribe", nil, nil, StatusSuccess, "{}")
	if err == nil {
		t.Fatal("expected rejection of a non-canonical operation name")
	}
	if kind, ok := errs.KindOf(err); !ok || kind != errs.KindPolicyViolationDetected {
		t.Fatalf("expected POLICY_VIOLATION_DETECTED, got %v", err)
	}
}

func TestAppendAndQueryRoundTrip(t *testing.T) {
	t.Parallel()
	l := newTestLedger(t)

	id, err := l.Append("CHUNK_PROCESSING_COMPLETED", "worker-1", "asr.transcribe", []byte("payload"), []byte("result"), StatusSuccess, "{}")
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if id == "" {
		t.Fatal("expected a non-empty audit_id")
	}

	entries, err := l.Query(Filters{Operation: "CHUNK_PROCESSING_COMPLETED"}, 10)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 matching entry, got %d", len(entries))
	}
	if entries[0].AuditID != id {
		t.Fatalf("expected audit_id %s, got %s", id, entries[0].AuditID)
	}
	if entries[0].PayloadHash == "" || entries[0].ResultHash == "" {
		t.Fatal("expected payload/result hashes to be populated")
	}
}

func TestQueryFiltersByActorAndOperation(t *testing.T) {
	t.Parallel()
	l := newTestLedger(t)

	if _, err := l.Append("ARCHIVE_INITIALIZED", "worker-1", "archive.open", nil, nil, StatusSuccess, ""); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if _, err := l.Append("ARCHIVE_INITIALIZED", "worker-2", "archive.open", nil, nil, StatusSuccess, ""); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	entries, err := l.Query(Filters{Actor: "worker-2"}, 0)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Actor != "worker-2" {
		t.Fatalf("expected 1 entry for worker-2, got %+v", entries)
	}

	if _, err := l.Append("CHUNK_PROCESSING_FAILED", "worker-2", "archive.open", nil, nil, StatusFailed, ""); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	entries, err = l.Query(Filters{Actor: "worker-2", Operation: "CHUNK_PROCESSING_FAILED"}, 0)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Operation != "CHUNK_PROCESSING_FAILED" {
		t.Fatalf("expected 1 CHUNK_PROCESSING_FAILED entry for worker-2, got %+v", entries)
	}
}

func TestStatsAggregatesCounts(t *testing.T) {
	t.Parallel()
	l := newTestLedger(t)

	if _, err := l.Append("ARCHIVE_INITIALIZED", "a", "e", nil, nil, StatusSuccess, ""); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if _, err := l.Append("CHUNK_PROCESSING_FAILED", "a", "e", nil, nil, StatusFailed, ""); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	stats, err := l.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Total != 2 {
		t.Fatalf("expected total=2, got %d", stats.Total)
	}
	if stats.ByStatus[StatusSuccess] != 1 || stats.ByStatus[StatusFailed] != 1 {
		t.Fatalf("unexpected status counts: %+v", stats.ByStatus)
	}
}
