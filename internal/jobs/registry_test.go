package jobs

import (
	"path/filepath"
	"testing"

	"github.com/clinisys/diarocore/internal/archive"
	"github.com/clinisys/diarocore/internal/audit"
	"github.com/clinisys/diarocore/internal/errs"
	"github.com/clinisys/diarocore/internal/logging"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	dir := t.TempDir()
	store, err := archive.Open(filepath.Join(dir, "test.archive"), "owner@example.org", "salt", 256, 64, logging.Discard())
	if err != nil {
		t.Fatalf("archive.Open failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	ledger := audit.New(store, logging.Discard())
	r, err := NewRegistry(store, ledger, logging.Discard())
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	return r
}

func TestCreateStartsJobInPending(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)

	job, err := r.Create("session-1", "/audio/a.wav", "hash-1", "", 5, map[string]any{"chunk_sec": float64(30)}, false)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if job.Status != StatusPending {
		t.Fatalf("expected PENDING, got %s", job.Status)
	}

	got, found, err := r.Get(job.JobID)
	if err != nil || !found {
		t.Fatalf("Get failed: found=%v err=%v", found, err)
	}
	if got.TotalChunks != 5 || got.ProcessedChunks != 0 || got.ProgressPct != 0 {
		t.Fatalf("unexpected job state: %+v", got)
	}
}

func TestTransitionFollowsStatusLattice(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)
	job, err := r.Create("session-2", "/audio/b.wav", "hash-2", "", 3, nil, false)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := r.Transition(job.JobID, StatusInProgress, ""); err != nil {
		t.Fatalf("PENDING->IN_PROGRESS failed: %v", err)
	}
	if err := r.Transition(job.JobID, StatusCompleted, ""); err != nil {
		t.Fatalf("IN_PROGRESS->COMPLETED failed: %v", err)
	}

	got, _, err := r.Get(job.JobID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", got.Status)
	}
}

func TestTransitionRejectsReturnEdge(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)
	job, err := r.Create("session-3", "/audio/c.wav", "hash-3", "", 3, nil, false)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := r.Transition(job.JobID, StatusInProgress, ""); err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	if err := r.Transition(job.JobID, StatusCompleted, ""); err != nil {
		t.Fatalf("transition failed: %v", err)
	}

	err = r.Transition(job.JobID, StatusInProgress, "")
	if err == nil {
		t.Fatal("expected a return edge from COMPLETED to be rejected")
	}
	if kind, ok := errs.KindOf(err); !ok || kind != errs.KindJobNotCancellable {
		t.Fatalf("unexpected error kind: %v", err)
	}
}

func TestAppendChunkBumpsProcessedAfterRowAppend(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)
	job, err := r.Create("session-4", "/audio/d.wav", "hash-4", "", 2, nil, false)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := r.Transition(job.JobID, StatusInProgress, ""); err != nil {
		t.Fatalf("transition failed: %v", err)
	}

	processed, err := r.AppendChunk(job.JobID, ChunkRow{ChunkIdx: 0, StartSec: 0, EndSec: 30, Speaker: SpeakerUnknown}, 2)
	if err != nil {
		t.Fatalf("AppendChunk failed: %v", err)
	}
	if processed != 1 {
		t.Fatalf("expected processed_chunks=1, got %d", processed)
	}

	view, err := r.Status(job.JobID)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if len(view.Chunks) < int(view.ProcessedChunks) {
		t.Fatalf("invariant violated: len(chunks)=%d < processed_chunks=%d", len(view.Chunks), view.ProcessedChunks)
	}
	if view.ProcessedChunks != 1 || view.ProgressPct != 50 {
		t.Fatalf("unexpected view: %+v", view)
	}
}

func TestScanAndFailStaleInProgressMarksFailed(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)
	job, err := r.Create("session-5", "/audio/e.wav", "hash-5", "", 3, nil, false)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := r.Transition(job.JobID, StatusInProgress, ""); err != nil {
		t.Fatalf("transition failed: %v", err)
	}

	n, err := r.ScanAndFailStaleInProgress()
	if err != nil {
		t.Fatalf("ScanAndFailStaleInProgress failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 job failed, got %d", n)
	}

	got, _, err := r.Get(job.JobID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != StatusFailed || got.Error != "PROCESS_RESTARTED_MID_JOB" {
		t.Fatalf("unexpected job state after scan: %+v", got)
	}
}

func TestCompletedDuplicateTracksIdempotency(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)
	job, err := r.Create("session-6", "/audio/f.wav", "hash-6", "", 1, nil, false)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, found := r.CompletedDuplicate("session-6", "hash-6"); found {
		t.Fatal("expected no duplicate before completion")
	}

	if err := r.Transition(job.JobID, StatusInProgress, ""); err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	if err := r.Transition(job.JobID, StatusCompleted, ""); err != nil {
		t.Fatalf("transition failed: %v", err)
	}

	id, found := r.CompletedDuplicate("session-6", "hash-6")
	if !found || id != job.JobID {
		t.Fatalf("expected duplicate detection after completion, found=%v id=%s", found, id)
	}
}

func TestNewRegistryRebuildsIdempotencyIndexAcrossRestart(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	storePath := filepath.Join(dir, "test.archive")

	store, err := archive.Open(storePath, "owner@example.org", "salt", 256, 64, logging.Discard())
	if err != nil {
		t.Fatalf("archive.Open failed: %v", err)
	}
	ledger := audit.New(store, logging.Discard())
	r, err := NewRegistry(store, ledger, logging.Discard())
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	job, err := r.Create("session-7", "/audio/g.wav", "hash-7", "", 1, nil, false)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := r.Transition(job.JobID, StatusInProgress, ""); err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	if err := r.Transition(job.JobID, StatusCompleted, ""); err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("store.Close failed: %v", err)
	}

	// Simulate a process restart: reopen the same archive file and build
	// a brand-new Registry with no prior in-memory state.
	store2, err := archive.Open(storePath, "owner@example.org", "salt", 256, 64, logging.Discard())
	if err != nil {
		t.Fatalf("archive.Open (restart) failed: %v", err)
	}
	t.Cleanup(func() { _ = store2.Close() })
	ledger2 := audit.New(store2, logging.Discard())
	r2, err := NewRegistry(store2, ledger2, logging.Discard())
	if err != nil {
		t.Fatalf("NewRegistry (restart) failed: %v", err)
	}

	id, found := r2.CompletedDuplicate("session-7", "hash-7")
	if !found || id != job.JobID {
		t.Fatalf("expected completed job to survive restart in idempotency index, found=%v id=%s", found, id)
	}
}
