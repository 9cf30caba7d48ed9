package jobs

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clinisys/diarocore/internal/archive"
	"github.com/clinisys/diarocore/internal/audit"
	"github.com/clinisys/diarocore/internal/errs"
	"github.com/clinisys/diarocore/internal/logging"
)

const diarizationGroup = "diarization"
const chunksDataset = "chunks"

func jobGroup(jobID string) []string { return []string{diarizationGroup, jobID} }

// Registry is the Job Registry (C8). The archive is the system of
// record for every job attribute; the in-memory index exists only to
// answer submission-idempotency and session/audio lookups without a
// full dataset scan on every submit call.
type Registry struct {
	store  *archive.Store
	ledger *audit.Ledger
	log    logging.Logger

	mu        sync.RWMutex
	bySession map[string]string // (session_id, audio_hash) -> job_id, for completed jobs only
}

// NewRegistry wires a Registry to its Archive Store and Audit Ledger,
// then rebuilds the in-memory (session_id, audio_hash) -> job_id
// idempotency index from every job the archive already knows about.
// The archive is the authoritative copy (spec.md §5); without this
// rebuild, a process restart would forget every job that completed
// before it started and silently re-admit and re-transcribe its audio.
func NewRegistry(store *archive.Store, ledger *audit.Ledger, log logging.Logger) (*Registry, error) {
	if log == nil {
		log = logging.Discard()
	}
	r := &Registry{store: store, ledger: ledger, log: log.Module("jobs"), bySession: make(map[string]string)}
	if err := r.rebuildIdempotencyIndex(); err != nil {
		return nil, err
	}
	return r, nil
}

// rebuildIdempotencyIndex scans every job group in the archive and
// populates bySession for every job whose tail status is COMPLETED.
func (r *Registry) rebuildIdempotencyIndex() error {
	ids, err := r.ListJobIDs()
	if err != nil {
		return err
	}
	for _, id := range ids {
		job, found, err := r.Get(id)
		if err != nil {
			return err
		}
		if !found || job.Status != StatusCompleted {
			continue
		}
		r.bySession[idempotencyKey(job.SessionID, job.AudioHash)] = id
	}
	if len(ids) > 0 {
		r.log.Info("rebuilt job idempotency index", "jobs_scanned", len(ids), "completed_indexed", len(r.bySession))
	}
	return nil
}

func idempotencyKey(sessionID, audioHash string) string { return sessionID + "\x00" + audioHash }

// CompletedDuplicate reports the job_id of a prior COMPLETED job for
// (sessionID, audioHash), if any.
func (r *Registry) CompletedDuplicate(sessionID, audioHash string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.bySession[idempotencyKey(sessionID, audioHash)]
	return id, ok
}

// Create admits a new job with status PENDING. Callers must already
// have checked CompletedDuplicate; Create does not itself enforce
// DUPLICATE_JOB_DETECTED so the Scheduler can hold its own lock across
// the check-then-create sequence.
func (r *Registry) Create(sessionID, audioPath, audioHash, language string, totalChunks uint32, configSnapshot map[string]any, highPriority bool) (*DiarizationJob, error) {
	now := time.Now().UTC()
	job := &DiarizationJob{
		JobID:          uuid.NewString(),
		SessionID:      sessionID,
		AudioPath:      audioPath,
		AudioHash:      audioHash,
		Status:         StatusPending,
		TotalChunks:    totalChunks,
		Language:       language,
		ConfigSnapshot: configSnapshot,
		CreatedAt:      now,
		UpdatedAt:      now,
		HighPriority:   highPriority,
	}

	group := jobGroup(job.JobID)
	immutable := map[string]string{
		"job_id":       job.JobID,
		"session_id":   job.SessionID,
		"audio_path":   job.AudioPath,
		"audio_hash":   job.AudioHash,
		"language":     job.Language,
		"created_at":   job.CreatedAt.Format(time.RFC3339),
		"high_priority": boolStr(job.HighPriority),
	}
	for k, v := range immutable {
		if err := r.store.SetAttr(group, k, []byte(v)); err != nil {
			return nil, err
		}
	}
	if err := r.store.SetAttr(group, "total_chunks", uint32Bytes(totalChunks)); err != nil {
		return nil, err
	}
	configEncoded, err := archive.Encode(configSnapshot)
	if err != nil {
		return nil, err
	}
	if err := r.store.SetAttr(group, "config_snapshot", configEncoded); err != nil {
		return nil, err
	}

	if err := r.store.SetMutableAttr(group, "status", []byte(string(StatusPending))); err != nil {
		return nil, err
	}
	if err := r.store.SetMutableAttr(group, "processed_chunks", uint32Bytes(0)); err != nil {
		return nil, err
	}
	if err := r.store.SetMutableAttr(group, "progress_pct", []byte{0}); err != nil {
		return nil, err
	}
	if err := r.store.SetMutableAttr(group, "updated_at", []byte(now.Format(time.RFC3339))); err != nil {
		return nil, err
	}
	if err := r.store.SetMutableAttr(group, "error", []byte("")); err != nil {
		return nil, err
	}

	if _, err := r.ledger.Append("JOB_STATUS_TRANSITIONED", job.SessionID, job.JobID,
		[]byte("create:"+job.JobID), []byte(string(StatusPending)), audit.StatusSuccess, ""); err != nil {
		return nil, err
	}

	r.log.Info("job created", "job_id", job.JobID, "session_id", sessionID, "total_chunks", totalChunks)
	return job, nil
}

// Transition moves jobID to next, enforcing the status lattice. reason
// is recorded as the job's error field for FAILED transitions.
func (r *Registry) Transition(jobID string, next Status, reason string) error {
	group := jobGroup(jobID)
	current, found, err := r.statusOf(group)
	if err != nil {
		return err
	}
	if !found {
		return errs.Newf("job %s not found", jobID).Kind(errs.KindJobNotFound).Component("jobs").Build()
	}
	if !current.CanTransitionTo(next) {
		return errs.Newf("job %s cannot transition %s -> %s", jobID, current, next).
			Kind(errs.KindJobNotCancellable).Component("jobs").Build()
	}

	now := time.Now().UTC()
	if err := r.store.SetMutableAttr(group, "status", []byte(string(next))); err != nil {
		return err
	}
	if err := r.store.SetMutableAttr(group, "updated_at", []byte(now.Format(time.RFC3339))); err != nil {
		return err
	}
	if next == StatusFailed {
		if err := r.store.SetMutableAttr(group, "error", []byte(reason)); err != nil {
			return err
		}
	}

	if _, err := r.ledger.Append("JOB_STATUS_TRANSITIONED", "scheduler", jobID,
		[]byte(string(current)), []byte(string(next)), audit.StatusSuccess, reason); err != nil {
		return err
	}

	if next == StatusCompleted {
		job, _, err := r.Get(jobID)
		if err == nil && job != nil {
			r.mu.Lock()
			r.bySession[idempotencyKey(job.SessionID, job.AudioHash)] = jobID
			r.mu.Unlock()
		}
	}

	r.log.Info("job transitioned", "job_id", jobID, "from", current, "to", next)
	return nil
}

// BumpProcessed records that processed chunks have advanced after a
// chunk row append. It must be called strictly after the corresponding
// Archive Store append, never before (§4.10's ordering guarantee).
func (r *Registry) BumpProcessed(jobID string, processed, total uint32) error {
	group := jobGroup(jobID)
	now := time.Now().UTC()
	if err := r.store.SetMutableAttr(group, "processed_chunks", uint32Bytes(processed)); err != nil {
		return err
	}
	pct := progressPct(processed, total)
	if err := r.store.SetMutableAttr(group, "progress_pct", []byte{pct}); err != nil {
		return err
	}
	return r.store.SetMutableAttr(group, "updated_at", []byte(now.Format(time.RFC3339)))
}

func (r *Registry) statusOf(group []string) (Status, bool, error) {
	value, found, err := r.store.GetAttr(group, "status")
	if err != nil || !found {
		return "", found, err
	}
	return Status(value), true, nil
}

// Get reconstructs a DiarizationJob from its current attribute tails.
func (r *Registry) Get(jobID string) (*DiarizationJob, bool, error) {
	group := jobGroup(jobID)
	if !r.store.GroupExists(group) {
		return nil, false, nil
	}

	job := &DiarizationJob{JobID: jobID}
	var err error
	if job.SessionID, err = r.attrString(group, "session_id"); err != nil {
		return nil, false, err
	}
	if job.AudioPath, err = r.attrString(group, "audio_path"); err != nil {
		return nil, false, err
	}
	if job.AudioHash, err = r.attrString(group, "audio_hash"); err != nil {
		return nil, false, err
	}
	if job.Language, err = r.attrString(group, "language"); err != nil {
		return nil, false, err
	}
	statusStr, err := r.attrString(group, "status")
	if err != nil {
		return nil, false, err
	}
	job.Status = Status(statusStr)

	createdStr, err := r.attrString(group, "created_at")
	if err != nil {
		return nil, false, err
	}
	job.CreatedAt, _ = time.Parse(time.RFC3339, createdStr)

	updatedStr, err := r.attrString(group, "updated_at")
	if err != nil {
		return nil, false, err
	}
	job.UpdatedAt, _ = time.Parse(time.RFC3339, updatedStr)

	job.Error, err = r.attrString(group, "error")
	if err != nil {
		return nil, false, err
	}

	totalRaw, found, err := r.store.GetAttr(group, "total_chunks")
	if err != nil {
		return nil, false, err
	}
	if found {
		job.TotalChunks = bytesUint32(totalRaw)
	}

	processedRaw, found, err := r.store.GetAttr(group, "processed_chunks")
	if err != nil {
		return nil, false, err
	}
	if found {
		job.ProcessedChunks = bytesUint32(processedRaw)
	}

	pctRaw, found, err := r.store.GetAttr(group, "progress_pct")
	if err != nil {
		return nil, false, err
	}
	if found && len(pctRaw) == 1 {
		job.ProgressPct = pctRaw[0]
	}

	return job, true, nil
}

func (r *Registry) attrString(group []string, key string) (string, error) {
	value, found, err := r.store.GetAttr(group, key)
	if err != nil || !found {
		return "", err
	}
	return string(value), nil
}

// ListJobIDs returns every job_id known to the archive, for the
// Scheduler's startup scan.
func (r *Registry) ListJobIDs() ([]string, error) {
	return r.store.ListChildGroups([]string{diarizationGroup})
}

// ScanAndFailStaleInProgress marks every IN_PROGRESS job as FAILED with
// reason PROCESS_RESTARTED_MID_JOB. Called once at process startup,
// before the Scheduler accepts new submissions.
func (r *Registry) ScanAndFailStaleInProgress() (int, error) {
	ids, err := r.ListJobIDs()
	if err != nil {
		return 0, err
	}
	failed := 0
	for _, id := range ids {
		status, found, err := r.statusOf(jobGroup(id))
		if err != nil {
			return failed, err
		}
		if !found || status != StatusInProgress {
			continue
		}
		if err := r.Transition(id, StatusFailed, "PROCESS_RESTARTED_MID_JOB"); err != nil {
			return failed, err
		}
		failed++
	}
	return failed, nil
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
