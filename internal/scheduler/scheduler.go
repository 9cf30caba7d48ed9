// Package scheduler implements the Scheduler (C9): job admission,
// global and per-job concurrency bounds, CPU-gated dispatch, and
// in-order persistence of out-of-order chunk completions. It is
// modeled on the teacher's internal/analysis/processor.JobQueue
// (background goroutine draining a bounded work set, context-scoped
// cancellation per unit of work) generalized from the teacher's single
// global queue to this spec's global-cap-plus-per-job-cap shape via
// golang.org/x/sync/semaphore, which neither the teacher nor any other
// pack repo reaches for — the teacher's own queue serializes strictly,
// so a weighted semaphore is the smallest idiomatic step past it for a
// "global N, per-job M" bound.
package scheduler

import (
	"container/list"
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/clinisys/diarocore/internal/audit"
	"github.com/clinisys/diarocore/internal/chunker"
	"github.com/clinisys/diarocore/internal/config"
	"github.com/clinisys/diarocore/internal/errs"
	"github.com/clinisys/diarocore/internal/governor"
	"github.com/clinisys/diarocore/internal/jobs"
	"github.com/clinisys/diarocore/internal/logging"
	"github.com/clinisys/diarocore/internal/worker"
)

// Scheduler is the Scheduler (C9). It owns no persistent state beyond
// what the Job Registry and Archive Store already hold; restarting the
// process and calling Recover reconstructs admission behavior from
// what is on disk.
type Scheduler struct {
	registry *jobs.Registry
	ledger   *audit.Ledger
	governor *governor.Governor
	worker   *worker.Worker
	log      logging.Logger

	settings config.Settings
	globalSem *semaphore.Weighted

	mu         sync.Mutex
	cancelled  map[string]bool
	fifoOrder  *list.List // job_id admission order, for documentation/introspection
}

// New wires a Scheduler to its collaborators. settings.Scheduler.MaxActiveJobs
// sizes the global semaphore.
func New(registry *jobs.Registry, ledger *audit.Ledger, gov *governor.Governor, w *worker.Worker, settings config.Settings, log logging.Logger) *Scheduler {
	if log == nil {
		log = logging.Discard()
	}
	return &Scheduler{
		registry:  registry,
		ledger:    ledger,
		governor:  gov,
		worker:    w,
		log:       log.Module("scheduler"),
		settings:  settings,
		globalSem: semaphore.NewWeighted(int64(settings.Scheduler.MaxActiveJobs)),
		cancelled: make(map[string]bool),
		fifoOrder: list.New(),
	}
}

// Recover implements the startup-recovery half of the Scheduler's
// persistence-on-restart contract: any job left IN_PROGRESS by a prior
// process is marked FAILED with reason PROCESS_RESTARTED_MID_JOB.
// Resuming such a job is a deliberate follow-up operation, not part of
// this core: a resumed job is a brand-new job whose first chunk is the
// smallest chunk_idx absent from the prior job's dataset.
func (s *Scheduler) Recover() (int, error) {
	return s.registry.ScanAndFailStaleInProgress()
}

// Submit admits a new diarization job (spec.md §4.8). It enforces the
// (session_id, audio_hash) idempotency rule synchronously and then
// returns immediately, dispatching the job's chunks on a background
// goroutine; submission order becomes FIFO admission order once the
// global semaphore is acquired, satisfying fairness when
// max_active_jobs is raised above 1.
func (s *Scheduler) Submit(ctx context.Context, sessionID, audioPath, audioHash, language string, durationSec float64, jobCfg config.JobConfig, highPriority bool) (string, error) {
	if existingID, dup := s.registry.CompletedDuplicate(sessionID, audioHash); dup {
		return "", errs.Newf("session %s audio %s already completed as job %s", sessionID, audioHash, existingID).
			Kind(errs.KindDuplicateJobDetected).Component("scheduler").Build()
	}

	plan := chunker.Plan(durationSec, jobCfg.ChunkSec, jobCfg.OverlapSec)
	job, err := s.registry.Create(sessionID, audioPath, audioHash, language, uint32(len(plan)), jobCfg.Snapshot(), highPriority)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	elem := s.fifoOrder.PushBack(job.JobID)
	s.mu.Unlock()

	go s.run(ctx, job.JobID, audioPath, language, plan, jobCfg, elem)

	return job.JobID, nil
}

// Cancel transitions a job to CANCELLED if it is still PENDING or
// IN_PROGRESS; in-flight workers finish their current chunk (no hard
// kill) and then observe the cancellation flag and stop dispatching
// new chunks for this job. Chunks already appended remain in place.
func (s *Scheduler) Cancel(jobID string) (bool, error) {
	job, found, err := s.registry.Get(jobID)
	if err != nil {
		return false, err
	}
	if !found {
		return false, errs.Newf("job %s not found", jobID).Kind(errs.KindJobNotFound).Component("scheduler").Build()
	}
	if job.Status.Terminal() {
		return false, errs.Newf("job %s is not cancellable from status %s", jobID, job.Status).
			Kind(errs.KindJobNotCancellable).Component("scheduler").Build()
	}

	s.mu.Lock()
	s.cancelled[jobID] = true
	s.mu.Unlock()

	if err := s.registry.Transition(jobID, jobs.StatusCancelled, "CANCELLED_BY_CALLER"); err != nil {
		return false, err
	}
	return true, nil
}

// Status delegates to the Job Registry's Status/Result Reader.
func (s *Scheduler) Status(jobID string) (jobs.JobView, error) {
	return s.registry.Status(jobID)
}

func (s *Scheduler) isCancelled(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled[jobID]
}

// run holds the global semaphore for the job's lifetime, dispatches
// its chunks under the per-job parallelism cap, and persists their
// rows through an ordered completion lane so that out-of-order
// completions still land in ascending chunk_idx order.
func (s *Scheduler) run(ctx context.Context, jobID, audioPath, language string, plan []chunker.Slice, jobCfg config.JobConfig, fifoElem *list.Element) {
	if err := s.globalSem.Acquire(ctx, 1); err != nil {
		s.log.Error("JOB_DISPATCH_FAILED", "job_id", jobID, "error", err)
		return
	}
	defer s.globalSem.Release(1)
	defer func() {
		s.mu.Lock()
		s.fifoOrder.Remove(fifoElem)
		delete(s.cancelled, jobID)
		s.mu.Unlock()
	}()

	if s.isCancelled(jobID) {
		return
	}
	if err := s.registry.Transition(jobID, jobs.StatusInProgress, ""); err != nil {
		s.log.Error("JOB_DISPATCH_FAILED", "job_id", jobID, "error", err)
		return
	}

	lane := newOrderedLane(s.registry, jobID, uint32(len(plan)))
	perJobSem := semaphore.NewWeighted(int64(jobCfg.MaxParallelChunks))

	var wg sync.WaitGroup
	for _, slice := range plan {
		if s.isCancelled(jobID) {
			break
		}
		s.waitForCPUHeadroom(ctx, jobCfg)
		if err := perJobSem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(slice chunker.Slice) {
			defer wg.Done()
			defer perJobSem.Release(1)
			if s.isCancelled(jobID) {
				return
			}
			row, err := s.worker.Compute(ctx, jobID, audioPath, slice, language, jobCfg)
			if err != nil {
				lane.abort(err)
				return
			}
			lane.submit(row)
		}(slice)
	}
	wg.Wait()

	outcome := lane.finish()
	switch {
	case s.isCancelled(jobID):
		return
	case outcome != nil:
		return
	default:
		s.finalizeIfComplete(jobID, uint32(len(plan)))
	}
}

// waitForCPUHeadroom consults the CPU Governor before each dispatch,
// using this job's own cpu_idle_threshold_pct/cpu_idle_window_sec
// (spec.md §6) rather than the process-wide defaults, so a caller that
// asked for a stricter or looser gate actually gets it; if it denies,
// it sleeps for sample_interval_sec and retries. Dispatches already in
// flight are never preempted by this check.
func (s *Scheduler) waitForCPUHeadroom(ctx context.Context, jobCfg config.JobConfig) {
	if s.governor == nil {
		return
	}
	interval := time.Duration(s.settings.Governor.SampleIntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Second
	}
	for !s.governor.AllowDispatchFor(jobCfg.CPUIdleThresholdPct, jobCfg.CPUIdleWindowSec) {
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// finalizeIfComplete transitions the job to COMPLETED once
// processed_chunks equals total_chunks and the chunk dataset is
// contiguous — the Status/Result Reader guarantees len(chunks) is
// never less than processed_chunks, so equality here is sufficient.
func (s *Scheduler) finalizeIfComplete(jobID string, total uint32) {
	view, err := s.registry.Status(jobID)
	if err != nil {
		s.log.Error("JOB_STATUS_READ_FAILED", "job_id", jobID, "error", err)
		return
	}
	if view.ProcessedChunks != total || uint32(len(view.Chunks)) != total {
		return
	}
	if err := s.registry.Transition(jobID, jobs.StatusCompleted, ""); err != nil {
		s.log.Error("JOB_STATUS_TRANSITIONED", "job_id", jobID, "error", err)
	}
}
