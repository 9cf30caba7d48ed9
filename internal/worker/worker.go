// Package worker implements the Transcription Worker (C10): the
// per-chunk pipeline that materializes a slice, calls the ASR and
// optional classifier adapters with retry/backoff, assembles a Chunk
// row, and hands it to the job's ordered persistence lane, modeled on
// the teacher's internal/analysis/processor.JobQueue execution step
// (context.WithTimeout around one unit of work, defer-cleanup of
// transient resources).
package worker

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/clinisys/diarocore/internal/adapters"
	"github.com/clinisys/diarocore/internal/archive"
	"github.com/clinisys/diarocore/internal/audit"
	"github.com/clinisys/diarocore/internal/chunker"
	"github.com/clinisys/diarocore/internal/config"
	"github.com/clinisys/diarocore/internal/errs"
	"github.com/clinisys/diarocore/internal/jobs"
	"github.com/clinisys/diarocore/internal/logging"
	"github.com/clinisys/diarocore/internal/retry"
)

// Worker processes one chunk end-to-end (spec.md §4.9).
type Worker struct {
	materializer chunker.Materializer
	asr          adapters.ASR
	classifier   adapters.Classifier
	registry     *jobs.Registry
	ledger       *audit.Ledger
	log          logging.Logger
	rng          *rand.Rand
}

// New builds a Worker. classifier may be adapters.NoopClassifier{} to
// model a disabled classifier.
func New(materializer chunker.Materializer, asr adapters.ASR, classifier adapters.Classifier, registry *jobs.Registry, ledger *audit.Ledger, log logging.Logger) *Worker {
	if log == nil {
		log = logging.Discard()
	}
	return &Worker{
		materializer: materializer,
		asr:          asr,
		classifier:   classifier,
		registry:     registry,
		ledger:       ledger,
		log:          log.Module("worker"),
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Compute runs steps 1-4 and 6-7 of the seven-step algorithm in
// spec.md §4.9 for one planned slice: materialize, call the ASR
// adapter with retry, optionally classify the speaker, assemble the
// Chunk row, audit both adapter calls, and clean up the temporary
// container. It deliberately stops short of step 5 (persistence) so a
// caller — normally the Scheduler's per-job ordered persistence lane —
// can run many chunks' Compute calls concurrently while still
// persisting their rows in ascending chunk_idx order. On a permanent
// adapter failure it transitions the job to FAILED and records the
// chunk's error class; it never retries a permanent error.
func (w *Worker) Compute(ctx context.Context, jobID, audioPath string, slice chunker.Slice, language string, cfg config.JobConfig) (jobs.ChunkRow, error) {
	started := time.Now()
	hardCtx, cancel := context.WithTimeout(ctx, cfg.HardTimeout())
	defer cancel()

	tempPath, err := w.materializer.Materialize(hardCtx, audioPath, slice)
	if err != nil {
		return jobs.ChunkRow{}, w.fail(jobID, slice.ChunkIdx, errs.Newf("materialize chunk %d: %v", slice.ChunkIdx, err).
			Kind(errs.KindChunkProcessingFailed).Component("worker").Build())
	}
	defer func() {
		if cleanupErr := w.materializer.Cleanup(tempPath); cleanupErr != nil {
			w.log.Warn("CHUNK_CLEANUP_FAILED", "job_id", jobID, "chunk_idx", slice.ChunkIdx, "error", cleanupErr)
		}
	}()

	softCtx, softCancel := context.WithTimeout(hardCtx, cfg.SoftTimeout())
	defer softCancel()

	transcribed, procErr := w.transcribeWithRetry(softCtx, jobID, slice, tempPath, language, cfg)
	if procErr != nil {
		return jobs.ChunkRow{}, procErr
	}

	speaker := w.classifySpeaker(hardCtx, jobID, slice, transcribed)

	row := jobs.ChunkRow{
		ChunkIdx:   uint32(slice.ChunkIdx),
		StartSec:   slice.StartSec,
		EndSec:     slice.EndSec,
		Text:       joinSegments(transcribed),
		Speaker:    speaker,
		ProducedAt: time.Now().UTC(),
	}
	if len(transcribed.Segments) > 0 {
		row.ASRConfidence = avgLogProbToConfidence(transcribed.Segments)
	}
	// real_time_factor: wall-clock processing time divided by the
	// audio span covered, so < 1 means faster than real time.
	audioSpan := slice.EndSec - slice.StartSec
	if audioSpan > 0 {
		row.RealTimeFactor = float32(time.Since(started).Seconds() / audioSpan)
	}
	return row, nil
}

// ProcessChunk runs Compute and then persists the resulting row
// immediately, for callers that need no ordering guarantee across
// chunks of the same job (direct use and unit tests). The Scheduler
// uses Compute directly so it can enforce ascending-chunk_idx
// persistence order itself.
func (w *Worker) ProcessChunk(ctx context.Context, jobID, audioPath string, slice chunker.Slice, language string, total uint32, cfg config.JobConfig) error {
	row, err := w.Compute(ctx, jobID, audioPath, slice, language, cfg)
	if err != nil {
		return err
	}
	if _, err := w.registry.AppendChunk(jobID, row, total); err != nil {
		return w.fail(jobID, slice.ChunkIdx, err)
	}
	return nil
}

// transcribeWithRetry calls the ASR adapter, retrying transient
// failures with the spec's default exponential-backoff-with-jitter
// policy (initial 500ms, multiplier 2, jitter +/-20%, at most
// cfg.MaxRetriesPerChunk retries, 3 by default), and auditing every
// attempt.
func (w *Worker) transcribeWithRetry(ctx context.Context, jobID string, slice chunker.Slice, tempPath, language string, cfg config.JobConfig) (adapters.Transcribed, error) {
	policy := retry.DefaultPolicy(cfg.MaxRetriesPerChunk)
	var lastErr *adapters.AdapterError

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return adapters.Transcribed{}, w.fail(jobID, slice.ChunkIdx, errs.Newf("chunk %d timed out waiting to retry ASR call: %v", slice.ChunkIdx, ctx.Err()).
					Kind(errs.KindChunkTimedOut).Component("worker").Build())
			case <-time.After(policy.Delay(attempt, w.rng)):
			}
		}

		result, adapterErr := w.asr.Transcribe(ctx, tempPath, language)
		status := audit.StatusSuccess
		if adapterErr != nil {
			status = audit.StatusFailed
		}
		w.auditAdapterCall("ASR_CALL_COMPLETED", jobID, slice.ChunkIdx, []byte(tempPath), result, status)

		if adapterErr == nil {
			return result, nil
		}
		lastErr = adapterErr
		if !adapterErr.Kind.Transient() {
			return adapters.Transcribed{}, w.fail(jobID, slice.ChunkIdx, errs.Newf("chunk %d: permanent ASR failure %s: %s", slice.ChunkIdx, adapterErr.Kind, adapterErr.Detail).
				Kind(errs.KindChunkProcessingFailed).Component("worker").Build())
		}
	}

	return adapters.Transcribed{}, w.fail(jobID, slice.ChunkIdx, errs.Newf("chunk %d: ASR failed after %d retries: %s", slice.ChunkIdx, policy.MaxRetries, lastErr.Detail).
		Kind(errs.KindChunkProcessingFailed).Component("worker").Build())
}

// classifySpeaker calls the optional classifier adapter; a disabled
// classifier, or one that fails transiently beyond what this call
// budget allows, resolves to SpeakerUnknown rather than failing the
// chunk — the classifier is advisory, never load-bearing.
func (w *Worker) classifySpeaker(ctx context.Context, jobID string, slice chunker.Slice, transcribed adapters.Transcribed) jobs.Speaker {
	if w.classifier == nil {
		return jobs.SpeakerUnknown
	}
	result, adapterErr := w.classifier.ClassifySpeaker(ctx, joinSegments(transcribed), nil)
	status := audit.StatusSuccess
	if adapterErr != nil {
		status = audit.StatusFailed
	}
	w.auditAdapterCall("CLASSIFIER_CALL_COMPLETED", jobID, slice.ChunkIdx, nil, result, status)
	if adapterErr != nil {
		return jobs.SpeakerUnknown
	}
	switch result.Label {
	case adapters.LabelPatient:
		return jobs.SpeakerPatient
	case adapters.LabelClinician:
		return jobs.SpeakerClinician
	default:
		return jobs.SpeakerUnknown
	}
}

func (w *Worker) auditAdapterCall(operation, jobID string, chunkIdx int, payload []byte, result any, status audit.Status) {
	encodedResult, err := archive.Encode(result)
	if err != nil {
		encodedResult = nil
	}
	if _, err := w.ledger.Append(operation, "worker", jobID, payload, encodedResult, status, ""); err != nil {
		w.log.Warn("AUDIT_APPEND_FAILED", "job_id", jobID, "chunk_idx", chunkIdx, "error", err)
	}
}

// fail transitions the job to FAILED and records the error class,
// then returns the original error so the caller's own error path
// propagates it.
func (w *Worker) fail(jobID string, chunkIdx int, err error) error {
	kind, _ := errs.KindOf(err)
	reason := string(kind)
	if transErr := w.registry.Transition(jobID, jobs.StatusFailed, reason); transErr != nil {
		w.log.Error("CHUNK_PROCESSING_FAILED", "job_id", jobID, "chunk_idx", chunkIdx, "error", err, "transition_error", transErr)
	}
	return err
}

func joinSegments(t adapters.Transcribed) string {
	if len(t.Segments) == 0 {
		return ""
	}
	out := t.Segments[0].Text
	for _, seg := range t.Segments[1:] {
		out += " " + seg.Text
	}
	return out
}

func avgLogProbToConfidence(segments []adapters.Segment) float32 {
	var sum float32
	for _, seg := range segments {
		sum += seg.AvgLogProb
	}
	mean := sum / float32(len(segments))
	// avg_logprob is typically in (-inf, 0]; clamp into [0, 1] as a
	// rough confidence proxy, matching the common Whisper-adjacent
	// convention of exp(avg_logprob).
	confidence := float32(math.Exp(float64(mean)))
	if confidence > 1 {
		confidence = 1
	}
	if confidence < 0 {
		confidence = 0
	}
	return confidence
}
