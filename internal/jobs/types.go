// Package jobs implements the Job Registry (C8) and the Status/Result
// Reader (C11): job lifecycle state, persisted through the Archive
// Store's attribute-update path, and a lock-free composed view for
// pollers.
package jobs

import "time"

// Status is a node in the job status lattice (spec.md §3 invariant 4).
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
)

// allowedNext is the status lattice's edge set: PENDING ->
// {IN_PROGRESS, CANCELLED, FAILED} and IN_PROGRESS -> {COMPLETED,
// FAILED, CANCELLED}. No return edges.
var allowedNext = map[Status]map[Status]bool{
	StatusPending:    {StatusInProgress: true, StatusCancelled: true, StatusFailed: true},
	StatusInProgress: {StatusCompleted: true, StatusFailed: true, StatusCancelled: true},
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s Status) CanTransitionTo(next Status) bool {
	return allowedNext[s][next]
}

// Terminal reports whether s has no outgoing edges.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Speaker is the closed label set a Transcription Worker may assign to
// a chunk.
type Speaker string

const (
	SpeakerUnknown   Speaker = "UNKNOWN"
	SpeakerPatient   Speaker = "PATIENT"
	SpeakerClinician Speaker = "CLINICIAN"
)

// DiarizationJob is one diarization task for one audio file (spec.md
// §3). Field order here is the canonical gob encoding order.
type DiarizationJob struct {
	JobID           string
	SessionID       string
	AudioPath       string
	AudioHash       string
	Status          Status
	TotalChunks     uint32
	ProcessedChunks uint32
	ProgressPct     uint8
	Language        string
	ConfigSnapshot  map[string]any
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Error           string
	HighPriority    bool
}

// ChunkRow is one finished chunk's persisted outcome (spec.md §3).
type ChunkRow struct {
	ChunkIdx       uint32
	StartSec       float64
	EndSec         float64
	Text           string
	Speaker        Speaker
	ASRConfidence  float32
	RealTimeFactor float32
	ProducedAt     time.Time
}

// JobView is the Status/Result Reader's (C11) composed, read-only
// snapshot: job attributes plus every persisted chunk row so far.
type JobView struct {
	JobID           string
	SessionID       string
	Status          Status
	TotalChunks     uint32
	ProcessedChunks uint32
	ProgressPct     uint8
	Chunks          []ChunkRow
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Error           string
}

func progressPct(processed, total uint32) uint8 {
	if total == 0 {
		return 0
	}
	return uint8((100 * uint64(processed)) / uint64(total))
}
