package scheduler

import (
	"sync"

	"github.com/clinisys/diarocore/internal/jobs"
)

// orderedLane is the per-job ordered persistence lane spec.md §4.8
// describes: chunks may finish out of order, but this lane buffers
// early completions and drains them into the Archive Store strictly in
// ascending chunk_idx order, one at a time, so the dataset itself is
// never written out of order even though ASR calls race freely.
type orderedLane struct {
	mu       sync.Mutex
	registry *jobs.Registry
	jobID    string
	total    uint32
	nextIdx  uint32
	pending  map[uint32]jobs.ChunkRow
	err      error
}

func newOrderedLane(registry *jobs.Registry, jobID string, total uint32) *orderedLane {
	return &orderedLane{registry: registry, jobID: jobID, total: total, pending: make(map[uint32]jobs.ChunkRow)}
}

// submit hands a finished row to the lane. If it is not yet this
// job's turn, it is buffered; otherwise it and any immediately
// following buffered rows are drained in order.
func (l *orderedLane) submit(row jobs.ChunkRow) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return
	}
	l.pending[row.ChunkIdx] = row
	for {
		next, ok := l.pending[l.nextIdx]
		if !ok {
			return
		}
		delete(l.pending, l.nextIdx)
		if _, err := l.registry.AppendChunk(l.jobID, next, l.total); err != nil {
			l.err = err
			return
		}
		l.nextIdx++
	}
}

// abort records a terminal error from a worker so the lane stops
// draining further and the caller can skip completion finalization.
// Only the first error is retained.
func (l *orderedLane) abort(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err == nil {
		l.err = err
	}
}

// finish reports the lane's terminal error, if any.
func (l *orderedLane) finish() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}
