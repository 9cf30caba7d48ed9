package jobs

import (
	"github.com/clinisys/diarocore/internal/archive"
	"github.com/clinisys/diarocore/internal/errs"
)

// Status composes a JobView for a poller. The read order matters: job
// attributes are snapshotted first, then the chunk dataset's current
// length, then the rows themselves. Because a chunk row append always
// happens-before the corresponding processed_chunks attribute update,
// reading attributes first guarantees len(chunks) >= processed_chunks
// even if a worker advances the job between the two reads — never the
// reverse.
func (r *Registry) Status(jobID string) (JobView, error) {
	job, found, err := r.Get(jobID)
	if err != nil {
		return JobView{}, err
	}
	if !found {
		return JobView{}, errs.Newf("job %s not found", jobID).Kind(errs.KindJobNotFound).Component("jobs").Build()
	}

	group := jobGroup(job.JobID)
	length, err := r.store.DatasetLength(group, chunksDataset)
	if err != nil {
		return JobView{}, err
	}
	raw, err := r.store.ReadRows(group, chunksDataset, 0, length)
	if err != nil {
		return JobView{}, err
	}

	chunks := make([]ChunkRow, 0, len(raw))
	for _, encoded := range raw {
		var row ChunkRow
		if err := archive.Decode(encoded, &row); err != nil {
			return JobView{}, err
		}
		chunks = append(chunks, row)
	}

	return JobView{
		JobID:           job.JobID,
		SessionID:       job.SessionID,
		Status:          job.Status,
		TotalChunks:     job.TotalChunks,
		ProcessedChunks: job.ProcessedChunks,
		ProgressPct:     job.ProgressPct,
		Chunks:          chunks,
		CreatedAt:       job.CreatedAt,
		UpdatedAt:       job.UpdatedAt,
		Error:           job.Error,
	}, nil
}

// AppendChunk appends one finished chunk row to the job's ordered
// dataset and then bumps processed_chunks — strictly in that order, so
// the Status/Result Reader's ordering guarantee holds.
func (r *Registry) AppendChunk(jobID string, row ChunkRow, total uint32) (uint32, error) {
	encoded, err := archive.Encode(row)
	if err != nil {
		return 0, err
	}
	group := jobGroup(jobID)
	if _, err := r.store.AppendRow(group, chunksDataset, encoded); err != nil {
		return 0, err
	}
	length, err := r.store.DatasetLength(group, chunksDataset)
	if err != nil {
		return 0, err
	}
	processed := uint32(length)
	if err := r.BumpProcessed(jobID, processed, total); err != nil {
		return 0, err
	}
	return processed, nil
}
