// Package chunker implements the Chunker (C6): it computes the ordered
// slice plan for a source audio file. It performs no I/O on the audio
// itself — materializing a slice into actual bytes is delegated to an
// external collaborator via the Materializer interface.
package chunker

import "context"

// Slice is one planned, ordered segment of the source audio.
type Slice struct {
	ChunkIdx int
	StartSec float64
	EndSec   float64
}

// Plan computes the ordered slice plan for a source of durationSec,
// targeting chunkSec-long slices with overlapSec of overlap between
// consecutive slices. When durationSec is shorter than chunkSec, it
// emits exactly one slice spanning the whole duration.
func Plan(durationSec, chunkSec, overlapSec float64) []Slice {
	if durationSec <= 0 {
		return nil
	}
	if durationSec <= chunkSec {
		return []Slice{{ChunkIdx: 0, StartSec: 0, EndSec: durationSec}}
	}

	var slices []Slice
	start := 0.0
	idx := 0
	for start < durationSec {
		end := start + chunkSec
		if end >= durationSec {
			end = durationSec
		}
		slices = append(slices, Slice{ChunkIdx: idx, StartSec: start, EndSec: end})
		if end >= durationSec {
			break
		}
		start = end - overlapSec
		idx++
	}
	return slices
}

// Materializer renders a planned Slice of audioPath into a temporary,
// decodable container a Transcription Worker can hand to the ASR
// adapter. It is an external collaborator — out of scope for this
// core, which only ever sees its interface.
type Materializer interface {
	Materialize(ctx context.Context, audioPath string, slice Slice) (tempPath string, err error)
	Cleanup(tempPath string) error
}
