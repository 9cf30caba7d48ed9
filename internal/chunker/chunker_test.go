package chunker

import "testing"

func TestPlanShortAudioProducesSingleSlice(t *testing.T) {
	t.Parallel()

	slices := Plan(12.0, 30, 0.8)
	if len(slices) != 1 {
		t.Fatalf("expected exactly 1 slice, got %d", len(slices))
	}
	if slices[0].ChunkIdx != 0 || slices[0].StartSec != 0 || slices[0].EndSec != 12.0 {
		t.Fatalf("unexpected slice: %+v", slices[0])
	}
}

func TestPlanTypicalAudioStartsAtExpectedOffsets(t *testing.T) {
	t.Parallel()

	slices := Plan(441.0, 30, 0.8)
	if len(slices) == 0 {
		t.Fatal("expected at least one slice")
	}
	if slices[0].StartSec != 0.0 {
		t.Fatalf("expected first slice to start at 0, got %v", slices[0].StartSec)
	}
	if slices[1].StartSec != 29.2 {
		t.Fatalf("expected second slice to start at 29.2, got %v", slices[1].StartSec)
	}
	last := slices[len(slices)-1]
	if last.EndSec != 441.0 {
		t.Fatalf("expected final slice to end at duration_sec, got %v", last.EndSec)
	}
}

func TestPlanChunkIdxStartsAtZeroAndIncrements(t *testing.T) {
	t.Parallel()

	slices := Plan(120.0, 30, 0.8)
	for i, s := range slices {
		if s.ChunkIdx != i {
			t.Fatalf("expected chunk_idx %d at position %d, got %d", i, i, s.ChunkIdx)
		}
	}
}

func TestPlanRespectsMaxSliceLength(t *testing.T) {
	t.Parallel()

	chunkSec, overlapSec := 30.0, 0.8
	slices := Plan(300.0, chunkSec, overlapSec)
	for _, s := range slices {
		if s.EndSec-s.StartSec > chunkSec+overlapSec+1e-9 {
			t.Fatalf("slice %+v exceeds chunk_sec+overlap_sec bound", s)
		}
	}
}

func TestPlanConsecutiveSlicesOverlap(t *testing.T) {
	t.Parallel()

	overlapSec := 0.8
	slices := Plan(200.0, 30, overlapSec)
	for i := 1; i < len(slices); i++ {
		if slices[i].StartSec != slices[i-1].EndSec-overlapSec {
			t.Fatalf("slice %d does not start at prior end minus overlap: %+v vs %+v", i, slices[i-1], slices[i])
		}
	}
}

func TestPlanZeroDurationProducesNoSlices(t *testing.T) {
	t.Parallel()
	if slices := Plan(0, 30, 0.8); slices != nil {
		t.Fatalf("expected no slices for zero duration, got %v", slices)
	}
}
