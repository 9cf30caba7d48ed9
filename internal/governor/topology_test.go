package governor

import "testing"

func TestDefaultParallelChunksIsPositive(t *testing.T) {
	t.Parallel()
	if got := DefaultParallelChunks(); got < 1 {
		t.Fatalf("expected a positive default parallelism, got %d", got)
	}
}
