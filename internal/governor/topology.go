package governor

import (
	"runtime"

	"github.com/klauspost/cpuid/v2"
)

// DefaultParallelChunks returns a parallelism hint for
// max_parallel_chunks; the configuration defaults do not call it and
// set max_parallel_chunks to a fixed 2. It prefers physical core count (a proxy
// for performance cores on hybrid parts) over the full logical count,
// adapted from the teacher's cpuspec.GetOptimalThreadCount — narrowed
// from its per-model brand-string lookup table to cpuid's
// PhysicalCores count, which the v2 library already reports without a
// hand-maintained model table.
func DefaultParallelChunks() int {
	available := runtime.NumCPU()

	physical := cpuid.CPU.PhysicalCores
	if physical > 0 && physical < available {
		return physical
	}
	if available > 0 {
		return available
	}
	return 1
}
