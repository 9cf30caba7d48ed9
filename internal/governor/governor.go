// Package governor implements the CPU Governor (C7): it samples system
// load over a rolling window and advises the Scheduler on whether to
// release new dispatch work. It is advisory, never a hard lock: the
// Scheduler waits while it denies dispatch, and a job's high_priority
// attribute does not bypass that wait.
//
// Sampling is grounded on the teacher's internal/monitor.SystemMonitor,
// which polls github.com/shirou/gopsutil/v3/cpu on a fixed interval;
// this package narrows that general-purpose resource monitor down to a
// single rolling idle-percentage average.
package governor

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"

	"github.com/clinisys/diarocore/internal/logging"
)

// Params configures the governor's sampling behavior.
type Params struct {
	IdleThresholdPct  float64
	WindowSec         int
	SampleIntervalSec int
}

// DefaultParams mirrors the spec's documented defaults.
func DefaultParams() Params {
	return Params{IdleThresholdPct: 50, WindowSec: 10, SampleIntervalSec: 1}
}

// sampler abstracts the gopsutil call so tests can inject a synthetic
// load sequence instead of reading the real machine.
type sampler func() (busyPct float64, err error)

func liveSampler() (float64, error) {
	percents, err := cpu.Percent(0, false)
	if err != nil || len(percents) == 0 {
		return 0, err
	}
	return percents[0], nil
}

// Governor samples busyPct on SampleIntervalSec and keeps a rolling mean
// of idle percentage over WindowSec, per allow_dispatch()'s contract.
type Governor struct {
	params  Params
	sample  sampler
	log     logging.Logger
	onEvent func(name string, idleMean float64)

	mu      sync.Mutex
	samples []float64

	started bool
	cancel  context.CancelFunc
}

// New builds a Governor using the live gopsutil sampler.
func New(params Params, log logging.Logger, onEvent func(name string, idleMean float64)) *Governor {
	if log == nil {
		log = logging.Discard()
	}
	if onEvent == nil {
		onEvent = func(string, float64) {}
	}
	return &Governor{params: params, sample: liveSampler, log: log.Module("governor"), onEvent: onEvent}
}

// Start begins the background sampling loop; it emits
// CPU_SCHEDULER_STARTED once and runs until ctx is cancelled.
func (g *Governor) Start(ctx context.Context) {
	g.mu.Lock()
	if g.started {
		g.mu.Unlock()
		return
	}
	g.started = true
	ctx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	g.mu.Unlock()

	g.onEvent("CPU_SCHEDULER_STARTED", 0)
	g.log.Info("cpu governor started", "idle_threshold_pct", g.params.IdleThresholdPct, "window_sec", g.params.WindowSec)

	go func() {
		ticker := time.NewTicker(time.Duration(g.params.SampleIntervalSec) * time.Second)
		defer ticker.Stop()
		wasThrottled := false
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				busy, err := g.sample()
				if err != nil {
					g.log.Warn("cpu sample failed", "err", err)
					continue
				}
				mean := g.record(busy)
				allowed := mean >= g.params.IdleThresholdPct
				if !allowed && !wasThrottled {
					wasThrottled = true
					g.onEvent("CPU_DISPATCH_THROTTLED", mean)
				} else if allowed && wasThrottled {
					wasThrottled = false
					g.onEvent("CPU_DISPATCH_RESUMED", mean)
				}
			}
		}
	}()
}

// Stop halts the sampling loop.
func (g *Governor) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancel != nil {
		g.cancel()
	}
}

func (g *Governor) record(busyPct float64) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	idle := 100 - busyPct
	g.samples = append(g.samples, idle)
	maxSamples := g.params.WindowSec / max(g.params.SampleIntervalSec, 1)
	if maxSamples < 1 {
		maxSamples = 1
	}
	if len(g.samples) > maxSamples {
		g.samples = g.samples[len(g.samples)-maxSamples:]
	}
	return mean(g.samples)
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 100
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// AllowDispatch reports whether the rolling idle mean meets the
// configured threshold. With no samples yet, it allows dispatch
// optimistically (mean defaults to 100% idle) rather than blocking
// startup before the first sample arrives.
func (g *Governor) AllowDispatch() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return mean(g.samples) >= g.params.IdleThresholdPct
}

// AllowDispatchFor is AllowDispatch with a per-job threshold and
// window, so a submission's cpu_idle_threshold_pct/cpu_idle_window_sec
// (spec.md §6) can narrow or widen the process-wide gate for its own
// dispatch decisions without spinning up a second sampling goroutine:
// it just recomputes the mean over a shorter or longer suffix of the
// same sample history. windowSec is clamped to the samples actually
// retained, which is bounded by the governor's own configured
// window_sec — a job cannot see further back than the process keeps.
func (g *Governor) AllowDispatchFor(thresholdPct float64, windowSec int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := windowSec / max(g.params.SampleIntervalSec, 1)
	if n < 1 {
		n = 1
	}
	samples := g.samples
	if n < len(samples) {
		samples = samples[len(samples)-n:]
	}
	return mean(samples) >= thresholdPct
}

// IdleMean returns the current rolling idle-percentage mean, for
// logging and event metadata.
func (g *Governor) IdleMean() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return mean(g.samples)
}
