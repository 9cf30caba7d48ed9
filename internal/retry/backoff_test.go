package retry

import (
	"math/rand"
	"testing"
	"time"
)

func TestDelayGrowsExponentially(t *testing.T) {
	t.Parallel()
	p := DefaultPolicy(5)
	p.Jitter = 0 // disable jitter to assert the exact exponential curve
	rng := rand.New(rand.NewSource(1))

	d1 := p.Delay(1, rng)
	d2 := p.Delay(2, rng)
	d3 := p.Delay(3, rng)

	if d1 != 500*time.Millisecond {
		t.Fatalf("expected first delay 500ms, got %v", d1)
	}
	if d2 != 1000*time.Millisecond {
		t.Fatalf("expected second delay 1s, got %v", d2)
	}
	if d3 != 2000*time.Millisecond {
		t.Fatalf("expected third delay 2s, got %v", d3)
	}
}

func TestDelayStaysWithinJitterBand(t *testing.T) {
	t.Parallel()
	p := DefaultPolicy(5)
	rng := rand.New(rand.NewSource(42))

	base := 500 * time.Millisecond
	low := time.Duration(float64(base) * 0.8)
	high := time.Duration(float64(base) * 1.2)

	for i := 0; i < 50; i++ {
		d := p.Delay(1, rng)
		if d < low || d > high {
			t.Fatalf("delay %v outside jitter band [%v, %v]", d, low, high)
		}
	}
}

func TestDelayAtAttemptZeroReturnsInitialDelay(t *testing.T) {
	t.Parallel()
	p := DefaultPolicy(3)
	if got := p.Delay(0, nil); got != p.InitialDelay {
		t.Fatalf("expected initial delay, got %v", got)
	}
}
