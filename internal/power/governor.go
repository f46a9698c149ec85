package power

import (
	"context"
	"sync"
	"time"

	"github.com/narravox/narrator/internal/core"
)

// Cooldown pauses enforced between synthesis batches.
const (
	shortPause = 2 * time.Second
	longPause  = 3 * time.Second

	// strikesBeforeEscalation is the number of consecutive above-threshold
	// readings after which the longer pause is enforced.
	strikesBeforeEscalation = 3
)

// ThermalGovernor applies cooldown pauses between synthesis batches based
// on temperature readings.
//
// The escalation counter is hysteretic, not instant-reset: every
// above-threshold reading increments it and every below-threshold reading
// decays it by one, so a machine oscillating around the threshold does not
// flap between throttled and full speed.
//
// One governor is shared by every concurrent chapter worker; counter updates
// are serialized, the pauses themselves are not.
type ThermalGovernor struct {
	probe   core.Probe
	maxTemp float64
	sleep   func(ctx context.Context, d time.Duration)

	mu      sync.Mutex
	strikes int
}

// NewThermalGovernor creates a governor with the given temperature ceiling.
func NewThermalGovernor(probe core.Probe, maxTempC float64) *ThermalGovernor {
	return NewThermalGovernorWithSleep(probe, maxTempC, sleepWithContext)
}

// NewThermalGovernorWithSleep creates a governor with a custom pause
// function. This constructor is primarily for testing, where real pauses
// would slow the suite down.
func NewThermalGovernorWithSleep(
	probe core.Probe,
	maxTempC float64,
	sleep func(ctx context.Context, d time.Duration),
) *ThermalGovernor {
	return &ThermalGovernor{
		probe:   probe,
		maxTemp: maxTempC,
		sleep:   sleep,
		mu:      sync.Mutex{},
		strikes: 0,
	}
}

// Cooldown takes one temperature reading and pauses when the device runs
// hot. It returns the pause that was enforced, zero when none was needed.
// A missing sensor reading never throttles.
func (g *ThermalGovernor) Cooldown(ctx context.Context) time.Duration {
	pause := g.nextPause()
	if pause == 0 {
		return 0
	}

	g.sleep(ctx, pause)

	return pause
}

// nextPause applies one reading to the escalation counter and returns the
// pause to enforce. The read-decide-update sequence holds the lock so racing
// workers cannot tear the counter.
func (g *ThermalGovernor) nextPause() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	temp, ok := g.probe.TemperatureC()
	if !ok || temp <= g.maxTemp {
		if g.strikes > 0 {
			g.strikes--
		}

		return 0
	}

	g.strikes++

	if g.strikes >= strikesBeforeEscalation {
		return longPause
	}

	return shortPause
}

// Strikes exposes the current escalation counter.
func (g *ThermalGovernor) Strikes() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.strikes
}

func sleepWithContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
