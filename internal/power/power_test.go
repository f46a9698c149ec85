// Package power_test tests adaptive batch sizing and thermal hysteresis.
package power_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/narravox/narrator/internal/power"
)

func TestBatchSize_Table(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		class     string
		onBattery bool
		expected  int
	}{
		{name: "air on battery", class: power.DeviceClassAir, onBattery: true, expected: 2},
		{name: "air plugged in", class: power.DeviceClassAir, onBattery: false, expected: 3},
		{name: "pro on battery", class: power.DeviceClassPro, onBattery: true, expected: 4},
		{name: "pro plugged in", class: power.DeviceClassPro, onBattery: false, expected: 6},
		{name: "generic", class: power.DeviceClassGeneric, onBattery: false, expected: 3},
		{name: "generic on battery", class: power.DeviceClassGeneric, onBattery: true, expected: 3},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, testCase.expected, power.BatchSize(testCase.class, testCase.onBattery))
		})
	}
}

// For the same device class, an on-battery signal must never yield a larger
// batch than the plugged-in state.
func TestBatchSize_BatterySmallerOrEqual(t *testing.T) {
	t.Parallel()

	for _, class := range []string{power.DeviceClassAir, power.DeviceClassPro, power.DeviceClassGeneric} {
		assert.LessOrEqual(
			t,
			power.BatchSize(class, true),
			power.BatchSize(class, false),
			"class %s", class,
		)
	}
}

// hotColdProbe replays a scripted temperature sequence.
type hotColdProbe struct {
	readings []float64
	position int
}

func (p *hotColdProbe) DeviceClass() string { return power.DeviceClassGeneric }
func (p *hotColdProbe) OnBattery() bool     { return false }

func (p *hotColdProbe) TemperatureC() (float64, bool) {
	if p.position >= len(p.readings) {
		return 0, false
	}

	reading := p.readings[p.position]
	p.position++

	return reading, true
}

func newRecordingGovernor(probe *hotColdProbe, pauses *[]time.Duration) *power.ThermalGovernor {
	return power.NewThermalGovernorWithSleep(probe, 85.0,
		func(_ context.Context, d time.Duration) {
			*pauses = append(*pauses, d)
		})
}

func TestThermalGovernor_EscalatesAfterThreeHotReadings(t *testing.T) {
	t.Parallel()

	probe := &hotColdProbe{readings: []float64{90, 91, 92, 93}, position: 0}

	var pauses []time.Duration

	governor := newRecordingGovernor(probe, &pauses)

	for range 4 {
		governor.Cooldown(context.Background())
	}

	assert.Equal(
		t,
		[]time.Duration{2 * time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second},
		pauses,
	)
	assert.Equal(t, 4, governor.Strikes())
}

func TestThermalGovernor_CoolReadingDecaysByOne(t *testing.T) {
	t.Parallel()

	probe := &hotColdProbe{readings: []float64{90, 91, 70, 90}, position: 0}

	var pauses []time.Duration

	governor := newRecordingGovernor(probe, &pauses)

	governor.Cooldown(context.Background())
	governor.Cooldown(context.Background())
	assert.Equal(t, 2, governor.Strikes())

	// Hysteresis: a single cool reading decays the counter by one, it does
	// not reset it.
	governor.Cooldown(context.Background())
	assert.Equal(t, 1, governor.Strikes())

	governor.Cooldown(context.Background())
	assert.Equal(t, 2, governor.Strikes())
}

// One governor is shared by every chapter worker in a bulk request, so
// racing Cooldown calls must not tear the escalation counter.
func TestThermalGovernor_ConcurrentCooldownsKeepCounterConsistent(t *testing.T) {
	t.Parallel()

	probe := &power.FixedProbe{
		Class:       power.DeviceClassPro,
		Battery:     false,
		Temperature: 95,
		HasReading:  true,
	}

	governor := power.NewThermalGovernorWithSleep(probe, 85.0,
		func(_ context.Context, _ time.Duration) {})

	const workers = 16

	var waitGroup sync.WaitGroup

	for range workers {
		waitGroup.Add(1)

		go func() {
			defer waitGroup.Done()

			governor.Cooldown(context.Background())
		}()
	}

	waitGroup.Wait()

	assert.Equal(t, workers, governor.Strikes())
}

func TestThermalGovernor_MissingSensorNeverThrottles(t *testing.T) {
	t.Parallel()

	probe := &power.FixedProbe{
		Class:       power.DeviceClassGeneric,
		Battery:     false,
		Temperature: 0,
		HasReading:  false,
	}

	var pauses []time.Duration

	governor := power.NewThermalGovernorWithSleep(probe, 85.0,
		func(_ context.Context, d time.Duration) {
			pauses = append(pauses, d)
		})

	for range 5 {
		assert.Zero(t, governor.Cooldown(context.Background()))
	}

	assert.Empty(t, pauses)
}
