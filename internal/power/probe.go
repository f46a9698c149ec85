// Package power probes device capability, power state and temperature, and
// turns the readings into admission-control decisions for the batch
// orchestrator.
package power

import (
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"github.com/book-expert/logger"
)

// Device classes recognized by the batch sizing table.
const (
	DeviceClassAir     = "air"
	DeviceClassPro     = "pro"
	DeviceClassGeneric = "generic"
)

// Batch sizes per device class and power source. These are admission-control
// values for concurrent synthesis tasks, not hard concurrency limits.
const (
	batchAirOnBattery = 2
	batchAirPluggedIn = 3
	batchProOnBattery = 4
	batchProPluggedIn = 6
	batchDefault      = 3
)

// Linux sensor paths.
const (
	linuxThermalZonePath  = "/sys/class/thermal/thermal_zone0/temp"
	linuxBatteryStatePath = "/sys/class/power_supply/BAT0/status"
	milliDegreesPerDegree = 1000.0
)

// FixedProbe is a probe returning constant readings. Used by tests and as
// the fallback when OS sensors are unavailable.
type FixedProbe struct {
	Class       string
	Battery     bool
	Temperature float64
	HasReading  bool
}

// DeviceClass returns the configured device class.
func (p *FixedProbe) DeviceClass() string { return p.Class }

// OnBattery returns the configured power source flag.
func (p *FixedProbe) OnBattery() bool { return p.Battery }

// TemperatureC returns the configured reading.
func (p *FixedProbe) TemperatureC() (float64, bool) { return p.Temperature, p.HasReading }

// SystemProbe reads device class, battery state and temperature from the
// operating system. Readings are best effort: a sensor that cannot be read
// reports absence rather than failing the caller.
type SystemProbe struct {
	log *logger.Logger
}

// NewSystemProbe creates a probe backed by OS sensors.
func NewSystemProbe(log *logger.Logger) *SystemProbe {
	return &SystemProbe{log: log}
}

// DeviceClass classifies the host machine for the batch sizing table.
func (p *SystemProbe) DeviceClass() string {
	if runtime.GOOS != "darwin" {
		return DeviceClassGeneric
	}

	output, err := exec.Command("sysctl", "-n", "hw.model").Output()
	if err != nil {
		return DeviceClassGeneric
	}

	model := strings.ToLower(string(output))

	switch {
	case strings.Contains(model, "macbookair"):
		return DeviceClassAir
	case strings.Contains(model, "macbookpro"):
		return DeviceClassPro
	default:
		return DeviceClassGeneric
	}
}

// OnBattery reports whether the host is running unplugged.
func (p *SystemProbe) OnBattery() bool {
	switch runtime.GOOS {
	case "darwin":
		output, err := exec.Command("pmset", "-g", "batt").Output()
		if err != nil {
			return false
		}

		return strings.Contains(string(output), "Battery Power")
	case "linux":
		data, err := os.ReadFile(linuxBatteryStatePath)
		if err != nil {
			return false
		}

		return strings.TrimSpace(string(data)) == "Discharging"
	default:
		return false
	}
}

// TemperatureC returns the CPU temperature when a sensor is readable.
func (p *SystemProbe) TemperatureC() (float64, bool) {
	switch runtime.GOOS {
	case "darwin":
		output, err := exec.Command("osx-cpu-temp").Output()
		if err != nil {
			return 0, false
		}

		value := strings.TrimSpace(strings.ReplaceAll(string(output), "°C", ""))

		temp, parseErr := strconv.ParseFloat(value, 64)
		if parseErr != nil {
			return 0, false
		}

		return temp, true
	case "linux":
		data, err := os.ReadFile(linuxThermalZonePath)
		if err != nil {
			return 0, false
		}

		milli, parseErr := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
		if parseErr != nil {
			return 0, false
		}

		return milli / milliDegreesPerDegree, true
	default:
		return 0, false
	}
}

// BatchSize computes the adaptive batch size from a capability probe.
// A device on battery always gets a batch no larger than the same device
// plugged in.
func BatchSize(deviceClass string, onBattery bool) int {
	switch {
	case deviceClass == DeviceClassAir && onBattery:
		return batchAirOnBattery
	case deviceClass == DeviceClassAir:
		return batchAirPluggedIn
	case deviceClass == DeviceClassPro && onBattery:
		return batchProOnBattery
	case deviceClass == DeviceClassPro:
		return batchProPluggedIn
	default:
		return batchDefault
	}
}
