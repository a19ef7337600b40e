package power

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Gauge reads battery state from the pmic sysfs attributes.
type Gauge struct {
	CapacityPath string
	StatusPath   string
}

// DefaultGauge points at the mc13892 pmic paths used across the supported
// boards.
func DefaultGauge() Gauge {
	return Gauge{
		CapacityPath: "/sys/devices/platform/pmic_battery.1/power_supply/mc13892_bat/capacity",
		StatusPath:   "/sys/devices/platform/pmic_battery.1/power_supply/mc13892_bat/status",
	}
}

// Capacity returns the charge percentage, clamped to 0..100.
func (g Gauge) Capacity() (int, error) {
	s, err := readAttr(g.CapacityPath)
	if err != nil {
		return 0, fmt.Errorf("read battery capacity: %w", err)
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("parse battery capacity %q: %w", s, err)
	}
	if n < 0 {
		n = 0
	}
	if n > 100 {
		n = 100
	}
	return n, nil
}

// Status returns the kernel's charge status string, e.g. "Charging",
// "Discharging" or "Full".
func (g Gauge) Status() (string, error) {
	s, err := readAttr(g.StatusPath)
	if err != nil {
		return "", fmt.Errorf("read battery status: %w", err)
	}
	return s, nil
}

// Charging reports whether the charger is actively filling the battery.
func (g Gauge) Charging() (bool, error) {
	s, err := g.Status()
	if err != nil {
		return false, err
	}
	return s == "Charging", nil
}

func readAttr(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}
