// Package light drives the frontlight hardware. Two generations exist: the
// older boards take a brightness level through an ioctl on the ntx multiplex
// device, the natural-light boards expose LED class devices in sysfs whose
// white and amber channels are blended from a brightness/warmth pair.
package light

import (
	"errors"
	"log/slog"

	"github.com/hwhung0111/koreader/internal/device"
)

var (
	ErrNoFrontlight = errors.New("device has no frontlight")
	ErrNoWarmth     = errors.New("frontlight has no warmth control")
)

// Frontlight is the device-independent surface the daemon drives.
// Brightness and warmth are percentages; the backend maps them onto
// whatever the hardware wants.
type Frontlight interface {
	SetBrightness(pct int) error
	SetWarmth(pct int) error
	Brightness() int
	Warmth() int
	HasWarmth() bool
	Close() error
}

// New picks the backend for the variant: sysfs LEDs when the descriptor
// carries paths, otherwise the ntx ioctl.
func New(v device.Variant, log *slog.Logger) (Frontlight, error) {
	if !v.HasFrontlight {
		return nil, ErrNoFrontlight
	}
	if log == nil {
		log = slog.Default()
	}
	if v.Frontlight != nil {
		return newSysfsLight(*v.Frontlight, v.Natural, log), nil
	}
	return newNTXLight(log), nil
}

func clampPct(pct int) int {
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
