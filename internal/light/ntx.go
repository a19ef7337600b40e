package light

import (
	"fmt"
	"log/slog"

	"golang.org/x/sys/unix"
)

// The pre-natural-light boards multiplex hardware pokes through a single
// character device; the frontlight level is one of its ioctl commands.
const (
	ntxDevice       = "/dev/ntx_io"
	cmFrontLightSet = 241
)

type ntxLight struct {
	dev string
	log *slog.Logger

	fd     int
	opened bool
	level  int

	ioctlSet func(fd, level int) error
}

func newNTXLight(log *slog.Logger) *ntxLight {
	return &ntxLight{
		dev: ntxDevice,
		log: log,
		ioctlSet: func(fd, level int) error {
			return unix.IoctlSetInt(fd, cmFrontLightSet, level)
		},
	}
}

func (d *ntxLight) Brightness() int { return d.level }
func (d *ntxLight) Warmth() int     { return 0 }
func (d *ntxLight) HasWarmth() bool { return false }

func (d *ntxLight) SetWarmth(pct int) error { return ErrNoWarmth }

func (d *ntxLight) SetBrightness(pct int) error {
	pct = clampPct(pct)
	if !d.opened {
		fd, err := unix.Open(d.dev, unix.O_RDWR, 0)
		if err != nil {
			return fmt.Errorf("open %s: %w", d.dev, err)
		}
		d.fd = fd
		d.opened = true
	}
	if err := d.ioctlSet(d.fd, pct); err != nil {
		return fmt.Errorf("frontlight ioctl: %w", err)
	}
	d.level = pct
	return nil
}

func (d *ntxLight) Close() error {
	if !d.opened {
		return nil
	}
	d.opened = false
	return unix.Close(d.fd)
}
