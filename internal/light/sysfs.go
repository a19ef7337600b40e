package light

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"

	"github.com/hwhung0111/koreader/internal/device"
)

// Channel response curve fitted to the vendor firmware's own light tables.
// The white channel fades out as warmth rises while the two amber channels
// (red and green share the warm LED string) fade in.
const (
	whiteGain     = 25.0
	redGain       = 24.0
	greenGain     = 24.0
	whiteOffset   = -25.0
	redOffset     = 0.0
	greenOffset   = -65.0
	lightExponent = 0.25
	channelMax    = 255
)

type sysfsLight struct {
	paths device.FrontlightPaths
	nl    *device.NaturalLight
	log   *slog.Logger

	brightness int
	warmth     int

	write func(path string, value int) error
}

func newSysfsLight(paths device.FrontlightPaths, nl *device.NaturalLight, log *slog.Logger) *sysfsLight {
	return &sysfsLight{
		paths: paths,
		nl:    nl,
		log:   log,
		write: writeIntFile,
	}
}

func (d *sysfsLight) Brightness() int { return d.brightness }
func (d *sysfsLight) Warmth() int     { return d.warmth }
func (d *sysfsLight) Close() error    { return nil }

func (d *sysfsLight) HasWarmth() bool {
	if d.paths.Mixer != "" && d.nl != nil {
		return true
	}
	return d.paths.Red != ""
}

func (d *sysfsLight) SetBrightness(pct int) error {
	d.brightness = clampPct(pct)
	return d.apply()
}

func (d *sysfsLight) SetWarmth(pct int) error {
	if !d.HasWarmth() {
		return ErrNoWarmth
	}
	d.warmth = clampPct(pct)
	return d.apply()
}

func (d *sysfsLight) apply() error {
	if d.paths.Mixer != "" {
		if err := d.write(ledAttr(d.paths.White), d.brightness); err != nil {
			return fmt.Errorf("set frontlight brightness: %w", err)
		}
		if err := d.write(d.paths.Mixer, d.mixerValue()); err != nil {
			return fmt.Errorf("set frontlight warmth: %w", err)
		}
		return nil
	}

	white, red, green := naturalChannels(d.brightness, d.warmth)
	d.log.Debug("frontlight blend", "white", white, "red", red, "green", green)
	if err := d.write(ledAttr(d.paths.White), white); err != nil {
		return fmt.Errorf("set white channel: %w", err)
	}
	if d.paths.Red != "" {
		if err := d.write(ledAttr(d.paths.Red), red); err != nil {
			return fmt.Errorf("set red channel: %w", err)
		}
	}
	if d.paths.Green != "" {
		if err := d.write(ledAttr(d.paths.Green), green); err != nil {
			return fmt.Errorf("set green channel: %w", err)
		}
	}
	return nil
}

// mixerValue maps the warmth percentage onto the mixer's own scale,
// flipping it on hardware that counts down toward warm.
func (d *sysfsLight) mixerValue() int {
	span := d.nl.Max - d.nl.Min
	v := d.nl.Min + (d.warmth*span+50)/100
	if d.nl.Inverted {
		v = d.nl.Max - (v - d.nl.Min)
	}
	if v < d.nl.Min {
		v = d.nl.Min
	}
	if v > d.nl.Max {
		v = d.nl.Max
	}
	return v
}

// naturalChannels blends a brightness/warmth pair into per-LED levels for
// the trio and duo boards.
func naturalChannels(brightness, warmth int) (white, red, green int) {
	if brightness <= 0 {
		return 0, 0, 0
	}
	b := math.Pow(float64(brightness), lightExponent)
	cool := math.Pow(float64(100-warmth), lightExponent)
	warm := math.Pow(float64(warmth), lightExponent)
	white = clampChannel(whiteGain*b*cool + whiteOffset)
	red = clampChannel(redGain*b*warm + redOffset)
	green = clampChannel(greenGain*b*warm + greenOffset)
	return white, red, green
}

func clampChannel(v float64) int {
	n := int(math.Floor(v))
	if n < 0 {
		return 0
	}
	if n > channelMax {
		return channelMax
	}
	return n
}

// ledAttr resolves an LED class directory to its brightness attribute.
func ledAttr(dir string) string {
	return dir + "/brightness"
}

func writeIntFile(path string, value int) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	_, werr := f.WriteString(strconv.Itoa(value))
	cerr := f.Close()
	if werr != nil {
		return werr
	}
	return cerr
}
