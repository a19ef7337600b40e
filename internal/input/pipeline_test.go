package input

import (
	"log/slog"
	"testing"
	"time"

	"github.com/hwhung0111/koreader/internal/device"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// TestPipeline_SwapThenMirror tests that the axis swap runs before the X
// mirror, so a Y sample that becomes X after the swap is the one mirrored.
func TestPipeline_SwapThenMirror(t *testing.T) {
	v := device.Variant{SwapAxes: true, MirrorX: true}
	p := New(v, Options{ScreenWidth: 600}, slog.Default())

	// Arrives as Y, becomes X, gets mirrored.
	ev := Event{Type: EV_ABS, Code: ABS_MT_POSITION_Y, Value: 100}
	if !p.Apply(&ev) {
		t.Fatal("expected event to pass through")
	}
	if ev.Code != ABS_MT_POSITION_X {
		t.Errorf("expected code ABS_MT_POSITION_X, got %#x", ev.Code)
	}
	if ev.Value != 500 {
		t.Errorf("expected mirrored value 500, got %d", ev.Value)
	}

	// Arrives as X, becomes Y, value untouched.
	ev = Event{Type: EV_ABS, Code: ABS_MT_POSITION_X, Value: 100}
	p.Apply(&ev)
	if ev.Code != ABS_MT_POSITION_Y {
		t.Errorf("expected code ABS_MT_POSITION_Y, got %#x", ev.Code)
	}
	if ev.Value != 100 {
		t.Errorf("expected value 100, got %d", ev.Value)
	}
}

// TestPipeline_SwapOverride tests that the user override beats the
// descriptor's axis decision.
func TestPipeline_SwapOverride(t *testing.T) {
	off := false
	v := device.Variant{SwapAxes: true}
	p := New(v, Options{SwapOverride: &off}, slog.Default())

	ev := Event{Type: EV_ABS, Code: ABS_X, Value: 42}
	p.Apply(&ev)
	if ev.Code != ABS_X {
		t.Errorf("expected code ABS_X with swap overridden off, got %#x", ev.Code)
	}

	on := true
	p = New(device.Variant{}, Options{SwapOverride: &on}, slog.Default())
	ev = Event{Type: EV_ABS, Code: ABS_X, Value: 42}
	p.Apply(&ev)
	if ev.Code != ABS_Y {
		t.Errorf("expected code ABS_Y with swap overridden on, got %#x", ev.Code)
	}
}

// TestPipeline_TrackingShift tests the alyssum hook: tracking IDs move down
// by one and every event gets the wall clock.
func TestPipeline_TrackingShift(t *testing.T) {
	now := time.Unix(1700000000, 250000000)
	v := device.Variant{Protocol: device.ProtocolAlyssum}
	p := New(v, Options{Now: fixedClock(now)}, slog.Default())

	ev := Event{Type: EV_ABS, Code: ABS_MT_TRACKING_ID, Value: 1}
	p.Apply(&ev)
	if ev.Value != 0 {
		t.Errorf("expected tracking id 0, got %d", ev.Value)
	}
	if ev.Sec != 1700000000 || ev.Usec != 250000 {
		t.Errorf("expected wall-clock stamp 1700000000.250000, got %d.%06d", ev.Sec, ev.Usec)
	}

	// Non-tracking events keep their value but still get restamped.
	ev = Event{Type: EV_ABS, Code: ABS_MT_POSITION_X, Value: 300}
	p.Apply(&ev)
	if ev.Value != 300 {
		t.Errorf("expected value 300, got %d", ev.Value)
	}
	if ev.Sec != 1700000000 {
		t.Errorf("expected restamped sec, got %d", ev.Sec)
	}

	if !p.PhoenixDecoding() {
		t.Error("expected alyssum variant to use phoenix decoding")
	}
}

// TestPipeline_EpochProbeBootRelative tests that a first touch sample far
// behind the wall clock flips the pipeline into restamping everything.
func TestPipeline_EpochProbeBootRelative(t *testing.T) {
	now := time.Unix(1700000000, 0)
	v := device.Variant{ProbeEventTimes: true}
	p := New(v, Options{Now: fixedClock(now)}, slog.Default())

	// Uptime-style timestamp: a few thousand seconds since boot.
	ev := Event{Sec: 4000, Type: EV_ABS, Code: ABS_MT_POSITION_X, Value: 10}
	p.Apply(&ev)
	if ev.Sec != 1700000000 {
		t.Errorf("expected first sample restamped to 1700000000, got %d", ev.Sec)
	}
	if got := p.EpochState(); got != "boot-relative" {
		t.Errorf("expected state boot-relative, got %q", got)
	}

	// Every later event is restamped too, touch or not.
	ev = Event{Sec: 4001, Type: EV_KEY, Code: KEY_POWER, Value: 1}
	p.Apply(&ev)
	if ev.Sec != 1700000000 {
		t.Errorf("expected key event restamped, got sec=%d", ev.Sec)
	}
}

// TestPipeline_EpochProbeCorrect tests that sane timestamps leave the
// pipeline inert, permanently.
func TestPipeline_EpochProbeCorrect(t *testing.T) {
	now := time.Unix(1700000000, 0)
	v := device.Variant{ProbeEventTimes: true}
	p := New(v, Options{Now: fixedClock(now)}, slog.Default())

	ev := Event{Sec: 1699999990, Type: EV_ABS, Code: ABS_MT_POSITION_X, Value: 10}
	p.Apply(&ev)
	if ev.Sec != 1699999990 {
		t.Errorf("expected timestamp untouched, got %d", ev.Sec)
	}
	if got := p.EpochState(); got != "epoch" {
		t.Errorf("expected state epoch, got %q", got)
	}

	// The verdict holds even for an event that looks boot-relative later.
	ev = Event{Sec: 4000, Type: EV_ABS, Code: ABS_MT_POSITION_X, Value: 10}
	p.Apply(&ev)
	if ev.Sec != 4000 {
		t.Errorf("expected verdict to be permanent, got sec=%d", ev.Sec)
	}
}

// TestPipeline_EpochProbeWaitsForTouch tests that non-touch events neither
// decide the probe nor get restamped before the verdict.
func TestPipeline_EpochProbeWaitsForTouch(t *testing.T) {
	now := time.Unix(1700000000, 0)
	v := device.Variant{ProbeEventTimes: true}
	p := New(v, Options{Now: fixedClock(now)}, slog.Default())

	ev := Event{Sec: 4000, Type: EV_KEY, Code: KEY_POWER, Value: 1}
	p.Apply(&ev)
	if ev.Sec != 4000 {
		t.Errorf("expected key event untouched before verdict, got sec=%d", ev.Sec)
	}
	if got := p.EpochState(); got != "unprobed" {
		t.Errorf("expected state unprobed, got %q", got)
	}

	ev = Event{Sec: 4000, Type: EV_ABS, Code: ABS_X, Value: 5}
	p.Apply(&ev)
	if got := p.EpochState(); got != "boot-relative" {
		t.Errorf("expected touch sample to decide the probe, got %q", got)
	}
}

// TestPipeline_NoProbeHook tests that variants with trustworthy kernels do
// not carry the probe at all.
func TestPipeline_NoProbeHook(t *testing.T) {
	v := device.Variant{ProbeEventTimes: false}
	p := New(v, Options{}, slog.Default())
	for _, name := range p.HookNames() {
		if name == "epoch_probe" {
			t.Error("expected no epoch_probe hook")
		}
	}
}

// TestPipeline_DecodingMarkers tests the protocol marker flags.
func TestPipeline_DecodingMarkers(t *testing.T) {
	cases := []struct {
		protocol device.TouchProtocol
		phoenix  bool
		snow     bool
	}{
		{device.ProtocolNone, false, false},
		{device.ProtocolPhoenix, true, false},
		{device.ProtocolAlyssum, true, false},
		{device.ProtocolSnow, false, true},
	}
	for _, c := range cases {
		p := New(device.Variant{Protocol: c.protocol}, Options{}, slog.Default())
		if p.PhoenixDecoding() != c.phoenix {
			t.Errorf("protocol %q: expected phoenix=%v, got %v", c.protocol, c.phoenix, p.PhoenixDecoding())
		}
		if p.SnowDecoding() != c.snow {
			t.Errorf("protocol %q: expected snow=%v, got %v", c.protocol, c.snow, p.SnowDecoding())
		}
	}
}

// TestPipeline_Gravity tests accelerometer translation and the consumption
// of facing samples.
func TestPipeline_Gravity(t *testing.T) {
	v := device.Variant{HasGravitySensor: true}
	p := New(v, Options{}, slog.Default())

	ev := Event{Type: EV_MSC, Code: MSC_RAW, Value: MSC_RAW_GSENSOR_PORTRAIT_UP}
	if !p.Apply(&ev) {
		t.Fatal("expected orientation sample to pass")
	}
	if ev.Value != OrientationUpright {
		t.Errorf("expected OrientationUpright, got %d", ev.Value)
	}

	ev = Event{Type: EV_MSC, Code: MSC_RAW, Value: MSC_RAW_GSENSOR_LANDSCAPE_LEFT}
	p.Apply(&ev)
	if ev.Value != OrientationCounterClockwise {
		t.Errorf("expected OrientationCounterClockwise, got %d", ev.Value)
	}

	ev = Event{Type: EV_MSC, Code: MSC_RAW, Value: MSC_RAW_GSENSOR_BACK}
	if p.Apply(&ev) {
		t.Error("expected facing sample to be consumed")
	}

	// Unrelated MSC traffic passes untouched.
	ev = Event{Type: EV_MSC, Code: MSC_RAW, Value: 0x42}
	if !p.Apply(&ev) {
		t.Error("expected unknown raw sample to pass")
	}
	if ev.Value != 0x42 {
		t.Errorf("expected value 0x42, got %d", ev.Value)
	}
}

// TestPipeline_GravityIgnored tests the user toggle that idles the
// accelerometer hook, including flipping it back on at runtime.
func TestPipeline_GravityIgnored(t *testing.T) {
	v := device.Variant{HasGravitySensor: true}
	p := New(v, Options{IgnoreGravitySensor: true}, slog.Default())

	ev := Event{Type: EV_MSC, Code: MSC_RAW, Value: MSC_RAW_GSENSOR_BACK}
	if !p.Apply(&ev) {
		t.Error("expected raw sample to pass with the hook disabled")
	}
	if ev.Value != MSC_RAW_GSENSOR_BACK {
		t.Errorf("expected raw value untouched, got %d", ev.Value)
	}

	p.SetIgnoreGravity(false)
	ev = Event{Type: EV_MSC, Code: MSC_RAW, Value: MSC_RAW_GSENSOR_BACK}
	if p.Apply(&ev) {
		t.Error("expected facing sample consumed after re-enabling the hook")
	}
	if p.IgnoresGravity() {
		t.Error("expected IgnoresGravity to report false")
	}
}
