package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hwhung0111/koreader/internal/device"
	"github.com/hwhung0111/koreader/internal/input"
	"github.com/hwhung0111/koreader/internal/light"
	"github.com/hwhung0111/koreader/internal/power"
	"github.com/hwhung0111/koreader/internal/settings"
	"github.com/hwhung0111/koreader/internal/wifi"
)

// fakeFrontlight is a test double for light.Frontlight.
type fakeFrontlight struct {
	brightness int
	warmth     int
	hasWarmth  bool

	brightnessCalls []int
	warmthCalls     []int
}

func (f *fakeFrontlight) SetBrightness(pct int) error {
	f.brightnessCalls = append(f.brightnessCalls, pct)
	f.brightness = pct
	return nil
}

func (f *fakeFrontlight) SetWarmth(pct int) error {
	if !f.hasWarmth {
		return light.ErrNoWarmth
	}
	f.warmthCalls = append(f.warmthCalls, pct)
	f.warmth = pct
	return nil
}

func (f *fakeFrontlight) Brightness() int { return f.brightness }
func (f *fakeFrontlight) Warmth() int     { return f.warmth }
func (f *fakeFrontlight) HasWarmth() bool { return f.hasWarmth }
func (f *fakeFrontlight) Close() error    { return nil }

// daemonEnv wires a daemon to temp stand-ins for every kernel file the
// components touch. The power controller and settings store are real; only
// the frontlight is a double.
type daemonEnv struct {
	d     *Daemon
	store *settings.Store
	fl    *fakeFrontlight
	bcast chan MonitorBroadcast
}

func newDaemonEnv(t *testing.T, v device.Variant, opts input.Options, gcfg input.GateConfig) *daemonEnv {
	t.Helper()
	dir := t.TempDir()

	for name, content := range map[string]string{
		"state-extended": "0\n",
		"state":          "",
		"capacity":       "85\n",
		"status":         "Discharging\n",
		"modules":        "",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatalf("fixture %s: %v", name, err)
		}
	}

	pw := power.NewController(power.Config{
		StateExtendedPath: filepath.Join(dir, "state-extended"),
		PowerStatePath:    filepath.Join(dir, "state"),
		SettleDelay:       time.Millisecond,
		ResumeDelay:       time.Millisecond,
		GuardDelay:        time.Hour,
		RetryBound:        3,
	}, slog.Default())
	t.Cleanup(pw.Stop)

	gauge := power.Gauge{
		CapacityPath: filepath.Join(dir, "capacity"),
		StatusPath:   filepath.Join(dir, "status"),
	}

	store, err := settings.Open(filepath.Join(dir, "settings.yaml"), slog.Default())
	if err != nil {
		t.Fatalf("settings store: %v", err)
	}

	shim := wifi.NewShim(wifi.Config{
		ScriptDir:   dir,
		ModulesFile: filepath.Join(dir, "modules"),
	}, slog.Default())

	gate := input.NewGate(v, opts, gcfg, nil, slog.Default())

	fl := &fakeFrontlight{hasWarmth: v.Natural != nil}

	bcast := make(chan MonitorBroadcast, 64)
	var flIface light.Frontlight
	if v.HasFrontlight {
		flIface = fl
	}
	d := newDaemon(v, device.Identity{Codename: v.Codename, FirmwareRev: "4.28.20266"},
		gate, pw, gauge, flIface, shim, store, bcast, slog.Default())

	return &daemonEnv{d: d, store: store, fl: fl, bcast: bcast}
}

// waitSuspend blocks until the off-loop suspend sequence reports back.
func (env *daemonEnv) waitSuspend(t *testing.T) error {
	t.Helper()
	select {
	case err := <-env.d.suspendDone:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for suspend to complete")
		return nil
	}
}

// drainBroadcasts empties the broadcast channel and returns what was queued.
func (env *daemonEnv) drainBroadcasts() []MonitorBroadcast {
	var out []MonitorBroadcast
	for {
		select {
		case b := <-env.bcast:
			out = append(out, b)
		default:
			return out
		}
	}
}

func keyEvent(code uint16, value int32) input.Event {
	return input.Event{Type: input.EV_KEY, Code: code, Value: value}
}

func TestDaemon_PowerButtonTogglesSuspend(t *testing.T) {
	env := newDaemonEnv(t, device.Variant{Codename: "trilogy"}, input.Options{}, input.GateConfig{})

	// First press: awake -> suspending.
	env.d.handleInput(keyEvent(input.KEY_POWER, 1))
	if err := env.waitSuspend(t); err != nil {
		t.Fatalf("suspend failed: %v", err)
	}
	if got := env.d.power.State(); got != power.StateAsleepOrRetrying {
		t.Fatalf("expected state asleep-or-retrying after suspend, got %v", got)
	}

	// Second press: asleep -> confirmed awake.
	env.d.handleInput(keyEvent(input.KEY_POWER, 1))
	if got := env.d.power.State(); got != power.StateAwake {
		t.Fatalf("expected state awake after second press, got %v", got)
	}
	if got := env.d.power.Wakeups(); got != 0 {
		t.Fatalf("expected wakeup counter reset on resume, got %d", got)
	}
}

func TestDaemon_SleepCoverControlsPower(t *testing.T) {
	env := newDaemonEnv(t, device.Variant{Codename: "frost"}, input.Options{}, input.GateConfig{})

	// Cover closed: key down.
	env.d.handleInput(keyEvent(input.KEY_SLEEPCOVER, 1))
	if err := env.waitSuspend(t); err != nil {
		t.Fatalf("suspend failed: %v", err)
	}
	if got := env.d.power.State(); got != power.StateAsleepOrRetrying {
		t.Fatalf("expected sleep after cover close, got %v", got)
	}

	// Cover opened: key up.
	env.d.handleInput(keyEvent(input.KEY_SLEEPCOVER, 0))
	if got := env.d.power.State(); got != power.StateAwake {
		t.Fatalf("expected awake after cover open, got %v", got)
	}
}

func TestDaemon_SuspendIgnoredWhileNotAwake(t *testing.T) {
	env := newDaemonEnv(t, device.Variant{Codename: "trilogy"}, input.Options{}, input.GateConfig{})
	ctx := context.Background()

	env.d.dispatch(ctx, Suspend{})
	if err := env.waitSuspend(t); err != nil {
		t.Fatalf("suspend failed: %v", err)
	}

	// Second request while asleep must not launch another sequence.
	env.d.dispatch(ctx, Suspend{})
	select {
	case err := <-env.d.suspendDone:
		t.Fatalf("unexpected second suspend completion (err=%v)", err)
	case <-time.After(50 * time.Millisecond):
	}
	if got := env.d.power.State(); got != power.StateAsleepOrRetrying {
		t.Fatalf("expected state unchanged, got %v", got)
	}
}

// TestDaemon_PowerButtonLiveWhileCalibrationPending covers the policy split:
// the calibration gate may hold the touch stream back, but key handling reads
// the raw event before the gate, so the power button keeps working.
func TestDaemon_PowerButtonLiveWhileCalibrationPending(t *testing.T) {
	v := device.Variant{Codename: "trilogy", NeedsTouchProbe: true}
	env := newDaemonEnv(t, v, input.Options{}, input.GateConfig{Policy: input.HoldDrop})

	// Touch traffic is held: nothing flows to the monitor.
	env.d.handleInput(input.Event{Type: input.EV_ABS, Code: input.ABS_X, Value: 120})
	if got := env.drainBroadcasts(); len(got) != 0 {
		t.Fatalf("expected no broadcasts while gate pending, got %d", len(got))
	}

	// Power button still suspends.
	env.d.handleInput(keyEvent(input.KEY_POWER, 1))
	if err := env.waitSuspend(t); err != nil {
		t.Fatalf("suspend failed: %v", err)
	}
	if got := env.d.power.State(); got != power.StateAsleepOrRetrying {
		t.Fatalf("expected suspend despite pending calibration, got %v", got)
	}
}

func TestDaemon_CalibrationReplaysAndPersists(t *testing.T) {
	v := device.Variant{Codename: "trilogy", NeedsTouchProbe: true}
	env := newDaemonEnv(t, v, input.Options{},
		input.GateConfig{Policy: input.HoldBuffer, HoldLimit: 8})
	ctx := context.Background()

	env.d.handleInput(input.Event{Type: input.EV_ABS, Code: input.ABS_X, Value: 100})
	env.d.handleInput(input.Event{Type: input.EV_ABS, Code: input.ABS_Y, Value: 200})
	if got := env.drainBroadcasts(); len(got) != 0 {
		t.Fatalf("expected buffered events not to broadcast yet, got %d", len(got))
	}

	env.d.dispatch(ctx, Calibrate{SwapXY: true})

	if !env.d.gate.Finalized() {
		t.Fatal("expected gate finalized after calibrate")
	}
	swap, decided := env.store.TouchSwapAxes()
	if !decided || !swap {
		t.Fatalf("expected persisted verdict swap=true decided=true, got swap=%v decided=%v", swap, decided)
	}

	got := env.drainBroadcasts()
	if len(got) != 3 {
		t.Fatalf("expected 2 replayed frames + 1 calibration frame, got %d", len(got))
	}
	first, ok := got[0].(BroadcastInput)
	if !ok {
		t.Fatalf("expected BroadcastInput first, got %T", got[0])
	}
	// The swapped pipeline turns the buffered ABS_X into ABS_Y.
	if first.Ev.Code != input.ABS_Y {
		t.Fatalf("expected replayed event swapped to ABS_Y, got %#x", first.Ev.Code)
	}
	cal, ok := got[2].(BroadcastCalibration)
	if !ok {
		t.Fatalf("expected BroadcastCalibration last, got %T", got[2])
	}
	if !cal.SwapXY || cal.Replayed != 2 {
		t.Fatalf("expected calibration frame swap=true replayed=2, got %+v", cal)
	}

	// A second verdict is refused and produces no traffic.
	env.d.dispatch(ctx, Calibrate{SwapXY: false})
	if got := env.drainBroadcasts(); len(got) != 0 {
		t.Fatalf("expected no broadcasts on repeated calibrate, got %d", len(got))
	}
	if swap, _ := env.store.TouchSwapAxes(); !swap {
		t.Fatal("expected stored verdict unchanged by repeated calibrate")
	}
}

func TestDaemon_FrontlightDispatch(t *testing.T) {
	v := device.Variant{
		Codename:      "nova",
		Model:         "Kobo Clara HD",
		HasFrontlight: true,
		Natural:       &device.NaturalLight{Min: 0, Max: 10},
	}
	env := newDaemonEnv(t, v, input.Options{}, input.GateConfig{})
	ctx := context.Background()

	intensity := 40
	env.d.dispatch(ctx, SetFrontlight{Intensity: &intensity})
	if len(env.fl.brightnessCalls) != 1 || env.fl.brightnessCalls[0] != 40 {
		t.Fatalf("expected one SetBrightness(40) call, got %v", env.fl.brightnessCalls)
	}
	if len(env.fl.warmthCalls) != 0 {
		t.Fatalf("expected no warmth calls, got %v", env.fl.warmthCalls)
	}
	if i, _ := env.store.Frontlight(); i != 40 {
		t.Fatalf("expected persisted intensity 40, got %d", i)
	}

	warmth := 70
	env.d.dispatch(ctx, SetFrontlight{Warmth: &warmth})
	if len(env.fl.warmthCalls) != 1 || env.fl.warmthCalls[0] != 70 {
		t.Fatalf("expected one SetWarmth(70) call, got %v", env.fl.warmthCalls)
	}
	if i, w := env.store.Frontlight(); i != 40 || w != 70 {
		t.Fatalf("expected persisted levels (40, 70), got (%d, %d)", i, w)
	}

	// Each adjustment pushes a status frame.
	var statuses int
	for _, b := range env.drainBroadcasts() {
		if _, ok := b.(BroadcastStatus); ok {
			statuses++
		}
	}
	if statuses != 2 {
		t.Fatalf("expected 2 status frames, got %d", statuses)
	}
}

func TestDaemon_FrontlightWarmthWithoutNaturalLight(t *testing.T) {
	v := device.Variant{Codename: "star", HasFrontlight: true}
	env := newDaemonEnv(t, v, input.Options{}, input.GateConfig{})

	warmth := 50
	env.d.dispatch(context.Background(), SetFrontlight{Warmth: &warmth})

	// The request is tolerated; the double refuses it and nothing persists.
	if len(env.fl.warmthCalls) != 0 {
		t.Fatalf("expected warmth refused, got calls %v", env.fl.warmthCalls)
	}
	if _, w := env.store.Frontlight(); w != 0 {
		t.Fatalf("expected warmth to stay 0, got %d", w)
	}
}

func TestDaemon_FrontlightRequestWithoutHardware(t *testing.T) {
	env := newDaemonEnv(t, device.Variant{Codename: "trilogy"}, input.Options{}, input.GateConfig{})

	intensity := 40
	env.d.dispatch(context.Background(), SetFrontlight{Intensity: &intensity})

	if len(env.fl.brightnessCalls) != 0 {
		t.Fatalf("expected no calls on a board without a frontlight, got %v", env.fl.brightnessCalls)
	}
	if got := env.drainBroadcasts(); len(got) != 0 {
		t.Fatalf("expected no broadcasts, got %d", len(got))
	}
}

func TestDaemon_GravityToggle(t *testing.T) {
	v := device.Variant{
		Codename:               "spaBW",
		HasGravitySensor:       true,
		CanToggleGravitySensor: true,
	}
	env := newDaemonEnv(t, v, input.Options{}, input.GateConfig{})
	ctx := context.Background()

	env.d.dispatch(ctx, SetGravitySensor{Ignore: true})
	if p := env.d.gate.Pipeline(); p == nil || !p.IgnoresGravity() {
		t.Fatal("expected pipeline to ignore the gravity sensor")
	}
	if !env.store.IgnoreGravitySensor() {
		t.Fatal("expected toggle persisted")
	}

	env.d.dispatch(ctx, SetGravitySensor{Ignore: false})
	if p := env.d.gate.Pipeline(); p.IgnoresGravity() {
		t.Fatal("expected pipeline to translate gravity samples again")
	}
	if env.store.IgnoreGravitySensor() {
		t.Fatal("expected persisted toggle cleared")
	}
}

func TestDaemon_StatusSnapshot(t *testing.T) {
	v := device.Variant{
		Codename:      "nova",
		Model:         "Kobo Clara HD",
		HasFrontlight: true,
		Natural:       &device.NaturalLight{Min: 0, Max: 10},
	}
	env := newDaemonEnv(t, v, input.Options{}, input.GateConfig{})
	env.fl.brightness = 25
	env.fl.warmth = 60

	reply := make(chan StatusSnapshot, 1)
	env.d.dispatch(context.Background(), StatusRequest{reply: reply})

	var snap StatusSnapshot
	select {
	case snap = <-reply:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for status reply")
	}

	if snap.Model != "Kobo Clara HD" || snap.Codename != "nova" {
		t.Fatalf("unexpected identity in snapshot: %+v", snap)
	}
	if snap.Firmware != "4.28.20266" {
		t.Fatalf("expected firmware from identity, got %q", snap.Firmware)
	}
	if snap.PowerState != "awake" {
		t.Fatalf("expected power_state awake, got %q", snap.PowerState)
	}
	if snap.CalibrationPending {
		t.Fatal("expected calibration settled for a variant without a probe")
	}
	if snap.BatteryPercent != 85 || snap.BatteryStatus != "Discharging" {
		t.Fatalf("expected battery 85%%/Discharging, got %d%%/%q", snap.BatteryPercent, snap.BatteryStatus)
	}
	if snap.FrontlightPercent != 25 || snap.WarmthPercent != 60 || !snap.HasWarmth {
		t.Fatalf("unexpected frontlight fields: %+v", snap)
	}
	if snap.WifiEnabled {
		t.Fatal("expected wifi disabled with an empty modules file")
	}
}

func TestDaemon_PeriodicStatusBroadcast(t *testing.T) {
	env := newDaemonEnv(t, device.Variant{Codename: "trilogy"}, input.Options{}, input.GateConfig{})
	env.d.poll = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan input.Event)
	actions := make(chan Action)
	readErr := make(chan error, 1)

	done := make(chan error, 1)
	go func() {
		done <- env.d.run(ctx, events, actions, readErr)
	}()

	deadline := time.After(time.Second)
	var got bool
	for !got {
		select {
		case b := <-env.bcast:
			if st, ok := b.(BroadcastStatus); ok {
				if st.Snap.BatteryPercent != 85 {
					t.Errorf("expected battery 85 in polled status, got %d", st.Snap.BatteryPercent)
				}
				got = true
			}
		case <-deadline:
			t.Fatal("timeout waiting for periodic status broadcast")
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean exit on cancel, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for run to exit")
	}
}

func TestDaemon_RunStopsWhenActionsClose(t *testing.T) {
	env := newDaemonEnv(t, device.Variant{Codename: "trilogy"}, input.Options{}, input.GateConfig{})

	events := make(chan input.Event)
	actions := make(chan Action)
	readErr := make(chan error, 1)

	done := make(chan error, 1)
	go func() {
		done <- env.d.run(context.Background(), events, actions, readErr)
	}()

	close(actions)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean exit on closed actions, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for run to exit")
	}
}

func TestDaemon_RunReportsReaderFailure(t *testing.T) {
	env := newDaemonEnv(t, device.Variant{Codename: "trilogy"}, input.Options{}, input.GateConfig{})

	events := make(chan input.Event)
	actions := make(chan Action)
	readErr := make(chan error, 1)
	readErr <- errors.New("device unplugged")

	done := make(chan error, 1)
	go func() {
		done <- env.d.run(context.Background(), events, actions, readErr)
	}()

	select {
	case err := <-done:
		if err == nil || !strings.Contains(err.Error(), "input reader stopped") {
			t.Fatalf("expected wrapped reader error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for run to exit")
	}
}
