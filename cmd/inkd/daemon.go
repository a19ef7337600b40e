package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hwhung0111/koreader/internal/device"
	"github.com/hwhung0111/koreader/internal/input"
	"github.com/hwhung0111/koreader/internal/light"
	"github.com/hwhung0111/koreader/internal/power"
	"github.com/hwhung0111/koreader/internal/settings"
	"github.com/hwhung0111/koreader/internal/wifi"
)

// ============================================================================
// Central Daemon Loop - "Daemon Brain"
// ============================================================================
//
// Design rules enforced here:
//   - The loop is the only goroutine that touches the gate/pipeline and the
//     loop-local flags; everything it owns needs no locking.
//   - Raw input events and IPC actions arrive through channels and are
//     handled one at a time.
//   - Side effects that block for unbounded time (suspend-to-RAM, the
//     connectivity scripts) run on their own goroutines and report back
//     through completion channels, so buttons and the monitor stay live.
//
// ============================================================================

// StatusSnapshot is the externally visible daemon state, served over IPC
// ("status" requests) and pushed to monitor clients.
type StatusSnapshot struct {
	Model    string `json:"model"`
	Codename string `json:"codename"`
	Firmware string `json:"firmware,omitempty"`

	PowerState string `json:"power_state"`
	Wakeups    int    `json:"wakeups"`

	EpochState         string   `json:"epoch_state,omitempty"`
	Hooks              []string `json:"hooks,omitempty"`
	CalibrationPending bool     `json:"calibration_pending"`

	WifiEnabled bool `json:"wifi_enabled"`

	BatteryPercent int    `json:"battery_percent"`
	BatteryStatus  string `json:"battery_status,omitempty"`

	FrontlightPercent int  `json:"frontlight_percent"`
	WarmthPercent     int  `json:"warmth_percent"`
	HasWarmth         bool `json:"has_warmth"`
}

// wifiResult reports a finished radio operation back to the loop.
type wifiResult struct {
	op  string
	err error
}

// statusPollInterval is the default cadence of the periodic battery/radio
// status broadcast; the config can override it.
const statusPollInterval = 30 * time.Second

// Daemon owns the hardware components and applies policy to the streams of
// input events and actions.
type Daemon struct {
	variant device.Variant
	id      device.Identity

	gate  *input.Gate
	power *power.Controller
	gauge power.Gauge
	light light.Frontlight
	wifi  *wifi.Shim
	store *settings.Store

	broadcasts chan<- MonitorBroadcast

	// Completion channels for side effects running off-loop.
	suspendDone chan error
	wifiDone    chan wifiResult
	wifiBusy    bool

	// poll is how often the loop refreshes battery/radio state for the
	// monitor.
	poll time.Duration

	logger *slog.Logger
}

// newDaemon wires the daemon brain. All component references may be nil when
// the hardware lacks them (frontlight on non-lit boards).
func newDaemon(
	v device.Variant,
	id device.Identity,
	gate *input.Gate,
	pw *power.Controller,
	gauge power.Gauge,
	fl light.Frontlight,
	shim *wifi.Shim,
	store *settings.Store,
	broadcasts chan<- MonitorBroadcast,
	logger *slog.Logger,
) *Daemon {
	return &Daemon{
		variant:     v,
		id:          id,
		gate:        gate,
		power:       pw,
		gauge:       gauge,
		light:       fl,
		wifi:        shim,
		store:       store,
		broadcasts:  broadcasts,
		suspendDone: make(chan error, 1),
		wifiDone:    make(chan wifiResult, 1),
		poll:        statusPollInterval,
		logger:      logger,
	}
}

// run is the main daemon loop.
//
// Shutdown semantics:
//   - Exits when ctx is canceled
//   - Exits cleanly when the actions channel is closed
//   - Exits with an error when the input reader dies
func (d *Daemon) run(ctx context.Context, events <-chan input.Event, actions <-chan Action, readErr <-chan error) error {
	ticker := time.NewTicker(d.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("daemon stopping (context canceled)")
			d.power.Stop()
			return nil

		case err := <-readErr:
			d.power.Stop()
			return fmt.Errorf("input reader stopped: %w", err)

		case ev := <-events:
			d.handleInput(ev)

		case act, ok := <-actions:
			if !ok {
				d.logger.Info("daemon stopping (actions channel closed)")
				d.power.Stop()
				return nil
			}
			d.dispatch(ctx, act)

		case err := <-d.suspendDone:
			if err != nil {
				d.logger.Error("suspend failed", "error", err)
			} else {
				d.logger.Info("woke from suspend, waiting for confirmation", "wakeups", d.power.Wakeups())
			}
			d.broadcastPower()

		case res := <-d.wifiDone:
			d.wifiBusy = false
			if res.err != nil {
				d.logger.Error("wifi operation failed", "op", res.op, "error", res.err)
			} else {
				d.logger.Info("wifi operation finished", "op", res.op)
			}
			d.broadcast(BroadcastStatus{Snap: d.snapshot(), At: time.Now().UTC()})

		case <-ticker.C:
			d.broadcast(BroadcastStatus{Snap: d.snapshot(), At: time.Now().UTC()})
		}
	}
}

// handleInput runs one raw event through key policy and the adjustment gate.
//
// Key policy reads the raw event: the adjustment hooks never rewrite key
// codes, and the power button has to work even while calibration is holding
// the touch stream back.
func (d *Daemon) handleInput(ev input.Event) {
	if ev.Type == input.EV_KEY {
		d.handleKey(ev)
	}

	if d.gate.Process(&ev) {
		d.broadcast(BroadcastInput{Ev: ev})
	}
}

// handleKey translates the power button and the sleep cover switch into
// suspend/resume intent.
func (d *Daemon) handleKey(ev input.Event) {
	switch {
	case ev.IsKeyPress(input.KEY_POWER):
		if d.power.State() == power.StateAwake {
			d.doSuspend()
		} else {
			d.doResume()
		}

	case ev.IsKeyPress(input.KEY_SLEEPCOVER):
		d.doSuspend()

	case ev.IsKeyRelease(input.KEY_SLEEPCOVER):
		d.doResume()
	}
}

// dispatch applies one action.
func (d *Daemon) dispatch(ctx context.Context, act Action) {
	switch a := act.(type) {
	case Suspend:
		d.doSuspend()

	case Resume:
		d.doResume()

	case StatusRequest:
		if a.reply != nil {
			a.reply <- d.snapshot()
		}

	case WifiUp:
		d.doWifi(ctx, "up")

	case WifiDown:
		d.doWifi(ctx, "down")

	case WifiRestore:
		if err := d.wifi.RestoreAsync(ctx); err != nil {
			d.logger.Error("wifi restore failed to start", "error", err)
		}

	case Calibrate:
		d.applyCalibration(a.SwapXY)

	case SetFrontlight:
		d.applyFrontlight(a)

	case SetGravitySensor:
		d.applyGravityToggle(a.Ignore)

	default:
		d.logger.Warn("unhandled action", "action", fmt.Sprintf("%T", act))
	}
}

// doSuspend starts the suspend sequence on its own goroutine; the write to
// the power-state file blocks for as long as the hardware sleeps.
func (d *Daemon) doSuspend() {
	if st := d.power.State(); st != power.StateAwake {
		d.logger.Warn("suspend request ignored", "state", st.String())
		return
	}
	d.logger.Info("suspending")
	d.broadcast(BroadcastPowerState{
		State:   power.StateSuspending.String(),
		Wakeups: d.power.Wakeups(),
		At:      time.Now().UTC(),
	})
	go func() {
		d.suspendDone <- d.power.Suspend()
	}()
}

// doResume confirms a wakeup. Bounded work, so it runs on the loop.
func (d *Daemon) doResume() {
	if err := d.power.Resume(); err != nil {
		d.logger.Warn("resume completed with errors", "error", err)
	} else {
		d.logger.Info("resumed")
	}
	d.broadcastPower()
}

// doWifi runs one radio script sequence off-loop. Only one operation may be
// in flight; the scripts do not tolerate overlapping runs.
func (d *Daemon) doWifi(ctx context.Context, op string) {
	if d.wifiBusy {
		d.logger.Warn("wifi operation already in flight, ignoring", "op", op)
		return
	}
	d.wifiBusy = true
	go func() {
		var err error
		switch op {
		case "up":
			err = d.wifi.Up(ctx)
		case "down":
			err = d.wifi.Down(ctx)
		}
		d.wifiDone <- wifiResult{op: op, err: err}
	}()
}

// applyCalibration finalizes the touch gate, persists the verdict and
// broadcasts whatever the gate buffered.
func (d *Daemon) applyCalibration(swapXY bool) {
	if d.gate.Finalized() {
		d.logger.Warn("calibration already settled, ignoring", "swap_xy", swapXY)
		return
	}
	replayed := d.gate.Decide(swapXY)
	if d.store != nil {
		if err := d.store.SetTouchSwapAxes(swapXY); err != nil {
			d.logger.Error("cannot persist calibration verdict", "error", err)
		}
	}
	for i := range replayed {
		d.broadcast(BroadcastInput{Ev: replayed[i]})
	}
	d.broadcast(BroadcastCalibration{
		SwapXY:   swapXY,
		Replayed: len(replayed),
		At:       time.Now().UTC(),
	})
}

// applyFrontlight adjusts brightness and/or warmth and persists the levels.
func (d *Daemon) applyFrontlight(a SetFrontlight) {
	if d.light == nil {
		d.logger.Warn("frontlight request on a board without a frontlight")
		return
	}
	if a.Intensity != nil {
		if err := d.light.SetBrightness(*a.Intensity); err != nil {
			d.logger.Error("cannot set frontlight brightness", "error", err)
		}
	}
	if a.Warmth != nil {
		if err := d.light.SetWarmth(*a.Warmth); err != nil {
			if errors.Is(err, light.ErrNoWarmth) {
				d.logger.Warn("warmth request on a board without natural light")
			} else {
				d.logger.Error("cannot set frontlight warmth", "error", err)
			}
		}
	}
	if d.store != nil {
		if err := d.store.SetFrontlight(d.light.Brightness(), d.light.Warmth()); err != nil {
			d.logger.Error("cannot persist frontlight levels", "error", err)
		}
	}
	d.broadcast(BroadcastStatus{Snap: d.snapshot(), At: time.Now().UTC()})
}

// applyGravityToggle flips the accelerometer hook live and persists the
// preference.
func (d *Daemon) applyGravityToggle(ignore bool) {
	d.gate.SetIgnoreGravity(ignore)
	if d.store != nil {
		if err := d.store.SetIgnoreGravitySensor(ignore); err != nil {
			d.logger.Error("cannot persist gravity sensor toggle", "error", err)
		}
	}
	d.logger.Info("gravity sensor toggled", "ignore", ignore)
}

// snapshot assembles the externally visible state.
func (d *Daemon) snapshot() StatusSnapshot {
	snap := StatusSnapshot{
		Model:              d.variant.Model,
		Codename:           d.variant.Codename,
		Firmware:           d.id.FirmwareRev,
		PowerState:         d.power.State().String(),
		Wakeups:            d.power.Wakeups(),
		CalibrationPending: !d.gate.Finalized(),
	}
	if p := d.gate.Pipeline(); p != nil {
		snap.EpochState = p.EpochState()
		snap.Hooks = p.HookNames()
	}
	if d.wifi != nil {
		if enabled, err := d.wifi.Enabled(); err == nil {
			snap.WifiEnabled = enabled
		}
	}
	if pct, err := d.gauge.Capacity(); err == nil {
		snap.BatteryPercent = pct
	}
	if st, err := d.gauge.Status(); err == nil {
		snap.BatteryStatus = st
	}
	if d.light != nil {
		snap.FrontlightPercent = d.light.Brightness()
		snap.WarmthPercent = d.light.Warmth()
		snap.HasWarmth = d.light.HasWarmth()
	}
	return snap
}

// broadcast hands a frame to the monitor without ever blocking the loop.
func (d *Daemon) broadcast(b MonitorBroadcast) {
	if d.broadcasts == nil {
		return
	}
	select {
	case d.broadcasts <- b:
	default:
	}
}

func (d *Daemon) broadcastPower() {
	d.broadcast(BroadcastPowerState{
		State:   d.power.State().String(),
		Wakeups: d.power.Wakeups(),
		At:      time.Now().UTC(),
	})
}
