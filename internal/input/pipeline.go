package input

import (
	"log/slog"
	"time"

	"github.com/hwhung0111/koreader/internal/device"
)

// This file implements the event adjustment pipeline: an ordered chain of
// hooks that rewrites raw kernel events into a normalized shape before they
// reach the dispatcher. Which hooks are present is decided once, from the
// device descriptor, when the pipeline is built. Hooks mutate events in
// place; a hook may also consume an event outright, in which case it never
// reaches the dispatcher.
//
// The pipeline is not safe for concurrent use. All events must flow through
// it from a single goroutine (the daemon loop).

// EpochSkewThreshold is how far behind the wall clock an event timestamp must
// lag before the pipeline concludes the kernel is stamping events with
// boot-relative times rather than the epoch.
const EpochSkewThreshold = 600 * time.Second

// Hook is a single named transform in the adjustment chain. Apply returns
// false to consume the event.
type Hook struct {
	Name  string
	Apply func(*Event) bool
}

// epochState tracks the one-shot timestamp epoch probe.
type epochState int

const (
	epochUnprobed epochState = iota
	epochBootRelative
	epochCorrect
)

func (s epochState) String() string {
	switch s {
	case epochBootRelative:
		return "boot-relative"
	case epochCorrect:
		return "epoch"
	default:
		return "unprobed"
	}
}

// Options tune pipeline construction beyond what the device descriptor
// dictates.
type Options struct {
	// ScreenWidth is the reflection span for the mirror-X hook, in the
	// panel's native orientation.
	ScreenWidth int

	// SwapOverride, when non-nil, forces the axis-swap decision regardless
	// of what the descriptor (or a calibration run) says.
	SwapOverride *bool

	// IgnoreGravitySensor starts the gravity hook disabled: raw
	// accelerometer samples pass untranslated and nothing is dropped.
	// Flip at runtime with SetIgnoreGravity.
	IgnoreGravitySensor bool

	// EpochSkew overrides EpochSkewThreshold. Zero means the default.
	EpochSkew time.Duration

	// Now is the wall-clock source. Defaults to time.Now.
	Now func() time.Time
}

// Pipeline is the built adjustment chain for one device variant.
type Pipeline struct {
	hooks []Hook

	// Decoding markers consumed by the touch dispatcher.
	phoenixDecoding bool
	snowDecoding    bool

	epoch         epochState
	epochSkew     time.Duration
	ignoreGravity bool
	now           func() time.Time
	log           *slog.Logger
}

// New builds the adjustment chain for the given variant. The hook order is
// fixed: axis swap, X mirror, tracking-ID shift, epoch probe, gravity
// translation. Variants that do not need a hook simply do not get it.
func New(v device.Variant, opts Options, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	p := &Pipeline{
		epochSkew:     opts.EpochSkew,
		ignoreGravity: opts.IgnoreGravitySensor,
		now:           opts.Now,
		log:           log,
	}
	if p.epochSkew <= 0 {
		p.epochSkew = EpochSkewThreshold
	}
	if p.now == nil {
		p.now = time.Now
	}

	swap := v.SwapAxes
	if opts.SwapOverride != nil {
		swap = *opts.SwapOverride
	}
	if swap {
		p.hooks = append(p.hooks, hookSwapAxes())
	}
	if v.MirrorX {
		if opts.ScreenWidth > 0 {
			p.hooks = append(p.hooks, hookMirrorX(opts.ScreenWidth))
		} else {
			log.Warn("mirror-x hook disabled: screen width unknown")
		}
	}
	if v.Protocol == device.ProtocolAlyssum {
		p.hooks = append(p.hooks, p.hookTrackingShift())
	}
	if v.ProbeEventTimes {
		p.hooks = append(p.hooks, p.hookEpochProbe())
	}
	switch v.Protocol {
	case device.ProtocolPhoenix, device.ProtocolAlyssum:
		p.phoenixDecoding = true
	case device.ProtocolSnow:
		p.snowDecoding = true
	}
	if v.HasGravitySensor {
		p.hooks = append(p.hooks, p.hookGravity())
	}
	return p
}

// Apply runs one event through the chain, mutating it in place. It returns
// false when a hook consumed the event.
func (p *Pipeline) Apply(ev *Event) bool {
	for _, h := range p.hooks {
		if !h.Apply(ev) {
			return false
		}
	}
	return true
}

// PhoenixDecoding reports whether the dispatcher must apply the
// phoenix-style multitouch quirks for this variant.
func (p *Pipeline) PhoenixDecoding() bool { return p.phoenixDecoding }

// SnowDecoding reports whether the dispatcher must apply the snow-style
// multitouch quirks for this variant.
func (p *Pipeline) SnowDecoding() bool { return p.snowDecoding }

// HookNames lists the active hooks in order, for diagnostics.
func (p *Pipeline) HookNames() []string {
	names := make([]string, 0, len(p.hooks))
	for _, h := range p.hooks {
		names = append(names, h.Name)
	}
	return names
}

// EpochState describes the current probe verdict, for diagnostics.
func (p *Pipeline) EpochState() string { return p.epoch.String() }

// SetIgnoreGravity enables or disables the gravity hook at runtime. Like
// Apply, it must be called from the goroutine that owns the pipeline.
func (p *Pipeline) SetIgnoreGravity(ignore bool) { p.ignoreGravity = ignore }

// IgnoresGravity reports whether the gravity hook is currently disabled.
func (p *Pipeline) IgnoresGravity() bool { return p.ignoreGravity }

// ==============================
// Hooks
// ==============================

func hookSwapAxes() Hook {
	return Hook{Name: "swap_axes", Apply: func(ev *Event) bool {
		if ev.Type != EV_ABS {
			return true
		}
		switch ev.Code {
		case ABS_X:
			ev.Code = ABS_Y
		case ABS_Y:
			ev.Code = ABS_X
		case ABS_MT_POSITION_X:
			ev.Code = ABS_MT_POSITION_Y
		case ABS_MT_POSITION_Y:
			ev.Code = ABS_MT_POSITION_X
		}
		return true
	}}
}

func hookMirrorX(width int) Hook {
	w := int32(width)
	return Hook{Name: "mirror_x", Apply: func(ev *Event) bool {
		if ev.Type == EV_ABS && (ev.Code == ABS_X || ev.Code == ABS_MT_POSITION_X) {
			ev.Value = w - ev.Value
		}
		return true
	}}
}

// hookTrackingShift handles the alyssum touch controller, which numbers
// contacts from 1 where everything downstream expects 0. The same boards
// stamp events with bogus times, so every event gets the wall clock here
// and the epoch probe is superfluous for them.
func (p *Pipeline) hookTrackingShift() Hook {
	return Hook{Name: "tracking_shift", Apply: func(ev *Event) bool {
		ev.stamp(p.now())
		if ev.Type == EV_ABS && ev.Code == ABS_MT_TRACKING_ID {
			ev.Value--
		}
		return true
	}}
}

// hookEpochProbe decides, on the first touch sample seen, whether the kernel
// stamps events relative to boot or to the epoch. The verdict is permanent
// for the life of the pipeline: either every subsequent event is restamped
// with the wall clock, or none is.
func (p *Pipeline) hookEpochProbe() Hook {
	return Hook{Name: "epoch_probe", Apply: func(ev *Event) bool {
		switch p.epoch {
		case epochCorrect:
			return true
		case epochBootRelative:
			ev.stamp(p.now())
			return true
		}
		if ev.Type != EV_ABS {
			return true
		}
		now := p.now()
		if now.Unix()-ev.Sec >= int64(p.epochSkew/time.Second) {
			p.epoch = epochBootRelative
			ev.stamp(now)
			p.log.Info("event timestamps are boot-relative, restamping with wall clock",
				"skew_s", now.Unix()-ev.Sec)
		} else {
			p.epoch = epochCorrect
			p.log.Debug("event timestamps are epoch-correct")
		}
		return true
	}}
}

// hookGravity translates raw ntx accelerometer samples into normalized
// orientation values. Facing samples (screen up, screen down) carry no
// orientation change and are consumed. The hook goes inert while the user
// has the sensor ignored.
func (p *Pipeline) hookGravity() Hook {
	return Hook{Name: "gravity", Apply: func(ev *Event) bool {
		if p.ignoreGravity {
			return true
		}
		if ev.Type != EV_MSC || ev.Code != MSC_RAW {
			return true
		}
		switch ev.Value {
		case MSC_RAW_GSENSOR_PORTRAIT_UP:
			ev.Value = OrientationUpright
		case MSC_RAW_GSENSOR_LANDSCAPE_RIGHT:
			ev.Value = OrientationClockwise
		case MSC_RAW_GSENSOR_PORTRAIT_DOWN:
			ev.Value = OrientationUpsideDown
		case MSC_RAW_GSENSOR_LANDSCAPE_LEFT:
			ev.Value = OrientationCounterClockwise
		case MSC_RAW_GSENSOR_BACK, MSC_RAW_GSENSOR_FRONT:
			return false
		}
		return true
	}}
}
