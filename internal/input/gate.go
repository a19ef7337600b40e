package input

import (
	"log/slog"

	"github.com/hwhung0111/koreader/internal/device"
)

// HoldPolicy says what happens to events that arrive while touch
// calibration is still pending.
type HoldPolicy string

const (
	// HoldDrop discards pending events. Stale touches from before
	// calibration are useless, so this is the default.
	HoldDrop HoldPolicy = "drop"

	// HoldBuffer retains pending events (up to a cap) and replays them
	// through the finalized pipeline.
	HoldBuffer HoldPolicy = "buffer"
)

// defaultHoldLimit caps the buffer under HoldBuffer.
const defaultHoldLimit = 256

// GateConfig tunes the calibration gate.
type GateConfig struct {
	Policy    HoldPolicy
	HoldLimit int
}

// Gate sits between the reader and the pipeline. For most variants it is
// transparent: the pipeline is built immediately and every event flows
// straight through. Variants whose touch panel orientation cannot be known
// up front keep the gate open until a calibration decision arrives, either
// replayed from the settings store or made interactively.
type Gate struct {
	variant device.Variant
	opts    Options
	cfg     GateConfig
	log     *slog.Logger

	// onPending fires once, when the first event arrives while the gate
	// is still open.
	onPending func()
	notified  bool

	pipeline *Pipeline
	held     []Event
	dropped  int
}

// NewGate builds the gate for a variant. When the variant does not need a
// touch probe the gate finalizes immediately with the descriptor's own axis
// decision.
func NewGate(v device.Variant, opts Options, cfg GateConfig, onPending func(), log *slog.Logger) *Gate {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Policy == "" {
		cfg.Policy = HoldDrop
	}
	if cfg.HoldLimit <= 0 {
		cfg.HoldLimit = defaultHoldLimit
	}
	g := &Gate{
		variant:   v,
		opts:      opts,
		cfg:       cfg,
		onPending: onPending,
		log:       log,
	}
	if !v.NeedsTouchProbe {
		g.pipeline = New(v, opts, log)
	}
	return g
}

// Finalized reports whether the pipeline has been built.
func (g *Gate) Finalized() bool { return g.pipeline != nil }

// Pipeline returns the finalized pipeline, or nil while the gate is open.
func (g *Gate) Pipeline() *Pipeline { return g.pipeline }

// Process runs one event through the gate. It returns true when the event
// (mutated in place) should be dispatched. While calibration is pending it
// holds or drops the event per policy and returns false.
func (g *Gate) Process(ev *Event) bool {
	if g.pipeline != nil {
		return g.pipeline.Apply(ev)
	}
	if !g.notified {
		g.notified = true
		if g.onPending != nil {
			g.onPending()
		}
	}
	switch g.cfg.Policy {
	case HoldBuffer:
		if len(g.held) < g.cfg.HoldLimit {
			g.held = append(g.held, *ev)
		} else {
			g.dropped++
		}
	default:
		g.dropped++
	}
	return false
}

// Decide finalizes the gate with the calibrated axis decision and returns
// any buffered events, already adjusted and ready for dispatch. Calling
// Decide on a finalized gate is a no-op.
func (g *Gate) Decide(swapXY bool) []Event {
	if g.pipeline != nil {
		g.log.Warn("touch calibration already settled, ignoring decision", "swap_xy", swapXY)
		return nil
	}
	v := g.variant
	v.SwapAxes = swapXY
	g.pipeline = New(v, g.opts, g.log)
	if g.dropped > 0 {
		g.log.Info("dropped events while calibration was pending", "count", g.dropped)
	}

	var out []Event
	for i := range g.held {
		ev := g.held[i]
		if g.pipeline.Apply(&ev) {
			out = append(out, ev)
		}
	}
	g.held = nil
	g.log.Info("touch calibration settled", "swap_xy", swapXY, "replayed", len(out))
	return out
}

// SetIgnoreGravity forwards the accelerometer toggle to the pipeline, or
// records it for the pipeline a later Decide will build.
func (g *Gate) SetIgnoreGravity(ignore bool) {
	g.opts.IgnoreGravitySensor = ignore
	if g.pipeline != nil {
		g.pipeline.SetIgnoreGravity(ignore)
	}
}
