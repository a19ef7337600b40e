package device

// TouchProtocol selects how the upper input dispatcher decodes raw touch
// samples for a given board. Most boards use the plain multitouch protocol
// (ProtocolNone); the named variants need quirk handling upstream.
type TouchProtocol string

const (
	ProtocolNone    TouchProtocol = ""
	ProtocolPhoenix TouchProtocol = "phoenix"
	ProtocolSnow    TouchProtocol = "snow"

	// ProtocolAlyssum boards report multitouch tracking IDs off by one and
	// otherwise decode like phoenix boards.
	ProtocolAlyssum TouchProtocol = "alyssum"
)

// Viewport is the usable display area when the bezel covers part of the panel.
type Viewport struct {
	X int
	Y int
	W int
	H int
}

// FrontlightPaths locate the sysfs controls for boards whose frontlight is
// driven through LED class devices rather than the generic backlight ioctl.
// White, Red and Green are LED directories (the driver writes their
// brightness attribute); Mixer is a complete attribute path. Red/Green exist
// on the LED-trio boards, Mixer on the single-white-plus-mixer boards.
type FrontlightPaths struct {
	White string
	Red   string
	Green string
	Mixer string
}

// NaturalLight describes the warmth range accepted by a mixer file.
// Inverted means the mixer treats Min as warmest.
type NaturalLight struct {
	Min      int
	Max      int
	Inverted bool
}

// Variant is the fully-resolved descriptor for one hardware revision.
// Exactly one Variant is selected per process lifetime; treat it as
// immutable after resolution.
type Variant struct {
	// Codename is the vendor identity string the variant was resolved from.
	Codename string
	// Model is the human-readable marketing name.
	Model string

	DisplayDPI int
	// Viewport is non-nil when the bezel covers part of the panel.
	Viewport *Viewport

	// Capability flags.
	HasFrontlight          bool
	HasMultitouch          bool
	HasKeys                bool
	HasGravitySensor       bool
	CanToggleGravitySensor bool
	CanInvertDisplay       bool

	// Touch orientation quirks. SwapAxes exchanges the X/Y axes; MirrorX
	// reflects X about the screen width. Both are corrected in the event
	// adjustment pipeline.
	SwapAxes bool
	MirrorX  bool

	Protocol TouchProtocol

	// NeedsTouchProbe marks boards whose SwapAxes cannot be known a priori;
	// the calibration probe decides it on first use.
	NeedsTouchProbe bool

	// ProbeEventTimes marks kernels that may stamp input events with
	// boot-relative instead of epoch timestamps; the pipeline probes the
	// first touch event to find out.
	ProbeEventTimes bool

	// Frontlight is non-nil on boards with directly-driven frontlight LEDs.
	Frontlight *FrontlightPaths
	// Natural is non-nil on boards with a warmth mixer file.
	Natural *NaturalLight
}

// ScreenWidth returns the width the Mirror-X hook reflects about: the
// viewport width when a bezel crop is present, otherwise the given panel
// width.
func (v *Variant) ScreenWidth(panelWidth int) int {
	if v.Viewport != nil {
		return v.Viewport.W
	}
	return panelWidth
}
