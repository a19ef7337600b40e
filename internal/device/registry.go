package device

import (
	"errors"
	"fmt"
)

// ErrUnknownCodename is returned by Resolve for a codename with no table
// entry. Device bring-up cannot continue with a guessed configuration, so
// callers must treat this as fatal.
var ErrUnknownCodename = errors.New("unknown device codename")

// Frontlight sysfs control files. The LED-trio boards (daylight, snow v1)
// drive white plus a red/green amber pair; snow v2 has a two-channel layout
// with no green; the Mark 7 boards pair a single brightness file with a
// warmth mixer.
const (
	lightTrioWhite = "/sys/class/backlight/lm3630a_led1b"
	lightTrioRed   = "/sys/class/backlight/lm3630a_led1a"
	lightTrioGreen = "/sys/class/backlight/lm3630a_ledb"

	lightDuoWhite = "/sys/class/backlight/lm3630a_ledb"
	lightDuoRed   = "/sys/class/backlight/lm3630a_leda"

	lightMixerWhite = "/sys/class/backlight/mxc_msp430.0"
	lightMixerColor = "/sys/class/leds/aw99703-bl_FL1/color"
)

// baseVariant is the descriptor shared by most boards. Model entries below
// override only what differs; revisions override the model in turn. This
// replaces the original's prototype chain with a one-time merge.
func baseVariant() Variant {
	return Variant{
		DisplayDPI:       160,
		HasMultitouch:    true,
		CanInvertDisplay: true,
		SwapAxes:         true,
		MirrorX:          true,
		ProbeEventTimes:  true,
	}
}

// revision is a later hardware revision of a model, matched by product id.
// The model-level override is the earlier revision and the default when no
// product id matches.
type revision struct {
	productID string
	apply     func(*Variant)
}

type modelDef struct {
	apply     func(*Variant)
	revisions []revision
}

var models = map[string]modelDef{
	"trilogy": {apply: func(v *Variant) {
		v.Model = "Touch"
		v.DisplayDPI = 167
		v.HasKeys = true
		v.HasMultitouch = false
		// Some Touch boards have swapped axes, some do not; the probe decides.
		v.SwapAxes = false
		v.NeedsTouchProbe = true
	}},
	"pixie": {apply: func(v *Variant) {
		v.Model = "Mini"
		v.DisplayDPI = 200
	}},
	"dragon": {apply: func(v *Variant) {
		v.Model = "Aura HD"
		v.DisplayDPI = 265
		v.HasFrontlight = true
	}},
	"kraken": {apply: func(v *Variant) {
		v.Model = "Glo"
		v.DisplayDPI = 212
		v.HasFrontlight = true
	}},
	"phoenix": {apply: func(v *Variant) {
		v.Model = "Aura"
		v.DisplayDPI = 212
		v.HasFrontlight = true
		v.Protocol = ProtocolPhoenix
		// The bezel covers the top 11 pixels.
		v.Viewport = &Viewport{X: 0, Y: 11, W: 758, H: 1014}
	}},
	"dahlia": {apply: func(v *Variant) {
		v.Model = "Aura H2O"
		v.DisplayDPI = 265
		v.HasFrontlight = true
		// The bezel covers the top 11 pixels.
		v.Viewport = &Viewport{X: 0, Y: 11, W: 1080, H: 1429}
	}},
	"alyssum": {apply: func(v *Variant) {
		v.Model = "Glo HD"
		v.DisplayDPI = 300
		v.HasFrontlight = true
		v.Protocol = ProtocolAlyssum
	}},
	"pika": {apply: func(v *Variant) {
		v.Model = "Touch 2.0"
		v.DisplayDPI = 167
		v.Protocol = ProtocolAlyssum
	}},
	"star": {
		apply: func(v *Variant) {
			v.Model = "Aura Edition 2 Version 1"
			v.DisplayDPI = 212
			v.HasFrontlight = true
			v.Protocol = ProtocolPhoenix
		},
		revisions: []revision{
			{productID: "379", apply: func(v *Variant) {
				v.Model = "Aura Edition 2 Version 2"
				// Mark 7 kernel, stamps epoch timestamps.
				v.ProbeEventTimes = false
			}},
		},
	},
	"daylight": {apply: func(v *Variant) {
		v.Model = "Aura ONE"
		v.DisplayDPI = 300
		v.HasFrontlight = true
		v.Protocol = ProtocolPhoenix
		v.Frontlight = &FrontlightPaths{
			White: lightTrioWhite,
			Red:   lightTrioRed,
			Green: lightTrioGreen,
		}
	}},
	"snow": {
		apply: func(v *Variant) {
			v.Model = "Aura H2O Edition 2 Version 1"
			v.DisplayDPI = 265
			v.HasFrontlight = true
			v.Protocol = ProtocolSnow
			v.MirrorX = false
			v.Frontlight = &FrontlightPaths{
				White: lightTrioWhite,
				Red:   lightTrioRed,
				Green: lightTrioGreen,
			}
		},
		revisions: []revision{
			{productID: "378", apply: func(v *Variant) {
				v.Model = "Aura H2O Edition 2 Version 2"
				v.ProbeEventTimes = false
				// Two-channel frontlight, no green.
				v.Frontlight = &FrontlightPaths{
					White: lightDuoWhite,
					Red:   lightDuoRed,
				}
			}},
		},
	},
	"nova": {apply: func(v *Variant) {
		v.Model = "Clara HD"
		v.DisplayDPI = 300
		v.HasFrontlight = true
		v.Protocol = ProtocolSnow
		v.ProbeEventTimes = false
		v.Frontlight = &FrontlightPaths{
			White: lightMixerWhite,
			Mixer: lightMixerColor,
		}
		v.Natural = &NaturalLight{Min: 0, Max: 10, Inverted: true}
	}},
	"frost": {apply: func(v *Variant) {
		v.Model = "Forma"
		v.DisplayDPI = 300
		v.HasFrontlight = true
		v.HasKeys = true
		v.HasGravitySensor = true
		v.CanToggleGravitySensor = true
		v.Protocol = ProtocolSnow
		v.ProbeEventTimes = false
		v.Frontlight = &FrontlightPaths{
			White: lightMixerWhite,
			Mixer: lightMixerColor,
		}
		v.Natural = &NaturalLight{Min: 0, Max: 10, Inverted: true}
	}},
}

// entry is a fully-merged registry entry: the default descriptor plus any
// later revisions keyed by product id.
type entry struct {
	def  Variant
	revs map[string]Variant
}

var registry = buildRegistry()

// buildRegistry merges base, model and revision overrides into resolved
// descriptors. Runs once at package init; Resolve only does lookups.
func buildRegistry() map[string]entry {
	reg := make(map[string]entry, len(models))
	for codename, def := range models {
		v := baseVariant()
		v.Codename = codename
		def.apply(&v)

		e := entry{def: v}
		if len(def.revisions) > 0 {
			e.revs = make(map[string]Variant, len(def.revisions))
			for _, rev := range def.revisions {
				rv := v
				rev.apply(&rv)
				e.revs[rev.productID] = rv
			}
		}
		reg[codename] = e
	}
	return reg
}

// Resolve maps a hardware identity to its descriptor. The product id only
// matters for codenames with several revisions; anything unrecognized there
// falls back to the earliest revision. An unknown codename is fatal.
func Resolve(codename, productID string) (Variant, error) {
	e, ok := registry[codename]
	if !ok {
		return Variant{}, fmt.Errorf("%w: %q", ErrUnknownCodename, codename)
	}
	if v, ok := e.revs[productID]; ok {
		return v, nil
	}
	return e.def, nil
}

// Codenames returns the known codenames, for diagnostics.
func Codenames() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}
