package device

import (
	"errors"
	"strings"
	"testing"
)

func TestResolve_SnowRev2ByProductID(t *testing.T) {
	v, err := Resolve("snow", "378")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if v.Model != "Aura H2O Edition 2 Version 2" {
		t.Errorf("expected Version 2 model, got %q", v.Model)
	}
	if v.Frontlight == nil {
		t.Fatalf("expected frontlight paths on snow rev2")
	}
	if !strings.HasSuffix(v.Frontlight.White, "lm3630a_ledb") {
		t.Errorf("expected white path ending in lm3630a_ledb, got %q", v.Frontlight.White)
	}
	if !strings.HasSuffix(v.Frontlight.Red, "lm3630a_leda") {
		t.Errorf("expected red path ending in lm3630a_leda, got %q", v.Frontlight.Red)
	}
	if v.Frontlight.Green != "" {
		t.Errorf("expected no green channel on snow rev2, got %q", v.Frontlight.Green)
	}
}

func TestResolve_SnowDefaultsToFirstRevision(t *testing.T) {
	v, err := Resolve("snow", "000")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if v.Model != "Aura H2O Edition 2 Version 1" {
		t.Errorf("expected Version 1 model, got %q", v.Model)
	}
	if v.Frontlight == nil || v.Frontlight.Green == "" {
		t.Errorf("expected the three-channel frontlight on snow v1, got %+v", v.Frontlight)
	}
	if v.MirrorX {
		t.Errorf("expected snow to not mirror X")
	}
	if v.Protocol != ProtocolSnow {
		t.Errorf("expected snow protocol, got %q", v.Protocol)
	}
}

func TestResolve_StarRevisionSplit(t *testing.T) {
	v1, err := Resolve("star", "375")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v2, err := Resolve("star", "379")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !v1.ProbeEventTimes {
		t.Errorf("expected star v1 to probe event times")
	}
	if v2.ProbeEventTimes {
		t.Errorf("expected star v2 to not probe event times")
	}
	if v1.Protocol != ProtocolPhoenix || v2.Protocol != ProtocolPhoenix {
		t.Errorf("expected both star revisions to keep the phoenix protocol, got %q and %q", v1.Protocol, v2.Protocol)
	}
}

func TestResolve_UnknownCodenameIsFatal(t *testing.T) {
	_, err := Resolve("bogus", "000")
	if err == nil {
		t.Fatalf("expected an error for an unknown codename")
	}
	if !errors.Is(err, ErrUnknownCodename) {
		t.Errorf("expected ErrUnknownCodename, got %v", err)
	}
	if !strings.Contains(err.Error(), "bogus") {
		t.Errorf("expected the codename in the error, got %q", err.Error())
	}
}

func TestResolve_BaseQuirksInherited(t *testing.T) {
	v, err := Resolve("kraken", "000")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !v.SwapAxes || !v.MirrorX {
		t.Errorf("expected kraken to inherit swapped and mirrored touch axes")
	}
	if !v.HasMultitouch {
		t.Errorf("expected kraken to inherit multitouch")
	}
	if v.Protocol != ProtocolNone {
		t.Errorf("expected kraken to use the plain protocol, got %q", v.Protocol)
	}
}

func TestResolve_TrilogyNeedsProbe(t *testing.T) {
	v, err := Resolve("trilogy", "000")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !v.NeedsTouchProbe {
		t.Errorf("expected trilogy to need the touch probe")
	}
	if v.SwapAxes {
		t.Errorf("expected trilogy to leave SwapAxes unset until calibration")
	}
	if !v.HasKeys || v.HasMultitouch {
		t.Errorf("expected trilogy to have keys and no multitouch")
	}
}

func TestResolve_ReturnsValueCopies(t *testing.T) {
	a, err := Resolve("phoenix", "000")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a.DisplayDPI = 1

	b, err := Resolve("phoenix", "000")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.DisplayDPI != 212 {
		t.Errorf("expected registry descriptor to be unaffected by caller mutation, got dpi %d", b.DisplayDPI)
	}
}
