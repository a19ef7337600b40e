package input

import (
	"log/slog"
	"testing"

	"github.com/hwhung0111/koreader/internal/device"
)

// TestGate_TransparentWithoutProbe tests that ordinary variants get a
// finalized pipeline immediately.
func TestGate_TransparentWithoutProbe(t *testing.T) {
	v := device.Variant{SwapAxes: true}
	g := NewGate(v, Options{}, GateConfig{}, nil, slog.Default())

	if !g.Finalized() {
		t.Fatal("expected gate to be finalized at construction")
	}
	ev := Event{Type: EV_ABS, Code: ABS_X}
	if !g.Process(&ev) {
		t.Fatal("expected event to pass")
	}
	if ev.Code != ABS_Y {
		t.Errorf("expected swapped code ABS_Y, got %#x", ev.Code)
	}
}

// TestGate_DropPolicy tests the default policy: pending events vanish and
// the pending callback fires exactly once.
func TestGate_DropPolicy(t *testing.T) {
	pings := 0
	v := device.Variant{NeedsTouchProbe: true}
	g := NewGate(v, Options{}, GateConfig{}, func() { pings++ }, slog.Default())

	if g.Finalized() {
		t.Fatal("expected gate to start open")
	}
	for i := 0; i < 3; i++ {
		ev := Event{Type: EV_ABS, Code: ABS_X, Value: int32(i)}
		if g.Process(&ev) {
			t.Fatal("expected pending event to be held back")
		}
	}
	if pings != 1 {
		t.Errorf("expected one pending notification, got %d", pings)
	}

	released := g.Decide(true)
	if len(released) != 0 {
		t.Errorf("expected no replayed events under drop policy, got %d", len(released))
	}
	if !g.Finalized() {
		t.Fatal("expected gate finalized after decision")
	}

	ev := Event{Type: EV_ABS, Code: ABS_X}
	g.Process(&ev)
	if ev.Code != ABS_Y {
		t.Errorf("expected decision to enable the axis swap, got code %#x", ev.Code)
	}
}

// TestGate_BufferPolicy tests that buffered events replay through the
// finalized pipeline in arrival order.
func TestGate_BufferPolicy(t *testing.T) {
	v := device.Variant{NeedsTouchProbe: true}
	g := NewGate(v, Options{}, GateConfig{Policy: HoldBuffer}, nil, slog.Default())

	for i := 0; i < 3; i++ {
		ev := Event{Type: EV_ABS, Code: ABS_X, Value: int32(10 + i)}
		g.Process(&ev)
	}

	released := g.Decide(true)
	if len(released) != 3 {
		t.Fatalf("expected 3 replayed events, got %d", len(released))
	}
	for i, ev := range released {
		if ev.Code != ABS_Y {
			t.Errorf("event %d: expected swapped code ABS_Y, got %#x", i, ev.Code)
		}
		if ev.Value != int32(10+i) {
			t.Errorf("event %d: expected value %d, got %d", i, 10+i, ev.Value)
		}
	}
}

// TestGate_BufferLimit tests that the hold buffer stops growing at its cap.
func TestGate_BufferLimit(t *testing.T) {
	v := device.Variant{NeedsTouchProbe: true}
	g := NewGate(v, Options{}, GateConfig{Policy: HoldBuffer, HoldLimit: 2}, nil, slog.Default())

	for i := 0; i < 5; i++ {
		ev := Event{Type: EV_ABS, Code: ABS_X, Value: int32(i)}
		g.Process(&ev)
	}

	released := g.Decide(false)
	if len(released) != 2 {
		t.Fatalf("expected 2 replayed events, got %d", len(released))
	}
	if released[0].Value != 0 || released[1].Value != 1 {
		t.Errorf("expected the oldest events kept, got %d and %d", released[0].Value, released[1].Value)
	}
}

// TestGate_DecideIsOneShot tests that a second decision cannot flip the
// pipeline.
func TestGate_DecideIsOneShot(t *testing.T) {
	v := device.Variant{NeedsTouchProbe: true}
	g := NewGate(v, Options{}, GateConfig{}, nil, slog.Default())

	g.Decide(true)
	if released := g.Decide(false); released != nil {
		t.Errorf("expected nil from a repeated decision, got %d events", len(released))
	}

	ev := Event{Type: EV_ABS, Code: ABS_X}
	g.Process(&ev)
	if ev.Code != ABS_Y {
		t.Errorf("expected first decision to stand, got code %#x", ev.Code)
	}
}

// TestGate_PersistedDecision tests the replay path used at startup, when a
// previous calibration run already settled the question.
func TestGate_PersistedDecision(t *testing.T) {
	pings := 0
	v := device.Variant{NeedsTouchProbe: true}
	g := NewGate(v, Options{}, GateConfig{}, func() { pings++ }, slog.Default())

	released := g.Decide(false)
	if len(released) != 0 {
		t.Errorf("expected no events from an idle decision, got %d", len(released))
	}
	if !g.Finalized() {
		t.Fatal("expected gate finalized")
	}

	ev := Event{Type: EV_ABS, Code: ABS_X}
	if !g.Process(&ev) {
		t.Fatal("expected event to pass")
	}
	if ev.Code != ABS_X {
		t.Errorf("expected no swap, got code %#x", ev.Code)
	}
	if pings != 0 {
		t.Errorf("expected no pending notification, got %d", pings)
	}
}
