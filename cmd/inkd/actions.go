package main

import (
	"encoding/json"
	"fmt"
)

// ============================================================================
// Action Types - Command-based Architecture
// ============================================================================
// Actions represent intent from various sources (buttons, IPC, scripts).
// The central daemon loop consumes these actions and applies policy.
// ============================================================================

// Action is a marker interface for all daemon commands.
type Action interface {
	actionMarker()
}

// Suspend requests the board to enter suspend-to-RAM
type Suspend struct{}

func (Suspend) actionMarker() {}

// Resume requests a return to the awake state after a wakeup
type Resume struct{}

func (Resume) actionMarker() {}

// StatusRequest asks the daemon for a snapshot of its current state.
// The reply channel is filled in by the IPC layer; it never travels as JSON.
type StatusRequest struct {
	reply chan StatusSnapshot
}

func (StatusRequest) actionMarker() {}

// WifiUp brings the radio up and acquires a lease
type WifiUp struct{}

func (WifiUp) actionMarker() {}

// WifiDown releases the lease and powers the radio down
type WifiDown struct{}

func (WifiDown) actionMarker() {}

// WifiRestore fires the asynchronous reconnect script (typically after resume)
type WifiRestore struct{}

func (WifiRestore) actionMarker() {}

// Calibrate delivers the touch axis-swap verdict for boards that need the
// first-use probe. The verdict is persisted and the event gate finalized.
type Calibrate struct {
	SwapXY bool `json:"swap_xy"`
}

func (Calibrate) actionMarker() {}

// SetFrontlight adjusts the frontlight. Nil fields keep the current value.
type SetFrontlight struct {
	Intensity *int `json:"intensity,omitempty"` // 0-100
	Warmth    *int `json:"warmth,omitempty"`    // 0-100
}

func (SetFrontlight) actionMarker() {}

// SetGravitySensor toggles whether accelerometer rotation samples are honored
type SetGravitySensor struct {
	Ignore bool `json:"ignore"`
}

func (SetGravitySensor) actionMarker() {}

// ============================================================================
// JSON Encoding/Decoding Support
// ============================================================================
// ActionEnvelope wraps actions for JSON serialization/deserialization.
// Since Go doesn't have union types, we use a type discriminator.
// ============================================================================

// ActionEnvelope wraps an action with a type discriminator for JSON marshaling
type ActionEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// UnmarshalAction deserializes a JSON action envelope into a concrete Action
func UnmarshalAction(data []byte) (Action, error) {
	var env ActionEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	switch env.Type {
	case "suspend":
		return Suspend{}, nil

	case "resume":
		return Resume{}, nil

	case "status":
		return StatusRequest{}, nil

	case "wifi_up":
		return WifiUp{}, nil

	case "wifi_down":
		return WifiDown{}, nil

	case "wifi_restore":
		return WifiRestore{}, nil

	case "calibrate":
		var a Calibrate
		if err := json.Unmarshal(env.Data, &a); err != nil {
			return nil, fmt.Errorf("unmarshal Calibrate: %w", err)
		}
		return a, nil

	case "set_frontlight":
		var a SetFrontlight
		if err := json.Unmarshal(env.Data, &a); err != nil {
			return nil, fmt.Errorf("unmarshal SetFrontlight: %w", err)
		}
		return a, nil

	case "set_gsensor":
		var a SetGravitySensor
		if err := json.Unmarshal(env.Data, &a); err != nil {
			return nil, fmt.Errorf("unmarshal SetGravitySensor: %w", err)
		}
		return a, nil

	default:
		return nil, fmt.Errorf("unknown action type: %q", env.Type)
	}
}

// MarshalAction serializes an Action into a JSON envelope with type discriminator
func MarshalAction(a Action) ([]byte, error) {
	var env ActionEnvelope

	switch a := a.(type) {
	case Suspend:
		env.Type = "suspend"

	case Resume:
		env.Type = "resume"

	case StatusRequest:
		env.Type = "status"

	case WifiUp:
		env.Type = "wifi_up"

	case WifiDown:
		env.Type = "wifi_down"

	case WifiRestore:
		env.Type = "wifi_restore"

	case Calibrate:
		env.Type = "calibrate"
		data, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("marshal Calibrate: %w", err)
		}
		env.Data = data

	case SetFrontlight:
		env.Type = "set_frontlight"
		data, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("marshal SetFrontlight: %w", err)
		}
		env.Data = data

	case SetGravitySensor:
		env.Type = "set_gsensor"
		data, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("marshal SetGravitySensor: %w", err)
		}
		env.Data = data

	default:
		return nil, fmt.Errorf("unsupported action type: %T", a)
	}

	return json.Marshal(env)
}
