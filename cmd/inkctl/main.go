package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
)

// ============================================================================
// inkctl - Command-line IPC Client
// ============================================================================
// This tool sends commands to the inkd daemon via IPC.
//
// Usage:
//   inkctl suspend
//   inkctl status
//   inkctl calibrate swapped
//   inkctl frontlight 40 70
//   inkctl wifi-up
//
// Options:
//   -socket PATH    Unix domain socket path (default: /tmp/inkd.sock)
// ============================================================================

// Action types (duplicated from main package for standalone binary)
type Action interface{}

type Suspend struct{}

type Resume struct{}

type StatusRequest struct{}

type WifiUp struct{}

type WifiDown struct{}

type WifiRestore struct{}

type Calibrate struct {
	SwapXY bool `json:"swap_xy"`
}

type SetFrontlight struct {
	Intensity *int `json:"intensity,omitempty"`
	Warmth    *int `json:"warmth,omitempty"`
}

type SetGravitySensor struct {
	Ignore bool `json:"ignore"`
}

// ActionEnvelope is the wire framing the daemon expects on its socket.
type ActionEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// IPCResponse is the daemon's reply line.
type IPCResponse struct {
	Status string          `json:"status"`
	Error  string          `json:"error,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// statusData mirrors the daemon's status snapshot for display.
type statusData struct {
	Model    string `json:"model"`
	Codename string `json:"codename"`
	Firmware string `json:"firmware"`

	PowerState string `json:"power_state"`
	Wakeups    int    `json:"wakeups"`

	EpochState         string   `json:"epoch_state"`
	Hooks              []string `json:"hooks"`
	CalibrationPending bool     `json:"calibration_pending"`

	WifiEnabled bool `json:"wifi_enabled"`

	BatteryPercent int    `json:"battery_percent"`
	BatteryStatus  string `json:"battery_status"`

	FrontlightPercent int  `json:"frontlight_percent"`
	WarmthPercent     int  `json:"warmth_percent"`
	HasWarmth         bool `json:"has_warmth"`
}

const defaultSocketPath = "/tmp/inkd.sock"

func main() {
	socketPath, args := splitSocketFlag(os.Args[1:])
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	action := parseCommand(args)

	resp, err := sendAction(socketPath, action)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if _, isStatus := action.(StatusRequest); isStatus {
		printStatus(resp.Data)
		return
	}

	fmt.Println("ok")
}

// splitSocketFlag peels a leading -socket override off the argument list;
// everything after it belongs to the command.
func splitSocketFlag(args []string) (string, []string) {
	socketPath := defaultSocketPath
	if len(args) > 0 && (args[0] == "-socket" || args[0] == "--socket") {
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: -socket requires an argument\n")
			os.Exit(1)
		}
		socketPath = args[1]
		args = args[2:]
	}
	return socketPath, args
}

// parseCommand maps the command line onto a daemon action, exiting with a
// usage message when the arguments make no sense.
func parseCommand(args []string) Action {
	var action Action

	switch args[0] {
	case "suspend", "sleep":
		action = Suspend{}

	case "resume", "wake":
		action = Resume{}

	case "status":
		action = StatusRequest{}

	case "wifi-up":
		action = WifiUp{}

	case "wifi-down":
		action = WifiDown{}

	case "wifi-restore":
		action = WifiRestore{}

	case "calibrate":
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: calibrate requires a verdict: swapped or straight\n")
			os.Exit(1)
		}
		switch args[1] {
		case "swapped", "swap", "true":
			action = Calibrate{SwapXY: true}
		case "straight", "normal", "false":
			action = Calibrate{SwapXY: false}
		default:
			fmt.Fprintf(os.Stderr, "error: invalid calibration verdict: %s\n", args[1])
			os.Exit(1)
		}

	case "frontlight", "fl":
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: frontlight requires an intensity (use - to skip)\n")
			os.Exit(1)
		}
		var fl SetFrontlight
		if args[1] != "-" {
			v, err := parsePercent(args[1])
			if err != nil {
				fmt.Fprintf(os.Stderr, "error: invalid intensity: %v\n", err)
				os.Exit(1)
			}
			fl.Intensity = &v
		}
		if len(args) >= 3 {
			v, err := parsePercent(args[2])
			if err != nil {
				fmt.Fprintf(os.Stderr, "error: invalid warmth: %v\n", err)
				os.Exit(1)
			}
			fl.Warmth = &v
		}
		if fl.Intensity == nil && fl.Warmth == nil {
			fmt.Fprintf(os.Stderr, "error: frontlight needs at least one of intensity, warmth\n")
			os.Exit(1)
		}
		action = fl

	case "gsensor":
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: gsensor requires on or off\n")
			os.Exit(1)
		}
		switch args[1] {
		case "on":
			action = SetGravitySensor{Ignore: false}
		case "off":
			action = SetGravitySensor{Ignore: true}
		default:
			fmt.Fprintf(os.Stderr, "error: invalid gsensor state: %s\n", args[1])
			os.Exit(1)
		}

	case "help", "-h", "--help":
		printUsage()
		os.Exit(0)

	default:
		fmt.Fprintf(os.Stderr, "error: unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}

	return action
}

func parsePercent(s string) (int, error) {
	var v int
	if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
		return 0, err
	}
	if v < 0 || v > 100 {
		return 0, fmt.Errorf("%d out of range 0-100", v)
	}
	return v, nil
}

// sendAction performs one line-delimited JSON exchange with the daemon.
func sendAction(socketPath string, action Action) (IPCResponse, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return IPCResponse{}, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	data, err := marshalAction(action)
	if err != nil {
		return IPCResponse{}, fmt.Errorf("marshal action: %w", err)
	}
	if _, err := fmt.Fprintf(conn, "%s\n", data); err != nil {
		return IPCResponse{}, fmt.Errorf("send action: %w", err)
	}

	var resp IPCResponse
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return IPCResponse{}, fmt.Errorf("decode response: %w", err)
	}
	if resp.Status == "error" {
		return IPCResponse{}, fmt.Errorf("daemon error: %s", resp.Error)
	}
	return resp, nil
}

func marshalAction(action Action) ([]byte, error) {
	var env ActionEnvelope

	switch a := action.(type) {
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
		return nil, fmt.Errorf("unknown action type: %T", action)
	}

	return json.Marshal(env)
}

func printStatus(data json.RawMessage) {
	var st statusData
	if err := json.Unmarshal(data, &st); err != nil {
		fmt.Fprintf(os.Stderr, "error: malformed status payload: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("model:        %s (%s)\n", st.Model, st.Codename)
	if st.Firmware != "" {
		fmt.Printf("firmware:     %s\n", st.Firmware)
	}
	fmt.Printf("power:        %s (wakeups: %d)\n", st.PowerState, st.Wakeups)
	if st.CalibrationPending {
		fmt.Printf("calibration:  pending (run 'inkctl calibrate swapped|straight')\n")
	} else {
		fmt.Printf("calibration:  settled\n")
	}
	if st.EpochState != "" {
		fmt.Printf("epoch:        %s\n", st.EpochState)
	}
	if len(st.Hooks) > 0 {
		fmt.Printf("hooks:        %v\n", st.Hooks)
	}
	if st.WifiEnabled {
		fmt.Printf("wifi:         up\n")
	} else {
		fmt.Printf("wifi:         down\n")
	}
	fmt.Printf("battery:      %d%% (%s)\n", st.BatteryPercent, st.BatteryStatus)
	if st.HasWarmth {
		fmt.Printf("frontlight:   %d%% (warmth %d%%)\n", st.FrontlightPercent, st.WarmthPercent)
	} else {
		fmt.Printf("frontlight:   %d%%\n", st.FrontlightPercent)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `inkctl - Control the inkd daemon via IPC

Usage:
  inkctl [options] <command> [args]

Options:
  -socket PATH    Unix domain socket path (default: /tmp/inkd.sock)

Commands:
  suspend, sleep            Enter suspend-to-RAM
  resume, wake              Confirm a wakeup
  status                    Show daemon status
  wifi-up                   Bring the radio up and acquire a lease
  wifi-down                 Release the lease and power the radio down
  wifi-restore              Fire the background reconnect script
  calibrate swapped|straight
                            Settle the touch axis orientation
  frontlight <0-100> [0-100]
                            Set frontlight intensity and optional warmth
                            (use - to leave intensity unchanged)
  gsensor on|off            Honor or ignore the rotation sensor
  help, -h, --help          Show this help message

Examples:
  inkctl status
  inkctl frontlight 40 70
  inkctl calibrate swapped
  inkctl -socket /var/run/inkd.sock suspend
`)
}
