package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// evwatch streams the inkd monitor feed to the terminal. It is the quickest
// way to watch what the adjustment pipeline makes of raw touches: swapped
// axes, mirrored coordinates and restamped timestamps all show up here, from
// a development host, without ssh-ing into the board.

// frame mirrors the monitor envelope.
type frame struct {
	Type string          `json:"type"`
	Ts   *time.Time      `json:"ts"`
	Data json.RawMessage `json:"data"`
}

type inputData struct {
	Type  uint16 `json:"type"`
	Code  uint16 `json:"code"`
	Value int32  `json:"value"`
}

type powerData struct {
	State   string `json:"state"`
	Wakeups int    `json:"wakeups"`
}

type calibrationData struct {
	SwapXY   bool `json:"swap_xy"`
	Replayed int  `json:"replayed"`
}

type statusData struct {
	Model              string `json:"model"`
	Codename           string `json:"codename"`
	PowerState         string `json:"power_state"`
	Wakeups            int    `json:"wakeups"`
	CalibrationPending bool   `json:"calibration_pending"`
	WifiEnabled        bool   `json:"wifi_enabled"`
	BatteryPercent     int    `json:"battery_percent"`
	FrontlightPercent  int    `json:"frontlight_percent"`
}

func main() {
	var (
		wsURL = flag.String("ws", "ws://127.0.0.1:8787/ws", "inkd monitor websocket URL")
		raw   = flag.Bool("raw", false, "Print raw JSON frames instead of formatted lines")
		only  = flag.String("only", "", "Comma-separated frame types to print (e.g. touch,key); empty prints all")
	)
	flag.Parse()

	want := make(map[string]bool)
	for _, t := range strings.Split(*only, ",") {
		if t = strings.TrimSpace(t); t != "" {
			want[t] = true
		}
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	conn := dialMonitor(*wsURL)
	defer conn.Close()

	log.Printf("connected! (press Ctrl+C to exit)")

	// writeMu serializes ping/pong control writes with the close frame below.
	var writeMu sync.Mutex
	startKeepalive(conn, &writeMu)

	done := make(chan struct{})
	go readLoop(conn, want, *raw, done)

	select {
	case <-sigc:
		log.Printf("shutting down...")
		writeMu.Lock()
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		writeMu.Unlock()
		if err != nil {
			log.Printf("error closing connection: %v", err)
		}
	case <-done:
		log.Printf("connection closed")
	}
}

// dialMonitor connects to the inkd monitor endpoint or exits the process.
func dialMonitor(rawURL string) *websocket.Conn {
	u, err := url.Parse(rawURL)
	if err != nil {
		log.Fatalf("invalid websocket URL: %v", err)
	}

	d := websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	log.Printf("connecting to %s...", u.String())
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	return conn
}

// startKeepalive arms the read deadline, answers the server's pings, and
// sends a ping of its own every 30s so a half-dead link is noticed from
// either side.
func startKeepalive(conn *websocket.Conn, writeMu *sync.Mutex) {
	const idleLimit = 60 * time.Second

	_ = conn.SetReadDeadline(time.Now().Add(idleLimit))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(idleLimit))
	})
	// The server pings on its own schedule; any traffic proves liveness.
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(idleLimit))
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			writeMu.Lock()
			err := conn.WriteMessage(websocket.PingMessage, nil)
			writeMu.Unlock()
			if err != nil {
				log.Printf("ping failed: %v", err)
				return
			}
		}
	}()
}

// readLoop prints monitor frames until the connection drops, then closes done.
func readLoop(conn *websocket.Conn, want map[string]bool, raw bool, done chan<- struct{}) {
	defer close(done)

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("websocket error: %v", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if len(want) > 0 {
			var env struct {
				Type string `json:"type"`
			}
			if json.Unmarshal(message, &env) != nil || !want[env.Type] {
				continue
			}
		}
		if raw {
			fmt.Printf("%s\n", string(message))
			continue
		}
		printFrame(message)
	}
}

// printFrame formats one monitor envelope for the terminal.
func printFrame(message []byte) {
	var f frame
	if err := json.Unmarshal(message, &f); err != nil {
		fmt.Printf("[TEXT] %s\n", string(message))
		return
	}

	ts := ""
	if f.Ts != nil {
		ts = f.Ts.Local().Format("15:04:05.000") + " "
	}

	switch f.Type {
	case "touch", "key":
		var d inputData
		if err := json.Unmarshal(f.Data, &d); err != nil {
			break
		}
		tag := "[TOUCH]"
		if f.Type == "key" {
			tag = "[KEY]  "
		}
		fmt.Printf("%s%s type=%d code=0x%02x value=%d\n", ts, tag, d.Type, d.Code, d.Value)
		return

	case "power_state":
		var d powerData
		if err := json.Unmarshal(f.Data, &d); err != nil {
			break
		}
		fmt.Printf("%s[POWER] %s (wakeups: %d)\n", ts, d.State, d.Wakeups)
		return

	case "calibration":
		var d calibrationData
		if err := json.Unmarshal(f.Data, &d); err != nil {
			break
		}
		orientation := "straight"
		if d.SwapXY {
			orientation = "swapped"
		}
		fmt.Printf("%s[CALIB] axes %s, replayed %d held events\n", ts, orientation, d.Replayed)
		return

	case "status", "status_init":
		var d statusData
		if err := json.Unmarshal(f.Data, &d); err != nil {
			break
		}
		fmt.Printf("%s[STATUS] %s (%s) power=%s battery=%d%% frontlight=%d%% wifi=%v calibration_pending=%v\n",
			ts, d.Model, d.Codename, d.PowerState, d.BatteryPercent,
			d.FrontlightPercent, d.WifiEnabled, d.CalibrationPending)
		return
	}

	// Unknown or undecodable frame: dump it.
	pretty, err := json.MarshalIndent(json.RawMessage(message), "", "  ")
	if err != nil {
		fmt.Printf("[TEXT] %s\n", string(message))
		return
	}
	fmt.Printf("[FRAME]\n%s\n\n", string(pretty))
}
