package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/hwhung0111/koreader/internal/input"

	"github.com/gorilla/websocket"
)

// ============================================================================
// Monitor WebSocket: hub + per-client pumps + broadcaster
// ============================================================================
//
// This file implements:
//   - A Hub that tracks connected WebSocket clients
//   - Per-client write pumps so one slow client doesn't block others
//   - A broadcaster loop that reads daemon-emitted broadcasts and fans out
//
// The monitor is a debugging surface: it streams adjusted input events,
// power transitions and status changes so touch quirks can be inspected
// over the network instead of ssh-ing into the board.
//
// Notes:
//   - Slow clients are disconnected when their send buffer fills.
//   - Messages are JSON text frames with an envelope: {type, ts, data}.
//   - The initial message on connect is "status_init" with StatusSnapshot in data.
//
// ============================================================================

// wsInputData is the JSON `data` payload for "touch" and "key" frames.
// The envelope timestamp carries the adjusted event time.
type wsInputData struct {
	Type  uint16 `json:"type"`
	Code  uint16 `json:"code"`
	Value int32  `json:"value"`
}

// wsPowerData is the JSON `data` payload for "power_state".
type wsPowerData struct {
	State   string `json:"state"`
	Wakeups int    `json:"wakeups"`
}

// wsCalibrationData is the JSON `data` payload for "calibration".
type wsCalibrationData struct {
	SwapXY   bool `json:"swap_xy"`
	Replayed int  `json:"replayed"`
}

// wsOutboundEvent is a pre-typed, externally-consumable monitor event.
type wsOutboundEvent struct {
	Type string
	Data any
	At   time.Time // optional timestamp; zero means "omit" or use now
}

// envelope is the wire format envelope for WS messages.
type envelope struct {
	Type string      `json:"type"`
	Ts   *time.Time  `json:"ts,omitempty"`
	Data interface{} `json:"data,omitempty"`
}

// MonitorBroadcast is the marker interface for daemon-to-monitor messages.
type MonitorBroadcast interface {
	broadcastMarker()
}

// BroadcastInput carries one adjusted input event.
type BroadcastInput struct {
	Ev input.Event
}

func (BroadcastInput) broadcastMarker() {}

// BroadcastPowerState announces a suspend controller transition.
type BroadcastPowerState struct {
	State   string
	Wakeups int
	At      time.Time
}

func (BroadcastPowerState) broadcastMarker() {}

// BroadcastStatus carries a full refreshed snapshot.
type BroadcastStatus struct {
	Snap StatusSnapshot
	At   time.Time
}

func (BroadcastStatus) broadcastMarker() {}

// BroadcastCalibration announces a finalized axis-swap verdict.
type BroadcastCalibration struct {
	SwapXY   bool
	Replayed int
	At       time.Time
}

func (BroadcastCalibration) broadcastMarker() {}

// ============================================================================
// Hub
// ============================================================================

// Hub owns the set of connected monitor clients. The client map is touched
// only by the Run goroutine; everyone else talks to it through the register,
// unregister and broadcast channels, so the set needs no lock.
type Hub struct {
	logger *slog.Logger

	// Buffered broadcast channel for already-serialized JSON frames.
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	clients map[*Client]struct{}
	// count mirrors len(clients) for readers outside the Run goroutine.
	count atomic.Int32

	sendBuf int
}

type HubConfig struct {
	// SendBuf caps each client's outbound queue. Zero picks a default.
	SendBuf int

	// BroadcastBuf caps the hub's inbound frame queue. Zero picks a default.
	BroadcastBuf int
}

// NewHub constructs a hub. Call Run(ctx) to start it.
func NewHub(logger *slog.Logger, cfg HubConfig) *Hub {
	if cfg.SendBuf <= 0 {
		cfg.SendBuf = 32
	}
	if cfg.BroadcastBuf <= 0 {
		cfg.BroadcastBuf = 128
	}

	return &Hub{
		logger:     logger,
		broadcast:  make(chan []byte, cfg.BroadcastBuf),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		clients:    make(map[*Client]struct{}),
		sendBuf:    cfg.SendBuf,
	}
}

// Run processes membership changes and fanout until ctx is canceled, then
// disconnects every remaining client.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("monitor hub starting")

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("monitor hub stopping", "clients", len(h.clients))
			for c := range h.clients {
				h.dropClient(c, "shutdown")
			}
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.count.Store(int32(len(h.clients)))
			h.logger.Info("monitor client connected", "remote_addr", c.remoteAddr, "clients", len(h.clients))

		case c := <-h.unregister:
			h.dropClient(c, "unregister")

		case msg := <-h.broadcast:
			// Deleting map entries mid-range is allowed, so a client whose
			// queue is full can be dropped in the same pass that skips it.
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					h.dropClient(c, "send queue full")
				}
			}
		}
	}
}

// dropClient disconnects a client and forgets it. Only the Run goroutine may
// call this; the membership check makes repeated drops of the same client
// harmless, which lets both pumps detach without coordinating.
func (h *Hub) dropClient(c *Client, reason string) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	h.count.Store(int32(len(h.clients)))

	if c.conn != nil {
		_ = c.conn.Close()
	}
	// Closing send tells writePump to finish.
	close(c.send)

	h.logger.Info("monitor client disconnected", "remote_addr", c.remoteAddr, "reason", reason, "clients", len(h.clients))
}

// clientCount reports how many clients are currently registered.
func (h *Hub) clientCount() int { return int(h.count.Load()) }

// BroadcastBytes enqueues a pre-serialized JSON WS frame for broadcast.
// It never blocks; if the hub queue is full it drops the frame.
func (h *Hub) BroadcastBytes(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("monitor broadcast queue full, dropping frame", "bytes", len(msg))
	}
}

// ============================================================================
// Client
// ============================================================================

type Client struct {
	hub *Hub

	conn *websocket.Conn
	send chan []byte

	remoteAddr string
	logger     *slog.Logger
}

// NewClient creates a client with a buffered send channel.
func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string, logger *slog.Logger) *Client {
	sendBuf := 32
	if hub != nil && hub.sendBuf > 0 {
		sendBuf = hub.sendBuf
	}
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBuf),
		remoteAddr: remoteAddr,
		logger:     logger,
	}
}

const (
	writeWait = 5 * time.Second

	// Keepalive defaults: conservative. e-ink boards routinely drop the radio
	// for power saving, so dead peers must be detected by ping/pong.
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second
)

// wsTouchCoalesceWindow is the maximum time window during which bursty touch
// motion frames are coalesced (latest-wins) before broadcasting to clients.
// Key frames and state changes are never coalesced.
const wsTouchCoalesceWindow = 50 * time.Millisecond

// logPumpExit records why a pump stopped, decoding websocket close frames
// when one is present. ErrCloseSent exits are quiet because they follow a
// close we initiated ourselves.
func logPumpExit(logger *slog.Logger, pump, remoteAddr string, err error) {
	if errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		logger.Info("monitor "+pump+" closed", "remote_addr", remoteAddr, "code", ce.Code, "reason", ce.Text)
		return
	}
	logger.Info("monitor "+pump+" error", "remote_addr", remoteAddr, "error", err)
}

// detach asks the hub to forget this client. Safe from either pump: drops are
// membership-checked, and an unread unregister queue means the hub is already
// shutting down and will close everything itself.
func (c *Client) detach() {
	if c.hub == nil {
		return
	}
	select {
	case c.hub.unregister <- c:
	default:
	}
}

// writePump drains the send queue onto the websocket and keeps the peer alive
// with periodic pings. It exits on write error or when send is closed.
func (c *Client) writePump(ctx context.Context) {
	defer c.detach()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub dropped us; say goodbye and stop.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				logPumpExit(c.logger, "write pump", c.remoteAddr, err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logPumpExit(c.logger, "write pump", c.remoteAddr, err)
				return
			}
		}
	}
}

// readPump discards inbound frames; monitor clients are listen-only. Reading
// is still required to process pong control frames and to notice disconnects.
func (c *Client) readPump(ctx context.Context) {
	defer c.detach()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if ctx.Err() != nil {
			return
		}
		if _, _, err := c.conn.ReadMessage(); err != nil {
			logPumpExit(c.logger, "read pump", c.remoteAddr, err)
			return
		}
	}
}

// ============================================================================
// HTTP Handler + server wiring helpers
// ============================================================================

type Server struct {
	logger *slog.Logger

	hub *Hub

	// Required for the initial snapshot request on connect (through the
	// daemon loop, which owns all state).
	actions chan<- Action
}

type ServerConfig struct {
	Hub HubConfig
}

// NewServer constructs the monitor WS server components. Call Register on a
// mux, start hub.Run(ctx), and start the broadcaster loop.
func NewServer(logger *slog.Logger, actions chan<- Action, cfg ServerConfig) *Server {
	hub := NewHub(logger, cfg.Hub)
	return &Server{
		logger:  logger,
		hub:     hub,
		actions: actions,
	}
}

func (s *Server) Hub() *Hub { return s.hub }

// Register registers the WS handler on the provided mux.
func (s *Server) Register(mux *http.ServeMux, path string) {
	if mux == nil {
		return
	}
	mux.HandleFunc(path, s.handleMonitorWS)
}

var upgrader = websocket.Upgrader{
	// The monitor binds to loopback by default; origin enforcement is left
	// to whoever exposes it more widely.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleMonitorWS upgrades the connection, fetches a status snapshot for the
// greeting frame, and only then hands the client to the hub. Registering last
// keeps the status_init frame ahead of any broadcast fanout, and it means
// nobody but this handler can touch the send queue while the greeting goes in.
func (s *Server) handleMonitorWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}

	client := NewClient(s.hub, conn, r.RemoteAddr, s.logger)

	// The pumps must not run on the request context: net/http cancels it as
	// soon as this handler returns, which would tear the connection down with
	// an abnormal closure (code 1006). Lifetime is managed by the hub and by
	// read/write errors instead.
	go client.writePump(context.Background())
	go client.readPump(context.Background())

	if s.actions != nil {
		snap, ok := s.requestSnapshot(r.Context())
		if !ok {
			_ = conn.Close()
			return
		}
		now := time.Now().UTC()
		initMsg, mErr := json.Marshal(envelope{
			Type: "status_init",
			Ts:   &now,
			Data: snap,
		})
		if mErr == nil {
			// Cannot block: the client is unregistered, so the queue is
			// empty apart from what writePump has already drained.
			client.send <- initMsg
		}
	}

	s.hub.register <- client
}

// requestSnapshot asks the daemon loop for the current status. The request
// context bounds the wait so a client that disconnects mid-handshake does not
// pin this handler.
func (s *Server) requestSnapshot(ctx context.Context) (StatusSnapshot, bool) {
	reply := make(chan StatusSnapshot, 1)

	select {
	case <-ctx.Done():
		return StatusSnapshot{}, false
	case s.actions <- StatusRequest{reply: reply}:
	}

	if _, has := ctx.Deadline(); !has {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Second)
		defer cancel()
	}

	select {
	case <-ctx.Done():
		if !errors.Is(ctx.Err(), context.Canceled) {
			s.logger.Warn("monitor snapshot request failed", "error", ctx.Err())
		}
		return StatusSnapshot{}, false
	case snap := <-reply:
		return snap, true
	}
}

// runMonitorServer starts the HTTP server on the specified address and shuts
// it down gracefully when ctx is canceled.
func runMonitorServer(ctx context.Context, addr string, srv *Server, logger *slog.Logger) error {
	mux := http.NewServeMux()
	srv.Register(mux, "/ws")
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	logger.Info("monitor server listening", "addr", addr)

	httpSrv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	errCh := make(chan error, 1)

	go func() {
		// ListenAndServe returns http.ErrServerClosed on Shutdown; treat that as clean exit.
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		// Graceful shutdown with a timeout.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown: %w", err)
		}
		// Wait for the ListenAndServe goroutine to return.
		_ = <-errCh
		return nil

	case err := <-errCh:
		return err
	}
}

// ============================================================================
// Broadcaster
// ============================================================================

// RunBroadcaster reads daemon-emitted MonitorBroadcast events, marshals them,
// and broadcasts them to all hub clients. Intended to run as a single goroutine.
func RunBroadcaster(ctx context.Context, hub *Hub, src <-chan MonitorBroadcast, logger *slog.Logger) {
	if hub == nil || src == nil {
		return
	}

	// Rate-limit bursty touch motion: flush the latest pending frame at most
	// once every wsTouchCoalesceWindow, even if frames keep arriving
	// (no debounce-on-silence).
	var pendingTouch *wsOutboundEvent
	var touchTimer *time.Timer
	var touchTimerCh <-chan time.Time

	flushPendingTouch := func() {
		if pendingTouch == nil {
			return
		}

		ts := pendingTouch.At
		if ts.IsZero() {
			ts = time.Now().UTC()
		}

		msg, err := json.Marshal(envelope{
			Type: pendingTouch.Type,
			Ts:   &ts,
			Data: pendingTouch.Data,
		})
		if err != nil {
			logger.Warn("monitor frame marshal failed", "error", err, "type", pendingTouch.Type)
			// Drop the pending item so we don't retry-marshal forever.
			pendingTouch = nil
			return
		}

		hub.BroadcastBytes(msg)
		pendingTouch = nil
	}

	stopTouchTimer := func() {
		if touchTimer == nil {
			touchTimerCh = nil
			return
		}
		if !touchTimer.Stop() {
			// Drain if needed.
			select {
			case <-touchTimer.C:
			default:
			}
		}
		touchTimerCh = nil
		touchTimer = nil
	}

	startTouchTimerIfNeeded := func() {
		if touchTimer != nil {
			return
		}
		touchTimer = time.NewTimer(wsTouchCoalesceWindow)
		touchTimerCh = touchTimer.C
	}

	resetTouchTimer := func() {
		// Timer must already exist.
		if touchTimer == nil {
			return
		}
		if !touchTimer.Stop() {
			select {
			case <-touchTimer.C:
			default:
			}
		}
		touchTimer.Reset(wsTouchCoalesceWindow)
		touchTimerCh = touchTimer.C
	}

	for {
		select {
		case <-ctx.Done():
			// Best-effort: flush pending touch frame before exit.
			flushPendingTouch()
			stopTouchTimer()
			return

		case <-touchTimerCh:
			// Timer tick: flush latest pending touch frame if present.
			flushPendingTouch()
			// Keep ticking only if more touch frames are pending; otherwise stop.
			if pendingTouch == nil {
				stopTouchTimer()
			} else {
				resetTouchTimer()
			}

		case b, ok := <-src:
			if !ok {
				// If the source ends, flush any pending coalesced frame then stop.
				flushPendingTouch()
				stopTouchTimer()
				logger.Info("monitor broadcaster stopping (source ended)")
				return
			}

			ev, ok := convertBroadcast(b)
			if !ok {
				// Unknown broadcasts are dropped.
				continue
			}

			// Rate-limit only touch motion; do NOT reset the timer on each frame.
			// Latest-wins: replace the pending frame and ensure the periodic
			// timer is running.
			if ev.Type == "touch" {
				copyEv := ev
				pendingTouch = &copyEv
				startTouchTimerIfNeeded()
				continue
			}

			// Non-touch event: flush any pending touch first, then emit this
			// event immediately so ordering stays plausible.
			flushPendingTouch()
			stopTouchTimer()

			ts := ev.At
			if ts.IsZero() {
				ts = time.Now().UTC()
			}

			msg, err := json.Marshal(envelope{
				Type: ev.Type,
				Ts:   &ts,
				Data: ev.Data,
			})
			if err != nil {
				logger.Warn("monitor frame marshal failed", "error", err, "type", ev.Type)
				continue
			}

			hub.BroadcastBytes(msg)
		}
	}
}

func convertBroadcast(b MonitorBroadcast) (wsOutboundEvent, bool) {
	switch ev := b.(type) {
	case BroadcastInput:
		typ := "touch"
		if ev.Ev.Type == input.EV_KEY {
			typ = "key"
		}
		return wsOutboundEvent{
			Type: typ,
			Data: wsInputData{Type: ev.Ev.Type, Code: ev.Ev.Code, Value: ev.Ev.Value},
			At:   ev.Ev.Time().UTC(),
		}, true

	case BroadcastPowerState:
		return wsOutboundEvent{
			Type: "power_state",
			Data: wsPowerData{State: ev.State, Wakeups: ev.Wakeups},
			At:   ev.At,
		}, true

	case BroadcastStatus:
		return wsOutboundEvent{
			Type: "status",
			Data: ev.Snap,
			At:   ev.At,
		}, true

	case BroadcastCalibration:
		return wsOutboundEvent{
			Type: "calibration",
			Data: wsCalibrationData{SwapXY: ev.SwapXY, Replayed: ev.Replayed},
			At:   ev.At,
		}, true

	default:
		return wsOutboundEvent{}, false
	}
}
