package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/syncclock/timingsvc/internal/session"
)

// SessionGetter is the minimal read dependency the hub needs to answer
// RECONNECT/REQUEST_SYNC, satisfied by *engine.Engine without ws
// importing the engine package.
type SessionGetter interface {
	Get(ctx context.Context, sessionID string) (*session.Session, error)
}

// Metrics is the observability hook the hub calls; implemented by
// internal/metrics, defaulted to NoopMetrics in tests.
type Metrics interface {
	SetConnectionCount(n int)
}

type NoopMetrics struct{}

func (NoopMetrics) SetConnectionCount(int) {}

const heartbeatInterval = 5 * time.Second

// Hub is the Real-Time Delivery layer (E): a per-session set of live
// client handles, mutated only by accept/close and the heartbeat tick
// (§4.5). It has process lifetime — constructed once at start-up.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*client]bool // session_id -> handles

	getter  SessionGetter
	log     *zap.Logger
	metrics Metrics

	heartbeat *time.Ticker
	stop      chan struct{}
	wg        sync.WaitGroup
}

// NewHub constructs a Hub and starts its heartbeat loop.
func NewHub(getter SessionGetter, log *zap.Logger, metrics Metrics) *Hub {
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	h := &Hub{
		clients:   make(map[string]map[*client]bool),
		getter:    getter,
		log:       log,
		metrics:   metrics,
		heartbeat: time.NewTicker(heartbeatInterval),
		stop:      make(chan struct{}),
	}
	h.wg.Add(1)
	go h.heartbeatLoop()
	return h
}

func (h *Hub) heartbeatLoop() {
	defer h.wg.Done()
	for {
		select {
		case <-h.stop:
			return
		case <-h.heartbeat.C:
			h.tick()
		}
	}
}

func (h *Hub) tick() {
	h.mu.RLock()
	var stale, alive []*client
	for _, set := range h.clients {
		for c := range set {
			if c.alive.Load() {
				alive = append(alive, c)
			} else {
				stale = append(stale, c)
			}
		}
	}
	h.mu.RUnlock()

	for _, c := range stale {
		h.RemoveClient(c)
	}
	for _, c := range alive {
		c.alive.Store(false)
		_ = c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(2*time.Second))
	}
}

// AddClient registers a new handle for sessionID (§4.5 Accept) and
// sends the CONNECTED control frame.
func (h *Hub) AddClient(conn *websocket.Conn, sessionID string) *client {
	c := newClient(conn, sessionID)
	c.conn.SetPongHandler(func(string) error {
		c.alive.Store(true)
		return nil
	})

	h.mu.Lock()
	set, ok := h.clients[sessionID]
	if !ok {
		set = make(map[*client]bool)
		h.clients[sessionID] = set
	}
	set[c] = true
	count := h.countLocked()
	h.mu.Unlock()

	h.metrics.SetConnectionCount(count)

	frame := Frame{Type: MsgConnected, Payload: ConnectedPayload{SessionID: sessionID, TimestampMS: nowMS()}}
	h.send(c, frame)

	return c
}

// RemoveClient deregisters and closes a handle.
func (h *Hub) RemoveClient(c *client) {
	h.mu.Lock()
	set, ok := h.clients[c.sessionID]
	if ok {
		if _, present := set[c]; present {
			delete(set, c)
			c.close()
			if len(set) == 0 {
				delete(h.clients, c.sessionID)
			}
		}
	}
	count := h.countLocked()
	h.mu.Unlock()
	h.metrics.SetConnectionCount(count)
}

func (h *Hub) countLocked() int {
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}

// BroadcastStateUpdate delivers a STATE_UPDATE frame to every handle
// attached to sessionID (§4.5 Broadcast). Called by the coordination
// plane's ingress loop, which has already deduplicated stale versions.
func (h *Hub) BroadcastStateUpdate(sessionID string, state *session.Session) {
	frame := Frame{
		Type: MsgStateUpdate,
		Payload: StateUpdatePayload{
			SessionID:   sessionID,
			TimestampMS: nowMS(),
			State:       state,
		},
	}
	h.broadcastToSession(sessionID, frame)
}

// BroadcastSessionDeleted emits SESSION_DELETED and then actively
// closes every handle for sessionID with NormalClosure (§4.5). The close
// frames are written on a separate goroutine, so the caller never blocks
// on network I/O.
func (h *Hub) BroadcastSessionDeleted(sessionID string) {
	frame := Frame{Type: MsgSessionDeleted, Payload: SessionDeletedPayload{SessionID: sessionID}}
	h.broadcastToSession(sessionID, frame)

	h.mu.Lock()
	set := h.clients[sessionID]
	delete(h.clients, sessionID)
	count := h.countLocked()
	h.mu.Unlock()
	h.metrics.SetConnectionCount(count)

	go func() {
		for c := range set {
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			c.close()
		}
	}()
}

func (h *Hub) broadcastToSession(sessionID string, frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		h.log.Error("frame marshal failed", zap.Error(err))
		return
	}

	h.mu.RLock()
	set := h.clients[sessionID]
	handles := make([]*client, 0, len(set))
	for c := range set {
		handles = append(handles, c)
	}
	h.mu.RUnlock()

	for _, c := range handles {
		if !c.enqueue(data) {
			h.log.Warn("ws client too slow, evicting", zap.String("session_id", sessionID))
			h.RemoveClient(c)
		}
	}
}

func (h *Hub) send(c *client, frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		h.log.Error("frame marshal failed", zap.Error(err))
		return
	}
	if !c.enqueue(data) {
		h.RemoveClient(c)
	}
}

func (h *Hub) sendError(c *client, code ErrorCode, message string) {
	h.send(c, Frame{Type: MsgError, Payload: ErrorPayload{Code: code, Message: message}})
}

// HandleClientMessage dispatches one decoded client->server frame
// (§4.5 Client protocol). Unknown types are logged and ignored.
func (h *Hub) HandleClientMessage(ctx context.Context, c *client, raw []byte) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		h.log.Warn("malformed client frame, ignoring", zap.Error(err))
		return
	}

	switch f.Type {
	case MsgPing:
		h.send(c, Frame{Type: MsgPong, Payload: PongPayload{TimestampMS: nowMS()}})
	case MsgReconnect, MsgRequestSync:
		state, err := h.getter.Get(ctx, c.sessionID)
		if err != nil {
			h.sendError(c, SessionNotFound, "session not found or expired")
			return
		}
		h.send(c, Frame{Type: MsgStateSync, Payload: StateSyncPayload{State: state}})
	default:
		h.log.Info("unknown client frame type, ignoring", zap.String("type", string(f.Type)))
	}
}

// Shutdown stops the heartbeat and closes every handle with GoingAway
// (§4.5 Shutdown, §9: "tear down in reverse order on shutdown").
func (h *Hub) Shutdown() {
	h.heartbeat.Stop()
	close(h.stop)
	h.wg.Wait()

	h.mu.Lock()
	all := make([]*client, 0)
	for _, set := range h.clients {
		for c := range set {
			all = append(all, c)
		}
	}
	h.clients = make(map[string]map[*client]bool)
	h.mu.Unlock()

	for _, c := range all {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		c.close()
	}
}

// ConnectionCount reports the total number of live handles across all
// sessions, for tests and health checks.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.countLocked()
}

func nowMS() int64 { return time.Now().UnixMilli() }
