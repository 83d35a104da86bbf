package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/syncclock/timingsvc/internal/session"
)

type fakeGetter struct {
	states map[string]*session.Session
}

func (g *fakeGetter) Get(_ context.Context, sessionID string) (*session.Session, error) {
	s, ok := g.states[sessionID]
	if !ok {
		return nil, &notFoundErr{}
	}
	return s, nil
}

type notFoundErr struct{}

func (*notFoundErr) Error() string { return "not found" }

func newTestServer(t *testing.T, getter SessionGetter) (*Server, *Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(getter, zap.NewNop(), nil)
	srv := NewServer(hub, zap.NewNop(), nil)
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return srv, hub, ts
}

func dial(t *testing.T, ts *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?sessionId=" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHandleWSRejectsNonUUIDSessionID(t *testing.T) {
	_, _, ts := newTestServer(t, &fakeGetter{states: map[string]*session.Session{}})

	conn := dial(t, ts, "not-a-uuid")

	_, _, err := conn.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	if !ok {
		t.Fatalf("expected *websocket.CloseError, got %T: %v", err, err)
	}
	if closeErr.Code != websocket.ClosePolicyViolation {
		t.Errorf("close code = %d, want %d (policy violation)", closeErr.Code, websocket.ClosePolicyViolation)
	}
}

func TestConnectSendsConnectedFrame(t *testing.T) {
	sid := uuid.NewString()
	_, _, ts := newTestServer(t, &fakeGetter{states: map[string]*session.Session{}})
	conn := dial(t, ts, sid)

	var f Frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if f.Type != MsgConnected {
		t.Errorf("Type = %v, want CONNECTED", f.Type)
	}
}

func TestRequestSyncReturnsStateSync(t *testing.T) {
	sid := uuid.NewString()
	state := &session.Session{SessionID: sid, Status: session.Running}
	_, _, ts := newTestServer(t, &fakeGetter{states: map[string]*session.Session{sid: state}})
	conn := dial(t, ts, sid)

	var connected Frame
	_ = conn.ReadJSON(&connected)

	_ = conn.WriteJSON(Frame{Type: MsgRequestSync})

	var f Frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if f.Type != MsgStateSync {
		t.Errorf("Type = %v, want STATE_SYNC", f.Type)
	}
}

func TestRequestSyncUnknownSessionReturnsError(t *testing.T) {
	sid := uuid.NewString()
	_, _, ts := newTestServer(t, &fakeGetter{states: map[string]*session.Session{}})
	conn := dial(t, ts, sid)

	var connected Frame
	_ = conn.ReadJSON(&connected)
	_ = conn.WriteJSON(Frame{Type: MsgRequestSync})

	var f Frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if f.Type != MsgError {
		t.Fatalf("Type = %v, want ERROR", f.Type)
	}
	payload, _ := json.Marshal(f.Payload)
	var ep ErrorPayload
	_ = json.Unmarshal(payload, &ep)
	if ep.Code != SessionNotFound {
		t.Errorf("Code = %v, want SESSION_NOT_FOUND", ep.Code)
	}
}

func TestPingAnsweredWithPong(t *testing.T) {
	sid := uuid.NewString()
	_, _, ts := newTestServer(t, &fakeGetter{states: map[string]*session.Session{}})
	conn := dial(t, ts, sid)

	var connected Frame
	_ = conn.ReadJSON(&connected)
	_ = conn.WriteJSON(Frame{Type: MsgPing})

	var f Frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if f.Type != MsgPong {
		t.Errorf("Type = %v, want PONG", f.Type)
	}
}

func TestBroadcastStateUpdateDeliversToConnectedClient(t *testing.T) {
	sid := uuid.NewString()
	_, hub, ts := newTestServer(t, &fakeGetter{states: map[string]*session.Session{}})
	conn := dial(t, ts, sid)

	var connected Frame
	_ = conn.ReadJSON(&connected)

	// Allow AddClient's registration to land before broadcasting.
	deadline := time.Now().Add(time.Second)
	for hub.ConnectionCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	hub.BroadcastStateUpdate(sid, &session.Session{SessionID: sid, Version: 2})

	var f Frame
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if f.Type != MsgStateUpdate {
		t.Errorf("Type = %v, want STATE_UPDATE", f.Type)
	}
}

func TestBroadcastSessionDeletedClosesConnection(t *testing.T) {
	sid := uuid.NewString()
	_, hub, ts := newTestServer(t, &fakeGetter{states: map[string]*session.Session{}})
	conn := dial(t, ts, sid)

	var connected Frame
	_ = conn.ReadJSON(&connected)

	deadline := time.Now().Add(time.Second)
	for hub.ConnectionCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	hub.BroadcastSessionDeleted(sid)

	var f Frame
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if f.Type != MsgSessionDeleted {
		t.Errorf("Type = %v, want SESSION_DELETED", f.Type)
	}
}
