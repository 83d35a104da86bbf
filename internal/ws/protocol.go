// Package ws implements the Real-Time Delivery layer (component E,
// spec.md §4.5): a per-session mapping of live client handles, a
// heartbeat, and the client/server frame protocol.
package ws

import "github.com/syncclock/timingsvc/internal/session"

// MessageType discriminates a Frame (§4.5 Client protocol).
type MessageType string

const (
	// Server -> client.
	MsgConnected      MessageType = "CONNECTED"
	MsgStateUpdate    MessageType = "STATE_UPDATE"
	MsgStateSync      MessageType = "STATE_SYNC"
	MsgSessionDeleted MessageType = "SESSION_DELETED"
	MsgPong           MessageType = "PONG"
	MsgError          MessageType = "ERROR"

	// Client -> server.
	MsgPing        MessageType = "PING"
	MsgReconnect   MessageType = "RECONNECT"
	MsgRequestSync MessageType = "REQUEST_SYNC"
)

// Frame is the length-framed JSON envelope carried over the WebSocket
// (§6 WebSocket: "frames are length-framed JSON, discriminated by
// type").
type Frame struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

type ConnectedPayload struct {
	SessionID   string `json:"session_id"`
	TimestampMS int64  `json:"timestamp_ms"`
}

type StateUpdatePayload struct {
	SessionID   string           `json:"session_id"`
	TimestampMS int64            `json:"timestamp_ms"`
	State       *session.Session `json:"state"`
}

type StateSyncPayload struct {
	State *session.Session `json:"state"`
}

type SessionDeletedPayload struct {
	SessionID string `json:"session_id"`
}

type PongPayload struct {
	TimestampMS int64 `json:"timestamp_ms"`
}

// ErrorCode enumerates the ERROR frame's machine-readable reason.
type ErrorCode string

const SessionNotFound ErrorCode = "SESSION_NOT_FOUND"

type ErrorPayload struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}
