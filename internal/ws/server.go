package ws

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Server upgrades HTTP connections to the `/ws` WebSocket endpoint
// (§6 WebSocket: "/ws?sessionId=<uuid>"). The origin-checking shape
// follows the teacher's internal/ws/server.go checkOrigin/authorize
// pair; authorization itself has no spec.md counterpart and is
// dropped.
type Server struct {
	hub            *Hub
	log            *zap.Logger
	allowedOrigins map[string]bool
}

// NewServer constructs a Server. An empty allowedOrigins disables the
// allow-list and falls back to same-host/localhost checks, matching
// the teacher's permissive-by-default posture for local dev.
func NewServer(hub *Hub, log *zap.Logger, allowedOrigins []string) *Server {
	s := &Server{hub: hub, log: log, allowedOrigins: make(map[string]bool)}
	for _, o := range allowedOrigins {
		o = strings.TrimSpace(o)
		if o != "" {
			s.allowedOrigins[o] = true
		}
	}
	return s
}

// RegisterRoutes mounts the upgrade endpoint on a bare *http.ServeMux,
// for callers that don't use a chi router.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWS)
}

// Handler returns the upgrade endpoint as an http.Handler, so it can
// be mounted directly on a chi router (chi.Router.Handle) alongside
// the REST surface.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handleWS)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	invalidSessionID := false
	if _, err := uuid.Parse(sessionID); err != nil {
		invalidSessionID = true
	}

	upgrader := websocket.Upgrader{CheckOrigin: s.checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}

	if invalidSessionID {
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "sessionId must be a UUID")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		conn.Close()
		return
	}

	c := s.hub.AddClient(conn, sessionID)

	go func() {
		defer s.hub.RemoveClient(c)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			s.hub.HandleClientMessage(r.Context(), c, data)
		}
	}()
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		return s.allowedOrigins[origin]
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := parsed.Host
	if host == "" {
		return false
	}
	if host == r.Host {
		return true
	}
	return strings.HasPrefix(host, "localhost:") || host == "localhost" ||
		strings.HasPrefix(host, "127.0.0.1:") || host == "127.0.0.1"
}
