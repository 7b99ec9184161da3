// README: HTTP entry points into the dispatcher: the websocket upgrade and
// the trusted /emit bridge.
package dispatch

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"reparto/internal/infra"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(_ *http.Request) bool { return true },
}

type Server struct {
	hub      *Hub
	verifier infra.TokenVerifier
}

// NewServer wraps a hub. verifier may be nil; then connections are trusted
// and clients declare their own role (original behavior, dev only).
func NewServer(hub *Hub, verifier infra.TokenVerifier) *Server {
	return &Server{hub: hub, verifier: verifier}
}

func (s *Server) Hub() *Hub { return s.hub }

// HandleWS upgrades the connection and binds the verified identity, when a
// verifier is configured, before any message is processed. Role and uid come
// from the token, not from the client's first frame.
func (s *Server) HandleWS(c *gin.Context) {
	var identity *Identity
	if s.verifier != nil {
		raw := c.Query("token")
		if raw == "" {
			raw = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		}
		tok, err := s.verifier.VerifyIDToken(c.Request.Context(), raw)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		role := RoleNone
		if r, ok := tok.Claims["role"].(string); ok {
			role = Role(r)
		}
		identity = &Identity{UID: tok.UID, Role: role}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		return
	}

	client := &Client{conn: conn}
	s.hub.Register(client, identity)

	go client.writePump()
	go client.readPump()
}

type emitRequest struct {
	Event string `json:"event"`
	Room  string `json:"room"`
	Data  any    `json:"data"`
}

// HandleEmit is the fan-out bridge: the order API injects events into a room
// (or the whole namespace) without holding a transport connection. A bad body
// fails this request only; dispatcher state is untouched.
func (s *Server) HandleEmit(c *gin.Context) {
	var req emitRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Event == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
		return
	}

	if req.Room != "" {
		s.hub.EmitToRoom(req.Room, req.Event, req.Data)
	} else {
		s.hub.Broadcast(req.Event, req.Data)
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// HandleStats exposes the hub snapshot for the admin dashboard.
func (s *Server) HandleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.hub.Stats())
}
