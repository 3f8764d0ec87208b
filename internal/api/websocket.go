package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"autotrade-core/internal/events"
	"autotrade-core/pkg/logger"
)

const wsWriteTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// websocket streams the caller's trade and signal events plus tick notices.
// Browsers cannot set headers on the upgrade, so the token may also come as ?token=.
func (s *Server) websocket(c *gin.Context) {
	tokenStr := c.Query("token")
	if tokenStr == "" {
		tokenStr, _ = bearerToken(c.GetHeader("Authorization"))
	}
	userID, err := parseToken(tokenStr, s.JWTSecret)
	if err != nil {
		respondError(c, http.StatusUnauthorized, "INVALID_TOKEN", "invalid or expired token")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warnf("ws upgrade error: %v", err)
		return
	}
	defer conn.Close()

	if s.Bus == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}

	stream, unsub := s.Bus.Subscribe(100, events.EventTradeLogged, events.EventSignal, events.EventTickCompleted)
	defer unsub()

	// Reader goroutine only detects the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case msg, ok := <-stream:
			if !ok {
				return
			}
			out, ok := forUser(msg, userID)
			if !ok {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(out); err != nil {
				logger.Debugf("ws write error: %v", err)
				return
			}
		}
	}
}

// forUser keeps the user's own events. System-wide tick reports name other
// users, so only their timing is forwarded.
func forUser(msg events.Message, userID string) (events.Message, bool) {
	switch {
	case msg.UserID == userID:
		return msg, true
	case msg.UserID == "" && msg.Event == events.EventTickCompleted:
		return events.Message{Event: msg.Event, At: msg.At}, true
	default:
		return events.Message{}, false
	}
}
