package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	worldapp "farmrealm-server/internal/app/world"
)

const (
	wsReadLimit    = 4096
	wsSendBuffer   = 256
	wsPongWait     = 60 * time.Second
	wsPingInterval = 20 * time.Second
	wsWriteWait    = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

type closeRequest struct {
	code   int
	reason string
}

// wsClient is the transport half of one room session.
type wsClient struct {
	roomID    string
	sessionID string
	conn      *websocket.Conn
	send      chan []byte
	closeCh   chan closeRequest
	done      chan struct{}
}

func (h *Handler) roomWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		authHeader := r.Header.Get("Authorization")
		token = strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}
	if token == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "missing token"})
		return
	}
	ident, err := h.auth.ParseToken(token)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid token"})
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &wsClient{
		roomID:    chiRoomID(r),
		sessionID: uuid.NewString(),
		conn:      conn,
		send:      make(chan []byte, wsSendBuffer),
		closeCh:   make(chan closeRequest, 1),
		done:      make(chan struct{}),
	}
	err = h.rooms.Connect(client.roomID, worldapp.Conn{
		SessionID: client.sessionID,
		PlayerID:  ident.PlayerID,
		FirstName: ident.FirstName,
		Send:      client.send,
		Close:     client.requestClose,
	})
	if err != nil {
		h.logger.Error().Err(err).Str("room", client.roomID).Msg("room unavailable")
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "room unavailable"),
			time.Now().Add(wsWriteWait))
		_ = conn.Close()
		return
	}

	go h.writePump(client)
	h.readPump(client)
}

func (c *wsClient) requestClose(code int, reason string) {
	select {
	case c.closeCh <- closeRequest{code: code, reason: reason}:
	default:
	}
}

func (h *Handler) readPump(client *wsClient) {
	defer func() {
		h.rooms.Disconnect(client.roomID, client.sessionID)
		close(client.done)
		_ = client.conn.Close()
	}()
	client.conn.SetReadLimit(wsReadLimit)
	_ = client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	client.conn.SetPongHandler(func(string) error {
		_ = client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		kind, msg, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug().Err(err).Str("session_id", client.sessionID).Msg("websocket read ended")
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		h.rooms.Deliver(client.roomID, client.sessionID, msg)
	}
}

func (h *Handler) writePump(client *wsClient) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case msg := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case req := <-client.closeCh:
			// frames queued before the close request still go out first
			for pending := len(client.send); pending > 0; pending-- {
				_ = client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := client.conn.WriteMessage(websocket.TextMessage, <-client.send); err != nil {
					break
				}
			}
			_ = client.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(req.code, req.reason), time.Now().Add(wsWriteWait))
			_ = client.conn.Close()
			return
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-client.done:
			return
		}
	}
}
