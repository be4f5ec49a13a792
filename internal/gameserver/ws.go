package gameserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/arenalabs/arena/internal/game/intent"
)

const (
	// writeWait bounds a single frame write so a dead peer cannot stall
	// the write pump.
	writeWait = 10 * time.Second
	// pongWait is how long a connection may stay silent before the read
	// pump gives up on it.
	pongWait = 60 * time.Second
	// pingPeriod must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// maxMessageSize caps inbound frames; intents are small.
	maxMessageSize = 4096
)

// WSHandler upgrades HTTP requests to WebSocket sessions and runs the
// read/write pumps for each connection.
type WSHandler struct {
	svc      *Service
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a WSHandler backed by svc.
//
// Precondition: svc and logger must be non-nil.
func NewWSHandler(svc *Service, logger *zap.Logger) *WSHandler {
	return &WSHandler{
		svc:    svc,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Arena clients are browser games served from anywhere.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP runs one WebSocket session: mint a connection id, start the
// write pump, then read frames until the peer goes away. Every exit path
// funnels through Service.Disconnect, which handles departure semantics.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := uuid.NewString()
	outbox := h.svc.Connect(conn)
	h.logger.Info("connection opened",
		zap.String("conn", conn),
		zap.String("remote", ws.RemoteAddr().String()),
	)

	go h.writePump(conn, ws, outbox)
	h.readPump(conn, ws)
}

// readPump decodes inbound frames and dispatches them to the Service.
// Malformed frames are protocol violations: logged and dropped, the
// session continues.
func (h *WSHandler) readPump(conn string, ws *websocket.Conn) {
	defer func() {
		h.svc.Disconnect(conn)
		ws.Close()
	}()

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("read failed", zap.String("conn", conn), zap.Error(err))
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Warn("malformed frame dropped",
				zap.String("conn", conn), zap.Error(err))
			continue
		}

		switch msg.Type {
		case msgJoin:
			if err := h.svc.Join(conn); err != nil {
				h.logger.Warn("join failed",
					zap.String("conn", conn), zap.Error(err))
			}
		case msgIntent:
			h.svc.SubmitIntent(conn, intent.Intent{
				Slot:    msg.Slot,
				Kind:    msg.Kind,
				Payload: msg.Payload,
			})
		default:
			h.logger.Warn("unknown message type dropped",
				zap.String("conn", conn), zap.String("type", msg.Type))
		}
	}
}

// writePump drains the outbox onto the socket and keeps the connection
// alive with pings. It exits when the outbox closes (departure) or a
// write fails (dead peer); the read pump's deadline then tears the
// session down.
func (h *WSHandler) writePump(conn string, ws *websocket.Conn, outbox *Outbox) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case frame, ok := <-outbox.Frames():
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				h.logger.Warn("write failed",
					zap.String("conn", conn), zap.Error(err))
				h.svc.Disconnect(conn)
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.svc.Disconnect(conn)
				return
			}
		}
	}
}
