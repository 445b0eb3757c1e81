package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteTimeout   = 5 * time.Second
	wsCloseAckWindow = 2 * time.Second
	ctrlTimeout      = 5 * time.Second
	readDeadline     = 60 * time.Second
	pingInterval     = 30 * time.Second
)

// envelope is the wire frame shared by both directions:
// {"type": "...", "data": {...}}.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// outbound mirrors envelope for writes, with an arbitrary payload.
type outbound struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// wsWriteClose sends a close control frame with the given code and reason.
func (gw *Gateway) wsWriteClose(conn *websocket.Conn, code int, reason string) {
	mu := gw.lockOf(conn)
	mu.Lock()
	defer mu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(wsCloseAckWindow),
	)
	gw.writeLocks.Delete(conn)
}

// wsWriteMessage sets a short write deadline and writes a message.
func (gw *Gateway) wsWriteMessage(conn *websocket.Conn, mt int, payload []byte) error {
	mu := gw.lockOf(conn)
	mu.Lock()
	defer mu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteMessage(mt, payload)
}

// lockOf returns the mutex for a specific connection
func (gw *Gateway) lockOf(conn *websocket.Conn) *sync.Mutex {
	if v, ok := gw.writeLocks.Load(conn); ok {
		if mu, ok := v.(*sync.Mutex); ok && mu != nil {
			return mu
		}
	}
	mu := &sync.Mutex{}
	actual, _ := gw.writeLocks.LoadOrStore(conn, mu)
	return actual.(*sync.Mutex)
}

// writeEvent marshals a typed frame and writes a single TextMessage.
func (gw *Gateway) writeEvent(conn *websocket.Conn, event string, payload any) error {
	raw, err := json.Marshal(outbound{Type: event, Data: payload})
	if err != nil {
		return err
	}
	return gw.wsWriteMessage(conn, websocket.TextMessage, raw)
}

// writeError pushes a typed error frame, best effort.
func (gw *Gateway) writeError(conn *websocket.Conn, code, detail string) {
	_ = gw.writeEvent(conn, "error", map[string]string{"code": code, "detail": detail})
}
