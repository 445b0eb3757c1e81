package websocket

import (
	"net/http"
	"sync"
	"time"

	"ride-dispatch/internal/domain/user"
	"ride-dispatch/internal/general/contracts"
	"ride-dispatch/internal/general/jwt"
	"ride-dispatch/internal/general/logger"
	"ride-dispatch/internal/general/metrics"
	"ride-dispatch/internal/ports"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Gateway owns every live WebSocket connection and implements the Notifier
// and Presence ports on top of them.
type Gateway struct {
	logger  *logger.Logger
	jwtMgr  *jwt.Manager
	metrics *metrics.Metrics

	captainAPI   ports.CaptainAPI
	passengerAPI ports.PassengerAPI
	tracking     ports.TrackingHub

	writeLocks sync.Map

	captains   registry
	passengers registry
	admins     registry
}

// NewGateway creates the WebSocket transport.
func NewGateway(logger *logger.Logger, jwtMgr *jwt.Manager, m *metrics.Metrics) *Gateway {
	return &Gateway{
		logger:  logger,
		jwtMgr:  jwtMgr,
		metrics: m,
	}
}

// Attach wires the service-layer APIs. Separate from NewGateway because the
// services themselves need the gateway as their Notifier.
func (gw *Gateway) Attach(captainAPI ports.CaptainAPI, passengerAPI ports.PassengerAPI, tracking ports.TrackingHub) {
	gw.captainAPI = captainAPI
	gw.passengerAPI = passengerAPI
	gw.tracking = tracking
}

// Routes registers the upgrade endpoints on mux.
func (gw *Gateway) Routes(mux *http.ServeMux) {
	mux.HandleFunc(contracts.PathCaptainWS, gw.ConnectCaptain)
	mux.HandleFunc(contracts.PathPassengerWS, gw.ConnectPassenger)
	mux.HandleFunc(contracts.PathAdminWS, gw.ConnectAdmin)
}

// --- ports.Notifier ---

// NotifyCaptain delivers one event to a captain's live connection. False
// means the captain is offline or the write failed; the event is dropped.
func (gw *Gateway) NotifyCaptain(id, event string, payload any) bool {
	return gw.notify(&gw.captains, id, event, payload)
}

// NotifyPassenger delivers one event to a passenger's live connection.
func (gw *Gateway) NotifyPassenger(id, event string, payload any) bool {
	return gw.notify(&gw.passengers, id, event, payload)
}

// NotifyAdmin delivers one event to an admin's live connection.
func (gw *Gateway) NotifyAdmin(id, event string, payload any) bool {
	return gw.notify(&gw.admins, id, event, payload)
}

// BroadcastCaptains pushes one event to every connected captain.
func (gw *Gateway) BroadcastCaptains(event string, payload any) int {
	delivered := 0
	gw.captains.each(func(_ string, s *session) {
		if gw.writeEvent(s.Conn, event, payload) == nil {
			delivered++
		}
	})
	return delivered
}

func (gw *Gateway) notify(r *registry, id, event string, payload any) bool {
	s, ok := r.get(id)
	if !ok {
		return false
	}
	if err := gw.writeEvent(s.Conn, event, payload); err != nil {
		return false
	}
	return true
}

// --- ports.Presence ---

func (gw *Gateway) CaptainOnline(id string) bool {
	_, ok := gw.captains.get(id)
	return ok
}

func (gw *Gateway) PassengerOnline(id string) bool {
	_, ok := gw.passengers.get(id)
	return ok
}

// --- connection plumbing shared by the three handlers ---

// authenticate upgrades the request, enforces the first-frame auth contract,
// and returns the connection plus validated claims. On failure the connection
// is already closed and nil is returned.
func (gw *Gateway) authenticate(w http.ResponseWriter, r *http.Request, allowed ...user.Role) (*websocket.Conn, *jwt.Claims) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		gw.logger.Error(r.Context(), "websocket_upgrade_failed", "Failed to upgrade to WebSocket", err, nil)
		return nil, nil
	}

	conn.SetReadLimit(1 << 20) // 1 MiB
	if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		gw.logger.Error(r.Context(), "ws_set_deadline_failed", "Failed to set initial read deadline", err, nil)
		gw.sendAuthError(conn, "internal server error")
		_ = conn.Close()
		return nil, nil
	}

	msgType, firstFrame, err := conn.ReadMessage()
	if err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
			gw.logger.Error(r.Context(), "ws_auth_timeout", "Client disconnected before authentication", err, nil)
		} else {
			gw.logger.Error(r.Context(), "ws_auth_read_failed", "Failed to read auth message", err, nil)
		}
		gw.sendAuthError(conn, "authentication timeout: please send auth message within 5 seconds")
		_ = conn.Close()
		return nil, nil
	}

	if msgType != websocket.TextMessage {
		gw.logger.Error(r.Context(), "ws_auth_invalid_format", "Auth message must be text format", nil, nil)
		gw.sendAuthError(conn, "auth message must be in text format")
		_ = conn.Close()
		return nil, nil
	}

	res, err := jwt.ValidateWSAuth(firstFrame, gw.jwtMgr, allowed...)
	if err != nil {
		gw.logger.Error(r.Context(), "ws_auth_failed", "Invalid auth message or token", err, nil)
		gw.sendAuthError(conn, "authentication failed: invalid token")
		_ = conn.Close()
		return nil, nil
	}

	return conn, res.Claims
}

// establish binds the session in its registry, evicting a previous connection
// for the same principal, and confirms the handshake to the client.
func (gw *Gateway) establish(r *registry, principalID string, conn *websocket.Conn) *session {
	s := &session{ID: uuid.NewString(), Conn: conn}

	if old := r.bind(principalID, s); old != nil {
		_ = gw.writeEvent(old.Conn, contracts.EventConnectionReplaced, contracts.ConnectionReplaced{
			Reason: "another connection for this account was opened",
		})
		gw.wsWriteClose(old.Conn, websocket.ClosePolicyViolation, "connection replaced")
		_ = old.Conn.Close()
	}

	_ = gw.writeEvent(conn, contracts.EventConnectionEstablished, contracts.ConnectionEstablished{
		SessionID:  s.ID,
		ServerTime: time.Now().UTC(),
	})

	return s
}

// keepAlive resets the read deadline, installs the pong handler, and starts
// the 30s ping loop. The returned stop func ends the loop; a failed ping also
// ends it after closing the socket to unblock the reader.
func (gw *Gateway) keepAlive(conn *websocket.Conn) func() {
	_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(_ string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	ticker := time.NewTicker(pingInterval)
	done := make(chan struct{})
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				mu := gw.lockOf(conn)
				mu.Lock()
				_ = conn.SetWriteDeadline(time.Now().Add(ctrlTimeout))
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctrlTimeout))
				mu.Unlock()
				if err != nil {
					_ = conn.Close()
					return
				}
			}
		}
	}()

	return func() { close(done) }
}

// sendAuthError sends authentication error message to client
func (gw *Gateway) sendAuthError(conn *websocket.Conn, message string) {
	_ = gw.writeEvent(conn, "auth_error", map[string]any{
		"error":   message,
		"success": false,
	})
}
