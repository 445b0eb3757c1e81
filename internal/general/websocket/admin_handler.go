package websocket

import (
	"encoding/json"
	"net/http"
	"time"

	"ride-dispatch/internal/domain/user"
	"ride-dispatch/internal/general/contracts"

	"github.com/gorilla/websocket"
)

type focusCaptainMsg struct {
	CaptainID string `json:"captainId"`
}

// locationsSnapshot wraps the hub's current positions in the
// captain_locations_initial envelope.
func (gw *Gateway) locationsSnapshot() contracts.CaptainLocationsInit {
	locs := gw.tracking.CurrentLocations()
	return contracts.CaptainLocationsInit{Data: locs, Count: len(locs)}
}

// ConnectAdmin handles WebSocket connections from staff for live captain
// tracking. Beyond the role check the tracking hub enforces the
// location_tracking permission and the session cap.
func (gw *Gateway) ConnectAdmin(w http.ResponseWriter, r *http.Request) {
	conn, claims := gw.authenticate(w, r,
		user.RoleAdmin, user.RoleDispatcher, user.RoleManager, user.RoleSupport)
	if conn == nil {
		return
	}
	adminID := claims.Subject

	defer conn.Close()
	defer gw.writeLocks.Delete(conn)

	s := gw.establish(&gw.admins, adminID, conn)
	defer func() {
		if gw.admins.unbind(adminID, s) {
			gw.tracking.Unsubscribe(adminID)
		}
		gw.metrics.WSConnections.WithLabelValues("admin").Dec()
	}()
	gw.metrics.WSConnections.WithLabelValues("admin").Inc()

	sessionID, err := gw.tracking.Subscribe(adminID, string(claims.Role), claims.Permissions)
	if err != nil {
		gw.logger.Error(r.Context(), "tracking_subscribe_rejected", "Admin tracking subscription rejected", err, map[string]any{
			"admin_id": adminID,
			"role":     string(claims.Role),
		})
		gw.writeError(conn, "tracking_forbidden", err.Error())
		gw.wsWriteClose(conn, websocket.ClosePolicyViolation, "tracking not permitted")
		return
	}

	gw.logger.Info(r.Context(), "ws_connected", "Admin WebSocket connected",
		map[string]any{"admin_id": adminID, "role": string(claims.Role), "tracking_session": sessionID})

	// handshake: who connected plus the current snapshot
	_ = gw.writeEvent(conn, contracts.EventAdminConnected, contracts.AdminConnected{
		UserInfo: contracts.AdminUserInfo{ID: adminID, Role: string(claims.Role)},
		Stats:    gw.tracking.Stats(),
	})
	_ = gw.writeEvent(conn, contracts.EventCaptainLocationsInit, gw.locationsSnapshot())

	stopPing := gw.keepAlive(conn)
	defer stopPing()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
		_, payload, err := conn.ReadMessage()
		if err != nil {
			gw.logger.Info(r.Context(), "ws_connection_closed", "Admin connection closed", map[string]any{
				"admin_id": adminID,
			})
			gw.wsWriteClose(conn, websocket.CloseNormalClosure, "bye")
			break
		}

		var msg envelope
		if err := json.Unmarshal(payload, &msg); err != nil {
			gw.writeError(conn, "bad_json", "message is not valid JSON")
			continue
		}

		switch msg.Type {
		case contracts.MsgGetCurrentLocations:
			_ = gw.writeEvent(conn, contracts.EventCaptainLocationsInit, gw.locationsSnapshot())

		case contracts.MsgGetTrackingStats:
			_ = gw.writeEvent(conn, contracts.EventTrackingStats, gw.tracking.Stats())

		case contracts.MsgFocusCaptain:
			var focus focusCaptainMsg
			if err := json.Unmarshal(msg.Data, &focus); err != nil {
				gw.writeError(conn, "bad_payload", "invalid focus payload")
				continue
			}
			loc, ok := gw.tracking.FocusCaptain(adminID, focus.CaptainID)
			if !ok {
				gw.writeError(conn, "captain_not_tracked", focus.CaptainID)
				continue
			}
			_ = gw.writeEvent(conn, contracts.EventCaptainLocationUpdate, contracts.AdminLocationUpdate{
				Type: contracts.LocationUpdateTypeUpdate,
				Data: &loc,
			})

		case contracts.MsgStartLocationTracking:
			// re-opens the fan-out after an explicit stop; a fresh connect is
			// already subscribed and just gets a new session
			if _, err := gw.tracking.Subscribe(adminID, string(claims.Role), claims.Permissions); err != nil {
				gw.writeError(conn, "tracking_forbidden", err.Error())
				continue
			}
			_ = gw.writeEvent(conn, contracts.EventCaptainLocationsInit, gw.locationsSnapshot())

		case contracts.MsgStopLocationTracking:
			gw.tracking.Unsubscribe(adminID)
			_ = gw.writeEvent(conn, contracts.EventTrackingStats, gw.tracking.Stats())

		default:
			gw.writeError(conn, "unknown_message_type", msg.Type)
		}
	}
}
