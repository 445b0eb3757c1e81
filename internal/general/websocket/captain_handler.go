package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"ride-dispatch/internal/domain/ledger"
	"ride-dispatch/internal/domain/trip"
	"ride-dispatch/internal/domain/user"
	"ride-dispatch/internal/general/contracts"

	"github.com/gorilla/websocket"
)

// captain client -> server payloads
type locationUpdateMsg struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type rideActionMsg struct {
	RideID string `json:"rideId"`
	Reason string `json:"reason,omitempty"`
}

type submitPaymentMsg struct {
	RideID string `json:"rideId"`
	Amount int64  `json:"amount"`
	Notes  string `json:"notes,omitempty"`
}

// ConnectCaptain handles WebSocket connections from captains with JWT auth.
func (gw *Gateway) ConnectCaptain(w http.ResponseWriter, r *http.Request) {
	conn, claims := gw.authenticate(w, r, user.RoleCaptain)
	if conn == nil {
		return
	}
	captainID := claims.Subject

	// Teardown order (LIFO on return):
	defer conn.Close()
	defer gw.writeLocks.Delete(conn)

	s := gw.establish(&gw.captains, captainID, conn)
	defer func() {
		if gw.captains.unbind(captainID, s) {
			// only the current session reports the disconnect; an evicted
			// session must not tear down its successor's state
			gw.captainAPI.CaptainDisconnected(captainID)
		}
		gw.metrics.WSConnections.WithLabelValues("captain").Dec()
	}()
	gw.metrics.WSConnections.WithLabelValues("captain").Inc()

	gw.logger.Info(r.Context(), "ws_connected", "Captain WebSocket connected",
		map[string]any{"captain_id": captainID})

	stopPing := gw.keepAlive(conn)
	defer stopPing()

	// read loop: route messages
	for {
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				gw.logger.Error(r.Context(), "ws_unexpected_close", "Captain connection closed unexpectedly", err, map[string]any{
					"captain_id": captainID,
				})
				gw.wsWriteClose(conn, websocket.CloseInternalServerErr, "internal error")
			} else {
				gw.logger.Info(r.Context(), "ws_connection_closed", "Captain connection closed normally", map[string]any{
					"captain_id": captainID,
				})
				gw.wsWriteClose(conn, websocket.CloseNormalClosure, "bye")
			}
			break
		}

		var msg envelope
		if err := json.Unmarshal(payload, &msg); err != nil {
			gw.writeError(conn, "bad_json", "message is not valid JSON")
			continue
		}

		gw.routeCaptainMessage(r.Context(), conn, captainID, msg)
	}
}

func (gw *Gateway) routeCaptainMessage(ctx context.Context, conn *websocket.Conn, captainID string, msg envelope) {
	switch msg.Type {
	case contracts.MsgUpdateLocation:
		var loc locationUpdateMsg
		if err := json.Unmarshal(msg.Data, &loc); err != nil {
			gw.writeError(conn, "bad_payload", "invalid location payload")
			return
		}
		if err := gw.captainAPI.UpdateLocation(ctx, captainID, loc.Lat, loc.Lon); err != nil {
			gw.logger.Error(ctx, "location_update_failed", "Failed to store captain location", err, map[string]any{
				"captain_id": captainID,
			})
			gw.writeError(conn, "location_rejected", err.Error())
		}

	case contracts.MsgAcceptRide:
		var act rideActionMsg
		if err := json.Unmarshal(msg.Data, &act); err != nil {
			gw.writeError(conn, "bad_payload", "invalid ride payload")
			return
		}
		if err := gw.captainAPI.AcceptRide(ctx, captainID, act.RideID); err != nil {
			gw.pushRideError(ctx, conn, captainID, act.RideID, "accept", err)
		}

	case contracts.MsgRejectRide:
		var act rideActionMsg
		if err := json.Unmarshal(msg.Data, &act); err != nil {
			gw.writeError(conn, "bad_payload", "invalid ride payload")
			return
		}
		if err := gw.captainAPI.RejectRide(ctx, captainID, act.RideID, act.Reason); err != nil {
			gw.pushRideError(ctx, conn, captainID, act.RideID, "reject", err)
		}

	case contracts.MsgCancelRide:
		var act rideActionMsg
		if err := json.Unmarshal(msg.Data, &act); err != nil {
			gw.writeError(conn, "bad_payload", "invalid ride payload")
			return
		}
		if err := gw.captainAPI.CancelRide(ctx, captainID, act.RideID); err != nil {
			gw.pushRideError(ctx, conn, captainID, act.RideID, "cancel", err)
		}

	case contracts.MsgArrived:
		var act rideActionMsg
		if err := json.Unmarshal(msg.Data, &act); err != nil {
			gw.writeError(conn, "bad_payload", "invalid ride payload")
			return
		}
		if err := gw.captainAPI.MarkArrived(ctx, captainID, act.RideID); err != nil {
			gw.pushRideError(ctx, conn, captainID, act.RideID, "arrived", err)
		}

	case contracts.MsgStartRide:
		var act rideActionMsg
		if err := json.Unmarshal(msg.Data, &act); err != nil {
			gw.writeError(conn, "bad_payload", "invalid ride payload")
			return
		}
		if err := gw.captainAPI.StartRide(ctx, captainID, act.RideID); err != nil {
			gw.pushRideError(ctx, conn, captainID, act.RideID, "start", err)
		}

	case contracts.MsgEndRide:
		var act rideActionMsg
		if err := json.Unmarshal(msg.Data, &act); err != nil {
			gw.writeError(conn, "bad_payload", "invalid ride payload")
			return
		}
		if err := gw.captainAPI.EndRide(ctx, captainID, act.RideID); err != nil {
			gw.pushRideError(ctx, conn, captainID, act.RideID, "end", err)
		}

	case contracts.MsgSubmitPayment:
		var pay submitPaymentMsg
		if err := json.Unmarshal(msg.Data, &pay); err != nil {
			gw.writeError(conn, "bad_payload", "invalid payment payload")
			return
		}
		if err := gw.captainAPI.SubmitPayment(ctx, captainID, pay.RideID, pay.Amount, pay.Notes); err != nil {
			gw.pushRideError(ctx, conn, captainID, pay.RideID, "submit_payment", err)
		}

	default:
		gw.writeError(conn, "unknown_message_type", msg.Type)
	}
}

// pushRideError maps service errors to stable wire codes.
func (gw *Gateway) pushRideError(ctx context.Context, conn *websocket.Conn, captainID, rideID, op string, err error) {
	code := "internal_error"
	switch {
	case errors.Is(err, trip.ErrTripNotAvailable):
		code = "ride_not_available"
	case errors.Is(err, trip.ErrNotNotified):
		code = "not_notified"
	case errors.Is(err, ledger.ErrInsufficientFunds):
		code = "insufficient_balance"
	case errors.Is(err, trip.ErrInvalidTransition):
		code = "invalid_transition"
	}

	gw.logger.Error(ctx, "captain_ride_op_failed", "Captain ride operation failed", err, map[string]any{
		"captain_id": captainID,
		"ride_id":    rideID,
		"op":         op,
	})

	_ = gw.writeEvent(conn, contracts.EventRideError, contracts.RideError{
		RideID: rideID,
		Code:   code,
	})
}
