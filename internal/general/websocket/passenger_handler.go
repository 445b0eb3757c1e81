package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"ride-dispatch/internal/domain/geo"
	"ride-dispatch/internal/domain/trip"
	"ride-dispatch/internal/domain/user"
	"ride-dispatch/internal/general/contracts"

	"github.com/gorilla/websocket"
)

type cancelRequestMsg struct {
	RideID string `json:"rideId"`
	Reason string `json:"reason,omitempty"`
}

// ConnectPassenger handles WebSocket connections from passengers with JWT auth.
func (gw *Gateway) ConnectPassenger(w http.ResponseWriter, r *http.Request) {
	conn, claims := gw.authenticate(w, r, user.RolePassenger)
	if conn == nil {
		return
	}
	passengerID := claims.Subject

	defer conn.Close()
	defer gw.writeLocks.Delete(conn)

	s := gw.establish(&gw.passengers, passengerID, conn)
	defer func() {
		gw.passengers.unbind(passengerID, s)
		gw.metrics.WSConnections.WithLabelValues("passenger").Dec()
	}()
	gw.metrics.WSConnections.WithLabelValues("passenger").Inc()

	gw.logger.Info(r.Context(), "ws_connected", "Passenger WebSocket connected",
		map[string]any{"passenger_id": passengerID})

	stopPing := gw.keepAlive(conn)
	defer stopPing()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				gw.logger.Error(r.Context(), "ws_unexpected_close", "Passenger connection closed unexpectedly", err, map[string]any{
					"passenger_id": passengerID,
				})
				gw.wsWriteClose(conn, websocket.CloseInternalServerErr, "internal error")
			} else {
				gw.logger.Info(r.Context(), "ws_connection_closed", "Passenger connection closed normally", map[string]any{
					"passenger_id": passengerID,
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

		switch msg.Type {
		case contracts.MsgRequestRide:
			gw.handleTripRequest(r.Context(), conn, passengerID, msg.Data)

		case contracts.MsgCancelRequest:
			var cancel cancelRequestMsg
			if err := json.Unmarshal(msg.Data, &cancel); err != nil {
				gw.writeError(conn, "bad_payload", "invalid cancel payload")
				continue
			}
			if err := gw.passengerAPI.CancelTrip(r.Context(), passengerID, cancel.RideID, cancel.Reason); err != nil {
				gw.pushPassengerError(r.Context(), conn, passengerID, cancel.RideID, err)
			}

		default:
			gw.writeError(conn, "unknown_message_type", msg.Type)
		}
	}
}

func (gw *Gateway) handleTripRequest(ctx context.Context, conn *websocket.Conn, passengerID string, data json.RawMessage) {
	var req contracts.TripRequest
	if err := json.Unmarshal(data, &req); err != nil {
		gw.writeError(conn, "bad_payload", "invalid ride request payload")
		return
	}

	t, err := gw.passengerAPI.RequestTrip(ctx, passengerID, req)
	if err != nil {
		gw.pushPassengerError(ctx, conn, passengerID, "", err)
		return
	}

	// confirm the request with the quote so the client can render it
	_ = gw.writeEvent(conn, "rideRequested", map[string]any{
		"rideId":   t.ID,
		"status":   string(t.Status),
		"fare":     t.Fare.Amount,
		"currency": t.Fare.Currency,
		"distance": t.DistanceKm,
		"duration": t.DurationSec,
	})
}

func (gw *Gateway) pushPassengerError(ctx context.Context, conn *websocket.Conn, passengerID, rideID string, err error) {
	code := "internal_error"
	switch {
	case errors.Is(err, trip.ErrTripNotAvailable):
		code = "ride_not_available"
	case errors.Is(err, geo.ErrInvalidCoordinates):
		code = "invalid_coordinates"
	case errors.Is(err, trip.ErrFareInvalid):
		code = "invalid_fare"
	case errors.Is(err, trip.ErrInvalidTransition):
		code = "invalid_transition"
	}

	gw.logger.Error(ctx, "passenger_ride_op_failed", "Passenger ride operation failed", err, map[string]any{
		"passenger_id": passengerID,
		"ride_id":      rideID,
	})

	_ = gw.writeEvent(conn, contracts.EventRideError, contracts.RideError{
		RideID: rideID,
		Code:   code,
	})
}
