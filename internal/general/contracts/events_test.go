package contracts

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRideAcceptedConfirmationWireShape(t *testing.T) {
	raw, err := json.Marshal(RideAcceptedConfirmation{
		RideOffer: RideOffer{RideID: "trip-1", Fare: 3000, Currency: "IQD"},
		Status:    "accepted",
	})
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	// the offer fields flatten to the top level next to status
	require.Equal(t, "trip-1", m["rideId"])
	require.Equal(t, "accepted", m["status"])
	require.EqualValues(t, 3000, m["fare"])
}

func TestCaptainLocationsInitWireShape(t *testing.T) {
	raw, err := json.Marshal(CaptainLocationsInit{
		Data:  []CaptainLocation{{CaptainID: "cap-1"}},
		Count: 1,
	})
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	require.Contains(t, m, "data")
	require.EqualValues(t, 1, m["count"])
}

func TestAdminConnectedWireShape(t *testing.T) {
	raw, err := json.Marshal(AdminConnected{
		UserInfo: AdminUserInfo{ID: "admin-1", Role: "ADMIN"},
		Stats:    TrackingStats{ActiveSessions: 1},
	})
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	require.Contains(t, m, "userInfo")
	require.Contains(t, m, "stats")
}
