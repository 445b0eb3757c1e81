package websocket

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"ride-dispatch/internal/domain/user"
	"ride-dispatch/internal/general/contracts"
	"ride-dispatch/internal/general/jwt"
	"ride-dispatch/internal/general/logger"
	"ride-dispatch/internal/general/metrics"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type fakeTrackingHub struct {
	mu     sync.Mutex
	subs   int
	unsubs int
	locs   []contracts.CaptainLocation
}

func (h *fakeTrackingHub) Subscribe(adminID, role string, permissions []string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs++
	return fmt.Sprintf("sess-%d", h.subs), nil
}

func (h *fakeTrackingHub) Unsubscribe(string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unsubs++
}

func (h *fakeTrackingHub) CurrentLocations() []contracts.CaptainLocation { return h.locs }

func (h *fakeTrackingHub) Stats() contracts.TrackingStats {
	return contracts.TrackingStats{ActiveSessions: 1}
}

func (h *fakeTrackingHub) FocusCaptain(string, string) (contracts.CaptainLocation, bool) {
	return contracts.CaptainLocation{}, false
}

func (h *fakeTrackingHub) subscribed() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.subs
}

func (h *fakeTrackingHub) unsubscribed() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.unsubs
}

func dialAdmin(t *testing.T, srvURL, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srvURL, "http") + contracts.PathAdminWS
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		_ = resp.Body.Close()
	}
	frame := fmt.Sprintf(`{"type":"auth","token":"Bearer %s"}`, token)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) (string, json.RawMessage) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var env struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &env))
	return env.Type, env.Data
}

func TestAdminHandshakeAndStartStopTracking(t *testing.T) {
	hub := &fakeTrackingHub{locs: []contracts.CaptainLocation{{CaptainID: "cap-1"}}}
	mgr := jwt.NewManager("ws-test-secret", time.Hour)
	gw := NewGateway(logger.New("ws-test"), mgr, metrics.New())
	gw.Attach(nil, nil, hub)

	mux := http.NewServeMux()
	gw.Routes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	token, _, err := mgr.IssueUserToken("admin-1", user.RoleAdmin)
	require.NoError(t, err)
	conn := dialAdmin(t, srv.URL, token)
	defer conn.Close()

	typ, _ := readFrame(t, conn)
	require.Equal(t, contracts.EventConnectionEstablished, typ)

	typ, data := readFrame(t, conn)
	require.Equal(t, contracts.EventAdminConnected, typ)
	var hello contracts.AdminConnected
	require.NoError(t, json.Unmarshal(data, &hello))
	require.Equal(t, "admin-1", hello.UserInfo.ID)
	require.Equal(t, string(user.RoleAdmin), hello.UserInfo.Role)
	require.Equal(t, 1, hello.Stats.ActiveSessions)

	typ, data = readFrame(t, conn)
	require.Equal(t, contracts.EventCaptainLocationsInit, typ)
	var snap contracts.CaptainLocationsInit
	require.NoError(t, json.Unmarshal(data, &snap))
	require.Equal(t, 1, snap.Count)
	require.Len(t, snap.Data, 1)

	require.Equal(t, 1, hub.subscribed())

	// an explicit stop tears the tracking session down
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"stop_location_tracking"}`)))
	typ, _ = readFrame(t, conn)
	require.Equal(t, contracts.EventTrackingStats, typ)
	require.Equal(t, 1, hub.unsubscribed())

	// start re-subscribes and replays the snapshot
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"start_location_tracking"}`)))
	typ, data = readFrame(t, conn)
	require.Equal(t, contracts.EventCaptainLocationsInit, typ)
	require.NoError(t, json.Unmarshal(data, &snap))
	require.Equal(t, 1, snap.Count)
	require.Equal(t, 2, hub.subscribed())
}
