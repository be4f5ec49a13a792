package gameserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/arenalabs/arena/internal/game/intent"
)

func startTestServer(t *testing.T) (*Service, *httptest.Server) {
	t.Helper()
	svc := NewService(testGameConfig(), zaptest.NewLogger(t))
	srv := httptest.NewServer(NewMux(svc, zaptest.NewLogger(t)))
	t.Cleanup(func() {
		srv.Close()
		svc.Shutdown()
	})
	return svc, srv
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readServerMessage(t *testing.T, ws *websocket.Conn) map[string]json.RawMessage {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	var msg map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func msgType(t *testing.T, msg map[string]json.RawMessage) string {
	t.Helper()
	var typ string
	require.NoError(t, json.Unmarshal(msg["type"], &typ))
	return typ
}

func TestWebSocketSessionFlow(t *testing.T) {
	_, srv := startTestServer(t)
	ws := dialWS(t, srv)

	require.NoError(t, ws.WriteJSON(clientMessage{Type: msgJoin}))

	welcome := readServerMessage(t, ws)
	require.Equal(t, msgWelcome, msgType(t, welcome))
	var slot string
	require.NoError(t, json.Unmarshal(welcome["slot"], &slot))
	assert.Equal(t, "hero0", slot)

	// First tick replays the synthetic join.
	first := readServerMessage(t, ws)
	require.Equal(t, msgTick, msgType(t, first))

	require.NoError(t, ws.WriteJSON(clientMessage{
		Type:    msgIntent,
		Slot:    slot,
		Kind:    intent.KindMove,
		Payload: json.RawMessage(`{"x":1,"y":0}`),
	}))

	// The move shows up in a subsequent broadcast.
	found := false
	for i := 0; i < 20 && !found; i++ {
		msg := readServerMessage(t, ws)
		if msgType(t, msg) != msgTick {
			continue
		}
		var intents []intent.Intent
		require.NoError(t, json.Unmarshal(msg["intents"], &intents))
		for _, in := range intents {
			if in.Slot == slot && in.Kind == intent.KindMove {
				found = true
			}
		}
	}
	assert.True(t, found, "submitted move must be broadcast back")
}

func TestWebSocketMalformedFrameIgnored(t *testing.T) {
	_, srv := startTestServer(t)
	ws := dialWS(t, srv)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, ws.WriteJSON(clientMessage{Type: msgJoin}))

	welcome := readServerMessage(t, ws)
	assert.Equal(t, msgWelcome, msgType(t, welcome), "session must survive a malformed frame")
}

func TestWebSocketDisconnectCleansUp(t *testing.T) {
	svc, srv := startTestServer(t)
	ws := dialWS(t, srv)

	require.NoError(t, ws.WriteJSON(clientMessage{Type: msgJoin}))
	_ = readServerMessage(t, ws)
	require.Equal(t, 1, svc.ConnectionCount())

	ws.Close()

	assert.Eventually(t, func() bool {
		return svc.ConnectionCount() == 0 && len(svc.Snapshots()) == 0
	}, 2*time.Second, 10*time.Millisecond, "disconnect must depart and dissolve the room")
}

func TestHealthzEndpoint(t *testing.T) {
	_, srv := startTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDiagnosticsEndpoint(t *testing.T) {
	svc, srv := startTestServer(t)
	svc.Connect("c1")
	require.NoError(t, svc.Join("c1"))

	resp, err := http.Get(srv.URL + "/diagnostics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var diag diagnosticsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&diag))
	assert.Equal(t, 1, diag.Connections)
	require.Len(t, diag.Rooms, 1)
	assert.Equal(t, 1, diag.Rooms[0].Members)
}
