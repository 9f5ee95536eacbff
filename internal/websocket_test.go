package internal_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/battleship-server/internal"
)

// newWSServer 啟動 WebSocket 閘道的測試伺服器
func newWSServer(t *testing.T) string {
	t.Helper()

	logger := testLogger()
	registry := internal.NewRegistry(logger)
	handler := internal.NewHandler(registry, internal.NewMemoryHistory(), internal.NewMemoryAuthenticator(), logger)
	gateway := internal.NewWSGateway(handler, logger)

	srv := httptest.NewServer(http.HandlerFunc(gateway.ServeWS))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// wsClient 走 WebSocket 的測試客戶端，承載與 TCP 相同的訊框
type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dialWS(t *testing.T, url string) *wsClient {
	t.Helper()

	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })

	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) roundTrip(payload any) internal.Response {
	c.t.Helper()

	frame, err := internal.EncodeFrame(payload)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteMessage(websocket.BinaryMessage, frame))

	_, data, err := c.conn.ReadMessage()
	require.NoError(c.t, err)
	require.Len(c.t, data, internal.FrameSize)

	var resp internal.Response
	require.NoError(c.t, internal.DecodeFrame(data, &resp))
	return resp
}

// TestWSGateway_Lobby WebSocket 承載大廳會話
func TestWSGateway_Lobby(t *testing.T) {
	url := newWSServer(t)

	c := dialWS(t, url)
	resp := c.roundTrip(map[string]any{"username": "alice"})
	require.Equal(t, "connected", resp["status"])
	assert.Equal(t, "lobby", resp["mode"])

	resp = c.roundTrip(map[string]any{"request": "ping"})
	assert.Equal(t, "pong", resp["message"])

	resp = c.roundTrip(map[string]any{"request": "create_room"})
	assert.EqualValues(t, 1, resp["room_id"])

	resp = c.roundTrip(map[string]any{"request": "disconnect"})
	assert.Equal(t, "disconnecting", resp["message"])
}

// TestWSGateway_Match WebSocket 與 TCP 客戶端語意一致
func TestWSGateway_Match(t *testing.T) {
	url := newWSServer(t)

	alice := dialWS(t, url)
	resp := alice.roundTrip(map[string]any{"username": "alice", "user_id": 1, "room_id": 1})
	require.Equal(t, "connected", resp["status"])

	bob := dialWS(t, url)
	resp = bob.roundTrip(map[string]any{"username": "bob", "user_id": 2, "room_id": 1})
	require.Equal(t, "connected", resp["status"])

	resp = alice.roundTrip(map[string]any{"request": "ship_locked", "grid": fleetGrid()})
	assert.Equal(t, "ok", resp["message"])
	resp = bob.roundTrip(map[string]any{"request": "ship_locked", "grid": fleetGrid()})
	assert.Equal(t, "ok", resp["message"])

	resp = alice.roundTrip(map[string]any{"request": "attack_tile", "position": []int{0, 0}})
	assert.Equal(t, "battleship", resp["attacked"])

	resp = bob.roundTrip(map[string]any{"request": "game_status"})
	assert.Equal(t, "battle", resp["game_status"])
}
