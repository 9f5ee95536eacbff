package internal_test

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/battleship-server/internal"
)

// newTestServer 在隨機埠口啟動完整伺服器，測試結束時自動停止
func newTestServer(t *testing.T) string {
	t.Helper()

	logger := testLogger()
	registry := internal.NewRegistry(logger)
	handler := internal.NewHandler(registry, internal.NewMemoryHistory(), internal.NewMemoryAuthenticator(), logger)
	server := internal.NewServer(handler, registry, logger)

	require.NoError(t, server.Start("127.0.0.1:0"))
	t.Cleanup(server.Stop)

	return server.Addr().String()
}

// testClient 走真實 TCP 的測試客戶端
type testClient struct {
	t    *testing.T
	conn net.Conn
}

func dialServer(t *testing.T, addr string) *testClient {
	t.Helper()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return &testClient{t: t, conn: conn}
}

func (c *testClient) send(payload any) {
	c.t.Helper()

	frame, err := internal.EncodeFrame(payload)
	require.NoError(c.t, err)
	_, err = c.conn.Write(frame)
	require.NoError(c.t, err)
}

func (c *testClient) recv() internal.Response {
	c.t.Helper()

	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(3*time.Second)))

	frame := make([]byte, internal.FrameSize)
	_, err := io.ReadFull(c.conn, frame)
	require.NoError(c.t, err)

	var resp internal.Response
	require.NoError(c.t, internal.DecodeFrame(frame, &resp))
	return resp
}

// roundTrip 送出一個請求並讀回恰好一個回應
func (c *testClient) roundTrip(payload any) internal.Response {
	c.t.Helper()

	c.send(payload)
	return c.recv()
}

// joinRoom 以玩家身分進房並驗證握手回應
func joinRoom(t *testing.T, addr, username string, userID, roomID int) *testClient {
	t.Helper()

	c := dialServer(t, addr)
	resp := c.roundTrip(map[string]any{
		"username": username,
		"user_id":  userID,
		"room_id":  roomID,
	})
	require.Equal(t, "connected", resp["status"])
	require.EqualValues(t, roomID, resp["room_id"])
	return c
}

// TestServer_FullMatch 端到端：兩位玩家從進房打到終局
func TestServer_FullMatch(t *testing.T) {
	addr := newTestServer(t)

	alice := joinRoom(t, addr, "alice", 1, 1)
	bob := joinRoom(t, addr, "bob", 2, 1)

	// 第二人進房後進入佈局階段
	resp := alice.roundTrip(map[string]any{"request": "game_status"})
	assert.Equal(t, "ship_lock", resp["game_status"])

	// 雙方鎖定佈局
	resp = alice.roundTrip(map[string]any{"request": "ship_locked", "grid": fleetGrid()})
	assert.Equal(t, "ok", resp["message"])
	resp = bob.roundTrip(map[string]any{"request": "ship_locked", "grid": fleetGrid()})
	assert.Equal(t, "ok", resp["message"])

	resp = alice.roundTrip(map[string]any{"request": "game_status"})
	assert.Equal(t, "battle", resp["game_status"])

	// 先加入者先手
	resp = alice.roundTrip(map[string]any{"request": "game_data"})
	aliceEntry, ok := resp["alice"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, aliceEntry["my_turn"])

	// 未輪到 bob，攻擊被拒
	resp = bob.roundTrip(map[string]any{"request": "attack_tile", "position": []int{0, 0}})
	assert.Contains(t, resp, "error")

	// alice 命中並保留回合
	resp = alice.roundTrip(map[string]any{"request": "attack_tile", "position": []int{0, 0}})
	assert.Equal(t, "battleship", resp["attacked"])

	// alice 未中換手
	resp = alice.roundTrip(map[string]any{"request": "attack_tile", "position": []int{9, 9}})
	assert.Nil(t, resp["attacked"])

	// bob 接手攻擊
	resp = bob.roundTrip(map[string]any{"request": "attack_tile", "position": []int{0, 1}})
	assert.Equal(t, "cruiser", resp["attacked"])

	// bob 連續逾時三次即判負
	resp = bob.roundTrip(map[string]any{"request": "timeout"})
	assert.Equal(t, "turn_ended", resp["message"])
	assert.EqualValues(t, 1, resp["timeout_count"])

	resp = bob.roundTrip(map[string]any{"request": "timeout"})
	assert.Equal(t, "turn_ended", resp["message"])

	resp = bob.roundTrip(map[string]any{"request": "timeout"})
	assert.Equal(t, "game_over_timeout", resp["message"])
	assert.EqualValues(t, 3, resp["timeout_count"])

	resp = alice.roundTrip(map[string]any{"request": "winner"})
	assert.Equal(t, "alice", resp["winner"])

	resp = alice.roundTrip(map[string]any{"request": "game_status"})
	assert.Equal(t, "finished", resp["game_status"])

	// 雙方明確斷線
	resp = alice.roundTrip(map[string]any{"request": "disconnect"})
	assert.Equal(t, "disconnecting", resp["message"])
	resp = bob.roundTrip(map[string]any{"request": "disconnect"})
	assert.Equal(t, "disconnecting", resp["message"])
}

// TestServer_QuitForfeits 端到端：對戰中退出即棄權
func TestServer_QuitForfeits(t *testing.T) {
	addr := newTestServer(t)

	alice := joinRoom(t, addr, "alice", 1, 1)
	bob := joinRoom(t, addr, "bob", 2, 1)

	alice.roundTrip(map[string]any{"request": "ship_locked", "grid": fleetGrid()})
	bob.roundTrip(map[string]any{"request": "ship_locked", "grid": fleetGrid()})

	resp := bob.roundTrip(map[string]any{"request": "player_quit"})
	assert.Equal(t, "quit_acknowledged", resp["message"])

	resp = alice.roundTrip(map[string]any{"request": "winner"})
	assert.Equal(t, "alice", resp["winner"])
}

// TestServer_RoomFull 端到端：第三位玩家被拒且連線不中斷其他人
func TestServer_RoomFull(t *testing.T) {
	addr := newTestServer(t)

	alice := joinRoom(t, addr, "alice", 1, 1)
	_ = joinRoom(t, addr, "bob", 2, 1)

	carol := dialServer(t, addr)
	resp := carol.roundTrip(map[string]any{"username": "carol", "user_id": 3, "room_id": 1})
	assert.Contains(t, resp, "error")

	// 房內玩家不受影響
	resp = alice.roundTrip(map[string]any{"request": "game_status"})
	assert.Equal(t, "ship_lock", resp["game_status"])
}

// TestServer_Lobby 端到端：大廳請求
func TestServer_Lobby(t *testing.T) {
	addr := newTestServer(t)

	lobby := dialServer(t, addr)
	resp := lobby.roundTrip(map[string]any{"username": "alice"})
	require.Equal(t, "connected", resp["status"])
	assert.Equal(t, "lobby", resp["mode"])

	t.Run("ping", func(t *testing.T) {
		resp := lobby.roundTrip(map[string]any{"request": "ping"})
		assert.Equal(t, "pong", resp["message"])
	})

	t.Run("create_room allocates id", func(t *testing.T) {
		resp := lobby.roundTrip(map[string]any{"request": "create_room"})
		assert.EqualValues(t, 1, resp["room_id"])
	})

	t.Run("get_rooms lists joinable", func(t *testing.T) {
		// 分配過號碼但還沒人進房
		resp := lobby.roundTrip(map[string]any{"request": "get_rooms"})
		rooms, ok := resp["rooms"].([]any)
		require.True(t, ok)
		assert.Empty(t, rooms)

		// host 進房後大廳可見
		_ = joinRoom(t, addr, "host", 9, 1)

		resp = lobby.roundTrip(map[string]any{"request": "get_rooms"})
		rooms, ok = resp["rooms"].([]any)
		require.True(t, ok)
		require.Len(t, rooms, 1)

		room, ok := rooms[0].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "host", room["host_username"])
		assert.EqualValues(t, 1, room["current_players"])
	})

	t.Run("unknown request acknowledged", func(t *testing.T) {
		resp := lobby.roundTrip(map[string]any{"request": "something_else"})
		assert.Equal(t, "ok", resp["message"])
	})

	t.Run("disconnect ends session", func(t *testing.T) {
		resp := lobby.roundTrip(map[string]any{"request": "disconnect"})
		assert.Equal(t, "disconnecting", resp["message"])
	})
}

// TestServer_HistoryDelegation 端到端：統計請求委派給持久化協作者
func TestServer_HistoryDelegation(t *testing.T) {
	addr := newTestServer(t)

	lobby := dialServer(t, addr)
	resp := lobby.roundTrip(map[string]any{"username": "alice"})
	require.Equal(t, "connected", resp["status"])

	resp = lobby.roundTrip(map[string]any{
		"request": "save_game_history",
		"game_data": map[string]any{
			"user_id":           1,
			"username":          "alice",
			"opponent_username": "bob",
			"result":            "win",
			"ships_sunk":        5,
			"hits":              17,
			"misses":            3,
			"accuracy":          85.0,
			"max_streak":        4,
		},
	})
	assert.Equal(t, "saved", resp["message"])
	assert.Equal(t, true, resp["success"])

	resp = lobby.roundTrip(map[string]any{"request": "get_user_stats", "user_id": 1})
	stats, ok := resp["stats"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 1, stats["total_games"])
	assert.EqualValues(t, 1, stats["total_wins"])
	assert.EqualValues(t, 100, stats["win_rate"])

	resp = lobby.roundTrip(map[string]any{"request": "get_recent_games", "user_id": 1, "limit": 5})
	games, ok := resp["games"].([]any)
	require.True(t, ok)
	require.Len(t, games, 1)

	resp = lobby.roundTrip(map[string]any{"request": "get_win_streak", "user_id": 1})
	streak, ok := resp["streak"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 1, streak["current_streak"])

	resp = lobby.roundTrip(map[string]any{"request": "get_opponent_stats", "opponent_username": "alice"})
	assert.Equal(t, true, resp["success"])

	resp = lobby.roundTrip(map[string]any{"request": "get_opponent_stats", "opponent_username": "nobody"})
	assert.Equal(t, false, resp["success"])
}

// TestServer_Auth 端到端：驗證動作
func TestServer_Auth(t *testing.T) {
	addr := newTestServer(t)

	t.Run("register then login", func(t *testing.T) {
		c := dialServer(t, addr)
		resp := c.roundTrip(map[string]any{"action": "auth:register", "username": "alice", "password": "pw"})
		assert.Equal(t, true, resp["success"])

		// 驗證連線單次回應後即關閉，重新連線登入
		c = dialServer(t, addr)
		resp = c.roundTrip(map[string]any{"action": "auth:login", "username": "alice", "password": "pw"})
		require.Equal(t, true, resp["success"])
		user, ok := resp["user"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "alice", user["username"])
	})

	t.Run("duplicate login rejected", func(t *testing.T) {
		c := dialServer(t, addr)
		resp := c.roundTrip(map[string]any{"action": "auth:login", "username": "alice", "password": "pw"})
		assert.Equal(t, false, resp["success"])
	})

	t.Run("wrong password rejected", func(t *testing.T) {
		c := dialServer(t, addr)
		resp := c.roundTrip(map[string]any{"action": "auth:login", "username": "alice", "password": "nope"})
		assert.Equal(t, false, resp["success"])
	})

	t.Run("logout frees the account", func(t *testing.T) {
		c := dialServer(t, addr)
		resp := c.roundTrip(map[string]any{"action": "auth:logout", "user_id": 1})
		assert.Equal(t, true, resp["success"])

		c = dialServer(t, addr)
		resp = c.roundTrip(map[string]any{"action": "auth:login", "username": "alice", "password": "pw"})
		assert.Equal(t, true, resp["success"])
	})
}
