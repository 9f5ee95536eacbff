package internal_test

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/battleship-server/internal"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestRegistry_AllocateRoomID 測試房號分配的單調性
func TestRegistry_AllocateRoomID(t *testing.T) {
	reg := internal.NewRegistry(testLogger())

	first := reg.AllocateRoomID()
	second := reg.AllocateRoomID()

	assert.Equal(t, first+1, second)

	// 分配只給號碼，不創建房間
	_, exists := reg.GetRoom(first)
	assert.False(t, exists)
	assert.Equal(t, 0, reg.RoomCount())
}

// TestRegistry_GetOrCreateRoom 測試房間創建與滿房拒絕
func TestRegistry_GetOrCreateRoom(t *testing.T) {
	t.Run("creates room with first joiner as host", func(t *testing.T) {
		reg := internal.NewRegistry(testLogger())

		room, err := reg.GetOrCreateRoom(1, "alice")
		require.NoError(t, err)
		assert.Equal(t, 1, room.ID)
		assert.Equal(t, "alice", room.HostName)
		assert.Equal(t, 1, reg.RoomCount())
	})

	t.Run("returns same room on second call", func(t *testing.T) {
		reg := internal.NewRegistry(testLogger())

		room1, err := reg.GetOrCreateRoom(1, "alice")
		require.NoError(t, err)
		require.NoError(t, room1.AddParticipant("alice", 1))

		room2, err := reg.GetOrCreateRoom(1, "bob")
		require.NoError(t, err)
		assert.Same(t, room1, room2)
	})

	t.Run("full room rejected", func(t *testing.T) {
		reg := internal.NewRegistry(testLogger())

		room, err := reg.GetOrCreateRoom(1, "alice")
		require.NoError(t, err)
		require.NoError(t, room.AddParticipant("alice", 1))
		require.NoError(t, room.AddParticipant("bob", 2))

		_, err = reg.GetOrCreateRoom(1, "carol")
		require.ErrorIs(t, err, internal.ErrRoomFull)
	})

	t.Run("manual id advances allocator", func(t *testing.T) {
		reg := internal.NewRegistry(testLogger())

		_, err := reg.GetOrCreateRoom(42, "alice")
		require.NoError(t, err)

		// 之後分配的號碼不得與手動指定的 ID 相撞
		assert.Equal(t, 43, reg.AllocateRoomID())
	})
}

// TestRegistry_DetachParticipant 測試離房清理與房號不重用
func TestRegistry_DetachParticipant(t *testing.T) {
	reg := internal.NewRegistry(testLogger())

	room, err := reg.GetOrCreateRoom(1, "alice")
	require.NoError(t, err)
	require.NoError(t, room.AddParticipant("alice", 1))
	require.NoError(t, room.AddParticipant("bob", 2))

	reg.DetachParticipant(1, "alice")
	assert.Equal(t, 1, reg.RoomCount())

	// 最後一人離開即銷毀
	reg.DetachParticipant(1, "bob")
	assert.Equal(t, 0, reg.RoomCount())
	_, exists := reg.GetRoom(1)
	assert.False(t, exists)

	// 銷毀後的房號不重用
	assert.Equal(t, 2, reg.AllocateRoomID())
}

// TestRegistry_ListJoinableRooms 測試可加入房間列表
func TestRegistry_ListJoinableRooms(t *testing.T) {
	reg := internal.NewRegistry(testLogger())

	open, err := reg.GetOrCreateRoom(1, "alice")
	require.NoError(t, err)
	require.NoError(t, open.AddParticipant("alice", 1))

	full, err := reg.GetOrCreateRoom(2, "carol")
	require.NoError(t, err)
	require.NoError(t, full.AddParticipant("carol", 3))
	require.NoError(t, full.AddParticipant("dave", 4))

	rooms := reg.ListJoinableRooms()
	require.Len(t, rooms, 1)
	assert.Equal(t, 1, rooms[0].ID)
	assert.Equal(t, "alice", rooms[0].HostUsername)
	assert.Equal(t, 1, rooms[0].CurrentPlayers)
	assert.Equal(t, internal.MaxParticipants, rooms[0].MaxPlayers)
}

// TestRegistry_Stats 測試診斷統計
func TestRegistry_Stats(t *testing.T) {
	reg := internal.NewRegistry(testLogger())

	room, err := reg.GetOrCreateRoom(1, "alice")
	require.NoError(t, err)
	require.NoError(t, room.AddParticipant("alice", 1))

	stats := reg.Stats()
	assert.Equal(t, 1, stats["total_rooms"])
	assert.Equal(t, 1, stats["total_players"])
	assert.Equal(t, 0, stats["lobby_clients"])
}
