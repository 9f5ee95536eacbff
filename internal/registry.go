package internal

import (
	"fmt"
	"log/slog"
	"sync"
)

// Registry 會話註冊表
//
// 兩層鎖粒度：
//   - 註冊表級 RWMutex 只保護房間表、大廳表與 ID 計數器的插入/移除/查找，
//     持鎖時間極短
//   - 房間內部狀態由各房自己的鎖保護，併發房間之間永不爭用
//
// 絕不使用單一行程級大鎖罩住所有房間，否則跨房併發性就沒了。
type Registry struct {
	mu         sync.RWMutex
	rooms      map[int]*Room        // roomID -> Room；註冊表獨占持有房間生命週期
	lobby      map[string]FrameConn // username -> 尚未進房的大廳連線
	nextRoomID int                  // 單調遞增；房間銷毀後 ID 也不重用
	logger     *slog.Logger
}

// RoomSummary 可加入房間的列表項
type RoomSummary struct {
	ID             int    `json:"id"`
	RoomName       string `json:"room_name"`
	HostUsername   string `json:"host_username"`
	CurrentPlayers int    `json:"current_players"`
	MaxPlayers     int    `json:"max_players"`
}

// NewRegistry 創建會話註冊表
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		rooms:      make(map[int]*Room),
		lobby:      make(map[string]FrameConn),
		nextRoomID: 1,
		logger:     logger,
	}
}

// AllocateRoomID 分配新的房間 ID（create_room 請求）
//
// 只分配號碼，不創建房間；房間在第一個以該 ID 連入的玩家到達時才建立。
func (reg *Registry) AllocateRoomID() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	id := reg.nextRoomID
	reg.nextRoomID++
	return id
}

// GetOrCreateRoom 取得或創建指定 ID 的房間
//
// 房間已滿（2 人）時回傳 ErrRoomFull。創建時房主為第一個連入者。
func (reg *Registry) GetOrCreateRoom(roomID int, username string) (*Room, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if room, exists := reg.rooms[roomID]; exists {
		if room.ParticipantCount() >= MaxParticipants {
			return nil, ErrRoomFull
		}
		return room, nil
	}

	room := NewRoom(roomID, fmt.Sprintf("Room %d", roomID), username)
	reg.rooms[roomID] = room

	// ID 計數器永不走回頭路，手動指定的大 ID 也不會被重用
	if roomID >= reg.nextRoomID {
		reg.nextRoomID = roomID + 1
	}

	reg.logger.Info("房間已創建", "room_id", roomID, "host", username)
	return room, nil
}

// GetRoom 查找房間
func (reg *Registry) GetRoom(roomID int) (*Room, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	room, exists := reg.rooms[roomID]
	return room, exists
}

// RemoveIfEmpty 房間人數歸零時將其自註冊表移除
func (reg *Registry) RemoveIfEmpty(roomID int) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	room, exists := reg.rooms[roomID]
	if !exists || !room.IsEmpty() {
		return
	}

	delete(reg.rooms, roomID)
	reg.logger.Info("空房間已移除", "room_id", roomID)
}

// DetachParticipant 玩家離開房間的統一清理路徑
//
// 房間內部會評估棄權規則（對戰中離開 → 對手獲勝）；
// 人去樓空的房間隨即自註冊表銷毀。
func (reg *Registry) DetachParticipant(roomID int, username string) {
	room, exists := reg.GetRoom(roomID)
	if !exists {
		return
	}

	room.RemoveParticipant(username)
	reg.RemoveIfEmpty(roomID)
}

// RegisterLobby 登記大廳連線
func (reg *Registry) RegisterLobby(username string, conn FrameConn) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.lobby[username] = conn
}

// UnregisterLobby 移除大廳連線
func (reg *Registry) UnregisterLobby(username string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.lobby, username)
}

// ListJoinableRooms 列出尚有空位的房間
func (reg *Registry) ListJoinableRooms() []RoomSummary {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	summaries := make([]RoomSummary, 0, len(reg.rooms))
	for id, room := range reg.rooms {
		count := room.ParticipantCount()
		if count >= MaxParticipants {
			continue
		}
		summaries = append(summaries, RoomSummary{
			ID:             id,
			RoomName:       room.Name,
			HostUsername:   room.HostName,
			CurrentPlayers: count,
			MaxPlayers:     MaxParticipants,
		})
	}
	return summaries
}

// RoomCount 活躍房間數
func (reg *Registry) RoomCount() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rooms)
}

// ClientCount 已連線客戶端總數（房間內 + 大廳）
func (reg *Registry) ClientCount() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	total := len(reg.lobby)
	for _, room := range reg.rooms {
		total += room.ParticipantCount()
	}
	return total
}

// Stats 診斷用統計資訊
func (reg *Registry) Stats() map[string]any {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	statusCount := make(map[RoomStatus]int)
	totalPlayers := 0
	for _, room := range reg.rooms {
		statusCount[room.Status()]++
		totalPlayers += room.ParticipantCount()
	}

	return map[string]any{
		"total_rooms":   len(reg.rooms),
		"total_players": totalPlayers,
		"lobby_clients": len(reg.lobby),
		"by_status":     statusCount,
	}
}
