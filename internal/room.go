package internal

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// 系統設計問題：
//   如何讓一個房間在兩個併發寫入者（雙方玩家的連線 goroutine）之下，
//   維持回合制對戰的狀態機不變量？
//
// 核心挑戰：
//   1. 狀態管理：固定生命週期 waiting → ship_lock → battle → finished
//   2. 原子性：攻擊解算與回合切換必須同時生效，不能被觀察到半更新狀態
//   3. 勝負判定：兩個同時到達的請求不能都認為自己是致勝一擊
//   4. 斷線處理：對戰中斷線即棄權，對手立即獲勝
//
// 設計方案：
//   ✅ 每房一把 RWMutex - 房間之間互不爭用
//   ✅ 鎖內完成攻擊＋回合＋勝負 - 單次取鎖的原子區段
//   ✅ 超時鏈的勝負判定移出鎖外 - 以已讀出的值決定，避免自我死鎖

// RoomStatus 房間狀態
//
// 有限狀態機：
//
//	waiting → ship_lock → battle → finished
//
// 狀態轉換規則：
//   - waiting → ship_lock：第二位玩家加入的瞬間
//   - ship_lock → battle：雙方都鎖定佈局之後
//   - battle → finished：winner 被設定的瞬間
//   - finished 為終態：只接受唯讀查詢與斷線
type RoomStatus string

const (
	StatusWaiting  RoomStatus = "waiting"   // 等待第二位玩家
	StatusShipLock RoomStatus = "ship_lock" // 佈局鎖定階段
	StatusBattle   RoomStatus = "battle"    // 回合制對戰
	StatusFinished RoomStatus = "finished"  // 勝負已定
)

const (
	// GridSize 佈局棋盤邊長
	GridSize = 10

	// MaxParticipants 每房人數上限
	MaxParticipants = 2

	// hitMark 被擊中格子的標記
	hitMark = "X"
)

// ShipNames 五種棋子的識別名；全數擊沉即獲勝
var ShipNames = []string{"battleship", "cruiser", "destroyer1", "destroyer2", "plane"}

// 房間層錯誤
var (
	// ErrRoomFull 第三個加入請求被拒絕
	ErrRoomFull = errors.New("房間已滿")

	// ErrInvalidState 操作在當前狀態不合法；以回應形式回給客戶端，不中斷連線
	ErrInvalidState = errors.New("當前狀態不允許此操作")
)

// AttackRecord 最近一次攻擊的結果，供對手輪詢同步畫面
type AttackRecord struct {
	ShipName *string   `json:"ship_name"`
	Position *Position `json:"position"`
}

// Participant 房間內單一玩家的私有狀態，由所屬房間獨占持有
type Participant struct {
	Username string
	UserID   int

	grid         Grid              // 鎖定後不可變；nil 表示尚未鎖定
	shipLocked   bool
	hasTurn      bool              // battle 開始後恰好一人為 true
	timeoutCount int               // 0–3；達 3 即敗北
	sunkCount    int               // 擊沉的敵方棋子數；達 len(ShipNames) 即獲勝
	lastAttack   AttackRecord      // 此玩家最近發出的攻擊結果
	pendingSunk  string            // 待確認的擊沉通知；"" 表示無
	shots        map[Position]bool // 此玩家已攻擊過的敵方座標
	joinedAt     time.Time
}

// Room 一場獨立的雙人對戰
type Room struct {
	ID       int
	Name     string
	HostName string

	mu           sync.RWMutex
	status       RoomStatus
	winner       string // "" 表示尚無勝者；設定後不可變
	participants map[string]*Participant
	order        []string // 加入順序；order[0] 在 battle 開始時持有回合
	createdAt    time.Time
}

// NewRoom 創建新房間；房間 ID 由註冊表分配，生命週期內不變
func NewRoom(id int, name, hostUsername string) *Room {
	return &Room{
		ID:           id,
		Name:         name,
		HostName:     hostUsername,
		status:       StatusWaiting,
		participants: make(map[string]*Participant),
		createdAt:    time.Now(),
	}
}

// AddParticipant 加入玩家
//
// 第二位玩家加入的瞬間，狀態轉換為 ship_lock。
// 回合歸屬由加入順序決定：先加入者在 battle 開始時先手，之後不再重新推導。
func (r *Room) AddParticipant(username string, userID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.participants) >= MaxParticipants {
		return ErrRoomFull
	}

	if _, exists := r.participants[username]; exists {
		return fmt.Errorf("%w: 玩家 %s 已在房間內", ErrInvalidState, username)
	}

	if r.status != StatusWaiting {
		return fmt.Errorf("%w: 房間狀態 %s 不允許加入", ErrInvalidState, r.status)
	}

	r.participants[username] = &Participant{
		Username: username,
		UserID:   userID,
		shots:    make(map[Position]bool),
		joinedAt: time.Now(),
	}
	r.order = append(r.order, username)

	if len(r.participants) == MaxParticipants {
		r.status = StatusShipLock
	}

	return nil
}

// RemoveParticipant 移除玩家（斷線或明確離開）
//
// 對戰中且尚無勝者時，留下的玩家立即獲勝（棄權規則）；
// 在 waiting/ship_lock 階段離開只是騰空房間，不記勝負。
func (r *Room) RemoveParticipant(username string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.participants[username]; !exists {
		return
	}

	if r.status == StatusBattle && r.winner == "" {
		if opponent := r.opponentOf(username); opponent != nil {
			r.winner = opponent.Username
			r.status = StatusFinished
		}
	}

	delete(r.participants, username)
	for i, name := range r.order {
		if name == username {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// LockPlacement 鎖定玩家的佈局棋盤
//
// 棋盤由外部佈局演算法產生且已驗證不重疊，這裡只檢查尺寸。
// 鎖定後不可變；雙方都鎖定時轉入 battle 並把回合交給先加入者。
func (r *Room) LockPlacement(username string, grid Grid) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.participants[username]
	if !exists {
		return fmt.Errorf("%w: 玩家不在房間內", ErrInvalidState)
	}

	if r.status != StatusShipLock {
		return fmt.Errorf("%w: 房間狀態 %s 不允許鎖定佈局", ErrInvalidState, r.status)
	}

	if p.shipLocked {
		return fmt.Errorf("%w: 佈局已鎖定", ErrInvalidState)
	}

	if len(grid) != GridSize {
		return fmt.Errorf("%w: 棋盤必須為 %d×%d", ErrInvalidState, GridSize, GridSize)
	}
	for _, row := range grid {
		if len(row) != GridSize {
			return fmt.Errorf("%w: 棋盤必須為 %d×%d", ErrInvalidState, GridSize, GridSize)
		}
	}

	p.grid = grid
	p.shipLocked = true

	// 雙方都鎖定 → 進入對戰，先加入者持有回合
	allLocked := len(r.participants) == MaxParticipants
	for _, other := range r.participants {
		if !other.shipLocked {
			allLocked = false
			break
		}
	}
	if allLocked {
		r.status = StatusBattle
		r.participants[r.order[0]].hasTurn = true
	}

	return nil
}

// Attack 解算一次攻擊
//
// 命中保留回合、未中換手是本協定的刻意規則（與嚴格輪替變體不同），
// 它改變了預期局長與公平性質，必須原樣保留。
//
// 整段解算（查格、標記、掃描擊沉、回合變更、勝負判定）在單次取鎖內完成，
// 兩個同時到達的請求不可能都成為致勝一擊。
func (r *Room) Attack(attacker string, pos Position) (*string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.participants[attacker]
	if !exists {
		return nil, fmt.Errorf("%w: 玩家不在房間內", ErrInvalidState)
	}

	if r.status != StatusBattle {
		return nil, fmt.Errorf("%w: 房間狀態 %s 不允許攻擊", ErrInvalidState, r.status)
	}

	if !p.hasTurn {
		return nil, fmt.Errorf("%w: 尚未輪到你", ErrInvalidState)
	}

	opponent := r.opponentOf(attacker)
	if opponent == nil || opponent.grid == nil {
		return nil, fmt.Errorf("%w: 對手不存在或尚未鎖定佈局", ErrInvalidState)
	}

	if pos.Col() < 0 || pos.Col() >= GridSize || pos.Row() < 0 || pos.Row() >= GridSize {
		return nil, fmt.Errorf("%w: 座標超出棋盤", ErrInvalidState)
	}

	if p.shots[pos] {
		return nil, fmt.Errorf("%w: 該格已攻擊過", ErrInvalidState)
	}
	p.shots[pos] = true

	cell := opponent.grid[pos.Row()][pos.Col()]

	var result *string
	if isShipName(cell) {
		// 命中：標記格子、掃描是否整艘擊沉、保留回合
		shipName := cell
		opponent.grid[pos.Row()][pos.Col()] = hitMark

		if !shipAlive(opponent.grid, shipName) {
			opponent.pendingSunk = shipName
			p.sunkCount++

			// 第五艘擊沉即終局；與攻擊解算同一原子區段
			if p.sunkCount >= len(ShipNames) {
				r.winner = attacker
				r.status = StatusFinished
			}
		}

		p.hasTurn = true
		opponent.hasTurn = false
		result = &shipName
	} else {
		// 未中：換手
		p.hasTurn = false
		opponent.hasTurn = true
	}

	p.lastAttack = AttackRecord{ShipName: result, Position: &pos}
	return result, nil
}

// ReportTimeout 記錄一次回合逾時
//
// 回傳累計次數；呼叫端在鎖外依據回傳值決定是否判負（見 Forfeit），
// 勝負判定不在此處重新取鎖，避免自我死鎖。
//
// 即使記錄上並非回報者的回合，回合仍強制換手——客戶端的逾時回報
// 視為權威。這可能是對回合狀態漂移的容錯，也可能是沿襲下來的缺陷；
// 兩端行為已相互依賴，原樣保留。
func (r *Room) ReportTimeout(username string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.participants[username]
	if !exists {
		return 0, fmt.Errorf("%w: 玩家不在房間內", ErrInvalidState)
	}

	if r.status != StatusBattle {
		return 0, fmt.Errorf("%w: 房間狀態 %s 不允許回報逾時", ErrInvalidState, r.status)
	}

	p.timeoutCount++

	p.hasTurn = false
	if opponent := r.opponentOf(username); opponent != nil {
		opponent.hasTurn = true
	}

	return p.timeoutCount, nil
}

// Forfeit 判 loser 敗北，對手獲勝
//
// 獨立的終局寫入步驟，供超時鏈與明確退出共用；
// 勝者一經設定不再改變。
func (r *Room) Forfeit(loser string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.winner != "" {
		return
	}

	opponent := r.opponentOf(loser)
	if opponent == nil {
		return
	}

	r.winner = opponent.Username
	r.status = StatusFinished
}

// Quit 處理明確的退出請求；僅對戰中視為棄權
func (r *Room) Quit(username string) {
	r.mu.RLock()
	inBattle := r.status == StatusBattle && r.winner == ""
	r.mu.RUnlock()

	if inBattle {
		r.Forfeit(username)
	}
}

// ClearSunkNotice 清除待確認的擊沉通知
//
// 通知在下一次輪詢時機會式送達，且必須由客戶端明確確認後清除——
// 這避免每次輪詢重複送達，代價是從不確認的客戶端會一直看到舊通知。
func (r *Room) ClearSunkNotice(username string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, exists := r.participants[username]; exists {
		p.pendingSunk = ""
	}
}

// Status 當前房間狀態
func (r *Room) Status() RoomStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// Winner 勝者名稱；尚無勝者時回傳 nil
func (r *Room) Winner() *string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.winner == "" {
		return nil
	}
	w := r.winner
	return &w
}

// HasTurn 查詢玩家是否持有回合
func (r *Room) HasTurn(username string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if p, exists := r.participants[username]; exists {
		return p.hasTurn
	}
	return false
}

// TimeoutCount 查詢玩家累計逾時次數
func (r *Room) TimeoutCount(username string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if p, exists := r.participants[username]; exists {
		return p.timeoutCount
	}
	return 0
}

// SunkCount 查詢玩家擊沉數
func (r *Room) SunkCount(username string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if p, exists := r.participants[username]; exists {
		return p.sunkCount
	}
	return 0
}

// PendingSunk 查詢玩家待確認的擊沉通知；"" 表示無
func (r *Room) PendingSunk(username string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if p, exists := r.participants[username]; exists {
		return p.pendingSunk
	}
	return ""
}

// GameData 所有玩家的逐玩家狀態，供客戶端每幀輪詢
func (r *Room) GameData() Response {
	r.mu.RLock()
	defer r.mu.RUnlock()

	data := make(Response, len(r.participants))
	for name, p := range r.participants {
		entry := map[string]any{
			"user_id":       p.UserID,
			"attacked_tile": p.lastAttack,
			"sinked_ships":  p.sunkCount,
			"ship_locked":   p.shipLocked,
			"my_turn":       p.hasTurn,
			"timeout_count": p.timeoutCount,
		}
		if p.pendingSunk != "" {
			entry["ship_sunk"] = p.pendingSunk
		}
		data[name] = entry
	}
	return data
}

// ParticipantCount 房間內人數
func (r *Room) ParticipantCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants)
}

// IsEmpty 房間是否已空
func (r *Room) IsEmpty() bool {
	return r.ParticipantCount() == 0
}

// opponentOf 找出 username 的對手；呼叫者必須持有鎖
func (r *Room) opponentOf(username string) *Participant {
	for name, p := range r.participants {
		if name != username {
			return p
		}
	}
	return nil
}

// shipAlive 掃描整個棋盤檢查該棋子是否仍有存活格
func shipAlive(grid Grid, shipName string) bool {
	for _, row := range grid {
		for _, cell := range row {
			if cell == shipName {
				return true
			}
		}
	}
	return false
}

// isShipName 檢查格子內容是否為合法棋子識別名
func isShipName(cell string) bool {
	for _, name := range ShipNames {
		if cell == name {
			return true
		}
	}
	return false
}
