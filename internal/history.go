package internal

import (
	"context"
	"sync"
	"time"
)

// 對戰歷史/統計是外部協作者：大廳請求原封不動委派給 HistoryStore，
// 結果不加工直接回給客戶端。這裡是邊界介面與記憶體實作；
// Redis 與 PostgreSQL 實作見 history_redis.go / history_postgres.go。

// GameRecord 一場對戰的單方結算資料（每場存兩筆，一人一筆）
type GameRecord struct {
	UserID           int     `json:"user_id"`
	Username         string  `json:"username"`
	OpponentUsername string  `json:"opponent_username"`
	Result           string  `json:"result"` // "win" 或 "lose"
	ShipsSunk        int     `json:"ships_sunk"`
	EnemyShipsSunk   int     `json:"enemy_ships_sunk"`
	Hits             int     `json:"hits"`
	Misses           int     `json:"misses"`
	Accuracy         float64 `json:"accuracy"`
	MaxStreak        int     `json:"max_streak"`

	// 對方的統計一併回報但不持久化，保留欄位以維持酬載相容
	EnemyHits      int     `json:"enemy_hits"`
	EnemyMisses    int     `json:"enemy_misses"`
	EnemyAccuracy  float64 `json:"enemy_accuracy"`
	EnemyMaxStreak int     `json:"enemy_max_streak"`
}

// UserStats 玩家的彙總統計
type UserStats struct {
	TotalGames     int     `json:"total_games"`
	TotalWins      int     `json:"total_wins"`
	TotalLosses    int     `json:"total_losses"`
	WinRate        float64 `json:"win_rate"`
	TotalShipsSunk int     `json:"total_ships_sunk"`
	TotalHits      int     `json:"total_hits"`
	TotalMisses    int     `json:"total_misses"`
	AvgAccuracy    float64 `json:"avg_accuracy"`
	BestStreak     int     `json:"best_streak"`

	// 僅 UserStatsByName 填入（對手資訊面板用）
	CurrentStreak int `json:"current_streak,omitempty"`
}

// RecentGame 近期對戰列表項
type RecentGame struct {
	OpponentUsername string  `json:"opponent_username"`
	Result           string  `json:"result"`
	ShipsSunk        int     `json:"ships_sunk"`
	Hits             int     `json:"hits"`
	Misses           int     `json:"misses"`
	Accuracy         float64 `json:"accuracy"`
	MaxStreak        int     `json:"max_streak"`
	PlayedAt         string  `json:"played_at"` // ISO 8601
}

// WinStreak 連勝統計
type WinStreak struct {
	CurrentStreak int `json:"current_streak"`
	LongestStreak int `json:"longest_streak"`
}

// HistoryStore 對戰歷史協作者的邊界介面
type HistoryStore interface {
	// SaveGame 持久化一筆單方結算
	SaveGame(ctx context.Context, rec *GameRecord) error

	// UserStats 玩家彙總統計；沒有任何對戰時回傳 (nil, nil)
	UserStats(ctx context.Context, userID int) (*UserStats, error)

	// UserStatsByName 依名稱查詢彙總統計（含當前連勝）；查無回傳 (nil, nil)
	UserStatsByName(ctx context.Context, username string) (*UserStats, error)

	// RecentGames 近期對戰，最新在前
	RecentGames(ctx context.Context, userID, limit int) ([]RecentGame, error)

	// WinStreak 當前連勝與最長連勝
	WinStreak(ctx context.Context, userID int) (*WinStreak, error)
}

type memoryGame struct {
	rec      GameRecord
	playedAt time.Time
}

// MemoryHistory 記憶體歷史儲存；測試與未接後端時的預設實作
type MemoryHistory struct {
	mu    sync.RWMutex
	games map[int][]memoryGame // userID -> 依時間序的對戰
	names map[string]int       // username -> userID（依最近一次回報）
}

// NewMemoryHistory 創建記憶體歷史儲存
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{
		games: make(map[int][]memoryGame),
		names: make(map[string]int),
	}
}

func (s *MemoryHistory) SaveGame(_ context.Context, rec *GameRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.games[rec.UserID] = append(s.games[rec.UserID], memoryGame{rec: *rec, playedAt: time.Now()})
	s.names[rec.Username] = rec.UserID
	return nil
}

func (s *MemoryHistory) UserStats(_ context.Context, userID int) (*UserStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statsLocked(userID), nil
}

func (s *MemoryHistory) UserStatsByName(_ context.Context, username string) (*UserStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	userID, exists := s.names[username]
	if !exists {
		return nil, nil
	}

	stats := s.statsLocked(userID)
	if stats == nil {
		return nil, nil
	}

	streak := s.streakLocked(userID)
	stats.CurrentStreak = streak.CurrentStreak
	return stats, nil
}

func (s *MemoryHistory) RecentGames(_ context.Context, userID, limit int) ([]RecentGame, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	games := s.games[userID]
	if limit <= 0 {
		limit = 10
	}

	recent := make([]RecentGame, 0, limit)
	for i := len(games) - 1; i >= 0 && len(recent) < limit; i-- {
		g := games[i]
		recent = append(recent, RecentGame{
			OpponentUsername: g.rec.OpponentUsername,
			Result:           g.rec.Result,
			ShipsSunk:        g.rec.ShipsSunk,
			Hits:             g.rec.Hits,
			Misses:           g.rec.Misses,
			Accuracy:         g.rec.Accuracy,
			MaxStreak:        g.rec.MaxStreak,
			PlayedAt:         g.playedAt.Format(time.RFC3339),
		})
	}
	return recent, nil
}

func (s *MemoryHistory) WinStreak(_ context.Context, userID int) (*WinStreak, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streakLocked(userID), nil
}

// statsLocked 彙總統計；呼叫者必須持有鎖
func (s *MemoryHistory) statsLocked(userID int) *UserStats {
	games := s.games[userID]
	if len(games) == 0 {
		return nil
	}

	stats := &UserStats{TotalGames: len(games)}
	accuracySum := 0.0
	for _, g := range games {
		if g.rec.Result == "win" {
			stats.TotalWins++
		} else {
			stats.TotalLosses++
		}
		stats.TotalShipsSunk += g.rec.ShipsSunk
		stats.TotalHits += g.rec.Hits
		stats.TotalMisses += g.rec.Misses
		accuracySum += g.rec.Accuracy
		if g.rec.MaxStreak > stats.BestStreak {
			stats.BestStreak = g.rec.MaxStreak
		}
	}
	stats.WinRate = round2(float64(stats.TotalWins) * 100.0 / float64(stats.TotalGames))
	stats.AvgAccuracy = round2(accuracySum / float64(stats.TotalGames))
	return stats
}

// streakLocked 連勝計算；呼叫者必須持有鎖
//
// current：從最新一場往回數連續 win，遇 lose 即停
// longest：全序列中最長的連續 win
func (s *MemoryHistory) streakLocked(userID int) *WinStreak {
	games := s.games[userID]
	streak := &WinStreak{}

	for i := len(games) - 1; i >= 0; i-- {
		if games[i].rec.Result != "win" {
			break
		}
		streak.CurrentStreak++
	}

	run := 0
	for _, g := range games {
		if g.rec.Result == "win" {
			run++
			if run > streak.LongestStreak {
				streak.LongestStreak = run
			}
		} else {
			run = 0
		}
	}
	return streak
}

// round2 四捨五入到小數兩位（與資料庫端的 ROUND(x, 2) 對齊）
func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}
