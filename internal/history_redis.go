package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisHistory Redis 歷史儲存
//
// 資料佈局：
//   - stats:{userID}    hash，累計欄位（場次、勝負、擊沉、命中、精度總和、連勝）
//   - games:{userID}    list，近期對戰的 JSON，最新在前，保留最近 100 場
//   - username:{name}   string，username -> userID 反查
type RedisHistory struct {
	client *redis.Client
}

const recentGamesKept = 100

// streakScript 用 Lua 原子更新連勝欄位：
// 勝場遞增 current_streak 並推進 longest_streak，敗場歸零 current_streak。
// 分開的 HGET/HSET 在兩場對戰同時結算時會互相覆寫，所以必須進腳本。
var streakScript = redis.NewScript(`
	local key = KEYS[1]
	local result = ARGV[1]
	if result == 'win' then
		local current = redis.call('HINCRBY', key, 'current_streak', 1)
		local longest = tonumber(redis.call('HGET', key, 'longest_streak') or '0')
		if current > longest then
			redis.call('HSET', key, 'longest_streak', current)
		end
		return current
	end
	redis.call('HSET', key, 'current_streak', 0)
	return 0
`)

// NewRedisHistory 創建 Redis 歷史儲存
func NewRedisHistory(client *redis.Client) *RedisHistory {
	return &RedisHistory{client: client}
}

func (s *RedisHistory) statsKey(userID int) string {
	return fmt.Sprintf("battleship:stats:%d", userID)
}

func (s *RedisHistory) gamesKey(userID int) string {
	return fmt.Sprintf("battleship:games:%d", userID)
}

func (s *RedisHistory) nameKey(username string) string {
	return "battleship:username:" + username
}

func (s *RedisHistory) SaveGame(ctx context.Context, rec *GameRecord) error {
	statsKey := s.statsKey(rec.UserID)

	wins, losses := 0, 0
	if rec.Result == "win" {
		wins = 1
	} else {
		losses = 1
	}

	recent := RecentGame{
		OpponentUsername: rec.OpponentUsername,
		Result:           rec.Result,
		ShipsSunk:        rec.ShipsSunk,
		Hits:             rec.Hits,
		Misses:           rec.Misses,
		Accuracy:         rec.Accuracy,
		MaxStreak:        rec.MaxStreak,
		PlayedAt:         time.Now().Format(time.RFC3339),
	}
	payload, err := json.Marshal(recent)
	if err != nil {
		return fmt.Errorf("序列化對戰紀錄失敗: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.HIncrBy(ctx, statsKey, "total_games", 1)
	pipe.HIncrBy(ctx, statsKey, "total_wins", int64(wins))
	pipe.HIncrBy(ctx, statsKey, "total_losses", int64(losses))
	pipe.HIncrBy(ctx, statsKey, "total_ships_sunk", int64(rec.ShipsSunk))
	pipe.HIncrBy(ctx, statsKey, "total_hits", int64(rec.Hits))
	pipe.HIncrBy(ctx, statsKey, "total_misses", int64(rec.Misses))
	pipe.HIncrByFloat(ctx, statsKey, "accuracy_sum", rec.Accuracy)
	pipe.LPush(ctx, s.gamesKey(rec.UserID), payload)
	pipe.LTrim(ctx, s.gamesKey(rec.UserID), 0, recentGamesKept-1)
	pipe.Set(ctx, s.nameKey(rec.Username), rec.UserID, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("寫入對戰統計失敗: %w", err)
	}

	if _, err := streakScript.Run(ctx, s.client, []string{statsKey}, rec.Result).Result(); err != nil {
		return fmt.Errorf("更新連勝統計失敗: %w", err)
	}

	// best_streak 取歷史最大的單場連擊
	best, err := s.client.HGet(ctx, statsKey, "best_streak").Int()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("讀取連擊統計失敗: %w", err)
	}
	if rec.MaxStreak > best {
		if err := s.client.HSet(ctx, statsKey, "best_streak", rec.MaxStreak).Err(); err != nil {
			return fmt.Errorf("更新連擊統計失敗: %w", err)
		}
	}

	return nil
}

func (s *RedisHistory) UserStats(ctx context.Context, userID int) (*UserStats, error) {
	fields, err := s.client.HGetAll(ctx, s.statsKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("讀取玩家統計失敗: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return statsFromFields(fields), nil
}

func (s *RedisHistory) UserStatsByName(ctx context.Context, username string) (*UserStats, error) {
	userID, err := s.client.Get(ctx, s.nameKey(username)).Int()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("反查玩家失敗: %w", err)
	}

	fields, err := s.client.HGetAll(ctx, s.statsKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("讀取玩家統計失敗: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	stats := statsFromFields(fields)
	stats.CurrentStreak = fieldInt(fields, "current_streak")
	return stats, nil
}

func (s *RedisHistory) RecentGames(ctx context.Context, userID, limit int) ([]RecentGame, error) {
	if limit <= 0 {
		limit = 10
	}

	raws, err := s.client.LRange(ctx, s.gamesKey(userID), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("讀取近期對戰失敗: %w", err)
	}

	games := make([]RecentGame, 0, len(raws))
	for _, raw := range raws {
		var g RecentGame
		if err := json.Unmarshal([]byte(raw), &g); err != nil {
			return nil, fmt.Errorf("解析對戰紀錄失敗: %w", err)
		}
		games = append(games, g)
	}
	return games, nil
}

func (s *RedisHistory) WinStreak(ctx context.Context, userID int) (*WinStreak, error) {
	vals, err := s.client.HMGet(ctx, s.statsKey(userID), "current_streak", "longest_streak").Result()
	if err != nil {
		return nil, fmt.Errorf("讀取連勝統計失敗: %w", err)
	}

	streak := &WinStreak{}
	if v, ok := vals[0].(string); ok {
		streak.CurrentStreak, _ = strconv.Atoi(v)
	}
	if v, ok := vals[1].(string); ok {
		streak.LongestStreak, _ = strconv.Atoi(v)
	}
	return streak, nil
}

// statsFromFields 從 hash 欄位組裝彙總統計，衍生值（勝率、平均精度）即時計算
func statsFromFields(fields map[string]string) *UserStats {
	stats := &UserStats{
		TotalGames:     fieldInt(fields, "total_games"),
		TotalWins:      fieldInt(fields, "total_wins"),
		TotalLosses:    fieldInt(fields, "total_losses"),
		TotalShipsSunk: fieldInt(fields, "total_ships_sunk"),
		TotalHits:      fieldInt(fields, "total_hits"),
		TotalMisses:    fieldInt(fields, "total_misses"),
		BestStreak:     fieldInt(fields, "best_streak"),
	}
	if stats.TotalGames > 0 {
		accuracySum, _ := strconv.ParseFloat(fields["accuracy_sum"], 64)
		stats.WinRate = round2(float64(stats.TotalWins) * 100.0 / float64(stats.TotalGames))
		stats.AvgAccuracy = round2(accuracySum / float64(stats.TotalGames))
	}
	return stats
}

func fieldInt(fields map[string]string, name string) int {
	v, _ := strconv.Atoi(fields[name])
	return v
}
