package internal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresHistory PostgreSQL 歷史儲存
//
// game_history 每場存兩筆（一人一筆），對手以 username 反正規化存放：
// 玩家 ID 由認證層配發而非資料庫序列，無法用外鍵 JOIN 解析對手。
type PostgresHistory struct {
	pool *pgxpool.Pool
}

// NewPostgresHistory 創建 PostgreSQL 歷史儲存
func NewPostgresHistory(pool *pgxpool.Pool) *PostgresHistory {
	return &PostgresHistory{pool: pool}
}

func (s *PostgresHistory) SaveGame(ctx context.Context, rec *GameRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO game_history
			(user_id, username, opponent_username, result, ships_sunk, hits, misses, accuracy, max_streak)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.UserID, rec.Username, rec.OpponentUsername, rec.Result,
		rec.ShipsSunk, rec.Hits, rec.Misses, rec.Accuracy, rec.MaxStreak,
	)
	if err != nil {
		return fmt.Errorf("寫入對戰歷史失敗: %w", err)
	}
	return nil
}

func (s *PostgresHistory) UserStats(ctx context.Context, userID int) (*UserStats, error) {
	stats := &UserStats{}
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN result = 'win' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN result = 'lose' THEN 1 ELSE 0 END), 0),
			COALESCE(ROUND(SUM(CASE WHEN result = 'win' THEN 1 ELSE 0 END) * 100.0 / COUNT(*), 2), 0),
			COALESCE(SUM(ships_sunk), 0),
			COALESCE(SUM(hits), 0),
			COALESCE(SUM(misses), 0),
			COALESCE(ROUND(AVG(accuracy), 2), 0),
			COALESCE(MAX(max_streak), 0)
		FROM game_history
		WHERE user_id = $1`,
		userID,
	).Scan(
		&stats.TotalGames, &stats.TotalWins, &stats.TotalLosses, &stats.WinRate,
		&stats.TotalShipsSunk, &stats.TotalHits, &stats.TotalMisses,
		&stats.AvgAccuracy, &stats.BestStreak,
	)
	if err != nil {
		return nil, fmt.Errorf("查詢玩家統計失敗: %w", err)
	}
	if stats.TotalGames == 0 {
		return nil, nil
	}
	return stats, nil
}

func (s *PostgresHistory) UserStatsByName(ctx context.Context, username string) (*UserStats, error) {
	var userID int
	err := s.pool.QueryRow(ctx, `
		SELECT user_id FROM game_history
		WHERE username = $1
		ORDER BY played_at DESC
		LIMIT 1`,
		username,
	).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("反查玩家失敗: %w", err)
	}

	stats, err := s.UserStats(ctx, userID)
	if err != nil || stats == nil {
		return stats, err
	}

	streak, err := s.WinStreak(ctx, userID)
	if err != nil {
		return nil, err
	}
	stats.CurrentStreak = streak.CurrentStreak
	return stats, nil
}

func (s *PostgresHistory) RecentGames(ctx context.Context, userID, limit int) ([]RecentGame, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.pool.Query(ctx, `
		SELECT opponent_username, result, ships_sunk, hits, misses, accuracy, max_streak, played_at
		FROM game_history
		WHERE user_id = $1
		ORDER BY played_at DESC, id DESC
		LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("查詢近期對戰失敗: %w", err)
	}
	defer rows.Close()

	games := make([]RecentGame, 0, limit)
	for rows.Next() {
		var g RecentGame
		var playedAt time.Time
		if err := rows.Scan(&g.OpponentUsername, &g.Result, &g.ShipsSunk,
			&g.Hits, &g.Misses, &g.Accuracy, &g.MaxStreak, &playedAt); err != nil {
			return nil, fmt.Errorf("掃描對戰紀錄失敗: %w", err)
		}
		g.PlayedAt = playedAt.Format(time.RFC3339)
		games = append(games, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("讀取對戰紀錄失敗: %w", err)
	}
	return games, nil
}

func (s *PostgresHistory) WinStreak(ctx context.Context, userID int) (*WinStreak, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT result FROM game_history
		WHERE user_id = $1
		ORDER BY played_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("查詢連勝統計失敗: %w", err)
	}
	defer rows.Close()

	var results []string
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, fmt.Errorf("掃描對戰結果失敗: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("讀取對戰結果失敗: %w", err)
	}

	streak := &WinStreak{}

	// current：從最新往回數連續 win
	for _, r := range results {
		if r != "win" {
			break
		}
		streak.CurrentStreak++
	}

	// longest：時間正序找最長 win 連段
	run := 0
	for i := len(results) - 1; i >= 0; i-- {
		if results[i] == "win" {
			run++
			if run > streak.LongestStreak {
				streak.LongestStreak = run
			}
		} else {
			run = 0
		}
	}
	return streak, nil
}
