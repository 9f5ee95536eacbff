// Package testutils 提供測試用的共用工具和輔助函數
//
// 本套件實作了測試容器（testcontainers）的管理，包括：
//   - Redis 測試容器
//   - PostgreSQL 測試容器（含資料庫遷移）
//   - 測試資料清理
//
// Docker 不可用時測試會被跳過而非失敗，
// 讓純單元測試在沒有容器環境的機器上照常執行。
package testutils

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/koopa0/battleship-server/internal/migrations"
)

// RedisEnvironment Redis 測試環境
type RedisEnvironment struct {
	Client    *redis.Client
	Addr      string
	container tc.Container
}

// PostgresEnvironment PostgreSQL 測試環境
type PostgresEnvironment struct {
	Pool      *pgxpool.Pool
	DSN       string
	container tc.Container
}

// SetupRedis 啟動 Redis 測試容器並註冊清理
func SetupRedis(t testing.TB) *RedisEnvironment {
	t.Helper()

	ctx := context.Background()

	redisContainer, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Skipf("無法啟動 redis 容器（docker 不可用？）: %v", err)
	}

	env := &RedisEnvironment{container: redisContainer}
	t.Cleanup(func() { env.cleanup() })

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("failed to get redis endpoint: %v", err)
	}
	env.Addr = endpoint

	env.Client = redis.NewClient(&redis.Options{
		Addr:         endpoint,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := env.Client.Ping(pingCtx).Err(); err != nil {
		t.Fatalf("failed to ping redis: %v", err)
	}

	return env
}

// Flush 清空 Redis 資料（用於測試之間的清理）
func (env *RedisEnvironment) Flush(t testing.TB) {
	t.Helper()

	if err := env.Client.FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("failed to flush redis: %v", err)
	}
}

func (env *RedisEnvironment) cleanup() {
	ctx := context.Background()
	if env.Client != nil {
		_ = env.Client.Close()
	}
	if env.container != nil {
		_ = env.container.Terminate(ctx)
	}
}

// SetupPostgres 啟動 PostgreSQL 測試容器、執行遷移並註冊清理
func SetupPostgres(t testing.TB) *PostgresEnvironment {
	t.Helper()

	ctx := context.Background()

	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("testuser"),
		tcpostgres.WithPassword("testpass"),
		tc.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Skipf("無法啟動 postgres 容器（docker 不可用？）: %v", err)
	}

	env := &PostgresEnvironment{container: pgContainer}
	t.Cleanup(func() { env.cleanup() })

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get postgres connection string: %v", err)
	}
	env.DSN = dsn

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("failed to parse postgres config: %v", err)
	}
	config.MaxConns = 10
	config.MinConns = 2

	env.Pool, err = pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		t.Fatalf("failed to create postgres pool: %v", err)
	}

	if err := env.Pool.Ping(ctx); err != nil {
		t.Fatalf("failed to ping postgres: %v", err)
	}

	runMigrations(t, dsn)

	return env
}

// Truncate 清空對戰歷史表（用於測試之間的清理）
func (env *PostgresEnvironment) Truncate(t testing.TB) {
	t.Helper()

	if _, err := env.Pool.Exec(context.Background(), "TRUNCATE TABLE game_history"); err != nil {
		t.Fatalf("failed to truncate game_history: %v", err)
	}
}

func (env *PostgresEnvironment) cleanup() {
	ctx := context.Background()
	if env.Pool != nil {
		env.Pool.Close()
	}
	if env.container != nil {
		_ = env.container.Terminate(ctx)
	}
}

// runMigrations 用嵌入的遷移檔初始化 schema
func runMigrations(t testing.TB, dsn string) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelWarn, // 測試時減少日誌噪音
	}))

	migrator, err := migrations.New(dsn, logger)
	if err != nil {
		t.Fatalf("failed to create migrator: %v", err)
	}
	defer migrator.Close()

	if err := migrator.Up(); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
}
