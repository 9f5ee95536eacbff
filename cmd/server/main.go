package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/koopa0/battleship-server/internal"
	"github.com/koopa0/battleship-server/internal/migrations"
)

func main() {
	// 解析命令行參數
	var (
		configPath = flag.String("config", "config.yaml", "配置檔案路徑")
		port       = flag.Int("port", 0, "TCP 對戰埠口（覆蓋配置檔）")
		logLevel   = flag.String("log-level", "", "日誌級別 (debug, info, warn, error)")
		logFormat  = flag.String("log-format", "", "日誌格式 (text, json)")
	)
	flag.Parse()

	// 載入配置
	config, err := internal.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		config.Server.Port = *port
	}
	if *logLevel != "" {
		config.Log.Level = *logLevel
	}
	if *logFormat != "" {
		config.Log.Format = *logFormat
	}

	// 設置日誌
	logger := setupLogger(config.Log.Level, config.Log.Format)
	slog.SetDefault(logger)

	// 選擇戰績儲存後端
	history, closeStore, err := setupHistory(config, logger)
	if err != nil {
		logger.Error("初始化戰績儲存失敗", "backend", config.History.Backend, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	// 組裝核心元件
	registry := internal.NewRegistry(logger)
	auth := internal.NewMemoryAuthenticator()
	handler := internal.NewHandler(registry, history, auth, logger)

	// 啟動 TCP 對戰伺服器
	server := internal.NewServer(handler, registry, logger)
	if err := server.Start(fmt.Sprintf(":%d", config.Server.Port)); err != nil {
		logger.Error("TCP 伺服器啟動失敗", "error", err)
		os.Exit(1)
	}

	// WebSocket 閘道走同一個 Handler，瀏覽器客戶端用
	gateway := internal.NewWSGateway(handler, logger)
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", gateway.ServeWS)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Server.HTTPPort),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("對戰伺服器啟動",
			"tcp_port", config.Server.Port,
			"http_port", config.Server.HTTPPort,
			"history_backend", config.History.Backend)

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP 伺服器啟動失敗", "error", err)
			os.Exit(1)
		}
	}()

	// 等待中斷信號
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("收到關閉信號，開始優雅關閉...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP 伺服器關閉失敗", "error", err)
	}

	server.Stop()

	logger.Info("伺服器已關閉")
}

// setupHistory 依配置建立戰績儲存，回傳儲存與資源釋放函數
func setupHistory(config *internal.Config, logger *slog.Logger) (internal.HistoryStore, func(), error) {
	switch config.History.Backend {
	case "", "memory":
		return internal.NewMemoryHistory(), func() {}, nil

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:         config.Redis.Addr,
			Password:     config.Redis.Password,
			DB:           config.Redis.DB,
			PoolSize:     config.Redis.PoolSize,
			MinIdleConns: config.Redis.MinIdleConns,
			MaxRetries:   config.Redis.MaxRetries,
			ReadTimeout:  config.Redis.ReadTimeout,
			WriteTimeout: config.Redis.WriteTimeout,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			return nil, nil, fmt.Errorf("連接 redis 失敗: %w", err)
		}
		return internal.NewRedisHistory(client), func() { _ = client.Close() }, nil

	case "postgres":
		ctx := context.Background()

		// 先跑遷移再開連接池
		migrator, err := migrations.New(config.PostgresURL(), logger)
		if err != nil {
			return nil, nil, err
		}
		if err := migrator.Up(); err != nil {
			_ = migrator.Close()
			return nil, nil, err
		}
		_ = migrator.Close()

		pgConfig, err := pgxpool.ParseConfig(config.PostgresDSN())
		if err != nil {
			return nil, nil, fmt.Errorf("解析 postgres 配置失敗: %w", err)
		}
		pgConfig.MaxConns = config.Postgres.MaxConns
		pgConfig.MinConns = config.Postgres.MinConns

		pool, err := pgxpool.NewWithConfig(ctx, pgConfig)
		if err != nil {
			return nil, nil, fmt.Errorf("連接 postgres 失敗: %w", err)
		}
		return internal.NewPostgresHistory(pool), pool.Close, nil

	default:
		return nil, nil, fmt.Errorf("未知的戰績儲存後端: %q", config.History.Backend)
	}
}

// setupLogger 設置日誌
func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: level == "debug", // debug 模式顯示源碼位置
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
