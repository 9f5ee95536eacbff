package internal

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 整個應用的配置
type Config struct {
	Server struct {
		Port             int           `yaml:"port"`      // TCP 對戰埠口
		HTTPPort         int           `yaml:"http_port"` // WebSocket 閘道埠口
		HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	} `yaml:"server"`

	History struct {
		// Backend 指定戰績儲存後端："memory"、"redis" 或 "postgres"
		Backend string `yaml:"backend"`
	} `yaml:"history"`

	Redis struct {
		Addr         string        `yaml:"addr"`
		Password     string        `yaml:"password"`
		DB           int           `yaml:"db"`
		PoolSize     int           `yaml:"pool_size"`
		MinIdleConns int           `yaml:"min_idle_conns"`
		MaxRetries   int           `yaml:"max_retries"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"redis"`

	Postgres struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		DBName   string `yaml:"dbname"`
		MaxConns int32  `yaml:"max_conns"`
		MinConns int32  `yaml:"min_conns"`
	} `yaml:"postgres"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// DefaultConfig 回傳單機開發用的預設配置
func DefaultConfig() *Config {
	var c Config
	c.Server.Port = 5002
	c.Server.HTTPPort = 8080
	c.Server.HandshakeTimeout = 30 * time.Second
	c.History.Backend = "memory"
	c.Redis.Addr = "localhost:6379"
	c.Redis.PoolSize = 10
	c.Postgres.Host = "localhost"
	c.Postgres.Port = 5432
	c.Postgres.User = "postgres"
	c.Postgres.DBName = "battleship"
	c.Postgres.MaxConns = 10
	c.Postgres.MinConns = 2
	c.Log.Level = "info"
	c.Log.Format = "text"
	return &c
}

// LoadConfig 載入配置檔案，檔案不存在時回傳預設配置
func LoadConfig(path string) (*Config, error) {
	// #nosec G304 - path 是硬編碼的配置檔案路徑，非使用者輸入
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return config, nil
}

// PostgresURL 生成 URL 形式的連線字串（遷移工具使用）
func (c *Config) PostgresURL() string {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return dsn
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Postgres.User,
		c.Postgres.Password,
		c.Postgres.Host,
		c.Postgres.Port,
		c.Postgres.DBName,
	)
}

// PostgresDSN 生成 PostgreSQL 連線字串
func (c *Config) PostgresDSN() string {
	// 支援環境變數覆蓋（生產環境常用）
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return dsn
	}

	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.Postgres.Host,
		c.Postgres.Port,
		c.Postgres.User,
		c.Postgres.Password,
		c.Postgres.DBName,
	)
}
