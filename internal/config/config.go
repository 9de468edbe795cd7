package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/JoeShih716/go-credit-ledger/internal/app/core/adapter/out/chain"
	"github.com/JoeShih716/go-credit-ledger/pkg/log"
	"github.com/JoeShih716/go-credit-ledger/pkg/sqldb"
)

// DefaultPath 沒有指定時讀取的設定檔
const DefaultPath = "config/config.yaml"

const (
	StoreMemory = "memory"
	StoreSQL    = "sql"
)

// Config 帳本服務的完整設定
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      log.Config     `yaml:"log"`
	Store    StoreConfig    `yaml:"store"`
	Database sqldb.Config   `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Chain    chain.Config   `yaml:"chain"`
	Payments PaymentsConfig `yaml:"payments"`
	Events   EventsConfig   `yaml:"events"`
}

type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port"`
	GRPCPort        int           `yaml:"grpc_port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StoreConfig 帳本狀態存放位置
// memory: 記憶體 + WAL，重啟時重放
// sql: database 區段指定的資料庫
type StoreConfig struct {
	Type    string `yaml:"type"`
	WALPath string `yaml:"wal_path"`
	WALSync *bool  `yaml:"wal_sync"` // 預設 true
}

// RedisConfig URL 留空代表不啟用 outcome 快取
type RedisConfig struct {
	URL string        `yaml:"url"`
	TTL time.Duration `yaml:"ttl"`
}

// KafkaConfig Brokers 留空時事件只寫進 log
type KafkaConfig struct {
	Brokers []string          `yaml:"brokers"`
	Topics  map[string]string `yaml:"topics"` // 事件類型 -> topic，沒列的用事件類型本身
}

// PaymentsConfig WebhookSecret 有值時，購買請求必須帶金流簽章
type PaymentsConfig struct {
	WebhookSecret string `yaml:"webhook_secret"`
}

type EventsConfig struct {
	BufferSize int `yaml:"buffer_size"`
}

// WALSyncEnabled 每筆 WAL 寫入後是否 fsync
func (s StoreConfig) WALSyncEnabled() bool {
	return s.WALSync == nil || *s.WALSync
}

// ChainEnabled 有設定 RPC 才能做鏈上同步
func (c Config) ChainEnabled() bool {
	return c.Chain.RPCURL != ""
}

// Default 回傳全部預設值
func Default() Config {
	return Config{
		Server: ServerConfig{
			HTTPPort:        8080,
			GRPCPort:        50051,
			ShutdownTimeout: 15 * time.Second,
		},
		Log: log.Config{
			Level:  "info",
			Format: "text",
		},
		Store: StoreConfig{
			Type:    StoreMemory,
			WALPath: "wal.log",
		},
		Database: sqldb.Config{
			Type:     sqldb.TypeSQLite,
			LogLevel: "warn",
		},
		Redis: RedisConfig{
			TTL: 24 * time.Hour,
		},
		Chain: chain.Config{
			Timeout: 10 * time.Second,
		},
		Events: EventsConfig{
			BufferSize: 1024,
		},
	}
}

// Load 讀取設定檔並套用環境變數
//
// 設定檔不存在時只用預設值與環境變數；檔案存在但格式錯誤則回傳錯誤。
//
// 參數:
//
//	path: string - 設定檔路徑，空字串時依序看 LEDGER_CONFIG、DefaultPath
//
// 回傳:
//
//	Config: 合併後的設定
//	error: 讀檔、解析或檢查失敗
func Load(path string) (Config, error) {
	if path == "" {
		path = envOr("LEDGER_CONFIG", DefaultPath)
	}

	cfg := Default()
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
		log.L(context.Background()).WithField("path", path).Info("config file not found, using defaults and environment")
	default:
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	cfg.Database.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate 檢查設定是否能啟動服務
func (c Config) Validate() error {
	switch c.Store.Type {
	case StoreMemory:
		if c.Store.WALPath == "" {
			return fmt.Errorf("store.wal_path is required for the memory store")
		}
	case StoreSQL:
	default:
		return fmt.Errorf("unsupported store type %q", c.Store.Type)
	}
	if c.Server.HTTPPort <= 0 && c.Server.GRPCPort <= 0 {
		return fmt.Errorf("at least one of server.http_port and server.grpc_port must be set")
	}
	if c.Events.BufferSize <= 0 {
		return fmt.Errorf("events.buffer_size must be positive")
	}
	if c.ChainEnabled() && c.Chain.TokenContract == "" {
		return fmt.Errorf("chain.token_contract is required when chain.rpc_url is set")
	}
	return nil
}

// applyEnv 環境變數覆寫，容器部署時不用改檔案
func applyEnv(cfg *Config) error {
	var err error
	setInt := func(key string, dst *int) {
		v, ok := os.LookupEnv(key)
		if !ok || err != nil {
			return
		}
		n, convErr := strconv.Atoi(strings.TrimSpace(v))
		if convErr != nil {
			err = fmt.Errorf("invalid %s %q: %w", key, v, convErr)
			return
		}
		*dst = n
	}
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}

	setInt("LEDGER_HTTP_PORT", &cfg.Server.HTTPPort)
	setInt("LEDGER_GRPC_PORT", &cfg.Server.GRPCPort)
	setString("LEDGER_LOG_LEVEL", &cfg.Log.Level)
	setString("LEDGER_LOG_FORMAT", &cfg.Log.Format)
	setString("LEDGER_STORE_TYPE", &cfg.Store.Type)
	setString("LEDGER_WAL_PATH", &cfg.Store.WALPath)
	setString("LEDGER_DB_TYPE", &cfg.Database.Type)
	setString("LEDGER_DB_HOST", &cfg.Database.Host)
	setInt("LEDGER_DB_PORT", &cfg.Database.Port)
	setString("LEDGER_DB_USER", &cfg.Database.User)
	setString("LEDGER_DB_PASSWORD", &cfg.Database.Password)
	setString("LEDGER_DB_NAME", &cfg.Database.DBName)
	setString("LEDGER_DB_PATH", &cfg.Database.Path)
	setString("LEDGER_REDIS_URL", &cfg.Redis.URL)
	setString("LEDGER_CHAIN_RPC_URL", &cfg.Chain.RPCURL)
	setString("LEDGER_TOKEN_CONTRACT", &cfg.Chain.TokenContract)
	setString("LEDGER_WEBHOOK_SECRET", &cfg.Payments.WebhookSecret)
	setInt("LEDGER_EVENTS_BUFFER", &cfg.Events.BufferSize)
	if v, ok := os.LookupEnv("LEDGER_KAFKA_BROKERS"); ok {
		cfg.Kafka.Brokers = splitList(v)
	}
	return err
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
