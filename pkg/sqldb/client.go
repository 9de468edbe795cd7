package sqldb

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/JoeShih716/go-credit-ledger/pkg/log"
)

// Client 封裝 GORM DB 實例
type Client struct {
	db      *gorm.DB
	dialect string
}

// NewClient 建立並回傳一個新的資料庫客戶端實例 (GORM)
//
// 參數:
//
//	ctx: 上下文 (取消時停止重試)
//	cfg: Config - 連線配置
//
// 回傳值:
//
//	*Client: 封裝後的客戶端
//	error: 若連線失敗則回傳錯誤
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	cfg.ApplyDefaults()
	dialector, err := openDialector(cfg)
	if err != nil {
		return nil, err
	}
	return open(ctx, dialector, cfg)
}

// NewClientFromDialector 用現成的 Dialector 建立客戶端 (例如 sqlmock 包起來的連線)
func NewClientFromDialector(ctx context.Context, dialector gorm.Dialector, cfg Config) (*Client, error) {
	cfg.ApplyDefaults()
	return open(ctx, dialector, cfg)
}

func openDialector(cfg Config) (gorm.Dialector, error) {
	switch cfg.Type {
	case TypeMySQL:
		return mysql.Open(cfg.DSN()), nil
	case TypePostgres:
		return postgres.Open(cfg.DSN()), nil
	case TypeSQLite:
		return sqlite.Open(cfg.DSN()), nil
	default:
		return nil, fmt.Errorf("unsupported database type %q", cfg.Type)
	}
}

func open(ctx context.Context, dialector gorm.Dialector, cfg Config) (*Client, error) {
	gormConfig := &gorm.Config{
		// 帳務寫入一律由上層明確開啟 Transaction，這裡不需要 GORM 再包一層
		SkipDefaultTransaction: true,
		// 讓 unique 衝突回傳 gorm.ErrDuplicatedKey，方便判斷併發衝突
		TranslateError: true,
		Logger:         newLogger(cfg.LogLevel),
	}

	var db *gorm.DB
	var err error

	for i := 0; i < cfg.ConnectRetries; i++ {
		db, err = gorm.Open(dialector, gormConfig)
		if err == nil {
			rawDB, dbErr := db.DB()
			if dbErr == nil {
				if err = rawDB.PingContext(ctx); err == nil {
					break
				}
			} else {
				err = dbErr
			}
		}

		if i < cfg.ConnectRetries-1 {
			log.L(ctx).Warnf("Failed to connect to %s (attempt %d/%d): %v. Retrying in %v...", cfg.Type, i+1, cfg.ConnectRetries, err, cfg.RetryInterval)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(cfg.RetryInterval):
			}
		}
	}

	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s after %d attempts: %w", cfg.Type, cfg.ConnectRetries, err)
	}

	// 取得底層 sql.DB 物件以設定連線池
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.db: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return &Client{db: db, dialect: cfg.Type}, nil
}

// DB 回傳底層的 *gorm.DB 實例，供 adapter 使用
func (c *Client) DB() *gorm.DB {
	return c.db
}

// Dialect 回傳資料庫種類
func (c *Client) Dialect() string {
	return c.dialect
}

// Ping 檢查連線 (readiness 用)
func (c *Client) Ping(ctx context.Context) error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close 關閉資料庫連線
func (c *Client) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// newLogger 根據配置建立 GORM Logger
func newLogger(level string) logger.Interface {
	var logLevel logger.LogLevel
	switch level {
	case "info":
		logLevel = logger.Info
	case "warn":
		logLevel = logger.Warn
	case "error":
		logLevel = logger.Error
	case "silent":
		logLevel = logger.Silent
	default:
		logLevel = logger.Error // 預設只記錄錯誤
	}

	return logger.Default.LogMode(logLevel)
}
