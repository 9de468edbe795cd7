package sqldb

import (
	"fmt"
	"time"
)

const (
	TypeMySQL    = "mysql"
	TypePostgres = "postgres"
	TypeSQLite   = "sqlite"
)

// Config 定義資料庫連線與連線池的配置
type Config struct {
	Type     string `yaml:"type"`     // "mysql", "postgres", "sqlite"
	Host     string `yaml:"host"`     // 資料庫主機地址
	Port     int    `yaml:"port"`     // 資料庫埠號 (mysql 預設 3306, postgres 預設 5432)
	User     string `yaml:"user"`     // 使用者名稱
	Password string `yaml:"password"` // 密碼
	DBName   string `yaml:"dbname"`   // 資料庫名稱
	Path     string `yaml:"path"`     // sqlite 檔案路徑，":memory:" 為記憶體資料庫

	// 連線池設定 (Connection Pool)
	// 參考: https://github.com/go-sql-driver/mysql#important-settings
	MaxOpenConns    int           `yaml:"max_open_conns"`    // 最大開啟連線數
	MaxIdleConns    int           `yaml:"max_idle_conns"`    // 最大閒置連線數
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"` // 連線最大存活時間

	// GORM 設定
	LogLevel string `yaml:"log_level"` // Log 等級: "silent", "error", "warn", "info"

	// 連線重試
	ConnectRetries int           `yaml:"connect_retries"`
	RetryInterval  time.Duration `yaml:"retry_interval"`
}

// ApplyDefaults 補全沒有設定的欄位
func (c *Config) ApplyDefaults() {
	if c.Type == "" {
		c.Type = TypeSQLite
	}
	if c.Port == 0 {
		switch c.Type {
		case TypeMySQL:
			c.Port = 3306
		case TypePostgres:
			c.Port = 5432
		}
	}
	if c.Type == TypeSQLite {
		if c.Path == "" {
			c.Path = "ledger.db"
		}
		// SQLite 單一連線，寫入自然序列化 (也讓 :memory: 只有一個資料庫)
		c.MaxOpenConns = 1
		c.MaxIdleConns = 1
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 100
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 10
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = 30 * time.Minute
	}
	if c.ConnectRetries <= 0 {
		c.ConnectRetries = 10
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 2 * time.Second
	}
}

// DSN (Data Source Name) 產生連線字串
func (c *Config) DSN() string {
	switch c.Type {
	case TypeMySQL:
		// user:password@tcp(host:port)/dbname?charset=utf8mb4&parseTime=True&loc=UTC&clientFoundRows=true
		// clientFoundRows: 條件式 update 的 RowsAffected 以符合 where 的筆數計，值沒變也算 1
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC&clientFoundRows=true",
			c.User,
			c.Password,
			c.Host,
			c.Port,
			c.DBName,
		)
	case TypePostgres:
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable TimeZone=UTC",
			c.Host,
			c.Port,
			c.User,
			c.Password,
			c.DBName,
		)
	default:
		return c.Path
	}
}
