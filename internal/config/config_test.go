package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoeShih716/go-credit-ledger/pkg/sqldb"
)

func writeFile(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 50051, cfg.Server.GRPCPort)
	assert.Equal(t, StoreMemory, cfg.Store.Type)
	assert.True(t, cfg.Store.WALSyncEnabled())
	assert.Equal(t, sqldb.TypeSQLite, cfg.Database.Type)
	assert.Equal(t, 24*time.Hour, cfg.Redis.TTL)
	assert.False(t, cfg.ChainEnabled())
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, `
server:
  http_port: 9000
  shutdown_timeout: 5s
store:
  type: sql
  wal_sync: false
database:
  type: postgres
  host: db
  user: ledger
  dbname: credits
redis:
  url: redis://cache:6379/0
  ttl: 1h
kafka:
  brokers: [k1:9092, k2:9092]
  topics:
    credits.transferred: ledger-transfers
chain:
  rpc_url: http://node:8545
  token_contract: "0x1111111111111111111111111111111111111111"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.HTTPPort)
	assert.Equal(t, 50051, cfg.Server.GRPCPort)
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, StoreSQL, cfg.Store.Type)
	assert.False(t, cfg.Store.WALSyncEnabled())
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 100, cfg.Database.MaxOpenConns)
	assert.Equal(t, time.Hour, cfg.Redis.TTL)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "ledger-transfers", cfg.Kafka.Topics["credits.transferred"])
	assert.True(t, cfg.ChainEnabled())
}

func TestEnvOverrides(t *testing.T) {
	path := writeFile(t, "server:\n  http_port: 9000\n")
	t.Setenv("LEDGER_HTTP_PORT", "7000")
	t.Setenv("LEDGER_KAFKA_BROKERS", " a:9092, ,b:9092 ")
	t.Setenv("LEDGER_WEBHOOK_SECRET", "s3cret")
	t.Setenv("LEDGER_DB_TYPE", "mysql")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Server.HTTPPort)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "s3cret", cfg.Payments.WebhookSecret)
	assert.Equal(t, 3306, cfg.Database.Port)
}

func TestConfigPathFromEnv(t *testing.T) {
	path := writeFile(t, "server:\n  grpc_port: 6000\n")
	t.Setenv("LEDGER_CONFIG", path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 6000, cfg.Server.GRPCPort)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(writeFile(t, "server: [oops"))
	assert.Regexp(t, "parse config", err)

	t.Setenv("LEDGER_GRPC_PORT", "abc")
	_, err = Load(writeFile(t, ""))
	assert.Regexp(t, "invalid LEDGER_GRPC_PORT", err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	bad := Default()
	bad.Store.Type = "redis"
	assert.Regexp(t, "unsupported store type", bad.Validate())

	bad = Default()
	bad.Store.WALPath = ""
	assert.Regexp(t, "wal_path", bad.Validate())

	bad = Default()
	bad.Chain.RPCURL = "http://node:8545"
	assert.Regexp(t, "token_contract", bad.Validate())

	bad = Default()
	bad.Events.BufferSize = 0
	assert.Regexp(t, "buffer_size", bad.Validate())
}
