package log

import (
	"context"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

// Config 日誌設定
type Config struct {
	Level  string `yaml:"level"`  // "error", "warn", "info", "debug", "trace"
	Format string `yaml:"format"` // "text" 或 "json"
}

var rootLogger = logrus.NewEntry(logrus.StandardLogger())

// L 從 context 取出 logger，沒有的話回傳 root logger
var L = loggerFromContext

type ctxLogKey struct{}

// Init 套用日誌設定
func Init(cfg Config) {
	SetLevel(cfg.Level)
	SetFormat(cfg.Format)
}

// WithLogger 把指定的 logger 放進 context
func WithLogger(ctx context.Context, logger *logrus.Entry) context.Context {
	return context.WithValue(ctx, ctxLogKey{}, logger)
}

// WithLogField 在 context 的 logger 上加一個欄位
// 值過長時會截斷，避免把整段 payload 印進 log
func WithLogField(ctx context.Context, key, value string) context.Context {
	if len(value) > 61 {
		value = value[0:61] + "..."
	}
	return WithLogger(ctx, loggerFromContext(ctx).WithField(key, value))
}

func loggerFromContext(ctx context.Context) *logrus.Entry {
	if ctx == nil {
		return rootLogger
	}
	logger := ctx.Value(ctxLogKey{})
	if logger == nil {
		return rootLogger
	}
	return logger.(*logrus.Entry)
}

func SetLevel(level string) {
	var l logrus.Level
	switch strings.ToLower(level) {
	case "error":
		l = logrus.ErrorLevel
	case "warn", "warning":
		l = logrus.WarnLevel
	case "debug":
		l = logrus.DebugLevel
	case "trace":
		l = logrus.TraceLevel
	default:
		l = logrus.InfoLevel
	}
	logrus.SetLevel(l)
}

func GetLevel() string {
	switch logrus.GetLevel() {
	case logrus.ErrorLevel:
		return "error"
	case logrus.WarnLevel:
		return "warn"
	case logrus.DebugLevel:
		return "debug"
	case logrus.TraceLevel:
		return "trace"
	default:
		return "info"
	}
}

func SetFormat(format string) {
	switch strings.ToLower(format) {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	}
}

// SetOutput 主要給測試用，把輸出導到 buffer
func SetOutput(w io.Writer) {
	logrus.SetOutput(w)
}
