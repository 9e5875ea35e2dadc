// Package logger adapts zap to the engine's key/value Logger interface and
// scrubs credentials from logged fields.
package logger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const redacted = "[REDACTED]"

// Logger wraps a zap SugaredLogger.
type Logger struct {
	SugaredLogger *zap.SugaredLogger
	redact        bool
	salt          string
}

// New builds a logger for mode: "prod"/"production" selects JSON output at
// info level, "off" discards everything, anything else the console
// development config at debug level.
// CASEGRID_LOG_REDACTION=off disables field scrubbing and CASEGRID_LOG_HASH_SALT
// salts hashed identifiers.
func New(mode string) (*Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "prod", "production":
		cfg = zap.NewProductionConfig()
	case "off", "none":
		return FromZap(zap.NewNop()), nil
	default:
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	zl, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build zap logger: %w", err)
	}
	return FromZap(zl), nil
}

// FromZap wraps an existing zap logger, reading the redaction settings from
// the environment.
func FromZap(zl *zap.Logger) *Logger {
	l := &Logger{SugaredLogger: zl.Sugar(), redact: true}
	switch strings.ToLower(strings.TrimSpace(os.Getenv("CASEGRID_LOG_REDACTION"))) {
	case "0", "false", "no", "off":
		l.redact = false
	}
	l.salt = strings.TrimSpace(os.Getenv("CASEGRID_LOG_HASH_SALT"))
	return l
}

// NewWithCore wraps a zapcore.Core. Tests pass an observer core.
func NewWithCore(c zapcore.Core) *Logger { return FromZap(zap.New(c)) }

// Sync flushes buffered entries.
func (l *Logger) Sync() { _ = l.SugaredLogger.Sync() }

func (l *Logger) Debug(msg string, keysAndValues ...any) {
	l.SugaredLogger.Debugw(msg, l.sanitize(keysAndValues)...)
}

func (l *Logger) Info(msg string, keysAndValues ...any) {
	l.SugaredLogger.Infow(msg, l.sanitize(keysAndValues)...)
}

func (l *Logger) Warn(msg string, keysAndValues ...any) {
	l.SugaredLogger.Warnw(msg, l.sanitize(keysAndValues)...)
}

func (l *Logger) Error(msg string, keysAndValues ...any) {
	l.SugaredLogger.Errorw(msg, l.sanitize(keysAndValues)...)
}

// With returns a child logger carrying the given fields on every entry.
func (l *Logger) With(keysAndValues ...any) *Logger {
	return &Logger{SugaredLogger: l.SugaredLogger.With(l.sanitize(keysAndValues)...), redact: l.redact, salt: l.salt}
}

func (l *Logger) sanitize(kv []any) []any {
	if len(kv) == 0 || !l.redact {
		return kv
	}
	out := make([]any, 0, len(kv))
	for i := 0; i < len(kv); i += 2 {
		if i == len(kv)-1 {
			out = append(out, kv[i])
			break
		}
		key := toString(kv[i])
		out = append(out, key, l.scrub(strings.ToLower(strings.TrimSpace(key)), kv[i+1]))
	}
	return out
}

func (l *Logger) scrub(key string, val any) any {
	switch {
	case isSecretKey(key):
		return redacted
	case isIdentityKey(key):
		return l.hash(val)
	}
	if m, ok := val.(map[string]string); ok {
		out := make(map[string]string, len(m))
		for k, v := range m {
			if isSecretKey(strings.ToLower(k)) {
				v = redacted
			}
			out[k] = v
		}
		return out
	}
	return val
}

func isSecretKey(key string) bool {
	for _, marker := range []string{"token", "password", "secret", "dsn", "authorization", "api_key", "apikey"} {
		if strings.Contains(key, marker) {
			return true
		}
	}
	return false
}

// Patient names and ids are personal data; they are hashed so log lines can
// still be correlated.
func isIdentityKey(key string) bool {
	return strings.Contains(key, "patient") || key == "name"
}

func (l *Logger) hash(val any) string {
	raw := toString(val)
	if raw == "" {
		return ""
	}
	h := sha256.New()
	if l.salt != "" {
		_, _ = h.Write([]byte(l.salt))
	}
	_, _ = h.Write([]byte(raw))
	return "hash:" + hex.EncodeToString(h.Sum(nil))[:12]
}

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}
