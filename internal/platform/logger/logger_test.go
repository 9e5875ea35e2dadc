package logger

import (
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"casegrid/internal/core"
)

var _ core.Logger = (*Logger)(nil)

func observed(t *testing.T) (*Logger, *observer.ObservedLogs) {
	t.Helper()
	c, logs := observer.New(zapcore.DebugLevel)
	return NewWithCore(c), logs
}

func TestLevelsAndFields(t *testing.T) {
	l, logs := observed(t)
	l.Debug("d", "rows", 3)
	l.Info("i")
	l.Warn("w")
	l.Error("e", "err", "boom")
	entries := logs.All()
	if len(entries) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(entries))
	}
	want := []zapcore.Level{zapcore.DebugLevel, zapcore.InfoLevel, zapcore.WarnLevel, zapcore.ErrorLevel}
	for i, e := range entries {
		if e.Level != want[i] {
			t.Fatalf("entry %d level %s, want %s", i, e.Level, want[i])
		}
	}
	if got := entries[0].ContextMap()["rows"]; got != int64(3) {
		t.Fatalf("rows field = %v (%T)", got, got)
	}
}

func TestRedactsSecretsAndHashesIdentity(t *testing.T) {
	l, logs := observed(t)
	l.Info("open storage", "postgres_dsn", "postgres://u:p@h/db", "redisPassword", "hunter2", "patientName", "Kim", "owner", "epi-team")
	fields := logs.All()[0].ContextMap()
	if fields["postgres_dsn"] != redacted || fields["redisPassword"] != redacted {
		t.Fatalf("secrets not redacted: %v", fields)
	}
	name, _ := fields["patientName"].(string)
	if !strings.HasPrefix(name, "hash:") || strings.Contains(name, "Kim") {
		t.Fatalf("patient name not hashed: %v", name)
	}
	if fields["owner"] != "epi-team" {
		t.Fatalf("owner should pass through: %v", fields["owner"])
	}
}

func TestRedactsNestedMetadata(t *testing.T) {
	l, logs := observed(t)
	l.Info("artifact", "metadata", map[string]string{"rows": "3", "upload_token": "abc"})
	meta, ok := logs.All()[0].ContextMap()["metadata"].(map[string]string)
	if !ok {
		t.Fatalf("metadata type %T", logs.All()[0].ContextMap()["metadata"])
	}
	if meta["rows"] != "3" || meta["upload_token"] != redacted {
		t.Fatalf("unexpected metadata %v", meta)
	}
}

func TestWithCarriesFields(t *testing.T) {
	l, logs := observed(t)
	child := l.With("component", "scheduler", "token", "t0k3n")
	child.Info("commit")
	fields := logs.All()[0].ContextMap()
	if fields["component"] != "scheduler" || fields["token"] != redacted {
		t.Fatalf("unexpected fields %v", fields)
	}
}

func TestRedactionCanBeDisabled(t *testing.T) {
	t.Setenv("CASEGRID_LOG_REDACTION", "off")
	l, logs := observed(t)
	l.Info("x", "password", "plain")
	if got := logs.All()[0].ContextMap()["password"]; got != "plain" {
		t.Fatalf("redaction should be off, got %v", got)
	}
}

func TestOddKeyValuesKeepTrailingKey(t *testing.T) {
	l, _ := observed(t)
	got := l.sanitize([]any{"a", 1, "dangling"})
	if len(got) != 3 || got[2] != "dangling" {
		t.Fatalf("unexpected sanitize output %v", got)
	}
}

func TestNewModes(t *testing.T) {
	for _, mode := range []string{"dev", "production", "off"} {
		l, err := New(mode)
		if err != nil {
			t.Fatalf("New(%q): %v", mode, err)
		}
		l.Sync()
	}
}
