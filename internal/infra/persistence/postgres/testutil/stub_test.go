package testutil

import (
	"context"
	"database/sql/driver"
	"io"
	"testing"
)

func TestStubUpsertsAndLooksUpByKey(t *testing.T) {
	ctx := context.Background()
	_, conn := NewStubDB()

	if err := conn.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	upsert := "INSERT INTO kv (key, payload) VALUES ($1, $2) ON CONFLICT (key) DO UPDATE SET payload = EXCLUDED.payload"
	for _, args := range [][]driver.NamedValue{
		{{Value: "a"}, {Value: []byte("1")}},
		{{Value: "b"}, {Value: []byte("2")}},
		{{Value: "a"}, {Value: []byte("3")}},
	} {
		if _, err := conn.ExecContext(ctx, upsert, args); err != nil {
			t.Fatalf("ExecContext upsert: %v", err)
		}
	}
	if len(conn.KV) != 2 {
		t.Fatalf("expected upsert to replace key a, got %v", conn.KV)
	}

	rows, err := conn.QueryContext(ctx, "SELECT payload FROM kv WHERE key = $1", []driver.NamedValue{{Value: "a"}})
	if err != nil {
		t.Fatalf("QueryContext: %v", err)
	}
	defer func() { _ = rows.Close() }()
	dest := make([]driver.Value, 1)
	if err := rows.Next(dest); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if string(dest[0].([]byte)) != "3" {
		t.Fatalf("unexpected payload: %v", dest[0])
	}
	if err := rows.Next(dest); err != io.EOF {
		t.Fatalf("expected a single row, got err %v", err)
	}

	res, err := conn.ExecContext(ctx, "DELETE FROM kv WHERE key = $1", []driver.NamedValue{{Value: "a"}})
	if err != nil {
		t.Fatalf("ExecContext delete: %v", err)
	}
	if n, _ := res.RowsAffected(); n != 1 || len(conn.KV) != 1 {
		t.Fatalf("expected key a deleted, got %v", conn.KV)
	}
}

func TestStubRejectsUnknownStatements(t *testing.T) {
	ctx := context.Background()
	_, conn := NewStubDB()
	if _, err := conn.ExecContext(ctx, "UPDATE kv SET payload = $1", nil); err == nil {
		t.Fatalf("expected unsupported statement error")
	}
	if _, err := conn.QueryContext(ctx, "SELECT key FROM kv", nil); err == nil {
		t.Fatalf("expected unsupported query error")
	}
	if _, err := conn.ExecContext(ctx, "DELETE FROM kv WHERE key = $1", []driver.NamedValue{{Value: 7}}); err == nil {
		t.Fatalf("expected key type error")
	}
}
