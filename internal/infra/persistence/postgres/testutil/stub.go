// Package testutil provides a stub database/sql driver that understands the
// statements issued by the postgres KV store.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
)

var stubSeq atomic.Int64

// StubConn records executed statements and keeps kv rows in memory.
type StubConn struct {
	mu       sync.Mutex
	Execs    []string
	KV       map[string][]byte
	FailExec bool
}

// NewStubDB registers a sql.DB backed by a fresh stub connection.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{KV: make(map[string][]byte)}
	name := fmt.Sprintf("stubkv%d", stubSeq.Add(1))
	sql.Register(name, stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	return db, conn
}

type stubDriver struct{ conn *StubConn }

func (d stubDriver) Open(string) (driver.Conn, error) { return d.conn, nil }

// Prepare implements driver.Conn; every statement goes through the
// context-aware paths instead.
func (c *StubConn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported: %s", query)
}

// Close implements driver.Conn.
func (c *StubConn) Close() error { return nil }

// Begin implements driver.Conn. The KV store never opens transactions.
func (c *StubConn) Begin() (driver.Tx, error) {
	return nil, errors.New("transactions not supported")
}

// Ping implements driver.Pinger.
func (c *StubConn) Ping(context.Context) error {
	if c.FailExec {
		return errors.New("ping fail")
	}
	return nil
}

// ExecContext implements driver.ExecerContext for the DDL, upsert and delete.
func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Execs = append(c.Execs, query)
	if c.FailExec {
		return nil, errors.New("exec fail")
	}
	stmt := strings.ToUpper(strings.TrimSpace(query))
	switch {
	case strings.HasPrefix(stmt, "CREATE TABLE"):
		return driver.RowsAffected(0), nil
	case strings.HasPrefix(stmt, "INSERT INTO KV"):
		if len(args) != 2 {
			return nil, fmt.Errorf("upsert wants key and payload, got %d args", len(args))
		}
		key, err := keyArg(args)
		if err != nil {
			return nil, err
		}
		payload, _ := args[1].Value.([]byte)
		c.KV[key] = append([]byte(nil), payload...)
		return driver.RowsAffected(1), nil
	case strings.HasPrefix(stmt, "DELETE FROM KV"):
		key, err := keyArg(args)
		if err != nil {
			return nil, err
		}
		if _, ok := c.KV[key]; !ok {
			return driver.RowsAffected(0), nil
		}
		delete(c.KV, key)
		return driver.RowsAffected(1), nil
	}
	return nil, fmt.Errorf("unsupported statement: %s", query)
}

// QueryContext implements driver.QueryerContext for the payload lookup.
func (c *StubConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !strings.HasPrefix(strings.ToUpper(strings.TrimSpace(query)), "SELECT PAYLOAD FROM KV") {
		return nil, fmt.Errorf("unsupported query: %s", query)
	}
	key, err := keyArg(args)
	if err != nil {
		return nil, err
	}
	rows := &stubRows{}
	if payload, ok := c.KV[key]; ok {
		rows.payloads = [][]byte{append([]byte(nil), payload...)}
	}
	return rows, nil
}

func keyArg(args []driver.NamedValue) (string, error) {
	if len(args) == 0 {
		return "", errors.New("missing key argument")
	}
	key, ok := args[0].Value.(string)
	if !ok {
		return "", fmt.Errorf("key argument is %T, want string", args[0].Value)
	}
	return key, nil
}

type stubRows struct {
	payloads [][]byte
	idx      int
}

func (r *stubRows) Columns() []string { return []string{"payload"} }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.payloads) {
		return io.EOF
	}
	dest[0] = r.payloads[r.idx]
	r.idx++
	return nil
}
