// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/gantry-ci/gantry/lib/sqlitepool"
)

func TestStandardPragmas(t *testing.T) {
	pool := openTestPool(t, nil)

	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	defer pool.Put(conn)

	pragmas := []struct {
		name string
		want string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"},
		{"busy_timeout", "5000"},
		{"foreign_keys", "0"},
	}
	for _, pragma := range pragmas {
		var got string
		err := sqlitex.Execute(conn, "PRAGMA "+pragma.name, &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				got = stmt.ColumnText(0)
				return nil
			},
		})
		if err != nil {
			t.Fatalf("PRAGMA %s: %v", pragma.name, err)
		}
		if got != pragma.want {
			t.Errorf("PRAGMA %s = %q, want %q", pragma.name, got, pragma.want)
		}
	}
}

func TestOnConnectPreparesEveryConnection(t *testing.T) {
	prepared := 0
	pool := openTestPool(t, func(conn *sqlite.Conn) error {
		prepared++
		return createRunsTable(conn)
	})

	first, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	second, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("second Take: %v", err)
	}

	// Both connections see the schema the hook created.
	for index, conn := range []*sqlite.Conn{first, second} {
		err := sqlitex.Execute(conn, "INSERT INTO runs (pipeline) VALUES (?)", &sqlitex.ExecOptions{
			Args: []any{fmt.Sprintf("pipeline-%d", index)},
		})
		if err != nil {
			t.Fatalf("INSERT on connection %d: %v", index, err)
		}
	}

	pool.Put(first)
	pool.Put(second)

	if prepared != 2 {
		t.Errorf("OnConnect ran %d times, want once per connection (2)", prepared)
	}
}

func TestDefaultPoolSizeBounds(t *testing.T) {
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path: filepath.Join(t.TempDir(), "bounds.db"),
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer pool.Close()

	held := make([]*sqlite.Conn, 0, sqlitepool.DefaultPoolSize)
	for range sqlitepool.DefaultPoolSize {
		conn, err := pool.Take(context.Background())
		if err != nil {
			t.Fatalf("Take %d: %v", len(held)+1, err)
		}
		held = append(held, conn)
	}

	// The pool is exhausted, so one more Take can only block; with a
	// cancelled context it must fail instead.
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if extra, err := pool.Take(cancelled); err == nil {
		pool.Put(extra)
		t.Errorf("Take beyond DefaultPoolSize (%d) succeeded", sqlitepool.DefaultPoolSize)
	}

	for _, conn := range held {
		pool.Put(conn)
	}
}

func TestWriteTransactionWithConcurrentReader(t *testing.T) {
	pool := openTestPool(t, createRunsTable)

	writer, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take writer: %v", err)
	}
	defer pool.Put(writer)
	reader, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take reader: %v", err)
	}
	defer pool.Put(reader)

	endFn, err := sqlitex.ImmediateTransaction(writer)
	if err != nil {
		t.Fatalf("ImmediateTransaction: %v", err)
	}
	insertErr := sqlitex.Execute(writer, "INSERT INTO runs (pipeline) VALUES (?)", &sqlitex.ExecOptions{
		Args: []any{"release"},
	})
	if insertErr != nil {
		endFn(&insertErr)
		t.Fatalf("INSERT: %v", insertErr)
	}

	// WAL keeps the open write invisible to the reader's snapshot.
	if got := countRuns(t, reader); got != 0 {
		t.Errorf("reader saw %d rows during the open transaction, want 0", got)
	}

	var commitErr error
	endFn(&commitErr)
	if commitErr != nil {
		t.Fatalf("commit: %v", commitErr)
	}

	if got := countRuns(t, reader); got != 1 {
		t.Errorf("reader saw %d rows after commit, want 1", got)
	}
}

func TestConcurrentReaders(t *testing.T) {
	pool := openTestPool(t, createRunsTable)

	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take for seeding: %v", err)
	}
	err = sqlitex.Execute(conn,
		"INSERT INTO runs (pipeline) VALUES ('a'), ('b'), ('c'), ('d'), ('e')", nil)
	if err != nil {
		t.Fatalf("seeding: %v", err)
	}
	pool.Put(conn)

	// More readers than pool connections, so Take has to recycle.
	const readerCount = 8
	var waitGroup sync.WaitGroup
	failures := make(chan error, readerCount)

	for range readerCount {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()

			conn, err := pool.Take(context.Background())
			if err != nil {
				failures <- err
				return
			}
			defer pool.Put(conn)

			rows := 0
			err = sqlitex.Execute(conn, "SELECT pipeline FROM runs", &sqlitex.ExecOptions{
				ResultFunc: func(stmt *sqlite.Stmt) error {
					rows++
					return nil
				},
			})
			if err != nil {
				failures <- err
				return
			}
			if rows != 5 {
				failures <- fmt.Errorf("read %d rows, want 5", rows)
			}
		}()
	}

	waitGroup.Wait()
	close(failures)

	for err := range failures {
		t.Error(err)
	}
}

func TestEmptyPathRejected(t *testing.T) {
	_, err := sqlitepool.Open(sqlitepool.Config{})
	if err == nil {
		t.Fatal("expected error for empty Path")
	}
}

// createRunsTable is an OnConnect hook building the kind of schema the
// history store keeps in this pool.
func createRunsTable(conn *sqlite.Conn) error {
	return sqlitex.ExecuteScript(conn, `
		CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY,
			pipeline TEXT NOT NULL
		);
	`, nil)
}

func countRuns(t *testing.T, conn *sqlite.Conn) int {
	t.Helper()

	count := -1
	err := sqlitex.Execute(conn, "SELECT COUNT(*) FROM runs", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			count = stmt.ColumnInt(0)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("COUNT: %v", err)
	}
	return count
}

// openTestPool opens a two-connection pool backed by a database file in
// the test's temporary directory. The pool is closed when the test
// completes.
func openTestPool(t *testing.T, onConnect func(*sqlite.Conn) error) *sqlitepool.Pool {
	t.Helper()

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:      filepath.Join(t.TempDir(), "gantry.db"),
		PoolSize:  2,
		OnConnect: onConnect,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := pool.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return pool
}
