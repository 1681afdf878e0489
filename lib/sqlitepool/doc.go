// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides gantry's standard SQLite connection pool.
//
// Local structured storage in gantry (the run history store) goes
// through this package. It wraps zombiezen.com/go/sqlite with
// production-ready defaults: WAL journal mode, NORMAL synchronous for
// process-crash durability without fsync-per-commit overhead,
// memory-mapped I/O for read performance, and busy timeout to handle
// write contention gracefully when several gantry processes share one
// history database.
//
// A [Pool] wraps zombiezen's sqlitex.Pool: a fixed-size set of
// connections handed out one at a time. Callers [Pool.Take] a
// connection, run their statements, and [Pool.Put] it back. A
// connection is not safe for concurrent use; a goroutine holds one for
// the duration of its work and nothing else touches it.
//
// # Pragmas
//
// Every connection in the pool is initialized with these pragmas:
//
//   - journal_mode=WAL: write-ahead logging, so history queries keep
//     working while a run is being recorded. Readers and the single
//     writer never block each other.
//   - synchronous=NORMAL: transactions survive process crashes. Not
//     durable across OS crashes or power failure — acceptable for run
//     history, where the authoritative record of a run is its result
//     log and build logs on disk.
//   - busy_timeout=5000: wait up to 5 seconds for a write lock instead
//     of returning SQLITE_BUSY immediately, which matters when two
//     pipelines record history at the same time.
//   - foreign_keys=OFF: the history schema manages referential
//     integrity explicitly.
//   - cache_size=-8192: 8 MB page cache per connection.
//   - mmap_size=268435456: 256 MB memory-mapped I/O for reads. On Linux
//     this avoids read(2) syscall overhead by letting the OS page cache
//     serve reads directly.
//   - temp_store=MEMORY: temporary tables and indexes in memory.
//
// # Usage
//
//	pool, err := sqlitepool.Open(sqlitepool.Config{
//	    Path:     "/var/lib/gantry/history.db",
//	    PoolSize: 4,
//	    Logger:   logger,
//	    OnConnect: func(conn *sqlite.Conn) error {
//	        // Create tables, register functions, etc.
//	        return sqlitex.ExecuteScript(conn, schema, nil)
//	    },
//	})
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
//
//	conn, err := pool.Take(ctx)
//	if err != nil {
//	    return err
//	}
//	defer pool.Put(conn)
//
// # Design
//
// The package stays thin on purpose. It applies the pragmas above and
// then exposes the zombiezen types directly: consumers write SQL, use
// sqlitex.Execute for cached statements, and open write transactions
// with sqlitex.ImmediateTransaction. There is no query builder and no
// wrapper around SQLite's connection model, just one dependency, one
// set of pragmas, and one pool pattern shared by everything that
// stores rows.
package sqlitepool
