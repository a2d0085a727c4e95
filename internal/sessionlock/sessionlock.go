// sessionlock serializes work across processes that share a Postgres server,
// using session-level advisory locks.
//
// - https://www.postgresql.org/docs/current/explicit-locking.html#ADVISORY-LOCKS
package sessionlock

import (
	"context"
	"database/sql"
	"fmt"
	"hash/crc32"

	"go.uber.org/multierr"
)

// IDPrefix is prepended to every lock name before hashing, so that testdb's
// locks do not collide with advisory locks taken by the code under test.
const IDPrefix string = "testdb-"

// ID hashes a lock name to the integer key passed to pg_advisory_lock().
func ID(name string) uint32 {
	return crc32.ChecksumIEEE([]byte(IDPrefix + name))
}

// With checks out a single connection from `db`, takes the advisory lock for
// `lockName` on it, calls `cb`, and then releases the lock. Errors from
// unlocking or closing the connection are joined with the error from `cb`.
func With(ctx context.Context, db *sql.DB, lockName string, cb func(*sql.Conn) error) (final error) {
	id := ID(lockName)

	// lock and unlock must run in the same session.
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("sessionlock(%s) failed to open conn: %w", lockName, err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			final = multierr.Append(final, fmt.Errorf("sessionlock(%s) failed to close conn: %w", lockName, err))
		}
	}()

	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", int64(id)); err != nil {
		return fmt.Errorf("sessionlock(%s) failed to lock: %w", lockName, err)
	}
	defer func() {
		if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", int64(id)); err != nil {
			final = multierr.Append(final, fmt.Errorf("sessionlock(%s) failed to unlock: %w", lockName, err))
		}
	}()
	return cb(conn)
}
