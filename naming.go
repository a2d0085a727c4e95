package testdb

import (
	"fmt"
	"hash/crc32"
	"math"
	"strconv"
	"strings"
)

// DisposablePrefix starts the name of every database created by testdb.
const DisposablePrefix = "test_db_"

// maxIdentifierLength keeps disposable names inside Postgres' 63-byte limit
// with room for a version suffix.
const maxIdentifierLength = 40

// Database is a row from the server's catalog of databases.
type Database struct {
	Name string `db:"name"`
}

// Prefix returns the prefix shared by every disposable database of the given
// test identifier, including the trailing separator.
func Prefix(id string) string {
	return DisposablePrefix + id + "_"
}

// IsDisposable reports whether name looks like a database created by testdb.
func IsDisposable(name string) bool {
	return strings.HasPrefix(name, DisposablePrefix)
}

// NextName returns the next unused disposable database name for the test
// identifier `id`. Versions are parsed from the names in `existing` that start
// with [Prefix]; names whose suffix is not a non-negative integer, or is the
// largest uint64, are ignored.
// The result is one more than the highest version found, starting at 1.
//
// NextName does not reserve the name. Two callers that list the same catalog
// before either creates its database will compute the same result.
func NextName(existing []Database, id string) string {
	var highest uint64
	for _, db := range existing {
		// MaxUint64 has no successor
		if version, ok := Version(db.Name, id); ok && version < math.MaxUint64 {
			highest = max(highest, version)
		}
	}
	return Prefix(id) + strconv.FormatUint(highest+1, 10)
}

// Version returns the version of a disposable database name belonging to the
// test identifier `id`, and whether one could be parsed.
func Version(name, id string) (uint64, bool) {
	suffix, ok := strings.CutPrefix(name, Prefix(id))
	if !ok {
		return 0, false
	}
	version, err := strconv.ParseUint(suffix, 10, 64)
	if err != nil {
		return 0, false
	}
	return version, true
}

// Identifier turns a Go test name, optionally qualified by enclosing scopes,
// into a test identifier that is safe to embed unquoted in a database name.
// Empty parts are skipped. Letters are lower-cased and anything outside
// [a-z0-9_] becomes an underscore:
//
//	Identifier("TestOrders/with_tax")      // "testorders_with_tax"
//	Identifier("billing", "TestOrders")    // "billing_testorders"
//
// Long identifiers are truncated and suffixed with a checksum of the full
// value, so that distinct long test names stay distinct.
func Identifier(parts ...string) string {
	var b strings.Builder
	for _, part := range parts {
		if part == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('_')
		}
		for _, r := range strings.ToLower(part) {
			if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
				b.WriteRune(r)
			} else {
				b.WriteByte('_')
			}
		}
	}
	id := b.String()
	if len(id) <= maxIdentifierLength {
		return id
	}
	sum := crc32.ChecksumIEEE([]byte(id))
	return fmt.Sprintf("%s_%08x", id[:maxIdentifierLength-9], sum)
}
