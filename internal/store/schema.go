package store

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/xtxerr/bwmon/internal/errors"
)

// =============================================================================
// Table Name Derivation
// =============================================================================

// tablePrefix namespaces all per-sender tables away from the directory table.
const tablePrefix = "traffic_"

// TableName returns the dedicated sample table identifier for address.
//
// The derivation is a pure function of the address, so it is stable across
// restarts: the address is sanitized to [a-z0-9_] and suffixed with an
// FNV-1a hash of the raw address. Two distinct addresses that sanitize to
// the same string still get distinct identifiers via the hash. Results are
// cached per Store; the cache is an optimization, not a source of truth.
func (s *Store) TableName(address string) string {
	s.namesMu.RLock()
	name, ok := s.names[address]
	s.namesMu.RUnlock()
	if ok {
		return name
	}

	name = deriveTableName(address)

	s.namesMu.Lock()
	s.names[address] = name
	s.namesMu.Unlock()
	return name
}

func deriveTableName(address string) string {
	var b strings.Builder
	b.Grow(len(tablePrefix) + len(address) + 9)
	b.WriteString(tablePrefix)
	for _, r := range strings.ToLower(address) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	h := fnv.New32a()
	h.Write([]byte(address))
	fmt.Fprintf(&b, "_%08x", h.Sum32())

	return b.String()
}

// =============================================================================
// Table Creation
// =============================================================================

// sampleSchema is the per-sender sample table layout. Timestamps are Unix
// milliseconds; rates are stored as-is in kbps.
const sampleSchema = `
CREATE TABLE IF NOT EXISTS %[1]s (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp_ms INTEGER NOT NULL,
	upload_kbps REAL NOT NULL,
	download_kbps REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_%[1]s_ts ON %[1]s(timestamp_ms);
`

// EnsureTable creates the dedicated sample table for address if it does not
// exist. It is idempotent and safe under concurrent calls for the same
// address: racing callers are collapsed onto one CREATE, and the statement
// itself is IF NOT EXISTS, so neither caller observes a duplicate-table
// error.
//
// The address must already have passed the access policy; table identifiers
// are never derived from unvetted caller input.
func (s *Store) EnsureTable(ctx context.Context, address string) error {
	table := s.TableName(address)

	_, err, _ := s.creating.Do(table, func() (any, error) {
		_, err := s.db.ExecContext(ctx, fmt.Sprintf(sampleSchema, table))
		return nil, err
	})
	if err != nil {
		return errors.NewStorage("ensure table "+table, err)
	}
	return nil
}

// TableExists reports whether the dedicated table for address is present.
// A sender that never had a report persisted has no table.
func (s *Store) TableExists(ctx context.Context, address string) (bool, error) {
	var name string
	err := s.db.GetContext(ctx, &name,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`,
		s.TableName(address))
	if err != nil {
		if isNoRows(err) {
			return false, nil
		}
		return false, errors.NewStorage("check table", err)
	}
	return true, nil
}
