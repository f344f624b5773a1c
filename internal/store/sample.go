package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/xtxerr/bwmon/internal/errors"
)

// Sample is one bandwidth measurement. Samples are append-only and
// immutable once written.
type Sample struct {
	ID           int64   `db:"id" json:"-"`
	TimestampMs  int64   `db:"timestamp_ms" json:"timestamp_ms"`
	UploadKbps   float64 `db:"upload_kbps" json:"upload_kbps"`
	DownloadKbps float64 `db:"download_kbps" json:"download_kbps"`
}

// Timestamp returns the sample time as a time.Time.
func (s *Sample) Timestamp() time.Time {
	return time.UnixMilli(s.TimestampMs)
}

// Report is the per-address result of LatestForAll.
type Report struct {
	// HasData is false when the address has no dedicated table or no rows.
	HasData bool    `json:"has_data"`
	Sample  *Sample `json:"sample,omitempty"`
}

// =============================================================================
// Writes
// =============================================================================

// Append inserts one sample for address with the current time. The
// dedicated table must already exist (EnsureTable). Rates are stored
// unchanged; the kbps unit is a contract with the caller.
func (s *Store) Append(ctx context.Context, address string, uploadKbps, downloadKbps float64) error {
	return s.appendAt(ctx, address, uploadKbps, downloadKbps, time.Now())
}

// appendAt is Append with an explicit timestamp, used by tests to build
// historical windows.
func (s *Store) appendAt(ctx context.Context, address string, uploadKbps, downloadKbps float64, ts time.Time) error {
	query := fmt.Sprintf(
		`INSERT INTO %s (timestamp_ms, upload_kbps, download_kbps) VALUES (?, ?, ?)`,
		s.TableName(address))

	if _, err := s.db.ExecContext(ctx, query, ts.UnixMilli(), uploadKbps, downloadKbps); err != nil {
		return errors.NewStorage("append sample", err)
	}
	return nil
}

// =============================================================================
// Queries
// =============================================================================

// Latest returns the most recent sample for address. On equal timestamps
// the later insertion wins (id descending), which keeps the result
// deterministic. Returns ErrNoData when the dedicated table does not exist
// or holds no rows.
func (s *Store) Latest(ctx context.Context, address string) (*Sample, error) {
	exists, err := s.TableExists(ctx, address)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errors.ErrNoData
	}

	query := fmt.Sprintf(`
		SELECT id, timestamp_ms, upload_kbps, download_kbps
		FROM %s
		ORDER BY timestamp_ms DESC, id DESC
		LIMIT 1
	`, s.TableName(address))

	var sample Sample
	if err := s.db.GetContext(ctx, &sample, query); err != nil {
		if isNoRows(err) {
			return nil, errors.ErrNoData
		}
		return nil, errors.NewStorage("latest sample", err)
	}
	return &sample, nil
}

// History returns all samples for address with timestamp >= now - windowHours,
// in ascending timestamp order. A missing table or an empty window yields an
// empty slice, not an error. windowHours zero means "at or after this
// instant", which is empty in practice.
func (s *Store) History(ctx context.Context, address string, windowHours int) ([]Sample, error) {
	if windowHours < 0 {
		return nil, fmt.Errorf("window hours %d: %w", windowHours, errors.ErrInvalidWindow)
	}

	exists, err := s.TableExists(ctx, address)
	if err != nil {
		return nil, err
	}
	if !exists {
		return []Sample{}, nil
	}

	cutoff := time.Now().Add(-time.Duration(windowHours) * time.Hour).UnixMilli()

	query := fmt.Sprintf(`
		SELECT id, timestamp_ms, upload_kbps, download_kbps
		FROM %s
		WHERE timestamp_ms >= ?
		ORDER BY timestamp_ms ASC, id ASC
	`, s.TableName(address))

	samples := []Sample{}
	if err := s.db.SelectContext(ctx, &samples, query, cutoff); err != nil {
		return nil, errors.NewStorage("history", err)
	}
	return samples, nil
}

// LatestForAll reports the latest sample per address. An address having no
// data never fails the batch; its entry simply carries HasData=false. Any
// other failure fails the whole batch: a broken table must not masquerade as
// a sender that never reported.
func (s *Store) LatestForAll(ctx context.Context, addresses []string) (map[string]Report, error) {
	result := make(map[string]Report, len(addresses))
	for _, address := range addresses {
		sample, err := s.Latest(ctx, address)
		switch {
		case err == nil:
			result[address] = Report{HasData: true, Sample: sample}
		case errors.IsNoData(err):
			result[address] = Report{}
		default:
			return nil, errors.Wrapf(err, "latest for %s", address)
		}
	}
	return result, nil
}

// isNoRows reports whether err is the empty-result sentinel of database/sql.
func isNoRows(err error) bool {
	return err == sql.ErrNoRows || errors.Is(err, sql.ErrNoRows)
}
