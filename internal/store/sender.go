package store

import (
	"context"
	"time"

	"github.com/xtxerr/bwmon/internal/errors"
)

// Sender is one entry in the directory of known reporting agents.
type Sender struct {
	ID          int64  `db:"id" json:"-"`
	Address     string `db:"address" json:"address"`
	DisplayName string `db:"display_name" json:"display_name"`
	FirstSeenMs int64  `db:"first_seen_ms" json:"first_seen_ms"`
}

// FirstSeen returns the registration time as a time.Time.
func (s *Sender) FirstSeen() time.Time {
	return time.UnixMilli(s.FirstSeenMs)
}

// RegisterSender inserts a directory row for address unless one already
// exists. The first registration wins: a later call never overwrites the
// stored display name or the first-seen timestamp. An empty displayName is
// recorded as "unknown".
func (s *Store) RegisterSender(ctx context.Context, address, displayName string) error {
	if displayName == "" {
		displayName = "unknown"
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO senders (address, display_name, first_seen_ms)
		VALUES (?, ?, ?)
		ON CONFLICT(address) DO NOTHING
	`, address, displayName, time.Now().UnixMilli())
	if err != nil {
		return errors.NewStorage("register sender", err)
	}

	if n, err := res.RowsAffected(); err == nil && n > 0 {
		log.Info("sender registered", "address", address, "display_name", displayName)
	}
	return nil
}

// ListSenders returns all known senders ordered by registration.
func (s *Store) ListSenders(ctx context.Context) ([]Sender, error) {
	var senders []Sender
	err := s.db.SelectContext(ctx, &senders, `
		SELECT id, address, display_name, first_seen_ms
		FROM senders
		ORDER BY id
	`)
	if err != nil {
		return nil, errors.NewStorage("list senders", err)
	}
	return senders, nil
}

// GetSender returns the directory entry for address, or ErrSenderNotFound.
func (s *Store) GetSender(ctx context.Context, address string) (*Sender, error) {
	var sender Sender
	err := s.db.GetContext(ctx, &sender, `
		SELECT id, address, display_name, first_seen_ms
		FROM senders
		WHERE address = ?
	`, address)
	if err != nil {
		if isNoRows(err) {
			return nil, errors.ErrSenderNotFound
		}
		return nil, errors.NewStorage("get sender", err)
	}
	return &sender, nil
}
