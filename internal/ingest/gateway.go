// Package ingest implements the report gateway: the single entry point the
// transport layer calls to submit a bandwidth report or query history.
//
// A submission moves through a fixed sequence - validate the payload shape,
// authorize the sender, then persist or discard depending on the saving
// toggle - with early rejection at each gate. The gateway never retries;
// retry, if any, is the sending agent's concern.
package ingest

import (
	"context"

	"github.com/xtxerr/bwmon/internal/errors"
	"github.com/xtxerr/bwmon/internal/logging"
	"github.com/xtxerr/bwmon/internal/store"
)

var log = logging.Component("ingest")

// AccessPolicy is the authorization gate consulted before any persistence.
type AccessPolicy interface {
	Allowed(address string) bool
	SavingEnabled() bool
}

// SampleStore is the persistence surface the gateway drives.
type SampleStore interface {
	RegisterSender(ctx context.Context, address, displayName string) error
	EnsureTable(ctx context.Context, address string) error
	Append(ctx context.Context, address string, uploadKbps, downloadKbps float64) error
	TableExists(ctx context.Context, address string) (bool, error)
	History(ctx context.Context, address string, windowHours int) ([]store.Sample, error)
}

// ReportPayload is the inbound report shape. Upload and Download are
// pointers so that an absent field is distinguishable from a zero rate.
type ReportPayload struct {
	Upload   *float64 `json:"upload"`
	Download *float64 `json:"download"`
	Hostname string   `json:"hostname,omitempty"`
}

// Gateway validates, authorizes and persists inbound reports.
type Gateway struct {
	policy AccessPolicy
	store  SampleStore
}

// New creates a Gateway over the given policy and store.
func New(policy AccessPolicy, st SampleStore) *Gateway {
	return &Gateway{policy: policy, store: st}
}

// Submit processes one report from senderAddress.
//
// Outcomes, in check order:
//   - payload missing upload or download: ErrMissingField (validation)
//   - sender not on the allow-list: ErrNotAuthorized
//   - allowed but saving disabled: nil, nothing persisted. The sender gets
//     a success acknowledgment; saving-disabled is an operational mode, not
//     a sender-visible error.
//   - allowed and saving enabled: register sender, ensure table, append.
//     Storage failures surface as ErrStorage.
func (g *Gateway) Submit(ctx context.Context, senderAddress string, payload ReportPayload) error {
	if payload.Upload == nil {
		return errors.NewMissingField("upload")
	}
	if payload.Download == nil {
		return errors.NewMissingField("download")
	}

	if !g.policy.Allowed(senderAddress) {
		log.Warn("report rejected", "address", senderAddress, "reason", "not on allow-list")
		return errors.Wrapf(errors.ErrNotAuthorized, "sender %s", senderAddress)
	}

	if !g.policy.SavingEnabled() {
		log.Debug("report accepted, saving disabled", "address", senderAddress)
		return nil
	}

	if err := g.store.RegisterSender(ctx, senderAddress, payload.Hostname); err != nil {
		return err
	}
	if err := g.store.EnsureTable(ctx, senderAddress); err != nil {
		return err
	}
	if err := g.store.Append(ctx, senderAddress, *payload.Upload, *payload.Download); err != nil {
		return err
	}

	log.Debug("report persisted", "address", senderAddress,
		"upload_kbps", *payload.Upload, "download_kbps", *payload.Download)
	return nil
}

// History returns the windowed history for senderAddress, gated on the same
// allow-list as submissions: addresses outside it cannot be queried either.
//
// A sender that never had a report persisted has no dedicated table; that is
// ErrNoData, distinct from a present sender with an empty window, which is an
// empty list.
func (g *Gateway) History(ctx context.Context, senderAddress string, windowHours int) ([]store.Sample, error) {
	if !g.policy.Allowed(senderAddress) {
		return nil, errors.Wrapf(errors.ErrNotAuthorized, "sender %s", senderAddress)
	}

	exists, err := g.store.TableExists(ctx, senderAddress)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errors.Wrapf(errors.ErrNoData, "sender %s", senderAddress)
	}

	return g.store.History(ctx, senderAddress, windowHours)
}
