package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	bwerrors "github.com/xtxerr/bwmon/internal/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(DefaultConfig(filepath.Join(t.TempDir(), "test.db")))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// =============================================================================
// Table Name Derivation
// =============================================================================

func TestDeriveTableName(t *testing.T) {
	name := deriveTableName("10.0.0.1")
	if name != deriveTableName("10.0.0.1") {
		t.Error("derivation must be deterministic")
	}
	for _, r := range name {
		ok := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_'
		if !ok {
			t.Fatalf("identifier %q contains unsafe character %q", name, r)
		}
	}
}

func TestDeriveTableNameNoCollisions(t *testing.T) {
	// These sanitize to the same base string; the hash suffix must keep
	// them apart.
	a := deriveTableName("10.0.0.1")
	b := deriveTableName("10.0.0/1")
	c := deriveTableName("10.0.0:1")
	if a == b || a == c || b == c {
		t.Errorf("sanitization collision: %q %q %q", a, b, c)
	}
}

func TestTableNameCached(t *testing.T) {
	s := newTestStore(t)
	first := s.TableName("10.0.0.1")
	second := s.TableName("10.0.0.1")
	if first != second {
		t.Errorf("cached name changed: %q vs %q", first, second)
	}
	if first != deriveTableName("10.0.0.1") {
		t.Error("cache must agree with derivation")
	}
}

// =============================================================================
// Senders
// =============================================================================

func TestRegisterSender(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.RegisterSender(ctx, "10.0.0.1", "edge-01"); err != nil {
		t.Fatalf("RegisterSender: %v", err)
	}

	sender, err := s.GetSender(ctx, "10.0.0.1")
	if err != nil {
		t.Fatalf("GetSender: %v", err)
	}
	if sender.DisplayName != "edge-01" {
		t.Errorf("display name = %q, want edge-01", sender.DisplayName)
	}
	if sender.FirstSeenMs == 0 {
		t.Error("first seen not set")
	}

	// Re-registration must not overwrite anything.
	firstSeen := sender.FirstSeenMs
	if err := s.RegisterSender(ctx, "10.0.0.1", "renamed"); err != nil {
		t.Fatalf("RegisterSender again: %v", err)
	}
	sender, err = s.GetSender(ctx, "10.0.0.1")
	if err != nil {
		t.Fatalf("GetSender after re-register: %v", err)
	}
	if sender.DisplayName != "edge-01" {
		t.Errorf("display name overwritten to %q", sender.DisplayName)
	}
	if sender.FirstSeenMs != firstSeen {
		t.Error("first seen changed on re-registration")
	}
}

func TestRegisterSenderDefaultsDisplayName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.RegisterSender(ctx, "10.0.0.1", ""); err != nil {
		t.Fatalf("RegisterSender: %v", err)
	}
	sender, err := s.GetSender(ctx, "10.0.0.1")
	if err != nil {
		t.Fatalf("GetSender: %v", err)
	}
	if sender.DisplayName != "unknown" {
		t.Errorf("display name = %q, want unknown", sender.DisplayName)
	}
}

func TestGetSenderNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetSender(context.Background(), "10.9.9.9")
	if !bwerrors.Is(err, bwerrors.ErrSenderNotFound) {
		t.Errorf("err = %v, want ErrSenderNotFound", err)
	}
}

func TestListSendersOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, addr := range []string{"10.0.0.3", "10.0.0.1", "10.0.0.2"} {
		if err := s.RegisterSender(ctx, addr, ""); err != nil {
			t.Fatalf("RegisterSender %s: %v", addr, err)
		}
	}

	senders, err := s.ListSenders(ctx)
	if err != nil {
		t.Fatalf("ListSenders: %v", err)
	}
	if len(senders) != 3 {
		t.Fatalf("expected 3 senders, got %d", len(senders))
	}
	want := []string{"10.0.0.3", "10.0.0.1", "10.0.0.2"}
	for i := range want {
		if senders[i].Address != want[i] {
			t.Errorf("senders[%d] = %s, want %s (registration order)", i, senders[i].Address, want[i])
		}
	}
}

// =============================================================================
// Table Creation
// =============================================================================

func TestEnsureTableIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.EnsureTable(ctx, "10.0.0.1"); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}
	if err := s.EnsureTable(ctx, "10.0.0.1"); err != nil {
		t.Fatalf("EnsureTable second call: %v", err)
	}

	exists, err := s.TableExists(ctx, "10.0.0.1")
	if err != nil {
		t.Fatalf("TableExists: %v", err)
	}
	if !exists {
		t.Error("table missing after EnsureTable")
	}
}

func TestEnsureTableConcurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.EnsureTable(ctx, "10.0.0.1")
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("concurrent EnsureTable: %v", err)
		}
	}
}

// =============================================================================
// Samples
// =============================================================================

func mustPrepare(t *testing.T, s *Store, address string) {
	t.Helper()
	ctx := context.Background()
	if err := s.RegisterSender(ctx, address, ""); err != nil {
		t.Fatalf("RegisterSender: %v", err)
	}
	if err := s.EnsureTable(ctx, address); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}
}

func TestAppendAndLatest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustPrepare(t, s, "10.0.0.1")

	if err := s.Append(ctx, "10.0.0.1", 120.5, 980.2); err != nil {
		t.Fatalf("Append: %v", err)
	}

	sample, err := s.Latest(ctx, "10.0.0.1")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if sample.UploadKbps != 120.5 {
		t.Errorf("upload = %v, want 120.5", sample.UploadKbps)
	}
	if sample.DownloadKbps != 980.2 {
		t.Errorf("download = %v, want 980.2", sample.DownloadKbps)
	}
	if sample.TimestampMs == 0 {
		t.Error("timestamp not set")
	}
}

func TestLatestReturnsNewest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustPrepare(t, s, "10.0.0.1")

	base := time.Now().Add(-time.Minute)
	for i := 0; i < 5; i++ {
		if err := s.appendAt(ctx, "10.0.0.1", float64(i), float64(i*10), base.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("appendAt: %v", err)
		}
	}

	sample, err := s.Latest(ctx, "10.0.0.1")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if sample.UploadKbps != 4 {
		t.Errorf("latest upload = %v, want 4", sample.UploadKbps)
	}
}

func TestLatestTieBreakOnEqualTimestamps(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustPrepare(t, s, "10.0.0.1")

	ts := time.Now()
	for i := 0; i < 3; i++ {
		if err := s.appendAt(ctx, "10.0.0.1", float64(i), 0, ts); err != nil {
			t.Fatalf("appendAt: %v", err)
		}
	}

	// Most recently inserted row wins on equal timestamps.
	sample, err := s.Latest(ctx, "10.0.0.1")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if sample.UploadKbps != 2 {
		t.Errorf("tie-break returned upload %v, want 2", sample.UploadKbps)
	}
}

func TestLatestNoData(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// No table at all.
	if _, err := s.Latest(ctx, "10.0.0.1"); !bwerrors.Is(err, bwerrors.ErrNoData) {
		t.Errorf("missing table: err = %v, want ErrNoData", err)
	}

	// Table exists, no rows.
	mustPrepare(t, s, "10.0.0.1")
	if _, err := s.Latest(ctx, "10.0.0.1"); !bwerrors.Is(err, bwerrors.ErrNoData) {
		t.Errorf("empty table: err = %v, want ErrNoData", err)
	}
}

func TestHistoryWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustPrepare(t, s, "10.0.0.1")

	now := time.Now()
	// Two recent samples inside a 24h window, one stale outside it.
	if err := s.appendAt(ctx, "10.0.0.1", 1, 10, now.Add(-25*time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := s.appendAt(ctx, "10.0.0.1", 2, 20, now.Add(-2*time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := s.appendAt(ctx, "10.0.0.1", 3, 30, now.Add(-1*time.Hour)); err != nil {
		t.Fatal(err)
	}

	samples, err := s.History(ctx, "10.0.0.1", 24)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("expected 2 samples in window, got %d", len(samples))
	}
	// Ascending timestamp order.
	if samples[0].UploadKbps != 2 || samples[1].UploadKbps != 3 {
		t.Errorf("window order wrong: %v then %v", samples[0].UploadKbps, samples[1].UploadKbps)
	}

	// A window covering everything returns all three.
	samples, err = s.History(ctx, "10.0.0.1", 48)
	if err != nil {
		t.Fatalf("History 48h: %v", err)
	}
	if len(samples) != 3 {
		t.Errorf("expected 3 samples in 48h window, got %d", len(samples))
	}
}

func TestHistoryZeroWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustPrepare(t, s, "10.0.0.1")

	if err := s.appendAt(ctx, "10.0.0.1", 1, 1, time.Now().Add(-time.Second)); err != nil {
		t.Fatal(err)
	}

	// Zero hours means "at or after now": nothing older than the call
	// instant may appear.
	samples, err := s.History(ctx, "10.0.0.1", 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(samples) != 0 {
		t.Errorf("zero window returned %d samples", len(samples))
	}
}

func TestHistoryMissingTableIsEmpty(t *testing.T) {
	s := newTestStore(t)

	samples, err := s.History(context.Background(), "10.0.0.1", 24)
	if err != nil {
		t.Fatalf("History on missing table: %v", err)
	}
	if len(samples) != 0 {
		t.Errorf("expected empty history, got %d samples", len(samples))
	}
}

func TestHistoryNegativeWindow(t *testing.T) {
	s := newTestStore(t)

	_, err := s.History(context.Background(), "10.0.0.1", -1)
	if !bwerrors.Is(err, bwerrors.ErrInvalidWindow) {
		t.Errorf("err = %v, want ErrInvalidWindow", err)
	}
}

func TestLatestForAll(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustPrepare(t, s, "10.0.0.1")
	if err := s.Append(ctx, "10.0.0.1", 5, 50); err != nil {
		t.Fatal(err)
	}

	reports, err := s.LatestForAll(ctx, []string{"10.0.0.1", "10.0.0.2"})
	if err != nil {
		t.Fatalf("LatestForAll: %v", err)
	}
	if len(reports) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(reports))
	}
	if !reports["10.0.0.1"].HasData {
		t.Error("10.0.0.1 should have data")
	}
	if reports["10.0.0.1"].Sample.UploadKbps != 5 {
		t.Errorf("upload = %v, want 5", reports["10.0.0.1"].Sample.UploadKbps)
	}
	// One address without data must not fail the batch.
	if reports["10.0.0.2"].HasData {
		t.Error("10.0.0.2 should report no data")
	}
}

func TestLatestForAllStorageFailure(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustPrepare(t, s, "10.0.0.1")
	if err := s.Append(ctx, "10.0.0.1", 5, 50); err != nil {
		t.Fatal(err)
	}

	// A table with the derived name but the wrong shape: lookups against it
	// fail with a storage error, not no-data.
	broken := deriveTableName("10.0.0.9")
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE %s (wrong TEXT)`, broken)); err != nil {
		t.Fatal(err)
	}

	// The batch must fail rather than pass the broken address off as a
	// sender that never reported.
	_, err := s.LatestForAll(ctx, []string{"10.0.0.1", "10.0.0.9"})
	if !bwerrors.IsStorage(err) {
		t.Errorf("err = %v, want storage error", err)
	}
}

// =============================================================================
// Concurrency
// =============================================================================

func TestConcurrentFirstReport(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Two callers race on first-seen detection for the same new address.
	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if err := s.RegisterSender(ctx, "10.0.0.1", "agent"); err != nil {
				errs <- err
				return
			}
			if err := s.EnsureTable(ctx, "10.0.0.1"); err != nil {
				errs <- err
				return
			}
			errs <- s.Append(ctx, "10.0.0.1", float64(n), float64(n))
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("racing submission: %v", err)
		}
	}

	senders, err := s.ListSenders(ctx)
	if err != nil {
		t.Fatalf("ListSenders: %v", err)
	}
	if len(senders) != 1 {
		t.Errorf("expected exactly 1 sender row, got %d", len(senders))
	}

	samples, err := s.History(ctx, "10.0.0.1", 1)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(samples) != 2 {
		t.Errorf("expected both racing samples persisted, got %d", len(samples))
	}
}