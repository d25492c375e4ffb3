package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mizusense/suimon/internal/auth"
	"github.com/mizusense/suimon/internal/server/db"
)

func newTestCoordinator(t *testing.T) (*Coordinator, *db.Store) {
	t.Helper()
	store, err := db.NewStore(":memory:")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewCoordinator(store), store
}

func seedDevice(t *testing.T, store *db.Store, id string) {
	t.Helper()
	if err := store.CreateDevice(&db.Device{DeviceID: id, Label: "sensor " + id, Active: true}); err != nil {
		t.Fatalf("CreateDevice: %v", err)
	}
}

func ident(sub string) *auth.Identity {
	return &auth.Identity{Subject: sub, TokenUse: auth.TokenUseID}
}

func TestClaimHappyPath(t *testing.T) {
	c, store := newTestCoordinator(t)
	seedDevice(t, store, "D1")

	got, err := c.Claim(context.Background(), ident("U1"), "D1", 35.0, 139.0)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if got.Status != db.StatusClaimed {
		t.Errorf("Status = %q, want claimed", got.Status)
	}
	if got.Lat == nil || *got.Lat != 35.0 || got.Lon == nil || *got.Lon != 139.0 {
		t.Errorf("position = %v/%v, want 35/139", got.Lat, got.Lon)
	}
	if got.Ownership == nil || got.Ownership.UserID != "U1" || !got.Ownership.Active {
		t.Fatalf("ownership = %+v", got.Ownership)
	}
	if got.Ownership.OwnershipType != "owner" {
		t.Errorf("OwnershipType = %q", got.Ownership.OwnershipType)
	}

	// A second identity is turned away.
	if _, err := c.Claim(context.Background(), ident("U2"), "D1", 1, 2); !errors.Is(err, ErrDeviceAlreadyClaimed) {
		t.Fatalf("second claim err = %v, want ErrDeviceAlreadyClaimed", err)
	}
}

func TestClaimDeviceNotFound(t *testing.T) {
	c, _ := newTestCoordinator(t)

	if _, err := c.Claim(context.Background(), ident("U1"), "ghost", 0, 0); !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("err = %v, want ErrDeviceNotFound", err)
	}
}

func TestClaimSameUserTwice(t *testing.T) {
	c, store := newTestCoordinator(t)
	seedDevice(t, store, "D1")

	if _, err := c.Claim(context.Background(), ident("U1"), "D1", 35.0, 139.0); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	// Re-claim by the holder is a conflict, not an upsert.
	if _, err := c.Claim(context.Background(), ident("U1"), "D1", 35.0, 139.0); !errors.Is(err, ErrDeviceAlreadyClaimed) {
		t.Fatalf("re-claim err = %v, want ErrDeviceAlreadyClaimed", err)
	}
}

func TestClaimConcurrentSingleWinner(t *testing.T) {
	c, store := newTestCoordinator(t)
	seedDevice(t, store, "D1")

	const n = 12
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.Claim(context.Background(), ident("user-"+string(rune('a'+i))), "D1", 35.0, 139.0)
		}(i)
	}
	wg.Wait()

	var wins int
	for i, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrDeviceAlreadyClaimed):
		default:
			t.Fatalf("claim %d: %v", i, err)
		}
	}
	if wins != 1 {
		t.Fatalf("wins = %d, want exactly 1", wins)
	}

	own, err := store.ActiveOwnership("D1")
	if err != nil {
		t.Fatalf("ActiveOwnership: %v", err)
	}
	if own == nil {
		t.Fatal("no active ownership recorded")
	}
}

func TestDeviceView(t *testing.T) {
	c, store := newTestCoordinator(t)
	seedDevice(t, store, "D1")

	view, err := c.Device("D1")
	if err != nil {
		t.Fatalf("Device: %v", err)
	}
	if view.Ownership != nil {
		t.Fatalf("unclaimed device has ownership %+v", view.Ownership)
	}

	if _, err := c.Claim(context.Background(), ident("U1"), "D1", 35.0, 139.0); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	view, err = c.Device("D1")
	if err != nil {
		t.Fatalf("Device after claim: %v", err)
	}
	if view.Ownership == nil || view.Ownership.UserID != "U1" {
		t.Fatalf("ownership = %+v", view.Ownership)
	}

	if _, err := c.Device("ghost"); !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("err = %v, want ErrDeviceNotFound", err)
	}
}

func TestOwned(t *testing.T) {
	c, store := newTestCoordinator(t)
	seedDevice(t, store, "D1")
	seedDevice(t, store, "D2")
	seedDevice(t, store, "D3")

	ctx := context.Background()
	if _, err := c.Claim(ctx, ident("U1"), "D1", 1, 1); err != nil {
		t.Fatalf("Claim D1: %v", err)
	}
	if _, err := c.Claim(ctx, ident("U1"), "D3", 2, 2); err != nil {
		t.Fatalf("Claim D3: %v", err)
	}
	if _, err := c.Claim(ctx, ident("U2"), "D2", 3, 3); err != nil {
		t.Fatalf("Claim D2: %v", err)
	}

	owned, err := c.Owned("U1")
	if err != nil {
		t.Fatalf("Owned: %v", err)
	}
	if len(owned) != 2 {
		t.Fatalf("owned = %d devices, want 2", len(owned))
	}
	// Newest first
	if owned[0].DeviceID != "D3" || owned[1].DeviceID != "D1" {
		t.Errorf("order = %s, %s", owned[0].DeviceID, owned[1].DeviceID)
	}
}

func TestRetryAllocRecoversFromTransientConflict(t *testing.T) {
	var slept []time.Duration
	c := &Coordinator{sleep: func(_ context.Context, d time.Duration) { slept = append(slept, d) }}

	calls := 0
	err := c.retryAlloc(context.Background(), "D1", func() error {
		calls++
		if calls <= 2 {
			return db.ErrAllocationConflict
		}
		return nil
	})
	if err != nil {
		t.Fatalf("retryAlloc: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	if len(slept) != 2 {
		t.Fatalf("backoffs = %d, want 2", len(slept))
	}
	if slept[1] <= slept[0] {
		t.Fatalf("backoff did not grow: %v", slept)
	}
}

func TestRetryAllocExhausted(t *testing.T) {
	c := &Coordinator{sleep: func(context.Context, time.Duration) {}}

	calls := 0
	err := c.retryAlloc(context.Background(), "D1", func() error {
		calls++
		return db.ErrAllocationConflict
	})
	if !errors.Is(err, ErrAllocationConflict) {
		t.Fatalf("err = %v, want ErrAllocationConflict", err)
	}
	if calls != allocRetries+1 {
		t.Fatalf("calls = %d, want %d", calls, allocRetries+1)
	}
}

func TestRetryAllocSurfacesOtherErrors(t *testing.T) {
	c := &Coordinator{sleep: func(context.Context, time.Duration) {
		t.Fatal("unexpected backoff for a non-conflict error")
	}}

	boom := errors.New("disk on fire")
	calls := 0
	err := c.retryAlloc(context.Background(), "D1", func() error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}
