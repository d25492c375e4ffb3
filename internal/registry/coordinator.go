// Package registry coordinates device claims: catalog lookup, ownership
// ledger checks, id allocation, and the ledger write as one logical
// operation.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mizusense/suimon/internal/auth"
	"github.com/mizusense/suimon/internal/logx"
	"github.com/mizusense/suimon/internal/server/db"
)

var (
	ErrDeviceNotFound = errors.New("device not found")

	// Conflict errors surface straight from the ledger write.
	ErrDeviceAlreadyClaimed = db.ErrDeviceAlreadyClaimed
	ErrAllocationConflict   = db.ErrAllocationConflict
)

// allocRetries bounds the internal retry on id-allocation conflicts before
// the failure is surfaced to the caller.
const allocRetries = 3

// ClaimedDevice is the merged catalog + ledger view returned to claimants.
type ClaimedDevice struct {
	db.Device
	Ownership *db.Ownership `json:"ownership,omitempty"`
}

// Coordinator executes claims against the catalog and ownership ledger. It
// holds no lock of its own; the single-owner invariant is enforced by the
// store's conditional write.
type Coordinator struct {
	store *db.Store
	now   func() time.Time
	sleep func(context.Context, time.Duration)
}

// NewCoordinator returns a coordinator over the given store.
func NewCoordinator(store *db.Store) *Coordinator {
	return &Coordinator{
		store: store,
		now:   time.Now,
		sleep: sleepCtx,
	}
}

// retryAlloc runs fn, absorbing transient allocation conflicts with a short
// backoff. Any other error, or a conflict persisting past allocRetries
// retries, is returned to the caller.
func (c *Coordinator) retryAlloc(ctx context.Context, deviceID string, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrAllocationConflict) && attempt < allocRetries {
			logx.Debugf("claim %s: allocation conflict, retrying (attempt %d)", deviceID, attempt+1)
			c.sleep(ctx, time.Duration(attempt+1)*10*time.Millisecond)
			continue
		}
		return err
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Claim assigns the device to the identity and stamps the claimant's
// position on the catalog entry. Exactly one of two concurrent claims for
// the same device succeeds; the other observes ErrDeviceAlreadyClaimed.
func (c *Coordinator) Claim(ctx context.Context, ident *auth.Identity, deviceID string, lat, lon float64) (*ClaimedDevice, error) {
	dev, err := c.store.GetDevice(deviceID)
	if err != nil {
		return nil, err
	}
	if dev == nil {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	}

	// First-come-first-served: an existing active claim blocks everyone,
	// including the holder re-claiming. The ledger insert below re-checks
	// this under the unique index, so a stale read here cannot let two
	// claims through.
	existing, err := c.store.ActiveOwnership(deviceID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrDeviceAlreadyClaimed
	}

	var own *db.Ownership
	err = c.retryAlloc(ctx, deviceID, func() error {
		own, err = c.store.CreateOwnership(ident.Subject, deviceID, lat, lon, c.now())
		return err
	})
	if err != nil {
		return nil, err
	}

	claimed, err := c.store.GetDevice(deviceID)
	if err != nil {
		return nil, err
	}
	logx.Infof("device %s claimed by %s (ownership %d)", deviceID, ident.Subject, own.OwnershipID)
	return &ClaimedDevice{Device: *claimed, Ownership: own}, nil
}

// Device returns the merged catalog + ledger view for one device.
func (c *Coordinator) Device(deviceID string) (*ClaimedDevice, error) {
	dev, err := c.store.GetDevice(deviceID)
	if err != nil {
		return nil, err
	}
	if dev == nil {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	}
	own, err := c.store.ActiveOwnership(deviceID)
	if err != nil {
		return nil, err
	}
	return &ClaimedDevice{Device: *dev, Ownership: own}, nil
}

// Owned returns the devices a user holds active claims on.
func (c *Coordinator) Owned(userID string) ([]ClaimedDevice, error) {
	owns, err := c.store.ListOwnershipsByUser(userID)
	if err != nil {
		return nil, err
	}
	out := make([]ClaimedDevice, 0, len(owns))
	for i := range owns {
		dev, err := c.store.GetDevice(owns[i].DeviceID)
		if err != nil {
			return nil, err
		}
		if dev == nil {
			continue
		}
		out = append(out, ClaimedDevice{Device: *dev, Ownership: &owns[i]})
	}
	return out, nil
}
