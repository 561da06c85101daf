package tracking

import (
	"context"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"

	"github.com/tidewater-io/tidewater/lease"
	"github.com/tidewater-io/tidewater/telemetry"
)

// leaseTable tracks the live lease manager per claimed blob plus the set of
// blobs whose renewal has failed. Workers and renewal goroutines mutate it
// concurrently, so both maps are lock-free concurrent maps.
type leaseTable struct {
	active      *xsync.MapOf[string, *lease.Manager]
	compromised *xsync.MapOf[string, struct{}]
}

func newLeaseTable() *leaseTable {
	return &leaseTable{
		active:      xsync.NewMapOf[string, *lease.Manager](),
		compromised: xsync.NewMapOf[string, struct{}](),
	}
}

func (t *leaseTable) put(name string, m *lease.Manager) {
	t.active.Store(name, m)
	telemetry.ActiveLeases.Inc()
}

func (t *leaseTable) get(name string) (*lease.Manager, bool) {
	return t.active.Load(name)
}

// take removes and returns the lease manager for name, if any.
func (t *leaseTable) take(name string) (*lease.Manager, bool) {
	m, found := t.active.LoadAndDelete(name)
	if found {
		telemetry.ActiveLeases.Dec()
	}
	return m, found
}

// markCompromised records a renewal failure. Safe to call from the renewal
// goroutine; it only flips a flag.
func (t *leaseTable) markCompromised(name string) {
	t.compromised.Store(name, struct{}{})
}

// wasCompromised reads and clears the renewal-failure flag for name.
func (t *leaseTable) wasCompromised(name string) bool {
	_, found := t.compromised.LoadAndDelete(name)
	return found
}

// releaseAll stops renewal and releases every lease still in the table,
// swallowing per-lease errors so shutdown always drains the whole map.
func (t *leaseTable) releaseAll(ctx context.Context) {
	t.active.Range(func(name string, m *lease.Manager) bool {
		m.StopRenewal()
		if err := m.Release(ctx); err != nil {
			log.Warn().Err(err).Str("blob", name).Msg("Error releasing lease during close")
		} else {
			log.Debug().Str("blob", name).Msg("Released lease during close")
		}
		t.active.Delete(name)
		telemetry.ActiveLeases.Dec()
		return true
	})
	t.compromised.Clear()
}
