package lease

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tidewater-io/tidewater/store"
)

// Manager holds a single-writer lease on one blob and keeps it alive with a
// background renewal goroutine. On the first renewal failure the
// owner-supplied callback fires exactly once and renewal stops; the owner is
// expected to treat the claim as compromised from then on.
type Manager struct {
	store     store.BlobStore
	container string
	blob      string
	duration  time.Duration
	renewal   time.Duration
	onFailure func()

	mu    sync.Mutex // guards token
	token string

	lifecycleMu sync.Mutex // protects StartRenewal/StopRenewal
	running     atomic.Bool
	stopCh      chan struct{}
	doneCh      chan struct{}
}

// NewManager creates a Manager for container/blob. onFailure must be
// side-effect-only (it runs on the renewal goroutine); pass the owner's
// compromised-set handle, not the owner itself.
func NewManager(st store.BlobStore, container, blob string, duration, renewal time.Duration, onFailure func()) *Manager {
	if onFailure == nil {
		onFailure = func() {}
	}
	return &Manager{
		store:     st,
		container: container,
		blob:      blob,
		duration:  duration,
		renewal:   renewal,
		onFailure: onFailure,
	}
}

// Acquire asks the store for a lease of the configured duration. Returns the
// token on success and "" when another holder exists; any other store error
// propagates.
func (m *Manager) Acquire(ctx context.Context) (string, error) {
	token, err := m.store.AcquireLease(ctx, m.container, m.blob, m.duration)
	if err != nil {
		if errors.Is(err, store.ErrLeaseConflict) {
			log.Debug().Str("blob", m.blob).Msg("Blob already leased")
			return "", nil
		}
		return "", err
	}
	m.mu.Lock()
	m.token = token
	m.mu.Unlock()
	log.Debug().Str("blob", m.blob).Str("lease", token).Msg("Acquired lease")
	return token, nil
}

// Renew extends the current lease. Failure propagates to the caller.
func (m *Manager) Renew(ctx context.Context) error {
	return m.store.RenewLease(ctx, m.container, m.blob, m.Token())
}

// Release relinquishes the lease. A lease that is already gone counts as
// released.
func (m *Manager) Release(ctx context.Context) error {
	m.mu.Lock()
	token := m.token
	m.token = ""
	m.mu.Unlock()
	if token == "" {
		return nil
	}
	err := m.store.ReleaseLease(ctx, m.container, m.blob, token)
	if err != nil && !errors.Is(err, store.ErrLeaseNotHeld) {
		return err
	}
	if err != nil {
		log.Debug().Str("blob", m.blob).Msg("Lease already expired or released")
	}
	return nil
}

// Token returns the current lease token, or "" when no lease is held.
func (m *Manager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// Forget clears the token without calling the store. Used after the leased
// blob has been deleted, which releases the lease server-side.
func (m *Manager) Forget() {
	m.mu.Lock()
	m.token = ""
	m.mu.Unlock()
}

// StartRenewal schedules Renew at the configured interval on a dedicated
// goroutine. The first failed renewal invokes the failure callback once and
// ends the loop.
func (m *Manager) StartRenewal() {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	if m.running.Load() {
		return
	}
	m.running.Store(true)
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})

	go m.renewLoop(m.stopCh, m.doneCh)
}

// StopRenewal cancels the renewal goroutine and waits for it to exit.
// Idempotent.
func (m *Manager) StopRenewal() {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	if !m.running.Load() {
		return
	}
	close(m.stopCh)
	<-m.doneCh
	m.running.Store(false)
}

func (m *Manager) renewLoop(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(m.renewal)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.renewal)
			err := m.Renew(ctx)
			cancel()
			if err != nil {
				log.Warn().Err(err).Str("blob", m.blob).Msg("Lease renewal failed, invoking failure callback")
				m.onFailure()
				return
			}
			log.Debug().Str("blob", m.blob).Msg("Renewed lease")
		}
	}
}
