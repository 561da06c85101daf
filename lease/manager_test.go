package lease

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidewater-io/tidewater/store"
)

func newLeasedBlob(t *testing.T) *store.MemoryStore {
	t.Helper()
	ms := store.NewMemoryStore()
	ms.PutBlob("logs", "a.log", []byte("x"))
	return ms
}

func TestAcquireAndRelease(t *testing.T) {
	ms := newLeasedBlob(t)
	m := NewManager(ms, "logs", "a.log", 15*time.Second, 10*time.Second, nil)
	ctx := context.Background()

	token, err := m.Acquire(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.Equal(t, token, m.Token())

	require.NoError(t, m.Release(ctx))
	assert.Empty(t, m.Token())
}

func TestAcquireConflictReturnsEmptyToken(t *testing.T) {
	ms := newLeasedBlob(t)
	ctx := context.Background()

	first := NewManager(ms, "logs", "a.log", 15*time.Second, 10*time.Second, nil)
	_, err := first.Acquire(ctx)
	require.NoError(t, err)

	second := NewManager(ms, "logs", "a.log", 15*time.Second, 10*time.Second, nil)
	token, err := second.Acquire(ctx)
	require.NoError(t, err)
	assert.Empty(t, token)
}

func TestReleaseSwallowsLeaseAlreadyGone(t *testing.T) {
	ms := newLeasedBlob(t)
	m := NewManager(ms, "logs", "a.log", 15*time.Second, 10*time.Second, nil)
	ctx := context.Background()

	_, err := m.Acquire(ctx)
	require.NoError(t, err)

	// The lease expired server-side (simulated); release still succeeds.
	ms.BreakLease("logs", "a.log")
	assert.NoError(t, m.Release(ctx))

	// Releasing with no lease held at all is a no-op.
	assert.NoError(t, m.Release(ctx))
}

func TestRenewalKeepsLeaseAlive(t *testing.T) {
	ms := newLeasedBlob(t)
	m := NewManager(ms, "logs", "a.log", 15*time.Second, 20*time.Millisecond, nil)
	ctx := context.Background()

	_, err := m.Acquire(ctx)
	require.NoError(t, err)

	m.StartRenewal()
	time.Sleep(70 * time.Millisecond)
	m.StopRenewal()

	// Still held: a competing acquire must conflict.
	other := NewManager(ms, "logs", "a.log", 15*time.Second, 10*time.Second, nil)
	token, err := other.Acquire(ctx)
	require.NoError(t, err)
	assert.Empty(t, token)

	require.NoError(t, m.Release(ctx))
}

func TestRenewalFailureInvokesCallbackOnce(t *testing.T) {
	ms := newLeasedBlob(t)

	var failures atomic.Int32
	m := NewManager(ms, "logs", "a.log", 15*time.Second, 10*time.Millisecond,
		func() { failures.Add(1) })
	ctx := context.Background()

	_, err := m.Acquire(ctx)
	require.NoError(t, err)

	ms.RenewErr = errors.New("boom")
	m.StartRenewal()

	// Several renewal periods pass; the callback must fire exactly once
	// because the loop stops after the first failure.
	assert.Eventually(t, func() bool { return failures.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), failures.Load())

	m.StopRenewal()
}

func TestStopRenewalIdempotent(t *testing.T) {
	ms := newLeasedBlob(t)
	m := NewManager(ms, "logs", "a.log", 15*time.Second, 10*time.Millisecond, nil)

	_, err := m.Acquire(context.Background())
	require.NoError(t, err)

	m.StopRenewal() // never started
	m.StartRenewal()
	m.StopRenewal()
	m.StopRenewal()
}

func TestForgetClearsTokenWithoutStoreCall(t *testing.T) {
	ms := newLeasedBlob(t)
	m := NewManager(ms, "logs", "a.log", 15*time.Second, 10*time.Second, nil)
	ctx := context.Background()

	token, err := m.Acquire(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	m.Forget()
	assert.Empty(t, m.Token())

	// The store still sees the lease; only the local handle was dropped.
	_, err = ms.AcquireLease(ctx, "logs", "a.log", 15*time.Second)
	assert.ErrorIs(t, err, store.ErrLeaseConflict)
}
