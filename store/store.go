package store

import (
	"context"
	"errors"
	"io"
	"time"
)

// Error kinds surfaced by BlobStore implementations. Callers branch with
// errors.Is; the concrete store wraps its SDK errors into these.
var (
	// ErrLeaseConflict means the blob is leased by another holder (HTTP 409).
	ErrLeaseConflict = errors.New("blob lease conflict")

	// ErrPreconditionFailed means a lease-conditioned write was rejected (HTTP 412).
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrNotFound means the blob or container does not exist (HTTP 404).
	ErrNotFound = errors.New("blob not found")

	// ErrLeaseNotHeld means a lease operation referenced a lease that has
	// already expired or been released.
	ErrLeaseNotHeld = errors.New("lease not held")
)

// BlobInfo describes a blob as observed on a listing or open call.
// Tags is nil when the listing did not include tags; trackers that need
// tags fall back to GetTags in that case.
type BlobInfo struct {
	Name         string
	Size         int64
	LastModified time.Time
	Tags         map[string]string
}

// ListOptions bounds a listing call.
type ListOptions struct {
	Prefix      string
	PageSize    int32
	IncludeTags bool
}

// Pager iterates a blob listing page by page in the store's natural
// (lexicographic) order. Memory stays bounded to one page.
type Pager interface {
	More() bool
	NextPage(ctx context.Context) ([]BlobInfo, error)
}

// BlobStore is the object-store port consumed by the trackers, the lease
// manager and the poller. Implementations: azure.Store and MemoryStore.
type BlobStore interface {
	// List returns a pager over blobs in container.
	List(container string, opts ListOptions) Pager

	// Open returns the blob's byte stream along with its properties.
	Open(ctx context.Context, container, name string) (io.ReadCloser, BlobInfo, error)

	// GetTags reads the blob's index tags.
	GetTags(ctx context.Context, container, name string) (map[string]string, error)

	// SetTags replaces the blob's index tags. A non-empty leaseID is sent as
	// a write condition; a mismatch surfaces as ErrPreconditionFailed.
	SetTags(ctx context.Context, container, name string, tags map[string]string, leaseID string) error

	// Exists probes whether a blob with the given name is present in container.
	Exists(ctx context.Context, container, name string) (bool, error)

	// Copy performs a server-side copy of srcContainer/name to
	// dstContainer/name and waits for the copy to complete.
	Copy(ctx context.Context, srcContainer, dstContainer, name string) error

	// Delete removes the blob. A non-empty leaseID is sent as a write
	// condition. Deleting a leased blob releases its lease.
	Delete(ctx context.Context, container, name string, leaseID string) error

	// AcquireLease takes an exclusion token on the blob for the given
	// duration. Returns ErrLeaseConflict when another holder exists.
	AcquireLease(ctx context.Context, container, name string, duration time.Duration) (string, error)

	// RenewLease extends the lease identified by leaseID.
	RenewLease(ctx context.Context, container, name, leaseID string) error

	// ReleaseLease relinquishes the lease. Returns ErrLeaseNotHeld when the
	// lease has already expired or been released.
	ReleaseLease(ctx context.Context, container, name, leaseID string) error
}
