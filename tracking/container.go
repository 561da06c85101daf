package tracking

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tidewater-io/tidewater/lease"
	"github.com/tidewater-io/tidewater/store"
)

// ContainerTracker keeps processing state implicit in which container a blob
// lives in: new blobs sit in incoming, completed ones move to archive,
// failed ones to errors. Leases coordinate replicas; needs copy and delete
// permission on the store.
//
// Crash recovery: a blob present in both incoming and archive was fully
// processed: the copy landed but the delete did not. FilterCandidates
// excludes it; the leftover incoming copy is not touched.
type ContainerTracker struct {
	store         store.BlobStore
	incoming      string
	archive       string
	errContainer  string
	leaseDuration time.Duration
	leaseRenewal  time.Duration
	processor     string
	leases        *leaseTable
}

// NewContainerTracker creates a container-move tracker.
func NewContainerTracker(cfg Config) *ContainerTracker {
	t := &ContainerTracker{
		store:         cfg.Store,
		incoming:      cfg.Container,
		archive:       cfg.ArchiveContainer,
		errContainer:  cfg.ErrorContainer,
		leaseDuration: cfg.LeaseDuration,
		leaseRenewal:  cfg.LeaseRenewal,
		processor:     cfg.Processor,
		leases:        newLeaseTable(),
	}
	log.Info().
		Str("processor", cfg.Processor).
		Str("incoming", t.incoming).
		Str("archive", t.archive).
		Str("errors", t.errContainer).
		Msg("Container state tracker initialized")
	return t
}

// FilterCandidates probes the archive container once per incoming blob and
// excludes names already archived. The probe is per-blob so the cost scales
// with the page, not with the archive.
func (t *ContainerTracker) FilterCandidates(ctx context.Context, blobs []store.BlobInfo) ([]store.BlobInfo, error) {
	candidates := make([]store.BlobInfo, 0, len(blobs))
	for _, blob := range blobs {
		archived, err := t.store.Exists(ctx, t.archive, blob.Name)
		if err != nil {
			return nil, fmt.Errorf("probe archive for %s: %w", blob.Name, err)
		}
		if archived {
			log.Debug().Str("blob", blob.Name).Msg("Excluding blob already present in archive")
			continue
		}
		candidates = append(candidates, blob)
	}
	return candidates, nil
}

// Claim acquires a lease on the incoming blob and starts renewal. False on
// lease conflict.
func (t *ContainerTracker) Claim(ctx context.Context, name string) (bool, error) {
	leases := t.leases
	lm := lease.NewManager(t.store, t.incoming, name, t.leaseDuration, t.leaseRenewal,
		func() { leases.markCompromised(name) })

	token, err := lm.Acquire(ctx)
	if err != nil {
		return false, err
	}
	if token == "" {
		return false, nil
	}

	lm.StartRenewal()
	t.leases.put(name, lm)
	log.Debug().Str("blob", name).Str("lease", token).Msg("Claimed blob")
	return true, nil
}

// MarkCompleted moves the blob to the archive container.
func (t *ContainerTracker) MarkCompleted(ctx context.Context, name string) error {
	return t.moveOut(ctx, name, t.archive)
}

// MarkFailed moves the blob to the errors container.
func (t *ContainerTracker) MarkFailed(ctx context.Context, name, reason string) error {
	log.Debug().Str("blob", name).Str("reason", reason).Msg("Marking blob failed")
	return t.moveOut(ctx, name, t.errContainer)
}

// moveOut copies incoming/name to dst/name, waits for the copy, then deletes
// the incoming blob under the held lease token. Copy-before-delete is
// mandatory: a failed copy leaves the blob in incoming for retry, and a
// failed delete after a good copy is caught by the archive probe next cycle.
// Deleting the blob releases its lease server-side, so no explicit lease
// release follows a terminal mark.
func (t *ContainerTracker) moveOut(ctx context.Context, name, dst string) error {
	lm, ok := t.leases.get(name)
	if !ok || lm.Token() == "" {
		return fmt.Errorf("no lease held for blob %s, refusing to move it", name)
	}

	if err := t.store.Copy(ctx, t.incoming, dst, name); err != nil {
		return fmt.Errorf("copy %s to %s: %w", name, dst, err)
	}
	log.Debug().Str("blob", name).Str("destination", dst).Msg("Copied blob")

	if err := t.store.Delete(ctx, t.incoming, name, lm.Token()); err != nil {
		return fmt.Errorf("delete %s from incoming: %w", name, err)
	}

	lm.StopRenewal()
	lm.Forget()
	t.leases.take(name)
	log.Debug().Str("blob", name).Str("destination", dst).Msg("Moved blob out of incoming")
	return nil
}

// Release stops renewal and gives the lease back. After a terminal mark the
// entry is already gone (the blob's deletion released the lease), so an
// absent entry is a quiet no-op.
func (t *ContainerTracker) Release(ctx context.Context, name string) error {
	lm, ok := t.leases.take(name)
	if !ok {
		log.Debug().Str("blob", name).Msg("No active lease during release, nothing to do")
		return nil
	}
	lm.StopRenewal()
	if err := lm.Release(ctx); err != nil {
		return fmt.Errorf("release lease for %s: %w", name, err)
	}
	log.Debug().Str("blob", name).Msg("Released lease")
	return nil
}

func (t *ContainerTracker) WasLeaseRenewalCompromised(name string) bool {
	return t.leases.wasCompromised(name)
}

// Close releases every lease still held.
func (t *ContainerTracker) Close() {
	t.leases.releaseAll(context.Background())
	log.Info().Msg("Container state tracker closed")
}
