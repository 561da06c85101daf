package tracking

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tidewater-io/tidewater/lease"
	"github.com/tidewater-io/tidewater/store"
)

// Reserved index tag keys. Five of the ten tags the store allows per blob;
// user-defined tags on the same blob are preserved across every write.
const (
	TagStatus    = "logstash_status"
	TagProcessor = "logstash_processor"
	TagStarted   = "logstash_started"
	TagCompleted = "logstash_completed"
	TagError     = "logstash_error"
)

// maxErrorLength caps the logstash_error tag value.
const maxErrorLength = 256

// Index tag values only allow alphanumerics, space, and +-./:=_
var errorTagDisallowed = regexp.MustCompile(`[^A-Za-z0-9 +\-./:=_]`)

// TagTracker keeps processing state in blob index tags, coordinated across
// replicas with per-blob leases. Needs tag-write permission on the store.
type TagTracker struct {
	store         store.BlobStore
	container     string
	leaseDuration time.Duration
	leaseRenewal  time.Duration
	processor     string
	leases        *leaseTable
}

// NewTagTracker creates a tag-based tracker.
func NewTagTracker(cfg Config) *TagTracker {
	t := &TagTracker{
		store:         cfg.Store,
		container:     cfg.Container,
		leaseDuration: cfg.LeaseDuration,
		leaseRenewal:  cfg.LeaseRenewal,
		processor:     cfg.Processor,
		leases:        newLeaseTable(),
	}
	log.Info().Str("processor", cfg.Processor).Msg("Tag state tracker initialized")
	return t
}

// FilterCandidates includes a blob iff its status tag is absent, empty, or
// "failed". Tags prefetched on the listing are trusted; a per-blob read is
// the fallback when the listing carried none. A blob whose tags cannot be
// read is skipped this cycle, not failed.
func (t *TagTracker) FilterCandidates(ctx context.Context, blobs []store.BlobInfo) ([]store.BlobInfo, error) {
	candidates := make([]store.BlobInfo, 0, len(blobs))
	for _, blob := range blobs {
		tags := blob.Tags
		if tags == nil {
			var err error
			tags, err = t.store.GetTags(ctx, t.container, blob.Name)
			if err != nil {
				log.Warn().Err(err).Str("blob", blob.Name).Msg("Failed to read tags, skipping blob")
				continue
			}
		}
		status := tags[TagStatus]
		if status == "" || status == StatusFailed {
			candidates = append(candidates, blob)
		} else {
			log.Debug().Str("blob", blob.Name).Str("status", status).Msg("Excluding blob")
		}
	}
	return candidates, nil
}

// Claim acquires a lease on the blob, then writes the reserved tags with the
// lease token as a write condition. A lease conflict or a tag-write
// precondition failure means another replica got there first.
func (t *TagTracker) Claim(ctx context.Context, name string) (bool, error) {
	lm := t.newLease(name)

	token, err := lm.Acquire(ctx)
	if err != nil {
		return false, err
	}
	if token == "" {
		return false, nil
	}

	existing, err := t.store.GetTags(ctx, t.container, name)
	if err == nil {
		merged := mergeTags(existing, map[string]string{
			TagStatus:    StatusProcessing,
			TagProcessor: t.processor,
			TagStarted:   nowISO(),
		})
		err = t.store.SetTags(ctx, t.container, name, merged, token)
	}
	if err != nil {
		if releaseErr := lm.Release(ctx); releaseErr != nil {
			log.Warn().Err(releaseErr).Str("blob", name).Msg("Error releasing lease after failed claim")
		}
		if errors.Is(err, store.ErrPreconditionFailed) {
			log.Debug().Str("blob", name).Msg("Precondition failed setting claim tags, releasing lease")
			return false, nil
		}
		return false, err
	}

	lm.StartRenewal()
	t.leases.put(name, lm)
	log.Debug().Str("blob", name).Str("lease", token).Msg("Claimed blob")
	return true, nil
}

// MarkCompleted sets status=completed with a completion timestamp, drops the
// started and error tags, and preserves user tags.
func (t *TagTracker) MarkCompleted(ctx context.Context, name string) error {
	existing, err := t.store.GetTags(ctx, t.container, name)
	if err != nil {
		return err
	}
	merged := mergeTags(existing, map[string]string{
		TagStatus:    StatusCompleted,
		TagCompleted: nowISO(),
		TagProcessor: t.processor,
	})
	delete(merged, TagStarted)
	delete(merged, TagError)

	if err := t.store.SetTags(ctx, t.container, name, merged, t.heldToken(name)); err != nil {
		return err
	}
	log.Debug().Str("blob", name).Msg("Marked blob completed")
	return nil
}

// MarkFailed sets status=failed with a sanitized, truncated error value.
func (t *TagTracker) MarkFailed(ctx context.Context, name, reason string) error {
	existing, err := t.store.GetTags(ctx, t.container, name)
	if err != nil {
		return err
	}
	merged := mergeTags(existing, map[string]string{
		TagStatus:    StatusFailed,
		TagError:     sanitizeErrorTag(reason),
		TagProcessor: t.processor,
	})

	if err := t.store.SetTags(ctx, t.container, name, merged, t.heldToken(name)); err != nil {
		return err
	}
	log.Debug().Str("blob", name).Str("error", merged[TagError]).Msg("Marked blob failed")
	return nil
}

// Release stops renewal and gives the lease back.
func (t *TagTracker) Release(ctx context.Context, name string) error {
	lm, ok := t.leases.take(name)
	if !ok {
		log.Warn().Str("blob", name).Msg("No active lease found during release")
		return nil
	}
	lm.StopRenewal()
	if err := lm.Release(ctx); err != nil {
		return fmt.Errorf("release lease for %s: %w", name, err)
	}
	log.Debug().Str("blob", name).Msg("Released lease")
	return nil
}

func (t *TagTracker) WasLeaseRenewalCompromised(name string) bool {
	return t.leases.wasCompromised(name)
}

// Close releases every lease still held.
func (t *TagTracker) Close() {
	t.leases.releaseAll(context.Background())
	log.Info().Msg("Tag state tracker closed")
}

func (t *TagTracker) newLease(name string) *lease.Manager {
	leases := t.leases
	return lease.NewManager(t.store, t.container, name,
		t.leaseDuration, t.leaseRenewal,
		func() { leases.markCompromised(name) })
}

func (t *TagTracker) heldToken(name string) string {
	if lm, ok := t.leases.get(name); ok {
		return lm.Token()
	}
	return ""
}

func mergeTags(existing, updates map[string]string) map[string]string {
	merged := make(map[string]string, len(existing)+len(updates))
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range updates {
		merged[k] = v
	}
	return merged
}

// sanitizeErrorTag maps a failure reason onto the tag value alphabet and
// truncates it to the tag value limit. An empty reason becomes "unknown".
func sanitizeErrorTag(reason string) string {
	if reason == "" {
		return "unknown"
	}
	sanitized := errorTagDisallowed.ReplaceAllString(reason, "_")
	if len(sanitized) > maxErrorLength {
		sanitized = sanitized[:maxErrorLength]
	}
	return sanitized
}
