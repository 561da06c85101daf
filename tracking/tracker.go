package tracking

import (
	"context"
	"fmt"
	"time"

	"github.com/tidewater-io/tidewater/store"
)

// Blob processing statuses shared by every tracker variant.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Tracking strategies.
const (
	StrategyTags      = "tags"
	StrategyContainer = "container"
	StrategyRegistry  = "registry"
)

// Tracker decides which blobs are eligible, takes exclusive ownership of
// one, and records how processing ended. Three variants trade consistency
// against required store permissions: tag-based and container-move are safe
// across replicas, the local registry is single-replica only.
type Tracker interface {
	// FilterCandidates returns the subset of blobs eligible for processing
	// this cycle. Previously failed blobs are always candidates again.
	FilterCandidates(ctx context.Context, blobs []store.BlobInfo) ([]store.BlobInfo, error)

	// Claim attempts exclusive ownership of the named blob. False means
	// another worker holds it; an unrecoverable store error propagates.
	Claim(ctx context.Context, name string) (bool, error)

	// MarkCompleted records a terminal success on a held claim.
	MarkCompleted(ctx context.Context, name string) error

	// MarkFailed records a terminal failure on a held claim.
	MarkFailed(ctx context.Context, name, reason string) error

	// Release relinquishes the claim without changing terminal state.
	Release(ctx context.Context, name string) error

	// WasLeaseRenewalCompromised reads and clears the renewal-failure flag
	// for the named blob. Consulted right before MarkCompleted so a
	// compromised success is demoted to a failure.
	WasLeaseRenewalCompromised(name string) bool

	// Close releases every claim still held by this tracker.
	Close()
}

// Config carries the inputs common to the tracker variants.
type Config struct {
	Store            store.BlobStore
	Container        string
	ArchiveContainer string
	ErrorContainer   string
	RegistryPath     string
	LeaseDuration    time.Duration
	LeaseRenewal     time.Duration
	Processor        string
}

// New builds the tracker for the configured strategy.
func New(strategy string, cfg Config) (Tracker, error) {
	switch strategy {
	case StrategyTags:
		return NewTagTracker(cfg), nil
	case StrategyContainer:
		return NewContainerTracker(cfg), nil
	case StrategyRegistry:
		return NewRegistryTracker(cfg.RegistryPath, cfg.Processor)
	default:
		return nil, fmt.Errorf("unknown tracking strategy: %s", strategy)
	}
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}
