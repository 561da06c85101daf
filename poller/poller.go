package poller

import (
	"context"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"github.com/rs/zerolog/log"

	"github.com/tidewater-io/tidewater/store"
	"github.com/tidewater-io/tidewater/stream"
	"github.com/tidewater-io/tidewater/telemetry"
	"github.com/tidewater-io/tidewater/tracking"
)

// listingPageSize bounds memory per poll cycle to one listing page.
const listingPageSize = 5000

// Summary reports one poll cycle's outcome.
type Summary struct {
	BlobsProcessed int
	BlobsFailed    int
	BlobsSkipped   int
	EventsProduced int64
	DurationMS     int64
}

// Config wires a Poller.
type Config struct {
	Store     store.BlobStore
	Container string
	Tracker   tracking.Tracker
	Streamer  *stream.Streamer

	// Emit receives every event. It must be safe for concurrent calls from
	// the worker pool.
	Emit func(stream.Event)

	Prefix      string
	NameGlob    glob.Glob // optional, nil matches everything
	BatchSize   int
	Concurrency int

	// PrefetchTags asks the listing to include index tags so the tracker's
	// filter can avoid per-blob tag reads.
	PrefetchTags bool
}

// Poller runs poll cycles: discover and claim sequentially, process in
// parallel, mark and release every claimed blob. It owns a fixed-size worker
// pool but no loop thread; the caller invokes PollOnce and sleeps between
// cycles.
type Poller struct {
	cfg Config
}

// New creates a Poller.
func New(cfg Config) *Poller {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Poller{cfg: cfg}
}

// PollOnce performs one cycle. Listing and filter errors propagate; per-blob
// processing errors are absorbed into the summary as failed blobs. The
// stopped predicate is honoured before each claim and between lines during
// streaming.
func (p *Poller) PollOnce(ctx context.Context, stopped func() bool) (Summary, error) {
	start := time.Now()

	claimed, skipped, err := p.discover(ctx, stopped)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{BlobsSkipped: skipped}
	if len(claimed) > 0 {
		processed, failed, events := p.processAll(ctx, claimed, stopped)
		summary.BlobsProcessed = processed
		summary.BlobsFailed = failed
		summary.EventsProduced = events
	}
	summary.DurationMS = time.Since(start).Milliseconds()

	telemetry.BlobsProcessed.Add(float64(summary.BlobsProcessed))
	telemetry.BlobsFailed.Add(float64(summary.BlobsFailed))
	telemetry.BlobsSkipped.Add(float64(summary.BlobsSkipped))
	telemetry.EventsProduced.Add(float64(summary.EventsProduced))
	telemetry.PollCycleSeconds.Observe(time.Since(start).Seconds())

	log.Debug().
		Int("processed", summary.BlobsProcessed).
		Int("failed", summary.BlobsFailed).
		Int("skipped", summary.BlobsSkipped).
		Int64("events", summary.EventsProduced).
		Int64("duration_ms", summary.DurationMS).
		Msg("Poll cycle complete")
	return summary, nil
}

// discover lists the container page by page, filters each page through the
// tracker, and claims survivors until the batch is full, the listing is
// exhausted, or a stop is observed. Claims run sequentially so workers of
// one replica never race each other for a blob. The listing's natural
// lexicographic order is kept as-is.
func (p *Poller) discover(ctx context.Context, stopped func() bool) (claimed []string, skipped int, err error) {
	pager := p.cfg.Store.List(p.cfg.Container, store.ListOptions{
		Prefix:      p.cfg.Prefix,
		PageSize:    listingPageSize,
		IncludeTags: p.cfg.PrefetchTags,
	})

	for pager.More() {
		if len(claimed) >= p.cfg.BatchSize || stopped() {
			break
		}

		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, 0, err
		}
		page = p.matchGlob(page)

		candidates, err := p.cfg.Tracker.FilterCandidates(ctx, page)
		if err != nil {
			return nil, 0, err
		}
		log.Debug().Int("listed", len(page)).Int("candidates", len(candidates)).Msg("Filtered listing page")

		for _, candidate := range candidates {
			if len(claimed) >= p.cfg.BatchSize || stopped() {
				break
			}
			ok, err := p.cfg.Tracker.Claim(ctx, candidate.Name)
			if err != nil {
				return nil, 0, err
			}
			if ok {
				claimed = append(claimed, candidate.Name)
			} else {
				log.Debug().Str("blob", candidate.Name).Msg("Could not claim blob, skipping")
				skipped++
			}
		}
	}
	return claimed, skipped, nil
}

func (p *Poller) matchGlob(page []store.BlobInfo) []store.BlobInfo {
	if p.cfg.NameGlob == nil {
		return page
	}
	matched := page[:0:0]
	for _, blob := range page {
		if p.cfg.NameGlob.Match(blob.Name) {
			matched = append(matched, blob)
		}
	}
	return matched
}

type blobResult struct {
	success bool
	events  int64
}

// processAll fans the claimed names out over the worker pool and waits for
// every task to finish. The cycle drains even when stopped fires: each
// in-flight blob still gets its terminal mark and release.
func (p *Poller) processAll(ctx context.Context, claimed []string, stopped func() bool) (processed, failed int, events int64) {
	jobs := make(chan string)
	results := make(chan blobResult, len(claimed))

	workers := p.cfg.Concurrency
	if workers > len(claimed) {
		workers = len(claimed)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for name := range jobs {
				results <- p.processBlob(ctx, name, stopped)
			}
		}()
	}

	for _, name := range claimed {
		jobs <- name
	}
	close(jobs)
	wg.Wait()
	close(results)

	for result := range results {
		if result.success {
			processed++
		} else {
			failed++
		}
		events += result.events
	}
	return processed, failed, events
}

// processBlob runs one claimed blob through open → stream → mark. Every
// failure mode is translated to a failed mark at this boundary, and the
// claim is released on every path.
func (p *Poller) processBlob(ctx context.Context, name string, stopped func() bool) blobResult {
	blobStart := time.Now()
	result := p.streamAndMark(ctx, name, stopped)

	if err := p.cfg.Tracker.Release(ctx, name); err != nil {
		log.Warn().Err(err).Str("blob", name).Msg("Error releasing blob")
	}
	telemetry.BlobSeconds.Observe(time.Since(blobStart).Seconds())
	return result
}

func (p *Poller) streamAndMark(ctx context.Context, name string, stopped func() bool) blobResult {
	reader, info, err := p.cfg.Store.Open(ctx, p.cfg.Container, name)
	if err != nil {
		return p.fail(ctx, name, err.Error(), 0)
	}
	defer reader.Close()

	res, err := p.cfg.Streamer.Stream(reader, info, p.cfg.Emit, stopped)
	if err != nil {
		return p.fail(ctx, name, err.Error(), res.EventCount)
	}

	if !res.Completed {
		return p.fail(ctx, name, "interrupted", res.EventCount)
	}

	if p.cfg.Tracker.WasLeaseRenewalCompromised(name) {
		log.Warn().Str("blob", name).Msg("Lease renewal failed during processing, marking failed to prevent duplicates")
		return p.fail(ctx, name, "lease renewal failed during processing", res.EventCount)
	}

	if err := p.cfg.Tracker.MarkCompleted(ctx, name); err != nil {
		return p.fail(ctx, name, err.Error(), res.EventCount)
	}
	return blobResult{success: true, events: res.EventCount}
}

func (p *Poller) fail(ctx context.Context, name, reason string, events int64) blobResult {
	log.Warn().Str("blob", name).Str("reason", reason).Msg("Failed to process blob")
	if err := p.cfg.Tracker.MarkFailed(ctx, name, reason); err != nil {
		log.Warn().Err(err).Str("blob", name).Msg("Error marking blob failed")
	}
	return blobResult{success: false, events: events}
}
