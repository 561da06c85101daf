package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gobwas/glob"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tidewater-io/tidewater/admin"
	"github.com/tidewater-io/tidewater/azure"
	"github.com/tidewater-io/tidewater/cfg"
	"github.com/tidewater-io/tidewater/health"
	"github.com/tidewater-io/tidewater/poller"
	"github.com/tidewater-io/tidewater/sink"
	"github.com/tidewater-io/tidewater/stream"
	"github.com/tidewater-io/tidewater/telemetry"
	"github.com/tidewater-io/tidewater/tracking"
)

func main() {
	flag.Parse()

	// Load configuration
	err := cfg.Load(*cfg.ConfigPathFlag)
	if err != nil {
		panic(err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Setup logging
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stderr
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Str("processor", cfg.Config.ProcessorID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("Tidewater - Azure Blob Storage log ingestion")
	log.Debug().Msg("Initializing telemetry")
	telemetry.InitializeTelemetry()
	telemetry.InitMetrics()

	// Object store
	serviceClient, err := azure.NewServiceClient(cfg.Config.Storage)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create storage client")
		return
	}
	blobStore := azure.NewStore(serviceClient)

	// State tracker
	log.Info().Str("strategy", cfg.Config.Tracking.Strategy).Msg("Initializing state tracker")
	tracker, err := tracking.New(cfg.Config.Tracking.Strategy, tracking.Config{
		Store:            blobStore,
		Container:        cfg.Config.Storage.Container,
		ArchiveContainer: cfg.Config.Tracking.ArchiveContainer,
		ErrorContainer:   cfg.Config.Tracking.ErrorContainer,
		RegistryPath:     cfg.Config.Tracking.RegistryPath,
		LeaseDuration:    time.Duration(cfg.Config.Lease.DurationSeconds) * time.Second,
		LeaseRenewal:     time.Duration(cfg.Config.Lease.RenewalSeconds) * time.Second,
		Processor:        cfg.Config.ProcessorID,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize state tracker")
		return
	}
	defer tracker.Close()

	// Event sink
	eventSink, err := sink.New(cfg.Config.Sink)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create event sink")
		return
	}
	defer eventSink.Close()

	codec, err := sink.NewCodec(cfg.Config.Sink.Format)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create event codec")
		return
	}
	emitter := sink.NewEmitter(eventSink, codec, cfg.Config.Sink.Subject)

	// Optional blob-name glob filter on top of the prefix
	var nameGlob glob.Glob
	if cfg.Config.Poll.NameGlob != "" {
		nameGlob, err = glob.Compile(cfg.Config.Poll.NameGlob)
		if err != nil {
			log.Fatal().Err(err).Str("pattern", cfg.Config.Poll.NameGlob).Msg("Invalid name glob")
			return
		}
	}

	streamer := stream.NewStreamer(
		cfg.Config.Storage.Account,
		cfg.Config.Storage.Container,
		cfg.Config.Poll.SkipEmptyLines,
		cfg.Config.Poll.DecompressGzip,
	)

	blobPoller := poller.New(poller.Config{
		Store:        blobStore,
		Container:    cfg.Config.Storage.Container,
		Tracker:      tracker,
		Streamer:     streamer,
		Emit:         emitter.Emit,
		Prefix:       cfg.Config.Poll.Prefix,
		NameGlob:     nameGlob,
		BatchSize:    cfg.Config.Poll.BatchSize,
		Concurrency:  cfg.Config.Poll.Concurrency,
		PrefetchTags: cfg.Config.Tracking.Strategy == tracking.StrategyTags,
	})

	// Ops surface
	healthTracker := health.NewTracker(health.DefaultUnhealthyThreshold)
	if cfg.Config.Admin.Enabled {
		adminServer := admin.NewServer(
			admin.Addr(cfg.Config.Admin.Address, cfg.Config.Admin.Port),
			healthTracker,
		)
		adminServer.Start()
		defer adminServer.Stop()
	}

	// Shutdown signal flips the stopped flag; the poll loop drains and exits.
	var stopped atomic.Bool
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("Shutdown requested")
		stopped.Store(true)
	}()

	log.Info().
		Str("container", cfg.Config.Storage.Container).
		Str("strategy", cfg.Config.Tracking.Strategy).
		Str("sink", cfg.Config.Sink.Type).
		Msg("Tidewater started")

	runLoop(blobPoller, healthTracker, &stopped)

	log.Info().Msg("Tidewater stopped")
}

// runLoop invokes poll cycles until the stopped flag flips, sleeping the
// configured interval between them.
func runLoop(blobPoller *poller.Poller, healthTracker *health.Tracker, stopped *atomic.Bool) {
	interval := time.Duration(cfg.Config.Poll.IntervalSeconds) * time.Second
	isStopped := func() bool { return stopped.Load() }

	for !stopped.Load() {
		summary, err := blobPoller.PollOnce(context.Background(), isStopped)
		if err != nil {
			log.Error().Err(err).Msg("Poll cycle failed")
			healthTracker.RecordPollResult(0, 1)
		} else {
			healthTracker.RecordPollResult(summary.BlobsProcessed, summary.BlobsFailed)
			if summary.BlobsProcessed+summary.BlobsFailed+summary.BlobsSkipped > 0 {
				log.Info().
					Int("processed", summary.BlobsProcessed).
					Int("failed", summary.BlobsFailed).
					Int("skipped", summary.BlobsSkipped).
					Int64("events", summary.EventsProduced).
					Int64("duration_ms", summary.DurationMS).
					Msg("Poll cycle summary")
			}
		}

		sleepUnlessStopped(interval, stopped)
	}
}

func sleepUnlessStopped(d time.Duration, stopped *atomic.Bool) {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if stopped.Load() {
			return
		}
		time.Sleep(250 * time.Millisecond)
	}
}
