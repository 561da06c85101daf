package cfg

import (
	"flag"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
)

// StorageConfiguration identifies the storage account and how to
// authenticate against it.
type StorageConfiguration struct {
	Account          string `toml:"account"`
	Container        string `toml:"container"`
	AuthMethod       string `toml:"auth_method"` // "connection_string", "storage_key", "default"
	ConnectionString string `toml:"connection_string"`
	StorageKey       string `toml:"storage_key"`
	BlobEndpoint     string `toml:"blob_endpoint"` // override for sovereign clouds / emulators
}

// TrackingConfiguration selects the state tracking strategy.
type TrackingConfiguration struct {
	Strategy         string `toml:"strategy"` // "tags", "container", "registry"
	ArchiveContainer string `toml:"archive_container"`
	ErrorContainer   string `toml:"error_container"`
	RegistryPath     string `toml:"registry_path"`
}

// LeaseConfiguration controls blob lease lifetimes.
type LeaseConfiguration struct {
	DurationSeconds int `toml:"duration_seconds"` // 15-60 per the storage service
	RenewalSeconds  int `toml:"renewal_seconds"`  // must be < duration
}

// PollConfiguration controls the poll loop.
type PollConfiguration struct {
	IntervalSeconds int    `toml:"interval_seconds"`
	BatchSize       int    `toml:"batch_size"`
	Concurrency     int    `toml:"concurrency"`
	Prefix          string `toml:"prefix"`
	NameGlob        string `toml:"name_glob"`
	SkipEmptyLines  bool   `toml:"skip_empty_lines"`
	DecompressGzip  bool   `toml:"decompress_gzip"`
}

// SinkConfiguration selects the downstream event sink.
type SinkConfiguration struct {
	Type    string   `toml:"type"`   // "nats", "kafka", "stdout"
	Format  string   `toml:"format"` // "json", "msgpack"
	Subject string   `toml:"subject"`
	NatsURL string   `toml:"nats_url"`
	Brokers []string `toml:"brokers"`

	// RetentionHours bounds how long the NATS stream keeps events before
	// the downstream pipeline is on its own. Delivery is at-least-once, so
	// the stream is a buffer, not the system of record.
	RetentionHours int `toml:"retention_hours"`

	// Acks is the Kafka durability level: "all" (default) or "one".
	Acks string `toml:"acks"`
}

// LoggingConfiguration controls logging behavior.
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// AdminConfiguration for the ops HTTP endpoint (healthz + metrics).
type AdminConfiguration struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Port    int    `toml:"port"`
}

// Configuration is the main configuration structure.
type Configuration struct {
	ProcessorID string `toml:"processor_id"`

	Storage  StorageConfiguration  `toml:"storage"`
	Tracking TrackingConfiguration `toml:"tracking"`
	Lease    LeaseConfiguration    `toml:"lease"`
	Poll     PollConfiguration     `toml:"poll"`
	Sink     SinkConfiguration     `toml:"sink"`
	Logging  LoggingConfiguration  `toml:"logging"`
	Admin    AdminConfiguration    `toml:"admin"`
}

// Command line flags
var (
	ConfigPathFlag  = flag.String("config", "tidewater.toml", "Path to configuration file")
	ProcessorIDFlag = flag.String("processor-id", "", "Processor identifier (overrides config)")
	ContainerFlag   = flag.String("container", "", "Source container (overrides config)")
	PrefixFlag      = flag.String("prefix", "", "Blob name prefix filter (overrides config)")
)

// Default configuration
var Config = &Configuration{
	Storage: StorageConfiguration{
		AuthMethod: "connection_string",
	},

	Tracking: TrackingConfiguration{
		Strategy:         "tags",
		ArchiveContainer: "archive",
		ErrorContainer:   "errors",
		RegistryPath:     "./tidewater-registry.db",
	},

	Lease: LeaseConfiguration{
		DurationSeconds: 60,
		RenewalSeconds:  40,
	},

	Poll: PollConfiguration{
		IntervalSeconds: 30,
		BatchSize:       100,
		Concurrency:     4,
		SkipEmptyLines:  true,
	},

	Sink: SinkConfiguration{
		Type:           "stdout",
		Format:         "json",
		Subject:        "tidewater.events",
		RetentionHours: 72,
		Acks:           "all",
	},

	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},

	Admin: AdminConfiguration{
		Enabled: true,
		Address: "0.0.0.0",
		Port:    9464,
	},
}

// Load loads configuration from file and applies CLI overrides.
func Load(configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	// Apply CLI overrides
	if *ProcessorIDFlag != "" {
		Config.ProcessorID = *ProcessorIDFlag
	}
	if *ContainerFlag != "" {
		Config.Storage.Container = *ContainerFlag
	}
	if *PrefixFlag != "" {
		Config.Poll.Prefix = *PrefixFlag
	}

	if Config.ProcessorID == "" {
		Config.ProcessorID = generateProcessorID()
		log.Info().Str("processor_id", Config.ProcessorID).Msg("Auto-generated processor ID")
	}

	return nil
}

// generateProcessorID derives a replica identifier: the hostname when
// available, otherwise a machine-bound ID.
func generateProcessorID() string {
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		return hostname
	}
	if id, err := machineid.ProtectedID("tidewater"); err == nil {
		return id[:16]
	}
	return "tidewater"
}

// Validate checks configuration for errors.
func Validate() error {
	if Config.Storage.Container == "" {
		return fmt.Errorf("storage container is required")
	}

	switch Config.Storage.AuthMethod {
	case "connection_string":
		if Config.Storage.ConnectionString == "" {
			return fmt.Errorf("auth method connection_string requires storage.connection_string")
		}
	case "storage_key":
		if Config.Storage.Account == "" || Config.Storage.StorageKey == "" {
			return fmt.Errorf("auth method storage_key requires storage.account and storage.storage_key")
		}
	case "default":
		if Config.Storage.Account == "" {
			return fmt.Errorf("auth method default requires storage.account")
		}
	default:
		return fmt.Errorf("invalid auth method: %s", Config.Storage.AuthMethod)
	}

	switch Config.Tracking.Strategy {
	case "tags":
	case "container":
		if Config.Tracking.ArchiveContainer == "" || Config.Tracking.ErrorContainer == "" {
			return fmt.Errorf("container strategy requires tracking.archive_container and tracking.error_container")
		}
	case "registry":
		if Config.Tracking.RegistryPath == "" {
			return fmt.Errorf("registry strategy requires tracking.registry_path")
		}
	default:
		return fmt.Errorf("invalid tracking strategy: %s", Config.Tracking.Strategy)
	}

	if Config.Lease.DurationSeconds < 15 || Config.Lease.DurationSeconds > 60 {
		return fmt.Errorf("lease duration must be 15-60 seconds, got %d", Config.Lease.DurationSeconds)
	}
	if Config.Lease.RenewalSeconds < 1 || Config.Lease.RenewalSeconds >= Config.Lease.DurationSeconds {
		return fmt.Errorf("lease renewal must be >= 1 and < lease duration, got %d", Config.Lease.RenewalSeconds)
	}

	if Config.Poll.BatchSize < 1 {
		return fmt.Errorf("poll batch size must be >= 1")
	}
	if Config.Poll.Concurrency < 1 {
		return fmt.Errorf("poll concurrency must be >= 1")
	}
	if Config.Poll.IntervalSeconds < 1 {
		return fmt.Errorf("poll interval must be >= 1 second")
	}

	switch Config.Sink.Type {
	case "nats":
		if Config.Sink.NatsURL == "" {
			return fmt.Errorf("nats sink requires sink.nats_url")
		}
	case "kafka":
		if len(Config.Sink.Brokers) == 0 {
			return fmt.Errorf("kafka sink requires sink.brokers")
		}
	case "stdout":
	default:
		return fmt.Errorf("invalid sink type: %s", Config.Sink.Type)
	}

	switch Config.Sink.Format {
	case "json", "msgpack":
	default:
		return fmt.Errorf("invalid sink format: %s", Config.Sink.Format)
	}

	switch Config.Sink.Acks {
	case "", "all", "one":
	default:
		return fmt.Errorf("invalid sink acks: %s", Config.Sink.Acks)
	}

	if Config.Sink.RetentionHours < 0 {
		return fmt.Errorf("sink retention hours must be >= 0")
	}

	if Config.Admin.Enabled && (Config.Admin.Port < 1 || Config.Admin.Port > 65535) {
		return fmt.Errorf("invalid admin port: %d", Config.Admin.Port)
	}

	return nil
}
