package cfg

import (
	"os"
	"path/filepath"
	"testing"
)

func validConfig() *Configuration {
	return &Configuration{
		ProcessorID: "test-1",
		Storage: StorageConfiguration{
			Account:          "acct",
			Container:        "logs",
			AuthMethod:       "connection_string",
			ConnectionString: "DefaultEndpointsProtocol=https;AccountName=acct;AccountKey=key;",
		},
		Tracking: TrackingConfiguration{
			Strategy:         "tags",
			ArchiveContainer: "archive",
			ErrorContainer:   "errors",
			RegistryPath:     "./registry.db",
		},
		Lease: LeaseConfiguration{
			DurationSeconds: 60,
			RenewalSeconds:  40,
		},
		Poll: PollConfiguration{
			IntervalSeconds: 30,
			BatchSize:       100,
			Concurrency:     4,
		},
		Sink: SinkConfiguration{
			Type:    "stdout",
			Format:  "json",
			Subject: "tidewater.events",
		},
		Admin: AdminConfiguration{
			Enabled: true,
			Address: "0.0.0.0",
			Port:    9464,
		},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = validConfig()
	if err := Validate(); err != nil {
		t.Errorf("Expected no error for valid config, got: %v", err)
	}
}

func TestValidate_UnknownStrategy(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = validConfig()
	Config.Tracking.Strategy = "gossip"
	if err := Validate(); err == nil {
		t.Error("Expected error for unknown tracking strategy")
	}
}

func TestValidate_LeaseDurationRange(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	for _, duration := range []int{0, 14, 61} {
		Config = validConfig()
		Config.Lease.DurationSeconds = duration
		if err := Validate(); err == nil {
			t.Errorf("Expected error for lease duration %d", duration)
		}
	}

	for _, duration := range []int{15, 60} {
		Config = validConfig()
		Config.Lease.DurationSeconds = duration
		Config.Lease.RenewalSeconds = duration - 5
		if err := Validate(); err != nil {
			t.Errorf("Expected lease duration %d to validate, got: %v", duration, err)
		}
	}
}

func TestValidate_RenewalMustBeBelowDuration(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = validConfig()
	Config.Lease.RenewalSeconds = Config.Lease.DurationSeconds
	if err := Validate(); err == nil {
		t.Error("Expected error when renewal >= duration")
	}
}

func TestValidate_MissingCredentials(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = validConfig()
	Config.Storage.ConnectionString = ""
	if err := Validate(); err == nil {
		t.Error("Expected error for connection_string auth without a connection string")
	}

	Config = validConfig()
	Config.Storage.AuthMethod = "storage_key"
	Config.Storage.StorageKey = ""
	if err := Validate(); err == nil {
		t.Error("Expected error for storage_key auth without a key")
	}

	Config = validConfig()
	Config.Storage.AuthMethod = "default"
	Config.Storage.Account = ""
	if err := Validate(); err == nil {
		t.Error("Expected error for default auth without an account")
	}
}

func TestValidate_ContainerStrategyNeedsContainers(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = validConfig()
	Config.Tracking.Strategy = "container"
	Config.Tracking.ArchiveContainer = ""
	if err := Validate(); err == nil {
		t.Error("Expected error for container strategy without archive container")
	}
}

func TestValidate_BatchAndConcurrencyBounds(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = validConfig()
	Config.Poll.BatchSize = 0
	if err := Validate(); err == nil {
		t.Error("Expected error for batch size 0")
	}

	Config = validConfig()
	Config.Poll.Concurrency = 0
	if err := Validate(); err == nil {
		t.Error("Expected error for concurrency 0")
	}
}

func TestValidate_SinkRequirements(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = validConfig()
	Config.Sink.Type = "nats"
	Config.Sink.NatsURL = ""
	if err := Validate(); err == nil {
		t.Error("Expected error for nats sink without URL")
	}

	Config = validConfig()
	Config.Sink.Type = "kafka"
	Config.Sink.Brokers = nil
	if err := Validate(); err == nil {
		t.Error("Expected error for kafka sink without brokers")
	}

	Config = validConfig()
	Config.Sink.Format = "protobuf"
	if err := Validate(); err == nil {
		t.Error("Expected error for unknown sink format")
	}

	Config = validConfig()
	Config.Sink.Acks = "quorum"
	if err := Validate(); err == nil {
		t.Error("Expected error for unknown acks level")
	}

	Config = validConfig()
	Config.Sink.RetentionHours = -1
	if err := Validate(); err == nil {
		t.Error("Expected error for negative retention hours")
	}
}

func TestLoad_TOMLFile(t *testing.T) {
	original := Config
	defer func() { Config = original }()
	Config = validConfig()

	dir := t.TempDir()
	path := filepath.Join(dir, "tidewater.toml")
	content := `
processor_id = "pod-7"

[storage]
account = "prodacct"
container = "prod-logs"

[tracking]
strategy = "registry"
registry_path = "/var/lib/tidewater/registry.db"

[poll]
batch_size = 25
skip_empty_lines = true
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	if err := Load(path); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if Config.ProcessorID != "pod-7" {
		t.Errorf("Expected processor_id pod-7, got %s", Config.ProcessorID)
	}
	if Config.Storage.Container != "prod-logs" {
		t.Errorf("Expected container prod-logs, got %s", Config.Storage.Container)
	}
	if Config.Tracking.Strategy != "registry" {
		t.Errorf("Expected registry strategy, got %s", Config.Tracking.Strategy)
	}
	if Config.Poll.BatchSize != 25 {
		t.Errorf("Expected batch size 25, got %d", Config.Poll.BatchSize)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	original := Config
	defer func() { Config = original }()
	Config = validConfig()

	if err := Load(filepath.Join(t.TempDir(), "absent.toml")); err != nil {
		t.Fatalf("Load with missing file should fall back to defaults, got: %v", err)
	}
}
