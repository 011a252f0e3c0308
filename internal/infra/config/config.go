package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	MaxConcurrent int `yaml:"max_concurrent"`
	QueueCapacity int `yaml:"queue_capacity"`

	SharedDir        string   `yaml:"shared_dir"`
	MaxUploadBytesMb int64    `yaml:"max_upload_mb"`
	AcceptedTypes    []string `yaml:"accepted_types"`

	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	TempMaxAge      time.Duration `yaml:"temp_max_age"`

	Analysis Analysis `yaml:"analysis"`
	Storage  Storage  `yaml:"storage"`
	Status   Status   `yaml:"status"`
	Events   Events   `yaml:"events"`
}

type Analysis struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`

	// Required keeps the pipeline fail-closed: no record is produced
	// without a successful analysis. Set false to accept degraded
	// records with a null analysis payload.
	Required *bool `yaml:"required"`
}

type Storage struct {
	Replicate bool  `yaml:"replicate"`
	MinIO     MinIO `yaml:"minio"`

	ReplicaQueueSize  int `yaml:"replica_queue_size"`
	ReplicaWorkers    int `yaml:"replica_workers"`
	ReplicaMaxRetries int `yaml:"replica_max_retries"`
}

type MinIO struct {
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UseSSL          bool   `yaml:"use_ssl"`
	Bucket          string `yaml:"bucket"`
}

type Status struct {
	Enabled bool  `yaml:"enabled"`
	Redis   Redis `yaml:"redis"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type Events struct {
	Enabled bool `yaml:"enabled"`
	NATS    NATS `yaml:"nats"`
}

type NATS struct {
	URL           string `yaml:"url"`
	Stream        string `yaml:"stream"`
	Subject       string `yaml:"subject"`
	MaxReconnects int    `yaml:"max_reconnects"`
}

var defaultAcceptedTypes = []string{
	"image/jpeg", "image/png", "image/gif", "image/webp", "image/bmp",
}

func MustLoad(path string) *Config {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("config: cannot read file %q: %v", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		log.Fatalf("config: cannot unmarshal yaml: %v", err)
	}

	if cfg.Addr == "" {
		log.Fatalf("config: addr is empty")
	}
	if cfg.SharedDir == "" {
		log.Fatalf("config: shared_dir is empty")
	}
	if cfg.Analysis.BaseURL == "" {
		log.Fatalf("config: analysis.base_url is empty")
	}
	if cfg.Storage.Replicate && cfg.Storage.MinIO.Endpoint == "" {
		log.Fatalf("config: storage.replicate enabled but storage.minio.endpoint is empty")
	}
	if cfg.Status.Enabled && cfg.Status.Redis.Addr == "" {
		log.Fatalf("config: status.enabled but status.redis.addr is empty")
	}
	if cfg.Events.Enabled && (cfg.Events.NATS.URL == "" || cfg.Events.NATS.Subject == "") {
		log.Fatalf("config: events.enabled but events.nats.url or subject is empty")
	}

	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 2
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 64
	}
	if cfg.MaxUploadBytesMb <= 0 {
		cfg.MaxUploadBytesMb = 50
	}
	if len(cfg.AcceptedTypes) == 0 {
		cfg.AcceptedTypes = defaultAcceptedTypes
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 10 * time.Minute
	}
	if cfg.TempMaxAge <= 0 {
		cfg.TempMaxAge = time.Hour
	}
	if cfg.Analysis.Timeout <= 0 {
		cfg.Analysis.Timeout = 120 * time.Second
	}
	if cfg.Analysis.Required == nil {
		required := true
		cfg.Analysis.Required = &required
	}
	if cfg.Storage.ReplicaQueueSize <= 0 {
		cfg.Storage.ReplicaQueueSize = 100
	}
	if cfg.Storage.ReplicaWorkers <= 0 {
		cfg.Storage.ReplicaWorkers = 1
	}
	if cfg.Storage.ReplicaMaxRetries <= 0 {
		cfg.Storage.ReplicaMaxRetries = 3
	}
	if cfg.Events.NATS.Stream == "" {
		cfg.Events.NATS.Stream = "IMAGE_EVENTS"
	}

	return &cfg
}

// AnalysisRequired reports the fail-closed policy with its default.
func (c *Config) AnalysisRequired() bool {
	return c.Analysis.Required == nil || *c.Analysis.Required
}
