// Package config loads and validates courier configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/lms-courier/internal/storage/gcs"
	"github.com/JakeFAU/lms-courier/internal/storage/local"
	"github.com/JakeFAU/lms-courier/internal/storage/s3"
	"github.com/JakeFAU/lms-courier/internal/task"
)

// EnvPrefix namespaces environment overrides, e.g. COURIER_JOBS_DEADLINE=5m.
const EnvPrefix = "COURIER"

// Messenger backends.
const (
	BackendMemory = "memory"
	BackendNATS   = "nats"
	BackendPubSub = "pubsub"
)

// Storage backends.
const (
	StorageLocal  = "local"
	StorageMemory = "memory"
	StorageGCS    = "gcs"
	StorageS3     = "s3"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Relay     RelayConfig     `mapstructure:"relay"`
	Delivery  DeliveryConfig  `mapstructure:"delivery"`
	Intake    IntakeConfig    `mapstructure:"intake"`
	Messages  MessagesConfig  `mapstructure:"messages"`
	Messenger MessengerConfig `mapstructure:"messenger"`
	Scrape    ScrapeConfig    `mapstructure:"scrape"`
	Storage   StorageConfig   `mapstructure:"storage"`
	NATS      NATSConfig      `mapstructure:"nats"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// JobsConfig bounds job lifetimes.
type JobsConfig struct {
	Deadline       time.Duration `mapstructure:"deadline"`
	Grace          time.Duration `mapstructure:"grace"`
	ShutdownWindow time.Duration `mapstructure:"shutdown_window"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	ResultWait     time.Duration `mapstructure:"result_wait"`
	ReapWait       time.Duration `mapstructure:"reap_wait"`
	TempDir        string        `mapstructure:"temp_dir"`
}

// RelayConfig tunes the status message relay.
type RelayConfig struct {
	LogCap        int           `mapstructure:"log_cap"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	SettleDelay   time.Duration `mapstructure:"settle_delay"`
	CallTimeout   time.Duration `mapstructure:"call_timeout"`
}

// DeliveryConfig bounds artifact delivery.
type DeliveryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Backoff     time.Duration `mapstructure:"backoff"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// IntakeConfig governs request parsing and buffering.
type IntakeConfig struct {
	LinkPattern string `mapstructure:"link_pattern"`
	QueueDepth  int    `mapstructure:"queue_depth"`
}

// MessagesConfig points at an optional message catalog override.
type MessagesConfig struct {
	File string `mapstructure:"file"`
}

// MessengerConfig selects the outbound transport.
type MessengerConfig struct {
	Backend   string  `mapstructure:"backend"`
	EditRPS   float64 `mapstructure:"edit_rps"`
	EditBurst int     `mapstructure:"edit_burst"`
}

// ScrapeConfig is handed to every task as task.Options.
type ScrapeConfig struct {
	LoginURL         string        `mapstructure:"login_url"`
	Headless         bool          `mapstructure:"headless"`
	Render           string        `mapstructure:"render"`
	UserAgent        string        `mapstructure:"user_agent"`
	WaitBetweenPages time.Duration `mapstructure:"wait_between_pages"`
	MaxPages         int           `mapstructure:"max_pages"`
	Include          []string      `mapstructure:"include"`
	RPS              float64       `mapstructure:"rps"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
}

// StorageConfig selects where bus messengers stage files.
type StorageConfig struct {
	Backend      string       `mapstructure:"backend"`
	ObjectPrefix string       `mapstructure:"object_prefix"`
	Local        local.Config `mapstructure:"local"`
	GCS          gcs.Config   `mapstructure:"gcs"`
	S3           s3.Config    `mapstructure:"s3"`
}

// NATSConfig configures the NATS bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	Name          string `mapstructure:"name"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// InboundSubject is where requester events arrive.
func (c NATSConfig) InboundSubject() string { return c.SubjectPrefix + ".inbound" }

// OutboundPrefix prefixes per-owner outbound subjects.
func (c NATSConfig) OutboundPrefix() string { return c.SubjectPrefix + ".outbound" }

// PubSubConfig holds the Google Pub/Sub outbox topic.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	WorkerLevel string `mapstructure:"worker_level"`
}

// LoadDotEnv loads KEY=VALUE files into the environment without overriding
// variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load builds a Config from defaults, an optional file and the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", "60s")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")

	v.SetDefault("jobs.deadline", "10m")
	v.SetDefault("jobs.grace", "5s")
	v.SetDefault("jobs.shutdown_window", "5s")
	v.SetDefault("jobs.poll_interval", "100ms")
	v.SetDefault("jobs.result_wait", "1s")
	v.SetDefault("jobs.reap_wait", "5s")
	v.SetDefault("jobs.temp_dir", "")

	v.SetDefault("relay.log_cap", 3500)
	v.SetDefault("relay.flush_interval", "3s")
	v.SetDefault("relay.settle_delay", "3s")
	v.SetDefault("relay.call_timeout", "30s")

	v.SetDefault("delivery.max_attempts", 3)
	v.SetDefault("delivery.backoff", "3s")
	v.SetDefault("delivery.timeout", "60s")

	v.SetDefault("intake.link_pattern", `^https?://.+`)
	v.SetDefault("intake.queue_depth", 64)
	v.SetDefault("messages.file", "")

	v.SetDefault("messenger.backend", BackendMemory)
	v.SetDefault("messenger.edit_rps", 1.0)
	v.SetDefault("messenger.edit_burst", 1)

	v.SetDefault("scrape.login_url", "")
	v.SetDefault("scrape.headless", true)
	v.SetDefault("scrape.render", task.RenderAuto)
	v.SetDefault("scrape.user_agent", "courier/1.0")
	v.SetDefault("scrape.wait_between_pages", "1s")
	v.SetDefault("scrape.max_pages", 50)
	v.SetDefault("scrape.include", []string{"**/*.pdf", "**/*.docx", "**/*.pptx", "**/*.zip"})
	v.SetDefault("scrape.rps", 2.0)
	v.SetDefault("scrape.request_timeout", "30s")

	v.SetDefault("storage.backend", StorageLocal)
	v.SetDefault("storage.object_prefix", "artifacts")
	v.SetDefault("storage.local.base_dir", "data/outbox")
	v.SetDefault("storage.gcs.bucket", "")
	v.SetDefault("storage.gcs.prefix", "")
	v.SetDefault("storage.s3.bucket", "")
	v.SetDefault("storage.s3.prefix", "")
	v.SetDefault("storage.s3.region", "")
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.s3.access_key_id", "")
	v.SetDefault("storage.s3.secret_access_key", "")
	v.SetDefault("storage.s3.path_style", false)

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.name", "courier")
	v.SetDefault("nats.subject_prefix", "courier")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")

	v.SetDefault("logging.development", true)
	v.SetDefault("logging.worker_level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Jobs.Deadline <= 0 {
		return fmt.Errorf("jobs.deadline must be > 0")
	}
	if c.Jobs.Grace < 0 {
		return fmt.Errorf("jobs.grace must be >= 0")
	}
	if c.Jobs.PollInterval <= 0 {
		return fmt.Errorf("jobs.poll_interval must be > 0")
	}
	if c.Relay.LogCap <= 0 {
		return fmt.Errorf("relay.log_cap must be > 0")
	}
	if c.Relay.FlushInterval <= 0 {
		return fmt.Errorf("relay.flush_interval must be > 0")
	}
	if c.Delivery.MaxAttempts <= 0 {
		return fmt.Errorf("delivery.max_attempts must be > 0")
	}
	if c.Intake.QueueDepth <= 0 {
		return fmt.Errorf("intake.queue_depth must be > 0")
	}
	if _, err := regexp.Compile(c.Intake.LinkPattern); err != nil {
		return fmt.Errorf("intake.link_pattern is invalid: %w", err)
	}
	switch c.Scrape.Render {
	case task.RenderNever, task.RenderAuto, task.RenderAlways:
	default:
		return fmt.Errorf("scrape.render must be one of never, auto, always")
	}
	switch c.Messenger.Backend {
	case BackendMemory:
	case BackendNATS:
		if c.NATS.URL == "" {
			return fmt.Errorf("nats.url must be set for the nats messenger")
		}
	case BackendPubSub:
		if c.PubSub.ProjectID == "" || c.PubSub.Topic == "" {
			return fmt.Errorf("pubsub.project_id and pubsub.topic must be set for the pubsub messenger")
		}
	default:
		return fmt.Errorf("messenger.backend must be one of memory, nats, pubsub")
	}
	switch c.Storage.Backend {
	case StorageLocal:
		if c.Storage.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir must be set for local storage")
		}
	case StorageMemory:
	case StorageGCS:
		if c.Storage.GCS.Bucket == "" {
			return fmt.Errorf("storage.gcs.bucket must be set for gcs storage")
		}
	case StorageS3:
		if err := c.Storage.S3.Validate(); err != nil {
			return fmt.Errorf("storage.s3: %w", err)
		}
	default:
		return fmt.Errorf("storage.backend must be one of local, memory, gcs, s3")
	}
	return nil
}

// TaskOptions converts the scrape section into per-task engine options.
func (c Config) TaskOptions() task.Options {
	return task.Options{
		LoginURL:         c.Scrape.LoginURL,
		Render:           c.Scrape.Render,
		Headless:         c.Scrape.Headless,
		UserAgent:        c.Scrape.UserAgent,
		WaitBetweenPages: c.Scrape.WaitBetweenPages,
		MaxPages:         c.Scrape.MaxPages,
		Include:          append([]string(nil), c.Scrape.Include...),
		RPS:              c.Scrape.RPS,
		RequestTimeout:   c.Scrape.RequestTimeout,
	}
}
