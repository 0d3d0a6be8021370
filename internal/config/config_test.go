package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/lms-courier/internal/task"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 10*time.Minute, cfg.Jobs.Deadline)
	require.Equal(t, 5*time.Second, cfg.Jobs.Grace)
	require.Equal(t, 100*time.Millisecond, cfg.Jobs.PollInterval)
	require.Equal(t, 3500, cfg.Relay.LogCap)
	require.Equal(t, 3*time.Second, cfg.Relay.FlushInterval)
	require.Equal(t, 3, cfg.Delivery.MaxAttempts)
	require.Equal(t, 3*time.Second, cfg.Delivery.Backoff)
	require.Equal(t, 60*time.Second, cfg.Delivery.Timeout)
	require.Equal(t, BackendMemory, cfg.Messenger.Backend)
	require.Equal(t, StorageLocal, cfg.Storage.Backend)
	require.Equal(t, "courier.inbound", cfg.NATS.InboundSubject())
	require.Equal(t, "courier.outbound", cfg.NATS.OutboundPrefix())
	require.Equal(t, task.RenderAuto, cfg.Scrape.Render)
	require.True(t, cfg.Logging.Development)
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
jobs:
  deadline: 5s
  grace: 1s
relay:
  log_cap: 100
  flush_interval: 500ms
delivery:
  max_attempts: 5
  backoff: 2s
messenger:
  backend: nats
  edit_rps: 0.5
nats:
  url: nats://127.0.0.1:4222
  subject_prefix: lms
scrape:
  render: always
  include: "*.pdf,*.zip"
  max_pages: 7
storage:
  backend: s3
  s3:
    bucket: artifacts
    region: us-east-1
    path_style: true
logging:
  development: false
  worker_level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.True(t, cfg.Auth.Enabled)
	require.Equal(t, "secret", cfg.Auth.APIKey)
	require.Equal(t, 5*time.Second, cfg.Jobs.Deadline)
	require.Equal(t, time.Second, cfg.Jobs.Grace)
	require.Equal(t, 100, cfg.Relay.LogCap)
	require.Equal(t, 500*time.Millisecond, cfg.Relay.FlushInterval)
	require.Equal(t, 5, cfg.Delivery.MaxAttempts)
	require.Equal(t, BackendNATS, cfg.Messenger.Backend)
	require.InDelta(t, 0.5, cfg.Messenger.EditRPS, 1e-9)
	require.Equal(t, "lms.inbound", cfg.NATS.InboundSubject())
	require.Equal(t, "artifacts", cfg.Storage.S3.Bucket)
	require.True(t, cfg.Storage.S3.PathStyle)
	require.Equal(t, "debug", cfg.Logging.WorkerLevel)

	opts := cfg.TaskOptions()
	require.Equal(t, task.RenderAlways, opts.Render)
	require.Equal(t, []string{"*.pdf", "*.zip"}, opts.Include)
	require.Equal(t, 7, opts.MaxPages)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.ErrorContains(t, err, "read config")
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("COURIER_TEST_DOTENV_KEY=from-file\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("COURIER_TEST_DOTENV_KEY") })

	require.NoError(t, LoadDotEnv(path, filepath.Join(dir, "missing.env")))
	require.Equal(t, "from-file", os.Getenv("COURIER_TEST_DOTENV_KEY"))
}

func TestConfigValidateAcceptsMemoryStorage(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Storage.Backend = StorageMemory
	require.NoError(t, cfg.Validate())
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "auth missing api key", mutate: func(c *Config) { c.Auth.Enabled = true; c.Auth.APIKey = "" }, want: "auth.api_key"},
		{name: "no deadline", mutate: func(c *Config) { c.Jobs.Deadline = 0 }, want: "jobs.deadline"},
		{name: "negative grace", mutate: func(c *Config) { c.Jobs.Grace = -time.Second }, want: "jobs.grace"},
		{name: "no log cap", mutate: func(c *Config) { c.Relay.LogCap = 0 }, want: "relay.log_cap"},
		{name: "no attempts", mutate: func(c *Config) { c.Delivery.MaxAttempts = 0 }, want: "delivery.max_attempts"},
		{name: "bad link pattern", mutate: func(c *Config) { c.Intake.LinkPattern = "([" }, want: "intake.link_pattern"},
		{name: "bad render", mutate: func(c *Config) { c.Scrape.Render = "sometimes" }, want: "scrape.render"},
		{name: "nats without url", mutate: func(c *Config) { c.Messenger.Backend = BackendNATS }, want: "nats.url"},
		{name: "pubsub without topic", mutate: func(c *Config) { c.Messenger.Backend = BackendPubSub }, want: "pubsub.project_id"},
		{name: "unknown messenger", mutate: func(c *Config) { c.Messenger.Backend = "smoke" }, want: "messenger.backend"},
		{name: "gcs without bucket", mutate: func(c *Config) { c.Storage.Backend = StorageGCS }, want: "storage.gcs.bucket"},
		{name: "s3 without bucket", mutate: func(c *Config) { c.Storage.Backend = StorageS3 }, want: "storage.s3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
