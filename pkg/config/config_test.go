package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scuttle.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadFileAppliesDefaults(t *testing.T) {
	// A file that only touches one section leaves everything else at defaults.
	path := writeConfig(t, `
log:
  level: debug
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.JSON)

	assert.Equal(t, "/var/lib/scuttle", cfg.Store.Path)
	assert.Equal(t, []string{"127.0.0.1:6379"}, cfg.Broker.Addrs)
	assert.Equal(t, "scuttle:crawl", cfg.Broker.CrawlStream)
	assert.Equal(t, "workers", cfg.Broker.Group)
	assert.Equal(t, 10, cfg.Broker.Prefetch)
	assert.Equal(t, time.Minute, cfg.Broker.VisibilityTimeout)
	assert.Equal(t, int64(100000), cfg.Broker.QueueMaxLength)
	assert.Equal(t, 24*time.Hour, cfg.Broker.WorkTTL)
	assert.Equal(t, time.Hour, cfg.Broker.PriorityTTL)

	assert.Equal(t, ":8080", cfg.API.ListenAddr)
	assert.Equal(t, 10*time.Second, cfg.Dispatcher.Interval)
	assert.Equal(t, 100, cfg.Dispatcher.BatchSize)

	assert.Equal(t, 10*time.Minute, cfg.StateDeadline.Queued)
	assert.Equal(t, 5*time.Minute, cfg.StateDeadline.Crawling)
	assert.Equal(t, 10*time.Minute, cfg.StateDeadline.QueuedParse)
	assert.Equal(t, 2*time.Minute, cfg.StateDeadline.Parsing)

	assert.Equal(t, 2*time.Minute, cfg.Backoff.Base)
	assert.Equal(t, time.Hour, cfg.Backoff.Cap)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)

	assert.Equal(t, 5, cfg.Proxy.BindingFailureThreshold)
	assert.Equal(t, 10, cfg.Proxy.GlobalFailureThreshold)
	assert.Equal(t, 5*time.Minute, cfg.Proxy.ReenableGrace)

	assert.True(t, cfg.URLNormalize.SortQuery)
	assert.True(t, cfg.URLNormalize.StripDefaultPort)
}

func TestLoadFileOverrides(t *testing.T) {
	path := writeConfig(t, `
log:
  level: warn
  json: false
store:
  path: /tmp/scuttle-test
  encryption_key: hunter2
broker:
  addrs: ["redis-a:6379", "redis-b:6379"]
  prefetch: 32
  visibility_timeout: 30s
  queue_max_length: 500
  work_ttl: 12h
  priority_ttl: 30m
  janitor_interval: 15s
api:
  listen_addr: ":9090"
  auth_token: sekrit
  rate_limit: 50
dispatcher:
  interval: 2s
  batch_size: 25
state_deadline:
  crawling: 7m
backoff:
  base: 1m
  cap: 10m
retry:
  max_retries: 5
proxy:
  binding_failure_threshold: 3
url_normalize:
  sort_query: false
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Log.Level)
	assert.False(t, cfg.Log.JSON)
	assert.Equal(t, "/tmp/scuttle-test", cfg.Store.Path)
	assert.Equal(t, "hunter2", cfg.Store.EncryptionKey)

	assert.Equal(t, []string{"redis-a:6379", "redis-b:6379"}, cfg.Broker.Addrs)
	assert.Equal(t, 32, cfg.Broker.Prefetch)
	assert.Equal(t, 30*time.Second, cfg.Broker.VisibilityTimeout)
	assert.Equal(t, int64(500), cfg.Broker.QueueMaxLength)
	assert.Equal(t, 12*time.Hour, cfg.Broker.WorkTTL)
	assert.Equal(t, 30*time.Minute, cfg.Broker.PriorityTTL)
	assert.Equal(t, 15*time.Second, cfg.Broker.JanitorInterval)

	assert.Equal(t, ":9090", cfg.API.ListenAddr)
	assert.Equal(t, "sekrit", cfg.API.AuthToken)
	assert.Equal(t, float64(50), cfg.API.RateLimit)

	assert.Equal(t, 2*time.Second, cfg.Dispatcher.Interval)
	assert.Equal(t, 25, cfg.Dispatcher.BatchSize)

	// Partial section overlay keeps sibling defaults.
	assert.Equal(t, 7*time.Minute, cfg.StateDeadline.Crawling)
	assert.Equal(t, 10*time.Minute, cfg.StateDeadline.Queued)

	assert.Equal(t, time.Minute, cfg.Backoff.Base)
	assert.Equal(t, 10*time.Minute, cfg.Backoff.Cap)
	assert.Equal(t, 5, cfg.Retry.MaxRetries)

	assert.Equal(t, 3, cfg.Proxy.BindingFailureThreshold)
	assert.Equal(t, 10, cfg.Proxy.GlobalFailureThreshold)

	assert.False(t, cfg.URLNormalize.SortQuery)
	assert.True(t, cfg.URLNormalize.StripFragment)
}

func TestLoadFileRejectsUnknownFields(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "top level",
			body: "dispatchr:\n  interval: 5s\n",
			want: "unknown fields in config",
		},
		{
			name: "section level",
			body: "dispatcher:\n  interval: 5s\n  batchsize: 7\n",
			want: "unknown fields in dispatcher",
		},
		{
			name: "broker section",
			body: "broker:\n  addr: [\"x:1\"]\n",
			want: "unknown fields in broker",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFile(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadFileRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad log level", "log:\n  level: verbose\n"},
		{"empty store path", "store:\n  path: \"\"\n"},
		{"empty broker addrs", "broker:\n  addrs: []\n"},
		{"zero prefetch", "broker:\n  prefetch: 0\n"},
		{"negative queue max", "broker:\n  queue_max_length: -1\n"},
		{"zero dispatch interval", "dispatcher:\n  interval: 0s\n"},
		{"zero batch size", "dispatcher:\n  batch_size: 0\n"},
		{"cap below base", "backoff:\n  base: 10m\n  cap: 1m\n"},
		{"negative retries", "retry:\n  max_retries: -1\n"},
		{"zero threshold", "proxy:\n  binding_failure_threshold: 0\n"},
		{"negative rate limit", "api:\n  rate_limit: -2\n"},
		{"zero state deadline", "state_deadline:\n  parsing: 0s\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFile(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}

func TestDefaultIsIsolated(t *testing.T) {
	a := Default()
	a.Broker.Addrs[0] = "mutated:6379"
	a.Dispatcher.BatchSize = 1

	b := Default()
	assert.Equal(t, "127.0.0.1:6379", b.Broker.Addrs[0])
	assert.Equal(t, 100, b.Dispatcher.BatchSize)
}

func TestValidateRoundTrip(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())
}
