// Package config loads and validates Scuttle's YAML configuration.
//
// Every section carries its defaults in a package-level value and applies
// them in UnmarshalYAML before overlaying the file's content, so a partial
// config file is always complete after loading. Unknown fields are rejected
// through the inline overflow maps.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	defaultConfig = Config{
		Log:           defaultLog,
		Store:         defaultStore,
		Broker:        defaultBroker,
		API:           defaultAPI,
		Dispatcher:    defaultDispatcher,
		StateDeadline: defaultStateDeadline,
		Backoff:       defaultBackoff,
		Retry:         defaultRetry,
		Proxy:         defaultProxy,
		URLNormalize:  defaultURLNormalize,
	}

	defaultLog = LogConfig{
		Level: "info",
		JSON:  true,
	}

	defaultStore = StoreConfig{
		Path: "/var/lib/scuttle",
	}

	defaultBroker = BrokerConfig{
		Addrs:             []string{"127.0.0.1:6379"},
		CrawlStream:       "scuttle:crawl",
		ParseStream:       "scuttle:parse",
		PriorityStream:    "scuttle:priority",
		Group:             "workers",
		Prefetch:          10,
		VisibilityTimeout: time.Minute,
		QueueMaxLength:    100000,
		WorkTTL:           24 * time.Hour,
		PriorityTTL:       time.Hour,
		JanitorInterval:   time.Minute,
	}

	defaultAPI = APIConfig{
		ListenAddr: ":8080",
	}

	defaultDispatcher = DispatcherConfig{
		Interval:  10 * time.Second,
		BatchSize: 100,
	}

	defaultStateDeadline = StateDeadlineConfig{
		Queued:      10 * time.Minute,
		Crawling:    5 * time.Minute,
		QueuedParse: 10 * time.Minute,
		Parsing:     2 * time.Minute,
	}

	defaultBackoff = BackoffConfig{
		Base: 2 * time.Minute,
		Cap:  time.Hour,
	}

	defaultRetry = RetryConfig{
		MaxRetries: 3,
	}

	defaultProxy = ProxyConfig{
		BindingFailureThreshold: 5,
		GlobalFailureThreshold:  10,
		ReenableGrace:           5 * time.Minute,
	}

	defaultURLNormalize = URLNormalizeConfig{
		LowercaseHost:    true,
		StripFragment:    true,
		SortQuery:        true,
		StripEmptyQuery:  true,
		StripDefaultPort: true,
	}
)

// Config is the root configuration for all Scuttle components
type Config struct {
	Log           LogConfig           `yaml:"log,omitempty"`
	Store         StoreConfig         `yaml:"store,omitempty"`
	Broker        BrokerConfig        `yaml:"broker,omitempty"`
	API           APIConfig           `yaml:"api,omitempty"`
	Dispatcher    DispatcherConfig    `yaml:"dispatcher,omitempty"`
	StateDeadline StateDeadlineConfig `yaml:"state_deadline,omitempty"`
	Backoff       BackoffConfig       `yaml:"backoff,omitempty"`
	Retry         RetryConfig         `yaml:"retry,omitempty"`
	Proxy         ProxyConfig         `yaml:"proxy,omitempty"`
	URLNormalize  URLNormalizeConfig  `yaml:"url_normalize,omitempty"`

	// Catches all undefined fields
	XXX map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (c *Config) UnmarshalYAML(unmarshal func(interface{}) error) error {
	*c = defaultConfig

	// set c to the defaults and then overwrite it with the input.
	type plain Config
	if err := unmarshal((*plain)(c)); err != nil {
		return err
	}

	return checkOverflow(c.XXX, "config")
}

// LogConfig controls the global logger
type LogConfig struct {
	// Level: debug, info, warn or error. Default is `info`
	Level string `yaml:"level,omitempty"`

	// JSON selects structured output; false gives human console output
	JSON bool `yaml:"json,omitempty"`

	// Catches all undefined fields
	XXX map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (c *LogConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	*c = defaultLog

	type plain LogConfig
	if err := unmarshal((*plain)(c)); err != nil {
		return err
	}

	switch c.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("field `log.level` must be one of debug, info, warn, error. Got %q instead", c.Level)
	}

	return checkOverflow(c.XXX, "log")
}

// StoreConfig controls the BoltDB task store
type StoreConfig struct {
	// Path to the directory holding scuttle.db
	Path string `yaml:"path,omitempty"`

	// EncryptionKey enables AES-256-GCM encryption of proxy credentials
	// at rest. Empty means plaintext storage
	EncryptionKey string `yaml:"encryption_key,omitempty"`

	// Catches all undefined fields
	XXX map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (c *StoreConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	*c = defaultStore

	type plain StoreConfig
	if err := unmarshal((*plain)(c)); err != nil {
		return err
	}

	if c.Path == "" {
		return fmt.Errorf("field `store.path` must not be empty")
	}

	return checkOverflow(c.XXX, "store")
}

// BrokerConfig controls the Redis Streams queue adapter
type BrokerConfig struct {
	// Addrs lists Redis endpoints; more than one enables the universal
	// client's failover/cluster modes
	Addrs []string `yaml:"addrs,omitempty"`

	// Password for the Redis connection, if required
	Password string `yaml:"password,omitempty"`

	// Stream keys for the three queues
	CrawlStream    string `yaml:"crawl_stream,omitempty"`
	ParseStream    string `yaml:"parse_stream,omitempty"`
	PriorityStream string `yaml:"priority_stream,omitempty"`

	// Group is the consumer-group name shared by all workers
	Group string `yaml:"group,omitempty"`

	// Prefetch caps unacked in-flight deliveries per consumer
	Prefetch int `yaml:"prefetch,omitempty"`

	// VisibilityTimeout is the idle time after which an unacked delivery
	// is reassigned to another consumer
	VisibilityTimeout time.Duration `yaml:"visibility_timeout,omitempty"`

	// QueueMaxLength pauses dispatch when a stream reaches this length.
	// Zero disables the limit
	QueueMaxLength int64 `yaml:"queue_max_length,omitempty"`

	// WorkTTL / PriorityTTL bound message age in the work and priority
	// streams; older entries are trimmed by the janitor
	WorkTTL     time.Duration `yaml:"work_ttl,omitempty"`
	PriorityTTL time.Duration `yaml:"priority_ttl,omitempty"`

	// JanitorInterval is how often trims run
	JanitorInterval time.Duration `yaml:"janitor_interval,omitempty"`

	// Catches all undefined fields
	XXX map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (c *BrokerConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	*c = defaultBroker

	type plain BrokerConfig
	if err := unmarshal((*plain)(c)); err != nil {
		return err
	}

	if len(c.Addrs) == 0 {
		return fmt.Errorf("field `broker.addrs` must contain at least 1 address")
	}
	if c.Prefetch < 1 {
		return fmt.Errorf("field `broker.prefetch` must be positive. Got %d instead", c.Prefetch)
	}
	if c.VisibilityTimeout <= 0 {
		return fmt.Errorf("field `broker.visibility_timeout` must be positive")
	}
	if c.QueueMaxLength < 0 {
		return fmt.Errorf("field `broker.queue_max_length` must not be negative")
	}
	if c.WorkTTL <= 0 || c.PriorityTTL <= 0 {
		return fmt.Errorf("fields `broker.work_ttl` and `broker.priority_ttl` must be positive")
	}
	if c.JanitorInterval <= 0 {
		return fmt.Errorf("field `broker.janitor_interval` must be positive")
	}
	for _, s := range []string{c.CrawlStream, c.ParseStream, c.PriorityStream} {
		if s == "" {
			return fmt.Errorf("stream keys in `broker` must not be empty")
		}
	}
	if c.Group == "" {
		return fmt.Errorf("field `broker.group` must not be empty")
	}

	return checkOverflow(c.XXX, "broker")
}

// APIConfig controls the HTTP control plane
type APIConfig struct {
	// TCP address to listen to for http. Default is `:8080`
	ListenAddr string `yaml:"listen_addr,omitempty"`

	// AuthToken enables static bearer authentication when non-empty
	AuthToken string `yaml:"auth_token,omitempty"`

	// RateLimit caps requests per second across all clients.
	// Zero disables limiting
	RateLimit float64 `yaml:"rate_limit,omitempty"`

	// Catches all undefined fields
	XXX map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (c *APIConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	*c = defaultAPI

	type plain APIConfig
	if err := unmarshal((*plain)(c)); err != nil {
		return err
	}

	if c.ListenAddr == "" {
		return fmt.Errorf("field `api.listen_addr` must not be empty")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("field `api.rate_limit` must not be negative")
	}

	return checkOverflow(c.XXX, "api")
}

// DispatcherConfig controls the dispatch loop
type DispatcherConfig struct {
	// Interval between dispatch rounds. Default is `10s`
	Interval time.Duration `yaml:"interval,omitempty"`

	// BatchSize caps tasks considered per round. Default is `100`
	BatchSize int `yaml:"batch_size,omitempty"`

	// Catches all undefined fields
	XXX map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (c *DispatcherConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	*c = defaultDispatcher

	type plain DispatcherConfig
	if err := unmarshal((*plain)(c)); err != nil {
		return err
	}

	if c.Interval <= 0 {
		return fmt.Errorf("field `dispatcher.interval` must be positive")
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("field `dispatcher.batch_size` must be positive. Got %d instead", c.BatchSize)
	}

	return checkOverflow(c.XXX, "dispatcher")
}

// StateDeadlineConfig sets per-state lease deadlines after which stuck
// tasks are reclaimed
type StateDeadlineConfig struct {
	Queued      time.Duration `yaml:"queued,omitempty"`
	Crawling    time.Duration `yaml:"crawling,omitempty"`
	QueuedParse time.Duration `yaml:"queued_parse,omitempty"`
	Parsing     time.Duration `yaml:"parsing,omitempty"`

	// Catches all undefined fields
	XXX map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (c *StateDeadlineConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	*c = defaultStateDeadline

	type plain StateDeadlineConfig
	if err := unmarshal((*plain)(c)); err != nil {
		return err
	}

	if c.Queued <= 0 || c.Crawling <= 0 || c.QueuedParse <= 0 || c.Parsing <= 0 {
		return fmt.Errorf("all `state_deadline` durations must be positive")
	}

	return checkOverflow(c.XXX, "state_deadline")
}

// BackoffConfig shapes retry delays: delay = base * 2^(retry_count-1), capped
type BackoffConfig struct {
	Base time.Duration `yaml:"base,omitempty"`
	Cap  time.Duration `yaml:"cap,omitempty"`

	// Catches all undefined fields
	XXX map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (c *BackoffConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	*c = defaultBackoff

	type plain BackoffConfig
	if err := unmarshal((*plain)(c)); err != nil {
		return err
	}

	if c.Base <= 0 {
		return fmt.Errorf("field `backoff.base` must be positive")
	}
	if c.Cap < c.Base {
		return fmt.Errorf("field `backoff.cap` must be >= `backoff.base`")
	}

	return checkOverflow(c.XXX, "backoff")
}

// RetryConfig sets the default retry budget for new tasks
type RetryConfig struct {
	MaxRetries int `yaml:"max_retries,omitempty"`

	// Catches all undefined fields
	XXX map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (c *RetryConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	*c = defaultRetry

	type plain RetryConfig
	if err := unmarshal((*plain)(c)); err != nil {
		return err
	}

	if c.MaxRetries < 0 {
		return fmt.Errorf("field `retry.max_retries` must not be negative")
	}

	return checkOverflow(c.XXX, "retry")
}

// ProxyConfig controls allocator health thresholds
type ProxyConfig struct {
	// BindingFailureThreshold disables a binding after this many
	// consecutive failures against its host
	BindingFailureThreshold int `yaml:"binding_failure_threshold,omitempty"`

	// GlobalFailureThreshold disables a proxy everywhere after this many
	// consecutive failures across all hosts
	GlobalFailureThreshold int `yaml:"global_failure_threshold,omitempty"`

	// ReenableGrace is how long a disabled proxy waits before a success
	// may re-enable it
	ReenableGrace time.Duration `yaml:"reenable_grace,omitempty"`

	// Catches all undefined fields
	XXX map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (c *ProxyConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	*c = defaultProxy

	type plain ProxyConfig
	if err := unmarshal((*plain)(c)); err != nil {
		return err
	}

	if c.BindingFailureThreshold < 1 || c.GlobalFailureThreshold < 1 {
		return fmt.Errorf("proxy failure thresholds must be positive")
	}
	if c.ReenableGrace < 0 {
		return fmt.Errorf("field `proxy.reenable_grace` must not be negative")
	}

	return checkOverflow(c.XXX, "proxy")
}

// URLNormalizeConfig toggles individual normalization rules
type URLNormalizeConfig struct {
	LowercaseHost    bool `yaml:"lowercase_host,omitempty"`
	StripFragment    bool `yaml:"strip_fragment,omitempty"`
	SortQuery        bool `yaml:"sort_query,omitempty"`
	StripEmptyQuery  bool `yaml:"strip_empty_query,omitempty"`
	StripDefaultPort bool `yaml:"strip_default_port,omitempty"`

	// Catches all undefined fields
	XXX map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (c *URLNormalizeConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	*c = defaultURLNormalize

	type plain URLNormalizeConfig
	if err := unmarshal((*plain)(c)); err != nil {
		return err
	}

	return checkOverflow(c.XXX, "url_normalize")
}

// Validates passed configuration by additional marshalling
// to ensure that all rules and checks were applied
func (c *Config) Validate() error {
	content, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("error while marshalling config: %s", err)
	}

	cfg := &Config{}
	return yaml.Unmarshal(content, cfg)
}

// Default returns a configuration with every field at its default value.
func Default() *Config {
	cfg := defaultConfig
	cfg.Broker.Addrs = append([]string(nil), defaultBroker.Addrs...)
	return &cfg
}

// LoadFile loads and validates configuration from the provided .yml file.
func LoadFile(filename string) (*Config, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(content, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config %q: %w", filename, err)
	}

	return cfg, nil
}

func checkOverflow(m map[string]interface{}, ctx string) error {
	if len(m) > 0 {
		var keys []string
		for k := range m {
			keys = append(keys, k)
		}
		return fmt.Errorf("unknown fields in %s: %s", ctx, strings.Join(keys, ", "))
	}
	return nil
}
