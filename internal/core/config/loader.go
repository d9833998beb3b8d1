package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/streamcollector/internal/core/domain"
	"github.com/vietddude/streamcollector/internal/ingest/sink"
)

// ErrConfiguration is returned for a configuration the process cannot start
// with.
var ErrConfiguration = errors.New("invalid configuration")

// Control store backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Load reads configuration from a YAML file, applies defaults and validates
// the result.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read config file: %v", ErrConfiguration, err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config file: %v", ErrConfiguration, err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills unset fields.
func (c *AppConfig) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}

	if c.Collector.Type == "" {
		c.Collector.Type = string(domain.CollectionTrack)
	}
	if c.Collector.Name == "" {
		c.Collector.Name = c.Collector.Type
	}
	if c.Collector.FlagsKey == "" {
		c.Collector.FlagsKey = domain.CollectionType(c.Collector.Type).FlagsKey()
	}
	if c.Collector.PollInterval == 0 {
		c.Collector.PollInterval = 2 * time.Second
	}
	if c.Collector.PollBackoffStep == 0 {
		c.Collector.PollBackoffStep = 2 * time.Second
	}
	if c.Collector.PollBackoffCap == 0 {
		c.Collector.PollBackoffCap = 60 * time.Second
	}

	s := &c.Stream
	if s.ReadTimeout == 0 {
		s.ReadTimeout = 300 * time.Second
	}
	if s.ConnectTimeout == 0 {
		s.ConnectTimeout = 30 * time.Second
	}
	if s.RetryCount == nil {
		n := DefaultRetryCount
		s.RetryCount = &n
	}
	if s.RetryTimeStart == 0 {
		s.RetryTimeStart = 5 * time.Second
	}
	if s.Retry420Start == 0 {
		s.Retry420Start = 60 * time.Second
	}
	if s.RetryTimeCap == 0 {
		s.RetryTimeCap = 320 * time.Second
	}
	if s.SnoozeTimeStep == 0 {
		s.SnoozeTimeStep = 250 * time.Millisecond
	}
	if s.SnoozeTimeCap == 0 {
		s.SnoozeTimeCap = 16 * time.Second
	}
	if s.BufferSize == 0 {
		s.BufferSize = 1500
	}

	if c.Output.Granularity == "" {
		c.Output.Granularity = string(sink.GranularityDays)
	}
	if c.Output.Suffix == "" {
		c.Output.Suffix = "out.json"
	}

	if c.ControlStore.Backend == "" {
		c.ControlStore.Backend = BackendMemory
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate reports the first setting the process cannot start with.
func (c *AppConfig) Validate() error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
	}

	if c.Stream.URL == "" {
		return fail("stream.url is required")
	}
	if !domain.CollectionType(c.Collector.Type).Valid() {
		return fail("unknown collector.type %q", c.Collector.Type)
	}
	if c.Collector.TermsFile == "" {
		return fail("collector.terms_file is required")
	}
	if c.Output.Dir == "" {
		return fail("output.dir is required")
	}
	if c.Output.Layout == "" {
		if _, err := sink.Granularity(c.Output.Granularity).Layout(); err != nil {
			return fail("output.granularity: %v", err)
		}
	}
	if c.Stream.RetryLimit() < 0 {
		return fail("stream.retry_count must not be negative")
	}

	switch c.ControlStore.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Redis.URL == "" {
			return fail("redis.url is required for the redis backend")
		}
	case BackendPostgres:
		if c.Database.URL == "" {
			return fail("database.url is required for the postgres backend")
		}
	default:
		return fail("unknown control_store.backend %q", c.ControlStore.Backend)
	}
	return nil
}

// OutputLayout returns the time layout for bucket keys.
func (c *AppConfig) OutputLayout() string {
	if c.Output.Layout != "" {
		return c.Output.Layout
	}
	layout, _ := sink.Granularity(c.Output.Granularity).Layout()
	return layout
}
