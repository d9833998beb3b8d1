package config

import (
	"time"

	redisclient "github.com/vietddude/streamcollector/internal/infra/redis"
	"github.com/vietddude/streamcollector/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server       ServerConfig       `yaml:"server"`
	Collector    CollectorConfig    `yaml:"collector"`
	Stream       StreamConfig       `yaml:"stream"`
	Output       OutputConfig       `yaml:"output"`
	ControlStore ControlStoreConfig `yaml:"control_store"`
	Redis        redisclient.Config `yaml:"redis"`
	Database     postgres.Config    `yaml:"database"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port     int `yaml:"port"`
	GRPCPort int `yaml:"grpc_port"` // 0 = gRPC health disabled
}

// CollectorConfig selects what the process collects and how the supervisor
// polls its control document.
type CollectorConfig struct {
	Type            string        `yaml:"type"`      // track, follow
	Name            string        `yaml:"name"`      // output label, defaults to type
	FlagsKey        string        `yaml:"flags_key"` // defaults to collector-<type>
	TermsFile       string        `yaml:"terms_file"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	PollBackoffStep time.Duration `yaml:"poll_backoff_step"`
	PollBackoffCap  time.Duration `yaml:"poll_backoff_cap"`
}

// StreamConfig holds the streaming endpoint and reconnect schedule.
type StreamConfig struct {
	URL            string            `yaml:"url"`
	Headers        map[string]string `yaml:"headers"`
	Params         map[string]string `yaml:"params"`
	ReadTimeout    time.Duration     `yaml:"read_timeout"`
	ConnectTimeout time.Duration     `yaml:"connect_timeout"`
	RetryCount     *int              `yaml:"retry_count"` // 0 = unlimited, unset = DefaultRetryCount
	RetryTimeStart time.Duration     `yaml:"retry_time_start"`
	Retry420Start  time.Duration     `yaml:"retry_420_start"`
	RetryTimeCap   time.Duration     `yaml:"retry_time_cap"`
	SnoozeTimeStep time.Duration     `yaml:"snooze_time_step"`
	SnoozeTimeCap  time.Duration     `yaml:"snooze_time_cap"`
	BufferSize     int               `yaml:"buffer_size"`
	MaxFrameBytes  int               `yaml:"max_frame_bytes"`
}

// DefaultRetryCount is the retry ceiling used when retry_count is not set.
const DefaultRetryCount = 100

// RetryLimit returns the configured retry ceiling, 0 meaning unlimited.
func (s StreamConfig) RetryLimit() int {
	if s.RetryCount == nil {
		return DefaultRetryCount
	}
	return *s.RetryCount
}

// OutputConfig holds the bucket file settings.
type OutputConfig struct {
	Dir         string        `yaml:"dir"`
	Granularity string        `yaml:"granularity"` // seconds, minutes, hours, days
	Layout      string        `yaml:"layout"`      // explicit Go time layout, overrides granularity
	Suffix      string        `yaml:"suffix"`
	Fsync       bool          `yaml:"fsync"`
	Retention   time.Duration `yaml:"retention"` // 0 = keep forever
}

// ControlStoreConfig selects the control store backend.
type ControlStoreConfig struct {
	Backend string `yaml:"backend"` // memory, redis, postgres
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}
