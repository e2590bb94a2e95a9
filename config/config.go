package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the search pipeline.
type Config struct {
	General     GeneralConfig     `mapstructure:"general"`
	Server      ServerConfig      `mapstructure:"server"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Queue       QueueConfig       `mapstructure:"queue"`
	Catalog     CatalogConfig     `mapstructure:"catalog"`
	Settings    SettingsConfig    `mapstructure:"settings"`
	AirDCPP     AirDCPPConfig     `mapstructure:"airdcpp"`
	Prowlarr    ProwlarrConfig    `mapstructure:"prowlarr"`
	Dispatcher  DispatcherConfig  `mapstructure:"dispatcher"`
	Correlation CorrelationConfig `mapstructure:"correlation"`
	Publisher   PublisherConfig   `mapstructure:"publisher"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Address       string `mapstructure:"address"`
	EventsEnabled bool   `mapstructure:"events_enabled"`
	EventsBuffer  int    `mapstructure:"events_buffer"`
}

// RedisConfig contains the connection used by both streams.
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" || strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("redis.host and redis.port are required")
	}
	return nil
}

// QueueConfig names the job and result streams.
type QueueConfig struct {
	JobStream       string        `mapstructure:"job_stream"`
	ResultStream    string        `mapstructure:"result_stream"`
	Group           string        `mapstructure:"group"`
	ReadBlock       time.Duration `mapstructure:"read_block"`
	ReclaimIdle     time.Duration `mapstructure:"reclaim_idle"`
	MaxLen          int64         `mapstructure:"max_len"`
	EnumeratePage   int           `mapstructure:"enumerate_page_size"`
	ValidateSchemas bool          `mapstructure:"validate_schemas"`
}

func (q QueueConfig) Validate() error {
	if strings.TrimSpace(q.JobStream) == "" || strings.TrimSpace(q.ResultStream) == "" {
		return fmt.Errorf("queue.job_stream and queue.result_stream are required")
	}
	if q.JobStream == q.ResultStream {
		return fmt.Errorf("queue.job_stream and queue.result_stream must differ")
	}
	if strings.TrimSpace(q.Group) == "" {
		return fmt.Errorf("queue.group is required")
	}
	if q.EnumeratePage <= 0 {
		return fmt.Errorf("queue.enumerate_page_size must be > 0")
	}
	return nil
}

// CatalogConfig points at the library gateway.
type CatalogConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// SettingsConfig selects where backend connection parameters come from.
// Source "http" asks the settings service; "static" uses the airdcpp/prowlarr sections below.
type SettingsConfig struct {
	Source  string        `mapstructure:"source"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

func (s SettingsConfig) Validate() error {
	switch s.Source {
	case "static":
		return nil
	case "http":
		if strings.TrimSpace(s.BaseURL) == "" {
			return fmt.Errorf("settings.base_url is required when settings.source is http")
		}
		return nil
	default:
		return fmt.Errorf("settings.source must be http or static, got %q", s.Source)
	}
}

// AirDCPPConfig holds static push-backend parameters and search defaults.
type AirDCPPConfig struct {
	Hostname       string        `mapstructure:"hostname"`
	Protocol       string        `mapstructure:"protocol"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	Hubs           []string      `mapstructure:"hubs"`
	Extensions     []string      `mapstructure:"extensions"`
	Priority       int           `mapstructure:"priority"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	ReconnectMax   time.Duration `mapstructure:"reconnect_max"`
}

// ProwlarrConfig holds static indexer parameters and request defaults.
type ProwlarrConfig struct {
	Host          string        `mapstructure:"host"`
	Port          string        `mapstructure:"port"`
	APIKey        string        `mapstructure:"api_key"`
	IndexerIDs    []int         `mapstructure:"indexer_ids"`
	Categories    []int         `mapstructure:"categories"`
	Limit         int           `mapstructure:"limit"`
	Offset        int           `mapstructure:"offset"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxRetries    int           `mapstructure:"max_retries"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
}

// DispatcherConfig bounds the job handler pool.
type DispatcherConfig struct {
	Concurrency int           `mapstructure:"concurrency"`
	DedupWindow time.Duration `mapstructure:"dedup_window"`
	JobTimeout  time.Duration `mapstructure:"job_timeout"`
}

// Normalize applies defaults for unset dispatcher values.
func (d DispatcherConfig) Normalize() DispatcherConfig {
	if d.Concurrency <= 0 {
		d.Concurrency = 2
	}
	if d.JobTimeout <= 0 {
		d.JobTimeout = time.Minute
	}
	return d
}

// CorrelationConfig tunes the correlation store.
type CorrelationConfig struct {
	Timeout         time.Duration `mapstructure:"timeout"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	CompletionDelay time.Duration `mapstructure:"completion_delay"`
	Shards          int           `mapstructure:"shards"`
	Mailbox         int           `mapstructure:"mailbox"`
}

func (c CorrelationConfig) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("correlation.timeout must be > 0")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("correlation.sweep_interval must be > 0")
	}
	if c.CompletionDelay < 0 {
		return fmt.Errorf("correlation.completion_delay cannot be negative")
	}
	if c.CompletionDelay >= c.Timeout {
		return fmt.Errorf("correlation.completion_delay must be shorter than correlation.timeout")
	}
	return nil
}

// PublisherConfig bounds result publication retries.
type PublisherConfig struct {
	MaxAttempts  int           `mapstructure:"max_attempts"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	BroadcastTTL time.Duration `mapstructure:"broadcast_ttl"`
}

// SchedulerConfig drives periodic wanted-item enumeration.
type SchedulerConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Cron    string        `mapstructure:"cron"`
	LockTTL time.Duration `mapstructure:"lock_ttl"`
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// Validate checks the sections every command depends on.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Redis.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Queue.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Settings.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Correlation.Validate(); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(c.Catalog.BaseURL) == "" {
		errs = append(errs, fmt.Errorf("catalog.base_url is required"))
	}
	if c.Scheduler.Enabled && strings.TrimSpace(c.Scheduler.Cron) == "" {
		errs = append(errs, fmt.Errorf("scheduler.cron is required when the scheduler is enabled"))
	}
	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.default_timeout", 30*time.Second)
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.address", ":3060")
	v.SetDefault("server.events_enabled", true)
	v.SetDefault("server.events_buffer", 16)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.timeout", 5*time.Second)
	v.SetDefault("queue.job_stream", "comic.search.jobs")
	v.SetDefault("queue.result_stream", "comic.search.results")
	v.SetDefault("queue.group", "comic-processor-group")
	v.SetDefault("queue.read_block", 5*time.Second)
	v.SetDefault("queue.reclaim_idle", 5*time.Minute)
	v.SetDefault("queue.max_len", 10000)
	v.SetDefault("queue.enumerate_page_size", 25)
	v.SetDefault("queue.validate_schemas", true)
	v.SetDefault("catalog.timeout", 30*time.Second)
	v.SetDefault("settings.source", "http")
	v.SetDefault("settings.timeout", 10*time.Second)
	v.SetDefault("airdcpp.protocol", "http")
	v.SetDefault("airdcpp.extensions", []string{"cbz", "cbr", "cb7"})
	v.SetDefault("airdcpp.priority", 5)
	v.SetDefault("airdcpp.request_timeout", 15*time.Second)
	v.SetDefault("airdcpp.reconnect_max", time.Minute)
	v.SetDefault("prowlarr.port", "9696")
	v.SetDefault("prowlarr.categories", []int{7030})
	v.SetDefault("prowlarr.limit", 100)
	v.SetDefault("prowlarr.offset", 0)
	v.SetDefault("prowlarr.timeout", 30*time.Second)
	v.SetDefault("prowlarr.max_retries", 3)
	v.SetDefault("prowlarr.rate_per_second", 1.0)
	v.SetDefault("dispatcher.concurrency", 2)
	v.SetDefault("dispatcher.dedup_window", 10*time.Minute)
	v.SetDefault("dispatcher.job_timeout", time.Minute)
	v.SetDefault("correlation.timeout", 5*time.Minute)
	v.SetDefault("correlation.sweep_interval", 15*time.Second)
	v.SetDefault("correlation.completion_delay", 0)
	v.SetDefault("correlation.shards", 8)
	v.SetDefault("correlation.mailbox", 256)
	v.SetDefault("publisher.max_attempts", 3)
	v.SetDefault("publisher.initial_delay", 200*time.Millisecond)
	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.cron", "0 */6 * * *")
	v.SetDefault("scheduler.lock_ttl", 10*time.Minute)
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.service_name", "comicsearch")
}

// LoadConfig reads the JSON config file (searched in the usual places when path is empty)
// and applies COMICSEARCH_* environment overrides. A missing file is not an error: defaults
// and environment variables are enough to run.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")
	setDefaults(v)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		if exe, err := os.Executable(); err == nil {
			exeDir := filepath.Dir(exe)
			v.AddConfigPath(exeDir)
			v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
		}
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("COMICSEARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Dispatcher = cfg.Dispatcher.Normalize()
	return &cfg, nil
}
