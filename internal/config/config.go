// Package config provides configuration management for kvbench.
//
// Configuration is loaded from multiple sources with the following precedence:
//  1. Command-line flags (highest priority)
//  2. Environment variables (KVBENCH_* prefix)
//  3. Configuration file (kvbench.yaml)
//  4. Default values (lowest priority)
//
// Example usage:
//
//	cfg, err := config.Load("/etc/kvbench/kvbench.yaml", config.Options{})
//	if err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/piwi3910/kvbench/internal/affinity"
	"github.com/piwi3910/kvbench/internal/codec"
)

// Write modes.
const (
	WriteModeSync  = "sync"
	WriteModeAsync = "async"
)

// Device API variants.
const (
	// APIDirect completions carry the submitting database back in a private
	// field of the request.
	APIDirect = "direct"
	// APIKeyspace completions only carry a request id and the keyspace
	// handle; in-flight requests are tracked in a correlation table.
	APIKeyspace = "keyspace"
)

// Iterator modes.
const (
	IterateKey      = "key"
	IterateKeyValue = "key_value"
)

// Config holds all configuration for kvbench
type Config struct {
	// RunID labels reports and metrics of one run
	RunID string `mapstructure:"run_id" yaml:"run_id,omitempty"`

	Device   DeviceConfig   `mapstructure:"device" yaml:"device"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Latency  LatencyConfig  `mapstructure:"latency" yaml:"latency"`
	Workload WorkloadConfig `mapstructure:"workload" yaml:"workload"`
	Stats    StatsConfig    `mapstructure:"stats" yaml:"stats"`

	// Logging
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
}

// DeviceConfig configures the device environment
type DeviceConfig struct {
	// Path of the device. Paths under /dev use the kernel driver, anything
	// else (a PCI address) the user-space driver.
	Path string `mapstructure:"path" yaml:"path"`

	// QueueDepth is the submission queue depth per device
	QueueDepth int `mapstructure:"queue_depth" yaml:"queue_depth"`

	// AIOThreads is the number of completion threads per device
	AIOThreads int `mapstructure:"aio_threads" yaml:"aio_threads"`

	// CoreMask and CQThreadMask assign cores to the user-space driver,
	// written as "{1,2,3}"
	CoreMask     string `mapstructure:"core_mask" yaml:"core_mask"`
	CQThreadMask string `mapstructure:"cq_thread_mask" yaml:"cq_thread_mask"`

	// MemSizeMB is the user-space driver memory budget
	MemSizeMB uint32 `mapstructure:"mem_size_mb" yaml:"mem_size_mb"`

	// WriteMode is the default I/O mode: sync or async
	WriteMode string `mapstructure:"write_mode" yaml:"write_mode"`

	// Polling selects polled completion delivery for the kernel driver
	Polling bool `mapstructure:"polling" yaml:"polling"`

	// API selects the driver API variant: direct or keyspace
	API string `mapstructure:"api" yaml:"api"`

	// EnvConfigPath is where the keyspace API environment file is written
	EnvConfigPath string `mapstructure:"env_config_path" yaml:"env_config_path"`

	// EmulatorConfigFile is handed to the driver as its emulator config
	EmulatorConfigFile string `mapstructure:"emulator_config_file" yaml:"emulator_config_file"`

	// PinIOCore pins the issuing thread to the core it starts on
	PinIOCore bool `mapstructure:"pin_io_core" yaml:"pin_io_core"`

	Emulator EmulatorConfig `mapstructure:"emulator" yaml:"emulator"`
}

// EmulatorConfig configures the in-process emulated device
type EmulatorConfig struct {
	// Codec compresses stored values: none, zstd, lz4 or snappy
	Codec string `mapstructure:"codec" yaml:"codec"`

	// Latency is added to every asynchronous request
	Latency time.Duration `mapstructure:"latency" yaml:"latency"`

	// CompletionQueueSize bounds unreaped completions in polling mode
	CompletionQueueSize int `mapstructure:"completion_queue_size" yaml:"completion_queue_size"`
}

// DatabaseConfig sizes the per-database resource pools
type DatabaseConfig struct {
	// ContextPoolSize is the number of I/O contexts per database
	ContextPoolSize int `mapstructure:"context_pool_size" yaml:"context_pool_size"`

	// KeyPoolSize and ValuePoolSize are the descriptor pool sizes. Zero
	// means the context pool size.
	KeyPoolSize   int `mapstructure:"key_pool_size" yaml:"key_pool_size"`
	ValuePoolSize int `mapstructure:"value_pool_size" yaml:"value_pool_size"`
}

// LatencyConfig configures latency sampling
type LatencyConfig struct {
	// MaxSample is the ring capacity per operation kind
	MaxSample int `mapstructure:"max_sample" yaml:"max_sample"`

	// Percentiles reported at the end of a run
	Percentiles []float64 `mapstructure:"percentiles" yaml:"percentiles"`
}

// WorkloadConfig configures the benchmark driver
type WorkloadConfig struct {
	// Databases is the number of database handles opened on the device
	Databases int `mapstructure:"databases" yaml:"databases"`

	// Operations is the number of keys per database
	Operations int `mapstructure:"operations" yaml:"operations"`

	// KeyLength and ValueLength in bytes
	KeyLength   int `mapstructure:"key_length" yaml:"key_length"`
	ValueLength int `mapstructure:"value_length" yaml:"value_length"`

	// Outstanding is the number of in-flight async operations per database
	Outstanding int `mapstructure:"outstanding" yaml:"outstanding"`

	// BatchSize is the max number of events harvested per GetEvents call
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size"`

	// MeasureLatency records latency samples of async operations
	MeasureLatency bool `mapstructure:"measure_latency" yaml:"measure_latency"`

	// Iterate enumerates the keyspace after loading it
	Iterate     bool   `mapstructure:"iterate" yaml:"iterate"`
	IterateMode string `mapstructure:"iterate_mode" yaml:"iterate_mode"`

	// Delete removes all keys at the end of the run
	Delete bool `mapstructure:"delete" yaml:"delete"`

	// Seed scrambles the key sequence
	Seed uint32 `mapstructure:"seed" yaml:"seed"`
}

// StatsConfig configures the stats HTTP endpoint
type StatsConfig struct {
	// Listen address; empty disables the endpoint
	Listen string `mapstructure:"listen" yaml:"listen"`

	// CORSAllowedOrigins for the endpoint
	CORSAllowedOrigins []string `mapstructure:"cors_allowed_origins" yaml:"cors_allowed_origins"`
}

// Options are command line overrides
type Options struct {
	DevicePath string
	WriteMode  string
	API        string
	Operations int
	LogLevel   string
	Listen     string
}

// Load loads configuration from file and applies command line options
func Load(configPath string, opts Options) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Load from config file if specified
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		// Try to find config in standard locations
		v.SetConfigName("kvbench")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/kvbench")
		v.AddConfigPath("$HOME/.kvbench")

		// Ignore error if config file not found
		_ = v.ReadInConfig()
	}

	// Environment variables override
	v.SetEnvPrefix("KVBENCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Apply command line options
	if opts.DevicePath != "" {
		v.Set("device.path", opts.DevicePath)
	}
	if opts.WriteMode != "" {
		v.Set("device.write_mode", opts.WriteMode)
	}
	if opts.API != "" {
		v.Set("device.api", opts.API)
	}
	if opts.Operations != 0 {
		v.Set("workload.operations", opts.Operations)
	}
	if opts.LogLevel != "" {
		v.Set("log_level", opts.LogLevel)
	}
	if opts.Listen != "" {
		v.Set("stats.listen", opts.Listen)
	}

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate and set derived values
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Device defaults
	v.SetDefault("device.path", "/dev/kvemul")
	v.SetDefault("device.queue_depth", 8)
	v.SetDefault("device.aio_threads", 2)
	v.SetDefault("device.mem_size_mb", 1024)
	v.SetDefault("device.write_mode", WriteModeAsync)
	v.SetDefault("device.polling", true)
	v.SetDefault("device.api", APIDirect)
	v.SetDefault("device.env_config_path", "env_init.conf")
	v.SetDefault("device.emulator.codec", string(codec.AlgorithmNone))
	v.SetDefault("device.emulator.completion_queue_size", 65536)

	// Database defaults
	v.SetDefault("database.context_pool_size", 36000)

	// Latency defaults
	v.SetDefault("latency.max_sample", 1000000)
	v.SetDefault("latency.percentiles", []float64{50, 90, 99, 99.9})

	// Workload defaults
	v.SetDefault("workload.databases", 1)
	v.SetDefault("workload.operations", 10000)
	v.SetDefault("workload.key_length", 16)
	v.SetDefault("workload.value_length", 4096)
	v.SetDefault("workload.outstanding", 64)
	v.SetDefault("workload.batch_size", 64)
	v.SetDefault("workload.measure_latency", true)
	v.SetDefault("workload.iterate_mode", IterateKey)

	// Stats defaults
	v.SetDefault("stats.cors_allowed_origins", []string{"*"})

	// Logging
	v.SetDefault("log_level", "info")
}

func (c *Config) validate() error {
	if c.RunID == "" {
		c.RunID = uuid.New().String()
	}

	if err := c.Device.validate(); err != nil {
		return err
	}
	if err := c.Database.validate(); err != nil {
		return err
	}

	if c.Latency.MaxSample <= 0 {
		return fmt.Errorf("latency.max_sample must be positive, got %d", c.Latency.MaxSample)
	}
	for _, p := range c.Latency.Percentiles {
		if p <= 0 || p > 100 {
			return fmt.Errorf("latency.percentiles: %v is outside (0, 100]", p)
		}
	}

	return c.Workload.validate(c.Database.ContextPoolSize)
}

func (c *DeviceConfig) validate() error {
	if c.Path == "" {
		return fmt.Errorf("device.path is required")
	}
	if c.QueueDepth <= 0 {
		return fmt.Errorf("device.queue_depth must be positive, got %d", c.QueueDepth)
	}
	if c.AIOThreads <= 0 {
		return fmt.Errorf("device.aio_threads must be positive, got %d", c.AIOThreads)
	}

	switch c.WriteMode {
	case WriteModeSync, WriteModeAsync:
	default:
		return fmt.Errorf("device.write_mode must be %q or %q, got %q", WriteModeSync, WriteModeAsync, c.WriteMode)
	}

	switch c.API {
	case APIDirect, APIKeyspace:
	default:
		return fmt.Errorf("device.api must be %q or %q, got %q", APIDirect, APIKeyspace, c.API)
	}

	for name, mask := range map[string]string{"core_mask": c.CoreMask, "cq_thread_mask": c.CQThreadMask} {
		if mask == "" {
			continue
		}
		if _, err := affinity.ParseCoreMask(mask); err != nil {
			return fmt.Errorf("device.%s: %w", name, err)
		}
	}

	if _, err := codec.Parse(c.Emulator.Codec); err != nil {
		return fmt.Errorf("device.emulator.codec: %w", err)
	}
	if c.Emulator.Latency < 0 {
		return fmt.Errorf("device.emulator.latency cannot be negative")
	}

	return nil
}

func (c *DatabaseConfig) validate() error {
	if c.ContextPoolSize <= 0 {
		return fmt.Errorf("database.context_pool_size must be positive, got %d", c.ContextPoolSize)
	}
	if c.KeyPoolSize == 0 {
		c.KeyPoolSize = c.ContextPoolSize
	}
	if c.ValuePoolSize == 0 {
		c.ValuePoolSize = c.ContextPoolSize
	}
	if c.KeyPoolSize < 0 || c.ValuePoolSize < 0 {
		return fmt.Errorf("database descriptor pool sizes cannot be negative")
	}
	return nil
}

func (c *WorkloadConfig) validate(contextPoolSize int) error {
	if c.Databases <= 0 {
		return fmt.Errorf("workload.databases must be positive, got %d", c.Databases)
	}
	if c.Operations < 0 {
		return fmt.Errorf("workload.operations cannot be negative")
	}
	if c.KeyLength < 8 || c.KeyLength > 255 {
		return fmt.Errorf("workload.key_length must be between 8 and 255, got %d", c.KeyLength)
	}
	if c.ValueLength <= 0 || c.ValueLength > 2<<20 {
		return fmt.Errorf("workload.value_length must be between 1 and %d, got %d", 2<<20, c.ValueLength)
	}
	if c.Outstanding <= 0 {
		return fmt.Errorf("workload.outstanding must be positive, got %d", c.Outstanding)
	}
	if c.Outstanding > contextPoolSize {
		return fmt.Errorf("workload.outstanding (%d) cannot exceed database.context_pool_size (%d)",
			c.Outstanding, contextPoolSize)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("workload.batch_size must be positive, got %d", c.BatchSize)
	}

	switch c.IterateMode {
	case IterateKey, IterateKeyValue:
	default:
		return fmt.Errorf("workload.iterate_mode must be %q or %q, got %q", IterateKey, IterateKeyValue, c.IterateMode)
	}

	return nil
}

// UserDriver reports whether Path selects the user-space driver.
func (c *DeviceConfig) UserDriver() bool {
	return !strings.HasPrefix(c.Path, "/dev")
}
