package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Serial    SerialConfig    `yaml:"serial"`
	Handshake HandshakeConfig `yaml:"handshake"`
	Stream    StreamConfig    `yaml:"stream"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Mock      MockConfig      `yaml:"mock"`
}

// SerialConfig contains serial port configuration.
type SerialConfig struct {
	Port        string        `yaml:"port"`
	BaudRate    int           `yaml:"baud_rate"`
	PollTimeout time.Duration `yaml:"poll_timeout"` // Read timeout used by data-available checks
}

// HandshakeConfig contains handshake parameters.
type HandshakeConfig struct {
	Channel      uint8         `yaml:"channel"`
	Timeout      time.Duration `yaml:"timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// StreamConfig contains streaming session parameters.
type StreamConfig struct {
	Channel         uint8         `yaml:"channel"`
	Rate            int           `yaml:"rate"` // Samples per second
	StartTimeout    time.Duration `yaml:"start_timeout"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	MaxDecodeErrors int           `yaml:"max_decode_errors"` // Consecutive malformed frames before failing (0 = never)
	BufferSize      int           `yaml:"buffer_size"`
}

// LogConfig contains logging parameters.
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // console or json
	Output     string `yaml:"output"` // stdout, stderr or file
	FilePath   string `yaml:"file_path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// MetricsConfig contains Prometheus exporter parameters.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// MockConfig contains simulated device configuration.
type MockConfig struct {
	Token          int           `yaml:"token"`           // Handshake token (negative echoes the channel)
	SampleInterval time.Duration `yaml:"sample_interval"` // Time between emitted frames
	Offset         float64       `yaml:"offset"`          // Signal offset (ADC counts)
	Amplitude      float64       `yaml:"amplitude"`       // Signal amplitude (ADC counts)
	Period         time.Duration `yaml:"period"`          // Signal period
	NoiseLevel     float64       `yaml:"noise_level"`     // Noise amplitude (ADC counts)
	Silent         bool          `yaml:"silent"`          // Never acknowledge anything
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			Port:        "/dev/ttyACM0",
			BaudRate:    9600,
			PollTimeout: 5 * time.Millisecond,
		},
		Handshake: HandshakeConfig{
			Channel:      0,
			Timeout:      3 * time.Second,
			PollInterval: 10 * time.Millisecond,
		},
		Stream: StreamConfig{
			Channel:         0,
			Rate:            10,
			StartTimeout:    5 * time.Second,
			ReadTimeout:     time.Second,
			MaxDecodeErrors: 0, // Tolerate malformed frames by default
			BufferSize:      100,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "console",
			Output:     "stderr",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9464",
		},
		Mock: MockConfig{
			Token:          -1,
			SampleInterval: 100 * time.Millisecond,
			Offset:         512,
			Amplitude:      256,
			Period:         2 * time.Second,
			NoiseLevel:     2,
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks values that have no sensible default.
func (c *Config) Validate() error {
	if c.Serial.BaudRate < 0 {
		return fmt.Errorf("invalid baud rate %d", c.Serial.BaudRate)
	}
	if c.Stream.Rate < 0 {
		return fmt.Errorf("invalid stream rate %d", c.Stream.Rate)
	}
	if c.Stream.MaxDecodeErrors < 0 {
		return fmt.Errorf("invalid max decode errors %d", c.Stream.MaxDecodeErrors)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("invalid log format %q", c.Log.Format)
	}
	return nil
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Serial.Port == "" {
		c.Serial.Port = def.Serial.Port
	}
	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = def.Serial.BaudRate
	}
	if c.Serial.PollTimeout == 0 {
		c.Serial.PollTimeout = def.Serial.PollTimeout
	}

	if c.Handshake.Timeout == 0 {
		c.Handshake.Timeout = def.Handshake.Timeout
	}
	if c.Handshake.PollInterval == 0 {
		c.Handshake.PollInterval = def.Handshake.PollInterval
	}

	if c.Stream.Rate == 0 {
		c.Stream.Rate = def.Stream.Rate
	}
	if c.Stream.StartTimeout == 0 {
		c.Stream.StartTimeout = def.Stream.StartTimeout
	}
	if c.Stream.ReadTimeout == 0 {
		c.Stream.ReadTimeout = def.Stream.ReadTimeout
	}
	if c.Stream.BufferSize == 0 {
		c.Stream.BufferSize = def.Stream.BufferSize
	}

	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
	if c.Log.Output == "" {
		c.Log.Output = def.Log.Output
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = def.Log.MaxSizeMB
	}

	if c.Metrics.Addr == "" {
		c.Metrics.Addr = def.Metrics.Addr
	}

	if c.Mock.SampleInterval == 0 {
		c.Mock.SampleInterval = def.Mock.SampleInterval
	}
	if c.Mock.Period == 0 {
		c.Mock.Period = def.Mock.Period
	}
}
