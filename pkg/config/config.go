package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Config represents the qdxd configuration
type Config struct {
	Audio struct {
		// Device names are matched by substring; an empty input device
		// selects the QDX USB audio interface, an empty output device the
		// system default speakers.
		InputDevice  string `yaml:"input_device"`
		OutputDevice string `yaml:"output_device"`

		SampleRate     int `yaml:"sample_rate"`
		FramesPerBlock int `yaml:"frames_per_block"`
		Channels       int `yaml:"channels"`

		// RingCapacity is in frames. Zero selects 16x the block size,
		// comfortably above the 4x minimum needed to ride out callback
		// scheduling jitter.
		RingCapacity int `yaml:"ring_capacity"`

		MeterAttack float32 `yaml:"meter_attack"`
		MeterDecay  float32 `yaml:"meter_decay"`
	} `yaml:"audio"`

	CAT struct {
		// Device is the serial port path (e.g. /dev/ttyACM0, COM4). Empty
		// means discover the QDX by its USB product string.
		Device    string `yaml:"device"`
		BaudRate  int    `yaml:"baud_rate"`
		TimeoutMs int    `yaml:"timeout_ms"`
		Retries   int    `yaml:"retries"`
		TickMs    int    `yaml:"tick_ms"`
	} `yaml:"cat"`

	Tuner struct {
		MinFrequency     int64 `yaml:"min_frequency"`
		MaxFrequency     int64 `yaml:"max_frequency"`
		InitialFrequency int64 `yaml:"initial_frequency"`
	} `yaml:"tuner"`

	Web struct {
		Port        int    `yaml:"port"`
		BindAddress string `yaml:"bind_address"`
	} `yaml:"web"`

	API struct {
		UnixSocket string `yaml:"unix_socket"`
	} `yaml:"api"`

	Storage struct {
		DatabasePath string `yaml:"database_path"`
		MaxEvents    int    `yaml:"max_events"`
	} `yaml:"storage"`

	Logging struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		Console    bool   `yaml:"console"`
		MaxSize    int    `yaml:"max_size"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAge     int    `yaml:"max_age"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"logging"`
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

// Default returns a configuration with every default applied, for running
// without a config file.
func Default() *Config {
	var config Config
	config.applyDefaults()
	return &config
}

func (c *Config) applyDefaults() {
	if c.Audio.SampleRate == 0 {
		c.Audio.SampleRate = 48000
	}
	if c.Audio.FramesPerBlock == 0 {
		c.Audio.FramesPerBlock = 64
	}
	if c.Audio.Channels == 0 {
		c.Audio.Channels = 2
	}
	if c.CAT.BaudRate == 0 {
		c.CAT.BaudRate = 38400 // irrelevant over USB, but the QDX default
	}
	if c.CAT.TimeoutMs == 0 {
		c.CAT.TimeoutMs = 500
	}
	if c.CAT.Retries == 0 {
		c.CAT.Retries = 3
	}
	if c.CAT.TickMs == 0 {
		c.CAT.TickMs = 50
	}
	if c.Tuner.MinFrequency == 0 {
		c.Tuner.MinFrequency = 100000
	}
	if c.Tuner.MaxFrequency == 0 {
		c.Tuner.MaxFrequency = 99999999 // eight display digits
	}
	if c.Tuner.InitialFrequency == 0 {
		c.Tuner.InitialFrequency = 14074000 // 20m
	}
	if c.Web.Port == 0 {
		c.Web.Port = 8080
	}
	if c.Web.BindAddress == "" {
		c.Web.BindAddress = "0.0.0.0"
	}
	if c.API.UnixSocket == "" {
		c.API.UnixSocket = "/tmp/qdxd.sock"
	}
	if c.Storage.MaxEvents == 0 {
		c.Storage.MaxEvents = 10000
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxSize == 0 {
		c.Logging.MaxSize = 10
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 3
	}
	if c.Logging.MaxAge == 0 {
		c.Logging.MaxAge = 28
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Audio.SampleRate != 48000 {
		return fmt.Errorf("sample rate must be 48000 (the QDX native rate), got %d", c.Audio.SampleRate)
	}
	if c.Audio.Channels < 1 || c.Audio.Channels > 2 {
		return fmt.Errorf("channels must be 1 or 2, got %d", c.Audio.Channels)
	}
	if c.Audio.RingCapacity != 0 && c.Audio.RingCapacity < 4*c.Audio.FramesPerBlock {
		return fmt.Errorf("ring_capacity %d is below 4x the block size %d",
			c.Audio.RingCapacity, c.Audio.FramesPerBlock)
	}
	if c.Tuner.MinFrequency >= c.Tuner.MaxFrequency {
		return fmt.Errorf("min_frequency %d must be below max_frequency %d",
			c.Tuner.MinFrequency, c.Tuner.MaxFrequency)
	}
	if c.Tuner.InitialFrequency < c.Tuner.MinFrequency || c.Tuner.InitialFrequency > c.Tuner.MaxFrequency {
		return fmt.Errorf("initial_frequency %d is outside the tunable range", c.Tuner.InitialFrequency)
	}
	if c.CAT.Retries < 0 {
		return fmt.Errorf("retries must not be negative")
	}
	return nil
}
