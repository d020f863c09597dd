package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the service configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Accelerator AcceleratorConfig `yaml:"accelerator"`
	Staging     StagingConfig     `yaml:"staging"`
	Log         LogConfig         `yaml:"log,omitempty"`
}

// ServerConfig contains HTTP listener configuration
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxFrameBytes   int64         `yaml:"max_frame_bytes"`
}

// AcceleratorConfig describes the inference executable and where it runs
type AcceleratorConfig struct {
	WorkDir    string        `yaml:"work_dir"`
	Executable string        `yaml:"executable"`
	InputName  string        `yaml:"input_name"`
	Timeout    time.Duration `yaml:"timeout"`
}

// StagingConfig controls how frames are written before inference
type StagingConfig struct {
	ResizeWidth  int    `yaml:"resize_width"`  // 0 keeps the frame bytes as received
	ResizeHeight int    `yaml:"resize_height"` // 0 keeps the aspect ratio when width is set
	MinFreeBytes uint64 `yaml:"min_free_bytes"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

const (
	DefaultAddr          = "0.0.0.0:8000"
	DefaultWorkDir       = "/home/root/yolo_pynqz2"
	DefaultExecutable    = "./yolo_image"
	DefaultInputName     = "temp_input.jpg"
	DefaultMaxFrameBytes = 10 << 20
)

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// Load reads and parses the configuration file. An empty path yields the defaults.
// Environment overrides are applied after the file.
func Load(configPath string) (*Config, error) {
	var cfg Config

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse configuration: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.setDefaults()

	return &cfg, nil
}

// applyEnv overrides file values from the process environment
func (c *Config) applyEnv() {
	if v := os.Getenv("FPGA_WORK_DIR"); v != "" {
		c.Accelerator.WorkDir = v
	}
	if v := os.Getenv("FPGA_EXECUTABLE"); v != "" {
		c.Accelerator.Executable = v
	}
	if v := os.Getenv("FPGA_LISTEN_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

func (c *Config) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}

	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 60 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 60 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Server.MaxFrameBytes == 0 {
		c.Server.MaxFrameBytes = DefaultMaxFrameBytes
	}

	if c.Accelerator.WorkDir == "" {
		c.Accelerator.WorkDir = DefaultWorkDir
	}
	if c.Accelerator.Executable == "" {
		c.Accelerator.Executable = DefaultExecutable
	}
	if c.Accelerator.InputName == "" {
		c.Accelerator.InputName = DefaultInputName
	}
	if c.Accelerator.Timeout == 0 {
		c.Accelerator.Timeout = 30 * time.Second
	}
}
