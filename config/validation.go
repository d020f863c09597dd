package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Validate validates the configuration, reporting every problem at once
func (c *Config) Validate() error {
	var errors []string

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errors = append(errors, fmt.Sprintf("invalid log.level: %s (must be: debug, info, warn, error, fatal)", c.Log.Level))
	}

	if c.Log.Format != "text" && c.Log.Format != "json" {
		errors = append(errors, fmt.Sprintf("invalid log.format: %s (must be: text or json)", c.Log.Format))
	}

	if c.Server.Addr == "" {
		errors = append(errors, "server.addr is required")
	}

	if c.Server.MaxFrameBytes <= 0 {
		errors = append(errors, fmt.Sprintf("server.max_frame_bytes must be > 0, got: %d", c.Server.MaxFrameBytes))
	}

	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 || c.Server.ShutdownTimeout < 0 {
		errors = append(errors, "server timeouts must be >= 0")
	}

	if c.Accelerator.WorkDir == "" {
		errors = append(errors, "accelerator.work_dir is required")
	}

	if c.Accelerator.Executable == "" {
		errors = append(errors, "accelerator.executable is required")
	}

	// The staged file must sit directly inside work_dir since the executable
	// receives the bare name as its argument.
	if c.Accelerator.InputName == "" || filepath.Base(c.Accelerator.InputName) != c.Accelerator.InputName {
		errors = append(errors, fmt.Sprintf("accelerator.input_name must be a plain file name, got: %q", c.Accelerator.InputName))
	}

	if c.Accelerator.Timeout <= 0 {
		errors = append(errors, fmt.Sprintf("accelerator.timeout must be > 0, got: %v", c.Accelerator.Timeout))
	}

	if c.Staging.ResizeWidth < 0 || c.Staging.ResizeHeight < 0 {
		errors = append(errors, fmt.Sprintf("staging resize dimensions must be >= 0, got: %dx%d", c.Staging.ResizeWidth, c.Staging.ResizeHeight))
	}

	if c.Staging.ResizeWidth == 0 && c.Staging.ResizeHeight > 0 {
		errors = append(errors, "staging.resize_height requires staging.resize_width")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}
