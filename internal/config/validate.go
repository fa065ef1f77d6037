package config

import (
	"fmt"
	"unicode"
)

// ValidationResult separates fatal errors (block startup) from warnings
// (the offending field is clamped to a safe value and logging continues).
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

// HasFatals reports whether any fatal validation error was recorded.
func (r ValidationResult) HasFatals() bool {
	return len(r.Fatals) > 0
}

// AllErrors returns fatals followed by warnings, for callers that just
// want to print everything.
func (r ValidationResult) AllErrors() []error {
	all := make([]error, 0, len(r.Fatals)+len(r.Warnings))
	all = append(all, r.Fatals...)
	all = append(all, r.Warnings...)
	return all
}

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "warning": true, "error": true,
}

// ValidateTiered checks the config and clamps recoverable problems to a
// safe default in place. Only conditions that would make it impossible to
// bind a surface or listener at all are fatal — everything else degrades
// per spec.md §7 ("only unrecoverable conditions at process start are
// fatal").
func (c *Config) ValidateTiered() ValidationResult {
	var r ValidationResult

	if !validPort(c.ControlPort) {
		r.Fatals = append(r.Fatals, fmt.Errorf("control_port %d is not a valid TCP port", c.ControlPort))
	}
	if c.HealthPort != 0 && !validPort(c.HealthPort) {
		r.Fatals = append(r.Fatals, fmt.Errorf("health_port %d is not a valid TCP port (use 0 to disable)", c.HealthPort))
	}
	if c.ControlPort != 0 && c.HealthPort != 0 && c.ControlPort == c.HealthPort {
		r.Fatals = append(r.Fatals, fmt.Errorf("control_port and health_port must differ, both are %d", c.ControlPort))
	}

	for _, tok := range c.ControlAuthToken {
		if unicode.IsControl(tok) {
			r.Fatals = append(r.Fatals, fmt.Errorf("control_auth_token contains control characters"))
			break
		}
	}

	if c.ResolutionWidth <= 0 || c.ResolutionHeight <= 0 {
		r.Fatals = append(r.Fatals, fmt.Errorf("resolution %dx%d is invalid; surfaces cannot be created", c.ResolutionWidth, c.ResolutionHeight))
	}

	if c.FrameRate <= 0 {
		r.Warnings = append(r.Warnings, fmt.Errorf("frame_rate %d is below minimum 1, clamping to 30", c.FrameRate))
		c.FrameRate = 30
	} else if c.FrameRate > 120 {
		r.Warnings = append(r.Warnings, fmt.Errorf("frame_rate %d exceeds maximum 120, clamping", c.FrameRate))
		c.FrameRate = 120
	}

	if c.CacheMaxBytes < 0 {
		r.Warnings = append(r.Warnings, fmt.Errorf("cache_max_bytes %d is negative, clamping to 0", c.CacheMaxBytes))
		c.CacheMaxBytes = 0
	}

	if c.LogLevel != "" && !validLogLevels[c.LogLevel] {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error), defaulting to info", c.LogLevel))
		c.LogLevel = "info"
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_format %q is not valid (use text or json), defaulting to text", c.LogFormat))
		c.LogFormat = "text"
	}

	if c.MaxConcurrentCommands < 1 {
		r.Warnings = append(r.Warnings, fmt.Errorf("max_concurrent_commands %d is below minimum 1, clamping", c.MaxConcurrentCommands))
		c.MaxConcurrentCommands = 1
	} else if c.MaxConcurrentCommands > 64 {
		r.Warnings = append(r.Warnings, fmt.Errorf("max_concurrent_commands %d exceeds maximum 64, clamping", c.MaxConcurrentCommands))
		c.MaxConcurrentCommands = 64
	}

	if c.CommandQueueSize < 1 {
		r.Warnings = append(r.Warnings, fmt.Errorf("command_queue_size %d is below minimum 1, clamping", c.CommandQueueSize))
		c.CommandQueueSize = 1
	} else if c.CommandQueueSize > 10000 {
		r.Warnings = append(r.Warnings, fmt.Errorf("command_queue_size %d exceeds maximum 10000, clamping", c.CommandQueueSize))
		c.CommandQueueSize = 10000
	}

	// Hardware init failure is explicitly not fatal (spec.md §7 item 5):
	// fill and key on the same device index is reported as a warning that
	// the Sdi output runs fill-only; it never blocks startup.
	if c.SDIEnabled && c.SDIFillDevice == c.SDIKeyDevice {
		r.Warnings = append(r.Warnings, fmt.Errorf("sdi_fill_device and sdi_key_device are both %d; sdi output runs fill-only (no key channel)", c.SDIFillDevice))
	}

	return r
}

func validPort(p int) bool {
	return p >= 1 && p <= 65535
}
