// Package config loads and validates the playout engine's configuration
// surface (spec.md §6.4): control/health listener ports, frame geometry,
// and per-sink hardware options.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"

	"github.com/veles-productions/playout-core/internal/logging"
)

var log = logging.L("config")

// Config is the full recognized configuration surface.
type Config struct {
	ControlPort       int    `mapstructure:"control_port"`
	ControlAuthToken  string `mapstructure:"control_auth_token"`
	HealthPort        int    `mapstructure:"health_port"`
	FrameRate         int    `mapstructure:"frame_rate"`
	ResolutionWidth   int    `mapstructure:"resolution_width"`
	ResolutionHeight  int    `mapstructure:"resolution_height"`
	RGBMonitor        int    `mapstructure:"rgb_monitor"`
	AlphaMonitor      int    `mapstructure:"alpha_monitor"`
	CacheMaxBytes     int64  `mapstructure:"cache_max_bytes"`

	SDIEnabled     bool   `mapstructure:"sdi_enabled"`
	SDIFillDevice  int    `mapstructure:"sdi_fill_device"`
	SDIKeyDevice   int    `mapstructure:"sdi_key_device"`
	SDIDisplayMode string `mapstructure:"sdi_display_mode"`

	NDIEnabled    bool   `mapstructure:"ndi_enabled"`
	NDISenderName string `mapstructure:"ndi_sender_name"`

	IPCSocketPath string `mapstructure:"ipc_socket_path"`

	// Ambient stack.
	LogLevel              string `mapstructure:"log_level"`
	LogFormat             string `mapstructure:"log_format"`
	LogFile               string `mapstructure:"log_file"`
	LogMaxSizeMB          int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups         int    `mapstructure:"log_max_backups"`
	MaxConcurrentCommands int    `mapstructure:"max_concurrent_commands"`
	CommandQueueSize      int    `mapstructure:"command_queue_size"`
}

// Default returns a Config populated with the same defaults a fresh
// install ships with.
func Default() *Config {
	return &Config{
		ControlPort:      9090,
		HealthPort:       9091,
		FrameRate:        30,
		ResolutionWidth:  1920,
		ResolutionHeight: 1080,
		RGBMonitor:       -1,
		AlphaMonitor:     -1,
		CacheMaxBytes:    256 * 1024 * 1024,

		SDIFillDevice:  0,
		SDIKeyDevice:   1,
		SDIDisplayMode: "1080i59.94",

		NDISenderName: "Playout Engine",

		IPCSocketPath: defaultIPCSocketPath(),

		LogLevel:              "info",
		LogFormat:             "text",
		LogMaxSizeMB:          50,
		LogMaxBackups:         3,
		MaxConcurrentCommands: 10,
		CommandQueueSize:      100,
	}
}

// Load reads configuration from cfgFile (or the platform default search
// path when empty), applies environment overrides, and runs tiered
// validation. Fatal validation errors block startup; warnings are logged
// and the offending field is clamped to a safe value.
func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("playout")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(configDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("PLAYOUT")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}

	result := cfg.ValidateTiered()
	for _, err := range result.Warnings {
		log.Warn("config validation", "error", err)
	}
	if result.HasFatals() {
		for _, err := range result.Fatals {
			log.Error("config validation fatal", "error", err)
		}
		return nil, fmt.Errorf("config has fatal validation errors: %v", result.Fatals[0])
	}

	return cfg, nil
}

// Save writes cfg to the platform default config path.
func Save(cfg *Config) error {
	return SaveTo(cfg, "")
}

// SaveTo writes cfg as YAML to cfgFile (or the platform default path when
// empty) and restricts its permissions because it may carry
// controlAuthToken.
func SaveTo(cfg *Config, cfgFile string) error {
	viper.Set("control_port", cfg.ControlPort)
	viper.Set("control_auth_token", cfg.ControlAuthToken)
	viper.Set("health_port", cfg.HealthPort)
	viper.Set("frame_rate", cfg.FrameRate)
	viper.Set("resolution_width", cfg.ResolutionWidth)
	viper.Set("resolution_height", cfg.ResolutionHeight)
	viper.Set("rgb_monitor", cfg.RGBMonitor)
	viper.Set("alpha_monitor", cfg.AlphaMonitor)
	viper.Set("sdi_enabled", cfg.SDIEnabled)
	viper.Set("ndi_enabled", cfg.NDIEnabled)

	var cfgPath string
	if cfgFile != "" {
		cfgPath = cfgFile
		if dir := filepath.Dir(cfgPath); dir != "." {
			if err := os.MkdirAll(dir, 0700); err != nil {
				return err
			}
		}
	} else {
		cfgPath = filepath.Join(configDir(), "playout.yaml")
		if err := os.MkdirAll(configDir(), 0700); err != nil {
			return err
		}
	}

	if err := viper.WriteConfigAs(cfgPath); err != nil {
		return err
	}

	return os.Chmod(cfgPath, 0600)
}

// DataDir returns the platform-specific directory the as-run log lives
// under.
func DataDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "PlayoutEngine", "data")
	case "darwin":
		return "/Library/Application Support/PlayoutEngine/data"
	default:
		return "/var/lib/playout-engine"
	}
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "PlayoutEngine")
	case "darwin":
		return "/Library/Application Support/PlayoutEngine"
	default:
		return "/etc/playout-engine"
	}
}

func defaultIPCSocketPath() string {
	if runtime.GOOS == "windows" {
		return `\\.\pipe\playout-engine-surfacehost`
	}
	return "/var/run/playout-engine/surfacehost.sock"
}
