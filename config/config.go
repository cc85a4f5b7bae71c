package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
)

// Config represents rbprof's on-disk configuration
type Config struct {
	// Bootstrap settings control the retry loop that locates the Ruby VM's
	// address map in a freshly attached target.
	Bootstrap struct {
		MaxAttempts     int    `toml:"max_attempts"`
		RetryIntervalMs int    `toml:"retry_interval_ms"`
		ForceVersion    string `toml:"force_version"`
	} `toml:"bootstrap"`

	// Sampling settings tune how the Trace Getter takes each sample.
	Sampling struct {
		OnCPUOnly     bool `toml:"on_cpu_only"`
		FreezeTarget  bool `toml:"freeze_target"`
		MaxReinits    int  `toml:"max_reinits"`
		BufferSize    int  `toml:"buffer_size"`
	} `toml:"sampling"`

	// Output settings are loaded and saved with the rest of the file; the C
	// ABI surface's frame encoder does not read them and always shortens
	// paths and joins frames with ";".
	Output struct {
		ShortenPaths  bool   `toml:"shorten_paths"`
		FrameJoiner   string `toml:"frame_joiner"`
		IncludeOnCPU  bool   `toml:"include_on_cpu"`
	} `toml:"output"`

	// Logging settings mirror logrus's level/formatter knobs.
	Logging struct {
		Level     string `toml:"level"` // panic, fatal, error, warn, info, debug, trace
		JSON      bool   `toml:"json"`
		OutputLog string `toml:"output_log"`
	} `toml:"logging"`

	// Inspector settings control the optional local HTTP+websocket
	// introspection surface.
	Inspector struct {
		Enabled bool   `toml:"enabled"`
		Addr    string `toml:"addr"`
	} `toml:"inspector"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Bootstrap.MaxAttempts = 100
	cfg.Bootstrap.RetryIntervalMs = 1
	cfg.Bootstrap.ForceVersion = ""

	cfg.Sampling.OnCPUOnly = false
	cfg.Sampling.FreezeTarget = true
	cfg.Sampling.MaxReinits = 1
	cfg.Sampling.BufferSize = 8192

	cfg.Output.ShortenPaths = true
	cfg.Output.FrameJoiner = ";"
	cfg.Output.IncludeOnCPU = false

	cfg.Logging.Level = "info"
	cfg.Logging.JSON = false
	cfg.Logging.OutputLog = ""

	cfg.Inspector.Enabled = false
	cfg.Inspector.Addr = "127.0.0.1:9547"

	return cfg
}

// GetConfigPath returns the platform-specific config file path
func GetConfigPath() string {
	var configDir string

	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		configDir = filepath.Join(configDir, "rbprof")

	case "darwin", "linux":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.toml"
		}
		configDir = filepath.Join(homeDir, ".config", "rbprof")

	default:
		return "config.toml"
	}

	if err := os.MkdirAll(configDir, 0750); err != nil {
		return "config.toml"
	}

	return filepath.Join(configDir, "config.toml")
}

// GetLogPath returns the platform-specific log directory path
func GetLogPath() string {
	var logDir string

	switch runtime.GOOS {
	case "windows":
		logDir = os.Getenv("APPDATA")
		if logDir == "" {
			logDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		logDir = filepath.Join(logDir, "rbprof", "logs")

	case "darwin", "linux":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "logs"
		}
		logDir = filepath.Join(homeDir, ".local", "share", "rbprof", "logs")

	default:
		return "logs"
	}

	if err := os.MkdirAll(logDir, 0750); err != nil {
		return "logs"
	}

	return logDir
}

// Load loads configuration from the default config file
func Load() (*Config, error) {
	return LoadFrom(GetConfigPath())
}

// LoadFrom loads configuration from the specified file
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Save saves configuration to the default config file
func (c *Config) Save() error {
	return c.SaveTo(GetConfigPath())
}

// SaveTo saves configuration to the specified file
func (c *Config) SaveTo(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path) // #nosec G304 -- user config file path
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close config file: %w", closeErr)
		}
	}()

	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return nil
}
