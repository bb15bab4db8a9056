package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dl-alexandre/gsyncfs/internal/sync/conflict"
	"github.com/dl-alexandre/gsyncfs/internal/types"
	"github.com/dl-alexandre/gsyncfs/internal/utils"
)

const (
	// ConfigFileName is the name of the config file
	ConfigFileName = "config.json"
	// ConfigDirName is the directory under $HOME where config is stored
	ConfigDirName = ".gsyncfs"
	// EnvPrefix is the prefix for environment variables
	EnvPrefix = "GSYNCFS_"
)

// Config holds application configuration
type Config struct {
	// DefaultProfile is the authentication profile to use
	DefaultProfile string `json:"defaultProfile"`

	// DefaultOutputFormat is the default CLI output format (json, table)
	DefaultOutputFormat types.OutputFormat `json:"defaultOutputFormat"`

	// LocalRoot is the directory that holds every app's local sync tree
	LocalRoot string `json:"localRoot"`

	// RootDirectoryName is the remote folder containing the app directories
	RootDirectoryName string `json:"rootDirectoryName"`

	// ConflictPolicy is applied when a pulled change meets an unpushed local edit
	ConflictPolicy conflict.Policy `json:"conflictPolicy"`

	// Poll delays in milliseconds
	InitialPollDelayMs int `json:"initialPollDelayMs"`
	MaxPollDelayMs     int `json:"maxPollDelayMs"`
	OfflinePollDelayMs int `json:"offlinePollDelayMs"`

	// ChangePageSize bounds one change feed request
	ChangePageSize int `json:"changePageSize"`

	// MaxRetries is the maximum number of retries for API calls
	MaxRetries int `json:"maxRetries"`

	// RetryBaseDelay is the base delay for exponential backoff in milliseconds
	RetryBaseDelay int `json:"retryBaseDelay"`

	// RequestTimeout is the per request timeout in seconds
	RequestTimeout int `json:"requestTimeout"`

	// ProbeIntervalSec is how often connectivity is probed
	ProbeIntervalSec int `json:"probeIntervalSec"`

	// WatchLocal enables the filesystem watcher for dropped-in files
	WatchLocal bool `json:"watchLocal"`

	// ExcludePatterns extend the built-in exclude list
	ExcludePatterns []string `json:"excludePatterns,omitempty"`

	// LogLevel sets the logging verbosity (quiet, normal, verbose, debug)
	LogLevel string `json:"logLevel"`

	// LogFile, when set, receives JSON log lines
	LogFile string `json:"logFile,omitempty"`

	// ColorOutput enables color output for console logs
	ColorOutput bool `json:"colorOutput"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		DefaultProfile:      "default",
		DefaultOutputFormat: types.OutputFormatTable,
		RootDirectoryName:   utils.DefaultRootDirectoryName,
		ConflictPolicy:      conflict.PolicyLastWriteWin,
		InitialPollDelayMs:  utils.DefaultInitialPollDelayMs,
		MaxPollDelayMs:      utils.DefaultMaxPollDelayMs,
		OfflinePollDelayMs:  utils.DefaultOfflinePollDelayMs,
		ChangePageSize:      utils.DefaultChangePageSize,
		MaxRetries:          utils.DefaultMaxRetries,
		RetryBaseDelay:      utils.DefaultRetryDelayMs,
		RequestTimeout:      60,
		ProbeIntervalSec:    30,
		WatchLocal:          true,
		LogLevel:            "normal",
		ColorOutput:         true,
	}
}

// Load loads configuration with precedence: env vars > config file > defaults.
// CLI flags are applied by the caller on top of the result.
func Load() (*Config, error) {
	path, err := GetConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom loads configuration from an explicit file path
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	if err := cfg.loadFromFile(path); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	cfg.loadFromEnv()

	if cfg.LocalRoot == "" {
		dir, err := GetConfigDir()
		if err != nil {
			return nil, err
		}
		cfg.LocalRoot = filepath.Join(dir, "data")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadFile loads the defaults overlaid by the file at path, without
// environment overrides. A missing file yields the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := cfg.loadFromFile(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, c)
}

func envInt(name string, dst *int) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func (c *Config) loadFromEnv() {
	if v := os.Getenv(EnvPrefix + "DEFAULT_PROFILE"); v != "" {
		c.DefaultProfile = v
	}
	if v := os.Getenv(EnvPrefix + "OUTPUT_FORMAT"); v != "" {
		c.DefaultOutputFormat = types.OutputFormat(v)
	}
	if v := os.Getenv(EnvPrefix + "LOCAL_ROOT"); v != "" {
		c.LocalRoot = v
	}
	if v := os.Getenv(EnvPrefix + "ROOT_DIRECTORY_NAME"); v != "" {
		c.RootDirectoryName = v
	}
	if v := os.Getenv(EnvPrefix + "CONFLICT_POLICY"); v != "" {
		c.ConflictPolicy = conflict.Policy(v)
	}
	envInt("INITIAL_POLL_DELAY_MS", &c.InitialPollDelayMs)
	envInt("MAX_POLL_DELAY_MS", &c.MaxPollDelayMs)
	envInt("OFFLINE_POLL_DELAY_MS", &c.OfflinePollDelayMs)
	envInt("CHANGE_PAGE_SIZE", &c.ChangePageSize)
	envInt("MAX_RETRIES", &c.MaxRetries)
	envInt("RETRY_BASE_DELAY", &c.RetryBaseDelay)
	envInt("REQUEST_TIMEOUT", &c.RequestTimeout)
	envInt("PROBE_INTERVAL_SEC", &c.ProbeIntervalSec)
	if v := os.Getenv(EnvPrefix + "WATCH_LOCAL"); v != "" {
		c.WatchLocal = parseBool(v)
	}
	if v := os.Getenv(EnvPrefix + "EXCLUDE"); v != "" {
		c.ExcludePatterns = append(c.ExcludePatterns, strings.Split(v, ",")...)
	}
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_FILE"); v != "" {
		c.LogFile = v
	}
	if v := os.Getenv(EnvPrefix + "COLOR_OUTPUT"); v != "" {
		c.ColorOutput = parseBool(v)
	}
}

// Save writes the configuration to the default config file
func (c *Config) Save() error {
	path, err := GetConfigPath()
	if err != nil {
		return err
	}
	return c.SaveTo(path)
}

// SaveTo validates and writes the configuration with 0600 permissions
func (c *Config) SaveTo(path string) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.DefaultOutputFormat != types.OutputFormatJSON &&
		c.DefaultOutputFormat != types.OutputFormatTable {
		return fmt.Errorf("invalid output format: %s (must be 'json' or 'table')", c.DefaultOutputFormat)
	}

	if strings.TrimSpace(c.RootDirectoryName) == "" || strings.Contains(c.RootDirectoryName, "/") {
		return fmt.Errorf("root directory name must be a single non-empty path segment, got: %q", c.RootDirectoryName)
	}

	if _, err := conflict.ParsePolicy(string(c.ConflictPolicy)); err != nil {
		return err
	}

	if c.InitialPollDelayMs <= 0 || c.MaxPollDelayMs <= 0 || c.OfflinePollDelayMs <= 0 {
		return fmt.Errorf("poll delays must be positive, got initial=%d max=%d offline=%d",
			c.InitialPollDelayMs, c.MaxPollDelayMs, c.OfflinePollDelayMs)
	}
	if c.InitialPollDelayMs > c.MaxPollDelayMs {
		return fmt.Errorf("initial poll delay (%dms) must not exceed max poll delay (%dms)", c.InitialPollDelayMs, c.MaxPollDelayMs)
	}

	if c.ChangePageSize <= 0 || c.ChangePageSize > utils.MaxChangePageSize {
		return fmt.Errorf("change page size must be between 1 and %d, got: %d", utils.MaxChangePageSize, c.ChangePageSize)
	}

	if c.MaxRetries < 0 || c.MaxRetries > 10 {
		return fmt.Errorf("max retries must be between 0 and 10, got: %d", c.MaxRetries)
	}

	if c.RetryBaseDelay < 100 || c.RetryBaseDelay > 60000 {
		return fmt.Errorf("retry base delay must be between 100ms and 60000ms, got: %d", c.RetryBaseDelay)
	}

	if c.RequestTimeout < 1 || c.RequestTimeout > 3600 {
		return fmt.Errorf("request timeout must be between 1 and 3600 seconds, got: %d", c.RequestTimeout)
	}

	if c.ProbeIntervalSec < 1 {
		return fmt.Errorf("probe interval must be at least 1 second, got: %d", c.ProbeIntervalSec)
	}

	validLogLevels := []string{"quiet", "normal", "verbose", "debug"}
	for _, level := range validLogLevels {
		if c.LogLevel == level {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
}

// Set assigns a config key from its string form, as used by `config set`.
// The config is left unchanged when the value does not parse or validate.
func (c *Config) Set(key, value string) error {
	atoi := func() (int, error) {
		n, err := strconv.Atoi(value)
		if err != nil {
			return 0, fmt.Errorf("%s must be an integer: %w", key, err)
		}
		return n, nil
	}

	next := *c
	var err error
	switch key {
	case "defaultProfile":
		next.DefaultProfile = value
	case "defaultOutputFormat":
		next.DefaultOutputFormat = types.OutputFormat(value)
	case "localRoot":
		next.LocalRoot = value
	case "rootDirectoryName":
		next.RootDirectoryName = value
	case "conflictPolicy":
		next.ConflictPolicy = conflict.Policy(value)
	case "initialPollDelayMs":
		next.InitialPollDelayMs, err = atoi()
	case "maxPollDelayMs":
		next.MaxPollDelayMs, err = atoi()
	case "offlinePollDelayMs":
		next.OfflinePollDelayMs, err = atoi()
	case "changePageSize":
		next.ChangePageSize, err = atoi()
	case "maxRetries":
		next.MaxRetries, err = atoi()
	case "retryBaseDelay":
		next.RetryBaseDelay, err = atoi()
	case "requestTimeout":
		next.RequestTimeout, err = atoi()
	case "probeIntervalSec":
		next.ProbeIntervalSec, err = atoi()
	case "watchLocal":
		next.WatchLocal = parseBool(value)
	case "excludePatterns":
		next.ExcludePatterns = nil
		for _, p := range strings.Split(value, ",") {
			if p = strings.TrimSpace(p); p != "" {
				next.ExcludePatterns = append(next.ExcludePatterns, p)
			}
		}
	case "logLevel":
		next.LogLevel = value
	case "logFile":
		next.LogFile = value
	case "colorOutput":
		next.ColorOutput = parseBool(value)
	default:
		return fmt.Errorf("unknown config key: %s", key)
	}
	if err != nil {
		return err
	}
	if err := next.Validate(); err != nil {
		return err
	}
	*c = next
	return nil
}

// GetInitialPollDelay returns the initial poll delay as a duration
func (c *Config) GetInitialPollDelay() time.Duration {
	return time.Duration(c.InitialPollDelayMs) * time.Millisecond
}

// GetMaxPollDelay returns the max poll delay as a duration
func (c *Config) GetMaxPollDelay() time.Duration {
	return time.Duration(c.MaxPollDelayMs) * time.Millisecond
}

// GetOfflinePollDelay returns the offline poll delay as a duration
func (c *Config) GetOfflinePollDelay() time.Duration {
	return time.Duration(c.OfflinePollDelayMs) * time.Millisecond
}

// GetRetryBaseDelay returns the retry base delay as a duration
func (c *Config) GetRetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelay) * time.Millisecond
}

// GetRequestTimeout returns the request timeout as a duration
func (c *Config) GetRequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

// GetProbeInterval returns the connectivity probe interval
func (c *Config) GetProbeInterval() time.Duration {
	return time.Duration(c.ProbeIntervalSec) * time.Second
}

// GetConfigPath returns the path to the config file
func GetConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, ConfigFileName), nil
}

// GetConfigDir returns the path to the config directory
func GetConfigDir() (string, error) {
	if dir := os.Getenv(EnvPrefix + "CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ConfigDirName), nil
}

// parseBool parses a boolean value from a string
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}
