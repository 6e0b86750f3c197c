package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir        string   `toml:"data_dir"`
	LogDir         string   `toml:"log_dir"`
	APIBind        string   `toml:"api_bind"`
	APIToken       string   `toml:"api_token"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

// Site describes the vectorizer site the worker tab is driven against.
type Site struct {
	Host             string `toml:"host"`
	DefaultSubdomain string `toml:"default_subdomain"`
	ResultMarker     string `toml:"result_marker"`
	TabPattern       string `toml:"tab_pattern"`
}

// Engine holds queue engine timings. Values are milliseconds unless the key
// names another unit.
type Engine struct {
	SkipRetryMs              int `toml:"skip_retry_ms"`
	HandshakeAttempts        int `toml:"handshake_attempts"`
	HandshakeBaseMs          int `toml:"handshake_base_ms"`
	HandshakeStepMs          int `toml:"handshake_step_ms"`
	HandshakeRetryMs         int `toml:"handshake_retry_ms"`
	HandshakeRequeueLimit    int `toml:"handshake_requeue_limit"`
	DeliveryRetries          int `toml:"delivery_retries"`
	DeliveryRetryMs          int `toml:"delivery_retry_ms"`
	NavigationTimeoutSeconds int `toml:"navigation_timeout_seconds"`
	NavigationSettleMs       int `toml:"navigation_settle_ms"`
	KeepAliveFloorSeconds    int `toml:"keepalive_floor_seconds"`
	KeepAliveOverheadSeconds int `toml:"keepalive_overhead_seconds"`
	SnapshotMaxAgeMinutes    int `toml:"snapshot_max_age_minutes"`
	RequestTimeoutSeconds    int `toml:"request_timeout_seconds"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Queue          bool   `toml:"queue"`
	AutoPause      bool   `toml:"auto_pause"`
	Interstitial   bool   `toml:"interstitial"`
	Restore        bool   `toml:"restore"`
	Errors         bool   `toml:"errors"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all daemon configuration values.
//
// Configuration sections by subsystem:
//   - Paths: data/log directories, API bind address and access control
//   - Site: vectorizer host, subdomain fallback and worker tab matching
//   - Engine: queue engine retry, handshake and keep-alive timings
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
//
// User-facing batch settings (delay, format, folder, auto-pause) are not part
// of this file; they live in the key-value store and are edited at runtime.
type Config struct {
	Paths         Paths         `toml:"paths"`
	Site          Site          `toml:"site"`
	Engine        Engine        `toml:"engine"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/batchvec/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized. A .env file in the working directory is
// loaded first so environment fallbacks can be kept next to the project.
func Load(path string) (*Config, string, bool, error) {
	_ = godotenv.Load(".env")

	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("batchvec.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite key-value store location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "batchvec.db")
}

// SocketPath returns the IPC socket location.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.DataDir, "batchvec.sock")
}

// LockPath returns the daemon single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "batchvecd.lock")
}

// PIDPath returns the daemon process id file location.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.DataDir, "batchvecd.pid")
}

// Timings converts the [engine] section into durations.
func (c *Config) Timings() Timings {
	ms := func(v int) time.Duration { return time.Duration(v) * time.Millisecond }
	sec := func(v int) time.Duration { return time.Duration(v) * time.Second }
	e := c.Engine
	return Timings{
		SkipRetry:             ms(e.SkipRetryMs),
		HandshakeAttempts:     e.HandshakeAttempts,
		HandshakeBase:         ms(e.HandshakeBaseMs),
		HandshakeStep:         ms(e.HandshakeStepMs),
		HandshakeRetry:        ms(e.HandshakeRetryMs),
		HandshakeRequeueLimit: e.HandshakeRequeueLimit,
		DeliveryRetries:       e.DeliveryRetries,
		DeliveryRetry:         ms(e.DeliveryRetryMs),
		NavigationTimeout:     sec(e.NavigationTimeoutSeconds),
		NavigationSettle:      ms(e.NavigationSettleMs),
		KeepAliveFloor:        sec(e.KeepAliveFloorSeconds),
		KeepAliveOverhead:     sec(e.KeepAliveOverheadSeconds),
		SnapshotMaxAge:        time.Duration(e.SnapshotMaxAgeMinutes) * time.Minute,
		RequestTimeout:        sec(e.RequestTimeoutSeconds),
	}
}

// Timings is the engine section expressed as durations.
type Timings struct {
	SkipRetry             time.Duration
	HandshakeAttempts     int
	HandshakeBase         time.Duration
	HandshakeStep         time.Duration
	HandshakeRetry        time.Duration
	HandshakeRequeueLimit int
	DeliveryRetries       int
	DeliveryRetry         time.Duration
	NavigationTimeout     time.Duration
	NavigationSettle      time.Duration
	KeepAliveFloor        time.Duration
	KeepAliveOverhead     time.Duration
	SnapshotMaxAge        time.Duration
	RequestTimeout        time.Duration
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
