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

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	StateDir string `toml:"state_dir"`
	LogDir   string `toml:"log_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// Worker describes the process launched for every farmed game.
type Worker struct {
	// Command is the worker executable. Empty means the idlefarm-worker
	// binary installed next to the daemon.
	Command      string   `toml:"command"`
	Args         []string `toml:"args"`
	NoiseFilters []string `toml:"noise_filters"`
}

// Session contains defaults for plain session farming.
type Session struct {
	DefaultDurationMinutes int `toml:"default_duration_minutes"`
}

// Achievements contains achievement farm settings.
type Achievements struct {
	StopGraceSeconds  int `toml:"stop_grace_seconds"`
	DefaultMinMinutes int `toml:"default_min_minutes"`
	DefaultMaxMinutes int `toml:"default_max_minutes"`
}

// Cards contains trading card farm settings.
type Cards struct {
	PollIntervalMinutes int    `toml:"poll_interval_minutes"`
	Order               string `toml:"order"`
	RequestDelayMillis  int    `toml:"request_delay_ms"`
	MaxPollFailures     int    `toml:"max_poll_failures"`
}

// Steam contains endpoints and credentials for the Steam collaborators.
type Steam struct {
	StoreBaseURL     string `toml:"store_base_url"`
	CommunityBaseURL string `toml:"community_base_url"`
	WebAPIBaseURL    string `toml:"webapi_base_url"`
	APIKey           string `toml:"api_key"`
	Language         string `toml:"language"`
	Country          string `toml:"country"`
	TimeoutSeconds   int    `toml:"timeout_seconds"`
	SteamID64        string `toml:"steam_id64"`
	SessionID        string `toml:"session_id"`
	LoginSecure      string `toml:"login_secure"`
}

// Notifications configures ntfy push notifications for farm runs.
type Notifications struct {
	// NtfyTopic is the full topic URL, e.g. https://ntfy.sh/my-farm. Empty
	// disables notifications.
	NtfyTopic             string `toml:"ntfy_topic"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
	RunStarted            bool   `toml:"run_started"`
	CardDrops             bool   `toml:"card_drops"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format         string `toml:"format"`
	Level          string `toml:"level"`
	StreamCapacity int    `toml:"stream_capacity"`
}

// Config encapsulates all configuration values for idlefarm.
//
// Configuration sections by subsystem:
//   - Paths: state/log directories and API bind address
//   - Worker: worker executable and stderr noise filters
//   - Session: session farm defaults
//   - Achievements: unlock window defaults and post-schedule grace
//   - Cards: card farm polling, ordering, and scrape pacing
//   - Steam: store, community, and Web API endpoints plus cookies
//   - Notifications: ntfy topic and which run events to push
//   - Logging: log format, level, and stream buffer size
type Config struct {
	Paths         Paths         `toml:"paths"`
	Worker        Worker        `toml:"worker"`
	Session       Session       `toml:"session"`
	Achievements  Achievements  `toml:"achievements"`
	Cards         Cards         `toml:"cards"`
	Steam         Steam         `toml:"steam"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

const (
	configFileName  = "idlefarm.toml"
	userConfigPath  = "~/.config/idlefarm/config.toml"
	socketFileName  = "idlefarm.sock"
	lockFileName    = "idlefarmd.lock"
	historyFileName = "history.db"
)

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(userConfigPath)
}

// Load locates, parses, and validates a configuration file. Environment
// overrides are applied after the file is decoded. The returned config has
// all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
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

	if err := cfg.applyEnv(); err != nil {
		return nil, "", false, err
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
	projectPath, err := filepath.Abs(configFileName)
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
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// SocketPath is the JSON-RPC socket the daemon listens on.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.StateDir, socketFileName)
}

// LockPath is the single-instance lock file held by the daemon.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, lockFileName)
}

// HistoryPath is the SQLite run history database.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.Paths.StateDir, historyFileName)
}

// SessionDuration is the default session farm duration.
func (c *Config) SessionDuration() time.Duration {
	return time.Duration(c.Session.DefaultDurationMinutes) * time.Minute
}

// AchievementWindow returns the default [min, max) unlock window.
func (c *Config) AchievementWindow() (time.Duration, time.Duration) {
	return time.Duration(c.Achievements.DefaultMinMinutes) * time.Minute,
		time.Duration(c.Achievements.DefaultMaxMinutes) * time.Minute
}

// AchievementStopGrace is how long an achievement farm keeps running after
// its final unlock has fired.
func (c *Config) AchievementStopGrace() time.Duration {
	return time.Duration(c.Achievements.StopGraceSeconds) * time.Second
}

// CardPollInterval is the delay between remaining-drop checks.
func (c *Config) CardPollInterval() time.Duration {
	return time.Duration(c.Cards.PollIntervalMinutes) * time.Minute
}

// CardRequestDelay is the pause between consecutive community page requests
// during queue discovery.
func (c *Config) CardRequestDelay() time.Duration {
	return time.Duration(c.Cards.RequestDelayMillis) * time.Millisecond
}

// NotifyTimeout bounds each ntfy request.
func (c *Config) NotifyTimeout() time.Duration {
	return time.Duration(c.Notifications.RequestTimeoutSeconds) * time.Second
}

// SteamTimeout bounds every Steam HTTP request.
func (c *Config) SteamTimeout() time.Duration {
	return time.Duration(c.Steam.TimeoutSeconds) * time.Second
}

// WorkerCommand returns the executable used for workers. When none is
// configured it looks for idlefarm-worker beside the running binary and then
// on PATH.
func (c *Config) WorkerCommand() string {
	if cmd := strings.TrimSpace(c.Worker.Command); cmd != "" {
		return cmd
	}
	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), defaultWorkerBinary)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	return defaultWorkerBinary
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

// SampleConfig returns the commented sample configuration.
func SampleConfig() string {
	return sampleConfig
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
