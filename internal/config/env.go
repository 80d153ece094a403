package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// envOverrides lists the settings that may be supplied through the
// environment. Empty or zero values leave the file value untouched.
type envOverrides struct {
	StateDir         string `env:"IDLEFARM_STATE_DIR"`
	LogDir           string `env:"IDLEFARM_LOG_DIR"`
	APIBind          string `env:"IDLEFARM_API_BIND"`
	APIToken         string `env:"IDLEFARM_API_TOKEN"`
	WorkerCommand    string `env:"IDLEFARM_WORKER_COMMAND"`
	LogLevel         string `env:"IDLEFARM_LOG_LEVEL"`
	LogFormat        string `env:"IDLEFARM_LOG_FORMAT"`
	CardPollMinutes  int    `env:"IDLEFARM_CARD_POLL_MINUTES"`
	SteamAPIKey      string `env:"STEAM_API_KEY"`
	SteamID64        string `env:"IDLEFARM_STEAM_ID64"`
	SteamSessionID   string `env:"IDLEFARM_STEAM_SESSION_ID"`
	SteamLoginSecure string `env:"IDLEFARM_STEAM_LOGIN_SECURE"`
	NtfyTopic        string `env:"IDLEFARM_NTFY_TOPIC"`
}

func (c *Config) applyEnv() error {
	var overrides envOverrides
	if err := env.Parse(&overrides); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	setString(&c.Paths.StateDir, overrides.StateDir)
	setString(&c.Paths.LogDir, overrides.LogDir)
	setString(&c.Paths.APIBind, overrides.APIBind)
	setString(&c.Paths.APIToken, overrides.APIToken)
	setString(&c.Worker.Command, overrides.WorkerCommand)
	setString(&c.Logging.Level, overrides.LogLevel)
	setString(&c.Logging.Format, overrides.LogFormat)
	if overrides.CardPollMinutes > 0 {
		c.Cards.PollIntervalMinutes = overrides.CardPollMinutes
	}
	if strings.TrimSpace(c.Steam.APIKey) == "" {
		setString(&c.Steam.APIKey, overrides.SteamAPIKey)
	}
	setString(&c.Steam.SteamID64, overrides.SteamID64)
	setString(&c.Steam.SessionID, overrides.SteamSessionID)
	setString(&c.Steam.LoginSecure, overrides.SteamLoginSecure)
	setString(&c.Notifications.NtfyTopic, overrides.NtfyTopic)
	return nil
}

func setString(dst *string, value string) {
	if value = strings.TrimSpace(value); value != "" {
		*dst = value
	}
}
