package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateTimings(); err != nil {
		return err
	}
	if err := c.validateCards(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		return errors.New("paths.state_dir must be set")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return errors.New("paths.log_dir must be set")
	}
	if c.Paths.APIToken != "" && c.Paths.APIBind == "" {
		return errors.New("paths.api_token requires paths.api_bind")
	}
	return nil
}

func (c *Config) validateTimings() error {
	if err := ensurePositiveMap(map[string]int{
		"cards.poll_interval_minutes":      c.Cards.PollIntervalMinutes,
		"steam.timeout_seconds":            c.Steam.TimeoutSeconds,
		"achievements.default_max_minutes": c.Achievements.DefaultMaxMinutes,
	}); err != nil {
		return err
	}
	if c.Session.DefaultDurationMinutes < 0 {
		return errors.New("session.default_duration_minutes must be >= 0")
	}
	if c.Achievements.StopGraceSeconds < 0 {
		return errors.New("achievements.stop_grace_seconds must be >= 0")
	}
	if c.Achievements.DefaultMinMinutes < 0 {
		return errors.New("achievements.default_min_minutes must be >= 0")
	}
	if c.Achievements.DefaultMaxMinutes <= c.Achievements.DefaultMinMinutes {
		return errors.New("achievements.default_max_minutes must be greater than achievements.default_min_minutes")
	}
	return nil
}

func (c *Config) validateCards() error {
	switch c.Cards.Order {
	case OrderDiscovery, OrderMostRemaining, OrderLeastRemaining:
	default:
		return fmt.Errorf("cards.order must be one of %s, %s, %s (got %q)", OrderDiscovery, OrderMostRemaining, OrderLeastRemaining, c.Cards.Order)
	}
	return nil
}

func (c *Config) validateNotifications() error {
	topic := c.Notifications.NtfyTopic
	if topic == "" {
		return nil
	}
	u, err := url.Parse(topic)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("notifications.ntfy_topic must be an http(s) URL (got %q)", topic)
	}
	if c.Notifications.RequestTimeoutSeconds <= 0 {
		return errors.New("notifications.request_timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
		return nil
	default:
		return fmt.Errorf("logging.level %q is not recognised (use debug, info, warn, or error)", c.Logging.Level)
	}
}

// CommunityCredentialsSet reports whether the cookie bundle needed by the
// card farm is configured.
func (c *Config) CommunityCredentialsSet() bool {
	return c.Steam.SteamID64 != "" && c.Steam.SessionID != "" && c.Steam.LoginSecure != ""
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
