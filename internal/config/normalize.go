package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeWorker()
	c.normalizeCards()
	c.normalizeSteam()
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	return nil
}

func (c *Config) normalizeWorker() {
	c.Worker.Command = strings.TrimSpace(c.Worker.Command)
	filters := make([]string, 0, len(c.Worker.NoiseFilters))
	seen := make(map[string]struct{}, len(c.Worker.NoiseFilters))
	for _, filter := range c.Worker.NoiseFilters {
		filter = strings.TrimSpace(filter)
		if filter == "" {
			continue
		}
		if _, exists := seen[filter]; exists {
			continue
		}
		seen[filter] = struct{}{}
		filters = append(filters, filter)
	}
	c.Worker.NoiseFilters = filters
}

func (c *Config) normalizeCards() {
	c.Cards.Order = strings.ToLower(strings.TrimSpace(c.Cards.Order))
	if c.Cards.Order == "" {
		c.Cards.Order = defaultCardOrder
	}
	if c.Cards.RequestDelayMillis < 0 {
		c.Cards.RequestDelayMillis = 0
	}
	if c.Cards.MaxPollFailures < 0 {
		c.Cards.MaxPollFailures = 0
	}
}

func (c *Config) normalizeSteam() {
	c.Steam.StoreBaseURL = trimURL(c.Steam.StoreBaseURL, defaultStoreBaseURL)
	c.Steam.CommunityBaseURL = trimURL(c.Steam.CommunityBaseURL, defaultCommunityBaseURL)
	c.Steam.WebAPIBaseURL = trimURL(c.Steam.WebAPIBaseURL, defaultWebAPIBaseURL)
	c.Steam.APIKey = strings.TrimSpace(c.Steam.APIKey)
	c.Steam.Language = strings.ToLower(strings.TrimSpace(c.Steam.Language))
	if c.Steam.Language == "" {
		c.Steam.Language = defaultSteamLanguage
	}
	c.Steam.Country = strings.ToUpper(strings.TrimSpace(c.Steam.Country))
	if c.Steam.Country == "" {
		c.Steam.Country = defaultSteamCountry
	}
	if c.Steam.TimeoutSeconds <= 0 {
		c.Steam.TimeoutSeconds = defaultSteamTimeoutSeconds
	}
	c.Steam.SteamID64 = strings.TrimSpace(c.Steam.SteamID64)
	c.Steam.SessionID = strings.TrimSpace(c.Steam.SessionID)
	c.Steam.LoginSecure = strings.TrimSpace(c.Steam.LoginSecure)
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.StreamCapacity <= 0 {
		c.Logging.StreamCapacity = defaultStreamCapacity
	}
}

func trimURL(value, fallback string) string {
	value = strings.TrimRight(strings.TrimSpace(value), "/")
	if value == "" {
		return fallback
	}
	return value
}
