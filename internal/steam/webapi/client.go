// Package webapi reads achievement schemas from the keyed Steam Web API.
package webapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"idlefarm/internal/steam"
)

// DefaultBaseURL is the public Steam Web API host.
const DefaultBaseURL = "https://api.steampowered.com"

// ErrMissingAPIKey is returned when no Web API key is configured.
var ErrMissingAPIKey = errors.New("steam web api key is not configured")

const endpoint = "steam web api"

// Achievement is one entry of a game's achievement schema. APIName is the
// event id accepted by achievement farming.
type Achievement struct {
	APIName     string `json:"name"`
	DisplayName string `json:"displayName"`
	Description string `json:"description,omitempty"`
	Icon        string `json:"icon,omitempty"`
	IconGray    string `json:"icongray,omitempty"`
	Hidden      bool   `json:"hidden"`
}

// Options configures a Client.
type Options struct {
	BaseURL    string
	HTTPClient steam.HTTPDoer
	APIKey     string
	Language   string
}

// Client calls ISteamUserStats.
type Client struct {
	baseURL  string
	client   steam.HTTPDoer
	apiKey   string
	language string
}

// NewClient builds a Web API client. A missing key is reported per call.
func NewClient(opts Options) *Client {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	lang := strings.TrimSpace(opts.Language)
	if lang == "" {
		lang = "english"
	}
	return &Client{baseURL: base, client: httpClient, apiKey: strings.TrimSpace(opts.APIKey), language: lang}
}

// Achievements returns the achievement schema for appID. Games without stats
// return an empty list.
func (c *Client) Achievements(ctx context.Context, appID steam.AppID) ([]Achievement, error) {
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if appID == 0 {
		return nil, errors.New("app id is required")
	}
	query := url.Values{}
	query.Set("key", c.apiKey)
	query.Set("appid", appID.String())
	query.Set("l", c.language)
	rawURL := c.baseURL + "/ISteamUserStats/GetSchemaForGame/v2/?" + query.Encode()

	resp, err := steam.Fetch(ctx, c.client, endpoint, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("achievement schema for %d: %w", appID, err)
	}
	var payload struct {
		Game struct {
			AvailableGameStats struct {
				Achievements []achievementJSON `json:"achievements"`
			} `json:"availableGameStats"`
		} `json:"game"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return nil, steam.Wrap(steam.ErrMalformed, endpoint, "decode schema", err)
	}
	raw := payload.Game.AvailableGameStats.Achievements
	out := make([]Achievement, 0, len(raw))
	for _, a := range raw {
		out = append(out, a.achievement())
	}
	return out, nil
}

type achievementJSON struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
	IconGray    string `json:"icongray"`
	Hidden      int    `json:"hidden"`
}

func (a achievementJSON) achievement() Achievement {
	return Achievement{
		APIName:     a.Name,
		DisplayName: a.DisplayName,
		Description: a.Description,
		Icon:        a.Icon,
		IconGray:    a.IconGray,
		Hidden:      a.Hidden != 0,
	}
}
