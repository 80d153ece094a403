// Package store reads public Steam Store metadata: display names for app ids
// and free-text game search.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"idlefarm/internal/logging"
	"idlefarm/internal/steam"
)

// DefaultBaseURL is the public Steam Store host.
const DefaultBaseURL = "https://store.steampowered.com"

const endpoint = "steam store"

// Options configures a Client.
type Options struct {
	BaseURL    string
	HTTPClient steam.HTTPDoer
	// Language and Country scope search results.
	Language string
	Country  string
	Logger   *slog.Logger
}

// Client queries the store API and caches resolved names for its lifetime.
type Client struct {
	baseURL  string
	client   steam.HTTPDoer
	language string
	country  string
	logger   *slog.Logger

	mu    sync.Mutex
	names map[steam.AppID]string
}

// Game is a store search result or resolved app.
type Game struct {
	AppID    steam.AppID `json:"app_id"`
	Name     string      `json:"name"`
	ImageURL string      `json:"image_url,omitempty"`
}

// NewClient builds a store client.
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
	country := strings.TrimSpace(opts.Country)
	if country == "" {
		country = "US"
	}
	return &Client{
		baseURL:  base,
		client:   httpClient,
		language: lang,
		country:  country,
		logger:   logging.NewComponentLogger(opts.Logger, "store"),
		names:    make(map[steam.AppID]string),
	}
}

// ResolveNames returns display names for ids. Cached ids are answered
// locally; the rest are fetched in one batch. Lookup failures are logged and
// the affected ids are simply absent from the result.
func (c *Client) ResolveNames(ctx context.Context, ids []steam.AppID) map[steam.AppID]string {
	out := make(map[steam.AppID]string, len(ids))
	var missing []steam.AppID
	c.mu.Lock()
	for _, id := range ids {
		if name, ok := c.names[id]; ok {
			out[id] = name
			continue
		}
		if !slices.Contains(missing, id) {
			missing = append(missing, id)
		}
	}
	c.mu.Unlock()
	if len(missing) == 0 {
		return out
	}

	fetched, err := c.appDetails(ctx, missing)
	if err != nil {
		hint := "names fall back to app ids"
		if errors.Is(err, steam.ErrRateLimited) {
			hint = "store rate limit reached; retry later or with fewer games"
		}
		logging.WarnWithContext(c.logger, "store name lookup failed", "store_lookup",
			logging.Int("app_count", len(missing)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, hint),
			logging.String(logging.FieldImpact, "games shown by app id"),
		)
		return out
	}

	c.mu.Lock()
	for id, name := range fetched {
		c.names[id] = name
		out[id] = name
	}
	c.mu.Unlock()
	for _, id := range missing {
		if _, ok := fetched[id]; !ok {
			c.logger.Debug("store has no details for app", logging.AppID(uint32(id)))
		}
	}
	return out
}

type appDetailsEntry struct {
	Success bool `json:"success"`
	Data    struct {
		Name        string `json:"name"`
		HeaderImage string `json:"header_image"`
	} `json:"data"`
}

func (c *Client) appDetails(ctx context.Context, ids []steam.AppID) (map[steam.AppID]string, error) {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	rawURL := fmt.Sprintf("%s/api/appdetails?appids=%s", c.baseURL, strings.Join(parts, ","))
	resp, err := steam.Fetch(ctx, c.client, endpoint, rawURL, nil)
	if err != nil {
		return nil, err
	}
	var payload map[string]appDetailsEntry
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return nil, steam.Wrap(steam.ErrMalformed, endpoint, "decode appdetails", err)
	}
	names := make(map[steam.AppID]string, len(payload))
	for key, entry := range payload {
		id, err := strconv.ParseUint(key, 10, 32)
		if err != nil || !entry.Success {
			continue
		}
		if name := strings.TrimSpace(entry.Data.Name); name != "" {
			names[steam.AppID(id)] = name
		}
	}
	return names, nil
}

// Search queries the store for games matching term.
func (c *Client) Search(ctx context.Context, term string) ([]Game, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, errors.New("search term is required")
	}
	query := url.Values{}
	query.Set("term", term)
	query.Set("l", c.language)
	query.Set("cc", c.country)
	rawURL := c.baseURL + "/api/storesearch/?" + query.Encode()
	resp, err := steam.Fetch(ctx, c.client, endpoint, rawURL, nil)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Items []struct {
			ID   steam.AppID `json:"id"`
			Name string      `json:"name"`
		} `json:"items"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return nil, steam.Wrap(steam.ErrMalformed, endpoint, "decode storesearch", err)
	}
	games := make([]Game, 0, len(payload.Items))
	for _, item := range payload.Items {
		games = append(games, Game{
			AppID:    item.ID,
			Name:     item.Name,
			ImageURL: HeaderImageURL(item.ID),
		})
	}
	c.logger.Debug("store search complete", logging.String("term", term), logging.Int("results", len(games)))
	return games, nil
}

// HeaderImageURL returns the CDN banner image for id.
func HeaderImageURL(id steam.AppID) string {
	return fmt.Sprintf("https://cdn.cloudflare.steamstatic.com/steam/apps/%d/header.jpg", id)
}
