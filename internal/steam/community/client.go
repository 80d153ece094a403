// Package community scrapes the cookie-authenticated Steam Community pages
// that list a profile's games and their remaining trading card drops.
package community

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"idlefarm/internal/cardfarm"
	"idlefarm/internal/logging"
	"idlefarm/internal/steam"
)

// DefaultBaseURL is the public Steam Community host.
const DefaultBaseURL = "https://steamcommunity.com"

// DefaultRequestDelay spaces badge page requests during discovery.
const DefaultRequestDelay = 300 * time.Millisecond

const endpoint = "steam community"

// Options configures a Client.
type Options struct {
	BaseURL      string
	HTTPClient   steam.HTTPDoer
	RequestDelay time.Duration
	Logger       *slog.Logger
}

// Client scrapes one profile's pages using a fixed cookie bundle.
type Client struct {
	baseURL string
	creds   Credentials
	client  steam.HTTPDoer
	delay   time.Duration
	logger  *slog.Logger
}

// NewClient validates creds and returns a scraper bound to them.
func NewClient(creds Credentials, opts Options) (*Client, error) {
	if err := creds.Validate(); err != nil {
		return nil, fmt.Errorf("community credentials: %w", err)
	}
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	delay := opts.RequestDelay
	if delay < 0 {
		delay = 0
	}
	creds.SteamID64 = strings.TrimSpace(creds.SteamID64)
	return &Client{
		baseURL: base,
		creds:   creds,
		client:  httpClient,
		delay:   delay,
		logger:  logging.NewComponentLogger(opts.Logger, "community"),
	}, nil
}

// OwnedGame is one entry of the profile's game list.
type OwnedGame struct {
	AppID    steam.AppID
	Name     string
	Playtime time.Duration
}

// OwnedGames scrapes the profile's full game list.
func (c *Client) OwnedGames(ctx context.Context) ([]OwnedGame, error) {
	url := fmt.Sprintf("%s/profiles/%s/games/?tab=all", c.baseURL, c.creds.SteamID64)
	body, err := c.get(ctx, url, "games list")
	if err != nil {
		return nil, err
	}
	games, err := parseOwnedGames(body)
	if err != nil {
		return nil, steam.Wrap(steam.ErrMalformed, endpoint, "games list", err)
	}
	caser := cases.Title(language.Und, cases.NoLower)
	for i := range games {
		games[i].Name = caser.String(strings.TrimSpace(games[i].Name))
	}
	return games, nil
}

// RemainingCount scrapes the card drop count from one game's badge page.
// A counter without a number, such as "No card drops remaining", reports
// zero. A page without the counter is malformed.
func (c *Client) RemainingCount(ctx context.Context, appID steam.AppID) (int, error) {
	url := fmt.Sprintf("%s/profiles/%s/gamecards/%d/", c.baseURL, c.creds.SteamID64, appID)
	body, err := c.get(ctx, url, fmt.Sprintf("gamecards %d", appID))
	if err != nil {
		return 0, err
	}
	return parseDropsRemaining(body)
}

// DiscoverQueue lists owned games and keeps the ones with card drops left.
// Authentication failures abort discovery; other per-game failures skip the
// game.
func (c *Client) DiscoverQueue(ctx context.Context) ([]cardfarm.Item, error) {
	games, err := c.OwnedGames(ctx)
	if err != nil {
		return nil, err
	}
	c.logger.Info("checking games for card drops", logging.Int("games", len(games)))

	var items []cardfarm.Item
	for i, game := range games {
		if i > 0 {
			if err := sleep(ctx, c.delay); err != nil {
				return nil, err
			}
		}
		remaining, err := c.RemainingCount(ctx, game.AppID)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, steam.ErrUnauthorized) {
				return nil, err
			}
			logging.WarnWithContext(c.logger, "card drop lookup failed", "card_discovery",
				logging.AppID(uint32(game.AppID)),
				logging.Error(err),
				logging.String(logging.FieldImpact, "game skipped"),
			)
			continue
		}
		if remaining <= 0 {
			continue
		}
		c.logger.Info("game has card drops",
			logging.AppID(uint32(game.AppID)),
			logging.String("name", game.Name),
			logging.Int("remaining", remaining),
		)
		items = append(items, cardfarm.Item{
			AppID:     game.AppID,
			Name:      game.Name,
			Remaining: remaining,
			Playtime:  game.Playtime,
		})
	}
	return items, nil
}

func (c *Client) get(ctx context.Context, url, operation string) ([]byte, error) {
	header := http.Header{}
	header.Set("Cookie", c.creds.cookieHeader())
	resp, err := steam.Fetch(ctx, c.client, endpoint, url, header)
	if err != nil {
		return nil, err
	}
	if resp.FinalURL != nil && strings.Contains(resp.FinalURL.Path, "/login") {
		return nil, steam.Wrap(steam.ErrUnauthorized, endpoint, operation+": redirected to login", nil)
	}
	return resp.Body, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
