package community

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"

	"idlefarm/internal/steam"
)

const (
	rgGamesMarker    = "var rgGames = "
	gamesListAttr    = "data-profile-gameslist"
	dropsCounterName = "game_card_drops_remaining"
)

var firstNumber = regexp.MustCompile(`\d+`)

type rgGame struct {
	AppID           steam.AppID `json:"appid"`
	Name            string      `json:"name"`
	HoursForever    string      `json:"hours_forever"`
	PlaytimeForever int64       `json:"playtime_forever"`
}

func parseOwnedGames(body []byte) ([]OwnedGame, error) {
	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var (
		raw   []rgGame
		found bool
	)
	walk(doc, func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return true
		}
		if n.Data == "script" {
			text := nodeText(n)
			idx := strings.Index(text, rgGamesMarker)
			if idx < 0 {
				return true
			}
			dec := json.NewDecoder(strings.NewReader(text[idx+len(rgGamesMarker):]))
			if err = dec.Decode(&raw); err != nil {
				err = fmt.Errorf("decode rgGames: %w", err)
				return false
			}
			found = true
			return false
		}
		if value, ok := attr(n, gamesListAttr); ok {
			var payload struct {
				Games []rgGame `json:"rgGames"`
			}
			if err = json.Unmarshal([]byte(value), &payload); err != nil {
				err = fmt.Errorf("decode %s: %w", gamesListAttr, err)
				return false
			}
			raw = payload.Games
			found = true
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.New("game list not found; cookies may be invalid or the profile private")
	}

	games := make([]OwnedGame, 0, len(raw))
	for _, g := range raw {
		if g.AppID == 0 {
			continue
		}
		games = append(games, OwnedGame{AppID: g.AppID, Name: g.Name, Playtime: g.playtime()})
	}
	return games, nil
}

func (g rgGame) playtime() time.Duration {
	if g.PlaytimeForever > 0 {
		return time.Duration(g.PlaytimeForever) * time.Minute
	}
	hours := parseHours(g.HoursForever)
	return time.Duration(hours * float64(time.Hour)).Round(time.Minute)
}

// parseHours reads values like "12.5", "1,234.5" and "12,5".
func parseHours(raw string) float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	if strings.Contains(raw, ".") {
		raw = strings.ReplaceAll(raw, ",", "")
	} else {
		raw = strings.ReplaceAll(raw, ",", ".")
	}
	hours, err := strconv.ParseFloat(raw, 64)
	if err != nil || hours < 0 {
		return 0
	}
	return hours
}

func parseDropsRemaining(body []byte) (int, error) {
	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return 0, steam.Wrap(steam.ErrMalformed, endpoint, "parse gamecards", err)
	}
	var (
		text  string
		found bool
	)
	walk(doc, func(n *html.Node) bool {
		if n.Type == html.ElementNode && hasClass(n, dropsCounterName) {
			text, found = nodeText(n), true
			return false
		}
		return true
	})
	if !found {
		return 0, steam.Wrap(steam.ErrMalformed, endpoint, "gamecards: drop counter missing", nil)
	}
	match := firstNumber.FindString(text)
	if match == "" {
		return 0, nil
	}
	count, err := strconv.Atoi(match)
	if err != nil {
		return 0, steam.Wrap(steam.ErrMalformed, endpoint, "gamecards: drop count", err)
	}
	return count, nil
}

// walk visits nodes depth first until visit returns false.
func walk(n *html.Node, visit func(*html.Node) bool) bool {
	if !visit(n) {
		return false
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if !walk(child, visit) {
			return false
		}
	}
	return true
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	walk(n, func(node *html.Node) bool {
		if node.Type == html.TextNode {
			b.WriteString(node.Data)
		}
		return true
	})
	return strings.TrimSpace(b.String())
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func hasClass(n *html.Node, class string) bool {
	value, ok := attr(n, "class")
	if !ok {
		return false
	}
	for _, field := range strings.Fields(value) {
		if field == class {
			return true
		}
	}
	return false
}
