package community

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Credentials is the cookie bundle that authenticates community page requests.
type Credentials struct {
	SteamID64   string `json:"steam_id64"`
	SessionID   string `json:"session_id"`
	LoginSecure string `json:"login_secure"`
}

// Validate requires every field and a numeric SteamID64.
func (c Credentials) Validate() error {
	var errs []error
	id := strings.TrimSpace(c.SteamID64)
	switch {
	case id == "":
		errs = append(errs, errors.New("steam_id64 is required"))
	default:
		if _, err := strconv.ParseUint(id, 10, 64); err != nil {
			errs = append(errs, fmt.Errorf("steam_id64 %q is not numeric", id))
		}
	}
	if strings.TrimSpace(c.SessionID) == "" {
		errs = append(errs, errors.New("session_id is required"))
	}
	if strings.TrimSpace(c.LoginSecure) == "" {
		errs = append(errs, errors.New("login_secure is required"))
	}
	return errors.Join(errs...)
}

func (c Credentials) cookieHeader() string {
	return fmt.Sprintf("sessionid=%s; steamLoginSecure=%s",
		strings.TrimSpace(c.SessionID), strings.TrimSpace(c.LoginSecure))
}
