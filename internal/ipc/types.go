package ipc

import (
	"idlefarm/internal/daemon"
	"idlefarm/internal/history"
	"idlefarm/internal/logging"
	"idlefarm/internal/steam"
	"idlefarm/internal/steam/store"
	"idlefarm/internal/steam/webapi"
)

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse is the daemon status snapshot.
type StatusResponse struct {
	Status daemon.Status `json:"status"`
}

// FarmSessionsRequest starts a session farm. A nil duration uses the
// configured default; zero means run until stopped.
type FarmSessionsRequest struct {
	AppIDs          []steam.AppID `json:"app_ids"`
	DurationMinutes *float64      `json:"duration_minutes,omitempty"`
}

// FarmAchievementsRequest starts an achievement farm. Nil bounds use the
// configured window.
type FarmAchievementsRequest struct {
	AppID           steam.AppID `json:"app_id"`
	EventIDs        []string    `json:"event_ids"`
	MinDelayMinutes *float64    `json:"min_delay_minutes,omitempty"`
	MaxDelayMinutes *float64    `json:"max_delay_minutes,omitempty"`
}

// FarmCardsRequest starts a card farm using the daemon's configured cookies.
type FarmCardsRequest struct{}

// FarmResponse acknowledges an accepted farm request.
type FarmResponse struct {
	Accepted bool   `json:"accepted"`
	Message  string `json:"message,omitempty"`
}

// StopRequest stops the active farm.
type StopRequest struct{}

// StopResponse reports whether a farm was active.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// ShutdownRequest asks the daemon process to exit.
type ShutdownRequest struct{}

// ShutdownResponse reports whether the request was accepted.
type ShutdownResponse struct {
	Accepted bool `json:"accepted"`
}

// LogsRequest pages through buffered log events. With Follow set the server
// waits up to WaitMillis for new events before returning an empty page.
type LogsRequest struct {
	Since      uint64 `json:"since"`
	Limit      int    `json:"limit"`
	Tail       bool   `json:"tail"`
	Follow     bool   `json:"follow"`
	WaitMillis int    `json:"wait_millis"`
	Component  string `json:"component,omitempty"`
}

// LogsResponse carries one page of events and the cursor for the next call.
type LogsResponse struct {
	Events []logging.LogEvent `json:"events"`
	Next   uint64             `json:"next"`
}

// HistoryRequest lists recent runs.
type HistoryRequest struct {
	Limit int `json:"limit"`
}

// HistoryResponse lists runs newest first.
type HistoryResponse struct {
	Runs []history.RunRecord `json:"runs"`
}

// RunCardsRequest lists card completions of one run.
type RunCardsRequest struct {
	RunID string `json:"run_id"`
}

// RunCardsResponse lists completions in order.
type RunCardsResponse struct {
	Cards []history.CardRecord `json:"cards"`
}

// SearchRequest queries the store catalog.
type SearchRequest struct {
	Term string `json:"term"`
}

// SearchResponse lists matching games.
type SearchResponse struct {
	Games []store.Game `json:"games"`
}

// AchievementsRequest fetches an app's achievement schema.
type AchievementsRequest struct {
	AppID steam.AppID `json:"app_id"`
}

// AchievementsResponse lists achievements in schema order.
type AchievementsResponse struct {
	Achievements []webapi.Achievement `json:"achievements"`
}
