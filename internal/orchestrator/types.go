package orchestrator

import (
	"context"
	"errors"
	"time"

	"idlefarm/internal/achievements"
	"idlefarm/internal/cardfarm"
	"idlefarm/internal/steam"
	"idlefarm/internal/steam/community"
	"idlefarm/internal/supervisor"
	"idlefarm/internal/workerproto"
)

var (
	// ErrInvalidRequest marks Start arguments rejected before any teardown.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrClosed is returned by Start operations after Close.
	ErrClosed = errors.New("orchestrator closed")
)

// Mode is the active farming mode.
type Mode string

const (
	ModeNone            Mode = "none"
	ModeSessionFarm     Mode = "session_farm"
	ModeAchievementFarm Mode = "achievement_farm"
	ModeCardFarm        Mode = "card_farm"
)

// StopReason records why a run ended.
type StopReason string

const (
	ReasonRequested        StopReason = "requested"
	ReasonReplaced         StopReason = "replaced"
	ReasonDurationElapsed  StopReason = "duration_elapsed"
	ReasonScheduleComplete StopReason = "schedule_complete"
	ReasonQueueDrained     StopReason = "queue_drained"
	ReasonQueueEmpty       StopReason = "queue_empty"
	ReasonNoEvents         StopReason = "no_events"
	ReasonDiscoveryFailed  StopReason = "discovery_failed"
	ReasonSpawnFailed      StopReason = "spawn_failed"
	ReasonShutdown         StopReason = "shutdown"
)

// Supervisor is the worker process manager the orchestrator delegates to.
type Supervisor interface {
	Spawn(appID steam.AppID, name string, kind workerproto.Kind) (supervisor.Handle, error)
	Send(id string, cmd workerproto.Command) error
	Terminate(id string) error
	TerminateAll() error
	Active() []supervisor.Handle
}

// NameResolver maps app ids to display names. It never fails; missing
// entries mean the raw id is used.
type NameResolver interface {
	ResolveNames(ctx context.Context, ids []steam.AppID) map[steam.AppID]string
}

// Discovery builds the card queue and reports remaining drops.
type Discovery interface {
	DiscoverQueue(ctx context.Context) ([]cardfarm.Item, error)
	RemainingCount(ctx context.Context, appID steam.AppID) (int, error)
}

// DiscoveryFactory builds a Discovery bound to one cookie bundle.
type DiscoveryFactory func(creds community.Credentials) (Discovery, error)

// Run describes one start-to-stop cycle.
type Run struct {
	ID        string    `json:"id"`
	Mode      Mode      `json:"mode"`
	StartedAt time.Time `json:"started_at"`
	Detail    string    `json:"detail,omitempty"`
}

// Recorder persists run history. Calls are made from a background goroutine
// in the order events happened; failures are logged.
type Recorder interface {
	RunStarted(ctx context.Context, run Run) error
	RunEnded(ctx context.Context, runID string, endedAt time.Time, reason StopReason) error
	CardCompleted(ctx context.Context, runID string, item cardfarm.Item, completedAt time.Time) error
}

// Recorders fans every call out to each recorder in order. Every recorder
// sees every call; failures are joined.
type Recorders []Recorder

func (rs Recorders) RunStarted(ctx context.Context, run Run) error {
	var errs []error
	for _, r := range rs {
		errs = append(errs, r.RunStarted(ctx, run))
	}
	return errors.Join(errs...)
}

func (rs Recorders) RunEnded(ctx context.Context, runID string, endedAt time.Time, reason StopReason) error {
	var errs []error
	for _, r := range rs {
		errs = append(errs, r.RunEnded(ctx, runID, endedAt, reason))
	}
	return errors.Join(errs...)
}

func (rs Recorders) CardCompleted(ctx context.Context, runID string, item cardfarm.Item, completedAt time.Time) error {
	var errs []error
	for _, r := range rs {
		errs = append(errs, r.CardCompleted(ctx, runID, item, completedAt))
	}
	return errors.Join(errs...)
}

// Status is a read-only snapshot of orchestrator state.
type Status struct {
	Mode     Mode                `json:"mode"`
	RunID    string              `json:"run_id,omitempty"`
	Since    time.Time           `json:"since,omitzero"`
	Deadline time.Time           `json:"deadline,omitzero"`
	Games    []Game              `json:"games,omitempty"`
	Workers  []supervisor.Handle `json:"workers,omitempty"`
	// Achievement farm only.
	Schedule     []achievements.ScheduledUnlock `json:"schedule,omitempty"`
	UnlocksFired int                            `json:"unlocks_fired,omitempty"`
	StopsAt      time.Time                      `json:"stops_at,omitzero"`
	// Card farm only.
	Discovering bool               `json:"discovering,omitempty"`
	Cards       *cardfarm.Snapshot `json:"cards,omitempty"`
}

// Game pairs an app id with its resolved display name.
type Game struct {
	AppID steam.AppID `json:"app_id"`
	Name  string      `json:"name"`
}
