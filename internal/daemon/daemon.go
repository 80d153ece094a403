package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"idlefarm/internal/clock"
	"idlefarm/internal/config"
	"idlefarm/internal/history"
	"idlefarm/internal/logging"
	"idlefarm/internal/orchestrator"
	"idlefarm/internal/steam"
	"idlefarm/internal/steam/community"
	"idlefarm/internal/steam/store"
	"idlefarm/internal/steam/webapi"
)

var (
	// ErrNotRunning is returned by farm operations before Start or after Close.
	ErrNotRunning = errors.New("daemon not running")
	// ErrUnavailable is returned when an optional collaborator is not configured.
	ErrUnavailable = errors.New("not available")
)

const workerDrainTimeout = 10 * time.Second

// Daemon owns the orchestrator and everything it needs for one process.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	deps   Dependencies
	orch   *orchestrator.Orchestrator

	lockPath string
	lock     *flock.Flock

	running   atomic.Bool
	startedAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc
	farms     sync.WaitGroup
	closeOnce sync.Once
}

// Status represents daemon runtime information.
type Status struct {
	Running     bool                `json:"running"`
	PID         int                 `json:"pid"`
	StartedAt   time.Time           `json:"started_at,omitzero"`
	LockPath    string              `json:"lock_path"`
	HistoryPath string              `json:"history_path,omitempty"`
	Subscribers int                 `json:"log_subscribers"`
	Farm        orchestrator.Status `json:"farm"`
}

// New constructs a daemon. deps.Workers is required.
func New(cfg *config.Config, logger *slog.Logger, deps Dependencies) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	if deps.Workers == nil {
		return nil, errors.New("daemon requires a worker supervisor")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	orch, err := orchestrator.New(orchestratorOptions(cfg, logger, deps))
	if err != nil {
		return nil, fmt.Errorf("create orchestrator: %w", err)
	}
	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		deps:     deps,
		orch:     orch,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the instance lock and settles runs left open by a previous
// process.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if err := d.cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another idlefarm daemon instance is already running")
	}

	if d.deps.History != nil {
		if n, err := d.deps.History.CloseDangling(ctx, d.deps.Clock.Now()); err != nil {
			logging.WarnWithContext(d.logger, "failed to settle interrupted runs", "history_write",
				logging.Error(err),
				logging.String(logging.FieldImpact, "history may show runs as still active"),
			)
		} else if n > 0 {
			d.logger.Info("settled runs interrupted by a previous shutdown", logging.Int64("runs", n))
		}
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	d.startedAt = d.deps.Clock.Now()
	d.running.Store(true)
	d.logger.Info("idlefarm daemon started",
		logging.String("lock", d.lockPath),
		logging.String("worker_command", d.cfg.WorkerCommand()),
		logging.Bool("card_credentials", d.cfg.CommunityCredentialsSet()),
		logging.Bool("webapi_key", strings.TrimSpace(d.cfg.Steam.APIKey) != ""),
	)
	return nil
}

// Close stops any active farm, waits for workers to exit, and releases the
// lock and history store.
func (d *Daemon) Close() error {
	var closeErr error
	d.closeOnce.Do(func() {
		wasRunning := d.running.Swap(false)
		if d.cancel != nil {
			d.cancel()
		}
		d.orch.Close()
		d.farms.Wait()

		waitCtx, cancel := context.WithTimeout(context.Background(), workerDrainTimeout)
		if err := d.deps.Workers.Wait(waitCtx); err != nil {
			logging.WarnWithContext(d.logger, "workers still running at shutdown", "worker_terminate",
				logging.Error(err),
				logging.String(logging.FieldImpact, "stray worker processes may remain"),
			)
		}
		cancel()

		if wasRunning {
			if err := d.lock.Unlock(); err != nil {
				d.logger.Warn("failed to release daemon lock", logging.Error(err))
			}
		}
		if d.deps.History != nil {
			closeErr = d.deps.History.Close()
		}
		d.logger.Info("idlefarm daemon stopped")
	})
	return closeErr
}

// RequestShutdown asks the hosting process to exit.
func (d *Daemon) RequestShutdown() bool {
	if d.deps.Shutdown == nil {
		return false
	}
	d.logger.Info("shutdown requested")
	d.deps.Shutdown()
	return true
}

// FarmSessions starts a session farm. A nil duration uses the configured
// default.
func (d *Daemon) FarmSessions(ctx context.Context, appIDs []steam.AppID, duration *time.Duration) error {
	if !d.running.Load() {
		return ErrNotRunning
	}
	dur := d.cfg.SessionDuration()
	if duration != nil {
		dur = *duration
	}
	return d.orch.StartSessionFarm(ctx, appIDs, dur)
}

// FarmAchievements starts an achievement farm. Nil bounds use the
// configured window.
func (d *Daemon) FarmAchievements(ctx context.Context, appID steam.AppID, eventIDs []string, minDelay, maxDelay *time.Duration) error {
	if !d.running.Load() {
		return ErrNotRunning
	}
	lo, hi := d.cfg.AchievementWindow()
	if minDelay != nil {
		lo = *minDelay
	}
	if maxDelay != nil {
		hi = *maxDelay
	}
	return d.orch.StartAchievementFarm(ctx, appID, eventIDs, lo, hi)
}

// FarmCards validates the configured cookies and switches to card farming
// before returning, so a later farm request always replaces it. Discovery
// runs in the background; its results arrive through the log stream and
// Status.
func (d *Daemon) FarmCards() error {
	if !d.running.Load() {
		return ErrNotRunning
	}
	creds := community.Credentials{
		SteamID64:   d.cfg.Steam.SteamID64,
		SessionID:   d.cfg.Steam.SessionID,
		LoginSecure: d.cfg.Steam.LoginSecure,
	}
	if err := creds.Validate(); err != nil {
		return fmt.Errorf("%w: %w", orchestrator.ErrInvalidRequest, err)
	}
	if d.deps.Discovery == nil {
		return fmt.Errorf("%w: card farming is not configured", orchestrator.ErrInvalidRequest)
	}

	discover, err := d.orch.BeginCardFarm(d.ctx, creds)
	if err != nil {
		return err
	}
	d.farms.Add(1)
	go func() {
		defer d.farms.Done()
		discover()
	}()
	return nil
}

// StopFarming stops the active farm and reports whether one was running.
func (d *Daemon) StopFarming() bool {
	return d.orch.Stop()
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	status := Status{
		Running:     d.running.Load(),
		PID:         os.Getpid(),
		StartedAt:   d.startedAt,
		LockPath:    d.lockPath,
		Subscribers: d.deps.Hub.Subscribers(),
		Farm:        d.orch.Status(),
	}
	if d.deps.History != nil {
		status.HistoryPath = d.deps.History.Path()
	}
	return status
}

// LogStream returns the hub carrying daemon log events, or nil.
func (d *Daemon) LogStream() *logging.StreamHub {
	return d.deps.Hub
}

// Logs fetches buffered log events after since. With tail set and since zero
// it returns the newest limit events instead.
func (d *Daemon) Logs(ctx context.Context, since uint64, limit int, follow, tail bool) ([]logging.LogEvent, uint64, error) {
	hub := d.deps.Hub
	if hub == nil {
		return nil, since, nil
	}
	if tail && since == 0 && !follow {
		events, next := hub.Tail(limit)
		return events, next, nil
	}
	return hub.Fetch(ctx, since, limit, follow)
}

// History lists recent runs.
func (d *Daemon) History(ctx context.Context, limit int) ([]history.RunRecord, error) {
	if d.deps.History == nil {
		return nil, fmt.Errorf("run history: %w", ErrUnavailable)
	}
	return d.deps.History.ListRuns(ctx, limit)
}

// RunCards lists card completions of one run.
func (d *Daemon) RunCards(ctx context.Context, runID string) ([]history.CardRecord, error) {
	if d.deps.History == nil {
		return nil, fmt.Errorf("run history: %w", ErrUnavailable)
	}
	return d.deps.History.RunCards(ctx, runID)
}

// Search queries the store catalog.
func (d *Daemon) Search(ctx context.Context, term string) ([]store.Game, error) {
	if d.deps.Catalog == nil {
		return nil, fmt.Errorf("store search: %w", ErrUnavailable)
	}
	return d.deps.Catalog.Search(ctx, term)
}

// Achievements lists the achievement schema of appID.
func (d *Daemon) Achievements(ctx context.Context, appID steam.AppID) ([]webapi.Achievement, error) {
	if d.deps.Achievements == nil {
		return nil, fmt.Errorf("achievement schema: %w", ErrUnavailable)
	}
	return d.deps.Achievements.Achievements(ctx, appID)
}
