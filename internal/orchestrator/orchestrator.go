package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"idlefarm/internal/achievements"
	"idlefarm/internal/cardfarm"
	"idlefarm/internal/clock"
	"idlefarm/internal/logging"
	"idlefarm/internal/steam"
	"idlefarm/internal/steam/community"
	"idlefarm/internal/supervisor"
	"idlefarm/internal/workerproto"
)

const (
	recordQueueSize = 64
	recordTimeout   = 10 * time.Second
)

// Options wires an Orchestrator to its collaborators.
type Options struct {
	Logger     *slog.Logger
	Clock      clock.Clock
	Supervisor Supervisor
	Names      NameResolver
	Discovery  DiscoveryFactory
	Recorder   Recorder
	Rand       *rand.Rand

	PollInterval    time.Duration
	MaxPollFailures int
	QueueOrder      cardfarm.Order
	// AchievementGrace is how long an achievement farm keeps running after
	// its last unlock fired. Zero stops on the next tick; negative disables
	// the automatic stop.
	AchievementGrace time.Duration
}

// modeState is the per-mode state; nil means idle.
type modeState interface {
	mode() Mode
}

type sessionFarm struct {
	games    []Game
	deadline time.Time
	timer    clock.Timer
}

func (*sessionFarm) mode() Mode { return ModeSessionFarm }

type achievementFarm struct {
	game       Game
	workerID   string
	schedule   *achievements.Schedule
	graceTimer clock.Timer
	stopsAt    time.Time
}

func (*achievementFarm) mode() Mode { return ModeAchievementFarm }

type cardFarm struct {
	cancelDiscovery context.CancelFunc
	processor       *cardfarm.Processor
}

func (*cardFarm) mode() Mode { return ModeCardFarm }

// Orchestrator is the single owner of farming state. Construct it with New.
type Orchestrator struct {
	opts   Options
	logger *slog.Logger

	mu     sync.Mutex
	state  modeState
	epoch  uint64
	runID  string
	since  time.Time
	closed bool

	records chan func(context.Context, Recorder) error
	drained sync.WaitGroup
}

// New constructs an Orchestrator. Supervisor is required.
func New(opts Options) (*Orchestrator, error) {
	if opts.Supervisor == nil {
		return nil, errors.New("orchestrator: supervisor required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = cardfarm.DefaultPollInterval
	}
	if opts.QueueOrder == "" {
		opts.QueueOrder = cardfarm.OrderDiscovery
	}
	o := &Orchestrator{
		opts:   opts,
		logger: logging.NewComponentLogger(opts.Logger, "orchestrator"),
	}
	if opts.Recorder != nil {
		o.records = make(chan func(context.Context, Recorder) error, recordQueueSize)
		o.drained.Add(1)
		go o.drainRecords()
	}
	return o, nil
}

// Mode reports the active mode.
func (o *Orchestrator) Mode() Mode {
	o.mu.Lock()
	defer o.mu.Unlock()
	return modeOf(o.state)
}

func modeOf(state modeState) Mode {
	if state == nil {
		return ModeNone
	}
	return state.mode()
}

// StartSessionFarm keeps one session alive per app id until duration
// elapses. A zero duration stops the farm as soon as its timer fires.
func (o *Orchestrator) StartSessionFarm(ctx context.Context, appIDs []steam.AppID, duration time.Duration) error {
	if len(appIDs) == 0 {
		return fmt.Errorf("%w: at least one app id required", ErrInvalidRequest)
	}
	for _, id := range appIDs {
		if id == 0 {
			return fmt.Errorf("%w: app id must be positive", ErrInvalidRequest)
		}
	}
	if duration < 0 {
		return fmt.Errorf("%w: duration must not be negative", ErrInvalidRequest)
	}
	appIDs = uniqueAppIDs(appIDs)

	state := &sessionFarm{}
	epoch, logger, err := o.begin(state, fmt.Sprintf("%d games for %s", len(appIDs), duration))
	if err != nil {
		return err
	}

	names := o.resolveNames(ctx, appIDs)

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.epoch != epoch {
		logger.Debug("session farm superseded before workers started")
		return nil
	}

	for _, id := range appIDs {
		game := Game{AppID: id, Name: names[id]}
		if game.Name == "" {
			game.Name = id.String()
		}
		state.games = append(state.games, game)
		if _, err := o.opts.Supervisor.Spawn(id, game.Name, workerproto.KindSession); err != nil {
			logging.ErrorWithContext(logger, "failed to start session worker", "worker_spawn",
				logging.AppID(uint32(id)),
				logging.String("name", game.Name),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check worker.command and that the Steam client is running"),
			)
		}
	}

	state.deadline = o.opts.Clock.Now().Add(duration)
	state.timer = o.opts.Clock.AfterFunc(duration, func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if o.epoch != epoch {
			return
		}
		o.stopLocked(ReasonDurationElapsed)
	})
	logger.Info("session farm running",
		logging.Int("games", len(state.games)),
		logging.Int("workers", len(o.opts.Supervisor.Active())),
		logging.Duration("duration", duration),
		logging.Time("deadline", state.deadline),
	)
	return nil
}

// StartAchievementFarm runs one worker for appID and unlocks eventIDs in
// order at random times inside [min, max). An empty event list leaves the
// orchestrator idle.
func (o *Orchestrator) StartAchievementFarm(ctx context.Context, appID steam.AppID, eventIDs []string, min, max time.Duration) error {
	if appID == 0 {
		return fmt.Errorf("%w: app id must be positive", ErrInvalidRequest)
	}
	if len(eventIDs) > 0 {
		if err := achievements.ValidateWindow(len(eventIDs), min, max); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
	}

	state := &achievementFarm{}
	epoch, logger, err := o.begin(state, fmt.Sprintf("app %s, %d events", appID, len(eventIDs)))
	if err != nil {
		return err
	}
	if len(eventIDs) == 0 {
		o.mu.Lock()
		defer o.mu.Unlock()
		if o.epoch == epoch {
			logging.WarnWithContext(logger, "achievement farm requested without events; staying idle", "achievement_schedule",
				logging.AppID(uint32(appID)),
				logging.String(logging.FieldImpact, "no unlocks scheduled"),
			)
			o.abandonLocked()
		}
		return nil
	}

	names := o.resolveNames(ctx, []steam.AppID{appID})

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.epoch != epoch {
		logger.Debug("achievement farm superseded before worker started")
		return nil
	}

	state.game = Game{AppID: appID, Name: names[appID]}
	if state.game.Name == "" {
		state.game.Name = appID.String()
	}
	logger = logger.With(logging.AppID(uint32(appID)))

	handle, err := o.opts.Supervisor.Spawn(appID, state.game.Name, workerproto.KindAchievements)
	if err != nil {
		logging.ErrorWithContext(logger, "failed to start achievement worker", "worker_spawn",
			logging.String("name", state.game.Name),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check worker.command and that the Steam client is running"),
		)
		o.stopLocked(ReasonSpawnFailed)
		return nil
	}
	state.workerID = handle.ID

	plan, err := achievements.Plan(eventIDs, min, max, o.opts.Rand)
	if err != nil {
		// ValidateWindow already accepted these arguments.
		logger.Error("failed to plan unlock schedule", logging.Error(err))
		o.stopLocked(ReasonSpawnFailed)
		return nil
	}
	for _, unlock := range plan {
		logger.Info("unlock scheduled",
			logging.String("event_id", unlock.EventID),
			logging.Int("index", unlock.Index),
			logging.Duration("after", unlock.Offset.Round(time.Second)),
			logging.Duration("slot_start", unlock.SlotStart),
			logging.Duration("slot_end", unlock.SlotEnd),
		)
	}
	state.schedule = achievements.Arm(plan, o.opts.Clock, &o.mu, func(unlock achievements.ScheduledUnlock) {
		o.fireUnlockLocked(epoch, state, unlock, logger)
	})
	logger.Info("achievement farm running",
		logging.String("name", state.game.Name),
		logging.Int("events", len(plan)),
		logging.Duration("min", min),
		logging.Duration("max", max),
	)
	return nil
}

func (o *Orchestrator) fireUnlockLocked(epoch uint64, state *achievementFarm, unlock achievements.ScheduledUnlock, logger *slog.Logger) {
	if o.epoch != epoch {
		return
	}
	err := o.opts.Supervisor.Send(state.workerID, workerproto.UnlockEvent(unlock.EventID))
	switch {
	case errors.Is(err, supervisor.ErrWorkerNotFound):
		logging.WarnWithContext(logger, "achievement worker already exited; unlock not sent", "achievement_unlock",
			logging.String("event_id", unlock.EventID),
			logging.String(logging.FieldImpact, "event stays locked"),
		)
	case err != nil:
		logging.ErrorWithContext(logger, "failed to send unlock command", "achievement_unlock",
			logging.String("event_id", unlock.EventID),
			logging.Error(err),
		)
	default:
		logger.Info("unlock fired",
			logging.String("event_id", unlock.EventID),
			logging.Int("index", unlock.Index),
		)
	}

	if !state.schedule.Last(unlock) || o.opts.AchievementGrace < 0 {
		return
	}
	state.stopsAt = o.opts.Clock.Now().Add(o.opts.AchievementGrace)
	logger.Info("all unlocks sent; stopping after grace period", logging.Duration("grace", o.opts.AchievementGrace))
	state.graceTimer = o.opts.Clock.AfterFunc(o.opts.AchievementGrace, func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if o.epoch != epoch {
			return
		}
		o.stopLocked(ReasonScheduleComplete)
	})
}

// StartCardFarm discovers games with remaining card drops and farms them one
// at a time until the queue is empty. It blocks while discovery runs; Stop or
// another Start during discovery cancels it.
func (o *Orchestrator) StartCardFarm(ctx context.Context, creds community.Credentials) error {
	discover, err := o.BeginCardFarm(ctx, creds)
	if err != nil {
		return err
	}
	discover()
	return nil
}

// BeginCardFarm switches to card farm mode and returns the discovery step
// without running it. Until discover returns the mode is card_farm with an
// empty queue. A later Start replaces the farm even if discovery has not
// run yet.
func (o *Orchestrator) BeginCardFarm(ctx context.Context, creds community.Credentials) (discover func(), err error) {
	if err := creds.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if o.opts.Discovery == nil {
		return nil, fmt.Errorf("%w: card farming is not configured", ErrInvalidRequest)
	}
	discovery, err := o.opts.Discovery(creds)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	discoverCtx, cancel := context.WithCancel(ctx)
	state := &cardFarm{cancelDiscovery: cancel}
	epoch, logger, err := o.begin(state, "card farm")
	if err != nil {
		cancel()
		return nil, err
	}
	return func() {
		defer cancel()
		o.discoverCards(discoverCtx, state, discovery, epoch, logger)
	}, nil
}

func (o *Orchestrator) discoverCards(ctx context.Context, state *cardFarm, discovery Discovery, epoch uint64, logger *slog.Logger) {
	logger.Info("discovering games with card drops")
	items, discoverErr := discovery.DiscoverQueue(ctx)

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.epoch != epoch {
		logger.Debug("card farm discovery discarded; run already stopped")
		return
	}
	if discoverErr != nil {
		logging.ErrorWithContext(logger, "card farm discovery failed", "card_discovery",
			logging.Error(discoverErr),
			logging.String(logging.FieldErrorHint, "refresh the steam_id64, session_id, and login_secure cookies"),
		)
		o.stopLocked(ReasonDiscoveryFailed)
		return
	}
	queue := cardfarm.NewQueue(items, o.opts.QueueOrder)
	if queue.Len() == 0 {
		logging.WarnWithContext(logger, "no games with card drops remaining", "card_discovery",
			logging.Int("discovered", len(items)),
			logging.String(logging.FieldImpact, "card farm not started"),
		)
		o.stopLocked(ReasonQueueEmpty)
		return
	}

	runID := o.runID
	procLogger := o.opts.Logger
	if procLogger == nil {
		procLogger = logging.NewNop()
	}
	state.processor = cardfarm.NewProcessor(queue, cardfarm.Options{
		Lock:            &o.mu,
		Clock:           o.opts.Clock,
		Workers:         o.opts.Supervisor,
		Status:          discovery,
		Interval:        o.opts.PollInterval,
		MaxPollFailures: o.opts.MaxPollFailures,
		Logger:          procLogger.With(logging.String(logging.FieldRunID, runID)),
		OnItemDone: func(item cardfarm.Item) {
			at := o.opts.Clock.Now()
			o.recordLocked(func(ctx context.Context, r Recorder) error {
				return r.CardCompleted(ctx, runID, item, at)
			})
		},
		OnDrained: func() {
			if o.epoch == epoch {
				o.stopLocked(ReasonQueueDrained)
			}
		},
	})
	state.processor.Start()
}

// Stop tears down the active mode. It reports false, and only logs a
// warning, when the orchestrator is already idle.
func (o *Orchestrator) Stop() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == nil {
		logging.WarnWithContext(o.logger, "stop requested while idle", "orchestrator_stop",
			logging.String(logging.FieldImpact, "nothing to stop"),
		)
		return false
	}
	o.stopLocked(ReasonRequested)
	return true
}

// Close stops any active mode, rejects further Start calls, and flushes
// pending history records.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.stopLocked(ReasonShutdown)
	o.closed = true
	if o.records != nil {
		close(o.records)
	}
	o.mu.Unlock()
	o.drained.Wait()
}

// begin tears down the previous mode and installs state under a new epoch.
func (o *Orchestrator) begin(state modeState, detail string) (uint64, *slog.Logger, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return 0, nil, ErrClosed
	}
	o.stopLocked(ReasonReplaced)

	o.epoch++
	o.state = state
	o.runID = uuid.NewString()
	o.since = o.opts.Clock.Now()

	run := Run{ID: o.runID, Mode: state.mode(), StartedAt: o.since, Detail: detail}
	o.recordLocked(func(ctx context.Context, r Recorder) error { return r.RunStarted(ctx, run) })

	logger := o.logger.With(
		logging.String(logging.FieldRunID, o.runID),
		logging.String(logging.FieldMode, string(state.mode())),
	)
	logger.Info("mode started", logging.String("detail", detail))
	return o.epoch, logger, nil
}

// abandonLocked returns to idle without a teardown; used when a start
// turned out to have nothing to do before acquiring any resources.
func (o *Orchestrator) abandonLocked() {
	runID := o.runID
	ended := o.opts.Clock.Now()
	o.recordLocked(func(ctx context.Context, r Recorder) error {
		return r.RunEnded(ctx, runID, ended, ReasonNoEvents)
	})
	o.epoch++
	o.state = nil
	o.runID = ""
	o.since = time.Time{}
}

// stopLocked is the single teardown path: timers first, then workers.
func (o *Orchestrator) stopLocked(reason StopReason) {
	if o.state == nil {
		return
	}
	mode := o.state.mode()
	o.epoch++

	cancelled := 0
	switch s := o.state.(type) {
	case *sessionFarm:
		if s.timer != nil && s.timer.Stop() {
			cancelled++
		}
	case *achievementFarm:
		cancelled += s.schedule.Cancel()
		if s.graceTimer != nil && s.graceTimer.Stop() {
			cancelled++
		}
	case *cardFarm:
		s.cancelDiscovery()
		if s.processor != nil {
			s.processor.Close()
		}
	}

	workers := len(o.opts.Supervisor.Active())
	if err := o.opts.Supervisor.TerminateAll(); err != nil {
		logging.WarnWithContext(o.logger, "failed to terminate some workers", "worker_terminate",
			logging.String(logging.FieldRunID, o.runID),
			logging.Error(err),
			logging.String(logging.FieldImpact, "stray worker processes may remain"),
		)
	}

	runID := o.runID
	ended := o.opts.Clock.Now()
	o.recordLocked(func(ctx context.Context, r Recorder) error { return r.RunEnded(ctx, runID, ended, reason) })
	o.logger.Info("mode stopped",
		logging.String(logging.FieldRunID, runID),
		logging.String(logging.FieldMode, string(mode)),
		logging.String("reason", string(reason)),
		logging.Int("timers_cancelled", cancelled),
		logging.Int("workers_terminated", workers),
		logging.Duration("ran_for", ended.Sub(o.since).Round(time.Second)),
	)

	o.state = nil
	o.runID = ""
	o.since = time.Time{}
}

func (o *Orchestrator) resolveNames(ctx context.Context, ids []steam.AppID) map[steam.AppID]string {
	if o.opts.Names == nil {
		return nil
	}
	return o.opts.Names.ResolveNames(ctx, ids)
}

// uniqueAppIDs drops repeated ids, keeping first-seen order.
func uniqueAppIDs(ids []steam.AppID) []steam.AppID {
	seen := make(map[steam.AppID]bool, len(ids))
	out := make([]steam.AppID, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func (o *Orchestrator) recordLocked(job func(context.Context, Recorder) error) {
	if o.records == nil || o.closed {
		return
	}
	select {
	case o.records <- job:
	default:
		o.logger.Warn("history queue full; dropping record")
	}
}

func (o *Orchestrator) drainRecords() {
	defer o.drained.Done()
	for job := range o.records {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		if err := job(ctx, o.opts.Recorder); err != nil {
			logging.WarnWithContext(o.logger, "failed to record run history", "history_write",
				logging.Error(err),
				logging.String(logging.FieldImpact, "history incomplete"),
			)
		}
		cancel()
	}
}

// Status returns a snapshot of the active mode.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	status := Status{
		Mode:    modeOf(o.state),
		RunID:   o.runID,
		Since:   o.since,
		Workers: o.opts.Supervisor.Active(),
	}
	switch s := o.state.(type) {
	case *sessionFarm:
		status.Games = append([]Game(nil), s.games...)
		status.Deadline = s.deadline
	case *achievementFarm:
		if s.game.AppID != 0 {
			status.Games = []Game{s.game}
		}
		status.Schedule = s.schedule.Unlocks()
		status.UnlocksFired = s.schedule.Fired()
		status.StopsAt = s.stopsAt
	case *cardFarm:
		if s.processor == nil {
			status.Discovering = true
			break
		}
		snap := s.processor.Snapshot()
		status.Cards = &snap
		if snap.Current != nil {
			status.Games = []Game{{AppID: snap.Current.AppID, Name: snap.Current.DisplayName()}}
		}
	}
	return status
}
