package cardfarm

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"idlefarm/internal/clock"
	"idlefarm/internal/logging"
	"idlefarm/internal/steam"
	"idlefarm/internal/supervisor"
	"idlefarm/internal/workerproto"
)

// DefaultPollInterval is how often the remaining drop count is checked.
const DefaultPollInterval = 15 * time.Minute

// Workers is the slice of the supervisor the processor drives.
type Workers interface {
	Spawn(appID steam.AppID, name string, kind workerproto.Kind) (supervisor.Handle, error)
	Terminate(id string) error
}

// StatusSource reports remaining card drops for one game.
type StatusSource interface {
	RemainingCount(ctx context.Context, appID steam.AppID) (int, error)
}

// Options configures a Processor.
type Options struct {
	// Lock is shared with the owner; Start, Close, and Snapshot must be
	// called with it held.
	Lock     sync.Locker
	Clock    clock.Clock
	Workers  Workers
	Status   StatusSource
	Interval time.Duration
	// MaxPollFailures skips the current item after that many consecutive
	// failed polls. Zero retries forever.
	MaxPollFailures int
	Logger          *slog.Logger
	// OnItemDone runs under Lock when an item reaches zero drops.
	OnItemDone func(Item)
	// OnDrained runs under Lock once the queue is exhausted.
	OnDrained func()
}

// Snapshot is a read-only view of processor state.
type Snapshot struct {
	Current  *Item     `json:"current,omitempty"`
	WorkerID string    `json:"worker_id,omitempty"`
	Queue    []Item    `json:"queue"`
	NextPoll time.Time `json:"next_poll,omitzero"`
	Failures int       `json:"failures,omitempty"`
}

// Processor walks a Queue one item at a time.
type Processor struct {
	opts   Options
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	queue      *Queue
	current    *Item
	workerID   string
	pollTimer  clock.Timer
	nextPoll   time.Time
	lastTick   time.Time
	generation uint64
	failures   int
	closed     bool
}

// NewProcessor builds a processor over queue. Nothing runs until Start.
func NewProcessor(queue *Queue, opts Options) *Processor {
	if opts.Interval <= 0 {
		opts.Interval = DefaultPollInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Processor{
		opts:   opts,
		logger: logging.NewComponentLogger(opts.Logger, "cardfarm"),
		ctx:    ctx,
		cancel: cancel,
		queue:  queue,
	}
}

// Start begins processing the head of the queue.
func (p *Processor) Start() {
	if p.closed {
		return
	}
	p.logger.Info("card farm queue started",
		logging.Int("items", p.queue.Len()),
		logging.Int("remaining_drops", p.queue.TotalRemaining()),
		logging.Duration("poll_interval", p.opts.Interval),
	)
	p.advanceLocked()
}

// Close cancels the poll timer and any in-flight poll, and clears queue
// state. Worker termination is left to the owner.
func (p *Processor) Close() {
	if p.closed {
		return
	}
	p.closed = true
	p.stopPollLocked()
	p.cancel()
	p.queue.Clear()
	p.current = nil
	p.workerID = ""
}

// Closed reports whether Close has run.
func (p *Processor) Closed() bool {
	return p.closed
}

// Snapshot returns the current item and queue.
func (p *Processor) Snapshot() Snapshot {
	snap := Snapshot{
		WorkerID: p.workerID,
		Queue:    p.queue.Items(),
		NextPoll: p.nextPoll,
		Failures: p.failures,
	}
	if p.current != nil {
		current := *p.current
		snap.Current = &current
	}
	return snap
}

func (p *Processor) advanceLocked() {
	p.stopPollLocked()
	p.releaseWorkerLocked()

	for {
		item, ok := p.queue.Pop()
		if !ok {
			p.current = nil
			p.logger.Info("card farm queue drained")
			if p.opts.OnDrained != nil {
				p.opts.OnDrained()
			}
			return
		}

		p.generation++
		p.failures = 0
		p.current = &item
		logger := p.logger.With(logging.AppID(uint32(item.AppID)))

		handle, err := p.opts.Workers.Spawn(item.AppID, item.DisplayName(), workerproto.KindSession)
		if err != nil {
			logging.ErrorWithContext(logger, "card farm worker failed to start; skipping game", "worker_spawn",
				logging.String("name", item.DisplayName()),
				logging.Error(err),
			)
			continue
		}
		p.workerID = handle.ID
		p.lastTick = p.opts.Clock.Now()
		logger.Info("farming cards",
			logging.String("name", item.DisplayName()),
			logging.Int("remaining", item.Remaining),
			logging.Int("queued", p.queue.Len()),
		)
		p.armPollLocked()
		return
	}
}

func (p *Processor) releaseWorkerLocked() {
	if p.workerID == "" {
		return
	}
	if err := p.opts.Workers.Terminate(p.workerID); err != nil && !errors.Is(err, supervisor.ErrWorkerNotFound) {
		p.logger.Warn("failed to terminate previous card farm worker", logging.Error(err))
	}
	p.workerID = ""
}

func (p *Processor) armPollLocked() {
	gen := p.generation
	p.nextPoll = p.opts.Clock.Now().Add(p.opts.Interval)
	p.pollTimer = p.opts.Clock.AfterFunc(p.opts.Interval, func() { p.poll(gen) })
}

func (p *Processor) stopPollLocked() {
	if p.pollTimer != nil {
		p.pollTimer.Stop()
		p.pollTimer = nil
	}
	p.nextPoll = time.Time{}
}

func (p *Processor) stale(gen uint64) bool {
	return p.closed || gen != p.generation || p.current == nil
}

func (p *Processor) poll(gen uint64) {
	p.opts.Lock.Lock()
	if p.stale(gen) {
		p.opts.Lock.Unlock()
		return
	}
	p.pollTimer = nil
	appID := p.current.AppID
	ctx := p.ctx
	p.opts.Lock.Unlock()

	remaining, err := p.opts.Status.RemainingCount(ctx, appID)

	p.opts.Lock.Lock()
	defer p.opts.Lock.Unlock()
	if p.stale(gen) {
		return
	}

	now := p.opts.Clock.Now()
	if elapsed := now.Sub(p.lastTick); elapsed > 0 {
		p.current.AccumulatedTime += elapsed
	}
	p.lastTick = now
	item := p.current
	logger := p.logger.With(logging.AppID(uint32(item.AppID)))

	if err != nil {
		p.failures++
		if p.opts.MaxPollFailures > 0 && p.failures >= p.opts.MaxPollFailures {
			logging.WarnWithContext(logger, "giving up on game after repeated poll failures", "card_poll",
				logging.String("name", item.DisplayName()),
				logging.Int("failures", p.failures),
				logging.Error(err),
				logging.String(logging.FieldImpact, "game skipped; remaining drops left unfarmed"),
			)
			p.advanceLocked()
			return
		}
		logging.WarnWithContext(logger, "card drop poll failed; retrying next interval", "card_poll",
			logging.String("name", item.DisplayName()),
			logging.Int("failures", p.failures),
			logging.Error(err),
			logging.String(logging.FieldImpact, "farming continues"),
		)
		p.armPollLocked()
		return
	}
	p.failures = 0

	switch {
	case remaining <= 0:
		item.Remaining = 0
		logger.Info("card drops exhausted",
			logging.String("name", item.DisplayName()),
			logging.Duration("farmed", item.AccumulatedTime.Round(time.Second)),
		)
		if p.opts.OnItemDone != nil {
			p.opts.OnItemDone(*item)
		}
		p.advanceLocked()
		return
	case remaining < item.Remaining:
		logger.Info("card dropped",
			logging.String("name", item.DisplayName()),
			logging.Int("remaining", remaining),
			logging.Int("dropped", item.Remaining-remaining),
		)
		item.Remaining = remaining
	case remaining > item.Remaining:
		logger.Debug("remaining drop count increased", logging.Int("remaining", remaining), logging.Int("previous", item.Remaining))
		item.Remaining = remaining
	default:
		logger.Debug("no new card drops", logging.Int("remaining", remaining))
	}
	p.armPollLocked()
}
