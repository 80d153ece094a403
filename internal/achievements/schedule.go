// Package achievements plans and arms randomized, order-preserving unlock
// schedules.
//
// A window [min, max) is split into one equal slot per event; event i fires
// at a uniformly random offset inside slot i, so caller order is preserved
// exactly.
package achievements

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"idlefarm/internal/clock"
)

// ErrInvalidWindow reports an unusable [min, max) window.
var ErrInvalidWindow = errors.New("invalid unlock window")

// ScheduledUnlock is one planned unlock. It is never mutated once armed.
type ScheduledUnlock struct {
	EventID string        `json:"event_id"`
	Index   int           `json:"index"`
	Offset  time.Duration `json:"offset"`
	// SlotStart and SlotEnd bound the slot the offset was drawn from.
	SlotStart time.Duration `json:"slot_start"`
	SlotEnd   time.Duration `json:"slot_end"`
	// At is the absolute fire time, set when the schedule is armed.
	At time.Time `json:"at,omitzero"`
}

// ValidateWindow checks min and max without planning anything.
func ValidateWindow(n int, min, max time.Duration) error {
	if min < 0 {
		return fmt.Errorf("%w: min %s is negative", ErrInvalidWindow, min)
	}
	if max <= min {
		return fmt.Errorf("%w: max %s must exceed min %s", ErrInvalidWindow, max, min)
	}
	if n > 0 && (max-min)/time.Duration(n) <= 0 {
		return fmt.Errorf("%w: window %s too small for %d events", ErrInvalidWindow, max-min, n)
	}
	return nil
}

// Plan computes one unlock per event id. A nil rng uses the global source.
func Plan(eventIDs []string, min, max time.Duration, rng *rand.Rand) ([]ScheduledUnlock, error) {
	if err := ValidateWindow(len(eventIDs), min, max); err != nil {
		return nil, err
	}
	if len(eventIDs) == 0 {
		return nil, nil
	}
	width := (max - min) / time.Duration(len(eventIDs))
	draw := rand.Int64N
	if rng != nil {
		draw = rng.Int64N
	}

	plan := make([]ScheduledUnlock, len(eventIDs))
	for i, id := range eventIDs {
		start := min + time.Duration(i)*width
		plan[i] = ScheduledUnlock{
			EventID:   id,
			Index:     i,
			Offset:    start + time.Duration(draw(int64(width))),
			SlotStart: start,
			SlotEnd:   start + width,
		}
	}
	return plan, nil
}

type entry struct {
	unlock ScheduledUnlock
	timer  clock.Timer
	fired  bool
}

// Schedule tracks the armed timers of one plan.
//
// Arm and Cancel must be called with the shared lock held; timer callbacks
// acquire it themselves and run fire while holding it.
type Schedule struct {
	lock    sync.Locker
	entries []*entry
	fired   int
	closed  bool
}

// Arm starts one timer per planned unlock.
func Arm(plan []ScheduledUnlock, clk clock.Clock, lock sync.Locker, fire func(ScheduledUnlock)) *Schedule {
	s := &Schedule{lock: lock, entries: make([]*entry, len(plan))}
	now := clk.Now()
	for i, unlock := range plan {
		unlock.At = now.Add(unlock.Offset)
		e := &entry{unlock: unlock}
		s.entries[i] = e
		e.timer = clk.AfterFunc(unlock.Offset, func() {
			s.lock.Lock()
			defer s.lock.Unlock()
			if s.closed || e.fired {
				return
			}
			e.fired = true
			s.fired++
			fire(e.unlock)
		})
	}
	return s
}

// Cancel stops every pending timer and reports how many were still pending.
// Callbacks already waiting on the lock observe the cancellation and return.
func (s *Schedule) Cancel() int {
	if s == nil || s.closed {
		return 0
	}
	s.closed = true
	stopped := 0
	for _, e := range s.entries {
		if e.fired {
			continue
		}
		e.timer.Stop()
		stopped++
	}
	return stopped
}

// Unlocks returns the armed unlocks in firing order.
func (s *Schedule) Unlocks() []ScheduledUnlock {
	if s == nil {
		return nil
	}
	out := make([]ScheduledUnlock, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.unlock
	}
	return out
}

// Pending reports how many unlocks have neither fired nor been cancelled.
func (s *Schedule) Pending() int {
	if s == nil || s.closed {
		return 0
	}
	return len(s.entries) - s.fired
}

// Fired reports how many unlocks have fired.
func (s *Schedule) Fired() int {
	if s == nil {
		return 0
	}
	return s.fired
}

// Last reports whether u is the final unlock of the schedule.
func (s *Schedule) Last(u ScheduledUnlock) bool {
	return s != nil && u.Index == len(s.entries)-1
}
