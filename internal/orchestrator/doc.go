// Package orchestrator coordinates the mutually exclusive farming modes.
//
// An Orchestrator owns exactly one mode at a time: idle, a session farm over
// several games, an achievement farm that unlocks events on a randomized
// schedule, or a card farm that drains a queue of games with remaining drops.
// Every Start operation first tears down whatever mode is active, and Stop is
// the single teardown path: it cancels every timer while holding the
// orchestrator lock, then signals every worker, so no timer callback has an
// effect once Stop returns.
//
// Network collaborators (name lookup, queue discovery, drop polling) run
// outside the lock. Their results are discarded when the run they belong to
// was stopped or replaced in the meantime.
package orchestrator
