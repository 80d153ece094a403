// Package daemon hosts the long-running idlefarm process.
//
// A Daemon owns the orchestrator, the worker supervisor, the run history
// store, and the log stream hub, and holds a flock-based lock so only one
// instance runs per state directory. The IPC server and the optional HTTP API
// are thin adapters over the Daemon methods; farming semantics live in the
// orchestrator package.
package daemon
