// Package ipc exposes the daemon over JSON-RPC on a Unix socket and ships the
// matching client used by the CLI.
//
// The server owns the socket lifecycle and translates wire requests into
// daemon calls. Durations travel as fractional minutes or seconds so the
// CLI flags map onto requests without conversion helpers on the caller side.
// Reuse these types when adding endpoints so the protocol stays compatible
// with existing commands.
package ipc
