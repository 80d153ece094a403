// Package logging assembles structured slog loggers and the live log stream
// used across idlefarm services.
//
// It owns the console and JSON handlers and the StreamHub, a bounded buffer
// of recent LogEvents with explicit subscriber attach/detach. Loggers built by
// WithStream publish each record to the hub as well as to their normal output;
// that is how the orchestrator's log-event stream reaches IPC and HTTP
// clients. ParseWorkerLine classifies JSON lines written by idle workers so
// the supervisor can log them at their own level.
//
// Prefer these constructors over hand-rolled slog setup so new components emit
// data with the same shape as the rest of the system.
package logging
