// Package logs fetches daemon log events over the optional HTTP API.
//
// StreamClient pages through GET /api/logs using the sequence cursor the daemon
// returns, optionally long-polling for new events. Callers treat
// ErrAPIUnavailable (or IsAPIUnavailable) as a signal to fall back to the RPC
// socket.
package logs
