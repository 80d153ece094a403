// Package logstream drives log tailing for the CLI. It prefers the HTTP API
// when one is configured and falls back to the RPC socket, resuming from the
// last sequence the API delivered.
package logstream

import (
	"context"
	"errors"
	"fmt"

	"idlefarm/internal/ipc"
	"idlefarm/internal/logging"
	"idlefarm/internal/logs"
)

const (
	defaultLines     = 50
	followBatch      = 200
	followWaitMillis = 5000
)

// RPCClient captures the socket log contract used for fallback streaming.
type RPCClient interface {
	Logs(ctx context.Context, req ipc.LogsRequest) (*ipc.LogsResponse, error)
}

// Options controls stream behavior.
type Options struct {
	Lines     int
	Follow    bool
	Component string
}

type cursor struct {
	next    uint64
	started bool
}

// Stream emits events until the history is drained or, when following, ctx
// ends. It returns true when at least one event was emitted.
func Stream(ctx context.Context, apiClient *logs.StreamClient, rpc RPCClient, opts Options, onEvent func(logging.LogEvent)) (bool, error) {
	if opts.Lines <= 0 {
		opts.Lines = defaultLines
	}
	var pos cursor
	printed := false
	if apiClient != nil {
		var err error
		printed, err = streamAPI(ctx, apiClient, opts, &pos, onEvent)
		if err == nil || ctx.Err() != nil {
			return printed, nil
		}
		if !logs.IsAPIUnavailable(err) {
			return printed, err
		}
	}
	if rpc == nil {
		return printed, logs.ErrAPIUnavailable
	}
	more, err := streamRPC(ctx, rpc, opts, &pos, onEvent)
	return printed || more, err
}

func streamAPI(ctx context.Context, client *logs.StreamClient, opts Options, pos *cursor, onEvent func(logging.LogEvent)) (bool, error) {
	query := logs.StreamQuery{Limit: opts.Lines, Tail: true, Component: opts.Component}
	printed := false
	for {
		resp, err := client.Fetch(ctx, query)
		if err != nil {
			return printed, err
		}
		printed = emit(resp.Events, onEvent) || printed
		pos.next, pos.started = resp.Next, true
		if !opts.Follow {
			return printed, nil
		}
		query = logs.StreamQuery{
			Since:      pos.next,
			Limit:      followBatch,
			Follow:     true,
			WaitMillis: followWaitMillis,
			Component:  opts.Component,
		}
	}
}

func streamRPC(ctx context.Context, client RPCClient, opts Options, pos *cursor, onEvent func(logging.LogEvent)) (bool, error) {
	printed := false
	if !pos.started {
		resp, err := client.Logs(ctx, ipc.LogsRequest{Tail: true, Limit: opts.Lines, Component: opts.Component})
		if err != nil {
			return false, fmt.Errorf("tail logs: %w", err)
		}
		printed = emit(resp.Events, onEvent)
		pos.next, pos.started = resp.Next, true
	}
	if !opts.Follow {
		return printed, nil
	}
	for {
		resp, err := client.Logs(ctx, ipc.LogsRequest{
			Since:      pos.next,
			Limit:      followBatch,
			Follow:     true,
			WaitMillis: followWaitMillis,
			Component:  opts.Component,
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return printed, nil
			}
			return printed, fmt.Errorf("follow logs: %w", err)
		}
		printed = emit(resp.Events, onEvent) || printed
		pos.next = resp.Next
	}
}

func emit(events []logging.LogEvent, onEvent func(logging.LogEvent)) bool {
	for _, evt := range events {
		if onEvent != nil {
			onEvent(evt)
		}
	}
	return len(events) > 0
}
