package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"idlefarm/internal/logging"
	"idlefarm/internal/steam"
	"idlefarm/internal/workerproto"
)

type lookupFunc func(key string) (string, bool)

// run blocks until ctx ends. Closing stdin does not end a worker.
func run(ctx context.Context, lookup lookupFunc, stdin io.Reader, logger *slog.Logger) error {
	raw, ok := lookup(workerproto.EnvAppID)
	if !ok {
		return fmt.Errorf("%s is not set", workerproto.EnvAppID)
	}
	appID, err := steam.ParseAppID(raw)
	if err != nil {
		return err
	}
	kind := workerproto.KindSession
	if value, ok := lookup(workerproto.EnvKind); ok && value != "" {
		kind = workerproto.Kind(value)
	}
	if !kind.Valid() {
		return fmt.Errorf("unknown worker kind %q", kind)
	}

	logger = logger.With(logging.AppID(uint32(appID)), logging.String("kind", string(kind)))
	logger.Info("worker session started")

	if kind.HasControlChannel() {
		err := workerproto.Serve(ctx, stdin, logger, func(_ context.Context, cmd workerproto.Command) error {
			return unlock(logger, cmd)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("control channel closed", logging.Error(err))
		}
	}

	<-ctx.Done()
	logger.Info("worker session ended")
	return nil
}

func unlock(logger *slog.Logger, cmd workerproto.Command) error {
	if cmd.Type != workerproto.CommandUnlockEvent {
		return fmt.Errorf("unsupported command %q", cmd.Type)
	}
	logger.Info("unlock event received", logging.String("event_id", cmd.Payload))
	return nil
}
