package workerproto

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
)

// Handler reacts to decoded commands. A returned error is logged and the
// loop continues.
type Handler func(ctx context.Context, cmd Command) error

// Serve reads commands from r until EOF or ctx ends. Malformed lines are
// logged and skipped.
func Serve(ctx context.Context, r io.Reader, logger *slog.Logger, handle Handler) error {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	lines := make(chan []byte)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					if err != nil {
						return fmt.Errorf("read commands: %w", err)
					}
				default:
				}
				return nil
			}
			if len(line) == 0 {
				continue
			}
			cmd, err := Decode(line)
			if err != nil {
				logger.Warn("ignoring malformed command", slog.String("line", string(line)), slog.Any("error", err))
				continue
			}
			if err := handle(ctx, cmd); err != nil {
				logger.Error("command failed", slog.String("type", string(cmd.Type)), slog.String("payload", cmd.Payload), slog.Any("error", err))
			}
		}
	}
}
