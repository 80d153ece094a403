// Command idlefarm-worker is the reference worker process. It reports a
// running game session for the application named by SteamAppId and, when
// launched as an achievement worker, acknowledges unlock commands read from
// stdin. It runs until signalled.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"idlefarm/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, err := logging.New(logging.Options{Level: "info", Format: "json", Outputs: []string{"stderr"}})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := run(ctx, os.LookupEnv, os.Stdin, logger); err != nil {
		logger.Error("worker exited", logging.Error(err))
		os.Exit(1)
	}
}
