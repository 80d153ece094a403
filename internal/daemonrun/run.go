// Package daemonrun hosts the idlefarmd process: logger and log stream setup,
// collaborator wiring, the IPC socket, the optional HTTP API, and signal
// driven shutdown.
package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"idlefarm/internal/config"
	"idlefarm/internal/daemon"
	"idlefarm/internal/history"
	"idlefarm/internal/ipc"
	"idlefarm/internal/logging"
)

// PIDFileName is written into the state directory while the daemon runs.
const PIDFileName = "idlefarmd.pid"

// Options configures daemon process runtime behavior.
type Options struct {
	// LogLevel overrides logging.level when set.
	LogLevel string
}

// PIDPath returns the pid file location for cfg.
func PIDPath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.StateDir, PIDFileName)
}

// Run starts the idlefarm daemon and blocks until SIGINT, SIGTERM, a
// shutdown request, or a fatal API server error.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return errors.New("config is required")
	}
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		copied := *cfg
		copied.Logging.Level = level
		cfg = &copied
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	runCtx, cancel := context.WithCancel(signalCtx)
	defer cancel()

	hub := logging.NewStreamHub(cfg.Logging.StreamCapacity)
	base, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger := logging.WithStream(base, hub, logging.ParseLevel(cfg.Logging.Level))

	pidPath := PIDPath(cfg)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	deps, err := daemon.NewDependencies(cfg, logger)
	if err != nil {
		return err
	}
	deps.Hub = hub
	deps.Shutdown = cancel

	store, err := history.Open(cfg)
	if err != nil {
		logging.WarnWithContext(logger, "run history unavailable", "history_open",
			logging.Error(err),
			logging.String(logging.FieldImpact, "runs will not be recorded"),
			logging.String(logging.FieldErrorHint, "remove or migrate "+cfg.HistoryPath()),
		)
	} else {
		deps.History = store
	}

	d, err := daemon.New(cfg, logger, deps)
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(runCtx); err != nil {
		return err
	}

	ipcServer, err := ipc.NewServer(runCtx, cfg.SocketPath(), d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	group, groupCtx := errgroup.WithContext(runCtx)
	if apiServer := daemon.NewAPIServer(cfg, d, logger); apiServer != nil {
		if err := apiServer.Listen(); err != nil {
			return err
		}
		group.Go(func() error { return apiServer.Serve(groupCtx) })
	}
	group.Go(func() error {
		<-groupCtx.Done()
		return nil
	})

	logger.Info("idlefarm daemon ready",
		logging.String("socket", cfg.SocketPath()),
		logging.Int("pid", os.Getpid()),
	)
	err = group.Wait()
	logger.Info("idlefarm daemon shutting down")
	return err
}

func writePIDFile(path string) error {
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

// ReadPID returns the pid recorded at path, or zero when absent.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read pid file %q: %w", path, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse pid file %q: %w", path, err)
	}
	return pid, nil
}
