//go:build !windows

package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"idlefarm/internal/logging"
	"idlefarm/internal/steam"
	"idlefarm/internal/workerproto"
)

// TestMain doubles as the worker binary: when the supervisor launches the
// test executable it sees the worker environment and behaves like a worker.
func TestMain(m *testing.M) {
	if kind := os.Getenv(workerproto.EnvKind); kind != "" {
		os.Exit(runHelperWorker(workerproto.Kind(kind)))
	}
	os.Exit(m.Run())
}

func runHelperWorker(kind workerproto.Kind) int {
	appID := os.Getenv(workerproto.EnvAppID)
	fmt.Printf("worker ready app=%s kind=%s\n", appID, kind)
	fmt.Fprintf(os.Stderr, "Setting breakpad minidump AppID = %s\n", appID)
	if len(os.Args) > 1 && os.Args[1] == "exit" {
		fmt.Fprintln(os.Stderr, "steam client not running")
		return 3
	}
	if len(os.Args) > 1 && os.Args[1] == "json" {
		return runJSONHelperWorker(appID, kind)
	}
	if kind.HasControlChannel() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			cmd, err := workerproto.Decode(scanner.Bytes())
			if err != nil {
				fmt.Fprintln(os.Stderr, "bad command:", err)
				continue
			}
			fmt.Printf("unlocked %s\n", cmd.Payload)
		}
	}
	for {
		time.Sleep(time.Hour)
	}
}

// runJSONHelperWorker logs the way idlefarm-worker does: slog JSON on stderr.
func runJSONHelperWorker(appID string, kind workerproto.Kind) int {
	logger, err := logging.New(logging.Options{Level: "info", Format: logging.FormatJSON, Outputs: []string{"stderr"}})
	if err != nil {
		return 2
	}
	logger.Info("worker session started", logging.String("app", appID), logging.String("kind", string(kind)))
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		cmd, err := workerproto.Decode(scanner.Bytes())
		if err != nil {
			logger.Warn("bad command", logging.Error(err))
			continue
		}
		logger.Info("unlock event received", logging.String("event_id", cmd.Payload))
	}
	for {
		time.Sleep(time.Hour)
	}
}

func newTestSupervisor(t *testing.T, args ...string) (*Supervisor, *logging.StreamHub) {
	t.Helper()
	hub := logging.NewStreamHub(256)
	sup, err := New(Options{
		Command:      os.Args[0],
		Args:         args,
		NoiseFilters: []string{"Setting breakpad minidump AppID"},
		KillGrace:    time.Second,
		Logger:       logging.NewStreamLogger(hub, slog.LevelDebug),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		_ = sup.TerminateAll()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := sup.Wait(ctx); err != nil {
			t.Errorf("workers not reaped: %v", err)
		}
	})
	return sup, hub
}

func waitForEvent(t *testing.T, hub *logging.StreamHub, match func(logging.LogEvent) bool) logging.LogEvent {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		events, _ := hub.Tail(0)
		for _, evt := range events {
			if match(evt) {
				return evt
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for log event")
	return logging.LogEvent{}
}

func messageContains(fragment string) func(logging.LogEvent) bool {
	return func(evt logging.LogEvent) bool { return strings.Contains(evt.Message, fragment) }
}

func TestSpawnForwardsOutputAndFiltersNoise(t *testing.T) {
	sup, hub := newTestSupervisor(t)

	handle, err := sup.Spawn(730, "Counter-Strike 2", workerproto.KindSession)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if handle.PID <= 0 || handle.ID == "" || handle.AppID != 730 {
		t.Fatalf("unexpected handle %+v", handle)
	}
	if active := sup.Active(); len(active) != 1 || active[0].ID != handle.ID {
		t.Fatalf("expected worker to be tracked, got %+v", active)
	}

	ready := waitForEvent(t, hub, messageContains("worker ready app=730 kind=session"))
	if ready.Severity != logging.SeverityInfo || ready.AppID != 730 {
		t.Fatalf("unexpected stdout event %+v", ready)
	}
	if !strings.HasPrefix(ready.Message, "[Counter-Strike 2]") {
		t.Fatalf("expected display name prefix, got %q", ready.Message)
	}

	noise := waitForEvent(t, hub, messageContains("Setting breakpad minidump AppID"))
	if noise.Severity == logging.SeverityError || noise.Level != "debug" {
		t.Fatalf("expected noise to be demoted to debug, got %+v", noise)
	}
}

func TestSendRequiresControlChannel(t *testing.T) {
	sup, _ := newTestSupervisor(t)

	handle, err := sup.Spawn(440, "", workerproto.KindSession)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if handle.Name != "440" {
		t.Fatalf("expected name to fall back to app id, got %q", handle.Name)
	}
	err = sup.Send(handle.ID, workerproto.UnlockEvent("A"))
	if !errors.Is(err, ErrNoControlChannel) {
		t.Fatalf("expected ErrNoControlChannel, got %v", err)
	}
}

func TestSendDeliversUnlockCommands(t *testing.T) {
	sup, hub := newTestSupervisor(t)

	handle, err := sup.Spawn(730, "cs2", workerproto.KindAchievements)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	for _, id := range []string{"A", "B"} {
		if err := sup.Send(handle.ID, workerproto.UnlockEvent(id)); err != nil {
			t.Fatalf("Send %s: %v", id, err)
		}
	}
	waitForEvent(t, hub, messageContains("unlocked A"))
	waitForEvent(t, hub, messageContains("unlocked B"))
}

func TestTerminateStopsTrackingImmediately(t *testing.T) {
	sup, _ := newTestSupervisor(t)

	handle, err := sup.Spawn(730, "cs2", workerproto.KindAchievements)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if err := sup.Terminate(handle.ID); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if len(sup.Active()) != 0 {
		t.Fatal("expected no active workers after Terminate")
	}
	if err := sup.Send(handle.ID, workerproto.UnlockEvent("A")); !errors.Is(err, ErrWorkerNotFound) {
		t.Fatalf("expected ErrWorkerNotFound, got %v", err)
	}
	if err := sup.Terminate(handle.ID); !errors.Is(err, ErrWorkerNotFound) {
		t.Fatalf("expected ErrWorkerNotFound on second terminate, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sup.Wait(ctx); err != nil {
		t.Fatalf("worker was not reaped: %v", err)
	}
}

func TestTerminateAllClearsEveryWorker(t *testing.T) {
	sup, _ := newTestSupervisor(t)

	for _, id := range []steam.AppID{730, 440, 570} {
		if _, err := sup.Spawn(id, "", workerproto.KindSession); err != nil {
			t.Fatalf("Spawn %d: %v", id, err)
		}
	}
	if len(sup.Active()) != 3 {
		t.Fatalf("expected 3 workers, got %d", len(sup.Active()))
	}
	if err := sup.TerminateAll(); err != nil {
		t.Fatalf("TerminateAll: %v", err)
	}
	if len(sup.Active()) != 0 {
		t.Fatal("expected empty active set")
	}
	if err := sup.TerminateAll(); err != nil {
		t.Fatalf("second TerminateAll: %v", err)
	}
}

func TestUnexpectedExitIsLoggedAndUntracked(t *testing.T) {
	sup, hub := newTestSupervisor(t, "exit")

	if _, err := sup.Spawn(730, "cs2", workerproto.KindSession); err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	stderr := waitForEvent(t, hub, messageContains("steam client not running"))
	if stderr.Severity != logging.SeverityError {
		t.Fatalf("expected stderr line as error, got %+v", stderr)
	}
	exit := waitForEvent(t, hub, messageContains("worker exited unexpectedly"))
	if exit.Severity != logging.SeverityWarning {
		t.Fatalf("expected exit warning, got %+v", exit)
	}
	if len(sup.Active()) != 0 {
		t.Fatal("expected exited worker to be untracked")
	}
}

func TestSpawnFailureLeavesNoWorker(t *testing.T) {
	sup, err := New(Options{Command: "/nonexistent/idlefarm-worker"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := sup.Spawn(730, "cs2", workerproto.KindSession); err == nil {
		t.Fatal("expected spawn error")
	}
	if len(sup.Active()) != 0 {
		t.Fatal("expected no tracked workers")
	}
}

func TestSpawnValidatesArguments(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	if _, err := sup.Spawn(0, "", workerproto.KindSession); err == nil {
		t.Fatal("expected error for zero app id")
	}
	if _, err := sup.Spawn(730, "", workerproto.Kind("bogus")); err == nil {
		t.Fatal("expected error for unknown kind")
	}
	if _, err := New(Options{}); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestJSONWorkerOutputKeepsItsLevel(t *testing.T) {
	sup, hub := newTestSupervisor(t, "json")

	handle, err := sup.Spawn(730, "CS2", workerproto.KindAchievements)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	started := waitForEvent(t, hub, messageContains("worker session started"))
	if started.Severity != logging.SeverityInfo || started.Message != "[CS2] worker session started" {
		t.Fatalf("expected info event for worker start, got %+v", started)
	}
	if started.AppID != 730 || started.Fields["kind"] != string(workerproto.KindAchievements) {
		t.Fatalf("expected worker fields to be carried, got %+v", started)
	}

	if err := sup.Send(handle.ID, workerproto.UnlockEvent("A")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	unlocked := waitForEvent(t, hub, messageContains("unlock event received"))
	if unlocked.Severity != logging.SeverityInfo || unlocked.Fields["event_id"] != "A" {
		t.Fatalf("expected info unlock event with event_id, got %+v", unlocked)
	}
	if unlocked.Fields["stream"] != "stderr" {
		t.Fatalf("expected stderr stream tag, got %v", unlocked.Fields)
	}
}
