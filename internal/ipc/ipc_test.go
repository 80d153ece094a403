package ipc_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"idlefarm/internal/daemon"
	"idlefarm/internal/ipc"
	"idlefarm/internal/logging"
	"idlefarm/internal/orchestrator"
	"idlefarm/internal/steam"
	"idlefarm/internal/testsupport"
)

type harness struct {
	daemon   *daemon.Daemon
	client   *ipc.Client
	hub      *logging.StreamHub
	socket   string
	shutdown chan struct{}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithoutAPI())
	hub := logging.NewStreamHub(64)
	shutdown := make(chan struct{}, 1)
	d, err := daemon.New(cfg, logging.NewNop(), daemon.Dependencies{
		Hub:      hub,
		Workers:  &testsupport.FakeWorkers{},
		Shutdown: func() { shutdown <- struct{}{} },
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	// Unix socket paths are length limited; keep it short.
	dir, err := os.MkdirTemp("", "idlefarm-ipc")
	if err != nil {
		t.Fatalf("mkdir temp: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	socket := filepath.Join(dir, "d.sock")

	srv, err := ipc.NewServer(ctx, socket, d, logging.NewNop())
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping IPC server test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(srv.Close)

	client, err := ipc.Dial(socket)
	if err != nil {
		t.Fatalf("ipc.Dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return &harness{daemon: d, client: client, hub: hub, socket: socket, shutdown: shutdown}
}

func TestSessionFarmRoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	status, err := h.client.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.Status.Running || status.Status.Farm.Mode != orchestrator.ModeNone {
		t.Fatalf("unexpected initial status %+v", status.Status)
	}

	minutes := 30.0
	resp, err := h.client.FarmSessions(ctx, ipc.FarmSessionsRequest{AppIDs: []steam.AppID{730, 570}, DurationMinutes: &minutes})
	if err != nil {
		t.Fatalf("FarmSessions: %v", err)
	}
	if !resp.Accepted {
		t.Fatalf("expected request accepted, got %+v", resp)
	}

	status, err = h.client.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	farm := status.Status.Farm
	if farm.Mode != orchestrator.ModeSessionFarm || len(farm.Workers) != 2 {
		t.Fatalf("unexpected farm status %+v", farm)
	}
	if got := farm.Deadline.Sub(farm.Since); got < 30*time.Minute || got > 31*time.Minute {
		t.Fatalf("unexpected session window %s", got)
	}

	stop, err := h.client.Stop(ctx)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !stop.Stopped {
		t.Fatal("expected active farm to be stopped")
	}
	stop, err = h.client.Stop(ctx)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if stop.Stopped {
		t.Fatal("expected second stop to report idle")
	}
}

func TestInvalidRequestsReturnErrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.client.FarmSessions(ctx, ipc.FarmSessionsRequest{}); err == nil {
		t.Fatal("expected error for empty app id list")
	}
	lo, hi := 10.0, 5.0
	_, err := h.client.FarmAchievements(ctx, ipc.FarmAchievementsRequest{
		AppID: 730, EventIDs: []string{"ACH_WIN"}, MinDelayMinutes: &lo, MaxDelayMinutes: &hi,
	})
	if err == nil || !strings.Contains(err.Error(), "invalid") {
		t.Fatalf("expected invalid window error, got %v", err)
	}
	if _, err := h.client.FarmCards(ctx); err == nil {
		t.Fatal("expected error without community credentials")
	}
	if _, err := h.client.History(ctx, 10); err == nil {
		t.Fatal("expected history to be unavailable")
	}
	if _, err := h.client.RunCards(ctx, " "); err == nil {
		t.Fatal("expected error for empty run id")
	}
}

func TestLogsTailAndFollow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.hub.Publish(logging.LogEvent{Message: "one", Component: "orchestrator"})
	h.hub.Publish(logging.LogEvent{Message: "two", Component: "cardfarm"})

	page, err := h.client.Logs(ctx, ipc.LogsRequest{Tail: true, Limit: 1})
	if err != nil {
		t.Fatalf("Logs: %v", err)
	}
	if len(page.Events) != 1 || page.Events[0].Message != "two" {
		t.Fatalf("unexpected tail %+v", page.Events)
	}

	done := make(chan *ipc.LogsResponse, 1)
	go func() {
		resp, err := h.client.Logs(ctx, ipc.LogsRequest{Since: page.Next, Follow: true, WaitMillis: 5000})
		if err != nil {
			t.Errorf("follow Logs: %v", err)
		}
		done <- resp
	}()
	time.Sleep(50 * time.Millisecond)
	h.hub.Publish(logging.LogEvent{Message: "three"})

	select {
	case resp := <-done:
		if resp == nil || len(resp.Events) != 1 || resp.Events[0].Message != "three" {
			t.Fatalf("unexpected follow page %+v", resp)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("follow did not return")
	}

	idle, err := h.client.Logs(ctx, ipc.LogsRequest{Since: 3, Follow: true, WaitMillis: 20})
	if err != nil {
		t.Fatalf("idle follow: %v", err)
	}
	if len(idle.Events) != 0 || idle.Next != 3 {
		t.Fatalf("expected empty page at cursor 3, got %+v", idle)
	}
}

func TestShutdownInvokesHook(t *testing.T) {
	h := newHarness(t)
	resp, err := h.client.Shutdown(context.Background())
	if err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if !resp.Accepted {
		t.Fatal("expected shutdown accepted")
	}
	select {
	case <-h.shutdown:
	default:
		t.Fatal("expected shutdown hook to run")
	}
}

func TestServerCloseRemovesSocket(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithoutAPI())
	d, err := daemon.New(cfg, logging.NewNop(), daemon.Dependencies{Workers: &testsupport.FakeWorkers{}})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	dir, err := os.MkdirTemp("", "idlefarm-ipc")
	if err != nil {
		t.Fatalf("mkdir temp: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	socket := filepath.Join(dir, "d.sock")

	srv, err := ipc.NewServer(context.Background(), socket, d, nil)
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping IPC server test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	client, err := ipc.Dial(socket)
	if err != nil {
		t.Fatalf("ipc.Dial: %v", err)
	}
	defer client.Close()

	srv.Close()
	if _, err := os.Stat(socket); !os.IsNotExist(err) {
		t.Fatalf("expected socket removed, stat err=%v", err)
	}
	if _, err := client.Status(context.Background()); err == nil {
		t.Fatal("expected call on closed server to fail")
	}
}
