package daemon_test

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"idlefarm/internal/daemon"
	"idlefarm/internal/logging"
	"idlefarm/internal/orchestrator"
	"idlefarm/internal/testsupport"
)

func newAPI(t *testing.T, hub *logging.StreamHub, opts ...testsupport.ConfigOption) (*httptest.Server, *daemon.Daemon) {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	d, err := daemon.New(cfg, logging.NewNop(), daemon.Dependencies{Workers: &testsupport.FakeWorkers{}, Hub: hub})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	api := daemon.NewAPIServer(cfg, d, logging.NewNop())
	if api == nil {
		t.Fatal("expected api server for configured bind")
	}
	server := httptest.NewServer(api.Handler())
	t.Cleanup(server.Close)
	return server, d
}

func TestNewAPIServerDisabledWithoutBind(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithoutAPI())
	d, err := daemon.New(cfg, logging.NewNop(), daemon.Dependencies{Workers: &testsupport.FakeWorkers{}})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	if daemon.NewAPIServer(cfg, d, nil) != nil {
		t.Fatal("expected nil api server without bind address")
	}
}

func TestAPIStatus(t *testing.T) {
	server, d := newAPI(t, logging.NewStreamHub(16))
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	resp, err := http.Get(server.URL + "/api/status")
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var status daemon.Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !status.Running || status.Farm.Mode != orchestrator.ModeNone {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestAPIRequiresBearerToken(t *testing.T) {
	server, _ := newAPI(t, logging.NewStreamHub(16), testsupport.WithAPIToken("secret"))

	resp, err := http.Get(server.URL + "/api/status")
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, server.URL+"/api/status", nil)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", resp.StatusCode)
	}
}

func TestAPILogsTail(t *testing.T) {
	hub := logging.NewStreamHub(16)
	logger := logging.NewStreamLogger(hub, logging.ParseLevel("info"))
	logger.Info("first", logging.String(logging.FieldComponent, "orchestrator"))
	logger.Warn("second", logging.String(logging.FieldComponent, "cardfarm"))
	server, _ := newAPI(t, hub)

	resp, err := http.Get(server.URL + "/api/logs?tail=1&component=cardfarm")
	if err != nil {
		t.Fatalf("GET logs: %v", err)
	}
	defer resp.Body.Close()
	var body daemon.LogsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode logs: %v", err)
	}
	if len(body.Events) != 1 || body.Events[0].Message != "second" || body.Events[0].Severity != logging.SeverityWarning {
		t.Fatalf("unexpected events %+v", body.Events)
	}
	if body.Next != 2 {
		t.Fatalf("expected cursor 2, got %d", body.Next)
	}
}

func TestAPIEventsStreamsAndDetaches(t *testing.T) {
	hub := logging.NewStreamHub(16)
	server, _ := newAPI(t, hub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	waitFor(t, func() bool { return hub.Subscribers() == 1 })
	hub.Publish(logging.LogEvent{Message: "unlock fired", Severity: logging.SeverityInfo, AppID: 730})

	reader := bufio.NewReader(resp.Body)
	var data string
	for data == "" {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		if payload, ok := strings.CutPrefix(strings.TrimSpace(line), "data: "); ok {
			data = payload
		}
	}
	var evt logging.LogEvent
	if err := json.Unmarshal([]byte(data), &evt); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if evt.Message != "unlock fired" || evt.AppID != 730 || evt.Sequence != 1 {
		t.Fatalf("unexpected event %+v", evt)
	}

	cancel()
	resp.Body.Close()
	waitFor(t, func() bool { return hub.Subscribers() == 0 })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
