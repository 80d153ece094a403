package daemon_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"idlefarm/internal/cardfarm"
	"idlefarm/internal/daemon"
	"idlefarm/internal/logging"
	"idlefarm/internal/orchestrator"
	"idlefarm/internal/steam"
	"idlefarm/internal/steam/community"
	"idlefarm/internal/testsupport"
)

type staticDiscovery struct {
	items []cardfarm.Item
}

func (s staticDiscovery) DiscoverQueue(context.Context) ([]cardfarm.Item, error) {
	return s.items, nil
}

func (s staticDiscovery) RemainingCount(context.Context, steam.AppID) (int, error) {
	return 1, nil
}

// slowDiscovery holds discovery open until its context is cancelled and then
// answers anyway, like a Steam response that arrives late.
type slowDiscovery struct {
	staticDiscovery
	returned chan struct{}
}

func (s slowDiscovery) DiscoverQueue(ctx context.Context) ([]cardfarm.Item, error) {
	defer close(s.returned)
	<-ctx.Done()
	return s.items, nil
}

func newDaemon(t *testing.T, deps daemon.Dependencies, opts ...testsupport.ConfigOption) *daemon.Daemon {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	if deps.Workers == nil {
		deps.Workers = &testsupport.FakeWorkers{}
	}
	if deps.Hub == nil {
		deps.Hub = logging.NewStreamHub(64)
	}
	d, err := daemon.New(cfg, logging.NewNop(), deps)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestDaemonStartAndLock(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	first, err := daemon.New(cfg, logging.NewNop(), daemon.Dependencies{Workers: &testsupport.FakeWorkers{}})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = first.Close() })
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !first.Status().Running {
		t.Fatal("expected daemon to report running")
	}
	if err := first.Start(context.Background()); err == nil {
		t.Fatal("expected second Start to fail")
	}

	second, err := daemon.New(cfg, logging.NewNop(), daemon.Dependencies{Workers: &testsupport.FakeWorkers{}})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = second.Close() })
	if err := second.Start(context.Background()); err == nil {
		t.Fatal("expected lock contention error")
	}

	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if first.Status().Running {
		t.Fatal("expected daemon stopped after Close")
	}
	if err := second.Start(context.Background()); err != nil {
		t.Fatalf("expected lock to be free after Close: %v", err)
	}
}

func TestFarmOperationsRequireRunningDaemon(t *testing.T) {
	d := newDaemon(t, daemon.Dependencies{})
	if err := d.FarmSessions(context.Background(), []steam.AppID{730}, nil); !errors.Is(err, daemon.ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
	if err := d.FarmCards(); !errors.Is(err, daemon.ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
}

func TestFarmSessionsUsesConfiguredDuration(t *testing.T) {
	workers := &testsupport.FakeWorkers{}
	d := newDaemon(t, daemon.Dependencies{Workers: workers})
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := d.FarmSessions(context.Background(), []steam.AppID{730, 440}, nil); err != nil {
		t.Fatalf("FarmSessions: %v", err)
	}
	status := d.Status()
	if status.Farm.Mode != orchestrator.ModeSessionFarm || len(status.Farm.Workers) != 2 {
		t.Fatalf("unexpected status %+v", status.Farm)
	}
	if got := status.Farm.Deadline.Sub(status.Farm.Since); got < time.Hour || got > time.Hour+time.Minute {
		t.Fatalf("expected the 60 minute default, got %s", got)
	}
	if !d.StopFarming() {
		t.Fatal("expected StopFarming to report an active farm")
	}
	if d.StopFarming() {
		t.Fatal("expected second StopFarming to report idle")
	}
	if len(workers.Active()) != 0 {
		t.Fatal("expected workers terminated")
	}
}

func TestFarmAchievementsRejectsBadWindow(t *testing.T) {
	d := newDaemon(t, daemon.Dependencies{})
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	lo, hi := 10*time.Minute, 5*time.Minute
	err := d.FarmAchievements(context.Background(), 730, []string{"A"}, &lo, &hi)
	if !errors.Is(err, orchestrator.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestFarmCardsValidatesCredentials(t *testing.T) {
	d := newDaemon(t, daemon.Dependencies{})
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := d.FarmCards(); !errors.Is(err, orchestrator.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest without cookies, got %v", err)
	}
}

func TestFarmCardsRunsInBackground(t *testing.T) {
	workers := &testsupport.FakeWorkers{}
	discovery := func(community.Credentials) (orchestrator.Discovery, error) {
		return staticDiscovery{items: []cardfarm.Item{{AppID: 730, Name: "Counter-Strike 2", Remaining: 3}}}, nil
	}
	d := newDaemon(t, daemon.Dependencies{Workers: workers, Discovery: discovery},
		testsupport.WithCommunityCredentials("76561198000000000", "sess", "secure"))
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := d.FarmCards(); err != nil {
		t.Fatalf("FarmCards: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		status := d.Status().Farm
		if status.Cards != nil && status.Cards.Current != nil {
			if status.Cards.Current.AppID != 730 {
				t.Fatalf("unexpected current item %+v", status.Cards.Current)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("card farm never started: %+v", status)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(workers.Active()) != 1 {
		t.Fatalf("expected one card worker, got %+v", workers.Active())
	}
}

func TestFarmSessionsAfterFarmCardsWins(t *testing.T) {
	workers := &testsupport.FakeWorkers{}
	slow := slowDiscovery{
		staticDiscovery: staticDiscovery{items: []cardfarm.Item{{AppID: 570, Name: "Dota 2", Remaining: 2}}},
		returned:        make(chan struct{}),
	}
	discovery := func(community.Credentials) (orchestrator.Discovery, error) { return slow, nil }
	d := newDaemon(t, daemon.Dependencies{Workers: workers, Discovery: discovery},
		testsupport.WithCommunityCredentials("76561198000000000", "sess", "secure"))
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := d.FarmCards(); err != nil {
		t.Fatalf("FarmCards: %v", err)
	}
	if mode := d.Status().Farm.Mode; mode != orchestrator.ModeCardFarm {
		t.Fatalf("expected card farm mode as soon as FarmCards returns, got %s", mode)
	}
	if err := d.FarmSessions(context.Background(), []steam.AppID{730}, nil); err != nil {
		t.Fatalf("FarmSessions: %v", err)
	}

	select {
	case <-slow.returned:
	case <-time.After(5 * time.Second):
		t.Fatal("card discovery was not cancelled by the session farm")
	}
	for range 10 {
		if mode := d.Status().Farm.Mode; mode != orchestrator.ModeSessionFarm {
			t.Fatalf("expected session farm to stay active, got %s", mode)
		}
		time.Sleep(5 * time.Millisecond)
	}
	active := workers.Active()
	if len(active) != 1 || active[0].AppID != 730 {
		t.Fatalf("expected only the session worker, got %+v", active)
	}
}

func TestHistoryUnavailableWithoutStore(t *testing.T) {
	d := newDaemon(t, daemon.Dependencies{})
	if _, err := d.History(context.Background(), 10); !errors.Is(err, daemon.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if _, err := d.Search(context.Background(), "portal"); !errors.Is(err, daemon.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestHistoryRecordsRuns(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenHistory(t, cfg)
	d, err := daemon.New(cfg, logging.NewNop(), daemon.Dependencies{Workers: &testsupport.FakeWorkers{}, History: store})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	duration := time.Hour
	if err := d.FarmSessions(context.Background(), []steam.AppID{730}, &duration); err != nil {
		t.Fatalf("FarmSessions: %v", err)
	}
	d.StopFarming()

	// Close flushes pending history writes before closing the store, so read
	// through a fresh handle afterwards.
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	reopened := testsupport.MustOpenHistory(t, cfg)
	runs, err := reopened.ListRuns(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].Mode != orchestrator.ModeSessionFarm || runs[0].EndReason != orchestrator.ReasonRequested {
		t.Fatalf("unexpected runs %+v", runs)
	}
}
