package history_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"idlefarm/internal/cardfarm"
	"idlefarm/internal/history"
	"idlefarm/internal/orchestrator"
	"idlefarm/internal/testsupport"
)

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func TestOpenCreatesDatabase(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenHistory(t, cfg)
	if store.Path() != cfg.HistoryPath() {
		t.Fatalf("unexpected path %q", store.Path())
	}
	if _, err := os.Stat(cfg.HistoryPath()); err != nil {
		t.Fatalf("expected database file: %v", err)
	}
	runs, err := store.ListRuns(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("expected empty history, got %+v", runs)
	}
}

func TestRunLifecycle(t *testing.T) {
	store := testsupport.MustOpenHistory(t, testsupport.NewConfig(t))
	ctx := context.Background()

	first := orchestrator.Run{ID: "run-1", Mode: orchestrator.ModeSessionFarm, StartedAt: t0, Detail: "2 games"}
	second := orchestrator.Run{ID: "run-2", Mode: orchestrator.ModeCardFarm, StartedAt: t0.Add(90 * time.Minute)}
	for _, run := range []orchestrator.Run{first, second} {
		if err := store.RunStarted(ctx, run); err != nil {
			t.Fatalf("RunStarted: %v", err)
		}
	}
	if err := store.RunEnded(ctx, "run-1", t0.Add(time.Hour), orchestrator.ReasonDurationElapsed); err != nil {
		t.Fatalf("RunEnded: %v", err)
	}
	item := cardfarm.Item{AppID: 730, Name: "Counter-Strike 2", AccumulatedTime: 45 * time.Minute}
	if err := store.CardCompleted(ctx, "run-2", item, t0.Add(2*time.Hour)); err != nil {
		t.Fatalf("CardCompleted: %v", err)
	}

	runs, err := store.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "run-2" || runs[1].ID != "run-1" {
		t.Fatalf("expected newest first, got %+v", runs)
	}
	if !runs[0].Active() || runs[0].Cards != 1 {
		t.Fatalf("unexpected active run %+v", runs[0])
	}
	ended := runs[1]
	if ended.Active() || ended.EndReason != orchestrator.ReasonDurationElapsed || !ended.EndedAt.Equal(t0.Add(time.Hour)) {
		t.Fatalf("unexpected ended run %+v", ended)
	}
	if ended.Detail != "2 games" || ended.Mode != orchestrator.ModeSessionFarm {
		t.Fatalf("unexpected run metadata %+v", ended)
	}

	cards, err := store.RunCards(ctx, "run-2")
	if err != nil {
		t.Fatalf("RunCards: %v", err)
	}
	if len(cards) != 1 || cards[0].AppID != 730 || cards[0].Farmed != 45*time.Minute {
		t.Fatalf("unexpected cards %+v", cards)
	}

	limited, err := store.ListRuns(ctx, 1)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected limit to apply, got %d", len(limited))
	}
}

func TestRunEndedUnknownRun(t *testing.T) {
	store := testsupport.MustOpenHistory(t, testsupport.NewConfig(t))
	err := store.RunEnded(context.Background(), "missing", t0, orchestrator.ReasonRequested)
	if !errors.Is(err, history.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestCloseDanglingRuns(t *testing.T) {
	store := testsupport.MustOpenHistory(t, testsupport.NewConfig(t))
	ctx := context.Background()
	if err := store.RunStarted(ctx, orchestrator.Run{ID: "crashed", Mode: orchestrator.ModeAchievementFarm, StartedAt: t0}); err != nil {
		t.Fatalf("RunStarted: %v", err)
	}
	n, err := store.CloseDangling(ctx, t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("CloseDangling: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one dangling run, got %d", n)
	}
	runs, err := store.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if runs[0].EndReason != orchestrator.ReasonShutdown {
		t.Fatalf("unexpected reason %q", runs[0].EndReason)
	}
}

func TestReopenKeepsHistory(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store, err := history.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.RunStarted(context.Background(), orchestrator.Run{ID: "r", Mode: orchestrator.ModeSessionFarm, StartedAt: t0}); err != nil {
		t.Fatalf("RunStarted: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened := testsupport.MustOpenHistory(t, cfg)
	runs, err := reopened.ListRuns(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "r" {
		t.Fatalf("expected persisted run, got %+v", runs)
	}
}
