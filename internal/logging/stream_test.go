package logging

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func TestStreamHandlerPublishesSeverityAndAttrs(t *testing.T) {
	hub := NewStreamHub(16)
	logger := WithStream(slog.New(slog.NewTextHandler(discardWriter{}, nil)), hub, slog.LevelInfo).
		With(String(FieldComponent, "orchestrator"), String(FieldRunID, "run-1"))

	logger.Warn("poll failed", AppID(730), String("attempt", "2"))

	events, _ := hub.Tail(10)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	evt := events[0]
	if evt.Severity != SeverityWarning {
		t.Fatalf("expected warning severity, got %q", evt.Severity)
	}
	if evt.Component != "orchestrator" || evt.RunID != "run-1" {
		t.Fatalf("unexpected component/run: %+v", evt)
	}
	if evt.AppID != 730 {
		t.Fatalf("expected app id 730, got %d", evt.AppID)
	}
	if evt.Fields["attempt"] != "2" {
		t.Fatalf("expected attempt field, got %v", evt.Fields)
	}
}

func TestStreamHandlerCallSiteOverridesWithAttrs(t *testing.T) {
	hub := NewStreamHub(16)
	logger := NewStreamLogger(hub, slog.LevelInfo).With(String(FieldComponent, "original"))

	logger.Info("message", String(FieldComponent, "overridden"))

	events, _ := hub.Tail(10)
	if len(events) != 1 || events[0].Component != "overridden" {
		t.Fatalf("expected overridden component, got %+v", events)
	}
}

func TestStreamLoggerRespectsLevel(t *testing.T) {
	hub := NewStreamHub(16)
	logger := NewStreamLogger(hub, slog.LevelInfo)

	logger.Debug("hidden")
	logger.Error("shown")

	events, _ := hub.Tail(10)
	if len(events) != 1 || events[0].Severity != SeverityError {
		t.Fatalf("expected a single error event, got %+v", events)
	}
}

func TestWithStreamNilHubReturnsBase(t *testing.T) {
	base := slog.New(slog.NewTextHandler(discardWriter{}, nil))
	if got := WithStream(base, nil, slog.LevelInfo); got != base {
		t.Fatal("expected base logger when hub is nil")
	}
	if got := WithStream(nil, nil, slog.LevelInfo); got == nil {
		t.Fatal("expected a no-op logger when both are nil")
	}
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	hub := NewStreamHub(8)

	var mu sync.Mutex
	var first, second []string
	idA := hub.Subscribe(func(evt LogEvent) {
		mu.Lock()
		first = append(first, evt.Message)
		mu.Unlock()
	})
	idB := hub.Subscribe(func(evt LogEvent) {
		mu.Lock()
		second = append(second, evt.Message)
		mu.Unlock()
	})
	if idA == "" || idB == "" || idA == idB {
		t.Fatalf("expected distinct subscriber ids, got %q and %q", idA, idB)
	}

	hub.Publish(LogEvent{Message: "one"})
	if !hub.Unsubscribe(idA) {
		t.Fatal("expected first subscriber to be removed")
	}
	if hub.Unsubscribe(idA) {
		t.Fatal("expected second unsubscribe to report false")
	}
	hub.Publish(LogEvent{Message: "two"})

	mu.Lock()
	defer mu.Unlock()
	if len(first) != 1 || first[0] != "one" {
		t.Fatalf("detached subscriber saw %v", first)
	}
	if len(second) != 2 || second[1] != "two" {
		t.Fatalf("remaining subscriber saw %v", second)
	}
	if hub.Subscribers() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", hub.Subscribers())
	}
}

func TestHubBufferIsBounded(t *testing.T) {
	hub := NewStreamHub(3)
	for _, msg := range []string{"a", "b", "c", "d", "e"} {
		hub.Publish(LogEvent{Message: msg})
	}
	events, next := hub.Tail(0)
	if len(events) != 3 || events[0].Message != "c" || events[2].Message != "e" {
		t.Fatalf("unexpected buffer contents: %+v", events)
	}
	if next != 5 {
		t.Fatalf("expected cursor 5, got %d", next)
	}
}

func TestFetchSinceAndWait(t *testing.T) {
	hub := NewStreamHub(8)
	hub.Publish(LogEvent{Message: "first"})

	events, cursor, err := hub.Fetch(context.Background(), 0, 10, false)
	if err != nil || len(events) != 1 {
		t.Fatalf("Fetch returned %v, %v", events, err)
	}

	done := make(chan []LogEvent, 1)
	go func() {
		evts, _, _ := hub.Fetch(context.Background(), cursor, 10, true)
		done <- evts
	}()
	time.Sleep(20 * time.Millisecond)
	hub.Publish(LogEvent{Message: "second"})

	select {
	case evts := <-done:
		if len(evts) != 1 || evts[0].Message != "second" {
			t.Fatalf("unexpected waited events: %+v", evts)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Fetch did not wake on publish")
	}
}

func TestFetchWaitHonoursCancellation(t *testing.T) {
	hub := NewStreamHub(8)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, _, err := hub.Fetch(ctx, 0, 10, true)
	if err == nil {
		t.Fatal("expected context error")
	}
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
