package store

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"idlefarm/internal/steam"
)

func TestResolveNamesBatchesAndCaches(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/appdetails" {
			http.NotFound(w, r)
			return
		}
		calls.Add(1)
		if got := r.URL.Query().Get("appids"); got != "730,440,999" {
			t.Errorf("unexpected appids %q", got)
		}
		_, _ = w.Write([]byte(`{
			"730": {"success": true, "data": {"name": "Counter-Strike 2"}},
			"440": {"success": true, "data": {"name": "Team Fortress 2"}},
			"999": {"success": false}
		}`))
	}))
	defer server.Close()

	client := NewClient(Options{BaseURL: server.URL, HTTPClient: server.Client()})
	names := client.ResolveNames(context.Background(), []steam.AppID{730, 440, 999, 730})
	if names[730] != "Counter-Strike 2" || names[440] != "Team Fortress 2" {
		t.Fatalf("unexpected names %v", names)
	}
	if _, ok := names[999]; ok {
		t.Fatal("expected unsuccessful entry to be absent")
	}

	again := client.ResolveNames(context.Background(), []steam.AppID{730, 440})
	if len(again) != 2 {
		t.Fatalf("expected cached names, got %v", again)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected one request, got %d", got)
	}
}

func TestResolveNamesNeverFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient(Options{BaseURL: server.URL, HTTPClient: server.Client()})
	names := client.ResolveNames(context.Background(), []steam.AppID{730})
	if len(names) != 0 {
		t.Fatalf("expected empty result, got %v", names)
	}
}

func TestSearch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path != "/api/storesearch/" || q.Get("term") != "portal 2" || q.Get("l") != "english" || q.Get("cc") != "US" {
			t.Errorf("unexpected request %s", r.URL)
		}
		_, _ = w.Write([]byte(`{"total": 1, "items": [{"id": 620, "name": "Portal 2"}]}`))
	}))
	defer server.Close()

	client := NewClient(Options{BaseURL: server.URL, HTTPClient: server.Client()})
	games, err := client.Search(context.Background(), " portal 2 ")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(games) != 1 || games[0].AppID != 620 || games[0].Name != "Portal 2" {
		t.Fatalf("unexpected results %+v", games)
	}
	if games[0].ImageURL != HeaderImageURL(620) {
		t.Fatalf("unexpected image url %q", games[0].ImageURL)
	}
	if _, err := client.Search(context.Background(), "  "); err == nil {
		t.Fatal("expected error for empty term")
	}
}
