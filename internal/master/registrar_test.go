package master

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"voxelstrike/netcore/internal/logging"
)

func listing() Listing {
	return Listing{Name: "eu-1", Address: "10.0.0.1:27960", Players: 3, MaxPlayers: 16, Mode: "deathmatch", TickRate: 30}
}

func TestAnnouncePostsListing(t *testing.T) {
	received := make(chan Listing, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected request %s %q", r.Method, r.Header.Get("Content-Type"))
		}
		var body Listing
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		received <- body
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	reg := NewRegistrar(srv.URL, time.Minute, listing, logging.NewTestLogger())
	if err := reg.Announce(context.Background()); err != nil {
		t.Fatalf("announce: %v", err)
	}
	if got := <-received; got != listing() {
		t.Fatalf("unexpected listing %+v", got)
	}
}

func TestAnnounceRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	reg := NewRegistrar(srv.URL, time.Minute, listing, logging.NewTestLogger())
	reg.SetRetryWait(time.Millisecond, 5*time.Millisecond)
	if err := reg.Announce(context.Background()); err != nil {
		t.Fatalf("expected retries to succeed, got %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestAnnounceRejectedIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	reg := NewRegistrar(srv.URL, time.Minute, listing, logging.NewTestLogger())
	if err := reg.Announce(context.Background()); err == nil {
		t.Fatalf("expected an error for a 403")
	}
}

func TestRunHeartbeatsUntilCancelled(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	reg := NewRegistrar(srv.URL, 10*time.Millisecond, listing, logging.NewTestLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reg.Run(ctx)
		close(done)
	}()
	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not stop after cancel")
	}
	if calls.Load() < 2 {
		t.Fatalf("expected at least two heartbeats, got %d", calls.Load())
	}
}

func TestRunWithoutURLReturnsImmediately(t *testing.T) {
	reg := NewRegistrar("", time.Millisecond, listing, logging.NewTestLogger())
	done := make(chan struct{})
	go func() {
		reg.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("expected Run to return without a URL")
	}
}
