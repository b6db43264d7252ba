package freestyle

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestClient(srv *httptest.Server) *Client {
	c := New(zap.NewNop(), "token", "project-1")
	c.APIURL = srv.URL
	return c
}

func TestTrigger(t *testing.T) {
	var got triggerRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/deploys" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer token" {
			t.Errorf("unexpected authorization header %q", r.Header.Get("Authorization"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"id":"dep-1","status":"queued"}`))
	}))
	defer srv.Close()

	deploy, err := newTestClient(srv).Trigger(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deploy.ID != "dep-1" || deploy.Status != "queued" {
		t.Fatalf("unexpected deploy: %+v", deploy)
	}
	if got.ProjectID != "project-1" || got.Trigger != "api" || got.Branch != "main" {
		t.Fatalf("unexpected trigger payload: %+v", got)
	}
}

func TestTriggerDefaultsAndErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	deploy, err := newTestClient(srv).Trigger(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deploy.ID != "unknown" || deploy.Status != "pending" {
		t.Fatalf("unexpected defaults: %+v", deploy)
	}

	unconfigured := New(nil, "token", "")
	if _, err := unconfigured.Trigger(context.Background()); err == nil {
		t.Fatalf("expected error without project id")
	}
	if unconfigured.Configured() {
		t.Fatalf("expected client without project id to be unconfigured")
	}
}

func TestStatusGzipAndLogTail(t *testing.T) {
	logs := strings.Repeat("a", 300) + "done"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/deploys/dep-1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		_ = json.NewEncoder(gz).Encode(map[string]string{
			"id":     "dep-1",
			"status": "running",
			"phase":  "Building",
			"logs":   logs,
		})
		_ = gz.Close()
	}))
	defer srv.Close()

	status, err := newTestClient(srv).Status(context.Background(), "dep-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.Phase != PhaseBuilding {
		t.Fatalf("unexpected phase: %s", status.Phase)
	}
	if len([]rune(status.Log)) != logTailRunes || !strings.HasSuffix(status.Log, "done") {
		t.Fatalf("expected log tail of %d runes, got %d", logTailRunes, len([]rune(status.Log)))
	}
}

func TestStatusBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).Status(context.Background(), "missing")
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 StatusError, got %v", err)
	}

	if _, err := newTestClient(srv).Status(context.Background(), " "); err == nil {
		t.Fatalf("expected error for empty id")
	}
}

func TestParsePhase(t *testing.T) {
	t.Parallel()

	tests := map[string]Phase{
		"pending":   PhasePending,
		"DEPLOYED":  PhaseDeployed,
		"error":     PhaseFailed,
		"":          PhaseUnknown,
		"launching": PhaseUnknown,
	}
	for raw, want := range tests {
		if got := ParsePhase(raw); got != want {
			t.Fatalf("ParsePhase(%q) = %s, want %s", raw, got, want)
		}
	}

	if !PhaseDeployed.Terminal() || !PhaseFailed.Terminal() || PhaseBuilding.Terminal() {
		t.Fatalf("unexpected terminal phases")
	}
}

func TestWaitUntilDeployed(t *testing.T) {
	phases := []string{"pending", "building", "deployed"}
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := int(calls.Add(1)) - 1
		if n >= len(phases) {
			n = len(phases) - 1
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "dep-1", "status": "ok", "phase": phases[n]})
	}))
	defer srv.Close()

	var seen []Phase
	status, err := newTestClient(srv).Wait(context.Background(), "dep-1", time.Millisecond, 10, func(s *DeployStatus) {
		seen = append(seen, s.Phase)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.Phase != PhaseDeployed {
		t.Fatalf("unexpected final phase: %s", status.Phase)
	}
	if len(seen) != 3 {
		t.Fatalf("expected 3 updates, got %v", seen)
	}
}

func TestWaitGivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"id":"dep-1","status":"running","phase":"building"}`))
	}))
	defer srv.Close()

	status, err := newTestClient(srv).Wait(context.Background(), "dep-1", time.Millisecond, 3, nil)
	if err == nil {
		t.Fatalf("expected error when deploy never finishes")
	}
	if status == nil || status.Phase != PhaseBuilding {
		t.Fatalf("expected last status to be returned, got %+v", status)
	}
}

func TestWaitReportsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"id":"dep-1","status":"build error","phase":"failed"}`))
	}))
	defer srv.Close()

	status, err := newTestClient(srv).Wait(context.Background(), "dep-1", time.Millisecond, 3, nil)
	if err == nil || status.Phase != PhaseFailed {
		t.Fatalf("expected failed deploy error, got %v %+v", err, status)
	}
}
