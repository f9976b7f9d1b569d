package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"
)

// fakePinger is a test double for the Pinger interface.
type fakePinger struct {
	// name is returned by Name().
	name string
	// err is returned by Ping(); nil means healthy.
	err error
	// delay is slept before returning, or until ctx is done.
	delay time.Duration
}

func (f *fakePinger) Name() string { return f.name }

func (f *fakePinger) Ping(ctx context.Context) error {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.err
}

// newReadyTestServer builds a *Server with the given pingers wired in.
func newReadyTestServer(pingers ...Pinger) *Server {
	s := newTestServer()
	s.pingers = pingers
	return s
}

// getReady calls GET /api/ready through the full handler chain.
func getReady(t *testing.T, s *Server) (int, readyResponse) {
	t.Helper()
	w := do(t, s, http.MethodGet, "/api/ready", "")
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: expected application/json, got %q", ct)
	}
	var resp readyResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return w.Code, resp
}

func TestHandleHealth_OK(t *testing.T) {
	t.Parallel()

	w := do(t, newTestServer(), http.MethodGet, "/api/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d, body: %s", w.Code, w.Body.String())
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status: expected %q, got %q", "ok", body["status"])
	}
}

func TestHandleReady(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		pingers    []Pinger
		wantStatus int
		wantReady  bool
		wantFailed []string
	}{
		{
			name:       "no pingers",
			wantStatus: http.StatusOK,
			wantReady:  true,
		},
		{
			name:       "all healthy",
			pingers:    []Pinger{&fakePinger{name: "sqlite"}, &fakePinger{name: "qdrant"}},
			wantStatus: http.StatusOK,
			wantReady:  true,
		},
		{
			name: "one failing",
			pingers: []Pinger{
				&fakePinger{name: "sqlite"},
				&fakePinger{name: "qdrant", err: errors.New("connection refused")},
			},
			wantStatus: http.StatusServiceUnavailable,
			wantFailed: []string{"qdrant"},
		},
		{
			name: "all failing",
			pingers: []Pinger{
				&fakePinger{name: "postgres", err: errors.New("timeout")},
				&fakePinger{name: "ollama", err: errors.New("connection refused")},
			},
			wantStatus: http.StatusServiceUnavailable,
			wantFailed: []string{"postgres", "ollama"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			code, resp := getReady(t, newReadyTestServer(tc.pingers...))
			if code != tc.wantStatus {
				t.Fatalf("expected %d, got %d", tc.wantStatus, code)
			}
			if resp.Ready != tc.wantReady {
				t.Errorf("ready: expected %v, got %v", tc.wantReady, resp.Ready)
			}
			if len(resp.Checks) != len(tc.pingers) {
				t.Fatalf("expected %d checks, got %d", len(tc.pingers), len(resp.Checks))
			}

			failed := map[string]bool{}
			for _, name := range tc.wantFailed {
				failed[name] = true
			}
			for i, c := range resp.Checks {
				if c.Name != tc.pingers[i].Name() {
					t.Errorf("check %d: expected %q in registration order, got %q", i, tc.pingers[i].Name(), c.Name)
				}
				if c.OK == failed[c.Name] {
					t.Errorf("check %q: ok=%v, want %v", c.Name, c.OK, !failed[c.Name])
				}
				if failed[c.Name] && c.Error == "" {
					t.Errorf("check %q: expected non-empty error", c.Name)
				}
				if !failed[c.Name] && c.Error != "" {
					t.Errorf("check %q: expected no error, got %q", c.Name, c.Error)
				}
			}
		})
	}
}

// TestHandleReady_ChecksRunConcurrently verifies that slow checks overlap:
// three 200ms checks must finish well under their 600ms sum.
func TestHandleReady_ChecksRunConcurrently(t *testing.T) {
	t.Parallel()

	const delay = 200 * time.Millisecond
	s := newReadyTestServer(
		&fakePinger{name: "a", delay: delay},
		&fakePinger{name: "b", delay: delay},
		&fakePinger{name: "c", delay: delay},
	)

	start := time.Now()
	code, _ := getReady(t, s)
	elapsed := time.Since(start)

	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if elapsed >= 3*delay {
		t.Errorf("checks appear sequential: took %v", elapsed)
	}
}

func TestMultiPinger_JoinsAllFailures(t *testing.T) {
	t.Parallel()

	m := NewMultiPinger(
		&fakePinger{name: "sqlite", err: errors.New("locked")},
		&fakePinger{name: "qdrant"},
		&fakePinger{name: "ollama", err: errors.New("refused")},
	)

	err := m.Ping(t.Context())
	if err == nil {
		t.Fatal("expected an error")
	}
	msg := err.Error()
	for _, want := range []string{"sqlite: locked", "ollama: refused"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q should contain %q", msg, want)
		}
	}
	if strings.Contains(msg, "qdrant") {
		t.Errorf("healthy dependency should not appear in %q", msg)
	}

	if err := NewMultiPinger(&fakePinger{name: "sqlite"}).Ping(t.Context()); err != nil {
		t.Errorf("all healthy: expected nil, got %v", err)
	}
}
