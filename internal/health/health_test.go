package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) result {
	t.Helper()
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return body
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	h := New()
	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	if body := decode(t, rec); body.Status != "ok" {
		t.Errorf("body status = %q, want ok", body.Status)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	ok := func(_ context.Context) error { return nil }
	tests := []struct {
		name       string
		checkers   []Checker
		wantStatus int
		wantBody   string
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantStatus: http.StatusOK,
			wantBody:   "ok",
		},
		{
			name: "all pass",
			checkers: []Checker{
				{Name: "history", Check: ok},
				{Name: "browser", Check: ok},
			},
			wantStatus: http.StatusOK,
			wantBody:   "ok",
			wantChecks: map[string]string{"history": "ok", "browser": "ok"},
		},
		{
			name: "one fails",
			checkers: []Checker{
				{Name: "history", Check: func(_ context.Context) error {
					return errors.New("connection refused")
				}},
				{Name: "browser", Check: ok},
			},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   "fail",
			wantChecks: map[string]string{
				"history": "fail: connection refused",
				"browser": "ok",
			},
		},
		{
			name: "all fail",
			checkers: []Checker{
				{Name: "session-state", Check: func(_ context.Context) error {
					return errors.New("timeout")
				}},
				{Name: "browser", Check: func(_ context.Context) error {
					return errors.New("devtools endpoint unreachable")
				}},
			},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   "fail",
			wantChecks: map[string]string{
				"session-state": "fail: timeout",
				"browser":       "fail: devtools endpoint unreachable",
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			h := New(tc.checkers...)
			rec := httptest.NewRecorder()
			h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))

			if rec.Code != tc.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			body := decode(t, rec)
			if body.Status != tc.wantBody {
				t.Errorf("body status = %q, want %q", body.Status, tc.wantBody)
			}
			for name, want := range tc.wantChecks {
				if got := body.Checks[name]; got != want {
					t.Errorf("check %q = %q, want %q", name, got, want)
				}
			}
		})
	}
}

// Probes run in parallel: two checkers that rendezvous with each other can
// only both finish if neither waits for the other to return first.
func TestReadyzProbesRunConcurrently(t *testing.T) {
	t.Parallel()

	var barrier sync.WaitGroup
	barrier.Add(2)
	meet := func(_ context.Context) error {
		barrier.Done()
		barrier.Wait()
		return nil
	}
	h := New(
		Checker{Name: "a", Check: meet},
		Checker{Name: "b", Check: meet},
	)

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestReadyzHonoursRequestCancellation(t *testing.T) {
	t.Parallel()

	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestRegisterRoutes(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	New(Checker{Name: "dep", Check: func(_ context.Context) error { return nil }}).Register(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d, want 200", path, rec.Code)
		}
	}
}
