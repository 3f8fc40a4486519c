package app_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	httpserver "github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/adapter/httpserver"
	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/app"
	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/config"
	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/usecase"
)

func TestParseOrigins(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"", []string{"*"}},
		{"*", []string{"*"}},
		{"https://a.com, https://b.com", []string{"https://a.com", "https://b.com"}},
		{"https://calibr.app", []string{"https://calibr.app"}},
		{"  ,  ", []string{"*"}},
	}
	for _, c := range cases {
		got := app.ParseOrigins(c.in)
		if len(got) != len(c.want) {
			t.Fatalf("len mismatch for %q: %v vs %v", c.in, got, c.want)
		}
		for i := range got {
			if got[i] != c.want[i] {
				t.Fatalf("mismatch idx %d: %v vs %v", i, got, c.want)
			}
		}
	}
}

func newRouter(t *testing.T) http.Handler {
	t.Helper()
	cfg := config.Config{Port: 8080, RateLimitPerMin: 100}
	ivSvc := usecase.NewInterviewService(nil, nil, nil, nil,
		usecase.GeneratorService{}, usecase.GraderService{}, nil, nil,
		usecase.InterviewOptions{})
	ok := func(_ context.Context) error { return nil }
	srv := httpserver.NewServer(cfg, ivSvc, ok, ok, ok)
	return app.BuildRouter(cfg, srv)
}

func TestBuildRouter_Healthz_And_Readyz(t *testing.T) {
	h := newRouter(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Result().StatusCode != http.StatusOK {
		t.Fatalf("/healthz: want 200, got %d", rec.Result().StatusCode)
	}

	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec2.Result().StatusCode != http.StatusOK {
		t.Fatalf("/readyz: want 200, got %d", rec2.Result().StatusCode)
	}
}

func TestBuildRouter_Metrics_And_SecurityHeaders(t *testing.T) {
	h := newRouter(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Result().StatusCode != http.StatusOK {
		t.Fatalf("/metrics: want 200, got %d", rec.Result().StatusCode)
	}
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("X-Content-Type-Options: want nosniff, got %q", got)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected X-Request-Id header on responses")
	}
}

func TestBuildRouter_InterviewRoutesWired(t *testing.T) {
	h := newRouter(t)

	// A malformed body must reach the handler and come back 400, proving the
	// mutating group routes through the rate limiter to the API.
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/interviews", nil)
	h.ServeHTTP(rec, req)
	if rec.Result().StatusCode != http.StatusBadRequest {
		t.Fatalf("POST /v1/interviews with empty body: want 400, got %d", rec.Result().StatusCode)
	}

	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, httptest.NewRequest(http.MethodGet, "/v1/interviews/bad!id/next", nil))
	if rec2.Result().StatusCode != http.StatusBadRequest {
		t.Fatalf("GET next with invalid id: want 400, got %d", rec2.Result().StatusCode)
	}

	rec3 := httptest.NewRecorder()
	h.ServeHTTP(rec3, httptest.NewRequest(http.MethodGet, "/v1/nope", nil))
	if rec3.Result().StatusCode != http.StatusNotFound {
		t.Fatalf("unknown route: want 404, got %d", rec3.Result().StatusCode)
	}
}
