package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tutu-network/tutu/internal/domain"
	"github.com/tutu-network/tutu/internal/health"
	"github.com/tutu-network/tutu/internal/infra/catalog"
	"github.com/tutu-network/tutu/internal/infra/modelmanager"
	"github.com/tutu-network/tutu/internal/infra/promptcache"
	"github.com/tutu-network/tutu/internal/infra/scheduler"
	"github.com/tutu-network/tutu/internal/infra/sqlite"
	"github.com/tutu-network/tutu/internal/infra/thermal"
	"github.com/tutu-network/tutu/internal/runtime"
)

// stubProbe reports a fixed, always-NORMAL reading so tests get a
// deterministic thermal status without touching real hardware.
type stubProbe struct{ tempC float64 }

func (p stubProbe) Name() string { return "stub" }
func (p stubProbe) Sample(ctx context.Context) (domain.ThermalReading, error) {
	t := p.tempC
	return domain.ThermalReading{TemperatureC: &t, Source: "stub"}, nil
}

func newTestServer(t *testing.T) (*Server, func()) {
	t.Helper()
	dir := t.TempDir()

	db, err := sqlite.Open(filepath.Join(dir, "db"))
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}

	rt := runtime.NewMockRuntime()
	manager := modelmanager.New(rt, catalog.Catalog, 10<<30)
	manager.Bootstrap(context.Background())

	guard := thermal.NewGuard(thermal.Config{
		SampleInterval: 50 * time.Millisecond,
	}, nil, stubProbe{tempC: 40})

	cache, err := promptcache.New(promptcache.Config{
		RootDir: filepath.Join(dir, "cache"),
	}, nil)
	if err != nil {
		t.Fatalf("promptcache.New: %v", err)
	}

	sched := scheduler.New(scheduler.Config{
		BatchWaitTimeout: 20 * time.Millisecond,
	}, manager, guard, rt)

	checker := health.NewChecker(db, filepath.Join(dir, "cache"), guard, manager)

	ctx, cancel := context.WithCancel(context.Background())
	guard.Start(ctx)
	for deadline := time.Now().Add(time.Second); guard.Current().State == domain.ThermalUnknown && time.Now().Before(deadline); {
		time.Sleep(5 * time.Millisecond)
	}
	sched.Start()
	go checker.Run(ctx)

	srv := NewServer(sched, manager, cache, guard, checker, 2*time.Second)

	cleanup := func() {
		sched.Stop()
		guard.Stop()
		cancel()
		_ = db.Close()
	}

	return srv, cleanup
}

func TestHealthz(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body=%s", w.Code, http.StatusOK, w.Body.String())
	}
}

func TestListModels(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var body struct {
		Data []map[string]any `json:"data"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Data) != len(catalog.Catalog) {
		t.Errorf("models listed = %d, want %d", len(body.Data), len(catalog.Catalog))
	}
}

func TestChatCompletions(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	reqBody := `{"model":"","messages":[{"role":"user","content":"hello"}],"max_tokens":8}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(reqBody))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body=%s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Choices) != 1 {
		t.Fatalf("choices = %d, want 1", len(resp.Choices))
	}
	if resp.Choices[0].Message.Content == "" {
		t.Error("expected non-empty completion content")
	}
}

func TestChatCompletionsRejectsEmptyMessages(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{"model":"","messages":[]}`))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestQueueAndStatsEndpoints(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	for _, path := range []string{"/api/queue", "/api/stats", "/api/models"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("%s status = %d, want %d", path, w.Code, http.StatusOK)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	req := httptest.NewRequest(http.MethodOptions, "/v1/models", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("CORS header = %q, want %q", got, "*")
	}
}
