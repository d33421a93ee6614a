package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/pitabwire/catalogboard/internal/board"
	"github.com/pitabwire/catalogboard/internal/config"
	"github.com/pitabwire/catalogboard/internal/definition"
	"github.com/pitabwire/catalogboard/internal/idempotency"
	"github.com/pitabwire/catalogboard/internal/journal"
	"github.com/pitabwire/catalogboard/internal/observability"
	"github.com/pitabwire/catalogboard/internal/session"
	"github.com/pitabwire/catalogboard/model"
)

// --- fakes ---

type fakeCatalog struct {
	mu        sync.Mutex
	entries   map[string][]model.CatalogEntry
	submitted []model.TransitionRequest
	deleted   []string
	submitErr error
}

func (f *fakeCatalog) ListEntries(_ context.Context, q model.EntryQuery) (model.EntryPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := f.entries[q.Status]
	total := len(all)
	return model.EntryPage{Entries: model.CloneEntries(all), Total: &total}, nil
}

func (f *fakeCatalog) SubmitTransition(_ context.Context, req model.TransitionRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, req)
	return f.submitErr
}

func (f *fakeCatalog) DeleteEntry(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeCatalog) submissions() []model.TransitionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.TransitionRequest(nil), f.submitted...)
}

// rolePolicy grants capabilities by role.
type rolePolicy map[string][]string

func (p rolePolicy) Resolve(rctx *model.RequestContext) (model.CapabilitySet, error) {
	caps := model.CapabilitySet{}
	for _, role := range rctx.Roles {
		for _, c := range p[role] {
			caps[c] = true
		}
	}
	return caps, nil
}

func (rolePolicy) Invalidate(string, string) {}

var fixtureTime = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func catalogEntry(id, status string) model.CatalogEntry {
	return model.CatalogEntry{
		ID:    id,
		Title: "Specimen " + id,
		History: []model.WorkflowHistoryItem{
			{ID: "h-" + id, Status: status, Author: "importer", Timestamp: fixtureTime},
		},
	}
}

func intakeBoard() model.BoardDefinition {
	return model.BoardDefinition{
		ID:           "intake",
		Title:        "Intake",
		Capabilities: []string{"catalog:view"},
		Columns: []model.ColumnDefinition{
			{Key: "received", Name: "Received"},
			{Key: "review", Name: "Review"},
			{Key: "published", Name: "Published", Rule: model.TransitionRule{Capabilities: []string{"catalog:publish"}}},
			{Key: "disposed", Name: "Disposed", Rule: model.TransitionRule{JustificationRequired: true}},
		},
	}
}

func archiveBoard() model.BoardDefinition {
	return model.BoardDefinition{
		ID:           "archive",
		Title:        "Archive",
		Capabilities: []string{"archive:view"},
		Columns:      []model.ColumnDefinition{{Key: "stored", Name: "Stored"}},
	}
}

// testEnv is a router wired to in-memory stores and a fake catalog.
type testEnv struct {
	router   http.Handler
	catalog  *fakeCatalog
	sessions *session.Manager
	journal  *journal.MemoryStore
}

// testAuth trusts the X-Test-Subject and X-Test-Role headers as claims.
func testAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sub := r.Header.Get("X-Test-Subject")
		if sub == "" {
			WriteError(w, model.NewUnauthorizedError("missing subject"))
			return
		}
		claims := map[string]any{
			"sub":       sub,
			"tenant_id": "museum-1",
			"roles":     []any{r.Header.Get("X-Test-Role")},
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims, "token-"+sub)))
	})
}

func testDeps(t *testing.T) Dependencies {
	t.Helper()
	cfg := config.Defaults()
	cfg.Server.CORS.AllowedOrigins = []string{"https://curation.example.com"}
	cfg.Server.HandlerTimeout = 5 * time.Second

	registry := definition.NewRegistry([]model.BoardDefinition{intakeBoard(), archiveBoard()})
	return Dependencies{
		Config:      cfg,
		Definitions: registry,
		Readiness: observability.ReadinessChecks{
			DefinitionsLoaded: func() bool { return registry.Len() > 0 },
			CatalogIndexed:    func() bool { return true },
		},
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cat := &fakeCatalog{entries: map[string][]model.CatalogEntry{
		"received": {catalogEntry("e1", "received"), catalogEntry("e2", "received")},
		"review":   {catalogEntry("e3", "review")},
	}}
	policy := rolePolicy{
		"curator":   {"catalog:view"},
		"registrar": {"catalog:view", "catalog:publish"},
	}
	store := journal.NewMemoryStore()

	deps := testDeps(t)
	mgr := session.NewManager(deps.Definitions, cat, session.Options{
		Engine: board.Options{
			Journal:      store,
			Capabilities: policy,
		},
		IdleTTL:      time.Hour,
		NoticeBuffer: 16,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mgr.Shutdown(ctx)
	})

	deps.Authenticate = testAuth
	deps.CapabilityResolver = policy
	deps.Sessions = mgr
	deps.Journal = store
	deps.Idempotency = idempotency.NewMemoryStore(time.Hour)

	return &testEnv{router: NewRouter(deps), catalog: cat, sessions: mgr, journal: store}
}

// do sends a request as subject with role and decodes the JSON response
// into out when out is non-nil.
func (e *testEnv) do(t *testing.T, subject, role, method, path string, body any, out any, headers ...string) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Test-Subject", subject)
	req.Header.Set("X-Test-Role", role)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if out != nil && w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
			t.Fatalf("%s %s: decode response %q: %v", method, path, w.Body.String(), err)
		}
	}
	return w.Code
}

// --- Router tests ---

func TestNewRouter_health(t *testing.T) {
	r := NewRouter(testDeps(t))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/ui/health", nil))

	if w.Code != 200 {
		t.Errorf("status = %d, want 200", w.Code)
	}
	var body map[string]string
	json.NewDecoder(w.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Errorf("status = %q, want ok", body["status"])
	}
}

func TestNewRouter_ready(t *testing.T) {
	r := NewRouter(testDeps(t))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/ui/ready", nil))

	if w.Code != 200 {
		t.Errorf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
}

func TestNewRouter_notReadyWithoutDefinitions(t *testing.T) {
	deps := testDeps(t)
	deps.Readiness.DefinitionsLoaded = func() bool { return false }
	r := NewRouter(deps)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/ui/ready", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestNewRouter_metrics(t *testing.T) {
	r := NewRouter(testDeps(t))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	if w.Code != 200 {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestNewRouter_metricsDisabled(t *testing.T) {
	deps := testDeps(t)
	deps.Config.Observability.Metrics.Enabled = false
	r := NewRouter(deps)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	if w.Code != 404 {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestNewRouter_publicRoutesBypassAuth(t *testing.T) {
	rejectAuth := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			WriteError(w, model.NewUnauthorizedError("rejected"))
		})
	}

	deps := testDeps(t)
	deps.Authenticate = rejectAuth
	r := NewRouter(deps)

	for _, path := range []string{"/ui/health", "/ui/ready", "/metrics"} {
		t.Run(path, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
			if w.Code != 200 {
				t.Errorf("status = %d, want 200 (should bypass auth)", w.Code)
			}
		})
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/ui/boards", nil))
	if w.Code != 401 {
		t.Errorf("boards status = %d, want 401 (auth should reject)", w.Code)
	}
}

func TestNewRouter_authenticatedRoutes_areRegistered(t *testing.T) {
	rejectAuth := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			WriteError(w, model.NewUnauthorizedError("rejected"))
		})
	}

	deps := testDeps(t)
	deps.Authenticate = rejectAuth
	r := NewRouter(deps)

	routes := []struct {
		method string
		path   string
	}{
		{"GET", "/ui/boards"},
		{"POST", "/ui/boards/intake/sessions"},
		{"GET", "/ui/entries/e1/moves"},
		{"GET", "/ui/sessions/s1"},
		{"DELETE", "/ui/sessions/s1"},
		{"PUT", "/ui/sessions/s1/filters"},
		{"POST", "/ui/sessions/s1/columns/received/more"},
		{"POST", "/ui/sessions/s1/columns/received/toggle"},
		{"DELETE", "/ui/sessions/s1/entries/e1"},
		{"GET", "/ui/sessions/s1/notices"},
		{"POST", "/ui/sessions/s1/moves"},
		{"GET", "/ui/sessions/s1/moves/m1"},
		{"POST", "/ui/sessions/s1/moves/m1/confirm"},
		{"POST", "/ui/sessions/s1/moves/m1/cancel"},
		{"POST", "/ui/sessions/s1/drag"},
		{"POST", "/ui/sessions/s1/drag/pointer"},
		{"POST", "/ui/sessions/s1/drag/hover"},
		{"POST", "/ui/sessions/s1/drag/drop"},
		{"POST", "/ui/sessions/s1/drag/cancel"},
	}
	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(rt.method, rt.path, nil))
			if w.Code != 401 {
				t.Errorf("status = %d, want 401", w.Code)
			}
		})
	}
}

func TestSecurityHeaders_onHealth(t *testing.T) {
	r := NewRouter(testDeps(t))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/ui/health", nil))

	if got := w.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q, want DENY", got)
	}
	if got := w.Header().Get("X-Correlation-Id"); got == "" {
		t.Error("X-Correlation-Id should be set on health")
	}
}
