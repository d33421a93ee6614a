// Package integration runs the board server end to end: the real router and
// middleware chain, JWT validation against a test JWKS endpoint, and an
// in-memory catalog service reached over HTTP.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pitabwire/catalogboard/internal/board"
	"github.com/pitabwire/catalogboard/internal/capability"
	"github.com/pitabwire/catalogboard/internal/catalog"
	"github.com/pitabwire/catalogboard/internal/config"
	"github.com/pitabwire/catalogboard/internal/definition"
	"github.com/pitabwire/catalogboard/internal/idempotency"
	"github.com/pitabwire/catalogboard/internal/journal"
	"github.com/pitabwire/catalogboard/internal/observability"
	"github.com/pitabwire/catalogboard/internal/openapi"
	"github.com/pitabwire/catalogboard/internal/session"
	"github.com/pitabwire/catalogboard/internal/transport"
	"github.com/pitabwire/catalogboard/model"
)

// TestHarness is a fully wired board server backed by a MockCatalog.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	issuer *tokenIssuer

	Catalog  *MockCatalog
	Client   *catalog.Client
	Registry *definition.Registry
	Sessions *session.Manager
	Journal  journal.Store
	Metrics  *prometheus.Registry

	cfg *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*config.Config)

// WithCircuitBreaker overrides the catalog circuit breaker.
func WithCircuitBreaker(cb config.CircuitBreakerConfig) HarnessOption {
	return func(c *config.Config) { c.Catalog.CircuitBreaker = cb }
}

// WithRetryAttempts sets the catalog read attempts.
func WithRetryAttempts(n int) HarnessOption {
	return func(c *config.Config) { c.Catalog.Retry.MaxAttempts = n }
}

// WithHandlerTimeout sets the per-request handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *config.Config) { c.Server.HandlerTimeout = d }
}

// WithSQLiteJournal records moves in a SQLite file under the test's
// temporary directory.
func WithSQLiteJournal(path string) HarnessOption {
	return func(c *config.Config) {
		c.Journal.Driver = "sqlite"
		c.Journal.SQLitePath = path
	}
}

// WithoutIdempotency disables idempotency keys.
func WithoutIdempotency() HarnessOption {
	return func(c *config.Config) { c.Idempotency.Enabled = false }
}

// NewTestHarness starts a board server. Everything it starts is stopped
// when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()
	h := &TestHarness{t: t, Catalog: newMockCatalog(t), issuer: newTokenIssuer(t)}

	cfg := config.Defaults()
	cfg.Identity.Issuer = h.issuer.Issuer()
	cfg.Identity.Audience = h.issuer.Audience()
	cfg.Identity.JWKSURL = h.issuer.JWKSURL()
	cfg.Definitions.Directories = []string{filepath.Join(testdataDir(), "boards")}
	cfg.Catalog.BaseURL = h.Catalog.URL()
	cfg.Catalog.Timeout = 2 * time.Second
	cfg.Catalog.Retry.BackoffInitial = time.Millisecond
	cfg.Catalog.Retry.BackoffMax = 5 * time.Millisecond
	cfg.Capability.StaticPolicyFile = filepath.Join(testdataDir(), "policies.yaml")
	cfg.Capability.Cache.TTL = 0
	cfg.Server.CORS.AllowedOrigins = []string{"http://localhost:3000"}
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("harness config: %v", err)
	}
	h.cfg = cfg

	h.Metrics = prometheus.NewRegistry()
	metrics := observability.InitMetrics(h.Metrics)

	index := openapi.NewIndex()
	if err := catalog.LoadContract(index, cfg.Catalog); err != nil {
		t.Fatalf("load catalog contract: %v", err)
	}
	client, err := catalog.New(cfg.Catalog, index, catalog.Options{Metrics: metrics})
	if err != nil {
		t.Fatalf("catalog client: %v", err)
	}
	h.Client = client

	defs, err := definition.LoadAndValidate(cfg.Definitions.Directories)
	if err != nil {
		t.Fatalf("load definitions: %v", err)
	}
	h.Registry = definition.NewRegistry(defs)

	evaluator, err := capability.NewStaticPolicyEvaluator(cfg.Capability.StaticPolicyFile)
	if err != nil {
		t.Fatalf("load policy file: %v", err)
	}
	resolver := capability.NewResolver(evaluator, cfg.Capability.Cache.TTL, cfg.Capability.Cache.MaxEntries, metrics)

	store, err := journal.Open(context.Background(), cfg.Journal, zap.NewNop())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	h.Journal = journal.Instrument(store, metrics)

	idem, closeIdem, err := idempotency.Open(cfg.Idempotency, zap.NewNop())
	if err != nil {
		t.Fatalf("open idempotency store: %v", err)
	}
	t.Cleanup(func() { closeIdem() })

	h.Sessions = session.NewManager(h.Registry, client, session.Options{
		Engine: board.Options{
			PageSize:         cfg.Board.PageSize,
			FetchConcurrency: cfg.Board.FetchConcurrency,
			Journal:          h.Journal,
			Metrics:          metrics,
			Capabilities:     resolver,
		},
		AutoScroll: board.AutoScroll{
			EdgeThreshold: cfg.Board.AutoScroll.EdgeThreshold,
			MaxStep:       cfg.Board.AutoScroll.MaxStep,
			Interval:      cfg.Board.AutoScroll.Interval,
		},
		ColumnWidth:   cfg.Board.ColumnWidth,
		IdleTTL:       cfg.Sessions.IdleTTL,
		SweepInterval: cfg.Sessions.SweepInterval,
		NoticeBuffer:  cfg.Sessions.NoticeBuffer,
		MaxPerSubject: cfg.Sessions.MaxPerSubject,
		Metrics:       metrics,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.Sessions.Shutdown(ctx)
	})

	jwks := transport.NewJWKSClient(cfg.Identity.JWKSURL, cfg.Identity.JWKSCacheTTL, nil)
	readiness := observability.ReadinessChecks{
		DefinitionsLoaded: func() bool { return h.Registry.Len() > 0 },
		CatalogIndexed:    index.Loaded,
		Catalog:           client,
		Journal:           store,
	}
	if idem != nil {
		readiness.IdempotencyStore = idem
	}
	router := transport.NewRouter(transport.Dependencies{
		Config:             cfg,
		Authenticate:       transport.JWTAuthenticator(cfg.Identity, jwks),
		CapabilityResolver: resolver,
		Sessions:           h.Sessions,
		Definitions:        h.Registry,
		Journal:            h.Journal,
		Idempotency:        idem,
		Metrics:            metrics,
		MetricsHandler:     observability.HandlerFor(h.Metrics),
		Readiness:          readiness,
	})

	h.server = httptest.NewServer(router)
	t.Cleanup(h.server.Close)
	return h
}

// GenerateToken signs a valid token for claims.
func (h *TestHarness) GenerateToken(claims TestClaims) string {
	return h.issuer.GenerateToken(claims)
}

// GenerateExpiredToken signs an expired token for claims.
func (h *TestHarness) GenerateExpiredToken(claims TestClaims) string {
	return h.issuer.GenerateExpiredToken(claims)
}

// Do sends a request with an optional bearer token and JSON body.
func (h *TestHarness) Do(method, path, token string, body any, headers ...string) *http.Response {
	h.t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, h.server.URL+path, reader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// JSON sends a request and decodes the response into out when out is not
// nil. It returns the status code.
func (h *TestHarness) JSON(method, path, token string, body, out any, headers ...string) int {
	h.t.Helper()
	resp := h.Do(method, path, token, body, headers...)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			h.t.Fatalf("decode response: %v\nbody: %s", err, data)
		}
	}
	return resp.StatusCode
}

// OpenBoard opens a session on boardID and fails the test unless it is
// created.
func (h *TestHarness) OpenBoard(token, boardID string) model.BoardView {
	h.t.Helper()
	var view model.BoardView
	if code := h.JSON("POST", "/ui/boards/"+boardID+"/sessions", token, map[string]any{}, &view); code != http.StatusCreated {
		h.t.Fatalf("open %s: status %d", boardID, code)
	}
	return view
}

// WaitMove polls a move until it resolves.
func (h *TestHarness) WaitMove(token, sessionID, moveID string) model.MoveOperation {
	h.t.Helper()
	var last model.MoveView
	eventually(h.t, func() bool {
		last = model.MoveView{}
		code := h.JSON("GET", "/ui/sessions/"+sessionID+"/moves/"+moveID, token, nil, &last)
		return code == http.StatusOK && last.Move.Resolved()
	})
	return last.Move
}

// eventually polls cond for up to five seconds.
func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met within 5s")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// --- Claims ---

const tenant = "museum-1"

// CuratorClaims are the claims of a user with the default capabilities.
func CuratorClaims() TestClaims {
	return TestClaims{SubjectID: "user-curator", TenantID: tenant, Email: "curator@museum.test"}
}

// RegistrarClaims are the claims of a user who may publish.
func RegistrarClaims() TestClaims {
	return TestClaims{SubjectID: "user-registrar", TenantID: tenant, Email: "registrar@museum.test", Roles: []string{"registrar"}}
}

func testdataDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "testdata")
}

// --- Response shapes ---

type errorResponse struct {
	Error model.ErrorEnvelope `json:"error"`
}

type noticesResponse struct {
	Notices []model.Notice `json:"notices"`
}

type boardsResponse struct {
	Boards []model.BoardSummary `json:"boards"`
}

type journalResponse struct {
	EntryID string             `json:"entry_id"`
	Moves   []model.MoveRecord `json:"moves"`
}

func column(v model.BoardView, key string) model.ColumnView {
	for _, c := range v.Columns {
		if c.Key == key {
			return c
		}
	}
	return model.ColumnView{}
}

func entryIDs(c model.ColumnView) []string {
	ids := make([]string, 0, len(c.Entries))
	for _, e := range c.Entries {
		ids = append(ids, e.ID)
	}
	return ids
}
