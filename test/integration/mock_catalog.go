package integration

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// Catalog operation ids served by MockCatalog.
const (
	OpListEntries = "listCatalogEntries"
	OpTransition  = "transitionCatalogEntry"
	OpDeleteEntry = "deleteCatalogEntry"
)

// MockCatalog is an in-memory catalog service. Entries move between
// statuses as transitions arrive; any operation can be overridden with
// scripted responses, and every request is recorded.
type MockCatalog struct {
	t      *testing.T
	server *httptest.Server

	mu        sync.Mutex
	entries   []*mockEntry
	overrides map[string]*scripted
	received  map[string][]*RecordedRequest
}

type mockEntry struct {
	ID      string           `json:"id"`
	Title   string           `json:"title,omitempty"`
	History []map[string]any `json:"history"`
}

func (e *mockEntry) status() string {
	if len(e.History) == 0 {
		return ""
	}
	s, _ := e.History[0]["status"].(string)
	return s
}

// RecordedRequest captures one request received by the mock.
type RecordedRequest struct {
	Method     string
	Path       string
	Query      map[string]string
	Headers    http.Header
	Body       map[string]any
	ReceivedAt time.Time
}

type scripted struct {
	responses []mockResponse
	current   int
}

type mockResponse struct {
	status    int
	body      any
	delay     time.Duration
	connError bool
}

// OperationMock scripts the responses of one operation.
type OperationMock struct {
	catalog *MockCatalog
	opID    string
}

func newMockCatalog(t *testing.T) *MockCatalog {
	t.Helper()
	mc := &MockCatalog{
		t:         t,
		overrides: make(map[string]*scripted),
		received:  make(map[string][]*RecordedRequest),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /entries", mc.handle(OpListEntries, mc.list))
	mux.HandleFunc("POST /entries/{entryId}/transitions", mc.handle(OpTransition, mc.transition))
	mux.HandleFunc("DELETE /entries/{entryId}", mc.handle(OpDeleteEntry, mc.remove))
	mc.server = httptest.NewServer(mux)
	t.Cleanup(mc.server.Close)
	return mc
}

// URL returns the base URL of the mock.
func (mc *MockCatalog) URL() string {
	return mc.server.URL
}

// Seed adds an entry currently in status.
func (mc *MockCatalog) Seed(id, title, status string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.entries = append(mc.entries, &mockEntry{
		ID:    id,
		Title: title,
		History: []map[string]any{{
			"id":        id + "-h0",
			"status":    status,
			"author":    "seed",
			"timestamp": "2026-01-15T10:30:00Z",
		}},
	})
}

// Status returns the current status of an entry, or "" when it is unknown.
func (mc *MockCatalog) Status(id string) string {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if e := mc.findLocked(id); e != nil {
		return e.status()
	}
	return ""
}

// LastDetail returns the detail of the entry's newest history item.
func (mc *MockCatalog) LastDetail(id string) map[string]any {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	e := mc.findLocked(id)
	if e == nil {
		return nil
	}
	d, _ := e.History[0]["detail"].(map[string]any)
	return d
}

func (mc *MockCatalog) findLocked(id string) *mockEntry {
	for _, e := range mc.entries {
		if e.ID == id {
			return e
		}
	}
	return nil
}

// OnOperation returns a builder scripting the named operation.
func (mc *MockCatalog) OnOperation(operationID string) *OperationMock {
	return &OperationMock{catalog: mc, opID: operationID}
}

// RespondWith scripts a response. Once the script is exhausted its last
// response repeats.
func (om *OperationMock) RespondWith(status int, body any) *OperationMock {
	om.catalog.addResponse(om.opID, mockResponse{status: status, body: body})
	return om
}

// RespondWithDelay scripts a slow response.
func (om *OperationMock) RespondWithDelay(delay time.Duration, status int, body any) *OperationMock {
	om.catalog.addResponse(om.opID, mockResponse{status: status, body: body, delay: delay})
	return om
}

// RespondWithConnectionError scripts a dropped connection.
func (om *OperationMock) RespondWithConnectionError() *OperationMock {
	om.catalog.addResponse(om.opID, mockResponse{connError: true})
	return om
}

// Reset removes the script so the operation is served from state again.
func (om *OperationMock) Reset() {
	om.catalog.mu.Lock()
	defer om.catalog.mu.Unlock()
	delete(om.catalog.overrides, om.opID)
}

func (mc *MockCatalog) addResponse(opID string, resp mockResponse) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	s, ok := mc.overrides[opID]
	if !ok {
		s = &scripted{}
		mc.overrides[opID] = s
	}
	s.responses = append(s.responses, resp)
}

func (mc *MockCatalog) nextScripted(opID string) (mockResponse, bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	s, ok := mc.overrides[opID]
	if !ok || len(s.responses) == 0 {
		return mockResponse{}, false
	}
	idx := s.current
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	} else {
		s.current++
	}
	return s.responses[idx], true
}

// handle records the request, then serves a scripted response or falls
// through to the stateful handler.
func (mc *MockCatalog) handle(opID string, serve func(w http.ResponseWriter, r *http.Request, body map[string]any)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &RecordedRequest{
			Method:     r.Method,
			Path:       r.URL.Path,
			Query:      make(map[string]string),
			Headers:    r.Header.Clone(),
			ReceivedAt: time.Now(),
		}
		for key, values := range r.URL.Query() {
			rec.Query[key] = values[0]
		}
		if raw, _ := io.ReadAll(r.Body); len(raw) > 0 {
			_ = json.Unmarshal(raw, &rec.Body)
		}
		mc.mu.Lock()
		mc.received[opID] = append(mc.received[opID], rec)
		mc.mu.Unlock()

		resp, ok := mc.nextScripted(opID)
		if !ok {
			serve(w, r, rec.Body)
			return
		}
		if resp.connError {
			if hj, ok := w.(http.Hijacker); ok {
				if conn, _, _ := hj.Hijack(); conn != nil {
					conn.Close()
				}
			}
			return
		}
		if resp.delay > 0 {
			select {
			case <-time.After(resp.delay):
			case <-r.Context().Done():
				return
			}
		}
		writeMockJSON(w, resp.status, resp.body)
	}
}

func (mc *MockCatalog) list(w http.ResponseWriter, r *http.Request, _ map[string]any) {
	q := r.URL.Query()
	status, text := q.Get("status"), strings.ToLower(q.Get("q"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	limit, err := strconv.Atoi(q.Get("limit"))
	if err != nil || limit <= 0 {
		limit = 50
	}

	mc.mu.Lock()
	var matched []mockEntry
	for _, e := range mc.entries {
		if status != "" && e.status() != status {
			continue
		}
		if text != "" && !strings.Contains(strings.ToLower(e.Title), text) {
			continue
		}
		matched = append(matched, *e)
	}
	mc.mu.Unlock()

	items := []mockEntry{}
	if offset < len(matched) {
		items = matched[offset:min(offset+limit, len(matched))]
	}
	writeMockJSON(w, http.StatusOK, map[string]any{"items": items, "total": len(matched)})
}

func (mc *MockCatalog) transition(w http.ResponseWriter, r *http.Request, body map[string]any) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	e := mc.findLocked(r.PathValue("entryId"))
	if e == nil {
		writeMockJSON(w, http.StatusNotFound, map[string]any{"message": "entry not found"})
		return
	}
	status, _ := body["new_status"].(string)
	item := map[string]any{
		"id":        fmt.Sprintf("%s-h%d", e.ID, len(e.History)),
		"status":    status,
		"author":    "boardd",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"detail":    body["detail"],
	}
	e.History = append([]map[string]any{item}, e.History...)
	w.WriteHeader(http.StatusNoContent)
}

func (mc *MockCatalog) remove(w http.ResponseWriter, r *http.Request, _ map[string]any) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	id := r.PathValue("entryId")
	for i, e := range mc.entries {
		if e.ID == id {
			mc.entries = append(mc.entries[:i], mc.entries[i+1:]...)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	writeMockJSON(w, http.StatusNotFound, map[string]any{"message": "entry not found"})
}

func writeMockJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

// Requests returns the requests received for an operation.
func (mc *MockCatalog) Requests(operationID string) []*RecordedRequest {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return append([]*RecordedRequest(nil), mc.received[operationID]...)
}

// AssertCalled verifies the number of calls an operation received.
func (mc *MockCatalog) AssertCalled(t *testing.T, operationID string, want int) {
	t.Helper()
	if got := len(mc.Requests(operationID)); got != want {
		t.Errorf("catalog operation %q called %d times, want %d", operationID, got, want)
	}
}
