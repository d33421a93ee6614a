package session

import (
	"context"
	"sync"
	"time"

	"github.com/pitabwire/catalogboard/model"
)

type fakeCatalog struct {
	mu      sync.Mutex
	entries map[string][]model.CatalogEntry
	gate    chan struct{}
	submits int
}

func (f *fakeCatalog) ListEntries(_ context.Context, q model.EntryQuery) (model.EntryPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := f.entries[q.Status]
	total := len(all)
	return model.EntryPage{Entries: model.CloneEntries(all), Total: &total}, nil
}

func (f *fakeCatalog) SubmitTransition(context.Context, model.TransitionRequest) error {
	f.mu.Lock()
	f.submits++
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return nil
}

func (f *fakeCatalog) DeleteEntry(context.Context, string) error { return nil }

type definitions map[string]*model.BoardDefinition

func (d definitions) Get(id string) (*model.BoardDefinition, bool) {
	def, ok := d[id]
	return def, ok
}

type staticCaps model.CapabilitySet

func (s staticCaps) Resolve(*model.RequestContext) (model.CapabilitySet, error) {
	return model.CapabilitySet(s), nil
}

func (staticCaps) Invalidate(string, string) {}

type sessionMetrics struct {
	mu      sync.Mutex
	active  int
	expired int
	dropped int
}

func (m *sessionMetrics) SetSessionsActive(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = n
}

func (m *sessionMetrics) RecordSessionExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expired++
}

func (m *sessionMetrics) RecordNoticeDropped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped++
}

var testNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func entry(id, status string) model.CatalogEntry {
	return model.CatalogEntry{
		ID:    id,
		Title: "Entry " + id,
		History: []model.WorkflowHistoryItem{
			{ID: "h-" + id, Status: status, Author: "importer", Timestamp: testNow.Add(-time.Hour)},
		},
	}
}

func intakeDefinition() *model.BoardDefinition {
	return &model.BoardDefinition{
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

func userCtx(subject string) context.Context {
	return model.WithRequestContext(context.Background(), &model.RequestContext{
		SubjectID: subject,
		TenantID:  "tenant-1",
		Roles:     []string{"curator"},
		Token:     "token-" + subject,
	})
}
