package board

import (
	"context"
	"sync"
	"time"

	"github.com/pitabwire/catalogboard/model"
)

type fakeCatalog struct {
	mu        sync.Mutex
	entries   map[string][]model.CatalogEntry
	totals    map[string]int
	listErr   map[string]error
	listFn    func(q model.EntryQuery) (model.EntryPage, error)
	queries   []model.EntryQuery
	submits   []model.TransitionRequest
	submitErr error
	gate      chan struct{}
	// gates and rejects hold or fail the commit of one entry.
	gates     map[string]chan struct{}
	rejects   map[string]error
	deletes   []string
	deleteErr error
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		entries: map[string][]model.CatalogEntry{},
		totals:  map[string]int{},
		listErr: map[string]error{},
		gates:   map[string]chan struct{}{},
		rejects: map[string]error{},
	}
}

func (f *fakeCatalog) ListEntries(_ context.Context, q model.EntryQuery) (model.EntryPage, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	fn := f.listFn
	err := f.listErr[q.Status]
	all := f.entries[q.Status]
	total, hasTotal := f.totals[q.Status]
	f.mu.Unlock()

	if fn != nil {
		return fn(q)
	}
	if err != nil {
		return model.EntryPage{}, err
	}
	start := min(q.Offset, len(all))
	end := min(start+q.Limit, len(all))
	page := model.EntryPage{Entries: model.CloneEntries(all[start:end])}
	if hasTotal {
		page.Total = &total
	}
	return page, nil
}

func (f *fakeCatalog) SubmitTransition(_ context.Context, req model.TransitionRequest) error {
	f.mu.Lock()
	f.submits = append(f.submits, req)
	gate, err := f.gate, f.submitErr
	entryGate := f.gates[req.EntryID]
	if rej, ok := f.rejects[req.EntryID]; ok {
		err = rej
	}
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if entryGate != nil {
		<-entryGate
	}
	return err
}

func (f *fakeCatalog) DeleteEntry(_ context.Context, entryID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, entryID)
	return f.deleteErr
}

func (f *fakeCatalog) submitted() []model.TransitionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.TransitionRequest(nil), f.submits...)
}

func (f *fakeCatalog) queriesFor(status string) []model.EntryQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.EntryQuery
	for _, q := range f.queries {
		if q.Status == status {
			out = append(out, q)
		}
	}
	return out
}

// reject makes the commit of entryID fail with err.
func (f *fakeCatalog) reject(entryID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejects[entryID] = err
}

// hold makes the commit of entryID wait until the returned channel is
// closed, then fail with err when err is non-nil.
func (f *fakeCatalog) hold(entryID string, err error) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	gate := make(chan struct{})
	f.gates[entryID] = gate
	if err != nil {
		f.rejects[entryID] = err
	}
	return gate
}

func (f *fakeCatalog) set(status string, total int, entries ...model.CatalogEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[status] = entries
	f.totals[status] = total
}

type noticeSink struct {
	mu      sync.Mutex
	notices []model.Notice
}

func (s *noticeSink) Notify(n model.Notice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notices = append(s.notices, n)
}

func (s *noticeSink) all() []model.Notice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Notice(nil), s.notices...)
}

type memJournal struct {
	mu      sync.Mutex
	records []model.MoveRecord
}

func (j *memJournal) Record(_ context.Context, rec model.MoveRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, rec)
	return nil
}

func (j *memJournal) statuses() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, len(j.records))
	for i, r := range j.records {
		out[i] = r.Status
	}
	return out
}

type staticCaps model.CapabilitySet

func (s staticCaps) Resolve(*model.RequestContext) (model.CapabilitySet, error) {
	return model.CapabilitySet(s), nil
}

func (staticCaps) Invalidate(string, string) {}

var testNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func entry(id, status string) model.CatalogEntry {
	return model.CatalogEntry{
		ID:    id,
		Title: "Entry " + id,
		History: []model.WorkflowHistoryItem{
			{ID: "h-" + id, Status: status, Author: "importer", Timestamp: testNow.Add(-time.Hour)},
		},
	}
}

func ids(entries []model.CatalogEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

func testDefinition() *model.BoardDefinition {
	return &model.BoardDefinition{
		ID:       "assets",
		Title:    "Asset workflow",
		PageSize: 20,
		Columns: []model.ColumnDefinition{
			{Key: "A", Name: "Review"},
			{Key: "B", Name: "Published"},
			{Key: "C", Name: "Disposed", Rule: model.TransitionRule{
				JustificationRequired: true,
				ExtraFields: []model.FieldSpec{
					{Name: "lot", Label: "Lot number", Kind: model.FieldKindNumber},
				},
			}},
		},
		Presets: []model.JustificationPreset{
			{ID: "damaged", Label: "Damaged", Text: "{{.EntryTitle}} is damaged beyond repair, moving to {{.To}}"},
		},
	}
}

type testEnv struct {
	catalog *fakeCatalog
	notices *noticeSink
	journal *memJournal
	engine  *Engine
}

func newTestEnv(def *model.BoardDefinition, opts Options) *testEnv {
	env := &testEnv{
		catalog: newFakeCatalog(),
		notices: &noticeSink{},
		journal: &memJournal{},
	}
	opts.Notifier = env.notices
	opts.Journal = env.journal
	if opts.Now == nil {
		opts.Now = func() time.Time { return testNow }
	}
	e, err := NewEngine(def, env.catalog, opts)
	if err != nil {
		panic(err)
	}
	env.engine = e
	return env
}

func testCtx() context.Context {
	return model.WithRequestContext(context.Background(), &model.RequestContext{
		SubjectID: "user-1",
		TenantID:  "tenant-1",
		Email:     "curator@example.com",
		Roles:     []string{"curator"},
		Token:     "token-1",
	})
}
