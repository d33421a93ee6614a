package board

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pitabwire/catalogboard/model"
)

// DefaultFetchConcurrency bounds concurrent column reads of one engine.
const DefaultFetchConcurrency = 4

// Catalog is the remote authority the engine reads entries from and submits
// transitions to.
type Catalog interface {
	ListEntries(ctx context.Context, q model.EntryQuery) (model.EntryPage, error)
	SubmitTransition(ctx context.Context, req model.TransitionRequest) error
	DeleteEntry(ctx context.Context, entryID string) error
}

// Notifier receives transient user-facing notices.
type Notifier interface {
	Notify(n model.Notice)
}

// Journal records move status changes.
type Journal interface {
	Record(ctx context.Context, rec model.MoveRecord) error
}

// Recorder receives engine metrics.
type Recorder interface {
	RecordMove(boardID, outcome string)
	RecordCommit(boardID, outcome string, d time.Duration)
	AddPendingMoves(boardID string, delta float64)
	RecordColumnFetch(boardID, outcome string)
}

// Options configures an Engine. Zero values select defaults.
type Options struct {
	PageSize         int
	FetchConcurrency int
	Logger           *zap.Logger
	Notifier         Notifier
	Journal          Journal
	Metrics          Recorder
	// Capabilities gates destinations whose rule lists capabilities. Nil
	// disables the check.
	Capabilities model.CapabilityResolver
	Now          func() time.Time
	NewID        func() string
}

// Engine owns the board of one definition for one set of filters. All
// mutation is serialized by mu and published as a new State; View never
// blocks.
type Engine struct {
	def         *model.BoardDefinition
	columns     []model.ColumnDefinition
	rules       RuleSet
	presets     *Presets
	catalog     Catalog
	pageSize    int
	concurrency int

	logger   *zap.Logger
	notifier Notifier
	journal  Journal
	metrics  Recorder
	caps     model.CapabilityResolver
	now      func() time.Time
	newID    func() string

	mu       sync.Mutex
	state    atomic.Pointer[State]
	moves    map[string]*move
	retired  []string
	inflight sync.WaitGroup
}

// maxRetired bounds how many resolved moves stay queryable.
const maxRetired = 256

// NewEngine creates an engine for def backed by catalog. The board starts
// empty; call Load to fetch the first page of every column.
func NewEngine(def *model.BoardDefinition, catalog Catalog, opts Options) (*Engine, error) {
	presets, err := CompilePresets(def.Presets)
	if err != nil {
		return nil, fmt.Errorf("board %s: %w", def.ID, err)
	}

	pageSize := def.PageSize
	if pageSize <= 0 {
		pageSize = opts.PageSize
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	concurrency := opts.FetchConcurrency
	if concurrency <= 0 {
		concurrency = DefaultFetchConcurrency
	}

	e := &Engine{
		def:         def,
		columns:     def.Columns,
		rules:       NewRuleSet(def.Columns),
		presets:     presets,
		catalog:     catalog,
		pageSize:    pageSize,
		concurrency: concurrency,
		logger:      opts.Logger,
		notifier:    opts.Notifier,
		journal:     opts.Journal,
		metrics:     opts.Metrics,
		caps:        opts.Capabilities,
		now:         opts.Now,
		newID:       opts.NewID,
		moves:       make(map[string]*move),
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.notifier == nil {
		e.notifier = nopNotifier{}
	}
	if e.journal == nil {
		e.journal = nopJournal{}
	}
	if e.metrics == nil {
		e.metrics = nopRecorder{}
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}
	if e.newID == nil {
		e.newID = uuid.NewString
	}
	e.logger = e.logger.With(zap.String("board_id", def.ID))

	pagers := make(map[string]Pager, len(def.Columns))
	for _, c := range def.Columns {
		pagers[c.Key] = NewPager(pageSize)
	}
	counts := NewLedger(nil)
	e.state.Store(&State{
		Board:   decorate(Partition(nil, def.Columns), counts, pagers),
		Counts:  counts,
		Pagers:  pagers,
		Pending: map[string]model.MoveOperation{},
	})
	return e, nil
}

// Definition returns the board definition the engine was created with.
func (e *Engine) Definition() *model.BoardDefinition {
	return e.def
}

// Rules returns the transition rules of the board.
func (e *Engine) Rules() RuleSet {
	return e.rules
}

// View returns the current state.
func (e *Engine) View() *State {
	return e.state.Load()
}

// publish stores next as the new current state. Callers hold mu.
func (e *Engine) publish(next *State) *State {
	next.Revision = e.state.Load().Revision + 1
	e.state.Store(next)
	return next
}

// Load fetches the first page of every column with the current filters.
func (e *Engine) Load(ctx context.Context) error {
	return e.SetFilters(ctx, e.View().Filters)
}

type fetchResult struct {
	page model.EntryPage
	err  error
}

// SetFilters replaces the filters and reloads every column from scratch.
// Columns that fail to load keep their previously loaded entries and raise a
// FETCH_FAILURE notice. Results superseded by a newer SetFilters call are
// discarded.
func (e *Engine) SetFilters(ctx context.Context, filters model.EntryFilters) error {
	e.mu.Lock()
	cur := e.state.Load()
	next := cur.clone()
	next.Filters = filters.Clone()
	next.FilterGen = cur.FilterGen + 1
	for k, p := range next.Pagers {
		p.Loading = true
		next.Pagers[k] = p
	}
	next.Board = decorate(cur.Board, next.Counts, next.Pagers)
	gen := next.FilterGen
	keys := cur.Board.Order
	e.publish(next)
	e.mu.Unlock()

	results := e.fetchColumns(ctx, next.Filters, keys)

	e.mu.Lock()
	cur = e.state.Load()
	if cur.FilterGen != gen {
		e.mu.Unlock()
		e.logger.Debug("discarding superseded column load", zap.Uint64("generation", gen))
		return nil
	}
	next = cur.clone()
	counts := cur.Counts
	var fresh []model.CatalogEntry
	var failed []string
	for _, key := range cur.Board.Order {
		res := results[key]
		if res.err != nil {
			failed = append(failed, key)
			fresh = append(fresh, cur.Board.Columns[key].Entries...)
			p := next.Pagers[key]
			p.Loading = false
			next.Pagers[key] = p
			continue
		}
		fresh = append(fresh, res.page.Entries...)
		baseline := len(res.page.Entries)
		if res.page.Total != nil {
			baseline = *res.page.Total
		}
		counts = e.rebaseLocked(counts, key, baseline)
		next.Pagers[key] = next.Pagers[key].Replaced(res.page)
	}
	fresh, _ = MergeByID(nil, fresh)

	// Unresolved moves stay applied on top of the reloaded data.
	var heads []model.CatalogEntry
	for _, mv := range e.unresolvedLocked() {
		if before, after, ok := neighbours(fresh, mv.op.From, mv.op.EntryID); ok {
			mv.before, mv.after = before, after
		}
		fresh = without(fresh, mv.op.EntryID)
		heads = append(heads, mv.updated)
	}
	entries := append(heads, fresh...)

	next.Entries = entries
	next.Counts = counts
	next.Board = decorate(Partition(entries, e.columns), counts, next.Pagers)
	e.publish(next)
	e.mu.Unlock()

	for _, key := range cur.Board.Order {
		outcome := "ok"
		if err := results[key].err; err != nil {
			outcome = "error"
			e.logger.Warn("column load failed", zap.String("column", key), zap.Error(err))
		}
		e.metrics.RecordColumnFetch(e.def.ID, outcome)
	}
	for _, key := range failed {
		e.notifyFetchFailure(key, results[key].err)
	}
	return nil
}

func (e *Engine) fetchColumns(ctx context.Context, filters model.EntryFilters, keys []string) map[string]fetchResult {
	var (
		mu  sync.Mutex
		out = make(map[string]fetchResult, len(keys))
		g   errgroup.Group
	)
	g.SetLimit(e.concurrency)
	for _, key := range keys {
		g.Go(func() error {
			page, err := e.list(ctx, model.EntryQuery{
				Status:  key,
				Filters: filters,
				Offset:  0,
				Limit:   e.pageSize,
			})
			mu.Lock()
			out[key] = fetchResult{page: page, err: err}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// list calls the catalog and converts a panic into an error.
func (e *Engine) list(ctx context.Context, q model.EntryQuery) (page model.EntryPage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("list entries: panic: %v", r)
		}
	}()
	return e.catalog.ListEntries(ctx, q)
}

// ShowMore reveals the next page of a column. Loaded but hidden entries are
// revealed first; otherwise the next page is fetched with the current
// filters at the column's catalog offset and merged by id.
func (e *Engine) ShowMore(ctx context.Context, key string) error {
	e.mu.Lock()
	cur := e.state.Load()
	col, ok := cur.Board.Columns[key]
	if !ok {
		e.mu.Unlock()
		return model.NewNotFoundError(fmt.Sprintf("column %q not found", key))
	}
	p := cur.Pagers[key]
	loaded := len(col.Entries)

	if !p.NeedsFetch(loaded) {
		next := cur.clone()
		next.Pagers[key] = p.Reveal(loaded)
		next.Board = decorate(cur.Board, cur.Counts, next.Pagers)
		e.publish(next)
		e.mu.Unlock()
		return nil
	}
	if p.Loading || !p.HasMore(loaded, cur.Counts.Count(key)) {
		e.mu.Unlock()
		return nil
	}

	next := cur.clone()
	p.Loading = true
	next.Pagers[key] = p
	e.publish(next)
	gen, filters := cur.FilterGen, cur.Filters
	offset := e.catalogOffsetLocked(key, loaded)
	e.mu.Unlock()

	page, err := e.list(ctx, model.EntryQuery{
		Status:  key,
		Filters: filters,
		Offset:  offset,
		Limit:   p.PageSize,
	})

	e.mu.Lock()
	cur = e.state.Load()
	if cur.FilterGen != gen {
		e.mu.Unlock()
		return nil
	}
	next = cur.clone()
	if err != nil {
		p := next.Pagers[key]
		p.Loading = false
		next.Pagers[key] = p
		next.Board = decorate(cur.Board, cur.Counts, next.Pagers)
		e.publish(next)
		e.mu.Unlock()

		e.metrics.RecordColumnFetch(e.def.ID, "error")
		e.logger.Warn("show more failed", zap.String("column", key), zap.Error(err))
		e.notifyFetchFailure(key, err)
		return model.NewFetchFailureError(fmt.Sprintf("loading more entries for %q failed", key))
	}

	entries, added := MergeByID(cur.Entries, page.Entries)
	board := Partition(entries, e.columns)
	loadedNow := len(board.Columns[key].Entries)
	counts := cur.Counts
	if page.Total != nil {
		counts = e.rebaseLocked(counts, key, *page.Total)
	} else {
		counts = counts.Raise(key, loadedNow)
	}
	next.Entries = entries
	next.Counts = counts
	next.Pagers[key] = next.Pagers[key].Appended(page, loadedNow)
	next.Board = decorate(board, counts, next.Pagers)
	e.publish(next)
	e.mu.Unlock()

	e.metrics.RecordColumnFetch(e.def.ID, "ok")
	e.logger.Debug("show more merged",
		zap.String("column", key),
		zap.Int("received", len(page.Entries)),
		zap.Int("added", added),
	)
	return nil
}

// catalogOffsetLocked returns how many of a column's loaded entries the
// catalog lists under it. Entries moved in by unresolved moves are not yet
// there and entries moved out still are. Callers hold mu.
func (e *Engine) catalogOffsetLocked(key string, loaded int) int {
	n := loaded
	for _, mv := range e.moves {
		if mv.op.Resolved() {
			continue
		}
		if mv.op.To == key {
			n--
		}
		if mv.op.From == key {
			n++
		}
	}
	return max(n, 0)
}

// rebaseLocked sets a column's baseline from a catalog total and re-applies
// the unresolved moves touching the column, which the catalog does not
// reflect yet. Callers hold mu.
func (e *Engine) rebaseLocked(counts Ledger, key string, n int) Ledger {
	counts = counts.Set(key, n)
	for _, mv := range e.unresolvedLocked() {
		if !mv.applied {
			continue
		}
		var applied int
		if mv.op.From == key {
			counts, applied = counts.Adjust(key, -1)
			mv.delta.FromApplied = applied
		}
		if mv.op.To == key {
			counts, applied = counts.Adjust(key, 1)
			mv.delta.ToApplied = applied
		}
	}
	return counts
}

// ToggleExpanded flips a column between its paginated and full view and
// returns the new expansion.
func (e *Engine) ToggleExpanded(key string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cur := e.state.Load()
	if _, ok := cur.Board.Columns[key]; !ok {
		return false, model.NewNotFoundError(fmt.Sprintf("column %q not found", key))
	}
	next := cur.clone()
	p := next.Pagers[key]
	p.Expanded = !p.Expanded
	next.Pagers[key] = p
	next.Board = decorate(cur.Board, cur.Counts, next.Pagers)
	e.publish(next)
	return p.Expanded, nil
}

// CanMove reports whether an entry may be dragged: it must not have an
// unresolved move.
func (e *Engine) CanMove(entryID string) bool {
	return !e.View().HasPending(entryID)
}

// Delete removes an entry through the catalog and, on success, from the
// board. Entries with an unresolved move cannot be deleted.
func (e *Engine) Delete(ctx context.Context, entryID string) error {
	cur := e.View()
	if cur.HasPending(entryID) {
		return model.NewMovePendingError(entryID)
	}
	if _, _, ok := cur.Board.Locate(entryID); !ok {
		return model.NewNotFoundError(fmt.Sprintf("entry %q is not on the board", entryID))
	}

	if err := e.catalog.DeleteEntry(ctx, entryID); err != nil {
		e.logger.Warn("delete failed", zap.String("entry_id", entryID), zap.Error(err))
		e.notifier.Notify(model.Notice{
			Kind:      model.NoticeFailure,
			Code:      model.ErrRemoteRejection,
			Message:   fmt.Sprintf("Could not delete %s: %v", entryID, err),
			EntryID:   entryID,
			Timestamp: e.now(),
		})
		return fmt.Errorf("delete entry %s: %w", entryID, err)
	}

	e.mu.Lock()
	cur = e.state.Load()
	key, _, ok := cur.Board.Locate(entryID)
	if ok && !cur.HasPending(entryID) {
		next := cur.clone()
		next.Entries = without(cur.Entries, entryID)
		next.Counts, _ = cur.Counts.Adjust(key, -1)
		next.Board = decorate(Partition(next.Entries, e.columns), next.Counts, next.Pagers)
		e.publish(next)
	}
	e.mu.Unlock()

	e.notifier.Notify(model.Notice{
		Kind:      model.NoticeSuccess,
		Message:   fmt.Sprintf("Deleted %s", entryID),
		EntryID:   entryID,
		Column:    key,
		Timestamp: e.now(),
	})
	return nil
}

// Close cancels every move still awaiting confirmation. Commits already
// submitted keep running; Wait blocks until they resolve.
func (e *Engine) Close(ctx context.Context) {
	e.mu.Lock()
	var ids []string
	for id, mv := range e.moves {
		if mv.op.Status == model.MoveStatusAwaitingConfirmation {
			ids = append(ids, id)
		}
	}
	e.mu.Unlock()
	for _, id := range ids {
		if _, err := e.Cancel(ctx, id); err != nil {
			e.logger.Debug("cancel on close", zap.String("move_id", id), zap.Error(err))
		}
	}
}

// Wait blocks until every submitted commit has resolved.
func (e *Engine) Wait() {
	e.inflight.Wait()
}

func (e *Engine) columnName(key string) string {
	for _, c := range e.columns {
		if c.Key == key {
			if c.Name != "" {
				return c.Name
			}
			break
		}
	}
	return key
}

func (e *Engine) notifyFetchFailure(key string, err error) {
	e.notifier.Notify(model.Notice{
		Kind:      model.NoticeFailure,
		Code:      model.ErrFetchFailure,
		Message:   fmt.Sprintf("Could not load %s: %v", e.columnName(key), err),
		Column:    key,
		Timestamp: e.now(),
	})
}

type nopNotifier struct{}

func (nopNotifier) Notify(model.Notice) {}

type nopJournal struct{}

func (nopJournal) Record(context.Context, model.MoveRecord) error { return nil }

type nopRecorder struct{}

func (nopRecorder) RecordMove(string, string)                  {}
func (nopRecorder) RecordCommit(string, string, time.Duration) {}
func (nopRecorder) AddPendingMoves(string, float64)            {}
func (nopRecorder) RecordColumnFetch(string, string)           {}
