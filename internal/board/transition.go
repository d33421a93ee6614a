package board

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/pitabwire/catalogboard/internal/observability"
	"github.com/pitabwire/catalogboard/model"
)

// MoveRequest asks to relocate one entry from one column to another.
type MoveRequest struct {
	EntryID string `json:"entry_id"`
	From    string `json:"from"`
	To      string `json:"to"`
}

// move is the engine-side record of a MoveOperation.
type move struct {
	op       model.MoveOperation
	rule     model.TransitionRule
	tenantID string
	author   string

	// snapshot is the state before the optimistic edit and revision the
	// revision this move last published. Rollback restores snapshot verbatim
	// only while it is current: nothing else was published since Move and
	// the current revision still equals revision.
	snapshot Snapshot
	current  bool
	revision uint64

	// original is the entry as it was before the move and updated the entry
	// carrying the synthesized history item. before and after hold the ids
	// of the source column's neighbours, nearest first.
	original model.CatalogEntry
	before   []string
	after    []string
	updated  model.CatalogEntry

	delta   MoveDelta
	applied bool
}

// Move applies a move optimistically. The entry is relocated immediately;
// the remote commit runs in the background unless the destination requires
// a justification or extra fields, in which case the move waits for Confirm
// or Cancel with no remote call issued. A move whose entry is not among the
// source column's loaded entries is aborted without changing anything.
func (e *Engine) Move(ctx context.Context, req MoveRequest) (model.MoveOperation, error) {
	if req.From == req.To {
		return model.MoveOperation{}, model.NewBadRequestError("source and destination columns are the same")
	}
	rule := e.rules.Resolve(req.To)
	if err := e.checkCapabilities(ctx, req.To, rule); err != nil {
		return model.MoveOperation{}, err
	}
	rctx := model.RequestContextFrom(ctx)

	e.mu.Lock()
	cur := e.state.Load()
	if _, ok := cur.Board.Columns[req.To]; !ok {
		e.mu.Unlock()
		return model.MoveOperation{}, model.NewNotFoundError(fmt.Sprintf("column %q not found", req.To))
	}
	if cur.HasPending(req.EntryID) {
		e.mu.Unlock()
		return model.MoveOperation{}, model.NewMovePendingError(req.EntryID)
	}

	now := e.now()
	op := model.MoveOperation{
		ID:        e.newID(),
		BoardID:   e.def.ID,
		EntryID:   req.EntryID,
		From:      req.From,
		To:        req.To,
		Actor:     rctx.Actor(),
		CreatedAt: now,
	}

	src, ok := cur.Board.Columns[req.From]
	pos := -1
	if ok {
		pos = indexOf(src.Entries, req.EntryID)
	}
	if pos < 0 {
		e.mu.Unlock()
		op.Status = model.MoveStatusAborted
		op.Error = model.ErrNotFound
		op.ResolvedAt = &now
		e.metrics.RecordMove(e.def.ID, op.Status)
		e.record(ctx, tenantOf(rctx), op, nil)
		e.logger.Debug("move aborted, entry not loaded in source column",
			zap.String("entry_id", req.EntryID), zap.String("from", req.From))
		return op, nil
	}

	mv := &move{
		rule:     rule,
		tenantID: tenantOf(rctx),
		author:   rctx.Actor(),
		snapshot: takeSnapshot(cur),
		current:  true,
		original: src.Entries[pos],
	}
	mv.before, mv.after, _ = neighbours(src.Entries, req.From, req.EntryID)
	mv.updated = mv.original.WithHistoryItem(model.WorkflowHistoryItem{
		ID:        e.newID(),
		Status:    req.To,
		Detail:    map[string]any{},
		Author:    mv.author,
		Timestamp: now,
	})

	next := cur.clone()
	next.Entries = withHead(mv.updated, without(cur.Entries, req.EntryID))
	if rule.RequiresCapture() {
		op.Status = model.MoveStatusAwaitingConfirmation
	} else {
		op.Status = model.MoveStatusPending
		next.Counts, mv.delta = cur.Counts.Move(req.From, req.To)
		mv.applied = true
	}
	next.Board = decorate(Partition(next.Entries, e.columns), next.Counts, next.Pagers)
	next.Pending[req.EntryID] = op
	mv.op = op
	mv.revision = e.publish(next).Revision
	e.moves[op.ID] = mv
	e.mu.Unlock()

	e.metrics.AddPendingMoves(e.def.ID, 1)
	e.record(ctx, mv.tenantID, op, nil)
	e.logger.Info("move applied",
		zap.String("move_id", op.ID),
		zap.String("entry_id", op.EntryID),
		zap.String("from", op.From),
		zap.String("to", op.To),
		zap.String("status", op.Status),
	)

	if op.Status == model.MoveStatusPending {
		e.commit(ctx, mv, op, map[string]any{})
	}
	return op, nil
}

// Confirm completes a move awaiting confirmation. Invalid captures return a
// VALIDATION_ERROR and leave the move awaiting. On success the captured
// values are merged into the synthesized history item and the remote commit
// starts.
func (e *Engine) Confirm(ctx context.Context, moveID string, c model.Capture) (model.MoveOperation, error) {
	e.mu.Lock()
	mv, err := e.awaitingLocked(moveID)
	if err != nil {
		e.mu.Unlock()
		return model.MoveOperation{}, err
	}

	detail, fieldErrs := ResolveCapture(mv.rule, c, e.presets, e.presetData(mv))
	if len(fieldErrs) > 0 {
		e.mu.Unlock()
		return mv.op, model.NewValidationError(fieldErrs)
	}

	cur := e.state.Load()
	if cur.Revision != mv.revision {
		mv.current = false
		mv.snapshot = Snapshot{}
	}
	updated := mv.updated.Clone()
	updated.History[0].Detail = detail
	mv.updated = updated
	mv.op.Capture = c
	mv.op.Status = model.MoveStatusPending

	next := cur.clone()
	if i := indexOf(cur.Entries, mv.op.EntryID); i >= 0 {
		entries := slices.Clone(cur.Entries)
		entries[i] = updated
		next.Entries = entries
	}
	next.Counts, mv.delta = cur.Counts.Move(mv.op.From, mv.op.To)
	mv.applied = true
	next.Board = decorate(Partition(next.Entries, e.columns), next.Counts, next.Pagers)
	next.Pending[mv.op.EntryID] = mv.op
	mv.revision = e.publish(next).Revision
	op := mv.op
	e.mu.Unlock()

	e.record(ctx, mv.tenantID, op, detail)
	e.commit(ctx, mv, op, detail)
	return op, nil
}

// Cancel abandons a move awaiting confirmation and restores the board. No
// remote call is made.
func (e *Engine) Cancel(ctx context.Context, moveID string) (model.MoveOperation, error) {
	e.mu.Lock()
	mv, err := e.awaitingLocked(moveID)
	if err != nil {
		e.mu.Unlock()
		return model.MoveOperation{}, err
	}
	e.revertLocked(mv)
	now := e.now()
	mv.op.Status = model.MoveStatusCancelled
	mv.op.ResolvedAt = &now
	e.retireLocked(mv)
	op := mv.op
	e.mu.Unlock()

	e.metrics.AddPendingMoves(e.def.ID, -1)
	e.metrics.RecordMove(e.def.ID, op.Status)
	e.record(ctx, mv.tenantID, op, nil)
	e.logger.Info("move cancelled", zap.String("move_id", op.ID), zap.String("entry_id", op.EntryID))
	return op, nil
}

// Operation returns a move by id.
func (e *Engine) Operation(moveID string) (model.MoveOperation, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	mv, ok := e.moves[moveID]
	if !ok {
		return model.MoveOperation{}, false
	}
	return mv.op, true
}

// Confirmation describes the dialog of a move awaiting confirmation, with
// the board's presets rendered for that move.
func (e *Engine) Confirmation(moveID string) (model.ConfirmationView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	mv, err := e.awaitingLocked(moveID)
	if err != nil {
		return model.ConfirmationView{}, err
	}
	rule := mv.rule.Clone()
	return model.ConfirmationView{
		MoveID:                mv.op.ID,
		EntryID:               mv.op.EntryID,
		From:                  mv.op.From,
		To:                    mv.op.To,
		JustificationRequired: rule.JustificationRequired,
		Fields:                rule.ExtraFields,
		Presets:               e.presets.RenderAll(e.presetData(mv)),
	}, nil
}

func (e *Engine) awaitingLocked(moveID string) (*move, error) {
	mv, ok := e.moves[moveID]
	if !ok {
		return nil, model.NewNotFoundError(fmt.Sprintf("move %q not found", moveID))
	}
	if mv.op.Status != model.MoveStatusAwaitingConfirmation {
		return nil, model.NewConflictError(fmt.Sprintf("move %q is %s", moveID, mv.op.Status))
	}
	return mv, nil
}

func (e *Engine) presetData(mv *move) PresetData {
	return PresetData{
		EntryID:    mv.original.ID,
		EntryTitle: mv.original.Title,
		From:       e.columnName(mv.op.From),
		To:         e.columnName(mv.op.To),
		Author:     mv.author,
	}
}

func (e *Engine) checkCapabilities(ctx context.Context, dest string, rule model.TransitionRule) error {
	if e.caps == nil || len(rule.Capabilities) == 0 {
		return nil
	}
	rctx := model.RequestContextFrom(ctx)
	if rctx == nil {
		return model.NewForbiddenError(fmt.Sprintf("moving entries to %q requires capabilities", dest))
	}
	caps, err := e.caps.Resolve(rctx)
	if err != nil {
		return fmt.Errorf("resolve capabilities: %w", err)
	}
	if missing := caps.Missing(rule.Capabilities...); len(missing) > 0 {
		return model.NewForbiddenError(fmt.Sprintf("moving entries to %q requires %v", dest, missing))
	}
	return nil
}

// commit submits the transition in the background. The request context's
// values (credential, tenant) are kept but its cancellation is not: the
// commit outlives the request that triggered it.
func (e *Engine) commit(ctx context.Context, mv *move, op model.MoveOperation, detail map[string]any) {
	ctx = context.WithoutCancel(ctx)
	req := model.TransitionRequest{EntryID: op.EntryID, NewStatus: op.To, Detail: detail}

	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()

		ctx, span := observability.StartSpan(ctx, "board.commit",
			observability.AttrBoardID.String(e.def.ID),
			observability.AttrMoveID.String(op.ID),
			attribute.String("board.to", op.To),
		)
		start := time.Now()
		err := e.submit(ctx, req)
		observability.EndSpanWithError(span, err)
		e.resolve(ctx, mv, detail, err, time.Since(start))
	}()
}

// submit calls the catalog and converts a panic into an error.
func (e *Engine) submit(ctx context.Context, req model.TransitionRequest) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("submit transition: panic: %v", r)
		}
	}()
	return e.catalog.SubmitTransition(ctx, req)
}

func (e *Engine) resolve(ctx context.Context, mv *move, detail map[string]any, err error, took time.Duration) {
	e.mu.Lock()
	now := e.now()
	if err == nil {
		cur := e.state.Load()
		next := cur.clone()
		delete(next.Pending, mv.op.EntryID)
		e.publish(next)
		mv.op.Status = model.MoveStatusCommitted
	} else {
		e.revertLocked(mv)
		mv.op.Status = model.MoveStatusRolledBack
		mv.op.Error = err.Error()
	}
	mv.op.ResolvedAt = &now
	e.retireLocked(mv)
	op := mv.op
	e.mu.Unlock()

	e.metrics.AddPendingMoves(e.def.ID, -1)
	e.metrics.RecordMove(e.def.ID, op.Status)
	e.metrics.RecordCommit(e.def.ID, op.Status, took)
	e.record(ctx, mv.tenantID, op, detail)

	title := mv.original.Title
	if title == "" {
		title = op.EntryID
	}
	if err == nil {
		e.logger.Info("move committed", zap.String("move_id", op.ID), zap.Duration("took", took))
		e.notifier.Notify(model.Notice{
			Kind:      model.NoticeSuccess,
			Message:   fmt.Sprintf("Moved %s to %s", title, e.columnName(op.To)),
			MoveID:    op.ID,
			EntryID:   op.EntryID,
			Column:    op.To,
			Timestamp: now,
		})
		return
	}
	e.logger.Warn("move rolled back", zap.String("move_id", op.ID), zap.Error(err))
	e.notifier.Notify(model.Notice{
		Kind:      model.NoticeFailure,
		Code:      model.ErrRemoteRejection,
		Message:   fmt.Sprintf("Could not move %s to %s: %v", title, e.columnName(op.To), err),
		MoveID:    op.ID,
		EntryID:   op.EntryID,
		Column:    op.From,
		Timestamp: now,
	})
}

// revertLocked undoes the optimistic edit of mv. When nothing but the move's
// own edits was published since Move the snapshot is restored as is;
// otherwise only the moved entry is put back next to its former neighbours,
// so data and moves that arrived in between survive. Callers hold mu.
func (e *Engine) revertLocked(mv *move) {
	cur := e.state.Load()
	next := cur.clone()
	delete(next.Pending, mv.op.EntryID)
	if mv.applied {
		next.Counts = cur.Counts.Revert(mv.delta)
	}

	var board model.Board
	if mv.current && cur.Revision == mv.revision {
		next.Entries = mv.snapshot.Entries
		board = mv.snapshot.Board
	} else {
		next.Entries = reinsert(without(cur.Entries, mv.op.EntryID), mv.original, mv.op.From, mv.before, mv.after)
		board = Partition(next.Entries, e.columns)
	}
	next.Board = decorate(board, next.Counts, next.Pagers)
	e.publish(next)
}

// unresolvedLocked returns unresolved moves, newest first.
func (e *Engine) unresolvedLocked() []*move {
	var out []*move
	for _, mv := range e.moves {
		if !mv.op.Resolved() {
			out = append(out, mv)
		}
	}
	slices.SortFunc(out, func(a, b *move) int {
		return b.op.CreatedAt.Compare(a.op.CreatedAt)
	})
	return out
}

// retireLocked keeps a resolved move queryable, evicting the oldest resolved
// moves beyond maxRetired.
func (e *Engine) retireLocked(mv *move) {
	mv.snapshot = Snapshot{}
	e.retired = append(e.retired, mv.op.ID)
	for len(e.retired) > maxRetired {
		delete(e.moves, e.retired[0])
		e.retired = e.retired[1:]
	}
}

func (e *Engine) record(ctx context.Context, tenantID string, op model.MoveOperation, detail map[string]any) {
	rec := model.MoveRecord{
		ID:        e.newID(),
		MoveID:    op.ID,
		TenantID:  tenantID,
		BoardID:   op.BoardID,
		EntryID:   op.EntryID,
		From:      op.From,
		To:        op.To,
		Status:    op.Status,
		Detail:    detail,
		Actor:     op.Actor,
		Error:     op.Error,
		Timestamp: e.now(),
	}
	if err := e.journal.Record(ctx, rec); err != nil {
		e.logger.Warn("journal record failed",
			zap.String("move_id", op.ID),
			zap.String("status", op.Status),
			zap.Error(err),
		)
	}
}

func tenantOf(rctx *model.RequestContext) string {
	if rctx == nil {
		return ""
	}
	return rctx.TenantID
}
