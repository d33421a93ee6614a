package board

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/pitabwire/catalogboard/model"
)

func loadedEnv(t *testing.T, def *model.BoardDefinition) *testEnv {
	t.Helper()
	env := newTestEnv(def, Options{})
	env.catalog.set("A", 2, entry("e1", "A"), entry("e2", "A"))
	env.catalog.set("B", 0)
	env.catalog.set("C", 0)
	require.NoError(t, env.engine.Load(testCtx()))
	return env
}

func TestMove_rejectedCommitRestoresBoard(t *testing.T) {
	env := loadedEnv(t, testDefinition())
	gate := make(chan struct{})
	env.catalog.gate = gate
	env.catalog.submitErr = errors.New("catalog returned 409")
	before := env.engine.View()

	op, err := env.engine.Move(testCtx(), MoveRequest{EntryID: "e1", From: "A", To: "B"})
	require.NoError(t, err)
	assert.Equal(t, model.MoveStatusPending, op.Status)

	during := env.engine.View()
	assert.Equal(t, []string{"e2"}, ids(during.Board.Columns["A"].Entries))
	assert.Equal(t, []string{"e1"}, ids(during.Board.Columns["B"].Entries))
	moved := during.Board.Columns["B"].Entries[0]
	assert.Equal(t, "B", moved.History[0].Status)
	assert.Equal(t, "curator@example.com", moved.History[0].Author)
	assert.Len(t, moved.History, 2)
	assert.Equal(t, 1, during.Counts.Count("A"))
	assert.Equal(t, 1, during.Counts.Count("B"))
	assert.False(t, env.engine.CanMove("e1"))

	close(gate)
	env.engine.Wait()

	after := env.engine.View()
	assert.Equal(t, before.Board, after.Board)
	assert.Equal(t, before.Entries, after.Entries)
	assert.Equal(t, before.Counts.Counts(), after.Counts.Counts())
	assert.Empty(t, after.Pending)
	assert.True(t, env.engine.CanMove("e1"))

	got, ok := env.engine.Operation(op.ID)
	require.True(t, ok)
	assert.Equal(t, model.MoveStatusRolledBack, got.Status)
	assert.Contains(t, got.Error, "409")

	notices := env.notices.all()
	require.Len(t, notices, 1)
	assert.Equal(t, model.NoticeFailure, notices[0].Kind)
	assert.Equal(t, model.ErrRemoteRejection, notices[0].Code)
	assert.Equal(t, []string{model.MoveStatusPending, model.MoveStatusRolledBack}, env.journal.statuses())
}

func TestMove_successfulCommitKeepsMove(t *testing.T) {
	env := loadedEnv(t, testDefinition())

	op, err := env.engine.Move(testCtx(), MoveRequest{EntryID: "e1", From: "A", To: "B"})
	require.NoError(t, err)
	env.engine.Wait()

	v := env.engine.View()
	assert.Equal(t, []string{"e2"}, ids(v.Board.Columns["A"].Entries))
	require.Equal(t, []string{"e1"}, ids(v.Board.Columns["B"].Entries))
	assert.Equal(t, "B", v.Board.Columns["B"].Entries[0].CurrentStatus())
	assert.Equal(t, 1, v.Counts.Count("A"))
	assert.Equal(t, 1, v.Counts.Count("B"))
	assert.Empty(t, v.Pending)

	submits := env.catalog.submitted()
	require.Len(t, submits, 1)
	assert.Equal(t, model.TransitionRequest{EntryID: "e1", NewStatus: "B", Detail: map[string]any{}}, submits[0])

	got, _ := env.engine.Operation(op.ID)
	assert.Equal(t, model.MoveStatusCommitted, got.Status)
	require.NotNil(t, got.ResolvedAt)

	notices := env.notices.all()
	require.Len(t, notices, 1)
	assert.Equal(t, model.NoticeSuccess, notices[0].Kind)
	assert.Equal(t, "Moved Entry e1 to Published", notices[0].Message)
}

func TestMove_countersConserved(t *testing.T) {
	env := newTestEnv(testDefinition(), Options{})
	env.catalog.set("A", 5, entry("e1", "A"), entry("e2", "A"), entry("e3", "A"), entry("e4", "A"), entry("e5", "A"))
	env.catalog.set("B", 1, entry("b1", "B"))
	require.NoError(t, env.engine.Load(testCtx()))

	for _, id := range []string{"e1", "e2", "e3"} {
		_, err := env.engine.Move(testCtx(), MoveRequest{EntryID: id, From: "A", To: "B"})
		require.NoError(t, err)
	}
	env.engine.Wait()

	v := env.engine.View()
	assert.Equal(t, 2, v.Counts.Count("A"))
	assert.Equal(t, 4, v.Counts.Count("B"))
	assert.Equal(t, []string{"e3", "e2", "e1", "b1"}, ids(v.Board.Columns["B"].Entries))
}

func TestMove_entryNotLoadedAborts(t *testing.T) {
	env := loadedEnv(t, testDefinition())
	before := env.engine.View()

	op, err := env.engine.Move(testCtx(), MoveRequest{EntryID: "ghost", From: "A", To: "B"})
	require.NoError(t, err)
	assert.Equal(t, model.MoveStatusAborted, op.Status)

	op, err = env.engine.Move(testCtx(), MoveRequest{EntryID: "e1", From: "B", To: "C"})
	require.NoError(t, err)
	assert.Equal(t, model.MoveStatusAborted, op.Status, "the entry must be loaded in the source column")

	assert.Same(t, before, env.engine.View(), "an aborted move publishes nothing")
	assert.Empty(t, env.catalog.submitted())
	assert.Empty(t, env.notices.all())
}

func TestMove_invalidRequests(t *testing.T) {
	env := loadedEnv(t, testDefinition())

	_, err := env.engine.Move(testCtx(), MoveRequest{EntryID: "e1", From: "A", To: "A"})
	assert.Equal(t, model.ErrBadRequest, model.CodeOf(err))

	_, err = env.engine.Move(testCtx(), MoveRequest{EntryID: "e1", From: "A", To: "Z"})
	assert.Equal(t, model.ErrNotFound, model.CodeOf(err))
}

func TestMove_secondMoveOnPendingEntryRefused(t *testing.T) {
	env := loadedEnv(t, testDefinition())
	gate := make(chan struct{})
	env.catalog.gate = gate

	_, err := env.engine.Move(testCtx(), MoveRequest{EntryID: "e1", From: "A", To: "B"})
	require.NoError(t, err)

	_, err = env.engine.Move(testCtx(), MoveRequest{EntryID: "e1", From: "B", To: "A"})
	assert.Equal(t, model.ErrMovePending, model.CodeOf(err))

	close(gate)
	env.engine.Wait()
	assert.Len(t, env.catalog.submitted(), 1)
}

func TestMove_missingCapabilityForbidden(t *testing.T) {
	def := testDefinition()
	def.Columns[1].Rule.Capabilities = []string{"catalog:transition:published"}
	env := newTestEnv(def, Options{Capabilities: staticCaps{"catalog:transition:review": true}})
	env.catalog.set("A", 1, entry("e1", "A"))
	require.NoError(t, env.engine.Load(testCtx()))
	before := env.engine.View()

	_, err := env.engine.Move(testCtx(), MoveRequest{EntryID: "e1", From: "A", To: "B"})

	assert.Equal(t, model.ErrForbidden, model.CodeOf(err))
	assert.Same(t, before, env.engine.View())
}

func TestMove_gatedEmptyJustificationNeverCommits(t *testing.T) {
	env := loadedEnv(t, testDefinition())
	before := env.engine.View()

	op, err := env.engine.Move(testCtx(), MoveRequest{EntryID: "e1", From: "A", To: "C"})
	require.NoError(t, err)
	assert.Equal(t, model.MoveStatusAwaitingConfirmation, op.Status)

	v := env.engine.View()
	assert.Equal(t, []string{"e1"}, ids(v.Board.Columns["C"].Entries), "the edit is applied while awaiting")
	assert.Equal(t, before.Counts.Counts(), v.Counts.Counts(), "counters move only once confirmed")

	_, err = env.engine.Confirm(testCtx(), op.ID, model.Capture{Justification: "  "})
	var ee *model.ErrorEnvelope
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, model.ErrValidationError, ee.Code)
	require.Len(t, ee.Details, 1)
	assert.Equal(t, model.DetailJustification, ee.Details[0].Field)

	got, _ := env.engine.Operation(op.ID)
	assert.Equal(t, model.MoveStatusAwaitingConfirmation, got.Status)
	env.engine.Wait()
	assert.Empty(t, env.catalog.submitted())
}

func TestMove_gatedConfirmCommitsOnceWithJustification(t *testing.T) {
	env := loadedEnv(t, testDefinition())

	op, err := env.engine.Move(testCtx(), MoveRequest{EntryID: "e1", From: "A", To: "C"})
	require.NoError(t, err)

	confirmed, err := env.engine.Confirm(testCtx(), op.ID, model.Capture{
		Justification: "cracked during transport",
		Fields:        map[string]string{"lot": "12"},
	})
	require.NoError(t, err)
	assert.Equal(t, model.MoveStatusPending, confirmed.Status)
	env.engine.Wait()

	submits := env.catalog.submitted()
	require.Len(t, submits, 1)
	assert.Equal(t, "C", submits[0].NewStatus)
	assert.Equal(t, map[string]any{"justification": "cracked during transport", "lot": "12"}, submits[0].Detail)

	v := env.engine.View()
	require.Equal(t, []string{"e1"}, ids(v.Board.Columns["C"].Entries))
	assert.Equal(t, "cracked during transport", v.Board.Columns["C"].Entries[0].History[0].Detail[model.DetailJustification])
	assert.Equal(t, 1, v.Counts.Count("A"))
	assert.Equal(t, 1, v.Counts.Count("C"))

	_, err = env.engine.Confirm(testCtx(), op.ID, model.Capture{Justification: "again"})
	assert.Equal(t, model.ErrConflict, model.CodeOf(err), "a resolved move cannot be confirmed twice")
	assert.Len(t, env.catalog.submitted(), 1)
}

func TestMove_gatedConfirmWithPreset(t *testing.T) {
	env := loadedEnv(t, testDefinition())

	op, err := env.engine.Move(testCtx(), MoveRequest{EntryID: "e1", From: "A", To: "C"})
	require.NoError(t, err)

	dialog, err := env.engine.Confirmation(op.ID)
	require.NoError(t, err)
	assert.True(t, dialog.JustificationRequired)
	require.Len(t, dialog.Presets, 1)
	assert.Equal(t, "Entry e1 is damaged beyond repair, moving to Disposed", dialog.Presets[0].Text)

	_, err = env.engine.Confirm(testCtx(), op.ID, model.Capture{PresetID: "damaged"})
	require.NoError(t, err)
	env.engine.Wait()

	submits := env.catalog.submitted()
	require.Len(t, submits, 1)
	assert.Equal(t, "Entry e1 is damaged beyond repair, moving to Disposed", submits[0].Detail[model.DetailJustification])
	assert.Equal(t, "damaged", submits[0].Detail[model.DetailPresetID])
}

func TestMove_gatedCancelRestoresWithoutNetwork(t *testing.T) {
	env := loadedEnv(t, testDefinition())
	before := env.engine.View()

	op, err := env.engine.Move(testCtx(), MoveRequest{EntryID: "e1", From: "A", To: "C"})
	require.NoError(t, err)

	cancelled, err := env.engine.Cancel(testCtx(), op.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MoveStatusCancelled, cancelled.Status)

	after := env.engine.View()
	assert.Equal(t, before.Board, after.Board)
	assert.Equal(t, before.Entries, after.Entries)
	assert.Equal(t, before.Counts.Counts(), after.Counts.Counts())
	env.engine.Wait()
	assert.Empty(t, env.catalog.submitted())
	assert.Equal(t, []string{model.MoveStatusAwaitingConfirmation, model.MoveStatusCancelled}, env.journal.statuses())

	_, err = env.engine.Cancel(testCtx(), op.ID)
	assert.Equal(t, model.ErrConflict, model.CodeOf(err))
	_, err = env.engine.Cancel(testCtx(), "unknown")
	assert.Equal(t, model.ErrNotFound, model.CodeOf(err))
}

func TestMove_rollbackKeepsPageLoadedWhilePending(t *testing.T) {
	def := testDefinition()
	def.PageSize = 2
	env := newTestEnv(def, Options{})
	env.catalog.set("A", 3, entry("e1", "A"), entry("e2", "A"), entry("e3", "A"))
	env.catalog.set("B", 0)
	require.NoError(t, env.engine.Load(testCtx()))

	gate := make(chan struct{})
	env.catalog.gate = gate
	env.catalog.submitErr = errors.New("rejected")

	_, err := env.engine.Move(testCtx(), MoveRequest{EntryID: "e1", From: "A", To: "B"})
	require.NoError(t, err)
	require.NoError(t, env.engine.ShowMore(testCtx(), "A"))
	assert.Equal(t, []string{"e2", "e3"}, ids(env.engine.View().Board.Columns["A"].Entries))

	close(gate)
	env.engine.Wait()

	v := env.engine.View()
	assert.Equal(t, []string{"e1", "e2", "e3"}, ids(v.Board.Columns["A"].Entries))
	assert.Empty(t, v.Board.Columns["B"].Entries)
	assert.Equal(t, 3, v.Counts.Count("A"))
	assert.Equal(t, 0, v.Counts.Count("B"))
	assert.Equal(t, "A", v.Board.Columns["A"].Entries[0].CurrentStatus())
}

func TestEngine_CloseCancelsAwaitingMoves(t *testing.T) {
	env := loadedEnv(t, testDefinition())
	op, err := env.engine.Move(testCtx(), MoveRequest{EntryID: "e1", From: "A", To: "C"})
	require.NoError(t, err)

	env.engine.Close(testCtx())

	got, _ := env.engine.Operation(op.ID)
	assert.Equal(t, model.MoveStatusCancelled, got.Status)
	assert.Equal(t, []string{"e1", "e2"}, ids(env.engine.View().Board.Columns["A"].Entries))
}

func waitResolved(t *testing.T, e *Engine, moveID string) model.MoveOperation {
	t.Helper()
	var op model.MoveOperation
	require.Eventually(t, func() bool {
		op, _ = e.Operation(moveID)
		return op.Resolved()
	}, 2*time.Second, time.Millisecond)
	return op
}

func TestMove_rejectedConfirmKeepsMovesCommittedMeanwhile(t *testing.T) {
	env := loadedEnv(t, testDefinition())

	gated, err := env.engine.Move(testCtx(), MoveRequest{EntryID: "e1", From: "A", To: "C"})
	require.NoError(t, err)
	require.Equal(t, model.MoveStatusAwaitingConfirmation, gated.Status)

	_, err = env.engine.Move(testCtx(), MoveRequest{EntryID: "e2", From: "A", To: "B"})
	require.NoError(t, err)
	env.engine.Wait()

	env.catalog.reject("e1", errors.New("catalog returned 409"))
	_, err = env.engine.Confirm(testCtx(), gated.ID, model.Capture{
		Justification: "cracked",
		Fields:        map[string]string{"lot": "3"},
	})
	require.NoError(t, err)
	env.engine.Wait()

	got, _ := env.engine.Operation(gated.ID)
	assert.Equal(t, model.MoveStatusRolledBack, got.Status)

	v := env.engine.View()
	assert.Equal(t, []string{"e1"}, ids(v.Board.Columns["A"].Entries))
	assert.Equal(t, []string{"e2"}, ids(v.Board.Columns["B"].Entries))
	assert.Empty(t, v.Board.Columns["C"].Entries)
	assert.Equal(t, map[string]int{"A": 1, "B": 1, "C": 0}, v.Counts.Counts())
}

func TestMove_overlappingRejectionsRestoreColumnOrder(t *testing.T) {
	for _, order := range [][]string{{"e3", "e1"}, {"e1", "e3"}} {
		t.Run(order[0]+" first", func(t *testing.T) {
			env := newTestEnv(testDefinition(), Options{})
			env.catalog.set("A", 3, entry("e1", "A"), entry("e2", "A"), entry("e3", "A"))
			env.catalog.set("B", 0)
			require.NoError(t, env.engine.Load(testCtx()))
			before := env.engine.View()

			gates := map[string]chan struct{}{}
			moves := map[string]string{}
			for _, id := range []string{"e3", "e1"} {
				gates[id] = env.catalog.hold(id, errors.New("rejected"))
				op, err := env.engine.Move(testCtx(), MoveRequest{EntryID: id, From: "A", To: "B"})
				require.NoError(t, err)
				moves[id] = op.ID
			}
			assert.Equal(t, []string{"e2"}, ids(env.engine.View().Board.Columns["A"].Entries))

			for _, id := range order {
				close(gates[id])
				assert.Equal(t, model.MoveStatusRolledBack, waitResolved(t, env.engine, moves[id]).Status)
			}
			env.engine.Wait()

			after := env.engine.View()
			assert.Equal(t, []string{"e1", "e2", "e3"}, ids(after.Board.Columns["A"].Entries))
			assert.Equal(t, before.Board, after.Board)
			assert.Equal(t, before.Entries, after.Entries)
			assert.Equal(t, before.Counts.Counts(), after.Counts.Counts())
		})
	}
}

func TestMove_commitSpan(t *testing.T) {
	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	env := loadedEnv(t, testDefinition())
	env.catalog.reject("e2", errors.New("catalog returned 409"))

	ok, err := env.engine.Move(testCtx(), MoveRequest{EntryID: "e1", From: "A", To: "B"})
	require.NoError(t, err)
	rejected, err := env.engine.Move(testCtx(), MoveRequest{EntryID: "e2", From: "A", To: "B"})
	require.NoError(t, err)
	env.engine.Wait()

	byMove := map[string]sdktrace.ReadOnlySpan{}
	for _, s := range spans.Ended() {
		if s.Name() != "board.commit" {
			continue
		}
		for _, kv := range s.Attributes() {
			if kv.Key == "board.move_id" {
				byMove[kv.Value.AsString()] = s
			}
		}
	}
	require.Len(t, byMove, 2)

	committed := byMove[ok.ID]
	require.NotNil(t, committed)
	assert.Contains(t, committed.Attributes(), attribute.String("board.id", "assets"))
	assert.Contains(t, committed.Attributes(), attribute.String("board.to", "B"))
	assert.Equal(t, codes.Unset, committed.Status().Code)

	failed := byMove[rejected.ID]
	require.NotNil(t, failed)
	assert.Equal(t, codes.Error, failed.Status().Code)
	assert.Contains(t, failed.Status().Description, "409")
}
