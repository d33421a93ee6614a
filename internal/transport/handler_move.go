package transport

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/catalogboard/internal/board"
	"github.com/pitabwire/catalogboard/internal/idempotency"
	"github.com/pitabwire/catalogboard/internal/session"
	"github.com/pitabwire/catalogboard/model"
)

// IdempotencyKeyHeader carries the client key of an explicit move.
const IdempotencyKeyHeader = "X-Idempotency-Key"

// move relocates an entry. A move into a column that requires confirmation
// comes back awaiting, with the confirmation dialog attached.
func (h *handlers) move(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req board.MoveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if fieldErrs := validateMoveRequest(req); len(fieldErrs) > 0 {
		writeError(w, r, model.NewValidationError(fieldErrs))
		return
	}

	var key, hash string
	if clientKey := r.Header.Get(IdempotencyKeyHeader); clientKey != "" && h.idempotency != nil {
		rctx := model.MustRequestContext(r.Context())
		key = idempotency.FormatKey(rctx.TenantID, rctx.SubjectID, clientKey)
		hash = idempotency.HashMove(s.ID, s.BoardID, req.EntryID, req.From, req.To)

		cached, found, err := h.idempotency.Check(r.Context(), key, hash)
		var envelope *model.ErrorEnvelope
		switch {
		case errors.As(err, &envelope):
			writeError(w, r, err)
			return
		case err != nil:
			// Without the store the move goes through unguarded.
			requestLogger(r).Warn("idempotency check failed", zap.Error(err))
			key = ""
		case found:
			if h.metrics != nil {
				h.metrics.RecordIdempotentReplay()
			}
			op := *cached
			if current, ok := s.Engine().Operation(op.ID); ok {
				op = current
			}
			writeMove(w, r, s, op, http.StatusAccepted)
			return
		}
	}

	op, err := s.Engine().Move(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if key != "" {
		if err := h.idempotency.Save(r.Context(), key, hash, op); err != nil {
			requestLogger(r).Warn("idempotency save failed", zap.String("move_id", op.ID), zap.Error(err))
		}
	}
	writeMove(w, r, s, op, http.StatusAccepted)
}

func (h *handlers) getMove(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	moveID := chi.URLParam(r, "moveId")
	op, found := s.Engine().Operation(moveID)
	if !found {
		writeError(w, r, model.NewNotFoundError(fmt.Sprintf("move %q not found", moveID)))
		return
	}
	writeMove(w, r, s, op, http.StatusOK)
}

func (h *handlers) confirmMove(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var capture model.Capture
	if err := decodeJSON(w, r, &capture); err != nil {
		writeError(w, r, err)
		return
	}
	op, err := s.Engine().Confirm(r.Context(), chi.URLParam(r, "moveId"), capture)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeMove(w, r, s, op, http.StatusAccepted)
}

func (h *handlers) cancelMove(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	op, err := s.Engine().Cancel(r.Context(), chi.URLParam(r, "moveId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeMove(w, r, s, op, http.StatusOK)
}

// writeMove renders op with its confirmation dialog.
func writeMove(w http.ResponseWriter, r *http.Request, s *session.Session, op model.MoveOperation, status int) {
	WriteJSON(w, status, moveView(s, op))
}

// moveView attaches the confirmation dialog while op awaits confirmation.
func moveView(s *session.Session, op model.MoveOperation) model.MoveView {
	view := model.MoveView{Move: op}
	if op.Status == model.MoveStatusAwaitingConfirmation {
		if c, err := s.Engine().Confirmation(op.ID); err == nil {
			view.Confirmation = &c
		}
	}
	return view
}

func validateMoveRequest(req board.MoveRequest) []model.FieldError {
	var errs []model.FieldError
	for _, f := range []struct{ name, value string }{
		{"entry_id", req.EntryID},
		{"from", req.From},
		{"to", req.To},
	} {
		if f.value == "" {
			errs = append(errs, model.FieldError{Field: f.name, Code: "REQUIRED", Message: f.name + " is required"})
		}
	}
	return errs
}
