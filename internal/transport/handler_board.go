package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/catalogboard/model"
)

func (h *handlers) listBoards(w http.ResponseWriter, r *http.Request) {
	defs := h.definitions.Visible(CapabilitiesFrom(r.Context()))
	out := make([]model.BoardSummary, 0, len(defs))
	for _, def := range defs {
		cols := make([]string, 0, len(def.Columns))
		for _, c := range def.Columns {
			cols = append(cols, c.Key)
		}
		out = append(out, model.BoardSummary{ID: def.ID, Title: def.Title, Columns: cols})
	}
	WriteJSON(w, http.StatusOK, map[string]any{"boards": out})
}

func (h *handlers) openSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Filters model.EntryFilters `json:"filters"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	s, err := h.sessions.Open(r.Context(), chi.URLParam(r, "boardId"), body.Filters)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeView(w, r, s, http.StatusCreated)
}

func (h *handlers) getSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeView(w, r, s, http.StatusOK)
}

func (h *handlers) closeSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Close(r.Context(), chi.URLParam(r, "sessionId")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) setFilters(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var filters model.EntryFilters
	if err := decodeJSON(w, r, &filters); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.Engine().SetFilters(r.Context(), filters); err != nil {
		writeError(w, r, err)
		return
	}
	writeView(w, r, s, http.StatusOK)
}

func (h *handlers) showMore(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := s.Engine().ShowMore(r.Context(), chi.URLParam(r, "columnKey")); err != nil {
		writeError(w, r, err)
		return
	}
	writeView(w, r, s, http.StatusOK)
}

func (h *handlers) toggleColumn(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if _, err := s.Engine().ToggleExpanded(chi.URLParam(r, "columnKey")); err != nil {
		writeError(w, r, err)
		return
	}
	writeView(w, r, s, http.StatusOK)
}

func (h *handlers) deleteEntry(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := s.Engine().Delete(r.Context(), chi.URLParam(r, "entryId")); err != nil {
		writeError(w, r, err)
		return
	}
	writeView(w, r, s, http.StatusOK)
}

func (h *handlers) drainNotices(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"notices": s.Notices().Drain()})
}

// entryMoves lists the journal of an entry within the caller's tenant.
func (h *handlers) entryMoves(w http.ResponseWriter, r *http.Request) {
	rctx := model.RequestContextFrom(r.Context())
	if rctx == nil {
		WriteError(w, model.NewUnauthorizedError("missing request context"))
		return
	}
	entryID := chi.URLParam(r, "entryId")
	if h.journal == nil {
		WriteJSON(w, http.StatusOK, map[string]any{"entry_id": entryID, "moves": []model.MoveRecord{}})
		return
	}
	records, err := h.journal.ListByEntry(r.Context(), rctx.TenantID, entryID)
	if err != nil {
		requestLogger(r).Error("journal read failed", zap.String("entry_id", entryID), zap.Error(err))
		writeError(w, r, model.NewBackendUnavailableError())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"entry_id": entryID, "moves": records})
}
