package transport

import (
	"net/http"

	"github.com/pitabwire/catalogboard/internal/board"
	"github.com/pitabwire/catalogboard/internal/session"
	"github.com/pitabwire/catalogboard/model"
)

// dragDropResponse is the answer to a drop: the drag state and, when the
// drop issued a move, the move.
type dragDropResponse struct {
	Drag model.DragView  `json:"drag"`
	Move *model.MoveView `json:"move,omitempty"`
}

func (h *handlers) startDrag(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var body struct {
		EntryID       string  `json:"entry_id"`
		From          string  `json:"from"`
		ViewportWidth float64 `json:"viewport_width"`
		ColumnWidth   float64 `json:"column_width"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	view, err := s.StartDrag(body.EntryID, body.From, body.ViewportWidth, body.ColumnWidth)
	if err != nil {
		writeError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, view)
}

func (h *handlers) dragPointer(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var body struct {
		X float64 `json:"x"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, s.DragPointer(body.X))
}

func (h *handlers) dragHover(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var body struct {
		Column string `json:"column"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, s.DragHover(body.Column))
}

// dragDrop ends the drag. Dropping on no column or on the source column
// issues no move.
func (h *handlers) dragDrop(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var body struct {
		Column string `json:"column"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	op, moved, err := s.Drop(r.Context(), body.Column)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := dragDropResponse{Drag: dragState(s)}
	if !moved {
		WriteJSON(w, http.StatusOK, resp)
		return
	}
	view := moveView(s, op)
	resp.Move = &view
	WriteJSON(w, http.StatusAccepted, resp)
}

func (h *handlers) dragCancel(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, s.CancelDrag())
}

func dragState(s *session.Session) model.DragView {
	if v := s.DragView(); v != nil {
		return *v
	}
	return model.DragView{State: board.DragIdle.String()}
}
