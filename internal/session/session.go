package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/catalogboard/internal/board"
	"github.com/pitabwire/catalogboard/model"
)

// Session is one user's open board: an engine, its notices and the drag
// controller driven by the user's pointer.
type Session struct {
	ID        string
	BoardID   string
	SubjectID string
	TenantID  string
	CreatedAt time.Time

	engine      *board.Engine
	notices     *NoticeQueue
	caps        model.CapabilityResolver
	autoScroll  board.AutoScroll
	columnWidth float64
	logger      *zap.Logger

	mu          sync.Mutex
	lastSeen    time.Time
	drag        *board.DragController
	viewport    *board.GridViewport
	dragColumnW float64
}

// Engine returns the session's board engine.
func (s *Session) Engine() *board.Engine { return s.engine }

// Notices returns the session's notice queue.
func (s *Session) Notices() *NoticeQueue { return s.notices }

// LastSeen returns when the session was last used.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) ownedBy(rctx *model.RequestContext) bool {
	return rctx != nil && rctx.SubjectID == s.SubjectID && rctx.TenantID == s.TenantID
}

// View renders the board for the caller in ctx.
func (s *Session) View(ctx context.Context) (model.BoardView, error) {
	var caps model.CapabilitySet
	if s.caps != nil {
		rctx := model.RequestContextFrom(ctx)
		if rctx == nil {
			return model.BoardView{}, model.NewUnauthorizedError("missing request context")
		}
		var err error
		if caps, err = s.caps.Resolve(rctx); err != nil {
			return model.BoardView{}, fmt.Errorf("resolve capabilities: %w", err)
		}
	}
	v := board.BuildView(s.engine.Definition(), s.engine.View(), caps)
	v.SessionID = s.ID
	v.Drag = s.DragView()
	return v, nil
}

// StartDrag begins dragging entryID out of column from. width is the
// client's viewport width; columnWidth falls back to the configured default
// when zero.
func (s *Session) StartDrag(entryID, from string, width, columnWidth float64) (model.DragView, error) {
	state := s.engine.View()
	key, _, ok := state.Board.Locate(entryID)
	if !ok {
		return model.DragView{}, model.NewNotFoundError(fmt.Sprintf("entry %q is not on the board", entryID))
	}
	if key != from {
		return model.DragView{}, model.NewBadRequestError(fmt.Sprintf("entry %q is in column %q, not %q", entryID, key, from))
	}
	if width <= 0 {
		return model.DragView{}, model.NewValidationError([]model.FieldError{
			{Field: "viewport_width", Code: "RANGE", Message: "viewport_width must be positive"},
		})
	}
	if columnWidth <= 0 {
		columnWidth = s.columnWidth
	}

	// The controller is replaced and started under mu so a concurrent start
	// cannot leave a running controller unreachable.
	s.mu.Lock()
	if s.drag != nil && s.drag.Session().State == board.DragDragging {
		s.mu.Unlock()
		return model.DragView{}, model.NewConflictError(board.ErrDragActive.Error())
	}
	if s.drag == nil || s.dragColumnW != columnWidth {
		if s.drag != nil {
			s.drag.Close()
		}
		s.viewport = board.NewGridViewport(width, columnWidth, state.Board.Order)
		s.drag = board.NewDragController(s.engine, s.viewport, s.autoScroll, s.logger)
		s.dragColumnW = columnWidth
	} else {
		s.viewport.Resize(width)
	}
	err := s.drag.Start(entryID, from)
	s.mu.Unlock()

	if err != nil {
		if errors.Is(err, board.ErrDragActive) {
			return model.DragView{}, model.NewConflictError(err.Error())
		}
		return model.DragView{}, err
	}
	return *s.DragView(), nil
}

// DragPointer records the pointer position of the active drag.
func (s *Session) DragPointer(x float64) model.DragView {
	if d := s.controller(); d != nil {
		d.Pointer(x)
	}
	return s.dragViewOrIdle()
}

// DragHover records the column under the pointer of the active drag.
func (s *Session) DragHover(column string) model.DragView {
	if d := s.controller(); d != nil {
		d.Hover(column)
	}
	return s.dragViewOrIdle()
}

// Drop ends the active drag over column. The bool reports whether a move
// was issued.
func (s *Session) Drop(ctx context.Context, column string) (model.MoveOperation, bool, error) {
	d := s.controller()
	if d == nil {
		return model.MoveOperation{}, false, nil
	}
	return d.Drop(ctx, column)
}

// CancelDrag abandons the active drag.
func (s *Session) CancelDrag() model.DragView {
	if d := s.controller(); d != nil {
		d.Cancel()
	}
	return s.dragViewOrIdle()
}

// DragView reports the drag state, or nil when no drag was ever started.
func (s *Session) DragView() *model.DragView {
	s.mu.Lock()
	d, vp := s.drag, s.viewport
	s.mu.Unlock()
	if d == nil {
		return nil
	}
	ds := d.Session()
	state := ds.State
	if state == board.DragIdle && ds.Last != board.DragIdle {
		state = ds.Last
	}
	return &model.DragView{
		State:   state.String(),
		EntryID: ds.EntryID,
		Source:  ds.Source,
		Hover:   ds.Hover,
		Scroll:  vp.Offset(),
	}
}

func (s *Session) dragViewOrIdle() model.DragView {
	if v := s.DragView(); v != nil {
		return *v
	}
	return model.DragView{State: board.DragIdle.String()}
}

func (s *Session) controller() *board.DragController {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drag
}

// close stops the drag loop and cancels moves awaiting confirmation.
// Submitted commits keep running.
func (s *Session) close(ctx context.Context) {
	if d := s.controller(); d != nil {
		d.Close()
	}
	s.engine.Close(ctx)
}
