package board

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/catalogboard/model"
)

// Auto-scroll defaults.
const (
	DefaultEdgeThreshold  = 140.0
	DefaultMaxScrollStep  = 24.0
	DefaultScrollInterval = 16 * time.Millisecond
)

// DragState is the state of a drag session.
type DragState int

const (
	DragIdle DragState = iota
	DragDragging
	DragDropped
	DragCancelled
)

func (s DragState) String() string {
	switch s {
	case DragDragging:
		return "dragging"
	case DragDropped:
		return "dropped"
	case DragCancelled:
		return "cancelled"
	default:
		return "idle"
	}
}

// ErrDragActive is returned by Start while another drag is in progress.
var ErrDragActive = errors.New("board: a drag is already in progress")

// Viewport is the horizontally scrollable area holding the columns.
type Viewport interface {
	// Bounds returns the inner left and right edges in pointer coordinates.
	Bounds() (left, right float64)
	ScrollBy(dx float64)
	IsFullyVisible(key string) bool
	CenterColumn(key string)
}

// Mover is the part of Engine a drag session drives.
type Mover interface {
	Move(ctx context.Context, req MoveRequest) (model.MoveOperation, error)
	CanMove(entryID string) bool
}

// AutoScroll configures edge auto-scrolling.
type AutoScroll struct {
	// EdgeThreshold is the distance from a viewport edge, in pixels, within
	// which scrolling starts.
	EdgeThreshold float64
	// MaxStep caps the pixels scrolled per tick.
	MaxStep  float64
	Interval time.Duration
}

func (a AutoScroll) withDefaults() AutoScroll {
	if a.EdgeThreshold <= 0 {
		a.EdgeThreshold = DefaultEdgeThreshold
	}
	if a.MaxStep <= 0 {
		a.MaxStep = DefaultMaxScrollStep
	}
	if a.Interval <= 0 {
		a.Interval = DefaultScrollInterval
	}
	return a
}

// Step returns the signed scroll step for a pointer at x within a viewport
// spanning left..right. The step grows linearly as the pointer nears an edge
// and is clamped to [1, MaxStep] in magnitude; it is zero outside the edge
// zones.
func (a AutoScroll) Step(x, left, right float64) float64 {
	a = a.withDefaults()
	if d := x - left; d < a.EdgeThreshold {
		return -a.stepFor(d)
	}
	if d := right - x; d < a.EdgeThreshold {
		return a.stepFor(d)
	}
	return 0
}

func (a AutoScroll) stepFor(d float64) float64 {
	d = max(d, 0)
	s := math.Ceil(a.MaxStep * (a.EdgeThreshold - d) / a.EdgeThreshold)
	return max(1, min(s, a.MaxStep))
}

// DragSession reports the state of a DragController.
type DragSession struct {
	State   DragState
	Last    DragState
	EntryID string
	Source  string
	Hover   string
}

// DragController turns pointer gestures into moves and scrolls the viewport
// while the pointer is near one of its edges. The auto-scroll loop lives
// exactly as long as the drag: Drop, Cancel and Close stop it and wait for
// it to exit.
type DragController struct {
	mover    Mover
	viewport Viewport
	scroll   AutoScroll
	logger   *zap.Logger

	mu         sync.Mutex
	state      DragState
	last       DragState
	entryID    string
	source     string
	hover      string
	pointerX   float64
	hasPointer bool
	stop       context.CancelFunc
	done       chan struct{}
}

// NewDragController creates an idle controller.
func NewDragController(mover Mover, viewport Viewport, scroll AutoScroll, logger *zap.Logger) *DragController {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DragController{
		mover:    mover,
		viewport: viewport,
		scroll:   scroll.withDefaults(),
		logger:   logger,
	}
}

// Start begins dragging an entry out of its source column. Entries with an
// unresolved move cannot be dragged.
func (d *DragController) Start(entryID, source string) error {
	if !d.mover.CanMove(entryID) {
		return model.NewMovePendingError(entryID)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != DragIdle {
		return ErrDragActive
	}
	d.state = DragDragging
	d.entryID = entryID
	d.source = source
	d.hover = source
	d.hasPointer = false

	ctx, cancel := context.WithCancel(context.Background())
	d.stop = cancel
	d.done = make(chan struct{})
	go d.tick(ctx, d.done)
	return nil
}

// Pointer records the horizontal pointer position.
func (d *DragController) Pointer(x float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != DragDragging {
		return
	}
	d.pointerX = x
	d.hasPointer = true
}

// Hover records the column under the pointer. Entering a different column
// that is only partially visible centers it in the viewport.
func (d *DragController) Hover(key string) {
	d.mu.Lock()
	if d.state != DragDragging || key == "" || key == d.hover {
		d.mu.Unlock()
		return
	}
	d.hover = key
	d.mu.Unlock()

	if !d.viewport.IsFullyVisible(key) {
		d.viewport.CenterColumn(key)
	}
}

// Drop ends the drag over dest. An empty dest means the pointer was released
// outside any column and nothing changes; dropping onto the source column is
// a no-op. The returned bool reports whether a move was issued. The
// controller is idle again when Drop returns, whatever the outcome.
func (d *DragController) Drop(ctx context.Context, dest string) (model.MoveOperation, bool, error) {
	d.mu.Lock()
	if d.state != DragDragging {
		d.mu.Unlock()
		return model.MoveOperation{}, false, nil
	}
	d.state = DragDropped
	entryID, source := d.entryID, d.source
	d.mu.Unlock()

	d.stopTick()
	defer d.reset(DragDropped)

	if dest == "" || dest == source {
		return model.MoveOperation{}, false, nil
	}
	op, err := d.mover.Move(ctx, MoveRequest{EntryID: entryID, From: source, To: dest})
	if err != nil {
		d.logger.Debug("drop rejected", zap.String("entry_id", entryID), zap.Error(err))
		return model.MoveOperation{}, false, err
	}
	return op, true, nil
}

// Cancel abandons the drag without moving anything.
func (d *DragController) Cancel() {
	d.mu.Lock()
	if d.state != DragDragging {
		d.mu.Unlock()
		return
	}
	d.state = DragCancelled
	d.mu.Unlock()

	d.stopTick()
	d.reset(DragCancelled)
}

// Close tears the controller down, stopping any running auto-scroll.
func (d *DragController) Close() {
	d.Cancel()
}

// Session returns the current drag session.
func (d *DragController) Session() DragSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	return DragSession{
		State:   d.state,
		Last:    d.last,
		EntryID: d.entryID,
		Source:  d.source,
		Hover:   d.hover,
	}
}

func (d *DragController) stopTick() {
	d.mu.Lock()
	stop, done := d.stop, d.done
	d.stop, d.done = nil, nil
	d.mu.Unlock()
	if stop == nil {
		return
	}
	stop()
	<-done
}

func (d *DragController) reset(last DragState) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = DragIdle
	d.last = last
	d.entryID, d.source, d.hover = "", "", ""
	d.hasPointer = false
}

// tick scrolls the viewport once per interval while the pointer is within an
// edge zone, rescheduling itself until ctx is cancelled.
func (d *DragController) tick(ctx context.Context, done chan struct{}) {
	defer close(done)
	t := time.NewTimer(d.scroll.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		d.mu.Lock()
		x, ok := d.pointerX, d.hasPointer && d.state == DragDragging
		d.mu.Unlock()
		if ok && ctx.Err() == nil {
			left, right := d.viewport.Bounds()
			if step := d.scroll.Step(x, left, right); step != 0 {
				d.viewport.ScrollBy(step)
			}
		}
		t.Reset(d.scroll.Interval)
	}
}
