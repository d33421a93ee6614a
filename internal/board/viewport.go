package board

import "sync"

// GridViewport models a horizontally scrolling strip of equal-width columns.
// Pointer coordinates are relative to the viewport's left edge.
type GridViewport struct {
	mu          sync.Mutex
	width       float64
	columnWidth float64
	keys        []string
	offset      float64
}

// NewGridViewport creates a viewport width pixels wide showing columns of
// columnWidth pixels in the given order.
func NewGridViewport(width, columnWidth float64, keys []string) *GridViewport {
	return &GridViewport{
		width:       width,
		columnWidth: columnWidth,
		keys:        append([]string(nil), keys...),
	}
}

// Bounds implements Viewport.
func (v *GridViewport) Bounds() (float64, float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return 0, v.width
}

// ScrollBy implements Viewport. The offset stays within the content.
func (v *GridViewport) ScrollBy(dx float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.offset = v.clamp(v.offset + dx)
}

// IsFullyVisible implements Viewport. Unknown columns report true.
func (v *GridViewport) IsFullyVisible(key string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	i := v.index(key)
	if i < 0 {
		return true
	}
	left := float64(i)*v.columnWidth - v.offset
	return left >= 0 && left+v.columnWidth <= v.width
}

// CenterColumn implements Viewport.
func (v *GridViewport) CenterColumn(key string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	i := v.index(key)
	if i < 0 {
		return
	}
	center := float64(i)*v.columnWidth + v.columnWidth/2
	v.offset = v.clamp(center - v.width/2)
}

// Offset returns the current scroll offset.
func (v *GridViewport) Offset() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.offset
}

// Resize updates the viewport width.
func (v *GridViewport) Resize(width float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.width = width
	v.offset = v.clamp(v.offset)
}

func (v *GridViewport) clamp(offset float64) float64 {
	maxOffset := max(float64(len(v.keys))*v.columnWidth-v.width, 0)
	return max(0, min(offset, maxOffset))
}

func (v *GridViewport) index(key string) int {
	for i, k := range v.keys {
		if k == key {
			return i
		}
	}
	return -1
}
