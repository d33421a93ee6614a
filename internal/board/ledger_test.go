package board

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLedger_MoveConservesCounts(t *testing.T) {
	l := NewLedger(map[string]int{"A": 10, "B": 3})

	const n = 4
	for i := 0; i < n; i++ {
		l, _ = l.Move("A", "B")
	}

	assert.Equal(t, 10-n, l.Count("A"))
	assert.Equal(t, 3+n, l.Count("B"))
}

func TestLedger_MoveClampsAtZero(t *testing.T) {
	l := NewLedger(map[string]int{"A": 1})

	l, _ = l.Move("A", "B")
	l, d := l.Move("A", "B")

	assert.Equal(t, 0, l.Count("A"))
	assert.Equal(t, 2, l.Count("B"))
	assert.Equal(t, 0, d.FromApplied, "a clamped decrement applies nothing")
	assert.Equal(t, 1, d.ToApplied)
}

func TestLedger_RevertIsExact(t *testing.T) {
	base := NewLedger(map[string]int{"A": 0, "B": 5})

	moved, d := base.Move("A", "B")
	reverted := moved.Revert(d)

	assert.Equal(t, base.Counts(), reverted.Counts())
}

func TestLedger_Immutable(t *testing.T) {
	base := NewLedger(map[string]int{"A": 2})
	_ = base.Set("A", 9)
	_, _ = base.Move("A", "B")

	assert.Equal(t, 2, base.Count("A"))
	assert.Equal(t, 0, base.Count("B"))
}

func TestLedger_SetAndRaise(t *testing.T) {
	l := NewLedger(nil).Set("A", -3)
	assert.Equal(t, 0, l.Count("A"), "baselines are clamped at zero")

	l = l.Raise("A", 4)
	assert.Equal(t, 4, l.Count("A"))
	l = l.Raise("A", 2)
	assert.Equal(t, 4, l.Count("A"), "Raise never lowers a count")
}

func TestLedger_Adjust(t *testing.T) {
	l, applied := NewLedger(map[string]int{"A": 1}).Adjust("A", -3)
	assert.Equal(t, 0, l.Count("A"))
	assert.Equal(t, -1, applied)
}
