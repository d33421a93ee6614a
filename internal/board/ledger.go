package board

// Ledger holds per-column entry counts. It is an immutable value: every
// update returns a new Ledger. Counts never go below zero.
type Ledger struct {
	counts map[string]int
}

// MoveDelta records the adjustment a move actually applied to a Ledger so it
// can be reversed exactly, including when the source count was clamped.
type MoveDelta struct {
	From        string
	To          string
	FromApplied int
	ToApplied   int
}

// NewLedger returns a ledger with the given baseline counts.
func NewLedger(baseline map[string]int) Ledger {
	l := Ledger{counts: make(map[string]int, len(baseline))}
	for k, v := range baseline {
		l.counts[k] = max(v, 0)
	}
	return l
}

// Count returns the count of a column; unknown columns count zero.
func (l Ledger) Count(key string) int {
	return l.counts[key]
}

// Counts returns a copy of all counts.
func (l Ledger) Counts() map[string]int {
	out := make(map[string]int, len(l.counts))
	for k, v := range l.counts {
		out[k] = v
	}
	return out
}

// Set replaces the baseline of one column.
func (l Ledger) Set(key string, n int) Ledger {
	out := l.copy()
	out.counts[key] = max(n, 0)
	return out
}

// Raise lifts a column's count to at least n. It is used when a page arrives
// without a server-reported total.
func (l Ledger) Raise(key string, n int) Ledger {
	if l.counts[key] >= n {
		return l
	}
	return l.Set(key, n)
}

// Adjust adds delta to a column's count, clamped at zero, and returns the
// amount actually applied.
func (l Ledger) Adjust(key string, delta int) (Ledger, int) {
	out := l.copy()
	cur := out.counts[key]
	next := max(cur+delta, 0)
	out.counts[key] = next
	return out, next - cur
}

// Move decrements from and increments to.
func (l Ledger) Move(from, to string) (Ledger, MoveDelta) {
	out, fromApplied := l.Adjust(from, -1)
	out, toApplied := out.Adjust(to, 1)
	return out, MoveDelta{From: from, To: to, FromApplied: fromApplied, ToApplied: toApplied}
}

// Revert undoes a MoveDelta previously returned by Move.
func (l Ledger) Revert(d MoveDelta) Ledger {
	out, _ := l.Adjust(d.To, -d.ToApplied)
	out, _ = out.Adjust(d.From, -d.FromApplied)
	return out
}

func (l Ledger) copy() Ledger {
	out := Ledger{counts: make(map[string]int, len(l.counts)+1)}
	for k, v := range l.counts {
		out.counts[k] = v
	}
	return out
}
