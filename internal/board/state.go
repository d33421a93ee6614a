package board

import (
	"slices"

	"github.com/pitabwire/catalogboard/model"
)

// Snapshot is an independent copy of the board and the entry collection
// taken immediately before an optimistic mutation.
type Snapshot struct {
	Board   model.Board
	Entries []model.CatalogEntry
}

func takeSnapshot(s *State) Snapshot {
	return Snapshot{Board: s.Board.Clone(), Entries: model.CloneEntries(s.Entries)}
}

// State is the engine state at one revision. A published State is never
// modified; every mutation publishes a new value, so readers always observe
// a consistent board. Board always equals Partition(Entries) decorated with
// Counts and Pagers.
type State struct {
	Revision  uint64
	FilterGen uint64
	Filters   model.EntryFilters
	Entries   []model.CatalogEntry
	Board     model.Board
	Counts    Ledger
	Pagers    map[string]Pager
	// Pending holds the unresolved move of each entry, keyed by entry id.
	Pending map[string]model.MoveOperation
}

// HasPending reports whether the entry has an unresolved move.
func (s *State) HasPending(entryID string) bool {
	_, ok := s.Pending[entryID]
	return ok
}

// Column returns a column of the board.
func (s *State) Column(key string) (model.WorkflowColumn, bool) {
	return s.Board.Column(key)
}

// VisibleEntries returns the entries of a column that are currently shown.
func (s *State) VisibleEntries(key string) []model.CatalogEntry {
	col, ok := s.Board.Columns[key]
	if !ok {
		return nil
	}
	n := s.Pagers[key].VisibleCount(len(col.Entries))
	return col.Entries[:n]
}

// HasMore reports whether "show more" is enabled for a column.
func (s *State) HasMore(key string) bool {
	col, ok := s.Board.Columns[key]
	if !ok {
		return false
	}
	return s.Pagers[key].HasMore(len(col.Entries), s.Counts.Count(key))
}

// clone copies the maps that writers replace entries of. Slices and the
// board are swapped wholesale and therefore shared.
func (s *State) clone() *State {
	next := *s
	next.Pagers = make(map[string]Pager, len(s.Pagers))
	for k, p := range s.Pagers {
		next.Pagers[k] = p
	}
	next.Pending = make(map[string]model.MoveOperation, len(s.Pending))
	for k, op := range s.Pending {
		next.Pending[k] = op
	}
	return &next
}

// decorate returns a copy of b with each column's total, visible cursor and
// expansion taken from the ledger and pagers.
func decorate(b model.Board, counts Ledger, pagers map[string]Pager) model.Board {
	out := model.Board{
		Order:   b.Order,
		Columns: make(map[string]model.WorkflowColumn, len(b.Columns)),
	}
	for key, col := range b.Columns {
		p := pagers[key]
		col.Total = nil
		if p.TotalKnown {
			n := counts.Count(key)
			col.Total = &n
		}
		col.Visible = p.VisibleCount(len(col.Entries))
		col.Expanded = p.Expanded
		out.Columns[key] = col
	}
	return out
}

func indexOf(entries []model.CatalogEntry, id string) int {
	for i, e := range entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}

// without returns a new slice holding entries minus the entry with id.
func without(entries []model.CatalogEntry, id string) []model.CatalogEntry {
	out := make([]model.CatalogEntry, 0, len(entries))
	for _, e := range entries {
		if e.ID != id {
			out = append(out, e)
		}
	}
	return out
}

// withHead returns a new slice with head first followed by rest.
func withHead(head model.CatalogEntry, rest []model.CatalogEntry) []model.CatalogEntry {
	out := make([]model.CatalogEntry, 0, len(rest)+1)
	out = append(out, head)
	return append(out, rest...)
}

// neighbours returns the ids of the entries with the given status that
// precede and follow id in entries, nearest first. ok is false when id is not
// among them.
func neighbours(entries []model.CatalogEntry, status, id string) (before, after []string, ok bool) {
	var column []string
	pos := -1
	for _, e := range entries {
		if e.CurrentStatus() != status {
			continue
		}
		if e.ID == id {
			pos = len(column)
		}
		column = append(column, e.ID)
	}
	if pos < 0 {
		return nil, nil, false
	}
	before = make([]string, 0, pos)
	for i := pos - 1; i >= 0; i-- {
		before = append(before, column[i])
	}
	after = slices.Clone(column[pos+1:])
	return before, after, true
}

// reinsert returns a new slice with e put back into the column status: ahead
// of the nearest following neighbour still in that column, else behind the
// nearest preceding one, else at the end.
func reinsert(entries []model.CatalogEntry, e model.CatalogEntry, status string, before, after []string) []model.CatalogEntry {
	at := make(map[string]int)
	for i, x := range entries {
		if x.CurrentStatus() == status {
			at[x.ID] = i
		}
	}
	for _, id := range after {
		if i, ok := at[id]; ok {
			return insertAt(entries, i, e)
		}
	}
	for _, id := range before {
		if i, ok := at[id]; ok {
			return insertAt(entries, i+1, e)
		}
	}
	return insertAt(entries, len(entries), e)
}

// insertAt returns a new slice with e inserted at idx, clamped to the
// bounds of entries.
func insertAt(entries []model.CatalogEntry, idx int, e model.CatalogEntry) []model.CatalogEntry {
	idx = max(0, min(idx, len(entries)))
	out := make([]model.CatalogEntry, 0, len(entries)+1)
	out = append(out, entries[:idx]...)
	out = append(out, e)
	return append(out, entries[idx:]...)
}
