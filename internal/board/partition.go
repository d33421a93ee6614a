// Package board implements the workflow board engine: grouping catalog
// entries into status columns, per-column pagination and counters,
// transition rules, optimistic moves with rollback, and drag sessions with
// edge auto-scroll.
package board

import "github.com/pitabwire/catalogboard/model"

// Partition groups entries into the given columns by current status,
// preserving the relative order of entries. Entries whose status matches no
// column are left out of the board. When an id occurs more than once only
// its first occurrence is kept. The result shares no memory with its inputs.
func Partition(entries []model.CatalogEntry, columns []model.ColumnDefinition) model.Board {
	b := model.Board{
		Order:   make([]string, 0, len(columns)),
		Columns: make(map[string]model.WorkflowColumn, len(columns)),
	}
	for _, def := range columns {
		if _, dup := b.Columns[def.Key]; dup {
			continue
		}
		b.Order = append(b.Order, def.Key)
		b.Columns[def.Key] = model.WorkflowColumn{
			Key:     def.Key,
			Name:    def.Name,
			Rule:    def.Rule.Clone(),
			Entries: []model.CatalogEntry{},
		}
	}

	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		col, ok := b.Columns[e.CurrentStatus()]
		if !ok {
			continue
		}
		col.Entries = append(col.Entries, e.Clone())
		b.Columns[col.Key] = col
	}
	return b
}
