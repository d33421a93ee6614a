package model

// WorkflowColumn is the group of loaded entries sharing one workflow status.
type WorkflowColumn struct {
	Key      string         `json:"key"`
	Name     string         `json:"name"`
	Rule     TransitionRule `json:"rule"`
	Entries  []CatalogEntry `json:"entries"`
	Total    *int           `json:"total,omitempty"`
	Visible  int            `json:"visible"`
	Expanded bool           `json:"expanded,omitempty"`
}

// Board is the complete set of columns at a point in time. Order lists the
// column keys in display order; every key in Order has an entry in Columns.
type Board struct {
	Order   []string                  `json:"order"`
	Columns map[string]WorkflowColumn `json:"columns"`
}

// Column returns the column with the given key.
func (b Board) Column(key string) (WorkflowColumn, bool) {
	c, ok := b.Columns[key]
	return c, ok
}

// Locate returns the key of the column holding the entry and its index in
// that column.
func (b Board) Locate(entryID string) (string, int, bool) {
	for _, key := range b.Order {
		for i, e := range b.Columns[key].Entries {
			if e.ID == entryID {
				return key, i, true
			}
		}
	}
	return "", -1, false
}

// Clone returns a fully independent copy of the board.
func (b Board) Clone() Board {
	out := Board{
		Order:   append([]string(nil), b.Order...),
		Columns: make(map[string]WorkflowColumn, len(b.Columns)),
	}
	for k, c := range b.Columns {
		cc := c
		cc.Entries = CloneEntries(c.Entries)
		cc.Rule = c.Rule.Clone()
		if c.Total != nil {
			t := *c.Total
			cc.Total = &t
		}
		out.Columns[k] = cc
	}
	return out
}

// Move operation statuses.
const (
	MoveStatusAwaitingConfirmation = "awaiting_confirmation"
	MoveStatusPending              = "pending"
	MoveStatusCommitted            = "committed"
	MoveStatusRolledBack           = "rolled_back"
	MoveStatusCancelled            = "cancelled"
	MoveStatusAborted              = "aborted"
)

// Capture holds the justification and extra field values collected by the
// confirmation step of a gated transition.
type Capture struct {
	Justification string            `json:"justification,omitempty"`
	PresetID      string            `json:"preset_id,omitempty"`
	Fields        map[string]string `json:"fields,omitempty"`
}

// Empty reports whether nothing was captured.
func (c Capture) Empty() bool {
	return c.Justification == "" && c.PresetID == "" && len(c.Fields) == 0
}
