package model

import "time"

// BoardSummary lists a board definition the caller may open.
type BoardSummary struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Columns []string `json:"columns"`
}

// BoardView is the read model of an open board session sent to the frontend.
type BoardView struct {
	SessionID string          `json:"session_id"`
	BoardID   string          `json:"board_id"`
	Title     string          `json:"title"`
	Revision  uint64          `json:"revision"`
	Filters   EntryFilters    `json:"filters"`
	Columns   []ColumnView    `json:"columns"`
	Pending   []MoveOperation `json:"pending,omitempty"`
	Drag      *DragView       `json:"drag,omitempty"`
}

// ColumnView is one rendered column. Entries holds only the visible slice of
// the loaded entries unless the column is expanded.
type ColumnView struct {
	Key      string      `json:"key"`
	Name     string      `json:"name"`
	Count    int         `json:"count"`
	Loaded   int         `json:"loaded"`
	HasMore  bool        `json:"has_more"`
	Loading  bool        `json:"loading,omitempty"`
	Expanded bool        `json:"expanded,omitempty"`
	Rule     RuleView    `json:"rule"`
	Entries  []EntryCard `json:"entries"`
}

// RuleView tells the frontend whether dropping into a column opens the
// confirmation dialog and whether the caller may drop there at all.
type RuleView struct {
	RequiresConfirmation  bool `json:"requires_confirmation"`
	JustificationRequired bool `json:"justification_required,omitempty"`
	Allowed               bool `json:"allowed"`
}

// EntryCard is the card-level projection of a CatalogEntry.
type EntryCard struct {
	ID          string    `json:"id"`
	Title       string    `json:"title,omitempty"`
	Status      string    `json:"status"`
	AssetRef    string    `json:"asset_ref,omitempty"`
	MaterialRef string    `json:"material_ref,omitempty"`
	LocationRef string    `json:"location_ref,omitempty"`
	ImageRef    string    `json:"image_ref,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
	UpdatedBy   string    `json:"updated_by,omitempty"`
	Draggable   bool      `json:"draggable"`
}

// ConfirmationView describes the blocking dialog of a move awaiting
// justification or extra fields.
type ConfirmationView struct {
	MoveID                string       `json:"move_id"`
	EntryID               string       `json:"entry_id"`
	From                  string       `json:"from"`
	To                    string       `json:"to"`
	JustificationRequired bool         `json:"justification_required"`
	Fields                []FieldSpec  `json:"fields,omitempty"`
	Presets               []PresetView `json:"presets,omitempty"`
}

// PresetView is a justification preset rendered for a specific move.
type PresetView struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Text  string `json:"text"`
}

// MoveView is the response to a move request.
type MoveView struct {
	Move         MoveOperation     `json:"move"`
	Confirmation *ConfirmationView `json:"confirmation,omitempty"`
}

// DragView reports the state of the drag session of a board session.
type DragView struct {
	State   string  `json:"state"`
	EntryID string  `json:"entry_id,omitempty"`
	Source  string  `json:"source,omitempty"`
	Hover   string  `json:"hover,omitempty"`
	Scroll  float64 `json:"scroll"`
}
