package model

// BoardDefinition is the root structure of a board definition file. Each
// file declares one board: its columns in display order, the transition
// rules of each column, and the justification presets offered by the
// confirmation dialog.
type BoardDefinition struct {
	ID       string                `yaml:"board"     json:"id"`
	Title    string                `yaml:"title"     json:"title"`
	PageSize int                   `yaml:"page_size" json:"page_size,omitempty"`
	Columns  []ColumnDefinition    `yaml:"columns"   json:"columns"`
	Presets  []JustificationPreset `yaml:"presets"   json:"presets,omitempty"`

	// Capabilities are required to see and open the board.
	Capabilities []string `yaml:"capabilities" json:"capabilities,omitempty"`

	// Checksum is computed at load time and not part of the YAML.
	Checksum string `yaml:"-" json:"-"`
	// SourceFile records the originating file path.
	SourceFile string `yaml:"-" json:"-"`
}

// ColumnDefinition describes one workflow status shown as a column.
type ColumnDefinition struct {
	Key  string         `yaml:"key"  json:"key"`
	Name string         `yaml:"name" json:"name"`
	Rule TransitionRule `yaml:"rule" json:"rule"`
}

// TransitionRule describes what a move into a column requires.
type TransitionRule struct {
	JustificationRequired bool        `yaml:"justification_required" json:"justification_required"`
	ExtraFields           []FieldSpec `yaml:"extra_fields"           json:"extra_fields,omitempty"`
	Capabilities          []string    `yaml:"capabilities"           json:"capabilities,omitempty"`
}

// RequiresCapture reports whether a move into the column must pass through
// the confirmation step before it is committed.
func (r TransitionRule) RequiresCapture() bool {
	return r.JustificationRequired || len(r.ExtraFields) > 0
}

// Clone returns a copy of the rule that shares no slices with r.
func (r TransitionRule) Clone() TransitionRule {
	out := r
	if r.ExtraFields != nil {
		out.ExtraFields = make([]FieldSpec, len(r.ExtraFields))
		for i, f := range r.ExtraFields {
			out.ExtraFields[i] = f
			out.ExtraFields[i].Options = append([]string(nil), f.Options...)
		}
	}
	if r.Capabilities != nil {
		out.Capabilities = append([]string(nil), r.Capabilities...)
	}
	return out
}

// Extra field kinds.
const (
	FieldKindText     = "text"
	FieldKindTextarea = "textarea"
	FieldKindNumber   = "number"
	FieldKindDate     = "date"
	FieldKindSelect   = "select"
)

// FieldSpec describes an extra value captured by the confirmation dialog.
type FieldSpec struct {
	Name        string   `yaml:"name"        json:"name"`
	Label       string   `yaml:"label"       json:"label"`
	Kind        string   `yaml:"kind"        json:"kind"`
	Required    bool     `yaml:"required"    json:"required,omitempty"`
	Placeholder string   `yaml:"placeholder" json:"placeholder,omitempty"`
	Options     []string `yaml:"options"     json:"options,omitempty"`
}

// JustificationPreset is a templated justification offered as a shortcut in
// the confirmation dialog. Text is a text/template rendered with the move.
type JustificationPreset struct {
	ID    string `yaml:"id"    json:"id"`
	Label string `yaml:"label" json:"label"`
	Text  string `yaml:"text"  json:"text"`
}
