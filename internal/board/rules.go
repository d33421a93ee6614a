package board

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/pitabwire/catalogboard/model"
)

// Field error codes reported by ValidateCapture.
const (
	CodeRequired      = "REQUIRED"
	CodeInvalidNumber = "INVALID_NUMBER"
	CodeInvalidDate   = "INVALID_DATE"
	CodeInvalidOption = "INVALID_OPTION"
	CodeUnknownPreset = "UNKNOWN_PRESET"
)

// DateLayout is the accepted format of date extra fields.
const DateLayout = "2006-01-02"

// RuleSet maps destination column keys to their transition rules.
type RuleSet map[string]model.TransitionRule

// NewRuleSet builds a RuleSet from column definitions.
func NewRuleSet(columns []model.ColumnDefinition) RuleSet {
	rs := make(RuleSet, len(columns))
	for _, c := range columns {
		rs[c.Key] = c.Rule.Clone()
	}
	return rs
}

// Resolve returns the rule for a destination. Unconfigured destinations have
// no requirements.
func (rs RuleSet) Resolve(dest string) model.TransitionRule {
	return rs[dest]
}

// ValidateCapture checks captured inputs against a rule.
func ValidateCapture(rule model.TransitionRule, c model.Capture) []model.FieldError {
	var errs []model.FieldError
	if rule.JustificationRequired && strings.TrimSpace(c.Justification) == "" {
		errs = append(errs, model.FieldError{
			Field:   model.DetailJustification,
			Code:    CodeRequired,
			Message: "A justification is required for this transition",
		})
	}
	for _, f := range rule.ExtraFields {
		v := strings.TrimSpace(c.Fields[f.Name])
		if v == "" {
			if f.Required {
				errs = append(errs, model.FieldError{
					Field:   f.Name,
					Code:    CodeRequired,
					Message: fmt.Sprintf("%s is required", labelOf(f)),
				})
			}
			continue
		}
		if fe, ok := checkKind(f, v); !ok {
			errs = append(errs, fe)
		}
	}
	return errs
}

func checkKind(f model.FieldSpec, v string) (model.FieldError, bool) {
	switch f.Kind {
	case model.FieldKindNumber:
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			return model.FieldError{Field: f.Name, Code: CodeInvalidNumber,
				Message: fmt.Sprintf("%s must be a number", labelOf(f))}, false
		}
	case model.FieldKindDate:
		if _, err := time.Parse(DateLayout, v); err != nil {
			return model.FieldError{Field: f.Name, Code: CodeInvalidDate,
				Message: fmt.Sprintf("%s must be a date (YYYY-MM-DD)", labelOf(f))}, false
		}
	case model.FieldKindSelect:
		if !slices.Contains(f.Options, v) {
			return model.FieldError{Field: f.Name, Code: CodeInvalidOption,
				Message: fmt.Sprintf("%s must be one of %s", labelOf(f), strings.Join(f.Options, ", "))}, false
		}
	}
	return model.FieldError{}, true
}

func labelOf(f model.FieldSpec) string {
	if f.Label != "" {
		return f.Label
	}
	return f.Name
}

// PresetData is the value justification preset templates are executed with.
type PresetData struct {
	EntryID    string
	EntryTitle string
	From       string
	To         string
	Author     string
}

// Presets holds compiled justification presets in declaration order.
type Presets struct {
	order []model.JustificationPreset
	tmpls map[string]*template.Template
}

// CompilePresets parses every preset text as a template.
func CompilePresets(presets []model.JustificationPreset) (*Presets, error) {
	p := &Presets{tmpls: make(map[string]*template.Template, len(presets))}
	for _, preset := range presets {
		t, err := template.New(preset.ID).Option("missingkey=error").Parse(preset.Text)
		if err != nil {
			return nil, fmt.Errorf("preset %q: %w", preset.ID, err)
		}
		p.tmpls[preset.ID] = t
		p.order = append(p.order, preset)
	}
	return p, nil
}

// Render executes one preset.
func (p *Presets) Render(id string, data PresetData) (string, bool, error) {
	if p == nil {
		return "", false, nil
	}
	t, ok := p.tmpls[id]
	if !ok {
		return "", false, nil
	}
	var sb strings.Builder
	if err := t.Execute(&sb, data); err != nil {
		return "", true, fmt.Errorf("preset %q: %w", id, err)
	}
	return sb.String(), true, nil
}

// RenderAll renders every preset for display in the confirmation dialog.
// Presets that fail to render are skipped.
func (p *Presets) RenderAll(data PresetData) []model.PresetView {
	if p == nil {
		return nil
	}
	out := make([]model.PresetView, 0, len(p.order))
	for _, preset := range p.order {
		text, _, err := p.Render(preset.ID, data)
		if err != nil {
			continue
		}
		out = append(out, model.PresetView{ID: preset.ID, Label: preset.Label, Text: text})
	}
	return out
}

// ResolveCapture turns a capture into the detail payload of a history item.
// An empty justification is filled from the selected preset. Extra values
// not declared by the rule are dropped.
func ResolveCapture(rule model.TransitionRule, c model.Capture, presets *Presets, data PresetData) (map[string]any, []model.FieldError) {
	if strings.TrimSpace(c.Justification) == "" && c.PresetID != "" {
		text, ok, err := presets.Render(c.PresetID, data)
		switch {
		case !ok:
			return nil, []model.FieldError{{
				Field:   "preset_id",
				Code:    CodeUnknownPreset,
				Message: fmt.Sprintf("unknown justification preset %q", c.PresetID),
			}}
		case err != nil:
			return nil, []model.FieldError{{
				Field:   "preset_id",
				Code:    CodeUnknownPreset,
				Message: err.Error(),
			}}
		}
		c.Justification = text
	}

	if errs := ValidateCapture(rule, c); len(errs) > 0 {
		return nil, errs
	}

	detail := make(map[string]any, len(rule.ExtraFields)+2)
	if j := strings.TrimSpace(c.Justification); j != "" {
		detail[model.DetailJustification] = j
	}
	if c.PresetID != "" {
		detail[model.DetailPresetID] = c.PresetID
	}
	for _, f := range rule.ExtraFields {
		if v := strings.TrimSpace(c.Fields[f.Name]); v != "" {
			detail[f.Name] = v
		}
	}
	return detail, nil
}
