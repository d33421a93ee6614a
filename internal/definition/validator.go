package definition

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/pitabwire/catalogboard/model"
)

// VError describes a single validation error in a definition.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// maxPageSize bounds the per-board page size.
const maxPageSize = 200

// Validator checks board definitions structurally.
type Validator struct{}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks all definitions, including board id uniqueness across
// files.
func (v *Validator) Validate(defs []model.BoardDefinition) []VError {
	var errs []VError
	seen := make(map[string]string, len(defs))
	for i, def := range defs {
		prefix := fmt.Sprintf("definitions[%d]", i)
		errs = append(errs, v.validateBoard(prefix, def)...)
		if def.ID == "" {
			continue
		}
		if first, dup := seen[def.ID]; dup {
			errs = append(errs, VError{
				Path:    prefix + ".board",
				Code:    "DUPLICATE",
				Message: fmt.Sprintf("board %q already defined in %s", def.ID, first),
			})
			continue
		}
		seen[def.ID] = def.SourceFile
	}
	return errs
}

func (v *Validator) validateBoard(prefix string, def model.BoardDefinition) []VError {
	var errs []VError

	if def.ID == "" {
		errs = append(errs, VError{Path: prefix + ".board", Code: "REQUIRED", Message: "board is required"})
	}
	if def.PageSize < 0 || def.PageSize > maxPageSize {
		errs = append(errs, VError{Path: prefix + ".page_size", Code: "RANGE", Message: fmt.Sprintf("page_size must be 0-%d", maxPageSize)})
	}
	errs = append(errs, validateCapabilities(prefix+".capabilities", def.Capabilities)...)
	if len(def.Columns) == 0 {
		errs = append(errs, VError{Path: prefix + ".columns", Code: "REQUIRED", Message: "at least one column is required"})
	}

	keys := make(map[string]bool, len(def.Columns))
	for i, c := range def.Columns {
		cp := fmt.Sprintf("%s.columns[%d]", prefix, i)
		switch {
		case c.Key == "":
			errs = append(errs, VError{Path: cp + ".key", Code: "REQUIRED", Message: "key is required"})
		case keys[c.Key]:
			errs = append(errs, VError{Path: cp + ".key", Code: "DUPLICATE", Message: fmt.Sprintf("column %q declared twice", c.Key)})
		}
		keys[c.Key] = true
		errs = append(errs, v.validateRule(cp+".rule", c.Rule)...)
	}

	ids := make(map[string]bool, len(def.Presets))
	for i, p := range def.Presets {
		pp := fmt.Sprintf("%s.presets[%d]", prefix, i)
		switch {
		case p.ID == "":
			errs = append(errs, VError{Path: pp + ".id", Code: "REQUIRED", Message: "id is required"})
		case ids[p.ID]:
			errs = append(errs, VError{Path: pp + ".id", Code: "DUPLICATE", Message: fmt.Sprintf("preset %q declared twice", p.ID)})
		}
		ids[p.ID] = true
		if _, err := template.New(p.ID).Parse(p.Text); err != nil {
			errs = append(errs, VError{Path: pp + ".text", Code: "INVALID_TEMPLATE", Message: err.Error()})
		}
	}

	return errs
}

var validFieldKinds = map[string]bool{
	model.FieldKindText:     true,
	model.FieldKindTextarea: true,
	model.FieldKindNumber:   true,
	model.FieldKindDate:     true,
	model.FieldKindSelect:   true,
}

func (v *Validator) validateRule(prefix string, r model.TransitionRule) []VError {
	var errs []VError

	names := make(map[string]bool, len(r.ExtraFields))
	for i, f := range r.ExtraFields {
		fp := fmt.Sprintf("%s.extra_fields[%d]", prefix, i)
		switch {
		case f.Name == "":
			errs = append(errs, VError{Path: fp + ".name", Code: "REQUIRED", Message: "name is required"})
		case f.Name == model.DetailJustification || f.Name == model.DetailPresetID:
			errs = append(errs, VError{Path: fp + ".name", Code: "RESERVED", Message: fmt.Sprintf("field name %q is reserved", f.Name)})
		case names[f.Name]:
			errs = append(errs, VError{Path: fp + ".name", Code: "DUPLICATE", Message: fmt.Sprintf("field %q declared twice", f.Name)})
		}
		names[f.Name] = true

		if !validFieldKinds[f.Kind] {
			errs = append(errs, VError{Path: fp + ".kind", Code: "INVALID_ENUM", Message: fmt.Sprintf("invalid field kind %q", f.Kind)})
		}
		if f.Kind == model.FieldKindSelect && len(f.Options) == 0 {
			errs = append(errs, VError{Path: fp + ".options", Code: "REQUIRED", Message: "select fields need at least one option"})
		}
	}

	return append(errs, validateCapabilities(prefix+".capabilities", r.Capabilities)...)
}

func validateCapabilities(path string, caps []string) []VError {
	var errs []VError
	for _, c := range caps {
		if ns, action, ok := strings.Cut(c, ":"); (!ok || ns == "" || action == "") && c != "*" {
			errs = append(errs, VError{
				Path:    path,
				Code:    "INVALID_FORMAT",
				Message: fmt.Sprintf("capability %q is not of the form namespace:action", c),
			})
		}
	}
	return errs
}
