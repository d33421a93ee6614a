package catalog

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/pitabwire/catalogboard/internal/config"
	"github.com/pitabwire/catalogboard/model"
)

// decodePage extracts entries and the optional total from a list response.
func decodePage(body []byte, rc config.CatalogResponseConfig) (model.EntryPage, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return model.EntryPage{}, fmt.Errorf("catalog: decode list response: %w", err)
	}

	raw, ok := valueAt(doc, rc.ItemsPath)
	if !ok {
		return model.EntryPage{}, fmt.Errorf("catalog: list response has no %q", rc.ItemsPath)
	}
	items, err := json.Marshal(raw)
	if err != nil {
		return model.EntryPage{}, fmt.Errorf("catalog: re-encode items: %w", err)
	}
	page := model.EntryPage{Entries: []model.CatalogEntry{}}
	if err := json.Unmarshal(items, &page.Entries); err != nil {
		return model.EntryPage{}, fmt.Errorf("catalog: decode entries: %w", err)
	}

	if rc.TotalPath != "" {
		if v, ok := valueAt(doc, rc.TotalPath); ok {
			if f, isNum := v.(float64); isNum && f >= 0 && f == math.Trunc(f) {
				total := int(f)
				page.Total = &total
			}
		}
	}
	return page, nil
}

// valueAt walks a dot-separated path through nested objects. An empty path
// returns doc itself.
func valueAt(doc any, path string) (any, bool) {
	if path == "" {
		return doc, true
	}
	cur := doc
	for _, key := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = obj[key]; !ok {
			return nil, false
		}
	}
	return cur, cur != nil
}
