package model

import "time"

// CatalogEntry is a catalog/asset record tracked through the workflow. Its
// history is append-only and ordered most-recent-first, so the current
// workflow status is the status of the first history item.
type CatalogEntry struct {
	ID          string                `json:"id"`
	Title       string                `json:"title,omitempty"`
	AssetRef    string                `json:"asset_ref,omitempty"`
	MaterialRef string                `json:"material_ref,omitempty"`
	LocationRef string                `json:"location_ref,omitempty"`
	ImageRefs   []string              `json:"image_refs,omitempty"`
	History     []WorkflowHistoryItem `json:"history"`
}

// WorkflowHistoryItem records one status an entry entered.
type WorkflowHistoryItem struct {
	ID        string         `json:"id"`
	Status    string         `json:"status"`
	Detail    map[string]any `json:"detail,omitempty"`
	Author    string         `json:"author,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Detail keys written into a history item by a transition.
const (
	DetailJustification = "justification"
	DetailPresetID      = "justification_preset"
)

// CurrentStatus returns the status of the newest history item, or "" when
// the entry has no history.
func (e CatalogEntry) CurrentStatus() string {
	if len(e.History) == 0 {
		return ""
	}
	return e.History[0].Status
}

// Clone returns a deep copy of the entry. Detail maps are copied one level
// deep; nested values are shared.
func (e CatalogEntry) Clone() CatalogEntry {
	out := e
	if e.ImageRefs != nil {
		out.ImageRefs = append([]string(nil), e.ImageRefs...)
	}
	if e.History != nil {
		out.History = make([]WorkflowHistoryItem, len(e.History))
		for i, item := range e.History {
			out.History[i] = item.Clone()
		}
	}
	return out
}

// WithHistoryItem returns a copy of the entry with item prepended to its
// history. The receiver is not modified.
func (e CatalogEntry) WithHistoryItem(item WorkflowHistoryItem) CatalogEntry {
	out := e.Clone()
	history := make([]WorkflowHistoryItem, 0, len(out.History)+1)
	history = append(history, item)
	history = append(history, out.History...)
	out.History = history
	return out
}

// Clone returns a copy of the item with its own detail map.
func (h WorkflowHistoryItem) Clone() WorkflowHistoryItem {
	out := h
	if h.Detail != nil {
		out.Detail = make(map[string]any, len(h.Detail))
		for k, v := range h.Detail {
			out.Detail[k] = v
		}
	}
	return out
}

// CloneEntries deep-copies a slice of entries. A nil slice stays nil.
func CloneEntries(entries []CatalogEntry) []CatalogEntry {
	if entries == nil {
		return nil
	}
	out := make([]CatalogEntry, len(entries))
	for i, e := range entries {
		out[i] = e.Clone()
	}
	return out
}
