package model

// EntryFilters narrows the entries fetched for every column of a board.
// Empty fields do not constrain the read.
type EntryFilters struct {
	Material  string            `json:"material,omitempty"`
	Custodian string            `json:"custodian,omitempty"`
	Hierarchy string            `json:"hierarchy,omitempty"`
	Text      string            `json:"text,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// Clone returns a copy of the filters with its own Extra map.
func (f EntryFilters) Clone() EntryFilters {
	out := f
	if f.Extra != nil {
		out.Extra = make(map[string]string, len(f.Extra))
		for k, v := range f.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// EntryQuery is one filtered, paginated read of a single workflow status.
type EntryQuery struct {
	Status  string
	Filters EntryFilters
	Offset  int
	Limit   int
}

// EntryPage is the result of an EntryQuery. Total is nil when the catalog
// did not report a total count.
type EntryPage struct {
	Entries []CatalogEntry `json:"entries"`
	Total   *int           `json:"total,omitempty"`
}

// TransitionRequest is the payload of a remote status transition.
type TransitionRequest struct {
	EntryID   string         `json:"-"`
	NewStatus string         `json:"new_status"`
	Detail    map[string]any `json:"detail"`
}
