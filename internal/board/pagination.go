package board

import "github.com/pitabwire/catalogboard/model"

// DefaultPageSize is used when neither the definition nor the configuration
// sets a page size.
const DefaultPageSize = 20

// Pager is the pagination state of one column.
type Pager struct {
	PageSize int
	// Visible is how many loaded entries are shown.
	Visible int
	// LastPageLen is the length of the most recent page received.
	LastPageLen int
	// TotalKnown reports whether the catalog reported a total for the
	// column's current filters.
	TotalKnown bool
	Loading    bool
	Expanded   bool
}

// NewPager returns the pager of a column before its first fetch.
func NewPager(pageSize int) Pager {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return Pager{PageSize: pageSize}
}

// HasMore reports whether "show more" has anything to reveal. loaded is the
// number of loaded entries and count the column's ledger count.
func (p Pager) HasMore(loaded, count int) bool {
	if p.Visible < loaded {
		return true
	}
	if p.TotalKnown {
		return loaded < count
	}
	return p.LastPageLen >= p.PageSize
}

// NeedsFetch reports whether revealing more requires a catalog read.
func (p Pager) NeedsFetch(loaded int) bool {
	return p.Visible >= loaded
}

// Reveal advances the visible cursor by one page without fetching.
func (p Pager) Reveal(loaded int) Pager {
	p.Visible = min(p.Visible+p.PageSize, loaded)
	return p
}

// VisibleCount returns how many of the loaded entries are shown. Expanded
// columns show everything loaded.
func (p Pager) VisibleCount(loaded int) int {
	if p.Expanded {
		return loaded
	}
	return min(p.Visible, loaded)
}

// Replaced returns the pager after a from-scratch load of one page.
func (p Pager) Replaced(page model.EntryPage) Pager {
	p.LastPageLen = len(page.Entries)
	p.TotalKnown = page.Total != nil
	p.Visible = min(p.PageSize, len(page.Entries))
	p.Loading = false
	return p
}

// Appended returns the pager after a "show more" page was merged and the
// column now holds loaded entries.
func (p Pager) Appended(page model.EntryPage, loaded int) Pager {
	p.LastPageLen = len(page.Entries)
	if page.Total != nil {
		p.TotalKnown = true
	}
	p.Visible = min(p.Visible+p.PageSize, loaded)
	p.Loading = false
	return p
}

// MergeByID appends to existing the entries of page whose ids are not yet in
// existing, keeping existing order untouched. It returns the merged slice
// and how many entries were added.
func MergeByID(existing, page []model.CatalogEntry) ([]model.CatalogEntry, int) {
	seen := make(map[string]bool, len(existing)+len(page))
	out := make([]model.CatalogEntry, 0, len(existing)+len(page))
	for _, e := range existing {
		seen[e.ID] = true
		out = append(out, e)
	}
	added := 0
	for _, e := range page {
		if seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		out = append(out, e.Clone())
		added++
	}
	return out, added
}
