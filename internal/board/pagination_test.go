package board

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pitabwire/catalogboard/model"
)

func TestPager_HasMore(t *testing.T) {
	tests := []struct {
		name   string
		pager  Pager
		loaded int
		count  int
		want   bool
	}{
		{"hidden loaded entries", Pager{PageSize: 2, Visible: 2, LastPageLen: 2, TotalKnown: true}, 3, 3, true},
		{"known total not reached", Pager{PageSize: 2, Visible: 2, TotalKnown: true}, 2, 5, true},
		{"known total reached", Pager{PageSize: 2, Visible: 5, LastPageLen: 2, TotalKnown: true}, 5, 5, false},
		{"unknown total, full last page", Pager{PageSize: 2, Visible: 2, LastPageLen: 2}, 2, 2, true},
		{"unknown total, short last page", Pager{PageSize: 2, Visible: 3, LastPageLen: 1}, 3, 3, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.pager.HasMore(tt.loaded, tt.count))
		})
	}
}

func TestPager_RevealAndVisibleCount(t *testing.T) {
	p := NewPager(2)
	p.Visible = 2

	p = p.Reveal(3)
	assert.Equal(t, 3, p.Visible)
	assert.Equal(t, 3, p.VisibleCount(10))

	p.Expanded = true
	assert.Equal(t, 10, p.VisibleCount(10), "expanded columns show every loaded entry")
}

func TestNewPager_defaultPageSize(t *testing.T) {
	assert.Equal(t, DefaultPageSize, NewPager(0).PageSize)
}

func TestPager_Replaced(t *testing.T) {
	total := 9
	p := NewPager(3)
	p.Loading = true
	p.Expanded = true

	p = p.Replaced(model.EntryPage{Entries: make([]model.CatalogEntry, 3), Total: &total})

	assert.Equal(t, Pager{PageSize: 3, Visible: 3, LastPageLen: 3, TotalKnown: true, Expanded: true}, p)
}

func TestMergeByID_noDuplicates(t *testing.T) {
	existing := []model.CatalogEntry{entry("e1", "A"), entry("e2", "A")}
	page := []model.CatalogEntry{entry("e2", "A"), entry("e3", "A"), entry("e3", "A"), entry("e1", "A")}

	merged, added := MergeByID(existing, page)

	assert.Equal(t, []string{"e1", "e2", "e3"}, ids(merged))
	assert.Equal(t, 1, added)
	assert.Equal(t, []string{"e1", "e2"}, ids(existing), "existing slice is untouched")
}
