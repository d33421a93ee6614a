package board

import (
	"sort"

	"github.com/pitabwire/catalogboard/model"
)

// BuildView projects a state onto the read model sent to the frontend. caps
// decides which destinations are allowed; a nil set allows all.
func BuildView(def *model.BoardDefinition, s *State, caps model.CapabilitySet) model.BoardView {
	v := model.BoardView{
		BoardID:  def.ID,
		Title:    def.Title,
		Revision: s.Revision,
		Filters:  s.Filters.Clone(),
		Columns:  make([]model.ColumnView, 0, len(s.Board.Order)),
	}
	for _, key := range s.Board.Order {
		col := s.Board.Columns[key]
		p := s.Pagers[key]
		cv := model.ColumnView{
			Key:      key,
			Name:     col.Name,
			Count:    s.Counts.Count(key),
			Loaded:   len(col.Entries),
			HasMore:  s.HasMore(key),
			Loading:  p.Loading,
			Expanded: p.Expanded,
			Rule: model.RuleView{
				RequiresConfirmation:  col.Rule.RequiresCapture(),
				JustificationRequired: col.Rule.JustificationRequired,
				Allowed:               caps == nil || caps.HasAll(col.Rule.Capabilities...),
			},
		}
		visible := s.VisibleEntries(key)
		cv.Entries = make([]model.EntryCard, 0, len(visible))
		for _, e := range visible {
			cv.Entries = append(cv.Entries, card(e, !s.HasPending(e.ID)))
		}
		v.Columns = append(v.Columns, cv)
	}
	for _, op := range s.Pending {
		v.Pending = append(v.Pending, op)
	}
	sort.Slice(v.Pending, func(i, j int) bool {
		return v.Pending[i].CreatedAt.Before(v.Pending[j].CreatedAt)
	})
	return v
}

func card(e model.CatalogEntry, draggable bool) model.EntryCard {
	c := model.EntryCard{
		ID:          e.ID,
		Title:       e.Title,
		Status:      e.CurrentStatus(),
		AssetRef:    e.AssetRef,
		MaterialRef: e.MaterialRef,
		LocationRef: e.LocationRef,
		Draggable:   draggable,
	}
	if len(e.ImageRefs) > 0 {
		c.ImageRef = e.ImageRefs[0]
	}
	if len(e.History) > 0 {
		c.UpdatedAt = e.History[0].Timestamp
		c.UpdatedBy = e.History[0].Author
	}
	return c
}
