package definition

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/pitabwire/catalogboard/model"
)

// snapshot is an immutable set of boards indexed by id.
type snapshot struct {
	boards   map[string]*model.BoardDefinition
	ordered  []*model.BoardDefinition
	checksum string
}

// Registry is a read-optimized, thread-safe store of loaded boards. Readers
// never lock; Replace swaps the whole snapshot.
type Registry struct {
	snap atomic.Pointer[snapshot]
}

// NewRegistry creates a Registry from the given definitions.
func NewRegistry(defs []model.BoardDefinition) *Registry {
	r := &Registry{}
	r.Replace(defs)
	return r
}

// Replace atomically swaps the registry contents. Pointers handed out before
// the swap keep referring to the previous definitions.
func (r *Registry) Replace(defs []model.BoardDefinition) {
	s := &snapshot{
		boards:  make(map[string]*model.BoardDefinition, len(defs)),
		ordered: make([]*model.BoardDefinition, 0, len(defs)),
	}

	checksumParts := make([]string, 0, len(defs))
	for i := range defs {
		def := defs[i]
		s.boards[def.ID] = &def
		s.ordered = append(s.ordered, &def)
		checksumParts = append(checksumParts, def.Checksum)
	}
	sort.Slice(s.ordered, func(i, j int) bool { return s.ordered[i].ID < s.ordered[j].ID })

	sort.Strings(checksumParts)
	combined := strings.Join(checksumParts, ":")
	s.checksum = fmt.Sprintf("%x", sha256.Sum256([]byte(combined)))

	r.snap.Store(s)
}

func (r *Registry) current() *snapshot {
	return r.snap.Load()
}

// Get returns the board with the given id.
func (r *Registry) Get(boardID string) (*model.BoardDefinition, bool) {
	b, ok := r.current().boards[boardID]
	return b, ok
}

// All returns every board ordered by id.
func (r *Registry) All() []*model.BoardDefinition {
	s := r.current()
	return append([]*model.BoardDefinition(nil), s.ordered...)
}

// Visible returns the boards whose capabilities caps satisfies.
func (r *Registry) Visible(caps model.CapabilitySet) []*model.BoardDefinition {
	var out []*model.BoardDefinition
	for _, b := range r.current().ordered {
		if caps.HasAll(b.Capabilities...) {
			out = append(out, b)
		}
	}
	return out
}

// Len returns the number of loaded boards.
func (r *Registry) Len() int {
	return len(r.current().boards)
}

// Checksum returns the combined checksum of all loaded definitions.
func (r *Registry) Checksum() string {
	return r.current().checksum
}
