package pipeline

import (
	"sort"

	"github.com/noah-isme/academy-crm-api/internal/models"
)

// Selection is the set of lead ids picked for a bulk action. It is keyed by id so filter
// changes never invalidate it; only Prune drops ids, once the leads themselves are gone.
type Selection struct {
	ids map[string]struct{}
}

// NewSelection seeds a selection with ids.
func NewSelection(ids ...string) *Selection {
	s := &Selection{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		s.Toggle(id, true)
	}
	return s
}

// Toggle adds or removes id. Repeating a toggle is a no-op.
func (s *Selection) Toggle(id string, selected bool) {
	if id == "" {
		return
	}
	if s.ids == nil {
		s.ids = make(map[string]struct{})
	}
	if selected {
		s.ids[id] = struct{}{}
		return
	}
	delete(s.ids, id)
}

// ToggleStage selects or deselects exactly the visible leads in stage. Selections in other
// stages are untouched.
func (s *Selection) ToggleStage(stage models.LeadStage, selectAll bool, visible []models.Lead) {
	for _, lead := range visible {
		if lead.Stage == stage {
			s.Toggle(lead.ID, selectAll)
		}
	}
}

// SelectAll adds every visible lead.
func (s *Selection) SelectAll(visible []models.Lead) {
	for _, lead := range visible {
		s.Toggle(lead.ID, true)
	}
}

// Clear empties the selection.
func (s *Selection) Clear() {
	s.ids = make(map[string]struct{})
}

// Remove deselects ids.
func (s *Selection) Remove(ids ...string) {
	for _, id := range ids {
		delete(s.ids, id)
	}
}

// Prune intersects the selection with the ids that still exist and returns how many were dropped.
func (s *Selection) Prune(surviving []string) int {
	alive := make(map[string]struct{}, len(surviving))
	for _, id := range surviving {
		alive[id] = struct{}{}
	}
	dropped := 0
	for id := range s.ids {
		if _, ok := alive[id]; !ok {
			delete(s.ids, id)
			dropped++
		}
	}
	return dropped
}

// Contains reports whether id is selected.
func (s *Selection) Contains(id string) bool {
	_, ok := s.ids[id]
	return ok
}

// Len is the total number of selected ids, visible or not.
func (s *Selection) Len() int {
	return len(s.ids)
}

// VisibleCount is the number of selected ids among visible.
func (s *Selection) VisibleCount(visible []models.Lead) int {
	n := 0
	for _, lead := range visible {
		if s.Contains(lead.ID) {
			n++
		}
	}
	return n
}

// IDs returns the selected ids sorted.
func (s *Selection) IDs() []string {
	ids := make([]string, 0, len(s.ids))
	for id := range s.ids {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
