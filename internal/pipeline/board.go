package pipeline

import "github.com/noah-isme/academy-crm-api/internal/models"

// Column is one stage partition of the visible leads.
type Column struct {
	Stage models.LeadStage `json:"stage"`
	Label string           `json:"label"`
	Leads []models.Lead    `json:"leads"`
}

// Board is an immutable snapshot of an organisation's leads in fetch order (newest first).
type Board struct {
	leads []models.Lead
	index map[string]int
}

// NewBoard copies leads into a snapshot. Duplicate ids keep their first occurrence.
func NewBoard(leads []models.Lead) *Board {
	b := &Board{
		leads: make([]models.Lead, 0, len(leads)),
		index: make(map[string]int, len(leads)),
	}
	for _, lead := range leads {
		if _, dup := b.index[lead.ID]; dup {
			continue
		}
		b.index[lead.ID] = len(b.leads)
		b.leads = append(b.leads, lead)
	}
	return b
}

// Len is the number of leads in the snapshot.
func (b *Board) Len() int {
	return len(b.leads)
}

// Leads returns a copy of the snapshot.
func (b *Board) Leads() []models.Lead {
	out := make([]models.Lead, len(b.leads))
	copy(out, b.leads)
	return out
}

// Find looks a lead up by id.
func (b *Board) Find(id string) (models.Lead, bool) {
	i, ok := b.index[id]
	if !ok {
		return models.Lead{}, false
	}
	return b.leads[i], true
}

// IDs returns every lead id in snapshot order.
func (b *Board) IDs() []string {
	ids := make([]string, len(b.leads))
	for i, lead := range b.leads {
		ids[i] = lead.ID
	}
	return ids
}

// LeadsByStage returns the leads in stage, snapshot order preserved.
func (b *Board) LeadsByStage(stage models.LeadStage) []models.Lead {
	out := make([]models.Lead, 0)
	for _, lead := range b.leads {
		if lead.Stage == stage {
			out = append(out, lead)
		}
	}
	return out
}

// Visible applies filter to the snapshot.
func (b *Board) Visible(filter Filter) []models.Lead {
	return filter.Apply(b.leads)
}

// Columns partitions the visible leads into one column per stage in board order.
// Every visible lead lands in exactly one column.
func (b *Board) Columns(filter Filter) []Column {
	stages := models.LeadStages()
	columns := make([]Column, len(stages))
	pos := make(map[models.LeadStage]int, len(stages))
	for i, stage := range stages {
		columns[i] = Column{Stage: stage, Label: stage.Label(), Leads: make([]models.Lead, 0)}
		pos[stage] = i
	}

	for _, lead := range b.Visible(filter) {
		i, ok := pos[lead.Stage]
		if !ok {
			continue
		}
		columns[i].Leads = append(columns[i].Leads, lead)
	}
	return columns
}

// Counts is the unfiltered number of leads per stage. Every stage has an entry.
func (b *Board) Counts() map[models.LeadStage]int {
	counts := make(map[models.LeadStage]int, len(models.LeadStages()))
	for _, stage := range models.LeadStages() {
		counts[stage] = 0
	}
	for _, lead := range b.leads {
		counts[lead.Stage]++
	}
	return counts
}
