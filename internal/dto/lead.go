package dto

import (
	"time"

	"github.com/noah-isme/academy-crm-api/internal/models"
	"github.com/noah-isme/academy-crm-api/internal/pipeline"
)

// CreateLeadRequest is the "add lead" form.
type CreateLeadRequest struct {
	Name       string `json:"name" validate:"required,max=200"`
	Email      string `json:"email" validate:"omitempty,email,max=254"`
	Phone      string `json:"phone" validate:"omitempty,max=40"`
	Instrument string `json:"instrument" validate:"omitempty,max=100"`
	Source     string `json:"source" validate:"omitempty,lead_source"`
	Notes      string `json:"notes" validate:"omitempty,max=4000"`
	Stage      string `json:"stage" validate:"omitempty,lead_stage"`
}

// UpdateLeadRequest edits lead fields. Omitted fields are left alone; stage changes go through move.
type UpdateLeadRequest struct {
	Name       *string `json:"name" validate:"omitempty,min=1,max=200"`
	Email      *string `json:"email" validate:"omitempty,email,max=254"`
	Phone      *string `json:"phone" validate:"omitempty,max=40"`
	Instrument *string `json:"instrument" validate:"omitempty,max=100"`
	Source     *string `json:"source" validate:"omitempty,lead_source"`
	Notes      *string `json:"notes" validate:"omitempty,max=4000"`
}

// MoveLeadRequest moves a lead to another column.
type MoveLeadRequest struct {
	Stage string `json:"stage" validate:"required,lead_stage"`
}

// ContactLeadRequest records a call or email.
type ContactLeadRequest struct {
	Channel string `json:"channel" validate:"required,oneof=call email"`
}

// BulkLeadRequest targets explicit ids, or the caller's board selection when ids is empty.
type BulkLeadRequest struct {
	IDs   []string `json:"ids" validate:"omitempty,max=500,dive,required"`
	Stage string   `json:"stage" validate:"omitempty,lead_stage"`
}

// LeadQuery mirrors the list and board query string.
type LeadQuery struct {
	Query   string `form:"q"`
	Stage   string `form:"stage"`
	Source  string `form:"source"`
	Refresh bool   `form:"refresh"`
}

// SelectionRequest toggles one lead.
type SelectionRequest struct {
	LeadID   string `json:"leadId" validate:"required"`
	Selected *bool  `json:"selected" validate:"required"`
}

// StageSelectionRequest toggles every visible lead of a column.
type StageSelectionRequest struct {
	Stage     string `json:"stage" validate:"required,lead_stage"`
	SelectAll *bool  `json:"selectAll" validate:"required"`
}

// DragStartRequest picks a card up.
type DragStartRequest struct {
	LeadID string `json:"leadId" validate:"required"`
}

// DropRequest releases the card. A missing stage means it was dropped outside the board.
type DropRequest struct {
	Stage *string `json:"stage"`
}

// LeadView is a lead with its display-only fields.
type LeadView struct {
	models.Lead
	Archived    bool   `json:"archived"`
	LastContact string `json:"last_contact"`
}

// NewLeadView decorates lead.
func NewLeadView(lead models.Lead) LeadView {
	return LeadView{Lead: lead, Archived: lead.Archived(), LastContact: lead.LastContactDisplay()}
}

// NewLeadViews decorates every lead.
func NewLeadViews(leads []models.Lead) []LeadView {
	out := make([]LeadView, len(leads))
	for i, lead := range leads {
		out[i] = NewLeadView(lead)
	}
	return out
}

// FailedItem explains why one lead of a bulk action failed.
type FailedItem struct {
	LeadID string `json:"leadId"`
	Code   string `json:"code"`
	Error  string `json:"error"`
}

// MutationOutcome is the user-facing result of any state-changing board action.
type MutationOutcome struct {
	Success   bool         `json:"success"`
	Message   string       `json:"message"`
	Lead      *LeadView    `json:"lead,omitempty"`
	Succeeded []string     `json:"succeeded,omitempty"`
	Failed    []FailedItem `json:"failed,omitempty"`
	Affected  int64        `json:"affected,omitempty"`
}

// BoardColumn is one rendered stage column.
type BoardColumn struct {
	Stage models.LeadStage `json:"stage"`
	Label string           `json:"label"`
	Count int              `json:"count"`
	Leads []LeadView       `json:"leads"`
}

// SelectionView summarises the caller's selection against the current view.
type SelectionView struct {
	IDs     []string `json:"ids"`
	Total   int      `json:"total"`
	Visible int      `json:"visible"`
}

// FilterView echoes the filter applied to the board.
type FilterView struct {
	Query  string `json:"q"`
	Stage  string `json:"stage"`
	Source string `json:"source"`
}

// BoardView is the full board payload.
type BoardView struct {
	Columns   []BoardColumn            `json:"columns"`
	Counts    map[models.LeadStage]int `json:"counts"`
	Total     int                      `json:"total"`
	Visible   int                      `json:"visible"`
	Selection SelectionView            `json:"selection"`
	Drag      pipeline.DragState       `json:"drag"`
	Filter    FilterView               `json:"filter"`
	LoadedAt  time.Time                `json:"loadedAt"`
}
