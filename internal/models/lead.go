package models

import (
	"strings"
	"time"

	appErrors "github.com/noah-isme/academy-crm-api/pkg/errors"
)

// LeadStage is the pipeline column a lead sits in. LeadStageLost doubles as the archive marker.
type LeadStage string

const (
	LeadStageNew       LeadStage = "new"
	LeadStageContacted LeadStage = "contacted"
	LeadStageQualified LeadStage = "qualified"
	LeadStageConverted LeadStage = "converted"
	LeadStageLost      LeadStage = "lost"
)

var leadStages = []LeadStage{
	LeadStageNew,
	LeadStageContacted,
	LeadStageQualified,
	LeadStageConverted,
	LeadStageLost,
}

// LeadStages returns the fixed board order. The slice is a copy.
func LeadStages() []LeadStage {
	out := make([]LeadStage, len(leadStages))
	copy(out, leadStages)
	return out
}

// Valid reports whether s is one of the five pipeline stages.
func (s LeadStage) Valid() bool {
	for _, stage := range leadStages {
		if s == stage {
			return true
		}
	}
	return false
}

// Label is the column heading shown on the board.
func (s LeadStage) Label() string {
	switch s {
	case LeadStageNew:
		return "New Leads"
	case LeadStageContacted:
		return "Contacted"
	case LeadStageQualified:
		return "Qualified"
	case LeadStageConverted:
		return "Converted"
	case LeadStageLost:
		return "Lost / Archived"
	default:
		return string(s)
	}
}

// ParseLeadStage normalises raw and rejects anything outside the fixed set.
func ParseLeadStage(raw string) (LeadStage, error) {
	stage := LeadStage(strings.ToLower(strings.TrimSpace(raw)))
	if !stage.Valid() {
		return "", appErrors.Clone(appErrors.ErrInvalidStage, "invalid lead stage: "+raw)
	}
	return stage, nil
}

// LeadSource records where a lead came from.
type LeadSource string

const (
	LeadSourceWebsiteForm LeadSource = "Website Form"
	LeadSourceFacebookAd  LeadSource = "Facebook Ad"
	LeadSourceGoogleAd    LeadSource = "Google Ad"
	LeadSourceReferral    LeadSource = "Referral"
	LeadSourceWalkIn      LeadSource = "Walk-in"
	LeadSourceOther       LeadSource = "Other"
)

var leadSources = []LeadSource{
	LeadSourceWebsiteForm,
	LeadSourceFacebookAd,
	LeadSourceGoogleAd,
	LeadSourceReferral,
	LeadSourceWalkIn,
	LeadSourceOther,
}

// LeadSources returns every accepted source.
func LeadSources() []LeadSource {
	out := make([]LeadSource, len(leadSources))
	copy(out, leadSources)
	return out
}

// ParseLeadSource matches raw case-insensitively against the known sources.
func ParseLeadSource(raw string) (LeadSource, error) {
	trimmed := strings.TrimSpace(raw)
	for _, source := range leadSources {
		if strings.EqualFold(trimmed, string(source)) {
			return source, nil
		}
	}
	return "", appErrors.Clone(appErrors.ErrInvalidSource, "invalid lead source: "+raw)
}

// NotYetContacted is displayed when a lead has no recorded contact.
const NotYetContacted = "Not yet"

// Lead is a prospective student tracked on the pipeline board.
type Lead struct {
	ID              string     `db:"id" json:"id"`
	OrganizationID  string     `db:"organization_id" json:"organization_id"`
	Name            string     `db:"name" json:"name"`
	Email           string     `db:"email" json:"email"`
	Phone           string     `db:"phone" json:"phone"`
	Instrument      string     `db:"instrument" json:"instrument"`
	Source          LeadSource `db:"source" json:"source"`
	Notes           string     `db:"notes" json:"notes"`
	Stage           LeadStage  `db:"stage" json:"stage"`
	OriginalStage   *LeadStage `db:"original_stage" json:"original_stage,omitempty"`
	LastContactedAt *time.Time `db:"last_contacted_at" json:"last_contacted_at,omitempty"`
	CreatedBy       string     `db:"created_by" json:"created_by"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// Archived is derived from the stage; there is no separate column.
func (l Lead) Archived() bool {
	return l.Stage == LeadStageLost
}

// LastContactDisplay renders the last contact time or "Not yet".
func (l Lead) LastContactDisplay() string {
	if l.LastContactedAt == nil || l.LastContactedAt.IsZero() {
		return NotYetContacted
	}
	return l.LastContactedAt.UTC().Format(time.RFC3339)
}

// LeadPatch is a partial update. Nil fields are left untouched.
type LeadPatch struct {
	Name               *string
	Email              *string
	Phone              *string
	Instrument         *string
	Source             *LeadSource
	Notes              *string
	Stage              *LeadStage
	OriginalStage      *LeadStage
	ClearOriginalStage bool
	LastContactedAt    *time.Time
}

// IsEmpty reports whether applying the patch would change nothing.
func (p LeadPatch) IsEmpty() bool {
	return p.Name == nil && p.Email == nil && p.Phone == nil && p.Instrument == nil &&
		p.Source == nil && p.Notes == nil && p.Stage == nil && p.OriginalStage == nil &&
		!p.ClearOriginalStage && p.LastContactedAt == nil
}

// Apply returns a copy of lead with the patch applied, mirroring what the store persists.
func (p LeadPatch) Apply(lead Lead) Lead {
	if p.Name != nil {
		lead.Name = *p.Name
	}
	if p.Email != nil {
		lead.Email = *p.Email
	}
	if p.Phone != nil {
		lead.Phone = *p.Phone
	}
	if p.Instrument != nil {
		lead.Instrument = *p.Instrument
	}
	if p.Source != nil {
		lead.Source = *p.Source
	}
	if p.Notes != nil {
		lead.Notes = *p.Notes
	}
	if p.Stage != nil {
		lead.Stage = *p.Stage
	}
	if p.ClearOriginalStage {
		lead.OriginalStage = nil
	} else if p.OriginalStage != nil {
		stage := *p.OriginalStage
		lead.OriginalStage = &stage
	}
	if p.LastContactedAt != nil {
		ts := *p.LastContactedAt
		lead.LastContactedAt = &ts
	}
	return lead
}

// LeadListFilter narrows a store listing. Results are always newest first.
type LeadListFilter struct {
	Stages []LeadStage
}

// ContactChannel identifies how a lead was contacted.
type ContactChannel string

const (
	ContactChannelCall  ContactChannel = "call"
	ContactChannelEmail ContactChannel = "email"
)

// ParseContactChannel validates raw.
func ParseContactChannel(raw string) (ContactChannel, error) {
	switch ch := ContactChannel(strings.ToLower(strings.TrimSpace(raw))); ch {
	case ContactChannelCall, ContactChannelEmail:
		return ch, nil
	default:
		return "", appErrors.Clone(appErrors.ErrValidation, "contact channel must be call or email")
	}
}
