package pipeline

import (
	"time"

	"github.com/noah-isme/academy-crm-api/internal/models"
)

var fixtureTime = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func lead(id, name string, stage models.LeadStage) models.Lead {
	return models.Lead{
		ID:             id,
		OrganizationID: "org-1",
		Name:           name,
		Source:         models.LeadSourceWebsiteForm,
		Stage:          stage,
		CreatedAt:      fixtureTime,
		UpdatedAt:      fixtureTime,
	}
}

func archivedLead(id string, prior models.LeadStage) models.Lead {
	l := lead(id, "Archived "+id, models.LeadStageLost)
	l.OriginalStage = &prior
	return l
}

func stageRef(stage models.LeadStage) *models.LeadStage {
	return &stage
}

func ids(leads []models.Lead) []string {
	out := make([]string, len(leads))
	for i, l := range leads {
		out[i] = l.ID
	}
	return out
}
