package pipeline

import (
	"github.com/noah-isme/academy-crm-api/internal/models"
	appErrors "github.com/noah-isme/academy-crm-api/pkg/errors"
)

// PlanMove computes the patch that moves lead to target. changed is false when the lead
// already sits in target. Moving to lost is an archive so provenance is captured.
func PlanMove(lead models.Lead, target models.LeadStage) (models.LeadPatch, bool, error) {
	if !target.Valid() {
		return models.LeadPatch{}, false, appErrors.Clone(appErrors.ErrInvalidStage, "invalid target stage: "+string(target))
	}
	if lead.Stage == target {
		return models.LeadPatch{}, false, nil
	}
	if target == models.LeadStageLost {
		patch, err := PlanArchive(lead)
		if err != nil {
			return models.LeadPatch{}, false, err
		}
		return patch, true, nil
	}

	patch := models.LeadPatch{Stage: stagePtr(target)}
	if lead.Archived() || lead.OriginalStage != nil {
		patch.ClearOriginalStage = true
	}
	return patch, true, nil
}

// PlanArchive records the current stage as provenance and moves the lead to lost.
// Archiving twice would overwrite the true prior stage, so it is refused.
func PlanArchive(lead models.Lead) (models.LeadPatch, error) {
	if lead.Archived() {
		return models.LeadPatch{}, appErrors.Clone(appErrors.ErrAlreadyArchived, "lead "+lead.ID+" is already archived")
	}
	if !lead.Stage.Valid() {
		return models.LeadPatch{}, appErrors.Clone(appErrors.ErrInvalidStage, "lead "+lead.ID+" has an invalid stage")
	}

	stage, prior := ArchivedFrom(lead.Stage).Flatten()
	return models.LeadPatch{Stage: stagePtr(stage), OriginalStage: prior}, nil
}

// PlanRestore returns an archived lead to the stage it was archived from, or new when
// that is unknown, and clears the provenance.
func PlanRestore(lead models.Lead) (models.LeadPatch, models.LeadStage, error) {
	if !lead.Archived() {
		return models.LeadPatch{}, "", appErrors.Clone(appErrors.ErrNotArchived, "lead "+lead.ID+" is not archived")
	}

	target := StateOf(lead).RestoreTarget()
	return models.LeadPatch{Stage: stagePtr(target), ClearOriginalStage: true}, target, nil
}

// IsConversion reports whether moving from one stage to another converts the lead.
func IsConversion(from, to models.LeadStage) bool {
	return to == models.LeadStageConverted && from != models.LeadStageConverted
}

func stagePtr(stage models.LeadStage) *models.LeadStage {
	return &stage
}
