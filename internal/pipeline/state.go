package pipeline

import "github.com/noah-isme/academy-crm-api/internal/models"

// State is the lead lifecycle as a tagged union: either active in a working stage or
// archived with the stage it was archived from. Storage keeps the flat stage/original_stage shape.
type State struct {
	archived bool
	stage    models.LeadStage
}

// ActiveIn builds an active state. Callers must not pass LeadStageLost.
func ActiveIn(stage models.LeadStage) State {
	return State{stage: stage}
}

// ArchivedFrom builds an archived state. An unusable prior is remembered as unknown.
func ArchivedFrom(prior models.LeadStage) State {
	if !prior.Valid() || prior == models.LeadStageLost {
		prior = ""
	}
	return State{archived: true, stage: prior}
}

// StateOf lifts the persisted lead shape into a State.
func StateOf(lead models.Lead) State {
	if !lead.Archived() {
		return ActiveIn(lead.Stage)
	}
	if lead.OriginalStage == nil {
		return ArchivedFrom("")
	}
	return ArchivedFrom(*lead.OriginalStage)
}

// Archived reports whether the lead is on the lost column.
func (s State) Archived() bool {
	return s.archived
}

// Stage is the column the lead renders in.
func (s State) Stage() models.LeadStage {
	if s.archived {
		return models.LeadStageLost
	}
	return s.stage
}

// Prior returns the stage an archived lead came from, if known.
func (s State) Prior() (models.LeadStage, bool) {
	if !s.archived || s.stage == "" {
		return "", false
	}
	return s.stage, true
}

// RestoreTarget is where Restore sends an archived lead: its prior stage, else new.
func (s State) RestoreTarget() models.LeadStage {
	if prior, ok := s.Prior(); ok {
		return prior
	}
	return models.LeadStageNew
}

// Flatten maps the state back onto the stage and original_stage columns.
func (s State) Flatten() (models.LeadStage, *models.LeadStage) {
	if !s.archived {
		return s.stage, nil
	}
	if prior, ok := s.Prior(); ok {
		return models.LeadStageLost, &prior
	}
	return models.LeadStageLost, nil
}
