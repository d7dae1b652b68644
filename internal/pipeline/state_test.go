package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/academy-crm-api/internal/models"
)

func TestStateOfActiveLead(t *testing.T) {
	s := StateOf(lead("1", "Ama", models.LeadStageQualified))
	assert.False(t, s.Archived())
	assert.Equal(t, models.LeadStageQualified, s.Stage())

	stage, prior := s.Flatten()
	assert.Equal(t, models.LeadStageQualified, stage)
	assert.Nil(t, prior)
}

func TestStateOfArchivedLead(t *testing.T) {
	s := StateOf(archivedLead("1", models.LeadStageContacted))
	require.True(t, s.Archived())
	assert.Equal(t, models.LeadStageLost, s.Stage())

	prior, ok := s.Prior()
	require.True(t, ok)
	assert.Equal(t, models.LeadStageContacted, prior)

	stage, original := s.Flatten()
	assert.Equal(t, models.LeadStageLost, stage)
	require.NotNil(t, original)
	assert.Equal(t, models.LeadStageContacted, *original)
}

func TestRestoreTargetFallsBackToNew(t *testing.T) {
	missing := lead("1", "No provenance", models.LeadStageLost)
	selfRef := archivedLead("2", models.LeadStageLost)
	garbage := archivedLead("3", models.LeadStage("won"))

	for _, l := range []models.Lead{missing, selfRef, garbage} {
		s := StateOf(l)
		_, ok := s.Prior()
		assert.False(t, ok, l.ID)
		assert.Equal(t, models.LeadStageNew, s.RestoreTarget(), l.ID)
		_, original := s.Flatten()
		assert.Nil(t, original, l.ID)
	}
}
