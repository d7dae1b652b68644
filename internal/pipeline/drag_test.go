package pipeline

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/academy-crm-api/internal/models"
	appErrors "github.com/noah-isme/academy-crm-api/pkg/errors"
)

func TestDragDropEmitsEvent(t *testing.T) {
	var d DragController
	assert.Equal(t, DragState{Phase: DragIdle}, d.State())

	require.NoError(t, d.PickUp("1"))
	assert.Equal(t, DragState{Phase: DragDragging, LeadID: "1"}, d.State())

	event, emitted, err := d.Drop(stageRef(models.LeadStageQualified))
	require.NoError(t, err)
	assert.True(t, emitted)
	assert.Equal(t, DropEvent{LeadID: "1", Target: models.LeadStageQualified}, event)
	assert.Equal(t, DragIdle, d.State().Phase)
}

func TestDragDropOutsideColumnsCancels(t *testing.T) {
	var d DragController
	require.NoError(t, d.PickUp("1"))

	_, emitted, err := d.Drop(nil)
	require.NoError(t, err)
	assert.False(t, emitted)
	_, dragging := d.Dragging()
	assert.False(t, dragging)

	require.NoError(t, d.PickUp("1"))
	_, emitted, err = d.Drop(stageRef(models.LeadStage("trash")))
	require.NoError(t, err)
	assert.False(t, emitted)
}

func TestDragSameStageStillEmits(t *testing.T) {
	var d DragController
	require.NoError(t, d.PickUp("1"))
	event, emitted, err := d.Drop(stageRef(models.LeadStageNew))
	require.NoError(t, err)
	assert.True(t, emitted)
	assert.Equal(t, models.LeadStageNew, event.Target)
}

func TestDragGuards(t *testing.T) {
	var d DragController

	_, _, err := d.Drop(stageRef(models.LeadStageNew))
	assert.True(t, errors.Is(err, appErrors.ErrNoActiveDrag))

	assert.True(t, errors.Is(d.PickUp(""), appErrors.ErrValidation))

	require.NoError(t, d.PickUp("1"))
	assert.True(t, errors.Is(d.PickUp("2"), appErrors.ErrDragInProgress))

	assert.True(t, d.Cancel())
	assert.False(t, d.Cancel())
	require.NoError(t, d.PickUp("2"))
}
