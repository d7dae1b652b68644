package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/academy-crm-api/internal/dto"
	"github.com/noah-isme/academy-crm-api/internal/models"
	"github.com/noah-isme/academy-crm-api/internal/pipeline"
	appErrors "github.com/noah-isme/academy-crm-api/pkg/errors"
)

func boolRef(v bool) *bool { return &v }

func strRef(v string) *string { return &v }

func newTestPipeline(t *testing.T, leads ...models.Lead) (*PipelineService, *memoryLeadStore, *recordingNotifier) {
	t.Helper()
	store := newMemoryLeadStore(leads...)
	leadSvc, notifier, _ := newTestLeadService(store)
	svc := NewPipelineService(leadSvc, NewMetricsService(), nil, PipelineConfig{RefreshInterval: 30 * time.Second, SessionTTL: time.Hour})
	svc.now = func() time.Time { return leadTestTime }
	return svc, store, notifier
}

func threeLeads() []models.Lead {
	ama := testLead("1", "Ama Owusu", models.LeadStageNew)
	ama.Instrument = "Piano"
	return []models.Lead{
		ama,
		testLead("2", "Kofi Boateng", models.LeadStageContacted),
		testLead("3", "Esi Mensah", models.LeadStageQualified),
	}
}

func TestPipelineBoardColumns(t *testing.T) {
	svc, _, _ := newTestPipeline(t, threeLeads()...)

	view, hit, err := svc.Board(context.Background(), testActor(), dto.LeadQuery{})
	require.NoError(t, err)
	assert.False(t, hit)
	require.Len(t, view.Columns, 5)
	assert.Equal(t, models.LeadStageNew, view.Columns[0].Stage)
	assert.Equal(t, "Lost / Archived", view.Columns[4].Label)
	assert.Equal(t, 3, view.Total)
	assert.Equal(t, 3, view.Visible)
	assert.Equal(t, 1, view.Counts[models.LeadStageQualified])
	assert.Equal(t, 0, view.Counts[models.LeadStageLost])
	assert.Equal(t, pipeline.DragIdle, view.Drag.Phase)

	view, _, err = svc.Board(context.Background(), testActor(), dto.LeadQuery{Query: "piano"})
	require.NoError(t, err)
	assert.Equal(t, 1, view.Visible)
	assert.Equal(t, 3, view.Total)
	assert.Equal(t, "piano", view.Filter.Query)
}

func TestPipelineBoardRejectsUnknownStageFilter(t *testing.T) {
	svc, _, _ := newTestPipeline(t, threeLeads()...)

	_, _, err := svc.Board(context.Background(), testActor(), dto.LeadQuery{Stage: "won"})
	assert.ErrorIs(t, err, appErrors.ErrInvalidStage)
}

func TestPipelineSelectionSurvivesFilterAndPrunesOnDelete(t *testing.T) {
	svc, _, _ := newTestPipeline(t, threeLeads()...)
	ctx := context.Background()
	actor := testActor()

	_, _, err := svc.Board(ctx, actor, dto.LeadQuery{})
	require.NoError(t, err)
	sel, err := svc.SelectAll(ctx, actor)
	require.NoError(t, err)
	assert.Equal(t, 3, sel.Total)

	view, _, err := svc.Board(ctx, actor, dto.LeadQuery{Query: "piano"})
	require.NoError(t, err)
	assert.Equal(t, 3, view.Selection.Total)
	assert.Equal(t, 1, view.Selection.Visible)

	_, err = svc.DeleteLead(ctx, actor, "2")
	require.NoError(t, err)

	view, _, err = svc.Board(ctx, actor, dto.LeadQuery{})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "3"}, view.Selection.IDs)
	assert.Equal(t, 2, view.Total)
}

func TestPipelineToggleStageSelectionIsInverse(t *testing.T) {
	svc, _, _ := newTestPipeline(t, threeLeads()...)
	ctx := context.Background()
	actor := testActor()

	_, err := svc.ToggleSelection(ctx, actor, dto.SelectionRequest{LeadID: "3", Selected: boolRef(true)})
	require.NoError(t, err)

	sel, err := svc.ToggleStageSelection(ctx, actor, dto.StageSelectionRequest{Stage: "new", SelectAll: boolRef(true)})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "3"}, sel.IDs)

	sel, err = svc.ToggleStageSelection(ctx, actor, dto.StageSelectionRequest{Stage: "new", SelectAll: boolRef(false)})
	require.NoError(t, err)
	assert.Equal(t, []string{"3"}, sel.IDs)

	_, err = svc.ToggleSelection(ctx, actor, dto.SelectionRequest{LeadID: "missing", Selected: boolRef(true)})
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	cleared := svc.ClearSelection(actor)
	assert.Empty(t, cleared.IDs)
}

func TestPipelineBulkArchiveFromSelection(t *testing.T) {
	svc, store, _ := newTestPipeline(t, threeLeads()...)
	ctx := context.Background()
	actor := testActor()

	for _, id := range []string{"2", "3"} {
		_, err := svc.ToggleSelection(ctx, actor, dto.SelectionRequest{LeadID: id, Selected: boolRef(true)})
		require.NoError(t, err)
	}

	outcome, err := svc.BulkArchive(ctx, actor, nil)
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.Equal(t, "Archived 2 leads", outcome.Message)
	assert.Equal(t, []string{"2", "3"}, outcome.Succeeded)

	view, _, err := svc.Board(ctx, actor, dto.LeadQuery{})
	require.NoError(t, err)
	assert.Empty(t, view.Selection.IDs)
	assert.Equal(t, 2, view.Counts[models.LeadStageLost])

	two, _ := store.lead("2")
	three, _ := store.lead("3")
	assert.Equal(t, models.LeadStageContacted, *two.OriginalStage)
	assert.Equal(t, models.LeadStageQualified, *three.OriginalStage)
}

func TestPipelineBulkPartialFailureKeepsFailedSelected(t *testing.T) {
	svc, store, _ := newTestPipeline(t, threeLeads()...)
	store.failUpdate["2"] = errors.New("deadlock detected")
	ctx := context.Background()
	actor := testActor()

	_, err := svc.SelectAll(ctx, actor)
	require.NoError(t, err)

	outcome, err := svc.BulkArchive(ctx, actor, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrPartialFailure)
	assert.False(t, outcome.Success)
	assert.Equal(t, []string{"1", "3"}, outcome.Succeeded)
	require.Len(t, outcome.Failed, 1)
	assert.Equal(t, "2", outcome.Failed[0].LeadID)
	assert.Equal(t, appErrors.ErrInternal.Code, outcome.Failed[0].Code)
	assert.Equal(t, "Archived 2 of 3 leads; 1 failed", outcome.Message)

	appErr := appErrors.FromError(err)
	assert.Equal(t, outcome.Failed, appErr.Details)

	view, _, err := svc.Board(ctx, actor, dto.LeadQuery{})
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, view.Selection.IDs)
}

func TestPipelineBulkFromSelectionSkipsLeadsDeletedElsewhere(t *testing.T) {
	svc, _, _ := newTestPipeline(t, threeLeads()...)
	ctx := context.Background()
	actor := testActor()
	colleague := testActor()
	colleague.UserID = "user-2"

	_, err := svc.SelectAll(ctx, actor)
	require.NoError(t, err)
	_, err = svc.DeleteLead(ctx, colleague, "2")
	require.NoError(t, err)

	outcome, err := svc.BulkArchive(ctx, actor, nil)
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.Equal(t, []string{"1", "3"}, outcome.Succeeded)
	assert.Empty(t, outcome.Failed)
}

func TestPipelineBulkWithExplicitIDsClearsSelection(t *testing.T) {
	svc, _, _ := newTestPipeline(t, threeLeads()...)
	ctx := context.Background()
	actor := testActor()

	for _, id := range []string{"1", "3"} {
		_, err := svc.ToggleSelection(ctx, actor, dto.SelectionRequest{LeadID: id, Selected: boolRef(true)})
		require.NoError(t, err)
	}

	outcome, err := svc.BulkMove(ctx, actor, []string{"2"}, "qualified")
	require.NoError(t, err)
	assert.True(t, outcome.Success)

	view, _, err := svc.Board(ctx, actor, dto.LeadQuery{})
	require.NoError(t, err)
	assert.Empty(t, view.Selection.IDs)
}

func TestPipelineSearchFindsPhoneInLocalFormat(t *testing.T) {
	svc, _, _ := newTestPipeline(t)
	ctx := context.Background()
	actor := testActor()

	_, err := svc.CreateLead(ctx, actor, dto.CreateLeadRequest{Name: "Yaw Mensah", Phone: "024 412 3456"})
	require.NoError(t, err)

	for _, query := range []string{"0244123456", "024 412 3456", "+233244123456"} {
		leads, _, err := svc.List(ctx, actor, dto.LeadQuery{Query: query})
		require.NoError(t, err)
		require.Len(t, leads, 1, query)
		assert.Equal(t, "Yaw Mensah", leads[0].Name)

		view, _, err := svc.Board(ctx, actor, dto.LeadQuery{Query: query})
		require.NoError(t, err)
		assert.Equal(t, 1, view.Visible, query)
	}
}

func TestPipelineBulkWithoutTargets(t *testing.T) {
	svc, _, _ := newTestPipeline(t, threeLeads()...)

	_, err := svc.BulkDelete(context.Background(), testActor(), nil)
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = svc.BulkMove(context.Background(), testActor(), []string{"1"}, "")
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestPipelineDragAndDropMovesLead(t *testing.T) {
	svc, store, notifier := newTestPipeline(t, threeLeads()...)
	ctx := context.Background()
	actor := testActor()

	state, err := svc.PickUp(ctx, actor, "3")
	require.NoError(t, err)
	assert.Equal(t, pipeline.DragDragging, state.Phase)

	_, err = svc.PickUp(ctx, actor, "1")
	assert.ErrorIs(t, err, appErrors.ErrDragInProgress)

	outcome, err := svc.Drop(ctx, actor, strRef("converted"))
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	require.NotNil(t, outcome.Lead)
	assert.Equal(t, models.LeadStageConverted, outcome.Lead.Stage)

	three, _ := store.lead("3")
	assert.Equal(t, models.LeadStageConverted, three.Stage)
	assert.Equal(t, []models.LeadNotificationKind{models.LeadNotificationConverted}, notifier.kinds())

	_, err = svc.Drop(ctx, actor, strRef("new"))
	assert.ErrorIs(t, err, appErrors.ErrNoActiveDrag)
}

func TestPipelineDropOutsideBoardCancels(t *testing.T) {
	svc, store, _ := newTestPipeline(t, threeLeads()...)
	ctx := context.Background()
	actor := testActor()

	_, err := svc.PickUp(ctx, actor, "1")
	require.NoError(t, err)

	outcome, err := svc.Drop(ctx, actor, nil)
	require.NoError(t, err)
	assert.Equal(t, "Drag cancelled", outcome.Message)
	assert.Zero(t, store.updates)

	_, err = svc.PickUp(ctx, actor, "1")
	require.NoError(t, err)
	state := svc.CancelDrag(actor)
	assert.Equal(t, pipeline.DragIdle, state.Phase)
}

func TestPipelineBoardPicksUpExternalChangesAfterInterval(t *testing.T) {
	svc, store, _ := newTestPipeline(t, threeLeads()...)
	ctx := context.Background()
	actor := testActor()

	_, _, err := svc.Board(ctx, actor, dto.LeadQuery{})
	require.NoError(t, err)

	require.NoError(t, store.Update(ctx, "org-1", "1", models.LeadPatch{Name: strRef("Ama O.")}))

	view, _, err := svc.Board(ctx, actor, dto.LeadQuery{})
	require.NoError(t, err)
	assert.Equal(t, "Ama Owusu", view.Columns[0].Leads[0].Name)

	svc.now = func() time.Time { return leadTestTime.Add(time.Minute) }
	view, _, err = svc.Board(ctx, actor, dto.LeadQuery{})
	require.NoError(t, err)
	assert.Equal(t, "Ama O.", view.Columns[0].Leads[0].Name)
}

func TestPipelineMoveSameStageIsNoop(t *testing.T) {
	svc, store, _ := newTestPipeline(t, threeLeads()...)

	outcome, err := svc.MoveLead(context.Background(), testActor(), "1", "new")
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.Equal(t, "Lead is already in New Leads", outcome.Message)
	assert.Zero(t, store.updates)
}

func TestPipelineEvictIdleSessions(t *testing.T) {
	svc, _, _ := newTestPipeline(t, threeLeads()...)
	svc.ClearSelection(testActor())

	svc.now = func() time.Time { return leadTestTime.Add(2 * time.Hour) }
	assert.Equal(t, 1, svc.EvictIdleSessions())
	assert.Equal(t, 0, svc.sessions.Len())
}
