package handler

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/academy-crm-api/internal/dto"
	"github.com/noah-isme/academy-crm-api/internal/models"
	"github.com/noah-isme/academy-crm-api/internal/pipeline"
	appErrors "github.com/noah-isme/academy-crm-api/pkg/errors"
)

func TestBoardHandlerBoard(t *testing.T) {
	stub := &pipelineStub{board: &dto.BoardView{
		Columns: []dto.BoardColumn{{Stage: models.LeadStageNew, Label: "New Leads", Count: 1}},
		Total:   1,
		Visible: 1,
	}}
	handler := NewBoardHandler(stub)
	c, w := newTestContext(http.MethodGet, "/leads/board?stage=all", nil)

	handler.Board(c)
	require.Equal(t, http.StatusOK, w.Code)

	env := decode(t, w)
	var view dto.BoardView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	require.Len(t, view.Columns, 1)
	assert.Equal(t, "New Leads", view.Columns[0].Label)
	assert.Equal(t, false, env.Meta["cache_hit"])
}

func TestBoardHandlerBoardPropagatesFilterErrors(t *testing.T) {
	stub := &pipelineStub{err: appErrors.Clone(appErrors.ErrInvalidStage, "invalid lead stage: won")}
	handler := NewBoardHandler(stub)
	c, w := newTestContext(http.MethodGet, "/leads/board?stage=won", nil)

	handler.Board(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_STAGE", decode(t, w).Error.Code)
}

func TestBoardHandlerToggleSelection(t *testing.T) {
	handler := NewBoardHandler(&pipelineStub{})
	c, w := newTestContext(http.MethodPost, "/leads/board/selection", []byte(`{"leadId":"7","selected":true}`))

	handler.ToggleSelection(c)
	require.Equal(t, http.StatusOK, w.Code)

	var view dto.SelectionView
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &view))
	assert.Equal(t, []string{"7"}, view.IDs)
}

func TestBoardHandlerStartDragConflict(t *testing.T) {
	handler := NewBoardHandler(&pipelineStub{err: appErrors.Clone(appErrors.ErrDragInProgress, "lead 1 is already being dragged")})
	c, w := newTestContext(http.MethodPost, "/leads/board/drag", []byte(`{"leadId":"2"}`))

	handler.StartDrag(c)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "DRAG_IN_PROGRESS", decode(t, w).Error.Code)
}

func TestBoardHandlerDropWithoutBodyCancels(t *testing.T) {
	stub := &pipelineStub{outcome: dto.MutationOutcome{Success: true, Message: "Drag cancelled"}}
	handler := NewBoardHandler(stub)
	c, w := newTestContext(http.MethodPost, "/leads/board/drag/drop", nil)

	handler.Drop(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, stub.dropStage)
}

func TestBoardHandlerDropForwardsStage(t *testing.T) {
	stub := &pipelineStub{outcome: dto.MutationOutcome{Success: true}}
	handler := NewBoardHandler(stub)
	c, w := newTestContext(http.MethodPost, "/leads/board/drag/drop", []byte(`{"stage":"qualified"}`))

	handler.Drop(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, stub.dropStage)
	assert.Equal(t, "qualified", *stub.dropStage)
}

func TestBoardHandlerCancelDrag(t *testing.T) {
	handler := NewBoardHandler(&pipelineStub{})
	c, w := newTestContext(http.MethodDelete, "/leads/board/drag", nil)
	c.Params = gin.Params{}

	handler.CancelDrag(c)
	require.Equal(t, http.StatusOK, w.Code)

	var state pipeline.DragState
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &state))
	assert.Equal(t, pipeline.DragIdle, state.Phase)
}
