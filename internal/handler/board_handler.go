package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/academy-crm-api/internal/dto"
	"github.com/noah-isme/academy-crm-api/internal/middleware"
	appErrors "github.com/noah-isme/academy-crm-api/pkg/errors"
	"github.com/noah-isme/academy-crm-api/pkg/response"
)

// BoardHandler serves the caller's board view, selection and drag gesture.
type BoardHandler struct {
	service leadPipeline
}

// NewBoardHandler constructs a board handler.
func NewBoardHandler(svc leadPipeline) *BoardHandler {
	return &BoardHandler{service: svc}
}

// Board godoc
// @Summary Render the pipeline board
// @Tags Board
// @Produce json
// @Param q query string false "Search text"
// @Param stage query string false "Stage or all"
// @Param source query string false "Source or all"
// @Param refresh query bool false "Re-fetch from the store"
// @Success 200 {object} response.Envelope
// @Router /leads/board [get]
func (h *BoardHandler) Board(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var query dto.LeadQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query parameters"))
		return
	}
	view, hit, err := h.service.Board(c.Request.Context(), actor, query)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, hit)
	response.JSON(c, http.StatusOK, view, nil, middleware.ExtractMeta(c))
}

// ToggleSelection godoc
// @Summary Select or deselect one lead
// @Tags Board
// @Accept json
// @Produce json
// @Param payload body dto.SelectionRequest true "Lead and flag"
// @Success 200 {object} response.Envelope
// @Router /leads/board/selection [post]
func (h *BoardHandler) ToggleSelection(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.SelectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid selection payload"))
		return
	}
	view, err := h.service.ToggleSelection(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view, nil)
}

// ToggleStageSelection godoc
// @Summary Select or deselect every visible lead of a column
// @Tags Board
// @Accept json
// @Produce json
// @Param payload body dto.StageSelectionRequest true "Stage and flag"
// @Success 200 {object} response.Envelope
// @Router /leads/board/selection/stage [post]
func (h *BoardHandler) ToggleStageSelection(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.StageSelectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid selection payload"))
		return
	}
	view, err := h.service.ToggleStageSelection(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view, nil)
}

// SelectAll godoc
// @Summary Select every visible lead
// @Tags Board
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /leads/board/selection/all [post]
func (h *BoardHandler) SelectAll(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	view, err := h.service.SelectAll(c.Request.Context(), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view, nil)
}

// ClearSelection godoc
// @Summary Clear the selection
// @Tags Board
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /leads/board/selection [delete]
func (h *BoardHandler) ClearSelection(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, h.service.ClearSelection(actor), nil)
}

// StartDrag godoc
// @Summary Pick up a lead card
// @Tags Board
// @Accept json
// @Produce json
// @Param payload body dto.DragStartRequest true "Lead"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /leads/board/drag [post]
func (h *BoardHandler) StartDrag(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.DragStartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid drag payload"))
		return
	}
	state, err := h.service.PickUp(c.Request.Context(), actor, req.LeadID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, state, nil)
}

// Drop godoc
// @Summary Drop the dragged card
// @Description A missing or unknown stage cancels the drag.
// @Tags Board
// @Accept json
// @Produce json
// @Param payload body dto.DropRequest false "Target stage"
// @Success 200 {object} response.Envelope
// @Router /leads/board/drag/drop [post]
func (h *BoardHandler) Drop(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.DropRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, invalidPayload(err, "invalid drop payload"))
			return
		}
	}
	outcome, err := h.service.Drop(c.Request.Context(), actor, req.Stage)
	respondOutcome(c, outcome, err)
}

// CancelDrag godoc
// @Summary Cancel the drag
// @Tags Board
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /leads/board/drag [delete]
func (h *BoardHandler) CancelDrag(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, h.service.CancelDrag(actor), nil)
}
