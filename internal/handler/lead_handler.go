package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/academy-crm-api/internal/dto"
	"github.com/noah-isme/academy-crm-api/internal/middleware"
	"github.com/noah-isme/academy-crm-api/internal/models"
	"github.com/noah-isme/academy-crm-api/internal/pipeline"
	appErrors "github.com/noah-isme/academy-crm-api/pkg/errors"
	"github.com/noah-isme/academy-crm-api/pkg/response"
)

type leadPipeline interface {
	List(ctx context.Context, actor models.Actor, query dto.LeadQuery) ([]dto.LeadView, bool, error)
	GetLead(ctx context.Context, actor models.Actor, id string) (*dto.LeadView, error)
	CreateLead(ctx context.Context, actor models.Actor, req dto.CreateLeadRequest) (dto.MutationOutcome, error)
	UpdateLead(ctx context.Context, actor models.Actor, id string, req dto.UpdateLeadRequest) (dto.MutationOutcome, error)
	MoveLead(ctx context.Context, actor models.Actor, id, stage string) (dto.MutationOutcome, error)
	ArchiveLead(ctx context.Context, actor models.Actor, id string) (dto.MutationOutcome, error)
	RestoreLead(ctx context.Context, actor models.Actor, id string) (dto.MutationOutcome, error)
	DeleteLead(ctx context.Context, actor models.Actor, id string) (dto.MutationOutcome, error)
	MarkContacted(ctx context.Context, actor models.Actor, id, channel string) (dto.MutationOutcome, error)
	BulkArchive(ctx context.Context, actor models.Actor, ids []string) (dto.MutationOutcome, error)
	BulkDelete(ctx context.Context, actor models.Actor, ids []string) (dto.MutationOutcome, error)
	BulkMove(ctx context.Context, actor models.Actor, ids []string, stage string) (dto.MutationOutcome, error)
	PurgeArchived(ctx context.Context, actor models.Actor) (dto.MutationOutcome, error)

	Board(ctx context.Context, actor models.Actor, query dto.LeadQuery) (*dto.BoardView, bool, error)
	ToggleSelection(ctx context.Context, actor models.Actor, req dto.SelectionRequest) (dto.SelectionView, error)
	ToggleStageSelection(ctx context.Context, actor models.Actor, req dto.StageSelectionRequest) (dto.SelectionView, error)
	SelectAll(ctx context.Context, actor models.Actor) (dto.SelectionView, error)
	ClearSelection(actor models.Actor) dto.SelectionView
	PickUp(ctx context.Context, actor models.Actor, leadID string) (pipeline.DragState, error)
	Drop(ctx context.Context, actor models.Actor, stage *string) (dto.MutationOutcome, error)
	CancelDrag(actor models.Actor) pipeline.DragState
}

// LeadHandler serves the lead CRUD, lifecycle and bulk endpoints.
type LeadHandler struct {
	service leadPipeline
}

// NewLeadHandler constructs a lead handler.
func NewLeadHandler(svc leadPipeline) *LeadHandler {
	return &LeadHandler{service: svc}
}

// List godoc
// @Summary List leads
// @Tags Leads
// @Produce json
// @Param q query string false "Search name, email, phone, instrument, source and notes"
// @Param stage query string false "Stage or all"
// @Param source query string false "Source or all"
// @Param refresh query bool false "Bypass the snapshot cache"
// @Success 200 {object} response.Envelope
// @Router /leads [get]
func (h *LeadHandler) List(c *gin.Context) {
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
	leads, hit, err := h.service.List(c.Request.Context(), actor, query)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, hit)
	response.JSON(c, http.StatusOK, leads, nil, middleware.ExtractMeta(c))
}

// Get godoc
// @Summary Get lead by id
// @Tags Leads
// @Produce json
// @Param id path string true "Lead ID"
// @Success 200 {object} response.Envelope
// @Router /leads/{id} [get]
func (h *LeadHandler) Get(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	lead, err := h.service.GetLead(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, lead, nil)
}

// Create godoc
// @Summary Create lead
// @Tags Leads
// @Accept json
// @Produce json
// @Param payload body dto.CreateLeadRequest true "Lead payload"
// @Success 201 {object} response.Envelope
// @Router /leads [post]
func (h *LeadHandler) Create(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.CreateLeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid lead payload"))
		return
	}
	outcome, err := h.service.CreateLead(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, outcome)
}

// Update godoc
// @Summary Update lead fields
// @Tags Leads
// @Accept json
// @Produce json
// @Param id path string true "Lead ID"
// @Param payload body dto.UpdateLeadRequest true "Fields to change"
// @Success 200 {object} response.Envelope
// @Router /leads/{id} [put]
func (h *LeadHandler) Update(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.UpdateLeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid lead payload"))
		return
	}
	outcome, err := h.service.UpdateLead(c.Request.Context(), actor, c.Param("id"), req)
	respondOutcome(c, outcome, err)
}

// Delete godoc
// @Summary Delete lead permanently
// @Tags Leads
// @Produce json
// @Param id path string true "Lead ID"
// @Success 200 {object} response.Envelope
// @Router /leads/{id} [delete]
func (h *LeadHandler) Delete(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	outcome, err := h.service.DeleteLead(c.Request.Context(), actor, c.Param("id"))
	respondOutcome(c, outcome, err)
}

// Move godoc
// @Summary Move lead to a stage
// @Description Moving to lost archives the lead and remembers its stage.
// @Tags Leads
// @Accept json
// @Produce json
// @Param id path string true "Lead ID"
// @Param payload body dto.MoveLeadRequest true "Target stage"
// @Success 200 {object} response.Envelope
// @Router /leads/{id}/move [post]
func (h *LeadHandler) Move(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.MoveLeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid move payload"))
		return
	}
	outcome, err := h.service.MoveLead(c.Request.Context(), actor, c.Param("id"), req.Stage)
	respondOutcome(c, outcome, err)
}

// Archive godoc
// @Summary Archive lead
// @Tags Leads
// @Produce json
// @Param id path string true "Lead ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /leads/{id}/archive [post]
func (h *LeadHandler) Archive(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	outcome, err := h.service.ArchiveLead(c.Request.Context(), actor, c.Param("id"))
	respondOutcome(c, outcome, err)
}

// Restore godoc
// @Summary Restore archived lead to its original stage
// @Tags Leads
// @Produce json
// @Param id path string true "Lead ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /leads/{id}/restore [post]
func (h *LeadHandler) Restore(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	outcome, err := h.service.RestoreLead(c.Request.Context(), actor, c.Param("id"))
	respondOutcome(c, outcome, err)
}

// Contact godoc
// @Summary Record a call or email
// @Tags Leads
// @Accept json
// @Produce json
// @Param id path string true "Lead ID"
// @Param payload body dto.ContactLeadRequest true "Channel"
// @Success 200 {object} response.Envelope
// @Router /leads/{id}/contact [post]
func (h *LeadHandler) Contact(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.ContactLeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid contact payload"))
		return
	}
	outcome, err := h.service.MarkContacted(c.Request.Context(), actor, c.Param("id"), req.Channel)
	respondOutcome(c, outcome, err)
}

// BulkArchive godoc
// @Summary Archive several leads
// @Description Without ids the caller's board selection is used. Partial failures answer 207.
// @Tags Leads
// @Accept json
// @Produce json
// @Param payload body dto.BulkLeadRequest false "Lead ids"
// @Success 200 {object} response.Envelope
// @Success 207 {object} response.Envelope
// @Router /leads/bulk/archive [post]
func (h *LeadHandler) BulkArchive(c *gin.Context) {
	actor, req, ok := bindBulk(c)
	if !ok {
		return
	}
	outcome, err := h.service.BulkArchive(c.Request.Context(), actor, req.IDs)
	respondOutcome(c, outcome, err)
}

// BulkDelete godoc
// @Summary Delete several leads permanently
// @Description Without ids the caller's board selection is used. Partial failures answer 207.
// @Tags Leads
// @Accept json
// @Produce json
// @Param payload body dto.BulkLeadRequest false "Lead ids"
// @Success 200 {object} response.Envelope
// @Success 207 {object} response.Envelope
// @Router /leads/bulk/delete [post]
func (h *LeadHandler) BulkDelete(c *gin.Context) {
	actor, req, ok := bindBulk(c)
	if !ok {
		return
	}
	outcome, err := h.service.BulkDelete(c.Request.Context(), actor, req.IDs)
	respondOutcome(c, outcome, err)
}

// BulkMove godoc
// @Summary Move several leads to one stage
// @Tags Leads
// @Accept json
// @Produce json
// @Param payload body dto.BulkLeadRequest true "Lead ids and target stage"
// @Success 200 {object} response.Envelope
// @Success 207 {object} response.Envelope
// @Router /leads/bulk/move [post]
func (h *LeadHandler) BulkMove(c *gin.Context) {
	actor, req, ok := bindBulk(c)
	if !ok {
		return
	}
	outcome, err := h.service.BulkMove(c.Request.Context(), actor, req.IDs, req.Stage)
	respondOutcome(c, outcome, err)
}

// PurgeArchived godoc
// @Summary Permanently delete every archived lead
// @Tags Leads
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /leads/archived [delete]
func (h *LeadHandler) PurgeArchived(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	outcome, err := h.service.PurgeArchived(c.Request.Context(), actor)
	respondOutcome(c, outcome, err)
}

func bindBulk(c *gin.Context) (models.Actor, dto.BulkLeadRequest, bool) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return models.Actor{}, dto.BulkLeadRequest{}, false
	}
	var req dto.BulkLeadRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, invalidPayload(err, "invalid bulk payload"))
			return models.Actor{}, dto.BulkLeadRequest{}, false
		}
	}
	return actor, req, true
}

func invalidPayload(err error, message string) error {
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, message)
}

// respondOutcome writes a mutation outcome. A partial bulk failure carries both the outcome
// and the itemised error with 207.
func respondOutcome(c *gin.Context, outcome dto.MutationOutcome, err error) {
	if err != nil {
		if errors.Is(err, appErrors.ErrPartialFailure) {
			response.Partial(c, outcome, err)
			return
		}
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, outcome, nil)
}
