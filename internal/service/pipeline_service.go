package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/academy-crm-api/internal/dto"
	"github.com/noah-isme/academy-crm-api/internal/models"
	"github.com/noah-isme/academy-crm-api/internal/pipeline"
	appErrors "github.com/noah-isme/academy-crm-api/pkg/errors"
)

// PipelineConfig tunes board sessions.
type PipelineConfig struct {
	RefreshInterval time.Duration
	SessionTTL      time.Duration
	JanitorInterval time.Duration
}

// PipelineService drives the board: it runs every mutation through LeadService, invalidates
// cached snapshots, and keeps each user's selection and drag gesture consistent with the
// latest snapshot.
type PipelineService struct {
	leads    *LeadService
	sessions *pipeline.Sessions
	metrics  *MetricsService
	logger   *zap.Logger
	config   PipelineConfig
	now      func() time.Time
}

// NewPipelineService constructs a PipelineService.
func NewPipelineService(leads *LeadService, metrics *MetricsService, logger *zap.Logger, cfg PipelineConfig) *PipelineService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.JanitorInterval <= 0 {
		cfg.JanitorInterval = time.Minute
	}
	return &PipelineService{
		leads:    leads,
		sessions: pipeline.NewSessions(),
		metrics:  metrics,
		logger:   logger,
		config:   cfg,
		now:      time.Now,
	}
}

// List returns the filtered flat lead list. The boolean reports a cache hit.
func (s *PipelineService) List(ctx context.Context, actor models.Actor, query dto.LeadQuery) ([]dto.LeadView, bool, error) {
	filter, err := s.parseFilter(query)
	if err != nil {
		return nil, false, err
	}
	if query.Refresh {
		leads, _, err := s.leads.Snapshot(ctx, actor.OrganizationID, true)
		if err != nil {
			return nil, false, err
		}
		return dto.NewLeadViews(filter.Apply(leads)), false, nil
	}
	leads, hit, err := s.leads.List(ctx, actor, filter)
	if err != nil {
		return nil, false, err
	}
	return dto.NewLeadViews(leads), hit, nil
}

// GetLead reads one lead from the store.
func (s *PipelineService) GetLead(ctx context.Context, actor models.Actor, id string) (*dto.LeadView, error) {
	lead, err := s.leads.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	view := dto.NewLeadView(*lead)
	return &view, nil
}

// Board renders the caller's board under the query's filter, re-fetching when the snapshot
// is stale, older than the refresh interval, or refresh was requested.
func (s *PipelineService) Board(ctx context.Context, actor models.Actor, query dto.LeadQuery) (*dto.BoardView, bool, error) {
	filter, err := s.parseFilter(query)
	if err != nil {
		return nil, false, err
	}

	session := s.session(actor)
	session.Lock()
	defer session.Unlock()

	session.Filter = filter
	hit, err := s.refresh(ctx, session, query.Refresh)
	if err != nil {
		return nil, false, err
	}
	return buildBoardView(session), hit, nil
}

// CreateLead adds a lead to the board.
func (s *PipelineService) CreateLead(ctx context.Context, actor models.Actor, req dto.CreateLeadRequest) (dto.MutationOutcome, error) {
	lead, err := s.leads.Create(ctx, actor, req)
	if err != nil {
		return s.failed(actor, "create", err)
	}
	s.invalidate(ctx, actor.OrganizationID)
	return s.single(actor, "create", fmt.Sprintf("Lead %s added", lead.Name), lead), nil
}

// UpdateLead edits lead fields.
func (s *PipelineService) UpdateLead(ctx context.Context, actor models.Actor, id string, req dto.UpdateLeadRequest) (dto.MutationOutcome, error) {
	lead, err := s.leads.Update(ctx, actor, id, req)
	if err != nil {
		return s.failed(actor, "update", err)
	}
	s.invalidate(ctx, actor.OrganizationID)
	return s.single(actor, "update", "Lead updated", lead), nil
}

// MoveLead moves a lead to stage.
func (s *PipelineService) MoveLead(ctx context.Context, actor models.Actor, id, stage string) (dto.MutationOutcome, error) {
	target, err := models.ParseLeadStage(stage)
	if err != nil {
		return s.failed(actor, "move", err)
	}
	lead, changed, err := s.leads.Move(ctx, actor, id, target)
	if err != nil {
		return s.failed(actor, "move", err)
	}
	if !changed {
		return s.single(actor, "move", fmt.Sprintf("Lead is already in %s", target.Label()), lead), nil
	}
	s.invalidate(ctx, actor.OrganizationID)
	return s.single(actor, "move", fmt.Sprintf("Lead moved to %s", target.Label()), lead), nil
}

// ArchiveLead archives a lead.
func (s *PipelineService) ArchiveLead(ctx context.Context, actor models.Actor, id string) (dto.MutationOutcome, error) {
	lead, err := s.leads.Archive(ctx, actor, id)
	if err != nil {
		return s.failed(actor, "archive", err)
	}
	s.invalidate(ctx, actor.OrganizationID)
	return s.single(actor, "archive", "Lead archived", lead), nil
}

// RestoreLead restores an archived lead.
func (s *PipelineService) RestoreLead(ctx context.Context, actor models.Actor, id string) (dto.MutationOutcome, error) {
	lead, err := s.leads.Restore(ctx, actor, id)
	if err != nil {
		return s.failed(actor, "restore", err)
	}
	s.invalidate(ctx, actor.OrganizationID)
	return s.single(actor, "restore", fmt.Sprintf("Lead restored to %s", lead.Stage.Label()), lead), nil
}

// DeleteLead permanently deletes a lead.
func (s *PipelineService) DeleteLead(ctx context.Context, actor models.Actor, id string) (dto.MutationOutcome, error) {
	if err := s.leads.Delete(ctx, actor, id); err != nil {
		return s.failed(actor, "delete", err)
	}
	s.invalidate(ctx, actor.OrganizationID)
	outcome := dto.MutationOutcome{Success: true, Message: "Lead deleted", Succeeded: []string{id}, Affected: 1}
	s.logOutcome(actor, "delete", outcome)
	return outcome, nil
}

// MarkContacted records a call or email.
func (s *PipelineService) MarkContacted(ctx context.Context, actor models.Actor, id, channel string) (dto.MutationOutcome, error) {
	ch, err := models.ParseContactChannel(channel)
	if err != nil {
		return s.failed(actor, "contact", err)
	}
	lead, err := s.leads.MarkContacted(ctx, actor, id, ch)
	if err != nil {
		return s.failed(actor, "contact", err)
	}
	s.invalidate(ctx, actor.OrganizationID)
	return s.single(actor, "contact", fmt.Sprintf("Contact by %s recorded", ch), lead), nil
}

// BulkArchive archives ids, or the caller's selection when ids is empty.
func (s *PipelineService) BulkArchive(ctx context.Context, actor models.Actor, ids []string) (dto.MutationOutcome, error) {
	targets, err := s.resolveTargets(ctx, actor, ids)
	if err != nil {
		return s.failed(actor, "bulk_archive", err)
	}
	result := s.leads.BulkArchive(ctx, actor, targets)
	return s.finishBulk(ctx, actor, "bulk_archive", "Archived", result)
}

// BulkDelete deletes ids, or the caller's selection when ids is empty.
func (s *PipelineService) BulkDelete(ctx context.Context, actor models.Actor, ids []string) (dto.MutationOutcome, error) {
	targets, err := s.resolveTargets(ctx, actor, ids)
	if err != nil {
		return s.failed(actor, "bulk_delete", err)
	}
	result := s.leads.BulkDelete(ctx, actor, targets)
	return s.finishBulk(ctx, actor, "bulk_delete", "Deleted", result)
}

// BulkMove moves ids, or the caller's selection when ids is empty, to stage.
func (s *PipelineService) BulkMove(ctx context.Context, actor models.Actor, ids []string, stage string) (dto.MutationOutcome, error) {
	if stage == "" {
		return s.failed(actor, "bulk_move", appErrors.Clone(appErrors.ErrValidation, "target stage is required"))
	}
	target, err := models.ParseLeadStage(stage)
	if err != nil {
		return s.failed(actor, "bulk_move", err)
	}
	targets, err := s.resolveTargets(ctx, actor, ids)
	if err != nil {
		return s.failed(actor, "bulk_move", err)
	}
	result, err := s.leads.BulkMove(ctx, actor, targets, target)
	if err != nil {
		return s.failed(actor, "bulk_move", err)
	}
	return s.finishBulk(ctx, actor, "bulk_move", "Moved to "+target.Label(), result)
}

// PurgeArchived deletes every archived lead of the organization.
func (s *PipelineService) PurgeArchived(ctx context.Context, actor models.Actor) (dto.MutationOutcome, error) {
	removed, err := s.leads.PurgeArchived(ctx, actor)
	if err != nil {
		return s.failed(actor, "purge", err)
	}
	if removed > 0 {
		s.invalidate(ctx, actor.OrganizationID)
	}
	outcome := dto.MutationOutcome{Success: true, Message: fmt.Sprintf("Purged %d archived leads", removed), Affected: removed}
	s.logOutcome(actor, "purge", outcome)
	return outcome, nil
}

// ToggleSelection adds or removes one lead from the caller's selection.
func (s *PipelineService) ToggleSelection(ctx context.Context, actor models.Actor, req dto.SelectionRequest) (dto.SelectionView, error) {
	if req.LeadID == "" || req.Selected == nil {
		return dto.SelectionView{}, appErrors.Clone(appErrors.ErrValidation, "leadId and selected are required")
	}
	session := s.session(actor)
	session.Lock()
	defer session.Unlock()

	if _, err := s.refresh(ctx, session, false); err != nil {
		return dto.SelectionView{}, err
	}
	if *req.Selected {
		if _, ok := session.Board().Find(req.LeadID); !ok {
			return dto.SelectionView{}, appErrors.Clone(appErrors.ErrNotFound, "lead not found")
		}
	}
	session.Selection.Toggle(req.LeadID, *req.Selected)
	return selectionView(session), nil
}

// ToggleStageSelection selects or deselects every visible lead of one column.
func (s *PipelineService) ToggleStageSelection(ctx context.Context, actor models.Actor, req dto.StageSelectionRequest) (dto.SelectionView, error) {
	if req.SelectAll == nil {
		return dto.SelectionView{}, appErrors.Clone(appErrors.ErrValidation, "selectAll is required")
	}
	stage, err := models.ParseLeadStage(req.Stage)
	if err != nil {
		return dto.SelectionView{}, err
	}
	session := s.session(actor)
	session.Lock()
	defer session.Unlock()

	if _, err := s.refresh(ctx, session, false); err != nil {
		return dto.SelectionView{}, err
	}
	session.Selection.ToggleStage(stage, *req.SelectAll, session.Board().Visible(session.Filter))
	return selectionView(session), nil
}

// SelectAll selects every lead visible under the caller's filter.
func (s *PipelineService) SelectAll(ctx context.Context, actor models.Actor) (dto.SelectionView, error) {
	session := s.session(actor)
	session.Lock()
	defer session.Unlock()

	if _, err := s.refresh(ctx, session, false); err != nil {
		return dto.SelectionView{}, err
	}
	session.Selection.SelectAll(session.Board().Visible(session.Filter))
	return selectionView(session), nil
}

// ClearSelection empties the caller's selection.
func (s *PipelineService) ClearSelection(actor models.Actor) dto.SelectionView {
	session := s.session(actor)
	session.Lock()
	defer session.Unlock()

	session.Selection.Clear()
	return selectionView(session)
}

// PickUp starts dragging a lead that is on the caller's board.
func (s *PipelineService) PickUp(ctx context.Context, actor models.Actor, leadID string) (pipeline.DragState, error) {
	session := s.session(actor)
	session.Lock()
	defer session.Unlock()

	if _, err := s.refresh(ctx, session, false); err != nil {
		return pipeline.DragState{}, err
	}
	if _, ok := session.Board().Find(leadID); leadID != "" && !ok {
		return session.Drag.State(), appErrors.Clone(appErrors.ErrNotFound, "lead not found")
	}
	if err := session.Drag.PickUp(leadID); err != nil {
		return session.Drag.State(), err
	}
	return session.Drag.State(), nil
}

// Drop releases the dragged lead. A drop over a column moves the lead there; a drop
// anywhere else cancels the drag without touching the store.
func (s *PipelineService) Drop(ctx context.Context, actor models.Actor, stage *string) (dto.MutationOutcome, error) {
	var target *models.LeadStage
	if stage != nil {
		if parsed, err := models.ParseLeadStage(*stage); err == nil {
			target = &parsed
		}
	}

	session := s.session(actor)
	session.Lock()
	event, dropped, err := session.Drag.Drop(target)
	session.Unlock()
	if err != nil {
		return dto.MutationOutcome{}, err
	}
	if !dropped {
		return dto.MutationOutcome{Success: true, Message: "Drag cancelled"}, nil
	}
	return s.MoveLead(ctx, actor, event.LeadID, string(event.Target))
}

// CancelDrag abandons the caller's drag gesture.
func (s *PipelineService) CancelDrag(actor models.Actor) pipeline.DragState {
	session := s.session(actor)
	session.Lock()
	defer session.Unlock()

	session.Drag.Cancel()
	return session.Drag.State()
}

// RunSessionJanitor evicts idle sessions until ctx is done.
func (s *PipelineService) RunSessionJanitor(ctx context.Context) {
	ticker := time.NewTicker(s.config.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.EvictIdleSessions()
		}
	}
}

// EvictIdleSessions drops sessions idle longer than the session TTL.
func (s *PipelineService) EvictIdleSessions() int {
	removed := s.sessions.Evict(s.now(), s.config.SessionTTL)
	s.metrics.SetBoardSessions(s.sessions.Len())
	if removed > 0 {
		s.logger.Debug("board sessions evicted", zap.Int("removed", removed))
	}
	return removed
}

func (s *PipelineService) parseFilter(query dto.LeadQuery) (pipeline.Filter, error) {
	filter, err := pipeline.ParseFilter(query.Query, query.Stage, query.Source)
	if err != nil {
		return pipeline.Filter{}, err
	}
	filter.Region = s.leads.PhoneRegion()
	return filter, nil
}

func (s *PipelineService) session(actor models.Actor) *pipeline.BoardSession {
	session := s.sessions.Get(actor.OrganizationID, actor.UserID, s.now())
	s.metrics.SetBoardSessions(s.sessions.Len())
	return session
}

// refresh must be called with the session locked.
func (s *PipelineService) refresh(ctx context.Context, session *pipeline.BoardSession, force bool) (bool, error) {
	now := s.now()
	reason := ""
	switch {
	case force:
		reason = "manual"
	case session.LoadedAt().IsZero():
		reason = "initial"
	case session.Stale():
		reason = "invalidated"
	case session.NeedsRefresh(now, s.config.RefreshInterval):
		reason = "interval"
	default:
		return false, nil
	}

	// The interval poll exists to surface changes made elsewhere, so it skips the cache.
	fresh := reason == "manual" || reason == "interval"
	leads, hit, err := s.leads.Snapshot(ctx, session.OrganizationID, fresh)
	if err != nil {
		return false, err
	}
	pruned := session.Replace(pipeline.NewBoard(leads), now)
	s.metrics.RecordBoardRefresh(reason)
	if pruned > 0 {
		s.logger.Debug("selection pruned after reload",
			zap.String("organization_id", session.OrganizationID), zap.String("user_id", session.UserID), zap.Int("pruned", pruned))
	}
	return hit, nil
}

func (s *PipelineService) invalidate(ctx context.Context, orgID string) {
	if err := s.leads.InvalidateOrganization(ctx, orgID); err != nil {
		s.logger.Warn("lead cache invalidation failed", zap.String("organization_id", orgID), zap.Error(err))
	}
	s.sessions.InvalidateOrganization(orgID)
}

// resolveTargets falls back to the caller's selection, reloaded first so leads removed
// elsewhere are pruned before the batch runs.
func (s *PipelineService) resolveTargets(ctx context.Context, actor models.Actor, ids []string) ([]string, error) {
	ids = pipeline.UniqueIDs(ids)
	if len(ids) > 0 {
		return ids, nil
	}

	session := s.session(actor)
	session.Lock()
	defer session.Unlock()

	if _, err := s.refresh(ctx, session, false); err != nil {
		return nil, err
	}
	selected := session.Selection.IDs()
	if len(selected) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "no leads selected")
	}
	return selected, nil
}

// finishBulk clears the selection after a fully successful bulk action. On partial failure
// only the failed leads stay selected so the user can retry them.
func (s *PipelineService) finishBulk(ctx context.Context, actor models.Actor, op, verb string, result pipeline.BatchResult) (dto.MutationOutcome, error) {
	succeeded := result.Succeeded()
	failedItems := result.Failed()
	if len(succeeded) > 0 {
		s.invalidate(ctx, actor.OrganizationID)
	}

	session := s.session(actor)
	session.Lock()
	if result.OK() {
		session.Selection.Clear()
	} else {
		session.Selection.Remove(succeeded...)
	}
	session.Unlock()

	outcome := dto.MutationOutcome{
		Success:   len(failedItems) == 0,
		Succeeded: succeeded,
		Affected:  int64(len(succeeded)),
	}
	total := len(result.Items)
	if outcome.Success {
		outcome.Message = fmt.Sprintf("%s %d %s", verb, total, pluralLeads(total))
		s.logOutcome(actor, op, outcome)
		return outcome, nil
	}

	outcome.Failed = make([]dto.FailedItem, len(failedItems))
	for i, item := range failedItems {
		appErr := appErrors.FromError(item.Err)
		outcome.Failed[i] = dto.FailedItem{LeadID: item.LeadID, Code: appErr.Code, Error: appErr.Message}
	}
	outcome.Message = fmt.Sprintf("%s %d of %d %s; %d failed", verb, len(succeeded), total, pluralLeads(total), len(failedItems))
	s.logOutcome(actor, op, outcome)

	partial := appErrors.WithDetails(appErrors.Clone(appErrors.ErrPartialFailure, outcome.Message), outcome.Failed)
	return outcome, partial
}

func (s *PipelineService) single(actor models.Actor, op, message string, lead *models.Lead) dto.MutationOutcome {
	outcome := dto.MutationOutcome{Success: true, Message: message}
	if lead != nil {
		view := dto.NewLeadView(*lead)
		outcome.Lead = &view
		outcome.Succeeded = []string{lead.ID}
		outcome.Affected = 1
	}
	s.logOutcome(actor, op, outcome)
	return outcome
}

func (s *PipelineService) failed(actor models.Actor, op string, err error) (dto.MutationOutcome, error) {
	appErr := appErrors.FromError(err)
	outcome := dto.MutationOutcome{Success: false, Message: appErr.Message}
	s.logOutcome(actor, op, outcome)
	return outcome, err
}

func (s *PipelineService) logOutcome(actor models.Actor, op string, outcome dto.MutationOutcome) {
	fields := []zap.Field{
		zap.String("operation", op),
		zap.String("organization_id", actor.OrganizationID),
		zap.String("user_id", actor.UserID),
		zap.Bool("success", outcome.Success),
		zap.String("message", outcome.Message),
		zap.Int("succeeded", len(outcome.Succeeded)),
		zap.Int("failed", len(outcome.Failed)),
	}
	if outcome.Success {
		s.logger.Info("lead mutation", fields...)
		return
	}
	s.logger.Warn("lead mutation", fields...)
}

func pluralLeads(n int) string {
	if n == 1 {
		return "lead"
	}
	return "leads"
}

func selectionView(session *pipeline.BoardSession) dto.SelectionView {
	visible := session.Board().Visible(session.Filter)
	return dto.SelectionView{
		IDs:     session.Selection.IDs(),
		Total:   session.Selection.Len(),
		Visible: session.Selection.VisibleCount(visible),
	}
}

func buildBoardView(session *pipeline.BoardSession) *dto.BoardView {
	board := session.Board()
	columns := board.Columns(session.Filter)

	view := &dto.BoardView{
		Columns:   make([]dto.BoardColumn, len(columns)),
		Counts:    board.Counts(),
		Total:     board.Len(),
		Selection: selectionView(session),
		Drag:      session.Drag.State(),
		Filter: dto.FilterView{
			Query:  session.Filter.Query,
			Stage:  string(session.Filter.Stage),
			Source: string(session.Filter.Source),
		},
		LoadedAt: session.LoadedAt(),
	}
	for i, col := range columns {
		view.Columns[i] = dto.BoardColumn{
			Stage: col.Stage,
			Label: col.Label,
			Count: len(col.Leads),
			Leads: dto.NewLeadViews(col.Leads),
		}
		view.Visible += len(col.Leads)
	}
	return view
}
