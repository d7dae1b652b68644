package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/academy-crm-api/internal/dto"
	"github.com/noah-isme/academy-crm-api/internal/models"
	"github.com/noah-isme/academy-crm-api/internal/pipeline"
	appErrors "github.com/noah-isme/academy-crm-api/pkg/errors"
	"github.com/noah-isme/academy-crm-api/pkg/phone"
)

// LeadStore is the remote lead table. Every call is scoped to one organization.
type LeadStore interface {
	List(ctx context.Context, orgID string, filter models.LeadListFilter) ([]models.Lead, error)
	Get(ctx context.Context, orgID, id string) (*models.Lead, error)
	Insert(ctx context.Context, lead *models.Lead) error
	Update(ctx context.Context, orgID, id string, patch models.LeadPatch) error
	UpdateMany(ctx context.Context, orgID string, ids []string, patch models.LeadPatch) ([]string, error)
	Delete(ctx context.Context, orgID, id string) error
	DeleteMany(ctx context.Context, orgID string, ids []string) (int64, error)
}

// LeadNotifier receives lead events. Delivery is best effort.
type LeadNotifier interface {
	Notify(ctx context.Context, event models.LeadNotification) error
}

type leadAuditStore interface {
	Create(ctx context.Context, log *models.AuditLog) error
}

// LeadServiceOption customises a LeadService.
type LeadServiceOption func(*LeadService)

// WithLeadNotifier wires the notification side channel.
func WithLeadNotifier(n LeadNotifier) LeadServiceOption {
	return func(s *LeadService) { s.notifier = n }
}

// WithLeadAudit wires the audit trail.
func WithLeadAudit(a leadAuditStore) LeadServiceOption {
	return func(s *LeadService) { s.audit = a }
}

// WithLeadCache enables the snapshot cache.
func WithLeadCache(c *CacheService, ttl time.Duration) LeadServiceOption {
	return func(s *LeadService) {
		s.cache = c
		s.cacheTTL = ttl
	}
}

// WithLeadMetrics wires Prometheus counters.
func WithLeadMetrics(m *MetricsService) LeadServiceOption {
	return func(s *LeadService) { s.metrics = m }
}

// WithBulkConcurrency caps in-flight store calls per bulk action.
func WithBulkConcurrency(n int) LeadServiceOption {
	return func(s *LeadService) {
		if n > 0 {
			s.bulkConcurrency = n
		}
	}
}

// WithPhoneRegion sets the default region used to normalise local phone numbers.
func WithPhoneRegion(region string) LeadServiceOption {
	return func(s *LeadService) {
		if region != "" {
			s.phoneRegion = region
		}
	}
}

// WithLeadClock overrides time.Now.
func WithLeadClock(now func() time.Time) LeadServiceOption {
	return func(s *LeadService) { s.now = now }
}

// LeadService applies the lead lifecycle rules against the store. It never patches local
// state: callers re-read after every mutation.
type LeadService struct {
	store           LeadStore
	notifier        LeadNotifier
	audit           leadAuditStore
	cache           *CacheService
	cacheTTL        time.Duration
	metrics         *MetricsService
	validator       *validator.Validate
	logger          *zap.Logger
	bulkConcurrency int
	phoneRegion     string
	now             func() time.Time
}

// NewLeadService constructs a LeadService.
func NewLeadService(store LeadStore, validate *validator.Validate, logger *zap.Logger, opts ...LeadServiceOption) *LeadService {
	if validate == nil {
		validate = NewLeadValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &LeadService{
		store:           store,
		validator:       validate,
		logger:          logger,
		bulkConcurrency: 8,
		phoneRegion:     phone.DefaultRegion,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PhoneRegion is the region used for local-format phone numbers.
func (s *LeadService) PhoneRegion() string {
	return s.phoneRegion
}

// LeadCachePattern matches every cached entry of an organization.
func LeadCachePattern(orgID string) string {
	return fmt.Sprintf("leads:%s:*", orgID)
}

func leadSnapshotKey(orgID string) string {
	return fmt.Sprintf("leads:%s:snapshot", orgID)
}

// Snapshot returns every lead of the organization newest first. fresh bypasses the cache.
// The boolean reports a cache hit.
func (s *LeadService) Snapshot(ctx context.Context, orgID string, fresh bool) ([]models.Lead, bool, error) {
	key := leadSnapshotKey(orgID)
	if !fresh && s.cache.Enabled() {
		var cached []models.Lead
		hit, err := s.cache.Get(ctx, key, &cached)
		if err == nil && hit {
			return cached, true, nil
		}
	}

	start := time.Now()
	leads, err := s.store.List(ctx, orgID, models.LeadListFilter{})
	s.metrics.ObserveDBQuery("leads_list", time.Since(start))
	if err != nil {
		return nil, false, s.storeError(err, "failed to load leads")
	}

	if s.cache.Enabled() {
		_ = s.cache.Set(ctx, key, leads, s.cacheTTL)
	}
	return leads, false, nil
}

// List returns the organization's leads narrowed by filter.
func (s *LeadService) List(ctx context.Context, actor models.Actor, filter pipeline.Filter) ([]models.Lead, bool, error) {
	leads, hit, err := s.Snapshot(ctx, actor.OrganizationID, false)
	if err != nil {
		return nil, false, err
	}
	return filter.Apply(leads), hit, nil
}

// Get fetches one lead straight from the store.
func (s *LeadService) Get(ctx context.Context, actor models.Actor, id string) (*models.Lead, error) {
	if strings.TrimSpace(id) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "lead id is required")
	}
	lead, err := s.store.Get(ctx, actor.OrganizationID, id)
	if err != nil {
		return nil, s.storeError(err, "failed to load lead")
	}
	return lead, nil
}

// Create adds a lead. Stage defaults to new; a lead cannot be created already archived.
func (s *LeadService) Create(ctx context.Context, actor models.Actor, req dto.CreateLeadRequest) (*models.Lead, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid lead payload")
	}

	stage := models.LeadStageNew
	if req.Stage != "" {
		parsed, err := models.ParseLeadStage(req.Stage)
		if err != nil {
			return nil, err
		}
		stage = parsed
	}
	if stage == models.LeadStageLost {
		return nil, appErrors.Clone(appErrors.ErrValidation, "a new lead cannot start archived")
	}
	source := models.LeadSourceOther
	if req.Source != "" {
		parsed, err := models.ParseLeadSource(req.Source)
		if err != nil {
			return nil, err
		}
		source = parsed
	}

	lead := &models.Lead{
		OrganizationID: actor.OrganizationID,
		Name:           strings.TrimSpace(req.Name),
		Email:          strings.TrimSpace(req.Email),
		Phone:          phone.NormalizeE164InRegion(req.Phone, s.phoneRegion),
		Instrument:     strings.TrimSpace(req.Instrument),
		Source:         source,
		Notes:          strings.TrimSpace(req.Notes),
		Stage:          stage,
		CreatedBy:      actor.UserID,
	}
	if lead.Name == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "lead name is required")
	}

	if err := s.store.Insert(ctx, lead); err != nil {
		return nil, s.storeError(err, "failed to create lead")
	}

	s.logger.Info("lead created", zap.String("organization_id", actor.OrganizationID), zap.String("lead_id", lead.ID), zap.String("stage", string(lead.Stage)))
	s.notify(ctx, actor, *lead, models.LeadNotificationCreated, "New lead", fmt.Sprintf("%s was added to the pipeline", lead.Name))
	return lead, nil
}

// Update edits lead fields. Stage and provenance are not editable here.
func (s *LeadService) Update(ctx context.Context, actor models.Actor, id string, req dto.UpdateLeadRequest) (*models.Lead, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid lead payload")
	}

	patch := models.LeadPatch{}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "lead name cannot be blank")
		}
		patch.Name = &name
	}
	if req.Email != nil {
		email := strings.TrimSpace(*req.Email)
		patch.Email = &email
	}
	if req.Phone != nil {
		normalized := phone.NormalizeE164InRegion(*req.Phone, s.phoneRegion)
		patch.Phone = &normalized
	}
	if req.Instrument != nil {
		instrument := strings.TrimSpace(*req.Instrument)
		patch.Instrument = &instrument
	}
	if req.Source != nil {
		source, err := models.ParseLeadSource(*req.Source)
		if err != nil {
			return nil, err
		}
		patch.Source = &source
	}
	if req.Notes != nil {
		notes := strings.TrimSpace(*req.Notes)
		patch.Notes = &notes
	}
	if patch.IsEmpty() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "no lead fields to update")
	}

	current, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, actor.OrganizationID, id, patch); err != nil {
		return nil, s.storeError(err, "failed to update lead")
	}

	updated := patch.Apply(*current)
	s.notify(ctx, actor, updated, models.LeadNotificationUpdated, "Lead updated", fmt.Sprintf("%s's details were updated", updated.Name))
	return &updated, nil
}

// Move puts a lead in target. changed is false when it was already there. Moving to lost
// archives the lead; moving to converted sends exactly one conversion notification.
func (s *LeadService) Move(ctx context.Context, actor models.Actor, id string, target models.LeadStage) (*models.Lead, bool, error) {
	if !target.Valid() {
		return nil, false, appErrors.Clone(appErrors.ErrInvalidStage, "invalid target stage: "+string(target))
	}
	current, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, false, err
	}

	patch, changed, err := pipeline.PlanMove(*current, target)
	if err != nil {
		return nil, false, err
	}
	if !changed {
		return current, false, nil
	}

	if err := s.store.Update(ctx, actor.OrganizationID, id, patch); err != nil {
		return nil, false, s.storeError(err, "failed to move lead")
	}

	moved := patch.Apply(*current)
	s.afterTransition(ctx, actor, *current, moved)
	return &moved, true, nil
}

// Archive moves a lead to lost and remembers the stage it came from. The lead is always
// re-read first so a concurrent move elsewhere is not overwritten with a stale prior stage.
func (s *LeadService) Archive(ctx context.Context, actor models.Actor, id string) (*models.Lead, error) {
	current, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	patch, err := pipeline.PlanArchive(*current)
	if err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, actor.OrganizationID, id, patch); err != nil {
		return nil, s.storeError(err, "failed to archive lead")
	}

	archived := patch.Apply(*current)
	s.afterTransition(ctx, actor, *current, archived)
	return &archived, nil
}

// Restore returns an archived lead to the stage it was archived from.
func (s *LeadService) Restore(ctx context.Context, actor models.Actor, id string) (*models.Lead, error) {
	current, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	patch, _, err := pipeline.PlanRestore(*current)
	if err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, actor.OrganizationID, id, patch); err != nil {
		return nil, s.storeError(err, "failed to restore lead")
	}

	restored := patch.Apply(*current)
	s.metrics.RecordTransition(string(current.Stage), string(restored.Stage))
	s.recordAudit(ctx, actor, models.AuditActionLeadRestore, id, current, &restored)
	return &restored, nil
}

// Delete removes a lead permanently.
func (s *LeadService) Delete(ctx context.Context, actor models.Actor, id string) error {
	if strings.TrimSpace(id) == "" {
		return appErrors.Clone(appErrors.ErrValidation, "lead id is required")
	}
	if err := s.store.Delete(ctx, actor.OrganizationID, id); err != nil {
		return s.storeError(err, "failed to delete lead")
	}
	s.recordAudit(ctx, actor, models.AuditActionLeadDelete, id, nil, nil)
	return nil
}

// BulkArchive archives each lead independently so every one keeps its own prior stage.
func (s *LeadService) BulkArchive(ctx context.Context, actor models.Actor, ids []string) pipeline.BatchResult {
	result := pipeline.RunBatch(ctx, ids, s.bulkConcurrency, func(ctx context.Context, id string) error {
		_, err := s.Archive(ctx, actor, id)
		return err
	})
	s.metrics.RecordBulkItems("archive", len(result.Succeeded()), len(result.Failed()))
	return result
}

// BulkDelete deletes each lead with its own store call and reports per-lead results.
func (s *LeadService) BulkDelete(ctx context.Context, actor models.Actor, ids []string) pipeline.BatchResult {
	result := pipeline.RunBatch(ctx, ids, s.bulkConcurrency, func(ctx context.Context, id string) error {
		if err := s.store.Delete(ctx, actor.OrganizationID, id); err != nil {
			return s.storeError(err, "failed to delete lead")
		}
		return nil
	})
	s.metrics.RecordBulkItems("delete", len(result.Succeeded()), len(result.Failed()))
	if succeeded := result.Succeeded(); len(succeeded) > 0 {
		s.recordAudit(ctx, actor, models.AuditActionLeadBulkDelete, "", nil, map[string]interface{}{"ids": succeeded})
	}
	return result
}

// BulkMove puts every lead in target with one uniform update. Moving to lost goes through
// BulkArchive instead because each lead needs its own provenance.
func (s *LeadService) BulkMove(ctx context.Context, actor models.Actor, ids []string, target models.LeadStage) (pipeline.BatchResult, error) {
	if !target.Valid() {
		return pipeline.BatchResult{}, appErrors.Clone(appErrors.ErrInvalidStage, "invalid target stage: "+string(target))
	}
	if target == models.LeadStageLost {
		return s.BulkArchive(ctx, actor, ids), nil
	}

	ids = pipeline.UniqueIDs(ids)
	leads, _, err := s.Snapshot(ctx, actor.OrganizationID, true)
	if err != nil {
		return pipeline.BatchResult{}, err
	}
	board := pipeline.NewBoard(leads)

	items := make([]pipeline.ItemResult, len(ids))
	toMove := make([]string, 0, len(ids))
	before := make(map[string]models.Lead, len(ids))
	for i, id := range ids {
		items[i] = pipeline.ItemResult{LeadID: id}
		lead, ok := board.Find(id)
		if !ok {
			items[i].Err = appErrors.Clone(appErrors.ErrNotFound, "lead not found")
			continue
		}
		if _, changed, _ := pipeline.PlanMove(lead, target); changed {
			toMove = append(toMove, id)
			before[id] = lead
		}
	}

	if len(toMove) > 0 {
		patch := models.LeadPatch{Stage: &target, ClearOriginalStage: true}
		updated, err := s.store.UpdateMany(ctx, actor.OrganizationID, toMove, patch)
		if err != nil {
			failure := s.storeError(err, "failed to move leads")
			for i := range items {
				if _, ok := before[items[i].LeadID]; ok {
					items[i].Err = failure
				}
			}
		} else {
			moved := make(map[string]struct{}, len(updated))
			for _, id := range updated {
				moved[id] = struct{}{}
			}
			if len(moved) < len(toMove) {
				s.logger.Warn("bulk move touched fewer leads than requested",
					zap.String("organization_id", actor.OrganizationID), zap.Int("updated", len(moved)), zap.Int("requested", len(toMove)))
			}
			// Leads removed between the snapshot and the update fail individually.
			for i := range items {
				id := items[i].LeadID
				if _, planned := before[id]; !planned {
					continue
				}
				if _, ok := moved[id]; !ok {
					items[i].Err = appErrors.Clone(appErrors.ErrNotFound, "lead not found")
				}
			}
			for _, id := range toMove {
				if _, ok := moved[id]; !ok {
					continue
				}
				prev := before[id]
				s.afterTransition(ctx, actor, prev, patch.Apply(prev))
			}
		}
	}

	result := pipeline.BatchResult{Items: items}
	s.metrics.RecordBulkItems("move", len(result.Succeeded()), len(result.Failed()))
	return result, nil
}

// MarkContacted stamps lastContactedAt. The stage is untouched.
func (s *LeadService) MarkContacted(ctx context.Context, actor models.Actor, id string, channel models.ContactChannel) (*models.Lead, error) {
	if channel != models.ContactChannelCall && channel != models.ContactChannelEmail {
		return nil, appErrors.Clone(appErrors.ErrValidation, "contact channel must be call or email")
	}
	current, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	patch := models.LeadPatch{LastContactedAt: &now}
	if err := s.store.Update(ctx, actor.OrganizationID, id, patch); err != nil {
		return nil, s.storeError(err, "failed to record contact")
	}

	s.logger.Info("lead contacted", zap.String("lead_id", id), zap.String("channel", string(channel)))
	contacted := patch.Apply(*current)
	return &contacted, nil
}

// PurgeArchived permanently deletes every archived lead of the organization.
func (s *LeadService) PurgeArchived(ctx context.Context, actor models.Actor) (int64, error) {
	archived, err := s.store.List(ctx, actor.OrganizationID, models.LeadListFilter{Stages: []models.LeadStage{models.LeadStageLost}})
	if err != nil {
		return 0, s.storeError(err, "failed to load archived leads")
	}
	if len(archived) == 0 {
		return 0, nil
	}

	ids := make([]string, len(archived))
	for i, lead := range archived {
		ids[i] = lead.ID
	}
	removed, err := s.store.DeleteMany(ctx, actor.OrganizationID, ids)
	if err != nil {
		return 0, s.storeError(err, "failed to purge archived leads")
	}

	s.recordAudit(ctx, actor, models.AuditActionLeadPurge, "", nil, map[string]interface{}{"ids": ids, "removed": removed})
	return removed, nil
}

// InvalidateOrganization drops every cached snapshot of orgID.
func (s *LeadService) InvalidateOrganization(ctx context.Context, orgID string) error {
	return s.cache.Invalidate(ctx, LeadCachePattern(orgID))
}

func (s *LeadService) afterTransition(ctx context.Context, actor models.Actor, before, after models.Lead) {
	s.metrics.RecordTransition(string(before.Stage), string(after.Stage))
	if after.Archived() && !before.Archived() {
		s.recordAudit(ctx, actor, models.AuditActionLeadArchive, after.ID, &before, &after)
	}
	if pipeline.IsConversion(before.Stage, after.Stage) {
		s.notify(ctx, actor, after, models.LeadNotificationConverted, "Lead converted", fmt.Sprintf("%s has been converted", after.Name))
	}
}

func (s *LeadService) notify(ctx context.Context, actor models.Actor, lead models.Lead, kind models.LeadNotificationKind, title, body string) {
	if s.notifier == nil {
		return
	}
	event := models.LeadNotification{
		OrganizationID: actor.OrganizationID,
		RecipientID:    actor.UserID,
		Category:       models.NotificationCategoryLeadUpdate,
		Kind:           kind,
		Title:          title,
		Body:           body,
		LeadID:         lead.ID,
		OccurredAt:     s.now().UTC(),
	}
	if err := s.notifier.Notify(ctx, event); err != nil {
		s.logger.Warn("lead notification not queued", zap.String("lead_id", lead.ID), zap.String("kind", string(kind)), zap.Error(err))
	}
}

func (s *LeadService) recordAudit(ctx context.Context, actor models.Actor, action, leadID string, oldValues, newValues interface{}) {
	if s.audit == nil {
		return
	}
	entry := &models.AuditLog{
		OrganizationID: actor.OrganizationID,
		Action:         action,
		Resource:       models.AuditResourceLead,
		IPAddress:      actor.IPAddress,
		UserAgent:      actor.UserAgent,
	}
	if actor.UserID != "" {
		userID := actor.UserID
		entry.UserID = &userID
	}
	if leadID != "" {
		entry.ResourceID = &leadID
	}
	entry.OldValues = marshalAudit(oldValues)
	entry.NewValues = marshalAudit(newValues)

	if err := s.audit.Create(ctx, entry); err != nil {
		s.logger.Warn("audit log failed", zap.String("action", action), zap.String("lead_id", leadID), zap.Error(err))
	}
}

func marshalAudit(v interface{}) []byte {
	if v == nil {
		return nil
	}
	switch typed := v.(type) {
	case *models.Lead:
		if typed == nil {
			return nil
		}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}

// storeError maps store failures onto typed errors. Typed errors pass through.
func (s *LeadService) storeError(err error, message string) error {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, "lead not found")
	}
	s.logger.Error(message, zap.Error(err))
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}
