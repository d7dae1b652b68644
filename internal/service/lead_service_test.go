package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/academy-crm-api/internal/dto"
	"github.com/noah-isme/academy-crm-api/internal/models"
	"github.com/noah-isme/academy-crm-api/internal/pipeline"
	appErrors "github.com/noah-isme/academy-crm-api/pkg/errors"
)

var leadTestTime = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type memoryLeadStore struct {
	mu         sync.Mutex
	leads      map[string]models.Lead
	seq        int
	failUpdate map[string]error
	failDelete map[string]error
	listErr    error
	updates    int
	bulkCalls  int

	// beforeUpdateMany runs under the store lock, ahead of the bulk update.
	beforeUpdateMany func(*memoryLeadStore)
}

func newMemoryLeadStore(leads ...models.Lead) *memoryLeadStore {
	s := &memoryLeadStore{
		leads:      make(map[string]models.Lead),
		failUpdate: make(map[string]error),
		failDelete: make(map[string]error),
	}
	for _, l := range leads {
		s.leads[l.ID] = l
	}
	return s
}

func (s *memoryLeadStore) List(_ context.Context, orgID string, filter models.LeadListFilter) ([]models.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]models.Lead, 0, len(s.leads))
	for _, l := range s.leads {
		if l.OrganizationID != orgID {
			continue
		}
		if len(filter.Stages) > 0 && !containsStage(filter.Stages, l.Stage) {
			continue
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryLeadStore) Get(_ context.Context, orgID, id string) (*models.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[id]
	if !ok || l.OrganizationID != orgID {
		return nil, sql.ErrNoRows
	}
	return &l, nil
}

func (s *memoryLeadStore) Insert(_ context.Context, lead *models.Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	lead.ID = "new-" + string(rune('0'+s.seq))
	lead.CreatedAt = leadTestTime
	lead.UpdatedAt = leadTestTime
	s.leads[lead.ID] = *lead
	return nil
}

func (s *memoryLeadStore) Update(_ context.Context, orgID, id string, patch models.LeadPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failUpdate[id]; err != nil {
		return err
	}
	l, ok := s.leads[id]
	if !ok || l.OrganizationID != orgID {
		return sql.ErrNoRows
	}
	s.updates++
	s.leads[id] = patch.Apply(l)
	return nil
}

func (s *memoryLeadStore) UpdateMany(_ context.Context, orgID string, ids []string, patch models.LeadPatch) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bulkCalls++
	if s.beforeUpdateMany != nil {
		s.beforeUpdateMany(s)
	}
	updated := make([]string, 0, len(ids))
	for _, id := range ids {
		if err := s.failUpdate[id]; err != nil {
			return nil, err
		}
		l, ok := s.leads[id]
		if !ok || l.OrganizationID != orgID {
			continue
		}
		s.leads[id] = patch.Apply(l)
		updated = append(updated, id)
	}
	return updated, nil
}

func (s *memoryLeadStore) Delete(_ context.Context, orgID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failDelete[id]; err != nil {
		return err
	}
	l, ok := s.leads[id]
	if !ok || l.OrganizationID != orgID {
		return sql.ErrNoRows
	}
	delete(s.leads, id)
	return nil
}

func (s *memoryLeadStore) DeleteMany(_ context.Context, orgID string, ids []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for _, id := range ids {
		if l, ok := s.leads[id]; ok && l.OrganizationID == orgID {
			delete(s.leads, id)
			removed++
		}
	}
	return removed, nil
}

func (s *memoryLeadStore) lead(id string) (models.Lead, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[id]
	return l, ok
}

func containsStage(stages []models.LeadStage, stage models.LeadStage) bool {
	for _, s := range stages {
		if s == stage {
			return true
		}
	}
	return false
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []models.LeadNotification
}

func (n *recordingNotifier) Notify(_ context.Context, event models.LeadNotification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *recordingNotifier) kinds() []models.LeadNotificationKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]models.LeadNotificationKind, len(n.events))
	for i, e := range n.events {
		out[i] = e.Kind
	}
	return out
}

type recordingAudit struct {
	mu   sync.Mutex
	logs []models.AuditLog
}

func (a *recordingAudit) Create(_ context.Context, log *models.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, *log)
	return nil
}

func (a *recordingAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.logs))
	for i, l := range a.logs {
		out[i] = l.Action
	}
	return out
}

func testLead(id, name string, stage models.LeadStage) models.Lead {
	return models.Lead{
		ID:             id,
		OrganizationID: "org-1",
		Name:           name,
		Source:         models.LeadSourceWebsiteForm,
		Stage:          stage,
		CreatedAt:      leadTestTime,
		UpdatedAt:      leadTestTime,
	}
}

func testActor() models.Actor {
	return models.Actor{OrganizationID: "org-1", UserID: "user-1", Role: models.RoleAdmin}
}

func newTestLeadService(store LeadStore, opts ...LeadServiceOption) (*LeadService, *recordingNotifier, *recordingAudit) {
	notifier := &recordingNotifier{}
	audit := &recordingAudit{}
	opts = append([]LeadServiceOption{
		WithLeadNotifier(notifier),
		WithLeadAudit(audit),
		WithLeadClock(func() time.Time { return leadTestTime }),
	}, opts...)
	return NewLeadService(store, nil, nil, opts...), notifier, audit
}

func TestLeadServiceArchiveRestoreRoundTrip(t *testing.T) {
	store := newMemoryLeadStore(testLead("1", "Ama Owusu", models.LeadStageQualified))
	svc, _, audit := newTestLeadService(store)
	ctx := context.Background()

	archived, err := svc.Archive(ctx, testActor(), "1")
	require.NoError(t, err)
	assert.Equal(t, models.LeadStageLost, archived.Stage)
	require.NotNil(t, archived.OriginalStage)
	assert.Equal(t, models.LeadStageQualified, *archived.OriginalStage)

	_, err = svc.Archive(ctx, testActor(), "1")
	assert.ErrorIs(t, err, appErrors.ErrAlreadyArchived)
	stored, _ := store.lead("1")
	assert.Equal(t, models.LeadStageQualified, *stored.OriginalStage)

	restored, err := svc.Restore(ctx, testActor(), "1")
	require.NoError(t, err)
	assert.Equal(t, models.LeadStageQualified, restored.Stage)
	assert.Nil(t, restored.OriginalStage)

	stored, _ = store.lead("1")
	assert.Equal(t, models.LeadStageQualified, stored.Stage)
	assert.Nil(t, stored.OriginalStage)
	assert.Equal(t, []string{models.AuditActionLeadArchive, models.AuditActionLeadRestore}, audit.actions())
}

func TestLeadServiceRestoreWithoutProvenanceFallsBackToNew(t *testing.T) {
	store := newMemoryLeadStore(testLead("9", "Kofi", models.LeadStageLost))
	svc, notifier, _ := newTestLeadService(store)

	restored, err := svc.Restore(context.Background(), testActor(), "9")
	require.NoError(t, err)
	assert.Equal(t, models.LeadStageNew, restored.Stage)
	assert.Empty(t, notifier.kinds())
}

func TestLeadServiceRestoreActiveLead(t *testing.T) {
	store := newMemoryLeadStore(testLead("1", "Ama", models.LeadStageNew))
	svc, _, _ := newTestLeadService(store)

	_, err := svc.Restore(context.Background(), testActor(), "1")
	assert.ErrorIs(t, err, appErrors.ErrNotArchived)
}

func TestLeadServiceMoveToConvertedNotifiesOnce(t *testing.T) {
	store := newMemoryLeadStore(testLead("1", "Ama", models.LeadStageQualified))
	svc, notifier, _ := newTestLeadService(store)
	ctx := context.Background()

	moved, changed, err := svc.Move(ctx, testActor(), "1", models.LeadStageConverted)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, models.LeadStageConverted, moved.Stage)

	_, changed, err = svc.Move(ctx, testActor(), "1", models.LeadStageConverted)
	require.NoError(t, err)
	assert.False(t, changed)

	assert.Equal(t, []models.LeadNotificationKind{models.LeadNotificationConverted}, notifier.kinds())
	assert.Equal(t, 1, store.updates)
}

func TestLeadServiceMoveToLostArchives(t *testing.T) {
	store := newMemoryLeadStore(testLead("1", "Ama", models.LeadStageContacted))
	svc, _, audit := newTestLeadService(store)

	moved, changed, err := svc.Move(context.Background(), testActor(), "1", models.LeadStageLost)
	require.NoError(t, err)
	assert.True(t, changed)
	require.NotNil(t, moved.OriginalStage)
	assert.Equal(t, models.LeadStageContacted, *moved.OriginalStage)
	assert.Equal(t, []string{models.AuditActionLeadArchive}, audit.actions())
}

func TestLeadServiceMoveOutOfLostClearsProvenance(t *testing.T) {
	archived := testLead("1", "Ama", models.LeadStageLost)
	prior := models.LeadStageQualified
	archived.OriginalStage = &prior
	store := newMemoryLeadStore(archived)
	svc, _, _ := newTestLeadService(store)

	moved, _, err := svc.Move(context.Background(), testActor(), "1", models.LeadStageContacted)
	require.NoError(t, err)
	assert.Equal(t, models.LeadStageContacted, moved.Stage)
	assert.Nil(t, moved.OriginalStage)
}

func TestLeadServiceMoveInvalidStage(t *testing.T) {
	svc, _, _ := newTestLeadService(newMemoryLeadStore(testLead("1", "Ama", models.LeadStageNew)))

	_, _, err := svc.Move(context.Background(), testActor(), "1", models.LeadStage("won"))
	assert.ErrorIs(t, err, appErrors.ErrInvalidStage)
}

func TestLeadServiceGetMissingLead(t *testing.T) {
	svc, _, _ := newTestLeadService(newMemoryLeadStore())

	_, err := svc.Get(context.Background(), testActor(), "missing")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestLeadServiceStoreFailureIsInternal(t *testing.T) {
	store := newMemoryLeadStore(testLead("1", "Ama", models.LeadStageNew))
	store.failUpdate["1"] = errors.New("connection reset")
	svc, _, _ := newTestLeadService(store)

	_, _, err := svc.Move(context.Background(), testActor(), "1", models.LeadStageContacted)
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrInternal.Code, appErr.Code)
	assert.Equal(t, "failed to move lead", appErr.Message)

	stored, _ := store.lead("1")
	assert.Equal(t, models.LeadStageNew, stored.Stage)
}

func TestLeadServiceCreateDefaults(t *testing.T) {
	store := newMemoryLeadStore()
	svc, notifier, _ := newTestLeadService(store)

	lead, err := svc.Create(context.Background(), testActor(), dto.CreateLeadRequest{
		Name:       "  Yaw Mensah ",
		Phone:      "024 412 3456",
		Instrument: "Piano",
	})
	require.NoError(t, err)
	assert.Equal(t, "Yaw Mensah", lead.Name)
	assert.Equal(t, models.LeadStageNew, lead.Stage)
	assert.Equal(t, models.LeadSourceOther, lead.Source)
	assert.Equal(t, "+233244123456", lead.Phone)
	assert.Equal(t, "org-1", lead.OrganizationID)
	assert.Equal(t, "user-1", lead.CreatedBy)
	assert.Equal(t, []models.LeadNotificationKind{models.LeadNotificationCreated}, notifier.kinds())
}

func TestLeadServiceCreateUsesConfiguredPhoneRegion(t *testing.T) {
	svc, _, _ := newTestLeadService(newMemoryLeadStore(), WithPhoneRegion("NG"))
	assert.Equal(t, "NG", svc.PhoneRegion())

	lead, err := svc.Create(context.Background(), testActor(), dto.CreateLeadRequest{Name: "Chidi", Phone: "0802 123 4567"})
	require.NoError(t, err)
	assert.Equal(t, "+2348021234567", lead.Phone)
}

func TestLeadServiceCreateRejectsLostAndBadSource(t *testing.T) {
	svc, _, _ := newTestLeadService(newMemoryLeadStore())
	ctx := context.Background()

	_, err := svc.Create(ctx, testActor(), dto.CreateLeadRequest{Name: "Ama", Stage: "lost"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = svc.Create(ctx, testActor(), dto.CreateLeadRequest{Name: "Ama", Source: "Billboard"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = svc.Create(ctx, testActor(), dto.CreateLeadRequest{})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestLeadServiceUpdateFields(t *testing.T) {
	store := newMemoryLeadStore(testLead("1", "Ama", models.LeadStageContacted))
	svc, notifier, _ := newTestLeadService(store)

	notes := "prefers weekend lessons"
	updated, err := svc.Update(context.Background(), testActor(), "1", dto.UpdateLeadRequest{Notes: &notes})
	require.NoError(t, err)
	assert.Equal(t, notes, updated.Notes)
	assert.Equal(t, models.LeadStageContacted, updated.Stage)
	assert.Equal(t, []models.LeadNotificationKind{models.LeadNotificationUpdated}, notifier.kinds())

	_, err = svc.Update(context.Background(), testActor(), "1", dto.UpdateLeadRequest{})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestLeadServiceBulkArchiveKeepsEachPriorStage(t *testing.T) {
	store := newMemoryLeadStore(
		testLead("1", "Ama", models.LeadStageNew),
		testLead("2", "Kofi", models.LeadStageContacted),
		testLead("3", "Esi", models.LeadStageQualified),
	)
	svc, _, _ := newTestLeadService(store)

	result := svc.BulkArchive(context.Background(), testActor(), []string{"2", "3"})
	require.True(t, result.OK())
	assert.Equal(t, []string{"2", "3"}, result.Succeeded())

	two, _ := store.lead("2")
	three, _ := store.lead("3")
	one, _ := store.lead("1")
	assert.Equal(t, models.LeadStageContacted, *two.OriginalStage)
	assert.Equal(t, models.LeadStageQualified, *three.OriginalStage)
	assert.Equal(t, models.LeadStageNew, one.Stage)
}

func TestLeadServiceBulkDeletePartialFailure(t *testing.T) {
	store := newMemoryLeadStore(
		testLead("1", "Ama", models.LeadStageNew),
		testLead("2", "Kofi", models.LeadStageNew),
		testLead("3", "Esi", models.LeadStageNew),
	)
	store.failDelete["2"] = errors.New("lock timeout")
	svc, _, audit := newTestLeadService(store)

	result := svc.BulkDelete(context.Background(), testActor(), []string{"1", "2", "3", "1"})
	assert.False(t, result.OK())
	assert.Equal(t, []string{"1", "3"}, result.Succeeded())
	require.Len(t, result.Failed(), 1)
	assert.Equal(t, "2", result.Failed()[0].LeadID)

	_, stillThere := store.lead("2")
	assert.True(t, stillThere)
	assert.Equal(t, []string{models.AuditActionLeadBulkDelete}, audit.actions())
}

func TestLeadServiceBulkMove(t *testing.T) {
	archived := testLead("3", "Esi", models.LeadStageLost)
	prior := models.LeadStageNew
	archived.OriginalStage = &prior
	store := newMemoryLeadStore(
		testLead("1", "Ama", models.LeadStageNew),
		testLead("2", "Kofi", models.LeadStageQualified),
		archived,
	)
	svc, notifier, _ := newTestLeadService(store)

	result, err := svc.BulkMove(context.Background(), testActor(), []string{"1", "2", "3", "missing"}, models.LeadStageQualified)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, result.Succeeded())
	require.Len(t, result.Failed(), 1)
	assert.ErrorIs(t, result.Failed()[0].Err, appErrors.ErrNotFound)
	assert.Equal(t, 1, store.bulkCalls)

	three, _ := store.lead("3")
	assert.Equal(t, models.LeadStageQualified, three.Stage)
	assert.Nil(t, three.OriginalStage)
	assert.Empty(t, notifier.kinds())
}

func TestLeadServiceBulkMoveFailsLeadsRemovedBeforeUpdate(t *testing.T) {
	store := newMemoryLeadStore(
		testLead("1", "Ama", models.LeadStageNew),
		testLead("2", "Kofi", models.LeadStageQualified),
	)
	store.beforeUpdateMany = func(s *memoryLeadStore) { delete(s.leads, "2") }
	svc, notifier, _ := newTestLeadService(store)

	result, err := svc.BulkMove(context.Background(), testActor(), []string{"1", "2"}, models.LeadStageConverted)
	require.NoError(t, err)
	assert.False(t, result.OK())
	assert.Equal(t, []string{"1"}, result.Succeeded())
	require.Len(t, result.Failed(), 1)
	assert.Equal(t, "2", result.Failed()[0].LeadID)
	assert.ErrorIs(t, result.Failed()[0].Err, appErrors.ErrNotFound)
	assert.Equal(t, []models.LeadNotificationKind{models.LeadNotificationConverted}, notifier.kinds())
}

func TestLeadServiceBulkMoveToLostUsesArchive(t *testing.T) {
	store := newMemoryLeadStore(testLead("1", "Ama", models.LeadStageContacted))
	svc, _, _ := newTestLeadService(store)

	result, err := svc.BulkMove(context.Background(), testActor(), []string{"1"}, models.LeadStageLost)
	require.NoError(t, err)
	assert.True(t, result.OK())
	assert.Equal(t, 0, store.bulkCalls)

	one, _ := store.lead("1")
	assert.Equal(t, models.LeadStageContacted, *one.OriginalStage)
}

func TestLeadServiceMarkContacted(t *testing.T) {
	store := newMemoryLeadStore(testLead("1", "Ama", models.LeadStageNew))
	svc, _, _ := newTestLeadService(store)

	lead, err := svc.MarkContacted(context.Background(), testActor(), "1", models.ContactChannelCall)
	require.NoError(t, err)
	require.NotNil(t, lead.LastContactedAt)
	assert.Equal(t, leadTestTime, *lead.LastContactedAt)
	assert.Equal(t, models.LeadStageNew, lead.Stage)

	_, err = svc.MarkContacted(context.Background(), testActor(), "1", models.ContactChannel("sms"))
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestLeadServicePurgeArchived(t *testing.T) {
	store := newMemoryLeadStore(
		testLead("1", "Ama", models.LeadStageNew),
		testLead("2", "Kofi", models.LeadStageLost),
		testLead("3", "Esi", models.LeadStageLost),
	)
	svc, _, audit := newTestLeadService(store)

	removed, err := svc.PurgeArchived(context.Background(), testActor())
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)
	_, ok := store.lead("1")
	assert.True(t, ok)
	assert.Equal(t, []string{models.AuditActionLeadPurge}, audit.actions())
}

func TestLeadServiceListAppliesFilter(t *testing.T) {
	piano := testLead("1", "Ama", models.LeadStageNew)
	piano.Instrument = "Piano"
	store := newMemoryLeadStore(piano, testLead("2", "Kofi", models.LeadStageNew))
	svc, _, _ := newTestLeadService(store)

	filter, err := pipeline.ParseFilter("piano", "all", "all")
	require.NoError(t, err)
	leads, hit, err := svc.List(context.Background(), testActor(), filter)
	require.NoError(t, err)
	assert.False(t, hit)
	require.Len(t, leads, 1)
	assert.Equal(t, "1", leads[0].ID)
}

func TestLeadServiceSnapshotUsesCache(t *testing.T) {
	store := newMemoryLeadStore(testLead("1", "Ama", models.LeadStageNew))
	cache := NewCacheService(newMemoryCacheRepo(), nil, time.Minute, nil, true)
	svc, _, _ := newTestLeadService(store, WithLeadCache(cache, time.Minute))
	ctx := context.Background()

	_, hit, err := svc.Snapshot(ctx, "org-1", false)
	require.NoError(t, err)
	assert.False(t, hit)

	_, hit, err = svc.Snapshot(ctx, "org-1", false)
	require.NoError(t, err)
	assert.True(t, hit)

	require.NoError(t, svc.InvalidateOrganization(ctx, "org-1"))
	_, hit, err = svc.Snapshot(ctx, "org-1", false)
	require.NoError(t, err)
	assert.False(t, hit)
}
