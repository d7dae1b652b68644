package repository

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/academy-crm-api/internal/models"
)

func TestNotificationRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newLeadMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db)

	leadID := "1"
	mock.ExpectExec("INSERT INTO notifications").
		WithArgs(sqlmock.AnyArg(), "org-1", "user-1", models.NotificationCategoryLeadUpdate, "converted", "Lead converted", "Ama Owusu is now a student", leadID, nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	n := &models.Notification{
		OrganizationID: "org-1",
		RecipientID:    "user-1",
		Category:       models.NotificationCategoryLeadUpdate,
		Kind:           "converted",
		Title:          "Lead converted",
		Body:           "Ama Owusu is now a student",
		LeadID:         &leadID,
	}
	require.NoError(t, repo.Create(context.Background(), n))
	assert.NotEmpty(t, n.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newLeadMock(t)
	defer cleanup()
	repo := NewAuditRepository(db)

	mock.ExpectExec("INSERT INTO audit_logs").
		WithArgs(sqlmock.AnyArg(), "org-1", sqlmock.AnyArg(), models.AuditActionLeadDelete, models.AuditResourceLead, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), "", "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	log := &models.AuditLog{OrganizationID: "org-1", Action: models.AuditActionLeadDelete, Resource: models.AuditResourceLead}
	require.NoError(t, repo.Create(context.Background(), log))
	assert.NotEmpty(t, log.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
