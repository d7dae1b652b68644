package models

import "time"

// Audit actions recorded for destructive or provenance-changing lead operations.
const (
	AuditActionLeadArchive    = "LEAD_ARCHIVE"
	AuditActionLeadRestore    = "LEAD_RESTORE"
	AuditActionLeadDelete     = "LEAD_DELETE"
	AuditActionLeadBulkDelete = "LEAD_BULK_DELETE"
	AuditActionLeadPurge      = "LEAD_PURGE_ARCHIVED"
	AuditResourceLead         = "lead"
)

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID             string    `db:"id" json:"id"`
	OrganizationID string    `db:"organization_id" json:"organization_id"`
	UserID         *string   `db:"user_id" json:"user_id,omitempty"`
	Action         string    `db:"action" json:"action"`
	Resource       string    `db:"resource" json:"resource"`
	ResourceID     *string   `db:"resource_id" json:"resource_id,omitempty"`
	OldValues      []byte    `db:"old_values" json:"old_values,omitempty"`
	NewValues      []byte    `db:"new_values" json:"new_values,omitempty"`
	IPAddress      string    `db:"ip_address" json:"ip_address"`
	UserAgent      string    `db:"user_agent" json:"user_agent"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}
