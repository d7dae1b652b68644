package models

import "time"

// NotificationCategoryLeadUpdate groups every lead pipeline event.
const NotificationCategoryLeadUpdate = "lead_update"

// LeadNotificationKind tells consumers which lead event fired.
type LeadNotificationKind string

const (
	LeadNotificationCreated   LeadNotificationKind = "created"
	LeadNotificationUpdated   LeadNotificationKind = "updated"
	LeadNotificationConverted LeadNotificationKind = "converted"
)

// LeadNotification is the event handed to the notification side channel.
type LeadNotification struct {
	OrganizationID string               `json:"organization_id"`
	RecipientID    string               `json:"recipient_id"`
	Category       string               `json:"category"`
	Kind           LeadNotificationKind `json:"kind"`
	Title          string               `json:"title"`
	Body           string               `json:"body"`
	LeadID         string               `json:"lead_id"`
	OccurredAt     time.Time            `json:"occurred_at"`
}

// Notification is the persisted copy shown in the in-app inbox.
type Notification struct {
	ID             string     `db:"id" json:"id"`
	OrganizationID string     `db:"organization_id" json:"organization_id"`
	RecipientID    string     `db:"recipient_id" json:"recipient_id"`
	Category       string     `db:"category" json:"category"`
	Kind           string     `db:"kind" json:"kind"`
	Title          string     `db:"title" json:"title"`
	Body           string     `db:"body" json:"body"`
	LeadID         *string    `db:"lead_id" json:"lead_id,omitempty"`
	ReadAt         *time.Time `db:"read_at" json:"read_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}
