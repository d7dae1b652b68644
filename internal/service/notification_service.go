package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/academy-crm-api/internal/models"
	"github.com/noah-isme/academy-crm-api/pkg/jobs"
	"github.com/noah-isme/academy-crm-api/pkg/messaging"
)

const notificationJobType = "lead_notification"

type notificationStore interface {
	Create(ctx context.Context, n *models.Notification) error
}

// NotificationConfig tunes the delivery worker.
type NotificationConfig struct {
	Enabled    bool
	Workers    int
	MaxRetries int
	RetryDelay time.Duration
	RoutingKey string
}

// notificationJob is shared across retries so a persisted row is not written twice.
type notificationJob struct {
	event     models.LeadNotification
	persisted bool
}

// NotificationService delivers lead events in the background: the row goes to the inbox
// table and the event to the message broker. Callers never wait for delivery.
type NotificationService struct {
	store     notificationStore
	publisher messaging.Publisher
	queue     *jobs.Queue
	metrics   *MetricsService
	logger    *zap.Logger
	config    NotificationConfig
}

// NewNotificationService constructs the service and its worker queue. Call Start before Notify.
func NewNotificationService(store notificationStore, publisher messaging.Publisher, metrics *MetricsService, logger *zap.Logger, config NotificationConfig) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher == nil {
		publisher = messaging.NopPublisher{}
	}
	if config.RoutingKey == "" {
		config.RoutingKey = models.NotificationCategoryLeadUpdate
	}
	s := &NotificationService{store: store, publisher: publisher, metrics: metrics, logger: logger, config: config}
	s.queue = jobs.NewQueue("lead-notifications", s.handle, jobs.QueueConfig{
		Workers:    config.Workers,
		MaxRetries: config.MaxRetries,
		RetryDelay: config.RetryDelay,
		Logger:     logger,
	})
	return s
}

// Start launches the delivery workers.
func (s *NotificationService) Start(ctx context.Context) {
	if !s.config.Enabled {
		return
	}
	s.queue.Start(ctx)
}

// Stop drains the workers.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// Notify queues event for delivery. It does not block on a full queue.
func (s *NotificationService) Notify(_ context.Context, event models.LeadNotification) error {
	if !s.config.Enabled {
		s.metrics.RecordNotification(string(event.Kind), "disabled")
		return nil
	}
	if event.Category == "" {
		event.Category = models.NotificationCategoryLeadUpdate
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	err := s.queue.TryEnqueue(jobs.Job{Type: notificationJobType, Payload: &notificationJob{event: event}})
	if err != nil {
		s.metrics.RecordNotification(string(event.Kind), "dropped")
		return fmt.Errorf("queue lead notification: %w", err)
	}
	s.metrics.RecordNotification(string(event.Kind), "queued")
	return nil
}

func (s *NotificationService) handle(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(*notificationJob)
	if !ok {
		s.logger.Error("unexpected notification payload", zap.String("job_id", job.ID))
		return nil
	}
	event := payload.event

	if !payload.persisted && s.store != nil {
		row := &models.Notification{
			OrganizationID: event.OrganizationID,
			RecipientID:    event.RecipientID,
			Category:       event.Category,
			Kind:           string(event.Kind),
			Title:          event.Title,
			Body:           event.Body,
			CreatedAt:      event.OccurredAt,
		}
		if event.LeadID != "" {
			leadID := event.LeadID
			row.LeadID = &leadID
		}
		if err := s.store.Create(ctx, row); err != nil {
			s.metrics.RecordNotification(string(event.Kind), "failed")
			return err
		}
		payload.persisted = true
	}

	if err := s.publisher.Publish(ctx, s.config.RoutingKey, event); err != nil {
		s.metrics.RecordNotification(string(event.Kind), "failed")
		return err
	}

	s.metrics.RecordNotification(string(event.Kind), "delivered")
	s.logger.Debug("lead notification delivered",
		zap.String("organization_id", event.OrganizationID),
		zap.String("lead_id", event.LeadID),
		zap.String("kind", string(event.Kind)))
	return nil
}
