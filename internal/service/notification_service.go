package service

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gestion-judicial/casefile-api/internal/models"
	"github.com/gestion-judicial/casefile-api/pkg/jobs"
)

// Notification job types.
const (
	JobCaseCreated       = "case.created"
	JobCaseStatusChanged = "case.status_changed"
	JobCaseAssigned      = "case.assigned"
	JobDocumentOCR       = "document.ocr"
)

// CaseEventPayload is the payload carried by case notification jobs.
type CaseEventPayload struct {
	CaseID          string            `json:"case_id"`
	CaseNumber      string            `json:"case_number"`
	Status          models.CaseStatus `json:"status"`
	PreviousStatus  models.CaseStatus `json:"previous_status,omitempty"`
	AssignedJudgeID *string           `json:"assigned_judge_id,omitempty"`
	OwnerID         string            `json:"owner_id"`
}

// NotificationService fans case lifecycle events out to interested parties
// through the background queue. Events are fire-and-forget: they are
// enqueued only after the owning transaction committed, and a full queue
// drops the event with a log line rather than failing the request.
type NotificationService struct {
	queue  *jobs.Queue
	logger *zap.Logger
}

// NewNotificationService creates an instance of NotificationService. A nil
// queue disables dispatch entirely.
func NewNotificationService(queue *jobs.Queue, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{queue: queue, logger: logger}
}

// CaseCreated announces a newly filed case.
func (s *NotificationService) CaseCreated(c *models.Case) {
	s.enqueue(JobCaseCreated, payloadOf(c, ""))
}

// CaseStatusChanged announces a lifecycle transition.
func (s *NotificationService) CaseStatusChanged(c *models.Case, previous models.CaseStatus) {
	s.enqueue(JobCaseStatusChanged, payloadOf(c, previous))
}

// CaseAssigned announces a judge assignment.
func (s *NotificationService) CaseAssigned(c *models.Case) {
	s.enqueue(JobCaseAssigned, payloadOf(c, ""))
}

func (s *NotificationService) enqueue(jobType string, payload CaseEventPayload) {
	if s.queue == nil {
		return
	}
	err := s.queue.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    jobType,
		Payload: payload,
	})
	if err != nil {
		s.logger.Warn("dropped notification",
			zap.String("type", jobType),
			zap.String("case_id", payload.CaseID),
			zap.Error(err))
	}
}

func payloadOf(c *models.Case, previous models.CaseStatus) CaseEventPayload {
	return CaseEventPayload{
		CaseID:          c.ID,
		CaseNumber:      c.CaseNumber,
		Status:          c.Status,
		PreviousStatus:  previous,
		AssignedJudgeID: c.AssignedJudgeID,
		OwnerID:         c.OwnerID,
	}
}

// HandleNotificationJob is the queue handler backing the notification
// workers. Delivery is a structured log line; wiring an SMTP or webhook
// sender in its place is a deployment concern.
func HandleNotificationJob(logger *zap.Logger) jobs.Handler {
	return func(ctx context.Context, job jobs.Job) error {
		payload, ok := job.Payload.(CaseEventPayload)
		if !ok {
			logger.Warn("notification job with unexpected payload", zap.String("type", job.Type))
			return nil
		}
		logger.Info("case notification",
			zap.String("type", job.Type),
			zap.String("case_id", payload.CaseID),
			zap.String("case_number", payload.CaseNumber),
			zap.String("status", string(payload.Status)))
		return nil
	}
}
