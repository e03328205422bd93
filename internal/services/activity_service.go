package services

import (
	"context"
	"time"

	"github.com/caseloop/caseloop/internal/models"
	"github.com/caseloop/caseloop/internal/websocket"
	"github.com/caseloop/caseloop/pkg/logger"
)

// AuditRecorder appends framework-level audit entries
type AuditRecorder interface {
	Record(ctx context.Context, entry *models.AuditLog) error
}

// ActivityService fans action lifecycle events out to the organization's
// activity feed and the audit log. It satisfies the executor's EventEmitter;
// all work happens off the calling goroutine so the executor never blocks on
// a slow feed.
type ActivityService struct {
	hub    *websocket.Hub
	audit  AuditRecorder
	logger *logger.Logger
}

// NewActivityService creates a new activity service. hub may be nil when the
// server runs without WebSocket support.
func NewActivityService(hub *websocket.Hub, audit AuditRecorder, log *logger.Logger) *ActivityService {
	return &ActivityService{
		hub:    hub,
		audit:  audit,
		logger: log,
	}
}

// ActionCompleted publishes a completion event
func (s *ActivityService) ActionCompleted(ctx context.Context, record *models.ActionRecord) {
	go s.publish(record, websocket.MessageTypeActionCompleted, "action_completed")
}

// ActionUndone publishes an undo event
func (s *ActivityService) ActionUndone(ctx context.Context, record *models.ActionRecord) {
	go s.publish(record, websocket.MessageTypeActionUndone, "action_undone")
}

func (s *ActivityService) publish(record *models.ActionRecord, msgType websocket.MessageType, auditAction string) {
	// Detached from the request context: the event outlives the request
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if s.hub != nil {
		s.hub.BroadcastActivityEvent(record.OrganizationID.String(), msgType, &websocket.ActivityEventData{
			RecordID:      record.ID.String(),
			ActionID:      record.ActionID,
			EntityType:    record.EntityType,
			EntityID:      record.EntityID.String(),
			ActorID:       record.ActorID.String(),
			ActorType:     string(record.ActorType),
			Status:        string(record.Status),
			UndoAvailable: record.Undoable && record.Status == models.RecordStatusCompleted,
			UndoExpiresAt: record.UndoExpiresAt,
		})
	}

	if s.audit != nil {
		entry := &models.AuditLog{
			OrganizationID: record.OrganizationID,
			EntityType:     record.EntityType,
			EntityID:       record.EntityID,
			Action:         auditAction,
			ActorID:        record.ActorID,
			ActorType:      record.ActorType,
			Changes: models.JSONB{
				"record_id": record.ID.String(),
				"action_id": record.ActionID,
			},
			Timestamp: time.Now().UTC(),
		}
		if err := s.audit.Record(ctx, entry); err != nil {
			s.logger.Warn("failed to record activity audit entry",
				logger.String("record_id", record.ID.String()),
				logger.String("action", auditAction),
				logger.Err(err))
		}
	}
}
