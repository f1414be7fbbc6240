package services

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	embeddednats "beatwatch/pkg/services/embedded-nats"
	"beatwatch/pkg/shared"
)

// publishAudit emits one audit event per state transition. Delivery is
// best-effort from the caller's point of view; the event lands on the audit
// stream and the audit worker persists it.
func publishAudit(nats *embeddednats.EmbeddedNATS, logger *zap.Logger, entityType, entityID, operation, actorID string, before, after interface{}) {
	if nats == nil || nats.JetStream() == nil {
		logger.Debug("NATS not available for publishing audit event",
			zap.String("entity_type", entityType),
			zap.String("operation", operation),
		)
		return
	}

	event := shared.AuditEvent{
		ID:         uuid.New().String(),
		EntityType: entityType,
		EntityID:   entityID,
		Operation:  operation,
		ActorID:    actorID,
		Before:     before,
		After:      after,
		Timestamp:  time.Now().UTC(),
		Source:     "beatwatch-engine",
	}

	data, err := json.Marshal(event)
	if err != nil {
		logger.Error("Failed to marshal audit event", zap.Error(err))
		return
	}

	subject := shared.AuditSubject(entityType, operation)
	msgID := fmt.Sprintf("%s-%s-%d", entityID, operation, time.Now().UnixNano())

	if err := nats.PublishWithDedup(subject, data, msgID); err != nil {
		logger.Error("Failed to publish audit event",
			zap.String("subject", subject),
			zap.Error(err),
		)
	}
}
