package workers

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"beatwatch/pkg/shared"
)

// AuditWorker drains the audit stream into the audit_log table. The table
// is append-only; querying and retention belong to the audit tooling, not
// the engine.
type AuditWorker struct {
	*BaseWorker
	db *sql.DB
}

func NewAuditWorker(nc *nats.Conn, js nats.JetStreamContext, db *sql.DB, logger *zap.Logger) *AuditWorker {
	return &AuditWorker{
		BaseWorker: NewBaseWorker(
			"AuditWorker",
			nc,
			js,
			shared.StreamAudit,
			shared.ConsumerAuditProcessor,
			shared.SubjectAuditAll,
			logger,
		),
		db: db,
	}
}

func (w *AuditWorker) Start(ctx context.Context) error {
	return w.processMessages(ctx, func(msg *nats.Msg) {
		var event shared.AuditEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			w.logger.Warn("Discarding malformed audit event",
				zap.String("subject", msg.Subject),
				zap.Error(err),
			)
			return
		}

		beforeJSON := marshalSnapshot(event.Before)
		afterJSON := marshalSnapshot(event.After)

		_, err := w.db.Exec(
			`INSERT INTO audit_log (audit_id, entity_type, entity_id, operation, actor_id, before_json, after_json, occurred_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			event.ID, event.EntityType, event.EntityID, event.Operation, event.ActorID,
			beforeJSON, afterJSON, event.Timestamp.Format(time.RFC3339),
		)
		if err != nil {
			w.logger.Error("Failed to persist audit event",
				zap.String("audit_id", event.ID),
				zap.Error(err),
			)
			return
		}

		w.logger.Debug("Audit event persisted",
			zap.String("entity_type", event.EntityType),
			zap.String("operation", event.Operation),
		)
	})
}

func marshalSnapshot(v interface{}) interface{} {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return string(data)
}
