package workers

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"beatwatch/api/services"
	"beatwatch/pkg/ontology"
	"beatwatch/pkg/shared"
)

// FixWorker consumes raw position fixes published by the location-ingestion
// side and feeds them to the violation detector. Malformed payloads are
// logged and acked; a fix is never retried into a duplicate violation.
type FixWorker struct {
	*BaseWorker
	violations *services.ViolationService
}

func NewFixWorker(nc *nats.Conn, js nats.JetStreamContext, violations *services.ViolationService, logger *zap.Logger) *FixWorker {
	return &FixWorker{
		BaseWorker: NewBaseWorker(
			"FixWorker",
			nc,
			js,
			shared.StreamFixes,
			shared.ConsumerFixProcessor,
			shared.SubjectFixesAll,
			logger,
		),
		violations: violations,
	}
}

func (w *FixWorker) Start(ctx context.Context) error {
	return w.processMessages(ctx, func(msg *nats.Msg) {
		var fix ontology.PositionFix
		if err := json.Unmarshal(msg.Data, &fix); err != nil {
			w.logger.Warn("Discarding malformed fix",
				zap.String("subject", msg.Subject),
				zap.Error(err),
			)
			return
		}
		if fix.BeatID == "" || fix.PersonnelID == "" {
			w.logger.Warn("Discarding fix without beat or personnel id",
				zap.String("subject", msg.Subject),
			)
			return
		}

		violation, err := w.violations.IngestFix(&fix, shared.ActorSystem)
		if err != nil {
			if shared.IsNotFound(err) || shared.IsValidation(err) {
				w.logger.Warn("Fix rejected",
					zap.String("beat_id", fix.BeatID),
					zap.String("personnel_id", fix.PersonnelID),
					zap.Error(err),
				)
				return
			}
			w.logger.Error("Failed to ingest fix",
				zap.String("beat_id", fix.BeatID),
				zap.Error(err),
			)
			return
		}

		if violation != nil {
			w.logger.Info("Violation created from fix feed",
				zap.String("violation_id", violation.ViolationID),
				zap.String("beat_id", violation.BeatID),
			)
		}
	})
}
