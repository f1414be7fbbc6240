package services

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"beatwatch/db"
	"beatwatch/pkg/geo"
	"beatwatch/pkg/ontology"
	embeddednats "beatwatch/pkg/services/embedded-nats"
	"beatwatch/pkg/shared"
)

// ViolationService is the sole owner of violation rows. It evaluates each
// position fix independently against the beat geometry; only the moment of
// exit is recorded, re-entry is not.
type ViolationService struct {
	store  *db.Service
	nats   *embeddednats.EmbeddedNATS
	locks  *BeatLocks
	logger *zap.Logger
}

func NewViolationService(store *db.Service, nats *embeddednats.EmbeddedNATS, locks *BeatLocks, logger *zap.Logger) *ViolationService {
	return &ViolationService{
		store:  store,
		nats:   nats,
		locks:  locks,
		logger: logger,
	}
}

// IngestFix evaluates one raw position fix. It is inert unless the beat is
// in progress and the personnel member's acceptance is accepted. A distance
// strictly greater than the radius creates an exit violation and increments
// the beat's violation count in the same transaction; a fix on the boundary
// is inside.
func (s *ViolationService) IngestFix(fix *ontology.PositionFix, actorID string) (*ontology.Violation, error) {
	if !geo.ValidCoordinates(fix.Latitude, fix.Longitude) {
		return nil, shared.NewValidationError("fix coordinates out of range")
	}

	unlock := s.locks.Lock(fix.BeatID)
	defer unlock()

	beat, err := getBeat(s.store.DB, fix.BeatID)
	if err != nil {
		return nil, err
	}
	if beat.Status != shared.BeatStatusInProgress {
		return nil, nil
	}

	acc, err := getLiveAcceptance(s.store.DB, fix.BeatID, fix.PersonnelID)
	if err != nil {
		if shared.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if acc.Status != shared.AcceptanceStatusAccepted {
		return nil, nil
	}

	distance := geo.Distance(beat.CenterLat, beat.CenterLng, fix.Latitude, fix.Longitude)
	if distance <= beat.RadiusMeters {
		return nil, nil
	}

	occurredAt := fix.Timestamp
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	violationID := uuid.New().String()
	now := time.Now().Format(time.RFC3339)

	err = s.store.Transaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO violations (violation_id, beat_id, personnel_id, kind, latitude, longitude,
			                         distance_m, status, occurred_at, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			violationID, fix.BeatID, fix.PersonnelID, shared.ViolationKindExit,
			fix.Latitude, fix.Longitude, distance, shared.ViolationStatusPending,
			occurredAt.Format(time.RFC3339), now, now,
		)
		if err != nil {
			return fmt.Errorf("failed to create violation: %w", err)
		}

		_, err = tx.Exec(
			`UPDATE beats SET violation_count = violation_count + 1, updated_at = ? WHERE beat_id = ?`,
			now, fix.BeatID,
		)
		if err != nil {
			return fmt.Errorf("failed to increment violation count: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	violation, err := s.GetViolation(violationID)
	if err != nil {
		return nil, err
	}

	go publishAudit(s.nats, s.logger, shared.EntityTypeViolation, violationID, shared.OpCreated, actorID, nil, violation)

	s.logger.Warn("Exit violation detected",
		zap.String("beat_id", fix.BeatID),
		zap.String("personnel_id", fix.PersonnelID),
		zap.Float64("distance_m", distance),
		zap.Float64("radius_m", beat.RadiusMeters),
	)

	return violation, nil
}

// Acknowledge moves a pending violation to acknowledged. Acknowledging an
// already-acknowledged violation is a no-op; a resolved one is rejected.
func (s *ViolationService) Acknowledge(violationID, actorID string) (*ontology.Violation, error) {
	before, err := s.GetViolation(violationID)
	if err != nil {
		return nil, err
	}

	switch before.Status {
	case shared.ViolationStatusResolved:
		return nil, shared.NewInvalidStateError("violation is already resolved")
	case shared.ViolationStatusAcknowledged:
		return before, nil
	}

	now := time.Now().Format(time.RFC3339)
	_, err = s.store.DB.Exec(
		`UPDATE violations SET status = ?, updated_at = ? WHERE violation_id = ? AND status = ?`,
		shared.ViolationStatusAcknowledged, now, violationID, shared.ViolationStatusPending,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to acknowledge violation: %w", err)
	}

	after, err := s.GetViolation(violationID)
	if err != nil {
		return nil, err
	}

	go publishAudit(s.nats, s.logger, shared.EntityTypeViolation, violationID, shared.OpAcknowledged, actorID, before, after)

	return after, nil
}

// Resolve closes a violation from pending or acknowledged. Resolving twice
// is not an error: the second call returns the current state unchanged.
func (s *ViolationService) Resolve(violationID, actorID string) (*ontology.Violation, error) {
	before, err := s.GetViolation(violationID)
	if err != nil {
		return nil, err
	}

	if before.Status == shared.ViolationStatusResolved {
		return before, nil
	}

	now := time.Now().Format(time.RFC3339)
	_, err = s.store.DB.Exec(
		`UPDATE violations SET status = ?, updated_at = ? WHERE violation_id = ?`,
		shared.ViolationStatusResolved, now, violationID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve violation: %w", err)
	}

	after, err := s.GetViolation(violationID)
	if err != nil {
		return nil, err
	}

	go publishAudit(s.nats, s.logger, shared.EntityTypeViolation, violationID, shared.OpResolved, actorID, before, after)

	return after, nil
}

func (s *ViolationService) GetViolation(violationID string) (*ontology.Violation, error) {
	row := s.store.DB.QueryRow(
		fmt.Sprintf("SELECT %s FROM violations WHERE violation_id = ?", violationColumns),
		violationID,
	)

	violation, err := scanViolation(row)
	if err == sql.ErrNoRows {
		return nil, shared.NewNotFoundError("violation not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan violation: %w", err)
	}

	return violation, nil
}

func (s *ViolationService) ListViolations(filters ontology.ViolationFilters) ([]ontology.Violation, error) {
	query := fmt.Sprintf("SELECT %s FROM violations WHERE 1=1", violationColumns)
	var args []interface{}

	if filters.BeatID != "" {
		query += " AND beat_id = ?"
		args = append(args, filters.BeatID)
	}
	if filters.Status != "" {
		query += " AND status = ?"
		args = append(args, filters.Status)
	}
	query += " ORDER BY occurred_at DESC"

	rows, err := s.store.DB.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query violations: %w", err)
	}
	defer rows.Close()

	var violations []ontology.Violation
	for rows.Next() {
		v, err := scanViolation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan violation: %w", err)
		}
		violations = append(violations, *v)
	}

	return violations, rows.Err()
}
