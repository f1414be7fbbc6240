package services

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"beatwatch/db"
	"beatwatch/pkg/ontology"
	embeddednats "beatwatch/pkg/services/embedded-nats"
	"beatwatch/pkg/shared"
)

// AcceptanceService tracks each personnel member's confirm/decline answer
// for a beat and fires the auto-start transition the instant the full
// complement has accepted. No explicit start action exists anywhere.
type AcceptanceService struct {
	store  *db.Service
	nats   *embeddednats.EmbeddedNATS
	locks  *BeatLocks
	logger *zap.Logger
}

func NewAcceptanceService(store *db.Service, nats *embeddednats.EmbeddedNATS, locks *BeatLocks, logger *zap.Logger) *AcceptanceService {
	return &AcceptanceService{
		store:  store,
		nats:   nats,
		locks:  locks,
		logger: logger,
	}
}

// Respond records an accept or decline for an assigned personnel member.
// A decline requires a reason. The row is a one-shot answer for the cycle:
// re-responding is rejected. Removal after a decline is not automatic; it
// goes through the replacement ledger so the decline stays auditable.
func (s *AcceptanceService) Respond(req *ontology.RespondRequest, actorID string) (*ontology.PersonnelAcceptance, error) {
	if req.Decision != shared.DecisionAccept && req.Decision != shared.DecisionDecline {
		return nil, shared.NewValidationError("decision must be accept or decline")
	}
	if req.Decision == shared.DecisionDecline && req.Reason == "" {
		return nil, shared.NewValidationError("reason is required when declining")
	}

	unlock := s.locks.Lock(req.BeatID)
	defer unlock()

	beat, err := getBeat(s.store.DB, req.BeatID)
	if err != nil {
		return nil, err
	}
	if beat.Status == shared.BeatStatusCompleted || beat.Status == shared.BeatStatusDeclined {
		return nil, shared.NewInvalidStateError(fmt.Sprintf("cannot respond to beat in status %s", beat.Status))
	}

	before, err := getLiveAcceptance(s.store.DB, req.BeatID, req.PersonnelID)
	if err != nil {
		return nil, err
	}
	if before.Status != shared.AcceptanceStatusPending {
		return nil, shared.NewInvalidStateError(fmt.Sprintf("response already recorded as %s", before.Status))
	}

	status := shared.AcceptanceStatusAccepted
	if req.Decision == shared.DecisionDecline {
		status = shared.AcceptanceStatusDeclined
	}

	now := time.Now().Format(time.RFC3339)
	var reason interface{}
	if req.Decision == shared.DecisionDecline {
		reason = req.Reason
	}

	_, err = s.store.DB.Exec(
		`UPDATE acceptances SET status = ?, reason = ?, responded_at = ?, updated_at = ?
		 WHERE acceptance_id = ?`,
		status, reason, now, now, before.AcceptanceID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to record response: %w", err)
	}

	after, err := getLiveAcceptance(s.store.DB, req.BeatID, req.PersonnelID)
	if err != nil {
		return nil, err
	}

	go publishAudit(s.nats, s.logger, shared.EntityTypeAcceptance, after.AcceptanceID, shared.OpResponded, actorID, before, after)

	s.logger.Info("Acceptance response recorded",
		zap.String("beat_id", req.BeatID),
		zap.String("personnel_id", req.PersonnelID),
		zap.String("status", status),
	)

	if status == shared.AcceptanceStatusAccepted {
		if _, err := s.tryAutoStart(req.BeatID); err != nil {
			return nil, err
		}
	}

	return after, nil
}

// AllAccepted reports whether every live acceptance row for the beat is
// accepted. Side-effect-free; a beat with zero personnel is never "all
// accepted".
func (s *AcceptanceService) AllAccepted(beatID string) (bool, error) {
	return allAccepted(s.store.DB, beatID)
}

func allAccepted(q querier, beatID string) (bool, error) {
	var total, accepted int
	err := q.QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0)
		 FROM acceptances WHERE beat_id = ? AND released = 0`,
		shared.AcceptanceStatusAccepted, beatID,
	).Scan(&total, &accepted)
	if err != nil {
		return false, fmt.Errorf("failed to count acceptances: %w", err)
	}
	return total > 0 && accepted == total, nil
}

// EnsureStarted re-evaluates auto-start for a beat. The scheduler calls
// this each tick so a transition missed in line (for any reason) still
// fires; the conditional update keeps it at most once per activation.
func (s *AcceptanceService) EnsureStarted(beatID string) (bool, error) {
	unlock := s.locks.Lock(beatID)
	defer unlock()

	return s.tryAutoStart(beatID)
}

// tryAutoStart flips the beat to in_progress iff every assigned member has
// accepted. Caller must hold the beat lock.
func (s *AcceptanceService) tryAutoStart(beatID string) (bool, error) {
	ok, err := allAccepted(s.store.DB, beatID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	before, err := getBeat(s.store.DB, beatID)
	if err != nil {
		return false, err
	}

	now := time.Now().Format(time.RFC3339)
	result, err := s.store.DB.Exec(
		`UPDATE beats SET status = ?, started_at = ?, updated_at = ?
		 WHERE beat_id = ? AND status IN (?, ?)`,
		shared.BeatStatusInProgress, now, now,
		beatID, shared.BeatStatusPending, shared.BeatStatusAccepted,
	)
	if err != nil {
		return false, fmt.Errorf("failed to auto-start beat: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		// Already in progress or beyond; nothing to do.
		return false, nil
	}

	after, err := getBeat(s.store.DB, beatID)
	if err != nil {
		return false, err
	}

	go publishAudit(s.nats, s.logger, shared.EntityTypeBeat, beatID, shared.OpAutoStarted, shared.ActorSystem, before, after)

	s.logger.Info("Beat auto-started: full complement accepted",
		zap.String("beat_id", beatID),
	)

	return true, nil
}

// ListForBeat returns every acceptance row for a beat, live and released,
// newest assignment first.
func (s *AcceptanceService) ListForBeat(beatID string) ([]ontology.PersonnelAcceptance, error) {
	if _, err := getBeat(s.store.DB, beatID); err != nil {
		return nil, err
	}

	rows, err := s.store.DB.Query(
		fmt.Sprintf("SELECT %s FROM acceptances WHERE beat_id = ? ORDER BY created_at DESC, personnel_id", acceptanceColumns),
		beatID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query acceptances: %w", err)
	}
	defer rows.Close()

	var accs []ontology.PersonnelAcceptance
	for rows.Next() {
		acc, err := scanAcceptance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan acceptance: %w", err)
		}
		accs = append(accs, *acc)
	}

	return accs, rows.Err()
}
