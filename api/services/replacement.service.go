package services

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"beatwatch/db"
	"beatwatch/pkg/ontology"
	embeddednats "beatwatch/pkg/services/embedded-nats"
	"beatwatch/pkg/shared"
)

// ReplacementService is the append-only assignment-history ledger. Writing
// a replacement record is the only sanctioned way to change beat membership
// once a beat has left pending; records are immutable and corrections are
// new records.
type ReplacementService struct {
	store  *db.Service
	nats   *embeddednats.EmbeddedNATS
	locks  *BeatLocks
	logger *zap.Logger
}

func NewReplacementService(store *db.Service, nats *embeddednats.EmbeddedNATS, locks *BeatLocks, logger *zap.Logger) *ReplacementService {
	return &ReplacementService{
		store:  store,
		nats:   nats,
		locks:  locks,
		logger: logger,
	}
}

// RecordReplacement appends one substitution record and applies the
// membership change atomically. The outgoing member's acceptance row is
// released, never deleted, so "who declined" stays auditable. Adding a
// member to an in-progress beat suspends the duty back to pending until the
// newcomer accepts; adding one to a declined beat reopens it.
func (s *ReplacementService) RecordReplacement(req *ontology.RecordReplacementRequest, actorID string) (*ontology.ReplacementRecord, error) {
	if req.Reason == "" {
		return nil, shared.NewValidationError("reason is required")
	}
	if req.OldPersonnelID == nil && req.NewPersonnelID == nil {
		return nil, shared.NewValidationError("at least one of old or new personnel id is required")
	}
	if req.OldPersonnelID != nil && *req.OldPersonnelID == "" {
		return nil, shared.NewValidationError("old personnel id must be non-empty")
	}
	if req.NewPersonnelID != nil && *req.NewPersonnelID == "" {
		return nil, shared.NewValidationError("new personnel id must be non-empty")
	}

	unlock := s.locks.Lock(req.BeatID)
	defer unlock()

	beat, err := getBeat(s.store.DB, req.BeatID)
	if err != nil {
		return nil, err
	}
	if beat.Status == shared.BeatStatusCompleted {
		return nil, shared.NewInvalidStateError("cannot replace personnel on a completed beat")
	}

	if req.OldPersonnelID != nil {
		if _, err := getLiveAcceptance(s.store.DB, req.BeatID, *req.OldPersonnelID); err != nil {
			return nil, err
		}
	}
	if req.NewPersonnelID != nil {
		if _, err := getLiveAcceptance(s.store.DB, req.BeatID, *req.NewPersonnelID); err == nil {
			return nil, shared.NewConflictError("new personnel is already assigned to beat")
		} else if !shared.IsNotFound(err) {
			return nil, err
		}
	}

	replacementID := uuid.New().String()
	now := time.Now().Format(time.RFC3339)

	err = s.store.Transaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO replacements (replacement_id, beat_id, old_personnel_id, new_personnel_id, reason, replaced_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			replacementID, req.BeatID, req.OldPersonnelID, req.NewPersonnelID, req.Reason, now,
		)
		if err != nil {
			return fmt.Errorf("failed to write replacement record: %w", err)
		}

		if req.OldPersonnelID != nil {
			_, err := tx.Exec(
				`UPDATE acceptances SET released = 1, updated_at = ?
				 WHERE beat_id = ? AND personnel_id = ? AND released = 0`,
				now, req.BeatID, *req.OldPersonnelID,
			)
			if err != nil {
				return fmt.Errorf("failed to release acceptance: %w", err)
			}
		}

		if req.NewPersonnelID != nil {
			_, err := tx.Exec(
				`INSERT INTO acceptances (acceptance_id, beat_id, personnel_id, status, released, created_at, updated_at)
				 VALUES (?, ?, ?, ?, 0, ?, ?)`,
				uuid.New().String(), req.BeatID, *req.NewPersonnelID, shared.AcceptanceStatusPending, now, now,
			)
			if err != nil {
				return fmt.Errorf("failed to create acceptance for replacement: %w", err)
			}

			// A fresh pending member means the complement is no longer
			// unanimous: active duty is suspended, a declined cycle reopens.
			if beat.Status == shared.BeatStatusInProgress ||
				beat.Status == shared.BeatStatusAccepted ||
				beat.Status == shared.BeatStatusDeclined {
				_, err := tx.Exec(
					`UPDATE beats SET status = ?, updated_at = ? WHERE beat_id = ?`,
					shared.BeatStatusPending, now, req.BeatID,
				)
				if err != nil {
					return fmt.Errorf("failed to reset beat status: %w", err)
				}
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	record, err := s.getRecord(replacementID)
	if err != nil {
		return nil, err
	}

	go publishAudit(s.nats, s.logger, shared.EntityTypeReplacement, replacementID, shared.OpReplaced, actorID, beat, record)

	s.logger.Info("Replacement recorded",
		zap.String("beat_id", req.BeatID),
		zap.Stringp("old_personnel_id", req.OldPersonnelID),
		zap.Stringp("new_personnel_id", req.NewPersonnelID),
	)

	return record, nil
}

// HistoryForBeat returns the full substitution history, newest first.
// Read-only: reconstructing who held a slot goes through this ledger, not
// through beat snapshots.
func (s *ReplacementService) HistoryForBeat(beatID string) ([]ontology.ReplacementRecord, error) {
	if _, err := getBeat(s.store.DB, beatID); err != nil {
		return nil, err
	}

	rows, err := s.store.DB.Query(
		`SELECT replacement_id, beat_id, old_personnel_id, new_personnel_id, reason, replaced_at
		 FROM replacements WHERE beat_id = ? ORDER BY replaced_at DESC, replacement_id DESC`,
		beatID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query replacements: %w", err)
	}
	defer rows.Close()

	var records []ontology.ReplacementRecord
	for rows.Next() {
		record, err := scanReplacement(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}

	return records, rows.Err()
}

func (s *ReplacementService) getRecord(replacementID string) (*ontology.ReplacementRecord, error) {
	row := s.store.DB.QueryRow(
		`SELECT replacement_id, beat_id, old_personnel_id, new_personnel_id, reason, replaced_at
		 FROM replacements WHERE replacement_id = ?`,
		replacementID,
	)

	record, err := scanReplacement(row)
	if err == sql.ErrNoRows {
		return nil, shared.NewNotFoundError("replacement record not found")
	}
	return record, err
}

func scanReplacement(scanner interface{ Scan(...interface{}) error }) (*ontology.ReplacementRecord, error) {
	var record ontology.ReplacementRecord
	var oldID, newID sql.NullString
	var replacedAt string

	err := scanner.Scan(
		&record.ReplacementID, &record.BeatID, &oldID, &newID, &record.Reason, &replacedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan replacement: %w", err)
	}

	if oldID.Valid {
		record.OldPersonnelID = &oldID.String
	}
	if newID.Valid {
		record.NewPersonnelID = &newID.String
	}
	record.ReplacedAt, _ = time.Parse(time.RFC3339, replacedAt)

	return &record, nil
}
