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

// BeatService owns beat rows: geometry, schedule, scope metadata and the
// lifecycle status. It is the only writer of the beats table apart from the
// violation-count increment in ViolationService.
type BeatService struct {
	store  *db.Service
	nats   *embeddednats.EmbeddedNATS
	locks  *BeatLocks
	logger *zap.Logger
}

func NewBeatService(store *db.Service, nats *embeddednats.EmbeddedNATS, locks *BeatLocks, logger *zap.Logger) *BeatService {
	return &BeatService{
		store:  store,
		nats:   nats,
		locks:  locks,
		logger: logger,
	}
}

func (s *BeatService) DB() *sql.DB {
	return s.store.DB
}

// editableStatuses are the lifecycle states in which geometry, schedule and
// scope may still change. Once a beat is on duty its boundary is frozen.
var editableStatuses = map[string]bool{
	shared.BeatStatusPending:  true,
	shared.BeatStatusAccepted: true,
	shared.BeatStatusDeclined: true,
}

func validateGeometry(lat, lng, radius float64) error {
	if !geo.ValidCoordinates(lat, lng) {
		return shared.NewValidationError("center coordinates out of range")
	}
	if radius < shared.MinBeatRadiusMeters || radius > shared.MaxBeatRadiusMeters {
		return shared.NewValidationError(fmt.Sprintf("radius must be between %.0f and %.0f meters", shared.MinBeatRadiusMeters, shared.MaxBeatRadiusMeters))
	}
	return nil
}

func validateSchedule(start, end string) error {
	if _, _, ok := ontology.ParseClock(start); !ok {
		return shared.NewValidationError("duty_start must be HH:MM")
	}
	if _, _, ok := ontology.ParseClock(end); !ok {
		return shared.NewValidationError("duty_end must be HH:MM")
	}
	return nil
}

// CreateBeat validates geometry and schedule, inserts the beat and one
// pending acceptance row per assigned personnel id in a single transaction.
func (s *BeatService) CreateBeat(req *ontology.CreateBeatRequest, actorID string) (*ontology.Beat, error) {
	if req.Province == "" || req.Unit == "" {
		return nil, shared.NewValidationError("province and unit are required")
	}
	if err := validateGeometry(req.Center.Latitude, req.Center.Longitude, req.RadiusMeters); err != nil {
		return nil, err
	}
	if err := validateSchedule(req.DutyStart, req.DutyEnd); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(req.PersonnelIDs))
	for _, id := range req.PersonnelIDs {
		if id == "" {
			return nil, shared.NewValidationError("personnel ids must be non-empty")
		}
		if seen[id] {
			return nil, shared.NewValidationError(fmt.Sprintf("duplicate personnel id: %s", id))
		}
		seen[id] = true
	}

	beatID := uuid.New().String()
	now := time.Now().Format(time.RFC3339)

	err := s.store.Transaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO beats (beat_id, province, unit, sub_unit, center_lat, center_lng, radius_m,
			                    duty_start, duty_end, status, violation_count, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
			beatID, req.Province, req.Unit, req.SubUnit,
			req.Center.Latitude, req.Center.Longitude, req.RadiusMeters,
			req.DutyStart, req.DutyEnd, shared.BeatStatusPending, now, now,
		)
		if err != nil {
			return fmt.Errorf("failed to create beat: %w", err)
		}

		for _, personnelID := range req.PersonnelIDs {
			_, err := tx.Exec(
				`INSERT INTO acceptances (acceptance_id, beat_id, personnel_id, status, released, created_at, updated_at)
				 VALUES (?, ?, ?, ?, 0, ?, ?)`,
				uuid.New().String(), beatID, personnelID, shared.AcceptanceStatusPending, now, now,
			)
			if err != nil {
				return fmt.Errorf("failed to create acceptance for %s: %w", personnelID, err)
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	beat, err := getBeat(s.store.DB, beatID)
	if err != nil {
		return nil, err
	}

	go publishAudit(s.nats, s.logger, shared.EntityTypeBeat, beatID, shared.OpCreated, actorID, nil, beat)

	s.logger.Info("Beat created",
		zap.String("beat_id", beatID),
		zap.String("province", req.Province),
		zap.String("unit", req.Unit),
		zap.Int("personnel", len(req.PersonnelIDs)),
	)

	return beat, nil
}

// UpdateBeat patches geometry, schedule or scope. Rejected once the beat is
// in progress or completed: moving the boundary of an active duty would
// silently relocate the violation check.
func (s *BeatService) UpdateBeat(req *ontology.UpdateBeatRequest, actorID string) (*ontology.Beat, error) {
	unlock := s.locks.Lock(req.BeatID)
	defer unlock()

	before, err := getBeat(s.store.DB, req.BeatID)
	if err != nil {
		return nil, err
	}

	if !editableStatuses[before.Status] {
		return nil, shared.NewInvalidStateError(fmt.Sprintf("cannot edit beat in status %s", before.Status))
	}

	lat, lng, radius := before.CenterLat, before.CenterLng, before.RadiusMeters
	if req.Center != nil {
		lat, lng = req.Center.Latitude, req.Center.Longitude
	}
	if req.RadiusMeters != nil {
		radius = *req.RadiusMeters
	}
	if err := validateGeometry(lat, lng, radius); err != nil {
		return nil, err
	}

	start, end := before.DutyStart, before.DutyEnd
	if req.DutyStart != nil {
		start = *req.DutyStart
	}
	if req.DutyEnd != nil {
		end = *req.DutyEnd
	}
	if err := validateSchedule(start, end); err != nil {
		return nil, err
	}

	// Build dynamic update query
	query := "UPDATE beats SET updated_at = ?"
	args := []interface{}{time.Now().Format(time.RFC3339)}

	set := func(column string, value interface{}) {
		query += fmt.Sprintf(", %s = ?", column)
		args = append(args, value)
	}

	if req.Province != nil {
		set("province", *req.Province)
	}
	if req.Unit != nil {
		set("unit", *req.Unit)
	}
	if req.SubUnit != nil {
		set("sub_unit", *req.SubUnit)
	}
	if req.Center != nil {
		set("center_lat", req.Center.Latitude)
		set("center_lng", req.Center.Longitude)
	}
	if req.RadiusMeters != nil {
		set("radius_m", *req.RadiusMeters)
	}
	if req.DutyStart != nil {
		set("duty_start", *req.DutyStart)
	}
	if req.DutyEnd != nil {
		set("duty_end", *req.DutyEnd)
	}

	query += " WHERE beat_id = ?"
	args = append(args, req.BeatID)

	if _, err := s.store.DB.Exec(query, args...); err != nil {
		return nil, fmt.Errorf("failed to update beat: %w", err)
	}

	after, err := getBeat(s.store.DB, req.BeatID)
	if err != nil {
		return nil, err
	}

	go publishAudit(s.nats, s.logger, shared.EntityTypeBeat, req.BeatID, shared.OpUpdated, actorID, before, after)

	return after, nil
}

// DeleteBeat tears a beat down. An active duty cannot be removed silently:
// in-progress beats with accepted personnel are rejected.
func (s *BeatService) DeleteBeat(beatID, actorID string) error {
	unlock := s.locks.Lock(beatID)
	defer unlock()

	beat, err := getBeat(s.store.DB, beatID)
	if err != nil {
		return err
	}

	if beat.Status == shared.BeatStatusInProgress {
		var accepted int
		err := s.store.DB.QueryRow(
			`SELECT COUNT(*) FROM acceptances WHERE beat_id = ? AND released = 0 AND status = ?`,
			beatID, shared.AcceptanceStatusAccepted,
		).Scan(&accepted)
		if err != nil {
			return fmt.Errorf("failed to check acceptances: %w", err)
		}
		if accepted > 0 {
			return shared.NewConflictError("cannot delete beat with personnel on active duty")
		}
	}

	err = s.store.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM acceptances WHERE beat_id = ?`, beatID); err != nil {
			return fmt.Errorf("failed to delete acceptances: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM beats WHERE beat_id = ?`, beatID); err != nil {
			return fmt.Errorf("failed to delete beat: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	go publishAudit(s.nats, s.logger, shared.EntityTypeBeat, beatID, shared.OpDeleted, actorID, beat, nil)

	s.logger.Info("Beat deleted", zap.String("beat_id", beatID))
	return nil
}

// MarkDeclined makes a pending beat declined-terminal for this assignment
// cycle. Requires a recorded decline; the beat itself is kept and can be
// reopened through the replacement ledger.
func (s *BeatService) MarkDeclined(beatID, actorID string) (*ontology.Beat, error) {
	unlock := s.locks.Lock(beatID)
	defer unlock()

	before, err := getBeat(s.store.DB, beatID)
	if err != nil {
		return nil, err
	}
	if before.Status != shared.BeatStatusPending {
		return nil, shared.NewInvalidStateError(fmt.Sprintf("cannot decline beat in status %s", before.Status))
	}

	var declined int
	err = s.store.DB.QueryRow(
		`SELECT COUNT(*) FROM acceptances WHERE beat_id = ? AND released = 0 AND status = ?`,
		beatID, shared.AcceptanceStatusDeclined,
	).Scan(&declined)
	if err != nil {
		return nil, fmt.Errorf("failed to check acceptances: %w", err)
	}
	if declined == 0 {
		return nil, shared.NewInvalidStateError("no declined response recorded for beat")
	}

	_, err = s.store.DB.Exec(
		`UPDATE beats SET status = ?, updated_at = ? WHERE beat_id = ? AND status = ?`,
		shared.BeatStatusDeclined, time.Now().Format(time.RFC3339), beatID, shared.BeatStatusPending,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to mark beat declined: %w", err)
	}

	after, err := getBeat(s.store.DB, beatID)
	if err != nil {
		return nil, err
	}

	go publishAudit(s.nats, s.logger, shared.EntityTypeBeat, beatID, shared.OpDeclined, actorID, before, after)

	return after, nil
}

// CompleteBeat ends an active duty. Both the explicit end-duty call and the
// scheduler's end-of-window sweep land here and produce the same post-state;
// the conditional update makes the transition fire at most once.
func (s *BeatService) CompleteBeat(beatID, actorID string) (*ontology.Beat, error) {
	unlock := s.locks.Lock(beatID)
	defer unlock()

	before, err := getBeat(s.store.DB, beatID)
	if err != nil {
		return nil, err
	}

	now := time.Now().Format(time.RFC3339)
	result, err := s.store.DB.Exec(
		`UPDATE beats SET status = ?, completed_at = ?, updated_at = ? WHERE beat_id = ? AND status = ?`,
		shared.BeatStatusCompleted, now, now, beatID, shared.BeatStatusInProgress,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to complete beat: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return nil, shared.NewInvalidStateError(fmt.Sprintf("cannot complete beat in status %s", before.Status))
	}

	after, err := getBeat(s.store.DB, beatID)
	if err != nil {
		return nil, err
	}

	go publishAudit(s.nats, s.logger, shared.EntityTypeBeat, beatID, shared.OpCompleted, actorID, before, after)

	s.logger.Info("Beat completed",
		zap.String("beat_id", beatID),
		zap.String("actor_id", actorID),
	)

	return after, nil
}

func (s *BeatService) GetBeat(beatID string) (*ontology.Beat, error) {
	return getBeat(s.store.DB, beatID)
}

func (s *BeatService) ListBeats(filters ontology.BeatFilters) ([]ontology.Beat, error) {
	query := fmt.Sprintf("SELECT %s FROM beats WHERE 1=1", beatColumns)
	var args []interface{}

	if filters.Province != "" {
		query += " AND province = ?"
		args = append(args, filters.Province)
	}
	if filters.Unit != "" {
		query += " AND unit = ?"
		args = append(args, filters.Unit)
	}
	if filters.Status != "" {
		query += " AND status = ?"
		args = append(args, filters.Status)
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.store.DB.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query beats: %w", err)
	}
	defer rows.Close()

	var beats []ontology.Beat
	for rows.Next() {
		beat, err := scanBeat(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan beat: %w", err)
		}
		beats = append(beats, *beat)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range beats {
		personnel, err := liveMembership(s.store.DB, beats[i].BeatID)
		if err != nil {
			return nil, err
		}
		beats[i].AssignedPersonnel = personnel
	}

	return beats, nil
}
