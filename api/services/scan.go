package services

import (
	"database/sql"
	"fmt"
	"time"

	"beatwatch/pkg/ontology"
	"beatwatch/pkg/shared"
)

// querier is satisfied by both *sql.DB and *sql.Tx so loaders can run inside
// or outside a transaction.
type querier interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

const beatColumns = `beat_id, province, unit, sub_unit, center_lat, center_lng, radius_m,
	duty_start, duty_end, status, violation_count, started_at, completed_at, created_at, updated_at`

func scanBeat(scanner interface{ Scan(...interface{}) error }) (*ontology.Beat, error) {
	var beat ontology.Beat
	var startedAt, completedAt sql.NullString
	var createdAt, updatedAt string

	err := scanner.Scan(
		&beat.BeatID, &beat.Province, &beat.Unit, &beat.SubUnit,
		&beat.CenterLat, &beat.CenterLng, &beat.RadiusMeters,
		&beat.DutyStart, &beat.DutyEnd, &beat.Status, &beat.ViolationCount,
		&startedAt, &completedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if startedAt.Valid {
		if t, err := time.Parse(time.RFC3339, startedAt.String); err == nil {
			beat.StartedAt = &t
		}
	}
	if completedAt.Valid {
		if t, err := time.Parse(time.RFC3339, completedAt.String); err == nil {
			beat.CompletedAt = &t
		}
	}
	beat.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	beat.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	return &beat, nil
}

// getBeat loads one beat plus its live membership.
func getBeat(q querier, beatID string) (*ontology.Beat, error) {
	row := q.QueryRow(
		fmt.Sprintf("SELECT %s FROM beats WHERE beat_id = ?", beatColumns),
		beatID,
	)

	beat, err := scanBeat(row)
	if err == sql.ErrNoRows {
		return nil, shared.NewNotFoundError("beat not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan beat: %w", err)
	}

	personnel, err := liveMembership(q, beatID)
	if err != nil {
		return nil, err
	}
	beat.AssignedPersonnel = personnel

	return beat, nil
}

// liveMembership returns the current assigned personnel ids in assignment
// order. Released rows are history only.
func liveMembership(q querier, beatID string) ([]string, error) {
	rows, err := q.Query(
		`SELECT personnel_id FROM acceptances WHERE beat_id = ? AND released = 0 ORDER BY created_at, personnel_id`,
		beatID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query membership: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

const acceptanceColumns = `acceptance_id, beat_id, personnel_id, status, reason, responded_at, released, created_at, updated_at`

func scanAcceptance(scanner interface{ Scan(...interface{}) error }) (*ontology.PersonnelAcceptance, error) {
	var acc ontology.PersonnelAcceptance
	var reason, respondedAt sql.NullString
	var released int
	var createdAt, updatedAt string

	err := scanner.Scan(
		&acc.AcceptanceID, &acc.BeatID, &acc.PersonnelID, &acc.Status,
		&reason, &respondedAt, &released, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if reason.Valid {
		acc.Reason = &reason.String
	}
	if respondedAt.Valid {
		if t, err := time.Parse(time.RFC3339, respondedAt.String); err == nil {
			acc.RespondedAt = &t
		}
	}
	acc.Released = released == 1
	acc.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	acc.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	return &acc, nil
}

// getLiveAcceptance loads the unreleased acceptance row for a pair.
func getLiveAcceptance(q querier, beatID, personnelID string) (*ontology.PersonnelAcceptance, error) {
	row := q.QueryRow(
		fmt.Sprintf("SELECT %s FROM acceptances WHERE beat_id = ? AND personnel_id = ? AND released = 0", acceptanceColumns),
		beatID, personnelID,
	)

	acc, err := scanAcceptance(row)
	if err == sql.ErrNoRows {
		return nil, shared.NewNotFoundError("personnel is not assigned to beat")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan acceptance: %w", err)
	}

	return acc, nil
}

const violationColumns = `violation_id, beat_id, personnel_id, kind, latitude, longitude, distance_m, status, occurred_at, created_at, updated_at`

func scanViolation(scanner interface{ Scan(...interface{}) error }) (*ontology.Violation, error) {
	var v ontology.Violation
	var occurredAt, createdAt, updatedAt string

	err := scanner.Scan(
		&v.ViolationID, &v.BeatID, &v.PersonnelID, &v.Kind,
		&v.Latitude, &v.Longitude, &v.DistanceMeters, &v.Status,
		&occurredAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	v.OccurredAt, _ = time.Parse(time.RFC3339, occurredAt)
	v.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	v.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	return &v, nil
}
