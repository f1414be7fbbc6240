package ontology

import "time"

// Violation records the moment an on-duty personnel member's position fix
// fell outside the assigned beat radius. Violations are never deleted; only
// their status moves (pending -> acknowledged -> resolved).
type Violation struct {
	ViolationID    string    `json:"violation_id" db:"violation_id"`
	BeatID         string    `json:"beat_id" db:"beat_id"`
	PersonnelID    string    `json:"personnel_id" db:"personnel_id"`
	Kind           string    `json:"kind" db:"kind"`
	Latitude       float64   `json:"latitude" db:"latitude"`
	Longitude      float64   `json:"longitude" db:"longitude"`
	DistanceMeters float64   `json:"distance_m" db:"distance_m"`
	Status         string    `json:"status" db:"status"`
	OccurredAt     time.Time `json:"occurred_at" db:"occurred_at"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// PositionFix is a raw fix pushed by the location-ingestion side, either
// over NATS or through the direct HTTP path.
type PositionFix struct {
	BeatID      string    `json:"beat_id" validate:"required"`
	PersonnelID string    `json:"personnel_id" validate:"required"`
	Latitude    float64   `json:"latitude" validate:"required,min=-90,max=90"`
	Longitude   float64   `json:"longitude" validate:"required,min=-180,max=180"`
	Timestamp   time.Time `json:"timestamp"`
}

type ViolationFilters struct {
	BeatID string
	Status string
}
