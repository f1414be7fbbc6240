package ontology

import "time"

// PersonnelAcceptance is one personnel member's confirm/decline answer for a
// beat assignment. Exactly one live row exists per (beat, personnel) pair;
// rows released by a replacement are kept for history.
type PersonnelAcceptance struct {
	AcceptanceID string     `json:"acceptance_id" db:"acceptance_id"`
	BeatID       string     `json:"beat_id" db:"beat_id"`
	PersonnelID  string     `json:"personnel_id" db:"personnel_id"`
	Status       string     `json:"status" db:"status"`
	Reason       *string    `json:"reason,omitempty" db:"reason"`
	RespondedAt  *time.Time `json:"responded_at,omitempty" db:"responded_at"`
	Released     bool       `json:"released" db:"released"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

type RespondRequest struct {
	BeatID      string `json:"beat_id" validate:"required"`
	PersonnelID string `json:"personnel_id" validate:"required"`
	Decision    string `json:"decision" validate:"required,oneof=accept decline"`
	Reason      string `json:"reason,omitempty"`
}
