package ontology

import "time"

// ReplacementRecord documents a personnel substitution on a beat. Records
// are immutable once written; corrections are new records.
type ReplacementRecord struct {
	ReplacementID  string    `json:"replacement_id" db:"replacement_id"`
	BeatID         string    `json:"beat_id" db:"beat_id"`
	OldPersonnelID *string   `json:"old_personnel_id,omitempty" db:"old_personnel_id"`
	NewPersonnelID *string   `json:"new_personnel_id,omitempty" db:"new_personnel_id"`
	Reason         string    `json:"reason" db:"reason"`
	ReplacedAt     time.Time `json:"replaced_at" db:"replaced_at"`
}

type RecordReplacementRequest struct {
	BeatID         string  `json:"beat_id" validate:"required"`
	OldPersonnelID *string `json:"old_personnel_id,omitempty"`
	NewPersonnelID *string `json:"new_personnel_id,omitempty"`
	Reason         string  `json:"reason" validate:"required"`
}
