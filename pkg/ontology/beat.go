package ontology

import (
	"time"
)

// Beat is a circular geofenced patrol zone assigned to personnel for a
// scheduled duty window.
type Beat struct {
	BeatID            string     `json:"beat_id" db:"beat_id"`
	Province          string     `json:"province" db:"province"`
	Unit              string     `json:"unit" db:"unit"`
	SubUnit           string     `json:"sub_unit,omitempty" db:"sub_unit"`
	CenterLat         float64    `json:"center_lat" db:"center_lat"`
	CenterLng         float64    `json:"center_lng" db:"center_lng"`
	RadiusMeters      float64    `json:"radius_m" db:"radius_m"`
	DutyStart         string     `json:"duty_start" db:"duty_start"` // HH:MM
	DutyEnd           string     `json:"duty_end" db:"duty_end"`     // HH:MM, end <= start wraps to next day
	Status            string     `json:"status" db:"status"`
	ViolationCount    int64      `json:"violation_count" db:"violation_count"`
	AssignedPersonnel []string   `json:"assigned_personnel"`
	StartedAt         *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
}

// ScheduledEnd returns the instant the duty window closes for a beat that
// went on duty at startedAt: the first occurrence of DutyEnd strictly after
// startedAt, in startedAt's location. A window spanning midnight lands on
// the following day.
func (b *Beat) ScheduledEnd(startedAt time.Time) time.Time {
	hh, mm := mustParseClock(b.DutyEnd)
	end := time.Date(startedAt.Year(), startedAt.Month(), startedAt.Day(), hh, mm, 0, 0, startedAt.Location())
	if !end.After(startedAt) {
		end = end.AddDate(0, 0, 1)
	}
	return end
}

// ParseClock validates an HH:MM time-of-day string and returns its parts.
func ParseClock(s string) (hour, minute int, ok bool) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, false
	}
	return t.Hour(), t.Minute(), true
}

func mustParseClock(s string) (hour, minute int) {
	hh, mm, ok := ParseClock(s)
	if !ok {
		return 0, 0
	}
	return hh, mm
}

type Position struct {
	Latitude  float64 `json:"latitude" validate:"required,min=-90,max=90"`
	Longitude float64 `json:"longitude" validate:"required,min=-180,max=180"`
}

type CreateBeatRequest struct {
	Province     string   `json:"province" validate:"required"`
	Unit         string   `json:"unit" validate:"required"`
	SubUnit      string   `json:"sub_unit,omitempty"`
	Center       Position `json:"center"`
	RadiusMeters float64  `json:"radius_m" validate:"required,min=10,max=10000"`
	DutyStart    string   `json:"duty_start" validate:"required"`
	DutyEnd      string   `json:"duty_end" validate:"required"`
	PersonnelIDs []string `json:"personnel_ids,omitempty"`
}

// UpdateBeatRequest patches geometry, schedule, or scope. Nil fields are
// left untouched. Membership is never patched here; that goes through the
// replacement ledger.
type UpdateBeatRequest struct {
	BeatID       string    `json:"beat_id" validate:"required"`
	Province     *string   `json:"province,omitempty"`
	Unit         *string   `json:"unit,omitempty"`
	SubUnit      *string   `json:"sub_unit,omitempty"`
	Center       *Position `json:"center,omitempty"`
	RadiusMeters *float64  `json:"radius_m,omitempty"`
	DutyStart    *string   `json:"duty_start,omitempty"`
	DutyEnd      *string   `json:"duty_end,omitempty"`
}

type BeatFilters struct {
	Province string
	Unit     string
	Status   string
}
