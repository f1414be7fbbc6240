package shared

import (
	"time"
)

// API Response types
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// AuditEvent is published for every state transition and persisted by the
// audit worker. External audit tooling reads the table back; the engine only
// appends.
type AuditEvent struct {
	ID         string      `json:"id"`
	EntityType string      `json:"entity_type"`
	EntityID   string      `json:"entity_id"`
	Operation  string      `json:"operation"`
	ActorID    string      `json:"actor_id"`
	Before     interface{} `json:"before,omitempty"`
	After      interface{} `json:"after,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
	Source     string      `json:"source"`
}

// Health check
type HealthStatus struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Version   string            `json:"version,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Details   map[string]string `json:"details,omitempty"`
}

// Constants
const (
	// Beat lifecycle status
	BeatStatusPending    = "pending"
	BeatStatusAccepted   = "accepted"
	BeatStatusDeclined   = "declined"
	BeatStatusInProgress = "in_progress"
	BeatStatusCompleted  = "completed"

	// Acceptance status
	AcceptanceStatusPending  = "pending"
	AcceptanceStatusAccepted = "accepted"
	AcceptanceStatusDeclined = "declined"

	// Acceptance decisions
	DecisionAccept  = "accept"
	DecisionDecline = "decline"

	// Violation status
	ViolationStatusPending      = "pending"
	ViolationStatusAcknowledged = "acknowledged"
	ViolationStatusResolved     = "resolved"

	// Violation kinds
	ViolationKindExit = "exit"

	// Audit entity types
	EntityTypeBeat        = "beat"
	EntityTypeAcceptance  = "acceptance"
	EntityTypeViolation   = "violation"
	EntityTypeReplacement = "replacement"

	// Audit operations
	OpCreated      = "created"
	OpUpdated      = "updated"
	OpDeleted      = "deleted"
	OpResponded    = "responded"
	OpAutoStarted  = "auto_started"
	OpDeclined     = "declined"
	OpCompleted    = "completed"
	OpAcknowledged = "acknowledged"
	OpResolved     = "resolved"
	OpReplaced     = "replaced"

	// Actor recorded for engine-initiated transitions
	ActorSystem = "system"
)

// Beat radius bounds in meters
const (
	MinBeatRadiusMeters = 10.0
	MaxBeatRadiusMeters = 10000.0
)
