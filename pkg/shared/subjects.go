package shared

import "fmt"

// NATS Subject patterns
const (
	// Base subject prefix
	SubjectPrefix = "beatwatch"

	// Position fix subjects - the location-ingestion side publishes raw fixes here
	SubjectFixes    = "beatwatch.fixes"
	SubjectFixesAll = "beatwatch.fixes.>"
	SubjectBeatFix  = "beatwatch.fixes.%s.%s" // beat_id, personnel_id

	// Audit subjects - one event per state transition
	SubjectAudit       = "beatwatch.audit"
	SubjectAuditAll    = "beatwatch.audit.>"
	SubjectAuditEntity = "beatwatch.audit.%s.%s" // entity_type, operation

	// System subjects
	SubjectSystemHealth = "beatwatch.system.health"
	SubjectSystemAlerts = "beatwatch.system.alerts"
)

// Stream names
const (
	StreamFixes = "BEATWATCH_FIXES"
	StreamAudit = "BEATWATCH_AUDIT"
)

// Consumer names
const (
	ConsumerFixProcessor   = "fix-processor"
	ConsumerAuditProcessor = "audit-processor"
)

// Helper functions to generate subjects
func BeatFixSubject(beatID, personnelID string) string {
	return fmt.Sprintf(SubjectBeatFix, beatID, personnelID)
}

func AuditSubject(entityType, operation string) string {
	return fmt.Sprintf(SubjectAuditEntity, entityType, operation)
}
