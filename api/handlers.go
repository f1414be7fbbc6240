package api

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"beatwatch/api/middleware"
	"beatwatch/api/services"
	"beatwatch/db"
	"beatwatch/pkg/ontology"
	embeddednats "beatwatch/pkg/services/embedded-nats"
	"beatwatch/pkg/shared"
)

type Handlers struct {
	beatService        *services.BeatService
	acceptanceService  *services.AcceptanceService
	violationService   *services.ViolationService
	replacementService *services.ReplacementService
}

func NewHandlers(store *db.Service, nats *embeddednats.EmbeddedNATS, locks *services.BeatLocks, logger *zap.Logger) *Handlers {
	return &Handlers{
		beatService:        services.NewBeatService(store, nats, locks, logger),
		acceptanceService:  services.NewAcceptanceService(store, nats, locks, logger),
		violationService:   services.NewViolationService(store, nats, locks, logger),
		replacementService: services.NewReplacementService(store, nats, locks, logger),
	}
}

// BeatService exposes the registry for the scheduler wiring in main.
func (h *Handlers) BeatService() *services.BeatService {
	return h.beatService
}

func (h *Handlers) AcceptanceService() *services.AcceptanceService {
	return h.acceptanceService
}

func (h *Handlers) ViolationService() *services.ViolationService {
	return h.violationService
}

// Beat handlers
func (h *Handlers) CreateBeat(w http.ResponseWriter, r *http.Request) {
	var req ontology.CreateBeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	beat, err := h.beatService.CreateBeat(&req, middleware.ActorID(r))
	if err != nil {
		sendServiceError(w, err)
		return
	}

	sendSuccess(w, http.StatusCreated, beat)
}

func (h *Handlers) ListBeats(w http.ResponseWriter, r *http.Request) {
	filters := ontology.BeatFilters{
		Province: r.URL.Query().Get("province"),
		Unit:     r.URL.Query().Get("unit"),
		Status:   r.URL.Query().Get("status"),
	}

	beats, err := h.beatService.ListBeats(filters)
	if err != nil {
		sendServiceError(w, err)
		return
	}

	sendSuccess(w, http.StatusOK, beats)
}

func (h *Handlers) GetBeat(w http.ResponseWriter, r *http.Request) {
	beatID := r.URL.Query().Get("beat_id")
	if beatID == "" {
		sendError(w, http.StatusBadRequest, "MISSING_BEAT_ID", "beat_id is required")
		return
	}

	beat, err := h.beatService.GetBeat(beatID)
	if err != nil {
		sendServiceError(w, err)
		return
	}

	sendSuccess(w, http.StatusOK, beat)
}

func (h *Handlers) UpdateBeat(w http.ResponseWriter, r *http.Request) {
	var req ontology.UpdateBeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if req.BeatID == "" {
		sendError(w, http.StatusBadRequest, "MISSING_BEAT_ID", "beat_id is required")
		return
	}

	beat, err := h.beatService.UpdateBeat(&req, middleware.ActorID(r))
	if err != nil {
		sendServiceError(w, err)
		return
	}

	sendSuccess(w, http.StatusOK, beat)
}

func (h *Handlers) DeleteBeat(w http.ResponseWriter, r *http.Request) {
	beatID := r.URL.Query().Get("beat_id")
	if beatID == "" {
		sendError(w, http.StatusBadRequest, "MISSING_BEAT_ID", "beat_id is required")
		return
	}

	if err := h.beatService.DeleteBeat(beatID, middleware.ActorID(r)); err != nil {
		sendServiceError(w, err)
		return
	}

	sendSuccess(w, http.StatusOK, map[string]string{"message": "Beat deleted successfully"})
}

func (h *Handlers) MarkBeatDeclined(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BeatID string `json:"beat_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if req.BeatID == "" {
		sendError(w, http.StatusBadRequest, "MISSING_BEAT_ID", "beat_id is required")
		return
	}

	beat, err := h.beatService.MarkDeclined(req.BeatID, middleware.ActorID(r))
	if err != nil {
		sendServiceError(w, err)
		return
	}

	sendSuccess(w, http.StatusOK, beat)
}

func (h *Handlers) CompleteBeat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BeatID string `json:"beat_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if req.BeatID == "" {
		sendError(w, http.StatusBadRequest, "MISSING_BEAT_ID", "beat_id is required")
		return
	}

	beat, err := h.beatService.CompleteBeat(req.BeatID, middleware.ActorID(r))
	if err != nil {
		sendServiceError(w, err)
		return
	}

	sendSuccess(w, http.StatusOK, beat)
}

// Acceptance handlers
func (h *Handlers) Respond(w http.ResponseWriter, r *http.Request) {
	var req ontology.RespondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if req.BeatID == "" || req.PersonnelID == "" {
		sendError(w, http.StatusBadRequest, "MISSING_PARAMS", "beat_id and personnel_id are required")
		return
	}

	acceptance, err := h.acceptanceService.Respond(&req, middleware.ActorID(r))
	if err != nil {
		sendServiceError(w, err)
		return
	}

	sendSuccess(w, http.StatusOK, acceptance)
}

func (h *Handlers) ListAcceptances(w http.ResponseWriter, r *http.Request) {
	beatID := r.URL.Query().Get("beat_id")
	if beatID == "" {
		sendError(w, http.StatusBadRequest, "MISSING_BEAT_ID", "beat_id is required")
		return
	}

	acceptances, err := h.acceptanceService.ListForBeat(beatID)
	if err != nil {
		sendServiceError(w, err)
		return
	}

	sendSuccess(w, http.StatusOK, acceptances)
}

// Fix handler - the direct HTTP path into the violation detector.
func (h *Handlers) IngestFix(w http.ResponseWriter, r *http.Request) {
	var fix ontology.PositionFix
	if err := json.NewDecoder(r.Body).Decode(&fix); err != nil {
		sendError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if fix.BeatID == "" || fix.PersonnelID == "" {
		sendError(w, http.StatusBadRequest, "MISSING_PARAMS", "beat_id and personnel_id are required")
		return
	}

	violation, err := h.violationService.IngestFix(&fix, middleware.ActorID(r))
	if err != nil {
		sendServiceError(w, err)
		return
	}

	if violation == nil {
		sendSuccess(w, http.StatusOK, map[string]interface{}{"violation": nil})
		return
	}

	sendSuccess(w, http.StatusCreated, violation)
}

// Violation handlers
func (h *Handlers) GetViolation(w http.ResponseWriter, r *http.Request) {
	violationID := r.URL.Query().Get("violation_id")
	if violationID != "" {
		violation, err := h.violationService.GetViolation(violationID)
		if err != nil {
			sendServiceError(w, err)
			return
		}
		sendSuccess(w, http.StatusOK, violation)
		return
	}

	filters := ontology.ViolationFilters{
		BeatID: r.URL.Query().Get("beat_id"),
		Status: r.URL.Query().Get("status"),
	}

	violations, err := h.violationService.ListViolations(filters)
	if err != nil {
		sendServiceError(w, err)
		return
	}

	sendSuccess(w, http.StatusOK, violations)
}

func (h *Handlers) AcknowledgeViolation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ViolationID string `json:"violation_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if req.ViolationID == "" {
		sendError(w, http.StatusBadRequest, "MISSING_VIOLATION_ID", "violation_id is required")
		return
	}

	violation, err := h.violationService.Acknowledge(req.ViolationID, middleware.ActorID(r))
	if err != nil {
		sendServiceError(w, err)
		return
	}

	sendSuccess(w, http.StatusOK, violation)
}

func (h *Handlers) ResolveViolation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ViolationID string `json:"violation_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if req.ViolationID == "" {
		sendError(w, http.StatusBadRequest, "MISSING_VIOLATION_ID", "violation_id is required")
		return
	}

	violation, err := h.violationService.Resolve(req.ViolationID, middleware.ActorID(r))
	if err != nil {
		sendServiceError(w, err)
		return
	}

	sendSuccess(w, http.StatusOK, violation)
}

// Replacement handlers
func (h *Handlers) RecordReplacement(w http.ResponseWriter, r *http.Request) {
	var req ontology.RecordReplacementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if req.BeatID == "" {
		sendError(w, http.StatusBadRequest, "MISSING_BEAT_ID", "beat_id is required")
		return
	}

	record, err := h.replacementService.RecordReplacement(&req, middleware.ActorID(r))
	if err != nil {
		sendServiceError(w, err)
		return
	}

	sendSuccess(w, http.StatusCreated, record)
}

func (h *Handlers) ReplacementHistory(w http.ResponseWriter, r *http.Request) {
	beatID := r.URL.Query().Get("beat_id")
	if beatID == "" {
		sendError(w, http.StatusBadRequest, "MISSING_BEAT_ID", "beat_id is required")
		return
	}

	records, err := h.replacementService.HistoryForBeat(beatID)
	if err != nil {
		sendServiceError(w, err)
		return
	}

	sendSuccess(w, http.StatusOK, records)
}

// Health check
func (h *Handlers) HealthCheck(nats *embeddednats.EmbeddedNATS) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := shared.HealthStatus{
			Status:    "healthy",
			Service:   "beatwatch",
			Timestamp: time.Now(),
			Details:   make(map[string]string),
		}

		// Check database
		if err := h.beatService.DB().Ping(); err != nil {
			health.Status = "unhealthy"
			health.Details["database"] = "unhealthy: " + err.Error()
		} else {
			health.Details["database"] = "healthy"
		}

		// Check NATS
		if err := nats.HealthCheck(); err != nil {
			health.Status = "unhealthy"
			health.Details["nats"] = "unhealthy: " + err.Error()
		} else {
			health.Details["nats"] = "healthy"
		}

		statusCode := http.StatusOK
		if health.Status == "unhealthy" {
			statusCode = http.StatusServiceUnavailable
		}

		sendSuccess(w, statusCode, health)
	}
}

// Helper functions
func sendSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := shared.Response{
		Success: true,
		Data:    data,
	}

	json.NewEncoder(w).Encode(response)
}

func sendError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := shared.Response{
		Success: false,
		Error: &shared.Error{
			Code:    code,
			Message: message,
		},
	}

	json.NewEncoder(w).Encode(response)
}

// sendServiceError maps the engine error taxonomy onto HTTP status codes.
func sendServiceError(w http.ResponseWriter, err error) {
	switch {
	case shared.IsValidation(err):
		sendError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	case shared.IsNotFound(err):
		sendError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case shared.IsInvalidState(err):
		sendError(w, http.StatusConflict, "INVALID_STATE", err.Error())
	case shared.IsConflict(err):
		sendError(w, http.StatusConflict, "CONFLICT", err.Error())
	default:
		sendError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

// RegisterRoutes sets up all API routes
func (h *Handlers) RegisterRoutes(mux *http.ServeMux, nats *embeddednats.EmbeddedNATS) {
	// Health check (no auth required)
	mux.HandleFunc("/health", h.HealthCheck(nats))

	// Beat endpoints
	mux.HandleFunc("/api/v1/beats", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			middleware.BearerAuth(h.CreateBeat)(w, r)
		case http.MethodGet:
			if r.URL.Query().Get("beat_id") != "" {
				middleware.BearerAuth(h.GetBeat)(w, r)
			} else {
				middleware.BearerAuth(h.ListBeats)(w, r)
			}
		case http.MethodPut:
			middleware.BearerAuth(h.UpdateBeat)(w, r)
		case http.MethodDelete:
			middleware.BearerAuth(h.DeleteBeat)(w, r)
		default:
			sendError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
		}
	})

	mux.HandleFunc("/api/v1/beats/respond", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			sendError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
			return
		}
		middleware.BearerAuth(h.Respond)(w, r)
	})

	mux.HandleFunc("/api/v1/beats/decline", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			sendError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
			return
		}
		middleware.BearerAuth(h.MarkBeatDeclined)(w, r)
	})

	mux.HandleFunc("/api/v1/beats/complete", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			sendError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
			return
		}
		middleware.BearerAuth(h.CompleteBeat)(w, r)
	})

	mux.HandleFunc("/api/v1/acceptances", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			sendError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
			return
		}
		middleware.BearerAuth(h.ListAcceptances)(w, r)
	})

	// Fix ingest endpoint
	mux.HandleFunc("/api/v1/fixes", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			sendError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
			return
		}
		middleware.BearerAuth(h.IngestFix)(w, r)
	})

	// Violation endpoints
	mux.HandleFunc("/api/v1/violations", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			sendError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
			return
		}
		middleware.BearerAuth(h.GetViolation)(w, r)
	})

	mux.HandleFunc("/api/v1/violations/acknowledge", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			sendError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
			return
		}
		middleware.BearerAuth(h.AcknowledgeViolation)(w, r)
	})

	mux.HandleFunc("/api/v1/violations/resolve", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			sendError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
			return
		}
		middleware.BearerAuth(h.ResolveViolation)(w, r)
	})

	// Replacement ledger endpoints
	mux.HandleFunc("/api/v1/replacements", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			middleware.BearerAuth(h.RecordReplacement)(w, r)
		case http.MethodGet:
			middleware.BearerAuth(h.ReplacementHistory)(w, r)
		default:
			sendError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
		}
	})
}
