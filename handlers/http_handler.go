// Package handlers provides the JSON endpoints of the drug registry. Handlers parse
// and validate requests, call the core services and map their sentinel errors to
// HTTP status codes.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/giygas/drug-registry/entities"
	"github.com/giygas/drug-registry/interfaces"
	"github.com/giygas/drug-registry/knowledge"
	"github.com/giygas/drug-registry/logging"
	"github.com/giygas/drug-registry/scheduler"
	"github.com/giygas/drug-registry/staging"
)

// Compile-time check to ensure HTTPHandlerImpl implements HTTPHandler interface
var _ interfaces.HTTPHandler = (*HTTPHandlerImpl)(nil)

// UserHeader carries the acting user for audit columns.
const UserHeader = "X-User"

const maxObservationsPerRequest = 5000

var serverStartTime = time.Now()

// Dependencies groups the services a handler delegates to. Ingester, Reindexer
// and Health may be nil; their endpoints then answer 503.
type Dependencies struct {
	Registry     interfaces.Registry
	Staging      interfaces.Staging
	Consultation interfaces.Consultation
	Ingester     interfaces.ObservationIngester
	Reindexer    interfaces.Reindexer
	Health       interfaces.HealthChecker
	Validator    interfaces.SubmissionValidator
}

// HTTPHandlerImpl implements the interfaces.HTTPHandler interface
type HTTPHandlerImpl struct {
	registry     interfaces.Registry
	staging      interfaces.Staging
	consultation interfaces.Consultation
	ingester     interfaces.ObservationIngester
	reindexer    interfaces.Reindexer
	health       interfaces.HealthChecker
	validator    interfaces.SubmissionValidator
}

// NewHTTPHandler creates a new HTTP handler with injected dependencies
func NewHTTPHandler(deps Dependencies) *HTTPHandlerImpl {
	return &HTTPHandlerImpl{
		registry:     deps.Registry,
		staging:      deps.Staging,
		consultation: deps.Consultation,
		ingester:     deps.Ingester,
		reindexer:    deps.Reindexer,
		health:       deps.Health,
		validator:    deps.Validator,
	}
}

// RespondWithJSON writes a JSON response
func (h *HTTPHandlerImpl) RespondWithJSON(w http.ResponseWriter, code int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		logging.Error("Failed to marshal JSON response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if _, err := w.Write(data); err != nil {
		logging.Warn("Failed to write response", "error", err)
	}
}

// RespondWithError writes a JSON error response
func (h *HTTPHandlerImpl) RespondWithError(w http.ResponseWriter, code int, message string) {
	errorResponse := map[string]any{
		"error":   http.StatusText(code),
		"message": message,
		"code":    code,
	}
	h.RespondWithJSON(w, code, errorResponse)
}

// respondWithServiceError maps core errors to status codes.
func (h *HTTPHandlerImpl) respondWithServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, entities.ErrInvalidInput):
		h.RespondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, entities.ErrNotFound):
		h.RespondWithError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, entities.ErrConflictRace), errors.Is(err, scheduler.ErrReindexInProgress):
		h.RespondWithError(w, http.StatusConflict, err.Error())
	default:
		logging.Error("Request failed", "path", r.URL.Path, "error", err)
		h.RespondWithError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (h *HTTPHandlerImpl) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		logging.Warn("Malformed request body", "path", r.URL.Path, "error", err)
		h.RespondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return false
	}
	return true
}

func (h *HTTPHandlerImpl) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := h.validator.ValidateID(raw)
	if err != nil {
		logging.Warn("Unusual user input", "id", raw)
		h.RespondWithError(w, http.StatusBadRequest, "Invalid ID")
		return 0, false
	}
	return id, true
}

// userFrom returns the acting user, "" when the header is absent.
func userFrom(r *http.Request) string {
	user := strings.TrimSpace(r.Header.Get(UserHeader))
	if len(user) > 100 {
		user = user[:100]
	}
	return user
}

// formatUptimeHuman formats duration into a human-readable string
func formatUptimeHuman(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	var parts []string
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 || days > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 || hours > 0 || days > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	parts = append(parts, fmt.Sprintf("%ds", seconds))

	return strings.Join(parts, " ")
}

// ResolveIdentity runs the identity cascade for ?name=.
func (h *HTTPHandlerImpl) ResolveIdentity(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if err := h.validator.ValidateInput(name); err != nil {
		h.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	match, err := h.registry.ResolveDrugIdentity(r.Context(), name)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	h.RespondWithJSON(w, http.StatusOK, match)
}

type lookupRequest struct {
	Name string `json:"name"`
}

// Lookup resolves a name against the registry, falling back to the web lookup.
// It is a POST because a web result is submitted to staging.
func (h *HTTPHandlerImpl) Lookup(w http.ResponseWriter, r *http.Request) {
	var req lookupRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.ValidateInput(req.Name); err != nil {
		h.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.registry.Lookup(r.Context(), req.Name, userFrom(r))
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	h.RespondWithJSON(w, http.StatusOK, res)
}

// DeleteDrug removes a canonical drug and its disease links.
func (h *HTTPHandlerImpl) DeleteDrug(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.registry.DeleteDrug(r.Context(), id, userFrom(r)); err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DrugHistory lists the archived versions of a canonical drug.
func (h *HTTPHandlerImpl) DrugHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	history, err := h.staging.DrugHistory(r.Context(), id)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	h.RespondWithJSON(w, http.StatusOK, nonNil(history))
}

// SubmitDrug inserts a drug record, or stages it when it conflicts.
func (h *HTTPHandlerImpl) SubmitDrug(w http.ResponseWriter, r *http.Request) {
	var req staging.SubmitRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.ValidateSubmission(&req); err != nil {
		h.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if user := userFrom(r); user != "" {
		req.User = user
	}

	res, err := h.staging.Submit(r.Context(), req)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}

	code := http.StatusCreated
	if res.Status == staging.StatusPendingConfirmation {
		code = http.StatusAccepted
	}
	h.RespondWithJSON(w, code, res)
}

// ListStaging lists the pending candidates.
func (h *HTTPHandlerImpl) ListStaging(w http.ResponseWriter, r *http.Request) {
	pending, err := h.staging.ListPending(r.Context())
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	h.RespondWithJSON(w, http.StatusOK, nonNil(pending))
}

// GetStaging returns one pending candidate.
func (h *HTTPHandlerImpl) GetStaging(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	candidate, err := h.staging.Get(r.Context(), id)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	h.RespondWithJSON(w, http.StatusOK, candidate)
}

// ApproveStaging promotes a candidate into the canonical table.
func (h *HTTPHandlerImpl) ApproveStaging(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	tr, err := h.staging.Approve(r.Context(), id, userFrom(r))
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	h.RespondWithJSON(w, http.StatusOK, tr)
}

// RejectStaging discards a candidate.
func (h *HTTPHandlerImpl) RejectStaging(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	tr, err := h.staging.Reject(r.Context(), id, userFrom(r))
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	h.RespondWithJSON(w, http.StatusOK, tr)
}

// ClearStaging discards every pending candidate.
func (h *HTTPHandlerImpl) ClearStaging(w http.ResponseWriter, r *http.Request) {
	res, err := h.staging.ClearAll(r.Context(), userFrom(r))
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	h.RespondWithJSON(w, http.StatusOK, res)
}

// StagingHistory lists closed candidates, optionally for one ?staging_id=.
func (h *HTTPHandlerImpl) StagingHistory(w http.ResponseWriter, r *http.Request) {
	var stagingID int64
	if raw := r.URL.Query().Get("staging_id"); raw != "" {
		id, err := h.validator.ValidateID(raw)
		if err != nil {
			h.RespondWithError(w, http.StatusBadRequest, "Invalid staging_id")
			return
		}
		stagingID = id
	}

	history, err := h.staging.History(r.Context(), stagingID)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	h.RespondWithJSON(w, http.StatusOK, nonNil(history))
}

// Consult answers the role of ?drug= for ?icd=.
func (h *HTTPHandlerImpl) Consult(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	drug := query.Get("drug")
	if err := h.validator.ValidateInput(drug); err != nil {
		h.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	icd, err := h.validator.ValidateICD(query.Get("icd"))
	if err != nil {
		h.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.consultation.Resolve(r.Context(), drug, icd)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	h.RespondWithJSON(w, http.StatusOK, res)
}

// ListAssociations lists every knowledge-base association of ?drug=.
func (h *HTTPHandlerImpl) ListAssociations(w http.ResponseWriter, r *http.Request) {
	drug := r.URL.Query().Get("drug")
	if err := h.validator.ValidateInput(drug); err != nil {
		h.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.consultation.Associations(r.Context(), drug)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	h.RespondWithJSON(w, http.StatusOK, nonNil(res))
}

// IngestObservations records a JSON array of observations.
func (h *HTTPHandlerImpl) IngestObservations(w http.ResponseWriter, r *http.Request) {
	if h.ingester == nil {
		h.RespondWithError(w, http.StatusServiceUnavailable, "Ingestion is not configured")
		return
	}

	var batch []knowledge.Observation
	if !h.decodeJSON(w, r, &batch) {
		return
	}
	if len(batch) == 0 {
		h.RespondWithError(w, http.StatusBadRequest, "No observations")
		return
	}
	if len(batch) > maxObservationsPerRequest {
		h.RespondWithError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("At most %d observations per request", maxObservationsPerRequest))
		return
	}

	quality, res, err := h.ingester.Apply(r.Context(), batch)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	h.RespondWithJSON(w, http.StatusOK, map[string]any{
		"result":  res,
		"quality": quality,
	})
}

// Reindex rebuilds every name index.
func (h *HTTPHandlerImpl) Reindex(w http.ResponseWriter, r *http.Request) {
	if h.reindexer == nil {
		h.RespondWithError(w, http.StatusServiceUnavailable, "Reindex is not configured")
		return
	}
	start := time.Now()
	if err := h.reindexer.Reindex(r.Context()); err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	h.RespondWithJSON(w, http.StatusOK, map[string]any{
		"status":   "rebuilt",
		"duration": time.Since(start).String(),
	})
}

// HealthCheck returns service health information
func (h *HTTPHandlerImpl) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if h.health == nil {
		h.RespondWithError(w, http.StatusServiceUnavailable, "Health checker is not configured")
		return
	}

	status, details, code := h.health.HealthCheck(r.Context())

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	uptime := time.Since(serverStartTime)

	h.RespondWithJSON(w, code, map[string]any{
		"status":         status,
		"uptime":         formatUptimeHuman(uptime),
		"uptime_seconds": int64(uptime.Seconds()),
		"data":           details,
		"system": map[string]any{
			"goroutines": runtime.NumGoroutine(),
			"memory": map[string]any{
				"alloc_mb": int(m.Alloc / 1024 / 1024),
				"sys_mb":   int(m.Sys / 1024 / 1024),
				"num_gc":   m.NumGC,
			},
		},
	})
}

// nonNil keeps empty lists encoded as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
