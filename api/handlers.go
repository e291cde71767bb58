/*
handlers.go - HTTP API handlers for the batch lineage engine

PURPOSE:
  Exposes the lineage engine via REST API. Handles HTTP request/response,
  JSON serialization and input validation, and delegates to the
  orchestrator for all mutation semantics.

ENDPOINTS:
  Batches:
    GET    /api/batches                List batches for an org
    GET    /api/batches/{id}           Get batch details
    GET    /api/batches/{id}/events    Event history for a batch
    GET    /api/batches/{id}/lineage   Parents and traced origins
    POST   /api/batches/intake         Create a root batch
    POST   /api/batches/{id}/split     Split units into a new child
    POST   /api/batches/merge          Merge several batches into one

  Reference data:
    GET    /api/sizes                  List size specs
    POST   /api/sizes                  Register a size spec
    POST   /api/locations              Register a location

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate shape (go-playground/validator tags on the DTOs)
  3. Call the orchestrator / store
  4. Serialize response
  5. Map engine errors to HTTP status codes

ORG SCOPING:
  The calling org is taken from the X-Org-ID header and the actor from
  X-Actor-ID. Authentication is expected to sit in front of this service
  and populate those headers.

ERROR HANDLING:
  Engine errors map to HTTP status through the lineage error helpers:
  - 400: Validation errors
  - 404: Batch, size spec or location not found
  - 409: Insufficient quantity, duplicate in-flight request
  - 503: Transient store errors (safe to retry)
  - 500: Everything else, including failed compensation

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - lineage/orchestrator.go: The mutation engine behind these handlers
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/verdant/batch-engine/lineage"
	"github.com/verdant/batch-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store  *sqlite.Store
	Engine *lineage.Orchestrator
	Tracer *lineage.Tracer

	validate *validator.Validate
	log      *logrus.Logger
}

// NewHandler creates a new handler around the store and orchestrator.
func NewHandler(store *sqlite.Store, engine *lineage.Orchestrator, log *logrus.Logger) *Handler {
	return &Handler{
		Store:    store,
		Engine:   engine,
		Tracer:   lineage.NewTracer(store),
		validate: validator.New(),
		log:      log,
	}
}

func (h *Handler) orgID(r *http.Request) lineage.OrgID {
	return lineage.OrgID(r.Header.Get("X-Org-ID"))
}

func (h *Handler) actorID(r *http.Request) string {
	return r.Header.Get("X-Actor-ID")
}

// decodeAndValidate parses the JSON body into dst and runs struct validation.
// Writes the error response itself and returns false on failure.
func (h *Handler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

// requireOrg rejects requests without an org header.
func (h *Handler) requireOrg(w http.ResponseWriter, r *http.Request) (lineage.OrgID, bool) {
	org := h.orgID(r)
	if org == "" {
		writeError(w, http.StatusBadRequest, "Missing X-Org-ID header", nil)
		return "", false
	}
	return org, true
}

// =============================================================================
// MUTATION HANDLERS
// =============================================================================

// Intake creates a root batch with no parents.
// POST /api/batches/intake
func (h *Handler) Intake(w http.ResponseWriter, r *http.Request) {
	org, ok := h.requireOrg(w, r)
	if !ok {
		return
	}

	var req IntakeRequestDTO
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	res, err := h.Engine.Intake(r.Context(), lineage.IntakeRequest{
		RequestID: req.RequestID,
		ActorID:   h.actorID(r),
		OrgID:     org,
		VarietyID: lineage.VarietyID(req.VarietyID),
		SizeSpec:  lineage.SizeSpecID(req.SizeSpec),
		Location:  lineage.LocationID(req.Location),
		Units:     req.Units,
		Note:      req.Note,
	})
	if err != nil {
		writeEngineError(w, "Intake failed", err)
		return
	}

	writeJSON(w, http.StatusCreated, toBatchDTO(res.Batch))
}

// Split moves units from a parent batch into a newly created child.
// POST /api/batches/{id}/split
func (h *Handler) Split(w http.ResponseWriter, r *http.Request) {
	org, ok := h.requireOrg(w, r)
	if !ok {
		return
	}
	parentID := chi.URLParam(r, "id")

	var req SplitRequestDTO
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	res, err := h.Engine.Split(r.Context(), lineage.SplitRequest{
		RequestID:         req.RequestID,
		ActorID:           h.actorID(r),
		OrgID:             org,
		ParentID:          lineage.BatchID(parentID),
		TargetSizeSpec:    lineage.SizeSpecID(req.TargetSizeSpec),
		TargetLocation:    lineage.LocationID(req.TargetLocation),
		Containers:        req.Containers,
		UnitsPerContainer: req.UnitsPerContainer,
		AutoArchiveParent: req.AutoArchiveParent,
	})
	if err != nil {
		writeEngineError(w, "Split failed", err)
		return
	}

	writeJSON(w, http.StatusCreated, SplitResponseDTO{
		Child:           toBatchDTO(res.Child),
		ParentRemaining: res.ParentRemaining,
	})
}

// Merge combines units from several batches into a newly created child.
// POST /api/batches/merge
func (h *Handler) Merge(w http.ResponseWriter, r *http.Request) {
	org, ok := h.requireOrg(w, r)
	if !ok {
		return
	}

	var req MergeRequestDTO
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	sources := make([]lineage.MergeSource, len(req.Sources))
	for i, s := range req.Sources {
		sources[i] = lineage.MergeSource{
			BatchID:            lineage.BatchID(s.BatchID),
			Units:              s.Units,
			AutoArchiveIfEmpty: s.AutoArchiveIfEmpty,
		}
	}

	res, err := h.Engine.Merge(r.Context(), lineage.MergeRequest{
		RequestID:      req.RequestID,
		ActorID:        h.actorID(r),
		OrgID:          org,
		TargetSizeSpec: lineage.SizeSpecID(req.TargetSizeSpec),
		TargetLocation: lineage.LocationID(req.TargetLocation),
		TargetVariety:  lineage.VarietyID(req.TargetVariety),
		RequiredUnits:  req.RequiredUnits,
		Sources:        sources,
	})
	if err != nil {
		writeEngineError(w, "Merge failed", err)
		return
	}

	writeJSON(w, http.StatusCreated, MergeResponseDTO{Child: toBatchDTO(res.Child)})
}

// =============================================================================
// READ HANDLERS
// =============================================================================

// ListBatches returns all batches owned by the calling org.
// GET /api/batches
func (h *Handler) ListBatches(w http.ResponseWriter, r *http.Request) {
	org, ok := h.requireOrg(w, r)
	if !ok {
		return
	}

	batches, err := h.Store.ListBatches(r.Context(), org)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list batches", err)
		return
	}

	dtos := make([]BatchDTO, len(batches))
	for i, b := range batches {
		dtos[i] = toBatchDTO(b)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetBatch returns a single batch.
// GET /api/batches/{id}
func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	org, ok := h.requireOrg(w, r)
	if !ok {
		return
	}
	id := lineage.BatchID(chi.URLParam(r, "id"))

	b, err := h.Store.GetBatch(r.Context(), id)
	if err != nil {
		writeEngineError(w, "Failed to get batch", err)
		return
	}
	if b.OrgID != org {
		writeError(w, http.StatusNotFound, "Batch not found", nil)
		return
	}

	writeJSON(w, http.StatusOK, toBatchDTO(*b))
}

// GetBatchEvents returns the event history of a batch, oldest first.
// GET /api/batches/{id}/events
func (h *Handler) GetBatchEvents(w http.ResponseWriter, r *http.Request) {
	id := lineage.BatchID(chi.URLParam(r, "id"))

	events, err := h.Store.EventsForBatch(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load events", err)
		return
	}

	dtos := make([]EventDTO, len(events))
	for i, ev := range events {
		dtos[i] = toEventDTO(ev)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetLineage returns the direct parents of a batch plus its traced origin
// attribution back to root batches.
// GET /api/batches/{id}/lineage
func (h *Handler) GetLineage(w http.ResponseWriter, r *http.Request) {
	id := lineage.BatchID(chi.URLParam(r, "id"))
	ctx := r.Context()

	parents, err := h.Store.ParentsOf(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load ancestry", err)
		return
	}

	origins, err := h.Tracer.TraceOrigins(ctx, id)
	if err != nil {
		writeEngineError(w, "Failed to trace origins", err)
		return
	}

	dto := LineageDTO{
		BatchID: string(id),
		Parents: make([]EdgeDTO, len(parents)),
		Origins: toOriginDTOs(origins),
	}
	for i, e := range parents {
		dto.Parents[i] = toEdgeDTO(e)
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// REFERENCE DATA HANDLERS
// =============================================================================

// ListSizeSpecs returns all registered size specs.
// GET /api/sizes
func (h *Handler) ListSizeSpecs(w http.ResponseWriter, r *http.Request) {
	specs, err := h.Store.ListSizeSpecs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list size specs", err)
		return
	}

	dtos := make([]SizeSpecDTO, len(specs))
	for i, spec := range specs {
		phase, _ := lineage.ClassifyPhase(spec)
		dtos[i] = SizeSpecDTO{
			ID:            string(spec.ID),
			Name:          spec.Name,
			ContainerKind: string(spec.ContainerKind),
			CellCount:     spec.CellCount,
			Phase:         string(phase),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateSizeSpec registers a size spec.
// POST /api/sizes
func (h *Handler) CreateSizeSpec(w http.ResponseWriter, r *http.Request) {
	var req CreateSizeSpecRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	spec := lineage.SizeSpec{
		ID:            lineage.SizeSpecID(req.ID),
		Name:          req.Name,
		ContainerKind: lineage.ContainerKind(req.ContainerKind),
		CellCount:     req.CellCount,
	}
	if _, err := lineage.ClassifyPhase(spec); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid size spec", err)
		return
	}
	if err := h.Store.PutSizeSpec(r.Context(), spec); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to store size spec", err)
		return
	}

	writeJSON(w, http.StatusCreated, req)
}

// CreateLocation registers a location.
// POST /api/locations
func (h *Handler) CreateLocation(w http.ResponseWriter, r *http.Request) {
	var req CreateLocationRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.Store.PutLocation(r.Context(), lineage.LocationID(req.ID), req.Name); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to store location", err)
		return
	}

	writeJSON(w, http.StatusCreated, req)
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeEngineError maps an engine error to an HTTP status code.
func writeEngineError(w http.ResponseWriter, message string, err error) {
	status := http.StatusInternalServerError
	resp := ErrorResponse{Error: message, Details: err.Error()}

	switch {
	case lineage.IsNotFound(err):
		status = http.StatusNotFound
		resp.Code = "not_found"
	case errors.Is(err, lineage.ErrInsufficientQuantity):
		status = http.StatusConflict
		resp.Code = "insufficient_quantity"
		var iq *lineage.InsufficientQuantityError
		if errors.As(err, &iq) {
			resp.Details = map[string]any{
				"batch_id":  string(iq.BatchID),
				"requested": iq.Requested,
				"available": iq.Available,
				"shortfall": iq.Shortfall(),
			}
		}
	case errors.Is(err, lineage.ErrDuplicateRequest):
		status = http.StatusConflict
		resp.Code = "duplicate_request"
	case lineage.IsClientError(err):
		status = http.StatusBadRequest
		resp.Code = "validation"
	case lineage.IsRetryable(err):
		status = http.StatusServiceUnavailable
		resp.Code = "transient"
		resp.Retryable = true
	}

	writeJSON(w, status, resp)
}
