/*
handlers.go - HTTP handlers for the certification dashboard API

PURPOSE:
  Implements the REST endpoints. Handlers decode DTOs, call into the
  engine, and map engine errors onto HTTP statuses. No accounting rule
  lives here; the engine owns all of it.

ENDPOINT GROUPS:
  Apiaries:       CRUD for registered bee yards
  Batches:        CRUD for honey batches (delete cascades records)
  Certifications: Preflight validation and the commit saga
  Records:        Listing and public verification-code lookup
  Tokens:         Balance read and top-up

ERROR MAPPING:
  engine.IsNotFound       -> 404
  engine.IsClientError    -> 400 (insufficient tokens -> 402)
  engine.ErrAuth          -> 403
  engine.IsRetryable      -> 409
  anything else           -> 500

SEE ALSO:
  - dto.go: Request/response shapes
  - server.go: Route wiring
  - engine/committer.go: The commit saga behind POST /api/certifications
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hivemark/certification-engine/engine"
)

// Handler holds the dependencies for all endpoints.
type Handler struct {
	Store     engine.Store
	Tokens    *engine.TokenLedger
	Committer *engine.CertificationCommitter

	// Reset hook for scenario loading; nil disables /api/scenarios/reset.
	ResetStore func() error

	mu              sync.Mutex // guards currentScenario
	currentScenario string
}

func NewHandler(store engine.Store, tokens *engine.TokenLedger, committer *engine.CertificationCommitter) *Handler {
	return &Handler{
		Store:     store,
		Tokens:    tokens,
		Committer: committer,
	}
}

// =============================================================================
// APIARY ENDPOINTS
// =============================================================================

// ListApiaries returns all registered apiaries.
// GET /api/apiaries
func (h *Handler) ListApiaries(w http.ResponseWriter, r *http.Request) {
	apiaries, err := h.Store.ListApiaries(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list apiaries", err)
		return
	}
	out := make([]ApiaryDTO, len(apiaries))
	for i, a := range apiaries {
		out[i] = toApiaryDTO(a)
	}
	writeJSON(w, http.StatusOK, out)
}

// CreateApiary registers a new apiary.
// POST /api/apiaries
func (h *Handler) CreateApiary(w http.ResponseWriter, r *http.Request) {
	var req CreateApiaryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Name is required", nil)
		return
	}
	if req.HiveCount < 0 || req.CollectedKg < 0 {
		writeError(w, http.StatusBadRequest, "Counts and weights must be non-negative", nil)
		return
	}
	if err := engine.ValidateCoordinates(req.Latitude, req.Longitude); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid coordinates", err)
		return
	}

	apiary := engine.Apiary{
		ID:          engine.ApiaryID(uuid.NewString()),
		Name:        req.Name,
		Number:      req.Number,
		HiveCount:   req.HiveCount,
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
		CollectedKg: engine.Kilograms(req.CollectedKg),
		CreatedAt:   time.Now(),
	}
	if err := h.Store.SaveApiary(r.Context(), apiary); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save apiary", err)
		return
	}
	writeJSON(w, http.StatusCreated, toApiaryDTO(apiary))
}

// GetApiary returns a single apiary.
// GET /api/apiaries/{id}
func (h *Handler) GetApiary(w http.ResponseWriter, r *http.Request) {
	id := engine.ApiaryID(chi.URLParam(r, "id"))
	apiary, err := h.Store.GetApiary(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get apiary", err)
		return
	}
	if apiary == nil {
		writeError(w, http.StatusNotFound, "Apiary not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toApiaryDTO(*apiary))
}

// UpdateApiary edits an apiary's metadata. The collected weight is not
// editable here; it only changes through certification sessions.
// PUT /api/apiaries/{id}
func (h *Handler) UpdateApiary(w http.ResponseWriter, r *http.Request) {
	id := engine.ApiaryID(chi.URLParam(r, "id"))

	var req UpdateApiaryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Name is required", nil)
		return
	}
	if err := engine.ValidateCoordinates(req.Latitude, req.Longitude); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid coordinates", err)
		return
	}

	apiary, err := h.Store.GetApiary(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get apiary", err)
		return
	}
	if apiary == nil {
		writeError(w, http.StatusNotFound, "Apiary not found", nil)
		return
	}

	apiary.Name = req.Name
	apiary.Number = req.Number
	apiary.HiveCount = req.HiveCount
	apiary.Latitude = req.Latitude
	apiary.Longitude = req.Longitude
	if err := h.Store.UpdateApiary(r.Context(), *apiary); err != nil {
		writeEngineError(w, "Failed to update apiary", err)
		return
	}
	writeJSON(w, http.StatusOK, toApiaryDTO(*apiary))
}

// DeleteApiary removes an apiary. Contribution rows on existing batches
// keep their snapshot; future sessions simply skip the missing apiary.
// DELETE /api/apiaries/{id}
func (h *Handler) DeleteApiary(w http.ResponseWriter, r *http.Request) {
	id := engine.ApiaryID(chi.URLParam(r, "id"))
	if err := h.Store.DeleteApiary(r.Context(), id); err != nil {
		writeEngineError(w, "Failed to delete apiary", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// =============================================================================
// BATCH ENDPOINTS
// =============================================================================

// ListBatches returns all batches with their breakdowns, alongside the
// token stats the dashboard shows on the same screen.
// GET /api/batches
func (h *Handler) ListBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := h.Store.ListBatches(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list batches", err)
		return
	}
	names, err := h.apiaryNames(r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list apiaries", err)
		return
	}
	stats, err := h.tokenStats(r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read balance", err)
		return
	}
	out := make([]BatchDTO, len(batches))
	for i, b := range batches {
		out[i] = toBatchDTO(b, names)
	}
	writeJSON(w, http.StatusOK, BatchListResponse{Batches: out, TokenStats: stats})
}

// CreateBatch creates a batch from apiary contributions. The original
// weight is the sum of the contributions and is fixed from then on.
// POST /api/batches
func (h *Handler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	var req CreateBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Number == "" {
		writeError(w, http.StatusBadRequest, "Batch number is required", nil)
		return
	}
	if len(req.Contributions) == 0 {
		writeError(w, http.StatusBadRequest, "At least one contribution is required", nil)
		return
	}

	contributions := make([]engine.ApiaryContribution, len(req.Contributions))
	for i, c := range req.Contributions {
		if c.CollectedKg <= 0 {
			writeError(w, http.StatusBadRequest, "Contribution weight must be positive", nil)
			return
		}
		apiary, err := h.Store.GetApiary(r.Context(), engine.ApiaryID(c.ApiaryID))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to get apiary", err)
			return
		}
		if apiary == nil {
			writeError(w, http.StatusBadRequest, "Unknown apiary "+c.ApiaryID, nil)
			return
		}
		hives := c.HiveCount
		if hives == 0 {
			hives = apiary.HiveCount
		}
		contributions[i] = engine.ApiaryContribution{
			ApiaryID:    engine.ApiaryID(c.ApiaryID),
			CollectedKg: engine.Kilograms(c.CollectedKg),
			HiveCount:   hives,
		}
	}

	batch := engine.NewBatch(engine.BatchID(uuid.NewString()), req.Number, contributions, time.Now())
	if err := h.Store.SaveBatch(r.Context(), batch); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save batch", err)
		return
	}
	names, _ := h.apiaryNames(r)
	writeJSON(w, http.StatusCreated, toBatchDTO(batch, names))
}

// GetBatch returns a single batch with its breakdown.
// GET /api/batches/{id}
func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	id := engine.BatchID(chi.URLParam(r, "id"))
	batch, err := h.Store.GetBatch(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get batch", err)
		return
	}
	if batch == nil {
		writeError(w, http.StatusNotFound, "Batch not found", nil)
		return
	}
	names, _ := h.apiaryNames(r)
	writeJSON(w, http.StatusOK, toBatchDTO(*batch, names))
}

// DeleteBatch removes a batch and its certification records.
// DELETE /api/batches/{id}
func (h *Handler) DeleteBatch(w http.ResponseWriter, r *http.Request) {
	id := engine.BatchID(chi.URLParam(r, "id"))
	if err := h.Store.DeleteBatch(r.Context(), id); err != nil {
		writeEngineError(w, "Failed to delete batch", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ListBatchRecords returns the certification records touching one batch.
// GET /api/batches/{id}/records
func (h *Handler) ListBatchRecords(w http.ResponseWriter, r *http.Request) {
	id := engine.BatchID(chi.URLParam(r, "id"))
	batch, err := h.Store.GetBatch(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get batch", err)
		return
	}
	if batch == nil {
		writeError(w, http.StatusNotFound, "Batch not found", nil)
		return
	}
	records, err := h.Store.ListRecordsForBatch(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list records", err)
		return
	}
	out := make([]RecordDTO, len(records))
	for i, rec := range records {
		out[i] = toRecordDTO(rec)
	}
	writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// CERTIFICATION ENDPOINTS
// =============================================================================

// Preflight validates a session without side effects: allocation bounds,
// token budget and document requirements.
// POST /api/certifications/preflight
func (h *Handler) Preflight(w http.ResponseWriter, r *http.Request) {
	var req PreflightRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := h.Committer.Preflight(r.Context(), toBatchIDs(req.BatchIDs), toJarDefinitions(req.Jars))
	if err != nil {
		writeEngineError(w, "Preflight failed", err)
		return
	}
	writeJSON(w, http.StatusOK, PreflightResponse{
		PoolRemainingKg:  result.PoolRemaining.Float64(),
		AllocatedKg:      result.AllocatedWeight.Float64(),
		UnallocatedKg:    result.Unallocated.Float64(),
		IsFullyAllocated: result.IsFullyAllocated,
		TokensRequired:   result.TokensRequired,
		TokenBalance:     result.TokenBalance,
		NeedsLabReport:   result.NeedsLabReport,
		NeedsProduction:  result.NeedsProduction,
	})
}

// CommitCertification runs the commit saga for one session.
// POST /api/certifications
func (h *Handler) CommitCertification(w http.ResponseWriter, r *http.Request) {
	var req CommitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	input := engine.CommitInput{
		ActorID:  req.ActorID,
		BatchIDs: toBatchIDs(req.BatchIDs),
		Jars:     toJarDefinitions(req.Jars),
	}
	if len(req.LabReport) > 0 {
		input.LabReport = &engine.ReportFile{Name: req.LabReportName, Data: req.LabReport}
	}
	if len(req.ProductionReport) > 0 {
		input.ProductionReport = &engine.ReportFile{Name: req.ProductionName, Data: req.ProductionReport}
	}

	result, err := h.Committer.Commit(r.Context(), input)
	if err != nil {
		writeEngineError(w, "Certification failed", err)
		return
	}

	names, _ := h.apiaryNames(r)
	batches := make([]BatchDTO, len(result.Batches))
	for i, b := range result.Batches {
		batches[i] = toBatchDTO(b, names)
	}
	writeJSON(w, http.StatusCreated, CommitResponse{
		Record:        toRecordDTO(result.Record),
		Batches:       batches,
		TokensDebited: result.TokensDebited,
		TokenBalance:  result.TokenBalance,
		Warnings:      result.Warnings,
	})
}

// =============================================================================
// RECORD ENDPOINTS
// =============================================================================

// ListRecords returns all certification records.
// GET /api/records
func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	records, err := h.Store.ListRecords(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list records", err)
		return
	}
	out := make([]RecordDTO, len(records))
	for i, rec := range records {
		out[i] = toRecordDTO(rec)
	}
	writeJSON(w, http.StatusOK, out)
}

// VerifyRecord is the public lookup a buyer reaches by scanning the QR.
// GET /api/records/verify/{code}
func (h *Handler) VerifyRecord(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	record, err := h.Store.GetRecordByCode(r.Context(), code)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to look up record", err)
		return
	}
	if record == nil {
		writeError(w, http.StatusNotFound, "Record not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toRecordDTO(*record))
}

// =============================================================================
// TOKEN ENDPOINTS
// =============================================================================

// GetTokenBalance returns the current balance and mutation totals.
// GET /api/tokens
func (h *Handler) GetTokenBalance(w http.ResponseWriter, r *http.Request) {
	stats, err := h.tokenStats(r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read balance", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// TopUpTokens credits the balance (action=add).
// POST /api/tokens/topup
func (h *Handler) TopUpTokens(w http.ResponseWriter, r *http.Request) {
	var req TopUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	balance, err := h.Tokens.Credit(r.Context(), req.Amount, engine.TokenAdd)
	if err != nil {
		writeEngineError(w, "Failed to top up", err)
		return
	}
	writeJSON(w, http.StatusOK, TokenBalanceDTO{Balance: balance})
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) tokenStats(r *http.Request) (TokenStatsDTO, error) {
	balance, err := h.Tokens.Balance(r.Context())
	if err != nil {
		return TokenStatsDTO{}, err
	}
	debited, credited := h.Tokens.Stats()
	return TokenStatsDTO{Balance: balance, TotalDebited: debited, TotalCredited: credited}, nil
}

func (h *Handler) apiaryNames(r *http.Request) (map[engine.ApiaryID]string, error) {
	apiaries, err := h.Store.ListApiaries(r.Context())
	if err != nil {
		return nil, err
	}
	names := make(map[engine.ApiaryID]string, len(apiaries))
	for _, a := range apiaries {
		names[a.ID] = a.Name
	}
	return names, nil
}

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

// writeEngineError maps engine errors onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, message string, err error) {
	switch {
	case engine.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, engine.ErrInsufficientTokens):
		writeError(w, http.StatusPaymentRequired, message, err)
	case errors.Is(err, engine.ErrAuth):
		writeError(w, http.StatusForbidden, message, err)
	case engine.IsRetryable(err):
		writeError(w, http.StatusConflict, message, err)
	case engine.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
