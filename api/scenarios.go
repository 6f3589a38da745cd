/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for testing and demos. Each scenario creates apiaries, batches and
	a token balance that demonstrate specific dashboard features.

AVAILABLE SCENARIOS:

	single-apiary:      One apiary, one fresh batch, plenty of tokens
	pooled-harvest:     Three apiaries feeding two batches (pooled sessions)
	partially-certified: A batch mid-way through certification with a record
	token-starved:      Real batches but a balance too small to finish them

HOW SCENARIOS WORK:
 1. Reset the store (clear all data)
 2. Create apiaries
 3. Create batches from their contributions
 4. Optionally apply a certification session and emit its record
 5. Seed the token balance

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "pooled-harvest"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx, h)
 3. Add case to LoadScenario handler

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: writeJSON/writeError helpers
  - engine/batch.go: ApplyCertification used by the partial scenario
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hivemark/certification-engine/engine"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "single-apiary",
		Name:        "Single Apiary",
		Description: "One apiary, one fresh batch, 500 tokens",
		Category:    "basics",
	},
	{
		ID:          "pooled-harvest",
		Name:        "Pooled Harvest",
		Description: "Three apiaries feeding two batches for pooled sessions",
		Category:    "basics",
	},
	{
		ID:          "partially-certified",
		Name:        "Partially Certified",
		Description: "A batch mid-way through certification with an existing record",
		Category:    "accounting",
	},
	{
		ID:          "token-starved",
		Name:        "Token Starved",
		Description: "Real batches but only 10 tokens on the balance",
		Category:    "accounting",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the store and loads the selected scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if h.ResetStore == nil {
		writeError(w, http.StatusNotImplemented, "Scenario loading is disabled", nil)
		return
	}
	if err := h.ResetStore(); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset store", err)
		return
	}

	ctx := r.Context()
	var err error
	switch req.ScenarioID {
	case "single-apiary":
		err = loadSingleApiaryScenario(ctx, h)
	case "pooled-harvest":
		err = loadPooledHarvestScenario(ctx, h)
	case "partially-certified":
		err = loadPartiallyCertifiedScenario(ctx, h)
	case "token-starved":
		err = loadTokenStarvedScenario(ctx, h)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown scenario %q", req.ScenarioID), nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if h.ResetStore == nil {
		writeError(w, http.StatusNotImplemented, "Reset is disabled", nil)
		return
	}
	if err := h.ResetStore(); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset store", err)
		return
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// LOADERS
// =============================================================================

func loadSingleApiaryScenario(ctx context.Context, h *Handler) error {
	now := time.Now()
	apiary := engine.Apiary{
		ID:          "apiary-hilltop",
		Name:        "Hilltop Meadow",
		Number:      "AP-001",
		HiveCount:   24,
		Latitude:    46.05,
		Longitude:   14.51,
		CollectedKg: engine.Kilograms(180),
		CreatedAt:   now,
	}
	if err := h.Store.SaveApiary(ctx, apiary); err != nil {
		return err
	}

	batch := engine.NewBatch("batch-2026-01", "HB-2026-001", []engine.ApiaryContribution{
		{ApiaryID: apiary.ID, CollectedKg: engine.Kilograms(120), HiveCount: apiary.HiveCount},
	}, now)
	if err := h.Store.SaveBatch(ctx, batch); err != nil {
		return err
	}

	return seedTokens(ctx, h, 500)
}

func loadPooledHarvestScenario(ctx context.Context, h *Handler) error {
	now := time.Now()
	apiaries := []engine.Apiary{
		{ID: "apiary-hilltop", Name: "Hilltop Meadow", Number: "AP-001", HiveCount: 24, Latitude: 46.05, Longitude: 14.51, CollectedKg: engine.Kilograms(180), CreatedAt: now},
		{ID: "apiary-riverside", Name: "Riverside", Number: "AP-002", HiveCount: 16, Latitude: 46.23, Longitude: 15.26, CollectedKg: engine.Kilograms(95), CreatedAt: now},
		{ID: "apiary-orchard", Name: "Old Orchard", Number: "AP-003", HiveCount: 31, Latitude: 45.95, Longitude: 13.65, CollectedKg: engine.Kilograms(210), CreatedAt: now},
	}
	for _, a := range apiaries {
		if err := h.Store.SaveApiary(ctx, a); err != nil {
			return err
		}
	}

	spring := engine.NewBatch("batch-spring", "HB-2026-SPR", []engine.ApiaryContribution{
		{ApiaryID: "apiary-hilltop", CollectedKg: engine.Kilograms(80), HiveCount: 24},
		{ApiaryID: "apiary-riverside", CollectedKg: engine.Kilograms(45), HiveCount: 16},
	}, now)
	summer := engine.NewBatch("batch-summer", "HB-2026-SUM", []engine.ApiaryContribution{
		{ApiaryID: "apiary-riverside", CollectedKg: engine.Kilograms(50), HiveCount: 16},
		{ApiaryID: "apiary-orchard", CollectedKg: engine.Kilograms(140), HiveCount: 31},
	}, now.Add(time.Minute))
	for _, b := range []engine.Batch{spring, summer} {
		if err := h.Store.SaveBatch(ctx, b); err != nil {
			return err
		}
	}

	return seedTokens(ctx, h, 1000)
}

func loadPartiallyCertifiedScenario(ctx context.Context, h *Handler) error {
	now := time.Now()
	apiary := engine.Apiary{
		ID:          "apiary-hilltop",
		Name:        "Hilltop Meadow",
		Number:      "AP-001",
		HiveCount:   24,
		Latitude:    46.05,
		Longitude:   14.51,
		CollectedKg: engine.Kilograms(150),
		CreatedAt:   now,
	}
	if err := h.Store.SaveApiary(ctx, apiary); err != nil {
		return err
	}

	batch := engine.NewBatch("batch-partial", "HB-2026-PAR", []engine.ApiaryContribution{
		{ApiaryID: apiary.ID, CollectedKg: engine.Kilograms(100), HiveCount: apiary.HiveCount},
	}, now.Add(-48*time.Hour))

	// One past session: 80 x 500g origin jars = 40 kg.
	jars := []engine.JarDefinition{{SizeGrams: 500, Quantity: 80, Certification: engine.CertOrigin}}
	certified := engine.TotalWeight(jars)
	if err := engine.ApplyCertification(&batch, map[engine.CertificationType]engine.Weight{
		engine.CertOrigin: certified,
	}); err != nil {
		return err
	}
	record := engine.NewCertificationRecord([]engine.BatchID{batch.ID}, jars, certified, now.Add(-24*time.Hour))
	batch.RecordIDs = append(batch.RecordIDs, record.ID)
	batch.Contributions[0].CollectedKg = batch.Contributions[0].CollectedKg.Sub(certified)

	if err := h.Store.SaveBatch(ctx, batch); err != nil {
		return err
	}
	if err := h.Store.SaveRecord(ctx, record); err != nil {
		return err
	}

	apiary.CollectedKg = apiary.CollectedKg.Sub(certified)
	if err := h.Store.UpdateApiary(ctx, apiary); err != nil {
		return err
	}

	return seedTokens(ctx, h, 420)
}

func loadTokenStarvedScenario(ctx context.Context, h *Handler) error {
	if err := loadPooledHarvestScenario(ctx, h); err != nil {
		return err
	}
	// Overwrite the pooled scenario's balance with a starved one.
	balance, err := h.Tokens.Balance(ctx)
	if err != nil {
		return err
	}
	if balance > 10 {
		if _, err := h.Tokens.Debit(ctx, balance-10); err != nil {
			return err
		}
	}
	return nil
}

func seedTokens(ctx context.Context, h *Handler, amount int64) error {
	_, err := h.Tokens.Credit(ctx, amount, engine.TokenAdd)
	return err
}
