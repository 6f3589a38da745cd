/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Apiary:
    ApiaryDTO, CreateApiaryRequest, UpdateApiaryRequest

  Batch:
    BatchDTO, ContributionDTO, BreakdownDTO, CreateBatchRequest

  Certification:
    JarRequest, CommitRequest, CommitResponse, PreflightRequest,
    PreflightResponse

  Records:
    RecordDTO (wraps the QR payload)

  Tokens:
    TokenBalanceDTO, TopUpRequest

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Validation is done in handlers and the engine, not in DTOs. DTOs are
  pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - engine/types.go: Domain model these are mapped from
*/
package api

import (
	"time"

	"github.com/hivemark/certification-engine/engine"
)

// =============================================================================
// APIARY TYPES
// =============================================================================

// ApiaryDTO represents an apiary in API responses.
type ApiaryDTO struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Number      string  `json:"number,omitempty"`
	HiveCount   int     `json:"hive_count"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	CollectedKg float64 `json:"collected_kg"`
	CreatedAt   string  `json:"created_at,omitempty"`
}

// CreateApiaryRequest is the request to register an apiary.
type CreateApiaryRequest struct {
	Name        string  `json:"name"`
	Number      string  `json:"number,omitempty"`
	HiveCount   int     `json:"hive_count"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	CollectedKg float64 `json:"collected_kg"`
}

// UpdateApiaryRequest is the request to edit an apiary.
type UpdateApiaryRequest struct {
	Name      string  `json:"name"`
	Number    string  `json:"number,omitempty"`
	HiveCount int     `json:"hive_count"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// =============================================================================
// BATCH TYPES
// =============================================================================

// ContributionDTO is one apiary's share of a batch.
type ContributionDTO struct {
	ApiaryID    string  `json:"apiary_id"`
	ApiaryName  string  `json:"apiary_name,omitempty"`
	CollectedKg float64 `json:"collected_kg"`
	HiveCount   int     `json:"hive_count"`
}

// BreakdownDTO is the integer percentage view of a batch.
type BreakdownDTO struct {
	OriginPercent      int64 `json:"origin_percent"`
	QualityPercent     int64 `json:"quality_percent"`
	BothPercent        int64 `json:"both_percent"`
	UncertifiedPercent int64 `json:"uncertified_percent"`
}

// BatchDTO represents a batch in API responses.
type BatchDTO struct {
	ID            string            `json:"id"`
	Number        string            `json:"batch_number"`
	OriginalKg    float64           `json:"original_kg"`
	CertifiedKg   float64           `json:"certified_kg"`
	RemainingKg   float64           `json:"remaining_kg"`
	Status        string            `json:"status"`
	Contributions []ContributionDTO `json:"contributions"`
	RecordIDs     []string          `json:"record_ids,omitempty"`
	Breakdown     BreakdownDTO      `json:"breakdown"`
	CreatedAt     string            `json:"created_at,omitempty"`
}

// CreateBatchRequest is the request to create a batch from contributions.
type CreateBatchRequest struct {
	Number        string            `json:"batch_number"`
	Contributions []ContributionDTO `json:"contributions"`
}

// BatchListResponse pairs the batches with the token state the dashboard
// renders next to them.
type BatchListResponse struct {
	Batches    []BatchDTO    `json:"batches"`
	TokenStats TokenStatsDTO `json:"token_stats"`
}

// =============================================================================
// CERTIFICATION TYPES
// =============================================================================

// JarRequest describes one jar line of a session.
type JarRequest struct {
	SizeGrams     int64  `json:"size_grams"`
	Quantity      int64  `json:"quantity"`
	Certification string `json:"certification"` // origin | quality | both
}

// CommitRequest is the request to commit a certification session.
// Report contents arrive base64-encoded in JSON.
type CommitRequest struct {
	ActorID          string       `json:"actor_id"`
	BatchIDs         []string     `json:"batch_ids"`
	Jars             []JarRequest `json:"jars"`
	LabReportName    string       `json:"lab_report_name,omitempty"`
	LabReport        []byte       `json:"lab_report,omitempty"`
	ProductionName   string       `json:"production_report_name,omitempty"`
	ProductionReport []byte       `json:"production_report,omitempty"`
}

// CommitResponse is the successful session result.
type CommitResponse struct {
	Record        RecordDTO  `json:"record"`
	Batches       []BatchDTO `json:"batches"`
	TokensDebited int64      `json:"tokens_debited"`
	TokenBalance  int64      `json:"token_balance"`
	Warnings      []string   `json:"warnings,omitempty"`
}

// PreflightRequest mirrors CommitRequest without the documents.
type PreflightRequest struct {
	BatchIDs []string     `json:"batch_ids"`
	Jars     []JarRequest `json:"jars"`
}

// PreflightResponse reports the session's arithmetic before commit.
type PreflightResponse struct {
	PoolRemainingKg   float64 `json:"pool_remaining_kg"`
	AllocatedKg       float64 `json:"allocated_kg"`
	UnallocatedKg     float64 `json:"unallocated_kg"`
	IsFullyAllocated  bool    `json:"is_fully_allocated"`
	TokensRequired    int64   `json:"tokens_required"`
	TokenBalance      int64   `json:"token_balance"`
	NeedsLabReport    bool    `json:"needs_lab_report"`
	NeedsProduction   bool    `json:"needs_production_report"`
}

// =============================================================================
// RECORD TYPES
// =============================================================================

// RecordDTO represents a certification record in API responses.
type RecordDTO struct {
	ID               string           `json:"id"`
	BatchIDs         []string         `json:"batch_ids"`
	TotalCertifiedKg float64          `json:"total_certified_kg"`
	JarCounts        map[string]int64 `json:"jar_counts"`
	CertifiedAt      string           `json:"certified_at"`
	ExpiresAt        string           `json:"expires_at"`
	VerificationCode string           `json:"verification_code"`
	Status           string           `json:"status"`
	QR               engine.QRPayload `json:"qr"`
}

// =============================================================================
// TOKEN TYPES
// =============================================================================

// TokenBalanceDTO reports the current balance.
type TokenBalanceDTO struct {
	Balance int64 `json:"balance"`
}

// TokenStatsDTO adds the process-lifetime mutation totals to the balance.
type TokenStatsDTO struct {
	Balance       int64 `json:"balance"`
	TotalDebited  int64 `json:"total_debited"`
	TotalCredited int64 `json:"total_credited"`
}

// TopUpRequest is the request to add tokens.
type TopUpRequest struct {
	Amount int64 `json:"amount"`
}

// =============================================================================
// SCENARIO TYPES
// =============================================================================

// ScenarioDTO describes a loadable demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// LoadScenarioRequest selects a scenario to load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toApiaryDTO(a engine.Apiary) ApiaryDTO {
	return ApiaryDTO{
		ID:          string(a.ID),
		Name:        a.Name,
		Number:      a.Number,
		HiveCount:   a.HiveCount,
		Latitude:    a.Latitude,
		Longitude:   a.Longitude,
		CollectedKg: a.CollectedKg.Float64(),
		CreatedAt:   a.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func toBatchDTO(b engine.Batch, apiaryNames map[engine.ApiaryID]string) BatchDTO {
	contribs := make([]ContributionDTO, len(b.Contributions))
	for i, c := range b.Contributions {
		contribs[i] = ContributionDTO{
			ApiaryID:    string(c.ApiaryID),
			ApiaryName:  apiaryNames[c.ApiaryID],
			CollectedKg: c.CollectedKg.Float64(),
			HiveCount:   c.HiveCount,
		}
	}
	records := make([]string, len(b.RecordIDs))
	for i, id := range b.RecordIDs {
		records[i] = string(id)
	}
	breakdown := engine.BatchBreakdown(b)
	return BatchDTO{
		ID:            string(b.ID),
		Number:        b.Number,
		OriginalKg:    b.OriginalKg.Float64(),
		CertifiedKg:   b.CertifiedKg.Float64(),
		RemainingKg:   b.RemainingKg.Float64(),
		Status:        string(b.Status),
		Contributions: contribs,
		RecordIDs:     records,
		Breakdown: BreakdownDTO{
			OriginPercent:      breakdown.OriginOnlyPercent,
			QualityPercent:     breakdown.QualityOnlyPercent,
			BothPercent:        breakdown.BothPercent,
			UncertifiedPercent: breakdown.UncertifiedPercent,
		},
		CreatedAt: b.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func toRecordDTO(r engine.CertificationRecord) RecordDTO {
	ids := make([]string, len(r.BatchIDs))
	for i, id := range r.BatchIDs {
		ids[i] = string(id)
	}
	counts := make(map[string]int64, len(r.JarCounts))
	for ct, n := range r.JarCounts {
		counts[string(ct)] = n
	}
	return RecordDTO{
		ID:               string(r.ID),
		BatchIDs:         ids,
		TotalCertifiedKg: r.TotalCertifiedKg.Float64(),
		JarCounts:        counts,
		CertifiedAt:      r.CertifiedAt.UTC().Format(time.RFC3339),
		ExpiresAt:        r.ExpiresAt.UTC().Format(time.RFC3339),
		VerificationCode: r.VerificationCode,
		Status:           string(r.Status),
		QR:               r.ToQRPayload(),
	}
}

func toJarDefinitions(reqs []JarRequest) []engine.JarDefinition {
	jars := make([]engine.JarDefinition, len(reqs))
	for i, r := range reqs {
		jars[i] = engine.JarDefinition{
			SizeGrams:     r.SizeGrams,
			Quantity:      r.Quantity,
			Certification: engine.CertificationType(r.Certification),
		}
	}
	return jars
}

func toBatchIDs(ids []string) []engine.BatchID {
	out := make([]engine.BatchID, len(ids))
	for i, id := range ids {
		out[i] = engine.BatchID(id)
	}
	return out
}
