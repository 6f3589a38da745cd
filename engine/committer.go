/*
committer.go - The certification commit/rollback saga

PURPOSE:
  Orchestrates one certification transaction. This is the ONLY component
  with side effects on persisted state; everything below it is pure
  arithmetic over in-memory values.

STEP ORDER (linear, early-exit, no retries of partial steps):
  Validate -> CheckProfile -> CheckTokenBalance -> CheckDocuments
  -> Debit -> PersistEachBatch -> EmitCertificationRecord

FAILURE SEMANTICS:
  - Any failure before Debit has ZERO side effects.
  - A failure during PersistEachBatch after Debit triggers a compensating
    credit of the FULL debited amount (action=restore). With a TxStore the
    batch writes themselves roll back atomically, so there is no partial
    persistence window; with a plain Store the behavior degrades to the
    source's best-effort semantics (earlier batches stay persisted).
  - Cancellation before Debit is always safe. A cancellation that lands
    after Debit aborts persistence and runs the rollback path; the
    compensating credit itself is detached from the request context, so a
    client disconnect cannot strand the debited tokens.

CONCURRENCY:
  One committer run holds the commit mutex for the duration, so two
  sessions touching overlapping batches are serialized in-process. Batch
  updates additionally carry an optimistic version for cross-process
  safety, and the token balance is CAS-guarded (tokens.go).

SEE ALSO:
  - allocator.go: re-validates the submitted jar list
  - distribute.go: splits pool weight across batches and apiaries
*/
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// =============================================================================
// COLLABORATOR CONTRACTS
// =============================================================================

type ReportKind string

const (
	ReportLab        ReportKind = "lab_report"
	ReportProduction ReportKind = "production_report"
)

// ReportFile is an uploaded supporting document.
type ReportFile struct {
	Name string
	Data []byte
}

// DocumentVerifier is the external verification collaborator, consumed only
// through its pass/fail contract. A nil return means "passed"; anything else
// should unwrap to ErrDocumentVerification.
type DocumentVerifier interface {
	Verify(ctx context.Context, kind ReportKind, filename string, data []byte) error
}

// ProfileChecker reports whether the acting user's profile is complete.
type ProfileChecker interface {
	ProfileComplete(ctx context.Context, actorID string) (bool, error)
}

// ProfileCheckerFunc adapts a function to the ProfileChecker interface.
type ProfileCheckerFunc func(ctx context.Context, actorID string) (bool, error)

func (f ProfileCheckerFunc) ProfileComplete(ctx context.Context, actorID string) (bool, error) {
	return f(ctx, actorID)
}

// =============================================================================
// COMMIT INPUT / RESULT
// =============================================================================

type CommitInput struct {
	ActorID          string
	BatchIDs         []BatchID
	Jars             []JarDefinition
	LabReport        *ReportFile
	ProductionReport *ReportFile
}

type CommitResult struct {
	Record        CertificationRecord
	Batches       []Batch
	TokensDebited int64
	TokenBalance  int64
	Warnings      []string
}

// =============================================================================
// CERTIFICATION COMMITTER
// =============================================================================

type CertificationCommitter struct {
	Store    Store
	Tokens   *TokenLedger
	Verifier DocumentVerifier
	Profiles ProfileChecker

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time

	mu sync.Mutex
}

func NewCertificationCommitter(store Store, tokens *TokenLedger, verifier DocumentVerifier, profiles ProfileChecker) *CertificationCommitter {
	return &CertificationCommitter{
		Store:    store,
		Tokens:   tokens,
		Verifier: verifier,
		Profiles: profiles,
		Now:      time.Now,
	}
}

// Commit runs one certification transaction end to end.
func (c *CertificationCommitter) Commit(ctx context.Context, input CommitInput) (*CommitResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// --- Validate -----------------------------------------------------------
	batches, pool, err := c.validateSelection(ctx, input.BatchIDs)
	if err != nil {
		return nil, err
	}
	if len(input.Jars) == 0 {
		return nil, &ValidationError{Code: "no_jars", Message: "at least one jar definition is required"}
	}
	if err := ValidateAssigned(input.Jars); err != nil {
		return nil, err
	}

	// --- CheckProfile -------------------------------------------------------
	complete, err := c.Profiles.ProfileComplete(ctx, input.ActorID)
	if err != nil {
		return nil, err
	}
	if !complete {
		return nil, fmt.Errorf("profile incomplete for %q: %w", input.ActorID, ErrAuth)
	}

	// --- CheckTokenBalance (and allocation bounds, via the allocator) -------
	balance, err := c.Tokens.Balance(ctx)
	if err != nil {
		return nil, err
	}
	allocator := NewJarAllocator(pool, balance)
	if err := allocator.Load(input.Jars); err != nil {
		return nil, err
	}
	quantity := allocator.TotalQuantity()

	// --- CheckDocuments -----------------------------------------------------
	warnings, err := c.checkDocuments(ctx, input)
	if err != nil {
		return nil, err
	}

	// --- Debit --------------------------------------------------------------
	// One debit for the whole session, not per batch.
	newBalance, err := c.Tokens.Debit(ctx, quantity)
	if err != nil {
		return nil, err
	}

	// --- PersistEachBatch + EmitCertificationRecord -------------------------
	// The record names only batches with honey left: distribution gives an
	// exhausted batch a zero share, and a record link to a batch it certified
	// nothing from would be a lie in the QR payload.
	certified := allocator.AllocatedWeight()
	contributing := make([]BatchID, 0, len(batches))
	for _, b := range batches {
		if Remaining(b).IsPositive() {
			contributing = append(contributing, b.ID)
		}
	}
	record := NewCertificationRecord(contributing, allocator.Jars(), certified, c.Now())

	updated, err := c.persistSession(ctx, batches, allocator.Jars(), certified, record)
	if err != nil {
		// Compensating credit of the full debited amount. Detached from the
		// request context: when persistence failed because the client hung
		// up, the credit must still go through or the tokens leak.
		restored, creditErr := c.Tokens.Credit(context.WithoutCancel(ctx), quantity, TokenRestore)
		if creditErr != nil {
			return nil, fmt.Errorf("rollback credit failed after %v: %w", err, creditErr)
		}
		newBalance = restored
		return nil, err
	}

	return &CommitResult{
		Record:        record,
		Batches:       updated,
		TokensDebited: quantity,
		TokenBalance:  newBalance,
		Warnings:      warnings,
	}, nil
}

// validateSelection loads the selected batches and checks the pool.
func (c *CertificationCommitter) validateSelection(ctx context.Context, ids []BatchID) ([]Batch, Weight, error) {
	if len(ids) == 0 {
		return nil, ZeroWeight(), &ValidationError{Code: "empty_selection", Message: "select at least one batch"}
	}

	seen := map[BatchID]bool{}
	batches := make([]Batch, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			return nil, ZeroWeight(), &ValidationError{Code: "duplicate_selection", Message: fmt.Sprintf("batch %s selected twice", id)}
		}
		seen[id] = true

		b, err := c.Store.GetBatch(ctx, id)
		if err != nil {
			return nil, ZeroWeight(), err
		}
		if b == nil {
			return nil, ZeroWeight(), fmt.Errorf("batch %s: %w", id, ErrBatchNotFound)
		}
		batches = append(batches, *b)
	}

	pool := PoolRemaining(batches)
	if !pool.IsPositive() {
		return nil, ZeroWeight(), &ValidationError{Code: "empty_pool", Message: "selected batches have no remaining honey"}
	}
	return batches, pool, nil
}

// checkDocuments verifies supporting documents before any side effect.
// A failed or missing lab report is fatal when quality certification is
// requested; production report problems are soft warnings.
func (c *CertificationCommitter) checkDocuments(ctx context.Context, input CommitInput) ([]string, error) {
	var warnings []string

	if NeedsLabReport(input.Jars) {
		if input.LabReport == nil {
			return nil, &DocumentVerificationError{Report: string(ReportLab), Status: "missing"}
		}
		if err := c.Verifier.Verify(ctx, ReportLab, input.LabReport.Name, input.LabReport.Data); err != nil {
			if errors.Is(err, ErrDocumentVerification) {
				return nil, err
			}
			return nil, &DocumentVerificationError{Report: string(ReportLab), Status: "error"}
		}
	}

	if NeedsProductionReport(input.Jars) {
		if input.ProductionReport == nil {
			warnings = append(warnings, "production report not provided")
		} else if err := c.Verifier.Verify(ctx, ReportProduction, input.ProductionReport.Name, input.ProductionReport.Data); err != nil {
			warnings = append(warnings, fmt.Sprintf("production report verification: %v", err))
		}
	}

	return warnings, nil
}

// persistSession distributes the certified weight across the selection and
// writes every batch, the apiary totals and the record. Runs inside one
// store transaction when the store supports it.
func (c *CertificationCommitter) persistSession(ctx context.Context, batches []Batch, jars []JarDefinition, certified Weight, record CertificationRecord) ([]Batch, error) {
	var updated []Batch

	persist := func(s Store) error {
		updated = nil

		// Per-type session weights, each distributed across the batches by
		// remaining-weight share so the totals reconcile exactly.
		remainings := make([]Weight, len(batches))
		for i, b := range batches {
			remainings[i] = Remaining(b)
		}
		typeShares := map[CertificationType][]Weight{}
		for _, ct := range []CertificationType{CertOrigin, CertQuality, CertBoth} {
			w := ZeroWeight()
			for _, j := range jars {
				if j.Certification == ct {
					w = w.Add(j.Weight())
				}
			}
			if w.IsPositive() {
				typeShares[ct] = Distribute(w, remainings)
			}
		}

		for i := range batches {
			b := batches[i]

			byType := map[CertificationType]Weight{}
			certifiedForBatch := ZeroWeight()
			for ct, amounts := range typeShares {
				if amounts[i].IsPositive() {
					byType[ct] = amounts[i]
					certifiedForBatch = certifiedForBatch.Add(amounts[i])
				}
			}
			if !certifiedForBatch.IsPositive() {
				// Zero share (already-empty batch in the selection).
				updated = append(updated, b)
				continue
			}

			if err := ApplyCertification(&b, byType); err != nil {
				return &PersistenceError{BatchID: b.ID, Err: err}
			}

			// Deduct from each apiary contribution by its share of the
			// batch, then mirror the deduction on the apiary totals.
			ledger := NewApiaryLedger(b.Contributions)
			shares := make([]Weight, len(b.Contributions))
			for j, contrib := range b.Contributions {
				shares[j] = contrib.CollectedKg
			}
			deductions := Distribute(certifiedForBatch, shares)
			for j, contrib := range b.Contributions {
				if !deductions[j].IsPositive() {
					continue
				}
				if _, err := ledger.Deduct(contrib.ApiaryID, deductions[j]); err != nil {
					return &PersistenceError{BatchID: b.ID, Err: err}
				}
				if err := c.deductApiaryTotal(ctx, s, contrib.ApiaryID, deductions[j]); err != nil {
					return &PersistenceError{BatchID: b.ID, Err: err}
				}
			}
			b.Contributions = ledger.Contributions()
			b.RecordIDs = append(b.RecordIDs, record.ID)

			if err := s.UpdateBatch(ctx, b); err != nil {
				return &PersistenceError{BatchID: b.ID, Err: err}
			}
			updated = append(updated, b)
		}

		if err := s.SaveRecord(ctx, record); err != nil {
			return &PersistenceError{Err: err}
		}
		return nil
	}

	var err error
	if txStore, ok := c.Store.(TxStore); ok {
		err = txStore.WithTx(ctx, persist)
	} else {
		err = persist(c.Store)
	}
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// deductApiaryTotal mirrors a contribution deduction on the apiary's
// lifetime collected total. A deleted apiary is skipped.
func (c *CertificationCommitter) deductApiaryTotal(ctx context.Context, s Store, id ApiaryID, amount Weight) error {
	apiary, err := s.GetApiary(ctx, id)
	if err != nil {
		return err
	}
	if apiary == nil {
		return nil
	}
	apiary.CollectedKg = apiary.CollectedKg.Sub(amount).FloorZero()
	return s.UpdateApiary(ctx, *apiary)
}

// Preflight runs the session's validation without side effects: allocation
// bounds, token budget, assignment and document requirements. Used by the
// dashboard while the beekeeper is still composing the session.
type PreflightResult struct {
	PoolRemaining    Weight
	AllocatedWeight  Weight
	Unallocated      Weight
	IsFullyAllocated bool
	TokensRequired   int64
	TokenBalance     int64
	NeedsLabReport   bool
	NeedsProduction  bool
}

func (c *CertificationCommitter) Preflight(ctx context.Context, batchIDs []BatchID, jars []JarDefinition) (*PreflightResult, error) {
	_, pool, err := c.validateSelection(ctx, batchIDs)
	if err != nil {
		return nil, err
	}
	if err := ValidateAssigned(jars); err != nil {
		return nil, err
	}
	balance, err := c.Tokens.Balance(ctx)
	if err != nil {
		return nil, err
	}
	allocator := NewJarAllocator(pool, balance)
	if err := allocator.Load(jars); err != nil {
		return nil, err
	}
	return &PreflightResult{
		PoolRemaining:    pool,
		AllocatedWeight:  allocator.AllocatedWeight(),
		Unallocated:      allocator.Unallocated(),
		IsFullyAllocated: allocator.IsFullyAllocated(),
		TokensRequired:   allocator.TotalQuantity(),
		TokenBalance:     balance,
		NeedsLabReport:   NeedsLabReport(jars),
		NeedsProduction:  NeedsProductionReport(jars),
	}, nil
}
