/*
batch.go - Per-batch weight accounting and the status state machine

PURPOSE:
  Answers the three questions every certification session asks of a batch:
  how much is left, how much is left across a pooled selection, and what
  status the batch lands in after an update. Also computes the reporting
  breakdown (origin-only / quality-only / both / uncertified percentages).

CONSERVATION INVARIANT:
  OriginalKg = CertifiedKg + RemainingKg within 0.001 kg, before and after
  every committed session. ApplyCertification enforces it; CheckConservation
  exists so tests and the committer can assert it.

STATUS MACHINE:
  new -> partially_completed -> completed. Completed is terminal: once
  remaining hits zero the batch accepts no further certification.

SEE ALSO:
  - committer.go: calls ApplyCertification during PersistEachBatch
  - distribute.go: splits a pooled certified amount across batches
*/
package engine

import "github.com/shopspring/decimal"

// =============================================================================
// REMAINING / POOL ARITHMETIC
// =============================================================================

// Remaining returns the uncertified weight of a batch, floored at zero.
func Remaining(b Batch) Weight {
	return b.OriginalKg.Sub(b.CertifiedKg).FloorZero()
}

// PoolRemaining sums remaining weight over a multi-batch selection. Batches
// selected together form one fungible honey pool for allocation; the
// certified amount is distributed back proportionally afterwards.
func PoolRemaining(batches []Batch) Weight {
	total := ZeroWeight()
	for _, b := range batches {
		total = total.Add(Remaining(b))
	}
	return total
}

// NextStatus derives the post-session status from the batch weights.
func NextStatus(b Batch) BatchStatus {
	if Remaining(b).IsZero() {
		return StatusCompleted
	}
	if b.CertifiedKg.IsPositive() {
		return StatusPartiallyCompleted
	}
	return StatusNew
}

// =============================================================================
// CERTIFICATION APPLICATION
// =============================================================================

// ApplyCertification moves certified weight from remaining to cumulative
// certified, split per certification type, and recomputes status.
// Rejects amounts exceeding the batch's remaining weight beyond epsilon,
// and rejects any certification against a completed batch.
func ApplyCertification(b *Batch, byType map[CertificationType]Weight) error {
	if b.Status == StatusCompleted {
		return ErrBatchCompleted
	}

	total := ZeroWeight()
	for _, w := range byType {
		if w.IsNegative() {
			return &ValidationError{Code: "negative_certification", Message: "certified amount must be non-negative"}
		}
		total = total.Add(w)
	}
	if total.GreaterThan(Remaining(*b).Add(EpsilonOvercommit)) {
		return &OverdrawError{
			BatchID:   b.ID,
			Available: Remaining(*b),
			Requested: total,
		}
	}

	if b.CertifiedByType == nil {
		b.CertifiedByType = map[CertificationType]Weight{}
	}
	for ct, w := range byType {
		b.CertifiedByType[ct] = b.CertifiedByType[ct].Add(w)
	}
	b.CertifiedKg = b.CertifiedKg.Add(total)
	b.RemainingKg = b.OriginalKg.Sub(b.CertifiedKg).FloorZero()
	b.Status = NextStatus(*b)
	return nil
}

// CheckConservation verifies original = certified + remaining within epsilon.
func CheckConservation(b Batch) bool {
	return b.OriginalKg.WithinEpsilon(b.CertifiedKg.Add(b.RemainingKg), EpsilonOvercommit)
}

// =============================================================================
// REPORTING BREAKDOWN
// =============================================================================

// Breakdown is the per-batch certification split shown on the dashboard.
// The four buckets always sum to exactly 100; the rounding remainder is
// assigned to the uncertified bucket.
type Breakdown struct {
	OriginOnlyPercent  int64
	QualityOnlyPercent int64
	BothPercent        int64
	UncertifiedPercent int64
}

// BatchBreakdown computes the percentage split of a batch's original weight.
// A batch with zero original weight reports as fully uncertified.
func BatchBreakdown(b Batch) Breakdown {
	if !b.OriginalKg.IsPositive() {
		return Breakdown{UncertifiedPercent: 100}
	}

	hundred := decimal.NewFromInt(100)
	pct := func(ct CertificationType) int64 {
		w, ok := b.CertifiedByType[ct]
		if !ok {
			return 0
		}
		return w.Kg.Mul(hundred).Div(b.OriginalKg.Kg).Round(0).IntPart()
	}

	d := Breakdown{
		OriginOnlyPercent:  pct(CertOrigin),
		QualityOnlyPercent: pct(CertQuality),
		BothPercent:        pct(CertBoth),
	}
	d.UncertifiedPercent = 100 - d.OriginOnlyPercent - d.QualityOnlyPercent - d.BothPercent
	return d
}
