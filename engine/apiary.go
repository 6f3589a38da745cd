/*
apiary.go - Per-apiary collected-weight bookkeeping

PURPOSE:
  Tracks how much honey each apiary still has "uncertified" inside a batch
  and deducts certified weight proportionally. Pure mutation over in-memory
  contributions; persistence is the committer's job.

INVARIANT:
  ApiaryContribution.CollectedKg is monotonically non-increasing and never
  negative. A deduction that exceeds the available weight (beyond the 1 g
  overcommit epsilon) fails with OverdrawError and mutates nothing.

SEE ALSO:
  - committer.go: drives deductions during PersistEachBatch
  - distribute.go: computes the per-apiary amounts fed into Deduct
*/
package engine

// =============================================================================
// APIARY LEDGER - Proportional deduction over a batch's contributions
// =============================================================================

// ApiaryLedger wraps one batch's contributions for a certification session.
type ApiaryLedger struct {
	contributions map[ApiaryID]*ApiaryContribution
	order         []ApiaryID
}

// NewApiaryLedger indexes the given contributions. The slice elements are
// copied; read the mutated values back with Contributions().
func NewApiaryLedger(contributions []ApiaryContribution) *ApiaryLedger {
	l := &ApiaryLedger{contributions: make(map[ApiaryID]*ApiaryContribution, len(contributions))}
	for i := range contributions {
		c := contributions[i]
		l.contributions[c.ApiaryID] = &c
		l.order = append(l.order, c.ApiaryID)
	}
	return l
}

// Remaining returns the uncertified weight still attributed to an apiary.
func (l *ApiaryLedger) Remaining(id ApiaryID) (Weight, error) {
	c, ok := l.contributions[id]
	if !ok {
		return ZeroWeight(), ErrApiaryNotFound
	}
	return c.CollectedKg, nil
}

// Deduct removes certified weight from an apiary's contribution and returns
// the new remaining weight. Fails with OverdrawError if the amount exceeds
// what is available beyond the overcommit epsilon.
func (l *ApiaryLedger) Deduct(id ApiaryID, amount Weight) (Weight, error) {
	c, ok := l.contributions[id]
	if !ok {
		return ZeroWeight(), ErrApiaryNotFound
	}
	if amount.IsNegative() {
		return c.CollectedKg, &ValidationError{Code: "negative_deduction", Message: "deduction must be non-negative"}
	}
	if amount.GreaterThan(c.CollectedKg.Add(EpsilonOvercommit)) {
		return c.CollectedKg, &OverdrawError{
			ApiaryID:  id,
			BatchID:   c.BatchID,
			Available: c.CollectedKg,
			Requested: amount,
		}
	}
	c.CollectedKg = c.CollectedKg.Sub(amount).FloorZero()
	return c.CollectedKg, nil
}

// Contributions returns the contributions in their original order with any
// deductions applied.
func (l *ApiaryLedger) Contributions() []ApiaryContribution {
	out := make([]ApiaryContribution, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, *l.contributions[id])
	}
	return out
}
