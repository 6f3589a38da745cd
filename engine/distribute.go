/*
distribute.go - Proportional distribution of a pooled amount

PURPOSE:
  One pure function used everywhere a pooled weight has to be split back
  across its contributors: batches in a multi-batch session, and apiary
  contributions within one batch. The source system inlined this loop in
  three UI handlers; here it lives once and is property-tested.

PROPERTIES:
  - The returned amounts sum to the pool exactly (decimal division
    remainder is folded into the last non-zero share).
  - Each returned amount is >= 0.
  - A zero share weight receives a zero amount.
  - An all-zero share vector receives all-zero amounts.
*/
package engine

// Distribute splits pool across shares proportionally to their weight.
// The result has the same length and order as shares and sums to pool.
func Distribute(pool Weight, shares []Weight) []Weight {
	out := make([]Weight, len(shares))
	for i := range out {
		out[i] = ZeroWeight()
	}

	total := ZeroWeight()
	for _, s := range shares {
		total = total.Add(s.FloorZero())
	}
	if !total.IsPositive() || !pool.IsPositive() {
		return out
	}

	// Last positive share absorbs the division remainder so the sum is exact.
	last := -1
	for i, s := range shares {
		if s.IsPositive() {
			last = i
		}
	}

	allocated := ZeroWeight()
	for i, s := range shares {
		if !s.IsPositive() || i == last {
			continue
		}
		out[i] = pool.Mul(s.Kg).Div(total.Kg).FloorZero()
		allocated = allocated.Add(out[i])
	}
	if last >= 0 {
		out[last] = pool.Sub(allocated).FloorZero()
	}
	return out
}
