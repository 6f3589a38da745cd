/*
allocator.go - Weight budget -> discrete jar runs

PURPOSE:
  Maintains the working jar list for one uncommitted certification session
  and guards the two bounds that matter: never allocate more honey than the
  selected pool has remaining, and never define more jars than the token
  balance can pay for.

BOUNDS:
  Over-allocation: allocatedWeight + newRun > poolRemaining + 1 g  -> reject
  Token budget:    totalQuantity + newQuantity > tokenBalance      -> reject
                   (optimistic; the committer re-validates at commit)

FULLY-ALLOCATED SIGNAL:
  |poolRemaining - allocatedWeight| < 10 g. Deliberately coarser than the
  per-add check: the strict bound prevents silent overcommit, the coarse
  one keeps the UI signal stable across gram/pound unit round-trips.

SEE ALSO:
  - committer.go: replays a submitted jar list through the same checks
*/
package engine

import "fmt"

// =============================================================================
// JAR ALLOCATOR - Session working list with bound checking
// =============================================================================

type JarAllocator struct {
	poolRemaining Weight
	tokenBalance  int64
	jars          []JarDefinition
	nextID        int
}

// NewJarAllocator starts an empty session against the given pool and an
// optimistic snapshot of the token balance.
func NewJarAllocator(poolRemaining Weight, tokenBalance int64) *JarAllocator {
	return &JarAllocator{poolRemaining: poolRemaining, tokenBalance: tokenBalance}
}

// AddJar appends a run of identical jars after bound checks.
func (a *JarAllocator) AddJar(sizeGrams, quantity int64, cert CertificationType) (JarID, error) {
	if sizeGrams <= 0 {
		return "", &ValidationError{Code: "invalid_jar_size", Message: "jar size must be positive grams"}
	}
	if quantity <= 0 {
		return "", &ValidationError{Code: "invalid_jar_quantity", Message: "jar quantity must be a positive integer"}
	}

	runWeight := JarWeight(sizeGrams, quantity)
	if a.AllocatedWeight().Add(runWeight).GreaterThan(a.poolRemaining.Add(EpsilonOvercommit)) {
		return "", &ValidationError{
			Code: "over_allocation",
			Message: fmt.Sprintf("allocating %s exceeds remaining pool %s",
				runWeight, a.poolRemaining.Sub(a.AllocatedWeight())),
		}
	}
	if a.TotalQuantity()+quantity > a.tokenBalance {
		return "", &InsufficientTokensError{
			Balance:   a.tokenBalance,
			Requested: a.TotalQuantity() + quantity,
		}
	}

	a.nextID++
	jar := JarDefinition{
		ID:            JarID(fmt.Sprintf("jar-%d", a.nextID)),
		SizeGrams:     sizeGrams,
		Quantity:      quantity,
		Certification: cert,
	}
	a.jars = append(a.jars, jar)
	return jar.ID, nil
}

// RemoveJar drops a run from the working list.
func (a *JarAllocator) RemoveJar(id JarID) bool {
	for i, j := range a.jars {
		if j.ID == id {
			a.jars = append(a.jars[:i], a.jars[i+1:]...)
			return true
		}
	}
	return false
}

// Load replays a submitted jar list through the same per-add checks.
// Used by the committer to validate a session built client-side.
func (a *JarAllocator) Load(jars []JarDefinition) error {
	for _, j := range jars {
		if _, err := a.AddJar(j.SizeGrams, j.Quantity, j.Certification); err != nil {
			return err
		}
	}
	return nil
}

// AllocatedWeight sums the working list's honey mass.
func (a *JarAllocator) AllocatedWeight() Weight {
	return TotalWeight(a.jars)
}

// TotalQuantity sums the working list's jar count (= tokens to debit).
func (a *JarAllocator) TotalQuantity() int64 {
	return TotalQuantity(a.jars)
}

// PoolRemaining returns the session's weight budget.
func (a *JarAllocator) PoolRemaining() Weight {
	return a.poolRemaining
}

// Unallocated returns the budget not yet covered by jar runs.
func (a *JarAllocator) Unallocated() Weight {
	return a.poolRemaining.Sub(a.AllocatedWeight()).FloorZero()
}

// IsFullyAllocated reports whether the session covers the pool within the
// coarse 10 g tolerance.
func (a *JarAllocator) IsFullyAllocated() bool {
	return a.poolRemaining.WithinEpsilon(a.AllocatedWeight(), EpsilonFullyAllocated)
}

// Jars returns a copy of the working list.
func (a *JarAllocator) Jars() []JarDefinition {
	out := make([]JarDefinition, len(a.jars))
	copy(out, a.jars)
	return out
}
