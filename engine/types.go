/*
Package engine provides the batch/jar/token accounting core.

PURPOSE:
  This package contains the types and algorithms that keep honey mass
  honest across repeated partial-certification sessions: per-batch weight
  bookkeeping, jar allocation against a weight budget, certification type
  assignment, the token ledger, and the commit/rollback saga that ties
  them together.

KEY CONCEPTS IN THIS FILE (types.go):
  - Weight: kilograms of honey, decimal-backed (never float64)
  - Batch: a grouping of harvested honey, certified incrementally
  - ApiaryContribution: how much of a batch each apiary supplied
  - JarDefinition: a production run of identical jars
  - CertificationType: origin / quality / both (uncertified is derived)

DESIGN PRINCIPLES:
  1. Conservation: original = certified + remaining for every batch
  2. Precision: decimal.Decimal arithmetic, explicit epsilon tolerances
  3. Type Safety: strong ID types prevent mixing batch/apiary/jar ids
  4. Auditability: every committed session emits a CertificationRecord

SEE ALSO:
  - batch.go: remaining/pool/status arithmetic
  - allocator.go: weight budget -> jar runs
  - committer.go: the one component with side effects
*/
package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// WEIGHT - Kilograms of honey
// =============================================================================

// Weight is a mass of honey in kilograms. All engine arithmetic happens in
// decimal kilograms; jar sizes enter as integer grams and are converted once.
type Weight struct {
	Kg decimal.Decimal
}

func Kilograms(v float64) Weight     { return Weight{Kg: decimal.NewFromFloat(v)} }
func KilogramsFromInt(v int64) Weight { return Weight{Kg: decimal.NewFromInt(v)} }

// JarWeight converts a jar run (size in grams x quantity) to kilograms.
func JarWeight(sizeGrams, quantity int64) Weight {
	grams := decimal.NewFromInt(sizeGrams).Mul(decimal.NewFromInt(quantity))
	return Weight{Kg: grams.Div(decimal.NewFromInt(1000))}
}

func MustParseWeight(s string) Weight {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Weight{Kg: decimal.Zero}
	}
	return Weight{Kg: d}
}

func ZeroWeight() Weight { return Weight{Kg: decimal.Zero} }

func (w Weight) Add(o Weight) Weight          { return Weight{Kg: w.Kg.Add(o.Kg)} }
func (w Weight) Sub(o Weight) Weight          { return Weight{Kg: w.Kg.Sub(o.Kg)} }
func (w Weight) Mul(s decimal.Decimal) Weight { return Weight{Kg: w.Kg.Mul(s)} }
func (w Weight) Div(s decimal.Decimal) Weight { return Weight{Kg: w.Kg.Div(s)} }
func (w Weight) Abs() Weight                  { return Weight{Kg: w.Kg.Abs()} }
func (w Weight) IsZero() bool                 { return w.Kg.IsZero() }
func (w Weight) IsNegative() bool             { return w.Kg.IsNegative() }
func (w Weight) IsPositive() bool             { return w.Kg.IsPositive() }
func (w Weight) LessThan(o Weight) bool       { return w.Kg.LessThan(o.Kg) }
func (w Weight) GreaterThan(o Weight) bool    { return w.Kg.GreaterThan(o.Kg) }
func (w Weight) Equal(o Weight) bool          { return w.Kg.Equal(o.Kg) }
func (w Weight) Float64() float64             { f, _ := w.Kg.Float64(); return f }
func (w Weight) String() string               { return w.Kg.String() + "kg" }

// FloorZero clamps negative drift to zero. Remaining weight is never negative.
func (w Weight) FloorZero() Weight {
	if w.IsNegative() {
		return ZeroWeight()
	}
	return w
}

// Epsilon tolerances. The per-add overcommit check is strict (1 g) so a
// session can never silently exceed its pool; the fully-allocated signal is
// coarser (10 g) so gram/pound round-trips don't make the UI flap.
var (
	EpsilonOvercommit     = MustParseWeight("0.001")
	EpsilonFullyAllocated = MustParseWeight("0.01")
)

// WithinEpsilon reports |w - o| < eps.
func (w Weight) WithinEpsilon(o, eps Weight) bool {
	return w.Sub(o).Abs().LessThan(eps)
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ApiaryID string
type BatchID string
type JarID string
type RecordID string

// =============================================================================
// CERTIFICATION TYPE - Tagged variant
// =============================================================================

// CertificationType is the certification assigned to a jar run. The zero
// value means unassigned, which blocks commit. "Uncertified" is a derived
// reporting bucket and is never assignable to a jar.
type CertificationType string

const (
	CertUnassigned CertificationType = ""
	CertOrigin     CertificationType = "origin"
	CertQuality    CertificationType = "quality"
	CertBoth       CertificationType = "both"
)

func (c CertificationType) Assigned() bool {
	return c == CertOrigin || c == CertQuality || c == CertBoth
}

// CoversOrigin reports whether this certification attests origin.
func (c CertificationType) CoversOrigin() bool { return c == CertOrigin || c == CertBoth }

// CoversQuality reports whether this certification attests quality.
func (c CertificationType) CoversQuality() bool { return c == CertQuality || c == CertBoth }

// =============================================================================
// APIARY - Registered bee yard
// =============================================================================

type Apiary struct {
	ID          ApiaryID
	Name        string
	Number      string
	HiveCount   int
	Latitude    float64
	Longitude   float64
	CollectedKg Weight // lifetime collected weight, deducted as honey is certified
	CreatedAt   time.Time
}

// ValidateCoordinates rejects out-of-range geocoordinates.
func ValidateCoordinates(lat, long float64) error {
	if lat < -90 || lat > 90 {
		return &ValidationError{Code: "invalid_coordinate", Message: "latitude out of range [-90, 90]"}
	}
	if long < -180 || long > 180 {
		return &ValidationError{Code: "invalid_coordinate", Message: "longitude out of range [-180, 180]"}
	}
	return nil
}

// =============================================================================
// BATCH - Incrementally certified honey grouping
// =============================================================================

type BatchStatus string

const (
	StatusNew                BatchStatus = "new"
	StatusPartiallyCompleted BatchStatus = "partially_completed"
	StatusCompleted          BatchStatus = "completed"
)

// ApiaryContribution links a batch to one supplying apiary.
// CollectedKg is mutable and only ever decreases; HiveCount is a snapshot
// taken at batch creation and never changes afterwards.
type ApiaryContribution struct {
	BatchID     BatchID
	ApiaryID    ApiaryID
	CollectedKg Weight
	HiveCount   int
}

type Batch struct {
	ID            BatchID
	Number        string
	OriginalKg    Weight
	CertifiedKg   Weight // cumulative across all sessions
	RemainingKg   Weight
	Status        BatchStatus
	Contributions []ApiaryContribution
	RecordIDs     []RecordID

	// Cumulative certified weight per assignable type, for the reporting
	// breakdown (origin-only / quality-only / both / uncertified).
	CertifiedByType map[CertificationType]Weight

	CreatedAt time.Time
	Version   int64 // optimistic concurrency token
}

// NewBatch creates a batch with its contributions fixed at creation time.
// OriginalKg is the sum of the contributions.
func NewBatch(id BatchID, number string, contributions []ApiaryContribution, now time.Time) Batch {
	total := ZeroWeight()
	for i := range contributions {
		contributions[i].BatchID = id
		total = total.Add(contributions[i].CollectedKg)
	}
	return Batch{
		ID:              id,
		Number:          number,
		OriginalKg:      total,
		CertifiedKg:     ZeroWeight(),
		RemainingKg:     total,
		Status:          StatusNew,
		Contributions:   contributions,
		CertifiedByType: map[CertificationType]Weight{},
		CreatedAt:       now,
		Version:         1,
	}
}

// =============================================================================
// JAR DEFINITION - A production run of identical jars
// =============================================================================

type JarDefinition struct {
	ID            JarID
	SizeGrams     int64
	Quantity      int64
	Certification CertificationType
}

// Weight returns the total honey mass of the run in kilograms.
func (j JarDefinition) Weight() Weight { return JarWeight(j.SizeGrams, j.Quantity) }

// TotalQuantity sums jar counts across runs. One token is consumed per jar.
func TotalQuantity(jars []JarDefinition) int64 {
	var n int64
	for _, j := range jars {
		n += j.Quantity
	}
	return n
}

// TotalWeight sums run weights across definitions.
func TotalWeight(jars []JarDefinition) Weight {
	total := ZeroWeight()
	for _, j := range jars {
		total = total.Add(j.Weight())
	}
	return total
}
