package engine

import "testing"

func sumWeights(ws []Weight) Weight {
	total := ZeroWeight()
	for _, w := range ws {
		total = total.Add(w)
	}
	return total
}

func TestDistributeExactSum(t *testing.T) {
	// GIVEN a pool that does not divide evenly across the shares
	pool := Kilograms(10)
	shares := []Weight{Kilograms(1), Kilograms(1), Kilograms(1)}

	// WHEN the pool is distributed
	out := Distribute(pool, shares)

	// THEN the amounts sum to the pool exactly, no rounding loss
	if !sumWeights(out).Equal(pool) {
		t.Errorf("distributed %s, expected exactly %s", sumWeights(out), pool)
	}
	for i, w := range out {
		if w.IsNegative() {
			t.Errorf("share %d is negative: %s", i, w)
		}
	}
}

func TestDistributeProportional(t *testing.T) {
	// GIVEN shares of 80 and 20
	out := Distribute(Kilograms(50), []Weight{Kilograms(80), Kilograms(20)})

	// THEN the split is 40 / 10
	if !out[0].Equal(Kilograms(40)) {
		t.Errorf("first share: expected 40kg, got %s", out[0])
	}
	if !out[1].Equal(Kilograms(10)) {
		t.Errorf("second share: expected 10kg, got %s", out[1])
	}
}

func TestDistributeZeroShareGetsNothing(t *testing.T) {
	out := Distribute(Kilograms(30), []Weight{Kilograms(60), ZeroWeight(), Kilograms(30)})
	if !out[1].IsZero() {
		t.Errorf("zero share must receive zero, got %s", out[1])
	}
	if !sumWeights(out).Equal(Kilograms(30)) {
		t.Errorf("sum: expected 30kg, got %s", sumWeights(out))
	}
}

func TestDistributeAllZeroShares(t *testing.T) {
	out := Distribute(Kilograms(10), []Weight{ZeroWeight(), ZeroWeight()})
	if !sumWeights(out).IsZero() {
		t.Errorf("all-zero shares must receive nothing, got %s", sumWeights(out))
	}
}

func TestDistributeEmptyPool(t *testing.T) {
	out := Distribute(ZeroWeight(), []Weight{Kilograms(5), Kilograms(5)})
	if !sumWeights(out).IsZero() {
		t.Errorf("empty pool must distribute nothing, got %s", sumWeights(out))
	}
}
