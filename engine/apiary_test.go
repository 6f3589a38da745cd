package engine

import (
	"errors"
	"testing"
)

func TestApiaryLedgerDeduct(t *testing.T) {
	// GIVEN a ledger over two contributions
	ledger := NewApiaryLedger([]ApiaryContribution{
		{BatchID: "b1", ApiaryID: "a1", CollectedKg: Kilograms(80), HiveCount: 24},
		{BatchID: "b1", ApiaryID: "a2", CollectedKg: Kilograms(45), HiveCount: 16},
	})

	// WHEN 30 kg is deducted from the first apiary
	remaining, err := ledger.Deduct("a1", Kilograms(30))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// THEN its remaining drops and the other is untouched
	if !remaining.Equal(Kilograms(50)) {
		t.Errorf("remaining: expected 50kg, got %s", remaining)
	}
	other, _ := ledger.Remaining("a2")
	if !other.Equal(Kilograms(45)) {
		t.Errorf("untouched apiary changed: %s", other)
	}
}

func TestApiaryLedgerOverdraw(t *testing.T) {
	ledger := NewApiaryLedger([]ApiaryContribution{
		{BatchID: "b1", ApiaryID: "a1", CollectedKg: Kilograms(10)},
	})

	// WHEN more than available (beyond epsilon) is deducted
	_, err := ledger.Deduct("a1", MustParseWeight("10.002"))

	// THEN the deduction fails and nothing changed
	if !errors.Is(err, ErrOverdraw) {
		t.Fatalf("expected ErrOverdraw, got %v", err)
	}
	var overdraw *OverdrawError
	if !errors.As(err, &overdraw) || overdraw.ApiaryID != "a1" {
		t.Errorf("overdraw should carry the apiary id: %v", err)
	}
	remaining, _ := ledger.Remaining("a1")
	if !remaining.Equal(Kilograms(10)) {
		t.Errorf("failed deduction must not mutate: %s", remaining)
	}
}

func TestApiaryLedgerFloorsAtZero(t *testing.T) {
	ledger := NewApiaryLedger([]ApiaryContribution{
		{BatchID: "b1", ApiaryID: "a1", CollectedKg: Kilograms(10)},
	})

	// Epsilon overshoot is tolerated but the result floors at zero.
	remaining, err := ledger.Deduct("a1", MustParseWeight("10.0005"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !remaining.IsZero() {
		t.Errorf("remaining should floor at zero, got %s", remaining)
	}
}

func TestApiaryLedgerUnknownApiary(t *testing.T) {
	ledger := NewApiaryLedger(nil)
	if _, err := ledger.Deduct("ghost", Kilograms(1)); !errors.Is(err, ErrApiaryNotFound) {
		t.Errorf("expected ErrApiaryNotFound, got %v", err)
	}
}

func TestApiaryLedgerPreservesOrder(t *testing.T) {
	ledger := NewApiaryLedger([]ApiaryContribution{
		{ApiaryID: "z"}, {ApiaryID: "a"}, {ApiaryID: "m"},
	})
	out := ledger.Contributions()
	if out[0].ApiaryID != "z" || out[1].ApiaryID != "a" || out[2].ApiaryID != "m" {
		t.Errorf("contribution order not preserved: %+v", out)
	}
}
