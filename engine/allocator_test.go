package engine

import (
	"errors"
	"testing"
)

func TestAllocatorAddAndRemove(t *testing.T) {
	// GIVEN a 100 kg pool and plenty of tokens
	a := NewJarAllocator(Kilograms(100), 1000)

	// WHEN two runs are added
	id1, err := a.AddJar(500, 100, CertOrigin) // 50 kg
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.AddJar(250, 80, CertQuality); err != nil { // 20 kg
		t.Fatal(err)
	}

	// THEN the totals follow
	if !a.AllocatedWeight().Equal(Kilograms(70)) {
		t.Errorf("allocated: expected 70kg, got %s", a.AllocatedWeight())
	}
	if a.TotalQuantity() != 180 {
		t.Errorf("quantity: expected 180, got %d", a.TotalQuantity())
	}
	if !a.Unallocated().Equal(Kilograms(30)) {
		t.Errorf("unallocated: expected 30kg, got %s", a.Unallocated())
	}

	// WHEN the first run is removed
	if !a.RemoveJar(id1) {
		t.Fatal("remove failed")
	}
	if !a.AllocatedWeight().Equal(Kilograms(20)) {
		t.Errorf("after remove: expected 20kg, got %s", a.AllocatedWeight())
	}
}

func TestAllocatorOverAllocation(t *testing.T) {
	// GIVEN a 10 kg pool
	a := NewJarAllocator(Kilograms(10), 1000)

	// WHEN a 10.5 kg run is requested
	_, err := a.AddJar(500, 21, CertOrigin)

	// THEN it is rejected and the working list is unchanged
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Code != "over_allocation" {
		t.Fatalf("expected over_allocation, got %v", err)
	}
	if len(a.Jars()) != 0 {
		t.Error("failed add must not grow the jar list")
	}

	// AND an exact fit is still accepted
	if _, err := a.AddJar(500, 20, CertOrigin); err != nil {
		t.Errorf("exact fit rejected: %v", err)
	}
}

func TestAllocatorTokenBudget(t *testing.T) {
	// GIVEN a large pool but only 50 tokens
	a := NewJarAllocator(Kilograms(1000), 50)

	// WHEN 51 jars are requested across two runs
	if _, err := a.AddJar(250, 30, CertOrigin); err != nil {
		t.Fatal(err)
	}
	_, err := a.AddJar(250, 21, CertOrigin)

	// THEN the run that crosses the balance is rejected
	var ite *InsufficientTokensError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InsufficientTokensError, got %v", err)
	}
	if ite.Balance != 50 || ite.Requested != 51 {
		t.Errorf("error detail: %+v", ite)
	}
}

func TestAllocatorRejectsInvalidRuns(t *testing.T) {
	a := NewJarAllocator(Kilograms(10), 100)
	if _, err := a.AddJar(0, 10, CertOrigin); err == nil {
		t.Error("zero size should be rejected")
	}
	if _, err := a.AddJar(500, 0, CertOrigin); err == nil {
		t.Error("zero quantity should be rejected")
	}
	if _, err := a.AddJar(500, -5, CertOrigin); err == nil {
		t.Error("negative quantity should be rejected")
	}
}

func TestAllocatorFullyAllocatedSignal(t *testing.T) {
	// GIVEN a 10.005 kg pool (5 g of residue)
	a := NewJarAllocator(MustParseWeight("10.005"), 100)
	if _, err := a.AddJar(500, 20, CertOrigin); err != nil { // 10 kg
		t.Fatal(err)
	}

	// THEN the coarse signal reports fully allocated despite the residue
	if !a.IsFullyAllocated() {
		t.Error("5g residue should still count as fully allocated")
	}

	// GIVEN a pool with 20 g of residue instead
	b := NewJarAllocator(MustParseWeight("10.02"), 100)
	if _, err := b.AddJar(500, 20, CertOrigin); err != nil {
		t.Fatal(err)
	}
	if b.IsFullyAllocated() {
		t.Error("20g residue should not count as fully allocated")
	}
}

func TestAllocatorLoadReplaysChecks(t *testing.T) {
	// GIVEN a submitted jar list exceeding the pool
	a := NewJarAllocator(Kilograms(5), 1000)
	err := a.Load([]JarDefinition{
		{SizeGrams: 500, Quantity: 8, Certification: CertOrigin},  // 4 kg
		{SizeGrams: 500, Quantity: 8, Certification: CertQuality}, // 4 kg more
	})

	// THEN the replay fails on the second run
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Code != "over_allocation" {
		t.Fatalf("expected over_allocation, got %v", err)
	}
}
