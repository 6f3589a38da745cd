package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// fakeTokenStore is a minimal CAS-versioned balance for ledger tests.
type fakeTokenStore struct {
	mu      sync.Mutex
	balance int64
	version int64

	// failStores makes the next n StoreTokens calls lose the CAS race.
	failStores int
}

func newFakeTokenStore(balance int64) *fakeTokenStore {
	return &fakeTokenStore{balance: balance, version: 1}
}

func (f *fakeTokenStore) LoadTokens(context.Context) (int64, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, f.version, nil
}

func (f *fakeTokenStore) StoreTokens(_ context.Context, balance int64, expectedVersion int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failStores > 0 {
		f.failStores--
		f.version++ // simulate another writer winning
		return ErrConcurrentModification
	}
	if f.version != expectedVersion {
		return ErrConcurrentModification
	}
	f.balance = balance
	f.version++
	return nil
}

func TestTokenDebitAndCredit(t *testing.T) {
	// GIVEN a ledger with 100 tokens
	ledger := NewTokenLedger(newFakeTokenStore(100))
	ctx := context.Background()

	// WHEN 40 are debited and 10 credited back
	if _, err := ledger.Debit(ctx, 40); err != nil {
		t.Fatal(err)
	}
	balance, err := ledger.Credit(ctx, 10, TokenAdd)
	if err != nil {
		t.Fatal(err)
	}

	// THEN the balance reconciles
	if balance != 70 {
		t.Errorf("balance: expected 70, got %d", balance)
	}
	debited, credited := ledger.Stats()
	if debited != 40 || credited != 10 {
		t.Errorf("stats: debited %d credited %d", debited, credited)
	}
}

func TestTokenDebitNeverGoesNegative(t *testing.T) {
	ledger := NewTokenLedger(newFakeTokenStore(5))
	ctx := context.Background()

	// WHEN a debit exceeds the balance
	_, err := ledger.Debit(ctx, 6)

	// THEN it fails and the balance is untouched
	if !errors.Is(err, ErrInsufficientTokens) {
		t.Fatalf("expected ErrInsufficientTokens, got %v", err)
	}
	balance, _ := ledger.Balance(ctx)
	if balance != 5 {
		t.Errorf("failed debit must not change balance, got %d", balance)
	}

	// AND an exact debit drains it to zero, not below
	if _, err := ledger.Debit(ctx, 5); err != nil {
		t.Fatal(err)
	}
	balance, _ = ledger.Balance(ctx)
	if balance != 0 {
		t.Errorf("expected zero balance, got %d", balance)
	}
}

func TestTokenRejectsNonPositiveAmounts(t *testing.T) {
	ledger := NewTokenLedger(newFakeTokenStore(10))
	ctx := context.Background()
	if _, err := ledger.Debit(ctx, 0); !errors.Is(err, ErrValidation) {
		t.Errorf("zero debit: %v", err)
	}
	if _, err := ledger.Credit(ctx, -1, TokenAdd); !errors.Is(err, ErrValidation) {
		t.Errorf("negative credit: %v", err)
	}
}

func TestTokenCASRetry(t *testing.T) {
	// GIVEN a store that loses the first two CAS races
	store := newFakeTokenStore(50)
	store.failStores = 2
	ledger := NewTokenLedger(store)

	// WHEN a debit runs
	balance, err := ledger.Debit(context.Background(), 10)

	// THEN the ledger retried until the write stuck
	if err != nil {
		t.Fatalf("debit should survive transient CAS conflicts: %v", err)
	}
	if balance != 40 {
		t.Errorf("balance: expected 40, got %d", balance)
	}
}

func TestTokenCASGivesUpEventually(t *testing.T) {
	// GIVEN a store that never stops conflicting
	store := newFakeTokenStore(50)
	store.failStores = 100
	ledger := NewTokenLedger(store)

	_, err := ledger.Debit(context.Background(), 10)
	if !errors.Is(err, ErrConcurrentModification) {
		t.Errorf("expected ErrConcurrentModification after retries, got %v", err)
	}
}

func TestTokenEvents(t *testing.T) {
	// GIVEN a subscriber
	ledger := NewTokenLedger(newFakeTokenStore(100))
	var events []TokenEvent
	ledger.Subscribe(func(e TokenEvent) { events = append(events, e) })
	ctx := context.Background()

	// WHEN a debit, a restore and a top-up happen
	ledger.Debit(ctx, 30)
	ledger.Credit(ctx, 30, TokenRestore)
	ledger.Credit(ctx, 5, TokenAdd)

	// THEN each mutation was broadcast with its action
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Action != TokenDeduct || events[0].NewBalance != 70 {
		t.Errorf("event 0: %+v", events[0])
	}
	if events[1].Action != TokenRestore || events[1].NewBalance != 100 {
		t.Errorf("event 1: %+v", events[1])
	}
	if events[2].Action != TokenAdd || events[2].NewBalance != 105 {
		t.Errorf("event 2: %+v", events[2])
	}
}
