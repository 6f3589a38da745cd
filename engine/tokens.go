/*
tokens.go - Access token ledger

PURPOSE:
  One token pays for one certified jar, regardless of jar size or type.
  The balance is a single process-wide integer that must never go negative
  and must never leak on a failed commit. All mutation goes through
  Debit/Credit so every observer sees a consistent value; direct balance
  writes are forbidden by construction (the store only exposes CAS).

WHY COMPARE-AND-SWAP?
  Two dashboard sessions racing to debit the same balance would otherwise
  lose updates. The store keeps a version next to the balance; a stale
  write fails with ErrConcurrentModification and the ledger retries the
  whole read-check-write cycle.

CHANGE NOTIFICATIONS:
  Every successful mutation emits TokenEvent{Action, Amount, NewBalance}
  to registered subscribers. This replaces the source's browser-storage
  event broadcast with an explicit server-side fanout.

SEE ALSO:
  - committer.go: debits once per session, credits back on failure
  - store.go: TokenStore CAS contract
*/
package engine

import (
	"context"
	"errors"
	"sync"
)

// =============================================================================
// TOKEN EVENTS
// =============================================================================

type TokenAction string

const (
	TokenDeduct  TokenAction = "deduct"  // session debit
	TokenRestore TokenAction = "restore" // compensating rollback credit
	TokenAdd     TokenAction = "add"     // legitimate top-up
)

// TokenEvent is broadcast after every balance mutation.
type TokenEvent struct {
	Action     TokenAction `json:"action"`
	Amount     int64       `json:"amount"`
	NewBalance int64       `json:"newBalance"`
}

// =============================================================================
// TOKEN LEDGER - Single logical writer over a CAS-versioned store
// =============================================================================

const casRetries = 5

type TokenLedger struct {
	store TokenStore

	mu   sync.Mutex // serializes in-process writers; CAS guards the rest
	subs []func(TokenEvent)

	// Session statistics, reset on process start.
	totalDebited  int64
	totalCredited int64
}

func NewTokenLedger(store TokenStore) *TokenLedger {
	return &TokenLedger{store: store}
}

// Subscribe registers a change listener. Listeners are invoked synchronously
// after the mutation is persisted; they must not block.
func (l *TokenLedger) Subscribe(fn func(TokenEvent)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subs = append(l.subs, fn)
}

// Balance returns the current persisted balance.
func (l *TokenLedger) Balance(ctx context.Context) (int64, error) {
	balance, _, err := l.store.LoadTokens(ctx)
	return balance, err
}

// Stats returns totals mutated through this ledger instance.
func (l *TokenLedger) Stats() (debited, credited int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalDebited, l.totalCredited
}

// Debit atomically decrements the balance by n. Fails with
// InsufficientTokensError if the balance cannot cover the debit; the
// balance never goes negative.
func (l *TokenLedger) Debit(ctx context.Context, n int64) (int64, error) {
	if n <= 0 {
		return 0, &ValidationError{Code: "invalid_token_amount", Message: "debit must be positive"}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	newBalance, err := l.mutate(ctx, func(balance int64) (int64, error) {
		if balance < n {
			return 0, &InsufficientTokensError{Balance: balance, Requested: n}
		}
		return balance - n, nil
	})
	if err != nil {
		return 0, err
	}

	l.totalDebited += n
	l.notify(TokenEvent{Action: TokenDeduct, Amount: n, NewBalance: newBalance})
	return newBalance, nil
}

// Credit atomically increments the balance by n. Action distinguishes a
// legitimate top-up (TokenAdd) from a compensating rollback (TokenRestore).
func (l *TokenLedger) Credit(ctx context.Context, n int64, action TokenAction) (int64, error) {
	if n <= 0 {
		return 0, &ValidationError{Code: "invalid_token_amount", Message: "credit must be positive"}
	}
	if action != TokenRestore {
		action = TokenAdd
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	newBalance, err := l.mutate(ctx, func(balance int64) (int64, error) {
		return balance + n, nil
	})
	if err != nil {
		return 0, err
	}

	l.totalCredited += n
	l.notify(TokenEvent{Action: action, Amount: n, NewBalance: newBalance})
	return newBalance, nil
}

// mutate runs one read-check-write cycle, retrying lost CAS races.
func (l *TokenLedger) mutate(ctx context.Context, apply func(int64) (int64, error)) (int64, error) {
	var lastErr error
	for attempt := 0; attempt < casRetries; attempt++ {
		balance, version, err := l.store.LoadTokens(ctx)
		if err != nil {
			return 0, err
		}

		next, err := apply(balance)
		if err != nil {
			return 0, err
		}

		err = l.store.StoreTokens(ctx, next, version)
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, ErrConcurrentModification) {
			return 0, err
		}
		lastErr = err
	}
	return 0, lastErr
}

func (l *TokenLedger) notify(e TokenEvent) {
	for _, fn := range l.subs {
		fn(e)
	}
}
