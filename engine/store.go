/*
store.go - Persistence interfaces for the certification engine

PURPOSE:
  Defines the boundary between engine logic and the database. The engine
  never touches SQL; the committer drives these interfaces and the API
  layer wires in a concrete implementation.

KEY INTERFACES:
  ApiaryStore: apiary CRUD
  BatchStore:  batch CRUD with optimistic versioning on update
  RecordStore: certification record persistence and expiry sweep
  TokenStore:  the single named balance, CAS-versioned
  Store:       all of the above
  TxStore:     Store + WithTx for atomic multi-batch commits

OPTIMISTIC VERSIONING:
  UpdateBatch must compare the stored version with Batch.Version and fail
  with ErrConcurrentModification on mismatch, bumping the version on
  success. Last-writer-wins is not acceptable for overlapping sessions.

IMPLEMENTATIONS:
  - store/sqlite: production SQLite
  - engine/store: in-memory for tests and dev

SEE ALSO:
  - committer.go: the only writer of batches/records during a session
  - tokens.go: the only writer of the token balance
*/
package engine

import (
	"context"
	"time"
)

// =============================================================================
// APIARY STORE
// =============================================================================

type ApiaryStore interface {
	SaveApiary(ctx context.Context, a Apiary) error
	GetApiary(ctx context.Context, id ApiaryID) (*Apiary, error)
	ListApiaries(ctx context.Context) ([]Apiary, error)
	UpdateApiary(ctx context.Context, a Apiary) error
	DeleteApiary(ctx context.Context, id ApiaryID) error
}

// =============================================================================
// BATCH STORE
// =============================================================================

type BatchStore interface {
	SaveBatch(ctx context.Context, b Batch) error
	GetBatch(ctx context.Context, id BatchID) (*Batch, error)
	ListBatches(ctx context.Context) ([]Batch, error)

	// UpdateBatch persists weights, status, contributions and record links.
	// Fails with ErrConcurrentModification if the stored version differs
	// from b.Version; bumps the version on success.
	UpdateBatch(ctx context.Context, b Batch) error

	// DeleteBatch removes the batch, its contributions and its records.
	DeleteBatch(ctx context.Context, id BatchID) error
}

// =============================================================================
// RECORD STORE
// =============================================================================

type RecordStore interface {
	SaveRecord(ctx context.Context, r CertificationRecord) error
	GetRecordByCode(ctx context.Context, code string) (*CertificationRecord, error)
	ListRecords(ctx context.Context) ([]CertificationRecord, error)
	ListRecordsForBatch(ctx context.Context, id BatchID) ([]CertificationRecord, error)

	// ExpireRecords marks active records whose expiry is at or before asOf.
	// Returns how many records were flipped.
	ExpireRecords(ctx context.Context, asOf time.Time) (int, error)
}

// =============================================================================
// TOKEN STORE - One named integer, CAS on a version column
// =============================================================================

type TokenStore interface {
	// LoadTokens returns the balance and its current version.
	LoadTokens(ctx context.Context) (balance int64, version int64, err error)

	// StoreTokens writes the balance if the stored version still equals
	// expectedVersion, bumping it. Fails with ErrConcurrentModification
	// on a lost race.
	StoreTokens(ctx context.Context, balance int64, expectedVersion int64) error
}

// =============================================================================
// COMPOSITE STORES
// =============================================================================

type Store interface {
	ApiaryStore
	BatchStore
	RecordStore
	TokenStore
}

// TxStore adds transactional execution. The committer persists a whole
// session inside WithTx so a mid-loop failure rolls back every batch.
type TxStore interface {
	Store

	// WithTx executes fn against a transactional view. If fn returns an
	// error the writes are rolled back; otherwise they are committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
