/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements engine.Store and engine.TxStore using SQLite. In production,
  the same patterns apply to PostgreSQL - only minor SQL dialect
  differences.

KEY TABLES:
  apiaries:              Registered bee yards with lifetime collected weight
  batches:               Per-batch weights, status and optimistic version
  batch_contributions:   (batch, apiary) pairs with mutable collected weight
                         and the immutable hive-count snapshot
  certification_records: Immutable audit records with verification codes
  record_batches:        Record-to-batch links (batch RecordIDs are derived)
  tokens:                One named integer balance with a CAS version column

CONCURRENCY:
  Uses sync.RWMutex for thread-safety, plus:
  - batches.version: optimistic check on every UpdateBatch
  - tokens.version:  compare-and-swap on every balance write
  Lost races surface as engine.ErrConcurrentModification.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

TRANSACTIONS:
  WithTx runs a whole certification session's writes in one SQL
  transaction, so a mid-loop batch failure rolls everything back.

USAGE:
  store, err := sqlite.New("./data/certify.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - engine/store.go: Interface definitions
  - engine/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hivemark/certification-engine/engine"
)

const tokenWallet = "certification"

// Store implements engine.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Reset wipes all rows and zeroes the token balance. Scenario loading only.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, stmt := range []string{
		`DELETE FROM apiaries`,
		`DELETE FROM batches`,
		`DELETE FROM batch_contributions`,
		`DELETE FROM certification_records`,
		`DELETE FROM record_batches`,
		`UPDATE tokens SET balance = 0, version = version + 1`,
	} {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to reset: %w", err)
		}
	}
	return nil
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Apiaries (bee yards)
	CREATE TABLE IF NOT EXISTS apiaries (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		number TEXT,
		hive_count INTEGER NOT NULL,
		latitude REAL NOT NULL,
		longitude REAL NOT NULL,
		collected_kg TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Batches (incrementally certified honey groupings)
	CREATE TABLE IF NOT EXISTS batches (
		id TEXT PRIMARY KEY,
		batch_number TEXT NOT NULL,
		original_kg TEXT NOT NULL,
		certified_kg TEXT NOT NULL,
		remaining_kg TEXT NOT NULL,
		status TEXT NOT NULL,
		certified_by_type_json TEXT NOT NULL DEFAULT '{}',
		created_at TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1
	);

	CREATE INDEX IF NOT EXISTS idx_batches_status ON batches(status);

	-- Contributions (fixed at batch creation; collected_kg only decreases)
	CREATE TABLE IF NOT EXISTS batch_contributions (
		batch_id TEXT NOT NULL,
		apiary_id TEXT NOT NULL,
		collected_kg TEXT NOT NULL,
		hive_count INTEGER NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (batch_id, apiary_id)
	);

	CREATE INDEX IF NOT EXISTS idx_contributions_batch
		ON batch_contributions(batch_id);

	-- Certification records (append-only audit trail)
	CREATE TABLE IF NOT EXISTS certification_records (
		id TEXT PRIMARY KEY,
		total_certified_kg TEXT NOT NULL,
		jar_counts_json TEXT NOT NULL,
		certified_at TEXT NOT NULL,
		expires_at TEXT NOT NULL,
		verification_code TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL DEFAULT 'active'
	);

	CREATE INDEX IF NOT EXISTS idx_records_status_expiry
		ON certification_records(status, expires_at);

	-- Record-to-batch links (a pooled session touches several batches)
	CREATE TABLE IF NOT EXISTS record_batches (
		record_id TEXT NOT NULL,
		batch_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (record_id, batch_id)
	);

	CREATE INDEX IF NOT EXISTS idx_record_batches_batch
		ON record_batches(batch_id);

	-- Token wallet: one named integer, CAS on version
	CREATE TABLE IF NOT EXISTS tokens (
		name TEXT PRIMARY KEY,
		balance INTEGER NOT NULL,
		version INTEGER NOT NULL
	);

	INSERT OR IGNORE INTO tokens (name, balance, version)
		VALUES ('` + tokenWallet + `', 0, 1);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx abstracts *sql.DB and *sql.Tx so the same queries run in either
// context.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// =============================================================================
// APIARY STORE
// =============================================================================

func (s *Store) SaveApiary(ctx context.Context, a engine.Apiary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveApiary(ctx, s.db, a)
}

func saveApiary(ctx context.Context, db dbtx, a engine.Apiary) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO apiaries (id, name, number, hive_count, latitude, longitude, collected_kg, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Name, nullString(a.Number), a.HiveCount, a.Latitude, a.Longitude,
		a.CollectedKg.Kg.String(), a.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save apiary: %w", err)
	}
	return nil
}

func (s *Store) GetApiary(ctx context.Context, id engine.ApiaryID) (*engine.Apiary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getApiary(ctx, s.db, id)
}

func getApiary(ctx context.Context, db dbtx, id engine.ApiaryID) (*engine.Apiary, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, name, COALESCE(number, ''), hive_count, latitude, longitude, collected_kg, created_at
		FROM apiaries WHERE id = ?`, id)
	a, err := scanApiary(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get apiary: %w", err)
	}
	return a, nil
}

func (s *Store) ListApiaries(ctx context.Context) ([]engine.Apiary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, COALESCE(number, ''), hive_count, latitude, longitude, collected_kg, created_at
		FROM apiaries ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list apiaries: %w", err)
	}
	defer rows.Close()

	var out []engine.Apiary
	for rows.Next() {
		a, err := scanApiary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *Store) UpdateApiary(ctx context.Context, a engine.Apiary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateApiary(ctx, s.db, a)
}

func updateApiary(ctx context.Context, db dbtx, a engine.Apiary) error {
	res, err := db.ExecContext(ctx, `
		UPDATE apiaries SET name = ?, number = ?, hive_count = ?, latitude = ?, longitude = ?, collected_kg = ?
		WHERE id = ?`,
		a.Name, nullString(a.Number), a.HiveCount, a.Latitude, a.Longitude,
		a.CollectedKg.Kg.String(), a.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update apiary: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return engine.ErrApiaryNotFound
	}
	return nil
}

func (s *Store) DeleteApiary(ctx context.Context, id engine.ApiaryID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM apiaries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete apiary: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return engine.ErrApiaryNotFound
	}
	return nil
}

func scanApiary(r rowScanner) (*engine.Apiary, error) {
	var a engine.Apiary
	var collected, createdAt string
	if err := r.Scan(&a.ID, &a.Name, &a.Number, &a.HiveCount, &a.Latitude, &a.Longitude, &collected, &createdAt); err != nil {
		return nil, err
	}
	a.CollectedKg = engine.MustParseWeight(collected)
	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &a, nil
}

// =============================================================================
// BATCH STORE
// =============================================================================

func (s *Store) SaveBatch(ctx context.Context, b engine.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveBatch(ctx, s.db, b)
}

func saveBatch(ctx context.Context, db dbtx, b engine.Batch) error {
	if b.Version == 0 {
		b.Version = 1
	}
	byTypeJSON, _ := json.Marshal(weightMapToStrings(b.CertifiedByType))

	_, err := db.ExecContext(ctx, `
		INSERT INTO batches (id, batch_number, original_kg, certified_kg, remaining_kg, status, certified_by_type_json, created_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.Number, b.OriginalKg.Kg.String(), b.CertifiedKg.Kg.String(),
		b.RemainingKg.Kg.String(), b.Status, string(byTypeJSON),
		b.CreatedAt.UTC().Format(time.RFC3339), b.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to save batch: %w", err)
	}

	for i, c := range b.Contributions {
		_, err := db.ExecContext(ctx, `
			INSERT INTO batch_contributions (batch_id, apiary_id, collected_kg, hive_count, position)
			VALUES (?, ?, ?, ?, ?)`,
			b.ID, c.ApiaryID, c.CollectedKg.Kg.String(), c.HiveCount, i,
		)
		if err != nil {
			return fmt.Errorf("failed to save contribution: %w", err)
		}
	}
	return nil
}

func (s *Store) GetBatch(ctx context.Context, id engine.BatchID) (*engine.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getBatch(ctx, s.db, id)
}

func getBatch(ctx context.Context, db dbtx, id engine.BatchID) (*engine.Batch, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, batch_number, original_kg, certified_kg, remaining_kg, status, certified_by_type_json, created_at, version
		FROM batches WHERE id = ?`, id)
	b, err := scanBatch(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	if err := loadBatchRelations(ctx, db, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Store) ListBatches(ctx context.Context) ([]engine.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, batch_number, original_kg, certified_kg, remaining_kg, status, certified_by_type_json, created_at, version
		FROM batches ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	defer rows.Close()

	var out []engine.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for i := range out {
		if err := loadBatchRelations(ctx, s.db, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) UpdateBatch(ctx context.Context, b engine.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateBatch(ctx, s.db, b)
}

// updateBatch persists weights, status and contributions with an optimistic
// version check. Record links are derived from record_batches, not written
// here.
func updateBatch(ctx context.Context, db dbtx, b engine.Batch) error {
	byTypeJSON, _ := json.Marshal(weightMapToStrings(b.CertifiedByType))

	res, err := db.ExecContext(ctx, `
		UPDATE batches
		SET certified_kg = ?, remaining_kg = ?, status = ?, certified_by_type_json = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		b.CertifiedKg.Kg.String(), b.RemainingKg.Kg.String(), b.Status,
		string(byTypeJSON), b.ID, b.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update batch: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		// Missing row and stale version are both zero-row updates.
		var exists int
		if err := db.QueryRowContext(ctx, `SELECT COUNT(1) FROM batches WHERE id = ?`, b.ID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to update batch: %w", err)
		}
		if exists == 0 {
			return engine.ErrBatchNotFound
		}
		return engine.ErrConcurrentModification
	}

	for _, c := range b.Contributions {
		_, err := db.ExecContext(ctx, `
			UPDATE batch_contributions SET collected_kg = ?
			WHERE batch_id = ? AND apiary_id = ?`,
			c.CollectedKg.Kg.String(), b.ID, c.ApiaryID,
		)
		if err != nil {
			return fmt.Errorf("failed to update contribution: %w", err)
		}
	}
	return nil
}

func (s *Store) DeleteBatch(ctx context.Context, id engine.BatchID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM batches WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete batch: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return engine.ErrBatchNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM batch_contributions WHERE batch_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete contributions: %w", err)
	}
	// Records referencing this batch go with it, links first.
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM certification_records WHERE id IN
			(SELECT record_id FROM record_batches WHERE batch_id = ?)`, id); err != nil {
		return fmt.Errorf("failed to delete records: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM record_batches WHERE record_id IN
			(SELECT record_id FROM record_batches WHERE batch_id = ?)`, id); err != nil {
		return fmt.Errorf("failed to delete record links: %w", err)
	}

	return tx.Commit()
}

func scanBatch(r rowScanner) (*engine.Batch, error) {
	var b engine.Batch
	var original, certified, remaining, byTypeJSON, createdAt string
	if err := r.Scan(&b.ID, &b.Number, &original, &certified, &remaining, &b.Status, &byTypeJSON, &createdAt, &b.Version); err != nil {
		return nil, err
	}
	b.OriginalKg = engine.MustParseWeight(original)
	b.CertifiedKg = engine.MustParseWeight(certified)
	b.RemainingKg = engine.MustParseWeight(remaining)
	b.CertifiedByType = weightMapFromStrings(byTypeJSON)
	b.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &b, nil
}

func loadBatchRelations(ctx context.Context, db dbtx, b *engine.Batch) error {
	rows, err := db.QueryContext(ctx, `
		SELECT apiary_id, collected_kg, hive_count
		FROM batch_contributions WHERE batch_id = ? ORDER BY position ASC`, b.ID)
	if err != nil {
		return fmt.Errorf("failed to load contributions: %w", err)
	}
	defer rows.Close()

	b.Contributions = nil
	for rows.Next() {
		var c engine.ApiaryContribution
		var collected string
		if err := rows.Scan(&c.ApiaryID, &collected, &c.HiveCount); err != nil {
			return err
		}
		c.BatchID = b.ID
		c.CollectedKg = engine.MustParseWeight(collected)
		b.Contributions = append(b.Contributions, c)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	linkRows, err := db.QueryContext(ctx, `
		SELECT rb.record_id FROM record_batches rb
		JOIN certification_records cr ON cr.id = rb.record_id
		WHERE rb.batch_id = ? ORDER BY cr.certified_at ASC, rb.record_id ASC`, b.ID)
	if err != nil {
		return fmt.Errorf("failed to load record links: %w", err)
	}
	defer linkRows.Close()

	b.RecordIDs = nil
	for linkRows.Next() {
		var id engine.RecordID
		if err := linkRows.Scan(&id); err != nil {
			return err
		}
		b.RecordIDs = append(b.RecordIDs, id)
	}
	return linkRows.Err()
}

// =============================================================================
// RECORD STORE
// =============================================================================

func (s *Store) SaveRecord(ctx context.Context, r engine.CertificationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveRecord(ctx, s.db, r)
}

func saveRecord(ctx context.Context, db dbtx, r engine.CertificationRecord) error {
	counts := make(map[string]int64, len(r.JarCounts))
	for ct, n := range r.JarCounts {
		counts[string(ct)] = n
	}
	countsJSON, _ := json.Marshal(counts)

	_, err := db.ExecContext(ctx, `
		INSERT INTO certification_records (id, total_certified_kg, jar_counts_json, certified_at, expires_at, verification_code, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.TotalCertifiedKg.Kg.String(), string(countsJSON),
		r.CertifiedAt.UTC().Format(time.RFC3339Nano), r.ExpiresAt.UTC().Format(time.RFC3339),
		r.VerificationCode, r.Status,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("duplicate verification code: %w", err)
		}
		return fmt.Errorf("failed to save record: %w", err)
	}

	for i, bid := range r.BatchIDs {
		if _, err := db.ExecContext(ctx, `
			INSERT INTO record_batches (record_id, batch_id, position) VALUES (?, ?, ?)`,
			r.ID, bid, i); err != nil {
			return fmt.Errorf("failed to save record link: %w", err)
		}
	}
	return nil
}

func (s *Store) GetRecordByCode(ctx context.Context, code string) (*engine.CertificationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, total_certified_kg, jar_counts_json, certified_at, expires_at, verification_code, status
		FROM certification_records WHERE verification_code = ?`, code)
	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	if err := loadRecordBatches(ctx, s.db, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Store) ListRecords(ctx context.Context) ([]engine.CertificationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryRecords(ctx, `
		SELECT id, total_certified_kg, jar_counts_json, certified_at, expires_at, verification_code, status
		FROM certification_records ORDER BY certified_at ASC, id ASC`)
}

func (s *Store) ListRecordsForBatch(ctx context.Context, id engine.BatchID) ([]engine.CertificationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryRecords(ctx, `
		SELECT cr.id, cr.total_certified_kg, cr.jar_counts_json, cr.certified_at, cr.expires_at, cr.verification_code, cr.status
		FROM certification_records cr
		JOIN record_batches rb ON rb.record_id = cr.id
		WHERE rb.batch_id = ? ORDER BY cr.certified_at ASC, cr.id ASC`, id)
}

func (s *Store) ExpireRecords(ctx context.Context, asOf time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE certification_records SET status = ? WHERE status = ? AND expires_at <= ?`,
		engine.RecordExpired, engine.RecordActive, asOf.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to expire records: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]engine.CertificationRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var out []engine.CertificationRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for i := range out {
		if err := loadRecordBatches(ctx, s.db, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func loadRecordBatches(ctx context.Context, db dbtx, r *engine.CertificationRecord) error {
	rows, err := db.QueryContext(ctx, `
		SELECT batch_id FROM record_batches WHERE record_id = ? ORDER BY position ASC`, r.ID)
	if err != nil {
		return fmt.Errorf("failed to load record batches: %w", err)
	}
	defer rows.Close()

	r.BatchIDs = nil
	for rows.Next() {
		var id engine.BatchID
		if err := rows.Scan(&id); err != nil {
			return err
		}
		r.BatchIDs = append(r.BatchIDs, id)
	}
	return rows.Err()
}

func scanRecord(r rowScanner) (*engine.CertificationRecord, error) {
	var rec engine.CertificationRecord
	var total, countsJSON, certifiedAt, expiresAt string
	if err := r.Scan(&rec.ID, &total, &countsJSON, &certifiedAt, &expiresAt, &rec.VerificationCode, &rec.Status); err != nil {
		return nil, err
	}
	rec.TotalCertifiedKg = engine.MustParseWeight(total)
	counts := map[string]int64{}
	if err := json.Unmarshal([]byte(countsJSON), &counts); err != nil {
		return nil, fmt.Errorf("failed to decode jar counts: %w", err)
	}
	rec.JarCounts = make(map[engine.CertificationType]int64, len(counts))
	for k, v := range counts {
		rec.JarCounts[engine.CertificationType(k)] = v
	}
	rec.CertifiedAt, _ = time.Parse(time.RFC3339Nano, certifiedAt)
	rec.ExpiresAt, _ = time.Parse(time.RFC3339, expiresAt)
	return &rec, nil
}

// =============================================================================
// TOKEN STORE - CAS on the version column
// =============================================================================

func (s *Store) LoadTokens(ctx context.Context) (int64, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var balance, version int64
	err := s.db.QueryRowContext(ctx, `SELECT balance, version FROM tokens WHERE name = ?`, tokenWallet).
		Scan(&balance, &version)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to load token balance: %w", err)
	}
	return balance, version, nil
}

func (s *Store) StoreTokens(ctx context.Context, balance int64, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE tokens SET balance = ?, version = version + 1
		WHERE name = ? AND version = ?`,
		balance, tokenWallet, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to store token balance: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return engine.ErrConcurrentModification
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx executes fn within one SQL transaction. The view passed to fn
// holds the outer lock for the duration, so a whole certification session
// serializes against other writers.
func (s *Store) WithTx(ctx context.Context, fn func(engine.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&txView{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// txView exposes engine.Store over an open transaction. Only the operations
// a commit session performs are supported; everything else reports an error
// rather than silently escaping the transaction.
type txView struct {
	tx *sql.Tx
}

func (v *txView) SaveApiary(ctx context.Context, a engine.Apiary) error {
	return saveApiary(ctx, v.tx, a)
}

func (v *txView) GetApiary(ctx context.Context, id engine.ApiaryID) (*engine.Apiary, error) {
	return getApiary(ctx, v.tx, id)
}

func (v *txView) UpdateApiary(ctx context.Context, a engine.Apiary) error {
	return updateApiary(ctx, v.tx, a)
}

func (v *txView) ListApiaries(ctx context.Context) ([]engine.Apiary, error) {
	return nil, errTxUnsupported("list apiaries")
}

func (v *txView) DeleteApiary(ctx context.Context, id engine.ApiaryID) error {
	return errTxUnsupported("delete apiary")
}

func (v *txView) SaveBatch(ctx context.Context, b engine.Batch) error {
	return saveBatch(ctx, v.tx, b)
}

func (v *txView) GetBatch(ctx context.Context, id engine.BatchID) (*engine.Batch, error) {
	return getBatch(ctx, v.tx, id)
}

func (v *txView) UpdateBatch(ctx context.Context, b engine.Batch) error {
	return updateBatch(ctx, v.tx, b)
}

func (v *txView) ListBatches(ctx context.Context) ([]engine.Batch, error) {
	return nil, errTxUnsupported("list batches")
}

func (v *txView) DeleteBatch(ctx context.Context, id engine.BatchID) error {
	return errTxUnsupported("delete batch")
}

func (v *txView) SaveRecord(ctx context.Context, r engine.CertificationRecord) error {
	return saveRecord(ctx, v.tx, r)
}

func (v *txView) GetRecordByCode(ctx context.Context, code string) (*engine.CertificationRecord, error) {
	return nil, errTxUnsupported("record lookup")
}

func (v *txView) ListRecords(ctx context.Context) ([]engine.CertificationRecord, error) {
	return nil, errTxUnsupported("list records")
}

func (v *txView) ListRecordsForBatch(ctx context.Context, id engine.BatchID) ([]engine.CertificationRecord, error) {
	return nil, errTxUnsupported("list records")
}

func (v *txView) ExpireRecords(ctx context.Context, asOf time.Time) (int, error) {
	return 0, errTxUnsupported("expiry sweep")
}

// Token mutations stay outside the session transaction: the debit happens
// before batch persistence and is compensated with a credit, never rolled
// back.
func (v *txView) LoadTokens(ctx context.Context) (int64, int64, error) {
	return 0, 0, errTxUnsupported("token access")
}

func (v *txView) StoreTokens(ctx context.Context, balance int64, expectedVersion int64) error {
	return errTxUnsupported("token access")
}

func errTxUnsupported(op string) error {
	return fmt.Errorf("%s is not supported inside a transaction", op)
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func weightMapToStrings(m map[engine.CertificationType]engine.Weight) map[string]string {
	out := make(map[string]string, len(m))
	for ct, w := range m {
		out[string(ct)] = w.Kg.String()
	}
	return out
}

func weightMapFromStrings(raw string) map[engine.CertificationType]engine.Weight {
	parsed := map[string]string{}
	json.Unmarshal([]byte(raw), &parsed)
	out := make(map[engine.CertificationType]engine.Weight, len(parsed))
	for k, v := range parsed {
		out[engine.CertificationType(k)] = engine.MustParseWeight(v)
	}
	return out
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
