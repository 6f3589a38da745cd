// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hivemark/certification-engine/engine"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	apiaries     map[engine.ApiaryID]engine.Apiary
	batches      map[engine.BatchID]engine.Batch
	records      map[engine.RecordID]engine.CertificationRecord
	tokenBalance int64
	tokenVersion int64
}

func NewMemory() *Memory {
	return &Memory{
		apiaries:     make(map[engine.ApiaryID]engine.Apiary),
		batches:      make(map[engine.BatchID]engine.Batch),
		records:      make(map[engine.RecordID]engine.CertificationRecord),
		tokenVersion: 1,
	}
}

// SetTokens seeds the balance directly. Test/dev helper; production code
// mutates the balance only through the TokenLedger.
func (m *Memory) SetTokens(balance int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokenBalance = balance
	m.tokenVersion++
}

// Reset wipes all state. Scenario loading only.
func (m *Memory) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.apiaries = make(map[engine.ApiaryID]engine.Apiary)
	m.batches = make(map[engine.BatchID]engine.Batch)
	m.records = make(map[engine.RecordID]engine.CertificationRecord)
	m.tokenBalance = 0
	m.tokenVersion++
	return nil
}

// =============================================================================
// APIARY STORE
// =============================================================================

func (m *Memory) SaveApiary(_ context.Context, a engine.Apiary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.apiaries[a.ID] = cloneApiary(a)
	return nil
}

func (m *Memory) GetApiary(_ context.Context, id engine.ApiaryID) (*engine.Apiary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.apiaries[id]
	if !ok {
		return nil, nil
	}
	c := cloneApiary(a)
	return &c, nil
}

func (m *Memory) ListApiaries(_ context.Context) ([]engine.Apiary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]engine.Apiary, 0, len(m.apiaries))
	for _, a := range m.apiaries {
		out = append(out, cloneApiary(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpdateApiary(_ context.Context, a engine.Apiary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.apiaries[a.ID]; !ok {
		return engine.ErrApiaryNotFound
	}
	m.apiaries[a.ID] = cloneApiary(a)
	return nil
}

func (m *Memory) DeleteApiary(_ context.Context, id engine.ApiaryID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.apiaries[id]; !ok {
		return engine.ErrApiaryNotFound
	}
	delete(m.apiaries, id)
	return nil
}

// =============================================================================
// BATCH STORE
// =============================================================================

func (m *Memory) SaveBatch(_ context.Context, b engine.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.Version == 0 {
		b.Version = 1
	}
	m.batches[b.ID] = cloneBatch(b)
	return nil
}

func (m *Memory) GetBatch(_ context.Context, id engine.BatchID) (*engine.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.batches[id]
	if !ok {
		return nil, nil
	}
	c := cloneBatch(b)
	return &c, nil
}

func (m *Memory) ListBatches(_ context.Context) ([]engine.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]engine.Batch, 0, len(m.batches))
	for _, b := range m.batches {
		out = append(out, cloneBatch(b))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpdateBatch(_ context.Context, b engine.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.batches[b.ID]
	if !ok {
		return engine.ErrBatchNotFound
	}
	if current.Version != b.Version {
		return engine.ErrConcurrentModification
	}
	b.Version++
	m.batches[b.ID] = cloneBatch(b)
	return nil
}

func (m *Memory) DeleteBatch(_ context.Context, id engine.BatchID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok {
		return engine.ErrBatchNotFound
	}
	for _, rid := range b.RecordIDs {
		delete(m.records, rid)
	}
	delete(m.batches, id)
	return nil
}

// =============================================================================
// RECORD STORE
// =============================================================================

func (m *Memory) SaveRecord(_ context.Context, r engine.CertificationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[r.ID] = cloneRecord(r)
	return nil
}

func (m *Memory) GetRecordByCode(_ context.Context, code string) (*engine.CertificationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.records {
		if r.VerificationCode == code {
			c := cloneRecord(r)
			return &c, nil
		}
	}
	return nil, nil
}

func (m *Memory) ListRecords(_ context.Context) ([]engine.CertificationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]engine.CertificationRecord, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, cloneRecord(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CertifiedAt.Before(out[j].CertifiedAt) })
	return out, nil
}

func (m *Memory) ListRecordsForBatch(_ context.Context, id engine.BatchID) ([]engine.CertificationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []engine.CertificationRecord
	for _, r := range m.records {
		for _, bid := range r.BatchIDs {
			if bid == id {
				out = append(out, cloneRecord(r))
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CertifiedAt.Before(out[j].CertifiedAt) })
	return out, nil
}

func (m *Memory) ExpireRecords(_ context.Context, asOf time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, r := range m.records {
		if r.Status == engine.RecordActive && !r.ExpiresAt.After(asOf) {
			r.Status = engine.RecordExpired
			m.records[id] = r
			n++
		}
	}
	return n, nil
}

// =============================================================================
// TOKEN STORE - CAS on a version counter
// =============================================================================

func (m *Memory) LoadTokens(_ context.Context) (int64, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tokenBalance, m.tokenVersion, nil
}

func (m *Memory) StoreTokens(_ context.Context, balance int64, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tokenVersion != expectedVersion {
		return engine.ErrConcurrentModification
	}
	m.tokenBalance = balance
	m.tokenVersion++
	return nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support, simulated with a
// snapshot + restore on error. Token state stays outside the snapshot:
// the balance is CAS-guarded and compensated by the committer, never
// written inside a transaction, and restoring it here would silently
// undo a top-up that landed while the transaction was open.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

func (tm *TxMemory) WithTx(ctx context.Context, fn func(engine.Store) error) error {
	snapshot := tm.snapshot()
	if err := fn(tm.Memory); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	apiaries map[engine.ApiaryID]engine.Apiary
	batches  map[engine.BatchID]engine.Batch
	records  map[engine.RecordID]engine.CertificationRecord
}

func (tm *TxMemory) snapshot() memorySnapshot {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	s := memorySnapshot{
		apiaries: make(map[engine.ApiaryID]engine.Apiary, len(tm.apiaries)),
		batches:  make(map[engine.BatchID]engine.Batch, len(tm.batches)),
		records:  make(map[engine.RecordID]engine.CertificationRecord, len(tm.records)),
	}
	for k, v := range tm.apiaries {
		s.apiaries[k] = cloneApiary(v)
	}
	for k, v := range tm.batches {
		s.batches[k] = cloneBatch(v)
	}
	for k, v := range tm.records {
		s.records[k] = cloneRecord(v)
	}
	return s
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.apiaries = s.apiaries
	tm.batches = s.batches
	tm.records = s.records
}

// =============================================================================
// CLONE HELPERS - Keep callers from aliasing stored state
// =============================================================================

func cloneApiary(a engine.Apiary) engine.Apiary { return a }

func cloneBatch(b engine.Batch) engine.Batch {
	out := b
	out.Contributions = append([]engine.ApiaryContribution(nil), b.Contributions...)
	out.RecordIDs = append([]engine.RecordID(nil), b.RecordIDs...)
	out.CertifiedByType = make(map[engine.CertificationType]engine.Weight, len(b.CertifiedByType))
	for k, v := range b.CertifiedByType {
		out.CertifiedByType[k] = v
	}
	return out
}

func cloneRecord(r engine.CertificationRecord) engine.CertificationRecord {
	out := r
	out.BatchIDs = append([]engine.BatchID(nil), r.BatchIDs...)
	out.JarCounts = make(map[engine.CertificationType]int64, len(r.JarCounts))
	for k, v := range r.JarCounts {
		out.JarCounts[k] = v
	}
	return out
}
