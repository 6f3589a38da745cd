package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivemark/certification-engine/engine"
	memstore "github.com/hivemark/certification-engine/engine/store"
)

type testEnv struct {
	store   *memstore.TxMemory
	tokens  *engine.TokenLedger
	handler *Handler
	router  http.Handler
}

type passVerifier struct{}

func (passVerifier) Verify(context.Context, engine.ReportKind, string, []byte) error { return nil }

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := memstore.NewTxMemory()
	tokens := engine.NewTokenLedger(st)
	committer := engine.NewCertificationCommitter(st, tokens, passVerifier{},
		engine.ProfileCheckerFunc(func(_ context.Context, actorID string) (bool, error) {
			return actorID != "", nil
		}))
	h := NewHandler(st, tokens, committer)
	h.ResetStore = st.Reset
	return &testEnv{store: st, tokens: tokens, handler: h, router: NewRouter(h)}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

func (e *testEnv) createApiary(t *testing.T, name string, collectedKg float64) ApiaryDTO {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/apiaries", CreateApiaryRequest{
		Name: name, HiveCount: 20, Latitude: 46.05, Longitude: 14.51, CollectedKg: collectedKg,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[ApiaryDTO](t, rec)
}

func (e *testEnv) createBatch(t *testing.T, number string, contribs []ContributionDTO) BatchDTO {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/batches", CreateBatchRequest{Number: number, Contributions: contribs})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[BatchDTO](t, rec)
}

// =============================================================================
// APIARIES
// =============================================================================

func TestApiaryCRUD(t *testing.T) {
	e := newTestEnv(t)

	created := e.createApiary(t, "Hilltop", 180)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, 180.0, created.CollectedKg)

	rec := e.do(t, http.MethodGet, "/api/apiaries/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodPut, "/api/apiaries/"+created.ID, UpdateApiaryRequest{
		Name: "Hilltop Meadow", HiveCount: 25, Latitude: 46.1, Longitude: 14.6,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[ApiaryDTO](t, rec)
	assert.Equal(t, "Hilltop Meadow", updated.Name)
	assert.Equal(t, 180.0, updated.CollectedKg, "collected weight must not be editable")

	rec = e.do(t, http.MethodDelete, "/api/apiaries/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = e.do(t, http.MethodGet, "/api/apiaries/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateApiaryValidation(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPost, "/api/apiaries", CreateApiaryRequest{Latitude: 46, Longitude: 14})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing name")

	rec = e.do(t, http.MethodPost, "/api/apiaries", CreateApiaryRequest{Name: "X", Latitude: 99, Longitude: 14})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "bad latitude")
}

// =============================================================================
// BATCHES
// =============================================================================

func TestCreateBatchFromContributions(t *testing.T) {
	e := newTestEnv(t)
	a1 := e.createApiary(t, "Hilltop", 180)
	a2 := e.createApiary(t, "Riverside", 95)

	b := e.createBatch(t, "HB-001", []ContributionDTO{
		{ApiaryID: a1.ID, CollectedKg: 80},
		{ApiaryID: a2.ID, CollectedKg: 45},
	})

	assert.Equal(t, 125.0, b.OriginalKg)
	assert.Equal(t, 125.0, b.RemainingKg)
	assert.Equal(t, "new", b.Status)
	assert.Equal(t, int64(100), b.Breakdown.UncertifiedPercent)
	require.Len(t, b.Contributions, 2)
	assert.Equal(t, "Hilltop", b.Contributions[0].ApiaryName)

	// Unknown apiary is rejected.
	rec := e.do(t, http.MethodPost, "/api/batches", CreateBatchRequest{
		Number:        "HB-002",
		Contributions: []ContributionDTO{{ApiaryID: "ghost", CollectedKg: 10}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteBatch(t *testing.T) {
	e := newTestEnv(t)
	a := e.createApiary(t, "Hilltop", 180)
	b := e.createBatch(t, "HB-001", []ContributionDTO{{ApiaryID: a.ID, CollectedKg: 80}})

	rec := e.do(t, http.MethodDelete, "/api/batches/"+b.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = e.do(t, http.MethodDelete, "/api/batches/"+b.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// CERTIFICATION FLOW
// =============================================================================

func TestCertificationEndToEnd(t *testing.T) {
	e := newTestEnv(t)
	a := e.createApiary(t, "Hilltop", 200)
	b := e.createBatch(t, "HB-001", []ContributionDTO{{ApiaryID: a.ID, CollectedKg: 100}})

	rec := e.do(t, http.MethodPost, "/api/tokens/topup", TopUpRequest{Amount: 500})
	require.Equal(t, http.StatusOK, rec.Code)

	// Preflight a half-pool session.
	jars := []JarRequest{{SizeGrams: 500, Quantity: 80, Certification: "origin"}}
	rec = e.do(t, http.MethodPost, "/api/certifications/preflight", PreflightRequest{
		BatchIDs: []string{b.ID}, Jars: jars,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	pre := decode[PreflightResponse](t, rec)
	assert.Equal(t, 100.0, pre.PoolRemainingKg)
	assert.Equal(t, 40.0, pre.AllocatedKg)
	assert.Equal(t, int64(80), pre.TokensRequired)
	assert.False(t, pre.NeedsLabReport)
	assert.True(t, pre.NeedsProduction)

	// Commit it.
	rec = e.do(t, http.MethodPost, "/api/certifications", CommitRequest{
		ActorID:  "keeper-1",
		BatchIDs: []string{b.ID},
		Jars:     jars,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	result := decode[CommitResponse](t, rec)
	assert.Equal(t, int64(80), result.TokensDebited)
	assert.Equal(t, int64(420), result.TokenBalance)
	require.Len(t, result.Batches, 1)
	assert.Equal(t, "partially_completed", result.Batches[0].Status)
	assert.Equal(t, 40.0, result.Batches[0].CertifiedKg)
	assert.Equal(t, int64(40), result.Batches[0].Breakdown.OriginPercent)
	assert.NotEmpty(t, result.Record.VerificationCode)
	assert.Equal(t, result.Record.VerificationCode, result.Record.QR.Verification)

	// The public verification lookup finds the record.
	rec = e.do(t, http.MethodGet, "/api/records/verify/"+result.Record.VerificationCode, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	verified := decode[RecordDTO](t, rec)
	assert.Equal(t, result.Record.ID, verified.ID)
	assert.Equal(t, "active", verified.Status)

	// And the batch lists it.
	rec = e.do(t, http.MethodGet, "/api/batches/"+b.ID+"/records", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	records := decode[[]RecordDTO](t, rec)
	assert.Len(t, records, 1)
}

func TestCertificationInsufficientTokens(t *testing.T) {
	e := newTestEnv(t)
	a := e.createApiary(t, "Hilltop", 200)
	b := e.createBatch(t, "HB-001", []ContributionDTO{{ApiaryID: a.ID, CollectedKg: 100}})
	e.do(t, http.MethodPost, "/api/tokens/topup", TopUpRequest{Amount: 10})

	rec := e.do(t, http.MethodPost, "/api/certifications", CommitRequest{
		ActorID:  "keeper-1",
		BatchIDs: []string{b.ID},
		Jars:     []JarRequest{{SizeGrams: 500, Quantity: 11, Certification: "origin"}},
	})
	assert.Equal(t, http.StatusPaymentRequired, rec.Code, rec.Body.String())

	// No tokens were consumed.
	balRec := e.do(t, http.MethodGet, "/api/tokens", nil)
	bal := decode[TokenStatsDTO](t, balRec)
	assert.Equal(t, int64(10), bal.Balance)
	assert.Zero(t, bal.TotalDebited)
}

func TestCertificationUnknownBatch(t *testing.T) {
	e := newTestEnv(t)
	e.do(t, http.MethodPost, "/api/tokens/topup", TopUpRequest{Amount: 10})
	rec := e.do(t, http.MethodPost, "/api/certifications", CommitRequest{
		ActorID:  "keeper-1",
		BatchIDs: []string{"ghost"},
		Jars:     []JarRequest{{SizeGrams: 500, Quantity: 1, Certification: "origin"}},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCertificationMissingActor(t *testing.T) {
	e := newTestEnv(t)
	a := e.createApiary(t, "Hilltop", 200)
	b := e.createBatch(t, "HB-001", []ContributionDTO{{ApiaryID: a.ID, CollectedKg: 100}})
	e.do(t, http.MethodPost, "/api/tokens/topup", TopUpRequest{Amount: 100})

	rec := e.do(t, http.MethodPost, "/api/certifications", CommitRequest{
		BatchIDs: []string{b.ID},
		Jars:     []JarRequest{{SizeGrams: 500, Quantity: 1, Certification: "origin"}},
	})
	assert.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())
}

// =============================================================================
// TOKENS
// =============================================================================

func TestTokenEndpoints(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodGet, "/api/tokens", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(0), decode[TokenStatsDTO](t, rec).Balance)

	rec = e.do(t, http.MethodPost, "/api/tokens/topup", TopUpRequest{Amount: 250})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(250), decode[TokenBalanceDTO](t, rec).Balance)

	rec = e.do(t, http.MethodGet, "/api/tokens", nil)
	stats := decode[TokenStatsDTO](t, rec)
	assert.Equal(t, int64(250), stats.TotalCredited)

	rec = e.do(t, http.MethodPost, "/api/tokens/topup", TopUpRequest{Amount: 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestScenarioLoadAndReset(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodGet, "/api/scenarios", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]ScenarioDTO](t, rec)
	require.NotEmpty(t, list)

	for _, s := range list {
		rec = e.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: s.ID})
		require.Equal(t, http.StatusOK, rec.Code, "scenario %s: %s", s.ID, rec.Body.String())

		list := decode[BatchListResponse](t, e.do(t, http.MethodGet, "/api/batches", nil))
		assert.NotEmpty(t, list.Batches, "scenario %s seeded no batches", s.ID)
	}

	// The partially-certified scenario must keep conservation visible.
	rec = e.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "partially-certified"})
	require.Equal(t, http.StatusOK, rec.Code)
	batchList := decode[BatchListResponse](t, e.do(t, http.MethodGet, "/api/batches", nil))
	require.Len(t, batchList.Batches, 1)
	b := batchList.Batches[0]
	assert.Equal(t, "partially_completed", b.Status)
	assert.InDelta(t, b.OriginalKg, b.CertifiedKg+b.RemainingKg, 0.001)

	rec = e.do(t, http.MethodPost, "/api/scenarios/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	batchList = decode[BatchListResponse](t, e.do(t, http.MethodGet, "/api/batches", nil))
	assert.Empty(t, batchList.Batches)
}

func TestScenarioEndpointsAreConcurrencySafe(t *testing.T) {
	e := newTestEnv(t)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				req := httptest.NewRequest(http.MethodPost, "/api/scenarios/load",
					bytes.NewReader([]byte(`{"scenario_id":"single-apiary"}`)))
				req.Header.Set("Content-Type", "application/json")
				e.router.ServeHTTP(httptest.NewRecorder(), req)

				req = httptest.NewRequest(http.MethodGet, "/api/scenarios/current", nil)
				e.router.ServeHTTP(httptest.NewRecorder(), req)
			}
		}()
	}
	wg.Wait()

	rec := e.do(t, http.MethodGet, "/api/scenarios/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "single-apiary", decode[ScenarioDTO](t, rec).ID)
}

func TestScenarioUnknownID(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// Guard against the scenario list and loader switch drifting apart.
func TestScenarioListMatchesLoaders(t *testing.T) {
	e := newTestEnv(t)
	for i, s := range scenarios {
		rec := e.do(t, http.MethodPost, "/api/scenarios/load",
			LoadScenarioRequest{ScenarioID: s.ID})
		require.Equal(t, http.StatusOK, rec.Code, fmt.Sprintf("scenario %d (%s)", i, s.ID))
	}
}
