/*
handlers_test.go - HTTP tests for the allowance API

Tests for:
- Trigger authentication (bearer secret in production)
- Accrual trigger report and run history
- Dashboard totals
- Manual transaction permissions and dollar parsing
- Settings versioning (parents only)
- Development simulation harness
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teich/bank4/allowance"
	"github.com/teich/bank4/family"
	"github.com/teich/bank4/ledger"
	"github.com/teich/bank4/metrics"
	"github.com/teich/bank4/store/sqlite"
)

var testNow = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

const testSecret = "s3cret"

type testEnv struct {
	store   *sqlite.Store
	handler *Handler
	router  http.Handler
}

func newTestEnv(t *testing.T, opts RouterOptions) *testEnv {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clock := func() time.Time { return testNow }
	engine := allowance.NewEngine(store, allowance.DefaultConfig())
	engine.Clock = clock
	engine.Recorder = store

	h := NewHandler(store, engine, !opts.Production)
	h.Clock = clock
	h.Ledger.Clock = clock

	return &testEnv{store: store, handler: h, router: NewRouter(h, opts)}
}

// seedFamily creates family "fam" with parent "mom" and children "kid" and
// "sib", all three weeks old. Only "kid" has allowance settings.
func (e *testEnv) seedFamily(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	created := testNow.Add(-3 * allowance.Week)

	require.NoError(t, e.store.CreateFamily(ctx, family.Family{ID: "fam", Name: "Smith", Currency: "USD", CreatedAt: created}))
	for _, u := range []family.UserID{"mom", "kid", "sib"} {
		require.NoError(t, e.store.CreateUser(ctx, family.User{ID: u, Username: string(u), CreatedAt: created}))
	}
	require.NoError(t, e.store.AddMember(ctx, family.Member{ID: "m1", FamilyID: "fam", UserID: "mom", Role: family.RoleParent}))
	require.NoError(t, e.store.AddMember(ctx, family.Member{ID: "m2", FamilyID: "fam", UserID: "kid", Role: family.RoleChild}))
	require.NoError(t, e.store.AddMember(ctx, family.Member{ID: "m3", FamilyID: "fam", UserID: "sib", Role: family.RoleChild}))

	var settings []allowance.Setting
	for _, in := range []allowance.SettingInput{
		{Category: "SPENDING", Amount: 500, Period: "WEEK"},
		{Category: "SAVING", Amount: 1000, IsPercentage: true, Period: "YEAR"},
		{Category: "GIVING", Amount: 100, Period: "WEEK"},
	} {
		s, err := allowance.NewSetting(in, "kid", "fam", "mom", created)
		require.NoError(t, err)
		settings = append(settings, s)
	}
	require.NoError(t, e.store.InsertSettings(ctx, settings))
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func as(user string) map[string]string { return map[string]string{ActorHeader: user} }

const memberPath = "/api/families/fam/members/"

// =============================================================================
// TRIGGER AUTHENTICATION
// =============================================================================

func TestTriggerAccrual_ProductionRequiresBearerSecret(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"wrong secret", "Bearer nope", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + testSecret, http.StatusUnauthorized},
		{"valid secret", "Bearer " + testSecret, http.StatusOK},
		{"case-insensitive scheme", "bearer " + testSecret, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// GIVEN: A production server with a configured secret
			env := newTestEnv(t, RouterOptions{Production: true, CronSecret: testSecret})
			var headers map[string]string
			if tt.header != "" {
				headers = map[string]string{"Authorization": tt.header}
			}

			// WHEN: The trigger is called
			rec := env.do(t, http.MethodPost, "/api/allowance/run", nil, headers)

			// THEN: Only the exact secret is accepted
			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusUnauthorized {
				resp := decode[ErrorResponse](t, rec)
				assert.False(t, resp.Success)
				assert.Equal(t, "Unauthorized", resp.Error)
			}
		})
	}
}

func TestTriggerAccrual_EmptySecretRejectsEverythingInProduction(t *testing.T) {
	// GIVEN: Production without a configured secret
	env := newTestEnv(t, RouterOptions{Production: true})
	before := testutil.ToFloat64(metrics.TriggerRejected)

	// WHEN: The trigger is called with an empty bearer token
	rec := env.do(t, http.MethodPost, "/api/allowance/run", nil, map[string]string{"Authorization": "Bearer "})

	// THEN: It is rejected and counted
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.TriggerRejected))
}

func TestTriggerAccrual_DevelopmentSkipsSecret(t *testing.T) {
	// GIVEN: A development server
	env := newTestEnv(t, RouterOptions{})

	// WHEN: The trigger is called without credentials
	rec := env.do(t, http.MethodPost, "/api/allowance/run", nil, nil)

	// THEN: The batch runs
	assert.Equal(t, http.StatusOK, rec.Code)
}

// =============================================================================
// ACCRUAL
// =============================================================================

func TestTriggerAccrual_PaysElapsedWeeks(t *testing.T) {
	// GIVEN: A kid created three weeks ago with $5/$1 weekly and 10% saving
	env := newTestEnv(t, RouterOptions{})
	env.seedFamily(t)

	// WHEN: The batch runs
	rec := env.do(t, http.MethodPost, "/api/allowance/run", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	result := decode[allowance.RunResult](t, rec)

	// THEN: Three weeks are paid in one posting per category
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.TotalUsers)
	assert.Equal(t, 1, result.ProcessedCount)
	require.Len(t, result.Results, 1)
	ur := result.Results[0]
	assert.Equal(t, family.UserID("kid"), ur.UserID)
	assert.Equal(t, 3, ur.WeeksProcessed)

	amounts := map[ledger.Category]ledger.Cents{}
	for _, tx := range ur.Transactions {
		amounts[tx.Category] = tx.Amount
	}
	assert.Equal(t, ledger.Cents(1500), amounts[ledger.CategorySpending])
	assert.Equal(t, ledger.Cents(0), amounts[ledger.CategorySaving])
	assert.Equal(t, ledger.Cents(300), amounts[ledger.CategoryGiving])
}

func TestTriggerAccrual_SecondCallIsRateLimited(t *testing.T) {
	// GIVEN: A batch that already paid the kid
	env := newTestEnv(t, RouterOptions{})
	env.seedFamily(t)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/allowance/run", nil, nil).Code)

	// WHEN: The trigger fires again at the same instant
	rec := env.do(t, http.MethodPost, "/api/allowance/run", nil, nil)
	result := decode[allowance.RunResult](t, rec)

	// THEN: Nothing more is paid
	assert.Equal(t, 0, result.ProcessedCount)
	skip, ok := result.SkipFor("kid")
	require.True(t, ok)
	assert.Equal(t, allowance.SkipRateLimited, skip.Reason)

	totals, err := env.handler.Ledger.Totals(context.Background(), "kid", "fam")
	require.NoError(t, err)
	assert.Equal(t, ledger.Cents(1500), totals[ledger.CategorySpending])
}

func TestListAccrualRuns_NewestFirst(t *testing.T) {
	// GIVEN: Two batches
	env := newTestEnv(t, RouterOptions{})
	env.seedFamily(t)
	env.do(t, http.MethodPost, "/api/allowance/run", nil, nil)
	env.do(t, http.MethodPost, "/api/allowance/run", nil, nil)

	// WHEN: History is listed
	rec := env.do(t, http.MethodGet, "/api/allowance/runs?limit=10", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[struct {
		Runs []AccrualRunDTO `json:"runs"`
	}](t, rec)

	// THEN: Both are recorded as completed; only one paid
	require.Len(t, body.Runs, 2)
	processed := 0
	for _, r := range body.Runs {
		assert.Equal(t, "completed", r.Status)
		processed += r.Processed
	}
	assert.Equal(t, 1, processed)
}

func TestListAccrualRuns_RejectsBadLimit(t *testing.T) {
	env := newTestEnv(t, RouterOptions{})

	rec := env.do(t, http.MethodGet, "/api/allowance/runs?limit=zero", nil, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// DASHBOARD
// =============================================================================

func TestGetDashboard_TotalsAndRecent(t *testing.T) {
	// GIVEN: A paid kid who then spent $4.50
	env := newTestEnv(t, RouterOptions{})
	env.seedFamily(t)
	env.do(t, http.MethodPost, "/api/allowance/run", nil, nil)
	rec := env.do(t, http.MethodPost, memberPath+"kid/transactions",
		CreateTransactionRequest{Category: "spending", Amount: "-4.50", Description: "Comic"}, as("kid"))
	require.Equal(t, http.StatusCreated, rec.Code)

	// WHEN: The dashboard is loaded
	rec = env.do(t, http.MethodGet, memberPath+"kid/dashboard", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	dash := decode[DashboardDTO](t, rec)

	// THEN: Every category is listed and the total reflects the purchase
	assert.Equal(t, "Smith", dash.FamilyName)
	assert.Equal(t, "CHILD", dash.Role)
	require.Len(t, dash.Totals, 3)
	assert.Equal(t, "SPENDING", dash.Totals[0].Category)
	assert.Equal(t, int64(1050), dash.Totals[0].Amount)
	assert.Equal(t, "10.50", dash.Totals[0].Display)
	assert.Equal(t, int64(1350), dash.Total)
	assert.Len(t, dash.RecentTransactions, 4)
}

func TestGetDashboard_NonMemberNotFound(t *testing.T) {
	// GIVEN: A user outside the family
	env := newTestEnv(t, RouterOptions{})
	env.seedFamily(t)
	require.NoError(t, env.store.CreateUser(context.Background(), family.User{ID: "stranger", Username: "stranger", CreatedAt: testNow}))

	// WHEN/THEN: Their dashboard in this family does not exist
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, memberPath+"stranger/dashboard", nil, nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/families/nope/members/kid/dashboard", nil, nil).Code)
}

// =============================================================================
// MANUAL TRANSACTIONS
// =============================================================================

func TestCreateTransaction_Permissions(t *testing.T) {
	tests := []struct {
		name  string
		actor string
		owner string
		want  int
	}{
		{"child for self", "kid", "kid", http.StatusCreated},
		{"child for sibling", "kid", "sib", http.StatusForbidden},
		{"parent for child", "mom", "kid", http.StatusCreated},
		{"outsider", "stranger", "kid", http.StatusForbidden},
		{"no actor", "", "kid", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// GIVEN: A family with a parent and two children
			env := newTestEnv(t, RouterOptions{})
			env.seedFamily(t)
			var headers map[string]string
			if tt.actor != "" {
				headers = as(tt.actor)
			}

			// WHEN: The actor records a transaction for the owner
			rec := env.do(t, http.MethodPost, memberPath+tt.owner+"/transactions",
				CreateTransactionRequest{Category: "GIVING", Amount: "2", Description: "Gift"}, headers)

			// THEN: Only the owner or a parent may do it
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestCreateTransaction_ParsesDollars(t *testing.T) {
	// GIVEN: A kid recording a purchase
	env := newTestEnv(t, RouterOptions{})
	env.seedFamily(t)

	// WHEN: Amount is given in dollars with a lower-case category
	rec := env.do(t, http.MethodPost, memberPath+"kid/transactions",
		CreateTransactionRequest{Category: "saving", Amount: "12.345", Description: "  Deposit "}, as("mom"))

	// THEN: It is stored in cents, rounded half away from zero
	require.Equal(t, http.StatusCreated, rec.Code)
	tx := decode[TransactionDTO](t, rec)
	assert.Equal(t, "SAVING", tx.Category)
	assert.Equal(t, int64(1235), tx.Amount)
	assert.Equal(t, "12.35", tx.AmountDisplay)
	assert.Equal(t, "Deposit", tx.Description)
	assert.Equal(t, "mom", tx.CreatedByID)
	assert.False(t, tx.IsSystemCreated)
	assert.True(t, tx.Date.Equal(testNow))
}

func TestCreateTransaction_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		req  CreateTransactionRequest
	}{
		{"unknown category", CreateTransactionRequest{Category: "FUN", Amount: "1", Description: "x"}},
		{"bad amount", CreateTransactionRequest{Category: "SPENDING", Amount: "lots", Description: "x"}},
		{"zero amount", CreateTransactionRequest{Category: "SPENDING", Amount: "0", Description: "x"}},
		{"blank description", CreateTransactionRequest{Category: "SPENDING", Amount: "1", Description: "  "}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, RouterOptions{})
			env.seedFamily(t)

			rec := env.do(t, http.MethodPost, memberPath+"kid/transactions", tt.req, as("kid"))

			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

// =============================================================================
// SETTINGS
// =============================================================================

func TestSaveSettings_ParentOnly(t *testing.T) {
	// GIVEN: A family
	env := newTestEnv(t, RouterOptions{})
	env.seedFamily(t)
	req := SaveSettingsRequest{Settings: []SettingInputDTO{
		{Category: "SPENDING", Amount: 700, Period: "WEEK"},
	}}

	// WHEN: A child tries to raise their own allowance
	rec := env.do(t, http.MethodPost, memberPath+"kid/allowance-settings", req, as("kid"))

	// THEN: It is forbidden
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// WHEN: A parent does it
	rec = env.do(t, http.MethodPost, memberPath+"kid/allowance-settings", req, as("mom"))

	// THEN: A new version is added and listed first
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = env.do(t, http.MethodGet, memberPath+"kid/allowance-settings", nil, nil)
	body := decode[struct {
		Settings []SettingDTO `json:"settings"`
	}](t, rec)
	require.Len(t, body.Settings, 4)
	assert.Equal(t, "SPENDING", body.Settings[0].Category)
	assert.Equal(t, int64(700), body.Settings[0].Amount)
	assert.Equal(t, "mom", body.Settings[0].CreatedByID)
}

func TestSaveSettings_RejectsInvalidShape(t *testing.T) {
	// GIVEN: A parent
	env := newTestEnv(t, RouterOptions{})
	env.seedFamily(t)

	// WHEN: SAVING is submitted as a flat amount
	rec := env.do(t, http.MethodPost, memberPath+"kid/allowance-settings", SaveSettingsRequest{
		Settings: []SettingInputDTO{{Category: "SAVING", Amount: 500, Period: "WEEK"}},
	}, as("mom"))

	// THEN: It is rejected and nothing is stored
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	history, err := env.store.ListSettings(context.Background(), "kid", "fam")
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

// =============================================================================
// SIMULATION HARNESS
// =============================================================================

func TestSimulateAccrual_DevelopmentOnly(t *testing.T) {
	// GIVEN: A production server
	env := newTestEnv(t, RouterOptions{Production: true, CronSecret: testSecret})
	env.seedFamily(t)

	// WHEN: The harness is called
	rec := env.do(t, http.MethodPost, "/api/allowance/test", SimulateRequest{UserID: "kid"}, nil)

	// THEN: It is refused
	assert.Equal(t, http.StatusForbidden, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "Test endpoint only available in development", resp.Error)
}

func TestSimulateAccrual_RewindsAndPays(t *testing.T) {
	// GIVEN: A kid already paid by a normal run
	env := newTestEnv(t, RouterOptions{})
	env.seedFamily(t)
	env.do(t, http.MethodPost, "/api/allowance/run", nil, nil)
	weeks := 2

	// WHEN: Two weeks are simulated
	rec := env.do(t, http.MethodPost, "/api/allowance/test", SimulateRequest{UserID: "kid", WeeksToSimulate: &weeks}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[SimulateResponse](t, rec)

	// THEN: Earlier allowance is replaced by exactly two weeks
	assert.True(t, resp.Success)
	assert.Equal(t, 2, resp.WeeksSimulated)
	require.NotNil(t, resp.AllowanceResult)
	ur, ok := resp.AllowanceResult.ResultFor("kid")
	require.True(t, ok)
	assert.Equal(t, 2, ur.WeeksProcessed)

	totals, err := env.handler.Ledger.Totals(context.Background(), "kid", "fam")
	require.NoError(t, err)
	assert.Equal(t, ledger.Cents(1000), totals[ledger.CategorySpending])
	assert.Equal(t, ledger.Cents(200), totals[ledger.CategoryGiving])
}

func TestSimulateAccrual_InputValidation(t *testing.T) {
	env := newTestEnv(t, RouterOptions{})
	env.seedFamily(t)
	zero := 0

	assert.Equal(t, http.StatusBadRequest,
		env.do(t, http.MethodPost, "/api/allowance/test", SimulateRequest{}, nil).Code)
	assert.Equal(t, http.StatusBadRequest,
		env.do(t, http.MethodPost, "/api/allowance/test", SimulateRequest{UserID: "kid", WeeksToSimulate: &zero}, nil).Code)
	assert.Equal(t, http.StatusNotFound,
		env.do(t, http.MethodPost, "/api/allowance/test", SimulateRequest{UserID: "ghost"}, nil).Code)
}

// =============================================================================
// HEALTH
// =============================================================================

func TestHealth(t *testing.T) {
	env := newTestEnv(t, RouterOptions{})

	rec := env.do(t, http.MethodGet, "/healthz", nil, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}
