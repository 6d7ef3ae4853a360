/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	families for demos and manual testing of the accrual engine. Each
	scenario creates users, families, memberships, allowance settings and
	sometimes prior transactions, all dated relative to now.

AVAILABLE SCENARIOS:

	new-family:         Two kids created three weeks ago, never paid
	established-family: Kid paid last week, with savings and purchases
	missing-settings:   Kid without a SAVING rule (skipped by the engine)
	shared-custody:     Kid in two families (skipped as ambiguous)

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create users and families
 3. Add memberships with roles
 4. Insert allowance settings
 5. Optionally add transactions and accrual state

USAGE VIA API:

	POST /api/scenarios/load
	{"scenarioId": "new-family"}

	POST /api/allowance/run

NOTE:

	Scenarios reset the database. Only routed in development.

SEE ALSO:
  - simulate.go: Rewinding one user's accrual state
  - server.go: Development-only route group
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/teich/bank4/allowance"
	"github.com/teich/bank4/family"
	"github.com/teich/bank4/ledger"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "new-family",
		Name:        "New Family",
		Description: "Two kids created three weeks ago; the first run pays three weeks at once",
	},
	{
		ID:          "established-family",
		Name:        "Established Family",
		Description: "Kid paid one week ago with a savings balance and a few purchases",
	},
	{
		ID:          "missing-settings",
		Name:        "Missing Settings",
		Description: "Kid has spending and giving rules but no saving rule",
	},
	{
		ID:          "shared-custody",
		Name:        "Shared Custody",
		Description: "Kid belongs to two families and is skipped until one is removed",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	load, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	if err := load(h.seeder(ctx)); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	h.currentScenario = req.ScenarioID

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

var scenarioLoaders = map[string]func(*seeder) error{
	"new-family":         loadNewFamilyScenario,
	"established-family": loadEstablishedFamilyScenario,
	"missing-settings":   loadMissingSettingsScenario,
	"shared-custody":     loadSharedCustodyScenario,
}

func loadNewFamilyScenario(s *seeder) error {
	created := s.now.Add(-3 * allowance.Week)

	s.family("fam-rivera", "Rivera Family", created)
	s.user("u-ana", "ana", "Ana Rivera", created)
	s.user("u-leo", "leo", "Leo Rivera", created)
	s.user("u-mia", "mia", "Mia Rivera", created)
	s.member("fam-rivera", "u-ana", family.RoleParent)
	s.member("fam-rivera", "u-leo", family.RoleChild)
	s.member("fam-rivera", "u-mia", family.RoleChild)

	// $5 spend, 10%/yr on savings, $1 giving
	s.settings("fam-rivera", "u-leo", "u-ana", 500, 1000, 100, created)
	// $3 spend, 5%/yr on savings, $0.50 giving
	s.settings("fam-rivera", "u-mia", "u-ana", 300, 500, 50, created)
	return s.err
}

func loadEstablishedFamilyScenario(s *seeder) error {
	created := s.now.Add(-10 * allowance.Week)
	lastRun := s.now.Add(-allowance.Week)

	s.family("fam-chen", "Chen Family", created)
	s.user("u-wei", "wei", "Wei Chen", created)
	s.user("u-lin", "lin", "Lin Chen", created)
	s.user("u-max", "max", "Max Chen", created)
	s.member("fam-chen", "u-wei", family.RoleParent)
	s.member("fam-chen", "u-lin", family.RoleParent)
	s.member("fam-chen", "u-max", family.RoleChild)

	// Raised from $4 to $6 after the last payout; the next run pays $6.
	s.settings("fam-chen", "u-max", "u-wei", 400, 1000, 100, created)
	s.settings("fam-chen", "u-max", "u-lin", 600, 1000, 100, s.now.Add(-3*24*time.Hour))

	s.tx("fam-chen", "u-max", "u-max", ledger.CategorySpending, 3600, allowance.Description(ledger.CategorySpending, 9), lastRun, true)
	s.tx("fam-chen", "u-max", "u-max", ledger.CategorySaving, 20000, "Birthday money", created.Add(2*allowance.Week), false)
	s.tx("fam-chen", "u-max", "u-max", ledger.CategoryGiving, 900, allowance.Description(ledger.CategoryGiving, 9), lastRun, true)
	s.tx("fam-chen", "u-max", "u-max", ledger.CategorySpending, -450, "Comic book", s.now.Add(-5*24*time.Hour), false)
	s.tx("fam-chen", "u-max", "u-wei", ledger.CategoryGiving, -500, "Food bank donation", s.now.Add(-2*24*time.Hour), false)

	s.runState("u-max", lastRun)
	return s.err
}

func loadMissingSettingsScenario(s *seeder) error {
	created := s.now.Add(-2 * allowance.Week)

	s.family("fam-okafor", "Okafor Family", created)
	s.user("u-ada", "ada", "Ada Okafor", created)
	s.user("u-obi", "obi", "Obi Okafor", created)
	s.member("fam-okafor", "u-ada", family.RoleParent)
	s.member("fam-okafor", "u-obi", family.RoleChild)

	s.insert(s.setting("fam-okafor", "u-obi", "u-ada", allowance.SettingInput{Category: "SPENDING", Amount: 500, Period: "WEEK"}, created),
		s.setting("fam-okafor", "u-obi", "u-ada", allowance.SettingInput{Category: "GIVING", Amount: 100, Period: "WEEK"}, created))
	return s.err
}

func loadSharedCustodyScenario(s *seeder) error {
	created := s.now.Add(-2 * allowance.Week)

	s.family("fam-north", "North Household", created)
	s.family("fam-south", "South Household", created)
	s.user("u-sam", "sam", "Sam North", created)
	s.user("u-kim", "kim", "Kim South", created)
	s.user("u-jo", "jo", "Jo North-South", created)
	s.member("fam-north", "u-sam", family.RoleParent)
	s.member("fam-south", "u-kim", family.RoleParent)
	s.member("fam-north", "u-jo", family.RoleChild)
	s.member("fam-south", "u-jo", family.RoleChild)

	s.settings("fam-north", "u-jo", "u-sam", 500, 1000, 100, created)
	return s.err
}

// =============================================================================
// SEEDER
// =============================================================================

// seeder writes scenario rows and keeps the first error, so loaders read as
// a flat list of facts.
type seeder struct {
	h   *Handler
	ctx context.Context
	now time.Time
	n   int
	err error
}

func (h *Handler) seeder(ctx context.Context) *seeder {
	return &seeder{h: h, ctx: ctx, now: h.now()}
}

func (s *seeder) nextID(prefix string) string {
	s.n++
	return fmt.Sprintf("%s-%d", prefix, s.n)
}

func (s *seeder) family(id family.FamilyID, name string, created time.Time) {
	if s.err != nil {
		return
	}
	s.err = s.h.Store.CreateFamily(s.ctx, family.Family{ID: id, Name: name, Currency: "USD", CreatedAt: created})
}

func (s *seeder) user(id family.UserID, username, name string, created time.Time) {
	if s.err != nil {
		return
	}
	s.err = s.h.Store.CreateUser(s.ctx, family.User{ID: id, Username: username, Name: name, CreatedAt: created})
}

func (s *seeder) member(fam family.FamilyID, user family.UserID, role family.Role) {
	if s.err != nil {
		return
	}
	s.err = s.h.Store.AddMember(s.ctx, family.Member{
		ID:        s.nextID("member"),
		FamilyID:  fam,
		UserID:    user,
		Role:      role,
		CreatedAt: s.now,
	})
}

func (s *seeder) setting(fam family.FamilyID, user, by family.UserID, in allowance.SettingInput, at time.Time) allowance.Setting {
	st, err := allowance.NewSetting(in, user, fam, by, at)
	if err != nil && s.err == nil {
		s.err = err
	}
	return st
}

// settings inserts a complete rule set: spending and giving in cents per
// week, saving in basis points per year.
func (s *seeder) settings(fam family.FamilyID, user, by family.UserID, spending, savingBP, giving int64, at time.Time) {
	s.insert(
		s.setting(fam, user, by, allowance.SettingInput{Category: "SPENDING", Amount: spending, Period: "WEEK"}, at),
		s.setting(fam, user, by, allowance.SettingInput{Category: "SAVING", Amount: savingBP, IsPercentage: true, Period: "YEAR"}, at),
		s.setting(fam, user, by, allowance.SettingInput{Category: "GIVING", Amount: giving, Period: "WEEK"}, at),
	)
}

func (s *seeder) insert(settings ...allowance.Setting) {
	if s.err != nil {
		return
	}
	s.err = s.h.Store.InsertSettings(s.ctx, settings)
}

func (s *seeder) tx(fam family.FamilyID, owner, by family.UserID, c ledger.Category, amount ledger.Cents, desc string, at time.Time, system bool) {
	if s.err != nil {
		return
	}
	s.err = s.h.Store.Append(s.ctx, ledger.Transaction{
		ID:              ledger.TransactionID(s.nextID("tx-" + string(owner))),
		OwnerID:         owner,
		CreatedByID:     by,
		FamilyID:        fam,
		Category:        c,
		Amount:          amount,
		Description:     desc,
		Date:            at,
		IsSystemCreated: system,
		CreatedAt:       at,
	})
}

func (s *seeder) runState(user family.UserID, lastRun time.Time) {
	if s.err != nil {
		return
	}
	s.err = s.h.Store.ResetRunState(s.ctx, user, lastRun)
}
