package allowance

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/teich/bank4/family"
	"github.com/teich/bank4/ledger"
)

// SettingInput is a requested new setting version.
type SettingInput struct {
	Category     string
	Amount       int64
	IsPercentage bool
	Period       string
}

// NewSetting validates an input and stamps it as a new version.
func NewSetting(in SettingInput, userID family.UserID, familyID family.FamilyID, createdBy family.UserID, now time.Time) (Setting, error) {
	c, err := ledger.ParseCategory(in.Category)
	if err != nil {
		return Setting{}, &SettingError{Field: "category", Message: err.Error()}
	}
	s := Setting{
		ID:           uuid.NewString(),
		UserID:       userID,
		FamilyID:     familyID,
		CreatedByID:  createdBy,
		Category:     c,
		Amount:       in.Amount,
		IsPercentage: in.IsPercentage,
		Period:       Period(strings.ToUpper(strings.TrimSpace(in.Period))),
		CreatedAt:    now,
	}
	return s, s.Validate()
}

// Validate enforces the per-category shape: SAVING is an annual percentage
// in basis points, SPENDING and GIVING are flat weekly cent amounts.
func (s Setting) Validate() error {
	if s.UserID == "" {
		return &SettingError{Category: s.Category, Field: "user_id", Message: "is required"}
	}
	if s.FamilyID == "" {
		return &SettingError{Category: s.Category, Field: "family_id", Message: "is required"}
	}
	if s.CreatedByID == "" {
		return &SettingError{Category: s.Category, Field: "created_by_id", Message: "is required"}
	}
	if s.Amount < 0 {
		return &SettingError{Category: s.Category, Field: "amount", Message: "must not be negative"}
	}

	switch s.Category {
	case ledger.CategorySaving:
		if !s.IsPercentage {
			return &SettingError{Category: s.Category, Field: "is_percentage", Message: "must be true"}
		}
		if s.Period != PeriodYear {
			return &SettingError{Category: s.Category, Field: "period", Message: "must be YEAR"}
		}
	case ledger.CategorySpending, ledger.CategoryGiving:
		if s.IsPercentage {
			return &SettingError{Category: s.Category, Field: "is_percentage", Message: "must be false"}
		}
		if s.Period != PeriodWeek {
			return &SettingError{Category: s.Category, Field: "period", Message: "must be WEEK"}
		}
	default:
		return &SettingError{Field: "category", Message: "must be SPENDING, SAVING or GIVING"}
	}
	return nil
}

// Latest resolves the effective setting per category from a history in
// insertion order. The greatest CreatedAt wins; on a tie the later insert wins.
func Latest(history []Setting) Settings {
	var out Settings
	pick := func(cur **Setting, s *Setting) {
		if *cur == nil || !s.CreatedAt.Before((*cur).CreatedAt) {
			*cur = s
		}
	}
	for i := range history {
		s := &history[i]
		switch s.Category {
		case ledger.CategorySpending:
			pick(&out.Spending, s)
		case ledger.CategorySaving:
			pick(&out.Saving, s)
		case ledger.CategoryGiving:
			pick(&out.Giving, s)
		}
	}
	return out
}
