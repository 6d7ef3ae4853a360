/*
Package family models the people an allowance is paid to and the households
that own their ledgers.

KEY CONCEPTS:
  - User:   an account holder (parent or child)
  - Family: a household; every ledger entry is attributed to exactly one
  - Member: a user's membership in a family, with a role

ATTRIBUTION:
  A user may be a member of several families. Automated postings need a
  single family to attribute to, so Attribute refuses to guess: zero
  memberships and more than one membership are both reported as errors
  the caller can skip on.

SEE ALSO:
  - ledger/types.go: Transactions are keyed by (owner, family)
  - allowance/engine.go: Uses Attribute before posting
*/
package family

import (
	"sort"
	"strings"
	"time"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type FamilyID string

// =============================================================================
// ROLES
// =============================================================================

type Role string

const (
	RoleParent Role = "PARENT"
	RoleChild  Role = "CHILD"
)

// ParseRole accepts any casing ("parent", "Parent", "PARENT").
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToUpper(strings.TrimSpace(s))); r {
	case RoleParent, RoleChild:
		return r, nil
	default:
		return "", &InvalidRoleError{Value: s}
	}
}

// =============================================================================
// ENTITIES
// =============================================================================

type User struct {
	ID        UserID
	Username  string
	Name      string
	Email     string
	CreatedAt time.Time
}

type Family struct {
	ID        FamilyID
	Name      string
	Currency  string
	CreatedAt time.Time
}

type Member struct {
	ID        string
	FamilyID  FamilyID
	UserID    UserID
	Role      Role
	CreatedAt time.Time
}

func (m Member) IsParent() bool { return m.Role == RoleParent }

// =============================================================================
// ATTRIBUTION
// =============================================================================

// Attribute returns the single family membership a user's postings belong to.
// Returns ErrNoFamily when the user has no membership and an
// *AmbiguousFamilyError when the user belongs to more than one family.
func Attribute(userID UserID, members []Member) (Member, error) {
	var own []Member
	for _, m := range members {
		if m.UserID == userID {
			own = append(own, m)
		}
	}

	switch len(own) {
	case 0:
		return Member{}, ErrNoFamily
	case 1:
		return own[0], nil
	default:
		ids := make([]FamilyID, 0, len(own))
		for _, m := range own {
			ids = append(ids, m.FamilyID)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		return Member{}, &AmbiguousFamilyError{UserID: userID, FamilyIDs: ids}
	}
}

// MembershipIn finds the user's membership in a specific family.
func MembershipIn(members []Member, userID UserID, familyID FamilyID) (Member, bool) {
	for _, m := range members {
		if m.UserID == userID && m.FamilyID == familyID {
			return m, true
		}
	}
	return Member{}, false
}

// CanActFor reports whether actor may record entries on owner's ledger in a
// family: parents may act for anyone in their family, everyone else only for
// themselves.
func CanActFor(members []Member, actor, owner UserID, familyID FamilyID) bool {
	if _, ok := MembershipIn(members, owner, familyID); !ok {
		return false
	}
	if actor == owner {
		return true
	}
	m, ok := MembershipIn(members, actor, familyID)
	return ok && m.IsParent()
}
