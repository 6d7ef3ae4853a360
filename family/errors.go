package family

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNoFamily        = errors.New("user has no family membership")
	ErrAmbiguousFamily = errors.New("user belongs to more than one family")
	ErrUserNotFound    = errors.New("user not found")
	ErrFamilyNotFound  = errors.New("family not found")
	ErrInvalidRole     = errors.New("invalid role")
)

// AmbiguousFamilyError lists the families a user could be attributed to.
type AmbiguousFamilyError struct {
	UserID    UserID
	FamilyIDs []FamilyID
}

func (e *AmbiguousFamilyError) Error() string {
	ids := make([]string, len(e.FamilyIDs))
	for i, id := range e.FamilyIDs {
		ids[i] = string(id)
	}
	return fmt.Sprintf("user %s belongs to %d families (%s)", e.UserID, len(ids), strings.Join(ids, ", "))
}

func (e *AmbiguousFamilyError) Unwrap() error { return ErrAmbiguousFamily }

type InvalidRoleError struct {
	Value string
}

func (e *InvalidRoleError) Error() string { return fmt.Sprintf("invalid role %q", e.Value) }

func (e *InvalidRoleError) Unwrap() error { return ErrInvalidRole }

// IsNotFound returns true if the error indicates a missing user or family.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUserNotFound) || errors.Is(err, ErrFamilyNotFound)
}
