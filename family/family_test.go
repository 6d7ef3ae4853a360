package family_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teich/bank4/family"
)

func TestAttribute_SingleMembership(t *testing.T) {
	members := []family.Member{
		{ID: "m1", FamilyID: "fam-a", UserID: "kid", Role: family.RoleChild},
		{ID: "m2", FamilyID: "fam-a", UserID: "mom", Role: family.RoleParent},
	}

	m, err := family.Attribute("kid", members)
	require.NoError(t, err)
	assert.Equal(t, family.FamilyID("fam-a"), m.FamilyID)
}

func TestAttribute_NoMembership(t *testing.T) {
	_, err := family.Attribute("ghost", nil)
	assert.ErrorIs(t, err, family.ErrNoFamily)
}

func TestAttribute_MultipleFamiliesIsAmbiguous(t *testing.T) {
	// GIVEN: A child who is a member of two households
	members := []family.Member{
		{ID: "m1", FamilyID: "fam-b", UserID: "kid", Role: family.RoleChild},
		{ID: "m2", FamilyID: "fam-a", UserID: "kid", Role: family.RoleChild},
	}

	// WHEN: Attributing postings
	_, err := family.Attribute("kid", members)

	// THEN: No family is guessed
	require.ErrorIs(t, err, family.ErrAmbiguousFamily)
	var amb *family.AmbiguousFamilyError
	require.True(t, errors.As(err, &amb))
	assert.Equal(t, []family.FamilyID{"fam-a", "fam-b"}, amb.FamilyIDs)
}

func TestCanActFor(t *testing.T) {
	members := []family.Member{
		{FamilyID: "fam", UserID: "mom", Role: family.RoleParent},
		{FamilyID: "fam", UserID: "kid", Role: family.RoleChild},
		{FamilyID: "fam", UserID: "sis", Role: family.RoleChild},
		{FamilyID: "other", UserID: "stranger", Role: family.RoleParent},
	}

	assert.True(t, family.CanActFor(members, "mom", "kid", "fam"), "parent acts for child")
	assert.True(t, family.CanActFor(members, "kid", "kid", "fam"), "child acts for self")
	assert.False(t, family.CanActFor(members, "sis", "kid", "fam"), "sibling cannot act")
	assert.False(t, family.CanActFor(members, "stranger", "kid", "fam"), "outside parent cannot act")
	assert.False(t, family.CanActFor(members, "mom", "stranger", "fam"), "owner must be in family")
}

func TestParseRole(t *testing.T) {
	r, err := family.ParseRole(" parent ")
	require.NoError(t, err)
	assert.Equal(t, family.RoleParent, r)

	_, err = family.ParseRole("uncle")
	assert.ErrorIs(t, err, family.ErrInvalidRole)
}
