package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HSouheill/mlm_ledger/models"
	"github.com/HSouheill/mlm_ledger/utils"
)

func TestOnboardBuildsAncestorCache(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	nodes := h.onboardChain(t, "A", "B", "C")

	c := nodes["C"]
	assert.Equal(t, 2, c.Level)
	assert.Equal(t, "B", c.ParentUserID)
	assert.Equal(t, "/B/C/", c.Path)
	assert.True(t, utils.IsReferralCode(c.ReferralCode))

	ancestors, err := h.genealogy.GetAncestors(ctx, "C")
	require.NoError(t, err)
	assert.Equal(t, []models.Ancestor{{Level: 1, UserID: "B"}, {Level: 2, UserID: "A"}}, ancestors)

	a, err := h.genealogy.GetNode(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, a.DirectReferrals)
	assert.Equal(t, int64(1), a.TotalTeamSize)

	for _, id := range []string{"A", "B", "C"} {
		assert.NoError(t, h.genealogy.VerifyNode(ctx, id), id)
	}

	summary, err := h.ledger.GetSummary(ctx, "C")
	require.NoError(t, err)
	assert.Len(t, summary.Buckets, 4)
	assert.Equal(t, 3, h.audit.count(models.AuditNodeCreated))
}

func TestOnboardRejectsDepthBeyondFive(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ids := []string{"root"}
	for i := 1; i <= models.MaxDepth; i++ {
		ids = append(ids, fmt.Sprintf("u%d", i))
	}
	nodes := h.onboardChain(t, ids...)

	deepest := nodes[fmt.Sprintf("u%d", models.MaxDepth)]
	assert.Equal(t, models.MaxDepth, deepest.Level)
	assert.Len(t, deepest.Ancestors.List(), models.MaxDepth)

	_, err := h.genealogy.Onboard(ctx, "u6", deepest.ReferralCode)
	assert.ErrorIs(t, err, models.ErrDepthExceeded)

	// the failed onboarding left nothing behind
	_, err = h.genealogy.GetNode(ctx, "u6")
	assert.ErrorIs(t, err, models.ErrNotFound)
	parent, err := h.genealogy.GetNode(ctx, deepest.UserID)
	require.NoError(t, err)
	assert.Empty(t, parent.DirectReferrals)
}

func TestOnboardValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.onboardChain(t, "A")

	_, err := h.genealogy.Onboard(ctx, "A", "")
	assert.ErrorIs(t, err, models.ErrDuplicate)

	_, err = h.genealogy.Onboard(ctx, "X", "not-a-code")
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = h.genealogy.Onboard(ctx, "X", "USR-AAAAAA")
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = h.genealogy.Onboard(ctx, "", "")
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestArchivedReferrerCannotRecruit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	nodes := h.onboardChain(t, "A", "B")
	require.NoError(t, h.genealogy.Archive(ctx, "B"))

	_, err := h.genealogy.Onboard(ctx, "C", nodes["B"].ReferralCode)
	assert.ErrorIs(t, err, models.ErrValidation)

	// archiving keeps B in place for its upline
	children, err := h.genealogy.ListDirectReferrals(ctx, "A")
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "B", children[0].UserID)
	assert.NotNil(t, children[0].ArchivedAt)
}

func TestAddDirectReferralIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.onboardChain(t, "A", "B")

	added, err := h.genealogy.AddDirectReferral(ctx, "A", "B")
	require.NoError(t, err)
	assert.False(t, added)

	_, err = h.genealogy.AddDirectReferral(ctx, "A", "A")
	assert.ErrorIs(t, err, models.ErrInvariantViolation)

	a, err := h.genealogy.GetNode(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, int64(1), a.TotalTeamSize)
}

func TestTeamSizeCountsDeeperMembersOnFirstDeposit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.onboardChain(t, "A", "B", "C")

	teamSize := func(id string) int64 {
		n, err := h.genealogy.GetNode(ctx, id)
		require.NoError(t, err)
		return n.TotalTeamSize
	}
	assert.Equal(t, int64(1), teamSize("A"))
	assert.Equal(t, int64(1), teamSize("B"))
	assert.Zero(t, teamSize("C"))

	h.deposit(t, "C", "dep-1", 1000)
	assert.Equal(t, int64(2), teamSize("A"))
	assert.Equal(t, int64(1), teamSize("B"))
}

func TestApplyTeamDeltaNeverGoesNegative(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.onboardChain(t, "A")

	require.NoError(t, h.genealogy.ApplyTeamDelta(ctx, "A", dec("100"), 2, dec("5")))
	err := h.genealogy.ApplyTeamDelta(ctx, "A", dec("-101"), 0, dec("0"))
	assert.ErrorIs(t, err, models.ErrInvariantViolation)

	a, err := h.genealogy.GetNode(ctx, "A")
	require.NoError(t, err)
	assert.True(t, a.TotalTeamVolume.Equal(dec("100")))
	assert.Equal(t, int64(2), a.TotalTeamSize)
}
