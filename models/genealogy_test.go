package models

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2024, time.January, 15, 12, 0, 0, 0, time.UTC)

// buildChain returns root -> u1 -> ... -> u<depth>.
func buildChain(t *testing.T, depth int) []*GenealogyNode {
	t.Helper()
	chain := []*GenealogyNode{NewRootNode("root", "USR-ROOT22", testTime)}
	for i := 1; i <= depth; i++ {
		child, err := NewChildNode(fmt.Sprintf("u%d", i), "", chain[i-1], testTime)
		require.NoError(t, err)
		chain = append(chain, child)
	}
	return chain
}

// walkUp follows parent links, nearest first, at most MaxDepth steps.
func walkUp(byID map[string]*GenealogyNode, node *GenealogyNode) []string {
	var out []string
	for cur := node; cur.ParentUserID != "" && len(out) < MaxDepth; {
		out = append(out, cur.ParentUserID)
		cur = byID[cur.ParentUserID]
	}
	return out
}

func TestAncestorCacheMatchesParentWalk(t *testing.T) {
	chain := buildChain(t, MaxDepth)
	byID := make(map[string]*GenealogyNode, len(chain))
	for _, n := range chain {
		byID[n.UserID] = n
	}

	for _, n := range chain {
		require.NoError(t, n.Validate(), n.UserID)
		walk := walkUp(byID, n)
		list := n.Ancestors.List()
		require.Len(t, list, len(walk), n.UserID)
		for i, a := range list {
			assert.Equal(t, i+1, a.Level)
			assert.Equal(t, walk[i], a.UserID)
		}
		if n.ParentUserID != "" {
			assert.NoError(t, n.ValidateAgainstParent(byID[n.ParentUserID]))
		}
	}
}

func TestNewChildNode(t *testing.T) {
	chain := buildChain(t, 2)
	c := chain[2]

	assert.Equal(t, 2, c.Level)
	assert.Equal(t, "/u1/u2/", c.Path)
	assert.Equal(t, []string{"u1", "u2"}, PathSegments(c.Path))
	first, ok := c.Ancestors.At(1)
	assert.True(t, ok)
	assert.Equal(t, "u1", first)
	second, ok := c.Ancestors.At(2)
	assert.True(t, ok)
	assert.Equal(t, "root", second)
	_, ok = c.Ancestors.At(3)
	assert.False(t, ok)
	_, ok = c.Ancestors.At(0)
	assert.False(t, ok)
}

func TestNewChildNodeDepthExceeded(t *testing.T) {
	chain := buildChain(t, MaxDepth)
	_, err := NewChildNode("too-deep", "", chain[MaxDepth], testTime)
	assert.ErrorIs(t, err, ErrDepthExceeded)
}

func TestNewChildNodeRejectsCycles(t *testing.T) {
	chain := buildChain(t, 3)
	_, err := NewChildNode("u3", "", chain[3], testTime)
	assert.ErrorIs(t, err, ErrInvariantViolation)
	_, err = NewChildNode("root", "", chain[3], testTime)
	assert.ErrorIs(t, err, ErrInvariantViolation)
	_, err = NewChildNode("x", "", nil, testTime)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestValidateDetectsCorruption(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(n *GenealogyNode)
	}{
		{"level out of range", func(n *GenealogyNode) { n.Level = MaxDepth + 1 }},
		{"path depth", func(n *GenealogyNode) { n.Path = "/u1/" }},
		{"parent mismatch", func(n *GenealogyNode) { n.ParentUserID = "someone" }},
		{"ancestor beyond depth", func(n *GenealogyNode) { n.Ancestors[4] = "ghost" }},
		{"negative team size", func(n *GenealogyNode) { n.TotalTeamSize = -1 }},
		{"negative volume", func(n *GenealogyNode) { n.TotalTeamVolume = decimal.NewFromInt(-1) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := buildChain(t, 2)[2]
			tt.mutate(n)
			assert.ErrorIs(t, n.Validate(), ErrInvariantViolation)
		})
	}
}

func TestRootHasNoUpline(t *testing.T) {
	root := NewRootNode("root", "", testTime)
	require.NoError(t, root.Validate())
	assert.True(t, root.IsRoot())
	assert.Empty(t, root.Ancestors.List())

	root.Ancestors[0] = "x"
	assert.ErrorIs(t, root.Validate(), ErrInvariantViolation)
}

func TestNewTeamStatistics(t *testing.T) {
	stats := NewTeamStatistics([]LevelStatistics{
		{Level: 0, Members: 2, ActivatedMembers: 1, TeamVolume: decimal.NewFromInt(3000), CommissionEarned: decimal.NewFromInt(150)},
		{Level: 1, Members: 3, ActivatedMembers: 3, TeamVolume: decimal.NewFromInt(1000), CommissionEarned: decimal.NewFromInt(100)},
		{Level: 2, Members: 0},
	})
	assert.Equal(t, int64(5), stats.TotalMembers)
	assert.Equal(t, int64(2), stats.RootMembers)
	assert.Equal(t, int64(4), stats.ActivatedMembers)
	assert.True(t, stats.NetworkVolume.Equal(decimal.NewFromInt(3000)))
	assert.True(t, stats.TotalCommissionEarned.Equal(decimal.NewFromInt(250)))
	assert.Equal(t, 1, stats.MaxLevel)

	empty := NewTeamStatistics(nil)
	assert.NotNil(t, empty.Levels)
	assert.Zero(t, empty.TotalMembers)
}

func TestTeamDeltaIsZero(t *testing.T) {
	assert.True(t, TeamDelta{}.IsZero())
	assert.False(t, TeamDelta{TeamSize: 1}.IsZero())
	assert.False(t, TeamDelta{Volume: decimal.NewFromInt(1)}.IsZero())
}
