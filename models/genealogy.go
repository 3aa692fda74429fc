package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// MaxDepth is the deepest level a node may sit at and the number of cached ancestors.
	MaxDepth = 5
	// RootPath is the materialized path of every root node.
	RootPath = "/"
)

// AncestorCache is the upline snapshot taken when a node is created.
// Index i holds the ancestor at commission level i+1; an empty string means no ancestor.
type AncestorCache [MaxDepth]string

// At returns the ancestor at level (1..MaxDepth).
func (c AncestorCache) At(level int) (string, bool) {
	if level < 1 || level > MaxDepth {
		return "", false
	}
	id := c[level-1]
	return id, id != ""
}

// List returns the non-empty cache entries ordered level 1 to MaxDepth.
func (c AncestorCache) List() []Ancestor {
	out := make([]Ancestor, 0, MaxDepth)
	for i, id := range c {
		if id == "" {
			continue
		}
		out = append(out, Ancestor{Level: i + 1, UserID: id})
	}
	return out
}

// Contains reports whether userID is cached at any level.
func (c AncestorCache) Contains(userID string) bool {
	for _, id := range c {
		if id != "" && id == userID {
			return true
		}
	}
	return false
}

// Ancestor is one upline member and its distance from the node.
type Ancestor struct {
	Level  int    `json:"level" bson:"level"`
	UserID string `json:"userId" bson:"userId"`
}

// GenealogyNode is one member of the referral tree.
//
// TotalTeamSize counts direct referrals from the moment they are onboarded, and deeper
// descendants only once their first deposit has been distributed. A member who never deposits
// is counted by its parent and by no other ancestor.
type GenealogyNode struct {
	UserID           string          `json:"userId" bson:"userId"`
	ParentUserID     string          `json:"parentUserId,omitempty" bson:"parentUserId,omitempty"`
	Level            int             `json:"level" bson:"level"`
	Path             string          `json:"path" bson:"path"`
	ReferralCode     string          `json:"referralCode" bson:"referralCode"`
	DirectReferrals  []string        `json:"directReferrals" bson:"directReferrals"`
	TotalTeamSize    int64           `json:"totalTeamSize" bson:"totalTeamSize"`
	TotalTeamVolume  decimal.Decimal `json:"totalTeamVolume" bson:"totalTeamVolume"`
	CommissionEarned decimal.Decimal `json:"commissionEarned" bson:"commissionEarned"`
	Ancestors        AncestorCache   `json:"ancestors" bson:"ancestors"`
	ActivatedAt      *time.Time      `json:"activatedAt,omitempty" bson:"activatedAt,omitempty"`
	ArchivedAt       *time.Time      `json:"archivedAt,omitempty" bson:"archivedAt,omitempty"`
	CreatedAt        time.Time       `json:"createdAt" bson:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt" bson:"updatedAt"`
}

// IsRoot reports whether the node has no upline.
func (n *GenealogyNode) IsRoot() bool {
	return n.Level == 0
}

// HasDirectReferral reports whether childUserID was referred by this node.
func (n *GenealogyNode) HasDirectReferral(childUserID string) bool {
	for _, id := range n.DirectReferrals {
		if id == childUserID {
			return true
		}
	}
	return false
}

// NewRootNode builds a level 0 node with an empty ancestor cache.
func NewRootNode(userID, referralCode string, at time.Time) *GenealogyNode {
	return &GenealogyNode{
		UserID:           userID,
		Level:            0,
		Path:             RootPath,
		ReferralCode:     referralCode,
		DirectReferrals:  []string{},
		TotalTeamVolume:  decimal.Zero,
		CommissionEarned: decimal.Zero,
		CreatedAt:        at,
		UpdatedAt:        at,
	}
}

// NewChildNode derives a node under parent. This is the only place the ancestor cache is
// computed; it is copied from the parent's snapshot and never recomputed from the live tree.
func NewChildNode(userID, referralCode string, parent *GenealogyNode, at time.Time) (*GenealogyNode, error) {
	if parent == nil {
		return nil, fmt.Errorf("%w: parent node is required", ErrValidation)
	}
	if userID == parent.UserID || parent.Ancestors.Contains(userID) {
		return nil, fmt.Errorf("%w: user %s cannot be its own ancestor", ErrInvariantViolation, userID)
	}
	if parent.Level >= MaxDepth {
		return nil, fmt.Errorf("%w: parent %s is at level %d", ErrDepthExceeded, parent.UserID, parent.Level)
	}

	var cache AncestorCache
	cache[0] = parent.UserID
	for k := 2; k <= MaxDepth; k++ {
		cache[k-1] = parent.Ancestors[k-2]
	}

	return &GenealogyNode{
		UserID:           userID,
		ParentUserID:     parent.UserID,
		Level:            parent.Level + 1,
		Path:             parent.Path + userID + "/",
		ReferralCode:     referralCode,
		DirectReferrals:  []string{},
		TotalTeamVolume:  decimal.Zero,
		CommissionEarned: decimal.Zero,
		Ancestors:        cache,
		CreatedAt:        at,
		UpdatedAt:        at,
	}, nil
}

// PathSegments returns the user ids encoded in the materialized path, shallowest first.
// The root's own id is not part of the path.
func PathSegments(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// Validate checks the structural invariants a node carries on its own.
func (n *GenealogyNode) Validate() error {
	if n.Level < 0 || n.Level > MaxDepth {
		return fmt.Errorf("%w: node %s level %d out of range", ErrInvariantViolation, n.UserID, n.Level)
	}
	if !strings.HasPrefix(n.Path, RootPath) || !strings.HasSuffix(n.Path, "/") {
		return fmt.Errorf("%w: node %s has malformed path %q", ErrInvariantViolation, n.UserID, n.Path)
	}
	segments := PathSegments(n.Path)
	if len(segments) != n.Level {
		return fmt.Errorf("%w: node %s path depth %d does not match level %d", ErrInvariantViolation, n.UserID, len(segments), n.Level)
	}
	if n.IsRoot() {
		if n.ParentUserID != "" || len(n.Ancestors.List()) != 0 {
			return fmt.Errorf("%w: root %s has an upline", ErrInvariantViolation, n.UserID)
		}
		return nil
	}
	if segments[len(segments)-1] != n.UserID {
		return fmt.Errorf("%w: node %s path does not end with its own id", ErrInvariantViolation, n.UserID)
	}
	if first, _ := n.Ancestors.At(1); first != n.ParentUserID {
		return fmt.Errorf("%w: node %s level 1 ancestor %q differs from parent %q", ErrInvariantViolation, n.UserID, first, n.ParentUserID)
	}
	if n.Ancestors.Contains(n.UserID) || n.HasDirectReferral(n.UserID) {
		return fmt.Errorf("%w: node %s references itself", ErrInvariantViolation, n.UserID)
	}
	// levels beyond the node's depth stay empty
	for k := n.Level + 1; k <= MaxDepth; k++ {
		if id, ok := n.Ancestors.At(k); ok {
			return fmt.Errorf("%w: node %s caches ancestor %s beyond its depth", ErrInvariantViolation, n.UserID, id)
		}
	}
	if n.TotalTeamSize < 0 || n.TotalTeamVolume.IsNegative() || n.CommissionEarned.IsNegative() {
		return fmt.Errorf("%w: node %s has negative statistics", ErrInvariantViolation, n.UserID)
	}
	return nil
}

// ValidateAgainstParent checks that the cached upline matches parent's snapshot shifted by one.
func (n *GenealogyNode) ValidateAgainstParent(parent *GenealogyNode) error {
	if parent == nil || parent.UserID != n.ParentUserID {
		return fmt.Errorf("%w: node %s validated against the wrong parent", ErrInvariantViolation, n.UserID)
	}
	if n.Level != parent.Level+1 {
		return fmt.Errorf("%w: node %s level %d, parent level %d", ErrInvariantViolation, n.UserID, n.Level, parent.Level)
	}
	if n.Path != parent.Path+n.UserID+"/" {
		return fmt.Errorf("%w: node %s path %q does not extend parent path %q", ErrInvariantViolation, n.UserID, n.Path, parent.Path)
	}
	for k := 2; k <= MaxDepth; k++ {
		if n.Ancestors[k-1] != parent.Ancestors[k-2] {
			return fmt.Errorf("%w: node %s level %d ancestor diverges from parent cache", ErrInvariantViolation, n.UserID, k)
		}
	}
	return nil
}

// TeamDelta is an atomic increment applied to a node's aggregate statistics.
type TeamDelta struct {
	Volume     decimal.Decimal
	TeamSize   int64
	Commission decimal.Decimal
}

// IsZero reports whether applying the delta would change nothing.
func (d TeamDelta) IsZero() bool {
	return d.Volume.IsZero() && d.TeamSize == 0 && d.Commission.IsZero()
}

// LevelStatistics aggregates the members sitting at one tree level.
type LevelStatistics struct {
	Level            int             `json:"level" bson:"_id"`
	Members          int64           `json:"members" bson:"members"`
	ActivatedMembers int64           `json:"activatedMembers" bson:"activatedMembers"`
	TeamVolume       decimal.Decimal `json:"teamVolume" bson:"teamVolume"`
	CommissionEarned decimal.Decimal `json:"commissionEarned" bson:"commissionEarned"`
}

// TeamStatistics is the network-wide aggregate served to dashboards.
type TeamStatistics struct {
	TotalMembers          int64             `json:"totalMembers"`
	RootMembers           int64             `json:"rootMembers"`
	ActivatedMembers      int64             `json:"activatedMembers"`
	NetworkVolume         decimal.Decimal   `json:"networkVolume"`
	TotalCommissionEarned decimal.Decimal   `json:"totalCommissionEarned"`
	MaxLevel              int               `json:"maxLevel"`
	Levels                []LevelStatistics `json:"levels"`
}

// NewTeamStatistics folds per-level aggregates into the network view. NetworkVolume is the
// downline volume seen by the roots, which counts every non-root member's distributed deposits once.
func NewTeamStatistics(levels []LevelStatistics) *TeamStatistics {
	stats := &TeamStatistics{
		NetworkVolume:         decimal.Zero,
		TotalCommissionEarned: decimal.Zero,
		Levels:                levels,
	}
	for _, l := range levels {
		stats.TotalMembers += l.Members
		stats.ActivatedMembers += l.ActivatedMembers
		stats.TotalCommissionEarned = stats.TotalCommissionEarned.Add(l.CommissionEarned)
		if l.Level == 0 {
			stats.RootMembers = l.Members
			stats.NetworkVolume = l.TeamVolume
		}
		if l.Members > 0 && l.Level > stats.MaxLevel {
			stats.MaxLevel = l.Level
		}
	}
	if stats.Levels == nil {
		stats.Levels = []LevelStatistics{}
	}
	return stats
}
