package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/HSouheill/mlm_ledger/models"
	"github.com/HSouheill/mlm_ledger/repositories"
	"github.com/HSouheill/mlm_ledger/repositories/memory"
	"github.com/HSouheill/mlm_ledger/utils"
)

var (
	_ Transactor      = (*memory.Store)(nil)
	_ GenealogyStore  = (*memory.Store)(nil)
	_ LedgerStore     = (*memory.Store)(nil)
	_ CommissionStore = (*memory.Store)(nil)
	_ AccrualStore    = (*memory.Store)(nil)
	_ DepositStore    = (*memory.Store)(nil)
	_ WithdrawalStore = (*memory.Store)(nil)

	_ Transactor      = (*repositories.Store)(nil)
	_ GenealogyStore  = (*repositories.GenealogyRepository)(nil)
	_ LedgerStore     = (*repositories.LedgerRepository)(nil)
	_ CommissionStore = (*repositories.CommissionRepository)(nil)
	_ AccrualStore    = (*repositories.AccrualRepository)(nil)
	_ DepositStore    = (*repositories.DepositRepository)(nil)
	_ WithdrawalStore = (*repositories.WithdrawalRepository)(nil)
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func (c *fakeClock) set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type recordingSink struct {
	mu     sync.Mutex
	events []models.AuditEvent
}

func (r *recordingSink) Record(_ context.Context, e models.AuditEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingSink) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

type harness struct {
	store       *memory.Store
	clock       *fakeClock
	deps        Deps
	audit       *recordingSink
	ledger      *LedgerService
	genealogy   *GenealogyService
	commissions *CommissionService
	accruals    *AccrualService
	deposits    *DepositService
	events      *EventService
	withdrawals *WithdrawalService
}

type harnessOption func(h *harness, genealogy *GenealogyStore, deposits *DepositStore)

func withGenealogyStore(wrap func(*memory.Store) GenealogyStore) harnessOption {
	return func(h *harness, g *GenealogyStore, _ *DepositStore) { *g = wrap(h.store) }
}

func withDepositStore(wrap func(*memory.Store) DepositStore) harnessOption {
	return func(h *harness, _ *GenealogyStore, d *DepositStore) { *d = wrap(h.store) }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	store := memory.New()
	audit := &recordingSink{}
	clock := &fakeClock{now: time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)}
	h := &harness{
		store: store,
		clock: clock,
		audit: audit,
		deps:  Deps{Tx: store, Locker: NewLocalLocker(), Audit: audit, Now: clock.Now},
	}

	var genealogyStore GenealogyStore = store
	var depositStore DepositStore = store
	for _, opt := range opts {
		opt(h, &genealogyStore, &depositStore)
	}

	h.ledger = NewLedgerService(store, h.deps)
	h.genealogy = NewGenealogyService(genealogyStore, h.ledger, h.deps)
	h.commissions = NewCommissionService(store, genealogyStore, h.ledger, h.deps, 0)
	h.accruals = NewAccrualService(store, depositStore, h.ledger, h.deps, 4)
	h.events = NewEventService(h.commissions, h.accruals, h.deps)
	h.deposits = NewDepositService(depositStore, genealogyStore, h.ledger, h.deps)
	h.deposits.SetHandler(h.events)
	h.withdrawals = NewWithdrawalService(store, h.ledger, h.deps)
	return h
}

// onboardChain onboards ids so that each one is referred by the previous; ids[0] is a root.
func (h *harness) onboardChain(t *testing.T, ids ...string) map[string]*models.GenealogyNode {
	t.Helper()
	ctx := context.Background()
	nodes := make(map[string]*models.GenealogyNode, len(ids))
	code := ""
	for _, id := range ids {
		node, err := h.genealogy.Onboard(ctx, id, code)
		require.NoError(t, err, id)
		nodes[id] = node
		code = node.ReferralCode
	}
	return nodes
}

// deposit registers and confirms a deposit, which distributes commissions.
func (h *harness) deposit(t *testing.T, userID, depositID string, amount int64) *DistributionResult {
	t.Helper()
	ctx := context.Background()
	_, err := h.deposits.Register(ctx, userID, decimal.NewFromInt(amount), "", depositID)
	require.NoError(t, err)
	_, result, err := h.deposits.Confirm(ctx, depositID)
	require.NoError(t, err)
	return result
}

// startPeriod moves the clock to the first instant of period.
func (h *harness) startPeriod(t *testing.T, period string) {
	t.Helper()
	start, err := utils.ParsePeriod(period)
	require.NoError(t, err)
	h.clock.set(start)
}

func (h *harness) balance(t *testing.T, userID string, bucket models.Bucket) decimal.Decimal {
	t.Helper()
	b, err := h.ledger.GetBalance(context.Background(), userID, bucket)
	require.NoError(t, err)
	return b
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
