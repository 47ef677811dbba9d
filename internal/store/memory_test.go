package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"number-shop/internal/money"
)

func TestMemoryBalanceRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	u, err := m.GetOrCreateUser(ctx, 7, "alice", "Alice")
	require.NoError(t, err)
	assert.Zero(t, u.Balance)

	u, err = m.CreditBalance(ctx, 7, 15000)
	require.NoError(t, err)
	assert.EqualValues(t, 15000, u.Balance)

	got, err := m.GetUser(ctx, 7)
	require.NoError(t, err)
	assert.EqualValues(t, 15000, got.Balance)
	assert.Equal(t, "alice", got.Username)

	_, err = m.DebitBalance(ctx, 7, 20000)
	require.ErrorIs(t, err, ErrInsufficientFunds)

	u, err = m.DebitBalance(ctx, 7, 5000)
	require.NoError(t, err)
	assert.EqualValues(t, 10000, u.Balance)

	_, err = m.DebitBalance(ctx, 99, 1)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryGetOrCreateKeepsBalance(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.GetOrCreateUser(ctx, 1, "old", "")
	require.NoError(t, err)
	_, err = m.CreditBalance(ctx, 1, 500)
	require.NoError(t, err)

	u, err := m.GetOrCreateUser(ctx, 1, "new", "New Name")
	require.NoError(t, err)
	assert.EqualValues(t, 500, u.Balance)
	assert.Equal(t, "new", u.Username)
	assert.Equal(t, "New Name", u.FullName)
}

func TestMemoryRejectsNonPositiveAmounts(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.GetOrCreateUser(ctx, 1, "u", "")
	require.NoError(t, err)

	_, err = m.DebitBalance(ctx, 1, -2)
	require.ErrorIs(t, err, money.ErrInvalidAmount)
	_, err = m.DebitBalance(ctx, 1, 0)
	require.ErrorIs(t, err, money.ErrInvalidAmount)
	_, err = m.CreditBalance(ctx, 1, -2)
	require.ErrorIs(t, err, money.ErrInvalidAmount)

	u, err := m.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, u.Balance)
}

func TestMemoryConcurrentDebitNeverNegative(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, _ = m.GetOrCreateUser(ctx, 1, "", "")
	_, _ = m.CreditBalance(ctx, 1, 1000)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.DebitBalance(ctx, 1, 100); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	u, err := m.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 10, succeeded)
	assert.Zero(t, u.Balance)
}

func TestMemoryStockClaimAndRelease(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.AddStock(ctx, StockItem{Country: "India", Number: "+918123456789"}))
	require.NoError(t, m.AddStock(ctx, StockItem{Country: "India", Number: "+918123456780"}))
	require.ErrorIs(t, m.AddStock(ctx, StockItem{Country: "India", Number: "+918123456789"}), ErrDuplicate)

	n, err := m.CountAvailable(ctx, "India")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	now := time.Now()
	first, err := m.ClaimStock(ctx, "India", 5, now)
	require.NoError(t, err)
	assert.Equal(t, "+918123456789", first.Number)
	assert.Equal(t, StockSold, first.Status)
	assert.EqualValues(t, 5, first.SoldTo)

	_, err = m.ClaimStock(ctx, "India", 5, now)
	require.NoError(t, err)
	_, err = m.ClaimStock(ctx, "India", 5, now)
	require.ErrorIs(t, err, ErrOutOfStock)

	require.NoError(t, m.ReleaseStock(ctx, first.ID))
	n, err = m.CountAvailable(ctx, "India")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	require.ErrorIs(t, m.ReleaseStock(ctx, "missing"), ErrNotFound)
}

func TestMemoryRechargeTransition(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	r := Recharge{ID: "r1", UserID: 1, Amount: 10000, PaymentID: "UTR1", Status: RechargePending, CreatedAt: time.Now().Add(-time.Hour)}
	require.NoError(t, m.InsertRecharge(ctx, r))
	require.ErrorIs(t, m.InsertRecharge(ctx, Recharge{ID: "r2", PaymentID: "UTR1"}), ErrDuplicate)

	got, err := m.TransitionRecharge(ctx, "r1", RechargePending, RechargeApproved, 42, time.Now())
	require.NoError(t, err)
	assert.Equal(t, RechargeApproved, got.Status)
	assert.EqualValues(t, 42, got.ReviewedBy)
	require.NotNil(t, got.ReviewedAt)

	_, err = m.TransitionRecharge(ctx, "r1", RechargePending, RechargeDeclined, 42, time.Now())
	require.ErrorIs(t, err, ErrConflict)

	_, err = m.TransitionRecharge(ctx, "nope", RechargePending, RechargeDeclined, 42, time.Now())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryListRecharges(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now()

	require.NoError(t, m.InsertRecharge(ctx, Recharge{ID: "old", PaymentID: "A", Status: RechargePending, CreatedAt: now.Add(-48 * time.Hour)}))
	require.NoError(t, m.InsertRecharge(ctx, Recharge{ID: "new", PaymentID: "B", Status: RechargePending, CreatedAt: now}))
	require.NoError(t, m.InsertRecharge(ctx, Recharge{ID: "done", PaymentID: "C", Status: RechargeApproved, CreatedAt: now.Add(-72 * time.Hour)}))

	all, err := m.ListRecharges(ctx, RechargePending, time.Time{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "old", all[0].ID)

	stale, err := m.ListRecharges(ctx, RechargePending, now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "old", stale[0].ID)

	require.NoError(t, m.MarkReminded(ctx, "old", now))
	got, err := m.GetRecharge(ctx, "old")
	require.NoError(t, err)
	assert.NotNil(t, got.RemindedAt)
}

func TestMemoryCountries(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Now()

	require.NoError(t, m.UpsertCountry(ctx, Country{Name: "India", Region: "IN", CreatedAt: base}))
	require.NoError(t, m.UpsertCountry(ctx, Country{Name: "Chile", Region: "CL", CreatedAt: base.Add(time.Second)}))
	require.NoError(t, m.UpsertCountry(ctx, Country{Name: "India", Region: "IN", Price: 3000}))

	list, err := m.ListCountries(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "India", list[0].Name)
	assert.EqualValues(t, 3000, list[0].Price)

	require.NoError(t, m.DeleteCountry(ctx, "Chile"))
	require.ErrorIs(t, m.DeleteCountry(ctx, "Chile"), ErrNotFound)
	_, err = m.GetCountry(ctx, "Chile")
	require.ErrorIs(t, err, ErrNotFound)
}
