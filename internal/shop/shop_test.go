package shop

import (
	"context"
	"errors"
	"io"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"number-shop/internal/money"
	"number-shop/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.Memory) {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	st := store.NewMemory()
	svc := NewService(st, Options{DefaultPrice: money.FromFloat(140), MaxPerOrder: 5}, logger)
	return svc, st
}

func seedIndia(t *testing.T, svc *Service, numbers string) {
	t.Helper()
	ctx := context.Background()

	_, err := svc.AddCountry(ctx, "India", 0, false)
	require.NoError(t, err)
	report, err := svc.AddNumbers(ctx, 1, "India", numbers)
	require.NoError(t, err)
	require.NotEmpty(t, report.Added)
}

func TestBuySingleNumber(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService(t)
	seedIndia(t, svc, "+918123456789\n+918123456788")

	_, err := svc.Register(ctx, 10, "bob", "Bob")
	require.NoError(t, err)
	_, err = svc.Credit(ctx, 10, money.FromFloat(200))
	require.NoError(t, err)

	receipt, err := svc.Buy(ctx, 10, "India", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"+918123456789"}, receipt.Numbers)
	assert.Equal(t, money.FromFloat(140), receipt.Total)
	assert.Equal(t, money.FromFloat(60), receipt.Balance)

	left, err := st.CountAvailable(ctx, "India")
	require.NoError(t, err)
	assert.EqualValues(t, 1, left)

	history, err := svc.History(ctx, 10, 5)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, receipt.PurchaseID, history[0].ID)
}

func TestBuyInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService(t)
	seedIndia(t, svc, "+918123456789")

	_, err := svc.Register(ctx, 10, "bob", "")
	require.NoError(t, err)
	_, err = svc.Credit(ctx, 10, money.FromFloat(100))
	require.NoError(t, err)

	_, err = svc.Buy(ctx, 10, "India", 1)
	var funds *InsufficientFundsError
	require.True(t, errors.As(err, &funds))
	assert.ErrorIs(t, err, store.ErrInsufficientFunds)
	assert.Equal(t, money.FromFloat(100), funds.Balance)
	assert.Equal(t, money.FromFloat(140), funds.Required)

	left, err := st.CountAvailable(ctx, "India")
	require.NoError(t, err)
	assert.EqualValues(t, 1, left)
}

func TestBuyShortage(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	seedIndia(t, svc, "+918123456789")

	_, err := svc.Register(ctx, 10, "", "")
	require.NoError(t, err)
	_, err = svc.Credit(ctx, 10, money.FromFloat(1000))
	require.NoError(t, err)

	_, err = svc.Buy(ctx, 10, "India", 2)
	var shortage *StockShortageError
	require.True(t, errors.As(err, &shortage))
	assert.EqualValues(t, 1, shortage.Available)

	balance, err := svc.Balance(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, money.FromFloat(1000), balance)
}

func TestBuyQuantityBounds(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	seedIndia(t, svc, "+918123456789")

	_, err := svc.Buy(ctx, 10, "India", 0)
	require.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = svc.Buy(ctx, 10, "India", 6)
	require.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = svc.Buy(ctx, 10, "Atlantis", 1)
	require.ErrorIs(t, err, ErrUnknownCountry)
}

// shortStore hides stock from ClaimStock after the pre-check so the
// compensation path runs.
type shortStore struct {
	*store.Memory
	claims int
}

func (s *shortStore) ClaimStock(ctx context.Context, country string, userID int64, at time.Time) (*store.StockItem, error) {
	s.claims++
	if s.claims > 1 {
		return nil, store.ErrOutOfStock
	}
	return s.Memory.ClaimStock(ctx, country, userID, at)
}

func TestBuyRollsBackPartialClaim(t *testing.T) {
	ctx := context.Background()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	mem := store.NewMemory()
	st := &shortStore{Memory: mem}
	svc := NewService(st, Options{DefaultPrice: money.FromFloat(10), MaxPerOrder: 5}, logger)

	_, err := svc.AddCountry(ctx, "India", 0, false)
	require.NoError(t, err)
	_, err = svc.AddNumbers(ctx, 1, "India", "+918123456789\n+918123456788")
	require.NoError(t, err)
	_, err = svc.Register(ctx, 10, "", "")
	require.NoError(t, err)
	_, err = svc.Credit(ctx, 10, money.FromFloat(50))
	require.NoError(t, err)

	_, err = svc.Buy(ctx, 10, "India", 2)
	var shortage *StockShortageError
	require.True(t, errors.As(err, &shortage))

	balance, err := svc.Balance(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, money.FromFloat(50), balance)

	left, err := mem.CountAvailable(ctx, "India")
	require.NoError(t, err)
	assert.EqualValues(t, 2, left)
}

func TestConcurrentBuysNeverOversell(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService(t)
	seedIndia(t, svc, "+918123456789\n+918123456788\n+918123456787")

	const buyers = 10
	for i := int64(1); i <= buyers; i++ {
		_, err := svc.Register(ctx, i, "", "")
		require.NoError(t, err)
		_, err = svc.Credit(ctx, i, money.FromFloat(140))
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	sold := map[string]int64{}
	for i := int64(1); i <= buyers; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			receipt, err := svc.Buy(ctx, id, "India", 1)
			if err != nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			for _, n := range receipt.Numbers {
				sold[n] = id
			}
		}(i)
	}
	wg.Wait()

	assert.Len(t, sold, 3)
	left, err := st.CountAvailable(ctx, "India")
	require.NoError(t, err)
	assert.Zero(t, left)

	var spent int
	for i := int64(1); i <= buyers; i++ {
		balance, err := svc.Balance(ctx, i)
		require.NoError(t, err)
		if balance == 0 {
			spent++
		}
	}
	assert.Equal(t, 3, spent)
}

func TestAddNumbersReport(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	_, err := svc.AddCountry(ctx, "IN", 0, false)
	require.NoError(t, err)

	report, err := svc.AddNumbers(ctx, 1, "India", "+918123456789\n+918123456789\n+12015550123\nnot-a-number")
	require.NoError(t, err)
	assert.Equal(t, []string{"+918123456789"}, report.Added)
	assert.Equal(t, []string{"+918123456789"}, report.Duplicates)
	assert.Equal(t, []string{"+12015550123"}, report.Mismatched)
	assert.Equal(t, []string{"not-a-number"}, report.Invalid)

	_, err = svc.AddNumbers(ctx, 1, "Atlantis", "+918123456789")
	require.ErrorIs(t, err, ErrUnknownCountry)
}

func TestSetPriceAndCatalog(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	seeded, err := svc.SeedCountries(ctx, []string{"USA", "India", "Chile"})
	require.NoError(t, err)
	assert.Equal(t, 3, seeded)

	again, err := svc.SeedCountries(ctx, []string{"China"})
	require.NoError(t, err)
	assert.Zero(t, again)

	c, err := svc.SetPrice(ctx, "in", money.FromFloat(30), false)
	require.NoError(t, err)
	assert.Equal(t, "India", c.Name)

	c, err = svc.SetPrice(ctx, "United States", money.FromFloat(55), false)
	require.NoError(t, err)
	assert.Equal(t, "USA", c.Name)

	_, err = svc.SetPrice(ctx, "Narnia", money.FromFloat(10), false)
	require.ErrorIs(t, err, ErrUnknownCountry)

	c, err = svc.SetPrice(ctx, "Narnia", money.FromFloat(10), true)
	require.NoError(t, err)
	assert.Equal(t, "Narnia", c.Name)
	assert.Empty(t, c.Region)

	_, err = svc.SetPrice(ctx, "India", 0, false)
	require.ErrorIs(t, err, ErrInvalidAmount)

	offers, err := svc.Catalog(ctx)
	require.NoError(t, err)
	require.Len(t, offers, 4)
	prices := map[string]money.Amount{}
	for _, o := range offers {
		prices[o.Country.Name] = o.Price
	}
	assert.Equal(t, money.FromFloat(55), prices["USA"])
	assert.Equal(t, money.FromFloat(30), prices["India"])
	assert.Equal(t, money.FromFloat(140), prices["Chile"])
	assert.Equal(t, money.FromFloat(10), prices["Narnia"])
}

func TestAddCountryKeepsStoredPrice(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService(t)

	_, err := svc.AddCountry(ctx, "India", money.FromFloat(250), false)
	require.NoError(t, err)

	c, err := svc.AddCountry(ctx, "India", 0, true)
	require.NoError(t, err)
	assert.Equal(t, money.FromFloat(250), c.Price)

	stored, err := st.GetCountry(ctx, "India")
	require.NoError(t, err)
	assert.Equal(t, money.FromFloat(250), stored.Price)
	assert.Equal(t, money.FromFloat(250), svc.EffectivePrice(*stored))

	c, err = svc.AddCountry(ctx, "India", money.FromFloat(90), false)
	require.NoError(t, err)
	assert.Equal(t, money.FromFloat(90), c.Price)
}

func TestBuyRejectsOverflowingTotal(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService(t)
	seedIndia(t, svc, "+918123456789\n+918123456788")

	_, err := svc.SetPrice(ctx, "India", money.Amount(math.MaxInt64), false)
	require.ErrorIs(t, err, ErrInvalidAmount)

	india, err := st.GetCountry(ctx, "India")
	require.NoError(t, err)
	india.Price = money.Amount(math.MaxInt64/2 + 1)
	require.NoError(t, st.UpsertCountry(ctx, *india))

	_, err = svc.Register(ctx, 42, "buyer", "Buyer")
	require.NoError(t, err)

	_, err = svc.Buy(ctx, 42, "India", 2)
	require.ErrorIs(t, err, ErrInvalidAmount)

	bal, err := svc.Balance(ctx, 42)
	require.NoError(t, err)
	assert.Zero(t, bal)

	available, err := st.CountAvailable(ctx, "India")
	require.NoError(t, err)
	assert.EqualValues(t, 2, available)
}

func TestRechargeApproveOnce(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	_, err := svc.Register(ctx, 10, "bob", "Bob")
	require.NoError(t, err)

	r, err := svc.SubmitRecharge(ctx, RechargeRequest{
		UserID:     10,
		Username:   "bob",
		Amount:     money.FromFloat(250),
		PaymentID:  " UTR123 ",
		Screenshot: "file-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "UTR123", r.PaymentID)
	assert.Equal(t, store.MethodManual, r.Method)
	assert.Equal(t, store.RechargePending, r.Status)

	_, err = svc.SubmitRecharge(ctx, RechargeRequest{UserID: 11, Amount: 100, PaymentID: "UTR123"})
	require.ErrorIs(t, err, store.ErrDuplicate)

	var wg sync.WaitGroup
	results := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := svc.ApproveRecharge(ctx, r.ID, 99)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	approved := 0
	for err := range results {
		if err == nil {
			approved++
			continue
		}
		assert.True(t, IsReviewed(err))
	}
	assert.Equal(t, 1, approved)

	balance, err := svc.Balance(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, money.FromFloat(250), balance)

	_, err = svc.DeclineRecharge(ctx, r.ID, 99)
	assert.True(t, IsReviewed(err))
}

func TestRechargeValidation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	_, err := svc.SubmitRecharge(ctx, RechargeRequest{UserID: 1, Amount: 0, PaymentID: "X"})
	require.ErrorIs(t, err, ErrInvalidAmount)
	_, err = svc.SubmitRecharge(ctx, RechargeRequest{UserID: 1, Amount: 100, PaymentID: "two words"})
	require.ErrorIs(t, err, ErrInvalidPaymentID)
	_, err = svc.SubmitRecharge(ctx, RechargeRequest{UserID: 1, Amount: 100, PaymentID: "   "})
	require.ErrorIs(t, err, ErrInvalidPaymentID)
}

func TestPendingRecharges(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	now := time.Date(2025, 1, 2, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now.Add(-30 * time.Hour) }
	old, err := svc.SubmitRecharge(ctx, RechargeRequest{UserID: 1, Amount: 100, PaymentID: "OLD"})
	require.NoError(t, err)

	svc.now = func() time.Time { return now }
	_, err = svc.SubmitRecharge(ctx, RechargeRequest{UserID: 1, Amount: 100, PaymentID: "NEW"})
	require.NoError(t, err)

	all, err := svc.PendingRecharges(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	stale, err := svc.PendingRecharges(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, old.ID, stale[0].ID)
}
