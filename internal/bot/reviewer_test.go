package bot

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"number-shop/internal/money"
	"number-shop/internal/payments"
	"number-shop/internal/shop"
	"number-shop/internal/store"
)

func newTestReviewer(t *testing.T, h *harness, remindAfter time.Duration) *Reviewer {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	r, err := NewReviewer(h.bot, "@every 10m", remindAfter, logger)
	require.NoError(t, err)
	return r
}

func TestNewReviewerRejectsBadSchedule(t *testing.T) {
	h := newHarness(t, nil, nil)
	_, err := NewReviewer(h.bot, "every now and then", time.Hour, logrus.New())
	require.Error(t, err)
}

func TestReviewerVerifiesPendingAutomatic(t *testing.T) {
	v := &fakeVerifier{payments: map[string]payments.Payment{}}
	h := newHarness(t, v, nil)
	ctx := context.Background()

	_, err := h.shop.Register(ctx, 42, "user", "User")
	require.NoError(t, err)
	auto, err := h.shop.SubmitRecharge(ctx, shop.RechargeRequest{
		UserID: 42, Amount: money.FromFloat(75), PaymentID: "LATE1", Method: store.MethodAutomatic,
	})
	require.NoError(t, err)
	manual, err := h.shop.SubmitRecharge(ctx, shop.RechargeRequest{
		UserID: 42, Amount: money.FromFloat(75), PaymentID: "MAN1", Method: store.MethodManual,
	})
	require.NoError(t, err)

	rv := newTestReviewer(t, h, 0)

	rv.RunOnce(ctx)
	got, err := h.st.GetRecharge(ctx, auto.ID)
	require.NoError(t, err)
	assert.Equal(t, store.RechargePending, got.Status)

	// The confirmation mail arrives later.
	v.payments["LATE1"] = payments.Payment{TxnID: "LATE1", Amount: money.FromFloat(75)}
	v.payments["MAN1"] = payments.Payment{TxnID: "MAN1", Amount: money.FromFloat(75)}
	rv.RunOnce(ctx)

	got, err = h.st.GetRecharge(ctx, auto.ID)
	require.NoError(t, err)
	assert.Equal(t, store.RechargeApproved, got.Status)
	assert.Equal(t, shop.SystemReviewer, got.ReviewedBy)

	got, err = h.st.GetRecharge(ctx, manual.ID)
	require.NoError(t, err)
	assert.Equal(t, store.RechargePending, got.Status)

	bal, err := h.shop.Balance(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, money.FromFloat(75), bal)
	assert.Contains(t, h.api.last(t, 42), "Payment verified")
}

func TestReviewerRemindsOnce(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	r, err := h.shop.SubmitRecharge(ctx, shop.RechargeRequest{
		UserID: 42, Amount: money.FromFloat(20), PaymentID: "OLD1",
	})
	require.NoError(t, err)

	rv := newTestReviewer(t, h, time.Nanosecond)
	time.Sleep(time.Millisecond)

	rv.RunOnce(ctx)
	rv.RunOnce(ctx)

	reminders := 0
	for _, text := range h.api.texts(adminID) {
		if strings.Contains(text, "OLD1") {
			reminders++
		}
	}
	assert.Equal(t, 1, reminders)

	got, err := h.st.GetRecharge(ctx, r.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.RemindedAt)
}

func TestReviewerDropsIdleUserState(t *testing.T) {
	h := newHarness(t, nil, nil)
	rv := newTestReviewer(t, h, 0)

	now := time.Now()
	h.bot.sessions.now = func() time.Time { return now }
	h.bot.limiter.now = func() time.Time { return now }

	h.bot.sessions.set(42, session{Step: stepBuyQuantity, Country: "India"})
	h.bot.limiter.allow(42)

	now = now.Add(time.Hour)
	rv.RunOnce(context.Background())

	assert.Empty(t, h.bot.sessions.items)
	assert.Empty(t, h.bot.limiter.limiters)
}

func TestReviewerRunStopsWithContext(t *testing.T) {
	h := newHarness(t, nil, nil)
	rv := newTestReviewer(t, h, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rv.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("reviewer did not stop")
	}
}
