package shop

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"number-shop/internal/money"
	"number-shop/internal/store"
)

// SystemReviewer is recorded as the reviewer of automatically verified
// recharges.
const SystemReviewer int64 = 0

// RechargeRequest is what a user submits from the recharge wizard.
type RechargeRequest struct {
	UserID     int64
	Username   string
	FullName   string
	Amount     money.Amount
	PaymentID  string
	Screenshot string
	Method     store.RechargeMethod
}

// SubmitRecharge stores a pending recharge. A payment id can only be
// claimed once.
func (s *Service) SubmitRecharge(ctx context.Context, req RechargeRequest) (*store.Recharge, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	paymentID, err := normalizePaymentID(req.PaymentID)
	if err != nil {
		return nil, err
	}
	if req.Method == "" {
		req.Method = store.MethodManual
	}

	r := store.Recharge{
		ID:         store.NewID(),
		UserID:     req.UserID,
		Username:   req.Username,
		FullName:   req.FullName,
		Amount:     req.Amount,
		PaymentID:  paymentID,
		Screenshot: req.Screenshot,
		Method:     req.Method,
		Status:     store.RechargePending,
		CreatedAt:  s.now(),
	}
	if err := s.store.InsertRecharge(ctx, r); err != nil {
		return nil, fmt.Errorf("failed to submit recharge: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"recharge_id": r.ID,
		"user_id":     r.UserID,
		"amount":      r.Amount.String(),
		"method":      r.Method,
	}).Info("Recharge submitted")
	return &r, nil
}

// Recharge returns a stored recharge request.
func (s *Service) Recharge(ctx context.Context, id string) (*store.Recharge, error) {
	return s.store.GetRecharge(ctx, id)
}

// ApproveRecharge marks a pending request approved and credits the user.
// The status transition happens first and is conditional, so repeated or
// concurrent approvals credit at most once.
func (s *Service) ApproveRecharge(ctx context.Context, id string, reviewer int64) (*store.Recharge, *store.User, error) {
	r, err := s.store.TransitionRecharge(ctx, id, store.RechargePending, store.RechargeApproved, reviewer, s.now())
	if err != nil {
		return nil, nil, err
	}

	if _, err := s.store.GetOrCreateUser(ctx, r.UserID, r.Username, r.FullName); err != nil {
		s.reopen(ctx, r)
		return nil, nil, err
	}
	u, err := s.store.CreditBalance(ctx, r.UserID, r.Amount)
	if err != nil {
		s.reopen(ctx, r)
		return nil, nil, fmt.Errorf("failed to credit recharge: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"recharge_id": r.ID,
		"user_id":     r.UserID,
		"amount":      r.Amount.String(),
		"reviewer":    reviewer,
	}).Info("Recharge approved")
	return r, u, nil
}

func (s *Service) reopen(ctx context.Context, r *store.Recharge) {
	ctx = context.WithoutCancel(ctx)
	if _, err := s.store.TransitionRecharge(ctx, r.ID, store.RechargeApproved, store.RechargePending, 0, s.now()); err != nil {
		s.logger.WithError(err).WithField("recharge_id", r.ID).Error("Failed to reopen recharge after credit failure")
	}
}

// DeclineRecharge marks a pending request declined.
func (s *Service) DeclineRecharge(ctx context.Context, id string, reviewer int64) (*store.Recharge, error) {
	r, err := s.store.TransitionRecharge(ctx, id, store.RechargePending, store.RechargeDeclined, reviewer, s.now())
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"recharge_id": r.ID,
		"user_id":     r.UserID,
		"reviewer":    reviewer,
	}).Info("Recharge declined")
	return r, nil
}

// PendingRecharges lists requests still waiting for review that were
// created at least olderThan ago.
func (s *Service) PendingRecharges(ctx context.Context, olderThan time.Duration) ([]store.Recharge, error) {
	var before time.Time
	if olderThan > 0 {
		before = s.now().Add(-olderThan)
	}
	return s.store.ListRecharges(ctx, store.RechargePending, before)
}

// MarkReminded records that admins were reminded about a request.
func (s *Service) MarkReminded(ctx context.Context, id string) error {
	return s.store.MarkReminded(ctx, id, s.now())
}

// IsReviewed reports whether err means the request was already handled.
func IsReviewed(err error) bool {
	return errors.Is(err, store.ErrConflict)
}
