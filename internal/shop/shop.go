// Package shop holds the number shop's business rules on top of a Store:
// pricing, purchases, stock intake and recharge review.
package shop

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"number-shop/internal/money"
	"number-shop/internal/store"
)

var (
	ErrInvalidQuantity  = errors.New("invalid quantity")
	ErrInvalidAmount    = money.ErrInvalidAmount
	ErrUnknownCountry   = errors.New("unknown country")
	ErrInvalidPaymentID = errors.New("invalid payment id")
)

// StockShortageError reports that fewer numbers are available than asked.
type StockShortageError struct {
	Country   string
	Requested int
	Available int64
}

func (e *StockShortageError) Error() string {
	return fmt.Sprintf("only %d numbers available in %s, %d requested", e.Available, e.Country, e.Requested)
}

func (e *StockShortageError) Unwrap() error { return store.ErrOutOfStock }

// InsufficientFundsError carries the figures needed to tell the user how
// much to top up.
type InsufficientFundsError struct {
	Balance  money.Amount
	Required money.Amount
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("balance %s is below required %s", e.Balance, e.Required)
}

func (e *InsufficientFundsError) Unwrap() error { return store.ErrInsufficientFunds }

// Options tunes the service.
type Options struct {
	DefaultPrice money.Amount
	MaxPerOrder  int
}

// Service implements the shop operations.
type Service struct {
	store  store.Store
	opts   Options
	logger *logrus.Logger
	now    func() time.Time
}

// NewService creates a shop service.
func NewService(st store.Store, opts Options, logger *logrus.Logger) *Service {
	if opts.MaxPerOrder < 1 {
		opts.MaxPerOrder = 10
	}
	return &Service{
		store:  st,
		opts:   opts,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// MaxPerOrder returns the largest quantity a single order may request.
func (s *Service) MaxPerOrder() int {
	return s.opts.MaxPerOrder
}

// Register returns the user, creating it with a zero balance on first contact.
func (s *Service) Register(ctx context.Context, id int64, username, fullName string) (*store.User, error) {
	u, err := s.store.GetOrCreateUser(ctx, id, username, fullName)
	if err != nil {
		return nil, fmt.Errorf("failed to register user: %w", err)
	}
	return u, nil
}

// Balance returns the user's current balance.
func (s *Service) Balance(ctx context.Context, id int64) (money.Amount, error) {
	u, err := s.store.GetOrCreateUser(ctx, id, "", "")
	if err != nil {
		return 0, fmt.Errorf("failed to read balance: %w", err)
	}
	return u.Balance, nil
}

// User returns a stored user.
func (s *Service) User(ctx context.Context, id int64) (*store.User, error) {
	return s.store.GetUser(ctx, id)
}

// CountUsers returns the number of registered users.
func (s *Service) CountUsers(ctx context.Context) (int64, error) {
	return s.store.CountUsers(ctx)
}

// Credit adds amount to a user's balance. Used by admins for manual
// adjustments.
func (s *Service) Credit(ctx context.Context, userID int64, amount money.Amount) (*store.User, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	u, err := s.store.CreditBalance(ctx, userID, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to credit user %d: %w", userID, err)
	}

	s.logger.WithFields(logrus.Fields{
		"user_id": userID,
		"amount":  amount.String(),
		"balance": u.Balance.String(),
	}).Info("Balance credited")
	return u, nil
}

// History returns the user's most recent purchases, newest first.
func (s *Service) History(ctx context.Context, userID int64, limit int) ([]store.Purchase, error) {
	return s.store.ListPurchases(ctx, userID, limit)
}

func normalizePaymentID(raw string) (string, error) {
	id := strings.TrimSpace(raw)
	if id == "" || len(id) > 64 || strings.ContainsAny(id, " \t\n") {
		return "", ErrInvalidPaymentID
	}
	return id, nil
}
