// Package store persists users, the catalogue, orders and recharge requests.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"number-shop/internal/money"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicate         = errors.New("already exists")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrOutOfStock        = errors.New("out of stock")
	ErrConflict          = errors.New("state changed concurrently")
)

// Store is implemented by the MongoDB and in-memory backends. Every
// operation that guards an invariant (non-negative balance, single sale per
// number, single review per recharge) is a single conditional update.
type Store interface {
	EnsureIndexes(ctx context.Context) error
	Ping(ctx context.Context) error
	Close(ctx context.Context) error

	GetOrCreateUser(ctx context.Context, id int64, username, fullName string) (*User, error)
	GetUser(ctx context.Context, id int64) (*User, error)
	CountUsers(ctx context.Context) (int64, error)
	CreditBalance(ctx context.Context, id int64, amount money.Amount) (*User, error)
	DebitBalance(ctx context.Context, id int64, amount money.Amount) (*User, error)

	ListCountries(ctx context.Context) ([]Country, error)
	GetCountry(ctx context.Context, name string) (*Country, error)
	UpsertCountry(ctx context.Context, c Country) error
	DeleteCountry(ctx context.Context, name string) error

	AddStock(ctx context.Context, item StockItem) error
	CountAvailable(ctx context.Context, country string) (int64, error)
	ClaimStock(ctx context.Context, country string, userID int64, at time.Time) (*StockItem, error)
	ReleaseStock(ctx context.Context, id string) error

	InsertPurchase(ctx context.Context, p Purchase) error
	ListPurchases(ctx context.Context, userID int64, limit int) ([]Purchase, error)

	InsertRecharge(ctx context.Context, r Recharge) error
	GetRecharge(ctx context.Context, id string) (*Recharge, error)
	TransitionRecharge(ctx context.Context, id string, from, to RechargeStatus, reviewer int64, at time.Time) (*Recharge, error)
	ListRecharges(ctx context.Context, status RechargeStatus, createdBefore time.Time) ([]Recharge, error)
	MarkReminded(ctx context.Context, id string, at time.Time) error
}

// NewID returns a fresh document id.
func NewID() string {
	return uuid.NewString()
}
