package store

import (
	"time"

	"number-shop/internal/money"
)

// StockStatus tracks whether a number can still be sold.
type StockStatus string

const (
	StockAvailable StockStatus = "available"
	StockSold      StockStatus = "sold"
)

// RechargeStatus is the review state of a balance top-up request.
type RechargeStatus string

const (
	RechargePending  RechargeStatus = "pending"
	RechargeApproved RechargeStatus = "approved"
	RechargeDeclined RechargeStatus = "declined"
)

// RechargeMethod records how the payment is verified.
type RechargeMethod string

const (
	MethodManual    RechargeMethod = "manual"
	MethodAutomatic RechargeMethod = "automatic"
)

// User is a Telegram user known to the shop. ID is the Telegram user id.
type User struct {
	ID        int64        `bson:"_id"`
	Username  string       `bson:"username,omitempty"`
	FullName  string       `bson:"full_name,omitempty"`
	Balance   money.Amount `bson:"balance"`
	CreatedAt time.Time    `bson:"created_at"`
}

// Country groups stock. A zero Price means the configured default applies.
type Country struct {
	Name      string       `bson:"_id"`
	Region    string       `bson:"region,omitempty"`
	Price     money.Amount `bson:"price"`
	CreatedAt time.Time    `bson:"created_at"`
}

// StockItem is one sellable number.
type StockItem struct {
	ID        string      `bson:"_id"`
	Country   string      `bson:"country"`
	Number    string      `bson:"number"`
	Status    StockStatus `bson:"status"`
	AddedBy   int64       `bson:"added_by"`
	SoldTo    int64       `bson:"sold_to,omitempty"`
	SoldAt    *time.Time  `bson:"sold_at,omitempty"`
	CreatedAt time.Time   `bson:"created_at"`
}

// Purchase records a completed order.
type Purchase struct {
	ID        string       `bson:"_id"`
	UserID    int64        `bson:"user_id"`
	Country   string       `bson:"country"`
	Numbers   []string     `bson:"numbers"`
	Quantity  int          `bson:"quantity"`
	Total     money.Amount `bson:"total"`
	CreatedAt time.Time    `bson:"created_at"`
}

// Recharge is a balance top-up request awaiting or past review.
type Recharge struct {
	ID         string         `bson:"_id"`
	UserID     int64          `bson:"user_id"`
	Username   string         `bson:"username,omitempty"`
	FullName   string         `bson:"full_name,omitempty"`
	Amount     money.Amount   `bson:"amount"`
	PaymentID  string         `bson:"payment_id"`
	Screenshot string         `bson:"screenshot,omitempty"`
	Method     RechargeMethod `bson:"method"`
	Status     RechargeStatus `bson:"status"`
	ReviewedBy int64          `bson:"reviewed_by,omitempty"`
	ReviewedAt *time.Time     `bson:"reviewed_at,omitempty"`
	RemindedAt *time.Time     `bson:"reminded_at,omitempty"`
	CreatedAt  time.Time      `bson:"created_at"`
}
