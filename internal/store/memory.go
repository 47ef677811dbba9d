package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"number-shop/internal/money"
)

// Memory is a process-local Store. It backs DATABASE_DRIVER=memory and the
// tests; all state is lost on restart.
type Memory struct {
	mu        sync.Mutex
	users     map[int64]User
	countries map[string]Country
	stock     []*StockItem
	numbers   map[string]bool
	purchases []Purchase
	recharges map[string]*Recharge
	payments  map[string]bool
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users:     make(map[int64]User),
		countries: make(map[string]Country),
		numbers:   make(map[string]bool),
		recharges: make(map[string]*Recharge),
		payments:  make(map[string]bool),
	}
}

func (m *Memory) EnsureIndexes(ctx context.Context) error { return nil }
func (m *Memory) Ping(ctx context.Context) error          { return nil }
func (m *Memory) Close(ctx context.Context) error         { return nil }

func (m *Memory) GetOrCreateUser(ctx context.Context, id int64, username, fullName string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		u = User{ID: id, Username: username, FullName: fullName, CreatedAt: time.Now().UTC()}
	} else {
		if username != "" {
			u.Username = username
		}
		if fullName != "" {
			u.FullName = fullName
		}
	}
	m.users[id] = u
	return &u, nil
}

func (m *Memory) GetUser(ctx context.Context, id int64) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (m *Memory) CountUsers(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.users)), nil
}

func (m *Memory) CreditBalance(ctx context.Context, id int64, amount money.Amount) (*User, error) {
	if amount <= 0 {
		return nil, money.ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	u.Balance += amount
	m.users[id] = u
	return &u, nil
}

func (m *Memory) DebitBalance(ctx context.Context, id int64, amount money.Amount) (*User, error) {
	if amount <= 0 {
		return nil, money.ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	if u.Balance < amount {
		return nil, ErrInsufficientFunds
	}
	u.Balance -= amount
	m.users[id] = u
	return &u, nil
}

func (m *Memory) ListCountries(ctx context.Context) ([]Country, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Country, 0, len(m.countries))
	for _, c := range m.countries {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Name < out[j].Name
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) GetCountry(ctx context.Context, name string) (*Country, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.countries[name]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (m *Memory) UpsertCountry(ctx context.Context, c Country) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.countries[c.Name]; ok {
		c.CreatedAt = existing.CreatedAt
	} else if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	m.countries[c.Name] = c
	return nil
}

func (m *Memory) DeleteCountry(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.countries[name]; !ok {
		return ErrNotFound
	}
	delete(m.countries, name)
	return nil
}

func (m *Memory) AddStock(ctx context.Context, item StockItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.numbers[item.Number] {
		return ErrDuplicate
	}
	if item.ID == "" {
		item.ID = NewID()
	}
	if item.Status == "" {
		item.Status = StockAvailable
	}
	m.numbers[item.Number] = true
	m.stock = append(m.stock, &item)
	return nil
}

func (m *Memory) CountAvailable(ctx context.Context, country string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, it := range m.stock {
		if it.Country == country && it.Status == StockAvailable {
			n++
		}
	}
	return n, nil
}

func (m *Memory) ClaimStock(ctx context.Context, country string, userID int64, at time.Time) (*StockItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, it := range m.stock {
		if it.Country != country || it.Status != StockAvailable {
			continue
		}
		soldAt := at
		it.Status = StockSold
		it.SoldTo = userID
		it.SoldAt = &soldAt
		claimed := *it
		return &claimed, nil
	}
	return nil, ErrOutOfStock
}

func (m *Memory) ReleaseStock(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, it := range m.stock {
		if it.ID == id {
			it.Status = StockAvailable
			it.SoldTo = 0
			it.SoldAt = nil
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) InsertPurchase(ctx context.Context, p Purchase) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p.ID == "" {
		p.ID = NewID()
	}
	m.purchases = append(m.purchases, p)
	return nil
}

func (m *Memory) ListPurchases(ctx context.Context, userID int64, limit int) ([]Purchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Purchase
	for i := len(m.purchases) - 1; i >= 0; i-- {
		if m.purchases[i].UserID != userID {
			continue
		}
		out = append(out, m.purchases[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) InsertRecharge(ctx context.Context, r Recharge) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.payments[r.PaymentID] {
		return ErrDuplicate
	}
	if r.ID == "" {
		r.ID = NewID()
	}
	m.payments[r.PaymentID] = true
	m.recharges[r.ID] = &r
	return nil
}

func (m *Memory) GetRecharge(ctx context.Context, id string) (*Recharge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.recharges[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *r
	return &out, nil
}

func (m *Memory) TransitionRecharge(ctx context.Context, id string, from, to RechargeStatus, reviewer int64, at time.Time) (*Recharge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.recharges[id]
	if !ok {
		return nil, ErrNotFound
	}
	if r.Status != from {
		return nil, ErrConflict
	}
	reviewedAt := at
	r.Status = to
	r.ReviewedBy = reviewer
	r.ReviewedAt = &reviewedAt
	out := *r
	return &out, nil
}

func (m *Memory) ListRecharges(ctx context.Context, status RechargeStatus, createdBefore time.Time) ([]Recharge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Recharge
	for _, r := range m.recharges {
		if r.Status != status {
			continue
		}
		if !createdBefore.IsZero() && !r.CreatedAt.Before(createdBefore) {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) MarkReminded(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.recharges[id]
	if !ok {
		return ErrNotFound
	}
	remindedAt := at
	r.RemindedAt = &remindedAt
	return nil
}
