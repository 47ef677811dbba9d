package shop

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"number-shop/internal/money"
	"number-shop/internal/phone"
	"number-shop/internal/store"
)

// Offer is a country as shown to buyers.
type Offer struct {
	Country   store.Country
	Price     money.Amount
	Available int64
}

// Receipt describes a completed purchase.
type Receipt struct {
	PurchaseID string
	Country    string
	Numbers    []string
	Total      money.Amount
	Balance    money.Amount
}

// StockReport summarises an /addstock batch.
type StockReport struct {
	Added      []string
	Duplicates []string
	Invalid    []string
	Mismatched []string
}

func (s *Service) priceOf(c store.Country) money.Amount {
	if c.Price > 0 {
		return c.Price
	}
	return s.opts.DefaultPrice
}

// Catalog lists every country with its effective price and stock.
func (s *Service) Catalog(ctx context.Context) ([]Offer, error) {
	countries, err := s.store.ListCountries(ctx)
	if err != nil {
		return nil, err
	}

	offers := make([]Offer, 0, len(countries))
	for _, c := range countries {
		n, err := s.store.CountAvailable(ctx, c.Name)
		if err != nil {
			return nil, err
		}
		offers = append(offers, Offer{Country: c, Price: s.priceOf(c), Available: n})
	}
	return offers, nil
}

// Offer returns a single country's price and stock.
func (s *Service) Offer(ctx context.Context, country string) (*Offer, error) {
	c, err := s.store.GetCountry(ctx, country)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownCountry, country)
		}
		return nil, err
	}

	n, err := s.store.CountAvailable(ctx, c.Name)
	if err != nil {
		return nil, err
	}
	return &Offer{Country: *c, Price: s.priceOf(*c), Available: n}, nil
}

// Buy sells qty numbers of a country to a user. The balance is debited with
// a conditional update first, then numbers are claimed one at a time; if
// stock runs out midway the claimed numbers are released and the debit is
// refunded.
func (s *Service) Buy(ctx context.Context, userID int64, country string, qty int) (*Receipt, error) {
	if qty < 1 || qty > s.opts.MaxPerOrder {
		return nil, fmt.Errorf("%w: must be between 1 and %d", ErrInvalidQuantity, s.opts.MaxPerOrder)
	}

	offer, err := s.Offer(ctx, country)
	if err != nil {
		return nil, err
	}
	if offer.Available < int64(qty) {
		return nil, &StockShortageError{Country: country, Requested: qty, Available: offer.Available}
	}

	total, err := offer.Price.Mul(qty)
	if err != nil || total <= 0 {
		return nil, fmt.Errorf("%w: order total for %d numbers", ErrInvalidAmount, qty)
	}
	if _, err := s.store.GetOrCreateUser(ctx, userID, "", ""); err != nil {
		return nil, err
	}
	if _, err := s.store.DebitBalance(ctx, userID, total); err != nil {
		if errors.Is(err, store.ErrInsufficientFunds) {
			balance, _ := s.Balance(ctx, userID)
			return nil, &InsufficientFundsError{Balance: balance, Required: total}
		}
		return nil, fmt.Errorf("failed to debit balance: %w", err)
	}

	now := s.now()
	claimed := make([]store.StockItem, 0, qty)
	for len(claimed) < qty {
		item, err := s.store.ClaimStock(ctx, country, userID, now)
		if err != nil {
			s.rollbackPurchase(ctx, userID, total, claimed)
			if errors.Is(err, store.ErrOutOfStock) {
				available, _ := s.store.CountAvailable(ctx, country)
				return nil, &StockShortageError{Country: country, Requested: qty, Available: available}
			}
			return nil, fmt.Errorf("failed to claim stock: %w", err)
		}
		claimed = append(claimed, *item)
	}

	numbers := make([]string, 0, len(claimed))
	for _, it := range claimed {
		numbers = append(numbers, it.Number)
	}

	purchase := store.Purchase{
		ID:        store.NewID(),
		UserID:    userID,
		Country:   country,
		Numbers:   numbers,
		Quantity:  qty,
		Total:     total,
		CreatedAt: now,
	}
	if err := s.store.InsertPurchase(ctx, purchase); err != nil {
		// The sale already happened; losing the history row must not undo it.
		s.logger.WithError(err).WithField("user_id", userID).Error("Failed to record purchase")
	}

	balance, err := s.Balance(ctx, userID)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"user_id":  userID,
		"country":  country,
		"quantity": qty,
		"total":    total.String(),
	}).Info("Purchase completed")

	return &Receipt{
		PurchaseID: purchase.ID,
		Country:    country,
		Numbers:    numbers,
		Total:      total,
		Balance:    balance,
	}, nil
}

func (s *Service) rollbackPurchase(ctx context.Context, userID int64, total money.Amount, claimed []store.StockItem) {
	ctx = context.WithoutCancel(ctx)
	for _, it := range claimed {
		if err := s.store.ReleaseStock(ctx, it.ID); err != nil {
			s.logger.WithError(err).WithField("stock_id", it.ID).Error("Failed to release claimed stock")
		}
	}
	if _, err := s.store.CreditBalance(ctx, userID, total); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"user_id": userID,
			"amount":  total.String(),
		}).Error("Failed to refund aborted purchase")
	}
}

// ResolveCountry finds a stored country by name (case-insensitive) or by
// region code/name.
func (s *Service) ResolveCountry(ctx context.Context, input string) (*store.Country, error) {
	input = strings.TrimSpace(input)
	countries, err := s.store.ListCountries(ctx)
	if err != nil {
		return nil, err
	}

	for i := range countries {
		if strings.EqualFold(countries[i].Name, input) {
			return &countries[i], nil
		}
	}
	if region, ok := phone.RegionForCountry(input); ok {
		for i := range countries {
			if countries[i].Region == region {
				return &countries[i], nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownCountry, input)
}

// AddCountry creates or updates a country. A zero price keeps whatever an
// existing country already has. Names that do not map to an ISO region are
// rejected with ErrUnknownCountry unless freeform is set.
func (s *Service) AddCountry(ctx context.Context, input string, price money.Amount, freeform bool) (*store.Country, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, ErrUnknownCountry
	}
	if price < 0 {
		return nil, ErrInvalidAmount
	}

	if existing, err := s.ResolveCountry(ctx, input); err == nil {
		if price == 0 {
			return existing, nil
		}
		existing.Price = price
		if err := s.store.UpsertCountry(ctx, *existing); err != nil {
			return nil, err
		}
		return existing, nil
	} else if !errors.Is(err, ErrUnknownCountry) {
		return nil, err
	}

	c := store.Country{Name: input, Price: price, CreatedAt: s.now()}
	if region, ok := phone.RegionForCountry(input); ok {
		c.Region = region
		c.Name = phone.CountryName(region)
	} else if !freeform {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCountry, input)
	}

	if err := s.store.UpsertCountry(ctx, c); err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{"country": c.Name, "region": c.Region}).Info("Country added")
	return &c, nil
}

// SetPrice changes the price of a country, creating it when missing.
func (s *Service) SetPrice(ctx context.Context, input string, price money.Amount, freeform bool) (*store.Country, error) {
	if price <= 0 || price > money.MaxAmount {
		return nil, ErrInvalidAmount
	}
	c, err := s.AddCountry(ctx, input, price, freeform)
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{"country": c.Name, "price": price.String()}).Info("Price updated")
	return c, nil
}

// EffectivePrice returns what a country currently costs.
func (s *Service) EffectivePrice(c store.Country) money.Amount {
	return s.priceOf(c)
}

// DefaultPrice returns the price used for countries without their own.
func (s *Service) DefaultPrice() money.Amount {
	return s.opts.DefaultPrice
}

// SeedCountries fills an empty catalogue with the given names.
func (s *Service) SeedCountries(ctx context.Context, names []string) (int, error) {
	existing, err := s.store.ListCountries(ctx)
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		return 0, nil
	}

	base := s.now()
	seeded := 0
	for i, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		c := store.Country{Name: name, CreatedAt: base.Add(time.Duration(i) * time.Millisecond)}
		if region, ok := phone.RegionForCountry(name); ok {
			c.Region = region
		}
		if err := s.store.UpsertCountry(ctx, c); err != nil {
			return seeded, err
		}
		seeded++
	}
	return seeded, nil
}

// AddNumbers adds one number per line of text to a country's stock.
func (s *Service) AddNumbers(ctx context.Context, adminID int64, country string, text string) (*StockReport, error) {
	c, err := s.store.GetCountry(ctx, country)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownCountry, country)
		}
		return nil, err
	}

	report := &StockReport{}
	now := s.now()
	for _, line := range strings.FieldsFunc(text, func(r rune) bool { return r == '\n' || r == ',' || r == ';' }) {
		raw := strings.TrimSpace(line)
		if raw == "" {
			continue
		}

		number, region, err := phone.Normalize(raw)
		if err != nil {
			report.Invalid = append(report.Invalid, raw)
			continue
		}
		if c.Region != "" && region != c.Region {
			report.Mismatched = append(report.Mismatched, number)
			continue
		}

		item := store.StockItem{
			ID:        store.NewID(),
			Country:   c.Name,
			Number:    number,
			Status:    store.StockAvailable,
			AddedBy:   adminID,
			CreatedAt: now,
		}
		if err := s.store.AddStock(ctx, item); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				report.Duplicates = append(report.Duplicates, number)
				continue
			}
			return report, err
		}
		report.Added = append(report.Added, number)
	}

	s.logger.WithFields(logrus.Fields{
		"admin_id": adminID,
		"country":  c.Name,
		"added":    len(report.Added),
		"rejected": len(report.Invalid) + len(report.Duplicates) + len(report.Mismatched),
	}).Info("Stock added")
	return report, nil
}
