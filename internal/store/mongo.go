package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"number-shop/internal/money"
)

// Mongo is the MongoDB backed Store.
type Mongo struct {
	client    *mongo.Client
	users     *mongo.Collection
	countries *mongo.Collection
	stock     *mongo.Collection
	purchases *mongo.Collection
	recharges *mongo.Collection
	logger    *logrus.Logger
}

// NewMongo connects to uri and verifies the connection with a ping.
func NewMongo(ctx context.Context, uri, database string, logger *logrus.Logger) (*Mongo, error) {
	if uri == "" || database == "" {
		return nil, fmt.Errorf("mongodb uri and database cannot be empty")
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	db := client.Database(database)
	logger.WithField("database", database).Info("MongoDB connection established")

	return &Mongo{
		client:    client,
		users:     db.Collection("users"),
		countries: db.Collection("countries"),
		stock:     db.Collection("stock"),
		purchases: db.Collection("purchases"),
		recharges: db.Collection("recharges"),
		logger:    logger,
	}, nil
}

// EnsureIndexes creates the indexes the conditional updates rely on.
func (s *Mongo) EnsureIndexes(ctx context.Context) error {
	indexes := map[*mongo.Collection][]mongo.IndexModel{
		s.stock: {
			{Keys: bson.D{{Key: "number", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "country", Value: 1}, {Key: "status", Value: 1}, {Key: "created_at", Value: 1}}},
		},
		s.purchases: {
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		s.recharges: {
			{Keys: bson.D{{Key: "payment_id", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}}},
		},
	}

	for coll, models := range indexes {
		if _, err := coll.Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", coll.Name(), err)
		}
	}
	s.logger.Debug("MongoDB indexes ensured")
	return nil
}

func (s *Mongo) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *Mongo) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func afterUpdate() *options.FindOneAndUpdateOptions {
	return options.FindOneAndUpdate().SetReturnDocument(options.After)
}

func (s *Mongo) GetOrCreateUser(ctx context.Context, id int64, username, fullName string) (*User, error) {
	update := bson.M{
		"$setOnInsert": bson.M{"balance": money.Amount(0), "created_at": time.Now().UTC()},
	}
	set := bson.M{}
	if username != "" {
		set["username"] = username
	}
	if fullName != "" {
		set["full_name"] = fullName
	}
	if len(set) > 0 {
		update["$set"] = set
	}

	var u User
	err := s.users.FindOneAndUpdate(ctx, bson.M{"_id": id}, update, afterUpdate().SetUpsert(true)).Decode(&u)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user %d: %w", id, err)
	}
	return &u, nil
}

func (s *Mongo) GetUser(ctx context.Context, id int64) (*User, error) {
	var u User
	if err := s.users.FindOne(ctx, bson.M{"_id": id}).Decode(&u); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user %d: %w", id, err)
	}
	return &u, nil
}

func (s *Mongo) CountUsers(ctx context.Context) (int64, error) {
	return s.users.CountDocuments(ctx, bson.M{})
}

func (s *Mongo) CreditBalance(ctx context.Context, id int64, amount money.Amount) (*User, error) {
	if amount <= 0 {
		return nil, money.ErrInvalidAmount
	}

	var u User
	err := s.users.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$inc": bson.M{"balance": amount}}, afterUpdate()).Decode(&u)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to credit user %d: %w", id, err)
	}
	return &u, nil
}

func (s *Mongo) DebitBalance(ctx context.Context, id int64, amount money.Amount) (*User, error) {
	if amount <= 0 {
		return nil, money.ErrInvalidAmount
	}

	filter := bson.M{"_id": id, "balance": bson.M{"$gte": amount}}

	var u User
	err := s.users.FindOneAndUpdate(ctx, filter, bson.M{"$inc": bson.M{"balance": -amount}}, afterUpdate()).Decode(&u)
	if err == nil {
		return &u, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("failed to debit user %d: %w", id, err)
	}
	if _, err := s.GetUser(ctx, id); err != nil {
		return nil, err
	}
	return nil, ErrInsufficientFunds
}

func (s *Mongo) ListCountries(ctx context.Context) ([]Country, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.countries.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list countries: %w", err)
	}

	var out []Country
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode countries: %w", err)
	}
	return out, nil
}

func (s *Mongo) GetCountry(ctx context.Context, name string) (*Country, error) {
	var c Country
	if err := s.countries.FindOne(ctx, bson.M{"_id": name}).Decode(&c); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get country %s: %w", name, err)
	}
	return &c, nil
}

func (s *Mongo) UpsertCountry(ctx context.Context, c Country) error {
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	update := bson.M{
		"$set":         bson.M{"region": c.Region, "price": c.Price},
		"$setOnInsert": bson.M{"created_at": createdAt},
	}
	if _, err := s.countries.UpdateOne(ctx, bson.M{"_id": c.Name}, update, options.Update().SetUpsert(true)); err != nil {
		return fmt.Errorf("failed to upsert country %s: %w", c.Name, err)
	}
	return nil
}

func (s *Mongo) DeleteCountry(ctx context.Context, name string) error {
	res, err := s.countries.DeleteOne(ctx, bson.M{"_id": name})
	if err != nil {
		return fmt.Errorf("failed to delete country %s: %w", name, err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Mongo) AddStock(ctx context.Context, item StockItem) error {
	if item.ID == "" {
		item.ID = NewID()
	}
	if item.Status == "" {
		item.Status = StockAvailable
	}
	if _, err := s.stock.InsertOne(ctx, item); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to add stock %s: %w", item.Number, err)
	}
	return nil
}

func (s *Mongo) CountAvailable(ctx context.Context, country string) (int64, error) {
	n, err := s.stock.CountDocuments(ctx, bson.M{"country": country, "status": StockAvailable})
	if err != nil {
		return 0, fmt.Errorf("failed to count stock for %s: %w", country, err)
	}
	return n, nil
}

// ClaimStock flips the oldest available number of a country to sold in one
// conditional update, so two buyers can never receive the same number.
func (s *Mongo) ClaimStock(ctx context.Context, country string, userID int64, at time.Time) (*StockItem, error) {
	filter := bson.M{"country": country, "status": StockAvailable}
	update := bson.M{"$set": bson.M{"status": StockSold, "sold_to": userID, "sold_at": at}}
	opts := afterUpdate().SetSort(bson.D{{Key: "created_at", Value: 1}})

	var item StockItem
	if err := s.stock.FindOneAndUpdate(ctx, filter, update, opts).Decode(&item); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrOutOfStock
		}
		return nil, fmt.Errorf("failed to claim stock for %s: %w", country, err)
	}
	return &item, nil
}

func (s *Mongo) ReleaseStock(ctx context.Context, id string) error {
	update := bson.M{
		"$set":   bson.M{"status": StockAvailable},
		"$unset": bson.M{"sold_to": "", "sold_at": ""},
	}
	res, err := s.stock.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("failed to release stock %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Mongo) InsertPurchase(ctx context.Context, p Purchase) error {
	if p.ID == "" {
		p.ID = NewID()
	}
	if _, err := s.purchases.InsertOne(ctx, p); err != nil {
		return fmt.Errorf("failed to insert purchase: %w", err)
	}
	return nil
}

func (s *Mongo) ListPurchases(ctx context.Context, userID int64, limit int) ([]Purchase, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.purchases.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list purchases: %w", err)
	}

	var out []Purchase
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode purchases: %w", err)
	}
	return out, nil
}

func (s *Mongo) InsertRecharge(ctx context.Context, r Recharge) error {
	if r.ID == "" {
		r.ID = NewID()
	}
	if _, err := s.recharges.InsertOne(ctx, r); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert recharge: %w", err)
	}
	return nil
}

func (s *Mongo) GetRecharge(ctx context.Context, id string) (*Recharge, error) {
	var r Recharge
	if err := s.recharges.FindOne(ctx, bson.M{"_id": id}).Decode(&r); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get recharge %s: %w", id, err)
	}
	return &r, nil
}

// TransitionRecharge moves a request from one status to another only if it
// is still in the expected status.
func (s *Mongo) TransitionRecharge(ctx context.Context, id string, from, to RechargeStatus, reviewer int64, at time.Time) (*Recharge, error) {
	filter := bson.M{"_id": id, "status": from}
	update := bson.M{"$set": bson.M{"status": to, "reviewed_by": reviewer, "reviewed_at": at}}

	var r Recharge
	err := s.recharges.FindOneAndUpdate(ctx, filter, update, afterUpdate()).Decode(&r)
	if err == nil {
		return &r, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("failed to transition recharge %s: %w", id, err)
	}
	if _, err := s.GetRecharge(ctx, id); err != nil {
		return nil, err
	}
	return nil, ErrConflict
}

func (s *Mongo) ListRecharges(ctx context.Context, status RechargeStatus, createdBefore time.Time) ([]Recharge, error) {
	filter := bson.M{"status": status}
	if !createdBefore.IsZero() {
		filter["created_at"] = bson.M{"$lt": createdBefore}
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})

	cur, err := s.recharges.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list recharges: %w", err)
	}

	var out []Recharge
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode recharges: %w", err)
	}
	return out, nil
}

func (s *Mongo) MarkReminded(ctx context.Context, id string, at time.Time) error {
	res, err := s.recharges.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"reminded_at": at}})
	if err != nil {
		return fmt.Errorf("failed to mark recharge %s reminded: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
