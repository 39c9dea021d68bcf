package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/lumeapp/billingd/pkg/catalog"
)

// snapshotDoc is the persisted shape: one document per user, keyed by the
// user ID, with the subscription embedded so partial updates can address
// individual fields.
type snapshotDoc struct {
	UserID       string       `bson:"_id"`
	Subscription Subscription `bson:"subscription"`
}

// MongoStore implements SnapshotStore on a MongoDB collection. Ordering is
// enforced inside the database: Apply is a single conditional update whose
// filter admits only facts at least as new as the stored last_synced_at, so
// concurrent writers cannot interleave a read-modify-write race.
type MongoStore struct {
	col *mongo.Collection
}

// NewMongoStore creates a snapshot store on the given collection.
// Panics if col is nil.
func NewMongoStore(col *mongo.Collection) *MongoStore {
	if col == nil {
		panic("billing: mongo collection is required")
	}
	return &MongoStore{col: col}
}

// EnsureIndexes creates the secondary index used by webhook subject
// resolution. Safe to call on every startup.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "subscription.customer_id", Value: 1}},
		Options: options.Index().
			SetName("subscription_customer_id").
			SetSparse(true),
	})
	if err != nil {
		return fmt.Errorf("create customer_id index: %w", err)
	}
	return nil
}

func (s *MongoStore) Get(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	var doc snapshotDoc
	err := s.col.FindOne(ctx, bson.M{"_id": userID.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find snapshot: %w", err)
	}

	sub := doc.Subscription
	sub.UserID = userID
	return &sub, nil
}

// Apply merges the change with one conditional upsert. The filter only
// matches documents whose last_synced_at is not newer than observedAt; a
// stale fact therefore matches nothing, and the upsert's insert attempt
// collides with the existing _id. That duplicate-key error is the stale
// signal, and the current snapshot is returned alongside ErrStaleFact.
func (s *MongoStore) Apply(ctx context.Context, userID uuid.UUID, change Change, observedAt time.Time) (*Subscription, error) {
	filter := bson.M{
		"_id": userID.String(),
		"$or": bson.A{
			bson.M{"subscription.last_synced_at": bson.M{"$lte": observedAt}},
			bson.M{"subscription.last_synced_at": bson.M{"$exists": false}},
		},
	}

	var doc snapshotDoc
	err := s.col.FindOneAndUpdate(ctx, filter,
		buildApplyUpdate(change, observedAt),
		options.FindOneAndUpdate().
			SetUpsert(true).
			SetReturnDocument(options.After),
	).Decode(&doc)

	if mongo.IsDuplicateKeyError(err) {
		snap, getErr := s.Get(ctx, userID)
		if getErr != nil {
			return nil, errors.Join(ErrStaleFact, getErr)
		}
		return snap, ErrStaleFact
	}
	if err != nil {
		return nil, fmt.Errorf("apply snapshot change: %w", err)
	}

	sub := doc.Subscription
	sub.UserID = userID
	return &sub, nil
}

func (s *MongoStore) FindByCustomerID(ctx context.Context, customerID string) (uuid.UUID, error) {
	if customerID == "" {
		return uuid.Nil, ErrSnapshotNotFound
	}

	var doc snapshotDoc
	err := s.col.FindOne(ctx, bson.M{"subscription.customer_id": customerID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return uuid.Nil, ErrSnapshotNotFound
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("find snapshot by customer: %w", err)
	}

	userID, err := uuid.Parse(doc.UserID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse stored user id %q: %w", doc.UserID, err)
	}
	return userID, nil
}

// buildApplyUpdate turns a change into the update document. A first fact may
// be partial (a customer identity write before any subscription exists), so
// inserts seed the implicit free record: reads must never see a zero-valued
// status or plan. The defaults go through $setOnInsert only for fields the
// change does not already set, since Mongo rejects a path present in both
// operators.
func buildApplyUpdate(change Change, observedAt time.Time) bson.M {
	set := bson.M{"subscription.last_synced_at": observedAt}
	setChangeFields(set, change)

	update := bson.M{"$set": set}
	insertDefaults := bson.M{}
	if _, ok := set["subscription.status"]; !ok {
		insertDefaults["subscription.status"] = StatusNone
	}
	if _, ok := set["subscription.plan"]; !ok {
		insertDefaults["subscription.plan"] = catalog.PlanFree
	}
	if len(insertDefaults) > 0 {
		update["$setOnInsert"] = insertDefaults
	}
	return update
}

// setChangeFields writes each present change field under the subscription
// sub-document. Set-to-zero is an overwrite like any other.
func setChangeFields(set bson.M, change Change) {
	if change.SubscriptionID != nil {
		set["subscription.id"] = *change.SubscriptionID
	}
	if change.Provider != nil {
		set["subscription.provider"] = *change.Provider
	}
	if change.CustomerID != nil {
		set["subscription.customer_id"] = *change.CustomerID
	}
	if change.Status != nil {
		set["subscription.status"] = *change.Status
	}
	if change.Plan != nil {
		set["subscription.plan"] = *change.Plan
	}
	if change.Period != nil {
		set["subscription.period"] = *change.Period
	}
	if change.CurrentPeriodEnd != nil {
		set["subscription.current_period_end"] = *change.CurrentPeriodEnd
	}
	if change.CancelAtPeriodEnd != nil {
		set["subscription.cancel_at_period_end"] = *change.CancelAtPeriodEnd
	}
	if change.PriceID != nil {
		set["subscription.price_id"] = *change.PriceID
	}
	if change.ProductID != nil {
		set["subscription.product_id"] = *change.ProductID
	}
}
