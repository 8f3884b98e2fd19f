package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dandantas/vcollab/internal/lock"
	"github.com/dandantas/vcollab/internal/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// StandaloneLockStore keeps asset-level locks as documents of their own, one per
// target, guarded by a unique index on targetId.
type StandaloneLockStore struct {
	collection *mongo.Collection
}

// NewStandaloneLockStore creates a lock store over the asset_locks collection
func NewStandaloneLockStore(db *MongoDB) *StandaloneLockStore {
	return newStandaloneLockStore(db.Database)
}

func newStandaloneLockStore(db *mongo.Database) *StandaloneLockStore {
	return &StandaloneLockStore{
		collection: db.Collection(CollectionAssetLocks),
	}
}

func (s *StandaloneLockStore) Name() string { return "standalone" }

func toLock(doc model.AssetLock) (lock.Lock, error) {
	target, err := lock.ParseRecordKey(doc.TargetID)
	if err != nil {
		return lock.Lock{}, err
	}
	return lock.Lock{Target: target, Owner: doc.Owner, ExpiresAt: doc.Expires.UTC()}, nil
}

// TryAcquire upserts the lock document. When a live lock exists the filter does not
// match and the upsert collides with the unique targetId index, which is reported as a
// conflict.
func (s *StandaloneLockStore) TryAcquire(ctx context.Context, target lock.Target, owner string, now, expires time.Time) (lock.Lock, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// Filter: either no lock exists for this target, or the existing lock has elapsed
	filter := bson.M{
		"targetId": target.RecordKey(),
		"$or": []bson.M{
			{"expires": bson.M{"$lte": now}},
			{"expires": bson.M{"$exists": false}},
		},
	}

	update := bson.M{
		"$set": bson.M{
			"targetId":   target.RecordKey(),
			"owner":      owner,
			"acquiredAt": now,
			"expires":    expires,
		},
	}

	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var result model.AssetLock
	err := s.collection.FindOneAndUpdate(ctxTimeout, filter, update, opts).Decode(&result)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) || mongo.IsDuplicateKeyError(err) {
			return lock.Lock{}, lock.ErrConflict
		}
		return lock.Lock{}, fmt.Errorf("failed to acquire lock: %w", err)
	}

	// The returned document must carry our owner
	if result.Owner != owner {
		return lock.Lock{}, lock.ErrConflict
	}

	return lock.Lock{Target: target, Owner: owner, ExpiresAt: result.Expires.UTC()}, nil
}

// Extend moves the expiry of a live lock held by owner
func (s *StandaloneLockStore) Extend(ctx context.Context, target lock.Target, owner string, now, expires time.Time) (lock.Lock, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{
		"targetId": target.RecordKey(),
		"owner":    owner,
		"expires":  bson.M{"$gt": now},
	}

	update := bson.M{
		"$set": bson.M{
			"expires": expires,
		},
	}

	result, err := s.collection.UpdateOne(ctxTimeout, filter, update)
	if err != nil {
		return lock.Lock{}, fmt.Errorf("failed to extend lock: %w", err)
	}
	if result.MatchedCount == 0 {
		return lock.Lock{}, lock.ErrNotOwned
	}

	return lock.Lock{Target: target, Owner: owner, ExpiresAt: expires}, nil
}

// Release deletes the lock document, but only if it belongs to owner
func (s *StandaloneLockStore) Release(ctx context.Context, target lock.Target, owner string) (bool, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{
		"targetId": target.RecordKey(),
		"owner":    owner,
	}

	result, err := s.collection.DeleteOne(ctxTimeout, filter)
	if err != nil {
		return false, fmt.Errorf("failed to release lock: %w", err)
	}

	return result.DeletedCount > 0, nil
}

func (s *StandaloneLockStore) Get(ctx context.Context, target lock.Target) (lock.Lock, bool, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var doc model.AssetLock
	err := s.collection.FindOne(ctxTimeout, bson.M{"targetId": target.RecordKey()}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return lock.Lock{Target: target}, false, nil
		}
		return lock.Lock{}, false, fmt.Errorf("failed to get lock: %w", err)
	}

	return lock.Lock{Target: target, Owner: doc.Owner, ExpiresAt: doc.Expires.UTC()}, doc.Owner != "", nil
}

// ListExpired returns lock documents whose expiry is strictly before now.
// Malformed documents are skipped and logged.
func (s *StandaloneLockStore) ListExpired(ctx context.Context, now time.Time) ([]lock.Lock, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cursor, err := s.collection.Find(ctxTimeout, bson.M{"expires": bson.M{"$lt": now}})
	if err != nil {
		return nil, fmt.Errorf("failed to find expired locks: %w", err)
	}
	defer cursor.Close(ctxTimeout)

	var docs []model.AssetLock
	if err := cursor.All(ctxTimeout, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode expired locks: %w", err)
	}

	locks := make([]lock.Lock, 0, len(docs))
	for _, doc := range docs {
		l, err := toLock(doc)
		if err != nil {
			slog.Warn("Skipping malformed lock document", "id", doc.ID.Hex(), "error", err)
			continue
		}
		locks = append(locks, l)
	}
	return locks, nil
}

// ClearExpired deletes the lock document only if it is still expired at write time
func (s *StandaloneLockStore) ClearExpired(ctx context.Context, target lock.Target, now time.Time) (bool, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{
		"targetId": target.RecordKey(),
		"expires":  bson.M{"$lt": now},
	}

	result, err := s.collection.DeleteOne(ctxTimeout, filter)
	if err != nil {
		return false, fmt.Errorf("failed to clear expired lock: %w", err)
	}

	return result.DeletedCount > 0, nil
}
