package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/dandantas/vcollab/internal/lock"
	"github.com/dandantas/vcollab/internal/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// InlineLockStore keeps field-level locks on the field elements of the asset documents
// themselves (editingBy / editingLockExpires). Each write targets one array element
// through $elemMatch and the positional operator, so the precondition and the update are
// a single atomic document update.
type InlineLockStore struct {
	db          *mongo.Database
	collections map[string]bool
}

// NewInlineLockStore creates an inline lock store over the given collections.
// Targets naming any other collection are rejected.
func NewInlineLockStore(db *MongoDB, collections ...string) *InlineLockStore {
	return newInlineLockStore(db.Database, collections...)
}

func newInlineLockStore(db *mongo.Database, collections ...string) *InlineLockStore {
	allowed := make(map[string]bool, len(collections))
	for _, c := range collections {
		allowed[c] = true
	}
	return &InlineLockStore{db: db, collections: allowed}
}

func (s *InlineLockStore) Name() string { return "inline" }

func (s *InlineLockStore) collection(target lock.Target) (*mongo.Collection, error) {
	if !s.collections[target.Collection] {
		return nil, fmt.Errorf("%w: collection %q does not hold inline locks", lock.ErrInvalidTarget, target.Collection)
	}
	if target.FieldID == "" {
		return nil, fmt.Errorf("%w: inline locks need a field id", lock.ErrInvalidTarget)
	}
	return s.db.Collection(target.Collection), nil
}

// recordKey is the _id match for an external record id. A 24 hex character id may be
// stored either as an ObjectID or as a plain string, so it matches both.
func recordKey(id string) interface{} {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return bson.M{"$in": bson.A{oid, id}}
	}
	return id
}

func recordIDString(v interface{}) string {
	switch id := v.(type) {
	case primitive.ObjectID:
		return id.Hex()
	case string:
		return id
	default:
		return fmt.Sprint(id)
	}
}

// TryAcquire sets the editing attributes if the field is free or its lock has elapsed
func (s *InlineLockStore) TryAcquire(ctx context.Context, target lock.Target, owner string, now, expires time.Time) (lock.Lock, error) {
	coll, err := s.collection(target)
	if err != nil {
		return lock.Lock{}, err
	}

	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{
		"_id": recordKey(target.RecordID),
		"fields": bson.M{"$elemMatch": bson.M{
			"id": target.FieldID,
			"$or": []bson.M{
				{"editingBy": nil},
				{"editingBy": ""},
				{"editingLockExpires": bson.M{"$lte": now}},
			},
		}},
	}

	update := bson.M{
		"$set": bson.M{
			"fields.$.editingBy":          owner,
			"fields.$.editingLockExpires": expires,
		},
	}

	result, err := coll.UpdateOne(ctxTimeout, filter, update)
	if err != nil {
		return lock.Lock{}, fmt.Errorf("failed to acquire field lock: %w", err)
	}
	if result.MatchedCount == 0 {
		// Either held by someone else or the field does not exist; Get tells them apart.
		return lock.Lock{}, lock.ErrConflict
	}

	return lock.Lock{Target: target, Owner: owner, ExpiresAt: expires}, nil
}

// Extend moves the expiry of a live field lock held by owner
func (s *InlineLockStore) Extend(ctx context.Context, target lock.Target, owner string, now, expires time.Time) (lock.Lock, error) {
	coll, err := s.collection(target)
	if err != nil {
		return lock.Lock{}, err
	}

	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{
		"_id": recordKey(target.RecordID),
		"fields": bson.M{"$elemMatch": bson.M{
			"id":                 target.FieldID,
			"editingBy":          owner,
			"editingLockExpires": bson.M{"$gt": now},
		}},
	}

	update := bson.M{
		"$set": bson.M{
			"fields.$.editingLockExpires": expires,
		},
	}

	result, err := coll.UpdateOne(ctxTimeout, filter, update)
	if err != nil {
		return lock.Lock{}, fmt.Errorf("failed to extend field lock: %w", err)
	}
	if result.MatchedCount == 0 {
		return lock.Lock{}, lock.ErrNotOwned
	}

	return lock.Lock{Target: target, Owner: owner, ExpiresAt: expires}, nil
}

var clearEditing = bson.M{
	"$unset": bson.M{
		"fields.$.editingBy":          "",
		"fields.$.editingLockExpires": "",
	},
}

// Release clears the editing attributes if they name owner
func (s *InlineLockStore) Release(ctx context.Context, target lock.Target, owner string) (bool, error) {
	coll, err := s.collection(target)
	if err != nil {
		return false, err
	}

	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{
		"_id": recordKey(target.RecordID),
		"fields": bson.M{"$elemMatch": bson.M{
			"id":        target.FieldID,
			"editingBy": owner,
		}},
	}

	result, err := coll.UpdateOne(ctxTimeout, filter, clearEditing)
	if err != nil {
		return false, fmt.Errorf("failed to release field lock: %w", err)
	}

	return result.ModifiedCount > 0, nil
}

// Get reads the field's editing attributes. A missing record or field is ErrTargetNotFound.
func (s *InlineLockStore) Get(ctx context.Context, target lock.Target) (lock.Lock, bool, error) {
	coll, err := s.collection(target)
	if err != nil {
		return lock.Lock{}, false, err
	}

	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{
		"_id":       recordKey(target.RecordID),
		"fields.id": target.FieldID,
	}
	opts := options.FindOne().SetProjection(bson.M{"fields.$": 1})

	var asset model.Asset
	if err := coll.FindOne(ctxTimeout, filter, opts).Decode(&asset); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return lock.Lock{}, false, fmt.Errorf("%w: %s", lock.ErrTargetNotFound, target)
		}
		return lock.Lock{}, false, fmt.Errorf("failed to get field lock: %w", err)
	}

	field, ok := asset.Field(target.FieldID)
	if !ok {
		return lock.Lock{}, false, fmt.Errorf("%w: %s", lock.ErrTargetNotFound, target)
	}
	return fieldLock(target, field), field.EditingBy != "", nil
}

func fieldLock(target lock.Target, field *model.AssetField) lock.Lock {
	l := lock.Lock{Target: target, Owner: field.EditingBy}
	if field.EditingLockExpires != nil {
		l.ExpiresAt = field.EditingLockExpires.UTC()
	}
	return l
}


// ListExpired scans every inline collection for field locks that elapsed before now
func (s *InlineLockStore) ListExpired(ctx context.Context, now time.Time) ([]lock.Lock, error) {
	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	sort.Strings(names)

	var (
		locks []lock.Lock
		errs  []error
	)
	for _, name := range names {
		found, err := s.listExpiredIn(ctx, name, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		locks = append(locks, found...)
	}
	return locks, errors.Join(errs...)
}

func (s *InlineLockStore) listExpiredIn(ctx context.Context, name string, now time.Time) ([]lock.Lock, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	filter := bson.M{"fields.editingLockExpires": bson.M{"$lt": now}}
	opts := options.Find().SetProjection(bson.M{"_id": 1, "fields": 1})

	cursor, err := s.db.Collection(name).Find(ctxTimeout, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find expired field locks: %w", err)
	}
	defer cursor.Close(ctxTimeout)

	var locks []lock.Lock
	for cursor.Next(ctxTimeout) {
		var rec model.Asset
		if err := cursor.Decode(&rec); err != nil {
			slog.Warn("Skipping undecodable record", "collection", name, "error", err)
			continue
		}
		for i := range rec.Fields {
			target := lock.Target{Collection: name, RecordID: recordIDString(rec.ID), FieldID: rec.Fields[i].ID}
			l := fieldLock(target, &rec.Fields[i])
			if l.ExpiredAt(now) {
				locks = append(locks, l)
			}
		}
	}
	if err := cursor.Err(); err != nil {
		return locks, fmt.Errorf("cursor failed: %w", err)
	}
	return locks, nil
}

// ClearExpired removes the editing attributes only if the field lock is still elapsed
func (s *InlineLockStore) ClearExpired(ctx context.Context, target lock.Target, now time.Time) (bool, error) {
	coll, err := s.collection(target)
	if err != nil {
		return false, err
	}

	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{
		"_id": recordKey(target.RecordID),
		"fields": bson.M{"$elemMatch": bson.M{
			"id":                 target.FieldID,
			"editingLockExpires": bson.M{"$lt": now},
		}},
	}

	result, err := coll.UpdateOne(ctxTimeout, filter, clearEditing)
	if err != nil {
		return false, fmt.Errorf("failed to clear expired field lock: %w", err)
	}

	return result.ModifiedCount > 0, nil
}
