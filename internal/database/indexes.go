package database

import (
	"context"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CreateIndexes creates all necessary indexes for the lock collections
func CreateIndexes(ctx context.Context, db *MongoDB, inlineCollections ...string) error {
	slog.Info("Creating MongoDB indexes")

	// Asset Locks Indexes
	if err := createAssetLocksIndexes(ctx, db); err != nil {
		return err
	}

	// Inline field lock indexes
	for _, name := range inlineCollections {
		if err := createInlineLockIndexes(ctx, db, name); err != nil {
			return err
		}
	}

	slog.Info("Successfully created all MongoDB indexes")
	return nil
}

// createAssetLocksIndexes creates no TTL index on expires. Expired lock documents are
// removed only by the reaper's conditional delete.
func createAssetLocksIndexes(ctx context.Context, db *MongoDB) error {
	collection := db.GetCollection(CollectionAssetLocks)

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "targetId", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("idx_target_id_unique"),
		},
		{
			Keys:    bson.D{{Key: "expires", Value: 1}},
			Options: options.Index().SetName("idx_expires"),
		},
		{
			Keys:    bson.D{{Key: "owner", Value: 1}},
			Options: options.Index().SetName("idx_owner"),
		},
	}

	ctxTimeout, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err := collection.Indexes().CreateMany(ctxTimeout, indexes)
	if err != nil {
		return err
	}

	slog.Info("Created asset_locks indexes")
	return nil
}

func createInlineLockIndexes(ctx context.Context, db *MongoDB, name string) error {
	collection := db.GetCollection(name)

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "fields.editingLockExpires", Value: 1}},
			Options: options.Index().SetSparse(true).SetName("idx_fields_editing_lock_expires"),
		},
		{
			Keys:    bson.D{{Key: "fields.editingBy", Value: 1}},
			Options: options.Index().SetSparse(true).SetName("idx_fields_editing_by"),
		},
	}

	ctxTimeout, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err := collection.Indexes().CreateMany(ctxTimeout, indexes)
	if err != nil {
		return err
	}

	slog.Info("Created inline lock indexes", "collection", name)
	return nil
}
