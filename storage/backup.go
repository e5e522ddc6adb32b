package storage

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// BackupStore keeps breach-recovery copies of primary documents. It only
// ever receives upserts: deletes and wipes on the primary never reach it.
type BackupStore interface {
	Save(ctx context.Context, collection, id string, doc interface{}) error
	Count(ctx context.Context, collection string) (int64, error)
	Close(ctx context.Context) error
}

// MongoBackup stores backup copies in a separate MongoDB database.
type MongoBackup struct {
	db *mongo.Database
}

// NewMongoBackup uses db as the backup database. db must not be the primary.
func NewMongoBackup(db *mongo.Database) *MongoBackup {
	return &MongoBackup{db: db}
}

// Save upserts a copy of doc under id.
func (b *MongoBackup) Save(ctx context.Context, collection, id string, doc interface{}) error {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal backup document: %w", err)
	}
	var m bson.M
	if err := bson.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("failed to unmarshal backup document: %w", err)
	}
	m["_id"] = id
	m["backed_up_at"] = time.Now().UTC()

	_, err = b.db.Collection(collection).ReplaceOne(ctx, bson.M{"_id": id}, m, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save backup to %s: %w", collection, err)
	}
	return nil
}

// Count returns the number of backup copies in a collection.
func (b *MongoBackup) Count(ctx context.Context, collection string) (int64, error) {
	n, err := b.db.Collection(collection).CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("failed to count backups in %s: %w", collection, err)
	}
	return n, nil
}

// Close is a no-op; the client is owned by the caller.
func (b *MongoBackup) Close(context.Context) error {
	return nil
}
