package storage

import (
	"context"
	"fmt"

	"tablevault/core"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CreateTable inserts a table document.
func (s *MongoStore) CreateTable(ctx context.Context, t *core.Table) error {
	_, err := s.tables.InsertOne(ctx, t)
	return wrapWriteErr("failed to create table", err)
}

// GetTable loads a table document by id.
func (s *MongoStore) GetTable(ctx context.Context, id string) (*core.Table, error) {
	var t core.Table
	err := s.tables.FindOne(ctx, bson.M{"_id": id}).Decode(&t)
	if err != nil {
		if isNoDocuments(err) {
			return nil, core.ErrTableNotFound
		}
		return nil, fmt.Errorf("failed to get table: %w", err)
	}
	return &t, nil
}

// UpdateTable replaces a table document.
func (s *MongoStore) UpdateTable(ctx context.Context, t *core.Table) error {
	res, err := s.tables.ReplaceOne(ctx, bson.M{"_id": t.ID}, t)
	if err != nil {
		return wrapWriteErr("failed to update table", err)
	}
	if res.MatchedCount == 0 {
		return core.ErrTableNotFound
	}
	return nil
}

// DeleteTable removes a table document.
func (s *MongoStore) DeleteTable(ctx context.Context, id string) error {
	res, err := s.tables.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete table: %w", err)
	}
	if res.DeletedCount == 0 {
		return core.ErrTableNotFound
	}
	return nil
}

// ListTablesByOwner returns the tables owned by a user, newest first.
func (s *MongoStore) ListTablesByOwner(ctx context.Context, ownerID string) ([]*core.Table, error) {
	return s.findTables(ctx, bson.M{"owner_id": ownerID})
}

// ListTablesByGrantee returns the tables whose grantee index contains the
// given blind index. Callers must still confirm the decrypted grant email.
func (s *MongoStore) ListTablesByGrantee(ctx context.Context, granteeIndex string) ([]*core.Table, error) {
	return s.findTables(ctx, bson.M{"grantee_index": granteeIndex})
}

func (s *MongoStore) findTables(ctx context.Context, filter bson.M) ([]*core.Table, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cursor, err := s.tables.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer cursor.Close(ctx)

	tables := make([]*core.Table, 0)
	if err := cursor.All(ctx, &tables); err != nil {
		return nil, fmt.Errorf("failed to decode tables: %w", err)
	}
	return tables, nil
}
