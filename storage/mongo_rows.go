package storage

import (
	"context"
	"fmt"

	"tablevault/core"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// InsertRow inserts a row. A unique index violation returns ErrDuplicateKey.
func (s *MongoStore) InsertRow(ctx context.Context, r *core.Row) error {
	_, err := s.rows.InsertOne(ctx, r)
	return wrapWriteErr("failed to insert row", err)
}

// UpdateRow replaces a row in place.
func (s *MongoStore) UpdateRow(ctx context.Context, r *core.Row) error {
	res, err := s.rows.ReplaceOne(ctx, bson.M{"_id": r.ID, "table_id": r.TableID}, r)
	if err != nil {
		return wrapWriteErr("failed to update row", err)
	}
	if res.MatchedCount == 0 {
		return core.ErrRowNotFound
	}
	return nil
}

// GetRow loads one row of a table.
func (s *MongoStore) GetRow(ctx context.Context, tableID, rowID string) (*core.Row, error) {
	var r core.Row
	err := s.rows.FindOne(ctx, bson.M{"_id": rowID, "table_id": tableID}).Decode(&r)
	if err != nil {
		if isNoDocuments(err) {
			return nil, core.ErrRowNotFound
		}
		return nil, fmt.Errorf("failed to get row: %w", err)
	}
	return &r, nil
}

// FindRows runs a paginated row query, newest rows first.
func (s *MongoStore) FindRows(ctx context.Context, q *core.RowQuery) ([]*core.Row, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(q.Skip)).
		SetLimit(int64(q.Limit))
	if q.Projection != nil {
		proj := bson.M{"_id": 1, "table_id": 1, "created_at": 1}
		for _, name := range q.Projection {
			proj["values."+name] = 1
		}
		opts.SetProjection(proj)
	}

	cursor, err := s.rows.Find(ctx, rowFilter(q.TableID, q.Filter), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find rows: %w", err)
	}
	defer cursor.Close(ctx)

	rows := make([]*core.Row, 0, q.Limit)
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode rows: %w", err)
	}
	return rows, nil
}

// CountRows counts a table's rows under a digest filter.
func (s *MongoStore) CountRows(ctx context.Context, tableID string, filter map[string][]string) (int64, error) {
	n, err := s.rows.CountDocuments(ctx, rowFilter(tableID, filter))
	if err != nil {
		return 0, fmt.Errorf("failed to count rows: %w", err)
	}
	return n, nil
}

// ValueExists reports whether another row of the table holds the digest at field.
func (s *MongoStore) ValueExists(ctx context.Context, tableID, field, digest, excludeRowID string) (bool, error) {
	filter := bson.M{"table_id": tableID, "index." + field: digest}
	if excludeRowID != "" {
		filter["_id"] = bson.M{"$ne": excludeRowID}
	}
	n, err := s.rows.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("failed to check unique value: %w", err)
	}
	return n > 0, nil
}

// DeleteRow removes one row.
func (s *MongoStore) DeleteRow(ctx context.Context, tableID, rowID string) error {
	res, err := s.rows.DeleteOne(ctx, bson.M{"_id": rowID, "table_id": tableID})
	if err != nil {
		return fmt.Errorf("failed to delete row: %w", err)
	}
	if res.DeletedCount == 0 {
		return core.ErrRowNotFound
	}
	return nil
}

// DeleteRowsByTable removes every row of a table.
func (s *MongoStore) DeleteRowsByTable(ctx context.Context, tableID string) (int64, error) {
	res, err := s.rows.DeleteMany(ctx, bson.M{"table_id": tableID})
	if err != nil {
		return 0, fmt.Errorf("failed to delete rows: %w", err)
	}
	return res.DeletedCount, nil
}

// EnableUnique makes field unique within the table. Rows holding a value get
// the field's unique key, which the rows_unique_keys index enforces. Existing
// duplicates fail with ErrDuplicateKey before any row is touched.
func (s *MongoStore) EnableUnique(ctx context.Context, tableID, field string) error {
	key := "index." + field
	match := bson.M{"table_id": tableID, key: bson.M{"$type": "string"}}

	cursor, err := s.rows.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$group", Value: bson.M{"_id": "$" + key, "n": bson.M{"$sum": 1}}}},
		{{Key: "$match", Value: bson.M{"n": bson.M{"$gt": 1}}}},
		{{Key: "$limit", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to check unique field: %w", err)
	}
	defer cursor.Close(ctx)
	if cursor.Next(ctx) {
		return fmt.Errorf("failed to enable unique field: %w", ErrDuplicateKey)
	}
	if err := cursor.Err(); err != nil {
		return fmt.Errorf("failed to check unique field: %w", err)
	}

	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{"uniq": bson.M{"$concatArrays": bson.A{
			otherUniqueKeys(field),
			bson.A{bson.M{"$concat": bson.A{core.UniqueKey(field, ""), "$" + key}}},
		}}}}},
	}
	if _, err := s.rows.UpdateMany(ctx, match, update); err != nil {
		return wrapWriteErr("failed to enable unique field", err)
	}
	return nil
}

// DisableUnique removes the unique keys of field from every row of the table.
func (s *MongoStore) DisableUnique(ctx context.Context, tableID, field string) error {
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{"uniq": otherUniqueKeys(field)}}},
		{{Key: "$set", Value: bson.M{"uniq": bson.M{"$cond": bson.A{
			bson.M{"$eq": bson.A{bson.M{"$size": "$uniq"}, 0}}, "$$REMOVE", "$uniq",
		}}}}},
	}
	filter := bson.M{"table_id": tableID, "uniq": bson.M{"$exists": true}}
	if _, err := s.rows.UpdateMany(ctx, filter, update); err != nil {
		return fmt.Errorf("failed to disable unique field: %w", err)
	}
	return nil
}

// otherUniqueKeys is an aggregation expression for a row's unique keys
// without those of field.
func otherUniqueKeys(field string) bson.M {
	return bson.M{"$filter": bson.M{
		"input": bson.M{"$ifNull": bson.A{"$uniq", bson.A{}}},
		"cond": bson.M{"$ne": bson.A{
			bson.M{"$indexOfBytes": bson.A{"$$this", core.UniqueKey(field, "")}}, 0,
		}},
	}}
}

func rowFilter(tableID string, filter map[string][]string) bson.M {
	f := bson.M{"table_id": tableID}
	for field, digests := range filter {
		f["index."+field] = bson.M{"$in": digests}
	}
	return f
}
