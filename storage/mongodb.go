package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// MongoDB holds the MongoDB client and database
type MongoDB struct {
	Client   *mongo.Client
	Database *mongo.Database
}

// NewMongoDB creates a new MongoDB connection
func NewMongoDB(uri, dbName string, maxPoolSize uint64, logger *zap.SugaredLogger) (*MongoDB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOptions := options.Client().ApplyURI(uri).SetMaxPoolSize(maxPoolSize)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Ping to verify connection
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	logger.Infow("Connected to MongoDB", "database", dbName)

	return &MongoDB{
		Client:   client,
		Database: client.Database(dbName),
	}, nil
}

// HealthCheck performs a health check on the MongoDB connection
func (m *MongoDB) HealthCheck(ctx context.Context) error {
	return m.Client.Ping(ctx, nil)
}

// Close closes the MongoDB connection
func (m *MongoDB) Close(ctx context.Context) error {
	return m.Client.Disconnect(ctx)
}

// MongoStore is the primary store. It implements the table, row, user,
// login-attempt, log and wipe operations over one database.
type MongoStore struct {
	db       *MongoDB
	tables   *mongo.Collection
	rows     *mongo.Collection
	users    *mongo.Collection
	logs     *mongo.Collection
	otps     *mongo.Collection
	attempts *mongo.Collection
	logger   *zap.SugaredLogger
}

// NewMongoStore wraps a connected database and ensures its indexes.
func NewMongoStore(ctx context.Context, db *MongoDB, logger *zap.SugaredLogger) (*MongoStore, error) {
	s := &MongoStore{
		db:       db,
		tables:   db.Database.Collection(CollectionTables),
		rows:     db.Database.Collection(CollectionRows),
		users:    db.Database.Collection(CollectionUsers),
		logs:     db.Database.Collection(CollectionLogs),
		otps:     db.Database.Collection(CollectionOTPs),
		attempts: db.Database.Collection(CollectionLoginAttempts),
		logger:   logger,
	}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	indexes := []struct {
		coll  *mongo.Collection
		model mongo.IndexModel
	}{
		{s.users, mongo.IndexModel{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)}},
		{s.tables, mongo.IndexModel{Keys: bson.D{{Key: "owner_id", Value: 1}}}},
		{s.tables, mongo.IndexModel{Keys: bson.D{{Key: "grantee_index", Value: 1}}}},
		{s.rows, mongo.IndexModel{Keys: bson.D{{Key: "table_id", Value: 1}, {Key: "created_at", Value: -1}}}},
		{s.rows, mongo.IndexModel{
			Keys: bson.D{{Key: "table_id", Value: 1}, {Key: "uniq", Value: 1}},
			Options: options.Index().
				SetName("rows_unique_keys").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"uniq": bson.M{"$exists": true}}),
		}},
		{s.attempts, mongo.IndexModel{Keys: bson.D{{Key: "email", Value: 1}, {Key: "ip_address", Value: 1}}}},
		{s.logs, mongo.IndexModel{Keys: bson.D{{Key: "timestamp", Value: -1}}}},
	}
	for _, idx := range indexes {
		if _, err := idx.coll.Indexes().CreateOne(ctx, idx.model); err != nil {
			return fmt.Errorf("failed to create index on %s: %w", idx.coll.Name(), err)
		}
	}
	return nil
}

// HealthCheck pings the primary database.
func (s *MongoStore) HealthCheck(ctx context.Context) error {
	return s.db.HealthCheck(ctx)
}

// wrapWriteErr maps duplicate key failures to ErrDuplicateKey.
func wrapWriteErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%s: %w", op, ErrDuplicateKey)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

func (s *MongoStore) collection(name string) (*mongo.Collection, error) {
	switch name {
	case CollectionUsers:
		return s.users, nil
	case CollectionTables:
		return s.tables, nil
	case CollectionRows:
		return s.rows, nil
	case CollectionLogs:
		return s.logs, nil
	case CollectionOTPs:
		return s.otps, nil
	case CollectionLoginAttempts:
		return s.attempts, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, name)
}
