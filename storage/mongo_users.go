package storage

import (
	"context"
	"fmt"
	"strings"

	"tablevault/core"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// NormalizeEmail is the canonical form under which users and login attempts
// are stored and counted.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateUser inserts a user. A taken email returns ErrDuplicateKey.
func (s *MongoStore) CreateUser(ctx context.Context, u *core.User) error {
	u.Email = NormalizeEmail(u.Email)
	_, err := s.users.InsertOne(ctx, u)
	return wrapWriteErr("failed to create user", err)
}

// UpdateUser replaces a user document.
func (s *MongoStore) UpdateUser(ctx context.Context, u *core.User) error {
	u.Email = NormalizeEmail(u.Email)
	res, err := s.users.ReplaceOne(ctx, bson.M{"_id": u.ID}, u)
	if err != nil {
		return wrapWriteErr("failed to update user", err)
	}
	if res.MatchedCount == 0 {
		return core.ErrUserNotFound
	}
	return nil
}

// GetUserByEmail looks a user up by normalized email.
func (s *MongoStore) GetUserByEmail(ctx context.Context, email string) (*core.User, error) {
	return s.findUser(ctx, bson.M{"email": NormalizeEmail(email)})
}

// GetUserByID looks a user up by id.
func (s *MongoStore) GetUserByID(ctx context.Context, id string) (*core.User, error) {
	return s.findUser(ctx, bson.M{"_id": id})
}

func (s *MongoStore) findUser(ctx context.Context, filter bson.M) (*core.User, error) {
	var u core.User
	if err := s.users.FindOne(ctx, filter).Decode(&u); err != nil {
		if isNoDocuments(err) {
			return nil, core.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// InsertLoginAttempt appends a failed login record.
func (s *MongoStore) InsertLoginAttempt(ctx context.Context, a *core.LoginAttempt) error {
	a.Email = NormalizeEmail(a.Email)
	_, err := s.attempts.InsertOne(ctx, a)
	return wrapWriteErr("failed to insert login attempt", err)
}

// CountLoginAttempts counts failed logins for an (email, ip) pair.
func (s *MongoStore) CountLoginAttempts(ctx context.Context, email, ip string) (int64, error) {
	n, err := s.attempts.CountDocuments(ctx, bson.M{"email": NormalizeEmail(email), "ip_address": ip})
	if err != nil {
		return 0, fmt.Errorf("failed to count login attempts: %w", err)
	}
	return n, nil
}

// InsertLog appends an audit log entry.
func (s *MongoStore) InsertLog(ctx context.Context, e *core.LogEntry) error {
	_, err := s.logs.InsertOne(ctx, e)
	return wrapWriteErr("failed to insert log entry", err)
}

// ListLogs returns log entries newest first together with the total count.
func (s *MongoStore) ListLogs(ctx context.Context, skip, limit int) ([]*core.LogEntry, int64, error) {
	total, err := s.logs.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count logs: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetSkip(int64(skip)).
		SetLimit(int64(limit))
	cursor, err := s.logs.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list logs: %w", err)
	}
	defer cursor.Close(ctx)

	entries := make([]*core.LogEntry, 0, limit)
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, 0, fmt.Errorf("failed to decode logs: %w", err)
	}
	return entries, total, nil
}

// InsertOTP stores a one-time passcode record.
func (s *MongoStore) InsertOTP(ctx context.Context, o *OTP) error {
	o.Email = NormalizeEmail(o.Email)
	_, err := s.otps.InsertOne(ctx, o)
	return wrapWriteErr("failed to insert otp", err)
}

// Count returns the number of documents in a primary collection.
func (s *MongoStore) Count(ctx context.Context, collection string) (int64, error) {
	coll, err := s.collection(collection)
	if err != nil {
		return 0, err
	}
	return coll.CountDocuments(ctx, bson.M{})
}

// Wipe clears the primary store: every non-admin user and every table, row,
// log, otp and login attempt. The deletes are independent; the first
// failure stops the wipe and the report lists what was already cleared.
func (s *MongoStore) Wipe(ctx context.Context) (*WipeReport, error) {
	report := newWipeReport()
	for _, name := range WipeOrder {
		coll, err := s.collection(name)
		if err != nil {
			return report, err
		}
		filter := bson.M{}
		if name == CollectionUsers {
			filter = bson.M{"is_admin": bson.M{"$ne": true}}
		}
		res, err := coll.DeleteMany(ctx, filter)
		if err != nil {
			return report, fmt.Errorf("failed to wipe %s: %w", name, err)
		}
		report.record(name, res.DeletedCount)
	}
	return report, nil
}
