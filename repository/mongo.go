package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kenryalonzo/doualairblog-auth/apperr"
	"github.com/kenryalonzo/doualairblog-auth/models"
	"github.com/kenryalonzo/doualairblog-auth/utils"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoStore keeps sessions embedded in the user document. Every session
// mutation is a single targeted update, so concurrent writers on the same
// user never overwrite each other's records.
type MongoStore struct {
	users *mongo.Collection
	now   func() time.Time
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		users: db.Collection(UsersCollection),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

var identityProjection = bson.M{"passwordHash": 0, "refreshTokens": 0}

// The positional "$" projection is inclusion-only, so the fields needed by
// the session flows are listed explicitly.
func sessionLookupProjection() bson.M {
	return bson.M{
		"username":        1,
		"usernameLower":   1,
		"email":           1,
		"role":            1,
		"isActive":        1,
		"authProvider":    1,
		"lastLogin":       1,
		"createdAt":       1,
		"updatedAt":       1,
		"refreshTokens.$": 1,
	}
}

func conflictField(err error) string {
	switch utils.DuplicateKeyField(err, "email", "usernameLower") {
	case "email":
		return "email"
	case "usernameLower":
		return "username"
	}
	return ""
}

func (s *MongoStore) findOne(ctx context.Context, op string, filter bson.M, opts ...options.Lister[options.FindOneOptions]) (*models.User, error) {
	var u models.User
	err := s.users.FindOne(ctx, filter, opts...).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.E(op, apperr.ErrNotFound, "user")
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &u, nil
}

func (s *MongoStore) CreateUser(ctx context.Context, u *models.User) error {
	const op = "repository.CreateUser"
	if u.ID.IsZero() {
		u.ID = bson.NewObjectID()
	}
	if u.RefreshTokens == nil {
		// $push needs an array, not null.
		u.RefreshTokens = []models.SessionRecord{}
	}
	if _, err := s.users.InsertOne(ctx, u); err != nil {
		if utils.IsDuplicateKey(err) {
			return apperr.ConflictError{Op: op, Field: conflictField(err)}
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *MongoStore) CreateUserIfAbsent(ctx context.Context, u *models.User) (bool, error) {
	const op = "repository.CreateUserIfAbsent"
	filter, update := createIfAbsentQuery(u)
	res, err := s.users.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	if err != nil {
		if utils.IsDuplicateKey(err) {
			return false, apperr.ConflictError{Op: op, Field: conflictField(err)}
		}
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if res.UpsertedCount == 1 {
		if oid, ok := res.UpsertedID.(bson.ObjectID); ok {
			u.ID = oid
		}
		return true, nil
	}
	return false, nil
}

func createIfAbsentQuery(u *models.User) (bson.M, bson.M) {
	filter := bson.M{"email": u.Email}
	update := bson.M{
		"$setOnInsert": bson.M{
			"username":      u.Username,
			"usernameLower": u.UsernameLower,
			"email":         u.Email,
			"passwordHash":  u.PasswordHash,
			"role":          u.Role,
			"isActive":      u.IsActive,
			"refreshTokens": bson.A{},
			"createdAt":     u.CreatedAt,
			"updatedAt":     u.UpdatedAt,
		},
	}
	return filter, update
}

func (s *MongoStore) FindUserByID(ctx context.Context, id string) (*models.User, error) {
	oid, err := utils.ParseObjectID(id)
	if err != nil {
		return nil, err
	}
	return s.findOne(ctx, "repository.FindUserByID", bson.M{"_id": oid})
}

func (s *MongoStore) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.findOne(ctx, "repository.FindUserByEmail", bson.M{"email": email})
}

func (s *MongoStore) FindIdentity(ctx context.Context, id string) (*models.User, error) {
	oid, err := utils.ParseObjectID(id)
	if err != nil {
		return nil, err
	}
	return s.findOne(ctx, "repository.FindIdentity", bson.M{"_id": oid},
		options.FindOne().SetProjection(identityProjection))
}

func (s *MongoStore) EmailOrUsernameTaken(ctx context.Context, email, usernameLower string) (string, bool, error) {
	const op = "repository.EmailOrUsernameTaken"
	filter := bson.M{"$or": bson.A{
		bson.M{"email": email},
		bson.M{"usernameLower": usernameLower},
	}}
	u, err := s.findOne(ctx, op, filter,
		options.FindOne().SetProjection(bson.M{"email": 1, "usernameLower": 1}))
	if errors.Is(err, apperr.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if u.Email == email {
		return "email", true, nil
	}
	return "username", true, nil
}

func (s *MongoStore) updateByID(ctx context.Context, op, id string, update bson.M) (*mongo.UpdateResult, error) {
	oid, err := utils.ParseObjectID(id)
	if err != nil {
		return nil, err
	}
	res, err := s.users.UpdateByID(ctx, oid, update)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if res.MatchedCount == 0 {
		return nil, apperr.E(op, apperr.ErrNotFound, "user")
	}
	return res, nil
}

func (s *MongoStore) SetUserActive(ctx context.Context, id string, active bool) error {
	_, err := s.updateByID(ctx, "repository.SetUserActive", id, bson.M{
		"$set": bson.M{"isActive": active, "updatedAt": s.now()},
	})
	return err
}

func (s *MongoStore) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	_, err := s.updateByID(ctx, "repository.UpdatePassword", id, bson.M{
		"$set": bson.M{
			"passwordHash":  passwordHash,
			"refreshTokens": bson.A{},
			"updatedAt":     s.now(),
		},
	})
	return err
}

func (s *MongoStore) DeleteUser(ctx context.Context, id string) error {
	const op = "repository.DeleteUser"
	oid, err := utils.ParseObjectID(id)
	if err != nil {
		return err
	}
	res, err := s.users.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if res.DeletedCount == 0 {
		return apperr.E(op, apperr.ErrNotFound, "user")
	}
	return nil
}

func addSessionQuery(oid bson.ObjectID, rec models.SessionRecord, opts AddOptions, now time.Time) (bson.M, bson.M) {
	filter := bson.M{
		"_id":                     oid,
		"refreshTokens.tokenHash": bson.M{"$ne": rec.TokenHash},
	}
	push := bson.M{"$each": bson.A{rec}}
	if opts.Limit > 0 {
		push["$slice"] = -opts.Limit
	}
	set := bson.M{"updatedAt": now}
	if opts.LastLogin != nil {
		set["lastLogin"] = *opts.LastLogin
	}
	update := bson.M{
		"$push": bson.M{"refreshTokens": push},
		"$set":  set,
	}
	return filter, update
}

func (s *MongoStore) AddSession(ctx context.Context, userID string, rec models.SessionRecord, opts AddOptions) error {
	const op = "repository.AddSession"
	oid, err := utils.ParseObjectID(userID)
	if err != nil {
		return err
	}
	filter, update := addSessionQuery(oid, rec, opts, s.now())
	res, err := s.users.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if res.MatchedCount == 1 {
		return nil
	}

	// Either the user is gone or it already holds this token hash.
	n, err := s.users.CountDocuments(ctx, bson.M{"_id": oid})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return apperr.E(op, apperr.ErrNotFound, "user")
	}
	return apperr.ConflictError{Op: op, Field: "tokenHash"}
}

func (s *MongoStore) findSession(ctx context.Context, op, field, hash string) (*models.User, *models.SessionRecord, error) {
	u, err := s.findOne(ctx, op, bson.M{"refreshTokens." + field: hash},
		options.FindOne().SetProjection(sessionLookupProjection()))
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, nil, apperr.E(op, apperr.ErrSessionNotFound, "")
	}
	if err != nil {
		return nil, nil, err
	}
	if len(u.RefreshTokens) == 0 {
		return nil, nil, apperr.E(op, apperr.ErrSessionNotFound, "")
	}
	rec := u.RefreshTokens[0]
	u.RefreshTokens = nil
	return u, &rec, nil
}

func (s *MongoStore) FindSessionByTokenHash(ctx context.Context, hash string) (*models.User, *models.SessionRecord, error) {
	return s.findSession(ctx, "repository.FindSessionByTokenHash", "tokenHash", hash)
}

func (s *MongoStore) FindSessionByPreviousHash(ctx context.Context, hash string) (*models.User, *models.SessionRecord, error) {
	return s.findSession(ctx, "repository.FindSessionByPreviousHash", "previousTokenHash", hash)
}

func replaceTokenQuery(oid bson.ObjectID, sessionID, oldHash, newHash string, expiresAt, now time.Time) (bson.M, bson.M) {
	filter := bson.M{
		"_id": oid,
		"refreshTokens": bson.M{"$elemMatch": bson.M{
			"id":        sessionID,
			"tokenHash": oldHash,
		}},
	}
	update := bson.M{"$set": bson.M{
		"refreshTokens.$.tokenHash":         newHash,
		"refreshTokens.$.previousTokenHash": oldHash,
		"refreshTokens.$.expiresAt":         expiresAt,
		"refreshTokens.$.lastUsedAt":        now,
		"updatedAt":                         now,
	}}
	return filter, update
}

func (s *MongoStore) ReplaceSessionToken(ctx context.Context, userID, sessionID, oldHash, newHash string, expiresAt, now time.Time) error {
	const op = "repository.ReplaceSessionToken"
	oid, err := utils.ParseObjectID(userID)
	if err != nil {
		return apperr.E(op, apperr.ErrSessionNotFound, "")
	}
	filter, update := replaceTokenQuery(oid, sessionID, oldHash, newHash, expiresAt, now)
	res, err := s.users.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if res.MatchedCount == 0 {
		// Revoked, swept or already rotated by a concurrent refresh.
		return apperr.E(op, apperr.ErrSessionNotFound, "")
	}
	return nil
}

func removeByHashQuery(oid *bson.ObjectID, hash string, now time.Time) (bson.M, bson.M) {
	filter := bson.M{"refreshTokens.tokenHash": hash}
	if oid != nil {
		filter["_id"] = *oid
	}
	update := bson.M{
		"$pull": bson.M{"refreshTokens": bson.M{"tokenHash": hash}},
		"$set":  bson.M{"updatedAt": now},
	}
	return filter, update
}

func (s *MongoStore) RemoveSessionByTokenHash(ctx context.Context, userID, hash string) (bool, error) {
	const op = "repository.RemoveSessionByTokenHash"
	var scope *bson.ObjectID
	if userID != "" {
		oid, err := utils.ParseObjectID(userID)
		if err != nil {
			return false, nil
		}
		scope = &oid
	}
	filter, update := removeByHashQuery(scope, hash, s.now())
	res, err := s.users.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return res.ModifiedCount > 0, nil
}

func (s *MongoStore) RemoveSessionByID(ctx context.Context, userID, sessionID string) (bool, error) {
	const op = "repository.RemoveSessionByID"
	oid, err := utils.ParseObjectID(userID)
	if err != nil {
		return false, nil
	}
	res, err := s.users.UpdateOne(ctx,
		bson.M{"_id": oid, "refreshTokens.id": sessionID},
		bson.M{
			"$pull": bson.M{"refreshTokens": bson.M{"id": sessionID}},
			"$set":  bson.M{"updatedAt": s.now()},
		})
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return res.ModifiedCount > 0, nil
}

func (s *MongoStore) RemoveAllSessions(ctx context.Context, userID string) (int, error) {
	const op = "repository.RemoveAllSessions"
	oid, err := utils.ParseObjectID(userID)
	if err != nil {
		return 0, err
	}
	var before models.User
	err = s.users.FindOneAndUpdate(ctx,
		bson.M{"_id": oid},
		bson.M{"$set": bson.M{"refreshTokens": bson.A{}, "updatedAt": s.now()}},
		options.FindOneAndUpdate().
			SetReturnDocument(options.Before).
			SetProjection(bson.M{"refreshTokens": 1}),
	).Decode(&before)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, apperr.E(op, apperr.ErrNotFound, "user")
	}
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return len(before.RefreshTokens), nil
}

func (s *MongoStore) ListSessions(ctx context.Context, userID string) ([]models.SessionRecord, error) {
	oid, err := utils.ParseObjectID(userID)
	if err != nil {
		return nil, err
	}
	u, err := s.findOne(ctx, "repository.ListSessions", bson.M{"_id": oid},
		options.FindOne().SetProjection(bson.M{"refreshTokens": 1}))
	if err != nil {
		return nil, err
	}
	if u.RefreshTokens == nil {
		return []models.SessionRecord{}, nil
	}
	return u.RefreshTokens, nil
}

func expiredFilter(now time.Time) bson.M {
	return bson.M{"refreshTokens.expiresAt": bson.M{"$lte": now}}
}

func removeExpiredQuery(oid bson.ObjectID, now time.Time) (bson.M, bson.M) {
	filter := expiredFilter(now)
	filter["_id"] = oid
	update := bson.M{
		"$pull": bson.M{"refreshTokens": bson.M{"expiresAt": bson.M{"$lte": now}}},
		"$set":  bson.M{"updatedAt": now},
	}
	return filter, update
}

func (s *MongoStore) RemoveExpiredSessions(ctx context.Context, userID string, now time.Time) (int, error) {
	const op = "repository.RemoveExpiredSessions"
	oid, err := utils.ParseObjectID(userID)
	if err != nil {
		return 0, err
	}
	filter, update := removeExpiredQuery(oid, now)

	// The pre-image tells exactly which records this update pulled; records
	// added concurrently are not in it and are never matched by $lte now.
	var before models.User
	err = s.users.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().
			SetReturnDocument(options.Before).
			SetProjection(bson.M{"refreshTokens": 1}),
	).Decode(&before)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return models.CountExpired(before.RefreshTokens, now), nil
}

func (s *MongoStore) UsersWithExpiredSessions(ctx context.Context, now time.Time) ([]string, error) {
	const op = "repository.UsersWithExpiredSessions"
	cur, err := s.users.Find(ctx, expiredFilter(now), options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer cur.Close(ctx)

	var ids []string
	for cur.Next(ctx) {
		var row struct {
			ID bson.ObjectID `bson:"_id"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, fmt.Errorf("%s: decode: %w", op, err)
		}
		ids = append(ids, row.ID.Hex())
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return ids, nil
}
