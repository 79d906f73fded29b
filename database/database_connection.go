package database

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

const connectTimeout = 10 * time.Second

// Connect opens a client against uri and pings the primary.
func Connect(ctx context.Context, uri string, log zerolog.Logger) (*mongo.Client, error) {
	serverAPI := options.ServerAPI(options.ServerAPIVersion1)
	opts := options.Client().ApplyURI(uri).SetServerAPIOptions(serverAPI)
	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	log.Info().Msg("connected to MongoDB")
	return client, nil
}

// UserIndexes are the indexes the users collection relies on: unique email
// and username, plus lookups by refresh token hash and by expiry for the
// sweeper.
func UserIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true).SetName("email_1")},
		{Keys: bson.D{{Key: "usernameLower", Value: 1}}, Options: options.Index().SetUnique(true).SetName("usernameLower_1")},
		{Keys: bson.D{{Key: "refreshTokens.tokenHash", Value: 1}}, Options: options.Index().SetName("refreshTokens_tokenHash_1")},
		{Keys: bson.D{{Key: "refreshTokens.previousTokenHash", Value: 1}}, Options: options.Index().SetName("refreshTokens_previousTokenHash_1").SetSparse(true)},
		{Keys: bson.D{{Key: "refreshTokens.expiresAt", Value: 1}}, Options: options.Index().SetName("refreshTokens_expiresAt_1")},
	}
}

func EnsureIndexes(ctx context.Context, db *mongo.Database, collection string) error {
	if _, err := db.Collection(collection).Indexes().CreateMany(ctx, UserIndexes()); err != nil {
		return fmt.Errorf("create indexes on %s: %w", collection, err)
	}
	return nil
}
