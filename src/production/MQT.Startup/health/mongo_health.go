package health

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	config "github.com/cornellpepper/CuWatch-server/src/production/MQT.Config"
	implementation "github.com/cornellpepper/CuWatch-server/src/production/MQT.Repository/Implementation"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// ConnectMongoWithTimeout creates a MongoDB connection and pings the primary within timeout
func ConnectMongoWithTimeout(cfg *config.MongoConfig, timeout time.Duration) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	clientOptions := options.Client().ApplyURI(cfg.URI)

	// Atlas and other hosted clusters need TLS 1.2+
	if strings.HasPrefix(cfg.URI, "mongodb+srv://") {
		clientOptions.SetTLSConfig(&tls.Config{
			MinVersion: tls.VersionTLS12,
		})
	}

	clientOptions.SetServerSelectionTimeout(timeout)
	clientOptions.SetConnectTimeout(timeout)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to MongoDB: %w", err)
	}

	// Test the connection
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("unable to ping MongoDB: %w", err)
	}

	return client, nil
}

// EnsureIndexes creates the indexes backing run uniqueness and sample range queries
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	runs := mongo.IndexModel{
		Keys:    bson.D{{Key: "device_id", Value: 1}, {Key: "base_ts", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("uniq_device_base"),
	}
	if _, err := db.Collection(implementation.RunsCollection).Indexes().CreateOne(ctx, runs); err != nil {
		return fmt.Errorf("failed to create runs index: %w", err)
	}

	samples := mongo.IndexModel{
		Keys:    bson.D{{Key: "device_id", Value: 1}, {Key: "ts", Value: 1}, {Key: "muon_count", Value: 1}},
		Options: options.Index().SetName("device_ts_count"),
	}
	if _, err := db.Collection(implementation.SamplesCollection).Indexes().CreateOne(ctx, samples); err != nil {
		return fmt.Errorf("failed to create samples index: %w", err)
	}

	return nil
}
