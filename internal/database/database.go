package database

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"docsense/internal/config"
)

// Database is the durable record store behind the pipeline. Writes are
// at-least-once; the store does not implement transactions.
type Database interface {
	Health() error
	DocumentDatabase
	DecisionLogDatabase
}

type mongoDB struct {
	client *mongo.Client
	db     *mongo.Database

	documentsCol   *mongo.Collection
	entitiesCol    *mongo.Collection
	decisionLogCol *mongo.Collection
}

// New connects to MongoDB and prepares the collections and indexes.
func New(cfg *config.Config) (Database, error) {
	clientOptions := options.Client().ApplyURI(cfg.MongoDB.URI)
	if cfg.MongoDB.Username != "" {
		clientOptions.SetAuth(options.Credential{
			Username: cfg.MongoDB.Username,
			Password: cfg.MongoDB.Password,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, err
	}

	db := client.Database(cfg.MongoDB.DB)

	documentsCol := db.Collection("documents")
	documentIndexModels := []mongo.IndexModel{
		{
			// Index for status-based queries
			Keys:    bson.D{{Key: "status", Value: 1}},
			Options: options.Index(),
		},
		{
			// Repeat uploads of identical content share a hash
			Keys:    bson.D{{Key: "content_hash", Value: 1}},
			Options: options.Index(),
		},
		{
			// Index for sorting by creation date
			Keys:    bson.D{{Key: "created_at", Value: -1}},
			Options: options.Index(),
		},
	}

	if _, err := documentsCol.Indexes().CreateMany(ctx, documentIndexModels); err != nil {
		log.Warn().Err(err).Str("Collection", "Documents").Msg("Error creating indexes")
	}

	decisionLogCol := db.Collection("decision_logs")
	decisionLogIndexModels := []mongo.IndexModel{
		{
			// The log is queried by document for audit and tuning
			Keys:    bson.D{{Key: "document_id", Value: 1}, {Key: "created_at", Value: 1}},
			Options: options.Index(),
		},
	}

	if _, err := decisionLogCol.Indexes().CreateMany(ctx, decisionLogIndexModels); err != nil {
		log.Warn().Err(err).Str("Collection", "DecisionLogs").Msg("Error creating indexes")
	}

	entitiesCol := db.Collection("entities")
	entityIndexModels := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "document_id", Value: 1}},
			Options: options.Index(),
		},
	}

	if _, err := entitiesCol.Indexes().CreateMany(ctx, entityIndexModels); err != nil {
		log.Warn().Err(err).Str("Collection", "Entities").Msg("Error creating indexes")
	}

	log.Info().
		Str("db", cfg.MongoDB.DB).
		Msg("MongoDB connection established")

	return &mongoDB{
		client:         client,
		db:             db,
		documentsCol:   documentsCol,
		entitiesCol:    entitiesCol,
		decisionLogCol: decisionLogCol,
	}, nil
}

// Health pings the database.
func (m *mongoDB) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return m.client.Ping(ctx, nil)
}
