package database

import (
	"context"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/AnshRaj112/medconsult-backend/pkg/logger"
)

const defaultMongoDatabase = "medconsult"

var Client *mongo.Client
var DB *mongo.Database

// Connect opens the Mongo connection that backs the conversation directory.
// dbName wins over the database named in the URI.
func Connect(mongoURI, dbName string) error {
	log := logger.Component("mongo")

	// Use longer timeout for Atlas connections
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	clientOptions := options.Client().ApplyURI(mongoURI)
	clientOptions.SetServerSelectionTimeout(10 * time.Second)

	log.Info().Msg("connecting to MongoDB")
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return err
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer pingCancel()

	if err := client.Ping(pingCtx, nil); err != nil {
		client.Disconnect(context.Background())
		return err
	}

	Client = client
	if dbName == "" {
		dbName = databaseFromURI(mongoURI)
	}
	DB = client.Database(dbName)

	log.Info().Str("database", dbName).Msg("connected to MongoDB")
	return nil
}

// databaseFromURI extracts the path segment of mongodb://host/name?opts.
func databaseFromURI(uri string) string {
	rest := uri
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}
	i := strings.Index(rest, "/")
	if i < 0 {
		return defaultMongoDatabase
	}
	name := strings.Split(rest[i+1:], "?")[0]
	if name == "" {
		return defaultMongoDatabase
	}
	return name
}

func Disconnect() error {
	if Client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return Client.Disconnect(ctx)
}
