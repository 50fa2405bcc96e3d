package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/vidsift/vidsift/internal/logging"
)

// MongoStore persists exported documents into a MongoDB collection. The
// underlying client pools connections and is safe for concurrent workers.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
	logger *slog.Logger
}

// NewMongoStore connects to the configured MongoDB deployment and pings it
// so misconfiguration fails at startup, not mid-run.
func NewMongoStore(ctx context.Context, uri, database, collection string, logger *slog.Logger) (*MongoStore, error) {
	if database == "" || collection == "" {
		return nil, fmt.Errorf("document store requires both database and collection names")
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect document store: %w", err)
	}

	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping document store: %w", err)
	}

	return &MongoStore{
		client: client,
		coll:   client.Database(database).Collection(collection),
		logger: logging.WithComponent(logger, "mongo"),
	}, nil
}

// Insert writes one document into the collection.
func (s *MongoStore) Insert(ctx context.Context, doc Document) error {
	res, err := s.coll.InsertOne(ctx, doc)
	if err != nil {
		return err
	}
	s.logger.Debug("document inserted", "filename", doc.Filename, "id", fmt.Sprintf("%v", res.InsertedID))
	return nil
}

// Close disconnects the client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
