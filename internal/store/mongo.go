package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"datahub/internal/domain"
	"datahub/internal/util"
)

// Compile-time interface check.
var _ MarketStore = (*MongoStore)(nil)

// MongoStore implements MarketStore on a MongoDB collection.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
	log    *slog.Logger
}

// NewMongoStore connects to uri and returns a store writing to
// db.collection. The connection is verified with a ping, retried a few
// times before giving up.
func NewMongoStore(ctx context.Context, uri, db, collection string) (*MongoStore, error) {
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongo: %w", err)
	}

	err = util.Retry(ctx, 3, 500*time.Millisecond, func(ctx context.Context) error {
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return client.Ping(pctx, readpref.Primary())
	})
	if err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("pinging mongo: %w", err)
	}

	return &MongoStore{
		client: client,
		coll:   client.Database(db).Collection(collection),
		log:    slog.Default().With("store", "mongo", "collection", collection),
	}, nil
}

// EnsureSchema creates the unique (date, symbol) index. Creating an index
// that already exists with the same spec is a no-op on the server.
func (s *MongoStore) EnsureSchema(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "date", Value: 1}, {Key: "symbol", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("date_1_symbol_1"),
	})
	if err != nil {
		return fmt.Errorf("creating date/symbol index: %w", err)
	}
	return nil
}

// UpsertMarket replaces or inserts one document per record in a single
// unordered bulk write, so one bad document does not stop the rest.
func (s *MongoStore) UpsertMarket(ctx context.Context, records []domain.MarketRecord) (int, error) {
	records = dedupe(records)
	if len(records) == 0 {
		return 0, nil
	}

	models := make([]mongo.WriteModel, 0, len(records))
	for _, r := range records {
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.D{{Key: "date", Value: r.Date}, {Key: "symbol", Value: r.Symbol}}).
			SetReplacement(marketDocument(r)).
			SetUpsert(true))
	}

	res, err := s.coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	written := 0
	if res != nil {
		written = int(res.MatchedCount + res.UpsertedCount)
	}
	if err != nil {
		var bwe mongo.BulkWriteException
		if errors.As(err, &bwe) {
			return written, fmt.Errorf("bulk upsert: %d of %d writes failed: %w", len(bwe.WriteErrors), len(models), err)
		}
		return written, fmt.Errorf("bulk upsert: %w", err)
	}
	s.log.Debug("bulk upsert", "records", len(records), "upserted", res.UpsertedCount, "matched", res.MatchedCount)
	return written, nil
}

// Close disconnects the client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// marketDocument renders r with fields in domain.MarketFields order. Nil
// optional fields are stored as null.
func marketDocument(r domain.MarketRecord) bson.D {
	return bson.D{
		{Key: "date", Value: r.Date},
		{Key: "symbol", Value: r.Symbol},
		{Key: "open", Value: r.Open},
		{Key: "high", Value: r.High},
		{Key: "low", Value: r.Low},
		{Key: "close", Value: r.Close},
		{Key: "volume", Value: r.Volume},
		{Key: "pre_close", Value: r.PreClose},
		{Key: "limit_up", Value: r.LimitUp},
		{Key: "limit_down", Value: r.LimitDown},
		{Key: "index_component", Value: r.IndexComponent},
		{Key: "name", Value: r.Name},
	}
}
