package storage

import (
	"context"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"oeetrack/internal/model"
)

// mongoStore keeps one document per month, the snapshot key being the _id.
type mongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

func NewMongo(uri, database, collection string) (Store, error) {
	if strings.TrimSpace(uri) == "" || strings.HasPrefix(uri, "file:") {
		uri = "mongodb://localhost:27017"
	}
	if database == "" {
		database = "oeetrack"
	}
	if collection == "" {
		collection = "oee_monthly"
	}
	client, err := mongo.Connect(context.Background(), options.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(5*time.Second))
	if err != nil {
		return nil, err
	}
	return &mongoStore{
		client:     client,
		collection: client.Database(database).Collection(collection),
	}, nil
}

func (s *mongoStore) Init(ctx context.Context) error {
	if err := s.client.Ping(ctx, nil); err != nil {
		return err
	}
	_, err := s.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "year", Value: 1}, {Key: "month", Value: 1}},
	})
	return err
}

func (s *mongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *mongoStore) SaveSnapshot(ctx context.Context, snap model.Snapshot) error {
	snap.Key = snapshotKey(snap)
	_, err := s.collection.ReplaceOne(ctx,
		bson.M{"_id": snap.Key},
		snap,
		options.Replace().SetUpsert(true),
	)
	return err
}

func (s *mongoStore) ListSnapshots(ctx context.Context) ([]model.Snapshot, error) {
	cur, err := s.collection.Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "year", Value: 1}, {Key: "month", Value: 1}}))
	if err != nil {
		return nil, err
	}
	out := make([]model.Snapshot, 0)
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	for i := range out {
		out[i].SavedAt = out[i].SavedAt.UTC()
	}
	return out, nil
}

func (s *mongoStore) DeleteSnapshot(ctx context.Context, month, year int) (bool, error) {
	res, err := s.collection.DeleteOne(ctx, bson.M{"_id": model.SnapshotKey(month, year)})
	if err != nil {
		return false, err
	}
	return res.DeletedCount > 0, nil
}
