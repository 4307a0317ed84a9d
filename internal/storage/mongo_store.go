package storage

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoKVStore keeps each record as a single document keyed by _id.
type MongoKVStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

func NewMongoKVStore(ctx context.Context, uri, dbName, collName string) (*MongoKVStore, error) {
	if uri == "" {
		return nil, errors.New("mongo uri is empty")
	}
	cli, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	// Verify connection quickly
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := cli.Ping(pctx, nil); err != nil {
		_ = cli.Disconnect(ctx)
		return nil, err
	}

	return &MongoKVStore{
		client: cli,
		coll:   cli.Database(dbName).Collection(collName),
	}, nil
}

type mongoDoc struct {
	Key    string `bson:"_id"`
	Record `bson:",inline"`
}

func (m *MongoKVStore) Get(ctx context.Context, key string) (*Record, error) {
	var doc mongoDoc
	err := m.coll.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec := doc.Record
	return &rec, nil
}

func (m *MongoKVStore) Create(ctx context.Context, key string, rec *Record) error {
	_, err := m.coll.InsertOne(ctx, mongoDoc{Key: key, Record: *rec})
	if wex, ok := err.(mongo.WriteException); ok {
		for _, we := range wex.WriteErrors {
			if we.Code == 11000 { // duplicate key
				return ErrExists
			}
		}
	}
	return err
}

// Replace swaps the record only if the stored version still equals
// expectedVersion. On success rec.Version is bumped to the new version.
func (m *MongoKVStore) Replace(ctx context.Context, key string, rec *Record, expectedVersion int) error {
	next := expectedVersion + 1
	res, err := m.coll.UpdateOne(
		ctx,
		bson.M{"_id": key, "version": expectedVersion},
		bson.M{"$set": bson.M{
			"version": next,
			"profile": rec.Profile,
			"vault":   rec.Vault,
		}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		if _, err := m.Get(ctx, key); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return ErrConflict
	}
	rec.Version = next
	return nil
}

func (m *MongoKVStore) Delete(ctx context.Context, key string) error {
	res, err := m.coll.DeleteOne(ctx, bson.M{"_id": key})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (m *MongoKVStore) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
