package presenter

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/andrej220/pssh/pkg/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const mongoTimeout = 30 * time.Second

type replacer interface {
	ReplaceOne(ctx context.Context, filter any, replacement any, opts ...*options.ReplaceOptions) (*mongo.UpdateResult, error)
}

type mongoDoc struct {
	ID     string `bson:"_id"`
	Record `bson:",inline"`
}

// Mongo upserts one document per host, keyed by run ID and host index so a
// replayed run overwrites instead of duplicating.
type Mongo struct {
	client *mongo.Client
	coll   replacer
	run    Run
}

// NewMongo connects and pings before returning.
func NewMongo(ctx context.Context, uri, db, collection string, run Run) (*Mongo, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return &Mongo{
		client: client,
		coll:   client.Database(db).Collection(collection),
		run:    run,
	}, nil
}

func (m *Mongo) Present(ctx context.Context, ev models.CompletionEvent) error {
	rec := NewRecord(m.run, ev)
	doc := mongoDoc{ID: rec.RunID + "_" + strconv.Itoa(rec.Index), Record: rec}

	ctx, cancel := context.WithTimeout(ctx, mongoTimeout)
	defer cancel()

	_, err := m.coll.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongo: save %s: %w", rec.Host, err)
	}
	return nil
}

func (m *Mongo) Close() error {
	if m.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), mongoTimeout)
	defer cancel()
	return m.client.Disconnect(ctx)
}
