package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const auditCollection = "ledger_events"

// MongoSink appends every event to an audit collection. The event id is the
// document _id, so a redelivered event is stored once.
type MongoSink struct {
	client     *mongo.Client
	collection *mongo.Collection
}

func NewMongoSink(ctx context.Context, uri, database string, log *logrus.Logger) (*MongoSink, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("unable to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("unable to ping MongoDB: %w", err)
	}

	coll := client.Database(database).Collection(auditCollection)
	_, err = coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "occurred_at", Value: -1}}},
		{Keys: bson.D{{Key: "type", Value: 1}}},
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("unable to create audit indexes: %w", err)
	}

	log.WithFields(logrus.Fields{
		"db":         database,
		"collection": auditCollection,
	}).Info("connected to MongoDB")

	return &MongoSink{client: client, collection: coll}, nil
}

type storedEvent struct {
	ID         string         `bson:"_id"`
	Type       Type           `bson:"type"`
	UserID     string         `bson:"user_id"`
	OccurredAt time.Time      `bson:"occurred_at"`
	Payload    map[string]any `bson:"payload"`
}

// Payloads carry decimal amounts that BSON cannot encode directly, so they
// are stored in their JSON form.
func toStored(evt Event) (storedEvent, error) {
	raw, err := json.Marshal(evt.Payload)
	if err != nil {
		return storedEvent{}, err
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return storedEvent{}, err
	}
	return storedEvent{
		ID:         evt.ID,
		Type:       evt.Type,
		UserID:     evt.UserID,
		OccurredAt: evt.OccurredAt,
		Payload:    payload,
	}, nil
}

func (s *MongoSink) Publish(ctx context.Context, evt Event) error {
	doc, err := toStored(evt)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", evt.Type, err)
	}
	_, err = s.collection.InsertOne(ctx, doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil
		}
		return fmt.Errorf("failed to store %s: %w", evt.Type, err)
	}
	return nil
}

// History returns the most recent events of a user, newest first.
func (s *MongoSink) History(ctx context.Context, userID string, limit int64) ([]Event, error) {
	cur, err := s.collection.Find(ctx,
		bson.M{"user_id": userID},
		options.Find().SetSort(bson.D{{Key: "occurred_at", Value: -1}}).SetLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer cur.Close(ctx)

	var out []Event
	for cur.Next(ctx) {
		var doc storedEvent
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode event: %w", err)
		}
		out = append(out, Event{
			ID:         doc.ID,
			Type:       doc.Type,
			UserID:     doc.UserID,
			OccurredAt: doc.OccurredAt,
			Payload:    doc.Payload,
		})
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return out, nil
}

func (s *MongoSink) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
