package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/tomarrohitt/e-commerce-sub000/internal/ops/domain"
)

const Collection = "dead_letters"

// DeadLetterRepo archiva la DLQ en MongoDB: documentos sin esquema fijo y cuerpos arbitrarios.
type DeadLetterRepo struct {
	coll *mongo.Collection
}

// Connect abre el cliente y comprueba que responde.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("could not ping mongoDB: %w", err)
	}
	return client, nil
}

func NewDeadLetterRepo(coll *mongo.Collection) *DeadLetterRepo {
	return &DeadLetterRepo{coll: coll}
}

// InitIndexes crea los índices de consulta del panel.
func (r *DeadLetterRepo) InitIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "archivedAt", Value: -1}}},
		{Keys: bson.D{{Key: "queue", Value: 1}, {Key: "eventType", Value: 1}}},
	})
	return err
}

// --- Mapeo BSON; el dominio no lleva tags de Mongo ---

type mongoDeadLetter struct {
	ID          string     `bson:"_id"`
	EventID     string     `bson:"eventId"`
	EventType   string     `bson:"eventType"`
	RoutingKey  string     `bson:"routingKey"`
	Queue       string     `bson:"queue"`
	Reason      string     `bson:"reason"`
	DeathCount  int64      `bson:"deathCount"`
	Body        string     `bson:"body"`
	DeadAt      time.Time  `bson:"deadAt"`
	ArchivedAt  time.Time  `bson:"archivedAt"`
	ReplayedAt  *time.Time `bson:"replayedAt,omitempty"`
	ReplayCount int        `bson:"replayCount"`
}

func toMongo(r domain.DeadLetterRecord) mongoDeadLetter {
	return mongoDeadLetter(r)
}

func fromMongo(m mongoDeadLetter) domain.DeadLetterRecord {
	return domain.DeadLetterRecord(m)
}

func (r *DeadLetterRepo) Insert(ctx context.Context, rec domain.DeadLetterRecord) error {
	_, err := r.coll.InsertOne(ctx, toMongo(rec))
	return err
}

func filterToBSON(f domain.DeadLetterFilter) bson.M {
	filter := bson.M{}
	if f.Queue != "" {
		filter["queue"] = f.Queue
	}
	if f.EventType != "" {
		filter["eventType"] = f.EventType
	}
	if f.Replayed != nil {
		filter["replayedAt"] = bson.M{"$exists": *f.Replayed}
	}
	return filter
}

func (r *DeadLetterRepo) List(ctx context.Context, f domain.DeadLetterFilter, offset, limit int) ([]domain.DeadLetterRecord, int, error) {
	filter := filterToBSON(f)
	total, err := r.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	opts := options.Find().SetSort(bson.D{{Key: "archivedAt", Value: -1}}).SetSkip(int64(offset))
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cursor.Close(ctx)

	records := []domain.DeadLetterRecord{}
	for cursor.Next(ctx) {
		var m mongoDeadLetter
		if err := cursor.Decode(&m); err != nil {
			return nil, 0, err
		}
		records = append(records, fromMongo(m))
	}
	return records, int(total), cursor.Err()
}

func (r *DeadLetterRepo) Get(ctx context.Context, id string) (*domain.DeadLetterRecord, error) {
	var m mongoDeadLetter
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrDeadLetterNotFound
	}
	if err != nil {
		return nil, err
	}
	rec := fromMongo(m)
	return &rec, nil
}

func (r *DeadLetterRepo) MarkReplayed(ctx context.Context, id string, at time.Time) error {
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{"replayedAt": at},
		"$inc": bson.M{"replayCount": 1},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domain.ErrDeadLetterNotFound
	}
	return nil
}

var _ domain.DeadLetterStore = (*DeadLetterRepo)(nil)
