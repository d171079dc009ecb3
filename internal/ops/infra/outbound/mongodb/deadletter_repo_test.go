package mongodb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"github.com/tomarrohitt/e-commerce-sub000/internal/ops/domain"
)

func TestFilterToBSON(t *testing.T) {
	assert.Equal(t, bson.M{}, filterToBSON(domain.DeadLetterFilter{}))

	replayed := false
	got := filterToBSON(domain.DeadLetterFilter{Queue: "invoice.order-paid", EventType: "order.paid", Replayed: &replayed})
	assert.Equal(t, bson.M{
		"queue":      "invoice.order-paid",
		"eventType":  "order.paid",
		"replayedAt": bson.M{"$exists": false},
	}, got)
}

func recordDoc(id string, archivedAt time.Time) bson.D {
	return bson.D{
		{Key: "_id", Value: id},
		{Key: "eventId", Value: "e-" + id},
		{Key: "eventType", Value: "order.paid"},
		{Key: "routingKey", Value: "order.paid"},
		{Key: "queue", Value: "invoice.order-paid"},
		{Key: "reason", Value: "fatal: render"},
		{Key: "deathCount", Value: int64(1)},
		{Key: "body", Value: `{"eventId":"e-` + id + `"}`},
		{Key: "deadAt", Value: archivedAt},
		{Key: "archivedAt", Value: archivedAt},
		{Key: "replayCount", Value: 0},
	}
}

func TestDeadLetterRepo(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ns := "ops." + Collection
	now := time.Now().UTC().Truncate(time.Millisecond)

	mt.Run("insert", func(mt *mtest.T) {
		repo := NewDeadLetterRepo(mt.Coll)
		mt.AddMockResponses(mtest.CreateSuccessResponse())
		require.NoError(mt, repo.Insert(context.Background(), domain.DeadLetterRecord{ID: "d-1", ArchivedAt: now}))
	})

	mt.Run("get", func(mt *mtest.T) {
		repo := NewDeadLetterRepo(mt.Coll)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, recordDoc("d-1", now)))

		rec, err := repo.Get(context.Background(), "d-1")
		require.NoError(mt, err)
		assert.Equal(mt, "e-d-1", rec.EventID)
		assert.Equal(mt, int64(1), rec.DeathCount)
		assert.Nil(mt, rec.ReplayedAt)
	})

	mt.Run("get missing", func(mt *mtest.T) {
		repo := NewDeadLetterRepo(mt.Coll)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch))

		_, err := repo.Get(context.Background(), "ghost")
		assert.ErrorIs(mt, err, domain.ErrDeadLetterNotFound)
	})

	mt.Run("list", func(mt *mtest.T) {
		repo := NewDeadLetterRepo(mt.Coll)
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, bson.D{{Key: "n", Value: int32(2)}}),
			mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, recordDoc("d-2", now), recordDoc("d-1", now.Add(-time.Minute))),
		)

		recs, total, err := repo.List(context.Background(), domain.DeadLetterFilter{}, 0, 10)
		require.NoError(mt, err)
		assert.Equal(mt, 2, total)
		require.Len(mt, recs, 2)
		assert.Equal(mt, "d-2", recs[0].ID)
	})

	mt.Run("mark replayed", func(mt *mtest.T) {
		repo := NewDeadLetterRepo(mt.Coll)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}, bson.E{Key: "nModified", Value: 1}))
		require.NoError(mt, repo.MarkReplayed(context.Background(), "d-1", now))

		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}, bson.E{Key: "nModified", Value: 0}))
		assert.ErrorIs(mt, repo.MarkReplayed(context.Background(), "ghost", now), domain.ErrDeadLetterNotFound)
	})
}
