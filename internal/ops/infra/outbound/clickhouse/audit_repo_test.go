package clickhouse

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomarrohitt/e-commerce-sub000/internal/ops/domain"
)

const insertSQL = "INSERT INTO saga_audit (event_id, event_type, aggregate_id, order_id, occurred_at, recorded_at, data)"

func entry(id, eventType string, at time.Time) domain.AuditEntry {
	return domain.AuditEntry{
		EventID:     id,
		EventType:   eventType,
		AggregateID: "o-1",
		OrderID:     "o-1",
		OccurredAt:  at,
		RecordedAt:  at.Add(time.Second),
		Data:        `{"orderId":"o-1"}`,
	}
}

func TestAuditRepo_InsertBatch(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewAuditRepo(db)

	now := time.Now().UTC()
	entries := []domain.AuditEntry{entry("e-1", "order.created", now), entry("e-2", "product.stock.reserved", now.Add(time.Second))}

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta(insertSQL))
	for _, e := range entries {
		prep.ExpectExec().
			WithArgs(e.EventID, e.EventType, e.AggregateID, e.OrderID, e.OccurredAt, e.RecordedAt, e.Data).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()

	require.NoError(t, repo.InsertBatch(context.Background(), entries))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepo_InsertBatchRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewAuditRepo(db)

	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectPrepare(regexp.QuoteMeta(insertSQL)).
		ExpectExec().WillReturnError(errors.New("too many parts"))
	mock.ExpectRollback()

	err = repo.InsertBatch(context.Background(), []domain.AuditEntry{entry("e-1", "order.created", now)})
	assert.ErrorContains(t, err, "e-1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepo_Timeline(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewAuditRepo(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"event_id", "event_type", "aggregate_id", "order_id", "occurred_at", "recorded_at", "data"}).
		AddRow("e-1", "order.created", "o-1", "o-1", now, now, `{}`).
		AddRow("e-2", "order.paid", "o-1", "o-1", now.Add(time.Minute), now, `{}`)
	mock.ExpectQuery(`FROM saga_audit FINAL\s+WHERE order_id = \?`).WithArgs("o-1").WillReturnRows(rows)

	got, err := repo.Timeline(context.Background(), "o-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "order.paid", got[1].EventType)
	assert.NoError(t, mock.ExpectationsWereMet())

	mock.ExpectQuery(`FROM saga_audit FINAL`).WithArgs("o-9").
		WillReturnRows(sqlmock.NewRows([]string{"event_id", "event_type", "aggregate_id", "order_id", "occurred_at", "recorded_at", "data"}))
	got, err = repo.Timeline(context.Background(), "o-9")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}
