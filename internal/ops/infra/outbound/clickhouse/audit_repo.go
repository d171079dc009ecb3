package clickhouse

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/tomarrohitt/e-commerce-sub000/internal/ops/domain"
)

// AuditRepo guarda el log de la saga en ClickHouse.
type AuditRepo struct {
	db *sql.DB
}

// Open abre la conexión database/sql del driver de ClickHouse y hace ping.
func Open(addr, dbName string) (*sql.DB, error) {
	conn := clickhouse.OpenDB(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: dbName,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
	})
	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("could not ping clickhouse: %w", err)
	}
	return conn, nil
}

func NewAuditRepo(db *sql.DB) *AuditRepo {
	return &AuditRepo{db: db}
}

// InitSchema crea la tabla particionada por mes y ordenada por pedido.
func (r *AuditRepo) InitSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS saga_audit (
			event_id     String,
			event_type   LowCardinality(String),
			aggregate_id String,
			order_id     String,
			occurred_at  DateTime64(3),
			recorded_at  DateTime64(3),
			data         String
		) ENGINE = ReplacingMergeTree(recorded_at)
		PARTITION BY toYYYYMM(occurred_at)
		ORDER BY (order_id, occurred_at, event_id)`)
	return err
}

// InsertBatch escribe el lote en una sola transacción; si una fila falla no se escribe nada.
func (r *AuditRepo) InsertBatch(ctx context.Context, entries []domain.AuditEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO saga_audit (event_id, event_type, aggregate_id, order_id, occurred_at, recorded_at, data)")
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx,
			e.EventID, e.EventType, e.AggregateID, e.OrderID, e.OccurredAt, e.RecordedAt, e.Data,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to exec statement for event %s: %w", e.EventID, err)
		}
	}
	return tx.Commit()
}

// Timeline usa FINAL para colapsar las redeliveries del mismo evento.
func (r *AuditRepo) Timeline(ctx context.Context, orderID string) ([]domain.AuditEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT event_id, event_type, aggregate_id, order_id, occurred_at, recorded_at, data
		FROM saga_audit FINAL
		WHERE order_id = ?
		ORDER BY occurred_at, event_id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []domain.AuditEntry{}
	for rows.Next() {
		var e domain.AuditEntry
		if err := rows.Scan(&e.EventID, &e.EventType, &e.AggregateID, &e.OrderID, &e.OccurredAt, &e.RecordedAt, &e.Data); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

var _ domain.AuditStore = (*AuditRepo)(nil)
