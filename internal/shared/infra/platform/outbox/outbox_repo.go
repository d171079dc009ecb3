package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"

	sharedDomain "github.com/tomarrohitt/e-commerce-sub000/internal/shared/domain"
	sharedDB "github.com/tomarrohitt/e-commerce-sub000/internal/shared/infra/platform/db"
)

var ErrOutboxEventNotFound = errors.New("outbox event not found")

var tableName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

const columns = `id, aggregate_type, aggregate_id, event_type, payload, status, retry_count, last_error, created_at, updated_at`

// SQLStore implementa OutboxRepository y OutboxAdmin sobre una tabla outbox propia de cada contexto.
type SQLStore struct {
	db    *sharedDB.DB
	table string
}

func NewSQLStore(db *sharedDB.DB, table string) (*SQLStore, error) {
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid outbox table name %q", table)
	}
	return &SQLStore{db: db, table: table}, nil
}

// MustSQLStore es para tablas fijas definidas en código.
func MustSQLStore(db *sharedDB.DB, table string) *SQLStore {
	s, err := NewSQLStore(db, table)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *SQLStore) Table() string { return s.table }

// InitSchema crea la tabla y su índice si no existen.
func (s *SQLStore) InitSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			aggregate_type TEXT NOT NULL,
			aggregate_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			payload TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'PENDING',
			retry_count INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_status_created ON %s (status, created_at)`, s.table, s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to init %s schema: %w", s.table, err)
		}
	}
	return nil
}

// Enqueue inserta el evento dentro de la transacción del llamador.
func (s *SQLStore) Enqueue(ctx context.Context, tx *sql.Tx, evt sharedDomain.OutboxEvent) error {
	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal outbox payload %s: %w", evt.EventType, err)
	}
	if evt.Status == "" {
		evt.Status = sharedDomain.OutboxPending
	}
	now := time.Now().UTC()
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = now
	}
	if evt.UpdatedAt.IsZero() {
		evt.UpdatedAt = evt.CreatedAt
	}

	query := s.db.Rebind(fmt.Sprintf(`INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table, columns))
	_, err = tx.ExecContext(ctx, query,
		evt.ID, evt.AggregateType, evt.AggregateID, evt.EventType, string(payload),
		string(evt.Status), evt.RetryCount, evt.LastError, evt.CreatedAt.UTC(), evt.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", evt.EventType, err)
	}
	return nil
}

func (s *SQLStore) ResetStale(ctx context.Context, olderThan time.Time) (int64, error) {
	query := s.db.Rebind(fmt.Sprintf(
		`UPDATE %s SET status = ?, retry_count = retry_count + 1, updated_at = ? WHERE status = ? AND updated_at < ?`, s.table))
	res, err := s.db.ExecContext(ctx, query,
		string(sharedDomain.OutboxPending), time.Now().UTC(), string(sharedDomain.OutboxProcessing), olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLStore) FetchPending(ctx context.Context, limit int) ([]sharedDomain.OutboxEvent, error) {
	query := s.db.Rebind(fmt.Sprintf(
		`SELECT %s FROM %s WHERE status = ? ORDER BY created_at LIMIT ?`, columns, s.table))
	return s.query(ctx, query, string(sharedDomain.OutboxPending), limit)
}

// Lease pasa la fila a PROCESSING en una sola sentencia; si otro relay la tomó, ok=false.
func (s *SQLStore) Lease(ctx context.Context, id uuid.UUID) (*sharedDomain.OutboxEvent, bool, error) {
	query := s.db.Rebind(fmt.Sprintf(
		`UPDATE %s SET status = ?, updated_at = ? WHERE id = ? AND status = ? RETURNING %s`, s.table, columns))
	row := s.db.QueryRowContext(ctx, query,
		string(sharedDomain.OutboxProcessing), time.Now().UTC(), id, string(sharedDomain.OutboxPending))

	evt, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to lease outbox event %s: %w", id, err)
	}
	return &evt, true, nil
}

func (s *SQLStore) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	return s.transition(ctx, id, sharedDomain.OutboxProcessing, sharedDomain.OutboxProcessed, "")
}

func (s *SQLStore) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	return s.transition(ctx, id, sharedDomain.OutboxProcessing, sharedDomain.OutboxFailed, reason)
}

func (s *SQLStore) Release(ctx context.Context, id uuid.UUID) error {
	return s.transition(ctx, id, sharedDomain.OutboxProcessing, sharedDomain.OutboxPending, "")
}

func (s *SQLStore) ListFailed(ctx context.Context, limit int) ([]sharedDomain.OutboxEvent, error) {
	query := s.db.Rebind(fmt.Sprintf(
		`SELECT %s FROM %s WHERE status = ? ORDER BY updated_at DESC LIMIT ?`, columns, s.table))
	return s.query(ctx, query, string(sharedDomain.OutboxFailed), limit)
}

// Retry devuelve una fila FAILED a PENDING; el relay la tomará en el siguiente ciclo.
func (s *SQLStore) Retry(ctx context.Context, id uuid.UUID) error {
	return s.transition(ctx, id, sharedDomain.OutboxFailed, sharedDomain.OutboxPending, "")
}

// CountByStatus se usa en health y en los tests.
func (s *SQLStore) CountByStatus(ctx context.Context, status sharedDomain.OutboxStatus) (int, error) {
	query := s.db.Rebind(fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE status = ?`, s.table))
	var n int
	if err := s.db.QueryRowContext(ctx, query, string(status)).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (s *SQLStore) transition(ctx context.Context, id uuid.UUID, from, to sharedDomain.OutboxStatus, lastError string) error {
	query := s.db.Rebind(fmt.Sprintf(
		`UPDATE %s SET status = ?, last_error = ?, updated_at = ? WHERE id = ? AND status = ?`, s.table))
	res, err := s.db.ExecContext(ctx, query, string(to), lastError, time.Now().UTC(), id, string(from))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get RowsAffected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s in %s", ErrOutboxEventNotFound, id, from)
	}
	return nil
}

func (s *SQLStore) query(ctx context.Context, query string, args ...interface{}) ([]sharedDomain.OutboxEvent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []sharedDomain.OutboxEvent
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, evt)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(sc scanner) (sharedDomain.OutboxEvent, error) {
	var evt sharedDomain.OutboxEvent
	var payload, status string
	if err := sc.Scan(&evt.ID, &evt.AggregateType, &evt.AggregateID, &evt.EventType, &payload,
		&status, &evt.RetryCount, &evt.LastError, &evt.CreatedAt, &evt.UpdatedAt); err != nil {
		return evt, err
	}
	if !json.Valid([]byte(payload)) {
		return evt, fmt.Errorf("invalid JSON payload in outbox row %s", evt.ID)
	}
	evt.Payload = json.RawMessage(payload)
	evt.Status = sharedDomain.OutboxStatus(status)
	return evt, nil
}

// Verificación en tiempo de compilación.
var (
	_ sharedDomain.OutboxRepository = (*SQLStore)(nil)
	_ sharedDomain.OutboxAdmin      = (*SQLStore)(nil)
)
