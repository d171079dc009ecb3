package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // Driver de PostgreSQL
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	sharedDomain "github.com/tomarrohitt/e-commerce-sub000/internal/shared/domain"
	sharedQuery "github.com/tomarrohitt/e-commerce-sub000/internal/shared/infra/platform/query"
	sharedUtils "github.com/tomarrohitt/e-commerce-sub000/internal/shared/infra/utils"
)

type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// DB envuelve *sql.DB con el dialecto, para que los repositorios escriban SQL con '?'.
type DB struct {
	*sql.DB
	Dialect Dialect
}

// Open abre la conexión según el driver configurado.
func Open(ctx context.Context, dialect Dialect, dsn string) (*DB, error) {
	var driverName string
	switch dialect {
	case SQLite:
		driverName = "sqlite"
	case Postgres:
		driverName = "pgx"
	default:
		return nil, fmt.Errorf("unsupported db driver %q", dialect)
	}

	conn, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", dialect, err)
	}
	if dialect == SQLite {
		// Un único escritor: evita SQLITE_BUSY y permite usar ":memory:".
		conn.SetMaxOpenConns(1)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", dialect, err)
	}
	return &DB{DB: conn, Dialect: dialect}, nil
}

// Wrap permite envolver un *sql.DB ya abierto (tests con sqlmock).
func Wrap(conn *sql.DB, dialect Dialect) *DB {
	return &DB{DB: conn, Dialect: dialect}
}

// Rebind traduce los placeholders '?' al estilo del dialecto ($1, $2... en Postgres).
func (d *DB) Rebind(query string) string {
	if d.Dialect != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// InTx ejecuta fn dentro de una transacción; rollback si fn devuelve error.
func (d *DB) InTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// IsUniqueViolation detecta violaciones de clave única en ambos drivers.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

// Placeholders devuelve "?, ?, ?" para n argumentos.
func Placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// ApplyCriteria traduce criterios neutrales a un WHERE con '?'.
// allowed mapea el nombre lógico del campo a la columna real; campos desconocidos dan error.
func ApplyCriteria(criteria sharedDomain.Criteria, allowed map[string]string) (string, []interface{}, error) {
	if criteria == nil {
		return "", nil, nil
	}
	conds := criteria.ToConditions()
	if len(conds) == 0 {
		return "", nil, nil
	}

	joiner := " AND "
	if cc, ok := criteria.(sharedDomain.CompositeCriteria); ok && cc.Operator == sharedDomain.OpOr {
		joiner = " OR "
	}

	var clauses []string
	var args []interface{}
	for _, c := range conds {
		column, ok := allowed[c.Field]
		if !ok {
			return "", nil, fmt.Errorf("unsupported filter field %q", c.Field)
		}
		if c.Op == sharedDomain.OpIn {
			values, _ := c.Value.([]interface{})
			if len(values) == 0 {
				clauses = append(clauses, "1 = 0")
				continue
			}
			clauses = append(clauses, fmt.Sprintf("%s IN (%s)", column, Placeholders(len(values))))
			args = append(args, values...)
			continue
		}
		clauses = append(clauses, fmt.Sprintf("%s %s ?", column, c.Op))
		args = append(args, c.Value)
	}
	return strings.Join(clauses, joiner), args, nil
}

// OrderAndPage añade ORDER BY y LIMIT/OFFSET validando el campo de orden.
func OrderAndPage(sort sharedQuery.Sort, page sharedQuery.OffsetPagination, allowed map[string]string, fallback string) (string, []interface{}) {
	column, ok := allowed[sort.Field]
	if !ok {
		column = fallback
	}
	clause := fmt.Sprintf(" ORDER BY %s %s", column, sharedUtils.Ternary(sort.Desc, "DESC", "ASC"))
	if page.Limit > 0 {
		clause += " LIMIT ? OFFSET ?"
		return clause, []interface{}{page.Limit, page.Offset}
	}
	return clause, nil
}
