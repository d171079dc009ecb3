package db

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sharedDomain "github.com/tomarrohitt/e-commerce-sub000/internal/shared/domain"
	sharedQuery "github.com/tomarrohitt/e-commerce-sub000/internal/shared/infra/platform/query"
)

func TestRebind(t *testing.T) {
	pg := &DB{Dialect: Postgres}
	lite := &DB{Dialect: SQLite}

	q := "UPDATE outbox SET status=? WHERE id=? AND status=?"
	assert.Equal(t, "UPDATE outbox SET status=$1 WHERE id=$2 AND status=$3", pg.Rebind(q))
	assert.Equal(t, q, lite.Rebind(q))
}

func TestApplyCriteria(t *testing.T) {
	allowed := map[string]string{"status": "o.status", "user_id": "o.user_id"}

	where, args, err := ApplyCriteria(sharedDomain.And(
		sharedDomain.In("status", "CREATED", "PENDING"),
		sharedDomain.Eq("user_id", "u-1"),
	), allowed)

	require.NoError(t, err)
	assert.Equal(t, "o.status IN (?, ?) AND o.user_id = ?", where)
	assert.Equal(t, []interface{}{"CREATED", "PENDING", "u-1"}, args)
}

func TestApplyCriteria_RejectsUnknownField(t *testing.T) {
	_, _, err := ApplyCriteria(sharedDomain.Eq("password", "x"), map[string]string{"status": "status"})
	assert.Error(t, err)
}

func TestOrderAndPage_FallsBackOnUnknownSortField(t *testing.T) {
	clause, args := OrderAndPage(
		sharedQuery.Sort{Field: "drop table", Desc: true},
		sharedQuery.OffsetPagination{Limit: 20, Offset: 40},
		map[string]string{"created_at": "created_at"},
		"created_at",
	)
	assert.Equal(t, " ORDER BY created_at DESC LIMIT ? OFFSET ?", clause)
	assert.Equal(t, []interface{}{20, 40}, args)
}

func TestInTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	d, err := Open(ctx, SQLite, ":memory:")
	require.NoError(t, err)
	defer d.Close()

	_, err = d.ExecContext(ctx, `CREATE TABLE items (id TEXT PRIMARY KEY)`)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = d.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO items (id) VALUES (?)`, "a"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var n int
	require.NoError(t, d.QueryRowContext(ctx, `SELECT COUNT(*) FROM items`).Scan(&n))
	assert.Equal(t, 0, n)

	// La segunda inserción con la misma clave es una violación de unicidad.
	require.NoError(t, d.InTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO items (id) VALUES (?)`, "a")
		return err
	}))
	_, err = d.ExecContext(ctx, `INSERT INTO items (id) VALUES (?)`, "a")
	assert.True(t, IsUniqueViolation(err))
}
