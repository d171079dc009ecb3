package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	sharedDB "github.com/tomarrohitt/e-commerce-sub000/internal/shared/infra/platform/db"
)

// OpenSQLite abre una BD SQLite en memoria que se cierra al terminar el test.
func OpenSQLite(t *testing.T) *sharedDB.DB {
	t.Helper()
	d, err := sharedDB.Open(context.Background(), sharedDB.SQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

// Schema es cualquier repositorio capaz de crear sus tablas.
type Schema interface {
	InitSchema(ctx context.Context) error
}

// InitSchemas crea las tablas de todos los repositorios indicados.
func InitSchemas(t *testing.T, schemas ...Schema) {
	t.Helper()
	for _, s := range schemas {
		require.NoError(t, s.InitSchema(context.Background()))
	}
}
