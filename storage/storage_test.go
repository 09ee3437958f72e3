package storage_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-connect/storage"
)

func TestOpenSQLiteWithMigrations(t *testing.T) {
	ctx := context.Background()

	db, err := storage.Open(ctx, storage.Options{
		Driver:  storage.DriverSQLite,
		DSN:     "file::memory:",
		Migrate: true,
	})
	require.NoError(t, err)
	defer db.Close()

	var count int
	err = db.NewSelect().Table("users").ColumnExpr("COUNT(*)").Scan(ctx, &count)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := storage.Open(context.Background(), storage.Options{Driver: "oracle"})
	assert.ErrorContains(t, err, "unsupported")
}

func TestOpenPostgresRequiresDSN(t *testing.T) {
	_, err := storage.Open(context.Background(), storage.Options{Driver: storage.DriverPostgres})
	assert.ErrorContains(t, err, "DSN")
}
