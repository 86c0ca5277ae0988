package database_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bella-server/internal/infrastructure/database"
	"bella-server/internal/infrastructure/database/dbtest"
	"bella-server/internal/infrastructure/database/entities"
)

func TestTransaction_CommitsAndReturnsMarker(t *testing.T) {
	db := database.NewDatabase(dbtest.New(t))
	ctx := context.Background()

	marker, err := db.Transaction(ctx, func(ctx context.Context) error {
		return db.GetTx(ctx).Create(&entities.Conversation{ID: "c1", Title: "t", CreatedAt: time.Now(), UpdatedAt: time.Now()}).Error
	})
	require.NoError(t, err)
	assert.NotEmpty(t, marker)

	var count int64
	require.NoError(t, db.DB().Model(&entities.Conversation{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestTransaction_RollsBackOnError(t *testing.T) {
	db := database.NewDatabase(dbtest.New(t))
	ctx := context.Background()
	boom := errors.New("boom")

	_, err := db.Transaction(ctx, func(ctx context.Context) error {
		if err := db.GetTx(ctx).Create(&entities.Conversation{ID: "c1", CreatedAt: time.Now(), UpdatedAt: time.Now()}).Error; err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var count int64
	require.NoError(t, db.DB().Model(&entities.Conversation{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestTransaction_NestedCallJoinsOuter(t *testing.T) {
	db := database.NewDatabase(dbtest.New(t))
	ctx := context.Background()

	_, err := db.Transaction(ctx, func(ctx context.Context) error {
		_, err := db.Transaction(ctx, func(ctx context.Context) error {
			return db.GetTx(ctx).Create(&entities.Conversation{ID: "inner", CreatedAt: time.Now(), UpdatedAt: time.Now()}).Error
		})
		if err != nil {
			return err
		}
		return errors.New("outer fails")
	})
	require.Error(t, err)

	var count int64
	require.NoError(t, db.DB().Model(&entities.Conversation{}).Count(&count).Error)
	assert.Zero(t, count, "inner write must roll back with the outer transaction")
}

func TestAdminDSN(t *testing.T) {
	tests := []struct {
		name  string
		dsn   string
		db    string
		admin string
		ok    bool
	}{
		{
			name:  "url",
			dsn:   "postgres://u:p@db:5432/bella?sslmode=disable",
			db:    "bella",
			admin: "postgres://u:p@db:5432/postgres?sslmode=disable",
			ok:    true,
		},
		{
			name:  "keyword value",
			dsn:   "host=db user=u dbname=bella sslmode=disable",
			db:    "bella",
			admin: "host=db user=u dbname=postgres sslmode=disable",
			ok:    true,
		},
		{name: "maintenance database", dsn: "postgres://u:p@db:5432/postgres"},
		{name: "no database", dsn: "host=db user=u"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, admin, ok := database.AdminDSN(tt.dsn)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.db, db)
			assert.Equal(t, tt.admin, admin)
		})
	}
}

func TestDatabase_Ping(t *testing.T) {
	gormDB := dbtest.New(t)
	db := database.NewDatabase(gormDB)
	require.NoError(t, db.Ping(context.Background()))

	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())
	assert.Error(t, db.Ping(context.Background()))
}
