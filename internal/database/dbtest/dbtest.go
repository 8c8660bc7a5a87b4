// Package dbtest provides a migrated in-memory database for package tests.
package dbtest

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/sdko-org/visitor-beacon/internal/database"
	"github.com/sdko-org/visitor-beacon/internal/models"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func New(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// One connection keeps the shared in-memory database alive and serialises
	// writers, which SQLite would otherwise reject with "database is locked".
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

// Project inserts an active project (with its zeroed counter) and returns it.
func Project(t testing.TB, db *gorm.DB, ownerID uint, plan string, mutate ...func(*models.Project)) *models.Project {
	t.Helper()

	p := models.NewProject(ownerID, "site", plan)
	for _, fn := range mutate {
		fn(p)
	}
	require.NoError(t, db.Create(p).Error)
	// gorm skips zero-value bools on insert when the column has a default.
	if !p.IsActive {
		require.NoError(t, db.Model(p).Update("is_active", false).Error)
	}
	return p
}
