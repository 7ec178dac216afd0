package database

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// TestEntitiesAutoMigrate exercises the full entity list against an
// in-memory sqlite database. It won't catch postgres-specific DDL
// issues, but it does catch struct tag mistakes (duplicate column
// names, bad foreign key references) cheaply and without a live
// postgres instance.
func TestEntitiesAutoMigrate(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(entities()...)
	require.NoError(t, err)
}
