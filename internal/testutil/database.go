// Package testutil provides test helpers for database-backed tests.
package testutil

import (
	"context"
	"testing"

	"github.com/ledgerline/categorizer/internal/model"
	"github.com/ledgerline/categorizer/internal/storage"
)

// TestDB is an in-memory test database with seeded categories.
type TestDB struct {
	Storage    *storage.SQLiteStorage
	Categories map[string]model.Category
	t          *testing.T
}

// SetupTestDB creates a migrated in-memory database seeded with the given
// category names. Cleanup is registered automatically.
func SetupTestDB(t *testing.T, categoryNames ...string) *TestDB {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	cats := make(map[string]model.Category, len(categoryNames))
	for _, name := range categoryNames {
		cat, err := store.CreateCategory(ctx, name, "")
		if err != nil {
			t.Fatalf("failed to seed category %q: %v", name, err)
		}
		cats[name] = *cat
	}

	t.Cleanup(func() {
		_ = store.Close()
	})

	return &TestDB{
		Storage:    store,
		Categories: cats,
		t:          t,
	}
}

// MustCategoryID returns the seeded category's id or fails the test.
func (db *TestDB) MustCategoryID(name string) int64 {
	db.t.Helper()
	cat, ok := db.Categories[name]
	if !ok {
		db.t.Fatalf("category %q was not seeded", name)
	}
	return cat.ID
}

// MustCreatePattern persists a pattern or fails the test.
func (db *TestDB) MustCreatePattern(p *model.Pattern) *model.Pattern {
	db.t.Helper()
	if err := db.Storage.CreatePattern(context.Background(), p); err != nil {
		db.t.Fatalf("failed to create pattern: %v", err)
	}
	return p
}
