// Package testutil provides test databases and fixtures shared across packages.
package testutil

import (
	"context"
	"testing"

	"github.com/Veraticus/the-receipts-must-match/internal/service"
	"github.com/Veraticus/the-receipts-must-match/internal/storage"
)

// TestDB represents a test database with associated test utilities.
type TestDB struct {
	Storage *storage.SQLiteStorage
	t       *testing.T
}

// TestDBOptions provides configuration options for test database setup.
type TestDBOptions struct {
	CustomSetup    func(context.Context, service.Storage) error
	Fixture        *Fixture
	SkipMigrations bool
}

// SetupTestDB creates a migrated in-memory database, seeded with the given
// fixtures. It is closed when the test ends.
//
// Example:
//
//	db := testutil.SetupTestDB(t, testutil.FixtureCoffeeWeek)
func SetupTestDB(t *testing.T, fixtures ...*Fixture) *TestDB {
	t.Helper()

	db := SetupTestDBWithOptions(t, TestDBOptions{})
	for _, f := range fixtures {
		db.Seed(f)
	}
	return db
}

// SetupTestDBWithOptions creates a test database with custom options.
func SetupTestDBWithOptions(t *testing.T, opts TestDBOptions) *TestDB {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	ctx := context.Background()

	if !opts.SkipMigrations {
		if err := store.Migrate(ctx); err != nil {
			t.Fatalf("failed to run migrations: %v", err)
		}
	}

	db := &TestDB{Storage: store, t: t}
	if opts.Fixture != nil {
		db.Seed(opts.Fixture)
	}

	if opts.CustomSetup != nil {
		if err := opts.CustomSetup(ctx, store); err != nil {
			t.Fatalf("custom setup failed: %v", err)
		}
	}
	return db
}

// Seed loads a fixture's ledger transactions and receipts.
func (db *TestDB) Seed(f *Fixture) {
	db.t.Helper()
	ctx := context.Background()

	if len(f.Transactions) > 0 {
		if _, err := db.Storage.SaveTransactions(ctx, f.Transactions); err != nil {
			db.t.Fatalf("failed to seed fixture %q transactions: %v", f.Name, err)
		}
	}
	for i := range f.Receipts {
		if _, err := db.Storage.SaveReceipt(ctx, &f.Receipts[i]); err != nil {
			db.t.Fatalf("failed to seed fixture %q receipt %d: %v", f.Name, i, err)
		}
	}
}
