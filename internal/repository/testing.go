package repository

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/lewtec/labelhub/db"
	"github.com/lewtec/labelhub/internal/domain"
	"go.uber.org/zap"
)

// SetupTestDB creates a migrated SQLite database in a temporary directory.
// A file is used instead of :memory: so every pooled connection sees the same data.
func SetupTestDB(t testing.TB) *sql.DB {
	t.Helper()

	conn, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.Migrate(conn, zap.NewNop()); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}
	return conn
}

// CleanupTestDB closes the test database
func CleanupTestDB(t testing.TB, db *sql.DB) {
	t.Helper()
	if err := db.Close(); err != nil {
		t.Errorf("failed to close test database: %v", err)
	}
}

// MustExec executes a SQL statement and fails the test if it errors
func MustExec(t testing.TB, db *sql.DB, query string, args ...any) {
	t.Helper()
	_, err := db.ExecContext(context.Background(), query, args...)
	if err != nil {
		t.Fatalf("failed to exec query: %v", err)
	}
}

// SeedUser creates a user named name
func SeedUser(t testing.TB, db *sql.DB, name string) *domain.User {
	t.Helper()
	u, err := NewUserRepository(db).Create(context.Background(), name)
	if err != nil {
		t.Fatalf("failed to seed user %s: %v", name, err)
	}
	return u
}

// SeedDataset creates a dataset owned by ownerID with n SERVER images ordered 0..n-1
func SeedDataset(t testing.TB, db *sql.DB, ownerID string, typ domain.DatasetType, n int) (*domain.Dataset, []*domain.Image) {
	t.Helper()
	ctx := context.Background()

	ds := &domain.Dataset{Name: "dataset", Type: typ, CreatedByID: ownerID}
	if err := NewDatasetRepository(db).Create(ctx, ds); err != nil {
		t.Fatalf("failed to seed dataset: %v", err)
	}
	images := make([]*domain.Image, n)
	for i := range images {
		images[i] = &domain.Image{
			Filename:  fmt.Sprintf("img%03d.jpg", i),
			Path:      fmt.Sprintf("batch/img%03d.jpg", i),
			Storage:   domain.StorageServer,
			Order:     i,
			DatasetID: ds.ID,
		}
	}
	if err := NewImageRepository(db).CreateBatch(ctx, images); err != nil {
		t.Fatalf("failed to seed images: %v", err)
	}
	return ds, images
}
