package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lewtec/labelhub/internal/domain"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Repositories bundles every repository bound to the same connection or transaction
type Repositories struct {
	Users       *UserRepository
	Datasets    *DatasetRepository
	Labels      *LabelRepository
	Images      *ImageRepository
	Tasks       *TaskRepository
	Annotations *AnnotationRepository
	Stats       *StatsRepository
}

func newRepositories(q DBTX) *Repositories {
	return &Repositories{
		Users:       &UserRepository{db: q},
		Datasets:    &DatasetRepository{db: q},
		Labels:      &LabelRepository{db: q},
		Images:      &ImageRepository{db: q},
		Tasks:       &TaskRepository{db: q},
		Annotations: &AnnotationRepository{db: q},
		Stats:       &StatsRepository{db: q},
	}
}

// Store owns the database handle and hands out repositories
type Store struct {
	db    *sql.DB
	repos *Repositories
}

// NewStore creates a new Store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, repos: newRepositories(db)}
}

// DB returns the underlying database handle
func (s *Store) DB() *sql.DB {
	return s.db
}

// Repos returns repositories that run outside of any transaction
func (s *Store) Repos() *Repositories {
	return s.repos
}

// WithTx runs fn inside one transaction. It commits when fn returns nil and rolls back
// otherwise. Errors without a domain kind are reported as transaction failures.
func (s *Store) WithTx(ctx context.Context, fn func(r *Repositories) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Wrap(domain.KindTransactionFailure, "begin", err)
	}
	defer tx.Rollback()

	if err := fn(newRepositories(tx)); err != nil {
		if domain.KindOf(err) != domain.KindUnknown {
			return err
		}
		return domain.Wrap(domain.KindTransactionFailure, "tx", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Wrap(domain.KindTransactionFailure, "commit", fmt.Errorf("while committing: %w", err))
	}
	return nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func floatPtr(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	f := nf.Float64
	return &f
}

// inPlaceholders returns "?, ?, ?" for n arguments
func inPlaceholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
