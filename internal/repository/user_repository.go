package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lewtec/labelhub/internal/domain"
)

// UserRepository implements domain.UserRepository
type UserRepository struct {
	db DBTX
}

var _ domain.UserRepository = (*UserRepository)(nil)

// NewUserRepository creates a new UserRepository
func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

// NewUserRepositoryWithTx creates a new UserRepository with a transaction
func NewUserRepositoryWithTx(tx *sql.Tx) *UserRepository {
	return &UserRepository{db: tx}
}

// Create inserts a user with a fresh ID
func (r *UserRepository) Create(ctx context.Context, name string) (*domain.User, error) {
	u := &domain.User{ID: uuid.NewString(), Name: name, CreatedAt: time.Now().UTC()}
	_, err := r.db.ExecContext(ctx, `INSERT INTO users (id, name, created_at) VALUES (?, ?, ?)`, u.ID, u.Name, u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// Get retrieves a user by ID
func (r *UserRepository) Get(ctx context.Context, id string) (*domain.User, error) {
	return r.getOne(ctx, `SELECT id, name, created_at FROM users WHERE id = ?`, id)
}

// GetByName retrieves a user by name
func (r *UserRepository) GetByName(ctx context.Context, name string) (*domain.User, error) {
	return r.getOne(ctx, `SELECT id, name, created_at FROM users WHERE name = ?`, name)
}

func (r *UserRepository) getOne(ctx context.Context, query string, arg any) (*domain.User, error) {
	var u domain.User
	err := r.db.QueryRowContext(ctx, query, arg).Scan(&u.ID, &u.Name, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("users.Get", "user %v not found", arg)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// List returns every user ordered by name
func (r *UserRepository) List(ctx context.Context) ([]*domain.User, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, created_at FROM users ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Name, &u.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, &u)
	}
	return result, rows.Err()
}
