package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/care-portal/internal/model"
	"github.com/iliyamo/care-portal/internal/utils"
)

// ErrUserNotFound is returned when no user matches.
var ErrUserNotFound = fmt.Errorf("user %w", ErrNotFound)

// ErrEmailExists is returned when registering an address already in use.
var ErrEmailExists = errors.New("email already exists")

type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

// NewUser is the input to Create.
type NewUser struct {
	Email    string
	FullName string
	Password string
	Role     string
}

const userColumns = "id,email,full_name,password_hash,role,is_active,created_at_ms,updated_at_ms"

func scanUser(row interface{ Scan(...any) error }) (*model.User, error) {
	var (
		u                  model.User
		createdMs, updated int64
	)
	if err := row.Scan(&u.ID, &u.Email, &u.FullName, &u.PasswordHash, &u.Role, &u.IsActive, &createdMs, &updated); err != nil {
		return nil, err
	}
	u.CreatedAt = timeOf(createdMs)
	u.UpdatedAt = timeOf(updated)
	return &u, nil
}

// Create hashes the password, inserts the user and returns it.
func (r *UserRepo) Create(ctx context.Context, in NewUser, cost int, now time.Time) (*model.User, error) {
	hash, err := utils.HashPassword(in.Password, cost)
	if err != nil {
		return nil, err
	}
	u := &model.User{
		ID:           newID(),
		Email:        strings.ToLower(strings.TrimSpace(in.Email)),
		FullName:     strings.TrimSpace(in.FullName),
		PasswordHash: hash,
		Role:         model.NormalizeRole(in.Role),
		IsActive:     true,
		CreatedAt:    now.UTC(),
		UpdatedAt:    now.UTC(),
	}
	_, err = r.DB.ExecContext(ctx,
		"INSERT INTO users ("+userColumns+") VALUES (?,?,?,?,?,?,?,?)",
		u.ID, u.Email, u.FullName, u.PasswordHash, u.Role, boolInt(u.IsActive), msOf(u.CreatedAt), msOf(u.UpdatedAt))
	if isDuplicate(err) {
		return nil, ErrEmailExists
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// GetByEmail fetches a user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	u, err := scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE email=? LIMIT 1", email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	return u, err
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id string) (*model.User, error) {
	u, err := scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id=? LIMIT 1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	return u, err
}

// Count returns the number of users; the server uses it to decide
// whether to bootstrap the first admin.
func (r *UserRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n)
	return n, err
}
