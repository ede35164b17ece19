package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Dan9191/account-service/internal/models"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

const pqUniqueViolation = "23505"

const userColumns = `id, username, email, password_hash, image_file, created_at, updated_at`

// Repository provides database operations
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

// NewRepository initializes a new repository
func NewRepository(db *sql.DB) *Repository {
	return &Repository{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// CreateUser creates a new user in the database
func (r *Repository) CreateUser(ctx context.Context, user *models.User) error {
	if user.ImageFile == "" {
		user.ImageFile = models.DefaultImageFile
	}
	now := r.now()
	query := `
		INSERT INTO users (username, email, password_hash, image_file, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`
	err := r.db.QueryRowContext(ctx, query, user.Username, user.Email, user.PasswordHash, user.ImageFile, now, now).
		Scan(&user.ID)
	if err != nil {
		if v := uniqueViolation(err); v != nil {
			return v
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	user.CreatedAt = now
	user.UpdatedAt = now
	return nil
}

// SaveUser writes the profile fields of user back to the database. The
// password hash is left alone so a stale copy cannot undo a password reset;
// use UpdatePassword for that.
func (r *Repository) SaveUser(ctx context.Context, user *models.User) error {
	now := r.now()
	query := `
		UPDATE users
		SET username = $1, email = $2, image_file = $3, updated_at = $4
		WHERE id = $5`
	res, err := r.db.ExecContext(ctx, query, user.Username, user.Email, user.ImageFile, now, user.ID)
	if err != nil {
		if v := uniqueViolation(err); v != nil {
			return v
		}
		return fmt.Errorf("failed to save user: %w", err)
	}
	if err := requireRow(res); err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	user.UpdatedAt = now
	return nil
}

// UpdatePassword replaces the password hash of user id
func (r *Repository) UpdatePassword(ctx context.Context, id int64, hash string) error {
	query := `UPDATE users SET password_hash = $1, updated_at = $2 WHERE id = $3`
	res, err := r.db.ExecContext(ctx, query, hash, r.now(), id)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if err := requireRow(res); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return nil
}

// requireRow reports models.ErrNotFound when an update matched no row.
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrNotFound
	}
	return nil
}

// FindUserByEmail retrieves a user by email
func (r *Repository) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.findUser(ctx, "email", email)
}

// FindUserByUsername retrieves a user by username
func (r *Repository) FindUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.findUser(ctx, "username", username)
}

// FindUserByID retrieves a user by id
func (r *Repository) FindUserByID(ctx context.Context, id int64) (*models.User, error) {
	return r.findUser(ctx, "id", id)
}

// AvatarFilesInUse returns every image file referenced by a user.
func (r *Repository) AvatarFilesInUse(ctx context.Context) (map[string]struct{}, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT image_file FROM users`)
	if err != nil {
		return nil, fmt.Errorf("failed to list avatar files: %w", err)
	}
	defer rows.Close()

	files := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan avatar file: %w", err)
		}
		files[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list avatar files: %w", err)
	}
	return files, nil
}

// column is one of the fixed names above, never user input.
func (r *Repository) findUser(ctx context.Context, column string, value any) (*models.User, error) {
	user := &models.User{}
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + column + ` = $1`
	err := r.db.QueryRowContext(ctx, query, value).
		Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.ImageFile, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

// uniqueViolation maps a driver's unique-constraint error to the offending
// field. It returns nil for any other error.
func uniqueViolation(err error) *models.UniquenessViolation {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
		return &models.UniquenessViolation{Field: fieldFromConstraint(pqErr.Constraint + " " + pqErr.Detail)}
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) && liteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return &models.UniquenessViolation{Field: fieldFromConstraint(liteErr.Error())}
	}
	return nil
}

func fieldFromConstraint(desc string) string {
	if strings.Contains(desc, "email") {
		return models.FieldEmail
	}
	return models.FieldUsername
}
