package services

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/isdelr/access-panel-be/internal/models"
	"github.com/isdelr/access-panel-be/internal/validator"
	"golang.org/x/crypto/bcrypt"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// UserServiceProvider defines the interface for the account store.
type UserServiceProvider interface {
	GetUserByUsername(username string) (models.User, error)
	GetUserByEmail(email string) (models.User, error)
	UserExists(username, email string) (bool, error)
	CreateUser(username, email, password string) (models.User, error)
	MarkVerified(email string) (models.User, error)
}

// UserService persists user records.
type UserService struct {
	db         *sql.DB
	bcryptCost int
}

// NewUserService creates a new UserService.
func NewUserService(db *sql.DB) *UserService {
	return &UserService{db: db, bcryptCost: bcrypt.DefaultCost}
}

const userColumns = "id, username, email, password_hash, verified, created_at"

func scanUser(row *sql.Row) (models.User, error) {
	var user models.User
	err := row.Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.Verified, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, ErrUserNotFound
		}
		return models.User{}, err
	}
	return user, nil
}

// GetUserByUsername retrieves a single user by username, including the password hash.
func (s *UserService) GetUserByUsername(username string) (models.User, error) {
	return scanUser(s.db.QueryRow("SELECT "+userColumns+" FROM users WHERE username = ?", username))
}

// GetUserByEmail retrieves a single user by email, including the password hash.
func (s *UserService) GetUserByEmail(email string) (models.User, error) {
	return scanUser(s.db.QueryRow("SELECT "+userColumns+" FROM users WHERE email = ?", email))
}

// UserExists reports whether any record already uses username or email.
func (s *UserService) UserExists(username, email string) (bool, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(1) FROM users WHERE username = ? OR email = ?", username, email).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CreateUser inserts an unverified user, hashing their password. A unique
// constraint violation from a concurrent signup is reported as ErrUserExists.
func (s *UserService) CreateUser(username, email, password string) (models.User, error) {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return models.User{}, &validator.ValidationError{Fields: []validator.FieldError{{Field: "password", Rule: "bcryptmax"}}}
		}
		return models.User{}, fmt.Errorf("failed to hash password: %w", err)
	}

	user := models.User{
		ID:           uuid.New().String(),
		Username:     username,
		Email:        email,
		PasswordHash: string(hashedPassword),
	}

	_, err = s.db.Exec("INSERT INTO users (id, username, email, password_hash, verified) VALUES (?, ?, ?, ?, 0)",
		user.ID, user.Username, user.Email, user.PasswordHash)
	if err != nil {
		if isUniqueViolation(err) {
			return models.User{}, ErrUserExists
		}
		return models.User{}, fmt.Errorf("insert user: %w", err)
	}

	return s.GetUserByUsername(username)
}

// MarkVerified flips the verified flag for the record owning email. Calling it
// on an already verified record is a no-op.
func (s *UserService) MarkVerified(email string) (models.User, error) {
	res, err := s.db.Exec("UPDATE users SET verified = 1 WHERE email = ?", email)
	if err != nil {
		return models.User{}, fmt.Errorf("mark verified: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return models.User{}, ErrUserNotFound
	}
	return s.GetUserByEmail(email)
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
