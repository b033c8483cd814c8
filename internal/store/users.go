package store

import (
    "context"
    "database/sql"

    "golang.org/x/crypto/bcrypt"

    "github.com/hamzaKhattat/contact-center-api/internal/models"
    "github.com/hamzaKhattat/contact-center-api/pkg/errors"
)

// UserStore persists operator accounts. Passwords are stored as bcrypt hashes.
type UserStore struct {
    db *sql.DB
}

func NewUserStore(db *sql.DB) *UserStore {
    return &UserStore{db: db}
}

func (s *UserStore) GetActiveByUsername(ctx context.Context, username string) (*models.User, error) {
    var user models.User
    var email, fullName sql.NullString

    err := s.db.QueryRowContext(ctx, `
        SELECT id, username, email, full_name, hashed_password, is_active, is_superuser, created_at
        FROM users WHERE username = ? AND is_active = TRUE`, username).Scan(
        &user.ID, &user.Username, &email, &fullName,
        &user.HashedPassword, &user.IsActive, &user.IsSuperuser, &user.CreatedAt,
    )
    if err == sql.ErrNoRows {
        return nil, errors.New(errors.ErrAuthFailed, "unknown user").WithStatusCode(401)
    }
    if err != nil {
        return nil, errors.Wrap(err, errors.ErrDatabase, "failed to query user")
    }

    user.Email = email.String
    user.FullName = fullName.String
    return &user, nil
}

// Create inserts a new user with a bcrypt-hashed password.
func (s *UserStore) Create(ctx context.Context, username, password, email, fullName string, superuser bool) (*models.User, error) {
    if len(username) < 3 {
        return nil, errors.New(errors.ErrValidation, "username must be at least 3 characters").WithStatusCode(400)
    }

    hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
    if err != nil {
        return nil, errors.Wrap(err, errors.ErrInternal, "failed to hash password")
    }

    var emailVal, fullNameVal interface{}
    if email != "" {
        emailVal = email
    }
    if fullName != "" {
        fullNameVal = fullName
    }

    result, err := s.db.ExecContext(ctx, `
        INSERT INTO users (username, email, full_name, hashed_password, is_active, is_superuser)
        VALUES (?, ?, ?, ?, TRUE, ?)`,
        username, emailVal, fullNameVal, string(hash), superuser,
    )
    if err != nil {
        return nil, errors.Wrap(err, errors.ErrDatabase, "failed to create user")
    }

    id, _ := result.LastInsertId()
    return &models.User{
        ID:          id,
        Username:    username,
        Email:       email,
        FullName:    fullName,
        IsActive:    true,
        IsSuperuser: superuser,
    }, nil
}

// VerifyPassword checks a plaintext password against the stored hash.
func (s *UserStore) VerifyPassword(user *models.User, password string) bool {
    return bcrypt.CompareHashAndPassword([]byte(user.HashedPassword), []byte(password)) == nil
}
