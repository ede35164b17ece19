package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Dan9191/account-service/internal/models"
	"github.com/golang-jwt/jwt/v5"
)

const resetAudience = "password-reset"

// ErrInvalidOrExpiredToken is the single outcome for every rejected reset token.
var ErrInvalidOrExpiredToken = errors.New("invalid or expired token")

// UserFinder resolves a user id to a stored user.
type UserFinder interface {
	FindUserByID(ctx context.Context, id int64) (*models.User, error)
}

// ResetTokens issues and verifies stateless password reset tokens. A token is
// an HS256 JWT carrying the user id and its issuance time; nothing is stored
// server side, so a token stays usable until it expires.
type ResetTokens struct {
	secret []byte
	ttl    time.Duration
	users  UserFinder
	now    func() time.Time
}

// Option configures ResetTokens.
type Option func(*ResetTokens)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *ResetTokens) {
		t.now = now
	}
}

// NewResetTokens creates a token service signing with secret. Tokens are
// accepted while less than ttl has elapsed since issuance.
func NewResetTokens(secret []byte, ttl time.Duration, users UserFinder, opts ...Option) *ResetTokens {
	t := &ResetTokens{
		secret: secret,
		ttl:    ttl,
		users:  users,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Issue returns a signed token for user.
func (t *ResetTokens) Issue(user *models.User) (string, error) {
	if user == nil || user.ID <= 0 {
		return "", errors.New("invalid user ID")
	}

	now := t.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(user.ID, 10),
		Audience:  jwt.ClaimStrings{resetAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
	})
	tokenString, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign reset token: %w", err)
	}
	return tokenString, nil
}

// Verify checks the signature and age of tokenString and resolves it to the
// user it was issued for. Every rejection, including a user that no longer
// exists, yields ErrInvalidOrExpiredToken. Store failures are returned wrapped.
func (t *ResetTokens) Verify(ctx context.Context, tokenString string) (*models.User, error) {
	userID, err := t.parse(tokenString)
	if err != nil {
		return nil, ErrInvalidOrExpiredToken
	}

	user, err := t.users.FindUserByID(ctx, userID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, ErrInvalidOrExpiredToken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve reset token user: %w", err)
	}
	return user, nil
}

func (t *ResetTokens) parse(tokenString string) (int64, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(resetAudience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return 0, err
	}
	if !token.Valid {
		return 0, ErrInvalidOrExpiredToken
	}

	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidOrExpiredToken
	}
	return id, nil
}
