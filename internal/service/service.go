package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/Dan9191/account-service/internal/auth"
	"github.com/Dan9191/account-service/internal/models"
	"github.com/Dan9191/account-service/internal/storage"
	"github.com/sirupsen/logrus"
)

var (
	// ErrInvalidCredentials covers both an unknown email and a wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidOrExpiredToken covers every rejected reset token.
	ErrInvalidOrExpiredToken = auth.ErrInvalidOrExpiredToken
)

// UserStore persists users and enforces username/email uniqueness.
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	SaveUser(ctx context.Context, user *models.User) error
	UpdatePassword(ctx context.Context, id int64, hash string) error
	FindUserByID(ctx context.Context, id int64) (*models.User, error)
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	FindUserByUsername(ctx context.Context, username string) (*models.User, error)
}

// Mailer delivers password reset links.
type Mailer interface {
	SendPasswordReset(ctx context.Context, to, username, link string) error
}

// AvatarStore writes uploaded pictures under generated names.
type AvatarStore interface {
	Save(ctx context.Context, data []byte) (string, error)
	Delete(ctx context.Context, name string) error
}

// Deps are the collaborators of Service.
type Deps struct {
	Repo    UserStore
	Hasher  *auth.PasswordHasher
	Tokens  *auth.ResetTokens
	Mailer  Mailer
	Avatars AvatarStore
	Log     *logrus.Logger
	// BaseURL prefixes the reset link sent by email.
	BaseURL string
}

// Service handles business logic
type Service struct {
	repo    UserStore
	hasher  *auth.PasswordHasher
	tokens  *auth.ResetTokens
	mailer  Mailer
	avatars AvatarStore
	log     *logrus.Logger
	baseURL string

	dummyOnce sync.Once
	dummyHash string
}

// NewService initializes a new service
func NewService(d Deps) *Service {
	return &Service{
		repo:    d.Repo,
		hasher:  d.Hasher,
		tokens:  d.Tokens,
		mailer:  d.Mailer,
		avatars: d.Avatars,
		log:     d.Log,
		baseURL: strings.TrimSuffix(d.BaseURL, "/"),
	}
}

// Register creates a new user with hashed password
func (s *Service) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	in.Username = normalizeUsername(in.Username)
	in.Email = normalizeEmail(in.Email)

	v := ValidateRegistration(in)
	if err := s.checkTaken(ctx, v, in.Username, in.Email, 0); err != nil {
		return nil, err
	}
	if err := v.Err(); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		return nil, asValidationError(err)
	}

	s.log.Infof("User registered: %s", user.Email)
	return user, nil
}

// Authenticate checks an email/password pair. Unknown emails and wrong
// passwords both yield ErrInvalidCredentials after the same bcrypt work.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.repo.FindUserByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, models.ErrNotFound) {
		s.hasher.Verify(s.dummyPasswordHash(), password)
		s.log.Infof("Login failed: unknown email")
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	if !s.hasher.Verify(user.PasswordHash, password) {
		s.log.Infof("Login failed for user %d", user.ID)
		return nil, ErrInvalidCredentials
	}

	s.log.Infof("User logged in: %s", user.Email)
	return user, nil
}

// RequestPasswordReset emails a reset link when email belongs to a user.
// The outcome for unknown addresses is identical so the form cannot be used
// to probe for accounts; only storage failures are returned.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if err := ValidateEmail(email).Err(); err != nil {
		return err
	}

	user, err := s.repo.FindUserByEmail(ctx, email)
	if errors.Is(err, models.ErrNotFound) {
		s.log.Infof("Password reset requested for unknown email")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}

	token, err := s.tokens.Issue(user)
	if err != nil {
		return err
	}
	link := s.baseURL + "/reset_password/" + url.PathEscape(token)

	if err := s.mailer.SendPasswordReset(ctx, user.Email, user.Username, link); err != nil {
		s.log.WithError(err).Errorf("Password reset email for user %d not sent", user.ID)
		return nil
	}

	s.log.Infof("Password reset requested for user %d", user.ID)
	return nil
}

// CheckResetToken resolves a reset token to its user without changing anything.
func (s *Service) CheckResetToken(ctx context.Context, token string) (*models.User, error) {
	return s.tokens.Verify(ctx, token)
}

// ResetPassword sets a new password for the user a valid token was issued to.
func (s *Service) ResetPassword(ctx context.Context, token string, in ResetPasswordInput) (*models.User, error) {
	user, err := s.tokens.Verify(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := ValidateResetPassword(in).Err(); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}
	// Only the hash is written so a concurrent profile update is not reverted.
	if err := s.repo.UpdatePassword(ctx, user.ID, hash); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, ErrInvalidOrExpiredToken
		}
		return nil, fmt.Errorf("failed to save password: %w", err)
	}
	updated := *user
	updated.PasswordHash = hash

	s.log.Infof("Password reset for user %d", updated.ID)
	return &updated, nil
}

// UpdateAccount applies a profile change for current. Every field is
// validated, including uniqueness against other users, before the avatar or
// the record is written. On failure current is left untouched.
func (s *Service) UpdateAccount(ctx context.Context, current *models.User, in AccountUpdate) (*models.User, error) {
	if current == nil {
		return nil, errors.New("no authenticated user")
	}
	in.Username = normalizeUsername(in.Username)
	in.Email = normalizeEmail(in.Email)

	v := ValidateAccountUpdate(in)
	if err := s.checkTaken(ctx, v, in.Username, in.Email, current.ID); err != nil {
		return nil, err
	}
	if err := v.Err(); err != nil {
		return nil, err
	}

	updated := *current
	updated.Username = in.Username
	updated.Email = in.Email

	var newAvatar string
	if in.Avatar != nil {
		name, err := s.avatars.Save(ctx, in.Avatar)
		if err != nil {
			if msg, ok := pictureMessage(err); ok {
				v.Add(FieldPicture, msg)
				return nil, v
			}
			return nil, err
		}
		newAvatar = name
		updated.ImageFile = name
	}

	if err := s.repo.SaveUser(ctx, &updated); err != nil {
		if newAvatar != "" {
			if derr := s.avatars.Delete(ctx, newAvatar); derr != nil {
				s.log.WithError(derr).Warnf("Failed to remove unused avatar %s", newAvatar)
			}
		}
		return nil, asValidationError(err)
	}

	s.log.Infof("Account updated for user %d", updated.ID)
	return &updated, nil
}

// checkTaken adds field errors for a username or email held by a user other
// than self. The store's unique constraints remain the final word.
func (s *Service) checkTaken(ctx context.Context, v *ValidationError, username, email string, self int64) error {
	if username != "" && !v.Has(models.FieldUsername) {
		taken, err := s.takenByOther(ctx, s.repo.FindUserByUsername, username, self)
		if err != nil {
			return err
		}
		if taken {
			v.Add(models.FieldUsername, msgUsernameTaken)
		}
	}
	if email != "" && !v.Has(models.FieldEmail) {
		taken, err := s.takenByOther(ctx, s.repo.FindUserByEmail, email, self)
		if err != nil {
			return err
		}
		if taken {
			v.Add(models.FieldEmail, msgEmailTaken)
		}
	}
	return nil
}

func (s *Service) takenByOther(ctx context.Context, find func(context.Context, string) (*models.User, error), value string, self int64) (bool, error) {
	u, err := find(ctx, value)
	if errors.Is(err, models.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check uniqueness: %w", err)
	}
	return u.ID != self, nil
}

func (s *Service) dummyPasswordHash() string {
	s.dummyOnce.Do(func() {
		h, err := s.hasher.Hash("timing-equalizer")
		if err != nil {
			s.log.WithError(err).Error("Failed to prepare dummy password hash")
			return
		}
		s.dummyHash = h
	})
	return s.dummyHash
}

func asValidationError(err error) error {
	var uv *models.UniquenessViolation
	if errors.As(err, &uv) {
		v := &ValidationError{}
		v.Add(uv.Field, takenMessage(uv.Field))
		return v
	}
	return err
}

func pictureMessage(err error) (string, bool) {
	switch {
	case errors.Is(err, storage.ErrUnsupportedImage), errors.Is(err, storage.ErrEmptyImage):
		return msgPicture, true
	case errors.Is(err, storage.ErrImageTooLarge):
		return msgPictureSize, true
	}
	return "", false
}
