package repository

import (
	"context"
	"sync"
	"time"

	"github.com/Dan9191/account-service/internal/models"
)

// MemoryRepository is a process-local user store with the same uniqueness
// rules as the SQL schema. Records are copied in and out.
type MemoryRepository struct {
	mu     sync.RWMutex
	nextID int64
	users  map[int64]models.User
	now    func() time.Time
}

// NewMemoryRepository returns an empty store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users: make(map[int64]models.User),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// CreateUser stores user and assigns its id and timestamps
func (m *MemoryRepository) CreateUser(_ context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if v := m.conflict(user, 0); v != nil {
		return v
	}
	if user.ImageFile == "" {
		user.ImageFile = models.DefaultImageFile
	}
	m.nextID++
	now := m.now()
	user.ID = m.nextID
	user.CreatedAt = now
	user.UpdatedAt = now
	m.users[user.ID] = *user
	return nil
}

// SaveUser writes the profile fields of user, keeping the stored password hash
func (m *MemoryRepository) SaveUser(_ context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.users[user.ID]
	if !ok {
		return models.ErrNotFound
	}
	if v := m.conflict(user, user.ID); v != nil {
		return v
	}
	stored.Username = user.Username
	stored.Email = user.Email
	stored.ImageFile = user.ImageFile
	stored.UpdatedAt = m.now()
	m.users[user.ID] = stored

	user.UpdatedAt = stored.UpdatedAt
	return nil
}

// UpdatePassword replaces the password hash of user id
func (m *MemoryRepository) UpdatePassword(_ context.Context, id int64, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.users[id]
	if !ok {
		return models.ErrNotFound
	}
	stored.PasswordHash = hash
	stored.UpdatedAt = m.now()
	m.users[id] = stored
	return nil
}

// FindUserByID retrieves a copy of the user with id
func (m *MemoryRepository) FindUserByID(_ context.Context, id int64) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &u, nil
}

// FindUserByEmail retrieves a copy of the user with email
func (m *MemoryRepository) FindUserByEmail(_ context.Context, email string) (*models.User, error) {
	return m.find(func(u *models.User) bool { return u.Email == email })
}

// FindUserByUsername retrieves a copy of the user with username
func (m *MemoryRepository) FindUserByUsername(_ context.Context, username string) (*models.User, error) {
	return m.find(func(u *models.User) bool { return u.Username == username })
}

// AvatarFilesInUse returns every image file referenced by a user.
func (m *MemoryRepository) AvatarFilesInUse(_ context.Context) (map[string]struct{}, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	files := make(map[string]struct{}, len(m.users))
	for _, u := range m.users {
		files[u.ImageFile] = struct{}{}
	}
	return files, nil
}

func (m *MemoryRepository) find(match func(*models.User) bool) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, u := range m.users {
		if match(&u) {
			return &u, nil
		}
	}
	return nil, models.ErrNotFound
}

// conflict must be called with mu held. self is the id allowed to keep its own values.
func (m *MemoryRepository) conflict(user *models.User, self int64) *models.UniquenessViolation {
	for id, u := range m.users {
		if id == self {
			continue
		}
		if u.Username == user.Username {
			return &models.UniquenessViolation{Field: models.FieldUsername}
		}
		if u.Email == user.Email {
			return &models.UniquenessViolation{Field: models.FieldEmail}
		}
	}
	return nil
}
