// Package session binds requests to an authenticated user through a signed
// cookie. A request is anonymous unless it carries a cookie that verifies
// against the session key, has not outlived its lifetime, and names a user
// that still exists.
package session

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Dan9191/account-service/internal/models"
	"github.com/gorilla/sessions"
)

const (
	cookieName  = "session"
	keyUserID   = "user_id"
	keyIssuedAt = "issued_at"
	keyRemember = "remember"
)

// UserFinder resolves a user id to a stored user.
type UserFinder interface {
	FindUserByID(ctx context.Context, id int64) (*models.User, error)
}

// Options configures cookie lifetimes and flags.
type Options struct {
	// SessionTTL bounds a browser-session login.
	SessionTTL time.Duration
	// RememberTTL is the lifetime of a "remember me" cookie.
	RememberTTL time.Duration
	Secure      bool
	Now         func() time.Time
}

// Manager runs the login/logout lifecycle.
type Manager struct {
	store       *sessions.CookieStore
	users       UserFinder
	sessionTTL  time.Duration
	rememberTTL time.Duration
	now         func() time.Time
}

// NewManager signs cookies with hashKey.
func NewManager(hashKey []byte, users UserFinder, opts Options) *Manager {
	store := sessions.NewCookieStore(hashKey)
	// Sets the codec's timestamp limit; per-cookie MaxAge is chosen at login.
	store.MaxAge(int(opts.RememberTTL / time.Second))
	store.Options = &sessions.Options{
		Path:     "/",
		HttpOnly: true,
		Secure:   opts.Secure,
		SameSite: http.SameSiteLaxMode,
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		store:       store,
		users:       users,
		sessionTTL:  opts.SessionTTL,
		rememberTTL: opts.RememberTTL,
		now:         now,
	}
}

// Login attaches user to the client. With remember set the cookie persists
// across browser restarts for RememberTTL; otherwise it is a browser-session
// cookie honoured for at most SessionTTL.
func (m *Manager) Login(w http.ResponseWriter, r *http.Request, user *models.User, remember bool) error {
	if user == nil || user.ID <= 0 {
		return errors.New("invalid user ID")
	}

	// A cookie that fails to decode still yields a fresh session to write into.
	sess, _ := m.store.Get(r, cookieName)
	sess.Values = map[interface{}]interface{}{
		keyUserID:   user.ID,
		keyIssuedAt: m.now().Unix(),
		keyRemember: remember,
	}

	opts := *m.store.Options
	if remember {
		opts.MaxAge = int(m.rememberTTL / time.Second)
	} else {
		opts.MaxAge = 0
	}
	sess.Options = &opts

	return sess.Save(r, w)
}

// Logout detaches any identity and expires the cookie, whatever the remember flag was.
func (m *Manager) Logout(w http.ResponseWriter, r *http.Request) error {
	sess, _ := m.store.Get(r, cookieName)
	sess.Values = map[interface{}]interface{}{}

	opts := *m.store.Options
	opts.MaxAge = -1
	sess.Options = &opts

	return sess.Save(r, w)
}

// CurrentUser returns the authenticated user, or nil for an anonymous
// request. Only store failures produce an error.
func (m *Manager) CurrentUser(r *http.Request) (*models.User, error) {
	id, ok := m.identity(r)
	if !ok {
		return nil, nil
	}

	user, err := m.users.FindUserByID(r.Context(), id)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (m *Manager) identity(r *http.Request) (int64, bool) {
	sess, err := m.store.Get(r, cookieName)
	if err != nil {
		return 0, false
	}

	id, ok := sess.Values[keyUserID].(int64)
	if !ok || id <= 0 {
		return 0, false
	}
	issuedAt, ok := sess.Values[keyIssuedAt].(int64)
	if !ok {
		return 0, false
	}
	remember, _ := sess.Values[keyRemember].(bool)

	ttl := m.sessionTTL
	if remember {
		ttl = m.rememberTTL
	}
	age := m.now().Sub(time.Unix(issuedAt, 0))
	if age < 0 || age > ttl {
		return 0, false
	}
	return id, true
}
