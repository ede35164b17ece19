package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Dan9191/account-service/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type loaderFunc func(r *http.Request) (*models.User, error)

func (f loaderFunc) CurrentUser(r *http.Request) (*models.User, error) { return f(r) }

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})

	var seen string
	h := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "  abc-123 ")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", rec.Header().Get(requestIDHeader))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "abc-123", entry["request_id"])
	assert.Equal(t, "/healthz", entry["path"])
	assert.EqualValues(t, http.StatusTeapot, entry["status"])
}

func TestRequestLogger_GeneratesID(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{})

	rec := httptest.NewRecorder()
	RequestLogger(logger)(http.NotFoundHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, rec.Header().Get(requestIDHeader), 36)
}

func TestLoadUser(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{})
	alice := &models.User{ID: 7}

	var got *models.User
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { got = UserFromContext(r.Context()) })

	LoadUser(loaderFunc(func(*http.Request) (*models.User, error) { return alice, nil }), logger)(next).
		ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, alice, got)

	got = nil
	rec := httptest.NewRecorder()
	LoadUser(loaderFunc(func(*http.Request) (*models.User, error) { return nil, errors.New("db down") }), logger)(next).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Nil(t, got)
}

func TestRequireLoginAndAnonymous(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	anon := httptest.NewRequest(http.MethodGet, "/", nil)
	authed := anon.WithContext(WithUser(anon.Context(), &models.User{ID: 1}))

	tests := []struct {
		name string
		mw   func(http.Handler) http.Handler
		req  *http.Request
		want int
	}{
		{"login required, anonymous", RequireLogin, anon, http.StatusUnauthorized},
		{"login required, authenticated", RequireLogin, authed, http.StatusNoContent},
		{"anonymous only, anonymous", RequireAnonymous, anon, http.StatusNoContent},
		{"anonymous only, authenticated", RequireAnonymous, authed, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.mw(ok).ServeHTTP(rec, tt.req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
