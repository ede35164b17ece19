package handler

import (
	"net/http"
	"strings"

	"github.com/Dan9191/account-service/internal/middleware"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// AvatarPrefix is where locally stored avatars are served.
const AvatarPrefix = "/static/profile_pics/"

// NewRouter wires the account routes. A non-empty avatarDir is served under
// AvatarPrefix.
func NewRouter(h *Handler, sessions middleware.UserLoader, logger *logrus.Logger, avatarDir string) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.RequestLogger(logger), middleware.LoadUser(sessions, logger))

	r.HandleFunc("/healthz", h.Healthz).Methods("GET")
	r.HandleFunc("/logout", h.Logout).Methods("POST")

	// Only for visitors who are not logged in
	anon := r.NewRoute().Subrouter()
	anon.Use(middleware.RequireAnonymous)
	anon.HandleFunc("/register", h.Register).Methods("POST")
	anon.HandleFunc("/login", h.Login).Methods("POST")
	anon.HandleFunc("/reset_password", h.ResetRequest).Methods("POST")
	anon.HandleFunc("/reset_password/{token}", h.ResetCheck).Methods("GET")
	anon.HandleFunc("/reset_password/{token}", h.ResetConfirm).Methods("POST")

	// Protected routes
	authed := r.NewRoute().Subrouter()
	authed.Use(middleware.RequireLogin)
	authed.HandleFunc("/account", h.Account).Methods("GET")
	authed.HandleFunc("/account", h.UpdateAccount).Methods("POST")

	if avatarDir != "" {
		r.PathPrefix(AvatarPrefix).Handler(http.StripPrefix(AvatarPrefix, noListing(http.FileServer(http.Dir(avatarDir))))).Methods("GET")
	}
	return r
}

func noListing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}
