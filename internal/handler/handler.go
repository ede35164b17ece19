package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/Dan9191/account-service/internal/middleware"
	"github.com/Dan9191/account-service/internal/models"
	"github.com/Dan9191/account-service/internal/service"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const (
	msgLoginFailed    = "Login Unsuccessful. Please check email and password"
	msgInvalidToken   = "That is an invalid or expired token"
	msgResetSent      = "If an account with that email exists, an email has been sent with instructions to reset your password."
	msgPasswordUpdate = "Your password has been updated! You are now able to log in"
	msgAccountUpdate  = "Your account has been updated!"
	msgRegistered     = "Your account has been created! You are now able to log in"
	msgLoggedOut      = "You have been logged out."

	// Room for the text fields of the account form on top of the picture.
	formOverhead = 1 << 20
	// Limit for JSON request bodies.
	maxJSONBytes = 1 << 20
)

// SessionManager starts and ends logins.
type SessionManager interface {
	Login(w http.ResponseWriter, r *http.Request, user *models.User, remember bool) error
	Logout(w http.ResponseWriter, r *http.Request) error
}

// AvatarURLs maps a stored picture name to a client URL.
type AvatarURLs interface {
	URL(name string) string
}

type Handler struct {
	svc            *service.Service
	sessions       SessionManager
	avatars        AvatarURLs
	log            *logrus.Logger
	maxAvatarBytes int64
}

// NewHandler initializes the HTTP handlers
func NewHandler(svc *service.Service, sessions SessionManager, avatars AvatarURLs, logger *logrus.Logger, maxAvatarBytes int64) *Handler {
	return &Handler{
		svc:            svc,
		sessions:       sessions,
		avatars:        avatars,
		log:            logger,
		maxAvatarBytes: maxAvatarBytes,
	}
}

type accountResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	ImageURL string `json:"image_url"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error  string               `json:"error"`
	Fields []service.FieldError `json:"fields,omitempty"`
}

func (h *Handler) account(u *models.User) accountResponse {
	return accountResponse{
		ID:       u.ID,
		Username: u.Username,
		Email:    u.Email,
		ImageURL: h.avatars.URL(u.ImageFile),
	}
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username        string `json:"username"`
		Email           string `json:"email"`
		Password        string `json:"password"`
		ConfirmPassword string `json:"confirm_password"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	user, err := h.svc.Register(r.Context(), service.RegisterInput{
		Username:        req.Username,
		Email:           req.Email,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, struct {
		messageResponse
		User accountResponse `json:"user"`
	}{messageResponse{msgRegistered}, h.account(user)})
}

// Login handles user authentication
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Remember bool   `json:"remember"`
		Next     string `json:"next"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if err := service.ValidateLogin(strings.ToLower(strings.TrimSpace(req.Email)), req.Password).Err(); err != nil {
		h.fail(w, r, err)
		return
	}

	user, err := h.svc.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.sessions.Login(w, r, user, req.Remember); err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		User accountResponse `json:"user"`
		Next string          `json:"next"`
	}{h.account(user), safeNext(req.Next)})
}

// Logout ends the current login, if any
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Logout(w, r); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{msgLoggedOut})
}

// Account returns the profile of the logged-in user
func (h *Handler) Account(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.account(middleware.UserFromContext(r.Context())))
}

// UpdateAccount handles the multipart account form
func (h *Handler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	current := middleware.UserFromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, h.maxAvatarBytes+formOverhead)
	if err := r.ParseMultipartForm(h.maxAvatarBytes + formOverhead); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "Request too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid form"})
		return
	}

	in := service.AccountUpdate{
		Username: r.FormValue("username"),
		Email:    r.FormValue("email"),
	}
	file, _, err := r.FormFile(service.FieldPicture)
	switch {
	case err == nil:
		defer file.Close()
		// One byte past the limit is enough for storage to reject it as too large.
		data, err := io.ReadAll(io.LimitReader(file, h.maxAvatarBytes+1))
		if err != nil {
			h.fail(w, r, err)
			return
		}
		in.Avatar = data
	case !errors.Is(err, http.ErrMissingFile):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid form"})
		return
	}

	updated, err := h.svc.UpdateAccount(r.Context(), current, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		messageResponse
		User accountResponse `json:"user"`
	}{messageResponse{msgAccountUpdate}, h.account(updated)})
}

// ResetRequest emails a reset link. The reply does not depend on whether the
// address has an account.
func (h *Handler) ResetRequest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.svc.RequestPasswordReset(r.Context(), req.Email); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, messageResponse{msgResetSent})
}

// ResetCheck tells whether a reset link is still usable
func (h *Handler) ResetCheck(w http.ResponseWriter, r *http.Request) {
	if _, err := h.svc.CheckResetToken(r.Context(), mux.Vars(r)["token"]); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": true})
}

// ResetConfirm sets a new password through a reset link
func (h *Handler) ResetConfirm(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password        string `json:"password"`
		ConfirmPassword string `json:"confirm_password"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	_, err := h.svc.ResetPassword(r.Context(), mux.Vars(r)["token"], service.ResetPasswordInput{
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{msgPasswordUpdate})
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "Request too large"})
			return false
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request body"})
		return false
	}
	return true
}

// fail maps service errors onto responses. Anything unrecognised is logged
// and hidden behind a 500.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "Validation failed", Fields: verr.Fields})
	case errors.Is(err, service.ErrInvalidCredentials):
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: msgLoginFailed})
	case errors.Is(err, service.ErrInvalidOrExpiredToken):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgInvalidToken})
	default:
		h.log.WithError(err).WithFields(logrus.Fields{
			"request_id": middleware.RequestIDFromContext(r.Context()),
			"path":       r.URL.Path,
		}).Error("Request failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Internal server error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// safeNext keeps a post-login redirect on this site. Anything that is not a
// plain local path becomes "/".
func safeNext(next string) string {
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.ContainsAny(next, "\\\r\n") {
		return "/"
	}
	return next
}
