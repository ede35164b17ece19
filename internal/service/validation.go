package service

import (
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/Dan9191/account-service/internal/models"
)

const (
	minUsernameLen = 2
	maxUsernameLen = 20
	// users.email is VARCHAR(120).
	maxEmailLen = 120
	// bcrypt ignores everything past 72 bytes.
	maxPasswordBytes = 72

	FieldPassword        = "password"
	FieldConfirmPassword = "confirm_password"
	FieldPicture         = "picture"
)

const (
	msgRequired      = "This field is required."
	msgUsernameLen   = "Field must be between 2 and 20 characters long."
	msgInvalidEmail  = "Invalid email address."
	msgEmailLong     = "Field must be at most 120 characters long."
	msgPasswordLong  = "Field must be at most 72 bytes long."
	msgPasswordMatch = "Field must be equal to password."
	msgUsernameTaken = "That username is taken. Please choose a different one."
	msgEmailTaken    = "That email is taken. Please choose a different one."
	msgPicture       = "File does not have an approved extension: jpg, png"
	msgPictureSize   = "File is too large."
)

// FieldError is a problem with one submitted field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError collects field errors. The caller renders them next to the
// offending inputs.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add records a problem with field.
func (e *ValidationError) Add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// Has reports whether field already has an error.
func (e *ValidationError) Has(field string) bool {
	for _, f := range e.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}

// Err returns e, or nil when no field failed.
func (e *ValidationError) Err() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// RegisterInput is a submitted registration form.
type RegisterInput struct {
	Username        string
	Email           string
	Password        string
	ConfirmPassword string
}

// AccountUpdate is a submitted account form. Avatar is nil when no new
// picture was uploaded.
type AccountUpdate struct {
	Username string
	Email    string
	Avatar   []byte
}

// ResetPasswordInput is a submitted new-password form.
type ResetPasswordInput struct {
	Password        string
	ConfirmPassword string
}

func normalizeUsername(s string) string {
	return strings.TrimSpace(s)
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ValidateRegistration checks the form fields without touching storage.
func ValidateRegistration(in RegisterInput) *ValidationError {
	v := &ValidationError{}
	validateUsername(v, in.Username)
	validateEmail(v, in.Email)
	validateNewPassword(v, in.Password, in.ConfirmPassword)
	return v
}

// ValidateAccountUpdate checks the form fields without touching storage.
func ValidateAccountUpdate(in AccountUpdate) *ValidationError {
	v := &ValidationError{}
	validateUsername(v, in.Username)
	validateEmail(v, in.Email)
	return v
}

// ValidateResetPassword checks a new password and its confirmation.
func ValidateResetPassword(in ResetPasswordInput) *ValidationError {
	v := &ValidationError{}
	validateNewPassword(v, in.Password, in.ConfirmPassword)
	return v
}

// ValidateEmail checks a single email field.
func ValidateEmail(email string) *ValidationError {
	v := &ValidationError{}
	validateEmail(v, email)
	return v
}

// ValidateLogin checks that both login fields are filled in.
func ValidateLogin(email, password string) *ValidationError {
	v := &ValidationError{}
	validateEmail(v, email)
	if password == "" {
		v.Add(FieldPassword, msgRequired)
	}
	return v
}

func validateUsername(v *ValidationError, username string) {
	n := utf8.RuneCountInString(username)
	switch {
	case n == 0:
		v.Add(models.FieldUsername, msgRequired)
	case n < minUsernameLen || n > maxUsernameLen:
		v.Add(models.FieldUsername, msgUsernameLen)
	}
}

func validateEmail(v *ValidationError, email string) {
	if email == "" {
		v.Add(models.FieldEmail, msgRequired)
		return
	}
	if utf8.RuneCountInString(email) > maxEmailLen {
		v.Add(models.FieldEmail, msgEmailLong)
		return
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@")+1:], ".") {
		v.Add(models.FieldEmail, msgInvalidEmail)
	}
}

func validateNewPassword(v *ValidationError, password, confirm string) {
	switch {
	case password == "":
		v.Add(FieldPassword, msgRequired)
	case len(password) > maxPasswordBytes:
		v.Add(FieldPassword, msgPasswordLong)
	}
	if confirm == "" {
		v.Add(FieldConfirmPassword, msgRequired)
	} else if confirm != password {
		v.Add(FieldConfirmPassword, msgPasswordMatch)
	}
}

func takenMessage(field string) string {
	if field == models.FieldEmail {
		return msgEmailTaken
	}
	return msgUsernameTaken
}
