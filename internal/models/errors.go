package models

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by stores when no record matches.
var ErrNotFound = errors.New("not found")

// Unique user fields.
const (
	FieldUsername = "username"
	FieldEmail    = "email"
)

// UniquenessViolation reports a write rejected by a unique constraint.
type UniquenessViolation struct {
	Field string
}

func (e *UniquenessViolation) Error() string {
	return fmt.Sprintf("%s already exists", e.Field)
}
