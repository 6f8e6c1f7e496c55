// Package apperr holds the error taxonomy shared by services and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrSignature         = errors.New("signature mismatch")
	ErrAlreadyProcessed  = errors.New("already processed")
	ErrExpired           = errors.New("expired")
	ErrDecryption        = errors.New("decryption failed")
	ErrUpstream          = errors.New("upstream call failed")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrConflict          = errors.New("conflict")
	ErrUnauthorized      = errors.New("unauthorized")
)

type FieldError struct {
	Field string `json:"field"`
	Msg   string `json:"msg"`
}

// ValidationError carries per-field problems; it matches ErrValidation with errors.Is.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString(ErrValidation.Error())
	for i, f := range e.Fields {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}
		b.WriteString(f.Field + " " + f.Msg)
	}
	return b.String()
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Invalid builds a single-field ValidationError.
func Invalid(field, msg string) error {
	return &ValidationError{Fields: []FieldError{{Field: field, Msg: msg}}}
}

func NotFound(what, id string) error { return fmt.Errorf("%w: %s %s", ErrNotFound, what, id) }

func Upstream(op string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s", ErrUpstream, op)
	}
	return fmt.Errorf("%w: %s: %v", ErrUpstream, op, err)
}
