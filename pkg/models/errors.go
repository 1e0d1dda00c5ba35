package models

import (
	"errors"
	"fmt"
)

// ErrMissingField is wrapped by DecodeError when a required field is absent.
var ErrMissingField = errors.New("required field missing")

// DecodeError is returned when a payload cannot be decoded into an entity.
type DecodeError struct {
	Entity string
	Field  string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("decode %s: field %q: %v", e.Entity, e.Field, e.Err)
	}
	return fmt.Sprintf("decode %s: %v", e.Entity, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// AsDecodeError checks if an error is a DecodeError and returns it.
func AsDecodeError(err error) (*DecodeError, bool) {
	var de *DecodeError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

func missingField(entity, field string) error {
	return &DecodeError{Entity: entity, Field: field, Err: ErrMissingField}
}
