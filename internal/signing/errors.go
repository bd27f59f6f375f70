package signing

import (
	"errors"
	"fmt"

	"github.com/iliyamo/care-portal/internal/model"
)

// Recipient-facing and operator-facing failures. Each maps to a distinct
// response so the recipient can tell an expired link from a used one.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadySigned = errors.New("this document has already been signed")
	ErrExpired       = errors.New("this signing link has expired")
	ErrVoided        = errors.New("this signing request has been cancelled")
	ErrDeclined      = errors.New("this signing request was declined")
	ErrStorage       = errors.New("storage failure")
	ErrConflict      = errors.New("signing request is not in a state that allows this")
)

// ValidationError reports a bad or missing input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func invalid(field, msg string) error { return &ValidationError{Field: field, Message: msg} }

// StateError is returned when an operator action targets a request whose
// status does not allow it. It matches ErrConflict.
type StateError struct {
	Op     string
	Status model.Status
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s a %s signing request", e.Op, e.Status)
}

func (e *StateError) Is(target error) bool { return target == ErrConflict }

// StatusOf returns the request status a recipient-facing error stands for.
func StatusOf(err error) (model.Status, bool) {
	switch {
	case errors.Is(err, ErrAlreadySigned):
		return model.StatusSigned, true
	case errors.Is(err, ErrExpired):
		return model.StatusExpired, true
	case errors.Is(err, ErrVoided):
		return model.StatusVoided, true
	case errors.Is(err, ErrDeclined):
		return model.StatusDeclined, true
	}
	var se *StateError
	if errors.As(err, &se) {
		return se.Status, true
	}
	return "", false
}

// terminalError maps a status that blocks recipient actions to its error.
// It returns nil for open statuses.
func terminalError(s model.Status) error {
	switch s {
	case model.StatusSigned:
		return ErrAlreadySigned
	case model.StatusExpired:
		return ErrExpired
	case model.StatusVoided:
		return ErrVoided
	case model.StatusDeclined:
		return ErrDeclined
	}
	return nil
}

func storageErr(op string, err error) error {
	if errors.Is(err, ErrStorage) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrStorage, op, err)
}
