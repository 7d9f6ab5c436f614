// Package apperr holds the sentinel errors shared by the service surfaces.
package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidInput  = errors.New("invalid input")

	ErrInvalidGrade         = errors.New("invalid grade")
	ErrConfirmationRequired = errors.New("confirmation required")
	ErrStale                = errors.New("document changed during write")
	ErrAnnotationNotOnLine  = errors.New("annotation text not found on line")
	ErrLineOutOfRange       = errors.New("line out of range")
)
